package service

import (
	"context"
	"encoding/json"
	"strconv"

	"ojeval/internal/common/mq"
	"ojeval/internal/submission/model"
	appErr "ojeval/pkg/errors"
)

const (
	DefaultEvaluateTopic   = "judge.evaluate"
	DefaultRerunTopic      = "judge.rerun"
	DefaultSimilarityTopic = "judge.similarity"
)

// Topics routes tasks to queues.
type Topics struct {
	Evaluate   string `yaml:"evaluate"`
	Rerun      string `yaml:"rerun"`
	Similarity string `yaml:"similarity"`
}

func (t *Topics) setDefaults() {
	if t.Evaluate == "" {
		t.Evaluate = DefaultEvaluateTopic
	}
	if t.Rerun == "" {
		t.Rerun = DefaultRerunTopic
	}
	if t.Similarity == "" {
		t.Similarity = DefaultSimilarityTopic
	}
}

// Dispatcher publishes evaluation and similarity tasks.
type Dispatcher struct {
	producer mq.Producer
	topics   Topics
}

func NewDispatcher(producer mq.Producer, topics Topics) *Dispatcher {
	topics.setDefaults()
	return &Dispatcher{producer: producer, topics: topics}
}

// Topics returns the resolved topic names.
func (d *Dispatcher) Topics() Topics {
	return d.topics
}

// Evaluate queues one generation of a submission. Reruns go to their own
// topic so fresh submissions are fetched first.
func (d *Dispatcher) Evaluate(ctx context.Context, task model.Task) error {
	topic := d.topics.Evaluate
	if task.Rerun {
		topic = d.topics.Rerun
	}
	return d.publish(ctx, topic, task)
}

// Similarity queues the integrity scan of an accepted submission.
func (d *Dispatcher) Similarity(ctx context.Context, task model.Task) error {
	return d.publish(ctx, d.topics.Similarity, task)
}

func (d *Dispatcher) publish(ctx context.Context, topic string, task model.Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return appErr.Wrapf(err, appErr.MessageQueueError, "encode task failed")
	}
	msg := mq.NewMessage(task.SubmissionID, body)
	msg.SetHeader("generation", strconv.FormatInt(task.Generation, 10))
	if err := d.producer.Publish(ctx, topic, msg); err != nil {
		return appErr.Wrapf(err, appErr.MessageQueueError, "publish %s task failed", topic)
	}
	return nil
}

// DecodeTask parses a task message.
func DecodeTask(msg *mq.Message) (model.Task, error) {
	var task model.Task
	if msg == nil {
		return task, appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		return task, appErr.Wrapf(err, appErr.InvalidParams, "decode task failed")
	}
	if task.SubmissionID == "" {
		return task, appErr.ValidationError("submission_id", "required")
	}
	return task, nil
}
