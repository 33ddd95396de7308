package service

import (
	"context"

	"ojeval/internal/common/metrics"
	"ojeval/internal/common/mq"
	"ojeval/internal/submission/model"
	"ojeval/pkg/utils/logger"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// WorkerConfig controls how evaluation tasks are consumed.
type WorkerConfig struct {
	ConsumerGroup  string `yaml:"consumerGroup"`
	PoolSize       int    `yaml:"poolSize"`
	EvaluateWeight int    `yaml:"evaluateWeight"`
	RerunWeight    int    `yaml:"rerunWeight"`
	MaxRetries     int    `yaml:"maxRetries"`
	DeadLetter     string `yaml:"deadLetter"`
}

func (c *WorkerConfig) setDefaults() {
	if c.PoolSize <= 0 {
		c.PoolSize = 4
	}
	if c.EvaluateWeight <= 0 {
		c.EvaluateWeight = 3
	}
	if c.RerunWeight <= 0 {
		c.RerunWeight = 1
	}
}

type inflight struct {
	generation int64
	cancel     context.CancelFunc
}

// Worker consumes evaluation tasks and runs them through the pipeline. It
// tracks one in-flight run per submission; a task for a newer generation
// cancels the older run, and a task for an older or equal generation is
// dropped while a run is in flight.
type Worker struct {
	pipeline *Pipeline
	topics   Topics
	cfg      WorkerConfig
	running  *xsync.MapOf[string, *inflight]
}

func NewWorker(pipeline *Pipeline, topics Topics, cfg WorkerConfig) *Worker {
	topics.setDefaults()
	cfg.setDefaults()
	return &Worker{
		pipeline: pipeline,
		topics:   topics,
		cfg:      cfg,
		running:  xsync.NewMapOf[string, *inflight](),
	}
}

// Subscribe registers the worker on the evaluate and rerun topics.
func (w *Worker) Subscribe(ctx context.Context, queue mq.MessageQueue) error {
	topics := []mq.WeightedTopic{
		{Topic: w.topics.Evaluate, Weight: w.cfg.EvaluateWeight},
		{Topic: w.topics.Rerun, Weight: w.cfg.RerunWeight},
	}
	opts := &mq.SubscribeOptions{
		ConsumerGroup:   w.cfg.ConsumerGroup,
		Concurrency:     w.cfg.PoolSize,
		MaxRetries:      w.cfg.MaxRetries,
		DeadLetterTopic: w.cfg.DeadLetter,
	}
	return queue.SubscribeWeighted(ctx, topics, w.HandleMessage, opts, mq.NewTokenLimiter(w.cfg.PoolSize))
}

// HandleMessage is the mq handler for evaluation tasks.
func (w *Worker) HandleMessage(ctx context.Context, msg *mq.Message) error {
	task, err := DecodeTask(msg)
	if err != nil {
		// A malformed task can never succeed.
		logger.Warn(ctx, "dropping malformed task", zap.Error(err))
		return nil
	}
	return w.Run(ctx, task)
}

// Run evaluates task unless a run of the same or a newer generation is
// already in flight in this worker.
func (w *Worker) Run(ctx context.Context, task model.Task) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	mine := &inflight{generation: task.Generation, cancel: cancel}

	var superseded *inflight
	accepted := false
	w.running.Compute(task.SubmissionID, func(cur *inflight, loaded bool) (*inflight, bool) {
		if loaded && cur.generation >= task.Generation {
			return cur, false
		}
		if loaded {
			superseded = cur
		}
		accepted = true
		return mine, false
	})
	if !accepted {
		metrics.StaleTasksTotal.Inc()
		logger.Info(ctx, "run already in flight",
			zap.String("submission_id", task.SubmissionID),
			zap.Int64("generation", task.Generation),
		)
		return nil
	}
	if superseded != nil {
		superseded.cancel()
	}
	defer w.running.Compute(task.SubmissionID, func(cur *inflight, loaded bool) (*inflight, bool) {
		return cur, !loaded || cur == mine
	})

	return w.pipeline.Evaluate(runCtx, task)
}

// InFlight reports the number of runs currently tracked.
func (w *Worker) InFlight() int {
	return w.running.Size()
}

// Close cancels every in-flight run.
func (w *Worker) Close() {
	w.running.Range(func(_ string, r *inflight) bool {
		r.cancel()
		return true
	})
}
