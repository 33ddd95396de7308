// Package notify broadcasts pipeline transitions and lets clients wait for them.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"ojeval/internal/common/mq"
	"ojeval/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	TypeSubmissionUpdated  = "submission.updated"
	TypeLeaderboardUpdated = "leaderboard.updated"
	TypePlagiarismAlert    = "plagiarism.alert"
)

// Event is one broadcast. Key routes it, e.g. the submission or contest id.
type Event struct {
	Type       string    `json:"type"`
	Key        string    `json:"key"`
	Payload    any       `json:"payload"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewEvent stamps an event with the current time.
func NewEvent(eventType, key string, payload any) Event {
	return Event{Type: eventType, Key: key, Payload: payload, OccurredAt: time.Now().UTC()}
}

type LeaderboardUpdated struct {
	ContestID string `json:"contestId"`
}

type PlagiarismAlert struct {
	ContestID            string  `json:"contestId"`
	SubmissionID         string  `json:"submissionId"`
	ComparedSubmissionID string  `json:"comparedSubmissionId"`
	Similarity           float64 `json:"similarity"`
	FlaggedUsername      string  `json:"flaggedUsername"`
	SelfReuse            bool    `json:"selfReuse"`
}

// Publisher delivers events to observers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// MQPublisher writes events to a message queue producer. With an empty
// topic the event type is used, which maps to one NATS subject per type.
type MQPublisher struct {
	producer mq.Producer
	topic    string
}

func NewMQPublisher(producer mq.Producer, topic string) *MQPublisher {
	return &MQPublisher{producer: producer, topic: topic}
}

func (p *MQPublisher) Publish(ctx context.Context, event Event) error {
	if p == nil || p.producer == nil {
		return errors.New("event producer is not configured")
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := mq.NewMessage(event.Key, body)
	msg.SetHeader("event_type", event.Type)
	topic := p.topic
	if topic == "" {
		topic = event.Type
	}
	return p.producer.Publish(ctx, topic, msg)
}

// Fanout publishes to every target. Broadcast failures are logged and never
// returned, so observers cannot stall the pipeline.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event Event) error {
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			logger.Warn(ctx, "publish event failed",
				zap.String("type", event.Type),
				zap.String("key", event.Key),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
