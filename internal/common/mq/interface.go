package mq

import (
	"context"
	"time"
)

const defaultMaxRetries = 3

// MessageQueue carries evaluation tasks and domain events. KafkaQueue backs
// deployments, MemoryQueue backs local mode and tests.
type MessageQueue interface {
	Producer

	// Subscribe registers handler for topic. Nothing is consumed before Start.
	Subscribe(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error

	// SubscribeWeighted shares one handler and limiter across topics, fetching
	// from each in proportion to its weight.
	SubscribeWeighted(ctx context.Context, topics []WeightedTopic, handler HandlerFunc, opts *SubscribeOptions, limiter FetchLimiter) error

	Start() error
	Stop() error
	Ping(ctx context.Context) error
	Close() error
}

type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
}

// Message is the broker-neutral envelope. ID doubles as the partition key,
// so messages sharing an ID keep their relative order.
type Message struct {
	ID         string
	Body       []byte
	Headers    map[string]string
	Timestamp  time.Time
	RetryCount int
	MaxRetries int
}

// HandlerFunc settles one delivery. A non-nil error schedules a redelivery
// until MaxRetries is spent, then the message goes to the dead letter topic.
type HandlerFunc func(ctx context.Context, message *Message) error

type WeightedTopic struct {
	Topic  string
	Weight int
}

// FetchLimiter bounds in-flight deliveries across a subscription.
type FetchLimiter interface {
	Acquire(ctx context.Context) error
	Release()
}

type SubscribeOptions struct {
	ConsumerGroup   string
	Concurrency     int
	MaxRetries      int
	RetryDelay      time.Duration
	DeadLetterTopic string
}

func (o *SubscribeOptions) SetDefaults() {
	o.Concurrency = max(o.Concurrency, 1)
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
}

// NewMessage stamps body with id and the current time.
func NewMessage(id string, body []byte) *Message {
	return &Message{
		ID:         id,
		Body:       body,
		Headers:    map[string]string{},
		Timestamp:  time.Now(),
		MaxRetries: defaultMaxRetries,
	}
}

func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = map[string]string{}
	}
	m.Headers[key] = value
}

// GetHeader is safe on a message without headers.
func (m *Message) GetHeader(key string) (string, bool) {
	val, ok := m.Headers[key]
	return val, ok
}
