package mq

import (
	"context"
	"errors"
	"sync"
)

// MemoryQueue is an in-process MessageQueue. Each published message is
// handed to the topic's handlers on its own goroutine, with the same retry
// semantics as the Kafka consumer. Messages published before Start are
// buffered and delivered once Start is called.
type MemoryQueue struct {
	mu      sync.Mutex
	subs    map[string][]*memorySubscription
	pending []pendingMessage
	started bool
	closed  bool
	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

type memorySubscription struct {
	handler HandlerFunc
	opts    SubscribeOptions
	limiter FetchLimiter
}

type pendingMessage struct {
	topic string
	msg   *Message
}

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue() *MemoryQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryQueue{
		subs:    make(map[string][]*memorySubscription),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

func (q *MemoryQueue) Publish(_ context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("message queue is closed")
	}
	if !q.started {
		q.pending = append(q.pending, pendingMessage{topic: topic, msg: message})
		return nil
	}
	q.deliverLocked(topic, message)
	return nil
}

func (q *MemoryQueue) Subscribe(_ context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error {
	return q.subscribe(topic, handler, opts, nil)
}

// SubscribeWeighted registers handler on every topic. Weights only matter
// when fetching from a broker, so they are ignored here.
func (q *MemoryQueue) SubscribeWeighted(_ context.Context, topics []WeightedTopic, handler HandlerFunc, opts *SubscribeOptions, limiter FetchLimiter) error {
	if len(topics) == 0 {
		return errors.New("topics are required")
	}
	for _, t := range topics {
		if err := q.subscribe(t.Topic, handler, opts, limiter); err != nil {
			return err
		}
	}
	return nil
}

func (q *MemoryQueue) subscribe(topic string, handler HandlerFunc, opts *SubscribeOptions, limiter FetchLimiter) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	var options SubscribeOptions
	if opts != nil {
		options = *opts
	}
	options.SetDefaults()
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("message queue is closed")
	}
	q.subs[topic] = append(q.subs[topic], &memorySubscription{handler: handler, opts: options, limiter: limiter})
	return nil
}

func (q *MemoryQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("message queue is closed")
	}
	q.started = true
	for _, p := range q.pending {
		q.deliverLocked(p.topic, p.msg)
	}
	q.pending = nil
	return nil
}

func (q *MemoryQueue) deliverLocked(topic string, message *Message) {
	for _, sub := range q.subs[topic] {
		copied := *message
		q.wg.Add(1)
		go func(sub *memorySubscription, m *Message) {
			defer q.wg.Done()
			q.handle(topic, sub, m)
		}(sub, &copied)
	}
}

func (q *MemoryQueue) handle(topic string, sub *memorySubscription, m *Message) {
	ctx := q.baseCtx
	if sub.limiter != nil {
		if err := sub.limiter.Acquire(ctx); err != nil {
			return
		}
		defer sub.limiter.Release()
	}
	deliver(ctx, topic, sub.handler, sub.opts, m, q)
}

// Stop cancels in-flight handlers and waits for them to return.
func (q *MemoryQueue) Stop() error {
	q.cancel()
	q.wg.Wait()
	q.mu.Lock()
	q.started = false
	q.mu.Unlock()
	return nil
}

// Drain waits for delivered messages without cancelling them.
func (q *MemoryQueue) Drain() {
	q.wg.Wait()
}

func (q *MemoryQueue) Ping(context.Context) error { return nil }

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()
	return q.Stop()
}

var _ MessageQueue = (*MemoryQueue)(nil)
