package mq_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"ojeval/internal/common/mq"
)

func TestMemoryQueueDeliversBufferedMessages(t *testing.T) {
	q := mq.NewMemoryQueue()
	defer q.Close()

	var got atomic.Int32
	err := q.Subscribe(context.Background(), "judge.evaluate", func(ctx context.Context, m *mq.Message) error {
		if string(m.Body) == "hello" {
			got.Add(1)
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := q.Publish(context.Background(), "judge.evaluate", mq.NewMessage("m-1", []byte("hello"))); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got.Load() != 0 {
		t.Fatalf("expected no delivery before start")
	}
	if err := q.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	q.Drain()
	if got.Load() != 1 {
		t.Fatalf("expected 1 delivery, got %d", got.Load())
	}
}

func TestMemoryQueueRetriesThenDeadLetters(t *testing.T) {
	q := mq.NewMemoryQueue()
	defer q.Close()

	var attempts, dead atomic.Int32
	opts := &mq.SubscribeOptions{MaxRetries: 2, RetryDelay: time.Millisecond, DeadLetterTopic: "dlq"}
	_ = q.Subscribe(context.Background(), "work", func(ctx context.Context, m *mq.Message) error {
		attempts.Add(1)
		return errors.New("boom")
	}, opts)
	_ = q.Subscribe(context.Background(), "dlq", func(ctx context.Context, m *mq.Message) error {
		dead.Add(1)
		return nil
	}, nil)
	_ = q.Start()

	msg := mq.NewMessage("m-2", []byte("x"))
	msg.MaxRetries = 0
	_ = q.Publish(context.Background(), "work", msg)
	q.Drain()

	if attempts.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts.Load())
	}
	if dead.Load() != 1 {
		t.Fatalf("expected dead letter, got %d", dead.Load())
	}
}
