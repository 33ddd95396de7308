package mq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"ojeval/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	headerID         = "x-message-id"
	headerTimestamp  = "x-message-ts"
	headerRetryCount = "x-message-retry"
	headerMaxRetries = "x-message-max-retries"

	fetchBackoffMin = 100 * time.Millisecond
	fetchBackoffMax = 5 * time.Second
	// multi-topic loops give up on an idle topic after this long
	fetchPollWindow = 200 * time.Millisecond
)

// KafkaConfig defines configuration for Kafka implementation.
type KafkaConfig struct {
	Brokers  []string
	ClientID string

	// Producer settings
	RequiredAcks kafka.RequiredAcks
	BatchSize    int
	BatchTimeout time.Duration
	Compression  kafka.Compression

	// Consumer settings
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration

	// Dialer settings
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c *KafkaConfig) setDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = 10 * time.Millisecond
	}
	if c.MinBytes == 0 {
		c.MinBytes = 1
	}
	if c.MaxBytes == 0 {
		c.MaxBytes = 10 << 20
	}
	if c.MaxWait == 0 {
		c.MaxWait = time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.RequiredAcks == 0 {
		c.RequiredAcks = kafka.RequireAll
	}
}

// KafkaQueue implements MessageQueue on Kafka consumer groups. Messages are
// keyed by Message.ID and hash-partitioned, so every task for one submission
// lands on the same partition in publish order.
type KafkaQueue struct {
	config KafkaConfig
	writer *kafka.Writer
	dialer *kafka.Dialer

	mu            sync.Mutex
	subscriptions []*kafkaSubscription
	started       bool
	closed        bool
}

// kafkaSubscription is one consumer loop over one or more topics of a
// consumer group. Topics are fetched in weighted round robin.
type kafkaSubscription struct {
	topics  []WeightedTopic
	handler HandlerFunc
	opts    SubscribeOptions
	limiter FetchLimiter
	baseCtx context.Context

	readers []*kafka.Reader
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewKafkaQueue creates a Kafka-backed message queue.
func NewKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	cfg.setDefaults()

	dialer := &kafka.Dialer{
		ClientID:  cfg.ClientID,
		Timeout:   cfg.DialTimeout,
		DualStack: true,
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: cfg.RequiredAcks,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Compression:  cfg.Compression,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		Transport: &kafka.Transport{
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, address)
			},
			ClientID: cfg.ClientID,
		},
	}
	return &KafkaQueue{config: cfg, writer: writer, dialer: dialer}, nil
}

// Publish writes message to topic and waits for the configured acks.
func (k *KafkaQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	if err := k.writer.WriteMessages(ctx, toKafkaMessage(topic, message)); err != nil {
		return fmt.Errorf("write to %s: %w", topic, err)
	}
	return nil
}

// Subscribe consumes topic with opts.Concurrency handlers in flight.
func (k *KafkaQueue) Subscribe(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error {
	var options SubscribeOptions
	if opts != nil {
		options = *opts
	}
	options.SetDefaults()
	if options.ConsumerGroup == "" {
		options.ConsumerGroup = "ojeval-" + topic
	}
	return k.SubscribeWeighted(ctx, []WeightedTopic{{Topic: topic, Weight: 1}}, handler, &options, NewTokenLimiter(options.Concurrency))
}

// SubscribeWeighted consumes several topics from one loop. A topic with
// weight 3 is fetched three times for every fetch of a weight 1 topic;
// limiter bounds handlers in flight across all of them.
func (k *KafkaQueue) SubscribeWeighted(ctx context.Context, topics []WeightedTopic, handler HandlerFunc, opts *SubscribeOptions, limiter FetchLimiter) error {
	if len(topics) == 0 {
		return errors.New("topics are required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	for _, t := range topics {
		if t.Topic == "" {
			return errors.New("topic is required")
		}
		if t.Weight <= 0 {
			return fmt.Errorf("topic %s weight must be positive", t.Topic)
		}
	}
	var options SubscribeOptions
	if opts != nil {
		options = *opts
	}
	options.SetDefaults()
	if options.ConsumerGroup == "" {
		options.ConsumerGroup = "ojeval-judge"
	}
	if limiter == nil {
		limiter = NewTokenLimiter(options.Concurrency)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	sub := &kafkaSubscription{
		topics:  topics,
		handler: handler,
		opts:    options,
		limiter: limiter,
		baseCtx: ctx,
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	k.subscriptions = append(k.subscriptions, sub)
	if k.started {
		k.startSubscription(sub)
	}
	return nil
}

// Start starts consuming messages for all subscriptions.
func (k *KafkaQueue) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	if k.started {
		return nil
	}
	for _, sub := range k.subscriptions {
		k.startSubscription(sub)
	}
	k.started = true
	return nil
}

func (k *KafkaQueue) startSubscription(sub *kafkaSubscription) {
	sub.readers = make([]*kafka.Reader, 0, len(sub.topics))
	for _, t := range sub.topics {
		sub.readers = append(sub.readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:     k.config.Brokers,
			Topic:       t.Topic,
			GroupID:     sub.opts.ConsumerGroup,
			Dialer:      k.dialer,
			MinBytes:    k.config.MinBytes,
			MaxBytes:    k.config.MaxBytes,
			MaxWait:     k.config.MaxWait,
			StartOffset: kafka.FirstOffset,
		}))
	}
	ctx, cancel := context.WithCancel(sub.baseCtx)
	sub.cancel = cancel

	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		k.consume(ctx, sub)
	}()
}

func (k *KafkaQueue) consume(ctx context.Context, sub *kafkaSubscription) {
	schedule := buildWeightedSchedule(sub.topics)
	backoff := fetchBackoffMin
	for idx := 0; ; idx++ {
		if err := sub.limiter.Acquire(ctx); err != nil {
			return
		}
		choice := schedule[idx%len(schedule)]
		reader := sub.readers[choice]
		topic := sub.topics[choice].Topic

		msg, err := fetch(ctx, reader, len(sub.readers) > 1)
		if err != nil {
			sub.limiter.Release()
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.Warn(ctx, "kafka fetch failed",
				zap.String("topic", topic),
				zap.String("group", sub.opts.ConsumerGroup),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, fetchBackoffMax)
			continue
		}
		backoff = fetchBackoffMin

		sub.wg.Add(1)
		go func() {
			defer sub.wg.Done()
			defer sub.limiter.Release()
			if !deliver(ctx, topic, sub.handler, sub.opts, fromKafkaMessage(msg), k) {
				return
			}
			if err := reader.CommitMessages(context.WithoutCancel(ctx), msg); err != nil {
				logger.Error(ctx, "kafka commit failed",
					zap.String("topic", topic),
					zap.Int("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
			}
		}()
	}
}

func fetch(ctx context.Context, reader *kafka.Reader, poll bool) (kafka.Message, error) {
	if !poll {
		return reader.FetchMessage(ctx)
	}
	fetchCtx, cancel := context.WithTimeout(ctx, fetchPollWindow)
	defer cancel()
	return reader.FetchMessage(fetchCtx)
}

// Stop cancels the consumer loops, waits for in-flight handlers and closes
// the readers. Uncommitted messages are redelivered to the group later.
func (k *KafkaQueue) Stop() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, sub := range k.subscriptions {
		if sub.cancel != nil {
			sub.cancel()
		}
	}
	var errs []error
	for _, sub := range k.subscriptions {
		sub.wg.Wait()
		for _, reader := range sub.readers {
			if err := reader.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		sub.readers = nil
		sub.cancel = nil
	}
	k.started = false
	return errors.Join(errs...)
}

// Ping dials the first reachable broker.
func (k *KafkaQueue) Ping(ctx context.Context) error {
	var errs []error
	for _, broker := range k.config.Brokers {
		conn, err := k.dialer.DialContext(ctx, "tcp", broker)
		if err == nil {
			return conn.Close()
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close stops consumers and flushes the producer.
func (k *KafkaQueue) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.mu.Unlock()

	stopErr := k.Stop()
	return errors.Join(stopErr, k.writer.Close())
}

func buildWeightedSchedule(topics []WeightedTopic) []int {
	schedule := make([]int, 0, len(topics))
	for idx, t := range topics {
		for i := 0; i < t.Weight; i++ {
			schedule = append(schedule, idx)
		}
	}
	return schedule
}

func toKafkaMessage(topic string, message *Message) kafka.Message {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	headers := make([]kafka.Header, 0, len(message.Headers)+4)
	for key, value := range message.Headers {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}
	reserved := map[string]string{
		headerID:         message.ID,
		headerTimestamp:  message.Timestamp.Format(time.RFC3339Nano),
		headerRetryCount: strconv.Itoa(message.RetryCount),
		headerMaxRetries: strconv.Itoa(message.MaxRetries),
	}
	for key, value := range reserved {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(message.ID),
		Value:   message.Body,
		Headers: headers,
		Time:    message.Timestamp,
	}
}

func fromKafkaMessage(msg kafka.Message) *Message {
	m := &Message{
		ID:        string(msg.Key),
		Body:      msg.Value,
		Headers:   make(map[string]string, len(msg.Headers)),
		Timestamp: msg.Time,
	}
	for _, h := range msg.Headers {
		value := string(h.Value)
		switch h.Key {
		case headerID:
			if value != "" {
				m.ID = value
			}
		case headerTimestamp:
			if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
				m.Timestamp = ts
			}
		case headerRetryCount:
			m.RetryCount = nonNegative(value)
		case headerMaxRetries:
			m.MaxRetries = nonNegative(value)
		default:
			m.Headers[h.Key] = value
		}
	}
	return m
}

func nonNegative(raw string) int {
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

var _ MessageQueue = (*KafkaQueue)(nil)
