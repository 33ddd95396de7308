package mq

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig configures the NATS broadcast producer.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	SubjectPrefix string        `yaml:"subjectPrefix"`
	ReconnectWait time.Duration `yaml:"reconnectWait"`
	MaxReconnects int           `yaml:"maxReconnects"`
}

// NATSProducer publishes messages as core NATS messages on
// SubjectPrefix + topic. It is fire-and-forget; durable delivery stays on Kafka.
type NATSProducer struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSProducer dials the server and returns a producer.
func NewNATSProducer(cfg NATSConfig) (*NATSProducer, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url is required")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 60
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
	)
	if err != nil {
		return nil, err
	}
	return NewNATSProducerWithConn(conn, cfg.SubjectPrefix), nil
}

// NewNATSProducerWithConn wraps an existing connection.
func NewNATSProducerWithConn(conn *nats.Conn, prefix string) *NATSProducer {
	if prefix != "" && !strings.HasSuffix(prefix, ".") {
		prefix += "."
	}
	return &NATSProducer{conn: conn, prefix: prefix}
}

func (p *NATSProducer) Publish(_ context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	msg := nats.NewMsg(p.prefix + topic)
	msg.Data = message.Body
	for k, v := range message.Headers {
		msg.Header.Set(k, v)
	}
	if message.ID != "" {
		msg.Header.Set(headerID, message.ID)
	}
	return p.conn.PublishMsg(msg)
}

// Close drains pending publishes and closes the connection.
func (p *NATSProducer) Close() error {
	return p.conn.Drain()
}
