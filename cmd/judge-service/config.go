package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"ojeval/internal/common/cache"
	"ojeval/internal/common/db"
	"ojeval/internal/common/mq"
	"ojeval/internal/common/storage"
	"ojeval/internal/contest"
	"ojeval/internal/judge/executor"
	"ojeval/internal/judge/runner"
	"ojeval/internal/similarity"
	"ojeval/internal/submission/service"
	"ojeval/pkg/utils/logger"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8085"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultEventTopic      = "judge.events"
	defaultSourceBucket    = "ojeval"

	dispatchKafka = "kafka"
	dispatchLocal = "local"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	Release      bool          `yaml:"release"`
}

// KafkaConfig holds Kafka settings.
type KafkaConfig struct {
	Brokers       []string       `yaml:"brokers"`
	ClientID      string         `yaml:"clientID"`
	MinBytes      int            `yaml:"minBytes"`
	MaxBytes      int            `yaml:"maxBytes"`
	MaxWait       time.Duration  `yaml:"maxWait"`
	BatchSize     int            `yaml:"batchSize"`
	BatchTimeout  time.Duration  `yaml:"batchTimeout"`
	DialTimeout   time.Duration  `yaml:"dialTimeout"`
	ReadTimeout   time.Duration  `yaml:"readTimeout"`
	WriteTimeout  time.Duration  `yaml:"writeTimeout"`
	RequiredAcks  int            `yaml:"requiredAcks"`
	Compression   string         `yaml:"compression"`
	Topics        service.Topics `yaml:"topics"`
	EventTopic    string         `yaml:"eventTopic"`
	ConsumerGroup string         `yaml:"consumerGroup"`
}

// AuthConfig holds JWT verification settings.
type AuthConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// SubmissionConfig holds intake and pipeline settings.
type SubmissionConfig struct {
	SourceBucket    string                  `yaml:"sourceBucket"`
	SourceKeyPrefix string                  `yaml:"sourceKeyPrefix"`
	ReportBucket    string                  `yaml:"reportBucket"`
	ReportKeyPrefix string                  `yaml:"reportKeyPrefix"`
	MaxCodeBytes    int                     `yaml:"maxCodeBytes"`
	MaxOutputBytes  int                     `yaml:"maxOutputBytes"`
	IdempotencyTTL  time.Duration           `yaml:"idempotencyTTL"`
	RateLimit       service.RateLimitConfig `yaml:"rateLimit"`
	Timeouts        service.TimeoutConfig   `yaml:"timeouts"`
	Worker          service.WorkerConfig    `yaml:"worker"`
}

// SimilarityConfig holds the scan worker settings.
type SimilarityConfig struct {
	similarity.ProfileConfig `yaml:",inline"`
	Thresholds               similarity.Thresholds `yaml:"thresholds"`
	CandidateLimit           int                   `yaml:"candidateLimit"`
	Timeout                  time.Duration         `yaml:"timeout"`
	ConsumerGroup            string                `yaml:"consumerGroup"`
}

// DispatchConfig selects where tasks travel: Kafka, or an in-process queue.
type DispatchConfig struct {
	Mode string `yaml:"mode"`
}

// AppConfig holds judge-service config.
type AppConfig struct {
	Server     ServerConfig        `yaml:"server"`
	Logger     logger.Config       `yaml:"logger"`
	Database   db.MySQLConfig      `yaml:"database"`
	Redis      cache.RedisConfig   `yaml:"redis"`
	Kafka      KafkaConfig         `yaml:"kafka"`
	NATS       mq.NATSConfig       `yaml:"nats"`
	MinIO      storage.MinIOConfig `yaml:"minio"`
	Auth       AuthConfig          `yaml:"auth"`
	Executor   executor.Config     `yaml:"executor"`
	Runner     runner.Config       `yaml:"runner"`
	Submission SubmissionConfig    `yaml:"submission"`
	Contest    contest.Config      `yaml:"contest"`
	Similarity SimilarityConfig    `yaml:"similarity"`
	Dispatch   DispatchConfig      `yaml:"dispatch"`
}

// loadYAML reads path, expands ${VAR} references and decodes the result.
// Variables from an optional .env next to the working directory are loaded
// first; variables already set in the environment win.
func loadYAML(path string, out any) error {
	_ = godotenv.Load()
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Auth.Secret == "" {
		return nil, fmt.Errorf("auth secret is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	cfg.Redis.SetDefaults()

	switch cfg.Dispatch.Mode {
	case "":
		cfg.Dispatch.Mode = dispatchKafka
	case dispatchKafka, dispatchLocal:
	default:
		return nil, fmt.Errorf("unknown dispatch mode %q", cfg.Dispatch.Mode)
	}
	if cfg.Dispatch.Mode == dispatchKafka && len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required in kafka dispatch mode")
	}
	if cfg.Executor.Kind == "" {
		cfg.Executor.Kind = executor.KindOffline
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Kafka.EventTopic == "" {
		cfg.Kafka.EventTopic = defaultEventTopic
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = "judge-service"
	}
	if cfg.Submission.Worker.ConsumerGroup == "" {
		cfg.Submission.Worker.ConsumerGroup = cfg.Kafka.ConsumerGroup
	}
	if cfg.Similarity.ConsumerGroup == "" {
		cfg.Similarity.ConsumerGroup = cfg.Kafka.ConsumerGroup + "-similarity"
	}
	if cfg.Submission.SourceBucket == "" {
		cfg.Submission.SourceBucket = cfg.MinIO.Bucket
	}
	if cfg.Submission.SourceBucket == "" {
		cfg.Submission.SourceBucket = defaultSourceBucket
	}
	if cfg.Submission.ReportBucket == "" {
		cfg.Submission.ReportBucket = cfg.Submission.SourceBucket
	}
	return &cfg, nil
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		ReadTimeout:  k.ReadTimeout,
		WriteTimeout: k.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
		Compression:  parseCompression(k.Compression),
	}
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}
