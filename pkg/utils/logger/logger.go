package logger

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"ojeval/pkg/utils/contextkey"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger configuration.
type Config struct {
	Level      string `yaml:"level"`      // debug, info, warn, error
	Format     string `yaml:"format"`     // json, console
	OutputPath string `yaml:"outputPath"` // file path or "stdout"
	ErrorPath  string `yaml:"errorPath"`  // error-level copy, file path or "stderr"
}

// Logger wraps a zap logger and adds request scoped fields from ctx.
type Logger struct {
	zap *zap.Logger
}

var global atomic.Pointer[Logger]

func init() {
	global.Store(&Logger{zap: zap.NewNop()})
}

// Init replaces the process logger. Until it is called every log call is
// dropped.
func Init(cfg Config) error {
	l, err := NewLogger(cfg)
	if err != nil {
		return err
	}
	global.Store(l)
	return nil
}

// NewLogger builds a logger that writes every enabled entry to OutputPath
// and copies error entries to ErrorPath.
func NewLogger(cfg Config) (*Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	out, err := openSink(cfg.OutputPath, os.Stdout)
	if err != nil {
		return nil, err
	}
	errOut, err := openSink(cfg.ErrorPath, os.Stderr)
	if err != nil {
		return nil, err
	}

	encoder := newEncoder(cfg.Format)
	errorsOnly := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= zapcore.ErrorLevel && level.Enabled(l)
	})
	core := zapcore.NewTee(
		zapcore.NewCore(encoder, out, level),
		zapcore.NewCore(encoder, errOut, errorsOnly),
	)
	return &Logger{
		zap: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel)),
	}, nil
}

func newEncoder(format string) zapcore.Encoder {
	ec := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(time.RFC3339),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if format == "json" {
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(ec)
}

func openSink(path string, fallback *os.File) (zapcore.WriteSyncer, error) {
	switch path {
	case "":
		return zapcore.AddSync(fallback), nil
	case "stdout":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return zapcore.AddSync(file), nil
}

// Zap exposes the underlying zap logger for middleware that needs it.
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// For returns the zap logger annotated with the ids carried by ctx.
func (l *Logger) For(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return l.zap
	}
	var fields []zap.Field
	for _, k := range []contextkey.Key{contextkey.TraceID, contextkey.RequestID, contextkey.UserID, contextkey.SubmissionID} {
		if v, ok := ctx.Value(k).(string); ok && v != "" {
			fields = append(fields, zap.String(string(k), v))
		}
	}
	return l.zap.With(fields...)
}

// GetLogger returns the process logger. It is never nil.
func GetLogger() *Logger {
	return global.Load()
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().For(ctx).Debug(msg, fields...)
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().For(ctx).Info(msg, fields...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().For(ctx).Warn(msg, fields...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().For(ctx).Error(msg, fields...)
}

// Sync flushes the process logger.
func Sync() error {
	return GetLogger().zap.Sync()
}

// WithSubmission tags ctx so every log line carries the submission id.
func WithSubmission(ctx context.Context, submissionID string) context.Context {
	return context.WithValue(ctx, contextkey.SubmissionID, submissionID)
}
