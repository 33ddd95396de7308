package executor

import (
	"time"

	pkgerrors "ojeval/pkg/errors"
)

// Adapter kinds accepted by New.
const (
	KindGoJudge = "gojudge"
	KindJudge0  = "judge0"
	KindOffline = "offline"
)

// GoJudgeSettings holds the gojudge section of the executor config.
type GoJudgeSettings struct {
	Addr             string `yaml:"addr"`
	Token            string `yaml:"token"`
	ProcLimit        uint64 `yaml:"procLimit"`
	OutputLimitBytes int64  `yaml:"outputLimitBytes"`
}

// Judge0Settings holds the judge0 section of the executor config.
type Judge0Settings struct {
	BaseURL      string        `yaml:"baseURL"`
	AuthToken    string        `yaml:"authToken"`
	PollInterval time.Duration `yaml:"pollInterval"`
	MaxPolls     int           `yaml:"maxPolls"`
}

// Config selects and configures one adapter.
type Config struct {
	Kind       string                  `yaml:"kind"`
	RPCTimeout time.Duration           `yaml:"rpcTimeout"`
	GoJudge    GoJudgeSettings         `yaml:"gojudge"`
	Judge0     Judge0Settings          `yaml:"judge0"`
	Languages  map[string]LanguageSpec `yaml:"languages"`
}

// New builds the adapter named by cfg.Kind. The result is meant to be
// constructed once and handed to the runner.
func New(cfg Config) (Adapter, error) {
	catalog, err := DefaultCatalog().Merge(cfg.Languages)
	if err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case KindGoJudge:
		a, err := NewGoJudgeAdapter(GoJudgeConfig{
			Addr:             cfg.GoJudge.Addr,
			Token:            cfg.GoJudge.Token,
			RPCTimeout:       cfg.RPCTimeout,
			Catalog:          catalog,
			OutputLimitBytes: cfg.GoJudge.OutputLimitBytes,
			ProcLimit:        cfg.GoJudge.ProcLimit,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	case KindJudge0:
		a, err := NewJudge0Adapter(Judge0Config{
			BaseURL:      cfg.Judge0.BaseURL,
			AuthToken:    cfg.Judge0.AuthToken,
			PollInterval: cfg.Judge0.PollInterval,
			MaxPolls:     cfg.Judge0.MaxPolls,
			RPCTimeout:   cfg.RPCTimeout,
			Catalog:      catalog,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	case KindOffline, "":
		return NewOfflineAdapter(), nil
	}
	return nil, pkgerrors.Newf(pkgerrors.ExecutorNotConfigured, "unknown executor kind %q", cfg.Kind)
}
