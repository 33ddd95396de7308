package config

import (
	"fmt"
	"os"
	"time"

	"ojeval/internal/notify"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL        = "http://127.0.0.1:8080"
	DefaultTimeout        = 10 * time.Second
	DefaultTokenStatePath = "configs/cli_state.json"
)

// Config holds CLI configuration.
type Config struct {
	BaseURL        string        `yaml:"baseURL"`
	Timeout        time.Duration `yaml:"timeout"`
	TokenStatePath string        `yaml:"tokenStatePath"`
	PrettyJSON     *bool         `yaml:"prettyJSON"`
	// Poll bounds "submission watch"; zero values take the poller defaults.
	Poll notify.PollerConfig `yaml:"poll"`
}

// Load reads path, expanding ${VAR} references from the environment and an
// optional .env file in the working directory.
func Load(path string) (Config, error) {
	var cfg Config
	_ = godotenv.Load()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.TokenStatePath == "" {
		c.TokenStatePath = DefaultTokenStatePath
	}
	if c.PrettyJSON == nil {
		pretty := true
		c.PrettyJSON = &pretty
	}
}
