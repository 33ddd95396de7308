package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"ojeval/internal/cli/config"
)

func TestLoadExpandsEnvAndDefaults(t *testing.T) {
	t.Setenv("OJEVAL_TEST_BASE", "http://judge:9000")
	path := filepath.Join(t.TempDir(), "cli.yaml")
	body := "baseURL: ${OJEVAL_TEST_BASE}\npoll:\n  interval: 500ms\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BaseURL != "http://judge:9000" {
		t.Fatalf("base url not expanded: %q", cfg.BaseURL)
	}
	if cfg.Timeout != config.DefaultTimeout || cfg.TokenStatePath != config.DefaultTokenStatePath {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.PrettyJSON == nil || !*cfg.PrettyJSON {
		t.Fatalf("pretty output should default on")
	}
	if cfg.Poll.Interval != 500*time.Millisecond {
		t.Fatalf("poll interval not decoded: %v", cfg.Poll.Interval)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error")
	}
}
