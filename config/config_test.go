package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-crawl-listings/parser"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "zero pages",
			mutate: func(cfg *Config) {
				cfg.Pages = 0
			},
			wantErr: "pages",
		},
		{
			name: "negative base workers",
			mutate: func(cfg *Config) {
				cfg.BaseWorkers = -1
			},
			wantErr: "base workers",
		},
		{
			name: "speed factor too large for pool",
			mutate: func(cfg *Config) {
				cfg.BaseWorkers = 1
				cfg.SpeedFactor = 2
			},
			wantErr: "worker count",
		},
		{
			name: "zero speed factor",
			mutate: func(cfg *Config) {
				cfg.SpeedFactor = 0
			},
			wantErr: "speed factor",
		},
		{
			name: "empty base url",
			mutate: func(cfg *Config) {
				cfg.BaseURL = ""
			},
			wantErr: "base URL",
		},
		{
			name: "invalid url format",
			mutate: func(cfg *Config) {
				cfg.BaseURL = "http://"
			},
			wantErr: "base URL",
		},
		{
			name: "no attempts",
			mutate: func(cfg *Config) {
				cfg.MaxRetries = 0
			},
			wantErr: "max retries",
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.Timeout = -1 * time.Second
			},
			wantErr: "timeout",
		},
		{
			name: "unknown format",
			mutate: func(cfg *Config) {
				cfg.OutputFormat = "xml"
			},
			wantErr: "output format",
		},
		{
			name: "dedupe without capacity",
			mutate: func(cfg *Config) {
				cfg.Dedupe = true
				cfg.DedupeMaxSize = 0
			},
			wantErr: "dedupe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestSpeedFactorScaling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseWorkers = 10
	cfg.SpeedFactor = 0.5
	cfg.RetryDelayBase = 2 * time.Second
	cfg.TaskDelayBase = 2 * time.Second

	if got := cfg.Workers(); got != 20 {
		t.Fatalf("workers=%d, want 20", got)
	}
	if got := cfg.RetryDelay(); got != time.Second {
		t.Fatalf("retry delay=%v, want 1s", got)
	}
	if got := cfg.TaskDelay(); got != time.Second {
		t.Fatalf("task delay=%v, want 1s", got)
	}

	cfg.SpeedFactor = 2
	if got := cfg.Workers(); got != 5 {
		t.Fatalf("workers=%d, want 5", got)
	}
	if got := cfg.RetryDelay(); got != 4*time.Second {
		t.Fatalf("retry delay=%v, want 4s", got)
	}
}

func TestPageURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseURL = "http://shop.test/catalog?limit=36"

	got, err := cfg.PageURL(7)
	if err != nil {
		t.Fatalf("page url: %v", err)
	}
	if want := "http://shop.test/catalog?limit=36&p=7"; got != want {
		t.Fatalf("page url=%q, want %q", got, want)
	}

	again, _ := cfg.PageURL(7)
	if again != got {
		t.Fatalf("page url not deterministic: %q vs %q", again, got)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crawler.toml")
	content := `
pages = 12
speed_factor = 0.5
timeout = "3s"
output_format = "json"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := DefaultConfig()
	if err := LoadFile(cfg, path); err != nil {
		t.Fatalf("load file: %v", err)
	}
	if cfg.Pages != 12 || cfg.SpeedFactor != 0.5 || cfg.Timeout != 3*time.Second || cfg.OutputFormat != "json" {
		t.Fatalf("unexpected config after load: %+v", cfg)
	}
	if cfg.MaxRetries != 5 {
		t.Fatalf("max retries=%d, want default 5", cfg.MaxRetries)
	}
}

func TestLoadFileUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crawler.toml")
	if err := os.WriteFile(path, []byte("workerz = 3\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := LoadFile(DefaultConfig(), path); err == nil || !strings.Contains(err.Error(), "workerz") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("CRAWLER_PAGES", "42")
	t.Setenv("CRAWLER_SPEED_FACTOR", "0.25")
	t.Setenv("CRAWLER_TIMEOUT", "1500ms")
	t.Setenv("CRAWLER_FORMAT", "SQLITE")

	cfg := DefaultConfig()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Pages != 42 {
		t.Fatalf("pages=%d, want 42", cfg.Pages)
	}
	if cfg.SpeedFactor != 0.25 {
		t.Fatalf("speed factor=%v, want 0.25", cfg.SpeedFactor)
	}
	if cfg.Timeout != 1500*time.Millisecond {
		t.Fatalf("timeout=%v, want 1.5s", cfg.Timeout)
	}
	if cfg.OutputFormat != "sqlite" {
		t.Fatalf("format=%q, want sqlite", cfg.OutputFormat)
	}
}

func TestApplyEnvInvalid(t *testing.T) {
	t.Setenv("CRAWLER_PAGES", "many")
	if err := ApplyEnv(DefaultConfig()); err == nil || !strings.Contains(err.Error(), "CRAWLER_PAGES") {
		t.Fatalf("expected CRAWLER_PAGES error, got %v", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("CRAWLER_TEST_DOTENV=from-file\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("CRAWLER_TEST_DOTENV") })

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("load dotenv: %v", err)
	}
	if got, _ := EnvString("CRAWLER_TEST_DOTENV"); got != "from-file" {
		t.Fatalf("env=%q, want from-file", got)
	}
}

func TestDefaultSelectorsComeFromParser(t *testing.T) {
	cfg := DefaultConfig()
	if got, want := cfg.Selectors(), parser.DefaultSelectors(); got != want {
		t.Fatalf("selectors=%+v, want %+v", got, want)
	}

	cfg.CardSelector = "li.item"
	if got := cfg.Selectors().Card; got != "li.item" {
		t.Fatalf("card selector=%q, want override", got)
	}
}
