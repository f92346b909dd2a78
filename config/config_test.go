package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "negative parallelism",
			mutate: func(cfg *Config) {
				cfg.Parallelism = -1
			},
			wantErr: "parallelism",
		},
		{
			name: "negative pages",
			mutate: func(cfg *Config) {
				cfg.Pages = -1
			},
			wantErr: "pages",
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
			name: "template without placeholder",
			mutate: func(cfg *Config) {
				cfg.ListingURLTemplate = "https://www.amazon.com/zgbs/home-garden"
			},
			wantErr: "placeholder",
		},
		{
			name: "template on another host",
			mutate: func(cfg *Config) {
				cfg.ListingURLTemplate = "https://example.test/list?pg=%d"
			},
			wantErr: "must match base URL host",
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.Timeout = -1 * time.Second
			},
			wantErr: "timeout",
		},
		{
			name: "backoff above cap",
			mutate: func(cfg *Config) {
				cfg.RetryBackoff = time.Minute
				cfg.RetryBackoffMax = time.Second
			},
			wantErr: "retry backoff",
		},
		{
			name: "unknown format",
			mutate: func(cfg *Config) {
				cfg.OutputFormat = "xml"
			},
			wantErr: "output format",
		},
		{
			name: "postgres without dsn",
			mutate: func(cfg *Config) {
				cfg.OutputFormat = "postgres"
			},
			wantErr: "postgres DSN",
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

func TestZeroPagesValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pages = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("zero pages should validate, got %v", err)
	}
}

func TestListingURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListingURLTemplate = "https://www.amazon.com/zgbs?pg=%d"
	if got := cfg.ListingURL(3); got != "https://www.amazon.com/zgbs?pg=3" {
		t.Fatalf("ListingURL(3) = %q", got)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("SCRAPER_TEST_INT", " 42 ")
	t.Setenv("SCRAPER_TEST_BAD", "forty")
	t.Setenv("SCRAPER_TEST_DURATION", "750ms")
	t.Setenv("SCRAPER_TEST_BLANK", "   ")

	if n, ok, err := EnvInt("SCRAPER_TEST_INT"); err != nil || !ok || n != 42 {
		t.Fatalf("EnvInt = %d, %v, %v", n, ok, err)
	}
	if _, _, err := EnvInt("SCRAPER_TEST_BAD"); err == nil {
		t.Fatalf("expected parse error for non-numeric value")
	}
	if d, ok, err := EnvDuration("SCRAPER_TEST_DURATION"); err != nil || !ok || d != 750*time.Millisecond {
		t.Fatalf("EnvDuration = %v, %v, %v", d, ok, err)
	}
	if _, ok := EnvString("SCRAPER_TEST_BLANK"); ok {
		t.Fatalf("blank value should be reported as unset")
	}
	if _, ok, err := EnvInt("SCRAPER_TEST_MISSING"); ok || err != nil {
		t.Fatalf("missing key should be unset without error")
	}
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scraper.yaml")
	doc := "pages: 5\nparallelism: 4\nretry_backoff: 250ms\ntrace_output: stdout\nheaders:\n  DNT: \"0\"\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := DefaultConfig()
	if err := LoadFile(cfg, path); err != nil {
		t.Fatalf("load file: %v", err)
	}
	if cfg.Pages != 5 || cfg.Parallelism != 4 {
		t.Fatalf("pages/parallelism = %d/%d, want 5/4", cfg.Pages, cfg.Parallelism)
	}
	if cfg.RetryBackoff != 250*time.Millisecond {
		t.Fatalf("retry backoff = %v, want 250ms", cfg.RetryBackoff)
	}
	if cfg.Headers["DNT"] != "0" {
		t.Fatalf("DNT header = %q, want 0", cfg.Headers["DNT"])
	}
	if cfg.TraceOutput != "stdout" {
		t.Fatalf("trace output = %q, want stdout", cfg.TraceOutput)
	}
	if cfg.UserAgent != DefaultUserAgent {
		t.Fatalf("user agent should keep its default")
	}
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scraper.yaml")
	if err := os.WriteFile(path, []byte("pagez: 5\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := LoadFile(DefaultConfig(), path); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}
