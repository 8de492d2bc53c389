package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.Threads != 8 {
		t.Errorf("expected threads 8, got %d", cfg.Threads)
	}
	if cfg.MaxParallel != 16 {
		t.Errorf("expected max_parallel 16, got %d", cfg.MaxParallel)
	}
	if cfg.Timeouts.Probe != 10*time.Second || cfg.Timeouts.Segment != 60*time.Second {
		t.Errorf("unexpected timeouts %+v", cfg.Timeouts)
	}
	if cfg.Retry.Segment.Attempts != 10 || cfg.Retry.Segment.MaxExponent != 5 {
		t.Errorf("unexpected segment retry %+v", cfg.Retry.Segment)
	}
	if !cfg.InsecureTLS {
		t.Error("expected insecure_tls to default to true")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
threads: 16
user_agent: randomize
headers:
  Authorization: Bearer abc
proxy:
  url: http://proxy.local:3128
  username: me
timeouts:
  segment: 90s
retry:
  segment:
    attempts: 4
    base_delay: 500ms
limit:
  bytes_per_second: 1048576
status:
  addr: 127.0.0.1:9090
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Threads != 16 {
		t.Errorf("expected threads 16, got %d", cfg.Threads)
	}
	if cfg.Timeouts.Segment != 90*time.Second {
		t.Errorf("expected segment timeout 90s, got %v", cfg.Timeouts.Segment)
	}
	if cfg.Timeouts.Probe != 10*time.Second {
		t.Errorf("unset probe timeout should keep its default, got %v", cfg.Timeouts.Probe)
	}
	if cfg.Retry.Segment.Attempts != 4 || cfg.Retry.Segment.BaseDelay != 500*time.Millisecond {
		t.Errorf("unexpected segment retry %+v", cfg.Retry.Segment)
	}
	if cfg.Status.Addr != "127.0.0.1:9090" {
		t.Errorf("unexpected status addr %q", cfg.Status.Addr)
	}

	opts := cfg.EngineOptions()
	if opts.Threads != 16 || opts.SegmentTimeout != 90*time.Second || opts.BytesPerSecond != 1048576 {
		t.Errorf("unexpected engine options %+v", opts)
	}
	if opts.SegmentRetry.MaxAttempts != 4 {
		t.Errorf("expected 4 segment attempts, got %d", opts.SegmentRetry.MaxAttempts)
	}

	client := cfg.HTTPClientConfig()
	if client.ProxyURL != "http://proxy.local:3128" || client.ProxyUsername != "me" {
		t.Errorf("unexpected proxy settings %+v", client)
	}
	if client.Headers["Authorization"] != "Bearer abc" {
		t.Errorf("headers not carried over: %v", client.Headers)
	}
	if client.UserAgent == RandomUserAgent || client.UserAgent == "" {
		t.Errorf("user agent was not randomized: %q", client.UserAgent)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Threads != Default().Threads {
		t.Errorf("expected default threads, got %d", cfg.Threads)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"too many threads":  "threads: 500\n",
		"parallel over cap": "max_parallel: 32\n",
		"bad proxy":         "proxy:\n  url: not a url\n",
		"zero attempts":     "retry:\n  probe:\n    attempts: 0\n",
		"bad duration":      "timeouts:\n  connect: soon\n",
		"bad status addr":   "status:\n  addr: nowhere\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RANGEFETCH_THREADS", "3")
	t.Setenv("RANGEFETCH_LIMIT", "2048")
	t.Setenv("RANGEFETCH_USER_AGENT", "custom-agent")
	cfg := Default()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Threads != 3 || cfg.Limit.BytesPerSecond != 2048 || cfg.UserAgent != "custom-agent" {
		t.Errorf("env overrides not applied: %+v", cfg)
	}

	t.Setenv("RANGEFETCH_THREADS", "many")
	if err := cfg.LoadFromEnv(); err == nil || !strings.Contains(err.Error(), "RANGEFETCH_THREADS") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := DefaultPath(); got != filepath.Join("/xdg", "rangefetch", "config.yaml") {
		t.Errorf("DefaultPath() = %s", got)
	}
}

func TestRetryPolicyBackoff(t *testing.T) {
	policy := RetryConfig{Attempts: 10, BaseDelay: time.Second, MaxExponent: 2}.Policy()
	var got []time.Duration
	for attempt := 1; attempt <= 4; attempt++ {
		got = append(got, policy.Backoff(policy.BaseDelay, attempt))
	}
	want := []time.Duration{time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second}
	if !slices.Equal(got, want) {
		t.Errorf("backoff = %v, want %v", got, want)
	}
}
