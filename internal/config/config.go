// Package config loads the YAML settings file and turns it into engine
// options and HTTP client settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	rangehttp "github.com/tanq16/rangefetch/internal/downloaders/http"
	"github.com/tanq16/rangefetch/internal/progress"
	"github.com/tanq16/rangefetch/internal/utils"
	"gopkg.in/yaml.v3"
)

// RandomUserAgent as the user_agent value picks a browser identity per run.
const RandomUserAgent = "randomize"

type Config struct {
	Threads     int               `yaml:"threads" validate:"gte=1,lte=64"`
	MaxParallel int               `yaml:"max_parallel" validate:"gte=1,lte=16"`
	Workers     int               `yaml:"workers" validate:"gte=1,lte=32"`
	UserAgent   string            `yaml:"user_agent"`
	Headers     map[string]string `yaml:"headers"`
	Proxy       ProxyConfig       `yaml:"proxy"`
	InsecureTLS bool              `yaml:"insecure_tls"`
	Timeouts    Timeouts          `yaml:"timeouts"`
	Retry       RetrySet          `yaml:"retry"`
	Progress    progress.Config   `yaml:"progress"`
	Limit       LimitConfig       `yaml:"limit"`
	Status      StatusConfig      `yaml:"status"`
}

type ProxyConfig struct {
	URL      string `yaml:"url" validate:"omitempty,url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type Timeouts struct {
	Connect   time.Duration `yaml:"connect" validate:"gt=0"`
	Request   time.Duration `yaml:"request" validate:"gt=0"`
	Probe     time.Duration `yaml:"probe" validate:"gt=0"`
	Segment   time.Duration `yaml:"segment" validate:"gt=0"`
	KeepAlive time.Duration `yaml:"keep_alive" validate:"gt=0"`
}

// RetryConfig is one layer's retry budget.
type RetryConfig struct {
	Attempts    int           `yaml:"attempts" validate:"gte=1,lte=100"`
	BaseDelay   time.Duration `yaml:"base_delay" validate:"gte=0"`
	MaxExponent int           `yaml:"max_exponent" validate:"gte=0,lte=16"`
}

type RetrySet struct {
	Probe    RetryConfig `yaml:"probe"`
	Segment  RetryConfig `yaml:"segment"`
	Transfer RetryConfig `yaml:"transfer"`
}

type LimitConfig struct {
	BytesPerSecond int `yaml:"bytes_per_second" validate:"gte=0"`
}

type StatusConfig struct {
	File string `yaml:"file"`
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

func Default() Config {
	return Config{
		Threads:     8,
		MaxParallel: 16,
		Workers:     1,
		InsecureTLS: true,
		Timeouts: Timeouts{
			Connect:   utils.DefaultConnectTimeout,
			Request:   utils.DefaultRequestTimeout,
			Probe:     10 * time.Second,
			Segment:   60 * time.Second,
			KeepAlive: utils.DefaultKATimeout,
		},
		Retry: RetrySet{
			Probe:    RetryConfig{Attempts: 3, BaseDelay: 2 * time.Second},
			Segment:  RetryConfig{Attempts: 10, BaseDelay: 2 * time.Second, MaxExponent: 5},
			Transfer: RetryConfig{Attempts: 5, BaseDelay: 2 * time.Second},
		},
		Progress: progress.DefaultConfig(),
	}
}

// DefaultPath is $XDG_CONFIG_HOME/rangefetch/config.yaml, falling back to
// ~/.config when XDG_CONFIG_HOME is unset.
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "rangefetch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "rangefetch", "config.yaml")
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv applies RANGEFETCH_* overrides.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("RANGEFETCH_THREADS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse RANGEFETCH_THREADS: %w", err)
		}
		c.Threads = n
	}
	if v := os.Getenv("RANGEFETCH_PROXY"); v != "" {
		c.Proxy.URL = v
	}
	if v := os.Getenv("RANGEFETCH_USER_AGENT"); v != "" {
		c.UserAgent = v
	}
	if v := os.Getenv("RANGEFETCH_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse RANGEFETCH_LIMIT: %w", err)
		}
		c.Limit.BytesPerSecond = n
	}
	return nil
}

func (c *Config) Validate() error {
	return utils.Validate(c)
}

func (r RetryConfig) Policy() utils.RetryPolicy {
	return utils.RetryPolicy{
		MaxAttempts: r.Attempts,
		BaseDelay:   r.BaseDelay,
		Backoff:     utils.Exponential(r.MaxExponent),
	}
}

// EngineOptions maps the config onto download engine options.
func (c *Config) EngineOptions() rangehttp.Options {
	opts := rangehttp.DefaultOptions()
	opts.Threads = c.Threads
	opts.MaxParallel = c.MaxParallel
	opts.ProbeTimeout = c.Timeouts.Probe
	opts.SegmentTimeout = c.Timeouts.Segment
	opts.ProbeRetry = c.Retry.Probe.Policy()
	opts.SegmentRetry = c.Retry.Segment.Policy()
	opts.TransferRetry = c.Retry.Transfer.Policy()
	opts.Progress = c.Progress
	opts.BytesPerSecond = c.Limit.BytesPerSecond
	return opts
}

// HTTPClientConfig builds the client settings. The random user agent is
// drawn here, once per call.
func (c *Config) HTTPClientConfig() utils.HTTPClientConfig {
	userAgent := c.UserAgent
	if userAgent == RandomUserAgent {
		userAgent = utils.GetRandomUserAgent()
	}
	return utils.HTTPClientConfig{
		Timeout:        c.Timeouts.Request,
		ConnectTimeout: c.Timeouts.Connect,
		KATimeout:      c.Timeouts.KeepAlive,
		ProxyURL:       c.Proxy.URL,
		ProxyUsername:  c.Proxy.Username,
		ProxyPassword:  c.Proxy.Password,
		UserAgent:      userAgent,
		Headers:        c.Headers,
		InsecureTLS:    c.InsecureTLS,
		IdlePerHost:    c.Threads,
	}
}
