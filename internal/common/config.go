package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config is the application configuration, loaded from TOML with CRAWLER_*
// environment overrides applied on top.
type Config struct {
	Environment string          `toml:"environment"`
	Redis       RedisConfig     `toml:"redis"`
	Queue       QueueConfig     `toml:"queue"`
	Storage     StorageConfig   `toml:"storage"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Worker      WorkerConfig    `toml:"worker"`
	Crawler     CrawlerConfig   `toml:"crawler"`
	RateLimit   RateLimitConfig `toml:"rate_limit"`
	Dedup       DedupConfig     `toml:"dedup"`
	Tokens      TokenConfig     `toml:"tokens"`
	Metrics     MetricsConfig   `toml:"metrics"`
	Logging     LoggingConfig   `toml:"logging"`
}

type RedisConfig struct {
	URL string `toml:"url" validate:"required"`
}

type QueueConfig struct {
	Name              string `toml:"name" validate:"required"`
	Path              string `toml:"path" validate:"required"`               // sqlite database file backing the queue
	VisibilityTimeout string `toml:"visibility_timeout" validate:"required"` // e.g. "5m"
	ReceiveWait       string `toml:"receive_wait"`                           // blocking pull window, e.g. "5s"
}

type StorageConfig struct {
	BadgerPath     string `toml:"badger_path" validate:"required"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

type SchedulerConfig struct {
	PollInterval string `toml:"poll_interval"` // default "60s"
	BatchSize    int    `toml:"batch_size"`    // default 100
}

type WorkerConfig struct {
	Concurrency int `toml:"concurrency" validate:"min=0"` // worker goroutines, default 2
}

type CrawlerConfig struct {
	UserAgent        string        `toml:"user_agent"`
	RequestTimeout   time.Duration `toml:"request_timeout"`
	RequestsPerSec   float64       `toml:"requests_per_sec"` // per-domain politeness ceiling
	MaxPages         int           `toml:"max_pages"`
	MinContentLength int           `toml:"min_content_length"`
	EmptyPageLimit   int           `toml:"empty_page_limit"`
	ShutdownTimeout  time.Duration `toml:"shutdown_timeout"` // graceful HTTP client close window
}

type RateLimitConfig struct {
	Requests int    `toml:"requests"` // allowed requests per window
	Period   string `toml:"period"`   // window length, e.g. "60s"
}

type DedupConfig struct {
	TTL string `toml:"ttl"` // URL dedup key lifetime, e.g. "24h"
}

type TokenConfig struct {
	TTL string `toml:"ttl"` // single-use token lifetime, e.g. "5m"
}

type MetricsConfig struct {
	Addr string `toml:"addr"` // Prometheus listen address, empty disables
}

type LoggingConfig struct {
	Level  string   `toml:"level"`
	Output []string `toml:"output"` // "stdout", "file"
}

// DefaultConfig returns the configuration used when no file is supplied.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Redis:       RedisConfig{URL: "redis://localhost:6379/0"},
		Queue: QueueConfig{
			Name:              "trawler",
			Path:              "./data/queue.db",
			VisibilityTimeout: "5m",
			ReceiveWait:       "5s",
		},
		Storage:   StorageConfig{BadgerPath: "./data/badger"},
		Scheduler: SchedulerConfig{PollInterval: "60s", BatchSize: 100},
		Worker:    WorkerConfig{Concurrency: 2},
		Crawler: CrawlerConfig{
			UserAgent:        "trawler/1.0",
			RequestTimeout:   30 * time.Second,
			RequestsPerSec:   2,
			MaxPages:         50,
			MinContentLength: 128,
			EmptyPageLimit:   3,
			ShutdownTimeout:  5 * time.Second,
		},
		RateLimit: RateLimitConfig{Requests: 60, Period: "60s"},
		Dedup:     DedupConfig{TTL: "24h"},
		Tokens:    TokenConfig{TTL: "5m"},
		Metrics:   MetricsConfig{Addr: ":9090"},
		Logging:   LoggingConfig{Level: "info", Output: []string{"stdout"}},
	}
}

// LoadConfig reads configuration files in order (later files override earlier
// ones), applies environment overrides, and validates the result.
func LoadConfig(paths ...string) (*Config, error) {
	config := DefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := config.validateDurations(); err != nil {
		return nil, err
	}

	return config, nil
}

// validateDurations checks the string duration fields up front so failures
// surface at startup rather than mid-loop.
func (c *Config) validateDurations() error {
	for name, value := range map[string]string{
		"queue.visibility_timeout": c.Queue.VisibilityTimeout,
		"scheduler.poll_interval":  c.Scheduler.PollInterval,
		"rate_limit.period":        c.RateLimit.Period,
		"dedup.ttl":                c.Dedup.TTL,
		"tokens.ttl":               c.Tokens.TTL,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}
	return nil
}

// applyEnvOverrides applies CRAWLER_* environment variable overrides.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("CRAWLER_REDIS_URL"); v != "" {
		config.Redis.URL = v
	}
	if v := os.Getenv("CRAWLER_QUEUE_NAME"); v != "" {
		config.Queue.Name = v
	}
	if v := os.Getenv("CRAWLER_QUEUE_PATH"); v != "" {
		config.Queue.Path = v
	}
	if v := os.Getenv("CRAWLER_BADGER_PATH"); v != "" {
		config.Storage.BadgerPath = v
	}
	if v := os.Getenv("CRAWLER_SCHEDULER_POLL_INTERVAL"); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			config.Scheduler.PollInterval = v
		}
	}
	if v := os.Getenv("CRAWLER_SCHEDULER_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Scheduler.BatchSize = n
		}
	}
	if v := os.Getenv("CRAWLER_WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Worker.Concurrency = n
		}
	}
	if v := os.Getenv("CRAWLER_RATE_LIMIT_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.RateLimit.Requests = n
		}
	}
	if v := os.Getenv("CRAWLER_RATE_LIMIT_PERIOD"); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			config.RateLimit.Period = v
		}
	}
	if v := os.Getenv("CRAWLER_URL_DEDUP_TTL"); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			config.Dedup.TTL = v
		}
	}
	if v := os.Getenv("CRAWLER_WS_TOKEN_TTL"); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			config.Tokens.TTL = v
		}
	}
	if v := os.Getenv("CRAWLER_METRICS_ADDR"); v != "" {
		config.Metrics.Addr = v
	}
	if v := os.Getenv("CRAWLER_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// Duration helpers for the string-typed intervals.

func (c *SchedulerConfig) PollIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

func (c *QueueConfig) VisibilityTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.VisibilityTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

func (c *QueueConfig) ReceiveWaitDuration() time.Duration {
	d, err := time.ParseDuration(c.ReceiveWait)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

func (c *RateLimitConfig) PeriodDuration() time.Duration {
	d, err := time.ParseDuration(c.Period)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

func (c *DedupConfig) TTLDuration() time.Duration {
	d, err := time.ParseDuration(c.TTL)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

func (c *TokenConfig) TTLDuration() time.Duration {
	d, err := time.ParseDuration(c.TTL)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}
