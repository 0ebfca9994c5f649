package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/herald/pkg/recurrence"
	"gopkg.in/yaml.v3"
)

// Cache backends
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config is the server configuration
type Config struct {
	DataDir  string      `yaml:"dataDir"`
	Timezone string      `yaml:"timezone"`
	Log      LogConfig   `yaml:"log"`
	API      APIConfig   `yaml:"api"`
	Cache    CacheConfig `yaml:"cache"`
	Queue    QueueConfig `yaml:"queue"`
	Chat     ChatConfig  `yaml:"chat"`
	LLM      LLMConfig   `yaml:"llm"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type APIConfig struct {
	GRPCAddr string `yaml:"grpcAddr"`
	HTTPAddr string `yaml:"httpAddr"`
}

type CacheConfig struct {
	Backend       string        `yaml:"backend"`
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDB"`
	ResultTTL     time.Duration `yaml:"resultTTL"`
	GuardTTL      time.Duration `yaml:"guardTTL"`
}

type QueueConfig struct {
	Concurrency      int           `yaml:"concurrency"`
	PollInterval     time.Duration `yaml:"pollInterval"`
	Attempts         int           `yaml:"attempts"`
	Backoff          time.Duration `yaml:"backoff"`
	MaxBackoff       time.Duration `yaml:"maxBackoff"`
	LockTimeout      time.Duration `yaml:"lockTimeout"`
	JobTimeout       time.Duration `yaml:"jobTimeout"`
	RemoveOnComplete bool          `yaml:"removeOnComplete"`
}

type ChatConfig struct {
	ReplyTimeout time.Duration `yaml:"replyTimeout"`
}

// LLMConfig configures the OpenAI-compatible endpoint. An empty APIKey
// falls back to the OPENAI_API_KEY environment variable.
type LLMConfig struct {
	BaseURL string `yaml:"baseURL"`
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		DataDir:  "./herald-data",
		Timezone: recurrence.DefaultLocation,
		Log: LogConfig{
			Level: "info",
		},
		API: APIConfig{
			GRPCAddr: "127.0.0.1:7070",
			HTTPAddr: "127.0.0.1:9090",
		},
		Cache: CacheConfig{
			Backend:   CacheMemory,
			RedisAddr: "127.0.0.1:6379",
			ResultTTL: time.Hour,
			GuardTTL:  5 * time.Minute,
		},
		Queue: QueueConfig{
			Concurrency:  4,
			PollInterval: time.Second,
			Attempts:     3,
			Backoff:      5 * time.Second,
			MaxBackoff:   5 * time.Minute,
			LockTimeout:  2 * time.Minute,
			JobTimeout:   5 * time.Minute,
		},
		Chat: ChatConfig{
			ReplyTimeout: 30 * time.Second,
		},
		LLM: LLMConfig{
			Model: "gpt-4o-mini",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the server cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("dataDir is required"))
	}
	if _, err := recurrence.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, err)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q must be one of debug, info, warn, error", c.Log.Level))
	}

	if c.API.GRPCAddr == "" {
		errs = append(errs, errors.New("api.grpcAddr is required"))
	}

	switch c.Cache.Backend {
	case CacheMemory:
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("cache.redisAddr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q must be memory or redis", c.Cache.Backend))
	}
	if c.Cache.ResultTTL <= 0 {
		errs = append(errs, errors.New("cache.resultTTL must be positive"))
	}
	if c.Cache.GuardTTL <= 0 {
		errs = append(errs, errors.New("cache.guardTTL must be positive"))
	}

	if c.Queue.Concurrency < 1 {
		errs = append(errs, errors.New("queue.concurrency must be at least 1"))
	}
	if c.Queue.PollInterval <= 0 {
		errs = append(errs, errors.New("queue.pollInterval must be positive"))
	}
	if c.Queue.Attempts < 1 {
		errs = append(errs, errors.New("queue.attempts must be at least 1"))
	}
	if c.Queue.Backoff < 0 || c.Queue.MaxBackoff < 0 {
		errs = append(errs, errors.New("queue.backoff and queue.maxBackoff must not be negative"))
	} else if c.Queue.MaxBackoff > 0 && c.Queue.Backoff > c.Queue.MaxBackoff {
		errs = append(errs, errors.New("queue.backoff cannot be greater than queue.maxBackoff"))
	}
	if c.Queue.LockTimeout <= 0 {
		errs = append(errs, errors.New("queue.lockTimeout must be positive"))
	}
	if c.Queue.JobTimeout < 0 {
		errs = append(errs, errors.New("queue.jobTimeout must not be negative"))
	}

	if c.Chat.ReplyTimeout <= 0 {
		errs = append(errs, errors.New("chat.replyTimeout must be positive"))
	}

	return errors.Join(errs...)
}
