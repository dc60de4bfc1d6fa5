// Package config loads worker and API configuration from an optional YAML
// file, a .env file, and CANVAS_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CANVAS_LLM_API_KEY.
const EnvPrefix = "CANVAS"

// Chunk store backends.
const (
	ChunkBackendSQL   = "sql"
	ChunkBackendRedis = "redis"
)

// Config is the full process configuration.
type Config struct {
	Temporal   TemporalConfig   `mapstructure:"temporal"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Chunks     ChunksConfig     `mapstructure:"chunks"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Generation GenerationConfig `mapstructure:"generation"`
	Evaluation EvaluationConfig `mapstructure:"evaluation"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Log        LogConfig        `mapstructure:"log"`
}

// TemporalConfig locates the Temporal frontend.
type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port" validate:"required,hostname_port"`
	Namespace string `mapstructure:"namespace" validate:"required"`
	TaskQueue string `mapstructure:"task_queue" validate:"required"`
}

// DatabaseConfig locates the sqlite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// ChunksConfig selects where streamed chunks are persisted.
type ChunksConfig struct {
	Backend string        `mapstructure:"backend" validate:"oneof=sql redis"`
	Redis   RedisConfig   `mapstructure:"redis"`
	TTL     time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

// RedisConfig configures the Redis chunk store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// LLMConfig configures the OpenAI-compatible provider.
type LLMConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url" validate:"omitempty,url"`
	DefaultModel      string  `mapstructure:"default_model" validate:"required"`
	JudgeModel        string  `mapstructure:"judge_model"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int     `mapstructure:"burst" validate:"gte=0"`

	// BreakerFailureThreshold consecutive provider failures open a model's
	// circuit; zero disables the breaker.
	BreakerFailureThreshold int           `mapstructure:"breaker_failure_threshold" validate:"gte=0"`
	BreakerOpenTimeout      time.Duration `mapstructure:"breaker_open_timeout" validate:"gte=0"`
}

// GenerationConfig tunes streaming and chunk batching.
type GenerationConfig struct {
	FlushMinChars      int           `mapstructure:"flush_min_chars" validate:"gte=1"`
	FlushInterval      time.Duration `mapstructure:"flush_interval" validate:"gte=0"`
	CancelPollInterval time.Duration `mapstructure:"cancel_poll_interval" validate:"gt=0"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`
}

// EvaluationConfig tunes judging and aggregation.
type EvaluationConfig struct {
	DefaultSuccessThreshold float64 `mapstructure:"default_success_threshold" validate:"gte=0,lte=1"`
	MaxParallel             int     `mapstructure:"max_parallel" validate:"gte=1,lte=100"`
	JudgeMaxTokens          int     `mapstructure:"judge_max_tokens" validate:"gte=1"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

// LogConfig configures slog.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads configuration. A .env file in the working directory is applied
// to the environment first when present. path names an optional YAML file;
// empty means defaults and environment only.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Chunks.Backend == ChunkBackendRedis && c.Chunks.Redis.Addr == "" {
		return errors.New("invalid config: chunks.redis.addr is required for the redis backend")
	}
	return nil
}
