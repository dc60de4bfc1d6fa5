package config

import (
	"time"

	"github.com/spf13/viper"
)

// Defaults for settings that are not configured explicitly.
const (
	DefaultTemporalHostPort   = "localhost:7233"
	DefaultTemporalNamespace  = "default"
	DefaultTaskQueue          = "canvas-rounds"
	DefaultDatabasePath       = "canvas.db"
	DefaultRedisAddr          = "localhost:6379"
	DefaultChunkTTL           = 24 * time.Hour
	DefaultModel              = "gpt-4o-mini"
	DefaultRequestsPerSecond  = 5.0
	DefaultBurst              = 10
	DefaultBreakerFailures    = 5
	DefaultBreakerOpenTimeout = 30 * time.Second
	DefaultFlushMinChars      = 20
	DefaultFlushInterval      = 200 * time.Millisecond
	DefaultCancelPollInterval = 500 * time.Millisecond
	DefaultIdleTimeout        = 2 * time.Minute
	DefaultSuccessThreshold   = 0.7
	DefaultMaxParallel        = 10
	DefaultJudgeMaxTokens     = 512
	DefaultHTTPAddr           = ":8080"
)

// setDefaults registers every key so environment overrides resolve during
// Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("temporal.host_port", DefaultTemporalHostPort)
	v.SetDefault("temporal.namespace", DefaultTemporalNamespace)
	v.SetDefault("temporal.task_queue", DefaultTaskQueue)

	v.SetDefault("database.path", DefaultDatabasePath)

	v.SetDefault("chunks.backend", ChunkBackendSQL)
	v.SetDefault("chunks.redis.addr", DefaultRedisAddr)
	v.SetDefault("chunks.redis.password", "")
	v.SetDefault("chunks.redis.db", 0)
	v.SetDefault("chunks.ttl", DefaultChunkTTL)

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.default_model", DefaultModel)
	v.SetDefault("llm.judge_model", "")
	v.SetDefault("llm.requests_per_second", DefaultRequestsPerSecond)
	v.SetDefault("llm.burst", DefaultBurst)
	v.SetDefault("llm.breaker_failure_threshold", DefaultBreakerFailures)
	v.SetDefault("llm.breaker_open_timeout", DefaultBreakerOpenTimeout)

	v.SetDefault("generation.flush_min_chars", DefaultFlushMinChars)
	v.SetDefault("generation.flush_interval", DefaultFlushInterval)
	v.SetDefault("generation.cancel_poll_interval", DefaultCancelPollInterval)
	v.SetDefault("generation.idle_timeout", DefaultIdleTimeout)

	v.SetDefault("evaluation.default_success_threshold", DefaultSuccessThreshold)
	v.SetDefault("evaluation.max_parallel", DefaultMaxParallel)
	v.SetDefault("evaluation.judge_max_tokens", DefaultJudgeMaxTokens)

	v.SetDefault("http.addr", DefaultHTTPAddr)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
