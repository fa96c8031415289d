// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// SchedulerConfig provides settings for the asynq client and worker.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	IsSchedulerEnabled() bool
}

// RulesConfig provides settings for the follow-up rule catalog source.
type RulesConfig interface {
	GetRulesSource() string
	GetRulesFile() string
	GetRulesReloadChannel() string
}

// BulkConfig provides settings for the bulk pipeline coordinator.
type BulkConfig interface {
	GetBulkWorkerLimit() int
	GetBulkRecomputeRetries() uint64
	GetBulkRetryBaseDelay() time.Duration
}

// ChangeFeedConfig provides settings for the Kafka change feed.
type ChangeFeedConfig interface {
	GetKafkaBrokers() []string
	GetChangeFeedTopic() string
	GetChangeFeedGroupID() string
	IsChangeFeedEnabled() bool
}

// DueSweepConfig provides settings for the periodic due-action sweep.
type DueSweepConfig interface {
	GetDueSweepInterval() time.Duration
	GetDueSweepBatchSize() int
}

// =============================================================================
// Main Config Struct
// =============================================================================

// RulesSourceFile and RulesSourceDatabase are the accepted RULES_SOURCE values.
const (
	RulesSourceFile     = "file"
	RulesSourceDatabase = "database"
)

// Config holds all application configuration values.
type Config struct {
	Env                  string
	HTTPAddr             string
	DatabaseURL          string
	DatabaseMaxConns     int32
	MigrationsEnabled    bool
	JWTAccessSecret      string
	CORSAllowAll         bool
	CORSOrigins          []string
	CORSAllowCreds       bool
	RedisURL             string
	RedisTLSInsecure     bool
	AsynqQueueName       string
	AsynqConcurrency     int
	RulesSource          string
	RulesFile            string
	RulesReloadChannel   string
	BulkWorkerLimit      int
	BulkRecomputeRetries uint64
	BulkRetryBaseDelay   time.Duration
	KafkaBrokers         []string
	ChangeFeedTopic      string
	ChangeFeedGroupID    string
	DueSweepInterval     time.Duration
	DueSweepBatchSize    int
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string     { return c.DatabaseURL }
func (c *Config) GetDatabaseMaxConns() int32 { return c.DatabaseMaxConns }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }
func (c *Config) IsSchedulerEnabled() bool  { return c.RedisURL != "" }

// RulesConfig implementation
func (c *Config) GetRulesSource() string        { return c.RulesSource }
func (c *Config) GetRulesFile() string          { return c.RulesFile }
func (c *Config) GetRulesReloadChannel() string { return c.RulesReloadChannel }

// BulkConfig implementation
func (c *Config) GetBulkWorkerLimit() int              { return c.BulkWorkerLimit }
func (c *Config) GetBulkRecomputeRetries() uint64      { return c.BulkRecomputeRetries }
func (c *Config) GetBulkRetryBaseDelay() time.Duration { return c.BulkRetryBaseDelay }

// ChangeFeedConfig implementation
func (c *Config) GetKafkaBrokers() []string    { return c.KafkaBrokers }
func (c *Config) GetChangeFeedTopic() string   { return c.ChangeFeedTopic }
func (c *Config) GetChangeFeedGroupID() string { return c.ChangeFeedGroupID }
func (c *Config) IsChangeFeedEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.ChangeFeedTopic != ""
}

// DueSweepConfig implementation
func (c *Config) GetDueSweepInterval() time.Duration { return c.DueSweepInterval }
func (c *Config) GetDueSweepBatchSize() int          { return c.DueSweepBatchSize }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                  getEnv("APP_ENV", "development"),
		HTTPAddr:             getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:     int32(mustInt(getEnv("DATABASE_MAX_CONNS", "25"))),
		MigrationsEnabled:    strings.EqualFold(getEnv("MIGRATIONS_ENABLED", "true"), "true"),
		JWTAccessSecret:      getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:         corsAllowAll,
		CORSOrigins:          corsOrigins,
		CORSAllowCreds:       strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		RedisURL:             getEnv("REDIS_URL", ""),
		RedisTLSInsecure:     strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:       getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:     mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		RulesSource:          strings.ToLower(getEnv("RULES_SOURCE", RulesSourceFile)),
		RulesFile:            getEnv("RULES_FILE", ""),
		RulesReloadChannel:   getEnv("RULES_RELOAD_CHANNEL", "pipeline:rules:reload"),
		BulkWorkerLimit:      mustInt(getEnv("BULK_WORKER_LIMIT", "8")),
		BulkRecomputeRetries: uint64(mustInt(getEnv("BULK_RECOMPUTE_RETRIES", "3"))),
		BulkRetryBaseDelay:   mustDuration(getEnv("BULK_RETRY_BASE_DELAY", "50ms")),
		KafkaBrokers:         splitCSV(getEnv("KAFKA_BROKERS", "")),
		ChangeFeedTopic:      getEnv("CHANGEFEED_TOPIC", "pipeline.contact.changed"),
		ChangeFeedGroupID:    getEnv("CHANGEFEED_GROUP_ID", "outreach-crm-view"),
		DueSweepInterval:     mustDuration(getEnv("DUE_SWEEP_INTERVAL", "5m")),
		DueSweepBatchSize:    mustInt(getEnv("DUE_SWEEP_BATCH_SIZE", "200")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.RulesSource != RulesSourceFile && cfg.RulesSource != RulesSourceDatabase {
		return nil, fmt.Errorf("RULES_SOURCE must be %q or %q", RulesSourceFile, RulesSourceDatabase)
	}
	if cfg.BulkWorkerLimit <= 0 {
		return nil, fmt.Errorf("BULK_WORKER_LIMIT must be positive")
	}
	if cfg.AsynqConcurrency <= 0 {
		cfg.AsynqConcurrency = 10
	}
	if cfg.DueSweepInterval <= 0 {
		cfg.DueSweepInterval = 5 * time.Minute
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
