package config

import (
	"testing"
	"time"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_ACCESS_SECRET", "secret")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is empty")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/outreach")
	t.Setenv("JWT_ACCESS_SECRET", "secret")
	t.Setenv("CORS_ORIGINS", "http://localhost:4200, https://app.example.com")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GetRulesSource() != RulesSourceFile {
		t.Fatalf("expected file rules source, got %q", cfg.GetRulesSource())
	}
	if cfg.GetBulkWorkerLimit() != 8 || cfg.GetBulkRecomputeRetries() != 3 {
		t.Fatalf("unexpected bulk defaults: %d/%d", cfg.GetBulkWorkerLimit(), cfg.GetBulkRecomputeRetries())
	}
	if cfg.GetBulkRetryBaseDelay() != 50*time.Millisecond {
		t.Fatalf("unexpected retry delay %v", cfg.GetBulkRetryBaseDelay())
	}
	if len(cfg.GetCORSOrigins()) != 2 {
		t.Fatalf("expected 2 cors origins, got %v", cfg.GetCORSOrigins())
	}
	if cfg.IsChangeFeedEnabled() {
		t.Fatal("change feed should be disabled without brokers")
	}
	if cfg.IsSchedulerEnabled() {
		t.Fatal("scheduler should be disabled without REDIS_URL")
	}
}

func TestLoadRejectsUnknownRulesSource(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/outreach")
	t.Setenv("JWT_ACCESS_SECRET", "secret")
	t.Setenv("RULES_SOURCE", "consul")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown RULES_SOURCE")
	}
}

func TestLoadRejectsWildcardWithCredentials(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/outreach")
	t.Setenv("JWT_ACCESS_SECRET", "secret")
	t.Setenv("CORS_ORIGINS", "*")
	t.Setenv("CORS_ALLOW_CREDENTIALS", "true")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for wildcard origins with credentials")
	}
}
