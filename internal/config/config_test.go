package config

import (
	"os"
	"testing"
	"time"
)

func unsetEnv() {
	for _, k := range []string{"BUILD_TARGET", "DB_DRIVER", "POSTGRES_DSN", "SQLITE_PATH", "AUTH_MODE", "JWT_SECRET", "ENVIRONMENT", "OP_TIMEOUT_SECONDS"} {
		_ = os.Unsetenv("ADMIN_SYNC_" + k)
	}
}

func TestResolveDefaultsLocal(t *testing.T) {
	unsetEnv()
	_ = os.Setenv("ADMIN_SYNC_BUILD_TARGET", "local")
	_ = os.Setenv("ADMIN_SYNC_AUTH_MODE", "dev")
	defer unsetEnv()

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.DBDriver != "sqlite" || cfg.SQLitePath != "data/admin.db" {
		t.Fatalf("unexpected local mapping: %s %s", cfg.DBDriver, cfg.SQLitePath)
	}
	if cfg.OpTimeout() != 10*time.Second {
		t.Fatalf("unexpected op timeout: %s", cfg.OpTimeout())
	}
}

func TestResolveDefaultsCloudDevRequiresDSN(t *testing.T) {
	unsetEnv()
	_ = os.Setenv("ADMIN_SYNC_BUILD_TARGET", "cloud-dev")
	_ = os.Setenv("ADMIN_SYNC_JWT_SECRET", "secret")
	defer unsetEnv()

	if _, err := New(); err == nil {
		t.Fatalf("expected error without POSTGRES_DSN")
	}

	_ = os.Setenv("ADMIN_SYNC_POSTGRES_DSN", "postgres://u:p@localhost/db")
	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.DBDriver != "postgres" {
		t.Fatalf("expected postgres, got %s", cfg.DBDriver)
	}
}

func TestResolveDefaultsRejectsUnknownDriver(t *testing.T) {
	cfg := NewForTesting()
	cfg.DBDriver = "mongo"
	if err := cfg.ResolveDefaults(); err == nil {
		t.Fatalf("expected unsupported DB_DRIVER error")
	}
}

func TestResolveDefaultsDevAuthNotInProduction(t *testing.T) {
	cfg := NewForTesting()
	cfg.Environment = EnvProduction
	if err := cfg.ResolveDefaults(); err == nil {
		t.Fatalf("dev auth must be rejected in production")
	}
}

func TestResolveDefaultsJWTNeedsSecret(t *testing.T) {
	cfg := NewForTesting()
	cfg.AuthMode = "jwt"
	if err := cfg.ResolveDefaults(); err == nil {
		t.Fatalf("expected JWT_SECRET error")
	}
	cfg.JWTSecret = "s3cret"
	if err := cfg.ResolveDefaults(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
