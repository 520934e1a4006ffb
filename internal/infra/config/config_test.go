package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_OTP_PEPPER", "test-pepper")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Otp.TTL != 5*time.Minute || cfg.Otp.MaxAttempts != 3 || cfg.Otp.CodeLength != 6 {
		t.Fatalf("unexpected otp defaults: %+v", cfg.Otp)
	}
	if cfg.Lockout.Threshold != 3 || cfg.Lockout.Duration != 30*time.Minute {
		t.Fatalf("unexpected lockout defaults: %+v", cfg.Lockout)
	}
	if cfg.RateLimit.Otp.Limit != 5 || cfg.RateLimit.Otp.Window != time.Hour {
		t.Fatalf("unexpected otp rate limit: %+v", cfg.RateLimit.Otp)
	}
	if cfg.RateLimit.Login.Limit != 10 || cfg.RateLimit.PasswordReset.Limit != 3 {
		t.Fatalf("unexpected rate limits: %+v", cfg.RateLimit)
	}
	if cfg.App.OperationTimeout != 300*time.Millisecond {
		t.Fatalf("unexpected operation timeout: %s", cfg.App.OperationTimeout)
	}
	if cfg.SecurityLogger.Retention != 90*24*time.Hour {
		t.Fatalf("unexpected retention: %s", cfg.SecurityLogger.Retention)
	}
	if cfg.Storage.Driver != StorageDriverPostgres {
		t.Fatalf("unexpected storage driver: %s", cfg.Storage.Driver)
	}
	if cfg.IPBlock.DefaultDuration != time.Hour || cfg.Redis.BlockPrefix != "auth:ip:blocked" {
		t.Fatalf("unexpected ip block defaults: %+v prefix=%q", cfg.IPBlock, cfg.Redis.BlockPrefix)
	}
	if !cfg.Alerts.Enabled || cfg.Alerts.MaxInFlight != 64 {
		t.Fatalf("unexpected alert defaults: %+v", cfg.Alerts)
	}
	if cfg.App.AdminToken != "" {
		t.Fatalf("expected admin endpoints disabled by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AUTH_OTP_PEPPER", "test-pepper")
	t.Setenv("AUTH_LOCKOUT_THRESHOLD", "5")
	t.Setenv("AUTH_RATE_LIMIT_OTP_LIMIT", "7")
	t.Setenv("AUTH_STORAGE_DRIVER", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Lockout.Threshold != 5 {
		t.Fatalf("expected threshold override, got %d", cfg.Lockout.Threshold)
	}
	if cfg.RateLimit.Otp.Limit != 7 {
		t.Fatalf("expected otp limit override, got %d", cfg.RateLimit.Otp.Limit)
	}
	if cfg.Storage.Driver != StorageDriverMemory {
		t.Fatalf("expected memory driver, got %s", cfg.Storage.Driver)
	}
}

func TestLoadRequiresPepper(t *testing.T) {
	t.Setenv("AUTH_OTP_PEPPER", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected missing pepper to fail")
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("AUTH_OTP_PEPPER", "test-pepper")
	t.Setenv("AUTH_STORAGE_DRIVER", "mongo")
	if _, err := Load(); err == nil {
		t.Fatalf("expected unknown driver to fail")
	}
}
