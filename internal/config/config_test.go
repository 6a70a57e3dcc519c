package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_DefaultsToMemoryStoreWithoutDatabase(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "DATABASE_URL")
	unsetEnvWithCleanup(t, "STORE_DRIVER")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StoreDriver != StoreDriverMemory {
		t.Fatalf("expected memory store driver, got %q", cfg.StoreDriver)
	}
	if cfg.EventsExchange != "rapidfund.events" {
		t.Fatalf("unexpected default exchange %q", cfg.EventsExchange)
	}
	if !cfg.VerifyCryptoDonations {
		t.Fatalf("expected crypto donation verification to default on")
	}
	if cfg.ReconcileSchedule != "@every 15m" {
		t.Fatalf("unexpected default reconcile schedule %q", cfg.ReconcileSchedule)
	}
}

func TestLoadConfig_PostgresWhenDatabaseConfigured(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "DATABASE_URL", "postgres://localhost/rapidfund")
	unsetEnvWithCleanup(t, "STORE_DRIVER")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StoreDriver != StoreDriverPostgres {
		t.Fatalf("expected postgres store driver, got %q", cfg.StoreDriver)
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8080")
	setEnvWithCleanup(t, "PORT", "9999")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9999" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_CoercesNonPositiveLimits(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "DONATION_RATE_LIMIT_PER_MINUTE", "-4")
	setEnvWithCleanup(t, "PRICE_CACHE_TTL_SECONDS", "0")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DonationRateLimitPerMinute != 30 {
		t.Fatalf("expected rate limit coerced to 30, got %d", cfg.DonationRateLimitPerMinute)
	}
	if cfg.PriceCacheTTLSeconds != 60 {
		t.Fatalf("expected ttl coerced to 60, got %d", cfg.PriceCacheTTLSeconds)
	}
}

func TestLoadConfig_EmptyReconcileScheduleDisablesJob(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "RECONCILE_SCHEDULE", " ")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ReconcileSchedule != "" {
		t.Fatalf("expected empty schedule, got %q", cfg.ReconcileSchedule)
	}
}

func TestAllowedOriginsFallsBackToSite(t *testing.T) {
	cfg := Config{PublicSiteURL: "https://rapidfund.example"}
	if got := cfg.AllowedOrigins(); len(got) != 1 || got[0] != "https://rapidfund.example" {
		t.Fatalf("unexpected origins %v", got)
	}
	cfg.CORSAllowedOrigins = "https://a.example, https://b.example ,"
	if got := cfg.AllowedOrigins(); len(got) != 2 || got[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", got)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
