package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.HTTPPort != 8000 {
		t.Errorf("expected default port 8000, got %d", cfg.HTTPPort)
	}
	if cfg.DupWindow != 5 {
		t.Errorf("expected default dup window 5, got %d", cfg.DupWindow)
	}
	if cfg.MaxSongDuration.Seconds() != 1800 {
		t.Errorf("expected default max song duration 1800s, got %s", cfg.MaxSongDuration)
	}
	if cfg.MaxFileSize != 50*1024*1024 {
		t.Errorf("expected default max file size 50MiB, got %d", cfg.MaxFileSize)
	}
	if cfg.WatchdogInterval.Seconds() != 10 {
		t.Errorf("expected default watchdog interval 10s, got %s", cfg.WatchdogInterval)
	}
	if cfg.PollInterval.Seconds() != 1 {
		t.Errorf("expected default poll interval 1s, got %s", cfg.PollInterval)
	}
	if cfg.WebhookPartitionCount != 1 {
		t.Errorf("expected single partition by default, got %d", cfg.WebhookPartitionCount)
	}
}

func TestLoad_AdminTokens(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("ADMIN_API_TOKEN", "alpha, beta ,gamma")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := []string{"alpha", "beta", "gamma"}
	if len(cfg.AdminAPITokens) != len(want) {
		t.Fatalf("expected %d tokens, got %d", len(want), len(cfg.AdminAPITokens))
	}
	for i, token := range want {
		if cfg.AdminAPITokens[i] != token {
			t.Errorf("token %d: expected %q, got %q", i, token, cfg.AdminAPITokens[i])
		}
	}
}

func TestLoad_PrefixedKeysWin(t *testing.T) {
	t.Setenv("JWT_SECRET", "fallback-secret")
	t.Setenv("TIDECAST_JWT_SECRET", "prefixed-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.JWTSecret != "prefixed-secret" {
		t.Errorf("expected prefixed key to win, got %q", cfg.JWTSecret)
	}
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing JWT_SECRET")
	}
}

func TestLoad_InvalidCatalogBackend(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("CATALOG_BACKEND", "mongodb")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unsupported catalog backend")
	}
}

func TestLoad_PartitionValidation(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("WEBHOOK_PARTITION_COUNT", "2")
	t.Setenv("WEBHOOK_PARTITION_INDEX", "2")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for partition index out of range")
	}
}

func TestLoad_ProductionRequiresTokens(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("ENVIRONMENT", "production")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing admin token in production")
	}
}
