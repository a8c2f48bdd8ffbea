package config

import (
	"log/slog"
	"testing"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadReadsEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DEFAULT_BRANCH_ID", "branch-north")
	t.Setenv("SNAPSHOT_TTL_SECONDS", "0")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg := Load()
	if cfg.Address() != ":9090" {
		t.Fatalf("expected :9090, got %s", cfg.Address())
	}
	if cfg.DefaultBranchID != "branch-north" {
		t.Fatalf("unexpected default branch %q", cfg.DefaultBranchID)
	}
	if cfg.SnapshotTTLSeconds != 30 {
		t.Fatalf("expected invalid ttl to fall back to 30, got %d", cfg.SnapshotTTLSeconds)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v", cfg.SlogLevel())
	}
}
