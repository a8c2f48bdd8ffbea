package main

import (
	"context"
	"testing"

	"kasircabang/backend/internal/config"
	"kasircabang/backend/internal/domain"
	"kasircabang/backend/internal/store/memory"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", ManagerPIN: "739154"})
	if err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
	err = validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "123456"})
	if err == nil {
		t.Fatalf("expected common PIN to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "739154"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestValidatePINStrength(t *testing.T) {
	weak := []string{"777777", "345678", "876543", "12a456", "246810"}
	for _, pin := range weak {
		if err := validatePINStrength(pin); err == nil {
			t.Fatalf("expected %s to be rejected", pin)
		}
	}
	if err := validatePINStrength("918273"); err != nil {
		t.Fatalf("expected 918273 to pass, got %v", err)
	}
}

func TestBootstrapAdminCreatesAccountOnEmptyStore(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()

	if err := bootstrapAdmin(ctx, repo, "s3cure-admin-pass"); err != nil {
		t.Fatalf("bootstrap admin: %v", err)
	}
	users, err := repo.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 || users[0].Role != domain.RoleAdmin || users[0].Password == "s3cure-admin-pass" {
		t.Fatalf("expected one hashed admin account, got %+v", users)
	}

	if err := bootstrapAdmin(ctx, repo, "another-admin-pass"); err != nil {
		t.Fatalf("second bootstrap should be a no-op, got %v", err)
	}
	users, _ = repo.ListUsers(ctx)
	if len(users) != 1 {
		t.Fatalf("expected bootstrap to be idempotent, got %d users", len(users))
	}
}

func TestBootstrapAdminRejectsShortPassword(t *testing.T) {
	if err := bootstrapAdmin(context.Background(), memory.New(), "short"); err == nil {
		t.Fatalf("expected short bootstrap password to be rejected")
	}
}
