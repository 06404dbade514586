package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/escrow_test")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.FeePercent != DefaultFeePercent {
		t.Errorf("FeePercent = %v", cfg.FeePercent)
	}
	if cfg.TokenTTL != DefaultTokenTTL {
		t.Errorf("TokenTTL = %v", cfg.TokenTTL)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
listen_addr: ":9090"
database_url: postgres://localhost/escrow
fee_percent: 4.5
token_ttl: 12h
brand: DealGuard
operators:
  - name: ops
    password_hash: $2a$10$abcdefghij
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.FeePercent != 4.5 {
		t.Errorf("FeePercent = %v", cfg.FeePercent)
	}
	if cfg.TokenTTL != 12*time.Hour {
		t.Errorf("TokenTTL = %v", cfg.TokenTTL)
	}
	if len(cfg.Operators) != 1 || cfg.Operators[0].Name != "ops" {
		t.Errorf("Operators = %+v", cfg.Operators)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DATABASE_URL", "postgres://override/db")
	t.Setenv("FEE_PERCENT", "8")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("database_url: postgres://file/db\nfee_percent: 2\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://override/db" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.FeePercent != 8 {
		t.Errorf("FeePercent = %v", cfg.FeePercent)
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(""); err == nil {
		t.Fatal("Load succeeded without DATABASE_URL")
	}
}

func TestOperatorFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/escrow")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("OPERATOR_NAME", "ops")
	t.Setenv("OPERATOR_PASSWORD_HASH", "$2a$10$abcdefghij")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Operators) != 1 || cfg.Operators[0].Name != "ops" {
		t.Errorf("Operators = %+v", cfg.Operators)
	}
}
