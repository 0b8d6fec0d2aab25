package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/autodev-labs/autodev-engine/internal/domain"
)

// validJSON returns a minimal valid configuration JSON string.
func validJSON() string {
	return `{
		"db_path": "/tmp/test.db",
		"provider": {
			"api_key_env": "OPENAI_API_KEY",
			"default_model": "gpt-4o-mini"
		}
	}`
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	p := filepath.Join(dir, "config.json")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func assertConfigInvalid(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	engineErr, ok := err.(*domain.EngineError)
	if !ok {
		t.Fatalf("expected EngineError, got %T", err)
	}
	if engineErr.Code != domain.ErrConfigInvalid.Code {
		t.Errorf("Code = %d, want %d", engineErr.Code, domain.ErrConfigInvalid.Code)
	}
}

func TestLoad_Valid(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, validJSON())

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("DBPath = %q, want /tmp/test.db", cfg.DBPath)
	}
	if cfg.Provider.APIKeyEnv != "OPENAI_API_KEY" {
		t.Errorf("APIKeyEnv = %q", cfg.Provider.APIKeyEnv)
	}
	if cfg.Provider.DefaultModel != "gpt-4o-mini" {
		t.Errorf("DefaultModel = %q", cfg.Provider.DefaultModel)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{not valid json}`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

func TestLoad_MissingDBPath(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{
		"provider": {"api_key_env": "OPENAI_API_KEY"}
	}`)

	_, err := Load(path)
	assertConfigInvalid(t, err)
}

func TestLoad_BadBudgetPolicy(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{
		"db_path": "/tmp/test.db",
		"provider": {"api_key_env": "OPENAI_API_KEY"},
		"budget": {"policy": "explode"}
	}`)

	_, err := Load(path)
	assertConfigInvalid(t, err)
}

func TestLoad_MissingAPIKeyEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"db_path": "/tmp/test.db"}`)

	_, err := Load(path)
	assertConfigInvalid(t, err)
}

func TestLoad_DemoModeNeedsNoKey(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{
		"db_path": "/tmp/test.db",
		"provider": {"demo_mode": true}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Provider.DemoMode {
		t.Error("DemoMode not set")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, validJSON())

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":9800" {
		t.Errorf("ListenAddr = %q, want :9800", cfg.ListenAddr)
	}
	if cfg.Budget.Policy != "halt" {
		t.Errorf("Budget.Policy = %q, want halt", cfg.Budget.Policy)
	}
	if cfg.Budget.DefaultUSD != 10.0 {
		t.Errorf("Budget.DefaultUSD = %f, want 10.0", cfg.Budget.DefaultUSD)
	}
	if cfg.ReviewTimeoutSec != 3600 {
		t.Errorf("ReviewTimeoutSec = %d, want 3600", cfg.ReviewTimeoutSec)
	}
	if cfg.MaxReworkRounds != 3 {
		t.Errorf("MaxReworkRounds = %d, want 3", cfg.MaxReworkRounds)
	}
	if cfg.RateLimitPerMinute != 10 {
		t.Errorf("RateLimitPerMinute = %d, want 10", cfg.RateLimitPerMinute)
	}
	if cfg.Provider.MaxRetries != 3 || cfg.Provider.TimeoutSec != 60 {
		t.Errorf("provider defaults = %+v", cfg.Provider)
	}
}

func TestAPIKey(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, validJSON())

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	t.Setenv("OPENAI_API_KEY", "sk-test-123")
	if got := cfg.APIKey(); got != "sk-test-123" {
		t.Errorf("APIKey = %q, want sk-test-123", got)
	}

	cfg.Provider.APIKeyEnv = ""
	if got := cfg.APIKey(); got != "" {
		t.Errorf("APIKey with empty env name = %q, want empty", got)
	}
}

func TestResolve(t *testing.T) {
	if got, err := Resolve("/explicit/path.json"); err != nil || got != "/explicit/path.json" {
		t.Errorf("Resolve(flag) = (%q, %v)", got, err)
	}

	t.Setenv("AUTODEV_CONFIG", "/from/env.json")
	if got, err := Resolve(""); err != nil || got != "/from/env.json" {
		t.Errorf("Resolve(env) = (%q, %v)", got, err)
	}

	t.Setenv("AUTODEV_CONFIG", "")
	dir := t.TempDir()
	prev, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(prev)

	if _, err := Resolve(""); err == nil {
		t.Error("expected error when no config exists")
	}

	writeConfigFile := filepath.Join(dir, "autodev.json")
	if err := os.WriteFile(writeConfigFile, []byte("{}"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got, err := Resolve(""); err != nil || got != "autodev.json" {
		t.Errorf("Resolve(discovery) = (%q, %v)", got, err)
	}
}
