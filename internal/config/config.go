// Package config loads the engine's JSON configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/autodev-labs/autodev-engine/internal/domain"
)

// ProviderConfig describes the generation provider.
type ProviderConfig struct {
	BaseURL      string `json:"base_url"`
	APIKeyEnv    string `json:"api_key_env"`
	DefaultModel string `json:"default_model"`
	MaxRetries   int    `json:"max_retries"`
	TimeoutSec   int    `json:"timeout_sec"`
	// DemoMode serves artifacts from bundled templates and never calls
	// the provider.
	DemoMode bool `json:"demo_mode"`
}

// BudgetConfig holds the deployment budget policy.
type BudgetConfig struct {
	DefaultUSD float64 `json:"default_usd"`
	Policy     string  `json:"policy"`
}

// Config holds the engine's runtime configuration.
type Config struct {
	ListenAddr         string         `json:"listen_addr"`
	DBPath             string         `json:"db_path"`
	TemplateDir        string         `json:"template_dir"`
	Provider           ProviderConfig `json:"provider"`
	Budget             BudgetConfig   `json:"budget"`
	ReviewTimeoutSec   int            `json:"review_timeout_sec"`
	MaxReworkRounds    int            `json:"max_rework_rounds"`
	RateLimitPerMinute int            `json:"rate_limit_per_minute"`
	Parallelism        int            `json:"parallelism"`
}

// Load reads a JSON config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config JSON: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Resolve picks the config file path: the explicit flag value wins, then
// the AUTODEV_CONFIG environment variable, then discovery next to the
// executable and in the working directory.
func Resolve(flagPath string) (string, error) {
	if flagPath != "" {
		return flagPath, nil
	}
	if env := os.Getenv("AUTODEV_CONFIG"); env != "" {
		return env, nil
	}

	candidates := []string{"autodev.json"}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "autodev.json"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", domain.NewEngineError(domain.ErrConfigInvalid.Code,
		"no config file found; pass --config or set AUTODEV_CONFIG")
}

// APIKey reads the provider key from the configured environment variable.
func (c *Config) APIKey() string {
	if c.Provider.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Provider.APIKeyEnv)
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":9800"
	}
	if c.Provider.DefaultModel == "" {
		c.Provider.DefaultModel = "gpt-4o-mini"
	}
	if c.Provider.MaxRetries == 0 {
		c.Provider.MaxRetries = 3
	}
	if c.Provider.TimeoutSec == 0 {
		c.Provider.TimeoutSec = 60
	}
	if c.Budget.DefaultUSD == 0 {
		c.Budget.DefaultUSD = 10.0
	}
	if c.Budget.Policy == "" {
		c.Budget.Policy = "halt"
	}
	if c.ReviewTimeoutSec == 0 {
		c.ReviewTimeoutSec = 3600
	}
	if c.MaxReworkRounds == 0 {
		c.MaxReworkRounds = 3
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 10
	}
	if c.Parallelism == 0 {
		c.Parallelism = 4
	}
}

func (c *Config) validate() error {
	var problems []string

	if c.DBPath == "" {
		problems = append(problems, "db_path is required")
	}
	if c.Budget.Policy != "halt" && c.Budget.Policy != "warn" {
		problems = append(problems, fmt.Sprintf("budget.policy %q must be halt or warn", c.Budget.Policy))
	}
	if c.Budget.DefaultUSD < 0 {
		problems = append(problems, "budget.default_usd must not be negative")
	}
	if !c.Provider.DemoMode && c.Provider.APIKeyEnv == "" {
		problems = append(problems, "provider.api_key_env is required unless demo_mode is set")
	}

	if len(problems) > 0 {
		return &domain.EngineError{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
		}
	}
	return nil
}
