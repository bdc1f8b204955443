package main

import (
	"fmt"
	"os"
	"time"

	"github.com/oddsworks/spindle/go/internal/round/controller"
	"gopkg.in/yaml.v3"
)

// Config is the optional YAML config file. Anything unset falls back to
// controller defaults and environment variables.
type Config struct {
	Rounds struct {
		WheelDurationSeconds int `yaml:"wheel_duration_seconds"`
		CooldownSeconds      int `yaml:"cooldown_seconds"`
		SettlementBudgetSec  int `yaml:"settlement_budget_seconds"`
	} `yaml:"rounds"`
	Watchdog struct {
		IntervalSeconds int `yaml:"interval_seconds"`
	} `yaml:"watchdog"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

func (c *Config) controllerConfig() controller.Config {
	cfg := controller.DefaultConfig()
	if c == nil {
		return cfg
	}
	if c.Rounds.WheelDurationSeconds > 0 {
		cfg.WheelDurationSeconds = c.Rounds.WheelDurationSeconds
	}
	if c.Rounds.CooldownSeconds > 0 {
		cfg.Cooldown = time.Duration(c.Rounds.CooldownSeconds) * time.Second
	}
	if c.Rounds.SettlementBudgetSec > 0 {
		cfg.SettlementBudget = time.Duration(c.Rounds.SettlementBudgetSec) * time.Second
	}
	return cfg
}

func (c *Config) watchdogInterval() time.Duration {
	if c != nil && c.Watchdog.IntervalSeconds > 0 {
		return time.Duration(c.Watchdog.IntervalSeconds) * time.Second
	}
	return 2 * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
