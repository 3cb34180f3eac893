// Package config loads and validates the termlink configuration. All
// thresholds are externally supplied; nothing is hardcoded into the
// resilience components themselves.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for one terminal link.
type Config struct {
	Terminal Terminal `yaml:"terminal"`
	Breaker  Breaker  `yaml:"breaker"`
	Session  Session  `yaml:"session"`
	Health   Health   `yaml:"health"`
}

// Terminal holds endpoint and credential settings.
type Terminal struct {
	URL            string `yaml:"url"`
	KeyID          string `yaml:"key_id"`           // API key ID for handshake signing
	PrivateKeyPath string `yaml:"private_key_path"` // path to RSA private key PEM file
}

// Breaker holds circuit breaker thresholds.
type Breaker struct {
	FailureThreshold  int           `yaml:"failure_threshold"`
	RecoveryTimeout   time.Duration `yaml:"recovery_timeout"`
	HalfOpenMaxTrials int           `yaml:"half_open_max_trials"`
	SuccessToClose    int           `yaml:"success_to_close"`
	TrackingWindow    time.Duration `yaml:"tracking_window"`
}

// Session holds connection lifecycle settings.
type Session struct {
	OperationTimeout     time.Duration `yaml:"operation_timeout"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	ReconnectMaxAttempts int           `yaml:"reconnect_max_attempts"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
}

// Health holds health monitor settings.
type Health struct {
	ProbeInterval      time.Duration `yaml:"probe_interval"`
	ProbeTimeout       time.Duration `yaml:"probe_timeout"`
	StalenessThreshold time.Duration `yaml:"staleness_threshold"`
	LatencyWarn        time.Duration `yaml:"latency_warn"`
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config and applies default values.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
