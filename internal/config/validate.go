package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Terminal.URL == "" {
		return errors.New("terminal.url is required")
	}
	if !strings.HasPrefix(c.Terminal.URL, "ws://") && !strings.HasPrefix(c.Terminal.URL, "wss://") {
		return fmt.Errorf("terminal.url must use ws:// or wss:// scheme, got %q", c.Terminal.URL)
	}
	if c.Terminal.KeyID == "" {
		return errors.New("terminal.key_id is required")
	}
	if c.Terminal.PrivateKeyPath == "" {
		return errors.New("terminal.private_key_path is required")
	}

	if c.Breaker.FailureThreshold < 1 {
		return errors.New("breaker.failure_threshold must be >= 1")
	}
	if c.Breaker.RecoveryTimeout <= 0 {
		return errors.New("breaker.recovery_timeout must be positive")
	}
	if c.Breaker.HalfOpenMaxTrials < 1 {
		return errors.New("breaker.half_open_max_trials must be >= 1")
	}
	if c.Breaker.SuccessToClose < 1 {
		return errors.New("breaker.success_to_close must be >= 1")
	}
	if c.Breaker.TrackingWindow <= 0 {
		return errors.New("breaker.tracking_window must be positive")
	}

	if c.Session.OperationTimeout <= 0 {
		return errors.New("session.operation_timeout must be positive")
	}
	if c.Session.ReconnectBaseDelay <= 0 {
		return errors.New("session.reconnect_base_delay must be positive")
	}
	if c.Session.ReconnectMaxDelay < c.Session.ReconnectBaseDelay {
		return fmt.Errorf("session.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)",
			c.Session.ReconnectMaxDelay, c.Session.ReconnectBaseDelay)
	}
	if c.Session.ReconnectMaxAttempts < 1 {
		return errors.New("session.reconnect_max_attempts must be >= 1")
	}

	if c.Health.ProbeInterval <= 0 {
		return errors.New("health.probe_interval must be positive")
	}
	if c.Health.ProbeTimeout <= 0 {
		return errors.New("health.probe_timeout must be positive")
	}
	if c.Health.ProbeTimeout > c.Health.ProbeInterval {
		return fmt.Errorf("health.probe_timeout (%s) cannot exceed probe_interval (%s)",
			c.Health.ProbeTimeout, c.Health.ProbeInterval)
	}
	if c.Health.StalenessThreshold <= 0 {
		return errors.New("health.staleness_threshold must be positive")
	}

	return nil
}
