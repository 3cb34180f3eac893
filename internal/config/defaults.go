package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultFailureThreshold  = 5
	DefaultRecoveryTimeout   = 30 * time.Second
	DefaultHalfOpenMaxTrials = 1
	DefaultSuccessToClose    = 1
	DefaultTrackingWindow    = 60 * time.Second

	DefaultOperationTimeout     = 30 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 60 * time.Second
	DefaultReconnectMaxAttempts = 5
	DefaultPingTimeout          = 10 * time.Second
	DefaultHeartbeatInterval    = 15 * time.Second

	DefaultProbeInterval      = 30 * time.Second
	DefaultProbeTimeout       = 10 * time.Second
	DefaultStalenessThreshold = 2 * time.Minute
	DefaultLatencyWarn        = 2 * time.Second
)

func (c *Config) applyDefaults() {
	// Breaker defaults
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = DefaultFailureThreshold
	}
	if c.Breaker.RecoveryTimeout == 0 {
		c.Breaker.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if c.Breaker.HalfOpenMaxTrials == 0 {
		c.Breaker.HalfOpenMaxTrials = DefaultHalfOpenMaxTrials
	}
	if c.Breaker.SuccessToClose == 0 {
		c.Breaker.SuccessToClose = DefaultSuccessToClose
	}
	if c.Breaker.TrackingWindow == 0 {
		c.Breaker.TrackingWindow = DefaultTrackingWindow
	}

	// Session defaults
	if c.Session.OperationTimeout == 0 {
		c.Session.OperationTimeout = DefaultOperationTimeout
	}
	if c.Session.ReconnectBaseDelay == 0 {
		c.Session.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Session.ReconnectMaxDelay == 0 {
		c.Session.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Session.ReconnectMaxAttempts == 0 {
		c.Session.ReconnectMaxAttempts = DefaultReconnectMaxAttempts
	}
	if c.Session.PingTimeout == 0 {
		c.Session.PingTimeout = DefaultPingTimeout
	}
	if c.Session.HeartbeatInterval == 0 {
		c.Session.HeartbeatInterval = DefaultHeartbeatInterval
	}

	// Health defaults
	if c.Health.ProbeInterval == 0 {
		c.Health.ProbeInterval = DefaultProbeInterval
	}
	if c.Health.ProbeTimeout == 0 {
		c.Health.ProbeTimeout = DefaultProbeTimeout
	}
	if c.Health.StalenessThreshold == 0 {
		c.Health.StalenessThreshold = DefaultStalenessThreshold
	}
	if c.Health.LatencyWarn == 0 {
		c.Health.LatencyWarn = DefaultLatencyWarn
	}
}
