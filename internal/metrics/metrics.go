// Package metrics defines the sink consumed by external observability
// tooling. The core reports raw events; aggregation happens outside.
package metrics

import (
	"log/slog"
	"time"
)

// Sink receives observability events from the resilience layer.
type Sink interface {
	// RecordStateTransition is called on every circuit breaker state
	// change.
	RecordStateTransition(from, to string)

	// RecordProbe is called after every health probe with the liveness
	// round-trip latency and the aggregated status.
	RecordProbe(latency time.Duration, status string)

	// RecordCallOutcome is called after every gated operation against
	// the terminal. Breaker fast-fails are not reported here - no
	// remote call was attempted.
	RecordCallOutcome(success bool)
}

// Nop discards all events.
type Nop struct{}

func (Nop) RecordStateTransition(from, to string) {}

func (Nop) RecordProbe(latency time.Duration, status string) {}

func (Nop) RecordCallOutcome(success bool) {}

// Logger emits each event as a structured log line. Used by the CLI;
// production deployments plug in their own sink.
type Logger struct {
	Log *slog.Logger
}

func (l Logger) logger() *slog.Logger {
	if l.Log == nil {
		return slog.Default()
	}
	return l.Log
}

func (l Logger) RecordStateTransition(from, to string) {
	l.logger().Info("breaker state transition", "from", from, "to", to)
}

func (l Logger) RecordProbe(latency time.Duration, status string) {
	l.logger().Debug("health probe", "latency_ms", float64(latency)/float64(time.Millisecond), "status", status)
}

func (l Logger) RecordCallOutcome(success bool) {
	l.logger().Debug("call outcome", "success", success)
}
