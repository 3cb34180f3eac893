package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tradecore/termlink/internal/clock"
	"github.com/tradecore/termlink/internal/metrics"
	"github.com/tradecore/termlink/internal/session"
	"github.com/tradecore/termlink/internal/transport"
)

// Overall is the aggregated health verdict.
type Overall string

const (
	// StatusUnknown is reported before the first probe completes.
	StatusUnknown Overall = "unknown"

	// StatusHealthy means all checks passed and latency is under the
	// warn threshold.
	StatusHealthy Overall = "healthy"

	// StatusDegraded means the data feed is stale or latency exceeds
	// the warn threshold while connection and auth remain OK.
	StatusDegraded Overall = "degraded"

	// StatusUnhealthy means the connection or authentication check
	// failed.
	StatusUnhealthy Overall = "unhealthy"
)

// Status is one probe cycle's snapshot. The previous snapshot stays
// readable until the next probe completes, so readers never block.
type Status struct {
	Connected     bool
	Authenticated bool
	DataFeedFresh bool
	Latency       time.Duration
	LastProbeTime time.Time
	Overall       Overall

	// Cause describes what made the probe unhealthy, empty otherwise.
	Cause string
}

// ConnSource exposes the connection handle to probe. Implemented by
// the session manager.
type ConnSource interface {
	CurrentConn() transport.Conn
}

// Config holds externally supplied monitor settings.
type Config struct {
	// ProbeInterval is how often the monitor probes.
	ProbeInterval time.Duration

	// ProbeTimeout is the deadline for each individual check.
	ProbeTimeout time.Duration

	// StalenessThreshold is the maximum age of the last market update
	// before the feed counts as stale.
	StalenessThreshold time.Duration

	// LatencyWarn is the liveness round-trip latency above which the
	// link is degraded.
	LatencyWarn time.Duration
}

// Monitor probes the terminal link periodically.
type Monitor struct {
	cfg    Config
	source ConnSource
	recon  session.Reconnector
	clk    clock.Clock
	sink   metrics.Sink
	logger *slog.Logger

	last          atomic.Pointer[Status]
	reconInFlight atomic.Bool
	lastOverall   Overall // only touched by the probe loop
}

// NewMonitor creates a Monitor. recon is the narrow reconnect
// capability; the monitor never sees the full session manager.
func NewMonitor(cfg Config, source ConnSource, recon session.Reconnector, clk clock.Clock, sink metrics.Sink, logger *slog.Logger) *Monitor {
	if clk == nil {
		clk = clock.Real()
	}
	if sink == nil {
		sink = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Monitor{
		cfg:         cfg,
		source:      source,
		recon:       recon,
		clk:         clk,
		sink:        sink,
		logger:      logger,
		lastOverall: StatusUnknown,
	}
	m.last.Store(&Status{Overall: StatusUnknown})
	return m
}

// Status returns the last known snapshot without blocking.
func (m *Monitor) Status() Status {
	return *m.last.Load()
}

// Run probes on the configured interval until ctx is cancelled. The
// loop is resilient: a probe can never panic out of it.
func (m *Monitor) Run(ctx context.Context) {
	ticker := m.clk.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	m.logger.Info("health monitor started", "interval", m.cfg.ProbeInterval)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopped")
			return
		case <-ticker.C():
			m.cycle(ctx)
		}
	}
}

// cycle runs one probe, publishes the snapshot, and reacts to
// unhealthy transitions.
func (m *Monitor) cycle(ctx context.Context) {
	status := m.Probe(ctx)

	m.last.Store(&status)
	m.sink.RecordProbe(status.Latency, string(status.Overall))

	if status.Overall == StatusUnhealthy && m.lastOverall != StatusUnhealthy {
		m.triggerReconnect(ctx, status)
	}
	m.lastOverall = status.Overall
}

// Probe performs one health check cycle. It never panics: internal
// failures are reported as an unhealthy status with the cause attached.
func (m *Monitor) Probe(ctx context.Context) (status Status) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("health probe panicked", "panic", r)
			status = Status{
				LastProbeTime: m.clk.Now(),
				Overall:       StatusUnhealthy,
				Cause:         fmt.Sprintf("probe panic: %v", r),
			}
		}
	}()

	status = Status{LastProbeTime: m.clk.Now()}

	conn := m.source.CurrentConn()
	if conn == nil {
		status.Overall = StatusUnhealthy
		status.Cause = "no live connection"
		return status
	}

	probeCtx := ctx
	if m.cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		defer cancel()
	}

	// Liveness, with round-trip latency.
	start := m.clk.Now()
	if err := conn.Ping(probeCtx); err != nil {
		status.Overall = StatusUnhealthy
		status.Cause = fmt.Sprintf("liveness: %v", err)
		return status
	}
	status.Connected = true
	status.Latency = m.clk.Now().Sub(start)

	// Authentication validity.
	if err := conn.CheckAuth(probeCtx); err != nil {
		status.Overall = StatusUnhealthy
		status.Cause = fmt.Sprintf("auth: %v", err)
		return status
	}
	status.Authenticated = true

	// Data-feed freshness.
	lastData := conn.LastMarketData()
	status.DataFeedFresh = !lastData.IsZero() &&
		m.clk.Now().Sub(lastData) <= m.cfg.StalenessThreshold

	switch {
	case !status.DataFeedFresh:
		status.Overall = StatusDegraded
		status.Cause = "market data stale"
	case m.cfg.LatencyWarn > 0 && status.Latency > m.cfg.LatencyWarn:
		status.Overall = StatusDegraded
		status.Cause = "latency above warn threshold"
	default:
		status.Overall = StatusHealthy
	}

	return status
}

// triggerReconnect fires the narrow reconnect capability once per
// unhealthy transition. A trigger is suppressed while a previous one
// is still in flight.
func (m *Monitor) triggerReconnect(ctx context.Context, status Status) {
	if m.recon == nil {
		return
	}
	if !m.reconInFlight.CompareAndSwap(false, true) {
		m.logger.Debug("reconnect already in flight, skipping trigger")
		return
	}

	m.logger.Warn("link unhealthy, triggering reconnect", "cause", status.Cause)

	go func() {
		defer m.reconInFlight.Store(false)
		if err := m.recon.Reconnect(ctx); err != nil {
			m.logger.Error("health-triggered reconnect failed", "error", err)
		}
	}()
}
