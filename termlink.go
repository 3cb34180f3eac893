// Package termlink maintains a resilient link to an external trading
// terminal. It wires together the session manager, circuit breaker,
// and health monitor into a single handle; callers acquire a session,
// use its connection, and release it, while the link heals itself in
// the background.
package termlink

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tradecore/termlink/internal/auth"
	"github.com/tradecore/termlink/internal/breaker"
	"github.com/tradecore/termlink/internal/clock"
	"github.com/tradecore/termlink/internal/config"
	"github.com/tradecore/termlink/internal/faults"
	"github.com/tradecore/termlink/internal/health"
	"github.com/tradecore/termlink/internal/metrics"
	"github.com/tradecore/termlink/internal/session"
	"github.com/tradecore/termlink/internal/transport"
)

// Session is an acquired terminal session handle.
type Session = session.Session

// Status is a point-in-time health snapshot of the link.
type Status = health.Status

// Options overrides the default collaborators. Every field is
// optional; zero values select production defaults.
type Options struct {
	// Credentials signs the connect handshake. When nil, credentials
	// are loaded from the config's key_id and private_key_path.
	Credentials auth.Provider

	// Transport overrides the websocket transport, used by tests.
	Transport transport.Transport

	// Clock supplies time. Defaults to the wall clock.
	Clock clock.Clock

	// Sink receives state transitions, probe results, and call
	// outcomes. Defaults to a no-op.
	Sink metrics.Sink

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Link is one resilient connection to a terminal. Create it with New,
// shut it down with Close. Each Link is independent; there is no
// shared global state.
type Link struct {
	mgr    *session.Manager
	mon    *health.Monitor
	brk    *breaker.Breaker
	cancel context.CancelFunc
	logger *slog.Logger
}

// New builds a Link from validated configuration and starts the
// background health monitor.
func New(cfg *config.Config, opts Options) (*Link, error) {
	const op = "termlink.new"

	if cfg == nil {
		return nil, faults.New(faults.KindValidation, op, "nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, faults.Wrap(faults.KindValidation, op, err)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	sink := opts.Sink
	if sink == nil {
		sink = metrics.Nop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tr := opts.Transport
	if tr == nil {
		creds := opts.Credentials
		if creds == nil {
			loaded, err := auth.LoadCredentials(cfg.Terminal.KeyID, cfg.Terminal.PrivateKeyPath)
			if err != nil {
				return nil, fmt.Errorf("load credentials: %w", err)
			}
			creds = loaded
		}
		tr = transport.NewWebSocket(transport.Config{
			URL:              cfg.Terminal.URL,
			HandshakeTimeout: cfg.Session.OperationTimeout,
			WriteTimeout:     cfg.Session.OperationTimeout,
			PingTimeout:      cfg.Session.PingTimeout,
			HeartbeatEvery:   cfg.Session.HeartbeatInterval,
		}, creds, logger)
	}

	brk := breaker.New(breaker.Config{
		FailureThreshold:  cfg.Breaker.FailureThreshold,
		RecoveryTimeout:   cfg.Breaker.RecoveryTimeout,
		HalfOpenMaxTrials: cfg.Breaker.HalfOpenMaxTrials,
		SuccessToClose:    cfg.Breaker.SuccessToClose,
		TrackingWindow:    cfg.Breaker.TrackingWindow,
	}, clk, sink, logger)

	mgr := session.NewManager(session.Config{
		OperationTimeout:     cfg.Session.OperationTimeout,
		ReconnectBaseDelay:   cfg.Session.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Session.ReconnectMaxDelay,
		ReconnectMaxAttempts: cfg.Session.ReconnectMaxAttempts,
	}, tr, brk, clk, sink, logger)

	mon := health.NewMonitor(health.Config{
		ProbeInterval:      cfg.Health.ProbeInterval,
		ProbeTimeout:       cfg.Health.ProbeTimeout,
		StalenessThreshold: cfg.Health.StalenessThreshold,
		LatencyWarn:        cfg.Health.LatencyWarn,
	}, mgr, mgr, clk, sink, logger)

	monCtx, cancel := context.WithCancel(context.Background())
	go mon.Run(monCtx)

	return &Link{
		mgr:    mgr,
		mon:    mon,
		brk:    brk,
		cancel: cancel,
		logger: logger,
	}, nil
}

// Acquire returns a live session, connecting if necessary. Concurrent
// callers share one connection attempt.
func (l *Link) Acquire(ctx context.Context) (*Session, error) {
	return l.mgr.Acquire(ctx)
}

// Release marks the session handle idle. The underlying connection
// stays open for reuse.
func (l *Link) Release(s *Session) {
	l.mgr.Release(s)
}

// Reconnect forces a fresh connection, replacing the current one.
func (l *Link) Reconnect(ctx context.Context) error {
	return l.mgr.Reconnect(ctx)
}

// Health returns the last health snapshot without probing.
func (l *Link) Health() Status {
	return l.mon.Status()
}

// Probe runs the health checks now and returns the fresh result.
func (l *Link) Probe(ctx context.Context) Status {
	return l.mon.Probe(ctx)
}

// CircuitState reports the breaker state.
func (l *Link) CircuitState() breaker.State {
	return l.brk.State()
}

// CircuitCounts reports the breaker's observability counters.
func (l *Link) CircuitCounts() breaker.Counts {
	return l.brk.Counts()
}

// SessionState reports the session lifecycle state.
func (l *Link) SessionState() session.State {
	return l.mgr.State()
}

// Close stops the health monitor and tears down the connection. The
// Link is unusable afterwards.
func (l *Link) Close() error {
	l.cancel()
	return l.mgr.Close()
}
