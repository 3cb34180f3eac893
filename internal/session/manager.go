package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tradecore/termlink/internal/backoff"
	"github.com/tradecore/termlink/internal/breaker"
	"github.com/tradecore/termlink/internal/clock"
	"github.com/tradecore/termlink/internal/faults"
	"github.com/tradecore/termlink/internal/metrics"
	"github.com/tradecore/termlink/internal/transport"
)

// connectKey is the single-flight key; one manager guards one endpoint.
const connectKey = "connect"

// Reconnector is the narrow capability handed to the health monitor so
// it can trigger recovery without holding the full Manager.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

// Config holds externally supplied session manager settings.
type Config struct {
	// OperationTimeout is the deadline applied to each physical
	// connect attempt.
	OperationTimeout time.Duration

	// ReconnectBaseDelay and ReconnectMaxDelay bound the jittered
	// exponential backoff between attempts.
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration

	// ReconnectMaxAttempts bounds how many physical attempts one
	// Acquire or Reconnect makes before surfacing the failure.
	ReconnectMaxAttempts int
}

// Manager owns the physical connection and its lifecycle state.
type Manager struct {
	cfg    Config
	tr     transport.Transport
	brk    *breaker.Breaker
	clk    clock.Clock
	sink   metrics.Sink
	logger *slog.Logger

	flight singleflight.Group

	// state is read lock-free by status queries; transitions happen
	// under mu.
	state atomic.Int32

	mu   sync.Mutex
	sess *Session

	// lifecycle context, cancelled on Close
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a session Manager. The breaker and transport are
// required; clock, sink, and logger fall back to real/no-op defaults.
func NewManager(cfg Config, tr transport.Transport, brk *breaker.Breaker, clk clock.Clock, sink metrics.Sink, logger *slog.Logger) *Manager {
	if clk == nil {
		clk = clock.Real()
	}
	if sink == nil {
		sink = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		cfg:    cfg,
		tr:     tr,
		brk:    brk,
		clk:    clk,
		sink:   sink,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// State returns the lifecycle state without taking the mutex.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Connected reports whether a live session exists, lock-free.
func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// Acquire returns the shared session, connecting if necessary. It is
// idempotent while connected and single-flight while connecting.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	const op = "session.acquire"

	if m.State() == StateClosed {
		return nil, faults.New(faults.KindState, op, "manager closed")
	}

	// Fast path: an existing live session is returned without any
	// physical attempt.
	if s := m.currentLive(); s != nil {
		s.touch(m.clk.Now())
		return s, nil
	}

	return m.connectShared(ctx, op)
}

// CurrentConn returns the live session's connection handle, or nil
// when disconnected. Used by the health monitor's probes.
func (m *Manager) CurrentConn() transport.Conn {
	if s := m.currentLive(); s != nil {
		return s.conn
	}
	return nil
}

// Release returns the session to the manager. The connection is kept
// alive for reuse rather than torn down per call.
func (m *Manager) Release(s *Session) {
	if s == nil {
		return
	}
	s.touch(m.clk.Now())
}

// Reconnect tears down the current connection and establishes a new
// one. It shares the single flight with Acquire, so a reconnect racing
// an acquire still causes exactly one physical attempt.
func (m *Manager) Reconnect(ctx context.Context) error {
	const op = "session.reconnect"

	if m.State() == StateClosed {
		return faults.New(faults.KindState, op, "manager closed")
	}

	m.dropCurrent()

	_, err := m.connectShared(ctx, op)
	return err
}

// Close shuts the manager down. Acquire and Reconnect fail with a
// state fault afterwards.
func (m *Manager) Close() error {
	m.cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Store(int32(StateClosed))
	if m.sess != nil {
		m.sess.markDead()
		m.sess.conn.Close()
		m.sess = nil
	}
	return nil
}

// currentLive returns the current session when it is connected and its
// transport has not died underneath it.
func (m *Manager) currentLive() *Session {
	if m.State() != StateConnected {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != nil && m.sess.alive() {
		return m.sess
	}
	return nil
}

// dropCurrent closes and forgets the current session before a
// reconnect.
func (m *Manager) dropCurrent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != nil {
		m.sess.markDead()
		m.sess.conn.Close()
		m.sess = nil
	}
}

// connectShared funnels all connection attempts through one flight.
// Waiters that give up early leave the flight running; its outcome is
// still installed for the next caller.
func (m *Manager) connectShared(ctx context.Context, op string) (*Session, error) {
	ch := m.flight.DoChan(connectKey, func() (any, error) {
		return m.connectWithRetry(op)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		s := res.Val.(*Session)
		s.touch(m.clk.Now())
		return s, nil
	case <-ctx.Done():
		return nil, faults.Wrap(faults.KindTimeout, op, ctx.Err())
	case <-m.ctx.Done():
		return nil, faults.New(faults.KindState, op, "manager closed")
	}
}

// connectWithRetry performs gated physical attempts with jittered
// exponential backoff. Retryable transport failures retry up to the
// configured bound; rejected credentials and breaker rejections
// surface immediately.
func (m *Manager) connectWithRetry(op string) (*Session, error) {
	reconnecting := false

	m.mu.Lock()
	switch m.State() {
	case StateClosed:
		m.mu.Unlock()
		return nil, faults.New(faults.KindState, op, "manager closed")
	case StateConnected, StateReconnecting:
		reconnecting = true
	}
	if reconnecting {
		m.state.Store(int32(StateReconnecting))
	} else {
		m.state.Store(int32(StateConnecting))
	}
	m.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < m.cfg.ReconnectMaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoff.ExponentialWithJitter(m.cfg.ReconnectBaseDelay, attempt-1, m.cfg.ReconnectMaxDelay)
			if err := backoff.Wait(m.ctx, m.clk, delay); err != nil {
				m.settleFailed()
				return nil, faults.Wrap(faults.KindState, op, err)
			}
		}

		// Every attempt is gated, so a breaker opened by other
		// traffic stops the retry loop immediately.
		if err := m.brk.Allow(op); err != nil {
			m.settleFailed()
			return nil, err
		}

		conn, err := m.dial()
		if err == nil {
			m.brk.RecordSuccess()
			m.sink.RecordCallOutcome(true)
			return m.install(conn, reconnecting)
		}

		lastErr = err
		kind := faults.KindOf(err)

		if kind == faults.KindConnection || kind == faults.KindTimeout {
			m.brk.RecordFailure()
		}
		m.sink.RecordCallOutcome(false)

		if !faults.Retryable(err) {
			// Rejected credentials fail fast: retrying them only
			// amplifies lockout risk.
			m.logger.Error("connect failed, not retrying",
				"attempt", attempt+1,
				"kind", string(kind),
				"error", err,
			)
			m.settleFailed()
			return nil, err
		}

		m.logger.Warn("connect attempt failed",
			"attempt", attempt+1,
			"kind", string(kind),
			"error", err,
		)
	}

	m.settleFailed()
	return nil, lastErr
}

// dial performs one physical connect attempt under the operation
// deadline.
func (m *Manager) dial() (transport.Conn, error) {
	ctx := m.ctx
	if m.cfg.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.OperationTimeout)
		defer cancel()
	}
	return m.tr.Connect(ctx)
}

// install publishes a new session and starts its fault watcher.
func (m *Manager) install(conn transport.Conn, reconnecting bool) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() == StateClosed {
		conn.Close()
		return nil, faults.New(faults.KindState, "session.connect", "manager closed")
	}

	s := newSession(conn, m.clk.Now())
	m.sess = s
	m.state.Store(int32(StateConnected))

	go m.watch(s)

	m.logger.Info("session established",
		"session_id", s.ID(),
		"reconnect", reconnecting,
	)
	return s, nil
}

// settleFailed returns the lifecycle to disconnected after a failed
// flight, unless the manager was closed meanwhile.
func (m *Manager) settleFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.State() != StateClosed {
		m.state.Store(int32(StateDisconnected))
	}
}

// watch reacts to asynchronous transport faults on a session. A
// retryable fault triggers a self-heal reconnect; an auth fault
// destroys the session and waits for operator intervention.
func (m *Manager) watch(s *Session) {
	select {
	case <-m.ctx.Done():
		return
	case err, ok := <-s.conn.Faults():
		if !ok {
			return
		}

		s.markDead()

		if faults.IsKind(err, faults.KindAuth) {
			m.logger.Error("session credentials revoked",
				"session_id", s.ID(),
				"error", err,
			)
			m.dropIfCurrent(s)
			return
		}

		m.logger.Warn("session transport fault, reconnecting",
			"session_id", s.ID(),
			"error", err,
		)
		if rerr := m.Reconnect(m.ctx); rerr != nil {
			m.logger.Error("self-heal reconnect failed",
				"session_id", s.ID(),
				"error", rerr,
			)
		}
	}
}

// dropIfCurrent forgets the session if it is still the published one.
func (m *Manager) dropIfCurrent(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == s {
		m.sess.conn.Close()
		m.sess = nil
		if m.State() != StateClosed {
			m.state.Store(int32(StateDisconnected))
		}
	}
}
