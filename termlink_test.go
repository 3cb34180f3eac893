package termlink

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tradecore/termlink/internal/breaker"
	"github.com/tradecore/termlink/internal/clock"
	"github.com/tradecore/termlink/internal/config"
	"github.com/tradecore/termlink/internal/faults"
	"github.com/tradecore/termlink/internal/health"
	"github.com/tradecore/termlink/internal/transport"
)

// stubConn is a minimal live transport.Conn.
type stubConn struct {
	faultCh  chan error
	lastData time.Time
	closed   atomic.Bool
}

func newStubConn() *stubConn {
	return &stubConn{faultCh: make(chan error, 1), lastData: time.Now()}
}

func (c *stubConn) Ping(ctx context.Context) error      { return nil }
func (c *stubConn) CheckAuth(ctx context.Context) error { return nil }
func (c *stubConn) LastMarketData() time.Time           { return c.lastData }
func (c *stubConn) Faults() <-chan error                { return c.faultCh }
func (c *stubConn) Close() error                        { c.closed.Store(true); return nil }

// stubTransport counts connects and can be scripted to fail.
type stubTransport struct {
	connects atomic.Int32
	fail     atomic.Bool
	failKind faults.Kind
}

func (t *stubTransport) Connect(ctx context.Context) (transport.Conn, error) {
	t.connects.Add(1)
	if t.fail.Load() {
		return nil, faults.New(t.failKind, "connect", "terminal unreachable")
	}
	return newStubConn(), nil
}

func testConfig() *config.Config {
	return &config.Config{
		Terminal: config.Terminal{
			URL:            "wss://terminal.example.com/ws/v1",
			KeyID:          "test-key",
			PrivateKeyPath: "/nonexistent", // never read: tests inject a transport
		},
		Breaker: config.Breaker{
			FailureThreshold:  3,
			RecoveryTimeout:   30 * time.Second,
			HalfOpenMaxTrials: 1,
			SuccessToClose:    1,
			TrackingWindow:    time.Minute,
		},
		Session: config.Session{
			OperationTimeout:     5 * time.Second,
			ReconnectBaseDelay:   time.Millisecond,
			ReconnectMaxDelay:    10 * time.Millisecond,
			ReconnectMaxAttempts: 2,
		},
		Health: config.Health{
			ProbeInterval:      time.Hour, // background loop stays quiet in tests
			ProbeTimeout:       time.Second,
			StalenessThreshold: 2 * time.Minute,
			LatencyWarn:        time.Second,
		},
	}
}

func newTestLink(t *testing.T, tr transport.Transport) *Link {
	t.Helper()
	link, err := New(testConfig(), Options{
		Transport: tr,
		Clock:     clock.Real(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { link.Close() })
	return link
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	tr := &stubTransport{}
	link := newTestLink(t, tr)

	sess, err := link.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if sess.Conn() == nil {
		t.Fatal("acquired session has no connection")
	}
	link.Release(sess)

	// Release keeps the connection; a second acquire reuses it.
	again, err := link.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	if again.ID() != sess.ID() {
		t.Errorf("second Acquire built a new session: %s != %s", again.ID(), sess.ID())
	}
	if got := tr.connects.Load(); got != 1 {
		t.Errorf("transport connects = %d, want 1", got)
	}
}

func TestCircuitStateStartsClosed(t *testing.T) {
	link := newTestLink(t, &stubTransport{})

	if got := link.CircuitState(); got != breaker.StateClosed {
		t.Errorf("CircuitState = %v, want Closed", got)
	}
	counts := link.CircuitCounts()
	if counts.WindowedFailures != 0 {
		t.Errorf("WindowedFailures = %d, want 0", counts.WindowedFailures)
	}
}

func TestFailuresOpenCircuit(t *testing.T) {
	tr := &stubTransport{failKind: faults.KindConnection}
	tr.fail.Store(true)
	link := newTestLink(t, tr)

	// Each acquire burns ReconnectMaxAttempts; two acquires cross the
	// threshold of 3.
	for i := 0; i < 2; i++ {
		if _, err := link.Acquire(context.Background()); err == nil {
			t.Fatal("Acquire succeeded against a failing terminal")
		}
	}

	if got := link.CircuitState(); got != breaker.StateOpen {
		t.Errorf("CircuitState = %v, want Open", got)
	}

	// With the circuit open the transport is no longer dialed.
	before := tr.connects.Load()
	_, err := link.Acquire(context.Background())
	if !faults.IsKind(err, faults.KindBreakerOpen) {
		t.Errorf("Acquire error kind = %v, want breaker-open", faults.KindOf(err))
	}
	if got := tr.connects.Load(); got != before {
		t.Errorf("transport dialed %d times while open, want 0", got-before)
	}
}

func TestProbeReportsHealthy(t *testing.T) {
	link := newTestLink(t, &stubTransport{})

	if _, err := link.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	status := link.Probe(context.Background())
	if status.Overall != health.StatusHealthy {
		t.Errorf("Overall = %v, want Healthy (cause %q)", status.Overall, status.Cause)
	}
	if !status.Connected || !status.Authenticated {
		t.Errorf("Connected/Authenticated = %v/%v, want true/true", status.Connected, status.Authenticated)
	}
}

func TestHealthBeforeFirstProbeIsUnknown(t *testing.T) {
	link := newTestLink(t, &stubTransport{})

	if got := link.Health().Overall; got != health.StatusUnknown {
		t.Errorf("Overall = %v, want Unknown before first probe", got)
	}
}

func TestReconnectReplacesConnection(t *testing.T) {
	tr := &stubTransport{}
	link := newTestLink(t, tr)

	first, err := link.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if err := link.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}

	second, err := link.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after Reconnect failed: %v", err)
	}
	if second.ID() == first.ID() {
		t.Error("Reconnect kept the old session")
	}
	if got := tr.connects.Load(); got != 2 {
		t.Errorf("transport connects = %d, want 2", got)
	}
}

func TestCloseStopsTheLink(t *testing.T) {
	link := newTestLink(t, &stubTransport{})

	if _, err := link.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := link.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	_, err := link.Acquire(context.Background())
	if !faults.IsKind(err, faults.KindState) {
		t.Errorf("Acquire after Close error kind = %v, want state fault", faults.KindOf(err))
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Breaker.FailureThreshold = 0

	_, err := New(cfg, Options{Transport: &stubTransport{}})
	if err == nil {
		t.Fatal("New accepted a zero failure threshold")
	}
	if !faults.IsKind(err, faults.KindValidation) {
		t.Errorf("New error kind = %v, want validation fault", faults.KindOf(err))
	}

	if _, err := New(nil, Options{}); !faults.IsKind(err, faults.KindValidation) {
		t.Errorf("New(nil) error kind = %v, want validation fault", faults.KindOf(err))
	}
}
