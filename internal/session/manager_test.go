package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tradecore/termlink/internal/breaker"
	"github.com/tradecore/termlink/internal/faults"
	"github.com/tradecore/termlink/internal/transport"
)

// fakeConn is a scriptable transport.Conn.
type fakeConn struct {
	faultCh chan error
	closed  atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{faultCh: make(chan error, 1)}
}

func (f *fakeConn) Ping(ctx context.Context) error      { return nil }
func (f *fakeConn) CheckAuth(ctx context.Context) error { return nil }
func (f *fakeConn) LastMarketData() time.Time           { return time.Now() }
func (f *fakeConn) Faults() <-chan error                { return f.faultCh }

func (f *fakeConn) Close() error {
	f.closed.Store(true)
	return nil
}

// fakeTransport counts physical connect attempts and fails according
// to a script.
type fakeTransport struct {
	mu       sync.Mutex
	script   []error // error per attempt, nil for success; exhausted script succeeds
	conns    []*fakeConn
	connects atomic.Int32
	delay    time.Duration
}

func (f *fakeTransport) Connect(ctx context.Context) (transport.Conn, error) {
	n := f.connects.Add(1)

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, faults.Wrap(faults.KindTimeout, "transport.connect", ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if int(n) <= len(f.script) && f.script[n-1] != nil {
		return nil, f.script[n-1]
	}

	conn := newFakeConn()
	f.conns = append(f.conns, conn)
	return conn, nil
}

func (f *fakeTransport) lastConn() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

func testBreaker() *breaker.Breaker {
	return breaker.New(breaker.Config{
		FailureThreshold:  3,
		RecoveryTimeout:   30 * time.Second,
		HalfOpenMaxTrials: 1,
		SuccessToClose:    1,
		TrackingWindow:    time.Minute,
	}, nil, nil, nil)
}

func testManagerConfig() Config {
	return Config{
		OperationTimeout:     5 * time.Second,
		ReconnectBaseDelay:   time.Millisecond,
		ReconnectMaxDelay:    10 * time.Millisecond,
		ReconnectMaxAttempts: 3,
	}
}

func newTestManager(tr transport.Transport, brk *breaker.Breaker) *Manager {
	if brk == nil {
		brk = testBreaker()
	}
	return NewManager(testManagerConfig(), tr, brk, nil, nil, nil)
}

func TestAcquireConnectsOnce(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(tr, nil)
	defer m.Close()

	s1, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	s2, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}

	if s1 != s2 {
		t.Error("expected the same session from both acquires")
	}
	if got := tr.connects.Load(); got != 1 {
		t.Errorf("physical connects = %d, want 1", got)
	}
	if m.State() != StateConnected {
		t.Errorf("state = %s, want connected", m.State())
	}
}

func TestAcquireSingleFlight(t *testing.T) {
	tr := &fakeTransport{delay: 50 * time.Millisecond}
	m := newTestManager(tr, nil)
	defer m.Close()

	const callers = 10
	sessions := make([]*Session, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i], errs[i] = m.Acquire(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if sessions[i] != sessions[0] {
			t.Errorf("caller %d got a different session", i)
		}
	}
	if got := tr.connects.Load(); got != 1 {
		t.Errorf("physical connects = %d, want 1 (single-flight)", got)
	}
}

func TestAuthErrorNeverRetried(t *testing.T) {
	tr := &fakeTransport{
		script: []error{faults.New(faults.KindAuth, "transport.connect", "credentials rejected")},
	}
	m := newTestManager(tr, nil)
	defer m.Close()

	_, err := m.Acquire(context.Background())
	if err == nil {
		t.Fatal("expected acquire to fail")
	}
	if !faults.IsKind(err, faults.KindAuth) {
		t.Errorf("fault kind = %s, want %s", faults.KindOf(err), faults.KindAuth)
	}
	if got := tr.connects.Load(); got != 1 {
		t.Errorf("physical connects = %d, want 1 (no retry on auth failure)", got)
	}
	if m.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", m.State())
	}
}

func TestConnectionErrorRetries(t *testing.T) {
	tr := &fakeTransport{
		script: []error{
			faults.New(faults.KindConnection, "transport.connect", "refused"),
			faults.New(faults.KindTimeout, "transport.connect", "deadline"),
			nil,
		},
	}
	brk := testBreaker()
	m := newTestManager(tr, brk)
	defer m.Close()

	s, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed after retries: %v", err)
	}
	if s == nil {
		t.Fatal("nil session")
	}
	if got := tr.connects.Load(); got != 3 {
		t.Errorf("physical connects = %d, want 3", got)
	}
	// Two failures were reported; success on the third attempt keeps
	// the breaker closed.
	if brk.State() != breaker.StateClosed {
		t.Errorf("breaker state = %s, want closed", brk.State())
	}
}

func TestRetriesExhausted(t *testing.T) {
	connErr := faults.New(faults.KindConnection, "transport.connect", "refused")
	tr := &fakeTransport{script: []error{connErr, connErr, connErr}}
	m := newTestManager(tr, nil)
	defer m.Close()

	_, err := m.Acquire(context.Background())
	if err == nil {
		t.Fatal("expected acquire to fail")
	}
	if !faults.IsKind(err, faults.KindConnection) {
		t.Errorf("fault kind = %s, want %s", faults.KindOf(err), faults.KindConnection)
	}
	if got := tr.connects.Load(); got != 3 {
		t.Errorf("physical connects = %d, want bounded at 3", got)
	}
}

func TestOpenBreakerNeverTouchesTransport(t *testing.T) {
	tr := &fakeTransport{}
	brk := testBreaker()
	for i := 0; i < 3; i++ {
		brk.RecordFailure()
	}
	m := newTestManager(tr, brk)
	defer m.Close()

	_, err := m.Acquire(context.Background())
	if err == nil {
		t.Fatal("expected acquire to fail while breaker open")
	}
	if !faults.IsKind(err, faults.KindBreakerOpen) {
		t.Errorf("fault kind = %s, want %s", faults.KindOf(err), faults.KindBreakerOpen)
	}
	if got := tr.connects.Load(); got != 0 {
		t.Errorf("physical connects = %d, want 0 while open", got)
	}
}

func TestReleaseKeepsConnectionAlive(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(tr, nil)
	defer m.Close()

	s, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	m.Release(s)
	if tr.lastConn().closed.Load() {
		t.Error("release tore down the connection")
	}

	s2, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("re-acquire failed: %v", err)
	}
	if s2 != s {
		t.Error("expected the released session to be reused")
	}
	if got := tr.connects.Load(); got != 1 {
		t.Errorf("physical connects = %d, want 1", got)
	}
}

func TestReleaseUpdatesActivity(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(tr, nil)
	defer m.Close()

	s, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	before := s.LastActivity()
	time.Sleep(5 * time.Millisecond)
	m.Release(s)
	if !s.LastActivity().After(before) {
		t.Error("Release did not advance last activity")
	}
}

func TestReconnectReplacesSession(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(tr, nil)
	defer m.Close()

	s1, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	oldConn := tr.lastConn()

	if err := m.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}

	if !oldConn.closed.Load() {
		t.Error("reconnect did not close the old connection")
	}

	s2, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after reconnect failed: %v", err)
	}
	if s2 == s1 {
		t.Error("expected a fresh session after reconnect")
	}
	if s2.ID() == s1.ID() {
		t.Error("expected a fresh session id after reconnect")
	}
	if got := tr.connects.Load(); got != 2 {
		t.Errorf("physical connects = %d, want 2", got)
	}
}

func TestTransportFaultTriggersSelfHeal(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(tr, nil)
	defer m.Close()

	s, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// Simulate the terminal dropping the connection.
	tr.lastConn().faultCh <- faults.New(faults.KindConnection, "transport.read", "eof")

	deadline := time.After(5 * time.Second)
	for {
		if m.Connected() {
			s2, err := m.Acquire(context.Background())
			if err != nil {
				t.Fatalf("Acquire after self-heal failed: %v", err)
			}
			if s2 != s {
				break
			}
		}
		select {
		case <-deadline:
			t.Fatal("manager never self-healed after transport fault")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if got := tr.connects.Load(); got != 2 {
		t.Errorf("physical connects = %d, want 2", got)
	}
}

func TestAuthFaultDoesNotSelfHeal(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(tr, nil)
	defer m.Close()

	if _, err := m.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	tr.lastConn().faultCh <- faults.New(faults.KindAuth, "transport.read", "credentials revoked")

	deadline := time.After(5 * time.Second)
	for m.State() != StateDisconnected {
		select {
		case <-deadline:
			t.Fatalf("state = %s, want disconnected after auth revocation", m.State())
		case <-time.After(5 * time.Millisecond):
		}
	}

	// No automatic reconnect was scheduled.
	time.Sleep(20 * time.Millisecond)
	if got := tr.connects.Load(); got != 1 {
		t.Errorf("physical connects = %d, want 1 (no reconnect loop on auth failure)", got)
	}
}

func TestAcquireAfterClose(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(tr, nil)

	if _, err := m.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	conn := tr.lastConn()

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !conn.closed.Load() {
		t.Error("Close did not tear down the connection")
	}
	if m.State() != StateClosed {
		t.Errorf("state = %s, want closed", m.State())
	}

	_, err := m.Acquire(context.Background())
	if !faults.IsKind(err, faults.KindState) {
		t.Errorf("Acquire after Close = %v, want state fault", err)
	}
	if err := m.Reconnect(context.Background()); !faults.IsKind(err, faults.KindState) {
		t.Errorf("Reconnect after Close = %v, want state fault", err)
	}
}

func TestAcquireContextCancelledWhileConnecting(t *testing.T) {
	tr := &fakeTransport{delay: time.Second}
	m := newTestManager(tr, nil)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.Acquire(ctx)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !faults.IsKind(err, faults.KindTimeout) {
			t.Errorf("cancelled acquire = %v, want timeout fault", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Acquire did not return on cancellation")
	}
}

func TestStateStringNames(t *testing.T) {
	cases := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateReconnecting: "reconnecting",
		StateClosed:       "closed",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
