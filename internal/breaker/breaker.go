package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tradecore/termlink/internal/clock"
	"github.com/tradecore/termlink/internal/faults"
	"github.com/tradecore/termlink/internal/metrics"
)

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds externally supplied breaker thresholds. No defaults are
// baked into the state machine; the config layer owns defaulting.
type Config struct {
	// FailureThreshold is the windowed failure count that opens the
	// circuit.
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before the
	// next call is allowed a half-open trial.
	RecoveryTimeout time.Duration

	// HalfOpenMaxTrials bounds how many half-open trials may be in
	// flight at once. A settled trial releases its slot, so
	// SuccessToClose may exceed it without wedging the breaker.
	HalfOpenMaxTrials int

	// SuccessToClose is the consecutive successes required to close
	// from half-open.
	SuccessToClose int

	// TrackingWindow is the sliding window over which failures count
	// toward FailureThreshold.
	TrackingWindow time.Duration
}

// Counts is the observability surface exposed for external metrics
// collection.
type Counts struct {
	WindowedFailures     int
	ConsecutiveSuccesses int
	HalfOpenTrialsUsed   int

	// Cumulative state-transition counts since construction.
	TransitionsToOpen     uint64
	TransitionsToHalfOpen uint64
	TransitionsToClosed   uint64
}

// Breaker is a three-state circuit breaker with sliding-window failure
// tracking. One instance guards one terminal endpoint for the process
// lifetime.
type Breaker struct {
	cfg    Config
	clk    clock.Clock
	sink   metrics.Sink
	logger *slog.Logger

	mu           sync.Mutex
	state        State
	failures     []time.Time // failure timestamps within the window
	openTime     time.Time
	enteredState time.Time
	trialsUsed   int
	successRun   int
	counts       Counts
}

// New creates a Breaker. A nil sink or logger falls back to no-op and
// slog.Default respectively.
func New(cfg Config, clk clock.Clock, sink metrics.Sink, logger *slog.Logger) *Breaker {
	if clk == nil {
		clk = clock.Real()
	}
	if sink == nil {
		sink = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Breaker{
		cfg:          cfg,
		clk:          clk,
		sink:         sink,
		logger:       logger,
		state:        StateClosed,
		enteredState: clk.Now(),
	}
}

// Allow reports whether a call may proceed. While open it returns a
// circuit-breaker-open fault without the transport ever being touched.
// The first call after the recovery timeout transitions to half-open
// before being attempted; half-open calls consume trial quota.
func (b *Breaker) Allow(op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clk.Now()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if now.Sub(b.openTime) < b.cfg.RecoveryTimeout {
			return faults.New(faults.KindBreakerOpen, op, "circuit breaker open")
		}
		// Recovery timeout elapsed: this call becomes the first
		// half-open trial.
		b.transition(StateHalfOpen, now)
		b.trialsUsed = 1
		return nil

	case StateHalfOpen:
		if b.trialsUsed >= b.cfg.HalfOpenMaxTrials {
			return faults.New(faults.KindBreakerOpen, op, "half-open trial quota exhausted")
		}
		b.trialsUsed++
		return nil
	}

	return nil
}

// RecordSuccess reports a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.successRun++
		if b.successRun >= b.cfg.SuccessToClose {
			b.failures = b.failures[:0]
			b.transition(StateClosed, b.clk.Now())
			return
		}
		// The trial settled without closing; release its quota slot
		// so the next trial can be admitted.
		if b.trialsUsed > 0 {
			b.trialsUsed--
		}
	case StateClosed:
		// Successes do not clear the failure window; only closing
		// from half-open resets it.
	}
}

// RecordFailure reports a failed call outcome. In half-open any failure
// reopens immediately with the open time reset to this failure's own
// timestamp.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clk.Now()

	switch b.state {
	case StateClosed:
		b.pruneWindow(now)
		b.failures = append(b.failures, now)
		if len(b.failures) >= b.cfg.FailureThreshold {
			b.openTime = now
			b.transition(StateOpen, now)
		}

	case StateHalfOpen:
		b.openTime = now
		b.transition(StateOpen, now)

	case StateOpen:
		// Late failure report from a call admitted before opening.
		// The circuit is already open; nothing to do.
	}
}

// State returns the current state without mutating it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counts returns a snapshot of the observability counters.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.counts
	c.WindowedFailures = len(b.failures)
	c.ConsecutiveSuccesses = b.successRun
	c.HalfOpenTrialsUsed = b.trialsUsed
	return c
}

// TimeInState returns how long the breaker has been in its current
// state.
func (b *Breaker) TimeInState() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clk.Now().Sub(b.enteredState)
}

// pruneWindow drops failures older than the tracking window so isolated
// stale failures cannot keep the breaker primed to open.
func (b *Breaker) pruneWindow(now time.Time) {
	if b.cfg.TrackingWindow <= 0 {
		return
	}
	cutoff := now.Add(-b.cfg.TrackingWindow)
	kept := b.failures[:0]
	for _, ts := range b.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.failures = kept
}

// transition moves to a new state. Caller holds the mutex.
func (b *Breaker) transition(to State, now time.Time) {
	from := b.state
	if from == to {
		return
	}

	b.state = to
	b.enteredState = now

	switch to {
	case StateOpen:
		b.counts.TransitionsToOpen++
		b.trialsUsed = 0
		b.successRun = 0
	case StateHalfOpen:
		b.counts.TransitionsToHalfOpen++
		b.trialsUsed = 0
		b.successRun = 0
	case StateClosed:
		b.counts.TransitionsToClosed++
		b.trialsUsed = 0
		b.successRun = 0
	}

	b.logger.Info("breaker state changed",
		"from", from.String(),
		"to", to.String(),
	)
	b.sink.RecordStateTransition(from.String(), to.String())
}
