package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradecore/termlink/internal/transport"
)

// State is the connection lifecycle state. Transitions only run
// DISCONNECTED -> CONNECTING -> CONNECTED -> {RECONNECTING -> CONNECTED
// | CLOSED}; there is no direct DISCONNECTED -> CONNECTED edge.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is a live, reusable handle to the terminal connection. The
// underlying conn is owned by the Manager; callers only read.
type Session struct {
	id   string
	conn transport.Conn

	mu           sync.Mutex
	lastActivity time.Time
	dead         bool
}

func newSession(conn transport.Conn, now time.Time) *Session {
	return &Session{
		id:           uuid.NewString(),
		conn:         conn,
		lastActivity: now,
	}
}

// ID returns the session's unique identifier, used in correlation
// bundles.
func (s *Session) ID() string {
	return s.id
}

// Conn exposes the opaque connection handle for probing.
func (s *Session) Conn() transport.Conn {
	return s.conn
}

// LastActivity returns when the session was last acquired or released.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

func (s *Session) markDead() {
	s.mu.Lock()
	s.dead = true
	s.mu.Unlock()
}

func (s *Session) alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dead
}
