// Package transport defines the opaque link to the trading terminal.
// The terminal's wire protocol stays behind the Conn interface; the
// session layer only sees connect, probe, and close.
package transport

import (
	"context"
	"time"
)

// Transport establishes connections to the terminal.
type Transport interface {
	// Connect dials the terminal and performs the authentication
	// handshake. Failures are classified into faults kinds:
	// rejected credentials surface as auth faults, exceeded
	// deadlines as timeout faults, everything else as connection
	// faults.
	Connect(ctx context.Context) (Conn, error)
}

// Conn is a live connection to the terminal.
type Conn interface {
	// Ping performs a liveness round trip. It returns once the
	// terminal acknowledged or the context expired.
	Ping(ctx context.Context) error

	// CheckAuth is a lightweight authentication validity check. It
	// returns an auth fault once the terminal has revoked the
	// session's credentials.
	CheckAuth(ctx context.Context) error

	// LastMarketData returns the receive time of the most recent
	// market update, for feed-freshness checks. Zero when no update
	// has arrived yet.
	LastMarketData() time.Time

	// Faults delivers asynchronous transport failures (read errors,
	// stale heartbeat). The channel is buffered; at most one fault
	// is reported per connection lifetime.
	Faults() <-chan error

	// Close tears the connection down. Safe to call more than once.
	Close() error
}
