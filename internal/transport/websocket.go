package transport

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tradecore/termlink/internal/auth"
	"github.com/tradecore/termlink/internal/faults"
)

// Ping payloads distinguish latency probes from keepalives so a
// keepalive pong cannot satisfy a probe round trip.
const (
	probePayload     = "probe"
	keepalivePayload = "keepalive"
)

// Config configures the websocket transport.
type Config struct {
	URL              string        // terminal websocket URL
	HandshakeTimeout time.Duration // dial deadline
	WriteTimeout     time.Duration // write deadline for sends
	PingTimeout      time.Duration // max silence before the connection is considered stale
	HeartbeatEvery   time.Duration // interval between keepalive pings
}

// WebSocket is a Transport over a gorilla websocket connection.
type WebSocket struct {
	cfg    Config
	creds  auth.Provider
	logger *slog.Logger
}

// NewWebSocket creates a websocket Transport. creds may be nil for
// unauthenticated terminals.
func NewWebSocket(cfg Config, creds auth.Provider, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocket{cfg: cfg, creds: creds, logger: logger}
}

// Connect implements Transport.
func (w *WebSocket) Connect(ctx context.Context) (Conn, error) {
	const op = "transport.connect"

	header := http.Header{}
	header.Set("Accept", "application/json")
	if w.creds != nil {
		signed, err := w.creds.SignConnect()
		if err != nil {
			return nil, faults.Wrap(faults.KindAuth, op, err)
		}
		for k, vs := range signed {
			for _, v := range vs {
				header.Add(k, v)
			}
		}
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: w.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, w.cfg.URL, header)
	if err != nil {
		return nil, classifyDialError(op, err, resp)
	}

	c := &wsConn{
		cfg:    w.cfg,
		conn:   conn,
		logger: w.logger,
		faults: make(chan error, 1),
		pongs:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	c.lastHeartbeat.Store(time.Now())

	// Server pings and our pong replies both count as heartbeat.
	conn.SetPingHandler(func(data string) error {
		c.lastHeartbeat.Store(time.Now())
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})
	conn.SetPongHandler(func(data string) error {
		c.lastHeartbeat.Store(time.Now())
		// Only a probe pong completes a Ping round trip; keepalive
		// pongs count for heartbeat alone.
		if data == probePayload {
			select {
			case c.pongs <- struct{}{}:
			default:
			}
		}
		return nil
	})

	go c.readLoop()
	go c.heartbeatLoop()

	w.logger.Debug("terminal connected", "url", w.cfg.URL)
	return c, nil
}

// classifyDialError maps a dial failure to a faults kind.
func classifyDialError(op string, err error, resp *http.Response) error {
	if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		return faults.Wrap(faults.KindAuth, op, err)
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return faults.Wrap(faults.KindTimeout, op, err)
	}

	return faults.Wrap(faults.KindConnection, op, err)
}

// wsConn is a live websocket connection to the terminal.
type wsConn struct {
	cfg    Config
	conn   *websocket.Conn
	logger *slog.Logger

	faults chan error
	pongs  chan struct{}
	done   chan struct{}

	writeMu sync.Mutex

	lastHeartbeat  atomicTime
	lastMarketData atomicTime
	authRevoked    atomicError

	closeOnce sync.Once
}

// atomicTime is a lock-free time.Time cell.
type atomicTime struct {
	v atomic.Value
}

func (a *atomicTime) Store(t time.Time) {
	a.v.Store(t)
}

func (a *atomicTime) Load() time.Time {
	t, _ := a.v.Load().(time.Time)
	return t
}

// atomicError is a lock-free, set-once error cell.
type atomicError struct {
	v atomic.Value
}

func (a *atomicError) Store(err error) {
	a.v.Store(err)
}

func (a *atomicError) Load() error {
	err, _ := a.v.Load().(error)
	return err
}

// Ping implements Conn. It writes a ping control frame and waits for
// the matching pong.
func (c *wsConn) Ping(ctx context.Context) error {
	const op = "transport.ping"

	// Drain a stale pong left over from a keepalive exchange.
	select {
	case <-c.pongs:
	default:
	}

	c.writeMu.Lock()
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	err := c.conn.WriteControl(websocket.PingMessage, []byte(probePayload), deadline)
	c.writeMu.Unlock()
	if err != nil {
		return faults.Wrap(faults.KindConnection, op, err)
	}

	select {
	case <-c.pongs:
		return nil
	case <-c.done:
		return faults.New(faults.KindConnection, op, "connection closed")
	case <-ctx.Done():
		return faults.Wrap(faults.KindTimeout, op, ctx.Err())
	}
}

// CheckAuth implements Conn.
func (c *wsConn) CheckAuth(ctx context.Context) error {
	if err := c.authRevoked.Load(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return faults.New(faults.KindConnection, "transport.check_auth", "connection closed")
	default:
		return nil
	}
}

// LastMarketData implements Conn.
func (c *wsConn) LastMarketData() time.Time {
	return c.lastMarketData.Load()
}

// Faults implements Conn.
func (c *wsConn) Faults() <-chan error {
	return c.faults
}

// Close implements Conn.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = c.conn.Close()
	})
	return err
}

// reportFault delivers at most one fault per connection lifetime.
func (c *wsConn) reportFault(err error) {
	select {
	case c.faults <- err:
	default:
	}
}

// readLoop consumes frames from the terminal. Every data frame counts
// as a market update for freshness purposes; the payload itself stays
// opaque to this layer.
func (c *wsConn) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, _, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Errors after Close are expected.
			default:
				switch {
				case isAuthClose(err):
					authErr := faults.Wrap(faults.KindAuth, "transport.read", err)
					c.authRevoked.Store(authErr)
					c.reportFault(authErr)
				case isDataClose(err):
					c.reportFault(faults.Wrap(faults.KindData, "transport.read", err))
				default:
					c.reportFault(faults.Wrap(faults.KindConnection, "transport.read", err))
				}
			}
			return
		}

		c.lastMarketData.Store(time.Now())
	}
}

// isAuthClose reports whether the terminal closed the connection for an
// authentication reason.
func isAuthClose(err error) bool {
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr) && closeErr.Code == websocket.ClosePolicyViolation
}

// isDataClose reports whether the terminal closed the connection over
// malformed or unsupported frame data.
func isDataClose(err error) bool {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	return closeErr.Code == websocket.CloseInvalidFramePayloadData ||
		closeErr.Code == websocket.CloseUnsupportedData
}

// heartbeatLoop sends keepalive pings and detects stale connections.
func (c *wsConn) heartbeatLoop() {
	interval := c.cfg.HeartbeatEvery
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			err := c.conn.WriteControl(websocket.PingMessage, []byte(keepalivePayload), deadline)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("failed to send keepalive ping", "error", err)
			}

			if c.cfg.PingTimeout > 0 && time.Since(c.lastHeartbeat.Load()) > c.cfg.PingTimeout {
				c.logger.Warn("terminal heartbeat stale",
					"last_heartbeat", c.lastHeartbeat.Load(),
					"timeout", c.cfg.PingTimeout,
				)
				c.reportFault(faults.New(faults.KindConnection, "transport.heartbeat", "connection stale (no heartbeat)"))
				return
			}
		}
	}
}
