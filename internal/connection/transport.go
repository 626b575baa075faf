package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/bidsync/internal/version"
)

// Sink receives the raw lifecycle events of one connection. Events are
// delivered from the connection's own goroutine in wire order, and none
// are delivered after the owner calls Close.
type Sink interface {
	OnOpen()
	OnMessage(data []byte)
	OnClose(code int, reason string)
	OnError(err error)
}

// Conn is a handle to one physical connection.
type Conn interface {
	// Send writes a text frame. Returns false if the connection is not open
	// or the write fails.
	Send(data []byte) bool

	// Close closes the connection with the given code. Idempotent.
	Close(code int, reason string)

	// Alive reports whether the connection is open and has seen traffic
	// recently.
	Alive() bool
}

// Dialer opens connections. Open never blocks and never returns an error:
// failures, including a malformed URL, are reported via Sink.OnError.
type Dialer interface {
	Open(rawURL string, sink Sink) Conn
}

// WSDialer opens WebSocket connections.
type WSDialer struct {
	cfg    DialerConfig
	logger *slog.Logger
}

// NewWSDialer creates a WebSocket dialer.
func NewWSDialer(cfg DialerConfig, logger *slog.Logger) *WSDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSDialer{cfg: cfg, logger: logger}
}

// Open starts dialing rawURL in the background.
func (d *WSDialer) Open(rawURL string, sink Sink) Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &wsConn{
		cfg:    d.cfg,
		logger: d.logger,
		sink:   sink,
		cancel: cancel,
	}
	go c.dial(ctx, rawURL)
	return c
}

// wsConn implements Conn over gorilla/websocket.
type wsConn struct {
	cfg    DialerConfig
	logger *slog.Logger
	sink   Sink
	cancel context.CancelFunc

	// Write serialization
	writeMu sync.Mutex

	// State
	mu       sync.Mutex
	conn     *websocket.Conn
	open     bool
	closed   bool // Closed locally; suppresses further events
	lastSeen time.Time
}

func (c *wsConn) dial(ctx context.Context, rawURL string) {
	defer c.cancel()

	if err := validateURL(rawURL); err != nil {
		c.fail(err)
		return
	}

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())
	if c.cfg.Origin != "" {
		header.Set("Origin", c.cfg.Origin)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			err = fmt.Errorf("%w: %s", ErrAuthRejected, resp.Status)
		}
		c.fail(err)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.open = true
	c.lastSeen = time.Now()
	c.mu.Unlock()

	// Server sends ping, we respond with pong
	conn.SetPingHandler(func(data string) error {
		c.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	c.logger.Debug("websocket connected", "url", redact(rawURL))
	c.sink.OnOpen()
	c.readLoop(conn)
}

// readLoop reads frames until the connection fails or is closed locally.
func (c *wsConn) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code, reason := CloseAbnormal, err.Error()
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code, reason = ce.Code, ce.Text
			}

			c.mu.Lock()
			c.open = false
			local := c.closed
			c.mu.Unlock()

			// Ignore errors after Close() is called
			if !local {
				c.sink.OnClose(code, reason)
			}
			return
		}

		c.touch()
		if c.isClosed() {
			return
		}
		c.sink.OnMessage(data)
	}
}

func (c *wsConn) fail(err error) {
	if c.isClosed() {
		return
	}
	c.sink.OnError(err)
}

// Send writes a text frame.
func (c *wsConn) Send(data []byte) bool {
	c.mu.Lock()
	conn := c.conn
	ok := c.open && !c.closed
	c.mu.Unlock()
	if !ok {
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug("websocket write failed", "error", err)
		return false
	}
	return true
}

// Close gracefully closes the connection.
func (c *wsConn) Close(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.open = false
	conn := c.conn
	c.mu.Unlock()

	c.cancel()
	if conn == nil {
		return
	}

	// 1005 and 1006 are reserved and may not appear in a close frame
	if code == CloseNoStatus || code == CloseAbnormal {
		code = CloseNormal
	}
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
	conn.Close()
}

// Alive reports whether the connection is open and not stale.
func (c *wsConn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open || c.closed {
		return false
	}
	if c.cfg.StaleAfter > 0 && time.Since(c.lastSeen) > c.cfg.StaleAfter {
		return false
	}
	return true
}

func (c *wsConn) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *wsConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return nil
}

// redact strips the query string so credentials never reach the logs.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid>"
	}
	if u.RawQuery != "" {
		u.RawQuery = "token=REDACTED"
	}
	return u.String()
}
