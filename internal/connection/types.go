package connection

import (
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrNotConnected   = errors.New("not connected")
	ErrAlreadyClosed  = errors.New("already closed")
	ErrInvalidURL     = errors.New("invalid connection url")
	ErrAuthRejected   = errors.New("credential rejected")
	ErrConnectTimeout = errors.New("connect timeout")
	ErrStale          = errors.New("connection stale")
)

// Close codes.
const (
	CloseNormal       = 1000
	CloseGoingAway    = 1001
	CloseNoStatus     = 1005
	CloseAbnormal     = 1006
	CloseUnauthorized = 4001
	CloseForbidden    = 4003
)

// IntentionalClose reports whether a close code means the peer ended the
// session on purpose. Such closes are not retried. An empty close frame
// (1005) is not intentional; servers send one when they restart.
func IntentionalClose(code int) bool {
	return code == CloseNormal || code == CloseGoingAway
}

// AuthClose reports whether a close code means the credential was refused.
func AuthClose(code int) bool {
	return code == CloseUnauthorized || code == CloseForbidden
}

// State is the supervisor's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

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
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is the subscriber-facing view of a topic's connection.
type Status struct {
	Topic   string
	State   State
	Attempt int           // Consecutive failed attempts (reconnecting, failed)
	Delay   time.Duration // Backoff before the next attempt (reconnecting)
	Reason  string        // Last failure reason (reconnecting, failed)
	Code    int           // Close code of the last failure, 0 if none
	Auth    bool          // Failure was a credential rejection
}

// String renders the status for logs and display.
func (s Status) String() string {
	switch s.State {
	case StateReconnecting:
		return fmt.Sprintf("reconnecting(%d, %s)", s.Attempt, s.Delay)
	case StateFailed:
		if s.Auth {
			return fmt.Sprintf("failed(auth: %s)", s.Reason)
		}
		return fmt.Sprintf("failed(%s)", s.Reason)
	default:
		return s.State.String()
	}
}

// Policy configures backoff and keepalive.
type Policy struct {
	BaseDelay      time.Duration // Delay before the first retry
	MaxDelay       time.Duration // Cap on the retry delay
	MaxAttempts    int           // Consecutive failures before failed
	PingInterval   time.Duration // Keepalive probe interval while connected
	ConnectTimeout time.Duration // Max time for an attempt to open or fail
}

// DefaultPolicy returns sensible defaults.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:      2 * time.Second,
		MaxDelay:       30 * time.Second,
		MaxAttempts:    10,
		PingInterval:   20 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

// Backoff returns the delay before retry number attempt (1-based):
// BaseDelay doubled per attempt, capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// DialerConfig configures the WebSocket transport.
type DialerConfig struct {
	Origin           string        // Sent as the Origin header when set
	HandshakeTimeout time.Duration // Upper bound on the opening handshake
	WriteTimeout     time.Duration // Write deadline for sends
	StaleAfter       time.Duration // Alive reports false after this long without inbound traffic (0 = never)
}

// DefaultDialerConfig returns sensible defaults.
func DefaultDialerConfig() DialerConfig {
	return DialerConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		StaleAfter:       60 * time.Second,
	}
}
