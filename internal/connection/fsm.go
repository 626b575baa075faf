package connection

import (
	"errors"
	"time"
)

// Machine is the supervisor state. The zero value is disconnected.
type Machine struct {
	State   State
	Attempt int           // Consecutive failures since the last successful open
	Delay   time.Duration // Pending backoff while reconnecting
	Reason  string
	Code    int
	Auth    bool
}

// Status returns the subscriber-facing view of m.
func (m Machine) Status(topic string) Status {
	return Status{
		Topic:   topic,
		State:   m.State,
		Attempt: m.Attempt,
		Delay:   m.Delay,
		Reason:  m.Reason,
		Code:    m.Code,
		Auth:    m.Auth,
	}
}

// EventKind identifies an input to the state machine.
type EventKind int

const (
	EventStart             EventKind = iota + 1 // Caller asks for a connection
	EventOpen                                   // Transport opened
	EventClose                                  // Transport closed (Code, Reason)
	EventError                                  // Transport failed (Err)
	EventRetryElapsed                           // Backoff timer fired
	EventConnectTimeout                         // Attempt neither opened nor failed in time
	EventKeepalive                              // Keepalive tick (Alive)
	EventCredentialRotated                      // Credential provider signalled a change
	EventReconnect                              // Manual reconnect
	EventDisconnect                             // Manual disconnect
)

// Event is an input to Transition.
type Event struct {
	Kind   EventKind
	Code   int
	Reason string
	Err    error
	Alive  bool
}

// EffectKind identifies an action the supervisor must perform.
type EffectKind int

const (
	EffectDial                 EffectKind = iota + 1 // Open a new transport with a fresh target
	EffectCloseConn                                  // Close the current transport (Code, Reason)
	EffectScheduleRetry                              // Arm the backoff timer (Delay)
	EffectCancelRetry                                // Disarm the backoff timer
	EffectArmConnectTimeout                          // Arm the attempt timeout
	EffectDisarmConnectTimeout                       // Disarm the attempt timeout
	EffectStartKeepalive                             // Start the keepalive ticker
	EffectStopKeepalive                              // Stop the keepalive ticker
	EffectSendPing                                   // Send a keepalive probe
	EffectNotify                                     // Publish the new status
)

// Effect is an output of Transition.
type Effect struct {
	Kind   EffectKind
	Delay  time.Duration
	Code   int
	Reason string
}

// Transition is the pure transition function of the supervisor. Every
// (state, event) pair is defined; pairs with no meaning return m unchanged
// and no effects.
func Transition(m Machine, ev Event, p Policy) (Machine, []Effect) {
	switch ev.Kind {
	case EventDisconnect:
		if m.State == StateDisconnected {
			return m, nil
		}
		return Machine{State: StateDisconnected}, append(teardown(m, CloseNormal, "client disconnect"),
			Effect{Kind: EffectNotify})

	case EventReconnect:
		next := Machine{State: StateConnecting}
		return next, dial(teardown(m, CloseNormal, "reconnect"))

	case EventCredentialRotated:
		if m.State == StateDisconnected {
			return m, nil
		}
		next := Machine{State: StateConnecting, Attempt: m.Attempt}
		return next, dial(teardown(m, CloseNormal, "credential rotated"))
	}

	switch m.State {
	case StateDisconnected:
		if ev.Kind == EventStart {
			return Machine{State: StateConnecting}, dial(nil)
		}

	case StateConnecting:
		switch ev.Kind {
		case EventOpen:
			return Machine{State: StateConnected}, []Effect{
				{Kind: EffectDisarmConnectTimeout},
				{Kind: EffectStartKeepalive},
				{Kind: EffectNotify},
			}
		case EventClose:
			return failure(m, ev.Code, ev.Reason, AuthClose(ev.Code), p,
				Effect{Kind: EffectDisarmConnectTimeout}, Effect{Kind: EffectCloseConn, Code: CloseNormal})
		case EventError:
			return failure(m, 0, errReason(ev.Err), errors.Is(ev.Err, ErrAuthRejected), p,
				Effect{Kind: EffectDisarmConnectTimeout}, Effect{Kind: EffectCloseConn, Code: CloseNormal})
		case EventConnectTimeout:
			return failure(m, 0, ErrConnectTimeout.Error(), false, p,
				Effect{Kind: EffectCloseConn, Code: CloseNormal, Reason: "connect timeout"})
		}

	case StateConnected:
		switch ev.Kind {
		case EventClose:
			if IntentionalClose(ev.Code) {
				return Machine{State: StateDisconnected, Code: ev.Code, Reason: ev.Reason}, []Effect{
					{Kind: EffectStopKeepalive},
					{Kind: EffectCloseConn, Code: CloseNormal},
					{Kind: EffectNotify},
				}
			}
			return failure(m, ev.Code, ev.Reason, AuthClose(ev.Code), p,
				Effect{Kind: EffectStopKeepalive}, Effect{Kind: EffectCloseConn, Code: CloseNormal})
		case EventError:
			return failure(m, CloseAbnormal, errReason(ev.Err), errors.Is(ev.Err, ErrAuthRejected), p,
				Effect{Kind: EffectStopKeepalive}, Effect{Kind: EffectCloseConn, Code: CloseNormal})
		case EventKeepalive:
			if ev.Alive {
				return m, []Effect{{Kind: EffectSendPing}}
			}
			return failure(m, CloseAbnormal, ErrStale.Error(), false, p,
				Effect{Kind: EffectStopKeepalive}, Effect{Kind: EffectCloseConn, Code: CloseNormal, Reason: "stale"})
		}

	case StateReconnecting:
		if ev.Kind == EventRetryElapsed {
			return Machine{State: StateConnecting, Attempt: m.Attempt}, dial(nil)
		}

	case StateFailed:
		// Terminal until Reconnect, CredentialRotated or Disconnect.
	}

	return m, nil
}

// failure records one failed attempt and moves to reconnecting, or to failed
// when the credential was rejected or the attempt ceiling is reached.
func failure(m Machine, code int, reason string, auth bool, p Policy, pre ...Effect) (Machine, []Effect) {
	next := Machine{
		Attempt: m.Attempt + 1,
		Reason:  reason,
		Code:    code,
		Auth:    auth,
	}
	effects := append([]Effect(nil), pre...)

	if auth || next.Attempt >= p.MaxAttempts {
		next.State = StateFailed
		return next, append(effects, Effect{Kind: EffectNotify})
	}

	next.State = StateReconnecting
	next.Delay = p.Backoff(next.Attempt)
	return next, append(effects,
		Effect{Kind: EffectScheduleRetry, Delay: next.Delay},
		Effect{Kind: EffectNotify},
	)
}

// teardown releases whatever resources state m holds.
func teardown(m Machine, code int, reason string) []Effect {
	switch m.State {
	case StateConnecting:
		return []Effect{
			{Kind: EffectDisarmConnectTimeout},
			{Kind: EffectCloseConn, Code: code, Reason: reason},
		}
	case StateConnected:
		return []Effect{
			{Kind: EffectStopKeepalive},
			{Kind: EffectCloseConn, Code: code, Reason: reason},
		}
	case StateReconnecting:
		return []Effect{{Kind: EffectCancelRetry}}
	default:
		return nil
	}
}

// dial appends the effects of starting a fresh attempt.
func dial(effects []Effect) []Effect {
	return append(effects,
		Effect{Kind: EffectDial},
		Effect{Kind: EffectArmConnectTimeout},
		Effect{Kind: EffectNotify},
	)
}

func errReason(err error) string {
	if err == nil {
		return "transport error"
	}
	return err.Error()
}
