package connection

import (
	"errors"
	"testing"
	"time"
)

var testPolicy = Policy{
	BaseDelay:      time.Second,
	MaxDelay:       8 * time.Second,
	MaxAttempts:    5,
	PingInterval:   20 * time.Second,
	ConnectTimeout: 10 * time.Second,
}

func hasEffect(effects []Effect, kind EffectKind) bool {
	for _, e := range effects {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func TestPolicy_Backoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 8 * time.Second},
		{50, 8 * time.Second},
	}

	for _, tt := range tests {
		if got := testPolicy.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestTransition_Table(t *testing.T) {
	connected := Machine{State: StateConnected}
	connecting := Machine{State: StateConnecting, Attempt: 2}
	reconnecting := Machine{State: StateReconnecting, Attempt: 2, Delay: 2 * time.Second}
	failed := Machine{State: StateFailed, Attempt: 5, Reason: "boom"}

	tests := []struct {
		name        string
		from        Machine
		event       Event
		wantState   State
		wantAttempt int
		wantEffects []EffectKind
	}{
		{
			name:        "start dials",
			from:        Machine{},
			event:       Event{Kind: EventStart},
			wantState:   StateConnecting,
			wantEffects: []EffectKind{EffectDial, EffectArmConnectTimeout, EffectNotify},
		},
		{
			name:        "open resets attempts",
			from:        connecting,
			event:       Event{Kind: EventOpen},
			wantState:   StateConnected,
			wantAttempt: 0,
			wantEffects: []EffectKind{EffectDisarmConnectTimeout, EffectStartKeepalive, EffectNotify},
		},
		{
			name:        "abnormal close retries",
			from:        connected,
			event:       Event{Kind: EventClose, Code: CloseAbnormal},
			wantState:   StateReconnecting,
			wantAttempt: 1,
			wantEffects: []EffectKind{EffectStopKeepalive, EffectCloseConn, EffectScheduleRetry, EffectNotify},
		},
		{
			name:        "normal close is terminal",
			from:        connected,
			event:       Event{Kind: EventClose, Code: CloseNormal},
			wantState:   StateDisconnected,
			wantEffects: []EffectKind{EffectStopKeepalive, EffectCloseConn, EffectNotify},
		},
		{
			name:      "going away is terminal",
			from:      connected,
			event:     Event{Kind: EventClose, Code: CloseGoingAway},
			wantState: StateDisconnected,
		},
		{
			name:        "no status retries",
			from:        connected,
			event:       Event{Kind: EventClose, Code: CloseNoStatus},
			wantState:   StateReconnecting,
			wantAttempt: 1,
		},
		{
			name:        "connecting error retries",
			from:        connecting,
			event:       Event{Kind: EventError, Err: errors.New("refused")},
			wantState:   StateReconnecting,
			wantAttempt: 3,
		},
		{
			name:        "connecting normal close still retries",
			from:        connecting,
			event:       Event{Kind: EventClose, Code: CloseNormal},
			wantState:   StateReconnecting,
			wantAttempt: 3,
		},
		{
			name:        "connect timeout retries",
			from:        connecting,
			event:       Event{Kind: EventConnectTimeout},
			wantState:   StateReconnecting,
			wantAttempt: 3,
			wantEffects: []EffectKind{EffectCloseConn, EffectScheduleRetry, EffectNotify},
		},
		{
			name:        "retry elapsed dials",
			from:        reconnecting,
			event:       Event{Kind: EventRetryElapsed},
			wantState:   StateConnecting,
			wantAttempt: 2,
			wantEffects: []EffectKind{EffectDial, EffectArmConnectTimeout, EffectNotify},
		},
		{
			name:        "alive keepalive pings",
			from:        connected,
			event:       Event{Kind: EventKeepalive, Alive: true},
			wantState:   StateConnected,
			wantEffects: []EffectKind{EffectSendPing},
		},
		{
			name:        "dead keepalive retries",
			from:        connected,
			event:       Event{Kind: EventKeepalive, Alive: false},
			wantState:   StateReconnecting,
			wantAttempt: 1,
		},
		{
			name:        "rotation keeps attempts",
			from:        reconnecting,
			event:       Event{Kind: EventCredentialRotated},
			wantState:   StateConnecting,
			wantAttempt: 2,
			wantEffects: []EffectKind{EffectCancelRetry, EffectDial, EffectArmConnectTimeout, EffectNotify},
		},
		{
			name:        "rotation while connected redials",
			from:        connected,
			event:       Event{Kind: EventCredentialRotated},
			wantState:   StateConnecting,
			wantEffects: []EffectKind{EffectStopKeepalive, EffectCloseConn, EffectDial, EffectArmConnectTimeout, EffectNotify},
		},
		{
			name:        "rotation revives failed",
			from:        failed,
			event:       Event{Kind: EventCredentialRotated},
			wantState:   StateConnecting,
			wantAttempt: 5,
		},
		{
			name:      "rotation ignores disconnected",
			from:      Machine{},
			event:     Event{Kind: EventCredentialRotated},
			wantState: StateDisconnected,
		},
		{
			name:        "reconnect resets attempts",
			from:        failed,
			event:       Event{Kind: EventReconnect},
			wantState:   StateConnecting,
			wantAttempt: 0,
			wantEffects: []EffectKind{EffectDial, EffectArmConnectTimeout, EffectNotify},
		},
		{
			name:        "disconnect cancels retry",
			from:        reconnecting,
			event:       Event{Kind: EventDisconnect},
			wantState:   StateDisconnected,
			wantEffects: []EffectKind{EffectCancelRetry, EffectNotify},
		},
		{
			name:      "disconnect when disconnected is a no-op",
			from:      Machine{},
			event:     Event{Kind: EventDisconnect},
			wantState: StateDisconnected,
		},
		{
			name:        "failed ignores transport events",
			from:        failed,
			event:       Event{Kind: EventClose, Code: CloseAbnormal},
			wantState:   StateFailed,
			wantAttempt: 5,
		},
		{
			name:        "failed ignores timers",
			from:        failed,
			event:       Event{Kind: EventRetryElapsed},
			wantState:   StateFailed,
			wantAttempt: 5,
		},
		{
			name:      "open while disconnected is ignored",
			from:      Machine{},
			event:     Event{Kind: EventOpen},
			wantState: StateDisconnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, effects := Transition(tt.from, tt.event, testPolicy)
			if got.State != tt.wantState {
				t.Errorf("State = %v, want %v", got.State, tt.wantState)
			}
			if got.Attempt != tt.wantAttempt {
				t.Errorf("Attempt = %d, want %d", got.Attempt, tt.wantAttempt)
			}
			if tt.wantEffects == nil {
				return
			}
			if len(effects) != len(tt.wantEffects) {
				t.Fatalf("effects = %v, want %v", effects, tt.wantEffects)
			}
			for i, kind := range tt.wantEffects {
				if effects[i].Kind != kind {
					t.Errorf("effects[%d] = %v, want %v", i, effects[i].Kind, kind)
				}
			}
		})
	}
}

func TestTransition_AuthRejection(t *testing.T) {
	tests := []struct {
		name  string
		from  Machine
		event Event
	}{
		{"close 4001", Machine{State: StateConnected}, Event{Kind: EventClose, Code: CloseUnauthorized, Reason: "token expired"}},
		{"close 4003", Machine{State: StateConnecting}, Event{Kind: EventClose, Code: CloseForbidden}},
		{"handshake 401", Machine{State: StateConnecting}, Event{Kind: EventError, Err: ErrAuthRejected}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, effects := Transition(tt.from, tt.event, testPolicy)
			if got.State != StateFailed {
				t.Fatalf("State = %v, want failed", got.State)
			}
			if !got.Auth {
				t.Error("Auth = false, want true")
			}
			if hasEffect(effects, EffectScheduleRetry) {
				t.Error("auth failure scheduled a retry")
			}
		})
	}
}

func TestTransition_ConsecutiveFailures(t *testing.T) {
	m := Machine{State: StateConnected}
	var lastDelay time.Duration

	for i := 1; i < testPolicy.MaxAttempts; i++ {
		var effects []Effect
		m, effects = Transition(m, Event{Kind: EventClose, Code: CloseAbnormal, Reason: "blip"}, testPolicy)
		if m.State != StateReconnecting || m.Attempt != i {
			t.Fatalf("failure %d: got %v attempt %d", i, m.State, m.Attempt)
		}
		if m.Delay < lastDelay {
			t.Errorf("failure %d: delay %v shrank from %v", i, m.Delay, lastDelay)
		}
		lastDelay = m.Delay
		if !hasEffect(effects, EffectScheduleRetry) {
			t.Fatalf("failure %d: no retry scheduled", i)
		}

		m, _ = Transition(m, Event{Kind: EventRetryElapsed}, testPolicy)
		if m.State != StateConnecting {
			t.Fatalf("retry %d: got %v", i, m.State)
		}
	}

	m, effects := Transition(m, Event{Kind: EventError, Err: errors.New("refused")}, testPolicy)
	if m.State != StateFailed {
		t.Fatalf("final failure: got %v, want failed", m.State)
	}
	if m.Reason != "refused" {
		t.Errorf("Reason = %q, want refused", m.Reason)
	}
	if hasEffect(effects, EffectScheduleRetry) || hasEffect(effects, EffectDial) {
		t.Error("failed state issued a further attempt")
	}
}

func TestTransition_StrictlyIncreasingDelay(t *testing.T) {
	p := DefaultPolicy()
	m := Machine{State: StateConnected}

	var delays []time.Duration
	for i := 0; i < 3; i++ {
		m, _ = Transition(m, Event{Kind: EventClose, Code: CloseAbnormal}, p)
		delays = append(delays, m.Delay)
		if m.Attempt != i+1 {
			t.Errorf("Attempt = %d, want %d", m.Attempt, i+1)
		}
		m, _ = Transition(m, Event{Kind: EventRetryElapsed}, p)
	}

	for i := 1; i < len(delays); i++ {
		if delays[i] <= delays[i-1] {
			t.Errorf("delays = %v, want strictly increasing", delays)
		}
	}
}

func TestIntentionalClose(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{CloseNormal, true},
		{CloseGoingAway, true},
		{CloseNoStatus, false},
		{CloseAbnormal, false},
		{CloseUnauthorized, false},
		{4500, false},
	}

	for _, tt := range tests {
		if got := IntentionalClose(tt.code); got != tt.want {
			t.Errorf("IntentionalClose(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{Status{State: StateConnected}, "connected"},
		{Status{State: StateReconnecting, Attempt: 2, Delay: 4 * time.Second}, "reconnecting(2, 4s)"},
		{Status{State: StateFailed, Reason: "refused"}, "failed(refused)"},
		{Status{State: StateFailed, Reason: "token expired", Auth: true}, "failed(auth: token expired)"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
