package connection

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. Tests substitute a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	Topic  string
	Policy Policy
	Dialer Dialer

	// Target returns the URL for the next attempt. It is called on every
	// attempt so a rotated credential is always honored.
	Target func() (string, error)

	// Probe is the keepalive payload sent every Policy.PingInterval.
	Probe []byte

	// Clock defaults to the wall clock.
	Clock Clock

	// OnMessage receives every inbound frame, on the event loop.
	OnMessage func(data []byte)

	// OnStatus receives every status change, on the event loop.
	OnStatus func(Status)
}

// Supervisor keeps one topic's connection alive. All state transitions run
// on a single event-loop goroutine; callbacks are invoked from that
// goroutine and may call back into the Supervisor.
type Supervisor struct {
	cfg    SupervisorConfig
	clock  Clock
	logger *slog.Logger

	inbox   *inbox[func()]
	runOnce sync.Once
	done    chan struct{}
	stopped atomic.Bool

	// Loop-owned
	m         Machine
	conn      Conn
	gen       uint64 // Bumped per dial and per close; stale transport events are dropped
	retry     timerSlot
	timeout   timerSlot
	keepalive timerSlot

	// Shared with Send and Status
	mu     sync.Mutex
	live   Conn
	status Status
}

type timerSlot struct {
	t   Timer
	gen uint64
}

// NewSupervisor creates a supervisor in the disconnected state. Call Start
// to connect and Stop to release it.
func NewSupervisor(cfg SupervisorConfig, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}
	if cfg.Policy == (Policy{}) {
		cfg.Policy = DefaultPolicy()
	}

	return &Supervisor{
		cfg:    cfg,
		clock:  clock,
		logger: logger.With("topic", cfg.Topic),
		inbox:  newInbox[func()](16),
		done:   make(chan struct{}),
		status: Status{Topic: cfg.Topic, State: StateDisconnected},
	}
}

// Start begins connecting.
func (s *Supervisor) Start() {
	s.run()
	s.dispatch(Event{Kind: EventStart})
}

// Reconnect resets the attempt counter and connects immediately.
func (s *Supervisor) Reconnect() {
	s.dispatch(Event{Kind: EventReconnect})
}

// Disconnect closes with a normal code and stops retrying.
func (s *Supervisor) Disconnect() {
	s.dispatch(Event{Kind: EventDisconnect})
}

// CredentialRotated forces a fresh attempt with the new credential without
// touching the attempt counter.
func (s *Supervisor) CredentialRotated() {
	s.dispatch(Event{Kind: EventCredentialRotated})
}

// Do runs fn on the event loop after all previously queued events. Returns
// false if the supervisor is stopped.
func (s *Supervisor) Do(fn func()) bool {
	if s.stopped.Load() {
		return false
	}
	return s.inbox.push(fn)
}

// Send writes payload on the open connection. Returns false when the topic
// is not connected or the write fails.
func (s *Supervisor) Send(payload []byte) bool {
	s.mu.Lock()
	conn := s.live
	s.mu.Unlock()
	if conn == nil {
		return false
	}
	return conn.Send(payload)
}

// Status returns the current status.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Stop tears the topic down: pending timers are cancelled, the connection
// is closed and no further callbacks are delivered. Safe to call from a
// callback and more than once.
func (s *Supervisor) Stop() {
	if s.stopped.Swap(true) {
		return
	}
	s.inbox.push(s.teardown)
	s.inbox.close()
	s.run()
}

// Done is closed when the event loop has exited after Stop.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

func (s *Supervisor) run() {
	s.runOnce.Do(func() { go s.loop() })
}

func (s *Supervisor) loop() {
	defer close(s.done)
	for {
		fn, ok := s.inbox.pop()
		if !ok {
			return
		}
		fn()
	}
}

func (s *Supervisor) dispatch(ev Event) {
	s.Do(func() { s.handle(ev) })
}

// dispatchFor queues a transport event that is dropped unless gen still
// identifies the current connection.
func (s *Supervisor) dispatchFor(gen uint64, ev Event) {
	s.Do(func() {
		if gen != s.gen {
			return
		}
		s.handle(ev)
	})
}

func (s *Supervisor) handle(ev Event) {
	if s.stopped.Load() {
		return
	}
	if ev.Kind == EventKeepalive {
		ev.Alive = s.conn != nil && s.conn.Alive()
	}

	prev := s.m.State
	next, effects := Transition(s.m, ev, s.cfg.Policy)
	s.m = next

	if prev != next.State {
		s.logger.Debug("connection state changed",
			"from", prev,
			"to", next.State,
			"attempt", next.Attempt,
			"reason", next.Reason,
		)
	}

	for _, eff := range effects {
		s.apply(eff)
	}

	s.mu.Lock()
	if next.State == StateConnected {
		s.live = s.conn
	} else {
		s.live = nil
	}
	s.mu.Unlock()

	for _, eff := range effects {
		if eff.Kind == EffectNotify {
			s.notify()
		}
	}
}

func (s *Supervisor) apply(eff Effect) {
	switch eff.Kind {
	case EffectDial:
		s.dial()
	case EffectCloseConn:
		s.closeConn(eff.Code, eff.Reason)
	case EffectScheduleRetry:
		s.arm(&s.retry, eff.Delay, EventRetryElapsed)
	case EffectCancelRetry:
		s.disarm(&s.retry)
	case EffectArmConnectTimeout:
		if s.cfg.Policy.ConnectTimeout > 0 {
			s.arm(&s.timeout, s.cfg.Policy.ConnectTimeout, EventConnectTimeout)
		}
	case EffectDisarmConnectTimeout:
		s.disarm(&s.timeout)
	case EffectStartKeepalive:
		s.armKeepalive()
	case EffectStopKeepalive:
		s.disarm(&s.keepalive)
	case EffectSendPing:
		s.armKeepalive()
		if len(s.cfg.Probe) > 0 && s.conn != nil && !s.conn.Send(s.cfg.Probe) {
			s.logger.Debug("keepalive probe not sent")
		}
	case EffectNotify:
		// Delivered after the live connection is published.
	}
}

func (s *Supervisor) dial() {
	s.gen++
	gen := s.gen

	target, err := s.cfg.Target()
	if err != nil {
		s.logger.Warn("cannot build connection target", "error", err)
		s.dispatchFor(gen, Event{Kind: EventError, Err: err})
		return
	}
	s.conn = s.cfg.Dialer.Open(target, &connSink{s: s, gen: gen})
}

func (s *Supervisor) closeConn(code int, reason string) {
	if s.conn == nil {
		return
	}
	conn := s.conn
	s.conn = nil
	s.gen++
	conn.Close(code, reason)
}

func (s *Supervisor) armKeepalive() {
	if s.cfg.Policy.PingInterval > 0 {
		s.arm(&s.keepalive, s.cfg.Policy.PingInterval, EventKeepalive)
	}
}

func (s *Supervisor) arm(slot *timerSlot, d time.Duration, kind EventKind) {
	s.disarm(slot)
	gen := slot.gen
	slot.t = s.clock.AfterFunc(d, func() {
		s.Do(func() {
			if slot.gen != gen {
				return
			}
			slot.t = nil
			s.handle(Event{Kind: kind})
		})
	})
}

func (s *Supervisor) disarm(slot *timerSlot) {
	slot.gen++
	if slot.t != nil {
		slot.t.Stop()
		slot.t = nil
	}
}

func (s *Supervisor) notify() {
	st := s.m.Status(s.cfg.Topic)

	s.mu.Lock()
	s.status = st
	s.mu.Unlock()

	if s.cfg.OnStatus != nil && !s.stopped.Load() {
		s.cfg.OnStatus(st)
	}
}

// teardown runs as the last item on the loop after Stop.
func (s *Supervisor) teardown() {
	s.disarm(&s.retry)
	s.disarm(&s.timeout)
	s.disarm(&s.keepalive)
	s.closeConn(CloseNormal, "unsubscribed")

	s.mu.Lock()
	s.live = nil
	s.status = Status{Topic: s.cfg.Topic, State: StateDisconnected}
	s.mu.Unlock()

	s.m = Machine{}
	s.logger.Debug("supervisor stopped")
}

// connSink forwards one connection's events to the event loop.
type connSink struct {
	s   *Supervisor
	gen uint64
}

func (c *connSink) OnOpen() {
	c.s.dispatchFor(c.gen, Event{Kind: EventOpen})
}

func (c *connSink) OnMessage(data []byte) {
	c.s.Do(func() {
		if c.gen != c.s.gen || c.s.stopped.Load() {
			return
		}
		if c.s.cfg.OnMessage != nil {
			c.s.cfg.OnMessage(data)
		}
	})
}

func (c *connSink) OnClose(code int, reason string) {
	c.s.dispatchFor(c.gen, Event{Kind: EventClose, Code: code, Reason: reason})
}

func (c *connSink) OnError(err error) {
	c.s.dispatchFor(c.gen, Event{Kind: EventError, Err: err})
}
