package connection

import (
	"sort"
	"sync"
	"testing"
	"time"
)

// fakeClock fires timers only when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward and runs due callbacks in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.f()
	}
}

// Pending returns the number of armed timers.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fakeDialer records every Open call.
type fakeDialer struct {
	mu     sync.Mutex
	conns  []*fakeConn
	opened chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{opened: make(chan *fakeConn, 100)}
}

func (d *fakeDialer) Open(rawURL string, sink Sink) Conn {
	c := &fakeConn{url: rawURL, sink: sink, alive: true}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	d.opened <- c
	return c
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.opened:
		return c
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for dial")
		return nil
	}
}

type fakeConn struct {
	url  string
	sink Sink

	mu        sync.Mutex
	open      bool
	alive     bool
	closed    bool
	closeCode int
	sent      [][]byte
}

// accept simulates a successful handshake.
func (c *fakeConn) accept() {
	c.mu.Lock()
	c.open = true
	c.mu.Unlock()
	c.sink.OnOpen()
}

func (c *fakeConn) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open || c.closed {
		return false
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return true
}

func (c *fakeConn) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
}

func (c *fakeConn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open && c.alive && !c.closed
}

func (c *fakeConn) setAlive(v bool) {
	c.mu.Lock()
	c.alive = v
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) closedWith() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

func (c *fakeConn) sentAt(i int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[i]
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// statusLog collects status callbacks.
type statusLog struct {
	ch chan Status
}

func newStatusLog() *statusLog {
	return &statusLog{ch: make(chan Status, 100)}
}

func (l *statusLog) record(s Status) { l.ch <- s }

// waitFor returns the first status with the wanted state.
func (l *statusLog) waitFor(t *testing.T, want State) Status {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case s := <-l.ch:
			if s.State == want {
				return s
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %v", want)
			return Status{}
		}
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
