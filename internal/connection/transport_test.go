package connection

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// recordingSink collects transport events.
type recordingSink struct {
	opened   chan struct{}
	messages chan []byte
	closed   chan int
	errs     chan error

	mu     sync.Mutex
	events []string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		opened:   make(chan struct{}, 1),
		messages: make(chan []byte, 100),
		closed:   make(chan int, 1),
		errs:     make(chan error, 1),
	}
}

func (s *recordingSink) log(ev string) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) OnOpen() {
	s.log("open")
	s.opened <- struct{}{}
}

func (s *recordingSink) OnMessage(data []byte) {
	s.log("message")
	s.messages <- data
}

func (s *recordingSink) OnClose(code int, _ string) {
	s.log("close")
	s.closed <- code
}

func (s *recordingSink) OnError(err error) {
	s.log("error")
	s.errs <- err
}

func (s *recordingSink) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func waitOpen(t *testing.T, s *recordingSink) {
	t.Helper()
	select {
	case <-s.opened:
	case err := <-s.errs:
		t.Fatalf("open failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for open")
	}
}

func testDialer() *WSDialer {
	cfg := DefaultDialerConfig()
	cfg.HandshakeTimeout = 2 * time.Second
	return NewWSDialer(cfg, nil)
}

func TestWSDialer_OpenSendReceive(t *testing.T) {
	received := make(chan []byte, 1)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)); err != nil {
			return
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- msg
		conn.ReadMessage()
	})
	defer server.Close()

	sink := newRecordingSink()
	conn := testDialer().Open(wsURL(server), sink)
	defer conn.Close(CloseNormal, "")

	waitOpen(t, sink)
	if !conn.Alive() {
		t.Error("Alive() = false after open")
	}

	select {
	case msg := <-sink.messages:
		if string(msg) != `{"type":"pong"}` {
			t.Errorf("message = %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}

	if !conn.Send([]byte(`{"type":"ping"}`)) {
		t.Fatal("Send() = false on open connection")
	}
	select {
	case msg := <-received:
		if string(msg) != `{"type":"ping"}` {
			t.Errorf("server received %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("server did not receive frame")
	}
}

func TestWSDialer_ServerClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(CloseUnauthorized, "token expired"),
			time.Now().Add(time.Second))
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	sink := newRecordingSink()
	conn := testDialer().Open(wsURL(server), sink)
	waitOpen(t, sink)

	select {
	case code := <-sink.closed:
		if code != CloseUnauthorized {
			t.Errorf("close code = %d, want %d", code, CloseUnauthorized)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for close")
	}

	if conn.Alive() {
		t.Error("Alive() = true after close")
	}
	if conn.Send([]byte("x")) {
		t.Error("Send() = true after close")
	}
}

func TestWSDialer_AbruptDisconnect(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.UnderlyingConn().Close()
	})
	defer server.Close()

	sink := newRecordingSink()
	testDialer().Open(wsURL(server), sink)
	waitOpen(t, sink)

	select {
	case code := <-sink.closed:
		if code != CloseAbnormal {
			t.Errorf("close code = %d, want %d", code, CloseAbnormal)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for close")
	}
}

func TestWSDialer_HandshakeRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer server.Close()

	sink := newRecordingSink()
	testDialer().Open(wsURL(server), sink)

	select {
	case err := <-sink.errs:
		if !errors.Is(err, ErrAuthRejected) {
			t.Errorf("error = %v, want ErrAuthRejected", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error")
	}
}

func TestWSDialer_InvalidURL(t *testing.T) {
	tests := []string{
		"http://example.com/ws/",
		"://nope",
		"ws:///missing-host",
	}

	for _, raw := range tests {
		sink := newRecordingSink()
		conn := testDialer().Open(raw, sink)

		select {
		case err := <-sink.errs:
			if !errors.Is(err, ErrInvalidURL) {
				t.Errorf("Open(%q) error = %v, want ErrInvalidURL", raw, err)
			}
		case <-time.After(time.Second):
			t.Fatalf("Open(%q): no error reported", raw)
		}
		if conn.Send([]byte("x")) {
			t.Errorf("Open(%q): Send() = true", raw)
		}
	}
}

func TestWSDialer_NoEventsAfterLocalClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	sink := newRecordingSink()
	conn := testDialer().Open(wsURL(server), sink)
	waitOpen(t, sink)

	conn.Close(CloseNormal, "done")
	conn.Close(CloseNormal, "again")
	time.Sleep(100 * time.Millisecond)

	if got := sink.eventCount(); got != 1 {
		t.Errorf("events = %d, want only open", got)
	}
	if conn.Alive() {
		t.Error("Alive() = true after Close")
	}
}

func TestWSDialer_CloseWhileDialing(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	sink := newRecordingSink()
	conn := testDialer().Open(wsURL(server), sink)
	time.Sleep(20 * time.Millisecond)
	conn.Close(CloseNormal, "")
	time.Sleep(50 * time.Millisecond)

	if got := sink.eventCount(); got != 0 {
		t.Errorf("events = %d, want 0", got)
	}
}

func TestWSDialer_StaleAfter(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
	})
	defer server.Close()

	cfg := DefaultDialerConfig()
	cfg.StaleAfter = 30 * time.Millisecond
	sink := newRecordingSink()
	conn := NewWSDialer(cfg, nil).Open(wsURL(server), sink)
	defer conn.Close(CloseNormal, "")
	waitOpen(t, sink)

	if !conn.Alive() {
		t.Fatal("Alive() = false right after open")
	}
	time.Sleep(60 * time.Millisecond)
	if conn.Alive() {
		t.Error("Alive() = true after StaleAfter without traffic")
	}
}

func TestRedact(t *testing.T) {
	got := redact("wss://bids.example.com/ws/auction/1/?token=secret")
	if strings.Contains(got, "secret") {
		t.Errorf("redact() = %q leaks token", got)
	}
}
