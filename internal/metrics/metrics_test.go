package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rickgao/bidsync/internal/connection"
)

func TestRecorder_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.ObserveStatus(connection.Status{Topic: "auction:1", State: connection.StateConnected})
	if got := testutil.ToFloat64(r.connectionState.WithLabelValues("auction:1")); got != 2 {
		t.Errorf("connection_state = %v, want 2", got)
	}

	r.ObserveStatus(connection.Status{Topic: "auction:1", State: connection.StateReconnecting, Attempt: 1})
	r.ObserveStatus(connection.Status{Topic: "auction:1", State: connection.StateReconnecting, Attempt: 2})
	if got := testutil.ToFloat64(r.reconnectAttempts.WithLabelValues("auction:1")); got != 2 {
		t.Errorf("reconnect_attempts_total = %v, want 2", got)
	}

	r.MessageReceived("auction:1")
	r.Malformed("auction:1")
	r.SendFallback("auction:1")
	r.NotificationSuppressed()
	r.NotificationSurfaced("outbid")
	r.NotificationSurfaced("outbid")

	if got := testutil.ToFloat64(r.messagesReceived.WithLabelValues("auction:1")); got != 1 {
		t.Errorf("messages_received_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.suppressed); got != 1 {
		t.Errorf("notifications_suppressed_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.surfaced.WithLabelValues("outbid")); got != 2 {
		t.Errorf("notifications_surfaced_total = %v, want 2", got)
	}

	r.ForgetTopic("auction:1")
	if got := testutil.CollectAndCount(r.connectionState); got != 0 {
		t.Errorf("connection_state series after ForgetTopic = %d, want 0", got)
	}
}

func TestRecorder_Nil(t *testing.T) {
	var r *Recorder
	r.ObserveStatus(connection.Status{Topic: "x"})
	r.ForgetTopic("x")
	r.MessageReceived("x")
	r.Malformed("x")
	r.SendFallback("x")
	r.NotificationSuppressed()
	r.NotificationSurfaced("outbid")
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)
	r.SendFallback("chat:3")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), `bidsync_send_fallbacks_total{topic="chat:3"} 1`) {
		t.Errorf("metrics output missing counter:\n%s", rec.Body.String())
	}
}
