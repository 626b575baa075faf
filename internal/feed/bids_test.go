package feed

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rickgao/bidsync/internal/connection"
	"github.com/rickgao/bidsync/internal/metrics"
	"github.com/rickgao/bidsync/internal/model"
	"github.com/rickgao/bidsync/internal/reconcile"
	"github.com/rickgao/bidsync/internal/wire"
)

var me = model.Actor{ID: "me", Username: "me"}

func newBidFeed(t *testing.T, ch *fakeChannel, api *fakeAPI, mutate func(*BidConfig)) *BidFeed {
	t.Helper()
	cfg := BidConfig{
		AuctionID:  "42",
		Self:       me,
		Channel:    ch,
		API:        api,
		Reconciler: reconcile.Default,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f, err := NewBidFeed(cfg, nil)
	if err != nil {
		t.Fatalf("NewBidFeed() error = %v", err)
	}
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(f.Stop)
	return f
}

func TestBidFeed_PushBeforeLocalAction(t *testing.T) {
	ch := newFakeChannel(true)
	archive := &recordingArchiver{}
	f := newBidFeed(t, ch, &fakeAPI{}, func(c *BidConfig) { c.Archiver = archive })

	ch.deliver(t, f.Topic(), `{"type":"bid_update","bid":{"id":1,"amount":1000,"bidder":{"id":5},"created_at":"2024-05-01T10:00:00Z"}}`)

	got := f.Entries()
	if len(got) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(got))
	}
	if got[0].Provisional || got[0].ID != "1" || got[0].Payload.Amount != 100000 {
		t.Errorf("entry = %+v", got[0])
	}
	if f.CurrentPrice() != 100000 {
		t.Errorf("CurrentPrice() = %v, want 1000.00", f.CurrentPrice())
	}

	// Redelivery after a reconnect changes nothing.
	ch.deliver(t, f.Topic(), `{"type":"bid_update","bid":{"id":1,"amount":1000,"bidder":{"id":5},"created_at":"2024-05-01T10:00:00Z"}}`)
	if len(f.Entries()) != 1 {
		t.Errorf("len(entries) after redelivery = %d, want 1", len(f.Entries()))
	}
	if archive.entryCount() != 1 {
		t.Errorf("archived %d entries, want 1", archive.entryCount())
	}
}

func TestBidFeed_ChannelConfirmation(t *testing.T) {
	ch := newFakeChannel(true)
	api := &fakeAPI{}
	f := newBidFeed(t, ch, api, nil)

	pending, err := f.PlaceBid(context.Background(), 120000)
	if err != nil {
		t.Fatalf("PlaceBid() error = %v", err)
	}
	if !pending.Provisional || pending.Token == "" {
		t.Fatalf("PlaceBid() = %+v, want provisional with token", pending)
	}
	if len(f.Pending()) != 1 {
		t.Fatalf("len(Pending()) = %d, want 1", len(f.Pending()))
	}

	sent := ch.sentFrames()
	if len(sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(sent))
	}
	bid, ok := sent[0].(wire.PlaceBid)
	if !ok || bid.Amount != 120000 || bid.Token != pending.Token {
		t.Errorf("sent frame = %#v", sent[0])
	}

	ch.deliver(t, f.Topic(), `{"type":"bid_update","bid":{"id":77,"amount":1200,"bidder":{"id":"me"},"created_at":"2024-05-01T10:00:00Z"},"correlation_token":"`+pending.Token+`"}`)

	got := f.Entries()
	if len(got) != 1 {
		t.Fatalf("len(entries) = %d, want 1: %+v", len(got), got)
	}
	if got[0].Provisional || got[0].ID != "77" || got[0].Payload.Amount != 120000 {
		t.Errorf("entry = %+v", got[0])
	}
	if _, posts := api.counts(); posts != 0 {
		t.Errorf("HTTP posts = %d, want 0", posts)
	}
}

func TestBidFeed_HTTPFallback(t *testing.T) {
	ch := newFakeChannel(false)
	api := &fakeAPI{}
	reg := prometheus.NewRegistry()
	f := newBidFeed(t, ch, api, func(c *BidConfig) { c.Metrics = metrics.New(reg) })

	entry, err := f.PlaceBid(context.Background(), 150000)
	if err != nil {
		t.Fatalf("PlaceBid() error = %v", err)
	}
	if entry.Provisional || entry.ID == "" {
		t.Errorf("PlaceBid() = %+v, want confirmed entry", entry)
	}
	if _, posts := api.counts(); posts != 1 {
		t.Errorf("HTTP posts = %d, want 1", posts)
	}
	if got := f.Entries(); len(got) != 1 || got[0].Provisional {
		t.Errorf("entries = %+v", got)
	}
	if f.CurrentPrice() != 150000 {
		t.Errorf("CurrentPrice() = %v", f.CurrentPrice())
	}

	// The server pushes the same bid once the channel is back.
	ch.deliver(t, f.Topic(), `{"type":"bid_update","bid":{"id":"`+string(entry.ID)+`","amount":1500,"bidder":{"id":"me"}}}`)
	if got := f.Entries(); len(got) != 1 {
		t.Errorf("len(entries) = %d, want 1", len(got))
	}

	want := `
# HELP bidsync_send_fallbacks_total Outbound actions issued over HTTP because the channel was down.
# TYPE bidsync_send_fallbacks_total counter
bidsync_send_fallbacks_total{topic="auction:42"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "bidsync_send_fallbacks_total"); err != nil {
		t.Error(err)
	}
}

func TestBidFeed_FallbackFailureStaysPending(t *testing.T) {
	ch := newFakeChannel(false)
	api := &fakeAPI{postErr: errBoom}
	f := newBidFeed(t, ch, api, nil)

	entry, err := f.PlaceBid(context.Background(), 100)
	if !errors.Is(err, errBoom) {
		t.Fatalf("PlaceBid() error = %v, want errBoom", err)
	}
	if !entry.Provisional {
		t.Errorf("entry = %+v, want provisional", entry)
	}
	if len(f.Pending()) != 1 {
		t.Errorf("len(Pending()) = %d, want 1", len(f.Pending()))
	}
}

func TestBidFeed_DoubleSubmitKeepsBoth(t *testing.T) {
	ch := newFakeChannel(true)
	f := newBidFeed(t, ch, &fakeAPI{}, nil)

	f.PlaceBid(context.Background(), 5000)
	f.PlaceBid(context.Background(), 5000)
	if len(f.Pending()) != 2 {
		t.Errorf("len(Pending()) = %d, want 2", len(f.Pending()))
	}
}

func TestBidFeed_HistoryAndPrice(t *testing.T) {
	ch := newFakeChannel(true)
	api := &fakeAPI{history: []model.Entry{
		model.NewConfirmed("1", "", model.Payload{Amount: 100000, Actor: model.Actor{ID: "a"}}, time.Unix(100, 0)),
		model.NewConfirmed("2", "", model.Payload{Amount: 110000, Actor: model.Actor{ID: "b"}}, time.Unix(200, 0)),
	}}

	var mu sync.Mutex
	var last BidSnapshot
	f := newBidFeed(t, ch, api, func(c *BidConfig) {
		c.OnChange = func(s BidSnapshot) {
			mu.Lock()
			last = s
			mu.Unlock()
		}
	})

	got := f.Entries()
	if len(got) != 2 || got[0].ID != "2" {
		t.Fatalf("entries = %+v, want highest first", got)
	}
	if f.CurrentPrice() != 110000 {
		t.Errorf("CurrentPrice() = %v, want 1100.00", f.CurrentPrice())
	}

	ch.deliver(t, f.Topic(), `{"type":"auction_state","current_price":"1250.00"}`)
	if f.CurrentPrice() != 125000 {
		t.Errorf("CurrentPrice() = %v, want 1250.00", f.CurrentPrice())
	}

	mu.Lock()
	defer mu.Unlock()
	if last.CurrentPrice != 125000 || len(last.Entries) != 2 || last.AuctionID != "42" {
		t.Errorf("last snapshot = %+v", last)
	}
}

func TestBidFeed_ResyncAfterReconnect(t *testing.T) {
	ch := newFakeChannel(true)
	api := &fakeAPI{}
	f := newBidFeed(t, ch, api, nil)

	ch.setStatus(f.Topic(), connection.StateConnected)
	if fetches, _ := api.counts(); fetches != 1 {
		t.Fatalf("fetches after first connect = %d, want 1", fetches)
	}

	ch.setStatus(f.Topic(), connection.StateReconnecting)
	if f.Connected() {
		t.Error("Connected() = true while reconnecting")
	}
	ch.setStatus(f.Topic(), connection.StateConnected)
	eventually(t, func() bool {
		fetches, _ := api.counts()
		return fetches == 2
	})
}

func TestBidFeed_ServerError(t *testing.T) {
	ch := newFakeChannel(true)
	errs := make(chan error, 1)
	f := newBidFeed(t, ch, &fakeAPI{}, func(c *BidConfig) {
		c.OnError = func(err error) { errs <- err }
	})

	ch.deliver(t, f.Topic(), `{"type":"error","message":"bid too low"}`)
	select {
	case err := <-errs:
		if !errors.Is(err, ErrServer) || !strings.Contains(err.Error(), "bid too low") {
			t.Errorf("error = %v", err)
		}
	default:
		t.Fatal("OnError not called")
	}
}

func TestBidFeed_Lifecycle(t *testing.T) {
	ch := newFakeChannel(true)
	api := &fakeAPI{fetchErr: errBoom}

	if _, err := NewBidFeed(BidConfig{Channel: ch, API: api}, nil); err == nil {
		t.Error("NewBidFeed() without auction id succeeded")
	}

	f, err := NewBidFeed(BidConfig{AuctionID: "42", Channel: ch, API: api}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.PlaceBid(context.Background(), 100); !errors.Is(err, ErrNotStarted) {
		t.Errorf("PlaceBid() before Start error = %v, want ErrNotStarted", err)
	}

	// A failed history load does not fail Start.
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := f.PlaceBid(context.Background(), 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("PlaceBid(0) error = %v, want ErrInvalidAmount", err)
	}

	f.Stop()
	f.Stop()
	if len(ch.unsubbed) != 1 {
		t.Errorf("unsubscribed %d times, want 1", len(ch.unsubbed))
	}
	if _, err := f.PlaceBid(context.Background(), 100); !errors.Is(err, ErrStopped) {
		t.Errorf("PlaceBid() after Stop error = %v, want ErrStopped", err)
	}
}

func TestBidFeed_SubscribeError(t *testing.T) {
	ch := newFakeChannel(true)
	ch.subscribe = errBoom
	f, _ := NewBidFeed(BidConfig{AuctionID: "42", Channel: ch, API: &fakeAPI{}}, nil)
	if err := f.Start(context.Background()); !errors.Is(err, errBoom) {
		t.Errorf("Start() error = %v, want errBoom", err)
	}
}
