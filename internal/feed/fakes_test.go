package feed

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/bidsync/internal/connection"
	"github.com/rickgao/bidsync/internal/model"
	"github.com/rickgao/bidsync/internal/registry"
	"github.com/rickgao/bidsync/internal/wire"
)

// fakeChannel stands in for the registry. Frames are delivered
// synchronously on the test goroutine.
type fakeChannel struct {
	mu        sync.Mutex
	open      bool
	handlers  map[model.Topic]registry.MessageFunc
	statuses  map[model.Topic]registry.StatusFunc
	sent      []wire.Outbound
	unsubbed  []model.Topic
	subscribe error
}

func newFakeChannel(open bool) *fakeChannel {
	return &fakeChannel{
		open:     open,
		handlers: make(map[model.Topic]registry.MessageFunc),
		statuses: make(map[model.Topic]registry.StatusFunc),
	}
}

func (c *fakeChannel) Subscribe(topic model.Topic, onMessage registry.MessageFunc, onStatus registry.StatusFunc) (registry.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribe != nil {
		return registry.Subscription{}, c.subscribe
	}
	c.handlers[topic] = onMessage
	c.statuses[topic] = onStatus
	return registry.Subscription{}, nil
}

func (c *fakeChannel) Unsubscribe(sub registry.Subscription) {
	c.mu.Lock()
	c.unsubbed = append(c.unsubbed, sub.Topic())
	c.mu.Unlock()
}

func (c *fakeChannel) Send(topic model.Topic, payload wire.Outbound) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return false
	}
	c.sent = append(c.sent, payload)
	return true
}

func (c *fakeChannel) deliver(t *testing.T, topic model.Topic, frame string) {
	t.Helper()
	msg, err := wire.Decode([]byte(frame))
	if err != nil {
		t.Fatalf("Decode(%s) error = %v", frame, err)
	}
	c.mu.Lock()
	h := c.handlers[topic]
	c.mu.Unlock()
	if h == nil {
		t.Fatalf("no subscriber for %s", topic)
	}
	h(msg)
}

func (c *fakeChannel) setStatus(topic model.Topic, state connection.State) {
	c.mu.Lock()
	h := c.statuses[topic]
	c.mu.Unlock()
	if h != nil {
		h(connection.Status{Topic: string(topic), State: state})
	}
}

func (c *fakeChannel) sentFrames() []wire.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wire.Outbound(nil), c.sent...)
}

// fakeAPI serves both bid and chat calls.
type fakeAPI struct {
	mu       sync.Mutex
	history  []model.Entry
	fetchErr error
	postErr  error
	fetches  int
	posts    int
	nextID   int
}

func (a *fakeAPI) FetchBids(ctx context.Context, auctionID string) ([]model.Entry, error) {
	return a.fetch()
}

func (a *fakeAPI) FetchMessages(ctx context.Context, conversationID string) ([]model.Entry, error) {
	return a.fetch()
}

func (a *fakeAPI) fetch() ([]model.Entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetches++
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	return append([]model.Entry(nil), a.history...), nil
}

func (a *fakeAPI) PlaceBid(ctx context.Context, auctionID string, amount model.Amount, token string) (model.Entry, error) {
	return a.post(model.Payload{Amount: amount, Actor: model.Actor{ID: "me"}}, token)
}

func (a *fakeAPI) PostMessage(ctx context.Context, conversationID, content, token string) (model.Entry, error) {
	return a.post(model.Payload{Content: content, Actor: model.Actor{ID: "me"}}, token)
}

func (a *fakeAPI) post(p model.Payload, token string) (model.Entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.posts++
	if a.postErr != nil {
		return model.Entry{}, a.postErr
	}
	a.nextID++
	id := model.ID("http-" + strconv.Itoa(a.nextID))
	return model.NewConfirmed(id, token, p, time.Now()), nil
}

func (a *fakeAPI) counts() (fetches, posts int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fetches, a.posts
}

// recordingArchiver collects archived entries and notifications.
type recordingArchiver struct {
	mu            sync.Mutex
	entries       []model.Entry
	notifications []model.Notification
}

func (a *recordingArchiver) ArchiveEntries(topic model.Topic, kind model.Kind, entries []model.Entry) {
	a.mu.Lock()
	a.entries = append(a.entries, entries...)
	a.mu.Unlock()
}

func (a *recordingArchiver) ArchiveNotification(n model.Notification) {
	a.mu.Lock()
	a.notifications = append(a.notifications, n)
	a.mu.Unlock()
}

func (a *recordingArchiver) entryCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

var errBoom = errors.New("boom")

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
