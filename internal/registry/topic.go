package registry

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/rickgao/bidsync/internal/connection"
	"github.com/rickgao/bidsync/internal/metrics"
	"github.com/rickgao/bidsync/internal/model"
	"github.com/rickgao/bidsync/internal/wire"
)

type subscriber struct {
	id        uint64
	onMessage MessageFunc
	onStatus  StatusFunc
	ready     bool // Set once the current status has been replayed
}

// topicState is one live topic. Fanout runs on the supervisor's event loop;
// mu guards subs against concurrent Subscribe and Unsubscribe.
type topicState struct {
	topic   model.Topic
	sup     *connection.Supervisor
	logger  *slog.Logger
	metrics *metrics.Recorder

	mu   sync.Mutex
	subs map[uint64]*subscriber
}

func (ts *topicState) add(s *subscriber) {
	ts.mu.Lock()
	ts.subs[s.id] = s
	ts.mu.Unlock()
}

func (ts *topicState) remove(id uint64) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if _, ok := ts.subs[id]; !ok {
		return false
	}
	delete(ts.subs, id)
	return true
}

func (ts *topicState) empty() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.subs) == 0
}

// ready returns the subscribers that have seen the current status.
func (ts *topicState) ready() []*subscriber {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]*subscriber, 0, len(ts.subs))
	for _, s := range ts.subs {
		if s.ready {
			out = append(out, s)
		}
	}
	return out
}

// replay delivers the current status to a new subscriber. Runs on the loop,
// so no status change can slip in between.
func (ts *topicState) replay(id uint64) {
	ts.mu.Lock()
	s, ok := ts.subs[id]
	if ok {
		s.ready = true
	}
	ts.mu.Unlock()

	if ok && s.onStatus != nil {
		s.onStatus(ts.sup.Status())
	}
}

// dispatch decodes one frame and fans it out.
func (ts *topicState) dispatch(data []byte) {
	msg, err := wire.Decode(data)
	if err != nil {
		ts.metrics.Malformed(string(ts.topic))
		if errors.Is(err, wire.ErrUnknownType) {
			ts.logger.Debug("ignoring unknown frame", "error", err)
		} else {
			ts.logger.Warn("dropping malformed frame", "error", err, "size", len(data))
		}
		return
	}
	ts.metrics.MessageReceived(string(ts.topic))

	switch msg.(type) {
	case wire.Ping, wire.Pong:
		return
	}

	for _, s := range ts.ready() {
		if s.onMessage != nil {
			s.onMessage(msg)
		}
	}
}

// publish fans out a status change.
func (ts *topicState) publish(st connection.Status) {
	ts.metrics.ObserveStatus(st)
	if st.State == connection.StateFailed {
		ts.logger.Warn("topic failed", "reason", st.Reason, "auth", st.Auth, "attempts", st.Attempt)
	}

	for _, s := range ts.ready() {
		if s.onStatus != nil {
			s.onStatus(st)
		}
	}
}
