package feed

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/bidsync/internal/connection"
	"github.com/rickgao/bidsync/internal/metrics"
	"github.com/rickgao/bidsync/internal/model"
	"github.com/rickgao/bidsync/internal/reconcile"
	"github.com/rickgao/bidsync/internal/registry"
	"github.com/rickgao/bidsync/internal/wire"
)

const defaultResyncTimeout = 10 * time.Second

// stream is the shared core of a list feed: one topic, one reconciled list.
type stream struct {
	topic         model.Topic
	kind          model.Kind
	channel       Channel
	reconciler    reconcile.Reconciler
	archiver      Archiver
	metrics       *metrics.Recorder
	logger        *slog.Logger
	resyncTimeout time.Duration

	fetch     func(ctx context.Context) ([]model.Entry, error)
	onMessage func(wire.Inbound)
	onChange  func()
	onStatus  func(connection.Status)

	loads singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	entries   []model.Entry
	status    connection.Status
	connected bool // Reached connected at least once
	sub       registry.Subscription
	started   bool
	stopped   bool
}

func (s *stream) start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Unlock()

	sub, err := s.channel.Subscribe(s.topic, s.onMessage, s.statusChanged)
	if err != nil {
		s.cancel()
		return fmt.Errorf("subscribe %s: %w", s.topic, err)
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	// Pushes that race the initial load are merged idempotently.
	if err := s.load(ctx); err != nil {
		s.logger.Warn("initial load failed", "error", err)
	}

	s.logger.Info("feed started", "entries", len(s.Entries()))
	return nil
}

func (s *stream) stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.stopped = true
		s.mu.Unlock()
		return
	}
	s.stopped = true
	sub := s.sub
	s.mu.Unlock()

	s.channel.Unsubscribe(sub)
	s.cancel()
	s.wg.Wait()
	s.logger.Info("feed stopped")
}

// load fetches the history over HTTP. Concurrent loads share one request.
func (s *stream) load(ctx context.Context) error {
	_, err, _ := s.loads.Do("history", func() (any, error) {
		entries, err := s.fetch(ctx)
		if err != nil {
			return nil, err
		}
		s.merge(entries...)
		return nil, nil
	})
	return err
}

// merge reconciles incoming into the held list and replaces it.
func (s *stream) merge(incoming ...model.Entry) {
	if len(incoming) == 0 {
		return
	}

	s.mu.Lock()
	before := confirmedIDs(s.entries)
	s.entries = s.reconciler.Reconcile(s.entries, incoming, s.kind)
	fresh := newlyConfirmed(before, s.entries)
	s.mu.Unlock()

	if len(fresh) > 0 && s.archiver != nil {
		s.archiver.ArchiveEntries(s.topic, s.kind, fresh)
	}
	s.changed()
}

func (s *stream) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}

// submit inserts a provisional entry and delivers frame on the channel. When
// no connection is open, post carries the action over HTTP instead. A failed
// post leaves the entry pending.
func (s *stream) submit(ctx context.Context, pending model.Entry, frame wire.Outbound, post func(context.Context) (model.Entry, error)) (model.Entry, error) {
	s.mu.Lock()
	started, stopped := s.started, s.stopped
	s.mu.Unlock()
	switch {
	case stopped:
		return model.Entry{}, ErrStopped
	case !started:
		return model.Entry{}, ErrNotStarted
	}

	s.merge(pending)
	if s.channel.Send(s.topic, frame) {
		s.logger.Debug("sent on channel", "type", frame.FrameType(), "token", pending.Token)
		return pending, nil
	}

	s.metrics.SendFallback(string(s.topic))
	s.logger.Info("channel unavailable, sending over HTTP", "type", frame.FrameType(), "token", pending.Token)

	confirmed, err := post(ctx)
	if err != nil {
		s.logger.Warn("HTTP send failed, entry stays pending", "token", pending.Token, "error", err)
		return pending, err
	}
	s.merge(confirmed)
	return confirmed, nil
}

// statusChanged records the topic status. A reconnect after an outage
// triggers a background resync to pick up entries pushed while offline.
func (s *stream) statusChanged(st connection.Status) {
	s.mu.Lock()
	s.status = st
	resync := false
	if st.State == connection.StateConnected {
		resync = s.connected && !s.stopped
		s.connected = true
	}
	if resync {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	if s.onStatus != nil {
		s.onStatus(st)
	}
	if resync {
		go func() {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(s.ctx, s.resyncTimeout)
			defer cancel()
			if err := s.load(ctx); err != nil {
				s.logger.Warn("resync after reconnect failed", "error", err)
			}
		}()
	}
}

func (s *stream) serverError(msg string) error {
	s.logger.Warn("server reported error", "message", msg)
	return fmt.Errorf("%w: %s", ErrServer, msg)
}

// Topic returns the subscribed topic.
func (s *stream) Topic() model.Topic { return s.topic }

// Status returns the last observed connection status.
func (s *stream) Status() connection.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Connected reports whether the topic's connection is open.
func (s *stream) Connected() bool {
	return s.Status().State == connection.StateConnected
}

// Resync refetches the history over HTTP and reconciles it.
func (s *stream) Resync(ctx context.Context) error {
	return s.load(ctx)
}

// Entries returns a copy of the reconciled list.
func (s *stream) Entries() []model.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}

// Pending returns the entries still awaiting confirmation.
func (s *stream) Pending() []model.Entry {
	return reconcile.Pending(s.Entries())
}

func confirmedIDs(list []model.Entry) map[model.ID]struct{} {
	ids := make(map[model.ID]struct{}, len(list))
	for _, e := range list {
		if !e.Provisional && e.ID != "" {
			ids[e.ID] = struct{}{}
		}
	}
	return ids
}

func newlyConfirmed(before map[model.ID]struct{}, list []model.Entry) []model.Entry {
	var out []model.Entry
	for _, e := range list {
		if e.Provisional || e.ID == "" {
			continue
		}
		if _, ok := before[e.ID]; !ok {
			out = append(out, e)
		}
	}
	return out
}
