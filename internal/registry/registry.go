package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/rickgao/bidsync/internal/connection"
	"github.com/rickgao/bidsync/internal/credential"
	"github.com/rickgao/bidsync/internal/metrics"
	"github.com/rickgao/bidsync/internal/model"
	"github.com/rickgao/bidsync/internal/wire"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("registry closed")

// Config configures a Registry.
type Config struct {
	Endpoint    connection.Endpoint
	Policy      connection.Policy
	Dialer      connection.Dialer
	Credentials credential.Provider // Optional; connections carry no token without it
	Metrics     *metrics.Recorder   // Optional
	Clock       connection.Clock    // Optional; defaults to the wall clock
}

// MessageFunc receives decoded inbound frames.
type MessageFunc func(wire.Inbound)

// StatusFunc receives connection status changes.
type StatusFunc func(connection.Status)

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	topic model.Topic
	id    uint64
}

// Topic returns the subscribed topic.
func (s Subscription) Topic() model.Topic { return s.topic }

// Registry owns one supervised connection per topic.
type Registry struct {
	cfg    Config
	logger *slog.Logger
	probe  []byte

	mu       sync.Mutex
	topics   map[model.Topic]*topicState
	draining map[model.Topic]<-chan struct{} // Torn-down supervisors still closing
	nextID   uint64
	closed   bool

	cancelWatch func()
}

// New creates a registry.
func New(cfg Config, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("registry: dialer is required")
	}

	probe, err := wire.Encode(wire.NewPing())
	if err != nil {
		return nil, fmt.Errorf("registry: encode probe: %w", err)
	}

	r := &Registry{
		cfg:      cfg,
		logger:   logger,
		probe:    probe,
		topics:   make(map[model.Topic]*topicState),
		draining: make(map[model.Topic]<-chan struct{}),
	}
	if cfg.Credentials != nil {
		r.cancelWatch = cfg.Credentials.Watch(r.credentialRotated)
	}
	return r, nil
}

// Subscribe attaches callbacks to topic, connecting it if needed. The new
// subscriber first receives the current status, then every later frame and
// status change. Either callback may be nil.
func (r *Registry) Subscribe(topic model.Topic, onMessage MessageFunc, onStatus StatusFunc) (Subscription, error) {
	if err := topic.Validate(); err != nil {
		return Subscription{}, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Subscription{}, ErrClosed
	}

	ts, live := r.topics[topic]
	if !live {
		ts = r.newTopic(topic)
		r.topics[topic] = ts
	}
	r.nextID++
	id := r.nextID
	ts.add(&subscriber{id: id, onMessage: onMessage, onStatus: onStatus})
	prior := r.draining[topic]
	r.mu.Unlock()

	if !live {
		r.logger.Debug("topic opened", "topic", topic)
		r.start(ts, prior)
	}

	ts.sup.Do(func() { ts.replay(id) })
	return Subscription{topic: topic, id: id}, nil
}

// Unsubscribe detaches a subscription. The last subscriber of a topic tears
// it down, cancelling any pending reconnect. Safe to call more than once and
// from within a callback.
func (r *Registry) Unsubscribe(sub Subscription) {
	r.mu.Lock()
	ts, ok := r.topics[sub.topic]
	if !ok || !ts.remove(sub.id) {
		r.mu.Unlock()
		return
	}
	last := ts.empty()
	if last {
		delete(r.topics, sub.topic)
		r.draining[sub.topic] = ts.sup.Done()
	}
	r.mu.Unlock()

	if last {
		r.teardown(sub.topic, ts)
	}
}

// Send writes payload on topic's connection. Returns false when the topic
// has no open connection, so the caller can fall back to HTTP.
func (r *Registry) Send(topic model.Topic, payload wire.Outbound) bool {
	data, err := wire.Encode(payload)
	if err != nil {
		r.logger.Warn("dropping unencodable frame", "topic", topic, "error", err)
		return false
	}

	r.mu.Lock()
	ts, ok := r.topics[topic]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return ts.sup.Send(data)
}

// Reconnect forces topic to reconnect with a reset attempt counter.
func (r *Registry) Reconnect(topic model.Topic) bool {
	r.mu.Lock()
	ts, ok := r.topics[topic]
	r.mu.Unlock()
	if ok {
		ts.sup.Reconnect()
	}
	return ok
}

// Status returns topic's current status.
func (r *Registry) Status(topic model.Topic) (connection.Status, bool) {
	r.mu.Lock()
	ts, ok := r.topics[topic]
	r.mu.Unlock()
	if !ok {
		return connection.Status{Topic: string(topic), State: connection.StateDisconnected}, false
	}
	return ts.sup.Status(), true
}

// Topics returns the live topics, sorted.
func (r *Registry) Topics() []model.Topic {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Topic, 0, len(r.topics))
	for t := range r.topics {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close tears down every topic and rejects further subscriptions.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	topics := r.topics
	r.topics = make(map[model.Topic]*topicState)
	r.mu.Unlock()

	if r.cancelWatch != nil {
		r.cancelWatch()
	}
	for topic, ts := range topics {
		r.teardown(topic, ts)
	}
	for _, ts := range topics {
		<-ts.sup.Done()
	}
	r.logger.Debug("registry closed", "topics", len(topics))
}

func (r *Registry) newTopic(topic model.Topic) *topicState {
	ts := &topicState{
		topic:   topic,
		logger:  r.logger.With("topic", string(topic)),
		metrics: r.cfg.Metrics,
		subs:    make(map[uint64]*subscriber),
	}
	ts.sup = connection.NewSupervisor(connection.SupervisorConfig{
		Topic:     string(topic),
		Policy:    r.cfg.Policy,
		Dialer:    r.cfg.Dialer,
		Target:    r.target(topic),
		Probe:     r.probe,
		Clock:     r.cfg.Clock,
		OnMessage: ts.dispatch,
		OnStatus:  ts.publish,
	}, r.logger)
	return ts
}

// start begins connecting, after any previous supervisor for the same topic
// has released its connection.
func (r *Registry) start(ts *topicState, prior <-chan struct{}) {
	if prior == nil {
		ts.sup.Start()
		return
	}
	select {
	case <-prior:
		ts.sup.Start()
	default:
		go func() {
			<-prior
			ts.sup.Start()
		}()
	}
}

func (r *Registry) teardown(topic model.Topic, ts *topicState) {
	ts.sup.Stop()
	r.cfg.Metrics.ForgetTopic(string(topic))
	r.logger.Debug("topic closed", "topic", topic)

	done := ts.sup.Done()
	go func() {
		<-done
		r.mu.Lock()
		if r.draining[topic] == done {
			delete(r.draining, topic)
		}
		r.mu.Unlock()
	}()
}

// target re-reads the credential on every attempt.
func (r *Registry) target(topic model.Topic) func() (string, error) {
	return func() (string, error) {
		path, err := topic.Path()
		if err != nil {
			return "", err
		}
		return r.cfg.Endpoint.URL(path, credential.Token(r.cfg.Credentials))
	}
}

func (r *Registry) credentialRotated() {
	r.mu.Lock()
	sups := make([]*connection.Supervisor, 0, len(r.topics))
	for _, ts := range r.topics {
		sups = append(sups, ts.sup)
	}
	r.mu.Unlock()

	r.logger.Info("credential rotated, reconnecting topics", "topics", len(sups))
	for _, sup := range sups {
		sup.CredentialRotated()
	}
}
