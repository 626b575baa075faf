package feed

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/bidsync/internal/connection"
	"github.com/rickgao/bidsync/internal/dedup"
	"github.com/rickgao/bidsync/internal/metrics"
	"github.com/rickgao/bidsync/internal/model"
	"github.com/rickgao/bidsync/internal/registry"
	"github.com/rickgao/bidsync/internal/wire"
)

// NotificationConfig configures a NotificationCenter.
type NotificationConfig struct {
	UserID   string
	Channel  Channel
	Store    *dedup.Store      // Optional; shared across centers of one session
	Archiver Archiver          // Optional
	Metrics  *metrics.Recorder // Optional

	// NoFallback skips the chat-notifications fallback topic.
	NoFallback bool

	// OnNotify runs once per identity. It must not call Stop.
	OnNotify func(model.Notification)
	OnStatus func(model.Topic, connection.Status)
}

// NotificationCenter surfaces the notifications of one user exactly once,
// whichever topic delivers them.
type NotificationCenter struct {
	cfg    NotificationConfig
	store  *dedup.Store
	topics []model.Topic
	logger *slog.Logger

	mu       sync.Mutex // Serializes surfacing across topics
	subs     []registry.Subscription
	started  bool
	stopped  bool
	surfaced int
}

// NewNotificationCenter creates a notification center for cfg.UserID.
func NewNotificationCenter(cfg NotificationConfig, logger *slog.Logger) (*NotificationCenter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UserID == "" {
		return nil, errors.New("feed: user id is required")
	}
	if cfg.Channel == nil {
		return nil, errors.New("feed: channel is required")
	}

	store := cfg.Store
	if store == nil {
		store = dedup.New(dedup.DefaultCeiling, dedup.DefaultRetain)
	}

	topics := []model.Topic{model.NotificationsTopic(cfg.UserID)}
	if !cfg.NoFallback {
		topics = append(topics, model.ChatNotificationsTopic(cfg.UserID))
	}

	return &NotificationCenter{
		cfg:    cfg,
		store:  store,
		topics: topics,
		logger: logger.With("user", cfg.UserID),
	}, nil
}

// Start subscribes to the primary and fallback topics.
func (c *NotificationCenter) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrStopped
	}
	if c.started {
		return nil
	}

	for _, topic := range c.topics {
		sub, err := c.cfg.Channel.Subscribe(topic, c.handler(topic), c.statusHandler(topic))
		if err != nil {
			for _, s := range c.subs {
				c.cfg.Channel.Unsubscribe(s)
			}
			c.subs = nil
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		c.subs = append(c.subs, sub)
	}
	c.started = true
	c.logger.Info("notification center started", "topics", len(c.topics))
	return nil
}

// Stop unsubscribes from every topic.
func (c *NotificationCenter) Stop() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.stopped = true
	c.mu.Unlock()

	for _, s := range subs {
		c.cfg.Channel.Unsubscribe(s)
	}
}

// Topics returns the subscribed topics, primary first.
func (c *NotificationCenter) Topics() []model.Topic {
	return append([]model.Topic(nil), c.topics...)
}

// Surfaced returns how many notifications were surfaced.
func (c *NotificationCenter) Surfaced() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.surfaced
}

func (c *NotificationCenter) handler(topic model.Topic) registry.MessageFunc {
	return func(msg wire.Inbound) {
		frame, ok := msg.(wire.NotificationFrame)
		if !ok {
			c.logger.Debug("ignoring frame", "topic", topic, "type", msg.FrameType())
			return
		}
		c.receive(topic, frame.Notification)
	}
}

func (c *NotificationCenter) statusHandler(topic model.Topic) registry.StatusFunc {
	return func(st connection.Status) {
		if c.cfg.OnStatus != nil {
			c.cfg.OnStatus(topic, st)
		}
	}
}

func (c *NotificationCenter) receive(topic model.Topic, n model.Notification) {
	if n.UserID != "" && n.UserID != model.ID(c.cfg.UserID) {
		c.logger.Debug("dropping notification for another user", "topic", topic, "recipient", n.UserID)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}

	identity := n.Identity()
	if !c.store.ShouldSurface(identity) {
		c.cfg.Metrics.NotificationSuppressed()
		c.logger.Debug("suppressing duplicate notification", "topic", topic, "identity", identity)
		return
	}

	c.surfaced++
	c.cfg.Metrics.NotificationSurfaced(string(n.Kind))
	c.logger.Info("notification",
		"topic", topic,
		"kind", n.Kind,
		"subject", n.Subject,
		"identity", identity,
	)
	if c.cfg.Archiver != nil {
		c.cfg.Archiver.ArchiveNotification(n)
	}
	if c.cfg.OnNotify != nil {
		c.cfg.OnNotify(n)
	}
}
