package feed

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/rickgao/bidsync/internal/connection"
	"github.com/rickgao/bidsync/internal/metrics"
	"github.com/rickgao/bidsync/internal/model"
	"github.com/rickgao/bidsync/internal/reconcile"
	"github.com/rickgao/bidsync/internal/wire"
)

// ChatConfig configures a ChatFeed.
type ChatConfig struct {
	ConversationID string
	Self           model.Actor // Stamped on provisional messages
	Channel        Channel
	API            ChatAPI
	Reconciler     reconcile.Reconciler
	Archiver       Archiver          // Optional
	Metrics        *metrics.Recorder // Optional
	ResyncTimeout  time.Duration

	OnChange func(ChatSnapshot)
	OnStatus func(connection.Status)
	OnError  func(error)
}

// ChatSnapshot is a read-only view of a conversation.
type ChatSnapshot struct {
	ConversationID string
	Entries        []model.Entry // Oldest first
	Status         connection.Status
}

// ChatFeed keeps one conversation in sync.
type ChatFeed struct {
	*stream

	conversationID string
	self           model.Actor
	api            ChatAPI
	onChange       func(ChatSnapshot)
	onError        func(error)
}

// NewChatFeed creates a chat feed. Call Start to subscribe and load history.
func NewChatFeed(cfg ChatConfig, logger *slog.Logger) (*ChatFeed, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConversationID == "" {
		return nil, errors.New("feed: conversation id is required")
	}
	if cfg.Channel == nil || cfg.API == nil {
		return nil, errors.New("feed: channel and api are required")
	}
	if cfg.ResyncTimeout <= 0 {
		cfg.ResyncTimeout = defaultResyncTimeout
	}

	topic := model.ChatTopic(cfg.ConversationID)
	f := &ChatFeed{
		conversationID: cfg.ConversationID,
		self:           cfg.Self,
		api:            cfg.API,
		onChange:       cfg.OnChange,
		onError:        cfg.OnError,
	}
	f.stream = &stream{
		topic:         topic,
		kind:          model.KindChat,
		channel:       cfg.Channel,
		reconciler:    cfg.Reconciler,
		archiver:      cfg.Archiver,
		metrics:       cfg.Metrics,
		logger:        logger.With("topic", string(topic)),
		resyncTimeout: cfg.ResyncTimeout,
		fetch:         f.fetch,
		onMessage:     f.handle,
		onChange:      f.changed,
		onStatus:      cfg.OnStatus,
	}
	return f, nil
}

// Start subscribes to the conversation topic and loads its messages.
func (f *ChatFeed) Start(ctx context.Context) error {
	return f.start(ctx)
}

// Stop unsubscribes and waits for background resyncs.
func (f *ChatFeed) Stop() {
	f.stop()
}

// ConversationID returns the conversation this feed follows.
func (f *ChatFeed) ConversationID() string { return f.conversationID }

// Snapshot returns the current view.
func (f *ChatFeed) Snapshot() ChatSnapshot {
	return ChatSnapshot{
		ConversationID: f.conversationID,
		Entries:        f.Entries(),
		Status:         f.Status(),
	}
}

// Send shows the message as pending and sends it on the channel, or over
// HTTP when the channel is down.
func (f *ChatFeed) Send(ctx context.Context, content string) (model.Entry, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return model.Entry{}, ErrEmptyMessage
	}

	token := model.NewCorrelationToken()
	pending := model.NewProvisional(token, model.Payload{Content: content, Actor: f.self}, time.Now())

	return f.submit(ctx, pending, wire.NewSendMessage(content, token), func(ctx context.Context) (model.Entry, error) {
		return f.api.PostMessage(ctx, f.conversationID, content, token)
	})
}

func (f *ChatFeed) fetch(ctx context.Context) ([]model.Entry, error) {
	return f.api.FetchMessages(ctx, f.conversationID)
}

func (f *ChatFeed) handle(msg wire.Inbound) {
	switch m := msg.(type) {
	case wire.ChatMessage:
		f.merge(m.Message.Entry())
	case wire.MessageSent:
		f.merge(m.Message.Entry())
	case wire.ServerError:
		err := f.serverError(m.Message)
		if f.onError != nil {
			f.onError(err)
		}
	default:
		f.logger.Debug("ignoring frame", "type", msg.FrameType())
	}
}

func (f *ChatFeed) changed() {
	if f.onChange != nil {
		f.onChange(f.Snapshot())
	}
}
