package feed

import (
	"context"
	"errors"

	"github.com/rickgao/bidsync/internal/model"
	"github.com/rickgao/bidsync/internal/registry"
	"github.com/rickgao/bidsync/internal/wire"
)

// Errors
var (
	ErrNotStarted    = errors.New("feed not started")
	ErrStopped       = errors.New("feed stopped")
	ErrInvalidAmount = errors.New("bid amount must be positive")
	ErrEmptyMessage  = errors.New("message is empty")
	ErrServer        = errors.New("server error")
)

// Channel is the part of the registry a feed uses.
type Channel interface {
	Subscribe(topic model.Topic, onMessage registry.MessageFunc, onStatus registry.StatusFunc) (registry.Subscription, error)
	Unsubscribe(sub registry.Subscription)
	Send(topic model.Topic, payload wire.Outbound) bool
}

// BidAPI is the HTTP side of a bid feed.
type BidAPI interface {
	FetchBids(ctx context.Context, auctionID string) ([]model.Entry, error)
	PlaceBid(ctx context.Context, auctionID string, amount model.Amount, token string) (model.Entry, error)
}

// ChatAPI is the HTTP side of a chat feed.
type ChatAPI interface {
	FetchMessages(ctx context.Context, conversationID string) ([]model.Entry, error)
	PostMessage(ctx context.Context, conversationID, content, token string) (model.Entry, error)
}

// Archiver receives newly confirmed entries and surfaced notifications.
// Implementations must not block.
type Archiver interface {
	ArchiveEntries(topic model.Topic, kind model.Kind, entries []model.Entry)
	ArchiveNotification(n model.Notification)
}
