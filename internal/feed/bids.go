package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/bidsync/internal/connection"
	"github.com/rickgao/bidsync/internal/metrics"
	"github.com/rickgao/bidsync/internal/model"
	"github.com/rickgao/bidsync/internal/reconcile"
	"github.com/rickgao/bidsync/internal/wire"
)

// BidConfig configures a BidFeed.
type BidConfig struct {
	AuctionID  string
	Self       model.Actor // Stamped on provisional bids
	Channel    Channel
	API        BidAPI
	Reconciler reconcile.Reconciler
	Archiver   Archiver          // Optional
	Metrics    *metrics.Recorder // Optional

	// ResyncTimeout bounds the history refetch after a reconnect.
	ResyncTimeout time.Duration

	OnChange func(BidSnapshot)
	OnStatus func(connection.Status)
	OnError  func(error)
}

// BidSnapshot is a read-only view of a bid panel.
type BidSnapshot struct {
	AuctionID    string
	Entries      []model.Entry // Highest first
	CurrentPrice model.Amount
	Status       connection.Status
}

// BidFeed keeps the bid history and current price of one auction in sync.
type BidFeed struct {
	*stream

	auctionID string
	self      model.Actor
	api       BidAPI
	onChange  func(BidSnapshot)
	onError   func(error)

	priceMu sync.Mutex
	price   model.Amount
}

// NewBidFeed creates a bid feed. Call Start to subscribe and load history.
func NewBidFeed(cfg BidConfig, logger *slog.Logger) (*BidFeed, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AuctionID == "" {
		return nil, errors.New("feed: auction id is required")
	}
	if cfg.Channel == nil || cfg.API == nil {
		return nil, errors.New("feed: channel and api are required")
	}
	if cfg.ResyncTimeout <= 0 {
		cfg.ResyncTimeout = defaultResyncTimeout
	}

	topic := model.AuctionTopic(cfg.AuctionID)
	f := &BidFeed{
		auctionID: cfg.AuctionID,
		self:      cfg.Self,
		api:       cfg.API,
		onChange:  cfg.OnChange,
		onError:   cfg.OnError,
	}
	f.stream = &stream{
		topic:         topic,
		kind:          model.KindBid,
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

// Start subscribes to the auction topic and loads the bid history. A failed
// history load is logged, not returned; pushes and resyncs fill the list.
func (f *BidFeed) Start(ctx context.Context) error {
	return f.start(ctx)
}

// Stop unsubscribes and waits for background resyncs.
func (f *BidFeed) Stop() {
	f.stop()
}

// AuctionID returns the auction this feed follows.
func (f *BidFeed) AuctionID() string { return f.auctionID }

// CurrentPrice returns the highest known price.
func (f *BidFeed) CurrentPrice() model.Amount {
	f.priceMu.Lock()
	defer f.priceMu.Unlock()
	return f.price
}

// Snapshot returns the current view.
func (f *BidFeed) Snapshot() BidSnapshot {
	return BidSnapshot{
		AuctionID:    f.auctionID,
		Entries:      f.Entries(),
		CurrentPrice: f.CurrentPrice(),
		Status:       f.Status(),
	}
}

// PlaceBid shows the bid as pending and sends it on the channel, or over
// HTTP when the channel is down. The returned entry is the pending entry, or
// the confirmed one when the HTTP fallback answered.
func (f *BidFeed) PlaceBid(ctx context.Context, amount model.Amount) (model.Entry, error) {
	if amount <= 0 {
		return model.Entry{}, ErrInvalidAmount
	}

	token := model.NewCorrelationToken()
	pending := model.NewProvisional(token, model.Payload{Amount: amount, Actor: f.self}, time.Now())

	entry, err := f.submit(ctx, pending, wire.NewPlaceBid(amount, token), func(ctx context.Context) (model.Entry, error) {
		return f.api.PlaceBid(ctx, f.auctionID, amount, token)
	})
	if err == nil && !entry.Provisional {
		f.raisePrice(entry.Payload.Amount)
	}
	return entry, err
}

func (f *BidFeed) fetch(ctx context.Context) ([]model.Entry, error) {
	entries, err := f.api.FetchBids(ctx, f.auctionID)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		f.raisePrice(e.Payload.Amount)
	}
	return entries, nil
}

func (f *BidFeed) handle(msg wire.Inbound) {
	switch m := msg.(type) {
	case wire.BidUpdate:
		f.raisePrice(m.Bid.Amount)
		f.merge(m.Bid.Entry())
	case wire.BidsList:
		entries := make([]model.Entry, 0, len(m.Bids))
		for _, b := range m.Bids {
			if b.ID == "" {
				continue
			}
			f.raisePrice(b.Amount)
			entries = append(entries, b.Entry())
		}
		f.merge(entries...)
	case wire.AuctionState:
		f.priceMu.Lock()
		f.price = m.CurrentPrice
		f.priceMu.Unlock()
		f.changed()
	case wire.ServerError:
		err := f.serverError(m.Message)
		if f.onError != nil {
			f.onError(err)
		}
	default:
		f.logger.Debug("ignoring frame", "type", msg.FrameType())
	}
}

// raisePrice moves the current price up to amount.
func (f *BidFeed) raisePrice(amount model.Amount) {
	f.priceMu.Lock()
	if amount > f.price {
		f.price = amount
	}
	f.priceMu.Unlock()
}

func (f *BidFeed) changed() {
	if f.onChange != nil {
		f.onChange(f.Snapshot())
	}
}
