package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/bidsync/internal/feed"
	"github.com/rickgao/bidsync/internal/model"
)

func newBidCommand(opts *rootOptions) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "bid <auction-id> <amount>",
		Short: "Place a bid and wait for the server to confirm it",
		Long: `Place a bid on an auction. The bid goes over the realtime channel when it
connects in time, otherwise over the HTTP API.

Example:
  bidsync bid 42 1250.00`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := model.ParseAmount(args[1])
			if err != nil {
				return err
			}
			if amount <= 0 {
				return feed.ErrInvalidAmount
			}

			cfg, logger, err := setup(opts)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context(), logger)
			defer cancel()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			return a.run(ctx, false, func(ctx context.Context) error {
				return a.placeBid(ctx, cmd.OutOrStdout(), args[0], amount, wait)
			})
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "how long to wait for confirmation")

	return cmd
}

func (a *app) placeBid(ctx context.Context, out io.Writer, auctionID string, amount model.Amount, wait time.Duration) error {
	connected := newWakeup()
	changed := newWakeup()

	f, err := feed.NewBidFeed(feed.BidConfig{
		AuctionID:     auctionID,
		Self:          a.self(),
		Channel:       a.registry,
		API:           a.api,
		Reconciler:    a.reconciler(),
		Archiver:      a.archiver(),
		Metrics:       a.metrics,
		ResyncTimeout: a.cfg.Poller.Timeout,
		OnChange:      func(feed.BidSnapshot) { changed.notify() },
		OnStatus:      onConnected(connected),
	}, a.logger)
	if err != nil {
		return err
	}
	if err := f.Start(ctx); err != nil {
		return err
	}
	defer f.Stop()

	if !waitConnected(ctx, connected, a.cfg.Connections.ConnectTimeout) {
		a.logger.Warn("channel not connected, bidding over http", "auction_id", auctionID)
	}

	pending, err := f.PlaceBid(ctx, amount)
	if err != nil {
		return fmt.Errorf("place bid: %w", err)
	}

	confirmed, err := waitConfirmed(ctx, pending.Token, f.Entries, changed, wait)
	if err != nil {
		return fmt.Errorf("bid %s on auction %s: %w", amount, auctionID, err)
	}

	fmt.Fprintf(out, "bid %s on auction %s confirmed (id %s, price %s)\n",
		confirmed.Payload.Amount, auctionID, confirmed.ID, f.CurrentPrice())
	return nil
}
