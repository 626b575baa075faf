package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rickgao/bidsync/internal/connection"
	"github.com/rickgao/bidsync/internal/feed"
	"github.com/rickgao/bidsync/internal/model"
)

// watchOptions holds flags for the watch command.
type watchOptions struct {
	*rootOptions
	Auctions        []string
	Chats           []string
	NoNotifications bool
}

func newWatchCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &watchOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow auctions, conversations, and notifications",
		Long: `Follow live auctions, chat conversations, and the session's notifications.

Confirmed bids and messages are printed once each. While a channel is down its
history is refetched over HTTP on the poller interval.

Example:
  bidsync watch --auction 42 --auction 43 --chat 7
  bidsync watch --config configs/bidsync.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(opts.Auctions) == 0 && len(opts.Chats) == 0 && opts.NoNotifications {
				return errors.New("nothing to watch")
			}

			cfg, logger, err := setup(opts.rootOptions)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context(), logger)
			defer cancel()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			return a.run(ctx, true, func(ctx context.Context) error {
				return a.watch(ctx, opts, cmd.OutOrStdout())
			})
		},
	}

	cmd.Flags().StringSliceVar(&opts.Auctions, "auction", nil, "auction id to follow (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Chats, "chat", nil, "conversation id to follow (repeatable)")
	cmd.Flags().BoolVar(&opts.NoNotifications, "no-notifications", false, "do not subscribe to notifications")

	return cmd
}

// watch starts the requested feeds and blocks until ctx is cancelled.
func (a *app) watch(ctx context.Context, opts *watchOptions, out io.Writer) error {
	p := newPrinter(out)
	onError := func(err error) { a.logger.Warn("feed error", "error", err) }

	for _, id := range opts.Auctions {
		f, err := feed.NewBidFeed(feed.BidConfig{
			AuctionID:     id,
			Self:          a.self(),
			Channel:       a.registry,
			API:           a.api,
			Reconciler:    a.reconciler(),
			Archiver:      a.archiver(),
			Metrics:       a.metrics,
			ResyncTimeout: a.cfg.Poller.Timeout,
			OnChange:      p.bids,
			OnStatus:      p.status,
			OnError:       onError,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("auction %s: %w", id, err)
		}
		if err := f.Start(ctx); err != nil {
			return fmt.Errorf("start auction %s: %w", id, err)
		}
		a.poller.Add(f)
		defer func() {
			a.poller.Remove(f.Topic())
			f.Stop()
		}()
	}

	for _, id := range opts.Chats {
		f, err := feed.NewChatFeed(feed.ChatConfig{
			ConversationID: id,
			Self:           a.self(),
			Channel:        a.registry,
			API:            a.api,
			Reconciler:     a.reconciler(),
			Archiver:       a.archiver(),
			Metrics:        a.metrics,
			ResyncTimeout:  a.cfg.Poller.Timeout,
			OnChange:       p.chat,
			OnStatus:       p.status,
			OnError:        onError,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("chat %s: %w", id, err)
		}
		if err := f.Start(ctx); err != nil {
			return fmt.Errorf("start chat %s: %w", id, err)
		}
		a.poller.Add(f)
		defer func() {
			a.poller.Remove(f.Topic())
			f.Stop()
		}()
	}

	if !opts.NoNotifications {
		c, err := feed.NewNotificationCenter(feed.NotificationConfig{
			UserID:   a.cfg.Session.UserID,
			Channel:  a.registry,
			Store:    a.store,
			Archiver: a.archiver(),
			Metrics:  a.metrics,
			OnNotify: p.notification,
			OnStatus: func(_ model.Topic, st connection.Status) { p.status(st) },
		}, a.logger)
		if err != nil {
			return fmt.Errorf("notifications: %w", err)
		}
		if err := c.Start(); err != nil {
			return fmt.Errorf("start notifications: %w", err)
		}
		defer c.Stop()
	}

	a.logger.Info("bidsync watching",
		"instance_id", a.cfg.Instance.ID,
		"auctions", len(opts.Auctions),
		"chats", len(opts.Chats),
		"notifications", !opts.NoNotifications,
	)

	<-ctx.Done()
	a.logger.Info("shutting down...")
	return nil
}
