package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/bidsync/internal/feed"
)

func newSayCommand(opts *rootOptions) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "say <conversation-id> <message...>",
		Short: "Send a chat message and wait for the server to confirm it",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.TrimSpace(strings.Join(args[1:], " "))
			if content == "" {
				return feed.ErrEmptyMessage
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
				return a.say(ctx, cmd.OutOrStdout(), args[0], content, wait)
			})
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "how long to wait for confirmation")

	return cmd
}

func (a *app) say(ctx context.Context, out io.Writer, conversationID, content string, wait time.Duration) error {
	connected := newWakeup()
	changed := newWakeup()

	f, err := feed.NewChatFeed(feed.ChatConfig{
		ConversationID: conversationID,
		Self:           a.self(),
		Channel:        a.registry,
		API:            a.api,
		Reconciler:     a.reconciler(),
		Archiver:       a.archiver(),
		Metrics:        a.metrics,
		ResyncTimeout:  a.cfg.Poller.Timeout,
		OnChange:       func(feed.ChatSnapshot) { changed.notify() },
		OnStatus:       onConnected(connected),
	}, a.logger)
	if err != nil {
		return err
	}
	if err := f.Start(ctx); err != nil {
		return err
	}
	defer f.Stop()

	if !waitConnected(ctx, connected, a.cfg.Connections.ConnectTimeout) {
		a.logger.Warn("channel not connected, sending over http", "conversation_id", conversationID)
	}

	pending, err := f.Send(ctx, content)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	confirmed, err := waitConfirmed(ctx, pending.Token, f.Entries, changed, wait)
	if err != nil {
		return fmt.Errorf("message to conversation %s: %w", conversationID, err)
	}

	fmt.Fprintf(out, "message to conversation %s confirmed (id %s)\n", conversationID, confirmed.ID)
	return nil
}
