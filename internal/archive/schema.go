package archive

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS bids (
		bid_id      TEXT PRIMARY KEY,
		auction_id  TEXT NOT NULL,
		bidder_id   TEXT NOT NULL,
		bidder      TEXT NOT NULL DEFAULT '',
		amount      BIGINT NOT NULL,
		placed_at   TIMESTAMPTZ NOT NULL,
		received_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS bids_auction_placed_idx ON bids (auction_id, placed_at)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		message_id      TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		sender_id       TEXT NOT NULL,
		sender          TEXT NOT NULL DEFAULT '',
		content         TEXT NOT NULL,
		sent_at         TIMESTAMPTZ NOT NULL,
		received_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS chat_messages_conversation_sent_idx ON chat_messages (conversation_id, sent_at)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		identity    TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL DEFAULT '',
		kind        TEXT NOT NULL,
		subject     TEXT NOT NULL,
		payload     JSONB,
		surfaced_at TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates the archive tables if they do not exist.
func Migrate(ctx context.Context, db DB) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}
