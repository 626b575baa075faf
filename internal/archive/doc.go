// Package archive persists confirmed bids, chat messages, and surfaced
// notifications to PostgreSQL.
//
// Tables:
//   - bids: one row per confirmed bid, keyed by server bid id
//   - chat_messages: one row per confirmed message, keyed by server message id
//   - notifications: one row per surfaced notification, keyed by dedup identity
//
// Writes are append-only and batched. Enqueueing never blocks the caller; when
// the queue is full the record is dropped and counted.
package archive
