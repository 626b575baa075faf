// Package feed wires the realtime channel, the HTTP API and the
// reconciliation engine into the three live features of a session: the bid
// panel of an auction, a chat conversation and the user's notification
// center.
//
// Data flow for list feeds (bids and chat):
//
//	Registry push ──┐
//	HTTP history ───┼──► reconcile.Reconcile ──► snapshot ──► OnChange
//	local action ───┘
//
// A local action (PlaceBid, Send) is inserted as a provisional entry at once
// and sent on the channel. When the channel reports no open connection the
// same action goes through the HTTP API, and its response is reconciled the
// same way a push would be. A failed fallback leaves the entry provisional.
//
// The notification center subscribes to the primary and the fallback
// notification topics of one user and surfaces each notification identity
// once through a shared dedup.Store.
package feed
