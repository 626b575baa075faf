// Package dedup implements the Notification Dedup Store.
//
// The store:
//   - Remembers the identities of notifications already surfaced
//   - Answers ShouldSurface once per identity, from any topic
//   - Trims to the most recent Retain identities whenever it grows past
//     Ceiling (defaults 1000 and 500)
//
// Trimming is a bounded-memory tradeoff: an identity redelivered after it
// was trimmed surfaces again.
package dedup
