// Package reconcile implements the Reconciliation Engine: it merges
// provisional (locally created) and confirmed (server acknowledged) bids and
// chat messages into one deduplicated, canonically ordered list.
//
// Matching rules for each incoming entry, in order:
//  1. Confirmed with a known server identity: overwrite that entry in place.
//  2. Same correlation token as a provisional entry: replace it in place.
//  3. Confirmed, and the token is missing on either side: replace the first
//     provisional entry with the same payload signature (amount or content,
//     and actor). Disabled when MatchBySignature is false.
//  4. Otherwise append.
//
// A confirmed entry without a server identity is dropped. Provisional
// incoming entries only ever match on their token, so a rapid double submit
// of the same amount survives as two entries.
//
// The engine is stateless and never mutates its inputs.
package reconcile
