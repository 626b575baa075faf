// Package model defines shared data types used across the bidsync client.
//
// Conventions:
//   - Amounts: integer minor units (1200.50 = 120050)
//   - Timestamps: time.Time in UTC as reported by the server
//   - IDs: server identities are opaque strings, even when the server sends numbers
//   - Topics: "<class>:<id>" (auction:42, chat:7, notifications:3)
package model
