// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Connection state and reconnect attempts per topic
//   - Inbound frame rates and malformed frames per topic
//   - Sends that fell back to the HTTP API
//   - Notifications surfaced and suppressed as duplicates
//
// A nil *Recorder is valid and records nothing.
package metrics
