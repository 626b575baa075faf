// Package connection implements the Channel Transport and the Reconnection
// Supervisor.
//
// The transport owns one physical WebSocket per call to Open and reports raw
// lifecycle events to a Sink. It never retries.
//
// The supervisor keeps one topic's connection alive:
//   - Drives a pure state machine (Transition) from transport and timer events
//   - Re-reads the connection target (and credential) on every attempt
//   - Backs off exponentially up to a bounded number of attempts
//   - Sends a keepalive probe while connected and polls the transport for
//     silent staleness
//   - Processes all events for a topic on a single goroutine
package connection
