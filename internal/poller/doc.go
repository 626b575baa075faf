// Package poller implements the HTTP resync poller.
//
// The poller:
//   - Checks every registered feed on an interval (default 15s)
//   - Refetches history over HTTP for feeds whose topic is not connected
//   - Leaves connected feeds alone; pushes keep them current
//   - Uses concurrent requests with a bounded semaphore
package poller
