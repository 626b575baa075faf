// Package credential supplies the bearer token used to open realtime
// connections and signals when it rotates.
//
// The subsystem never writes credentials. Providers:
//   - Static: set in process (tests, CLI flags)
//   - File: a token file re-read on every call, polled for rotation
//   - Redis: a key read on every call, rotation announced on a Pub/Sub channel
package credential
