// Package api is the HTTP client for the marketplace data API.
//
// It is the synchronous counterpart of the realtime channel: feeds use it to
// populate history before a topic connects, to resync while a topic is down,
// and to place bids and post messages when no live channel can carry them.
//
// Endpoints (relative to the configured base URL):
//   - GET  /auction/cars/{id}/bids/
//   - POST /auction/bids/create/
//   - GET  /chat/conversations/{id}/
//   - POST /chat/conversations/{id}/messages/
package api
