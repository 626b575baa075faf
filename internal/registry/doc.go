// Package registry implements the Channel Registry: the process-wide map from
// topic to its supervised connection and subscribers.
//
// Subscribing to a live topic attaches to the existing connection and
// replays the current status to the new subscriber. Inbound frames are
// decoded once and fanned out to every subscriber in wire order. The last
// Unsubscribe tears the topic down. Credential rotation forces every live
// topic to reconnect with the new token.
package registry
