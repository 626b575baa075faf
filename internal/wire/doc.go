// Package wire defines the realtime channel protocol.
//
// Every frame is a tagged JSON record {"type": ..., ...fields}.
//
// Inbound: bid_update, bids_list, message, message_sent, auction_state,
// outbid (and legacy outbid_notification), auction_won, auction_ended,
// ping, pong, error.
//
// Outbound: ping, message, bid.
package wire
