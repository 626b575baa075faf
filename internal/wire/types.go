package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/bidsync/internal/model"
)

// Errors
var (
	ErrMalformed   = errors.New("malformed frame")
	ErrUnknownType = errors.New("unknown frame type")
)

// Frame types (wire-stable).
const (
	TypeBidUpdate          = "bid_update"
	TypeBidsList           = "bids_list"
	TypeMessage            = "message"
	TypeMessageSent        = "message_sent"
	TypeAuctionState       = "auction_state"
	TypeOutbid             = "outbid"
	TypeOutbidNotification = "outbid_notification"
	TypeAuctionWon         = "auction_won"
	TypeAuctionEnded       = "auction_ended"
	TypePing               = "ping"
	TypePong               = "pong"
	TypeError              = "error"
	TypeBid                = "bid"
)

// Time accepts the timestamp layouts the server emits (RFC 3339 with or
// without fractional seconds, and naive ISO 8601 which is read as UTC).
type Time struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// UnmarshalJSON parses a string timestamp; null and "" yield the zero time.
func (t *Time) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timeLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			t.Time = v.UTC()
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognized layout %q", s)
}

// MarshalJSON emits RFC 3339 with nanoseconds.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// Bid is the wire shape of a bid.
type Bid struct {
	ID        model.ID     `json:"id"`
	Amount    model.Amount `json:"amount"`
	Bidder    model.Actor  `json:"bidder"`
	CreatedAt Time         `json:"created_at"`
	Token     string       `json:"correlation_token,omitempty"`
}

// Entry converts the bid to a confirmed entry.
func (b Bid) Entry() model.Entry {
	return model.NewConfirmed(b.ID, b.Token, model.Payload{
		Amount: b.Amount,
		Actor:  b.Bidder,
	}, b.CreatedAt.Time)
}

// Message is the wire shape of a chat message.
type Message struct {
	ID        model.ID    `json:"id"`
	Sender    model.Actor `json:"sender"`
	Content   string      `json:"content"`
	Timestamp Time        `json:"timestamp"`
	Token     string      `json:"correlation_token,omitempty"`
}

// Entry converts the message to a confirmed entry.
func (m Message) Entry() model.Entry {
	return model.NewConfirmed(m.ID, m.Token, model.Payload{
		Content: m.Content,
		Actor:   m.Sender,
	}, m.Timestamp.Time)
}

// -----------------------------------------------------------------------------
// Inbound frames
// -----------------------------------------------------------------------------

// Inbound is a decoded server frame.
type Inbound interface {
	FrameType() string
}

// BidUpdate is a single pushed bid. Token is set when the bid confirms one
// placed by this client.
type BidUpdate struct {
	Bid Bid
}

// BidsList is a full bid history.
type BidsList struct {
	Bids []Bid
}

// ChatMessage is a message pushed to a conversation.
type ChatMessage struct {
	Message Message
}

// MessageSent confirms a message sent by this client.
type MessageSent struct {
	Message Message
}

// AuctionState carries the current price of an auction.
type AuctionState struct {
	CurrentPrice model.Amount
}

// NotificationFrame is an outbid, auction_won or auction_ended frame.
type NotificationFrame struct {
	Notification model.Notification
}

// Ping is a server keepalive probe.
type Ping struct{}

// Pong answers a client keepalive probe.
type Pong struct{}

// ServerError is an application-level error reported by the server.
type ServerError struct {
	Message string
}

func (BidUpdate) FrameType() string { return TypeBidUpdate }
func (BidsList) FrameType() string { return TypeBidsList }
func (ChatMessage) FrameType() string { return TypeMessage }
func (MessageSent) FrameType() string { return TypeMessageSent }
func (AuctionState) FrameType() string { return TypeAuctionState }
func (f NotificationFrame) FrameType() string { return string(f.Notification.Kind) }
func (Ping) FrameType() string { return TypePing }
func (Pong) FrameType() string { return TypePong }
func (ServerError) FrameType() string { return TypeError }

// -----------------------------------------------------------------------------
// Outbound frames
// -----------------------------------------------------------------------------

// Outbound is a client frame.
type Outbound interface {
	FrameType() string
}

// PingFrame is the client keepalive probe.
type PingFrame struct {
	Type string `json:"type"`
}

// SendMessage sends a chat message.
type SendMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Token   string `json:"correlation_token"`
}

// PlaceBid places a bid.
type PlaceBid struct {
	Type   string       `json:"type"`
	Amount model.Amount `json:"amount"`
	Token  string       `json:"correlation_token"`
}

func (PingFrame) FrameType() string { return TypePing }
func (SendMessage) FrameType() string { return TypeMessage }
func (PlaceBid) FrameType() string { return TypeBid }

// NewPing returns a keepalive frame.
func NewPing() PingFrame { return PingFrame{Type: TypePing} }

// NewSendMessage returns a chat frame.
func NewSendMessage(content, token string) SendMessage {
	return SendMessage{Type: TypeMessage, Content: content, Token: token}
}

// NewPlaceBid returns a bid frame.
func NewPlaceBid(amount model.Amount, token string) PlaceBid {
	return PlaceBid{Type: TypeBid, Amount: amount, Token: token}
}

// -----------------------------------------------------------------------------
// Wire structs for JSON parsing
// -----------------------------------------------------------------------------

// envelope is used for fast type extraction.
type envelope struct {
	Type string `json:"type"`
}

type bidUpdateWire struct {
	Bid    *Bid   `json:"bid"`
	Token  string `json:"correlation_token"`
	TempID string `json:"temp_id"`
}

type bidsListWire struct {
	Bids *[]Bid `json:"bids"`
}

type messageWire struct {
	Message *Message `json:"message"`
	Token   string   `json:"correlation_token"`
	TempID  string   `json:"temp_id"`
}

type auctionStateWire struct {
	CurrentPrice *model.Amount `json:"current_price"`
}

type notificationWire struct {
	Type           string       `json:"type"`
	NotificationID model.ID     `json:"notification_id"`
	AuctionID      model.ID     `json:"auction_id"`
	CarID          model.ID     `json:"car_id"`
	Subject        model.ID     `json:"subject"`
	UserID         model.ID     `json:"user_id"`
	Timestamp      string       `json:"timestamp"`
	PreviousAmount model.Amount `json:"previous_amount"`
	NewAmount      model.Amount `json:"new_amount"`
	Amount         model.Amount `json:"amount"`
	FinalPrice     model.Amount `json:"final_price"`
	Actor          string       `json:"actor"`
	BidderUsername string       `json:"bidder_username"`
	WinnerName     string       `json:"winner_name"`
	HasWinner      bool         `json:"has_winner"`
	ConversationID model.ID     `json:"conversation_id"`
}

type errorWire struct {
	Message string `json:"message"`
}
