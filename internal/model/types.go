package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidAmount is returned when an amount cannot be parsed.
var ErrInvalidAmount = errors.New("invalid amount")

// -----------------------------------------------------------------------------
// Identity
// -----------------------------------------------------------------------------

// ID is a server-assigned identity. The server sends numeric primary keys for
// bids, messages and users, so ID accepts both JSON numbers and strings.
type ID string

// UnmarshalJSON accepts 42, "42" and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// NewCorrelationToken returns a client-generated token the server echoes back
// with the confirmation of a bid or message.
func NewCorrelationToken() string {
	return uuid.NewString()
}

// -----------------------------------------------------------------------------
// Amount
// -----------------------------------------------------------------------------

// Amount is a monetary value in minor units.
type Amount int64

// ParseAmount converts a decimal string (e.g. "1200.50") to minor units.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	// Round to avoid floating point errors (e.g. 1200.1 * 100 = 120009.999...)
	return Amount(math.Round(f * 100)), nil
}

// String formats the amount with two decimal places.
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON emits the amount as a decimal number.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts 1200, 1200.5 and "1200.50".
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}
	v, err := ParseAmount(raw)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// -----------------------------------------------------------------------------
// Entries (bids and chat messages)
// -----------------------------------------------------------------------------

// Kind selects the payload shape and ordering rule of an entry list.
type Kind int

const (
	KindBid Kind = iota + 1
	KindChat
)

func (k Kind) String() string {
	switch k {
	case KindBid:
		return "bid"
	case KindChat:
		return "chat"
	default:
		return "unknown"
	}
}

// Actor is the user who placed a bid or sent a message.
type Actor struct {
	ID       ID     `json:"id"`
	Username string `json:"username,omitempty"`
}

// Payload is the user-visible content of an entry.
// Bids use Amount, chat messages use Content.
type Payload struct {
	Amount  Amount
	Content string
	Actor   Actor
}

// Entry is a bid or chat message. An entry is either provisional (created
// locally, awaiting confirmation, no server identity) or confirmed (carries
// the server identity).
type Entry struct {
	ID          ID        // Server identity, empty while provisional
	Token       string    // Correlation token, empty for entries created elsewhere
	Payload     Payload   // Amount+bidder or content+sender
	Timestamp   time.Time // Server time once confirmed, local time while provisional
	Provisional bool      // True until a matching confirmed entry is observed
}

// NewProvisional creates a locally-originated entry awaiting confirmation.
func NewProvisional(token string, p Payload, at time.Time) Entry {
	return Entry{
		Token:       token,
		Payload:     p,
		Timestamp:   at,
		Provisional: true,
	}
}

// NewConfirmed creates a server-acknowledged entry.
func NewConfirmed(id ID, token string, p Payload, at time.Time) Entry {
	return Entry{
		ID:        id,
		Token:     token,
		Payload:   p,
		Timestamp: at,
	}
}

// SameSignature reports whether two entries carry the same payload and actor.
// It is the fallback correlation rule when no token is available.
func (e Entry) SameSignature(o Entry, kind Kind) bool {
	if e.Payload.Actor.ID != o.Payload.Actor.ID {
		return false
	}
	switch kind {
	case KindBid:
		return e.Payload.Amount == o.Payload.Amount
	case KindChat:
		return e.Payload.Content == o.Payload.Content
	default:
		return false
	}
}

// -----------------------------------------------------------------------------
// Notifications
// -----------------------------------------------------------------------------

// NotificationKind classifies a user notification.
type NotificationKind string

const (
	NotifyOutbid       NotificationKind = "outbid"
	NotifyAuctionWon   NotificationKind = "auction_won"
	NotifyAuctionEnded NotificationKind = "auction_ended"
)

// Notification is a user-facing event pushed on a notifications topic.
type Notification struct {
	ID             string           // Server-supplied identity (notification_id), optional
	Kind           NotificationKind // outbid, auction_won, auction_ended
	Subject        string           // Auction id
	UserID         ID               // Recipient, empty when implied by the topic
	Timestamp      string           // Server timestamp as sent; part of the derived identity
	PreviousAmount Amount           // outbid: the user's bid
	NewAmount      Amount           // outbid: the bid that beat it
	FinalPrice     Amount           // auction_won / auction_ended
	Actor          string           // outbid: who outbid, auction_ended: winner
	HasWinner      bool             // auction_ended
	ConversationID ID               // auction_won / auction_ended: chat with the counterparty
	Raw            json.RawMessage  // Original frame
}

// Identity returns the dedup key: the server id when present, otherwise the
// derived (kind, subject, timestamp) key.
func (n Notification) Identity() string {
	if n.ID != "" {
		return n.ID
	}
	return fmt.Sprintf("%s_%s_%s", n.Kind, n.Subject, n.Timestamp)
}
