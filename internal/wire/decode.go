package wire

import (
	"encoding/json"
	"fmt"

	"github.com/rickgao/bidsync/internal/model"
)

// Decode parses a raw frame. Frames that are not JSON objects, lack a type,
// or lack the fields their type requires return an error wrapping
// ErrMalformed. Unrecognized types return ErrUnknownType.
func Decode(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	switch env.Type {
	case TypeBidUpdate:
		return decodeBidUpdate(data)
	case TypeBidsList:
		var w bidsListWire
		if err := unmarshal(data, &w); err != nil {
			return nil, err
		}
		if w.Bids == nil {
			return nil, fmt.Errorf("%w: bids_list without bids", ErrMalformed)
		}
		return BidsList{Bids: *w.Bids}, nil
	case TypeMessage, TypeMessageSent:
		return decodeMessage(env.Type, data)
	case TypeAuctionState:
		var w auctionStateWire
		if err := unmarshal(data, &w); err != nil {
			return nil, err
		}
		if w.CurrentPrice == nil {
			return nil, fmt.Errorf("%w: auction_state without current_price", ErrMalformed)
		}
		return AuctionState{CurrentPrice: *w.CurrentPrice}, nil
	case TypeOutbid, TypeOutbidNotification, TypeAuctionWon, TypeAuctionEnded:
		return decodeNotification(data)
	case TypePing:
		return Ping{}, nil
	case TypePong:
		return Pong{}, nil
	case TypeError:
		var w errorWire
		if err := unmarshal(data, &w); err != nil {
			return nil, err
		}
		return ServerError{Message: w.Message}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// Encode serializes an outbound frame.
func Encode(o Outbound) ([]byte, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", o.FrameType(), err)
	}
	return data, nil
}

func unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func decodeBidUpdate(data []byte) (Inbound, error) {
	var w bidUpdateWire
	if err := unmarshal(data, &w); err != nil {
		return nil, err
	}
	if w.Bid == nil || w.Bid.ID == "" {
		return nil, fmt.Errorf("%w: bid_update without bid id", ErrMalformed)
	}
	bid := *w.Bid
	if bid.Token == "" {
		bid.Token = firstNonEmpty(w.Token, w.TempID)
	}
	return BidUpdate{Bid: bid}, nil
}

func decodeMessage(typ string, data []byte) (Inbound, error) {
	var w messageWire
	if err := unmarshal(data, &w); err != nil {
		return nil, err
	}
	if w.Message == nil || w.Message.ID == "" {
		return nil, fmt.Errorf("%w: %s without message id", ErrMalformed, typ)
	}
	msg := *w.Message
	if msg.Token == "" {
		msg.Token = firstNonEmpty(w.Token, w.TempID)
	}
	if typ == TypeMessageSent {
		return MessageSent{Message: msg}, nil
	}
	return ChatMessage{Message: msg}, nil
}

func decodeNotification(data []byte) (Inbound, error) {
	var w notificationWire
	if err := unmarshal(data, &w); err != nil {
		return nil, err
	}

	kind := model.NotificationKind(w.Type)
	if w.Type == TypeOutbidNotification {
		kind = model.NotifyOutbid
	}

	subject := string(firstNonEmptyID(w.Subject, w.AuctionID, w.CarID))
	if subject == "" {
		return nil, fmt.Errorf("%w: %s without subject", ErrMalformed, w.Type)
	}

	n := model.Notification{
		ID:             string(w.NotificationID),
		Kind:           kind,
		Subject:        subject,
		UserID:         w.UserID,
		Timestamp:      w.Timestamp,
		PreviousAmount: w.PreviousAmount,
		NewAmount:      w.NewAmount,
		FinalPrice:     w.FinalPrice,
		HasWinner:      w.HasWinner,
		ConversationID: w.ConversationID,
		Raw:            append(json.RawMessage(nil), data...),
	}
	if n.NewAmount == 0 {
		n.NewAmount = w.Amount
	}
	switch kind {
	case model.NotifyOutbid:
		n.Actor = firstNonEmpty(w.Actor, w.BidderUsername)
	case model.NotifyAuctionEnded:
		n.Actor = firstNonEmpty(w.WinnerName, w.Actor)
	default:
		n.Actor = w.Actor
	}
	return NotificationFrame{Notification: n}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmptyID(vals ...model.ID) model.ID {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
