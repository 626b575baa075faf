package api

import (
	"encoding/json"
	"fmt"

	"github.com/rickgao/bidsync/internal/model"
	"github.com/rickgao/bidsync/internal/wire"
)

// Conversation is a chat conversation with its message history.
type Conversation struct {
	ID           model.ID
	CarID        model.ID
	Participants []model.Actor
	Messages     []model.Entry
}

type conversationResponse struct {
	ID           model.ID       `json:"id"`
	Car          model.ID       `json:"car"`
	Participants []model.Actor  `json:"participants"`
	Messages     []wire.Message `json:"messages"`
}

type placeBidRequest struct {
	Car    model.ID     `json:"car"`
	Amount model.Amount `json:"amount"`
	Token  string       `json:"correlation_token,omitempty"`
}

type postMessageRequest struct {
	Content string `json:"content"`
	Token   string `json:"correlation_token,omitempty"`
}

// listOf decodes either a bare JSON array or a paginated {"results": [...]}
// envelope.
func listOf[T any](data []byte) ([]T, error) {
	var items []T
	if err := json.Unmarshal(data, &items); err == nil {
		return items, nil
	}

	var page struct {
		Results []T `json:"results"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("unmarshal list: %w", err)
	}
	return page.Results, nil
}
