package api

import (
	"context"
	"fmt"

	"github.com/rickgao/bidsync/internal/model"
	"github.com/rickgao/bidsync/internal/wire"
)

// FetchConversation returns a conversation with its messages.
func (c *Client) FetchConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	var resp conversationResponse
	if err := c.get(ctx, "/chat/conversations/"+conversationID+"/", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch conversation %s: %w", conversationID, err)
	}

	conv := &Conversation{
		ID:           resp.ID,
		CarID:        resp.Car,
		Participants: resp.Participants,
		Messages:     make([]model.Entry, 0, len(resp.Messages)),
	}
	for _, m := range resp.Messages {
		if m.ID == "" {
			continue
		}
		conv.Messages = append(conv.Messages, m.Entry())
	}
	return conv, nil
}

// FetchMessages returns only the message history of a conversation.
func (c *Client) FetchMessages(ctx context.Context, conversationID string) ([]model.Entry, error) {
	conv, err := c.FetchConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return conv.Messages, nil
}

// PostMessage sends a chat message. The returned entry carries token so it
// reconciles with the provisional entry.
func (c *Client) PostMessage(ctx context.Context, conversationID, content, token string) (model.Entry, error) {
	req := postMessageRequest{Content: content, Token: token}

	var msg wire.Message
	path := "/chat/conversations/" + conversationID + "/messages/"
	if err := c.post(ctx, path, req, &msg); err != nil {
		return model.Entry{}, fmt.Errorf("post message %s: %w", conversationID, err)
	}
	if msg.ID == "" {
		return model.Entry{}, fmt.Errorf("post message %s: response carries no message id", conversationID)
	}
	if msg.Token == "" {
		msg.Token = token
	}
	return msg.Entry(), nil
}
