package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTopic is returned for topics with an unknown class or missing id.
var ErrInvalidTopic = errors.New("invalid topic")

// Topic identifies one logical stream, e.g. auction:42.
type Topic string

// Topic classes.
const (
	ClassAuction           = "auction"
	ClassAuctions          = "auctions"
	ClassChat              = "chat"
	ClassNotifications     = "notifications"
	ClassChatNotifications = "chat-notifications"
)

// AuctionTopic is the bid stream of one auction.
func AuctionTopic(id string) Topic { return Topic(ClassAuction + ":" + id) }

// ChatTopic is the message stream of one conversation.
func ChatTopic(conversationID string) Topic { return Topic(ClassChat + ":" + conversationID) }

// NotificationsTopic is the primary notification stream of a user.
func NotificationsTopic(userID string) Topic { return Topic(ClassNotifications + ":" + userID) }

// ChatNotificationsTopic is the fallback notification stream of a user.
func ChatNotificationsTopic(userID string) Topic {
	return Topic(ClassChatNotifications + ":" + userID)
}

// AuctionsTopic is the global auction list stream.
const AuctionsTopic Topic = ClassAuctions

// Class returns the part before the colon.
func (t Topic) Class() string {
	class, _, _ := strings.Cut(string(t), ":")
	return class
}

// ID returns the part after the colon, or "" for global topics.
func (t Topic) ID() string {
	_, id, _ := strings.Cut(string(t), ":")
	return id
}

// Path returns the server-side path segment for the topic (without slashes
// at the ends). User-scoped streams rely on the credential to identify the
// user, so their path carries no id.
func (t Topic) Path() (string, error) {
	class, id := t.Class(), t.ID()
	switch class {
	case ClassAuction, ClassChat:
		if id == "" || strings.Contains(id, "/") {
			return "", fmt.Errorf("%w: %q", ErrInvalidTopic, string(t))
		}
		return class + "/" + id, nil
	case ClassNotifications, ClassChatNotifications, ClassAuctions:
		return class, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTopic, string(t))
	}
}

// Validate checks that the topic maps to a server path.
func (t Topic) Validate() error {
	_, err := t.Path()
	return err
}
