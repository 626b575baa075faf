package model

import (
	"errors"
	"testing"
	"time"
)

var testTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestTopic_Path(t *testing.T) {
	tests := []struct {
		topic   Topic
		want    string
		wantErr bool
	}{
		{AuctionTopic("42"), "auction/42", false},
		{ChatTopic("7"), "chat/7", false},
		{NotificationsTopic("3"), "notifications", false},
		{ChatNotificationsTopic("3"), "chat-notifications", false},
		{AuctionsTopic, "auctions", false},
		{Topic("auction:"), "", true},
		{Topic("auction:1/2"), "", true},
		{Topic("bogus:1"), "", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.topic), func(t *testing.T) {
			got, err := tt.topic.Path()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTopic) {
					t.Errorf("Path() error = %v, want ErrInvalidTopic", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Path() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Path() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTopic_ClassID(t *testing.T) {
	topic := AuctionTopic("42")
	if topic.Class() != ClassAuction || topic.ID() != "42" {
		t.Errorf("Class/ID = %q/%q", topic.Class(), topic.ID())
	}
	if AuctionsTopic.ID() != "" {
		t.Errorf("AuctionsTopic.ID() = %q, want empty", AuctionsTopic.ID())
	}
}
