package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/rickgao/bidsync/internal/connection"
	"github.com/rickgao/bidsync/internal/feed"
	"github.com/rickgao/bidsync/internal/model"
)

// printer writes feed activity as text lines. Each confirmed entry is
// printed once per topic.
type printer struct {
	mu   sync.Mutex
	out  io.Writer
	seen map[string]struct{}
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, seen: make(map[string]struct{})}
}

func (p *printer) bids(s feed.BidSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Newest bids sort first; print oldest unseen first.
	for i := len(s.Entries) - 1; i >= 0; i-- {
		e := s.Entries[i]
		if !p.firstSight(model.AuctionTopic(s.AuctionID), e) {
			continue
		}
		fmt.Fprintf(p.out, "auction %s: bid %s by %s (price %s)\n",
			s.AuctionID, e.Payload.Amount, actorName(e.Payload.Actor), s.CurrentPrice)
	}
}

func (p *printer) chat(s feed.ChatSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range s.Entries {
		if !p.firstSight(model.ChatTopic(s.ConversationID), e) {
			continue
		}
		fmt.Fprintf(p.out, "chat %s: %s: %s\n", s.ConversationID, actorName(e.Payload.Actor), e.Payload.Content)
	}
}

func (p *printer) status(st connection.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s: %s\n", st.Topic, st)
}

func (p *printer) notification(n model.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, describeNotification(n))
}

func (p *printer) firstSight(topic model.Topic, e model.Entry) bool {
	if e.Provisional || e.ID == "" {
		return false
	}
	key := string(topic) + "/" + string(e.ID)
	if _, ok := p.seen[key]; ok {
		return false
	}
	p.seen[key] = struct{}{}
	return true
}

func actorName(a model.Actor) string {
	if a.Username != "" {
		return a.Username
	}
	if a.ID != "" {
		return "user " + string(a.ID)
	}
	return "unknown"
}

// describeNotification renders a notification as one line.
func describeNotification(n model.Notification) string {
	switch n.Kind {
	case model.NotifyOutbid:
		line := fmt.Sprintf("auction %s: outbid, your %s bid was beaten by %s", n.Subject, n.PreviousAmount, n.NewAmount)
		if n.Actor != "" {
			line += " from " + n.Actor
		}
		return line
	case model.NotifyAuctionWon:
		line := fmt.Sprintf("auction %s: won at %s", n.Subject, n.FinalPrice)
		if n.ConversationID != "" {
			line += fmt.Sprintf(" (chat %s)", n.ConversationID)
		}
		return line
	case model.NotifyAuctionEnded:
		if !n.HasWinner {
			return fmt.Sprintf("auction %s: ended without a winner", n.Subject)
		}
		return fmt.Sprintf("auction %s: ended, sold to %s at %s", n.Subject, n.Actor, n.FinalPrice)
	default:
		return fmt.Sprintf("auction %s: %s", n.Subject, n.Kind)
	}
}
