package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/bidsync/internal/connection"
	"github.com/rickgao/bidsync/internal/model"
)

var errStillPending = errors.New("still pending")

// wakeup coalesces notifications into at most one pending receive.
type wakeup chan struct{}

func newWakeup() wakeup { return make(wakeup, 1) }

func (s wakeup) notify() {
	select {
	case s <- struct{}{}:
	default:
	}
}

// onConnected notifies s whenever st reports connected.
func onConnected(s wakeup) func(connection.Status) {
	return func(st connection.Status) {
		if st.State == connection.StateConnected {
			s.notify()
		}
	}
}

// waitConnected waits up to d for the channel. It returns false on timeout,
// leaving the caller to go through the HTTP fallback.
func waitConnected(ctx context.Context, connected wakeup, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-connected:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// waitConfirmed waits until the entry carrying token is confirmed in the list
// returned by entries, rechecking whenever changed fires.
func waitConfirmed(ctx context.Context, token string, entries func() []model.Entry, changed wakeup, d time.Duration) (model.Entry, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		for _, e := range entries() {
			if e.Token == token && !e.Provisional {
				return e, nil
			}
		}

		select {
		case <-changed:
		case <-timer.C:
			return model.Entry{}, fmt.Errorf("%w after %s", errStillPending, d)
		case <-ctx.Done():
			return model.Entry{}, ctx.Err()
		}
	}
}
