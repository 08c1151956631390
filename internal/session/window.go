// Package session derives the provider's customer-care window state from the
// channel event log.
package session

import (
	"context"
	"time"

	"github.com/coursard/messaging/internal/repo"
)

// Window is how long the provider keeps a session open after the recipient's
// last inbound message.
const Window = 24 * time.Hour

// Tracker answers whether free-text delivery is currently allowed for an
// address. It reads the log on every call; the window can open mid-run via a
// concurrent inbound webhook, so the answer must never be cached.
type Tracker struct {
	inbox repo.InboxEventRepository
}

func NewTracker(inbox repo.InboxEventRepository) *Tracker {
	return &Tracker{inbox: inbox}
}

func (t *Tracker) IsOpen(ctx context.Context, address string, now time.Time) (bool, error) {
	ev, err := t.inbox.MostRecentInbound(ctx, address)
	if err != nil {
		return false, err
	}
	if ev == nil {
		return false, nil
	}
	return now.Sub(ev.Timestamp) < Window, nil
}
