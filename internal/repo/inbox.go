package repo

import (
	"context"

	"github.com/coursard/messaging/internal/model"
)

// InboxEventRepository is the append-only channel event log. Events are never
// updated or deleted here; "most recent" is by event timestamp descending.
type InboxEventRepository interface {
	Append(ctx context.Context, ev *model.InboxEvent) error

	// MostRecentInbound returns the newest inbound event sent by from, or
	// (nil, nil) when no such event exists.
	MostRecentInbound(ctx context.Context, from string) (*model.InboxEvent, error)
}
