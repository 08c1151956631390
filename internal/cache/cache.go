package cache

import (
	"context"
	"time"
)

// DispatchCache records delivered scheduled messages for quick lookup by
// support tooling without hitting the primary store.
type DispatchCache interface {
	StoreSent(ctx context.Context, scheduledID string, providerMessageIDs []string, sentAt time.Time) error
}
