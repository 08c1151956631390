package repo

import (
	"context"
	"time"

	"github.com/coursard/messaging/internal/model"
)

type ScheduledMessageRepository interface {
	// Create inserts a new scheduled message record.
	Create(ctx context.Context, m *model.ScheduledMessage) error

	// ClaimDue atomically flips up to limit pending records with
	// scheduled_at <= now into processing and returns them. Concurrent
	// dispatchers never claim the same record twice.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.ScheduledMessage, error)

	// MarkSent finalizes a record as sent. Terminal.
	MarkSent(ctx context.Context, id string, sentAt time.Time) error

	// MarkFailed finalizes a record as failed with the captured error text. Terminal.
	MarkFailed(ctx context.Context, id string, errMsg string) error

	// TouchLastOccurrence records on the chain root when its latest child was spawned.
	TouchLastOccurrence(ctx context.Context, id string, at time.Time) error

	ListSent(ctx context.Context, limit, offset int) ([]model.ScheduledMessage, error)
}
