// Package service orchestrates dispatch runs over due scheduled messages.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/coursard/messaging/internal/model"
	"github.com/coursard/messaging/internal/protocol"
	"github.com/coursard/messaging/internal/recurrence"
	"github.com/coursard/messaging/internal/repo"
)

// DeliveryProtocol is the per-recipient send surface the dispatcher drives.
type DeliveryProtocol interface {
	Send(ctx context.Context, to string, msg protocol.Message) (*protocol.Result, error)
}

// Summary aggregates one dispatch run. Per-record failures land in Failed;
// they never abort the run.
type Summary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// AdHocMessage is a one-off send outside the scheduled flow. It never touches
// the scheduled-message store.
type AdHocMessage struct {
	Recipients model.StringList `json:"recipients"`
	Body       string           `json:"body"`
	Template   *model.Template  `json:"template,omitempty"`
}

type Dispatcher struct {
	store       repo.ScheduledMessageRepository
	proto       DeliveryProtocol
	batchSize   int
	concurrency int
	now         func() time.Time

	// onSent fires after a record is marked sent, with the provider ids of
	// every transmitted message. Errors from the hook are ignored.
	onSent func(ctx context.Context, id string, providerIDs []string, sentAt time.Time) error
}

func NewDispatcher(store repo.ScheduledMessageRepository, proto DeliveryProtocol, batchSize, concurrency int) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Dispatcher{
		store:       store,
		proto:       proto,
		batchSize:   batchSize,
		concurrency: concurrency,
		now:         time.Now,
	}
}

func (d *Dispatcher) WithSentHook(fn func(ctx context.Context, id string, providerIDs []string, sentAt time.Time) error) *Dispatcher {
	d.onSent = fn
	return d
}

// WithClock overrides the clock. Tests only.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Run claims every due pending record and processes each independently:
// recipients strictly in order with fail-fast per record, terminal status
// written per record, and — on success — the next recurrence occurrence
// spawned. Only infrastructure failures (the claim itself) return an error.
func (d *Dispatcher) Run(ctx context.Context) (Summary, error) {
	due, err := d.store.ClaimDue(ctx, d.now(), d.batchSize)
	if err != nil {
		return Summary{}, fmt.Errorf("claim due messages: %w", err)
	}
	if len(due) == 0 {
		return Summary{}, nil
	}

	var succeeded, failed atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(d.concurrency)
	for i := range due {
		m := due[i]
		g.Go(func() error {
			if d.processOne(ctx, &m) {
				succeeded.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return Summary{
		Processed: len(due),
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
	}, nil
}

// Send delivers an ad-hoc message to its recipients in order, fail-fast, and
// returns the provider ids of everything transmitted.
func (d *Dispatcher) Send(ctx context.Context, msg AdHocMessage) ([]string, error) {
	return d.deliver(ctx, msg.Recipients, protocol.Message{Body: msg.Body, Template: msg.Template})
}

func (d *Dispatcher) processOne(ctx context.Context, m *model.ScheduledMessage) bool {
	providerIDs, err := d.deliver(ctx, m.Recipients, protocol.Message{Body: m.Body, Template: m.Template})
	if err != nil {
		slog.Error("scheduled message failed", "id", m.ID, "error", err)
		if markErr := d.store.MarkFailed(ctx, m.ID, err.Error()); markErr != nil {
			slog.Error("mark failed", "id", m.ID, "error", markErr)
		}
		return false
	}

	sentAt := d.now()
	if markErr := d.store.MarkSent(ctx, m.ID, sentAt); markErr != nil {
		slog.Error("mark sent", "id", m.ID, "error", markErr)
	}
	if d.onSent != nil {
		_ = d.onSent(ctx, m.ID, providerIDs, sentAt)
	}

	// Delivery is settled at this point; anything that goes wrong while
	// spawning the next occurrence stays inside scheduleNext.
	d.scheduleNext(ctx, m, sentAt)
	return true
}

func (d *Dispatcher) deliver(ctx context.Context, recipients model.StringList, msg protocol.Message) ([]string, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients")
	}

	var providerIDs []string
	for _, to := range recipients {
		res, err := d.proto.Send(ctx, to, msg)
		if err != nil {
			return nil, fmt.Errorf("send to %s: %w", to, err)
		}
		providerIDs = append(providerIDs, res.MessageIDs...)
	}
	return providerIDs, nil
}

func (d *Dispatcher) scheduleNext(ctx context.Context, m *model.ScheduledMessage, sentAt time.Time) {
	if !m.IsRecurring || m.Recurrence.IsNone() {
		return
	}

	next, ok := recurrence.Next(m.ScheduledAt, m.Recurrence)
	if !ok {
		return
	}

	rootID := m.RootID()
	clone := &model.ScheduledMessage{
		ID:          uuid.NewString(),
		Recipients:  m.Recipients,
		Body:        m.Body,
		Template:    m.Template,
		ScheduledAt: next,
		Status:      model.Pending,
		IsRecurring: true,
		Recurrence:  m.Recurrence,
		ParentID:    &rootID,
		CreatedAt:   sentAt,
		UpdatedAt:   sentAt,
	}

	if err := d.store.Create(ctx, clone); err != nil {
		slog.Error("spawn next occurrence", "id", m.ID, "next", next, "error", err)
		return
	}
	if err := d.store.TouchLastOccurrence(ctx, rootID, sentAt); err != nil {
		slog.Error("touch last occurrence", "root_id", rootID, "error", err)
	}

	slog.Info("next occurrence scheduled",
		"id", m.ID,
		"next_id", clone.ID,
		"root_id", rootID,
		"scheduled_at", next,
	)
}
