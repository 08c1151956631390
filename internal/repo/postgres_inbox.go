package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/coursard/messaging/internal/model"
)

type PostgresInboxEventRepo struct {
	db *sql.DB
}

func NewPostgresInboxEventRepo(db *sql.DB) *PostgresInboxEventRepo {
	return &PostgresInboxEventRepo{db: db}
}

func (r *PostgresInboxEventRepo) Append(ctx context.Context, ev *model.InboxEvent) error {
	var raw any
	if len(ev.Raw) > 0 {
		raw = string(ev.Raw)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO inbox_events (
			id, direction, occurred_at, from_addr, to_addr, event_type, text_summary, raw_payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		ev.ID,
		string(ev.Direction),
		ev.Timestamp.UTC(),
		ev.From,
		ev.To,
		string(ev.Type),
		ev.Text,
		raw,
	)
	return err
}

func (r *PostgresInboxEventRepo) MostRecentInbound(ctx context.Context, from string) (*model.InboxEvent, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, direction, occurred_at, from_addr, to_addr, event_type, text_summary, raw_payload
		FROM inbox_events
		WHERE direction = 'inbound' AND from_addr = $1
		ORDER BY occurred_at DESC
		LIMIT 1
	`, from)

	var (
		ev        model.InboxEvent
		direction string
		evType    string
		raw       sql.NullString
	)
	if err := row.Scan(
		&ev.ID,
		&direction,
		&ev.Timestamp,
		&ev.From,
		&ev.To,
		&evType,
		&ev.Text,
		&raw,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	ev.Direction = model.Direction(direction)
	ev.Type = model.EventType(evType)
	if raw.Valid {
		ev.Raw = []byte(raw.String)
	}
	return &ev, nil
}
