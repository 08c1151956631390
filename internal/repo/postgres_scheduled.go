package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/coursard/messaging/internal/model"
)

type PostgresScheduledMessageRepo struct {
	db *sql.DB
}

func NewPostgresScheduledMessageRepo(db *sql.DB) *PostgresScheduledMessageRepo {
	return &PostgresScheduledMessageRepo{db: db}
}

const scheduledColumns = `
	id, recipients, body, template_name, template_language, template_variables,
	scheduled_at, status, is_recurring, recurrence_rule, last_occurrence,
	parent_id, error_message, sent_at, created_at, updated_at
`

func (r *PostgresScheduledMessageRepo) Create(ctx context.Context, m *model.ScheduledMessage) error {
	var (
		tplName sql.NullString
		tplLang sql.NullString
		tplVars any
	)
	if m.Template != nil {
		tplName = sql.NullString{String: m.Template.Name, Valid: true}
		tplLang = sql.NullString{String: m.Template.Language, Valid: m.Template.Language != ""}
		tplVars = m.Template.Variables
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scheduled_messages (
			id, recipients, body, template_name, template_language, template_variables,
			scheduled_at, status, is_recurring, recurrence_rule, parent_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		m.ID,
		m.Recipients,
		m.Body,
		tplName,
		tplLang,
		tplVars,
		m.ScheduledAt,
		string(m.Status),
		m.IsRecurring,
		m.Recurrence,
		nullableString(m.ParentID),
		m.CreatedAt,
		m.UpdatedAt,
	)
	return err
}

func (r *PostgresScheduledMessageRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.ScheduledMessage, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+scheduledColumns+`
		FROM scheduled_messages
		WHERE status = 'pending' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $2
	`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []model.ScheduledMessage
	for rows.Next() {
		m, err := scanScheduled(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(msgs) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	claimedAt := time.Now().UTC()
	for _, m := range msgs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE scheduled_messages
			SET status = 'processing', updated_at = $2
			WHERE id = $1
		`, m.ID, claimedAt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for i := range msgs {
		msgs[i].Status = model.Processing
		msgs[i].UpdatedAt = claimedAt
	}
	return msgs, nil
}

func (r *PostgresScheduledMessageRepo) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_messages
		SET status = 'sent',
		    sent_at = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, sentAt.UTC())
	return err
}

func (r *PostgresScheduledMessageRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_messages
		SET status = 'failed',
		    error_message = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, errMsg)
	return err
}

func (r *PostgresScheduledMessageRepo) TouchLastOccurrence(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_messages
		SET last_occurrence = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, at.UTC())
	return err
}

func (r *PostgresScheduledMessageRepo) ListSent(ctx context.Context, limit, offset int) ([]model.ScheduledMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+scheduledColumns+`
		FROM scheduled_messages
		WHERE status = 'sent'
		ORDER BY sent_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ScheduledMessage
	for rows.Next() {
		m, err := scanScheduled(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanScheduled(rows *sql.Rows) (*model.ScheduledMessage, error) {
	var (
		m         model.ScheduledMessage
		status    string
		tplName   sql.NullString
		tplLang   sql.NullString
		tplVars   model.StringList
		lastOcc   sql.NullTime
		parentID  sql.NullString
		errMsg    sql.NullString
		sentAt    sql.NullTime
	)

	if err := rows.Scan(
		&m.ID,
		&m.Recipients,
		&m.Body,
		&tplName,
		&tplLang,
		&tplVars,
		&m.ScheduledAt,
		&status,
		&m.IsRecurring,
		&m.Recurrence,
		&lastOcc,
		&parentID,
		&errMsg,
		&sentAt,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}

	m.Status = model.Status(status)

	if tplName.Valid {
		m.Template = &model.Template{
			Name:      tplName.String,
			Language:  tplLang.String,
			Variables: tplVars,
		}
	}
	if lastOcc.Valid {
		t := lastOcc.Time
		m.LastOccurrence = &t
	}
	if parentID.Valid {
		s := parentID.String
		m.ParentID = &s
	}
	if errMsg.Valid {
		s := errMsg.String
		m.ErrorMessage = &s
	}
	if sentAt.Valid {
		t := sentAt.Time
		m.SentAt = &t
	}

	return &m, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
