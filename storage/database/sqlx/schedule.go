package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/shulelink/backend/core/messaging"
	"github.com/shulelink/backend/core/user"
)

type scheduledRow struct {
	ID           string    `db:"id"`
	SenderID     string    `db:"sender_id"`
	SenderRole   string    `db:"sender_role"`
	SenderName   string    `db:"sender_name"`
	Draft        []byte    `db:"draft"`
	ScheduledFor null.Time `db:"scheduled_for"`
	Status       string    `db:"status"`
	CreatedAt    null.Time `db:"created_at"`
	SentAt       null.Time `db:"sent_at"`
}

func (r scheduledRow) toScheduledMessage() (messaging.ScheduledMessage, error) {
	var draft messaging.NewMessage
	if err := json.Unmarshal(r.Draft, &draft); err != nil {
		return messaging.ScheduledMessage{}, errors.Wrap(err, "decoding draft")
	}
	sm := messaging.ScheduledMessage{
		ID:           r.ID,
		SenderID:     r.SenderID,
		SenderRole:   user.Role(r.SenderRole),
		SenderName:   r.SenderName,
		Draft:        draft,
		ScheduledFor: r.ScheduledFor.Time,
		Status:       messaging.ScheduledStatus(r.Status),
		CreatedAt:    r.CreatedAt.Time,
	}
	if r.SentAt.Valid {
		t := r.SentAt.Time
		sm.SentAt = &t
	}
	return sm, nil
}

type scheduleRepository struct {
	db *sqlx.DB
}

var _ messaging.ScheduleRepository = (*scheduleRepository)(nil)

func NewScheduleRepository(db *sqlx.DB) messaging.ScheduleRepository {
	return &scheduleRepository{db: db}
}

func (repo *scheduleRepository) CreateScheduledMessage(ctx context.Context, sm messaging.ScheduledMessage) (messaging.ScheduledMessage, error) {
	draft, err := json.Marshal(sm.Draft)
	if err != nil {
		return messaging.ScheduledMessage{}, errors.Wrap(err, "encoding draft")
	}
	const q = `
		INSERT INTO scheduled_message (id, sender_id, sender_role, sender_name, draft, scheduled_for, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = repo.db.ExecContext(ctx, q,
		sm.ID, sm.SenderID, sm.SenderRole.String(), sm.SenderName, draft,
		sm.ScheduledFor.UTC(), string(sm.Status), sm.CreatedAt.UTC(),
	)
	if err != nil {
		return messaging.ScheduledMessage{}, errors.Wrap(err, "inserting scheduled message")
	}
	return sm, nil
}

func (repo *scheduleRepository) GetScheduledMessageByID(ctx context.Context, id string) (messaging.ScheduledMessage, error) {
	var row scheduledRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM scheduled_message WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return messaging.ScheduledMessage{}, messaging.ErrScheduledNotFound
		}
		return messaging.ScheduledMessage{}, errors.Wrap(err, "getting scheduled message")
	}
	return row.toScheduledMessage()
}

func (repo *scheduleRepository) QueryDueScheduledMessages(ctx context.Context, now time.Time) ([]messaging.ScheduledMessage, error) {
	var rows []scheduledRow
	const q = `
		SELECT * FROM scheduled_message
		WHERE status = 'pending' AND scheduled_for <= $1
		ORDER BY scheduled_for`
	if err := repo.db.SelectContext(ctx, &rows, q, now.UTC()); err != nil {
		return nil, errors.Wrap(err, "querying due scheduled messages")
	}
	return repo.rowsToMessages(rows)
}

func (repo *scheduleRepository) QueryUserScheduledMessages(ctx context.Context, senderID string) ([]messaging.ScheduledMessage, error) {
	var rows []scheduledRow
	const q = `SELECT * FROM scheduled_message WHERE sender_id = $1 ORDER BY scheduled_for`
	if err := repo.db.SelectContext(ctx, &rows, q, senderID); err != nil {
		return nil, errors.Wrap(err, "querying user scheduled messages")
	}
	return repo.rowsToMessages(rows)
}

func (repo *scheduleRepository) rowsToMessages(rows []scheduledRow) ([]messaging.ScheduledMessage, error) {
	msgs := make([]messaging.ScheduledMessage, 0, len(rows))
	for _, row := range rows {
		sm, err := row.toScheduledMessage()
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, sm)
	}
	return msgs, nil
}

func (repo *scheduleRepository) TransitionScheduledMessage(ctx context.Context, id string, from, to messaging.ScheduledStatus, at time.Time) error {
	// compare-and-set on status resolves the cancel/dispatch race in the
	// store; the losing caller sees ErrScheduledNotPending.
	const q = `
		UPDATE scheduled_message
		SET status = $3, sent_at = CASE WHEN $3 = 'sent' THEN $4 ELSE sent_at END
		WHERE id = $1 AND status = $2`
	res, err := repo.db.ExecContext(ctx, q, id, string(from), string(to), at.UTC())
	if err != nil {
		return errors.Wrap(err, "transitioning scheduled message")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err = repo.db.GetContext(ctx, &exists, `SELECT TRUE FROM scheduled_message WHERE id = $1`, id); err != nil {
			if err == sql.ErrNoRows {
				return messaging.ErrScheduledNotFound
			}
			return errors.Wrap(err, "checking scheduled message")
		}
		return messaging.ErrScheduledNotPending
	}
	return nil
}
