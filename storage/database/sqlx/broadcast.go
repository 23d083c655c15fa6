package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/shulelink/backend/core/messaging"
)

type (
	broadcastRow struct {
		ID              string      `db:"id"`
		SenderID        string      `db:"sender_id"`
		SenderName      string      `db:"sender_name"`
		ClassName       string      `db:"class_name"`
		Content         string      `db:"content"`
		Category        null.String `db:"category"`
		TotalRecipients int         `db:"total_recipients"`
		DeliveredCount  int         `db:"delivered_count"`
		ReadCount       int         `db:"read_count"`
		CreatedAt       null.Time   `db:"created_at"`
	}

	broadcastRecipientRow struct {
		BroadcastID string    `db:"broadcast_id"`
		StudentID   string    `db:"student_id"`
		Delivered   bool      `db:"delivered"`
		Read        bool      `db:"read"`
		DeliveredAt null.Time `db:"delivered_at"`
		ReadAt      null.Time `db:"read_at"`
	}
)

func (r broadcastRow) toBroadcast() messaging.Broadcast {
	return messaging.Broadcast{
		ID:              r.ID,
		SenderID:        r.SenderID,
		SenderName:      r.SenderName,
		ClassName:       r.ClassName,
		Content:         r.Content,
		Category:        r.Category.String,
		TotalRecipients: r.TotalRecipients,
		DeliveredCount:  r.DeliveredCount,
		ReadCount:       r.ReadCount,
		CreatedAt:       r.CreatedAt.Time,
	}
}

func (r broadcastRecipientRow) toRecipient() messaging.BroadcastRecipient {
	rec := messaging.BroadcastRecipient{
		BroadcastID: r.BroadcastID,
		StudentID:   r.StudentID,
		Delivered:   r.Delivered,
		Read:        r.Read,
	}
	if r.DeliveredAt.Valid {
		t := r.DeliveredAt.Time
		rec.DeliveredAt = &t
	}
	if r.ReadAt.Valid {
		t := r.ReadAt.Time
		rec.ReadAt = &t
	}
	return rec
}

// aggregates are recomputed from the recipient rows on every read; the
// parent row is never trusted to carry live counters.
const broadcastSelect = `
	SELECT b.id, b.sender_id, b.sender_name, b.class_name, b.content, b.category, b.created_at,
	       COUNT(r.student_id)                      AS total_recipients,
	       COUNT(*) FILTER (WHERE r.delivered)      AS delivered_count,
	       COUNT(*) FILTER (WHERE r.read)           AS read_count
	FROM broadcast b
	LEFT JOIN broadcast_recipient r ON r.broadcast_id = b.id`

type broadcastRepository struct {
	db *sqlx.DB
}

var _ messaging.BroadcastRepository = (*broadcastRepository)(nil)

func NewBroadcastRepository(db *sqlx.DB) messaging.BroadcastRepository {
	return &broadcastRepository{db: db}
}

func (repo *broadcastRepository) CreateBroadcast(ctx context.Context, b messaging.Broadcast, recipients []messaging.BroadcastRecipient) (messaging.Broadcast, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return messaging.Broadcast{}, errors.Wrap(err, "beginning tx")
	}
	defer func() { _ = tx.Rollback() }()

	const parentQ = `
		INSERT INTO broadcast (id, sender_id, sender_name, class_name, content, category, total_recipients, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = tx.ExecContext(ctx, parentQ,
		b.ID, b.SenderID, b.SenderName, b.ClassName, b.Content,
		null.NewString(b.Category, b.Category != ""),
		b.TotalRecipients, b.CreatedAt.UTC(),
	)
	if err != nil {
		return messaging.Broadcast{}, errors.Wrap(err, "inserting broadcast")
	}

	const recipientQ = `
		INSERT INTO broadcast_recipient (broadcast_id, student_id, delivered, read)
		VALUES ($1, $2, FALSE, FALSE)`
	for _, r := range recipients {
		if _, err = tx.ExecContext(ctx, recipientQ, b.ID, r.StudentID); err != nil {
			return messaging.Broadcast{}, errors.Wrap(err, "inserting broadcast recipient")
		}
	}

	if err = tx.Commit(); err != nil {
		return messaging.Broadcast{}, errors.Wrap(err, "committing broadcast")
	}
	return b, nil
}

func (repo *broadcastRepository) GetBroadcastByID(ctx context.Context, id string) (messaging.Broadcast, error) {
	var row broadcastRow
	const q = broadcastSelect + `
		WHERE b.id = $1
		GROUP BY b.id, b.sender_id, b.sender_name, b.class_name, b.content, b.category, b.created_at`
	if err := repo.db.GetContext(ctx, &row, q, id); err != nil {
		if err == sql.ErrNoRows {
			return messaging.Broadcast{}, messaging.ErrBroadcastNotFound
		}
		return messaging.Broadcast{}, errors.Wrap(err, "getting broadcast")
	}
	return row.toBroadcast(), nil
}

func (repo *broadcastRepository) QueryBroadcastRecipients(ctx context.Context, broadcastID string) ([]messaging.BroadcastRecipient, error) {
	var rows []broadcastRecipientRow
	const q = `SELECT * FROM broadcast_recipient WHERE broadcast_id = $1 ORDER BY student_id`
	if err := repo.db.SelectContext(ctx, &rows, q, broadcastID); err != nil {
		return nil, errors.Wrap(err, "querying broadcast recipients")
	}
	recipients := make([]messaging.BroadcastRecipient, 0, len(rows))
	for _, row := range rows {
		recipients = append(recipients, row.toRecipient())
	}
	return recipients, nil
}

func (repo *broadcastRepository) QueryStudentBroadcasts(ctx context.Context, studentID string) ([]messaging.Broadcast, error) {
	var rows []broadcastRow
	const q = broadcastSelect + `
		WHERE b.id IN (SELECT broadcast_id FROM broadcast_recipient WHERE student_id = $1 AND delivered)
		GROUP BY b.id, b.sender_id, b.sender_name, b.class_name, b.content, b.category, b.created_at
		ORDER BY b.created_at DESC`
	if err := repo.db.SelectContext(ctx, &rows, q, studentID); err != nil {
		return nil, errors.Wrap(err, "querying student broadcasts")
	}
	broadcasts := make([]messaging.Broadcast, 0, len(rows))
	for _, row := range rows {
		broadcasts = append(broadcasts, row.toBroadcast())
	}
	return broadcasts, nil
}

func (repo *broadcastRepository) MarkBroadcastDelivered(ctx context.Context, broadcastID, studentID string, at time.Time) error {
	const q = `
		UPDATE broadcast_recipient SET delivered = TRUE, delivered_at = COALESCE(delivered_at, $3)
		WHERE broadcast_id = $1 AND student_id = $2`
	res, err := repo.db.ExecContext(ctx, q, broadcastID, studentID, at.UTC())
	if err != nil {
		return errors.Wrap(err, "marking broadcast delivered")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return messaging.ErrBroadcastNotFound
	}
	return nil
}

func (repo *broadcastRepository) MarkBroadcastRead(ctx context.Context, broadcastID, studentID string, at time.Time) error {
	const q = `
		UPDATE broadcast_recipient SET read = TRUE, read_at = COALESCE(read_at, $3)
		WHERE broadcast_id = $1 AND student_id = $2`
	res, err := repo.db.ExecContext(ctx, q, broadcastID, studentID, at.UTC())
	if err != nil {
		return errors.Wrap(err, "marking broadcast read")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return messaging.ErrBroadcastNotFound
	}
	return nil
}
