package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/shulelink/backend/core/notification"
	"github.com/shulelink/backend/core/user"
)

type notificationRow struct {
	ID             string      `db:"id"`
	TargetUserID   string      `db:"target_user_id"`
	TargetUserType string      `db:"target_user_type"`
	Title          string      `db:"title"`
	Content        string      `db:"content"`
	Category       null.String `db:"category"`
	Type           string      `db:"type"`
	Severity       string      `db:"severity"`
	CreatedAt      null.Time   `db:"created_at"`
	ExpiresAt      null.Time   `db:"expires_at"`
	IsRead         bool        `db:"is_read"`
	IsDismissed    bool        `db:"is_dismissed"`
	ActionURL      null.String `db:"action_url"`
}

func (r notificationRow) toNotification() notification.Notification {
	note := notification.Notification{
		ID:             r.ID,
		TargetUserID:   r.TargetUserID,
		TargetUserType: user.Role(r.TargetUserType),
		Title:          r.Title,
		Content:        r.Content,
		Category:       r.Category.String,
		Type:           notification.Type(r.Type),
		Severity:       notification.Severity(r.Severity),
		CreatedAt:      r.CreatedAt.Time,
		IsRead:         r.IsRead,
		IsDismissed:    r.IsDismissed,
		ActionURL:      r.ActionURL.String,
	}
	if r.ExpiresAt.Valid {
		t := r.ExpiresAt.Time
		note.ExpiresAt = &t
	}
	return note
}

type notificationRepository struct {
	db *sqlx.DB
}

var _ notification.Repository = (*notificationRepository)(nil)

func NewNotificationRepository(db *sqlx.DB) notification.Repository {
	return &notificationRepository{db: db}
}

func (repo *notificationRepository) CreateNotification(ctx context.Context, note notification.Notification) (notification.Notification, error) {
	const q = `
		INSERT INTO notification (id, target_user_id, target_user_type, title, content, category, type, severity,
		                          created_at, expires_at, is_read, is_dismissed, action_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE, FALSE, $11)`
	_, err := repo.db.ExecContext(ctx, q,
		note.ID, note.TargetUserID, note.TargetUserType.String(), note.Title, note.Content,
		null.NewString(note.Category, note.Category != ""),
		string(note.Type), string(note.Severity), note.CreatedAt.UTC(),
		null.TimeFromPtr(note.ExpiresAt),
		null.NewString(note.ActionURL, note.ActionURL != ""),
	)
	if err != nil {
		return notification.Notification{}, errors.Wrap(err, "inserting notification")
	}
	return note, nil
}

func (repo *notificationRepository) QueryUserNotifications(ctx context.Context, userID string) ([]notification.Notification, error) {
	var rows []notificationRow
	const q = `
		SELECT * FROM notification
		WHERE target_user_id = $1 AND NOT is_dismissed
		ORDER BY created_at DESC`
	if err := repo.db.SelectContext(ctx, &rows, q, userID); err != nil {
		return nil, errors.Wrap(err, "querying user notifications")
	}
	notes := make([]notification.Notification, 0, len(rows))
	for _, row := range rows {
		notes = append(notes, row.toNotification())
	}
	return notes, nil
}

func (repo *notificationRepository) MarkNotificationRead(ctx context.Context, id, userID string) error {
	const q = `UPDATE notification SET is_read = TRUE WHERE id = $1 AND target_user_id = $2`
	res, err := repo.db.ExecContext(ctx, q, id, userID)
	if err != nil {
		return errors.Wrap(err, "marking notification read")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notification.ErrNotFound
	}
	return nil
}

func (repo *notificationRepository) DismissNotification(ctx context.Context, id, userID string) error {
	const q = `UPDATE notification SET is_dismissed = TRUE WHERE id = $1 AND target_user_id = $2`
	res, err := repo.db.ExecContext(ctx, q, id, userID)
	if err != nil {
		return errors.Wrap(err, "dismissing notification")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notification.ErrNotFound
	}
	return nil
}

func (repo *notificationRepository) GetAlertLevel(ctx context.Context, studentID string) (notification.AlertLevel, error) {
	var level int
	const q = `SELECT level FROM attendance_alert_mark WHERE student_id = $1`
	if err := repo.db.GetContext(ctx, &level, q, studentID); err != nil {
		if err == sql.ErrNoRows {
			return notification.LevelNone, nil
		}
		return notification.LevelNone, errors.Wrap(err, "getting alert level")
	}
	return notification.AlertLevel(level), nil
}

func (repo *notificationRepository) SetAlertLevel(ctx context.Context, studentID string, level notification.AlertLevel, at time.Time) error {
	const q = `
		INSERT INTO attendance_alert_mark (student_id, level, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (student_id) DO UPDATE SET level = EXCLUDED.level, updated_at = EXCLUDED.updated_at`
	_, err := repo.db.ExecContext(ctx, q, studentID, int(level), at.UTC())
	return errors.Wrap(err, "setting alert level")
}
