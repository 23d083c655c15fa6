package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/shulelink/backend/core/notification"
)

type notificationRepository struct {
	db *DB
}

var _ notification.Repository = (*notificationRepository)(nil)

func NewNotificationRepository(db *DB) notification.Repository {
	return &notificationRepository{db: db}
}

func (repo *notificationRepository) CreateNotification(ctx context.Context, note notification.Notification) (notification.Notification, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	repo.db.notifications[note.ID] = &note
	return note, nil
}

func (repo *notificationRepository) QueryUserNotifications(ctx context.Context, userID string) ([]notification.Notification, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	notes := make([]notification.Notification, 0)
	for _, note := range repo.db.notifications {
		if note.TargetUserID == userID && !note.IsDismissed {
			notes = append(notes, *note)
		}
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].CreatedAt.After(notes[j].CreatedAt) })
	return notes, nil
}

func (repo *notificationRepository) MarkNotificationRead(ctx context.Context, id, userID string) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	note, ok := repo.db.notifications[id]
	if !ok || note.TargetUserID != userID {
		return notification.ErrNotFound
	}
	note.IsRead = true
	return nil
}

func (repo *notificationRepository) DismissNotification(ctx context.Context, id, userID string) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	note, ok := repo.db.notifications[id]
	if !ok || note.TargetUserID != userID {
		return notification.ErrNotFound
	}
	note.IsDismissed = true
	return nil
}

func (repo *notificationRepository) GetAlertLevel(ctx context.Context, studentID string) (notification.AlertLevel, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	return repo.db.alertMarks[studentID], nil
}

func (repo *notificationRepository) SetAlertLevel(ctx context.Context, studentID string, level notification.AlertLevel, at time.Time) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()
	repo.db.alertMarks[studentID] = level
	return nil
}
