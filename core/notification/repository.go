package notification

import (
	"context"
	"errors"
	"time"
)

var (
	// errors
	ErrNotFound = errors.New("notification not found")
)

type (
	// Sender delivers a notification to its recipient through an out-of-band
	// channel (email in production). Failures feed the retry queue.
	Sender interface {
		Deliver(ctx context.Context, note Notification, recipientEmail, recipientName string) error
	}

	Repository interface {
		CreateNotification(ctx context.Context, note Notification) (Notification, error)
		QueryUserNotifications(ctx context.Context, userID string) ([]Notification, error)
		MarkNotificationRead(ctx context.Context, id, userID string) error
		DismissNotification(ctx context.Context, id, userID string) error

		// Alert marks back the newly-crossed-threshold detection: the last
		// level a student was alerted at. Re-armed (set back to a lower
		// level) when the rate recovers.
		GetAlertLevel(ctx context.Context, studentID string) (AlertLevel, error)
		SetAlertLevel(ctx context.Context, studentID string, level AlertLevel, at time.Time) error
	}
)
