package notification

import (
	"context"
)

type (
	Service interface {
		QueryUserNotifications(ctx context.Context, userID string) ([]Notification, error)
		MarkRead(ctx context.Context, id, userID string) error
		Dismiss(ctx context.Context, id, userID string) error
	}

	service struct {
		repo Repository
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (svc *service) QueryUserNotifications(ctx context.Context, userID string) ([]Notification, error) {
	return svc.repo.QueryUserNotifications(ctx, userID)
}

func (svc *service) MarkRead(ctx context.Context, id, userID string) error {
	return svc.repo.MarkNotificationRead(ctx, id, userID)
}

func (svc *service) Dismiss(ctx context.Context, id, userID string) error {
	return svc.repo.DismissNotification(ctx, id, userID)
}
