package emailsvc

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/shulelink/backend/core"
	"github.com/shulelink/backend/core/notification"
)

// notificationSender delivers in-app notifications over email.
type notificationSender struct {
	svc         core.EmailService
	frontendURL string
}

var _ notification.Sender = (*notificationSender)(nil)

func NewNotificationSender(conf *core.Config, svc core.EmailService) notification.Sender {
	return &notificationSender{
		svc:         svc,
		frontendURL: conf.FrontendBaseURL,
	}
}

func (s notificationSender) Deliver(ctx context.Context, note notification.Notification, recipientEmail, recipientName string) error {
	msg := &core.EmailMessage{
		To:          []mail.Address{{Name: recipientName, Address: recipientEmail}},
		Subject:     note.Title,
		TextContent: note.Content,
	}
	if note.ActionURL != "" {
		msg.TextContent += fmt.Sprintf("\n\n%s%s", s.frontendURL, note.ActionURL)
	}
	return s.svc.SendMessage(ctx, msg)
}
