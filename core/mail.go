package core

import (
	"bytes"
	"context"
	"net/mail"
)

type (
	EmailAttachment struct {
		Content     *bytes.Buffer
		ContentType string
		Filename    string
	}

	EmailMessage struct {
		To          []mail.Address
		Cc          []mail.Address
		Bcc         []mail.Address
		Subject     string
		TextContent string
		HTMLContent string
		Attachments []EmailAttachment
	}

	// EmailService is any service that can send emails.
	EmailService interface {
		// SendMessage sends a single message synchronously and reports failure;
		// delivery retries are the caller's concern.
		SendMessage(ctx context.Context, msg *EmailMessage) error
		// SendMessages sends messages concurrently, best-effort.
		SendMessages(messages ...*EmailMessage)
	}
)

func (m *EmailMessage) HasRecipients() bool {
	return len(m.To) > 0 || len(m.Cc) > 0 || len(m.Bcc) > 0
}

func (m *EmailMessage) HasContent() bool {
	return m.TextContent != "" || m.HTMLContent != ""
}

func (m *EmailMessage) HasAttachments() bool {
	return len(m.Attachments) > 0
}
