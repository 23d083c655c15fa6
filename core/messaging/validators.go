package messaging

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/shulelink/backend/core"
	"github.com/shulelink/backend/core/user"
)

type (
	// NewMessage is the send input; it doubles as the stored draft of a
	// scheduled message, which is why attachments are excluded from
	// serialization (scheduled drafts carry no attachments).
	NewMessage struct {
		ConversationID string       `json:"conversation_id,omitempty"`
		RecipientID    string       `json:"recipient_id" validate:"required"`
		RecipientType  user.Role    `json:"recipient_type" validate:"required,oneof=student teacher office"`
		Content        string       `json:"content"`
		Category       string       `json:"category,omitempty"`
		ReplyToID      string       `json:"reply_to_id,omitempty"`
		Attachments    []FileUpload `json:"-"`
	}

	NewBroadcast struct {
		ClassName string `json:"class_name" validate:"required"`
		Content   string `json:"content" validate:"required"`
		Category  string `json:"category,omitempty"`
	}

	NewScheduledMessage struct {
		NewMessage
		ScheduledFor time.Time `json:"scheduled_for" validate:"required"`
	}
)

func (nm *NewMessage) Validate(validate *validator.Validate) error {
	nm.Content = core.CleanString(nm.Content)
	if err := validate.Struct(nm); err != nil {
		return err
	}
	if nm.Content == "" && len(nm.Attachments) == 0 {
		return core.NewValidationError(
			errors.New("empty message"),
			core.FieldError{Field: "content", Error: "a message needs content or at least one attachment"},
		)
	}
	return nil
}

func (nb *NewBroadcast) Validate(validate *validator.Validate) error {
	nb.ClassName = core.CleanString(nb.ClassName)
	nb.Content = core.CleanString(nb.Content)
	return validate.Struct(nb)
}

func (ns *NewScheduledMessage) Validate(validate *validator.Validate, now time.Time) error {
	if err := ns.NewMessage.Validate(validate); err != nil {
		return err
	}
	if ns.Content == "" {
		return core.NewValidationError(
			errors.New("empty draft"),
			core.FieldError{Field: "content", Error: "a scheduled message needs content"},
		)
	}
	if !ns.ScheduledFor.After(now) {
		return core.NewValidationError(
			errors.New("scheduled time not in the future"),
			core.FieldError{Field: "scheduled_for", Error: "scheduled time must be in the future"},
		)
	}
	return nil
}
