package echoapi

import (
	"github.com/go-playground/validator/v10"

	"github.com/shulelink/backend/core/notification"
	"github.com/shulelink/backend/core/user"
)

type (
	SuccessResponse struct {
		Success string `json:"success"`
	}

	ForwardRequest struct {
		RecipientID   string    `json:"recipient_id" validate:"required"`
		RecipientType user.Role `json:"recipient_type" validate:"required,oneof=student teacher office"`
	}

	MuteRequest struct {
		Muted bool `json:"muted"`
	}

	ArchiveRequest struct {
		Archived bool `json:"archived"`
	}

	RetryQueueResponse struct {
		Status  notification.RetryQueueStatus  `json:"status"`
		Entries []notification.RetryQueueEntry `json:"entries"`
	}
)

func (r *ForwardRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(r)
}
