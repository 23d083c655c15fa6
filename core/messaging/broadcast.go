package messaging

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/shulelink/backend/core"
	"github.com/shulelink/backend/core/user"
)

var (
	// errors
	ErrStudentBroadcast = core.NewPermissionError("students cannot broadcast messages")
	ErrBroadcastNotFound = core.NewNotFoundError("broadcast not found")
	ErrClassNotFound     = core.NewNotFoundError("class not found or has no students")
)

type (
	BroadcastService interface {
		// BroadcastToClass expands the class roster into one recipient row
		// per student, created together with the parent in one logical unit,
		// and returns aggregates read back from the persisted rows.
		BroadcastToClass(ctx context.Context, sender user.User, in NewBroadcast) (Broadcast, error)
		GetByID(ctx context.Context, id string) (Broadcast, error)
		QueryStudentBroadcasts(ctx context.Context, studentID string) ([]Broadcast, error)
		// MarkBroadcastRead records that one recipient opened the message;
		// the parent's readCount is recomputed from recipient rows.
		MarkBroadcastRead(ctx context.Context, broadcastID, studentID string) error
	}

	broadcastService struct {
		repo    BroadcastRepository
		usrRepo user.Repository
		logger  core.Logger
	}
)

var _ BroadcastService = (*broadcastService)(nil)

func NewBroadcastService(repo BroadcastRepository, usrRepo user.Repository, logger core.Logger) BroadcastService {
	return &broadcastService{repo: repo, usrRepo: usrRepo, logger: logger}
}

func (svc *broadcastService) BroadcastToClass(ctx context.Context, sender user.User, in NewBroadcast) (Broadcast, error) {
	if sender.IsStudent() {
		return Broadcast{}, ErrStudentBroadcast
	}

	roster, err := svc.usrRepo.QueryClassStudents(ctx, in.ClassName)
	if err != nil {
		return Broadcast{}, core.NewDatabaseError(errors.Wrap(err, "resolving class roster"))
	}
	if len(roster) == 0 {
		return Broadcast{}, ErrClassNotFound
	}

	now := nowFunc().UTC()
	b := Broadcast{
		ID:              uuid.NewString(),
		SenderID:        sender.ID,
		SenderName:      sender.Name,
		ClassName:       in.ClassName,
		Content:         in.Content,
		Category:        in.Category,
		TotalRecipients: len(roster),
		CreatedAt:       now,
	}
	recipients := make([]BroadcastRecipient, 0, len(roster))
	for _, student := range roster {
		recipients = append(recipients, BroadcastRecipient{BroadcastID: b.ID, StudentID: student.ID})
	}

	if _, err = svc.repo.CreateBroadcast(ctx, b, recipients); err != nil {
		return Broadcast{}, core.NewDatabaseError(errors.Wrap(err, "creating broadcast"))
	}

	// inbox writes; a failed delivery leaves the recipient row undelivered
	// and the aggregate counts reflect exactly what was recorded.
	for _, r := range recipients {
		if err = svc.repo.MarkBroadcastDelivered(ctx, b.ID, r.StudentID, nowFunc().UTC()); err != nil {
			svc.logger.Warn(fmt.Sprintf("broadcast %s: delivery to %s failed: %v", b.ID, r.StudentID, err), err)
		}
	}

	return svc.repo.GetBroadcastByID(ctx, b.ID)
}

func (svc *broadcastService) GetByID(ctx context.Context, id string) (Broadcast, error) {
	return svc.repo.GetBroadcastByID(ctx, id)
}

func (svc *broadcastService) QueryStudentBroadcasts(ctx context.Context, studentID string) ([]Broadcast, error) {
	return svc.repo.QueryStudentBroadcasts(ctx, studentID)
}

func (svc *broadcastService) MarkBroadcastRead(ctx context.Context, broadcastID, studentID string) error {
	return svc.repo.MarkBroadcastRead(ctx, broadcastID, studentID, nowFunc().UTC())
}
