package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/shulelink/backend/core"
	"github.com/shulelink/backend/core/user"
)

var (
	// errors
	ErrScheduledNotFound   = core.NewNotFoundError("scheduled message not found")
	ErrScheduledNotPending = core.NewInvalidStateError("scheduled message is no longer pending")
)

type (
	ScheduleService interface {
		Schedule(ctx context.Context, sender user.User, in NewScheduledMessage) (ScheduledMessage, error)
		// Cancel transitions pending -> cancelled; already sent or cancelled
		// rows yield ErrScheduledNotPending.
		Cancel(ctx context.Context, actor user.User, id string) error
		GetByID(ctx context.Context, id string) (ScheduledMessage, error)
		QueryUserScheduledMessages(ctx context.Context, senderID string) ([]ScheduledMessage, error)
		// DispatchDue sends every pending message whose time has come; rows
		// whose send fails stay pending and are retried on the next tick.
		DispatchDue(ctx context.Context) (sent, failed int)
		// Run drives DispatchDue on the configured cron schedule until ctx
		// is cancelled.
		Run(ctx context.Context)
	}

	scheduleService struct {
		repo       ScheduleRepository
		usrRepo    user.Repository
		dispatcher Service
		logger     core.Logger
		cron       string
	}
)

var _ ScheduleService = (*scheduleService)(nil)

func NewScheduleService(
	repo ScheduleRepository,
	usrRepo user.Repository,
	dispatcher Service,
	logger core.Logger,
	cron string,
) (ScheduleService, error) {
	if !gronx.New().IsValid(cron) {
		return nil, errors.Errorf("invalid dispatch cron expression: %s", cron)
	}
	return &scheduleService{
		repo:       repo,
		usrRepo:    usrRepo,
		dispatcher: dispatcher,
		logger:     logger,
		cron:       cron,
	}, nil
}

func (svc *scheduleService) Schedule(ctx context.Context, sender user.User, in NewScheduledMessage) (ScheduledMessage, error) {
	if !CanSend(sender.Role, in.RecipientType) {
		return ScheduledMessage{}, permissionError(sender.Role, in.RecipientType)
	}
	if _, err := svc.usrRepo.GetUserByID(ctx, in.RecipientID); err != nil {
		return ScheduledMessage{}, ErrRecipientNotFound
	}

	sm := ScheduledMessage{
		ID:           uuid.NewString(),
		SenderID:     sender.ID,
		SenderRole:   sender.Role,
		SenderName:   sender.Name,
		Draft:        in.NewMessage,
		ScheduledFor: in.ScheduledFor.UTC(),
		Status:       ScheduledStatusPending,
		CreatedAt:    nowFunc().UTC(),
	}
	sm, err := svc.repo.CreateScheduledMessage(ctx, sm)
	if err != nil {
		return ScheduledMessage{}, core.NewDatabaseError(errors.Wrap(err, "creating scheduled message"))
	}
	return sm, nil
}

func (svc *scheduleService) Cancel(ctx context.Context, actor user.User, id string) error {
	sm, err := svc.repo.GetScheduledMessageByID(ctx, id)
	if err != nil {
		return err
	}
	if sm.SenderID != actor.ID {
		return core.NewPermissionError("only the sender can cancel a scheduled message")
	}
	// conditional transition: a dispatch tick that won the race leaves the
	// row sent and this call fails instead of corrupting state.
	return svc.repo.TransitionScheduledMessage(ctx, id, ScheduledStatusPending, ScheduledStatusCancelled, nowFunc().UTC())
}

func (svc *scheduleService) GetByID(ctx context.Context, id string) (ScheduledMessage, error) {
	return svc.repo.GetScheduledMessageByID(ctx, id)
}

func (svc *scheduleService) QueryUserScheduledMessages(ctx context.Context, senderID string) ([]ScheduledMessage, error) {
	return svc.repo.QueryUserScheduledMessages(ctx, senderID)
}

func (svc *scheduleService) DispatchDue(ctx context.Context) (sent, failed int) {
	now := nowFunc().UTC()
	due, err := svc.repo.QueryDueScheduledMessages(ctx, now)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("querying due scheduled messages: %v", err), err)
		return 0, 0
	}

	for _, sm := range due {
		if err = svc.dispatchOne(ctx, sm); err != nil {
			// stays pending; the tick interval bounds retry frequency
			svc.logger.Warn(fmt.Sprintf("dispatching scheduled message %s: %v", sm.ID, err), err)
			failed++
			continue
		}
		sent++
	}
	return sent, failed
}

func (svc *scheduleService) dispatchOne(ctx context.Context, sm ScheduledMessage) error {
	// re-resolve the sender at due time: a user deactivated since
	// scheduling must not keep sending through old drafts.
	sender, err := svc.usrRepo.GetUserByID(ctx, sm.SenderID)
	if err != nil {
		return errors.Wrapf(err, "resolving sender %s", sm.SenderID)
	}
	if !sender.IsActive {
		if err = svc.repo.TransitionScheduledMessage(ctx, sm.ID, ScheduledStatusPending, ScheduledStatusCancelled, nowFunc().UTC()); err != nil && err != ErrScheduledNotPending {
			return err
		}
		return errors.Errorf("sender %s is inactive; message cancelled", sm.SenderID)
	}
	if _, err := svc.dispatcher.SendMessage(ctx, sender, sm.Draft); err != nil {
		return err
	}
	err = svc.repo.TransitionScheduledMessage(ctx, sm.ID, ScheduledStatusPending, ScheduledStatusSent, nowFunc().UTC())
	if err == ErrScheduledNotPending {
		// lost the race to a concurrent cancel/tick; the send above already
		// went out, keep the terminal state as is.
		return nil
	}
	return err
}

func (svc *scheduleService) Run(ctx context.Context) {
	svc.logger.Info("scheduled message dispatcher started - cron: " + svc.cron)
	for {
		next, err := gronx.NextTick(svc.cron, false)
		if err != nil {
			svc.logger.Error(fmt.Sprintf("computing next dispatch tick: %v", err), err)
			return
		}
		select {
		case <-ctx.Done():
			svc.logger.Info("scheduled message dispatcher stopped")
			return
		case <-time.After(time.Until(next)):
			sent, failed := svc.DispatchDue(ctx)
			if sent > 0 || failed > 0 {
				svc.logger.Info(fmt.Sprintf("scheduled dispatch tick - sent: %d - failed: %d", sent, failed))
			}
		}
	}
}
