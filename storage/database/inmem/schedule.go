package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/shulelink/backend/core/messaging"
)

type scheduleRepository struct {
	db *DB
}

var _ messaging.ScheduleRepository = (*scheduleRepository)(nil)

func NewScheduleRepository(db *DB) messaging.ScheduleRepository {
	return &scheduleRepository{db: db}
}

func (repo *scheduleRepository) CreateScheduledMessage(ctx context.Context, sm messaging.ScheduledMessage) (messaging.ScheduledMessage, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	repo.db.scheduled[sm.ID] = &sm
	return sm, nil
}

func (repo *scheduleRepository) GetScheduledMessageByID(ctx context.Context, id string) (messaging.ScheduledMessage, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if sm, ok := repo.db.scheduled[id]; ok {
		return *sm, nil
	}
	return messaging.ScheduledMessage{}, messaging.ErrScheduledNotFound
}

func (repo *scheduleRepository) QueryDueScheduledMessages(ctx context.Context, now time.Time) ([]messaging.ScheduledMessage, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	due := make([]messaging.ScheduledMessage, 0)
	for _, sm := range repo.db.scheduled {
		if sm.Status == messaging.ScheduledStatusPending && !sm.ScheduledFor.After(now) {
			due = append(due, *sm)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledFor.Before(due[j].ScheduledFor) })
	return due, nil
}

func (repo *scheduleRepository) QueryUserScheduledMessages(ctx context.Context, senderID string) ([]messaging.ScheduledMessage, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	msgs := make([]messaging.ScheduledMessage, 0)
	for _, sm := range repo.db.scheduled {
		if sm.SenderID == senderID {
			msgs = append(msgs, *sm)
		}
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ScheduledFor.Before(msgs[j].ScheduledFor) })
	return msgs, nil
}

func (repo *scheduleRepository) TransitionScheduledMessage(ctx context.Context, id string, from, to messaging.ScheduledStatus, at time.Time) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	sm, ok := repo.db.scheduled[id]
	if !ok {
		return messaging.ErrScheduledNotFound
	}
	// compare-and-set on status; terminal states stay final
	if sm.Status != from {
		return messaging.ErrScheduledNotPending
	}
	sm.Status = to
	if to == messaging.ScheduledStatusSent {
		sm.SentAt = &at
	}
	return nil
}
