package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/shulelink/backend/core/messaging"
)

type broadcastRepository struct {
	db *DB
}

var _ messaging.BroadcastRepository = (*broadcastRepository)(nil)

func NewBroadcastRepository(db *DB) messaging.BroadcastRepository {
	return &broadcastRepository{db: db}
}

func (repo *broadcastRepository) CreateBroadcast(ctx context.Context, b messaging.Broadcast, recipients []messaging.BroadcastRecipient) (messaging.Broadcast, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	// parent and recipient rows land together under one lock hold
	repo.db.broadcasts[b.ID] = &b
	rows := make(map[string]*messaging.BroadcastRecipient, len(recipients))
	for _, r := range recipients {
		r := r
		r.BroadcastID = b.ID
		rows[r.StudentID] = &r
	}
	repo.db.broadcastRecipients[b.ID] = rows
	return b, nil
}

// counts recomputes the aggregates from the recipient rows; the parent row
// plus this computation is the source of truth.
func (repo *broadcastRepository) counts(broadcastID string) (total, delivered, read int) {
	for _, r := range repo.db.broadcastRecipients[broadcastID] {
		total++
		if r.Delivered {
			delivered++
		}
		if r.Read {
			read++
		}
	}
	return total, delivered, read
}

func (repo *broadcastRepository) get(id string) (messaging.Broadcast, error) {
	b, ok := repo.db.broadcasts[id]
	if !ok {
		return messaging.Broadcast{}, messaging.ErrBroadcastNotFound
	}
	cp := *b
	cp.TotalRecipients, cp.DeliveredCount, cp.ReadCount = repo.counts(id)
	return cp, nil
}

func (repo *broadcastRepository) GetBroadcastByID(ctx context.Context, id string) (messaging.Broadcast, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()
	return repo.get(id)
}

func (repo *broadcastRepository) QueryBroadcastRecipients(ctx context.Context, broadcastID string) ([]messaging.BroadcastRecipient, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if _, ok := repo.db.broadcasts[broadcastID]; !ok {
		return nil, messaging.ErrBroadcastNotFound
	}
	recipients := make([]messaging.BroadcastRecipient, 0, len(repo.db.broadcastRecipients[broadcastID]))
	for _, r := range repo.db.broadcastRecipients[broadcastID] {
		recipients = append(recipients, *r)
	}
	sort.Slice(recipients, func(i, j int) bool { return recipients[i].StudentID < recipients[j].StudentID })
	return recipients, nil
}

func (repo *broadcastRepository) QueryStudentBroadcasts(ctx context.Context, studentID string) ([]messaging.Broadcast, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	broadcasts := make([]messaging.Broadcast, 0)
	for id, rows := range repo.db.broadcastRecipients {
		if r, ok := rows[studentID]; ok && r.Delivered {
			b, err := repo.get(id)
			if err != nil {
				return nil, err
			}
			broadcasts = append(broadcasts, b)
		}
	}
	sort.Slice(broadcasts, func(i, j int) bool { return broadcasts[i].CreatedAt.After(broadcasts[j].CreatedAt) })
	return broadcasts, nil
}

func (repo *broadcastRepository) MarkBroadcastDelivered(ctx context.Context, broadcastID, studentID string, at time.Time) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	r, ok := repo.db.broadcastRecipients[broadcastID][studentID]
	if !ok {
		return messaging.ErrBroadcastNotFound
	}
	if !r.Delivered {
		r.Delivered = true
		r.DeliveredAt = &at
	}
	return nil
}

func (repo *broadcastRepository) MarkBroadcastRead(ctx context.Context, broadcastID, studentID string, at time.Time) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	r, ok := repo.db.broadcastRecipients[broadcastID][studentID]
	if !ok {
		return messaging.ErrBroadcastNotFound
	}
	if !r.Read {
		r.Read = true
		r.ReadAt = &at
	}
	return nil
}
