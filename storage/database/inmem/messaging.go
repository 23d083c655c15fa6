package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/shulelink/backend/core/messaging"
)

type messagingRepository struct {
	db *DB
}

var _ messaging.Repository = (*messagingRepository)(nil)

func NewMessagingRepository(db *DB) messaging.Repository {
	return &messagingRepository{db: db}
}

func copyConversation(conv *messaging.Conversation) messaging.Conversation {
	cp := *conv
	cp.Members = make([]messaging.Member, len(conv.Members))
	copy(cp.Members, conv.Members)
	return cp
}

func (repo *messagingRepository) CreateConversation(ctx context.Context, conv messaging.Conversation) (messaging.Conversation, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	// at most one conversation per participant pair: a create racing
	// another first message hands back the existing conversation.
	key := conv.PairKey()
	if id, ok := repo.db.conversationPairs[key]; ok {
		return copyConversation(repo.db.conversations[id]), nil
	}

	// conversation + member rows land together under one lock hold
	for i := range conv.Members {
		conv.Members[i].ConversationID = conv.ID
	}
	repo.db.conversations[conv.ID] = &conv
	repo.db.conversationPairs[key] = conv.ID
	return copyConversation(&conv), nil
}

func (repo *messagingRepository) GetConversationByID(ctx context.Context, id string) (messaging.Conversation, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if conv, ok := repo.db.conversations[id]; ok {
		return copyConversation(conv), nil
	}
	return messaging.Conversation{}, messaging.ErrConversationNotFound
}

func (repo *messagingRepository) QueryUserConversations(ctx context.Context, userID string) ([]messaging.Conversation, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	convs := make([]messaging.Conversation, 0)
	for _, conv := range repo.db.conversations {
		if conv.HasMember(userID) {
			convs = append(convs, copyConversation(conv))
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		ti, tj := convs[i].LastMessageAt, convs[j].LastMessageAt
		if ti.IsZero() {
			ti = convs[i].CreatedAt
		}
		if tj.IsZero() {
			tj = convs[j].CreatedAt
		}
		return ti.After(tj)
	})
	return convs, nil
}

func (repo *messagingRepository) TouchConversation(ctx context.Context, conversationID string, lastMessageAt time.Time, preview, senderID string) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	conv, ok := repo.db.conversations[conversationID]
	if !ok {
		return messaging.ErrConversationNotFound
	}
	conv.LastMessageAt = lastMessageAt
	conv.LastMessagePreview = preview
	for i := range conv.Members {
		if conv.Members[i].UserID != senderID {
			conv.Members[i].UnreadCount++
		}
	}
	return nil
}

func (repo *messagingRepository) SetConversationMuted(ctx context.Context, conversationID, userID string, muted bool) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	conv, ok := repo.db.conversations[conversationID]
	if !ok {
		return messaging.ErrConversationNotFound
	}
	for i := range conv.Members {
		if conv.Members[i].UserID == userID {
			conv.Members[i].IsMuted = muted
		}
	}
	return nil
}

func (repo *messagingRepository) SetConversationArchived(ctx context.Context, conversationID string, archived bool) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	conv, ok := repo.db.conversations[conversationID]
	if !ok {
		return messaging.ErrConversationNotFound
	}
	conv.IsArchived = archived
	return nil
}

func (repo *messagingRepository) CreateMessage(ctx context.Context, msg messaging.Message) (messaging.Message, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.conversations[msg.ConversationID]; !ok {
		return messaging.Message{}, messaging.ErrConversationNotFound
	}
	repo.db.messages[msg.ID] = &msg
	return msg, nil
}

func (repo *messagingRepository) hydrate(msg *messaging.Message) messaging.Message {
	cp := *msg
	cp.Attachments = append([]messaging.Attachment(nil), repo.db.attachments[msg.ID]...)
	return cp
}

func (repo *messagingRepository) GetMessageByID(ctx context.Context, id string) (messaging.Message, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if msg, ok := repo.db.messages[id]; ok {
		return repo.hydrate(msg), nil
	}
	return messaging.Message{}, messaging.ErrMessageNotFound
}

func (repo *messagingRepository) QueryConversationMessages(ctx context.Context, conversationID string) ([]messaging.Message, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	msgs := make([]messaging.Message, 0)
	for _, msg := range repo.db.messages {
		if msg.ConversationID == conversationID {
			msgs = append(msgs, repo.hydrate(msg))
		}
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	return msgs, nil
}

func (repo *messagingRepository) CreateAttachment(ctx context.Context, att messaging.Attachment) (messaging.Attachment, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.messages[att.MessageID]; !ok {
		return messaging.Attachment{}, messaging.ErrMessageNotFound
	}
	repo.db.attachments[att.MessageID] = append(repo.db.attachments[att.MessageID], att)
	return att, nil
}

func (repo *messagingRepository) MarkConversationRead(ctx context.Context, conversationID string, reader messaging.Participant, readAt time.Time) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	conv, ok := repo.db.conversations[conversationID]
	if !ok {
		return messaging.ErrConversationNotFound
	}

	for _, msg := range repo.db.messages {
		if msg.ConversationID != conversationID || msg.SenderID == reader.UserID {
			continue
		}
		key := readKey{messageID: msg.ID, userID: reader.UserID}
		if _, seen := repo.db.readStatuses[key]; !seen {
			repo.db.readStatuses[key] = messaging.ReadStatus{
				MessageID: msg.ID,
				UserID:    reader.UserID,
				Role:      reader.Role,
				ReadAt:    readAt,
			}
		}
	}
	for i := range conv.Members {
		if conv.Members[i].UserID == reader.UserID {
			conv.Members[i].UnreadCount = 0
		}
	}
	return nil
}
