package messaging

import (
	"io"
	"sort"
	"strings"
	"time"

	"github.com/shulelink/backend/core"
	"github.com/shulelink/backend/core/user"
)

type MessageType string

const (
	MessageTypeUser   MessageType = "user"
	MessageTypeSystem MessageType = "system"
)

type (
	// Participant identifies one side of a conversation: a (userId, role)
	// pair with denormalized display fields for fast list rendering.
	Participant struct {
		UserID      string    `json:"user_id"`
		Role        user.Role `json:"role"`
		DisplayName string    `json:"display_name"`
		AvatarURL   string    `json:"avatar_url,omitempty"`
	}

	// Member is a participant row with its per-participant conversation state.
	Member struct {
		ConversationID string    `json:"conversation_id"`
		UserID         string    `json:"user_id"`
		Role           user.Role `json:"role"`
		DisplayName    string    `json:"display_name"`
		AvatarURL      string    `json:"avatar_url,omitempty"`
		UnreadCount    int       `json:"unread_count"`
		IsMuted        bool      `json:"is_muted"`
	}

	// Conversation is a two-participant thread. Created lazily on first
	// message; never deleted, only archived.
	Conversation struct {
		ID                 string    `json:"id"`
		LastMessageAt      time.Time `json:"last_message_at"` // UTC
		LastMessagePreview string    `json:"last_message_preview"`
		IsArchived         bool      `json:"is_archived"`
		CreatedAt          time.Time `json:"created_at"` // UTC
		Members            []Member  `json:"members"`
	}

	// Message is immutable once created except for the soft-delete flag and
	// the read-status side table.
	Message struct {
		ID                 string       `json:"id"`
		ConversationID     string       `json:"conversation_id"`
		SenderID           string       `json:"sender_id"`
		SenderRole         user.Role    `json:"sender_role"`
		SenderName         string       `json:"sender_name"`
		Content            string       `json:"content"`
		Type               MessageType  `json:"message_type"`
		Category           string       `json:"category,omitempty"`
		CreatedAt          time.Time    `json:"created_at"` // UTC
		IsDeleted          bool         `json:"is_deleted"`
		Attachments        []Attachment `json:"attachments"`
		ReplyToID          string       `json:"reply_to_id,omitempty"`
		IsForwarded        bool         `json:"is_forwarded"`
		OriginalSenderName string       `json:"original_sender_name,omitempty"`
	}

	// Attachment is created atomically with its row; never mutated.
	Attachment struct {
		ID               string    `json:"id"`
		MessageID        string    `json:"message_id"`
		Filename         string    `json:"filename"`
		OriginalFilename string    `json:"original_filename"`
		MimeType         string    `json:"mime_type"`
		SizeBytes        int64     `json:"size_bytes"`
		URL              string    `json:"url"`
		ThumbnailURL     string    `json:"thumbnail_url,omitempty"`
		CreatedAt        time.Time `json:"created_at"` // UTC
	}

	// ReadStatus marks a message read by a participant; upserted, never deleted.
	ReadStatus struct {
		MessageID string    `json:"message_id"`
		UserID    string    `json:"user_id"`
		Role      user.Role `json:"role"`
		ReadAt    time.Time `json:"read_at"` // UTC
	}

	// Broadcast is the fan-out parent; aggregate counts are recomputed from
	// the recipient rows, never maintained in memory.
	Broadcast struct {
		ID              string    `json:"id"`
		SenderID        string    `json:"sender_id"`
		SenderName      string    `json:"sender_name"`
		ClassName       string    `json:"class_name"`
		Content         string    `json:"content"`
		Category        string    `json:"category,omitempty"`
		TotalRecipients int       `json:"total_recipients"`
		DeliveredCount  int       `json:"delivered_count"`
		ReadCount       int       `json:"read_count"`
		CreatedAt       time.Time `json:"created_at"` // UTC
	}

	BroadcastRecipient struct {
		BroadcastID string     `json:"broadcast_id"`
		StudentID   string     `json:"student_id"`
		Delivered   bool       `json:"delivered"`
		Read        bool       `json:"read"`
		DeliveredAt *time.Time `json:"delivered_at,omitempty"` // UTC
		ReadAt      *time.Time `json:"read_at,omitempty"`      // UTC
	}

	// FileUpload carries the content of a file being attached to a message.
	FileUpload struct {
		Filename string
		MimeType string
		Size     int64
		Content  io.Reader
	}
)

type ScheduledStatus string

const (
	ScheduledStatusPending   ScheduledStatus = "pending"
	ScheduledStatusSent      ScheduledStatus = "sent"
	ScheduledStatusCancelled ScheduledStatus = "cancelled"
)

// ScheduledMessage is a drafted message persisted for future dispatch.
// pending -> {sent, cancelled}; both terminal.
type ScheduledMessage struct {
	ID           string          `json:"id"`
	SenderID     string          `json:"sender_id"`
	SenderRole   user.Role       `json:"sender_role"`
	SenderName   string          `json:"sender_name"`
	Draft        NewMessage      `json:"draft"`
	ScheduledFor time.Time       `json:"scheduled_for"` // UTC
	Status       ScheduledStatus `json:"status"`
	CreatedAt    time.Time       `json:"created_at"` // UTC
	SentAt       *time.Time      `json:"sent_at,omitempty"`
}

// preview length for conversation lists
const previewMaxLen = 50

func truncatePreview(s string) string { return core.TruncateString(s, previewMaxLen) }

func (m Message) Preview() string {
	if len(m.Attachments) > 0 && m.Content == "" {
		return "[attachment] " + m.Attachments[0].OriginalFilename
	}
	return truncatePreview(m.Content)
}

func (c Conversation) OtherMember(userID string) (Member, bool) {
	for _, m := range c.Members {
		if m.UserID != userID {
			return m, true
		}
	}
	return Member{}, false
}

// PairKey is the order-independent identity of the participant pair; the
// store keeps at most one conversation per key.
func (c Conversation) PairKey() string {
	ids := make([]string, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.UserID
	}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}

func (c Conversation) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}
