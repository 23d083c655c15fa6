package messaging

import (
	"context"
	"time"
)

type (
	// Repository persists conversations, messages, attachments and read
	// statuses. Multi-row writes (conversation + members, read-marking)
	// succeed or fail together.
	Repository interface {
		// CreateConversation inserts the conversation row and both member
		// rows in one logical unit; partial creation is an invariant
		// violation. At most one conversation exists per unordered
		// participant pair: a create that loses that race returns the
		// existing conversation instead of a duplicate.
		CreateConversation(ctx context.Context, conv Conversation) (Conversation, error)
		GetConversationByID(ctx context.Context, id string) (Conversation, error)
		// QueryUserConversations returns the conversations `userID`
		// participates in, most recent first.
		QueryUserConversations(ctx context.Context, userID string) ([]Conversation, error)
		// TouchConversation updates the cached preview fields and bumps the
		// unread count of every member except the sender.
		TouchConversation(ctx context.Context, conversationID string, lastMessageAt time.Time, preview, senderID string) error
		SetConversationMuted(ctx context.Context, conversationID, userID string, muted bool) error
		SetConversationArchived(ctx context.Context, conversationID string, archived bool) error

		CreateMessage(ctx context.Context, msg Message) (Message, error)
		GetMessageByID(ctx context.Context, id string) (Message, error)
		QueryConversationMessages(ctx context.Context, conversationID string) ([]Message, error)

		CreateAttachment(ctx context.Context, att Attachment) (Attachment, error)

		// MarkConversationRead upserts a ReadStatus row for every message in
		// the conversation not authored by the reader and resets the reader's
		// cached unread count to zero; both in one logical unit. Idempotent.
		MarkConversationRead(ctx context.Context, conversationID string, reader Participant, readAt time.Time) error
	}

	// BroadcastRepository persists broadcast parents and their per-recipient
	// delivery rows.
	BroadcastRepository interface {
		// CreateBroadcast inserts the parent and all recipient rows in one
		// logical unit.
		CreateBroadcast(ctx context.Context, b Broadcast, recipients []BroadcastRecipient) (Broadcast, error)
		// GetBroadcastByID returns the parent with aggregate counts
		// recomputed from the recipient rows.
		GetBroadcastByID(ctx context.Context, id string) (Broadcast, error)
		QueryBroadcastRecipients(ctx context.Context, broadcastID string) ([]BroadcastRecipient, error)
		// QueryStudentBroadcasts lists the broadcasts delivered to a student,
		// most recent first.
		QueryStudentBroadcasts(ctx context.Context, studentID string) ([]Broadcast, error)
		MarkBroadcastDelivered(ctx context.Context, broadcastID, studentID string, at time.Time) error
		MarkBroadcastRead(ctx context.Context, broadcastID, studentID string, at time.Time) error
	}

	// ScheduleRepository persists scheduled messages and their state machine.
	ScheduleRepository interface {
		CreateScheduledMessage(ctx context.Context, sm ScheduledMessage) (ScheduledMessage, error)
		GetScheduledMessageByID(ctx context.Context, id string) (ScheduledMessage, error)
		QueryDueScheduledMessages(ctx context.Context, now time.Time) ([]ScheduledMessage, error)
		QueryUserScheduledMessages(ctx context.Context, senderID string) ([]ScheduledMessage, error)
		// TransitionScheduledMessage conditionally moves the row from `from`
		// to `to` (compare-and-set on status) so a cancel racing the dispatch
		// tick cannot corrupt state. Returns ErrScheduledNotPending when the
		// row is no longer in `from`.
		TransitionScheduledMessage(ctx context.Context, id string, from, to ScheduledStatus, at time.Time) error
	}
)
