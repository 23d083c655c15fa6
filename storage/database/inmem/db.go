package inmemdb

import (
	"sync"

	"github.com/shulelink/backend/core/messaging"
	"github.com/shulelink/backend/core/notification"
	"github.com/shulelink/backend/core/user"
)

type readKey struct {
	messageID string
	userID    string
}

// DB is a mutex-guarded in-memory store backing the repositories in dev and
// tests. Multi-row writes hold the write lock for their whole duration, which
// gives the same all-or-nothing visibility the SQL store gets from
// transactions.
type DB struct {
	mu sync.RWMutex

	users               map[string]*user.User
	conversations       map[string]*messaging.Conversation
	conversationPairs   map[string]string // pair key -> conversation ID
	messages            map[string]*messaging.Message
	attachments         map[string][]messaging.Attachment // by messageID
	readStatuses        map[readKey]messaging.ReadStatus
	broadcasts          map[string]*messaging.Broadcast
	broadcastRecipients map[string]map[string]*messaging.BroadcastRecipient // by broadcastID, studentID
	scheduled           map[string]*messaging.ScheduledMessage
	notifications       map[string]*notification.Notification
	alertMarks          map[string]notification.AlertLevel
}

func NewDB() *DB {
	return &DB{
		users:               make(map[string]*user.User),
		conversations:       make(map[string]*messaging.Conversation),
		conversationPairs:   make(map[string]string),
		messages:            make(map[string]*messaging.Message),
		attachments:         make(map[string][]messaging.Attachment),
		readStatuses:        make(map[readKey]messaging.ReadStatus),
		broadcasts:          make(map[string]*messaging.Broadcast),
		broadcastRecipients: make(map[string]map[string]*messaging.BroadcastRecipient),
		scheduled:           make(map[string]*messaging.ScheduledMessage),
		notifications:       make(map[string]*notification.Notification),
		alertMarks:          make(map[string]notification.AlertLevel),
	}
}
