package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/shulelink/backend/core/messaging"
	"github.com/shulelink/backend/core/user"
)

type (
	conversationRow struct {
		ID                 string    `db:"id"`
		PairKey            string    `db:"pair_key"`
		LastMessageAt      null.Time `db:"last_message_at"`
		LastMessagePreview string    `db:"last_message_preview"`
		IsArchived         bool      `db:"is_archived"`
		CreatedAt          null.Time `db:"created_at"`
	}

	memberRow struct {
		ConversationID string      `db:"conversation_id"`
		UserID         string      `db:"user_id"`
		Role           string      `db:"role"`
		DisplayName    string      `db:"display_name"`
		AvatarURL      null.String `db:"avatar_url"`
		UnreadCount    int         `db:"unread_count"`
		IsMuted        bool        `db:"is_muted"`
	}

	messageRow struct {
		ID                 string      `db:"id"`
		ConversationID     string      `db:"conversation_id"`
		SenderID           string      `db:"sender_id"`
		SenderRole         string      `db:"sender_role"`
		SenderName         string      `db:"sender_name"`
		Content            string      `db:"content"`
		MessageType        string      `db:"message_type"`
		Category           null.String `db:"category"`
		CreatedAt          null.Time   `db:"created_at"`
		IsDeleted          bool        `db:"is_deleted"`
		ReplyToID          null.String `db:"reply_to_id"`
		IsForwarded        bool        `db:"is_forwarded"`
		OriginalSenderName null.String `db:"original_sender_name"`
	}

	attachmentRow struct {
		ID               string      `db:"id"`
		MessageID        string      `db:"message_id"`
		Filename         string      `db:"filename"`
		OriginalFilename string      `db:"original_filename"`
		MimeType         string      `db:"mime_type"`
		SizeBytes        int64       `db:"size_bytes"`
		URL              string      `db:"url"`
		ThumbnailURL     null.String `db:"thumbnail_url"`
		CreatedAt        null.Time   `db:"created_at"`
	}
)

func (r memberRow) toMember() messaging.Member {
	return messaging.Member{
		ConversationID: r.ConversationID,
		UserID:         r.UserID,
		Role:           user.Role(r.Role),
		DisplayName:    r.DisplayName,
		AvatarURL:      r.AvatarURL.String,
		UnreadCount:    r.UnreadCount,
		IsMuted:        r.IsMuted,
	}
}

func (r messageRow) toMessage() messaging.Message {
	return messaging.Message{
		ID:                 r.ID,
		ConversationID:     r.ConversationID,
		SenderID:           r.SenderID,
		SenderRole:         user.Role(r.SenderRole),
		SenderName:         r.SenderName,
		Content:            r.Content,
		Type:               messaging.MessageType(r.MessageType),
		Category:           r.Category.String,
		CreatedAt:          r.CreatedAt.Time,
		IsDeleted:          r.IsDeleted,
		ReplyToID:          r.ReplyToID.String,
		IsForwarded:        r.IsForwarded,
		OriginalSenderName: r.OriginalSenderName.String,
	}
}

func (r attachmentRow) toAttachment() messaging.Attachment {
	return messaging.Attachment{
		ID:               r.ID,
		MessageID:        r.MessageID,
		Filename:         r.Filename,
		OriginalFilename: r.OriginalFilename,
		MimeType:         r.MimeType,
		SizeBytes:        r.SizeBytes,
		URL:              r.URL,
		ThumbnailURL:     r.ThumbnailURL.String,
		CreatedAt:        r.CreatedAt.Time,
	}
}

type messagingRepository struct {
	db *sqlx.DB
}

var _ messaging.Repository = (*messagingRepository)(nil)

func NewMessagingRepository(db *sqlx.DB) messaging.Repository {
	return &messagingRepository{db: db}
}

func (repo *messagingRepository) CreateConversation(ctx context.Context, conv messaging.Conversation) (messaging.Conversation, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return messaging.Conversation{}, errors.Wrap(err, "beginning tx")
	}
	defer func() { _ = tx.Rollback() }()

	// the unique pair_key makes concurrent first messages between the same
	// pair converge on one conversation: the loser's insert is a no-op and
	// the winner's row is returned instead.
	const convQ = `
		INSERT INTO conversation (id, pair_key, last_message_preview, is_archived, created_at)
		VALUES ($1, $2, '', FALSE, $3)
		ON CONFLICT (pair_key) DO NOTHING`
	res, err := tx.ExecContext(ctx, convQ, conv.ID, conv.PairKey(), conv.CreatedAt.UTC())
	if err != nil {
		return messaging.Conversation{}, errors.Wrap(err, "inserting conversation")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		return repo.getByPairKey(ctx, conv.PairKey())
	}

	const memberQ = `
		INSERT INTO conversation_member (conversation_id, user_id, role, display_name, avatar_url, unread_count, is_muted)
		VALUES ($1, $2, $3, $4, $5, 0, FALSE)`
	for i := range conv.Members {
		m := &conv.Members[i]
		m.ConversationID = conv.ID
		_, err = tx.ExecContext(ctx, memberQ, conv.ID, m.UserID, m.Role.String(), m.DisplayName,
			null.NewString(m.AvatarURL, m.AvatarURL != ""))
		if err != nil {
			return messaging.Conversation{}, errors.Wrap(err, "inserting conversation member")
		}
	}

	if err = tx.Commit(); err != nil {
		return messaging.Conversation{}, errors.Wrap(err, "committing conversation")
	}
	return conv, nil
}

func (repo *messagingRepository) getByPairKey(ctx context.Context, key string) (messaging.Conversation, error) {
	var row conversationRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM conversation WHERE pair_key = $1`, key); err != nil {
		return messaging.Conversation{}, errors.Wrap(err, "getting conversation by pair")
	}
	members, err := repo.members(ctx, []string{row.ID})
	if err != nil {
		return messaging.Conversation{}, err
	}
	return messaging.Conversation{
		ID:                 row.ID,
		LastMessageAt:      row.LastMessageAt.Time,
		LastMessagePreview: row.LastMessagePreview,
		IsArchived:         row.IsArchived,
		CreatedAt:          row.CreatedAt.Time,
		Members:            members[row.ID],
	}, nil
}

func (repo *messagingRepository) members(ctx context.Context, conversationIDs []string) (map[string][]messaging.Member, error) {
	q, args, err := sqlx.In(`SELECT * FROM conversation_member WHERE conversation_id IN (?)`, conversationIDs)
	if err != nil {
		return nil, errors.Wrap(err, "building members query")
	}
	var rows []memberRow
	if err = repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying conversation members")
	}
	byConv := make(map[string][]messaging.Member, len(conversationIDs))
	for _, row := range rows {
		byConv[row.ConversationID] = append(byConv[row.ConversationID], row.toMember())
	}
	return byConv, nil
}

func (repo *messagingRepository) GetConversationByID(ctx context.Context, id string) (messaging.Conversation, error) {
	var row conversationRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM conversation WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return messaging.Conversation{}, messaging.ErrConversationNotFound
		}
		return messaging.Conversation{}, errors.Wrap(err, "getting conversation")
	}
	members, err := repo.members(ctx, []string{id})
	if err != nil {
		return messaging.Conversation{}, err
	}
	return messaging.Conversation{
		ID:                 row.ID,
		LastMessageAt:      row.LastMessageAt.Time,
		LastMessagePreview: row.LastMessagePreview,
		IsArchived:         row.IsArchived,
		CreatedAt:          row.CreatedAt.Time,
		Members:            members[id],
	}, nil
}

func (repo *messagingRepository) QueryUserConversations(ctx context.Context, userID string) ([]messaging.Conversation, error) {
	const q = `
		SELECT c.* FROM conversation c
		JOIN conversation_member cm ON cm.conversation_id = c.id
		WHERE cm.user_id = $1
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC`
	var rows []conversationRow
	if err := repo.db.SelectContext(ctx, &rows, q, userID); err != nil {
		return nil, errors.Wrap(err, "querying user conversations")
	}
	if len(rows) == 0 {
		return []messaging.Conversation{}, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	members, err := repo.members(ctx, ids)
	if err != nil {
		return nil, err
	}

	convs := make([]messaging.Conversation, 0, len(rows))
	for _, row := range rows {
		convs = append(convs, messaging.Conversation{
			ID:                 row.ID,
			LastMessageAt:      row.LastMessageAt.Time,
			LastMessagePreview: row.LastMessagePreview,
			IsArchived:         row.IsArchived,
			CreatedAt:          row.CreatedAt.Time,
			Members:            members[row.ID],
		})
	}
	return convs, nil
}

func (repo *messagingRepository) TouchConversation(ctx context.Context, conversationID string, lastMessageAt time.Time, preview, senderID string) error {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning tx")
	}
	defer func() { _ = tx.Rollback() }()

	const convQ = `UPDATE conversation SET last_message_at = $2, last_message_preview = $3 WHERE id = $1`
	res, err := tx.ExecContext(ctx, convQ, conversationID, lastMessageAt.UTC(), preview)
	if err != nil {
		return errors.Wrap(err, "updating conversation")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return messaging.ErrConversationNotFound
	}

	const unreadQ = `
		UPDATE conversation_member SET unread_count = unread_count + 1
		WHERE conversation_id = $1 AND user_id <> $2`
	if _, err = tx.ExecContext(ctx, unreadQ, conversationID, senderID); err != nil {
		return errors.Wrap(err, "bumping unread counts")
	}
	return errors.Wrap(tx.Commit(), "committing conversation update")
}

func (repo *messagingRepository) SetConversationMuted(ctx context.Context, conversationID, userID string, muted bool) error {
	const q = `UPDATE conversation_member SET is_muted = $3 WHERE conversation_id = $1 AND user_id = $2`
	res, err := repo.db.ExecContext(ctx, q, conversationID, userID, muted)
	if err != nil {
		return errors.Wrap(err, "setting muted flag")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return messaging.ErrConversationNotFound
	}
	return nil
}

func (repo *messagingRepository) SetConversationArchived(ctx context.Context, conversationID string, archived bool) error {
	const q = `UPDATE conversation SET is_archived = $2 WHERE id = $1`
	res, err := repo.db.ExecContext(ctx, q, conversationID, archived)
	if err != nil {
		return errors.Wrap(err, "setting archived flag")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return messaging.ErrConversationNotFound
	}
	return nil
}

func (repo *messagingRepository) CreateMessage(ctx context.Context, msg messaging.Message) (messaging.Message, error) {
	const q = `
		INSERT INTO message (id, conversation_id, sender_id, sender_role, sender_name, content, message_type,
		                     category, created_at, is_deleted, reply_to_id, is_forwarded, original_sender_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, $10, $11, $12)`
	_, err := repo.db.ExecContext(ctx, q,
		msg.ID, msg.ConversationID, msg.SenderID, msg.SenderRole.String(), msg.SenderName,
		msg.Content, string(msg.Type),
		null.NewString(msg.Category, msg.Category != ""),
		msg.CreatedAt.UTC(),
		null.NewString(msg.ReplyToID, msg.ReplyToID != ""),
		msg.IsForwarded,
		null.NewString(msg.OriginalSenderName, msg.OriginalSenderName != ""),
	)
	if err != nil {
		return messaging.Message{}, errors.Wrap(err, "inserting message")
	}
	return msg, nil
}

func (repo *messagingRepository) attachments(ctx context.Context, messageIDs []string) (map[string][]messaging.Attachment, error) {
	q, args, err := sqlx.In(`SELECT * FROM attachment WHERE message_id IN (?) ORDER BY created_at`, messageIDs)
	if err != nil {
		return nil, errors.Wrap(err, "building attachments query")
	}
	var rows []attachmentRow
	if err = repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying attachments")
	}
	byMsg := make(map[string][]messaging.Attachment)
	for _, row := range rows {
		byMsg[row.MessageID] = append(byMsg[row.MessageID], row.toAttachment())
	}
	return byMsg, nil
}

func (repo *messagingRepository) GetMessageByID(ctx context.Context, id string) (messaging.Message, error) {
	var row messageRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM message WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return messaging.Message{}, messaging.ErrMessageNotFound
		}
		return messaging.Message{}, errors.Wrap(err, "getting message")
	}
	msg := row.toMessage()
	atts, err := repo.attachments(ctx, []string{id})
	if err != nil {
		return messaging.Message{}, err
	}
	msg.Attachments = atts[id]
	return msg, nil
}

func (repo *messagingRepository) QueryConversationMessages(ctx context.Context, conversationID string) ([]messaging.Message, error) {
	var rows []messageRow
	const q = `SELECT * FROM message WHERE conversation_id = $1 ORDER BY created_at`
	if err := repo.db.SelectContext(ctx, &rows, q, conversationID); err != nil {
		return nil, errors.Wrap(err, "querying conversation messages")
	}
	if len(rows) == 0 {
		return []messaging.Message{}, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	atts, err := repo.attachments(ctx, ids)
	if err != nil {
		return nil, err
	}

	msgs := make([]messaging.Message, 0, len(rows))
	for _, row := range rows {
		msg := row.toMessage()
		msg.Attachments = atts[msg.ID]
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (repo *messagingRepository) CreateAttachment(ctx context.Context, att messaging.Attachment) (messaging.Attachment, error) {
	const q = `
		INSERT INTO attachment (id, message_id, filename, original_filename, mime_type, size_bytes, url, thumbnail_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := repo.db.ExecContext(ctx, q,
		att.ID, att.MessageID, att.Filename, att.OriginalFilename, att.MimeType, att.SizeBytes, att.URL,
		null.NewString(att.ThumbnailURL, att.ThumbnailURL != ""),
		att.CreatedAt.UTC(),
	)
	if err != nil {
		return messaging.Attachment{}, errors.Wrap(err, "inserting attachment")
	}
	return att, nil
}

func (repo *messagingRepository) MarkConversationRead(ctx context.Context, conversationID string, reader messaging.Participant, readAt time.Time) error {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning tx")
	}
	defer func() { _ = tx.Rollback() }()

	const readQ = `
		INSERT INTO read_status (message_id, user_id, role, read_at)
		SELECT m.id, $2, $3, $4 FROM message m
		WHERE m.conversation_id = $1 AND m.sender_id <> $2
		ON CONFLICT (message_id, user_id) DO NOTHING`
	if _, err = tx.ExecContext(ctx, readQ, conversationID, reader.UserID, reader.Role.String(), readAt.UTC()); err != nil {
		return errors.Wrap(err, "upserting read statuses")
	}

	const unreadQ = `
		UPDATE conversation_member SET unread_count = 0
		WHERE conversation_id = $1 AND user_id = $2`
	if _, err = tx.ExecContext(ctx, unreadQ, conversationID, reader.UserID); err != nil {
		return errors.Wrap(err, "resetting unread count")
	}
	return errors.Wrap(tx.Commit(), "committing read marks")
}
