package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/shulelink/backend/core"
	"github.com/shulelink/backend/core/user"
)

var nowFunc = time.Now // mockable

var (
	// errors
	ErrConversationNotFound = core.NewNotFoundError("conversation not found")
	ErrMessageNotFound      = core.NewNotFoundError("message not found")
	ErrRecipientNotFound    = core.NewNotFoundError("recipient not found")
	ErrNotParticipant       = core.NewPermissionError("user is not a participant in this conversation")
	ErrStudentToOffice      = core.NewPermissionError("students cannot message office directly")
)

type (
	Service interface {
		// SendMessage validates permission and attachments, resolves or
		// creates the conversation, persists the message and uploads its
		// attachments sequentially. On attachment upload failure the message
		// stays visible with whichever attachments completed and the error
		// is returned alongside it.
		SendMessage(ctx context.Context, sender user.User, in NewMessage) (Message, error)
		// ForwardMessage copies content/category from an existing message to
		// a new recipient; forwarded messages carry no new attachments.
		ForwardMessage(ctx context.Context, sender user.User, messageID, recipientID string, recipientType user.Role) (Message, error)
		GetOrCreateConversation(ctx context.Context, a, b Participant) (Conversation, error)
		MarkRead(ctx context.Context, conversationID string, reader user.User) error
		QueryUserConversations(ctx context.Context, userID string) ([]Conversation, error)
		QueryConversationMessages(ctx context.Context, conversationID string, viewer user.User) ([]Message, error)
		SetMuted(ctx context.Context, conversationID string, actor user.User, muted bool) error
		SetArchived(ctx context.Context, conversationID string, actor user.User, archived bool) error
		// NotifyTyping records a transient typing signal; it is never
		// persisted, only validated.
		NotifyTyping(ctx context.Context, conversationID string, actor user.User) error
	}

	service struct {
		repo          Repository
		usrRepo       user.Repository
		fileStore     core.FileStorage
		scanner       core.VirusScanner
		logger        core.Logger
		uploadTimeout time.Duration
	}
)

var _ Service = (*service)(nil)

func NewService(
	repo Repository,
	usrRepo user.Repository,
	fileStore core.FileStorage,
	scanner core.VirusScanner,
	logger core.Logger,
	uploadTimeout time.Duration,
) Service {
	return &service{
		repo:          repo,
		usrRepo:       usrRepo,
		fileStore:     fileStore,
		scanner:       scanner,
		logger:        logger,
		uploadTimeout: uploadTimeout,
	}
}

func permissionError(senderRole, recipientRole user.Role) error {
	if senderRole == user.RoleStudent && recipientRole == user.RoleOffice {
		return ErrStudentToOffice
	}
	return core.NewPermissionError(fmt.Sprintf("%ss cannot message %ss", senderRole, recipientRole))
}

func (svc *service) SendMessage(ctx context.Context, sender user.User, in NewMessage) (Message, error) {
	if !CanSend(sender.Role, in.RecipientType) {
		return Message{}, permissionError(sender.Role, in.RecipientType)
	}

	// no partial attachment sets: the first failing file aborts the whole
	// send. Size caps apply to every role, the MIME allowlist to students.
	for _, up := range in.Attachments {
		if ok, reason := IsFileAllowed(sender.Role, up.Filename, up.MimeType, up.Size); !ok {
			return Message{}, core.NewValidationError(
				errors.New("attachment rejected"),
				core.FieldError{Field: "attachments", Error: reason},
			)
		}
	}

	conv, err := svc.resolveConversation(ctx, sender, in)
	if err != nil {
		return Message{}, err
	}

	now := nowFunc().UTC()
	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       sender.ID,
		SenderRole:     sender.Role,
		SenderName:     sender.Name,
		Content:        in.Content,
		Type:           MessageTypeUser,
		Category:       in.Category,
		CreatedAt:      now,
		ReplyToID:      in.ReplyToID,
	}
	msg, err = svc.repo.CreateMessage(ctx, msg)
	if err != nil {
		return Message{}, core.NewDatabaseError(errors.Wrap(err, "creating message"))
	}

	if err = svc.repo.TouchConversation(ctx, conv.ID, now, msg.Preview(), sender.ID); err != nil {
		return Message{}, core.NewDatabaseError(errors.Wrap(err, "updating conversation"))
	}

	// attachments are stored after the message: a failed upload leaves the
	// message visible with whatever attachments did complete.
	for _, up := range in.Attachments {
		att, upErr := svc.uploadAttachment(ctx, msg.ID, up)
		if upErr != nil {
			svc.logger.Error(fmt.Sprintf("uploading attachment %s: %v", up.Filename, upErr), upErr)
			return msg, upErr
		}
		msg.Attachments = append(msg.Attachments, att)
	}
	return msg, nil
}

func (svc *service) ForwardMessage(ctx context.Context, sender user.User, messageID, recipientID string, recipientType user.Role) (Message, error) {
	if !CanSend(sender.Role, recipientType) {
		return Message{}, permissionError(sender.Role, recipientType)
	}

	orig, err := svc.repo.GetMessageByID(ctx, messageID)
	if err != nil {
		return Message{}, err
	}

	origSender := orig.SenderName
	if orig.IsForwarded && orig.OriginalSenderName != "" {
		origSender = orig.OriginalSenderName
	}

	recipient, err := svc.usrRepo.GetUserByID(ctx, recipientID)
	if err != nil {
		return Message{}, ErrRecipientNotFound
	}

	conv, err := svc.GetOrCreateConversation(ctx,
		Participant{UserID: sender.ID, Role: sender.Role, DisplayName: sender.Name, AvatarURL: sender.AvatarURL},
		Participant{UserID: recipient.ID, Role: recipient.Role, DisplayName: recipient.Name, AvatarURL: recipient.AvatarURL},
	)
	if err != nil {
		return Message{}, err
	}

	now := nowFunc().UTC()
	msg := Message{
		ID:                 uuid.NewString(),
		ConversationID:     conv.ID,
		SenderID:           sender.ID,
		SenderRole:         sender.Role,
		SenderName:         sender.Name,
		Content:            orig.Content,
		Type:               MessageTypeUser,
		Category:           orig.Category,
		CreatedAt:          now,
		IsForwarded:        true,
		OriginalSenderName: origSender,
	}
	msg, err = svc.repo.CreateMessage(ctx, msg)
	if err != nil {
		return Message{}, core.NewDatabaseError(errors.Wrap(err, "creating forwarded message"))
	}
	if err = svc.repo.TouchConversation(ctx, conv.ID, now, msg.Preview(), sender.ID); err != nil {
		return Message{}, core.NewDatabaseError(errors.Wrap(err, "updating conversation"))
	}
	return msg, nil
}

// resolveConversation loads the conversation referenced by the input or
// lazily creates the one between sender and recipient.
func (svc *service) resolveConversation(ctx context.Context, sender user.User, in NewMessage) (Conversation, error) {
	if in.ConversationID != "" {
		conv, err := svc.repo.GetConversationByID(ctx, in.ConversationID)
		if err != nil {
			return Conversation{}, err
		}
		if !conv.HasMember(sender.ID) {
			return Conversation{}, ErrNotParticipant
		}
		return conv, nil
	}

	recipient, err := svc.usrRepo.GetUserByID(ctx, in.RecipientID)
	if err != nil {
		return Conversation{}, ErrRecipientNotFound
	}
	return svc.GetOrCreateConversation(ctx,
		Participant{UserID: sender.ID, Role: sender.Role, DisplayName: sender.Name, AvatarURL: sender.AvatarURL},
		Participant{UserID: recipient.ID, Role: recipient.Role, DisplayName: recipient.Name, AvatarURL: recipient.AvatarURL},
	)
}

func (svc *service) GetOrCreateConversation(ctx context.Context, a, b Participant) (Conversation, error) {
	// O(a's conversation count): scan a's conversations for b on the other
	// side. A user's conversation count stays small relative to total users.
	convs, err := svc.repo.QueryUserConversations(ctx, a.UserID)
	if err != nil {
		return Conversation{}, core.NewDatabaseError(errors.Wrap(err, "querying conversations"))
	}
	for _, conv := range convs {
		if other, ok := conv.OtherMember(a.UserID); ok && other.UserID == b.UserID {
			return conv, nil
		}
	}

	now := nowFunc().UTC()
	conv := Conversation{
		ID:        uuid.NewString(),
		CreatedAt: now,
		Members: []Member{
			{UserID: a.UserID, Role: a.Role, DisplayName: a.DisplayName, AvatarURL: a.AvatarURL},
			{UserID: b.UserID, Role: b.Role, DisplayName: b.DisplayName, AvatarURL: b.AvatarURL},
		},
	}
	conv, err = svc.repo.CreateConversation(ctx, conv)
	if err != nil {
		return Conversation{}, core.NewDatabaseError(errors.Wrap(err, "creating conversation"))
	}
	return conv, nil
}

func (svc *service) MarkRead(ctx context.Context, conversationID string, reader user.User) error {
	conv, err := svc.repo.GetConversationByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasMember(reader.ID) {
		return ErrNotParticipant
	}
	p := Participant{UserID: reader.ID, Role: reader.Role, DisplayName: reader.Name}
	if err = svc.repo.MarkConversationRead(ctx, conversationID, p, nowFunc().UTC()); err != nil {
		return core.NewDatabaseError(errors.Wrap(err, "marking conversation read"))
	}
	return nil
}

func (svc *service) QueryUserConversations(ctx context.Context, userID string) ([]Conversation, error) {
	return svc.repo.QueryUserConversations(ctx, userID)
}

func (svc *service) QueryConversationMessages(ctx context.Context, conversationID string, viewer user.User) ([]Message, error) {
	conv, err := svc.repo.GetConversationByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasMember(viewer.ID) {
		return nil, ErrNotParticipant
	}
	return svc.repo.QueryConversationMessages(ctx, conversationID)
}

func (svc *service) SetMuted(ctx context.Context, conversationID string, actor user.User, muted bool) error {
	conv, err := svc.repo.GetConversationByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasMember(actor.ID) {
		return ErrNotParticipant
	}
	return svc.repo.SetConversationMuted(ctx, conversationID, actor.ID, muted)
}

func (svc *service) NotifyTyping(ctx context.Context, conversationID string, actor user.User) error {
	conv, err := svc.repo.GetConversationByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasMember(actor.ID) {
		return ErrNotParticipant
	}
	svc.logger.Debug(fmt.Sprintf("typing: %s in conversation %s", actor.ID, conversationID))
	return nil
}

func (svc *service) SetArchived(ctx context.Context, conversationID string, actor user.User, archived bool) error {
	conv, err := svc.repo.GetConversationByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasMember(actor.ID) {
		return ErrNotParticipant
	}
	return svc.repo.SetConversationArchived(ctx, conversationID, archived)
}
