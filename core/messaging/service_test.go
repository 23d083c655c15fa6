package messaging_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/shulelink/backend/core"
	"github.com/shulelink/backend/core/messaging"
	"github.com/shulelink/backend/core/user"
	inmemdb "github.com/shulelink/backend/storage/database/inmem"
	testutil "github.com/shulelink/backend/tests"
)

// memStorage keeps uploaded objects in memory; failAfter > -1 makes the
// (failAfter+1)-th Put fail.
type memStorage struct {
	objects   map[string][]byte
	puts      int
	failAfter int
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte), failAfter: -1}
}

func (s *memStorage) Put(_ context.Context, path string, content io.Reader) (string, error) {
	if s.failAfter >= 0 && s.puts >= s.failAfter {
		return "", errors.New("bucket unavailable")
	}
	s.puts++
	b, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	s.objects[path] = b
	return "https://files.test/" + path, nil
}

type fakeScanner struct {
	threat string
}

func (s fakeScanner) Scan(_ context.Context, content io.Reader) (core.ScanReport, error) {
	if _, err := io.Copy(io.Discard, content); err != nil {
		return core.ScanReport{}, err
	}
	if s.threat != "" {
		return core.ScanReport{Threats: []string{s.threat}}, nil
	}
	return core.ScanReport{Clean: true}, nil
}

type svcFixture struct {
	db      *inmemdb.DB
	repo    messaging.Repository
	usrRepo user.Repository
	store   *memStorage
	svc     messaging.Service

	student user.User
	teacher user.User
	office  user.User
}

func newFixture(t *testing.T, scanner core.VirusScanner) *svcFixture {
	t.Helper()
	db := inmemdb.NewDB()
	repo := inmemdb.NewMessagingRepository(db)
	usrRepo := inmemdb.NewUserRepository(db)
	store := newMemStorage()
	if scanner == nil {
		scanner = fakeScanner{}
	}
	svc := messaging.NewService(repo, usrRepo, store, scanner, testutil.Logger{}, time.Second)

	return &svcFixture{
		db:      db,
		repo:    repo,
		usrRepo: usrRepo,
		store:   store,
		svc:     svc,
		student: testutil.CreateUser(t, usrRepo, "Asha", "asha@school.test", user.RoleStudent, "4B", true),
		teacher: testutil.CreateUser(t, usrRepo, "Mr. Otieno", "otieno@school.test", user.RoleTeacher, "", true),
		office:  testutil.CreateUser(t, usrRepo, "Registrar", "office@school.test", user.RoleOffice, "", true),
	}
}

func upload(name, mime, content string) messaging.FileUpload {
	return messaging.FileUpload{
		Filename: name,
		MimeType: mime,
		Size:     int64(len(content)),
		Content:  strings.NewReader(content),
	}
}

func TestService_SendMessage_permissions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, f.student, messaging.NewMessage{
		RecipientID:   f.office.ID,
		RecipientType: user.RoleOffice,
		Content:       "hello",
	})
	if errors.Cause(err) != messaging.ErrStudentToOffice {
		t.Fatalf("SendMessage() error = %v, want ErrStudentToOffice", err)
	}
	if !core.IsPermissionError(err) {
		t.Errorf("SendMessage() error is not a PermissionError: %v", err)
	}

	_, err = f.svc.SendMessage(ctx, f.student, messaging.NewMessage{
		RecipientID:   f.teacher.ID,
		RecipientType: user.RoleTeacher,
		Content:       "hello",
	})
	if err != nil {
		t.Fatalf("SendMessage() to teacher failed: %v", err)
	}
}

func TestService_SendMessage_unknownRecipient(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.SendMessage(context.Background(), f.teacher, messaging.NewMessage{
		RecipientID:   "nope",
		RecipientType: user.RoleStudent,
		Content:       "hello",
	})
	if errors.Cause(err) != messaging.ErrRecipientNotFound {
		t.Fatalf("SendMessage() error = %v, want ErrRecipientNotFound", err)
	}
}

func TestService_SendMessage_reusesConversation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	m1, err := f.svc.SendMessage(ctx, f.student, messaging.NewMessage{
		RecipientID: f.teacher.ID, RecipientType: user.RoleTeacher, Content: "first",
	})
	if err != nil {
		t.Fatalf("SendMessage() failed: %v", err)
	}
	// reply from the other side lands in the same conversation
	m2, err := f.svc.SendMessage(ctx, f.teacher, messaging.NewMessage{
		RecipientID: f.student.ID, RecipientType: user.RoleStudent, Content: "second",
	})
	if err != nil {
		t.Fatalf("SendMessage() reply failed: %v", err)
	}
	if m1.ConversationID != m2.ConversationID {
		t.Errorf("conversation not reused: %s != %s", m1.ConversationID, m2.ConversationID)
	}

	convs, err := f.svc.QueryUserConversations(ctx, f.student.ID)
	if err != nil {
		t.Fatalf("QueryUserConversations() failed: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("QueryUserConversations() = %d conversations, want 1", len(convs))
	}
	if convs[0].LastMessagePreview != "second" {
		t.Errorf("LastMessagePreview = %q, want %q", convs[0].LastMessagePreview, "second")
	}
}

func TestService_GetOrCreateConversation_orderIndependent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	a := messaging.Participant{UserID: f.student.ID, Role: f.student.Role, DisplayName: f.student.Name}
	b := messaging.Participant{UserID: f.teacher.ID, Role: f.teacher.Role, DisplayName: f.teacher.Name}

	c1, err := f.svc.GetOrCreateConversation(ctx, a, b)
	if err != nil {
		t.Fatalf("GetOrCreateConversation(a, b) failed: %v", err)
	}
	c2, err := f.svc.GetOrCreateConversation(ctx, b, a)
	if err != nil {
		t.Fatalf("GetOrCreateConversation(b, a) failed: %v", err)
	}
	if c1.ID != c2.ID {
		t.Errorf("pair resolved to two conversations: %s, %s", c1.ID, c2.ID)
	}
}

func TestRepository_CreateConversation_pairUnique(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// two first messages racing past the service's lookup both reach the
	// store; the second create must yield the first conversation
	mk := func(id string, first, second user.User) messaging.Conversation {
		return messaging.Conversation{
			ID:        id,
			CreatedAt: time.Now().UTC(),
			Members: []messaging.Member{
				{UserID: first.ID, Role: first.Role, DisplayName: first.Name},
				{UserID: second.ID, Role: second.Role, DisplayName: second.Name},
			},
		}
	}
	winner, err := f.repo.CreateConversation(ctx, mk("conv-a", f.student, f.teacher))
	if err != nil {
		t.Fatalf("CreateConversation() failed: %v", err)
	}
	loser, err := f.repo.CreateConversation(ctx, mk("conv-b", f.teacher, f.student))
	if err != nil {
		t.Fatalf("CreateConversation() failed: %v", err)
	}
	if loser.ID != winner.ID {
		t.Errorf("duplicate pair created conversation %s, want existing %s", loser.ID, winner.ID)
	}

	convs, err := f.repo.QueryUserConversations(ctx, f.student.ID)
	if err != nil {
		t.Fatalf("QueryUserConversations() failed: %v", err)
	}
	if len(convs) != 1 {
		t.Errorf("store holds %d conversations for the pair, want 1", len(convs))
	}
}

func TestService_SendMessage_studentAttachmentPolicy(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// one disallowed file aborts the whole send, including the allowed one
	_, err := f.svc.SendMessage(ctx, f.student, messaging.NewMessage{
		RecipientID:   f.teacher.ID,
		RecipientType: user.RoleTeacher,
		Content:       "homework",
		Attachments: []messaging.FileUpload{
			upload("hw.pdf", "application/pdf", "ok"),
			upload("clip.mp4", "video/mp4", "nope"),
		},
	})
	if !core.IsValidationError(err) {
		t.Fatalf("SendMessage() error = %v, want ValidationError", err)
	}

	msgs, _ := f.repo.QueryConversationMessages(ctx, "")
	if len(msgs) != 0 {
		t.Errorf("rejected send persisted %d messages", len(msgs))
	}
	if len(f.store.objects) != 0 {
		t.Errorf("rejected send uploaded %d objects", len(f.store.objects))
	}
}

func TestService_SendMessage_staffAttachmentSizeCap(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	oversize := messaging.FileUpload{
		Filename: "recordings.zip",
		MimeType: "application/zip",
		Size:     messaging.StaffMaxFileSize + 1,
		Content:  strings.NewReader("zip-bytes"),
	}
	_, err := f.svc.SendMessage(ctx, f.teacher, messaging.NewMessage{
		RecipientID:   f.student.ID,
		RecipientType: user.RoleStudent,
		Content:       "class recordings",
		Attachments:   []messaging.FileUpload{oversize},
	})
	if !core.IsValidationError(err) {
		t.Fatalf("SendMessage() error = %v, want ValidationError", err)
	}
	if len(f.store.objects) != 0 {
		t.Errorf("oversize send uploaded %d objects", len(f.store.objects))
	}

	// same file at the cap goes through
	atCap := messaging.FileUpload{
		Filename: "recordings.zip",
		MimeType: "application/zip",
		Size:     messaging.StaffMaxFileSize,
		Content:  strings.NewReader("zip-bytes"),
	}
	msg, err := f.svc.SendMessage(ctx, f.office, messaging.NewMessage{
		RecipientID:   f.student.ID,
		RecipientType: user.RoleStudent,
		Content:       "class recordings",
		Attachments:   []messaging.FileUpload{atCap},
	})
	if err != nil {
		t.Fatalf("SendMessage() failed: %v", err)
	}
	if len(msg.Attachments) != 1 {
		t.Errorf("message has %d attachments, want 1", len(msg.Attachments))
	}
}

func TestService_SendMessage_uploadsAttachments(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	msg, err := f.svc.SendMessage(ctx, f.teacher, messaging.NewMessage{
		RecipientID:   f.student.ID,
		RecipientType: user.RoleStudent,
		Content:       "notes attached",
		Attachments:   []messaging.FileUpload{upload("notes (final).pdf", "application/pdf", "pdf-bytes")},
	})
	if err != nil {
		t.Fatalf("SendMessage() failed: %v", err)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("message has %d attachments, want 1", len(msg.Attachments))
	}
	att := msg.Attachments[0]
	if att.OriginalFilename != "notes (final).pdf" {
		t.Errorf("OriginalFilename = %q", att.OriginalFilename)
	}
	if strings.ContainsAny(att.Filename, " ()") {
		t.Errorf("stored filename not sanitized: %q", att.Filename)
	}
	if att.URL == "" {
		t.Error("attachment URL is empty")
	}
	if len(f.store.objects) != 1 {
		t.Errorf("store has %d objects, want 1", len(f.store.objects))
	}
}

func TestService_SendMessage_infectedAttachment(t *testing.T) {
	f := newFixture(t, fakeScanner{threat: "EICAR-Test"})

	_, err := f.svc.SendMessage(context.Background(), f.teacher, messaging.NewMessage{
		RecipientID:   f.student.ID,
		RecipientType: user.RoleStudent,
		Content:       "see attached",
		Attachments:   []messaging.FileUpload{upload("virus.pdf", "application/pdf", "x")},
	})
	if !core.IsValidationError(err) {
		t.Fatalf("SendMessage() error = %v, want ValidationError", err)
	}
	if len(f.store.objects) != 0 {
		t.Error("infected file reached storage")
	}
}

func TestService_SendMessage_partialUploadFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.store.failAfter = 1 // second Put fails
	ctx := context.Background()

	msg, err := f.svc.SendMessage(ctx, f.teacher, messaging.NewMessage{
		RecipientID:   f.student.ID,
		RecipientType: user.RoleStudent,
		Content:       "two files",
		Attachments: []messaging.FileUpload{
			upload("one.pdf", "application/pdf", "1"),
			upload("two.pdf", "application/pdf", "2"),
		},
	})
	if err == nil {
		t.Fatal("SendMessage() expected an upload error")
	}
	var stErr *core.StorageError
	if !errors.As(err, &stErr) {
		t.Fatalf("SendMessage() error = %v, want StorageError", err)
	}
	// the message survives with the attachment that made it
	if msg.ID == "" {
		t.Fatal("message was not returned alongside the error")
	}
	stored, gerr := f.repo.GetMessageByID(ctx, msg.ID)
	if gerr != nil {
		t.Fatalf("GetMessageByID() failed: %v", gerr)
	}
	if len(stored.Attachments) != 1 {
		t.Errorf("stored message has %d attachments, want 1", len(stored.Attachments))
	}
}

func TestService_ForwardMessage(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	orig, err := f.svc.SendMessage(ctx, f.teacher, messaging.NewMessage{
		RecipientID: f.student.ID, RecipientType: user.RoleStudent, Content: "original text", Category: "homework",
	})
	if err != nil {
		t.Fatalf("SendMessage() failed: %v", err)
	}

	fwd, err := f.svc.ForwardMessage(ctx, f.teacher, orig.ID, f.office.ID, user.RoleOffice)
	if err != nil {
		t.Fatalf("ForwardMessage() failed: %v", err)
	}
	if !fwd.IsForwarded || fwd.OriginalSenderName != f.teacher.Name {
		t.Errorf("forward metadata = (%v, %q)", fwd.IsForwarded, fwd.OriginalSenderName)
	}
	if fwd.Content != orig.Content || fwd.Category != orig.Category {
		t.Errorf("forward did not copy content/category")
	}
	if fwd.ConversationID == orig.ConversationID {
		t.Error("forward landed in the source conversation")
	}

	// forwarding a forward keeps the original attribution
	fwd2, err := f.svc.ForwardMessage(ctx, f.office, fwd.ID, f.teacher.ID, user.RoleTeacher)
	if err != nil {
		t.Fatalf("ForwardMessage() chain failed: %v", err)
	}
	if fwd2.OriginalSenderName != f.teacher.Name {
		t.Errorf("chained forward attribution = %q, want %q", fwd2.OriginalSenderName, f.teacher.Name)
	}
}

func TestService_MarkRead(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	msg, err := f.svc.SendMessage(ctx, f.teacher, messaging.NewMessage{
		RecipientID: f.student.ID, RecipientType: user.RoleStudent, Content: "read me",
	})
	if err != nil {
		t.Fatalf("SendMessage() failed: %v", err)
	}

	if err = f.svc.MarkRead(ctx, msg.ConversationID, f.office); errors.Cause(err) != messaging.ErrNotParticipant {
		t.Fatalf("MarkRead() by outsider error = %v, want ErrNotParticipant", err)
	}

	// idempotent for a participant
	for i := 0; i < 2; i++ {
		if err = f.svc.MarkRead(ctx, msg.ConversationID, f.student); err != nil {
			t.Fatalf("MarkRead() #%d failed: %v", i+1, err)
		}
	}

	convs, _ := f.svc.QueryUserConversations(ctx, f.student.ID)
	for _, m := range convs[0].Members {
		if m.UserID == f.student.ID && m.UnreadCount != 0 {
			t.Errorf("UnreadCount = %d after MarkRead", m.UnreadCount)
		}
	}
}

func TestService_QueryConversationMessages_membership(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	msg, err := f.svc.SendMessage(ctx, f.teacher, messaging.NewMessage{
		RecipientID: f.student.ID, RecipientType: user.RoleStudent, Content: "private",
	})
	if err != nil {
		t.Fatalf("SendMessage() failed: %v", err)
	}

	if _, err = f.svc.QueryConversationMessages(ctx, msg.ConversationID, f.office); errors.Cause(err) != messaging.ErrNotParticipant {
		t.Fatalf("QueryConversationMessages() by outsider error = %v, want ErrNotParticipant", err)
	}
	msgs, err := f.svc.QueryConversationMessages(ctx, msg.ConversationID, f.student)
	if err != nil {
		t.Fatalf("QueryConversationMessages() failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("got %d messages, want 1", len(msgs))
	}
}

func TestNewMessage_Validate(t *testing.T) {
	validate, _ := core.NewValidator()

	tests := []struct {
		name    string
		in      messaging.NewMessage
		wantErr bool
	}{
		{
			name:    "ok",
			in:      messaging.NewMessage{RecipientID: "r", RecipientType: user.RoleTeacher, Content: "hi"},
			wantErr: false,
		},
		{
			name:    "missing recipient",
			in:      messaging.NewMessage{RecipientType: user.RoleTeacher, Content: "hi"},
			wantErr: true,
		},
		{
			name:    "bad recipient type",
			in:      messaging.NewMessage{RecipientID: "r", RecipientType: "parent", Content: "hi"},
			wantErr: true,
		},
		{
			name:    "empty with no attachments",
			in:      messaging.NewMessage{RecipientID: "r", RecipientType: user.RoleTeacher, Content: "   "},
			wantErr: true,
		},
		{
			name: "empty content but attachment",
			in: messaging.NewMessage{
				RecipientID: "r", RecipientType: user.RoleTeacher,
				Attachments: []messaging.FileUpload{{Filename: "a.pdf", MimeType: "application/pdf", Size: 1, Content: bytes.NewReader([]byte("x"))}},
			},
			wantErr: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.in.Validate(validate); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
