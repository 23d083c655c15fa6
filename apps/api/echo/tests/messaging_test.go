package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/shulelink/backend/apps/api/echo"
	"github.com/shulelink/backend/core/messaging"
	"github.com/shulelink/backend/core/user"
	testutil "github.com/shulelink/backend/tests"
)

func Test_messagingApi_send(t *testing.T) {
	student := createUser(t, "Asha", "asha.send@test.cd", user.RoleStudent, "5A")
	teacher := createUser(t, "Mr. Otieno", "otieno.send@test.cd", user.RoleTeacher, "")
	office := createUser(t, "Registrar", "registrar.send@test.cd", user.RoleOffice, "")
	inactive := testutil.CreateUser(t, usrRepo, "Gone", "gone.send@test.cd", user.RoleStudent, "5A", false)

	toTeacher := marshallObj(t, messaging.NewMessage{
		RecipientID:   teacher.ID,
		RecipientType: user.RoleTeacher,
		Content:       "hello teacher",
	})
	toOffice := marshallObj(t, messaging.NewMessage{
		RecipientID:   office.ID,
		RecipientType: user.RoleOffice,
		Content:       "hello office",
	})
	toNobody := marshallObj(t, messaging.NewMessage{
		RecipientID:   "who-dis",
		RecipientType: user.RoleTeacher,
		Content:       "hello?",
	})
	noContent := marshallObj(t, messaging.NewMessage{
		RecipientID:   teacher.ID,
		RecipientType: user.RoleTeacher,
		Content:       "   ",
	})

	tests := []httpTest{
		{name: "Auth required", method: http.MethodPost, path: "/v1/messages", body: toTeacher,
			wantCode: http.StatusUnauthorized, wantData: marshallObj(t, errNotAuthenticated)},
		{name: "Inactive user rejected", method: http.MethodPost, path: "/v1/messages", body: toTeacher, usr: inactive,
			wantCode: http.StatusForbidden, wantData: marshallObj(t, errPermDenied)},
		{name: "Student cannot message office", method: http.MethodPost, path: "/v1/messages", body: toOffice, usr: student,
			wantCode: http.StatusForbidden, wantData: marshallObj(t, httpErr{Error: "students cannot message office directly"})},
		{name: "Unknown recipient", method: http.MethodPost, path: "/v1/messages", body: toNobody, usr: student,
			wantCode: http.StatusNotFound, wantData: marshallObj(t, httpErr{Error: "recipient not found"})},
		{name: "Content or attachment required", method: http.MethodPost, path: "/v1/messages", body: noContent, usr: student,
			wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string]string{"content": "a message needs content or at least one attachment"})},
		{name: "Missing recipient", method: http.MethodPost, path: "/v1/messages",
			body: marshallObj(t, messaging.NewMessage{Content: "hi"}), usr: student, wantCode: http.StatusBadRequest},
		{name: "Send ok", method: http.MethodPost, path: "/v1/messages", body: toTeacher, usr: student,
			wantCode: http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.usr, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	// the sent message landed in a shared conversation
	t.Run("Conversation visible to both parties", func(t *testing.T) {
		for _, usr := range []user.User{student, teacher} {
			req, rec := newAuthRequest(http.MethodGet, "/v1/conversations", usr)
			app.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("code = %d; body %s", rec.Code, rec.Body.String())
			}
			var convs []messaging.Conversation
			if err := json.Unmarshal(rec.Body.Bytes(), &convs); err != nil {
				t.Fatalf("unmarshalling conversations: %v", err)
			}
			if len(convs) != 1 {
				t.Fatalf("user %s sees %d conversations, want 1", usr.Name, len(convs))
			}
			if convs[0].LastMessagePreview != "hello teacher" {
				t.Errorf("LastMessagePreview = %q", convs[0].LastMessagePreview)
			}
		}
	})
}

func Test_messagingApi_sendMultipart(t *testing.T) {
	student := createUser(t, "Biko", "biko.upload@test.cd", user.RoleStudent, "5B")
	teacher := createUser(t, "Mrs. Njeri", "njeri.upload@test.cd", user.RoleTeacher, "")

	buildForm := func(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
		t.Helper()
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		_ = w.WriteField("recipient_id", teacher.ID)
		_ = w.WriteField("recipient_type", "teacher")
		_ = w.WriteField("content", "homework attached")
		fw, err := w.CreateFormFile("attachments", filename)
		if err != nil {
			t.Fatalf("CreateFormFile(): %v", err)
		}
		if _, err = fw.Write(content); err != nil {
			t.Fatalf("writing form file: %v", err)
		}
		if err = w.Close(); err != nil {
			t.Fatalf("closing form: %v", err)
		}
		return &buf, w.FormDataContentType()
	}

	t.Run("Upload stored and linked", func(t *testing.T) {
		body, contentType := buildForm(t, "essay final.pdf", []byte("%PDF-1.4 essay"))
		req := httptest.NewRequest(http.MethodPost, "/v1/messages", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("X-User-ID", student.ID)
		req.Header.Set("X-User-Role", student.Role.String())
		rec := httptest.NewRecorder()
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("code = %d; body %s", rec.Code, rec.Body.String())
		}
		var msg messaging.Message
		if err := json.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
			t.Fatalf("unmarshalling message: %v", err)
		}
		if len(msg.Attachments) != 1 {
			t.Fatalf("got %d attachments, want 1", len(msg.Attachments))
		}
		att := msg.Attachments[0]
		if att.OriginalFilename != "essay final.pdf" {
			t.Errorf("OriginalFilename = %q", att.OriginalFilename)
		}
		if att.URL == "" {
			t.Error("attachment URL not set")
		}
	})
}

func Test_messagingApi_conversationOps(t *testing.T) {
	student := createUser(t, "Chao", "chao.convo@test.cd", user.RoleStudent, "5C")
	teacher := createUser(t, "Mr. Baraka", "baraka.convo@test.cd", user.RoleTeacher, "")
	outsider := createUser(t, "Dida", "dida.convo@test.cd", user.RoleStudent, "5C")

	// seed a conversation directly through the service
	msg, err := msgSvc.SendMessage(context.Background(), student, messaging.NewMessage{
		RecipientID:   teacher.ID,
		RecipientType: user.RoleTeacher,
		Content:       "about friday",
	})
	if err != nil {
		t.Fatalf("SendMessage(): %v", err)
	}
	convID := msg.ConversationID

	notParticipant := marshallObj(t, httpErr{Error: "user is not a participant in this conversation"})
	path := func(op string) string { return fmt.Sprintf("/v1/conversations/%s/%s", convID, op) }

	tests := []httpTest{
		{name: "Messages listed for member", method: http.MethodGet, path: path("messages"), usr: teacher,
			wantCode: http.StatusOK},
		{name: "Messages hidden from outsider", method: http.MethodGet, path: path("messages"), usr: outsider,
			wantCode: http.StatusForbidden, wantData: notParticipant},
		{name: "Mark read", method: http.MethodPost, path: path("read"), usr: teacher, wantCode: http.StatusNoContent},
		{name: "Mark read by outsider", method: http.MethodPost, path: path("read"), usr: outsider,
			wantCode: http.StatusForbidden, wantData: notParticipant},
		{name: "Mute", method: http.MethodPut, path: path("mute"), usr: student,
			body: marshallObj(t, MuteRequest{Muted: true}), wantCode: http.StatusNoContent},
		{name: "Archive", method: http.MethodPut, path: path("archive"), usr: student,
			body: marshallObj(t, ArchiveRequest{Archived: true}), wantCode: http.StatusNoContent},
		{name: "Typing signal", method: http.MethodPost, path: path("typing"), usr: student,
			wantCode: http.StatusAccepted},
		{name: "Typing by outsider", method: http.MethodPost, path: path("typing"), usr: outsider,
			wantCode: http.StatusForbidden, wantData: notParticipant},
		{name: "Unknown conversation", method: http.MethodPost, path: "/v1/conversations/nope/read", usr: student,
			wantCode: http.StatusNotFound, wantData: marshallObj(t, httpErr{Error: "conversation not found"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.usr, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_messagingApi_forward(t *testing.T) {
	student := createUser(t, "Emi", "emi.fwd@test.cd", user.RoleStudent, "5D")
	teacher := createUser(t, "Mr. Juma", "juma.fwd@test.cd", user.RoleTeacher, "")
	other := createUser(t, "Furaha", "furaha.fwd@test.cd", user.RoleStudent, "5D")
	office := createUser(t, "Bursar", "bursar.fwd@test.cd", user.RoleOffice, "")

	msg, err := msgSvc.SendMessage(context.Background(), teacher, messaging.NewMessage{
		RecipientID:   student.ID,
		RecipientType: user.RoleStudent,
		Content:       "exam moved to monday",
	})
	if err != nil {
		t.Fatalf("SendMessage(): %v", err)
	}

	fwdPath := fmt.Sprintf("/v1/messages/%s/forward", msg.ID)
	toOther := marshallObj(t, ForwardRequest{RecipientID: other.ID, RecipientType: user.RoleStudent})

	tests := []httpTest{
		{name: "Auth required", method: http.MethodPost, path: fwdPath, body: toOther,
			wantCode: http.StatusUnauthorized, wantData: marshallObj(t, errNotAuthenticated)},
		{name: "Recipient permission applies", method: http.MethodPost, path: fwdPath,
			body: marshallObj(t, ForwardRequest{RecipientID: office.ID, RecipientType: user.RoleOffice}), usr: student,
			wantCode: http.StatusForbidden, wantData: marshallObj(t, httpErr{Error: "students cannot message office directly"})},
		{name: "Unknown message", method: http.MethodPost, path: "/v1/messages/nope/forward", body: toOther, usr: student,
			wantCode: http.StatusNotFound, wantData: marshallObj(t, httpErr{Error: "message not found"})},
		{name: "Forward ok", method: http.MethodPost, path: fwdPath, body: toOther, usr: student,
			wantCode: http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.usr, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("Forwarded metadata kept", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/conversations", other)
		app.ServeHTTP(rec, req)
		var convs []messaging.Conversation
		if err := json.Unmarshal(rec.Body.Bytes(), &convs); err != nil {
			t.Fatalf("unmarshalling conversations: %v", err)
		}
		if len(convs) != 1 {
			t.Fatalf("got %d conversations, want 1", len(convs))
		}
		req, rec = newAuthRequest(http.MethodGet, fmt.Sprintf("/v1/conversations/%s/messages", convs[0].ID), other)
		app.ServeHTTP(rec, req)
		var msgs []messaging.Message
		if err := json.Unmarshal(rec.Body.Bytes(), &msgs); err != nil {
			t.Fatalf("unmarshalling messages: %v", err)
		}
		if len(msgs) != 1 || !msgs[0].IsForwarded || msgs[0].OriginalSenderName != teacher.Name {
			t.Errorf("forwarded message = %+v", msgs)
		}
	})
}
