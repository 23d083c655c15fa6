package messaging_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/shulelink/backend/core"
	"github.com/shulelink/backend/core/messaging"
	"github.com/shulelink/backend/core/user"
	inmemdb "github.com/shulelink/backend/storage/database/inmem"
	testutil "github.com/shulelink/backend/tests"
)

type schedFixture struct {
	*svcFixture
	schedRepo messaging.ScheduleRepository
	sched     messaging.ScheduleService
}

func newScheduleFixture(t *testing.T) *schedFixture {
	t.Helper()
	base := newFixture(t, nil)
	schedRepo := inmemdb.NewScheduleRepository(base.db)
	sched, err := messaging.NewScheduleService(schedRepo, base.usrRepo, base.svc, testutil.Logger{}, "* * * * *")
	if err != nil {
		t.Fatalf("NewScheduleService() failed: %v", err)
	}
	return &schedFixture{svcFixture: base, schedRepo: schedRepo, sched: sched}
}

func newDraft(f *svcFixture, scheduledFor time.Time) messaging.NewScheduledMessage {
	return messaging.NewScheduledMessage{
		NewMessage: messaging.NewMessage{
			RecipientID:   f.student.ID,
			RecipientType: user.RoleStudent,
			Content:       "reminder: bring your lab coat",
		},
		ScheduledFor: scheduledFor,
	}
}

func TestNewScheduleService_badCron(t *testing.T) {
	base := newFixture(t, nil)
	schedRepo := inmemdb.NewScheduleRepository(base.db)
	if _, err := messaging.NewScheduleService(schedRepo, base.usrRepo, base.svc, testutil.Logger{}, "not a cron"); err == nil {
		t.Fatal("NewScheduleService() accepted an invalid cron expression")
	}
}

func TestNewScheduledMessage_Validate(t *testing.T) {
	validate, _ := core.NewValidator()
	now := time.Now().UTC()

	in := messaging.NewScheduledMessage{
		NewMessage:   messaging.NewMessage{RecipientID: "r", RecipientType: user.RoleStudent, Content: "hi"},
		ScheduledFor: now.Add(-time.Minute),
	}
	if err := in.Validate(validate, now); !core.IsValidationError(err) {
		t.Errorf("Validate() past time error = %v, want ValidationError", err)
	}

	in.ScheduledFor = now.Add(time.Hour)
	if err := in.Validate(validate, now); err != nil {
		t.Errorf("Validate() future time failed: %v", err)
	}
}

func TestScheduleService_Schedule(t *testing.T) {
	f := newScheduleFixture(t)
	ctx := context.Background()

	sm, err := f.sched.Schedule(ctx, f.teacher, newDraft(f.svcFixture, time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("Schedule() failed: %v", err)
	}
	if sm.Status != messaging.ScheduledStatusPending {
		t.Errorf("Status = %s, want pending", sm.Status)
	}

	// permission matrix applies at scheduling time
	draft := newDraft(f.svcFixture, time.Now().Add(time.Hour))
	draft.RecipientID = f.office.ID
	draft.RecipientType = user.RoleOffice
	if _, err = f.sched.Schedule(ctx, f.student, draft); errors.Cause(err) != messaging.ErrStudentToOffice {
		t.Errorf("Schedule() student->office error = %v, want ErrStudentToOffice", err)
	}

	mine, err := f.sched.QueryUserScheduledMessages(ctx, f.teacher.ID)
	if err != nil {
		t.Fatalf("QueryUserScheduledMessages() failed: %v", err)
	}
	if len(mine) != 1 {
		t.Errorf("got %d scheduled messages, want 1", len(mine))
	}
}

func TestScheduleService_Cancel(t *testing.T) {
	f := newScheduleFixture(t)
	ctx := context.Background()

	sm, err := f.sched.Schedule(ctx, f.teacher, newDraft(f.svcFixture, time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("Schedule() failed: %v", err)
	}

	// only the sender may cancel
	if err = f.sched.Cancel(ctx, f.office, sm.ID); !core.IsPermissionError(err) {
		t.Fatalf("Cancel() by non-sender error = %v, want PermissionError", err)
	}

	if err = f.sched.Cancel(ctx, f.teacher, sm.ID); err != nil {
		t.Fatalf("Cancel() failed: %v", err)
	}
	got, _ := f.sched.GetByID(ctx, sm.ID)
	if got.Status != messaging.ScheduledStatusCancelled {
		t.Errorf("Status = %s, want cancelled", got.Status)
	}

	// cancelled is terminal
	if err = f.sched.Cancel(ctx, f.teacher, sm.ID); errors.Cause(err) != messaging.ErrScheduledNotPending {
		t.Errorf("Cancel() repeat error = %v, want ErrScheduledNotPending", err)
	}

	if err = f.sched.Cancel(ctx, f.teacher, "nope"); errors.Cause(err) != messaging.ErrScheduledNotFound {
		t.Errorf("Cancel() unknown id error = %v, want ErrScheduledNotFound", err)
	}
}

func TestScheduleService_DispatchDue(t *testing.T) {
	f := newScheduleFixture(t)
	ctx := context.Background()

	due, err := f.sched.Schedule(ctx, f.teacher, newDraft(f.svcFixture, time.Now().Add(10*time.Millisecond)))
	if err != nil {
		t.Fatalf("Schedule() failed: %v", err)
	}
	notDue, err := f.sched.Schedule(ctx, f.teacher, newDraft(f.svcFixture, time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("Schedule() failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	sent, failed := f.sched.DispatchDue(ctx)
	if sent != 1 || failed != 0 {
		t.Fatalf("DispatchDue() = (%d, %d), want (1, 0)", sent, failed)
	}

	got, _ := f.sched.GetByID(ctx, due.ID)
	if got.Status != messaging.ScheduledStatusSent {
		t.Errorf("due message Status = %s, want sent", got.Status)
	}
	if got.SentAt == nil {
		t.Error("due message SentAt not set")
	}
	later, _ := f.sched.GetByID(ctx, notDue.ID)
	if later.Status != messaging.ScheduledStatusPending {
		t.Errorf("future message Status = %s, want pending", later.Status)
	}

	// the dispatched draft became a real message
	convs, _ := f.svc.QueryUserConversations(ctx, f.student.ID)
	if len(convs) != 1 {
		t.Fatalf("student has %d conversations after dispatch, want 1", len(convs))
	}

	// sent is terminal: cancelling now reports the conflict
	if err = f.sched.Cancel(ctx, f.teacher, due.ID); !core.IsInvalidStateError(err) {
		t.Errorf("Cancel() after send error = %v, want InvalidStateError", err)
	}

	// nothing left due; second tick is a no-op
	if sent, failed = f.sched.DispatchDue(ctx); sent != 0 || failed != 0 {
		t.Errorf("DispatchDue() repeat = (%d, %d), want (0, 0)", sent, failed)
	}
}

func TestScheduleService_DispatchDue_inactiveSender(t *testing.T) {
	f := newScheduleFixture(t)
	ctx := context.Background()

	gone := testutil.CreateUser(t, f.usrRepo, "Ms. Left", "left@school.test", user.RoleTeacher, "", false)
	sm, err := f.sched.Schedule(ctx, gone, newDraft(f.svcFixture, time.Now().Add(10*time.Millisecond)))
	if err != nil {
		t.Fatalf("Schedule() failed: %v", err)
	}

	// deactivated since scheduling: the draft is cancelled, not sent
	time.Sleep(20 * time.Millisecond)
	if sent, failed := f.sched.DispatchDue(ctx); sent != 0 || failed != 1 {
		t.Fatalf("DispatchDue() = (%d, %d), want (0, 1)", sent, failed)
	}
	got, _ := f.sched.GetByID(ctx, sm.ID)
	if got.Status != messaging.ScheduledStatusCancelled {
		t.Errorf("Status = %s, want cancelled", got.Status)
	}
	convs, _ := f.svc.QueryUserConversations(ctx, f.student.ID)
	if len(convs) != 0 {
		t.Errorf("student has %d conversations after cancelled dispatch, want 0", len(convs))
	}
}
