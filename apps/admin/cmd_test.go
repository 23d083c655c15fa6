package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strconv"
	"testing"

	"github.com/shulelink/backend/core"
	"github.com/shulelink/backend/core/notification"
	"github.com/shulelink/backend/core/user"
	inmemdb "github.com/shulelink/backend/storage/database/inmem"
	testutil "github.com/shulelink/backend/tests"
)

func setup(t *testing.T) *commandLine {
	t.Helper()
	db := inmemdb.NewDB()
	return &commandLine{
		conf: &core.Config{
			Monitor: core.MonitorConfig{
				Cron:              "0 7 * * *",
				RetryCron:         "*/10 * * * *",
				WarningRate:       80,
				CertificationRate: 70,
				DisqualifiedRate:  60,
				MaxRetryAttempts:  3,
				Workers:           2,
			},
		},
		usrRepo:  inmemdb.NewUserRepository(db),
		noteRepo: inmemdb.NewNotificationRepository(db),
		metrics:  stubMetrics{rate: 75},
		sender:   stubSender{},
		logger:   testutil.Logger{},
	}
}

type stubMetrics struct {
	rate float64
}

func (p stubMetrics) GetStudentMetrics(context.Context, string) (core.StudentMetrics, error) {
	return core.StudentMetrics{AttendanceRate: p.rate, TotalDays: 100}, nil
}

type stubSender struct{}

func (stubSender) Deliver(context.Context, notification.Notification, string, string) error {
	return nil
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	gooseRunFunc = func(command string, db *sql.DB, fsys fs.FS, dir string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s requires a VERSION argument", command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create requires a NAME argument")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to requires a VERSION argument"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to requires a VERSION argument"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "conversations", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			if err := cli.run(args); err != nil {
				if tt.wantErr != nil {
					if err != tt.wantErr {
						t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
					}
				} else if tt.wantErrStr != "" {
					if err.Error() != tt.wantErrStr {
						t.Errorf("cli.run() error.Error() = %s, wantErrStr %s", err.Error(), tt.wantErrStr)
					}
				} else {
					t.Errorf("cli.run() unexpected error = %v", err)
				}
			}
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	cli := setup(t)
	ctx := context.Background()

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "missing flags", args: []string{"adduser", "-name", "Asha"}, wantErr: errHelp},
		{name: "invalid role", args: []string{"adduser", "-name", "Asha", "-email", "a@test.cd", "-role", "pirate"}, wantErr: errHelp},
		{name: "student with class", args: []string{"adduser", "-name", "Asha", "-email", "ASHA@test.cd", "-role", "student", "-class", "4B"}},
		{name: "teacher", args: []string{"adduser", "-name", "Mr. Otieno", "-email", "otieno@test.cd", "-role", "teacher"}},
		{name: "duplicate email is a no-op", args: []string{"adduser", "-name", "Other", "-email", "asha@test.cd", "-role", "teacher"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			if err := cli.run(args); err != tt.wantErr {
				t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	// the email was lowercased on the way in, and the duplicate did not overwrite
	usr, err := cli.usrRepo.GetUserByEmail(ctx, "asha@test.cd")
	if err != nil {
		t.Fatalf("GetUserByEmail() failed: %v", err)
	}
	if usr.Name != "Asha" || usr.Role != user.RoleStudent || usr.ClassName != "4B" || !usr.IsActive {
		t.Errorf("created user = %+v", usr)
	}
}

func Test_commandLine_attendanceCheck(t *testing.T) {
	cli := setup(t)
	ctx := context.Background()

	stu := testutil.CreateUser(t, cli.usrRepo, "Mosi", "mosi@test.cd", user.RoleStudent, "8B", true)

	if err := cli.run([]string{"admin", "attendance-check"}); err != nil {
		t.Fatalf("cli.run() error = %v", err)
	}

	notes, err := cli.noteRepo.QueryUserNotifications(ctx, stu.ID)
	if err != nil {
		t.Fatalf("QueryUserNotifications() failed: %v", err)
	}
	if len(notes) != 1 || notes[0].Type != notification.TypeAttendanceWarning {
		t.Errorf("notifications = %+v", notes)
	}
}
