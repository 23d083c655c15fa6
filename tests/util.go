package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shulelink/backend/core"
	"github.com/shulelink/backend/core/user"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, email string,
	role user.Role,
	className string,
	isActive bool,
) user.User {
	t.Helper()
	now := time.Now().UTC()
	usr, err := repo.CreateUser(context.Background(), user.User{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		Role:      role,
		ClassName: className,
		IsActive:  isActive,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// Logger discards everything; tests assert behavior, not log output.
type Logger struct{}

var _ core.Logger = (*Logger)(nil)

func (Logger) Enable(bool)                   {}
func (Logger) Debug(string, ...interface{})  {}
func (Logger) Info(string, ...interface{})   {}
func (Logger) Warn(string, ...interface{})   {}
func (Logger) Error(string, ...interface{})  {}
func (Logger) Fatal(string, ...interface{})  {}
