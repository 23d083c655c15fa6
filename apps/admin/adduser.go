package main

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shulelink/backend/core"
	"github.com/shulelink/backend/core/user"
)

// addUser creates a user if no account exists for the email yet.
func (cli *commandLine) addUser(name, email string, role user.Role, className string) error {
	ctx := context.Background()
	name = core.CleanString(name)
	email = core.CleanString(email, true /* lower */)

	if _, err := cli.usrRepo.GetUserByEmail(ctx, email); err == nil {
		return nil // already exists
	} else if err != user.ErrNotFound {
		return err
	}

	now := time.Now().UTC()
	_, err := cli.usrRepo.CreateUser(ctx, user.User{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		Role:      role,
		ClassName: className,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	return err
}
