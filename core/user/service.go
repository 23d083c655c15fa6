package user

import (
	"context"
	"errors"
)

var (
	// errors
	ErrNotFound = errors.New("user not found")
)

type (
	Repository interface {
		CreateUser(ctx context.Context, usr User) (User, error)
		GetUserByID(ctx context.Context, id string) (User, error)
		GetUserByEmail(ctx context.Context, email string) (User, error)
		// QueryClassStudents returns the active students enrolled in the class.
		QueryClassStudents(ctx context.Context, className string) ([]User, error)
		QueryActiveStudents(ctx context.Context) ([]User, error)
	}

	Service interface {
		GetByID(ctx context.Context, id string) (User, error)
		GetByEmail(ctx context.Context, email string) (User, error)
		QueryClassStudents(ctx context.Context, className string) ([]User, error)
		QueryActiveStudents(ctx context.Context) ([]User, error)
	}

	service struct {
		repo Repository
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (svc *service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUserByID(ctx, id)
}

func (svc *service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUserByEmail(ctx, email)
}

func (svc *service) QueryClassStudents(ctx context.Context, className string) ([]User, error) {
	return svc.repo.QueryClassStudents(ctx, className)
}

func (svc *service) QueryActiveStudents(ctx context.Context) ([]User, error) {
	return svc.repo.QueryActiveStudents(ctx)
}
