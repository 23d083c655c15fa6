package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/shulelink/backend/core/user"
)

type userRow struct {
	ID        string      `db:"id"`
	Name      string      `db:"name"`
	Email     string      `db:"email"`
	Role      string      `db:"role"`
	ClassName null.String `db:"class_name"`
	AvatarURL null.String `db:"avatar_url"`
	IsActive  bool        `db:"is_active"`
	CreatedAt null.Time   `db:"created_at"`
	UpdatedAt null.Time   `db:"updated_at"`
}

func (r userRow) toUser() user.User {
	return user.User{
		ID:        r.ID,
		Name:      r.Name,
		Email:     r.Email,
		Role:      user.Role(r.Role),
		ClassName: r.ClassName.String,
		AvatarURL: r.AvatarURL.String,
		IsActive:  r.IsActive,
		CreatedAt: r.CreatedAt.Time,
		UpdatedAt: r.UpdatedAt.Time,
	}
}

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *sqlx.DB) user.Repository {
	return &userRepository{db: db}
}

// trapNoRowsErr maps psql "no rows" err to user.ErrNotFound
func trapUserNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return user.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	const q = `
		INSERT INTO "user" (id, name, email, role, class_name, avatar_url, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := repo.db.ExecContext(ctx, q,
		usr.ID, usr.Name, usr.Email, usr.Role.String(),
		null.NewString(usr.ClassName, usr.ClassName != ""),
		null.NewString(usr.AvatarURL, usr.AvatarURL != ""),
		usr.IsActive, usr.CreatedAt.UTC(), usr.UpdatedAt.UTC(),
	)
	if err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo *userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	var row userRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM "user" WHERE id = $1`, id); err != nil {
		return user.User{}, trapUserNoRowsErr(err, "getting user by id")
	}
	return row.toUser(), nil
}

func (repo *userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	var row userRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM "user" WHERE email = $1`, email); err != nil {
		return user.User{}, trapUserNoRowsErr(err, "getting user by email")
	}
	return row.toUser(), nil
}

func (repo *userRepository) QueryClassStudents(ctx context.Context, className string) ([]user.User, error) {
	var rows []userRow
	const q = `SELECT * FROM "user" WHERE role = 'student' AND is_active AND class_name = $1 ORDER BY name`
	if err := repo.db.SelectContext(ctx, &rows, q, className); err != nil {
		return nil, errors.Wrap(err, "querying class students")
	}
	students := make([]user.User, 0, len(rows))
	for _, row := range rows {
		students = append(students, row.toUser())
	}
	return students, nil
}

func (repo *userRepository) QueryActiveStudents(ctx context.Context) ([]user.User, error) {
	var rows []userRow
	const q = `SELECT * FROM "user" WHERE role = 'student' AND is_active ORDER BY name`
	if err := repo.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying active students")
	}
	students := make([]user.User, 0, len(rows))
	for _, row := range rows {
		students = append(students, row.toUser())
	}
	return students, nil
}
