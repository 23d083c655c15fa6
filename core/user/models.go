package user

import (
	"time"
)

// Role is the closed set of user roles. Permission and file-policy lookups
// switch exhaustively over it so a new role forces every call site to be
// revisited.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleOffice  Role = "office"
)

var Roles = []Role{RoleStudent, RoleTeacher, RoleOffice}

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleOffice:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// User is the acting principal, owned by the authentication collaborator;
// this core trusts it completely.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	ClassName string    `json:"class_name,omitempty"` // students only
	AvatarURL string    `json:"avatar_url,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

func (u User) IsStudent() bool { return u.Role == RoleStudent }
func (u User) IsTeacher() bool { return u.Role == RoleTeacher }
func (u User) IsOffice() bool  { return u.Role == RoleOffice }
