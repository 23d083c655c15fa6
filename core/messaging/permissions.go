package messaging

import (
	"fmt"

	"github.com/shulelink/backend/core/user"
)

// File size ceilings per sender role.
const (
	StudentMaxFileSize = 20 << 20  // 20 MiB
	StaffMaxFileSize   = 100 << 20 // 100 MiB
)

// studentAllowedMimeTypes is the allowlist for student uploads.
var studentAllowedMimeTypes = map[string]struct{}{
	"text/plain":      {},
	"image/jpeg":      {},
	"image/png":       {},
	"application/pdf": {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"application/vnd.ms-excel": {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       {},
	"application/vnd.ms-powerpoint":                                           {},
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": {},
}

// CanSend reports whether senderRole may message recipientRole. Pure and
// total; callers translate false into a permission error.
func CanSend(senderRole, recipientRole user.Role) bool {
	switch senderRole {
	case user.RoleStudent:
		return recipientRole == user.RoleTeacher
	case user.RoleTeacher:
		return recipientRole == user.RoleStudent || recipientRole == user.RoleOffice
	case user.RoleOffice:
		return recipientRole == user.RoleStudent || recipientRole == user.RoleTeacher
	}
	return false
}

// IsFileAllowed checks the role-specific file policy: size for everyone,
// MIME membership for students. Violations come back as a human-readable
// reason, never an error.
func IsFileAllowed(role user.Role, filename, mimeType string, size int64) (allowed bool, reason string) {
	maxSize := int64(StaffMaxFileSize)
	if role == user.RoleStudent {
		maxSize = StudentMaxFileSize
	}
	if size > maxSize {
		return false, fmt.Sprintf("%s exceeds the %dMB size limit", filename, maxSize>>20)
	}
	if role == user.RoleStudent {
		if _, ok := studentAllowedMimeTypes[mimeType]; !ok {
			return false, fmt.Sprintf("file type %s is not allowed for students", mimeType)
		}
	}
	return true, ""
}
