package notification

import (
	"fmt"
	"time"

	"github.com/shulelink/backend/core/user"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

type Type string

const (
	TypeAttendanceWarning       Type = "attendance_warning"
	TypeAttendanceCertification Type = "attendance_certification"
	TypeAttendanceDisqualified  Type = "attendance_disqualified"
)

// AlertLevel orders the attendance thresholds from least to most severe.
// LevelNone means the student is above every threshold.
type AlertLevel int

const (
	LevelNone AlertLevel = iota
	LevelWarning
	LevelCertification
	LevelDisqualified
)

func (l AlertLevel) Type() Type {
	switch l {
	case LevelWarning:
		return TypeAttendanceWarning
	case LevelCertification:
		return TypeAttendanceCertification
	case LevelDisqualified:
		return TypeAttendanceDisqualified
	}
	return ""
}

func (l AlertLevel) Severity() Severity {
	switch l {
	case LevelWarning:
		return SeverityWarning
	case LevelCertification:
		return SeverityError
	case LevelDisqualified:
		return SeverityCritical
	}
	return SeverityInfo
}

func (l AlertLevel) Title() string {
	switch l {
	case LevelWarning:
		return "Attendance warning"
	case LevelCertification:
		return "Attendance certification required"
	case LevelDisqualified:
		return "Attendance disqualification"
	}
	return ""
}

func (l AlertLevel) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelCertification:
		return "certification"
	case LevelDisqualified:
		return "disqualified"
	}
	return "none"
}

type (
	// Notification is a system message targeted at one user.
	Notification struct {
		ID             string     `json:"id"`
		TargetUserID   string     `json:"target_user_id"`
		TargetUserType user.Role  `json:"target_user_type"`
		Title          string     `json:"title"`
		Content        string     `json:"content"`
		Category       string     `json:"category,omitempty"`
		Type           Type       `json:"type"`
		Severity       Severity   `json:"severity"`
		CreatedAt      time.Time  `json:"created_at"` // UTC
		ExpiresAt      *time.Time `json:"expires_at,omitempty"`
		IsRead         bool       `json:"is_read"`
		IsDismissed    bool       `json:"is_dismissed"`
		ActionURL      string     `json:"action_url,omitempty"`
	}

	// RetryQueueEntry tracks one failed delivery awaiting re-attempts; it
	// exists only while delivery has not yet succeeded.
	RetryQueueEntry struct {
		NotificationID string    `json:"notification_id"`
		StudentID      string    `json:"student_id"`
		Type           Type      `json:"type"`
		Attempts       int       `json:"attempts"`
		LastAttemptAt  time.Time `json:"last_attempt_at"` // UTC
		NextRetryAt    time.Time `json:"next_retry_at"`   // UTC
	}

	CheckError struct {
		StudentID string `json:"student_id,omitempty"`
		Error     string `json:"error"`
	}

	// CheckResult is returned by every scan invocation, successful or not.
	CheckResult struct {
		TotalStudentsChecked int           `json:"total_students_checked"`
		NotificationsSent    int           `json:"notifications_sent"`
		NotificationsFailed  int           `json:"notifications_failed"`
		Errors               []CheckError  `json:"errors"`
		ExecutionTime        time.Duration `json:"execution_time"`
		Timestamp            time.Time     `json:"timestamp"` // UTC
	}

	MonitorStatus struct {
		IsRunning      bool `json:"is_running"`
		CronJobActive  bool `json:"cron_job_active"`
		RetryQueueSize int  `json:"retry_queue_size"`
	}

	RetryQueueStatus struct {
		TotalPending int          `json:"total_pending"`
		ByType       map[Type]int `json:"by_type"`
		ByAttempts   map[int]int  `json:"by_attempts"`
	}
)

func attendanceContent(level AlertLevel, name string, rate float64) string {
	switch level {
	case LevelWarning:
		return fmt.Sprintf("%s's attendance rate has dropped to %.1f%%. Please keep an eye on upcoming absences.", name, rate)
	case LevelCertification:
		return fmt.Sprintf("%s's attendance rate is %.1f%%. A certification of attendance is now required.", name, rate)
	case LevelDisqualified:
		return fmt.Sprintf("%s's attendance rate is %.1f%%, below the disqualification threshold.", name, rate)
	}
	return ""
}
