package core

import (
	"context"
	"io"
)

type (
	// FileStorage is any object store that can persist attachment content
	// under a path and hand back a durable URL.
	FileStorage interface {
		Put(ctx context.Context, path string, content io.Reader) (url string, err error)
	}

	ScanReport struct {
		Clean   bool
		Threats []string
	}

	// VirusScanner checks uploaded content before it is stored. Deployments
	// without a scanner plug in the pass-through implementation.
	VirusScanner interface {
		Scan(ctx context.Context, content io.Reader) (ScanReport, error)
	}

	// StudentMetrics is the attendance snapshot supplied by the external
	// metrics provider; rates are percentages in [0, 100].
	StudentMetrics struct {
		AttendanceRate float64
		PresentDays    int
		AbsentDays     int
		LateDays       int
		TotalDays      int
	}

	// MetricsProvider supplies per-student attendance metrics; calls may
	// fail individually.
	MetricsProvider interface {
		GetStudentMetrics(ctx context.Context, studentID string) (StudentMetrics, error)
	}
)
