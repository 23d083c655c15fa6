package notification

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/shulelink/backend/core"
	"github.com/shulelink/backend/core/user"
)

var nowFunc = time.Now // mockable

const alreadyRunningMsg = "attendance check already running"

type (
	retryKey struct {
		studentID string
		typ       Type
	}

	// retryItem keeps the delivery payload next to the queue entry so the
	// sweep can re-attempt without refetching.
	retryItem struct {
		entry          RetryQueueEntry
		note           Notification
		recipientEmail string
		recipientName  string
	}

	// Monitor is the singleton background job that evaluates attendance
	// metrics against the configured thresholds. A single in-process flag,
	// checked-and-set atomically, guarantees at most one scan executes at
	// any instant.
	Monitor struct {
		conf    core.MonitorConfig
		repo    Repository
		usrRepo user.Repository
		metrics core.MetricsProvider
		sender  Sender
		logger  core.Logger

		running atomic.Bool

		cronMu     sync.Mutex
		cronActive bool
		cronCancel context.CancelFunc

		queueMu sync.Mutex
		queue   map[retryKey]*retryItem
	}
)

func NewMonitor(
	conf core.MonitorConfig,
	repo Repository,
	usrRepo user.Repository,
	metrics core.MetricsProvider,
	sender Sender,
	logger core.Logger,
) (*Monitor, error) {
	gron := gronx.New()
	if !gron.IsValid(conf.Cron) {
		return nil, errors.Errorf("invalid monitor cron expression: %s", conf.Cron)
	}
	if !gron.IsValid(conf.RetryCron) {
		return nil, errors.Errorf("invalid retry cron expression: %s", conf.RetryCron)
	}
	return &Monitor{
		conf:    conf,
		repo:    repo,
		usrRepo: usrRepo,
		metrics: metrics,
		sender:  sender,
		logger:  logger,
		queue:   make(map[retryKey]*retryItem),
	}, nil
}

// crossedLevel maps an attendance rate to the most severe threshold it sits
// below.
func (m *Monitor) crossedLevel(rate float64) AlertLevel {
	switch {
	case rate < m.conf.DisqualifiedRate:
		return LevelDisqualified
	case rate < m.conf.CertificationRate:
		return LevelCertification
	case rate < m.conf.WarningRate:
		return LevelWarning
	}
	return LevelNone
}

// RunManualCheck scans every active student once. A call arriving while a
// scan is in flight returns immediately with an "already running" error entry
// and zero counts; it never queues or blocks.
func (m *Monitor) RunManualCheck(ctx context.Context) CheckResult {
	started := nowFunc().UTC()
	res := CheckResult{Timestamp: started, Errors: []CheckError{}}

	if !m.running.CompareAndSwap(false, true) {
		res.Errors = append(res.Errors, CheckError{Error: alreadyRunningMsg})
		res.ExecutionTime = nowFunc().UTC().Sub(started)
		return res
	}
	defer m.running.Store(false)

	students, err := m.usrRepo.QueryActiveStudents(ctx)
	if err != nil {
		res.Errors = append(res.Errors, CheckError{Error: fmt.Sprintf("listing active students: %v", err)})
		res.ExecutionTime = nowFunc().UTC().Sub(started)
		return res
	}

	workers := m.conf.Workers
	if workers < 1 {
		workers = 1
	}

	// bounded worker pool; ordering across students is not guaranteed and
	// per-student failures never abort the scan for the rest.
	var (
		wg    sync.WaitGroup
		resMu sync.Mutex
		jobs  = make(chan user.User)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for student := range jobs {
				sent, failed, cerr := m.checkStudent(ctx, student)
				resMu.Lock()
				res.TotalStudentsChecked++
				res.NotificationsSent += sent
				res.NotificationsFailed += failed
				if cerr != nil {
					res.Errors = append(res.Errors, *cerr)
				}
				resMu.Unlock()
			}
		}()
	}
	for _, student := range students {
		jobs <- student
	}
	close(jobs)
	wg.Wait()

	res.ExecutionTime = nowFunc().UTC().Sub(started)
	return res
}

// checkStudent evaluates one student's metrics; database and provider errors
// are caught here so they surface as scan error entries.
func (m *Monitor) checkStudent(ctx context.Context, student user.User) (sent, failed int, cerr *CheckError) {
	metrics, err := m.metrics.GetStudentMetrics(ctx, student.ID)
	if err != nil {
		return 0, 1, &CheckError{StudentID: student.ID, Error: fmt.Sprintf("fetching metrics: %v", err)}
	}

	level := m.crossedLevel(metrics.AttendanceRate)
	last, err := m.repo.GetAlertLevel(ctx, student.ID)
	if err != nil {
		return 0, 1, &CheckError{StudentID: student.ID, Error: fmt.Sprintf("reading alert mark: %v", err)}
	}
	if level == last {
		return 0, 0, nil
	}

	now := nowFunc().UTC()
	if level < last {
		// rate recovered; re-arm without alerting
		if err = m.repo.SetAlertLevel(ctx, student.ID, level, now); err != nil {
			return 0, 1, &CheckError{StudentID: student.ID, Error: fmt.Sprintf("re-arming alert mark: %v", err)}
		}
		return 0, 0, nil
	}

	note := Notification{
		ID:             uuid.NewString(),
		TargetUserID:   student.ID,
		TargetUserType: student.Role,
		Title:          level.Title(),
		Content:        attendanceContent(level, student.Name, metrics.AttendanceRate),
		Category:       "attendance",
		Type:           level.Type(),
		Severity:       level.Severity(),
		CreatedAt:      now,
	}
	note, err = m.repo.CreateNotification(ctx, note)
	if err != nil {
		return 0, 1, &CheckError{StudentID: student.ID, Error: fmt.Sprintf("creating notification: %v", err)}
	}
	// mark before delivery so a flaky channel cannot re-alert every scan;
	// delivery failures are owned by the retry queue from here on.
	if err = m.repo.SetAlertLevel(ctx, student.ID, level, now); err != nil {
		return 0, 1, &CheckError{StudentID: student.ID, Error: fmt.Sprintf("setting alert mark: %v", err)}
	}

	if err = m.sender.Deliver(ctx, note, student.Email, student.Name); err != nil {
		m.enqueueRetry(note, student, now)
		return 0, 1, &CheckError{StudentID: student.ID, Error: fmt.Sprintf("delivering notification: %v", err)}
	}
	return 1, 0, nil
}

func (m *Monitor) enqueueRetry(note Notification, student user.User, now time.Time) {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	m.queue[retryKey{studentID: student.ID, typ: note.Type}] = &retryItem{
		entry: RetryQueueEntry{
			NotificationID: note.ID,
			StudentID:      student.ID,
			Type:           note.Type,
			Attempts:       1,
			LastAttemptAt:  now,
			NextRetryAt:    now.Add(m.conf.RetryBackoff),
		},
		note:           note,
		recipientEmail: student.Email,
		recipientName:  student.Name,
	}
}

// RetrySweep re-attempts every queue entry whose time has come. Entries are
// removed on success or once the attempt budget is exhausted; exhaustion is
// logged as a permanent failure, never dropped silently.
func (m *Monitor) RetrySweep(ctx context.Context) (delivered, exhausted int) {
	now := nowFunc().UTC()

	m.queueMu.Lock()
	due := make([]*retryItem, 0, len(m.queue))
	for _, item := range m.queue {
		if !item.entry.NextRetryAt.After(now) {
			due = append(due, item)
		}
	}
	m.queueMu.Unlock()

	for _, item := range due {
		err := m.sender.Deliver(ctx, item.note, item.recipientEmail, item.recipientName)

		m.queueMu.Lock()
		key := retryKey{studentID: item.entry.StudentID, typ: item.entry.Type}
		if err == nil {
			delete(m.queue, key)
			delivered++
		} else {
			item.entry.Attempts++
			item.entry.LastAttemptAt = now
			item.entry.NextRetryAt = now.Add(time.Duration(item.entry.Attempts) * m.conf.RetryBackoff)
			if item.entry.Attempts > m.conf.MaxRetryAttempts {
				delete(m.queue, key)
				exhausted++
				m.logger.Error(fmt.Sprintf(
					"notification %s for student %s permanently failed after %d attempts: %v",
					item.entry.NotificationID, item.entry.StudentID, item.entry.Attempts, err), err)
			}
		}
		m.queueMu.Unlock()
	}
	return delivered, exhausted
}

// Start activates the cron-driven scan and retry sweeps. Starting an already
// started monitor is a logged no-op; it never spawns a second timer.
func (m *Monitor) Start(ctx context.Context) {
	m.cronMu.Lock()
	defer m.cronMu.Unlock()
	if m.cronActive {
		m.logger.Info("attendance monitor already started")
		return
	}
	cctx, cancel := context.WithCancel(ctx)
	m.cronActive = true
	m.cronCancel = cancel

	go m.runCron(cctx, m.conf.Cron, func(c context.Context) {
		res := m.RunManualCheck(c)
		m.logger.Info(fmt.Sprintf(
			"attendance scan - checked: %d - sent: %d - failed: %d - took: %s",
			res.TotalStudentsChecked, res.NotificationsSent, res.NotificationsFailed, res.ExecutionTime))
	})
	go m.runCron(cctx, m.conf.RetryCron, func(c context.Context) {
		if delivered, exhausted := m.RetrySweep(c); delivered > 0 || exhausted > 0 {
			m.logger.Info(fmt.Sprintf("retry sweep - delivered: %d - exhausted: %d", delivered, exhausted))
		}
	})
	m.logger.Info("attendance monitor started - cron: " + m.conf.Cron)
}

func (m *Monitor) Stop() {
	m.cronMu.Lock()
	defer m.cronMu.Unlock()
	if !m.cronActive {
		return
	}
	m.cronCancel()
	m.cronActive = false
	m.cronCancel = nil
	m.logger.Info("attendance monitor stopped")
}

func (m *Monitor) runCron(ctx context.Context, expr string, fn func(context.Context)) {
	for {
		next, err := gronx.NextTick(expr, false)
		if err != nil {
			m.logger.Error(fmt.Sprintf("computing next tick for %q: %v", expr, err), err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
			fn(ctx)
		}
	}
}

// Status is computable without mutating state.
func (m *Monitor) Status() MonitorStatus {
	m.cronMu.Lock()
	cronActive := m.cronActive
	m.cronMu.Unlock()

	m.queueMu.Lock()
	size := len(m.queue)
	m.queueMu.Unlock()

	return MonitorStatus{
		IsRunning:      m.running.Load(),
		CronJobActive:  cronActive,
		RetryQueueSize: size,
	}
}

func (m *Monitor) RetryQueueStatus() RetryQueueStatus {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()

	status := RetryQueueStatus{
		TotalPending: len(m.queue),
		ByType:       make(map[Type]int),
		ByAttempts:   make(map[int]int),
	}
	for _, item := range m.queue {
		status.ByType[item.entry.Type]++
		status.ByAttempts[item.entry.Attempts]++
	}
	return status
}

// ClearRetryQueue empties the queue and returns the number of entries cleared.
func (m *Monitor) ClearRetryQueue() int {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	cleared := len(m.queue)
	m.queue = make(map[retryKey]*retryItem)
	return cleared
}

// RetryQueueEntries returns a snapshot of the pending entries, for
// monitoring/UI.
func (m *Monitor) RetryQueueEntries() []RetryQueueEntry {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	entries := make([]RetryQueueEntry, 0, len(m.queue))
	for _, item := range m.queue {
		entries = append(entries, item.entry)
	}
	return entries
}
