package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/semmidev/restorepoint/internal/domain"
	"github.com/semmidev/restorepoint/internal/infrastructure/scheduler"
)

// Trigger fires registered jobs on their cron expression.
type Trigger interface {
	AddJob(spec string, job func(context.Context) error) (int, error)
	Remove(id int)
}

const (
	SchedulerModeActive = "active"
	SchedulerModeInert  = "inert"
)

type scheduleEntry struct {
	record domain.ScheduleRecord
	jobID  int
	armed  bool
}

// Schedules keeps schedule records in memory and arms one trigger job per
// enabled schedule. Without a Trigger the service is inert: schedules are
// tracked and can be force-run, but nothing fires on its own.
type Schedules struct {
	mu      sync.Mutex
	entries map[string]*scheduleEntry

	trigger     Trigger
	inertReason string
	backups     BackupRunner
	notifier    domain.Notifier
	observer    Observer
	logger      Logger

	shuttingDown atomic.Bool
	now          func() time.Time
}

// NewSchedules builds the service. A nil trigger selects inert mode and
// inertReason is reported in its statistics.
func NewSchedules(
	trigger Trigger,
	inertReason string,
	backups BackupRunner,
	notifier domain.Notifier,
	observer Observer,
	logger Logger,
) *Schedules {
	if trigger == nil && inertReason == "" {
		inertReason = "no scheduling trigger configured"
	}
	if trigger != nil {
		inertReason = ""
	}
	return &Schedules{
		entries:     make(map[string]*scheduleEntry),
		trigger:     trigger,
		inertReason: inertReason,
		backups:     backups,
		notifier:    notifier,
		observer:    observerOrNop(observer),
		logger:      logger,
		now:         time.Now,
	}
}

func (s *Schedules) Mode() string {
	if s.trigger == nil {
		return SchedulerModeInert
	}
	return SchedulerModeActive
}

func (s *Schedules) Create(spec domain.ScheduleSpec) (*domain.ScheduleRecord, error) {
	if spec.Name == "" {
		return nil, &domain.ConfigurationError{Field: "name", Reason: "is required"}
	}
	if !spec.Type.Valid() {
		return nil, &domain.ConfigurationError{Field: "type", Reason: fmt.Sprintf("unknown backup type %q", spec.Type)}
	}
	if err := validateCron(spec.CronExpression); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findLocked(spec.Name) != nil {
		return nil, &domain.ConfigurationError{Field: "name", Reason: fmt.Sprintf("schedule %q already exists", spec.Name)}
	}

	e := &scheduleEntry{record: domain.ScheduleRecord{
		ID:             uuid.NewString(),
		Name:           spec.Name,
		Type:           spec.Type,
		CronExpression: spec.CronExpression,
		Enabled:        true,
	}}
	if spec.Enabled != nil {
		e.record.Enabled = *spec.Enabled
	}
	if spec.Options != nil {
		e.record.Options = *spec.Options
	}

	if err := s.armLocked(e); err != nil {
		return nil, err
	}
	s.entries[e.record.ID] = e
	s.publishLocked()

	s.logger.Infow("schedule created", "schedule", e.record.Name, "schedule_id", e.record.ID,
		"type", e.record.Type, "cron", e.record.CronExpression, "enabled", e.record.Enabled)
	return s.snapshot(e), nil
}

// Update replaces the given fields and re-arms the trigger.
func (s *Schedules) Update(idOrName string, spec domain.ScheduleSpec) (*domain.ScheduleRecord, error) {
	if spec.Type != "" && !spec.Type.Valid() {
		return nil, &domain.ConfigurationError{Field: "type", Reason: fmt.Sprintf("unknown backup type %q", spec.Type)}
	}
	if spec.CronExpression != "" {
		if err := validateCron(spec.CronExpression); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.findLocked(idOrName)
	if e == nil {
		return nil, domain.ErrScheduleNotFound
	}
	if spec.Name != "" && spec.Name != e.record.Name {
		if s.findLocked(spec.Name) != nil {
			return nil, &domain.ConfigurationError{Field: "name", Reason: fmt.Sprintf("schedule %q already exists", spec.Name)}
		}
		e.record.Name = spec.Name
	}
	if spec.Type != "" {
		e.record.Type = spec.Type
	}
	if spec.CronExpression != "" {
		e.record.CronExpression = spec.CronExpression
	}
	if spec.Enabled != nil {
		e.record.Enabled = *spec.Enabled
	}
	if spec.Options != nil {
		e.record.Options = *spec.Options
	}

	s.disarmLocked(e)
	if err := s.armLocked(e); err != nil {
		return nil, err
	}
	s.publishLocked()

	s.logger.Infow("schedule updated", "schedule", e.record.Name, "schedule_id", e.record.ID)
	return s.snapshot(e), nil
}

func (s *Schedules) Enable(idOrName string) (*domain.ScheduleRecord, error) {
	enabled := true
	return s.Update(idOrName, domain.ScheduleSpec{Enabled: &enabled})
}

func (s *Schedules) Disable(idOrName string) (*domain.ScheduleRecord, error) {
	enabled := false
	return s.Update(idOrName, domain.ScheduleSpec{Enabled: &enabled})
}

func (s *Schedules) Delete(idOrName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.findLocked(idOrName)
	if e == nil {
		return domain.ErrScheduleNotFound
	}
	s.disarmLocked(e)
	delete(s.entries, e.record.ID)
	s.publishLocked()

	s.logger.Infow("schedule deleted", "schedule", e.record.Name, "schedule_id", e.record.ID)
	return nil
}

func (s *Schedules) Get(idOrName string) (*domain.ScheduleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.findLocked(idOrName)
	if e == nil {
		return nil, domain.ErrScheduleNotFound
	}
	return s.snapshot(e), nil
}

// List returns every schedule ordered by name.
func (s *Schedules) List() []*domain.ScheduleRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.ScheduleRecord, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, s.snapshot(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ForceRun executes a schedule now, outside its timer, and waits for it.
func (s *Schedules) ForceRun(ctx context.Context, idOrName string) (*domain.BackupRecord, error) {
	s.mu.Lock()
	e := s.findLocked(idOrName)
	s.mu.Unlock()
	if e == nil {
		return nil, domain.ErrScheduleNotFound
	}
	return s.execute(ctx, e.record.ID, true)
}

func (s *Schedules) Stats() domain.SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := domain.SchedulerStats{
		Total:       len(s.entries),
		ByStatus:    s.countLocked(),
		Mode:        s.Mode(),
		InertReason: s.inertReason,
	}
	for _, e := range s.entries {
		if !e.record.Enabled {
			continue
		}
		stats.Enabled++
		if next := e.record.NextRun; next != nil && (stats.NextRun == nil || next.Before(*stats.NextRun)) {
			t := *next
			stats.NextRun = &t
		}
	}
	return stats
}

// Shutdown stops new runs from starting. Runs already in flight finish on
// their own.
func (s *Schedules) Shutdown() {
	if s.shuttingDown.CompareAndSwap(false, true) {
		s.logger.Infow("schedules shutting down, new runs will be skipped")
	}
}

func (s *Schedules) execute(ctx context.Context, id string, forced bool) (*domain.BackupRecord, error) {
	if s.shuttingDown.Load() {
		s.logger.Warnw("schedule run skipped", "schedule_id", id, "reason", "shutting down")
		return nil, domain.ErrShuttingDown
	}

	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return nil, domain.ErrScheduleNotFound
	}
	if e.record.Status == domain.ScheduleStatusRunning {
		name := e.record.Name
		s.mu.Unlock()
		s.logger.Warnw("schedule run skipped", "schedule", name, "reason", "previous run still in progress")
		s.observer.ObserveScheduleRun(name, "skipped")
		return nil, domain.ErrScheduleRunning
	}
	e.record.Status = domain.ScheduleStatusRunning
	name, backupType, opts := e.record.Name, e.record.Type, e.record.Options
	s.publishLocked()
	s.mu.Unlock()

	s.logger.Infow("schedule run started", "schedule", name, "type", backupType, "forced", forced)
	backup, err := s.runBackup(ctx, backupType, opts)
	finished := s.now()

	s.mu.Lock()
	if e, ok = s.entries[id]; ok {
		e.record.LastRun = &finished
		e.record.NextRun = nextRun(e.record, finished)
		if err != nil {
			e.record.Status = domain.ScheduleStatusError
			e.record.ErrorMessage = err.Error()
		} else {
			e.record.Status = idleStatus(e.record.Enabled)
			e.record.ErrorMessage = ""
		}
		s.publishLocked()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Errorw("schedule run failed", "schedule", name, "type", backupType, "error", err)
		s.observer.ObserveScheduleRun(name, "failed")
		s.notify(fmt.Sprintf("❌ Scheduled %s backup %q failed: %v", backupType, name, err))
		return nil, err
	}

	s.logger.Infow("schedule run completed", "schedule", name, "backup_id", backup.ID)
	s.observer.ObserveScheduleRun(name, "completed")
	return backup, nil
}

// runBackup turns a panic in the backup into an error so the schedule leaves
// the running state and keeps its next run.
func (s *Schedules) runBackup(ctx context.Context, backupType domain.BackupType, opts domain.BackupOptions) (backup *domain.BackupRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			backup, err = nil, fmt.Errorf("backup run panicked: %v", r)
		}
	}()
	return s.backups.Run(ctx, backupType, opts)
}

func (s *Schedules) notify(msg string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.SendNotification(msg); err != nil {
		s.logger.Warnw("failed to send notification", "error", err)
	}
}

// armLocked computes the next run and registers the trigger job when the
// schedule is enabled and a trigger exists.
func (s *Schedules) armLocked(e *scheduleEntry) error {
	if e.record.Status != domain.ScheduleStatusRunning {
		e.record.Status = idleStatus(e.record.Enabled)
	}
	e.record.NextRun = nextRun(e.record, s.now())

	if !e.record.Enabled || s.trigger == nil {
		return nil
	}

	id := e.record.ID
	jobID, err := s.trigger.AddJob(e.record.CronExpression, func(ctx context.Context) error {
		_, err := s.execute(ctx, id, false)
		return err
	})
	if err != nil {
		return &domain.ConfigurationError{Field: "cron_expression", Reason: err.Error()}
	}
	e.jobID = jobID
	e.armed = true
	return nil
}

func (s *Schedules) disarmLocked(e *scheduleEntry) {
	if e.armed && s.trigger != nil {
		s.trigger.Remove(e.jobID)
	}
	e.armed = false
	e.jobID = 0
}

func (s *Schedules) findLocked(idOrName string) *scheduleEntry {
	if e, ok := s.entries[idOrName]; ok {
		return e
	}
	for _, e := range s.entries {
		if e.record.Name == idOrName {
			return e
		}
	}
	return nil
}

func (s *Schedules) countLocked() map[domain.ScheduleStatus]int {
	counts := make(map[domain.ScheduleStatus]int)
	for _, e := range s.entries {
		counts[e.record.Status]++
	}
	return counts
}

func (s *Schedules) publishLocked() {
	s.observer.SetSchedules(s.countLocked())
}

func (s *Schedules) snapshot(e *scheduleEntry) *domain.ScheduleRecord {
	r := e.record
	r.Options.Tables = append([]string(nil), e.record.Options.Tables...)
	r.Options.Directories = append([]string(nil), e.record.Options.Directories...)
	r.Options.ExcludePatterns = append([]string(nil), e.record.Options.ExcludePatterns...)
	if e.record.LastRun != nil {
		t := *e.record.LastRun
		r.LastRun = &t
	}
	if e.record.NextRun != nil {
		t := *e.record.NextRun
		r.NextRun = &t
	}
	return &r
}

func idleStatus(enabled bool) domain.ScheduleStatus {
	if enabled {
		return domain.ScheduleStatusActive
	}
	return domain.ScheduleStatusInactive
}

func nextRun(r domain.ScheduleRecord, from time.Time) *time.Time {
	if !r.Enabled {
		return nil
	}
	next, err := scheduler.Next(r.CronExpression, from)
	if err != nil || next.IsZero() {
		return nil
	}
	return &next
}

func validateCron(expr string) error {
	if expr == "" {
		return &domain.ConfigurationError{Field: "cron_expression", Reason: "is required"}
	}
	if _, err := scheduler.Next(expr, time.Now()); err != nil {
		return &domain.ConfigurationError{Field: "cron_expression", Reason: err.Error()}
	}
	return nil
}
