package usecase

import (
	"fmt"
	"time"

	"github.com/semmidev/restorepoint/internal/domain"
)

type StatusReport struct {
	TotalBackups   int                         `json:"total_backups"`
	ByType         map[domain.BackupType]int   `json:"by_type"`
	ByStatus       map[domain.BackupStatus]int `json:"by_status"`
	TotalSizeBytes int64                       `json:"total_size_bytes"`
	Oldest         *time.Time                  `json:"oldest,omitempty"`
	Newest         *time.Time                  `json:"newest,omitempty"`
	LastBackup     *domain.BackupRecord        `json:"last_backup,omitempty"`
	InProgress     bool                        `json:"in_progress"`
	RetentionDays  int                         `json:"retention_days"`

	NextScheduledRun     *time.Time `json:"next_scheduled_run,omitempty"`
	SchedulerMode        string     `json:"scheduler_mode"`
	SchedulerInertReason string     `json:"scheduler_inert_reason,omitempty"`
}

type Status struct {
	store         MetadataStore
	backup        *Backup
	schedules     *Schedules
	retentionDays int
}

func NewStatus(store MetadataStore, backup *Backup, schedules *Schedules, retentionDays int) *Status {
	return &Status{
		store:         store,
		backup:        backup,
		schedules:     schedules,
		retentionDays: retentionDays,
	}
}

func (uc *Status) Report() (*StatusReport, error) {
	records, err := uc.store.All()
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}

	report := &StatusReport{
		TotalBackups:  len(records),
		ByType:        make(map[domain.BackupType]int),
		ByStatus:      make(map[domain.BackupStatus]int),
		RetentionDays: uc.retentionDays,
		SchedulerMode: SchedulerModeInert,
	}

	// records arrive newest first
	for _, r := range records {
		report.ByType[r.Type]++
		report.ByStatus[r.Status]++
		report.TotalSizeBytes += r.Size
	}
	if len(records) > 0 {
		newest := records[0].Timestamp
		oldest := records[len(records)-1].Timestamp
		report.Newest = &newest
		report.Oldest = &oldest
		report.LastBackup = records[0]
	}

	if uc.backup != nil {
		report.InProgress = uc.backup.InProgress()
	}
	if uc.schedules != nil {
		stats := uc.schedules.Stats()
		report.NextScheduledRun = stats.NextRun
		report.SchedulerMode = stats.Mode
		report.SchedulerInertReason = stats.InertReason
	}

	return report, nil
}
