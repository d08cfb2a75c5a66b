package domain

import "time"

type ScheduleStatus string

const (
	ScheduleStatusInactive ScheduleStatus = "inactive"
	ScheduleStatusActive   ScheduleStatus = "active"
	ScheduleStatusRunning  ScheduleStatus = "running"
	ScheduleStatusError    ScheduleStatus = "error"
)

// ScheduleRecord is a recurring backup job. Schedules live in memory for the
// lifetime of the process.
type ScheduleRecord struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Type           BackupType     `json:"type"`
	CronExpression string         `json:"cron_expression"`
	Enabled        bool           `json:"enabled"`
	Options        BackupOptions  `json:"options"`
	Status         ScheduleStatus `json:"status"`
	LastRun        *time.Time     `json:"last_run,omitempty"`
	NextRun        *time.Time     `json:"next_run,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
}

// ScheduleSpec holds the caller-provided fields of a schedule. Nil pointers
// leave the current value untouched on update.
type ScheduleSpec struct {
	Name           string
	Type           BackupType
	CronExpression string
	Enabled        *bool
	Options        *BackupOptions
}

type SchedulerStats struct {
	Total       int                    `json:"total"`
	Enabled     int                    `json:"enabled"`
	ByStatus    map[ScheduleStatus]int `json:"by_status"`
	Mode        string                 `json:"mode"`
	InertReason string                 `json:"inert_reason,omitempty"`
	NextRun     *time.Time             `json:"next_run,omitempty"`
}
