package domain

import "time"

type BackupType string

const (
	BackupTypeFull        BackupType = "full"
	BackupTypeIncremental BackupType = "incremental"
	BackupTypeFiles       BackupType = "files"
)

func (t BackupType) Valid() bool {
	switch t {
	case BackupTypeFull, BackupTypeIncremental, BackupTypeFiles:
		return true
	}
	return false
}

type BackupStatus string

const (
	BackupStatusCompleted  BackupStatus = "completed"
	BackupStatusFailed     BackupStatus = "failed"
	BackupStatusInProgress BackupStatus = "in_progress"
)

// BackupRecord describes one backup artifact. Records are written once, after
// the artifact passed verification, and never edited in place.
type BackupRecord struct {
	ID         string       `json:"id"`
	Type       BackupType   `json:"type"`
	Status     BackupStatus `json:"status"`
	Timestamp  time.Time    `json:"timestamp"`
	Path       string       `json:"path"`
	Size       int64        `json:"size"`
	Checksum   string       `json:"checksum"`
	Compressed bool         `json:"compressed"`
	Encrypted  bool         `json:"encrypted"`
	DurationMS int64        `json:"duration_ms"`

	Database    *DatabaseInfo    `json:"database,omitempty"`
	Incremental *IncrementalInfo `json:"incremental,omitempty"`
	Files       *FilesInfo       `json:"files,omitempty"`
}

// DatabaseInfo is carried by full backups.
type DatabaseInfo struct {
	Engine        string `json:"engine"`
	Version       string `json:"version,omitempty"`
	TableCount    int    `json:"table_count"`
	RecordCount   int64  `json:"record_count"`
	FilesBackupID string `json:"files_backup_id,omitempty"`
}

type IncrementalInfo struct {
	Since  time.Time `json:"since"`
	Until  time.Time `json:"until"`
	Tables []string  `json:"tables"`
}

type FilesInfo struct {
	Directories     []string `json:"directories"`
	ExcludePatterns []string `json:"exclude_patterns"`
}

// BackupOptions is shared by every backup type; fields irrelevant to a type
// are ignored. Schedules carry the same structure in their options.
type BackupOptions struct {
	Compress bool `json:"compress" mapstructure:"compress"`
	Encrypt  bool `json:"encrypt" mapstructure:"encrypt"`

	// Full backups only: also produce a files backup once the dump is stored.
	IncludeFiles bool `json:"include_files" mapstructure:"include_files"`

	// Incremental backups only. Zero Since means now minus the configured window.
	Since  time.Time `json:"since,omitempty" mapstructure:"since"`
	Tables []string  `json:"tables,omitempty" mapstructure:"tables"`

	// Files backups only. Empty slices fall back to configured defaults.
	Directories     []string `json:"directories,omitempty" mapstructure:"directories"`
	ExcludePatterns []string `json:"exclude_patterns,omitempty" mapstructure:"exclude_patterns"`
}

type ListFilter struct {
	Type   BackupType
	Status BackupStatus
	Limit  int
	Offset int
}

func (f ListFilter) Match(r *BackupRecord) bool {
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

type RestoreOptions struct {
	DropExisting        bool `json:"drop_existing"`
	VerifyBeforeRestore bool `json:"verify_before_restore"`
	DryRun              bool `json:"dry_run"`
}

type RestoreResult struct {
	Backup            *BackupRecord `json:"backup"`
	DryRun            bool          `json:"dry_run"`
	WouldRestoreDB    bool          `json:"would_restore_database,omitempty"`
	WouldRestoreFiles bool          `json:"would_restore_files,omitempty"`
	DatabaseRestored  bool          `json:"database_restored"`
	FilesRestored     bool          `json:"files_restored"`
	Verified          bool          `json:"verified"`
	// EstimatedDuration stays zero: restores are not timed ahead of running.
	EstimatedDuration int64    `json:"estimated_duration_ms"`
	DurationMS        int64    `json:"duration_ms"`
	Warnings          []string `json:"warnings,omitempty"`
}

type PITRResult struct {
	TargetTime     time.Time `json:"target_time"`
	FullBackupID   string    `json:"full_backup_id"`
	IncrementalIDs []string  `json:"incremental_ids"`
	DryRun         bool      `json:"dry_run"`
	Restored       bool      `json:"restored"`
	DurationMS     int64     `json:"duration_ms"`
}

// RestorePlan is the derived set of backups to apply for a point in time.
type RestorePlan struct {
	Full         *BackupRecord
	Incrementals []*BackupRecord
}
