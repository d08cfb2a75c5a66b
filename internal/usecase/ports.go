package usecase

import (
	"context"
	"path/filepath"
	"time"

	"github.com/semmidev/restorepoint/internal/domain"
	"github.com/semmidev/restorepoint/internal/infrastructure/runner"
)

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})

	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

type UploadTarget struct {
	Name    string
	Storage domain.Storage
}

type MetadataStore interface {
	Save(record *domain.BackupRecord) error
	Get(id string) (*domain.BackupRecord, error)
	All() ([]*domain.BackupRecord, error)
	List(filter domain.ListFilter) ([]*domain.BackupRecord, int, error)
	Delete(id string) error
}

type Verifier interface {
	Verify(path string) error
	Checksum(path string) (string, error)
	Matches(path, expected string) error
}

// System answers preflight questions about the host.
type System interface {
	Exists(name string) bool
	DiskUsage(path string) (runner.DiskUsage, error)
}

// Observer receives operational measurements. Nil observers are replaced
// with a no-op.
type Observer interface {
	ObserveBackup(backupType, status string, elapsed time.Duration, size int64)
	SetBackupInProgress(running bool)
	ObserveRestore(status string)
	ObserveCleanup(deleted int)
	ObserveUploadFailure(target string)
	ObserveScheduleRun(schedule, status string)
	SetSchedules(byStatus map[domain.ScheduleStatus]int)
}

type nopObserver struct{}

func (nopObserver) ObserveBackup(string, string, time.Duration, int64) {}
func (nopObserver) SetBackupInProgress(bool)                           {}
func (nopObserver) ObserveRestore(string)                              {}
func (nopObserver) ObserveCleanup(int)                                 {}
func (nopObserver) ObserveUploadFailure(string)                        {}
func (nopObserver) ObserveScheduleRun(string, string)                  {}
func (nopObserver) SetSchedules(map[domain.ScheduleStatus]int)         {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}

// Layout resolves artifact locations under the backup root.
type Layout struct {
	Root string
}

func (l Layout) DatabaseDir() string { return filepath.Join(l.Root, "database") }
func (l Layout) FilesDir() string    { return filepath.Join(l.Root, "files") }
func (l Layout) MetadataDir() string { return filepath.Join(l.Root, "metadata") }

// BackupRunner is what schedules dispatch to.
type BackupRunner interface {
	Run(ctx context.Context, backupType domain.BackupType, opts domain.BackupOptions) (*domain.BackupRecord, error)
}
