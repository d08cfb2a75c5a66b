package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/semmidev/restorepoint/internal/domain"
)

const incrementalExt = ".sql"

// Encryptor is an at-rest cipher that may be present without a key.
type Encryptor interface {
	domain.Encryptor
	Configured() bool
}

// BackupDeps wires a Backup. Encryptor, Replicator, Cleanup and Observer are
// optional.
type BackupDeps struct {
	Database   domain.Database
	Store      MetadataStore
	Verifier   Verifier
	Compressor domain.Compressor
	Archiver   domain.Archiver
	Encryptor  Encryptor
	Preflight  *Preflight
	Cleanup    *Cleanup
	Replicator *Replicator
	Observer   Observer
	Logger     Logger

	Layout            Layout
	IncrementalWindow time.Duration
	Directories       []string
	ExcludePatterns   []string
}

type Backup struct {
	db         domain.Database
	store      MetadataStore
	verifier   Verifier
	compressor domain.Compressor
	archiver   domain.Archiver
	encryptor  Encryptor
	preflight  *Preflight
	cleanup    *Cleanup
	replicator *Replicator
	observer   Observer
	logger     Logger

	layout      Layout
	window      time.Duration
	directories []string
	excludes    []string

	now     func() time.Time
	running atomic.Bool
}

func NewBackup(deps BackupDeps) *Backup {
	window := deps.IncrementalWindow
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Backup{
		db:          deps.Database,
		store:       deps.Store,
		verifier:    deps.Verifier,
		compressor:  deps.Compressor,
		archiver:    deps.Archiver,
		encryptor:   deps.Encryptor,
		preflight:   deps.Preflight,
		cleanup:     deps.Cleanup,
		replicator:  deps.Replicator,
		observer:    observerOrNop(deps.Observer),
		logger:      deps.Logger,
		layout:      deps.Layout,
		window:      window,
		directories: deps.Directories,
		excludes:    deps.ExcludePatterns,
		now:         time.Now,
	}
}

// InProgress reports whether a full backup currently holds the guard.
func (uc *Backup) InProgress() bool {
	return uc.running.Load()
}

// Full dumps the database. Only one full backup runs at a time; a second
// caller fails immediately with ErrBackupInProgress.
func (uc *Backup) Full(ctx context.Context, opts domain.BackupOptions) (*domain.BackupRecord, error) {
	if !uc.running.CompareAndSwap(false, true) {
		uc.logger.Warnw("full backup rejected",
			"operation", "backup", "type", domain.BackupTypeFull, "error", domain.ErrBackupInProgress)
		return nil, domain.ErrBackupInProgress
	}
	uc.observer.SetBackupInProgress(true)
	defer func() {
		uc.running.Store(false)
		uc.observer.SetBackupInProgress(false)
	}()

	start := uc.now()
	id := newBackupID(start)
	uc.logger.Infow("starting backup", "operation", "backup", "backup_id", id, "type", domain.BackupTypeFull,
		"database", uc.db.GetName(), "engine", uc.db.GetType())

	record, err := uc.full(ctx, id, start, opts)
	uc.finish(domain.BackupTypeFull, id, start, record, err)
	if err != nil {
		return nil, err
	}

	uc.afterPersist(ctx, record)
	return record, nil
}

func (uc *Backup) full(ctx context.Context, id string, start time.Time, opts domain.BackupOptions) (*domain.BackupRecord, error) {
	if err := uc.checkEncryption(opts); err != nil {
		return nil, err
	}
	if err := uc.preflight.Check(uc.db.DumpTool(), uc.db.PingTool()); err != nil {
		return nil, err
	}
	if err := uc.db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("database ping: %w", err)
	}

	dumpPath := filepath.Join(uc.layout.DatabaseDir(), id+uc.db.Extension())
	if err := os.MkdirAll(filepath.Dir(dumpPath), 0755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	uc.logger.Infof("[%s] Creating dump: %s", id, dumpPath)
	if err := uc.db.Dump(ctx, dumpPath); err != nil {
		removeQuietly(uc.logger, dumpPath)
		return nil, fmt.Errorf("dump: %w", err)
	}

	record, err := uc.seal(id, domain.BackupTypeFull, start, dumpPath, opts)
	if err != nil {
		return nil, err
	}

	record.Database = &domain.DatabaseInfo{Engine: uc.db.GetType()}
	uc.inspect(ctx, id, record.Database)

	if opts.IncludeFiles {
		filesRecord, err := uc.Files(ctx, opts)
		if err != nil {
			removeQuietly(uc.logger, record.Path)
			return nil, fmt.Errorf("files backup: %w", err)
		}
		record.Database.FilesBackupID = filesRecord.ID
	}

	return uc.persist(record, start)
}

// Incremental writes a marker artifact describing the change window. It is
// not guarded by the full backup flag.
func (uc *Backup) Incremental(ctx context.Context, opts domain.BackupOptions) (*domain.BackupRecord, error) {
	start := uc.now()
	id := newBackupID(start)
	uc.logger.Infow("starting backup", "operation", "backup", "backup_id", id, "type", domain.BackupTypeIncremental,
		"database", uc.db.GetName())

	record, err := uc.incremental(ctx, id, start, opts)
	uc.finish(domain.BackupTypeIncremental, id, start, record, err)
	if err != nil {
		return nil, err
	}

	uc.afterPersist(ctx, record)
	return record, nil
}

func (uc *Backup) incremental(ctx context.Context, id string, start time.Time, opts domain.BackupOptions) (*domain.BackupRecord, error) {
	dumper, ok := uc.db.(domain.IncrementalDumper)
	if !ok {
		return nil, fmt.Errorf("%s does not support incremental backups", uc.db.GetType())
	}
	if err := uc.checkEncryption(opts); err != nil {
		return nil, err
	}

	until := start.UTC()
	since := opts.Since
	if since.IsZero() {
		since = until.Add(-uc.window)
	}
	if !since.Before(until) {
		return nil, fmt.Errorf("incremental window is empty: since %s is not before %s",
			since.Format(time.RFC3339), until.Format(time.RFC3339))
	}

	tables := opts.Tables
	if len(tables) == 0 {
		if inspector, ok := uc.db.(domain.Inspector); ok {
			var err error
			if tables, err = inspector.Tables(ctx); err != nil {
				return nil, fmt.Errorf("list tables: %w", err)
			}
		}
	}

	if err := uc.preflight.Check(); err != nil {
		return nil, err
	}

	markerPath := filepath.Join(uc.layout.DatabaseDir(), id+"_incremental"+incrementalExt)
	if err := os.MkdirAll(filepath.Dir(markerPath), 0755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	if err := dumper.DumpChanges(ctx, markerPath, since, until, tables); err != nil {
		removeQuietly(uc.logger, markerPath)
		return nil, fmt.Errorf("dump changes: %w", err)
	}

	record, err := uc.seal(id, domain.BackupTypeIncremental, start, markerPath, opts)
	if err != nil {
		return nil, err
	}
	record.Incremental = &domain.IncrementalInfo{
		Since:  since.UTC(),
		Until:  until,
		Tables: append([]string{}, tables...),
	}

	return uc.persist(record, start)
}

// Files archives the configured directories into a tar.gz.
func (uc *Backup) Files(ctx context.Context, opts domain.BackupOptions) (*domain.BackupRecord, error) {
	start := uc.now()
	id := newBackupID(start)
	uc.logger.Infow("starting backup", "operation", "backup", "backup_id", id, "type", domain.BackupTypeFiles)

	record, err := uc.files(ctx, id, start, opts)
	uc.finish(domain.BackupTypeFiles, id, start, record, err)
	if err != nil {
		return nil, err
	}

	uc.replicator.Replicate(ctx, record.ID, record.Path)
	return record, nil
}

func (uc *Backup) files(ctx context.Context, id string, start time.Time, opts domain.BackupOptions) (*domain.BackupRecord, error) {
	if err := uc.checkEncryption(opts); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dirs := opts.Directories
	if len(dirs) == 0 {
		dirs = uc.directories
	}
	excludes := opts.ExcludePatterns
	if len(excludes) == 0 {
		excludes = uc.excludes
	}
	if len(dirs) == 0 {
		return nil, &domain.ConfigurationError{Field: "backup.file_directories", Reason: "no directories to archive"}
	}

	if err := uc.preflight.Check(); err != nil {
		return nil, err
	}

	archivePath := filepath.Join(uc.layout.FilesDir(), id+"_files.tar.gz")
	if err := os.MkdirAll(filepath.Dir(archivePath), 0755); err != nil {
		return nil, fmt.Errorf("create files dir: %w", err)
	}

	uc.logger.Infof("[%s] Archiving %d director(ies) to %s", id, len(dirs), archivePath)
	if err := uc.archiver.ArchiveDirectories(archivePath, dirs, excludes); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}

	// The archive is already gzipped; only encryption applies on top.
	record, err := uc.seal(id, domain.BackupTypeFiles, start, archivePath, domain.BackupOptions{Encrypt: opts.Encrypt})
	if err != nil {
		return nil, err
	}
	record.Compressed = true
	record.Files = &domain.FilesInfo{
		Directories:     append([]string{}, dirs...),
		ExcludePatterns: append([]string{}, excludes...),
	}

	return uc.persist(record, start)
}

func (uc *Backup) checkEncryption(opts domain.BackupOptions) error {
	if opts.Encrypt && (uc.encryptor == nil || !uc.encryptor.Configured()) {
		return domain.ErrEncryptionKeyMissing
	}
	return nil
}

// seal verifies the raw artifact, applies the optional compress then encrypt
// transforms, and stamps size and checksum of the final file. The artifact is
// removed on any failure.
func (uc *Backup) seal(id string, backupType domain.BackupType, start time.Time, path string, opts domain.BackupOptions) (record *domain.BackupRecord, err error) {
	current := path
	defer func() {
		if err != nil {
			removeQuietly(uc.logger, current)
		}
	}()

	if err := uc.verifier.Verify(current); err != nil {
		return nil, err
	}

	if opts.Compress {
		compressed, err := uc.compressor.CompressFile(current)
		if err != nil {
			return nil, fmt.Errorf("compression: %w", err)
		}
		current = compressed
	}

	if opts.Encrypt {
		encrypted, err := uc.encryptor.EncryptFile(current)
		if err != nil {
			return nil, fmt.Errorf("encryption: %w", err)
		}
		current = encrypted
	}

	if err := uc.verifier.Verify(current); err != nil {
		return nil, err
	}

	size, err := fileSize(current)
	if err != nil {
		return nil, fmt.Errorf("stat backup file: %w", err)
	}
	checksum, err := uc.verifier.Checksum(current)
	if err != nil {
		return nil, fmt.Errorf("checksum: %w", err)
	}

	return &domain.BackupRecord{
		ID:         id,
		Type:       backupType,
		Status:     domain.BackupStatusCompleted,
		Timestamp:  start.UTC(),
		Path:       current,
		Size:       size,
		Checksum:   checksum,
		Compressed: opts.Compress,
		Encrypted:  opts.Encrypt,
	}, nil
}

func (uc *Backup) inspect(ctx context.Context, id string, info *domain.DatabaseInfo) {
	inspector, ok := uc.db.(domain.Inspector)
	if !ok {
		uc.logger.Debugw("database statistics unavailable", "backup_id", id, "engine", uc.db.GetType())
		return
	}
	stats, err := inspector.Stats(ctx)
	if err != nil {
		uc.logger.Warnw("failed to collect database statistics", "backup_id", id, "error", err)
		return
	}
	info.Version = stats.Version
	info.TableCount = stats.TableCount
	info.RecordCount = stats.RecordCount
}

func (uc *Backup) persist(record *domain.BackupRecord, start time.Time) (*domain.BackupRecord, error) {
	record.DurationMS = durationMS(start, uc.now())
	if err := uc.store.Save(record); err != nil {
		removeQuietly(uc.logger, record.Path)
		return nil, fmt.Errorf("save metadata: %w", err)
	}
	return record, nil
}

// afterPersist replicates the artifact and runs retention. Neither can fail
// the backup that was already recorded.
func (uc *Backup) afterPersist(ctx context.Context, record *domain.BackupRecord) {
	uc.replicator.Replicate(ctx, record.ID, record.Path)

	if uc.cleanup == nil {
		return
	}
	if _, err := uc.cleanup.Execute(ctx); err != nil {
		uc.logger.Warnw("retention cleanup failed", "operation", "cleanup", "backup_id", record.ID, "error", err)
	}
}

func (uc *Backup) finish(backupType domain.BackupType, id string, start time.Time, record *domain.BackupRecord, err error) {
	elapsed := uc.now().Sub(start)
	if err != nil {
		uc.logger.Errorw("backup failed",
			"operation", "backup", "backup_id", id, "type", backupType, "error", err)
		uc.observer.ObserveBackup(string(backupType), string(domain.BackupStatusFailed), elapsed, 0)
		return
	}

	uc.logger.Infow("backup completed",
		"operation", "backup", "backup_id", id, "type", backupType,
		"path", record.Path, "size_mb", float64(record.Size)/(1024*1024),
		"duration", elapsed.Round(time.Millisecond))
	uc.observer.ObserveBackup(string(backupType), string(domain.BackupStatusCompleted), elapsed, record.Size)
}

// Run dispatches by backup type; schedules use it.
func (uc *Backup) Run(ctx context.Context, backupType domain.BackupType, opts domain.BackupOptions) (*domain.BackupRecord, error) {
	switch backupType {
	case domain.BackupTypeFull:
		return uc.Full(ctx, opts)
	case domain.BackupTypeIncremental:
		return uc.Incremental(ctx, opts)
	case domain.BackupTypeFiles:
		return uc.Files(ctx, opts)
	}
	return nil, errors.New("unknown backup type " + string(backupType))
}
