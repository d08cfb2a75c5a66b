package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/semmidev/restorepoint/internal/domain"
)

// RestoreDeps wires a Restore. Encryptor and Observer are optional.
type RestoreDeps struct {
	Database   domain.Database
	Store      MetadataStore
	Verifier   Verifier
	Compressor domain.Compressor
	Archiver   domain.Archiver
	Encryptor  Encryptor
	Preflight  *Preflight
	Observer   Observer
	Logger     Logger

	Layout          Layout
	FilesRestoreDir string
}

// Restore replays backups. Restores are not transactional: a tool failing
// halfway leaves whatever it already applied in place.
type Restore struct {
	db         domain.Database
	store      MetadataStore
	verifier   Verifier
	compressor domain.Compressor
	archiver   domain.Archiver
	encryptor  Encryptor
	preflight  *Preflight
	observer   Observer
	logger     Logger

	layout   Layout
	filesDir string
	now      func() time.Time
}

func NewRestore(deps RestoreDeps) *Restore {
	filesDir := deps.FilesRestoreDir
	if filesDir == "" {
		filesDir = "."
	}
	return &Restore{
		db:         deps.Database,
		store:      deps.Store,
		verifier:   deps.Verifier,
		compressor: deps.Compressor,
		archiver:   deps.Archiver,
		encryptor:  deps.Encryptor,
		preflight:  deps.Preflight,
		observer:   observerOrNop(deps.Observer),
		logger:     deps.Logger,
		layout:     deps.Layout,
		filesDir:   filesDir,
		now:        time.Now,
	}
}

// Restore applies a single backup. A dry run stops after lookup and the
// optional checksum verification.
func (uc *Restore) Restore(ctx context.Context, id string, opts domain.RestoreOptions) (*domain.RestoreResult, error) {
	start := uc.now()

	record, err := uc.store.Get(id)
	if err != nil {
		return nil, err
	}

	result := &domain.RestoreResult{Backup: record, DryRun: opts.DryRun}

	if opts.VerifyBeforeRestore {
		if err := uc.verifier.Matches(record.Path, record.Checksum); err != nil {
			uc.logger.Errorw("restore verification failed",
				"operation", "restore", "backup_id", id, "type", record.Type, "error", err)
			return nil, err
		}
		result.Verified = true
	}

	if opts.DryRun {
		result.WouldRestoreDB = record.Type != domain.BackupTypeFiles
		result.WouldRestoreFiles = record.Type == domain.BackupTypeFiles ||
			(record.Database != nil && record.Database.FilesBackupID != "")
		uc.logger.Infow("dry run restore", "operation", "restore", "backup_id", id, "type", record.Type)
		return result, nil
	}

	if err := uc.preflight.Check(uc.requiredTools(record)...); err != nil {
		uc.observer.ObserveRestore("failed")
		return nil, err
	}

	uc.logger.Infow("starting restore", "operation", "restore", "backup_id", id, "type", record.Type,
		"drop_existing", opts.DropExisting)

	if err := uc.apply(ctx, record, opts.DropExisting, result); err != nil {
		uc.logger.Errorw("restore failed", "operation", "restore", "backup_id", id, "type", record.Type, "error", err)
		uc.observer.ObserveRestore("failed")
		return nil, err
	}

	result.DurationMS = durationMS(start, uc.now())
	uc.observer.ObserveRestore("completed")
	uc.logger.Infow("restore completed", "operation", "restore", "backup_id", id, "type", record.Type,
		"duration_ms", result.DurationMS, "warnings", len(result.Warnings))
	return result, nil
}

func (uc *Restore) requiredTools(record *domain.BackupRecord) []string {
	if record.Type == domain.BackupTypeFiles {
		return nil
	}
	if record.Type == domain.BackupTypeIncremental && uc.db.GetType() == "mongodb" {
		return nil
	}
	return []string{uc.db.RestoreTool()}
}

// apply restores record and, for full backups, its embedded files backup.
func (uc *Restore) apply(ctx context.Context, record *domain.BackupRecord, dropExisting bool, result *domain.RestoreResult) error {
	workDir, err := os.MkdirTemp(uc.layout.Root, ".restore-"+record.ID+"-")
	if err != nil {
		return fmt.Errorf("create working dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("failed to remove working dir %s: %v", workDir, err))
		}
	}()

	working, err := uc.prepare(record, workDir)
	if err != nil {
		return err
	}

	switch record.Type {
	case domain.BackupTypeFull:
		if err := uc.db.Restore(ctx, working, dropExisting); err != nil {
			return fmt.Errorf("restore database: %w", err)
		}
		result.DatabaseRestored = true

		if record.Database != nil && record.Database.FilesBackupID != "" {
			uc.applyEmbeddedFiles(ctx, record.Database.FilesBackupID, workDir, result)
		}

	case domain.BackupTypeIncremental:
		dumper, ok := uc.db.(domain.IncrementalDumper)
		if !ok {
			return fmt.Errorf("%s does not support incremental backups", uc.db.GetType())
		}
		if err := dumper.ApplyChanges(ctx, working); err != nil {
			return fmt.Errorf("apply incremental: %w", err)
		}
		result.DatabaseRestored = true

	case domain.BackupTypeFiles:
		if err := uc.extract(working); err != nil {
			return err
		}
		result.FilesRestored = true

	default:
		return fmt.Errorf("unknown backup type %q", record.Type)
	}

	return nil
}

// applyEmbeddedFiles restores the files half of a full backup. Its failure
// is reported as a warning; the database is already restored by then.
func (uc *Restore) applyEmbeddedFiles(ctx context.Context, filesID, workDir string, result *domain.RestoreResult) {
	if err := ctx.Err(); err != nil {
		result.Warnings = append(result.Warnings, "files restore skipped: "+err.Error())
		return
	}

	filesRecord, err := uc.store.Get(filesID)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("files backup %s unavailable: %v", filesID, err))
		return
	}

	working, err := uc.prepare(filesRecord, workDir)
	if err == nil {
		err = uc.extract(working)
	}
	if err != nil {
		uc.logger.Warnw("embedded files restore failed", "operation", "restore", "backup_id", filesID, "error", err)
		result.Warnings = append(result.Warnings, fmt.Sprintf("files backup %s not restored: %v", filesID, err))
		return
	}
	result.FilesRestored = true
}

func (uc *Restore) extract(archivePath string) error {
	if err := os.MkdirAll(uc.filesDir, 0755); err != nil {
		return fmt.Errorf("create restore dir: %w", err)
	}
	if err := uc.archiver.ExtractArchive(archivePath, uc.filesDir); err != nil {
		return fmt.Errorf("extract archive: %w", err)
	}
	return nil
}

// prepare undoes encryption and, for dumps, compression into workDir and
// returns the file the engine or archiver should read. Files archives stay
// gzipped since extraction reads tar.gz directly.
func (uc *Restore) prepare(record *domain.BackupRecord, workDir string) (string, error) {
	if _, err := os.Stat(record.Path); err != nil {
		return "", &domain.IntegrityError{Path: record.Path, Reason: "artifact missing"}
	}

	current := record.Path
	name := filepath.Base(record.Path)

	if record.Encrypted {
		if uc.encryptor == nil || !uc.encryptor.Configured() {
			return "", domain.ErrEncryptionKeyMissing
		}
		name = strings.TrimSuffix(name, ".age")
		dest := filepath.Join(workDir, name)
		if err := uc.encryptor.DecryptFile(current, dest); err != nil {
			return "", fmt.Errorf("decrypt: %w", err)
		}
		current = dest
	}

	if record.Compressed && record.Type != domain.BackupTypeFiles {
		name = strings.TrimSuffix(name, ".gz")
		dest := filepath.Join(workDir, name)
		if err := uc.compressor.DecompressFile(current, dest); err != nil {
			return "", fmt.Errorf("decompress: %w", err)
		}
		current = dest
	}

	return current, nil
}

// BuildPlan selects the latest full backup at or before target and every
// incremental taken between that full backup and target, oldest first.
// Incrementals older than the selected full backup are left out.
func (uc *Restore) BuildPlan(target time.Time) (*domain.RestorePlan, error) {
	records, err := uc.store.All()
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	return buildPlan(records, target)
}

func buildPlan(records []*domain.BackupRecord, target time.Time) (*domain.RestorePlan, error) {
	var (
		full         *domain.BackupRecord
		incrementals []*domain.BackupRecord
		qualifying   int
	)

	for _, r := range records {
		if r.Status != domain.BackupStatusCompleted || r.Timestamp.After(target) {
			continue
		}
		switch r.Type {
		case domain.BackupTypeFull:
			qualifying++
			if full == nil || r.Timestamp.After(full.Timestamp) ||
				(r.Timestamp.Equal(full.Timestamp) && r.ID > full.ID) {
				full = r
			}
		case domain.BackupTypeIncremental:
			qualifying++
			incrementals = append(incrementals, r)
		}
	}

	if qualifying == 0 {
		return nil, domain.ErrNoBackupBeforeTime
	}
	if full == nil {
		return nil, domain.ErrNoFullBackupFound
	}

	plan := &domain.RestorePlan{Full: full}
	for _, r := range incrementals {
		if r.Timestamp.Before(full.Timestamp) {
			continue
		}
		plan.Incrementals = append(plan.Incrementals, r)
	}
	sort.SliceStable(plan.Incrementals, func(i, j int) bool {
		a, b := plan.Incrementals[i], plan.Incrementals[j]
		if a.Timestamp.Equal(b.Timestamp) {
			return a.ID < b.ID
		}
		return a.Timestamp.Before(b.Timestamp)
	})

	return plan, nil
}

// PointInTimeRecovery restores the planned full backup with drop-existing
// forced on, then applies each planned incremental in order.
func (uc *Restore) PointInTimeRecovery(ctx context.Context, target time.Time, dryRun bool) (*domain.PITRResult, error) {
	start := uc.now()

	plan, err := uc.BuildPlan(target)
	if err != nil {
		uc.logger.Warnw("no restore plan", "operation", "pitr", "target_time", target, "error", err)
		return nil, err
	}

	result := &domain.PITRResult{
		TargetTime:     target.UTC(),
		FullBackupID:   plan.Full.ID,
		IncrementalIDs: make([]string, 0, len(plan.Incrementals)),
		DryRun:         dryRun,
	}
	for _, r := range plan.Incrementals {
		result.IncrementalIDs = append(result.IncrementalIDs, r.ID)
	}

	uc.logger.Infow("point-in-time recovery plan", "operation", "pitr", "target_time", target,
		"full_backup_id", plan.Full.ID, "incrementals", result.IncrementalIDs, "dry_run", dryRun)
	if dryRun {
		return result, nil
	}

	if _, err := uc.Restore(ctx, plan.Full.ID, domain.RestoreOptions{DropExisting: true, VerifyBeforeRestore: true}); err != nil {
		return nil, fmt.Errorf("restore full backup %s: %w", plan.Full.ID, err)
	}
	for _, r := range plan.Incrementals {
		if _, err := uc.Restore(ctx, r.ID, domain.RestoreOptions{VerifyBeforeRestore: true}); err != nil {
			return nil, fmt.Errorf("apply incremental %s: %w", r.ID, err)
		}
	}

	result.Restored = true
	result.DurationMS = durationMS(start, uc.now())
	uc.logger.Infow("point-in-time recovery completed", "operation", "pitr",
		"full_backup_id", plan.Full.ID, "duration_ms", result.DurationMS)
	return result, nil
}
