package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/semmidev/restorepoint/internal/adapter/compressor"
	"github.com/semmidev/restorepoint/internal/adapter/crypto"
	"github.com/semmidev/restorepoint/internal/adapter/database"
	"github.com/semmidev/restorepoint/internal/adapter/integrity"
	"github.com/semmidev/restorepoint/internal/adapter/metadata"
	"github.com/semmidev/restorepoint/internal/adapter/secrets"
	"github.com/semmidev/restorepoint/internal/adapter/storage"
	"github.com/semmidev/restorepoint/internal/config"
	"github.com/semmidev/restorepoint/internal/domain"
	"github.com/semmidev/restorepoint/internal/infrastructure/logger"
	"github.com/semmidev/restorepoint/internal/infrastructure/metrics"
	"github.com/semmidev/restorepoint/internal/infrastructure/runner"
	"github.com/semmidev/restorepoint/internal/infrastructure/scheduler"
	"github.com/semmidev/restorepoint/internal/usecase"
)

type App struct {
	config        *config.Config
	logger        *logger.Logger
	db            domain.Database
	store         *metadata.Store
	metrics       *metrics.Metrics
	scheduler     *scheduler.Scheduler
	uploadTargets []usecase.UploadTarget

	preflight *usecase.Preflight
	backup    *usecase.Backup
	restore   *usecase.Restore
	cleanupUC *usecase.Cleanup
	schedules *usecase.Schedules
	status    *usecase.Status
}

// New wires every component from cfg. Secrets missing from the config are
// looked up in Vault when it is configured.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log, err := logger.New(cfg.App.LogLevel, cfg.App.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := resolveSecrets(ctx, cfg, log); err != nil {
		return nil, err
	}

	run := runner.New(cfg.Backup.CommandTimeout)

	db, err := database.New(&cfg.Database, run)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	layout := usecase.Layout{Root: cfg.Backup.RootDir}
	store, err := metadata.New(layout.MetadataDir(), log.Named("metadata"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metadata store: %w", err)
	}

	verifier := integrity.New(cfg.MaxBackupSizeBytes())
	gz := compressor.NewGzip()
	archiver := compressor.NewTarGz(log.Named("archive"))
	encryptor := crypto.NewAge(cfg.Encryption.Passphrase, cfg.Encryption.WorkFactor)
	m := metrics.New()

	uploadTargets, notifier := initializeUploadTargets(ctx, cfg, log)

	preflight := usecase.NewPreflight(cfg.Backup.RootDir, cfg.MinFreeSpaceBytes(), run, log.Named("preflight"))
	cleanupUC := usecase.NewCleanup(store, uploadTargets, m, log.Named("cleanup"), cfg.Backup.RetentionDays)

	var replicator *usecase.Replicator
	if cfg.Backup.ReplicateOnSuccess {
		replicator = usecase.NewReplicator(uploadTargets, m, log.Named("replicate"))
	}

	backupUC := usecase.NewBackup(usecase.BackupDeps{
		Database:          db,
		Store:             store,
		Verifier:          verifier,
		Compressor:        gz,
		Archiver:          archiver,
		Encryptor:         encryptor,
		Preflight:         preflight,
		Cleanup:           cleanupUC,
		Replicator:        replicator,
		Observer:          m,
		Logger:            log.Named("backup"),
		Layout:            layout,
		IncrementalWindow: cfg.Backup.IncrementalWindow,
		Directories:       cfg.Backup.FileDirectories,
		ExcludePatterns:   cfg.Backup.ExcludePatterns,
	})

	restoreUC := usecase.NewRestore(usecase.RestoreDeps{
		Database:        db,
		Store:           store,
		Verifier:        verifier,
		Compressor:      gz,
		Archiver:        archiver,
		Encryptor:       encryptor,
		Preflight:       preflight,
		Observer:        m,
		Logger:          log.Named("restore"),
		Layout:          layout,
		FilesRestoreDir: cfg.Backup.FilesRestoreDir,
	})

	var (
		sched       *scheduler.Scheduler
		trigger     usecase.Trigger
		inertReason string
	)
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(log.Named("scheduler"))
		trigger = sched
	} else {
		inertReason = "scheduler.enabled is false"
		log.Warnf("Scheduler disabled, schedules will be tracked but never fire")
	}

	schedules := usecase.NewSchedules(trigger, inertReason, backupUC, notifier, m, log.Named("schedules"))
	for _, sc := range cfg.Schedules {
		enabled := sc.Enabled
		opts := sc.Options
		if _, err := schedules.Create(domain.ScheduleSpec{
			Name:           sc.Name,
			Type:           domain.BackupType(sc.Type),
			CronExpression: sc.Cron,
			Enabled:        &enabled,
			Options:        &opts,
		}); err != nil {
			return nil, fmt.Errorf("failed to create schedule %s: %w", sc.Name, err)
		}
	}

	return &App{
		config:        cfg,
		logger:        log,
		db:            db,
		store:         store,
		metrics:       m,
		scheduler:     sched,
		uploadTargets: uploadTargets,
		preflight:     preflight,
		backup:        backupUC,
		restore:       restoreUC,
		cleanupUC:     cleanupUC,
		schedules:     schedules,
		status:        usecase.NewStatus(store, backupUC, schedules, cfg.Backup.RetentionDays),
	}, nil
}

func resolveSecrets(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	needPassphrase := cfg.Encryption.Passphrase == "" && cfg.Encryption.VaultPath != ""
	needPassword := cfg.Database.Password == "" && cfg.Database.VaultPath != ""
	if !cfg.Vault.Enabled() || (!needPassphrase && !needPassword) {
		return nil
	}

	v, err := secrets.NewVault(ctx,
		secrets.WithAddress(cfg.Vault.Address),
		secrets.WithToken(cfg.Vault.Token),
		secrets.WithAppRole(cfg.Vault.RoleID, cfg.Vault.SecretID),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize vault: %w", err)
	}

	if needPassphrase {
		if cfg.Encryption.Passphrase, err = v.ReadString(ctx, cfg.Encryption.VaultPath, cfg.Encryption.VaultKey); err != nil {
			return fmt.Errorf("failed to read encryption passphrase: %w", err)
		}
		log.Infof("✓ Encryption passphrase loaded from Vault")
	}
	if needPassword {
		if cfg.Database.Password, err = v.ReadString(ctx, cfg.Database.VaultPath, "password"); err != nil {
			return fmt.Errorf("failed to read database password: %w", err)
		}
		log.Infof("✓ Database password loaded from Vault")
	}
	return nil
}

// initializeUploadTargets builds the replica targets. A target that fails to
// initialize is logged and skipped. The first Telegram target also serves as
// the failure notifier.
func initializeUploadTargets(ctx context.Context, cfg *config.Config, log *logger.Logger) ([]usecase.UploadTarget, domain.Notifier) {
	var (
		targets  []usecase.UploadTarget
		notifier domain.Notifier
	)

	for _, targetCfg := range cfg.GetEnabledUploadTargets() {
		var stor domain.Storage
		var err error

		switch targetCfg.Type {
		case "gdrive":
			stor, err = storage.NewGDrive(ctx, &targetCfg)
			if err != nil {
				log.Errorf("Failed to initialize Google Drive: %v", err)
				continue
			}
			log.Infof("✓ Google Drive upload enabled")

		case "s3":
			stor, err = storage.NewS3(ctx, &targetCfg)
			if err != nil {
				log.Errorf("Failed to initialize S3: %v", err)
				continue
			}
			log.Infof("✓ S3 upload enabled (bucket: %s)", targetCfg.Bucket)

		case "telegram":
			tg, err := storage.NewTelegram(&targetCfg)
			if err != nil {
				log.Errorf("Failed to initialize Telegram: %v", err)
				continue
			}
			if notifier == nil {
				notifier = tg
			}
			if targetCfg.NotifyOnly {
				log.Infof("✓ Telegram notifications enabled")
				continue
			}
			stor = tg
			log.Infof("✓ Telegram upload enabled")

		case "local":
			stor, err = storage.NewLocal(targetCfg.Path)
			if err != nil {
				log.Errorf("Failed to initialize local mirror: %v", err)
				continue
			}
			log.Infof("✓ Local mirror enabled (%s)", targetCfg.Path)

		default:
			log.Warnf("Unknown upload target type: %s", targetCfg.Type)
			continue
		}

		targets = append(targets, usecase.UploadTarget{
			Name:    targetCfg.Type,
			Storage: stor,
		})
	}

	return targets, notifier
}

func (a *App) Logger() *logger.Logger {
	return a.logger
}

func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// DefaultBackupOptions are the configured compress and encrypt defaults.
func (a *App) DefaultBackupOptions() domain.BackupOptions {
	return domain.BackupOptions{
		Compress: a.config.Backup.Compress,
		Encrypt:  a.config.Backup.Encrypt,
	}
}

func (a *App) CreateBackup(ctx context.Context, backupType domain.BackupType, opts domain.BackupOptions) (*domain.BackupRecord, error) {
	return a.backup.Run(ctx, backupType, opts)
}

func (a *App) ListBackups(filter domain.ListFilter) ([]*domain.BackupRecord, int, error) {
	return a.store.List(filter)
}

func (a *App) GetBackup(id string) (*domain.BackupRecord, error) {
	return a.store.Get(id)
}

func (a *App) DeleteBackup(id string) error {
	if err := a.store.Delete(id); err != nil {
		return err
	}
	a.logger.Infow("backup deleted", "operation", "delete", "backup_id", id)
	return nil
}

func (a *App) Restore(ctx context.Context, id string, opts domain.RestoreOptions) (*domain.RestoreResult, error) {
	return a.restore.Restore(ctx, id, opts)
}

func (a *App) PointInTimeRecovery(ctx context.Context, target time.Time, dryRun bool) (*domain.PITRResult, error) {
	return a.restore.PointInTimeRecovery(ctx, target, dryRun)
}

func (a *App) Cleanup(ctx context.Context) (int, error) {
	return a.cleanupUC.Execute(ctx)
}

func (a *App) Status() (*usecase.StatusReport, error) {
	return a.status.Report()
}

func (a *App) PreflightStatus() usecase.PreflightStatus {
	return a.preflight.Status(a.db.DumpTool(), a.db.RestoreTool(), a.db.PingTool())
}

func (a *App) CreateSchedule(spec domain.ScheduleSpec) (*domain.ScheduleRecord, error) {
	return a.schedules.Create(spec)
}

func (a *App) UpdateSchedule(idOrName string, spec domain.ScheduleSpec) (*domain.ScheduleRecord, error) {
	return a.schedules.Update(idOrName, spec)
}

func (a *App) DeleteSchedule(idOrName string) error {
	return a.schedules.Delete(idOrName)
}

func (a *App) EnableSchedule(idOrName string) (*domain.ScheduleRecord, error) {
	return a.schedules.Enable(idOrName)
}

func (a *App) DisableSchedule(idOrName string) (*domain.ScheduleRecord, error) {
	return a.schedules.Disable(idOrName)
}

func (a *App) ForceRunSchedule(ctx context.Context, idOrName string) (*domain.BackupRecord, error) {
	return a.schedules.ForceRun(ctx, idOrName)
}

func (a *App) ListSchedules() []*domain.ScheduleRecord {
	return a.schedules.List()
}

func (a *App) GetSchedule(idOrName string) (*domain.ScheduleRecord, error) {
	return a.schedules.Get(idOrName)
}

func (a *App) SchedulerStats() domain.SchedulerStats {
	return a.schedules.Stats()
}

// Run starts the scheduler, the retention job and the metrics endpoint and
// blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	stats := a.schedules.Stats()
	a.logger.Infof("Application started with %d schedule(s), %d enabled", stats.Total, stats.Enabled)

	if a.scheduler != nil {
		cleanupSchedule := a.config.Backup.CleanupSchedule
		a.logger.Infof("Scheduling cleanup: %s", cleanupSchedule)

		if _, err := a.scheduler.AddJob(cleanupSchedule, func(ctx context.Context) error {
			_, err := a.cleanupUC.Execute(ctx)
			if err != nil {
				a.logger.Errorw("scheduled cleanup failed", "operation", "cleanup", "error", err)
			}
			return err
		}); err != nil {
			return fmt.Errorf("failed to schedule cleanup: %w", err)
		}

		a.scheduler.Start()
		a.logger.Infof("Scheduler started successfully")
	} else {
		a.logger.Warnw("scheduler inert", "reason", stats.InertReason)
	}

	a.logger.Infof("Backup destinations: local + %d remote target(s)", len(a.uploadTargets))

	errCh := make(chan error, 1)
	if a.config.Metrics.Enabled {
		go func() {
			a.logger.Infof("Metrics listening on %s/metrics", a.config.Metrics.ListenAddr)
			errCh <- a.metrics.Serve(ctx, a.config.Metrics.ListenAddr)
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		<-ctx.Done()
		return nil
	}
}

// Shutdown suppresses new scheduled runs. Runs already in flight are not
// cancelled or awaited.
func (a *App) Shutdown() {
	a.logger.Infof("Shutting down application...")
	a.schedules.Shutdown()
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if closer, ok := a.db.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			a.logger.Warnf("Failed to close database connection: %v", err)
		}
	}
	a.logger.Close()
}
