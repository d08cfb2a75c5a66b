package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/semmidev/restorepoint/internal/domain"
)

type Cleanup struct {
	store         MetadataStore
	uploadTargets []UploadTarget
	observer      Observer
	logger        Logger
	retentionDays int
	now           func() time.Time
}

func NewCleanup(
	store MetadataStore,
	uploadTargets []UploadTarget,
	observer Observer,
	logger Logger,
	retentionDays int,
) *Cleanup {
	return &Cleanup{
		store:         store,
		uploadTargets: uploadTargets,
		observer:      observerOrNop(observer),
		logger:        logger,
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

// Execute deletes every record older than the retention window, along with
// its artifact, then prunes the upload targets. A zero retention keeps
// everything. It returns the number of local records removed.
func (uc *Cleanup) Execute(ctx context.Context) (int, error) {
	if uc.retentionDays <= 0 {
		uc.logger.Infof("Cleanup skipped, retention disabled")
		return 0, nil
	}

	uc.logger.Infof("Starting cleanup, retention: %d days", uc.retentionDays)
	cutoff := uc.now().AddDate(0, 0, -uc.retentionDays)

	records, err := uc.store.All()
	if err != nil {
		return 0, fmt.Errorf("list backups: %w", err)
	}

	deleted := 0
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if !record.Timestamp.Before(cutoff) {
			continue
		}

		if err := uc.store.Delete(record.ID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			uc.logger.Errorw("failed to delete expired backup",
				"operation", "cleanup", "backup_id", record.ID, "type", record.Type, "error", err)
			continue
		}
		uc.logger.Infow("deleted expired backup",
			"operation", "cleanup", "backup_id", record.ID, "type", record.Type, "timestamp", record.Timestamp)
		deleted++
	}

	if len(uc.uploadTargets) > 0 {
		uc.cleanupTargets(ctx, cutoff)
	}

	uc.observer.ObserveCleanup(deleted)
	uc.logger.Infof("Cleanup completed, %d backup(s) deleted", deleted)
	return deleted, nil
}

func (uc *Cleanup) cleanupTargets(ctx context.Context, cutoff time.Time) {
	var wg sync.WaitGroup

	for _, target := range uc.uploadTargets {
		wg.Add(1)
		go func(t UploadTarget) {
			defer wg.Done()

			if err := uc.cleanupTarget(ctx, t, cutoff); err != nil {
				uc.logger.Errorf("Cleanup failed for %s: %v", t.Name, err)
			}
		}(target)
	}

	wg.Wait()
}

func (uc *Cleanup) cleanupTarget(ctx context.Context, target UploadTarget, cutoff time.Time) error {
	files, err := target.Storage.GetOldFiles(ctx, cutoff)
	if err != nil {
		uc.logger.Warnf("GetOldFiles failed for %s, falling back to file names: %v", target.Name, err)
		files, err = uc.fallbackListFiles(ctx, target, cutoff)
		if err != nil {
			return err
		}
	}

	deleted := 0
	for _, filename := range files {
		uc.logger.Infof("Deleting old backup from %s: %s", target.Name, filename)

		if err := target.Storage.Delete(ctx, filename); err != nil {
			uc.logger.Errorf("Failed to delete %s from %s: %v", filename, target.Name, err)
		} else {
			deleted++
		}
	}

	uc.logger.Infof("Deleted %d old backup(s) from %s", deleted, target.Name)
	return nil
}

func (uc *Cleanup) fallbackListFiles(ctx context.Context, target UploadTarget, cutoff time.Time) ([]string, error) {
	files, err := target.Storage.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	oldFiles := make([]string, 0)
	for _, filename := range files {
		timestamp, err := extractTimestamp(filename)
		if err != nil {
			uc.logger.Warnf("Could not parse timestamp from %s: %v", filename, err)
			continue
		}

		if timestamp.Before(cutoff) {
			oldFiles = append(oldFiles, filename)
		}
	}

	return oldFiles, nil
}
