package usecase

import (
	"context"
	"path/filepath"
	"sync"
)

// Replicator copies finished artifacts to the off-site upload targets.
type Replicator struct {
	uploadTargets []UploadTarget
	observer      Observer
	logger        Logger
}

func NewReplicator(uploadTargets []UploadTarget, observer Observer, logger Logger) *Replicator {
	return &Replicator{
		uploadTargets: uploadTargets,
		observer:      observerOrNop(observer),
		logger:        logger,
	}
}

// Replicate uploads path to every target concurrently and waits for all of
// them. Failures are logged and counted, never returned.
func (r *Replicator) Replicate(ctx context.Context, backupID, path string) int {
	if r == nil || len(r.uploadTargets) == 0 {
		return 0
	}

	filename := filepath.Base(path)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures int
	)

	for _, target := range r.uploadTargets {
		wg.Add(1)
		go func(t UploadTarget) {
			defer wg.Done()

			r.logger.Infof("[%s] Uploading %s to %s...", backupID, filename, t.Name)
			if err := t.Storage.Upload(ctx, path, filename); err != nil {
				r.logger.Errorw("replica upload failed",
					"operation", "replicate", "backup_id", backupID, "target", t.Name, "error", err)
				r.observer.ObserveUploadFailure(t.Name)
				mu.Lock()
				failures++
				mu.Unlock()
				return
			}
			r.logger.Infof("[%s] Successfully uploaded to %s", backupID, t.Name)
		}(target)
	}

	wg.Wait()
	return failures
}
