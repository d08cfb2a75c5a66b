package usecase

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/google/uuid"
)

const idTimeLayout = "20060102_150405"

var idTimestamp = regexp.MustCompile(`(\d{8}_\d{6})`)

// newBackupID returns backup_<timestamp>_<8 hex chars>. The timestamp keeps
// ids sortable; the suffix keeps two backups in the same second apart.
func newBackupID(now time.Time) string {
	return fmt.Sprintf("backup_%s_%s", now.UTC().Format(idTimeLayout), uuid.NewString()[:8])
}

// extractTimestamp finds the first embedded 20060102_150405 stamp in a file
// name, whatever the prefix, suffix or extensions around it.
func extractTimestamp(filename string) (time.Time, error) {
	match := idTimestamp.FindString(filename)
	if match == "" {
		return time.Time{}, fmt.Errorf("invalid filename format")
	}
	return time.ParseInLocation(idTimeLayout, match, time.UTC)
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func removeQuietly(logger Logger, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warnw("failed to remove file", "path", path, "error", err)
	}
}

func durationMS(start, end time.Time) int64 {
	return end.Sub(start).Milliseconds()
}
