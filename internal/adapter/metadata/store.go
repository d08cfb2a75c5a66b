package metadata

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/semmidev/restorepoint/internal/domain"
)

const recordExt = ".json"

type Logger interface {
	Warnw(msg string, keysAndValues ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
}

// Store keeps one JSON document per backup under dir. Writes go to a temp
// file in the same directory and are renamed into place, so readers see
// either the old record or the new one.
type Store struct {
	dir    string
	logger Logger
}

func New(dir string, logger Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create metadata directory: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("%w: invalid id %q", domain.ErrNotFound, id)
	}
	return filepath.Join(s.dir, id+recordExt), nil
}

func (s *Store) Save(record *domain.BackupRecord) (err error) {
	path, err := s.path(record.ID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", record.ID, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+record.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write record %s: %w", record.ID, err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync record %s: %w", record.ID, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close record %s: %w", record.ID, err)
	}

	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to commit record %s: %w", record.ID, err)
	}
	return nil
}

// Get returns domain.ErrNotFound when no record exists for id, including the
// case of a concurrent delete.
func (s *Store) Get(id string) (*domain.BackupRecord, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record %s: %w", id, err)
	}

	var record domain.BackupRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", id, err)
	}
	return &record, nil
}

// All returns every readable record, newest first. Unreadable documents are
// logged and skipped.
func (s *Store) All() ([]*domain.BackupRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata directory: %w", err)
	}

	records := make([]*domain.BackupRecord, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExt) {
			continue
		}

		record, err := s.Get(strings.TrimSuffix(name, recordExt))
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Warnw("skipping unreadable metadata", "file", name, "error", err)
			continue
		}
		records = append(records, record)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].ID > records[j].ID
		}
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	return records, nil
}

// List applies filter and pagination over All. The second value is the
// number of matching records before pagination.
func (s *Store) List(filter domain.ListFilter) ([]*domain.BackupRecord, int, error) {
	all, err := s.All()
	if err != nil {
		return nil, 0, err
	}

	matched := make([]*domain.BackupRecord, 0, len(all))
	for _, record := range all {
		if filter.Match(record) {
			matched = append(matched, record)
		}
	}
	total := len(matched)

	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []*domain.BackupRecord{}, total, nil
	}
	matched = matched[offset:]

	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

// Delete removes the artifact and then the record. A failure to remove the
// artifact is logged and does not stop the record from being removed.
func (s *Store) Delete(id string) error {
	record, err := s.Get(id)
	if err != nil {
		return err
	}

	if record.Path != "" {
		if err := os.Remove(record.Path); err != nil {
			s.logger.Warnw("failed to remove backup artifact",
				"backup_id", id, "path", record.Path, "error", err)
		}
	}

	path, _ := s.path(id)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
		}
		return fmt.Errorf("failed to remove record %s: %w", id, err)
	}

	s.logger.Debugw("deleted backup record", "backup_id", id)
	return nil
}
