package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/semmidev/restorepoint/internal/adapter/compressor"
	"github.com/semmidev/restorepoint/internal/adapter/integrity"
	"github.com/semmidev/restorepoint/internal/adapter/metadata"
	"github.com/semmidev/restorepoint/internal/domain"
	"github.com/semmidev/restorepoint/internal/infrastructure/metrics"
	"github.com/semmidev/restorepoint/internal/infrastructure/runner"
)

type restoreCall struct {
	content string
	drop    bool
}

// fakeDB stands in for a PostgreSQL engine without spawning any tool.
type fakeDB struct {
	mu sync.Mutex

	dumpData string
	dumpErr  error
	block    chan struct{}
	started  chan struct{}

	restores []restoreCall
	applied  []string
	dumps    int
}

func newFakeDB() *fakeDB {
	return &fakeDB{dumpData: "DUMPDATA"}
}

func (f *fakeDB) Dump(ctx context.Context, outputPath string) error {
	f.mu.Lock()
	f.dumps++
	block, started := f.block, f.started
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if f.dumpErr != nil {
		os.WriteFile(outputPath, []byte("partial"), 0644)
		return f.dumpErr
	}
	return os.WriteFile(outputPath, []byte(f.dumpData), 0644)
}

func (f *fakeDB) Restore(ctx context.Context, inputPath string, dropExisting bool) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restores = append(f.restores, restoreCall{content: string(data), drop: dropExisting})
	return nil
}

func (f *fakeDB) Ping(ctx context.Context) error { return nil }
func (f *fakeDB) GetName() string                { return "app" }
func (f *fakeDB) GetType() string                { return "postgresql" }
func (f *fakeDB) DumpTool() string               { return "pg_dump" }
func (f *fakeDB) RestoreTool() string            { return "psql" }
func (f *fakeDB) PingTool() string               { return "" }
func (f *fakeDB) Extension() string              { return ".sql" }

func (f *fakeDB) Stats(ctx context.Context) (domain.DatabaseStats, error) {
	return domain.DatabaseStats{Version: "16.2", TableCount: 2, RecordCount: 42}, nil
}

func (f *fakeDB) Tables(ctx context.Context) ([]string, error) {
	return []string{"orders", "users"}, nil
}

func (f *fakeDB) DumpChanges(ctx context.Context, outputPath string, since, until time.Time, tables []string) error {
	content := "-- changes since " + since.Format(time.RFC3339) + "\n"
	for _, table := range tables {
		content += "-- table: " + table + "\n"
	}
	return os.WriteFile(outputPath, []byte(content), 0644)
}

func (f *fakeDB) ApplyChanges(ctx context.Context, inputPath string) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, string(data))
	return nil
}

func (f *fakeDB) restoreCalls() []restoreCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]restoreCall(nil), f.restores...)
}

func (f *fakeDB) appliedCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.applied...)
}

type fakeSystem struct {
	missing   map[string]bool
	available uint64
	diskErr   error
	lookups   []string
}

func (s *fakeSystem) Exists(name string) bool {
	s.lookups = append(s.lookups, name)
	return !s.missing[name]
}

func (s *fakeSystem) DiskUsage(path string) (runner.DiskUsage, error) {
	if s.diskErr != nil {
		return runner.DiskUsage{}, s.diskErr
	}
	return runner.DiskUsage{TotalBytes: 100 << 30, AvailableBytes: s.available}, nil
}

// fakeStorage is an in-memory upload target.
type fakeStorage struct {
	mu        sync.Mutex
	files     map[string]time.Time
	uploadErr error
	oldErr    error
	deleted   []string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{files: make(map[string]time.Time)}
}

func (s *fakeStorage) Upload(ctx context.Context, localPath, remoteName string) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}
	if _, err := os.Stat(localPath); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[remoteName] = time.Now()
	return nil
}

func (s *fakeStorage) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name := range s.files {
		names = append(names, name)
	}
	return names, nil
}

func (s *fakeStorage) Delete(ctx context.Context, remoteName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[remoteName]; !ok {
		return errors.New("not found")
	}
	delete(s.files, remoteName)
	s.deleted = append(s.deleted, remoteName)
	return nil
}

func (s *fakeStorage) GetOldFiles(ctx context.Context, cutoff time.Time) ([]string, error) {
	if s.oldErr != nil {
		return nil, s.oldErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var old []string
	for name, at := range s.files {
		if at.Before(cutoff) {
			old = append(old, name)
		}
	}
	return old, nil
}

func (s *fakeStorage) has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[name]
	return ok
}

type harnessOptions struct {
	encryptor     Encryptor
	targets       []UploadTarget
	retentionDays int
}

type harness struct {
	root     string
	filesOut string
	db       *fakeDB
	system   *fakeSystem
	store    *metadata.Store
	verifier *integrity.Verifier
	metrics  *metrics.Metrics
	backup   *Backup
	restore  *Restore
	cleanup  *Cleanup
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()

	logger := zap.NewNop().Sugar()
	root := filepath.Join(t.TempDir(), "backups")
	layout := Layout{Root: root}

	store, err := metadata.New(layout.MetadataDir(), logger)
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		root:     root,
		filesOut: filepath.Join(t.TempDir(), "restored"),
		db:       newFakeDB(),
		system:   &fakeSystem{missing: map[string]bool{}, available: 10 << 30},
		store:    store,
		verifier: integrity.New(64 << 20),
		metrics:  metrics.New(),
	}

	retention := opts.retentionDays
	if retention == 0 {
		retention = 30
	}

	preflight := NewPreflight(root, 1<<20, h.system, logger)
	h.cleanup = NewCleanup(store, opts.targets, h.metrics, logger, retention)
	gz := compressor.NewGzip()
	archiver := compressor.NewTarGz(logger)

	h.backup = NewBackup(BackupDeps{
		Database:          h.db,
		Store:             store,
		Verifier:          h.verifier,
		Compressor:        gz,
		Archiver:          archiver,
		Encryptor:         opts.encryptor,
		Preflight:         preflight,
		Cleanup:           h.cleanup,
		Replicator:        NewReplicator(opts.targets, h.metrics, logger),
		Observer:          h.metrics,
		Logger:            logger,
		Layout:            layout,
		IncrementalWindow: 24 * time.Hour,
		ExcludePatterns:   []string{"*.tmp", "*.log"},
	})

	h.restore = NewRestore(RestoreDeps{
		Database:        h.db,
		Store:           store,
		Verifier:        h.verifier,
		Compressor:      gz,
		Archiver:        archiver,
		Encryptor:       opts.encryptor,
		Preflight:       preflight,
		Observer:        h.metrics,
		Logger:          logger,
		Layout:          layout,
		FilesRestoreDir: h.filesOut,
	})

	return h
}

// seed stores a completed record of backupType taken at ts whose artifact
// holds content.
func (h *harness) seed(t *testing.T, id string, backupType domain.BackupType, ts time.Time, content string) *domain.BackupRecord {
	t.Helper()

	dir := Layout{Root: h.root}.DatabaseDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, id+".sql")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	checksum, err := h.verifier.Checksum(path)
	if err != nil {
		t.Fatal(err)
	}

	record := &domain.BackupRecord{
		ID:        id,
		Type:      backupType,
		Status:    domain.BackupStatusCompleted,
		Timestamp: ts,
		Path:      path,
		Size:      int64(len(content)),
		Checksum:  checksum,
	}
	if backupType == domain.BackupTypeFull {
		record.Database = &domain.DatabaseInfo{Engine: "postgresql"}
	}
	if err := h.store.Save(record); err != nil {
		t.Fatal(err)
	}
	return record
}

func metadataFiles(t *testing.T, root string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(Layout{Root: root}.MetadataDir(), "*.json"))
	if err != nil {
		t.Fatal(err)
	}
	return matches
}
