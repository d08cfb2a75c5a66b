package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/restorepoint/internal/adapter/compressor"
	"github.com/semmidev/restorepoint/internal/adapter/crypto"
	"github.com/semmidev/restorepoint/internal/domain"
)

func TestBackupFull(t *testing.T) {
	Convey("Given a Backup with a working dump tool", t, func() {
		ctx := context.Background()
		h := newHarness(t, harnessOptions{})

		Convey("A compressed full backup should store the gzipped dump", func() {
			record, err := h.backup.Full(ctx, domain.BackupOptions{Compress: true})
			So(err, ShouldBeNil)

			So(record.Type, ShouldEqual, domain.BackupTypeFull)
			So(record.Status, ShouldEqual, domain.BackupStatusCompleted)
			So(record.Compressed, ShouldBeTrue)
			So(record.Encrypted, ShouldBeFalse)
			So(strings.HasSuffix(record.Path, ".sql.gz"), ShouldBeTrue)
			So(filepath.Dir(record.Path), ShouldEqual, filepath.Join(h.root, "database"))
			So(record.Size, ShouldBeGreaterThan, 0)

			checksum, err := h.verifier.Checksum(record.Path)
			So(err, ShouldBeNil)
			So(record.Checksum, ShouldEqual, checksum)

			out := filepath.Join(t.TempDir(), "dump.sql")
			So(compressor.NewGzip().DecompressFile(record.Path, out), ShouldBeNil)
			data, err := os.ReadFile(out)
			So(err, ShouldBeNil)
			So(string(data), ShouldEqual, "DUMPDATA")

			Convey("It should stamp engine statistics", func() {
				So(record.Database, ShouldNotBeNil)
				So(record.Database.Engine, ShouldEqual, "postgresql")
				So(record.Database.Version, ShouldEqual, "16.2")
				So(record.Database.TableCount, ShouldEqual, 2)
				So(record.Database.RecordCount, ShouldEqual, int64(42))
			})

			Convey("It should persist the record", func() {
				stored, err := h.store.Get(record.ID)
				So(err, ShouldBeNil)
				So(stored.Checksum, ShouldEqual, record.Checksum)
				So(stored.Path, ShouldEqual, record.Path)
			})

			Convey("It should leave no uncompressed dump behind", func() {
				_, err := os.Stat(strings.TrimSuffix(record.Path, ".gz"))
				So(os.IsNotExist(err), ShouldBeTrue)
			})

			Convey("It should count the attempt", func() {
				So(testutil.ToFloat64(h.metrics.BackupsTotal.WithLabelValues("full", "completed")), ShouldEqual, 1.0)
				So(testutil.ToFloat64(h.metrics.BackupInProgress), ShouldEqual, 0.0)
			})
		})

		Convey("An uncompressed backup should keep the raw dump", func() {
			record, err := h.backup.Full(ctx, domain.BackupOptions{})
			So(err, ShouldBeNil)
			So(strings.HasSuffix(record.Path, ".sql"), ShouldBeTrue)

			data, err := os.ReadFile(record.Path)
			So(err, ShouldBeNil)
			So(string(data), ShouldEqual, "DUMPDATA")
		})

		Convey("When the dump tool is missing", func() {
			h.system.missing["pg_dump"] = true

			_, err := h.backup.Full(ctx, domain.BackupOptions{Compress: true})

			Convey("It should fail preflight naming the tool", func() {
				var pe *domain.PreflightError
				So(errors.As(err, &pe), ShouldBeTrue)
				So(pe.Kind, ShouldEqual, domain.PreflightMissingTool)
				So(pe.Tool, ShouldEqual, "pg_dump")
			})

			Convey("It should persist no record and run no dump", func() {
				So(metadataFiles(t, h.root), ShouldBeEmpty)
				So(h.db.dumps, ShouldEqual, 0)
				So(testutil.ToFloat64(h.metrics.BackupsTotal.WithLabelValues("full", "failed")), ShouldEqual, 1.0)
			})
		})

		Convey("When free space is below the floor", func() {
			h.system.available = 10

			_, err := h.backup.Full(ctx, domain.BackupOptions{})

			var pe *domain.PreflightError
			So(errors.As(err, &pe), ShouldBeTrue)
			So(pe.Kind, ShouldEqual, domain.PreflightInsufficientSpace)
			So(pe.Available, ShouldEqual, uint64(10))
		})

		Convey("When the dump fails", func() {
			h.db.dumpErr = errors.New("connection reset")

			_, err := h.backup.Full(ctx, domain.BackupOptions{Compress: true})

			Convey("It should propagate the error and remove the partial dump", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "connection reset")

				entries, _ := os.ReadDir(filepath.Join(h.root, "database"))
				So(entries, ShouldBeEmpty)
				So(metadataFiles(t, h.root), ShouldBeEmpty)
			})
		})

		Convey("When the dump is empty", func() {
			h.db.dumpData = ""

			_, err := h.backup.Full(ctx, domain.BackupOptions{})

			Convey("It should fail integrity and record nothing", func() {
				var ie *domain.IntegrityError
				So(errors.As(err, &ie), ShouldBeTrue)
				So(metadataFiles(t, h.root), ShouldBeEmpty)
			})
		})

		Convey("Encryption without a passphrase should fail before dumping", func() {
			_, err := h.backup.Full(ctx, domain.BackupOptions{Encrypt: true})
			So(errors.Is(err, domain.ErrEncryptionKeyMissing), ShouldBeTrue)
			So(h.db.dumps, ShouldEqual, 0)
		})

		Convey("IncludeFiles should cascade into a files backup", func() {
			src := filepath.Join(t.TempDir(), "uploads")
			So(os.MkdirAll(src, 0755), ShouldBeNil)
			So(os.WriteFile(filepath.Join(src, "avatar.png"), []byte("png"), 0644), ShouldBeNil)

			record, err := h.backup.Full(ctx, domain.BackupOptions{IncludeFiles: true, Directories: []string{src}})
			So(err, ShouldBeNil)
			So(record.Database.FilesBackupID, ShouldNotBeEmpty)

			files, err := h.store.Get(record.Database.FilesBackupID)
			So(err, ShouldBeNil)
			So(files.Type, ShouldEqual, domain.BackupTypeFiles)
		})

		Convey("A failed files cascade should fail the full backup", func() {
			_, err := h.backup.Full(ctx, domain.BackupOptions{IncludeFiles: true, ExcludePatterns: []string{"[bad"}, Directories: []string{t.TempDir()}})
			So(err, ShouldNotBeNil)
			So(metadataFiles(t, h.root), ShouldBeEmpty)
		})
	})
}

func TestBackupEncrypted(t *testing.T) {
	Convey("Given a Backup with an age passphrase", t, func() {
		ctx := context.Background()
		h := newHarness(t, harnessOptions{encryptor: crypto.NewAge("correct horse", 10)})

		record, err := h.backup.Full(ctx, domain.BackupOptions{Compress: true, Encrypt: true})
		So(err, ShouldBeNil)

		Convey("The artifact should be compressed then encrypted", func() {
			So(record.Encrypted, ShouldBeTrue)
			So(strings.HasSuffix(record.Path, ".sql.gz.age"), ShouldBeTrue)

			data, err := os.ReadFile(record.Path)
			So(err, ShouldBeNil)
			So(strings.Contains(string(data), "DUMPDATA"), ShouldBeFalse)
		})

		Convey("Restoring should decrypt and decompress before the engine sees it", func() {
			result, err := h.restore.Restore(ctx, record.ID, domain.RestoreOptions{VerifyBeforeRestore: true})
			So(err, ShouldBeNil)
			So(result.DatabaseRestored, ShouldBeTrue)

			calls := h.db.restoreCalls()
			So(calls, ShouldHaveLength, 1)
			So(calls[0].content, ShouldEqual, "DUMPDATA")
		})
	})
}

func TestBackupSingleFlight(t *testing.T) {
	Convey("Given a full backup that is still dumping", t, func() {
		ctx := context.Background()
		h := newHarness(t, harnessOptions{})
		h.db.block = make(chan struct{})
		h.db.started = make(chan struct{}, 1)

		type outcome struct {
			record *domain.BackupRecord
			err    error
		}
		first := make(chan outcome, 1)
		go func() {
			r, err := h.backup.Full(ctx, domain.BackupOptions{})
			first <- outcome{r, err}
		}()
		<-h.db.started

		Convey("A second full backup should fail fast", func() {
			So(h.backup.InProgress(), ShouldBeTrue)

			_, err := h.backup.Full(ctx, domain.BackupOptions{})
			So(errors.Is(err, domain.ErrBackupInProgress), ShouldBeTrue)

			close(h.db.block)
			res := <-first
			So(res.err, ShouldBeNil)
			So(res.record, ShouldNotBeNil)

			Convey("And the guard should be released afterwards", func() {
				So(h.backup.InProgress(), ShouldBeFalse)
				h.db.block = nil
				h.db.started = nil
				_, err := h.backup.Full(ctx, domain.BackupOptions{})
				So(err, ShouldBeNil)
			})
		})

		Convey("An incremental backup should not be blocked", func() {
			record, err := h.backup.Incremental(ctx, domain.BackupOptions{})
			So(err, ShouldBeNil)
			So(record.Type, ShouldEqual, domain.BackupTypeIncremental)

			close(h.db.block)
			So((<-first).err, ShouldBeNil)
		})
	})
}

func TestBackupIncremental(t *testing.T) {
	Convey("Given a Backup", t, func() {
		ctx := context.Background()
		h := newHarness(t, harnessOptions{})

		Convey("Defaults should cover the last window and every table", func() {
			before := time.Now().UTC()
			record, err := h.backup.Incremental(ctx, domain.BackupOptions{})
			So(err, ShouldBeNil)

			So(strings.HasSuffix(record.Path, "_incremental.sql"), ShouldBeTrue)
			So(record.Incremental, ShouldNotBeNil)
			So(record.Incremental.Tables, ShouldResemble, []string{"orders", "users"})
			window := record.Incremental.Until.Sub(record.Incremental.Since)
			So(window, ShouldEqual, 24*time.Hour)
			So(record.Incremental.Until.Before(before.Add(-time.Second)), ShouldBeFalse)
		})

		Convey("Explicit since and tables should be honoured", func() {
			since := time.Now().Add(-2 * time.Hour).UTC().Truncate(time.Second)
			record, err := h.backup.Incremental(ctx, domain.BackupOptions{Since: since, Tables: []string{"users"}, Compress: true})
			So(err, ShouldBeNil)
			So(record.Incremental.Since.Equal(since), ShouldBeTrue)
			So(record.Incremental.Tables, ShouldResemble, []string{"users"})
			So(strings.HasSuffix(record.Path, "_incremental.sql.gz"), ShouldBeTrue)
		})

		Convey("A since in the future should be rejected", func() {
			_, err := h.backup.Incremental(ctx, domain.BackupOptions{Since: time.Now().Add(time.Hour)})
			So(err, ShouldNotBeNil)
			So(metadataFiles(t, h.root), ShouldBeEmpty)
		})
	})
}

func TestBackupFiles(t *testing.T) {
	Convey("Given directories to archive", t, func() {
		ctx := context.Background()
		h := newHarness(t, harnessOptions{})

		src := t.TempDir()
		uploads := filepath.Join(src, "uploads")
		public := filepath.Join(src, "public")
		So(os.MkdirAll(filepath.Join(uploads, "2024"), 0755), ShouldBeNil)
		So(os.MkdirAll(public, 0755), ShouldBeNil)
		So(os.WriteFile(filepath.Join(uploads, "2024", "invoice.pdf"), []byte("pdf-bytes"), 0644), ShouldBeNil)
		So(os.WriteFile(filepath.Join(uploads, "scratch.tmp"), []byte("tmp"), 0644), ShouldBeNil)
		So(os.WriteFile(filepath.Join(public, "index.html"), []byte("<html>"), 0644), ShouldBeNil)
		So(os.WriteFile(filepath.Join(public, "access.log"), []byte("GET /"), 0644), ShouldBeNil)

		record, err := h.backup.Files(ctx, domain.BackupOptions{Directories: []string{uploads, public}})
		So(err, ShouldBeNil)

		Convey("The record should always be marked compressed", func() {
			So(record.Type, ShouldEqual, domain.BackupTypeFiles)
			So(record.Compressed, ShouldBeTrue)
			So(strings.HasSuffix(record.Path, "_files.tar.gz"), ShouldBeTrue)
			So(record.Files.ExcludePatterns, ShouldResemble, []string{"*.tmp", "*.log"})
		})

		Convey("Restoring should reproduce every non-excluded file", func() {
			result, err := h.restore.Restore(ctx, record.ID, domain.RestoreOptions{VerifyBeforeRestore: true})
			So(err, ShouldBeNil)
			So(result.FilesRestored, ShouldBeTrue)
			So(result.DatabaseRestored, ShouldBeFalse)

			data, err := os.ReadFile(filepath.Join(h.filesOut, "uploads", "2024", "invoice.pdf"))
			So(err, ShouldBeNil)
			So(string(data), ShouldEqual, "pdf-bytes")

			data, err = os.ReadFile(filepath.Join(h.filesOut, "public", "index.html"))
			So(err, ShouldBeNil)
			So(string(data), ShouldEqual, "<html>")

			_, err = os.Stat(filepath.Join(h.filesOut, "uploads", "scratch.tmp"))
			So(os.IsNotExist(err), ShouldBeTrue)
			_, err = os.Stat(filepath.Join(h.filesOut, "public", "access.log"))
			So(os.IsNotExist(err), ShouldBeTrue)

			So(h.db.restoreCalls(), ShouldBeEmpty)
		})
	})
}

func TestBackupReplication(t *testing.T) {
	Convey("Given two upload targets, one of them broken", t, func() {
		ctx := context.Background()
		good := newFakeStorage()
		bad := newFakeStorage()
		bad.uploadErr = errors.New("403 forbidden")

		h := newHarness(t, harnessOptions{targets: []UploadTarget{
			{Name: "s3", Storage: good},
			{Name: "gdrive", Storage: bad},
		}})

		record, err := h.backup.Full(ctx, domain.BackupOptions{Compress: true})

		Convey("The backup should still succeed", func() {
			So(err, ShouldBeNil)
			So(good.has(filepath.Base(record.Path)), ShouldBeTrue)
			So(bad.has(filepath.Base(record.Path)), ShouldBeFalse)
			So(testutil.ToFloat64(h.metrics.UploadFailuresTotal.WithLabelValues("gdrive")), ShouldEqual, 1.0)
		})
	})
}

func TestBackupRun(t *testing.T) {
	Convey("Run should dispatch by type", t, func() {
		ctx := context.Background()
		h := newHarness(t, harnessOptions{})

		record, err := h.backup.Run(ctx, domain.BackupTypeIncremental, domain.BackupOptions{})
		So(err, ShouldBeNil)
		So(record.Type, ShouldEqual, domain.BackupTypeIncremental)

		_, err = h.backup.Run(ctx, domain.BackupType("differential"), domain.BackupOptions{})
		So(err, ShouldNotBeNil)
	})
}
