package compressor

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/semmidev/restorepoint/internal/domain"
)

type Logger interface {
	Warnw(msg string, keysAndValues ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
}

// TarGzArchiver packs directory trees into a single .tar.gz blob.
type TarGzArchiver struct {
	level  int
	logger Logger
}

func NewTarGz(logger Logger) *TarGzArchiver {
	return &TarGzArchiver{level: gzip.DefaultCompression, logger: logger}
}

// archiveWriters closes file, gzip and tar writers in reverse order.
type archiveWriters struct {
	tw      *tar.Writer
	closers []io.Closer
}

func (aw *archiveWriters) Close() error {
	var firstErr error
	for i := len(aw.closers) - 1; i >= 0; i-- {
		if err := aw.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ArchiveDirectories adds every existing directory under its base name.
// Missing directories are skipped with a warning. Entries whose base name or
// archive-relative path matches an exclude pattern are left out.
func (a *TarGzArchiver) ArchiveDirectories(destPath string, directories, excludePatterns []string) (err error) {
	for _, pattern := range excludePatterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
	}

	outFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	gzWriter, err := gzip.NewWriterLevel(outFile, a.level)
	if err != nil {
		outFile.Close()
		return fmt.Errorf("failed to create gzip writer: %w", err)
	}
	aw := &archiveWriters{tw: tar.NewWriter(gzWriter)}
	aw.closers = []io.Closer{outFile, gzWriter, aw.tw}
	defer func() {
		if closeErr := aw.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to finish archive: %w", closeErr)
		}
		if err != nil {
			os.Remove(destPath)
		}
	}()

	for _, dir := range directories {
		info, statErr := os.Stat(dir)
		if statErr != nil || !info.IsDir() {
			a.logger.Warnw("skipping missing directory", "directory", dir)
			continue
		}
		if err := a.addDirectory(aw.tw, dir, excludePatterns); err != nil {
			return err
		}
	}

	return nil
}

func (a *TarGzArchiver) addDirectory(tw *tar.Writer, dir string, excludePatterns []string) error {
	root := filepath.Clean(dir)
	base := filepath.Base(root)

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("failed to walk %s: %w", path, walkErr)
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(filepath.Join(base, rel))

		if path != root && excluded(d.Name(), name, excludePatterns) {
			a.logger.Debugw("excluding from archive", "path", path)
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			a.logger.Debugw("skipping non-regular file", "path", path)
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("failed to create tar header for %s: %w", path, err)
		}
		header.Name = name
		if info.IsDir() {
			header.Name += "/"
		}

		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write tar header for %s: %w", path, err)
		}
		if info.IsDir() {
			return nil
		}

		return copyIntoArchive(tw, path)
	})
}

func copyIntoArchive(tw *tar.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	if _, err := io.Copy(tw, file); err != nil {
		return fmt.Errorf("failed to copy %s to archive: %w", path, err)
	}
	return nil
}

func excluded(baseName, archivePath string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, baseName); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, archivePath); ok {
			return true
		}
	}
	return false
}

// IsTarGz reports whether path carries a gzip-tar extension.
func IsTarGz(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz")
}

// ExtractArchive unpacks a .tar.gz archive into destDir. Any other format is
// rejected with domain.ErrUnsupportedFormat.
func (a *TarGzArchiver) ExtractArchive(archivePath, destDir string) error {
	if !IsTarGz(archivePath) {
		return fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, filepath.Base(archivePath))
	}

	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzReader.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}

	tr := tar.NewReader(gzReader)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}

		destPath, err := safeJoin(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", header.Name, err)
			}
		case tar.TypeReg:
			if err := extractFile(tr, destPath, header.FileInfo().Mode().Perm()); err != nil {
				return fmt.Errorf("failed to extract %s: %w", header.Name, err)
			}
		default:
			a.logger.Debugw("skipping unsupported tar entry", "name", header.Name, "type", string(header.Typeflag))
		}
	}
}

// safeJoin rejects entries that would land outside destDir.
func safeJoin(destDir, name string) (string, error) {
	destPath := filepath.Join(destDir, name)
	cleanDest := filepath.Clean(destDir)
	if destPath != cleanDest && !strings.HasPrefix(destPath, cleanDest+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid file path in archive: %s", name)
	}
	return destPath, nil
}

func extractFile(r io.Reader, destPath string, perm fs.FileMode) (err error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}

	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	_, err = io.Copy(out, r)
	return err
}
