package compressor

import (
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

// blockedPath returns a path whose parent is a regular file, so creating it
// fails even when the tests run as root.
func blockedPath(t *testing.T, name string) string {
	t.Helper()
	blocker, err := os.CreateTemp(t.TempDir(), "blocker_*")
	if err != nil {
		t.Fatalf("create blocker: %v", err)
	}
	blocker.Close()
	return filepath.Join(blocker.Name(), "sub", name)
}

func TestGzipCompressor(t *testing.T) {
	Convey("Given a GzipCompressor", t, func() {
		compressor := NewGzip()
		tempDir := t.TempDir()

		Convey("Compress method", func() {
			Convey("When compressing a valid file", func() {
				inputContent := []byte("This is a test content for compression")
				inputFile := filepath.Join(tempDir, "input.txt")
				So(os.WriteFile(inputFile, inputContent, 0644), ShouldBeNil)

				outputFile := filepath.Join(tempDir, "output.gz")

				Convey("It should produce a stream readable by the standard gzip reader", func() {
					err := compressor.Compress(inputFile, outputFile)
					So(err, ShouldBeNil)

					gzipFile, err := os.Open(outputFile)
					So(err, ShouldBeNil)
					defer gzipFile.Close()

					gzipReader, err := gzip.NewReader(gzipFile)
					So(err, ShouldBeNil)
					defer gzipReader.Close()

					var decompressedContent bytes.Buffer
					_, err = decompressedContent.ReadFrom(gzipReader)
					So(err, ShouldBeNil)
					So(decompressedContent.Bytes(), ShouldResemble, inputContent)
				})
			})

			Convey("When the source file does not exist", func() {
				err := compressor.Compress(filepath.Join(tempDir, "nonexistent.txt"), filepath.Join(tempDir, "output.gz"))
				Convey("It should return an error", func() {
					So(err, ShouldNotBeNil)
					So(err.Error(), ShouldContainSubstring, "failed to open source file")
				})
			})

			Convey("When the destination path is invalid", func() {
				inputFile := filepath.Join(tempDir, "input.txt")
				So(os.WriteFile(inputFile, []byte("x"), 0644), ShouldBeNil)

				err := compressor.Compress(inputFile, blockedPath(t, "output.gz"))
				Convey("It should return an error", func() {
					So(err, ShouldNotBeNil)
					So(err.Error(), ShouldContainSubstring, "failed to create dest file")
				})
			})
		})

		Convey("CompressFile method", func() {
			dumpPath := filepath.Join(tempDir, "backup_20240101_020000.sql")
			So(os.WriteFile(dumpPath, []byte("DUMPDATA"), 0644), ShouldBeNil)

			Convey("When the file is compressed in place", func() {
				compressedPath, err := compressor.CompressFile(dumpPath)

				Convey("It should replace the original with a .gz sibling", func() {
					So(err, ShouldBeNil)
					So(compressedPath, ShouldEqual, dumpPath+GzipExt)
					_, statErr := os.Stat(dumpPath)
					So(os.IsNotExist(statErr), ShouldBeTrue)
				})

				Convey("It should round-trip through DecompressFile", func() {
					restored := filepath.Join(tempDir, "restored.sql")
					So(compressor.DecompressFile(compressedPath, restored), ShouldBeNil)

					content, err := os.ReadFile(restored)
					So(err, ShouldBeNil)
					So(string(content), ShouldEqual, "DUMPDATA")

					_, statErr := os.Stat(compressedPath)
					So(statErr, ShouldBeNil)
				})
			})

			Convey("When the file does not exist", func() {
				_, err := compressor.CompressFile(filepath.Join(tempDir, "missing.sql"))

				Convey("It should fail without leaving a partial .gz", func() {
					So(err, ShouldNotBeNil)
					_, statErr := os.Stat(filepath.Join(tempDir, "missing.sql.gz"))
					So(os.IsNotExist(statErr), ShouldBeTrue)
				})
			})
		})

		Convey("Decompress method", func() {
			Convey("When decompressing a valid gzip file", func() {
				inputContent := []byte("This is a test content for decompression")
				gzipPath := filepath.Join(tempDir, "input.gz")
				writeGzip(t, gzipPath, inputContent)

				outputFile := filepath.Join(tempDir, "output.txt")

				Convey("It should decompress successfully", func() {
					err := compressor.Decompress(gzipPath, outputFile)
					So(err, ShouldBeNil)

					decompressedContent, err := os.ReadFile(outputFile)
					So(err, ShouldBeNil)
					So(decompressedContent, ShouldResemble, inputContent)
				})
			})

			Convey("When the source file does not exist", func() {
				err := compressor.Decompress(filepath.Join(tempDir, "nonexistent.gz"), filepath.Join(tempDir, "output.txt"))
				Convey("It should return an error", func() {
					So(err, ShouldNotBeNil)
					So(err.Error(), ShouldContainSubstring, "failed to open source file")
				})
			})

			Convey("When the source file is not a valid gzip file", func() {
				invalidFile := filepath.Join(tempDir, "invalid.txt")
				So(os.WriteFile(invalidFile, []byte("not a gzip file"), 0644), ShouldBeNil)

				err := compressor.Decompress(invalidFile, filepath.Join(tempDir, "output.txt"))
				Convey("It should return an error", func() {
					So(err, ShouldNotBeNil)
					So(err.Error(), ShouldContainSubstring, "failed to create gzip reader")
				})
			})

			Convey("When the destination path is invalid", func() {
				gzipPath := filepath.Join(tempDir, "input.gz")
				writeGzip(t, gzipPath, []byte("test content"))

				err := compressor.Decompress(gzipPath, blockedPath(t, "output.txt"))
				Convey("It should return an error", func() {
					So(err, ShouldNotBeNil)
					So(err.Error(), ShouldContainSubstring, "failed to create dest file")
				})
			})
		})
	})
}

func writeGzip(t *testing.T, path string, content []byte) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create gzip: %v", err)
	}
	defer f.Close()

	w, err := gzip.NewWriterLevel(f, gzip.BestCompression)
	if err != nil {
		t.Fatalf("gzip writer: %v", err)
	}
	if _, err := w.Write(content); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
}
