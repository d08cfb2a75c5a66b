package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/restorepoint/internal/domain"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestRunner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs require a POSIX shell")
	}

	Convey("Given a Runner", t, func() {
		tempDir := t.TempDir()
		r := New(0)
		ctx := context.Background()

		Convey("Run method", func() {
			Convey("When the command exits with code 0", func() {
				script := writeScript(t, tempDir, "ok", `echo "$GREETING" > "$1"`)
				out := filepath.Join(tempDir, "out.txt")

				err := r.Run(ctx, script, []string{out}, []string{"GREETING=hello"})

				Convey("It should succeed and pass args and env", func() {
					So(err, ShouldBeNil)
					content, err := os.ReadFile(out)
					So(err, ShouldBeNil)
					So(string(content), ShouldEqual, "hello\n")
				})
			})

			Convey("When the command exits with a non-zero code", func() {
				script := writeScript(t, tempDir, "fail", `echo "connection refused" >&2; exit 3`)

				err := r.Run(ctx, script, nil, nil)

				Convey("It should return a CommandError with stderr and exit code", func() {
					So(err, ShouldNotBeNil)
					var cmdErr *domain.CommandError
					So(errors.As(err, &cmdErr), ShouldBeTrue)
					So(cmdErr.ExitCode, ShouldEqual, 3)
					So(cmdErr.Stderr, ShouldContainSubstring, "connection refused")
					So(err.Error(), ShouldContainSubstring, "connection refused")
				})
			})

			Convey("When the executable does not exist", func() {
				err := r.Run(ctx, filepath.Join(tempDir, "missing-tool"), nil, nil)

				Convey("It should return a CommandError", func() {
					var cmdErr *domain.CommandError
					So(errors.As(err, &cmdErr), ShouldBeTrue)
					So(cmdErr.ExitCode, ShouldEqual, 0)
				})
			})

			Convey("When the command outlives the timeout", func() {
				script := writeScript(t, tempDir, "slow", `exec sleep 5`)
				slow := New(100 * time.Millisecond)

				start := time.Now()
				err := slow.Run(ctx, script, nil, nil)

				Convey("It should be cancelled with a deadline error", func() {
					So(err, ShouldNotBeNil)
					So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
					So(time.Since(start), ShouldBeLessThan, 4*time.Second)
				})
			})
		})

		Convey("RunOutput method", func() {
			script := writeScript(t, tempDir, "print", `echo "PostgreSQL 16.2"`)

			out, err := r.RunOutput(ctx, script, nil, nil)

			Convey("It should capture stdout", func() {
				So(err, ShouldBeNil)
				So(string(out), ShouldEqual, "PostgreSQL 16.2\n")
			})
		})

		Convey("Exists method", func() {
			Convey("It should find tools on PATH", func() {
				So(r.Exists("sh"), ShouldBeTrue)
			})

			Convey("It should reject unknown and empty names", func() {
				So(r.Exists("restorepoint-no-such-tool"), ShouldBeFalse)
				So(r.Exists(""), ShouldBeFalse)
			})
		})

		Convey("DiskUsage method", func() {
			Convey("When the path exists", func() {
				usage, err := r.DiskUsage(tempDir)

				Convey("It should report filesystem capacity", func() {
					So(err, ShouldBeNil)
					So(usage.TotalBytes, ShouldBeGreaterThan, 0)
					So(usage.AvailableBytes, ShouldBeLessThanOrEqualTo, usage.TotalBytes)
				})
			})

			Convey("When the path does not exist", func() {
				_, err := r.DiskUsage(filepath.Join(tempDir, "nope"))

				Convey("It should return an error rather than a guess", func() {
					So(err, ShouldNotBeNil)
				})
			})
		})
	})
}
