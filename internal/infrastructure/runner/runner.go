// Package runner spawns the external dump, restore and ping tools.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/semmidev/restorepoint/internal/domain"
)

// DiskUsage is the capacity of the filesystem holding a path.
type DiskUsage struct {
	TotalBytes     uint64 `json:"total_bytes"`
	AvailableBytes uint64 `json:"available_bytes"`
}

const waitDelay = 10 * time.Second

type Runner struct {
	timeout time.Duration
}

// New returns a Runner that bounds every command by timeout. Zero disables
// the bound; the caller's context still applies.
func New(timeout time.Duration) *Runner {
	return &Runner{timeout: timeout}
}

// Run executes name with args and extra env entries, discarding stdout.
func (r *Runner) Run(ctx context.Context, name string, args []string, env []string) error {
	_, err := r.run(ctx, name, args, env, nil, io.Discard)
	return err
}

// RunOutput executes the command and returns its stdout.
func (r *Runner) RunOutput(ctx context.Context, name string, args []string, env []string) ([]byte, error) {
	var stdout bytes.Buffer
	_, err := r.run(ctx, name, args, env, nil, &stdout)
	return stdout.Bytes(), err
}

// RunInput executes the command with stdin fed from in.
func (r *Runner) RunInput(ctx context.Context, name string, args []string, env []string, in io.Reader) error {
	_, err := r.run(ctx, name, args, env, in, io.Discard)
	return err
}

func (r *Runner) run(ctx context.Context, name string, args []string, env []string, stdin io.Reader, stdout io.Writer) (int, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = &stderr
	// Grandchildren holding the pipes open must not block Wait forever.
	cmd.WaitDelay = waitDelay
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	cmdErr := &domain.CommandError{
		Command: name,
		Args:    args,
		Stderr:  stderr.String(),
		Err:     err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		cmdErr.ExitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		cmdErr.Err = fmt.Errorf("%w: %v", ctxErr, err)
	}
	return cmdErr.ExitCode, cmdErr
}

// Exists reports whether name resolves to an executable.
func (r *Runner) Exists(name string) bool {
	if name == "" {
		return false
	}
	_, err := exec.LookPath(name)
	return err == nil
}

// DiskUsage reports the capacity of the filesystem containing path.
func (r *Runner) DiskUsage(path string) (DiskUsage, error) {
	return diskUsage(path)
}
