package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrBackupInProgress     = errors.New("backup already in progress")
	ErrNotFound             = errors.New("backup not found")
	ErrScheduleNotFound     = errors.New("schedule not found")
	ErrScheduleRunning      = errors.New("schedule already running")
	ErrNoBackupBeforeTime   = errors.New("no backup found before target time")
	ErrNoFullBackupFound    = errors.New("no full backup found before target time")
	ErrUnsupportedFormat    = errors.New("unsupported archive format")
	ErrShuttingDown         = errors.New("shutting down")
	ErrEncryptionKeyMissing = errors.New("encryption requested but no passphrase configured")
)

// ConfigurationError reports missing or invalid configuration.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

type PreflightKind string

const (
	PreflightDirectoryNotWritable PreflightKind = "directory_not_writable"
	PreflightMissingTool          PreflightKind = "missing_tool"
	PreflightInsufficientSpace    PreflightKind = "insufficient_space"
	PreflightDiskUnreadable       PreflightKind = "disk_unreadable"
)

// PreflightError is raised before any long-running or destructive work starts.
type PreflightError struct {
	Kind      PreflightKind
	Path      string
	Tool      string
	Available uint64
	Required  uint64
	Err       error
}

func (e *PreflightError) Error() string {
	switch e.Kind {
	case PreflightMissingTool:
		return fmt.Sprintf("preflight failed: required tool %q not found in PATH", e.Tool)
	case PreflightDiskUnreadable:
		return fmt.Sprintf("preflight failed: cannot read free space of %s: %v", e.Path, e.Err)
	case PreflightInsufficientSpace:
		return fmt.Sprintf("preflight failed: insufficient space in %s: %d bytes available, %d required",
			e.Path, e.Available, e.Required)
	default:
		if e.Err != nil {
			return fmt.Sprintf("preflight failed: directory %s not writable: %v", e.Path, e.Err)
		}
		return fmt.Sprintf("preflight failed: directory %s not writable", e.Path)
	}
}

func (e *PreflightError) Unwrap() error { return e.Err }

// IntegrityError reports an artifact that is missing, empty, oversized or
// whose checksum no longer matches its record.
type IntegrityError struct {
	Path   string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: %s", e.Path, e.Reason)
}

// CommandError is a non-zero exit or spawn failure of an external tool.
type CommandError struct {
	Command  string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s failed", e.Command)
	if e.ExitCode > 0 {
		msg = fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ", stderr: " + stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }
