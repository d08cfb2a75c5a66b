package usecase

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/semmidev/restorepoint/internal/domain"
)

// PreflightStatus is the non-raising view of the preflight checks.
type PreflightStatus struct {
	BackupDir      string          `json:"backup_dir"`
	Writable       bool            `json:"writable"`
	WriteError     string          `json:"write_error,omitempty"`
	Tools          map[string]bool `json:"tools"`
	AvailableBytes uint64          `json:"available_bytes"`
	TotalBytes     uint64          `json:"total_bytes"`
	RequiredBytes  uint64          `json:"required_bytes"`
	SpaceOK        bool            `json:"space_ok"`
	DiskError      string          `json:"disk_error,omitempty"`
	Ready          bool            `json:"ready"`
}

type Preflight struct {
	root    string
	minFree uint64
	system  System
	logger  Logger
}

func NewPreflight(root string, minFreeBytes uint64, system System, logger Logger) *Preflight {
	return &Preflight{
		root:    root,
		minFree: minFreeBytes,
		system:  system,
		logger:  logger,
	}
}

// Check fails on the first unmet prerequisite: a writable backup root, every
// tool in PATH, then enough free space.
func (p *Preflight) Check(tools ...string) error {
	if err := p.checkWritable(); err != nil {
		p.logger.Errorw("preflight failed", "check", "directory", "path", p.root, "error", err)
		return &domain.PreflightError{Kind: domain.PreflightDirectoryNotWritable, Path: p.root, Err: err}
	}

	for _, tool := range tools {
		if tool == "" {
			continue
		}
		if !p.system.Exists(tool) {
			p.logger.Errorw("preflight failed", "check", "tool", "tool", tool)
			return &domain.PreflightError{Kind: domain.PreflightMissingTool, Tool: tool}
		}
	}

	usage, err := p.system.DiskUsage(p.root)
	if err != nil {
		p.logger.Errorw("preflight failed", "check", "space", "path", p.root, "error", err)
		return &domain.PreflightError{Kind: domain.PreflightDiskUnreadable, Path: p.root, Required: p.minFree, Err: err}
	}
	if usage.AvailableBytes < p.minFree {
		p.logger.Errorw("preflight failed", "check", "space",
			"available_bytes", usage.AvailableBytes, "required_bytes", p.minFree)
		return &domain.PreflightError{
			Kind:      domain.PreflightInsufficientSpace,
			Path:      p.root,
			Available: usage.AvailableBytes,
			Required:  p.minFree,
		}
	}

	p.logger.Debugw("preflight passed", "path", p.root, "tools", tools, "available_bytes", usage.AvailableBytes)
	return nil
}

// Status reports the same facts as Check without failing.
func (p *Preflight) Status(tools ...string) PreflightStatus {
	st := PreflightStatus{
		BackupDir:     p.root,
		Tools:         make(map[string]bool, len(tools)),
		RequiredBytes: p.minFree,
	}

	if err := p.checkWritable(); err != nil {
		st.WriteError = err.Error()
	} else {
		st.Writable = true
	}

	allTools := true
	for _, tool := range tools {
		if tool == "" {
			continue
		}
		ok := p.system.Exists(tool)
		st.Tools[tool] = ok
		allTools = allTools && ok
	}

	if usage, err := p.system.DiskUsage(p.root); err != nil {
		st.DiskError = err.Error()
	} else {
		st.AvailableBytes = usage.AvailableBytes
		st.TotalBytes = usage.TotalBytes
		st.SpaceOK = usage.AvailableBytes >= p.minFree
	}

	st.Ready = st.Writable && allTools && st.SpaceOK
	return st
}

func (p *Preflight) checkWritable() error {
	if err := os.MkdirAll(p.root, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(p.root, ".preflight-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_, werr := f.Write([]byte("ok"))
	cerr := f.Close()
	rerr := os.Remove(name)
	switch {
	case werr != nil:
		return werr
	case cerr != nil:
		return cerr
	case rerr != nil:
		return fmt.Errorf("remove write check file %s: %w", filepath.Base(name), rerr)
	}
	return nil
}
