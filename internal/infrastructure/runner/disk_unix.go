//go:build !windows

package runner

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func diskUsage(path string) (DiskUsage, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return DiskUsage{}, fmt.Errorf("statfs %s: %w", path, err)
	}

	bsize := uint64(stat.Bsize)
	return DiskUsage{
		TotalBytes:     uint64(stat.Blocks) * bsize,
		AvailableBytes: uint64(stat.Bavail) * bsize,
	}, nil
}
