//go:build windows

package runner

import (
	"fmt"

	"golang.org/x/sys/windows"
)

func diskUsage(path string) (DiskUsage, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return DiskUsage{}, fmt.Errorf("encode path %s: %w", path, err)
	}

	var available, total, free uint64
	if err := windows.GetDiskFreeSpaceEx(p, &available, &total, &free); err != nil {
		return DiskUsage{}, fmt.Errorf("GetDiskFreeSpaceEx %s: %w", path, err)
	}

	return DiskUsage{TotalBytes: total, AvailableBytes: available}, nil
}
