package domain

import (
	"context"
	"time"
)

// Storage is an off-site replica target for finished artifacts.
type Storage interface {
	Upload(ctx context.Context, localPath string, remoteName string) error
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, remoteName string) error
	GetOldFiles(ctx context.Context, cutoffTime time.Time) ([]string, error)
}

type Notifier interface {
	SendNotification(message string) error
}
