package domain

import (
	"context"
	"time"
)

type Database interface {
	Dump(ctx context.Context, outputPath string) error
	Restore(ctx context.Context, inputPath string, dropExisting bool) error
	Ping(ctx context.Context) error
	GetName() string
	GetType() string
	DumpTool() string
	RestoreTool() string
	// PingTool is the command Ping shells out to, or "" when it uses a driver.
	PingTool() string
	// Extension is the suffix of an uncompressed dump, e.g. ".sql".
	Extension() string
}

type DatabaseStats struct {
	Version     string
	TableCount  int
	RecordCount int64
}

// Inspector is implemented by engines that can report their contents.
type Inspector interface {
	Stats(ctx context.Context) (DatabaseStats, error)
	Tables(ctx context.Context) ([]string, error)
}

// IncrementalDumper writes and replays incremental marker artifacts: the
// window, the tables considered and, where the engine can tell, how many rows
// changed per table. Markers carry no row data.
type IncrementalDumper interface {
	DumpChanges(ctx context.Context, outputPath string, since, until time.Time, tables []string) error
	ApplyChanges(ctx context.Context, inputPath string) error
}
