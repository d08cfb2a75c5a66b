package database

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/semmidev/restorepoint/internal/config"
	"github.com/semmidev/restorepoint/internal/domain"
)

// Runner executes the engine's command line tools.
type Runner interface {
	Run(ctx context.Context, name string, args []string, env []string) error
	RunOutput(ctx context.Context, name string, args []string, env []string) ([]byte, error)
	RunInput(ctx context.Context, name string, args []string, env []string, in io.Reader) error
}

// New builds the adapter for cfg.Type.
func New(cfg *config.DatabaseConfig, runner Runner) (domain.Database, error) {
	switch cfg.Type {
	case "postgresql":
		return NewPostgreSQL(cfg, runner), nil
	case "mysql":
		return NewMySQL(cfg, runner), nil
	case "mongodb":
		return NewMongoDB(cfg, runner), nil
	default:
		return nil, &domain.ConfigurationError{Field: "database.type", Reason: fmt.Sprintf("unsupported type %q", cfg.Type)}
	}
}

func toolOrDefault(override, def string) string {
	if override != "" {
		return override
	}
	return def
}

const markerTitle = "-- restorepoint incremental marker"

// tableChange is one line of an incremental marker. Changed is -1 when the
// engine could not count rows for the table.
type tableChange struct {
	Table   string
	Changed int64
}

type marker struct {
	Engine   string
	Database string
	Since    time.Time
	Until    time.Time
	Tables   []tableChange
	// Trailer is appended verbatim so the restore tool accepts the file.
	Trailer string
}

func writeMarker(path string, m marker) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create marker: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, markerTitle)
	fmt.Fprintf(w, "-- engine: %s\n", m.Engine)
	fmt.Fprintf(w, "-- database: %s\n", m.Database)
	fmt.Fprintf(w, "-- since: %s\n", m.Since.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "-- until: %s\n", m.Until.UTC().Format(time.RFC3339))
	for _, t := range m.Tables {
		if t.Changed < 0 {
			fmt.Fprintf(w, "-- table: %s changed_rows=unknown\n", t.Table)
			continue
		}
		fmt.Fprintf(w, "-- table: %s changed_rows=%d\n", t.Table, t.Changed)
	}
	if m.Trailer != "" {
		fmt.Fprintln(w, m.Trailer)
	}

	return w.Flush()
}

// checkMarker confirms path starts with the marker title line.
func checkMarker(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open marker: %w", err)
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to read marker: %w", err)
	}
	if strings.TrimSpace(line) != markerTitle {
		return fmt.Errorf("%s is not an incremental marker", path)
	}
	return nil
}

func unknownChanges(tables []string) []tableChange {
	changes := make([]tableChange, 0, len(tables))
	for _, t := range tables {
		changes = append(changes, tableChange{Table: t, Changed: -1})
	}
	return changes
}
