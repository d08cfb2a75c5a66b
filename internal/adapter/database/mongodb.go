package database

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/semmidev/restorepoint/internal/config"
)

type MongoDBDatabase struct {
	config *config.DatabaseConfig
	runner Runner
}

func NewMongoDB(cfg *config.DatabaseConfig, runner Runner) *MongoDBDatabase {
	return &MongoDBDatabase{config: cfg, runner: runner}
}

func (m *MongoDBDatabase) GetName() string {
	return m.config.Database
}

func (m *MongoDBDatabase) GetType() string {
	return "mongodb"
}

func (m *MongoDBDatabase) DumpTool() string {
	return toolOrDefault(m.config.DumpTool, "mongodump")
}

func (m *MongoDBDatabase) RestoreTool() string {
	return toolOrDefault(m.config.RestoreTool, "mongorestore")
}

func (m *MongoDBDatabase) PingTool() string {
	return "mongosh"
}

func (m *MongoDBDatabase) Extension() string {
	return ".archive"
}

func (m *MongoDBDatabase) uri() string {
	u := url.URL{
		Scheme: "mongodb",
		Host:   m.config.Host + ":" + strconv.Itoa(m.config.Port),
		Path:   "/" + m.config.Database,
	}
	if m.config.Username != "" {
		u.User = url.UserPassword(m.config.Username, m.config.Password)
	}
	if m.config.AuthDatabase != "" {
		u.RawQuery = url.Values{"authSource": {m.config.AuthDatabase}}.Encode()
	}
	return u.String()
}

func (m *MongoDBDatabase) Dump(ctx context.Context, outputPath string) error {
	args := []string{
		fmt.Sprintf("--uri=%s", m.uri()),
		fmt.Sprintf("--archive=%s", outputPath),
		"--gzip",
	}

	if err := m.runner.Run(ctx, m.DumpTool(), args, nil); err != nil {
		return fmt.Errorf("mongodump failed: %w", err)
	}
	return nil
}

func (m *MongoDBDatabase) Restore(ctx context.Context, inputPath string, dropExisting bool) error {
	args := []string{
		fmt.Sprintf("--uri=%s", m.uri()),
		fmt.Sprintf("--archive=%s", inputPath),
		"--gzip",
	}
	if dropExisting {
		args = append(args, "--drop")
	}

	if err := m.runner.Run(ctx, m.RestoreTool(), args, nil); err != nil {
		return fmt.Errorf("mongorestore failed: %w", err)
	}
	return nil
}

func (m *MongoDBDatabase) Ping(ctx context.Context) error {
	if err := m.runner.Run(ctx, m.PingTool(), []string{m.uri(), "--quiet", "--eval", "db.runCommand({ ping: 1 })"}, nil); err != nil {
		return fmt.Errorf("mongodb ping failed: %w", err)
	}
	return nil
}

func (m *MongoDBDatabase) DumpChanges(ctx context.Context, outputPath string, since, until time.Time, collections []string) error {
	return writeMarker(outputPath, marker{
		Engine:   m.GetType(),
		Database: m.config.Database,
		Since:    since,
		Until:    until,
		Tables:   unknownChanges(collections),
	})
}

// ApplyChanges only validates the marker; mongorestore cannot replay it.
func (m *MongoDBDatabase) ApplyChanges(ctx context.Context, inputPath string) error {
	return checkMarker(inputPath)
}
