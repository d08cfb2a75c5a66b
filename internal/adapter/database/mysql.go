package database

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/semmidev/restorepoint/internal/config"
	"github.com/semmidev/restorepoint/internal/domain"
)

type MySQLDatabase struct {
	config *config.DatabaseConfig
	runner Runner
}

func NewMySQL(cfg *config.DatabaseConfig, runner Runner) *MySQLDatabase {
	return &MySQLDatabase{config: cfg, runner: runner}
}

func (m *MySQLDatabase) GetName() string {
	return m.config.Database
}

func (m *MySQLDatabase) GetType() string {
	return "mysql"
}

func (m *MySQLDatabase) DumpTool() string {
	return toolOrDefault(m.config.DumpTool, "mysqldump")
}

func (m *MySQLDatabase) RestoreTool() string {
	return toolOrDefault(m.config.RestoreTool, "mysql")
}

// PingTool is the mysql client, which also serves the inspector queries.
func (m *MySQLDatabase) PingTool() string {
	return m.RestoreTool()
}

func (m *MySQLDatabase) Extension() string {
	return ".sql"
}

// env passes the password through MYSQL_PWD so it stays out of the process list.
func (m *MySQLDatabase) env() []string {
	return []string{fmt.Sprintf("MYSQL_PWD=%s", m.config.Password)}
}

func (m *MySQLDatabase) connArgs() []string {
	return []string{
		fmt.Sprintf("--host=%s", m.config.Host),
		fmt.Sprintf("--port=%d", m.config.Port),
		fmt.Sprintf("--user=%s", m.config.Username),
	}
}

func (m *MySQLDatabase) Dump(ctx context.Context, outputPath string) error {
	args := append(m.connArgs(),
		"--single-transaction",
		"--quick",
		"--lock-tables=false",
		"--routines",
		"--triggers",
		"--events",
		"--add-drop-table",
		fmt.Sprintf("--result-file=%s", outputPath),
		m.config.Database,
	)

	if err := m.runner.Run(ctx, m.DumpTool(), args, m.env()); err != nil {
		return fmt.Errorf("mysqldump failed: %w", err)
	}
	return nil
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (m *MySQLDatabase) Restore(ctx context.Context, inputPath string, dropExisting bool) error {
	if dropExisting {
		db := quoteIdent(m.config.Database)
		reset := fmt.Sprintf("DROP DATABASE IF EXISTS %s; CREATE DATABASE %s;", db, db)
		if err := m.runner.Run(ctx, m.RestoreTool(), append(m.connArgs(), "-e", reset), m.env()); err != nil {
			return fmt.Errorf("failed to reset database: %w", err)
		}
	}

	in, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("failed to open dump: %w", err)
	}
	defer in.Close()

	if err := m.runner.RunInput(ctx, m.RestoreTool(), append(m.connArgs(), m.config.Database), m.env(), in); err != nil {
		return fmt.Errorf("mysql restore failed: %w", err)
	}
	return nil
}

func (m *MySQLDatabase) query(ctx context.Context, statement string) ([]string, error) {
	args := append(m.connArgs(), "--batch", "--skip-column-names", "-e", statement)
	out, err := m.runner.RunOutput(ctx, m.RestoreTool(), args, m.env())
	if err != nil {
		return nil, err
	}

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func (m *MySQLDatabase) Ping(ctx context.Context) error {
	if _, err := m.query(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("mysql ping failed: %w", err)
	}
	return nil
}

func (m *MySQLDatabase) schemaLiteral() string {
	return "'" + strings.ReplaceAll(m.config.Database, "'", "''") + "'"
}

// Stats uses information_schema; the row count is the engine's estimate.
func (m *MySQLDatabase) Stats(ctx context.Context) (domain.DatabaseStats, error) {
	var stats domain.DatabaseStats

	lines, err := m.query(ctx, "SELECT VERSION()")
	if err != nil {
		return stats, fmt.Errorf("failed to query server version: %w", err)
	}
	if len(lines) > 0 {
		stats.Version = lines[0]
	}

	lines, err = m.query(ctx, fmt.Sprintf(
		"SELECT COUNT(*), COALESCE(SUM(table_rows), 0) FROM information_schema.tables WHERE table_schema = %s AND table_type = 'BASE TABLE'",
		m.schemaLiteral()))
	if err != nil {
		return stats, fmt.Errorf("failed to count tables: %w", err)
	}
	if len(lines) > 0 {
		fields := strings.Fields(lines[0])
		if len(fields) == 2 {
			stats.TableCount, _ = strconv.Atoi(fields[0])
			stats.RecordCount, _ = strconv.ParseInt(fields[1], 10, 64)
		}
	}

	return stats, nil
}

func (m *MySQLDatabase) Tables(ctx context.Context) ([]string, error) {
	lines, err := m.query(ctx, fmt.Sprintf(
		"SELECT table_name FROM information_schema.tables WHERE table_schema = %s AND table_type = 'BASE TABLE' ORDER BY table_name",
		m.schemaLiteral()))
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return lines, nil
}

// DumpChanges writes a marker without per-table counts.
func (m *MySQLDatabase) DumpChanges(ctx context.Context, outputPath string, since, until time.Time, tables []string) error {
	return writeMarker(outputPath, marker{
		Engine:   m.GetType(),
		Database: m.config.Database,
		Since:    since,
		Until:    until,
		Tables:   unknownChanges(tables),
		Trailer:  "SELECT 1;",
	})
}

func (m *MySQLDatabase) ApplyChanges(ctx context.Context, inputPath string) error {
	if err := checkMarker(inputPath); err != nil {
		return err
	}
	return m.Restore(ctx, inputPath, false)
}
