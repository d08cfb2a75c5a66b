package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/semmidev/restorepoint/internal/config"
	"github.com/semmidev/restorepoint/internal/domain"
)

type PostgreSQLDatabase struct {
	config *config.DatabaseConfig
	runner Runner

	mu sync.Mutex
	db *sql.DB
}

func NewPostgreSQL(cfg *config.DatabaseConfig, runner Runner) *PostgreSQLDatabase {
	return &PostgreSQLDatabase{config: cfg, runner: runner}
}

func (p *PostgreSQLDatabase) GetName() string {
	return p.config.Database
}

func (p *PostgreSQLDatabase) GetType() string {
	return "postgresql"
}

func (p *PostgreSQLDatabase) DumpTool() string {
	return toolOrDefault(p.config.DumpTool, "pg_dump")
}

func (p *PostgreSQLDatabase) RestoreTool() string {
	return toolOrDefault(p.config.RestoreTool, "psql")
}

func (p *PostgreSQLDatabase) PingTool() string {
	return ""
}

func (p *PostgreSQLDatabase) Extension() string {
	return ".sql"
}

func (p *PostgreSQLDatabase) schema() string {
	if p.config.Schema != "" {
		return p.config.Schema
	}
	return "public"
}

func (p *PostgreSQLDatabase) env() []string {
	env := []string{fmt.Sprintf("PGPASSWORD=%s", p.config.Password)}
	if p.config.SSLMode != "" {
		env = append(env, fmt.Sprintf("PGSSLMODE=%s", p.config.SSLMode))
	}
	return env
}

func (p *PostgreSQLDatabase) connArgs() []string {
	return []string{
		fmt.Sprintf("--host=%s", p.config.Host),
		fmt.Sprintf("--port=%d", p.config.Port),
		fmt.Sprintf("--username=%s", p.config.Username),
	}
}

// Dump writes a plain SQL dump so the restore tool can replay it directly.
func (p *PostgreSQLDatabase) Dump(ctx context.Context, outputPath string) error {
	args := append(p.connArgs(),
		"--format=plain",
		"--no-owner",
		"--no-privileges",
		fmt.Sprintf("--file=%s", outputPath),
		p.config.Database,
	)

	if err := p.runner.Run(ctx, p.DumpTool(), args, p.env()); err != nil {
		return fmt.Errorf("pg_dump failed: %w", err)
	}
	return nil
}

// Restore replays inputPath through psql. With dropExisting the schema is
// dropped and recreated first.
func (p *PostgreSQLDatabase) Restore(ctx context.Context, inputPath string, dropExisting bool) error {
	if dropExisting {
		schema := pq.QuoteIdentifier(p.schema())
		reset := fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE; CREATE SCHEMA %s;", schema, schema)
		args := append(p.connArgs(), fmt.Sprintf("--dbname=%s", p.config.Database), "--command", reset)
		if err := p.runner.Run(ctx, p.RestoreTool(), args, p.env()); err != nil {
			return fmt.Errorf("failed to reset schema: %w", err)
		}
	}

	args := append(p.connArgs(),
		fmt.Sprintf("--dbname=%s", p.config.Database),
		"--set", "ON_ERROR_STOP=1",
		"--quiet",
		fmt.Sprintf("--file=%s", inputPath),
	)
	if err := p.runner.Run(ctx, p.RestoreTool(), args, p.env()); err != nil {
		return fmt.Errorf("psql restore failed: %w", err)
	}
	return nil
}

func (p *PostgreSQLDatabase) dsn() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.config.Username, p.config.Password),
		Host:   p.config.Host + ":" + strconv.Itoa(p.config.Port),
		Path:   "/" + p.config.Database,
	}
	q := url.Values{}
	sslMode := p.config.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	q.Set("sslmode", sslMode)
	q.Set("connect_timeout", "10")
	u.RawQuery = q.Encode()
	return u.String()
}

func (p *PostgreSQLDatabase) conn() (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db != nil {
		return p.db, nil
	}

	connector, err := pq.NewConnector(p.dsn())
	if err != nil {
		return nil, fmt.Errorf("invalid postgresql connection settings: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(2)
	db.SetConnMaxIdleTime(time.Minute)
	p.db = db
	return db, nil
}

func (p *PostgreSQLDatabase) Ping(ctx context.Context) error {
	db, err := p.conn()
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgresql ping failed: %w", err)
	}
	return nil
}

func (p *PostgreSQLDatabase) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

// Stats reports the server version, the number of base tables in the
// configured schema and the planner's live row estimate for them.
func (p *PostgreSQLDatabase) Stats(ctx context.Context) (domain.DatabaseStats, error) {
	var stats domain.DatabaseStats

	db, err := p.conn()
	if err != nil {
		return stats, err
	}

	if err := db.QueryRowContext(ctx, "SHOW server_version").Scan(&stats.Version); err != nil {
		return stats, fmt.Errorf("failed to query server version: %w", err)
	}

	const tableCountQuery = `SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'`
	if err := db.QueryRowContext(ctx, tableCountQuery, p.schema()).Scan(&stats.TableCount); err != nil {
		return stats, fmt.Errorf("failed to count tables: %w", err)
	}

	const rowCountQuery = `SELECT COALESCE(SUM(n_live_tup), 0) FROM pg_stat_user_tables WHERE schemaname = $1`
	if err := db.QueryRowContext(ctx, rowCountQuery, p.schema()).Scan(&stats.RecordCount); err != nil {
		return stats, fmt.Errorf("failed to count records: %w", err)
	}

	return stats, nil
}

func (p *PostgreSQLDatabase) Tables(ctx context.Context) ([]string, error) {
	db, err := p.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT table_name FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE' ORDER BY table_name`, p.schema())
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// DumpChanges writes a marker with the number of rows whose change column
// falls in [since, until) for every table that has that column.
func (p *PostgreSQLDatabase) DumpChanges(ctx context.Context, outputPath string, since, until time.Time, tables []string) error {
	db, err := p.conn()
	if err != nil {
		return err
	}

	changes := make([]tableChange, 0, len(tables))
	for _, table := range tables {
		changed, err := p.countChanges(ctx, db, table, since, until)
		if err != nil {
			return err
		}
		changes = append(changes, tableChange{Table: table, Changed: changed})
	}

	return writeMarker(outputPath, marker{
		Engine:   p.GetType(),
		Database: p.config.Database,
		Since:    since,
		Until:    until,
		Tables:   changes,
		Trailer:  "SELECT 1;",
	})
}

func (p *PostgreSQLDatabase) countChanges(ctx context.Context, db *sql.DB, table string, since, until time.Time) (int64, error) {
	column := p.config.ChangeColumn
	if column == "" {
		return -1, nil
	}

	var hasColumn bool
	const columnQuery = `SELECT EXISTS (SELECT 1 FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2 AND column_name = $3)`
	if err := db.QueryRowContext(ctx, columnQuery, p.schema(), table, column).Scan(&hasColumn); err != nil {
		return 0, fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	if !hasColumn {
		return -1, nil
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s WHERE %s >= $1 AND %s < $2",
		pq.QuoteIdentifier(p.schema()), pq.QuoteIdentifier(table),
		pq.QuoteIdentifier(column), pq.QuoteIdentifier(column))

	var changed int64
	if err := db.QueryRowContext(ctx, query, since, until).Scan(&changed); err != nil {
		return 0, fmt.Errorf("failed to count changes in %s: %w", table, err)
	}
	return changed, nil
}

// ApplyChanges replays the marker through psql; it carries no row data.
func (p *PostgreSQLDatabase) ApplyChanges(ctx context.Context, inputPath string) error {
	if err := checkMarker(inputPath); err != nil {
		return err
	}
	return p.Restore(ctx, inputPath, false)
}
