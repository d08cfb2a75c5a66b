package database

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/restorepoint/internal/config"
	"github.com/semmidev/restorepoint/internal/domain"
)

type call struct {
	name  string
	args  []string
	env   []string
	stdin string
}

type fakeRunner struct {
	calls  []call
	output []byte
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args []string, env []string) error {
	f.calls = append(f.calls, call{name: name, args: args, env: env})
	return f.err
}

func (f *fakeRunner) RunOutput(ctx context.Context, name string, args []string, env []string) ([]byte, error) {
	f.calls = append(f.calls, call{name: name, args: args, env: env})
	return f.output, f.err
}

func (f *fakeRunner) RunInput(ctx context.Context, name string, args []string, env []string, in io.Reader) error {
	data, _ := io.ReadAll(in)
	f.calls = append(f.calls, call{name: name, args: args, env: env, stdin: string(data)})
	return f.err
}

func joined(c call) string {
	return c.name + " " + strings.Join(c.args, " ")
}

func TestNew(t *testing.T) {
	Convey("Given database configs", t, func() {
		runner := &fakeRunner{}

		Convey("It should build the adapter for each supported type", func() {
			for typ, tool := range map[string]string{"postgresql": "pg_dump", "mysql": "mysqldump", "mongodb": "mongodump"} {
				db, err := New(&config.DatabaseConfig{Type: typ}, runner)
				So(err, ShouldBeNil)
				So(db.GetType(), ShouldEqual, typ)
				So(db.DumpTool(), ShouldEqual, tool)
			}
		})

		Convey("It should honour tool overrides", func() {
			db, err := New(&config.DatabaseConfig{Type: "postgresql", DumpTool: "/opt/pg16/bin/pg_dump"}, runner)
			So(err, ShouldBeNil)
			So(db.DumpTool(), ShouldEqual, "/opt/pg16/bin/pg_dump")
			So(db.RestoreTool(), ShouldEqual, "psql")
		})

		Convey("It should reject unknown types with a ConfigurationError", func() {
			_, err := New(&config.DatabaseConfig{Type: "oracle"}, runner)
			var cfgErr *domain.ConfigurationError
			So(errors.As(err, &cfgErr), ShouldBeTrue)
		})
	})
}

func TestPostgreSQL(t *testing.T) {
	Convey("Given a PostgreSQL adapter", t, func() {
		runner := &fakeRunner{}
		cfg := &config.DatabaseConfig{
			Type: "postgresql", Host: "db", Port: 5432, Username: "shop",
			Password: "p@ss word", Database: "shop", SSLMode: "require", Schema: "public",
		}
		pg := NewPostgreSQL(cfg, runner)
		ctx := context.Background()

		Convey("Dump should run pg_dump in plain format with the password in env", func() {
			So(pg.Dump(ctx, "/backups/database/b.sql"), ShouldBeNil)
			So(len(runner.calls), ShouldEqual, 1)
			c := runner.calls[0]
			So(c.name, ShouldEqual, "pg_dump")
			So(c.args, ShouldContain, "--format=plain")
			So(c.args, ShouldContain, "--file=/backups/database/b.sql")
			So(c.args[len(c.args)-1], ShouldEqual, "shop")
			So(c.env, ShouldContain, "PGPASSWORD=p@ss word")
			So(c.env, ShouldContain, "PGSSLMODE=require")
		})

		Convey("Restore with drop should reset the schema before replaying", func() {
			So(pg.Restore(ctx, "/tmp/b.sql", true), ShouldBeNil)
			So(len(runner.calls), ShouldEqual, 2)
			So(joined(runner.calls[0]), ShouldContainSubstring, `DROP SCHEMA IF EXISTS "public" CASCADE; CREATE SCHEMA "public";`)
			So(runner.calls[1].args, ShouldContain, "--file=/tmp/b.sql")
			So(runner.calls[1].args, ShouldContain, "ON_ERROR_STOP=1")
		})

		Convey("Restore without drop should only replay", func() {
			So(pg.Restore(ctx, "/tmp/b.sql", false), ShouldBeNil)
			So(len(runner.calls), ShouldEqual, 1)
			So(joined(runner.calls[0]), ShouldNotContainSubstring, "DROP SCHEMA")
		})

		Convey("A failing tool should surface the command error", func() {
			runner.err = &domain.CommandError{Command: "pg_dump", ExitCode: 1, Stderr: "role does not exist"}
			err := pg.Dump(ctx, "/tmp/b.sql")
			var cmdErr *domain.CommandError
			So(errors.As(err, &cmdErr), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "role does not exist")
		})

		Convey("The DSN should escape credentials", func() {
			dsn := pg.dsn()
			So(dsn, ShouldStartWith, "postgres://shop:p%40ss%20word@db:5432/shop?")
			So(dsn, ShouldContainSubstring, "sslmode=require")
		})

		Convey("ApplyChanges should refuse files that are not markers", func() {
			path := filepath.Join(t.TempDir(), "full.sql")
			So(os.WriteFile(path, []byte("CREATE TABLE x();\n"), 0644), ShouldBeNil)
			So(pg.ApplyChanges(ctx, path), ShouldNotBeNil)
			So(runner.calls, ShouldBeEmpty)
		})
	})
}

func TestMySQL(t *testing.T) {
	Convey("Given a MySQL adapter", t, func() {
		runner := &fakeRunner{}
		cfg := &config.DatabaseConfig{Type: "mysql", Host: "db", Port: 3306, Username: "root", Password: "secret", Database: "shop"}
		my := NewMySQL(cfg, runner)
		ctx := context.Background()

		Convey("Dump should keep the password out of argv", func() {
			So(my.Dump(ctx, "/tmp/b.sql"), ShouldBeNil)
			c := runner.calls[0]
			So(c.name, ShouldEqual, "mysqldump")
			So(joined(c), ShouldNotContainSubstring, "secret")
			So(c.env, ShouldContain, "MYSQL_PWD=secret")
			So(c.args, ShouldContain, "--add-drop-table")
		})

		Convey("Restore should stream the dump on stdin", func() {
			path := filepath.Join(t.TempDir(), "b.sql")
			So(os.WriteFile(path, []byte("INSERT INTO t VALUES (1);"), 0644), ShouldBeNil)

			So(my.Restore(ctx, path, true), ShouldBeNil)
			So(len(runner.calls), ShouldEqual, 2)
			So(joined(runner.calls[0]), ShouldContainSubstring, "DROP DATABASE IF EXISTS `shop`")
			So(runner.calls[1].stdin, ShouldEqual, "INSERT INTO t VALUES (1);")
		})

		Convey("Stats should parse batch output", func() {
			runner.output = []byte("8.0.36\n")
			stats, err := my.Stats(ctx)
			So(err, ShouldBeNil)
			So(stats.Version, ShouldEqual, "8.0.36")
		})

		Convey("Tables should return one name per line", func() {
			runner.output = []byte("orders\nusers\n")
			tables, err := my.Tables(ctx)
			So(err, ShouldBeNil)
			So(tables, ShouldResemble, []string{"orders", "users"})
		})
	})
}

func TestMongoDB(t *testing.T) {
	Convey("Given a MongoDB adapter", t, func() {
		runner := &fakeRunner{}
		cfg := &config.DatabaseConfig{Type: "mongodb", Host: "mongo", Port: 27017, Username: "app", Password: "pw", Database: "shop", AuthDatabase: "admin"}
		mg := NewMongoDB(cfg, runner)
		ctx := context.Background()

		Convey("The URI should include the auth source", func() {
			So(mg.uri(), ShouldEqual, "mongodb://app:pw@mongo:27017/shop?authSource=admin")
		})

		Convey("Restore should pass --drop only when asked", func() {
			So(mg.Restore(ctx, "/tmp/b.archive", true), ShouldBeNil)
			So(runner.calls[0].args, ShouldContain, "--drop")

			So(mg.Restore(ctx, "/tmp/b.archive", false), ShouldBeNil)
			So(runner.calls[1].args, ShouldNotContain, "--drop")
		})

		Convey("Incremental markers should validate without running tools", func() {
			path := filepath.Join(t.TempDir(), "inc.archive")
			since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			So(mg.DumpChanges(ctx, path, since, since.Add(time.Hour), []string{"orders"}), ShouldBeNil)
			So(mg.ApplyChanges(ctx, path), ShouldBeNil)
			So(runner.calls, ShouldBeEmpty)
		})
	})
}

func TestMarker(t *testing.T) {
	Convey("Given an incremental marker", t, func() {
		path := filepath.Join(t.TempDir(), "inc.sql")
		since := time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)

		err := writeMarker(path, marker{
			Engine:   "postgresql",
			Database: "shop",
			Since:    since,
			Until:    since.Add(24 * time.Hour),
			Tables:   []tableChange{{Table: "orders", Changed: 12}, {Table: "tags", Changed: -1}},
			Trailer:  "SELECT 1;",
		})
		So(err, ShouldBeNil)

		content, err := os.ReadFile(path)
		So(err, ShouldBeNil)
		text := string(content)

		Convey("It should record the window and per-table counts", func() {
			So(text, ShouldStartWith, markerTitle+"\n")
			So(text, ShouldContainSubstring, "-- since: 2024-01-01T02:00:00Z")
			So(text, ShouldContainSubstring, "-- until: 2024-01-02T02:00:00Z")
			So(text, ShouldContainSubstring, "-- table: orders changed_rows=12")
			So(text, ShouldContainSubstring, "-- table: tags changed_rows=unknown")
			So(text, ShouldEndWith, "SELECT 1;\n")
		})

		Convey("checkMarker should accept it", func() {
			So(checkMarker(path), ShouldBeNil)
		})
	})
}
