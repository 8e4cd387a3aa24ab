package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

const repoMigrations = "../../db/migrations"

func TestRepoMigrationsArePaired(t *testing.T) {
	ups, err := upMigrations(repoMigrations)
	if err != nil {
		t.Fatalf("upMigrations: %v", err)
	}
	if len(ups) == 0 {
		t.Fatal("no migrations discovered")
	}
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := os.Stat(down); err != nil {
			t.Fatalf("%s has no down migration: %v", filepath.Base(up), err)
		}
	}
}

func TestRepoMigrationsCreatePublishTables(t *testing.T) {
	ups, err := upMigrations(repoMigrations)
	if err != nil {
		t.Fatalf("upMigrations: %v", err)
	}
	var all strings.Builder
	for _, up := range ups {
		b, err := os.ReadFile(up)
		if err != nil {
			t.Fatalf("read %s: %v", up, err)
		}
		all.Write(b)
	}
	for _, table := range []string{"pages", "page_meta", "idempotency_keys", "page_versions", "scheduled_publishes"} {
		if !strings.Contains(all.String(), "CREATE TABLE IF NOT EXISTS "+table+" ") {
			t.Fatalf("no migration creates %s", table)
		}
	}
}

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestApplyMigrationsSkipsRecordedVersions(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"0001_a.up.sql":   "CREATE TABLE a (id INT);",
		"0001_a.down.sql": "DROP TABLE a;",
		"0002_b.up.sql":   "CREATE TABLE b (id INT);",
		"notes.txt":       "ignored",
	})
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("0001_a.up.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("0002_b.up.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("0002_b.up.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := ApplyMigrations(context.Background(), db, dir)
	if err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}
	if len(applied) != 1 || applied[0] != "0002_b.up.sql" {
		t.Fatalf("applied = %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPendingMigrationsDoesNotExecute(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"0001_a.up.sql": "CREATE TABLE a (id INT);",
		"0002_b.up.sql": "CREATE TABLE b (id INT);",
	})
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("0001_a.up.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("0002_b.up.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	pending, err := PendingMigrations(context.Background(), db, dir)
	if err != nil {
		t.Fatalf("PendingMigrations() error = %v", err)
	}
	if len(pending) != 2 || pending[0] != "0001_a.up.sql" {
		t.Fatalf("pending = %v", pending)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyMigrationsMissingDir(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))

	if _, err := ApplyMigrations(context.Background(), db, filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing migrations dir")
	}
}
