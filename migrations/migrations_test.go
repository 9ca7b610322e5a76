package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "migrations.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestApplyCreatesChatLogsTable(t *testing.T) {
	db := openTestDB(t)

	if err := Apply(context.Background(), db, DriverSQLite); err != nil {
		t.Fatalf("apply: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'chat_logs'`).Scan(&count); err != nil {
		t.Fatalf("check table: %v", err)
	}
	if count != 1 {
		t.Fatalf("chat_logs tables=%d, want %d", count, 1)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	for i := 0; i < 3; i++ {
		if err := Apply(context.Background(), db, DriverSQLite); err != nil {
			t.Fatalf("apply run %d: %v", i+1, err)
		}
	}

	var applied int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied); err != nil {
		t.Fatalf("count applied: %v", err)
	}
	if applied != 1 {
		t.Fatalf("applied migrations=%d, want %d", applied, 1)
	}
}

func TestApplyRejectsUnknownDriver(t *testing.T) {
	db := openTestDB(t)

	if err := Apply(context.Background(), db, "mysql"); err == nil {
		t.Fatal("apply accepted unknown driver")
	}
}
