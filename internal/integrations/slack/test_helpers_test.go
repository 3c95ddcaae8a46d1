package slackbot

import (
	"database/sql"
	"path/filepath"
	"testing"

	"monitorai/internal/rubric"
	sqlitedb "monitorai/internal/storage/sqlite"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sqlitedb.InitDB(dbPath)
	if err != nil {
		t.Fatalf("init test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestCatalog(t *testing.T) *rubric.Catalog {
	t.Helper()
	c, err := rubric.LoadCatalog("", rubric.DefaultID)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return c
}
