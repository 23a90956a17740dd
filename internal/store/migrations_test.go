package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openRawDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunMigrations_FreshDatabase(t *testing.T) {
	// Given: A fresh database with no tables
	db := openRawDB(t)
	ctx := context.Background()

	// When: RunMigrations is called
	require.NoError(t, RunMigrations(ctx, db))

	// Then: The books table exists with all required columns
	_, err := db.Exec(`SELECT id, title, author, genre, price, rating, created_at, updated_at FROM books LIMIT 0`)
	require.NoError(t, err, "books missing required columns")

	version, err := SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)
}

func TestRunMigrations_Idempotent(t *testing.T) {
	// Given: A database that has already been migrated and holds a book
	db := openRawDB(t)
	ctx := context.Background()
	require.NoError(t, RunMigrations(ctx, db))
	_, err := db.Exec(`INSERT INTO books (title, author, genre, price, rating, created_at, updated_at)
		VALUES ('Dune', 'Frank Herbert', 'Sci-Fi', 9.99, 5, '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`)
	require.NoError(t, err)

	// When: RunMigrations is called again
	require.NoError(t, RunMigrations(ctx, db))

	// Then: Existing data is preserved
	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM books`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRunMigrations_ConstraintsEnforced(t *testing.T) {
	db := openRawDB(t)
	require.NoError(t, RunMigrations(context.Background(), db))

	tests := []struct {
		name  string
		query string
	}{
		{"negative price", `INSERT INTO books (title, author, genre, price, rating, created_at, updated_at) VALUES ('a','b','c',-1,3,'t','t')`},
		{"rating too low", `INSERT INTO books (title, author, genre, price, rating, created_at, updated_at) VALUES ('a','b','c',1,0,'t','t')`},
		{"missing title", `INSERT INTO books (author, genre, price, rating, created_at, updated_at) VALUES ('b','c',1,3,'t','t')`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.Exec(tt.query)
			assert.Error(t, err, "expected constraint violation")
		})
	}
}
