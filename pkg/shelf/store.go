package shelf

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hyperengineering/shelfsync/migrations"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Durable store keys.
const (
	KeyBooks      = "offline_books"
	KeyOperations = "offline_operations"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the durable store: the last known book snapshot and the queue of
// pending operations, persisted as JSON values in a local SQLite file.
//
// All methods are safe for concurrent use. Compound read-modify-write
// operations hold the store lock for their whole duration, so writes are
// applied in call order.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	mu            sync.Mutex
	lastTimestamp int64
	lastTempID    int64
}

// NewStore opens (creating if needed) the durable store at dbPath and applies
// the client migrations.
func NewStore(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// Single writer; also keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if err := migrateStore(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}

	// Resume the monotonic timestamp sequence from the persisted queue.
	ops, err := s.loadOperations(context.Background(), db)
	if err != nil {
		db.Close()
		return nil, err
	}
	for _, op := range ops {
		if op.Timestamp > s.lastTimestamp {
			s.lastTimestamp = op.Timestamp
		}
	}

	return s, nil
}

func migrateStore(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations.FS, migrations.ClientDir)
	if err != nil {
		return fmt.Errorf("client migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Flush checkpoints the write-ahead log into the main database file.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("flush store: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveBooks replaces the cached book snapshot.
func (s *Store) SaveBooks(ctx context.Context, books []Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveBooks(ctx, s.db, books)
}

// GetBooks returns the cached book snapshot. A missing or unreadable
// snapshot reads as empty.
func (s *Store) GetBooks(ctx context.Context) ([]Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadBooks(ctx, s.db)
}

func (s *Store) saveBooks(ctx context.Context, q querier, books []Book) error {
	if books == nil {
		books = []Book{}
	}
	return s.put(ctx, q, KeyBooks, books)
}

func (s *Store) loadBooks(ctx context.Context, q querier) ([]Book, error) {
	books := []Book{}
	found, err := s.get(ctx, q, KeyBooks, &books)
	if err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			s.logger.Warn("offline book snapshot unreadable, using empty snapshot",
				"component", "store",
				"error", err,
			)
			return []Book{}, nil
		}
		return nil, err
	}
	if !found {
		return []Book{}, nil
	}
	return books, nil
}

func (s *Store) get(ctx context.Context, q querier, key string, dst any) (bool, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(value), dst); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) put(ctx context.Context, q querier, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, string(data), s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// inTx runs fn inside a transaction. The caller must hold s.mu.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
