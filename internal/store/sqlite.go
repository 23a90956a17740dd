package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/hyperengineering/shelfsync/internal/types"
	_ "modernc.org/sqlite"
)

var bookColumns = []string{"id", "title", "author", "genre", "price", "rating", "created_at", "updated_at"}

// sortColumns maps accepted sort fields to ORDER BY expressions.
var sortColumns = map[string]string{
	"id":     "id",
	"title":  "title COLLATE NOCASE",
	"author": "author COLLATE NOCASE",
	"genre":  "genre COLLATE NOCASE",
	"price":  "price",
	"rating": "rating",
}

// filterColumns are the columns a filter may target.
var filterColumns = []string{"title", "author", "genre"}

// SQLiteStore represents the SQLite-backed book database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Pragmas apply per connection and SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for maintenance tasks.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// ListBooks returns one page of books matching q and the total number of
// matching books.
func (s *SQLiteStore) ListBooks(ctx context.Context, q types.ListQuery) ([]types.Book, int, error) {
	where := filterClause(q.Filter)
	orderBy, err := orderClause(q.Sort)
	if err != nil {
		return nil, 0, err
	}

	countQuery := sq.Select("COUNT(*)").From("books")
	if where != nil {
		countQuery = countQuery.Where(where)
	}
	countSQL, countArgs, err := countQuery.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := s.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count books: %w", err)
	}

	query := sq.Select(bookColumns...).From("books").OrderBy(orderBy...)
	if where != nil {
		query = query.Where(where)
	}
	if q.Limit > 0 {
		query = query.Limit(uint64(q.Limit)).Offset(uint64(q.Offset()))
	}

	books, err := s.queryBooks(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	return books, total, nil
}

// AllBooks returns the whole catalog ordered by ID.
func (s *SQLiteStore) AllBooks(ctx context.Context) ([]types.Book, error) {
	return s.queryBooks(ctx, sq.Select(bookColumns...).From("books").OrderBy("id"))
}

// GetBook retrieves a book by ID.
func (s *SQLiteStore) GetBook(ctx context.Context, id int64) (*types.Book, error) {
	query, args, err := sq.Select(bookColumns...).From("books").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	book, err := scanBook(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan row: %w", err)
	}
	return book, nil
}

// CreateBook inserts a book and returns it with its assigned ID.
func (s *SQLiteStore) CreateBook(ctx context.Context, in types.BookInput) (*types.Book, error) {
	now := s.now().UTC().Format(time.RFC3339Nano)

	query, args, err := sq.Insert("books").
		Columns("title", "author", "genre", "price", "rating", "created_at", "updated_at").
		Values(in.Title, in.Author, in.Genre, in.Price, in.Rating, now, now).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("insert book: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get inserted id: %w", err)
	}
	return s.GetBook(ctx, id)
}

// UpdateBook replaces the attributes of a book.
func (s *SQLiteStore) UpdateBook(ctx context.Context, id int64, in types.BookInput) (*types.Book, error) {
	query, args, err := sq.Update("books").
		SetMap(map[string]any{
			"title":      in.Title,
			"author":     in.Author,
			"genre":      in.Genre,
			"price":      in.Price,
			"rating":     in.Rating,
			"updated_at": s.now().UTC().Format(time.RFC3339Nano),
		}).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build update: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update book: %w", err)
	}
	if err := expectOneRow(result); err != nil {
		return nil, err
	}
	return s.GetBook(ctx, id)
}

// DeleteBook removes a book.
func (s *SQLiteStore) DeleteBook(ctx context.Context, id int64) error {
	query, args, err := sq.Delete("books").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	return expectOneRow(result)
}

// GetStats returns aggregate store statistics
func (s *SQLiteStore) GetStats(ctx context.Context) (*types.StoreStats, error) {
	var count int64
	var lastUpdated sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*), MAX(updated_at) FROM books").Scan(&count, &lastUpdated)
	if err != nil {
		return nil, err
	}

	stats := &types.StoreStats{BookCount: count}
	if lastUpdated.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastUpdated.String); err == nil {
			stats.LastUpdated = &t
		}
	}
	return stats, nil
}

func (s *SQLiteStore) queryBooks(ctx context.Context, b sq.SelectBuilder) ([]types.Book, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query books: %w", err)
	}
	defer rows.Close()

	books := []types.Book{}
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		books = append(books, *book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return books, nil
}

// scanBook scans a row into a Book, parsing the stored timestamps.
func scanBook(scanner interface{ Scan(...any) error }) (*types.Book, error) {
	var book types.Book
	var createdAt, updatedAt string

	err := scanner.Scan(
		&book.ID,
		&book.Title,
		&book.Author,
		&book.Genre,
		&book.Price,
		&book.Rating,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		book.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		book.UpdatedAt = t
	}
	return &book, nil
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// filterClause turns a filter into a case-insensitive substring match over
// title, author and genre, or over a single column for "field:value".
func filterClause(filter string) sq.Sqlizer {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return nil
	}

	columns := filterColumns
	value := filter
	if field, v, ok := strings.Cut(filter, ":"); ok {
		for _, c := range filterColumns {
			if strings.EqualFold(field, c) {
				columns = []string{c}
				value = v
				break
			}
		}
	}
	value = strings.ToLower(value)

	or := sq.Or{}
	for _, c := range columns {
		or = append(or, sq.Expr("instr(LOWER("+c+"), ?) > 0", value))
	}
	return or
}

// orderClause resolves "field[:asc|desc]" against the sort allow-list. Ties
// and an empty sort order by ID ascending.
func orderClause(sort string) ([]string, error) {
	sort = strings.TrimSpace(sort)
	if sort == "" {
		return []string{"id ASC"}, nil
	}

	field, dir, _ := strings.Cut(sort, ":")
	column, ok := sortColumns[strings.ToLower(field)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown sort field %q", ErrInvalidQuery, field)
	}

	direction := "ASC"
	switch strings.ToLower(dir) {
	case "", "asc":
	case "desc":
		direction = "DESC"
	default:
		return nil, fmt.Errorf("%w: unknown sort direction %q", ErrInvalidQuery, dir)
	}

	if column == "id" {
		return []string{"id " + direction}, nil
	}
	return []string{column + " " + direction, "id ASC"}, nil
}
