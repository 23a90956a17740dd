package store

import (
	"context"

	"github.com/hyperengineering/shelfsync/internal/types"
)

// Store defines the interface contract for all book storage operations.
type Store interface {
	ListBooks(ctx context.Context, q types.ListQuery) ([]types.Book, int, error)
	AllBooks(ctx context.Context) ([]types.Book, error)
	GetBook(ctx context.Context, id int64) (*types.Book, error)
	CreateBook(ctx context.Context, in types.BookInput) (*types.Book, error)
	UpdateBook(ctx context.Context, id int64, in types.BookInput) (*types.Book, error)
	DeleteBook(ctx context.Context, id int64) error
	GetStats(ctx context.Context) (*types.StoreStats, error)
	Close() error
}
