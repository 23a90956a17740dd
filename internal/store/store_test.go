package store

import (
	"context"

	"github.com/hyperengineering/shelfsync/internal/types"
)

// mockStore is a compile-time check that the Store interface can be implemented.
type mockStore struct{}

var _ Store = (*mockStore)(nil)
var _ Store = (*SQLiteStore)(nil)

func (m *mockStore) ListBooks(ctx context.Context, q types.ListQuery) ([]types.Book, int, error) {
	return nil, 0, nil
}
func (m *mockStore) AllBooks(ctx context.Context) ([]types.Book, error) {
	return nil, nil
}
func (m *mockStore) GetBook(ctx context.Context, id int64) (*types.Book, error) {
	return nil, nil
}
func (m *mockStore) CreateBook(ctx context.Context, in types.BookInput) (*types.Book, error) {
	return nil, nil
}
func (m *mockStore) UpdateBook(ctx context.Context, id int64, in types.BookInput) (*types.Book, error) {
	return nil, nil
}
func (m *mockStore) DeleteBook(ctx context.Context, id int64) error {
	return nil
}
func (m *mockStore) GetStats(ctx context.Context) (*types.StoreStats, error) {
	return nil, nil
}
func (m *mockStore) Close() error {
	return nil
}
