package shelf

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "offline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleBook(id int64, title string) Book {
	return Book{ID: id, Title: title, Author: "Author " + title, Genre: "Fiction", Price: 9.99, Rating: 4}
}

func TestStore_EmptyByDefault(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	books, err := s.GetBooks(ctx)
	require.NoError(t, err)
	assert.Empty(t, books)
	assert.NotNil(t, books)

	ops, err := s.GetOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestStore_SaveBooksRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := []Book{sampleBook(1, "Dune"), sampleBook(2, "Emma")}
	require.NoError(t, s.SaveBooks(ctx, want))

	got, err := s.GetBooks(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "offline.db")

	// Given: a store with a snapshot and a queued operation
	s, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveBooks(ctx, []Book{sampleBook(1, "Dune")}))
	b := sampleBook(1, "Dune Messiah")
	_, err = s.QueueOperation(ctx, OperationUpdate, OperationPayload{ID: 1, Book: &b})
	require.NoError(t, err)
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Close())

	// When: the store is reopened
	s, err = NewStore(path)
	require.NoError(t, err)
	defer s.Close()

	// Then: both survive
	books, err := s.GetBooks(ctx)
	require.NoError(t, err)
	assert.Len(t, books, 1)

	ops, err := s.GetOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "Dune Messiah", ops[0].Payload.Book.Title)

	// And: new operations sort after the persisted one
	_, err = s.QueueOperation(ctx, OperationDelete, OperationPayload{ID: 1})
	require.NoError(t, err)
	ops, err = s.GetOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, OperationDelete, ops[1].Kind)
}

func TestStore_InstancesAreIsolated(t *testing.T) {
	ctx := context.Background()
	a := newTestStore(t)
	b := newTestStore(t)

	require.NoError(t, a.SaveBooks(ctx, []Book{sampleBook(1, "Dune")}))

	books, err := b.GetBooks(ctx)
	require.NoError(t, err)
	assert.Empty(t, books)
}

func TestStore_CorruptSnapshotReadsEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)`,
		KeyBooks, "{not json", "2024-01-01T00:00:00Z")
	require.NoError(t, err)

	books, err := s.GetBooks(ctx)
	require.NoError(t, err)
	assert.Empty(t, books)
}

func TestStore_CorruptQueueReadsEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)`,
		KeyOperations, `{"id": 1}`, "2024-01-01T00:00:00Z")
	require.NoError(t, err)

	ops, err := s.GetOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}
