package shelf

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/oklog/ulid/v2"
)

// MaxRetryCount is the number of failed sync attempts after which a pending
// operation is dropped from the queue.
const MaxRetryCount = 3

// ErrOperationNotFound is returned when a queued operation ID is unknown.
var ErrOperationNotFound = errors.New("pending operation not found")

// QueueOperation appends a pending operation to the durable queue and
// returns its ID. It does not touch the book snapshot.
func (s *Store) QueueOperation(ctx context.Context, kind OperationKind, payload OperationPayload) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var op PendingOperation
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		op, err = s.appendOperation(ctx, tx, kind, payload)
		return err
	})
	if err != nil {
		return "", err
	}
	return op.ID, nil
}

// Enqueue queues an operation and applies it to the book snapshot in one
// transaction, so a reader never sees the operation queued but not applied.
// A create payload without an ID is assigned a temporary local ID.
func (s *Store) Enqueue(ctx context.Context, kind OperationKind, payload OperationPayload) (PendingOperation, []Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var op PendingOperation
	var books []Book
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := s.loadBooks(ctx, tx)
		if err != nil {
			return err
		}

		if kind == OperationCreate && payload.Book != nil && payload.Book.ID == 0 {
			book := *payload.Book
			book.ID = s.nextTempID(current)
			payload.Book = &book
			payload.ID = book.ID
		}

		op, err = s.appendOperation(ctx, tx, kind, payload)
		if err != nil {
			return err
		}

		books = applyOperation(current, op)
		return s.saveBooks(ctx, tx, books)
	})
	if err != nil {
		return PendingOperation{}, nil, err
	}
	return op, books, nil
}

// GetOperations returns all pending operations, oldest first.
func (s *Store) GetOperations(ctx context.Context) ([]PendingOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadOperations(ctx, s.db)
}

// OperationCount returns the number of pending operations.
func (s *Store) OperationCount(ctx context.Context) (int, error) {
	ops, err := s.GetOperations(ctx)
	if err != nil {
		return 0, err
	}
	return len(ops), nil
}

// UpdateOperationStatus sets the sync status of a queued operation.
func (s *Store) UpdateOperationStatus(ctx context.Context, id string, status SyncStatus) error {
	_, err := s.modifyOperation(ctx, id, func(op *PendingOperation) {
		op.SyncStatus = status
	})
	return err
}

// IncrementRetryCount bumps the retry count of a queued operation and
// returns the new count.
func (s *Store) IncrementRetryCount(ctx context.Context, id string) (int, error) {
	op, err := s.modifyOperation(ctx, id, func(op *PendingOperation) {
		op.RetryCount++
	})
	if err != nil {
		return 0, err
	}
	return op.RetryCount, nil
}

// RemoveOperation deletes a queued operation. Removing an unknown ID is a no-op.
func (s *Store) RemoveOperation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ops, err := s.loadOperations(ctx, s.db)
	if err != nil {
		return err
	}
	kept := ops[:0]
	for _, op := range ops {
		if op.ID != id {
			kept = append(kept, op)
		}
	}
	return s.put(ctx, s.db, KeyOperations, kept)
}

// ClearOperations empties the queue.
func (s *Store) ClearOperations(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(ctx, s.db, KeyOperations, []PendingOperation{})
}

// ApplyOperationLocally applies the effect of op to the cached snapshot,
// persists it and returns the updated snapshot.
func (s *Store) ApplyOperationLocally(ctx context.Context, op PendingOperation) ([]Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var books []Book
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := s.loadBooks(ctx, tx)
		if err != nil {
			return err
		}
		books = applyOperation(current, op)
		return s.saveBooks(ctx, tx, books)
	})
	if err != nil {
		return nil, err
	}
	return books, nil
}

// RemapID replaces a temporary local ID with the server-assigned book in the
// snapshot and in every queued operation that still refers to it. Queued
// updates and deletes of the record are replayed over the server's copy.
func (s *Store) RemapID(ctx context.Context, tempID int64, book Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		ops, err := s.loadOperations(ctx, tx)
		if err != nil {
			return err
		}
		for i := range ops {
			if ops[i].Payload.ID != tempID {
				continue
			}
			ops[i].Payload.ID = book.ID
			if ops[i].Payload.Book != nil {
				remapped := *ops[i].Payload.Book
				remapped.ID = book.ID
				ops[i].Payload.Book = &remapped
			}
		}
		if err := s.put(ctx, tx, KeyOperations, ops); err != nil {
			return err
		}

		books, err := s.loadBooks(ctx, tx)
		if err != nil {
			return err
		}
		books = replaceBook(books, tempID, book)
		for _, op := range ops {
			if op.Payload.ID == book.ID && op.Kind != OperationCreate {
				books = applyOperation(books, op)
			}
		}
		return s.saveBooks(ctx, tx, books)
	})
}

// NextTempID reserves a temporary local identifier for a record the remote
// API has not assigned an ID to yet.
func (s *Store) NextTempID(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	books, err := s.loadBooks(ctx, s.db)
	if err != nil {
		return 0, err
	}
	return s.nextTempID(books), nil
}

func (s *Store) modifyOperation(ctx context.Context, id string, fn func(op *PendingOperation)) (PendingOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ops, err := s.loadOperations(ctx, s.db)
	if err != nil {
		return PendingOperation{}, err
	}
	for i := range ops {
		if ops[i].ID == id {
			fn(&ops[i])
			if err := s.put(ctx, s.db, KeyOperations, ops); err != nil {
				return PendingOperation{}, err
			}
			return ops[i], nil
		}
	}
	return PendingOperation{}, fmt.Errorf("operation %s: %w", id, ErrOperationNotFound)
}

func (s *Store) appendOperation(ctx context.Context, q querier, kind OperationKind, payload OperationPayload) (PendingOperation, error) {
	ops, err := s.loadOperations(ctx, q)
	if err != nil {
		return PendingOperation{}, err
	}

	op := PendingOperation{
		ID:         string(kind) + "_" + ulid.Make().String(),
		Kind:       kind,
		Timestamp:  s.nextTimestamp(),
		Payload:    payload,
		SyncStatus: StatusPending,
		RetryCount: 0,
	}
	ops = append(ops, op)

	if err := s.put(ctx, q, KeyOperations, ops); err != nil {
		return PendingOperation{}, err
	}
	return op, nil
}

func (s *Store) loadOperations(ctx context.Context, q querier) ([]PendingOperation, error) {
	ops := []PendingOperation{}
	found, err := s.get(ctx, q, KeyOperations, &ops)
	if err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			s.logger.Error("offline operation queue unreadable, treating as empty",
				"component", "store",
				"error", err,
			)
			return []PendingOperation{}, nil
		}
		return nil, err
	}
	if !found {
		return []PendingOperation{}, nil
	}
	sort.SliceStable(ops, func(i, j int) bool {
		return ops[i].Timestamp < ops[j].Timestamp
	})
	return ops, nil
}

// nextTimestamp returns a strictly increasing ordering key. The caller must
// hold s.mu.
func (s *Store) nextTimestamp() int64 {
	ts := s.now().UnixNano()
	if ts <= s.lastTimestamp {
		ts = s.lastTimestamp + 1
	}
	s.lastTimestamp = ts
	return ts
}

// nextTempID returns a positive ID greater than every ID in books and every
// temporary ID issued before. The caller must hold s.mu.
func (s *Store) nextTempID(books []Book) int64 {
	id := s.now().UnixMilli()
	for _, b := range books {
		if b.ID >= id {
			id = b.ID + 1
		}
	}
	if id <= s.lastTempID {
		id = s.lastTempID + 1
	}
	s.lastTempID = id
	return id
}
