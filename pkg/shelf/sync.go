package shelf

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// BookAPI is the subset of the remote API the synchronizer replays
// operations against.
type BookAPI interface {
	CreateBook(ctx context.Context, in BookInput) (*Book, error)
	UpdateBook(ctx context.Context, id int64, in BookInput) (*Book, error)
	DeleteBook(ctx context.Context, id int64) error
}

// ReachabilitySource reports and broadcasts remote API reachability.
type ReachabilitySource interface {
	IsReachable() bool
	Subscribe(fn func(Reachability)) func()
}

// Syncer drains the pending operation queue against the remote API.
type Syncer struct {
	store    *Store
	api      BookAPI
	network  ReachabilitySource
	interval time.Duration
	logger   *slog.Logger

	syncing atomic.Bool
	trigger chan struct{}

	mu         sync.Mutex
	lastSync   *time.Time
	lastResult SyncResult
	onSynced   func(op PendingOperation, book *Book)
	onDropped  func(op PendingOperation)
}

// NewSyncer creates a Syncer. interval is the fallback period used while
// operations remain pending.
func NewSyncer(store *Store, api BookAPI, network ReachabilitySource, interval time.Duration, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		store:    store,
		api:      api,
		network:  network,
		interval: interval,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}
}

// OnSynced registers a callback invoked after an operation is confirmed.
// book is the server's record for create/update, nil otherwise.
func (s *Syncer) OnSynced(fn func(op PendingOperation, book *Book)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSynced = fn
}

// OnDropped registers a callback invoked when an operation is dropped after
// exhausting its retries.
func (s *Syncer) OnDropped(fn func(op PendingOperation)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDropped = fn
}

// IsSyncing reports whether a pass is in progress.
func (s *Syncer) IsSyncing() bool {
	return s.syncing.Load()
}

// LastSync returns the time and result of the last completed pass.
func (s *Syncer) LastSync() (*time.Time, SyncResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync, s.lastResult
}

// Trigger asks the Run loop to attempt a pass. It never blocks.
func (s *Syncer) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// SyncOfflineOperations replays every queued operation, oldest first and
// one at a time. A call made while another pass is running does nothing and
// reports Skipped.
//
// Operations on the temporary ID of a create that failed earlier in the pass
// are not sent: they stay queued behind it, or are dropped with it.
func (s *Syncer) SyncOfflineOperations(ctx context.Context) (SyncResult, error) {
	if !s.syncing.CompareAndSwap(false, true) {
		return SyncResult{Skipped: true}, nil
	}
	defer s.syncing.Store(false)

	start := time.Now()
	var result SyncResult

	ops, err := s.store.GetOperations(ctx)
	if err != nil {
		return result, fmt.Errorf("load pending operations: %w", err)
	}

	// Temporary IDs whose create failed this pass, mapped to whether the
	// create was dropped.
	unconfirmed := make(map[int64]bool)

	for i := 0; i < len(ops); i++ {
		if ctx.Err() != nil {
			break
		}
		op := ops[i]

		if dropped, ok := unconfirmed[op.Payload.ID]; ok {
			if err := s.holdBack(ctx, op, dropped, &result); err != nil {
				return result, err
			}
			continue
		}

		if err := s.store.UpdateOperationStatus(ctx, op.ID, StatusSyncing); err != nil {
			return result, err
		}

		book, err := s.dispatch(ctx, op)
		if err == nil {
			if op.Kind == OperationCreate && book != nil && book.ID != op.Payload.ID {
				if err := s.store.RemapID(ctx, op.Payload.ID, *book); err != nil {
					return result, err
				}
				remapPending(ops[i+1:], op.Payload.ID, book.ID)
			}
			if err := s.store.RemoveOperation(ctx, op.ID); err != nil {
				return result, err
			}
			result.Synced++
			s.notifySynced(op, book)
			continue
		}

		result.Failed++
		if err := s.store.UpdateOperationStatus(ctx, op.ID, StatusError); err != nil {
			return result, err
		}
		count, incErr := s.store.IncrementRetryCount(ctx, op.ID)
		if incErr != nil {
			return result, incErr
		}

		dropped := count >= MaxRetryCount
		if op.Kind == OperationCreate {
			unconfirmed[op.Payload.ID] = dropped
		}

		if dropped {
			if err := s.store.RemoveOperation(ctx, op.ID); err != nil {
				return result, err
			}
			result.Dropped++
			s.logger.Error("pending operation dropped after max retries",
				"component", "syncer",
				"action", "sync_drop",
				"operation_id", op.ID,
				"kind", op.Kind,
				"book_id", op.Payload.ID,
				"attempts", count,
				"error", err,
			)
			s.notifyDropped(op)
			continue
		}

		s.logger.Warn("pending operation failed, will retry",
			"component", "syncer",
			"action", "sync_retry",
			"operation_id", op.ID,
			"kind", op.Kind,
			"attempts", count,
			"error", err,
		)
	}

	now := time.Now()
	s.mu.Lock()
	s.lastSync = &now
	s.lastResult = result
	s.mu.Unlock()

	if result.Synced > 0 || result.Failed > 0 {
		s.logger.Info("sync pass completed",
			"component", "syncer",
			"action", "sync",
			"synced", result.Synced,
			"failed", result.Failed,
			"dropped", result.Dropped,
			"deferred", result.Deferred,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return result, nil
}

// holdBack handles an operation queued behind an unconfirmed create. It is
// left pending for the next pass, or dropped along with the create.
func (s *Syncer) holdBack(ctx context.Context, op PendingOperation, dropped bool, result *SyncResult) error {
	if !dropped {
		result.Deferred++
		s.logger.Debug("pending operation deferred behind unconfirmed create",
			"component", "syncer",
			"action", "sync_defer",
			"operation_id", op.ID,
			"kind", op.Kind,
			"book_id", op.Payload.ID,
		)
		return nil
	}

	if err := s.store.RemoveOperation(ctx, op.ID); err != nil {
		return err
	}
	result.Dropped++
	s.logger.Error("pending operation dropped with its create",
		"component", "syncer",
		"action", "sync_drop",
		"operation_id", op.ID,
		"kind", op.Kind,
		"book_id", op.Payload.ID,
	)
	s.notifyDropped(op)
	return nil
}

// dispatch issues the remote call an operation stands for. A 404 on update
// or delete means the effect is already in place and counts as success.
func (s *Syncer) dispatch(ctx context.Context, op PendingOperation) (*Book, error) {
	switch op.Kind {
	case OperationCreate:
		if op.Payload.Book == nil {
			return nil, fmt.Errorf("create operation %s has no book", op.ID)
		}
		return s.api.CreateBook(ctx, op.Payload.Book.Input())
	case OperationUpdate:
		if op.Payload.Book == nil {
			return nil, fmt.Errorf("update operation %s has no book", op.ID)
		}
		book, err := s.api.UpdateBook(ctx, op.Payload.ID, op.Payload.Book.Input())
		if IsNotFound(err) {
			return nil, nil
		}
		return book, err
	case OperationDelete:
		err := s.api.DeleteBook(ctx, op.Payload.ID)
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return nil, fmt.Errorf("unknown operation kind %q", op.Kind)
}

// Run attempts a pass whenever the API becomes reachable, whenever Trigger
// is called, and on every interval, as long as operations are pending.
func (s *Syncer) Run(ctx context.Context) {
	unsubscribe := s.network.Subscribe(func(r Reachability) {
		if r == Reachable {
			s.Trigger()
		}
	})
	defer unsubscribe()
	if s.network.IsReachable() {
		s.Trigger()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.trigger:
			s.syncIfPending(ctx)
		case <-ticker.C:
			s.syncIfPending(ctx)
		}
	}
}

func (s *Syncer) syncIfPending(ctx context.Context) {
	if !s.network.IsReachable() {
		return
	}
	count, err := s.store.OperationCount(ctx)
	if err != nil {
		s.logger.Error("failed to count pending operations",
			"component", "syncer",
			"error", err,
		)
		return
	}
	if count == 0 {
		return
	}
	if _, err := s.SyncOfflineOperations(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("sync pass failed",
			"component", "syncer",
			"error", err,
		)
	}
}

func (s *Syncer) notifySynced(op PendingOperation, book *Book) {
	s.mu.Lock()
	fn := s.onSynced
	s.mu.Unlock()
	if fn != nil {
		fn(op, book)
	}
}

func (s *Syncer) notifyDropped(op PendingOperation) {
	s.mu.Lock()
	fn := s.onDropped
	s.mu.Unlock()
	if fn != nil {
		fn(op)
	}
}

// remapPending rewrites in-memory operations that refer to a temporary ID.
func remapPending(ops []PendingOperation, tempID, serverID int64) {
	for i := range ops {
		if ops[i].Payload.ID != tempID {
			continue
		}
		ops[i].Payload.ID = serverID
		if ops[i].Payload.Book != nil {
			b := *ops[i].Payload.Book
			b.ID = serverID
			ops[i].Payload.Book = &b
		}
	}
}
