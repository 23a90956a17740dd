package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/shelfsync/internal/snapshot"
	"github.com/hyperengineering/shelfsync/internal/types"
)

// CatalogSource provides the full catalog for snapshotting.
type CatalogSource interface {
	AllBooks(ctx context.Context) ([]types.Book, error)
}

// SnapshotWorker periodically writes the catalog to a JSON file and hands
// it to an uploader.
type SnapshotWorker struct {
	source   CatalogSource
	uploader snapshot.Uploader
	dir      string
	interval time.Duration
	now      func() time.Time

	mu   sync.RWMutex
	last *time.Time
}

// NewSnapshotWorker creates a snapshot worker writing into dir.
// The uploader parameter is optional; if nil, no upload is attempted.
func NewSnapshotWorker(source CatalogSource, dir string, interval time.Duration, uploader snapshot.Uploader) *SnapshotWorker {
	return &SnapshotWorker{
		source:   source,
		uploader: uploader,
		dir:      dir,
		interval: interval,
		now:      time.Now,
	}
}

// LastSnapshot returns the time of the last successful snapshot, or nil.
func (w *SnapshotWorker) LastSnapshot() *time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.last == nil {
		return nil
	}
	t := *w.last
	return &t
}

// Run generates a snapshot immediately on start, then on each interval.
func (w *SnapshotWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "snapshot",
		"dir", w.dir,
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "snapshot",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *SnapshotWorker) runOnce(ctx context.Context) {
	path, count, err := w.Generate(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("snapshot generation failed",
			"component", "worker",
			"action", "snapshot_failed",
			"error", err,
		)
		return
	}

	slog.Info("snapshot generated",
		"component", "worker",
		"action", "snapshot_complete",
		"path", path,
		"books", count,
	)

	if w.uploader == nil {
		return
	}
	// Upload failures leave the local snapshot in place.
	if err := w.uploader.Upload(ctx, filepath.Base(path), path); err != nil {
		slog.Warn("snapshot upload failed",
			"component", "worker",
			"action", "snapshot_upload_failed",
			"path", path,
			"error", err,
		)
	}
}

// Generate writes one snapshot file and returns its path and book count.
func (w *SnapshotWorker) Generate(ctx context.Context) (string, int, error) {
	books, err := w.source.AllBooks(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("read catalog: %w", err)
	}
	if books == nil {
		books = []types.Book{}
	}

	data, err := json.Marshal(books)
	if err != nil {
		return "", 0, fmt.Errorf("encode catalog: %w", err)
	}

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", 0, fmt.Errorf("create snapshot directory: %w", err)
	}

	taken := w.now()
	path := filepath.Join(w.dir, ulid.MustNew(ulid.Timestamp(taken), ulid.DefaultEntropy()).String()+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", 0, fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", 0, fmt.Errorf("finalize snapshot: %w", err)
	}

	w.mu.Lock()
	w.last = &taken
	w.mu.Unlock()

	return path, len(books), nil
}
