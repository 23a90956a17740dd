package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/shelfsync/internal/types"
)

// Broadcaster delivers push messages to every connected client.
type Broadcaster interface {
	Broadcast(msg types.PushMessage) error
	Count() int
}

// HeartbeatWorker keeps idle push connections alive by broadcasting
// ping messages.
type HeartbeatWorker struct {
	hub      Broadcaster
	interval time.Duration
}

// NewHeartbeatWorker creates a worker that pings through hub every interval.
func NewHeartbeatWorker(hub Broadcaster, interval time.Duration) *HeartbeatWorker {
	return &HeartbeatWorker{
		hub:      hub,
		interval: interval,
	}
}

// Run broadcasts a ping on each tick until ctx is cancelled.
func (w *HeartbeatWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "heartbeat",
		"interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "heartbeat",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.ping()
		}
	}
}

func (w *HeartbeatWorker) ping() {
	if w.hub.Count() == 0 {
		return
	}
	if err := w.hub.Broadcast(types.PingMessage()); err != nil {
		slog.Debug("heartbeat broadcast skipped",
			"component", "worker",
			"action", "heartbeat_failed",
			"error", err,
		)
	}
}
