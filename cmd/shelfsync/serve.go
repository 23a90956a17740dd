package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hyperengineering/shelfsync/internal/api"
	"github.com/hyperengineering/shelfsync/internal/config"
	"github.com/hyperengineering/shelfsync/internal/hub"
	"github.com/hyperengineering/shelfsync/internal/snapshot"
	"github.com/hyperengineering/shelfsync/internal/store"
	"github.com/hyperengineering/shelfsync/internal/worker"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the catalog API and push server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

// server holds the components behind the HTTP listener.
type server struct {
	store     *store.SQLiteStore
	hub       *hub.Hub
	heartbeat *worker.HeartbeatWorker // nil when disabled
	snapshots *worker.SnapshotWorker  // nil when disabled
	router    http.Handler
}

// newServer opens the store and wires the hub, workers and router.
func newServer(cfg *config.Config, version string) (*server, error) {
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	s := &server{
		store: db,
		hub:   hub.New(hub.Config{Logger: slog.Default()}),
	}

	if cfg.Heartbeat.Interval > 0 {
		s.heartbeat = worker.NewHeartbeatWorker(s.hub, cfg.Heartbeat.Interval.Std())
	}

	var status api.SnapshotStatus
	if cfg.Snapshot.Interval > 0 {
		uploader, err := snapshot.NewUploader(cfg.Snapshot)
		if err != nil {
			db.Close()
			return nil, err
		}
		s.snapshots = worker.NewSnapshotWorker(db, cfg.Snapshot.Dir, cfg.Snapshot.Interval.Std(), uploader)
		status = s.snapshots
		slog.Info("snapshots enabled",
			"dir", cfg.Snapshot.Dir,
			"bucket", cfg.Snapshot.Bucket,
			"interval", cfg.Snapshot.Interval.Std().String(),
		)
	}

	handler := api.NewHandler(db, s.hub, status, version)
	s.router = api.NewRouter(handler, s.hub)
	slog.Info("router initialized")

	return s, nil
}

// startWorkers runs the hub and the periodic workers until ctx is cancelled.
func (s *server) startWorkers(ctx context.Context, wg *sync.WaitGroup) {
	startWorker(ctx, wg, "hub", s.hub.Run)
	if s.heartbeat != nil {
		startWorker(ctx, wg, "heartbeat", s.heartbeat.Run)
	}
	if s.snapshots != nil {
		startWorker(ctx, wg, "snapshot", s.snapshots.Run)
	}
}

func (s *server) close() error {
	return s.store.Close()
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("configuration loaded")

	slog.SetDefault(newLogger(cmd.OutOrStdout(), cfg.Log))
	slog.Info("logger initialized", "level", cfg.Log.Level)

	srv, err := newServer(cfg, Version)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      srv.router,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	var wg sync.WaitGroup
	srv.startWorkers(ctx, &wg)

	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		if err := httpSrv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// Drain in-flight requests, then stop workers, then close the store.
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	wg.Wait()
	if err := srv.close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
