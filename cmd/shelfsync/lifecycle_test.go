package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperengineering/shelfsync/internal/config"
	"github.com/hyperengineering/shelfsync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// logCapture captures slog output for testing
type logCapture struct {
	mu      sync.Mutex
	entries []map[string]any
}

func (c *logCapture) handler() slog.Handler {
	return slog.NewJSONHandler(c, &slog.HandlerOptions{Level: slog.LevelDebug})
}

func (c *logCapture) Write(p []byte) (n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var entry map[string]any
	if err := json.Unmarshal(p, &entry); err == nil {
		c.entries = append(c.entries, entry)
	}
	return len(p), nil
}

func (c *logCapture) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var msgs []string
	for _, e := range c.entries {
		if msg, ok := e["msg"].(string); ok {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

func captureLogs(t *testing.T) *logCapture {
	t.Helper()
	capture := &logCapture{}
	oldDefault := slog.Default()
	slog.SetDefault(slog.New(capture.handler()))
	t.Cleanup(func() { slog.SetDefault(oldDefault) })
	return capture
}

// TestStartWorker_LaunchesGoroutineAndTracksCompletion tests the startWorker helper
func TestStartWorker_LaunchesGoroutineAndTracksCompletion(t *testing.T) {
	capture := captureLogs(t)

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	workerRan := atomic.Bool{}
	startWorker(ctx, &wg, "test-worker", func(ctx context.Context) {
		workerRan.Store(true)
		<-ctx.Done()
	})

	require.Eventually(t, workerRan.Load, time.Second, 5*time.Millisecond, "worker function was not called")

	cancel()
	wg.Wait()

	assert.Contains(t, capture.messages(), "worker started")
	assert.Contains(t, capture.messages(), "worker stopped")
}

// TestWorkerWaitGroupIntegration verifies workers are waited on during shutdown
func TestWorkerWaitGroupIntegration(t *testing.T) {
	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	workerCompleted := atomic.Bool{}
	startWorker(ctx, &wg, "slow-worker", func(ctx context.Context) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		workerCompleted.Store(true)
	})

	cancel()
	wg.Wait()

	assert.True(t, workerCompleted.Load(), "wg.Wait() returned before worker completed")
}

// TestStartWorker_LogsWorkerName verifies worker name is included in log attributes
func TestStartWorker_LogsWorkerName(t *testing.T) {
	capture := captureLogs(t)

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	startWorker(ctx, &wg, "my-custom-worker", func(ctx context.Context) {
		<-ctx.Done()
	})

	time.Sleep(10 * time.Millisecond)
	cancel()
	wg.Wait()

	capture.mu.Lock()
	defer capture.mu.Unlock()
	var workers []any
	for _, entry := range capture.entries {
		workers = append(workers, entry["worker"])
	}
	assert.Contains(t, workers, "my-custom-worker")
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
		"warning": slog.LevelWarn,
		"WARN":    slog.LevelWarn,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLogLevel(in), "parseLogLevel(%q)", in)
	}
}

// testServerConfig returns defaults rooted in a temp directory.
func testServerConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Database:  config.DatabaseConfig{Path: filepath.Join(dir, "server.db")},
		Snapshot:  config.SnapshotConfig{Interval: config.Duration(time.Hour), Dir: filepath.Join(dir, "snapshots")},
		Heartbeat: config.HeartbeatConfig{Interval: config.Duration(time.Hour)},
	}
}

// startTestServer runs a server behind httptest until the test ends.
func startTestServer(t *testing.T, cfg *config.Config) (*server, *httptest.Server) {
	t.Helper()
	srv, err := newServer(cfg, "test")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	srv.startWorkers(ctx, &wg)
	ts := httptest.NewServer(srv.router)

	t.Cleanup(func() {
		ts.Close()
		cancel()
		wg.Wait()
		srv.close()
	})
	return srv, ts
}

func TestNewServer_WiresWorkersAndRoutes(t *testing.T) {
	captureLogs(t)
	cfg := testServerConfig(t)

	srv, ts := startTestServer(t, cfg)
	assert.NotNil(t, srv.heartbeat, "heartbeat worker configured")
	require.NotNil(t, srv.snapshots, "snapshot worker configured")

	// The snapshot worker runs once on start.
	require.Eventually(t, func() bool { return srv.snapshots.LastSnapshot() != nil },
		2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health types.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "test", health.Version)
	assert.NotNil(t, health.LastSnapshot, "last_snapshot is reported")

	entries, err := os.ReadDir(cfg.Snapshot.Dir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries, "snapshot file on disk")
}

func TestNewServer_DisabledWorkers(t *testing.T) {
	captureLogs(t)
	cfg := testServerConfig(t)
	cfg.Snapshot.Interval = 0
	cfg.Heartbeat.Interval = 0

	srv, ts := startTestServer(t, cfg)
	assert.Nil(t, srv.heartbeat)
	assert.Nil(t, srv.snapshots)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var health types.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Nil(t, health.LastSnapshot)
}

func TestNewServer_InvalidDatabasePath(t *testing.T) {
	captureLogs(t)
	cfg := testServerConfig(t)

	// A regular file where the parent directory should be.
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))
	cfg.Database.Path = filepath.Join(blocker, "server.db")

	_, err := newServer(cfg, "test")
	assert.Error(t, err, "unusable database path")
}
