package e2e

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperengineering/shelfsync/internal/api"
	"github.com/hyperengineering/shelfsync/internal/hub"
	"github.com/hyperengineering/shelfsync/internal/store"
	"github.com/hyperengineering/shelfsync/internal/types"
	"github.com/hyperengineering/shelfsync/pkg/shelf"
	"github.com/stretchr/testify/require"
)

// testEnv runs the reference server in-process behind a switch that
// simulates an outage.
type testEnv struct {
	store  *store.SQLiteStore
	hub    *hub.Hub
	server *httptest.Server
	online atomic.Bool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err, "open server store")

	h := hub.New(hub.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(hubDone)
	}()

	router := api.NewRouter(api.NewHandler(db, h, nil, "e2e"), h)
	env := &testEnv{store: db, hub: h}
	env.online.Store(true)
	env.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !env.online.Load() {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		router.ServeHTTP(w, r)
	}))

	t.Cleanup(func() {
		env.server.Close()
		cancel()
		<-hubDone
		db.Close()
	})
	return env
}

// setOnline flips both the host signal and the server's availability.
func (e *testEnv) setOnline(online bool) {
	e.online.Store(online)
}

// newClient starts a sync client against the env with short intervals.
func (e *testEnv) newClient(t *testing.T) *shelf.Client {
	t.Helper()
	return e.newClientAt(t, filepath.Join(t.TempDir(), "client.db"))
}

// newClientAt starts a sync client whose durable store lives at storePath.
func (e *testEnv) newClientAt(t *testing.T, storePath string) *shelf.Client {
	t.Helper()

	client, err := shelf.New(shelf.Config{
		APIURL:        e.server.URL + "/api",
		PushURL:       "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws",
		StorePath:     storePath,
		ProbeTimeout:  time.Second,
		ProbeInterval: 50 * time.Millisecond,
		SyncInterval:  200 * time.Millisecond,
		PushMinDelay:  10 * time.Millisecond,
		PushMaxDelay:  200 * time.Millisecond,
		HostSignal:    shelf.HostSignalFunc(e.online.Load),
	})
	require.NoError(t, err, "new client")
	require.NoError(t, client.Start(context.Background()), "start client")
	t.Cleanup(func() { client.Close() })
	return client
}

// serverBooks returns the server catalog in the client's shape.
func (e *testEnv) serverBooks(t *testing.T) []shelf.Book {
	t.Helper()
	books, err := e.store.AllBooks(context.Background())
	require.NoError(t, err, "read server catalog")
	out := make([]shelf.Book, len(books))
	for i, b := range books {
		out[i] = toShelfBook(b)
	}
	return out
}

func toShelfBook(b types.Book) shelf.Book {
	return shelf.Book{ID: b.ID, Title: b.Title, Author: b.Author, Genre: b.Genre, Price: b.Price, Rating: b.Rating}
}

func byID(books []shelf.Book) []shelf.Book {
	out := append([]shelf.Book(nil), books...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sameBooks(a, b []shelf.Book) bool {
	a, b = byID(a), byID(b)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, timeout, 20*time.Millisecond, "waiting for %s", what)
}

func input(title, author string, rating int) shelf.BookInput {
	return shelf.BookInput{Title: title, Author: author, Genre: "Fiction", Price: 10, Rating: rating}
}
