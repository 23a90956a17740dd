package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockedBuffer is a log sink safe to read while a server goroutine writes.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// entries decodes every JSON log line written so far.
func (b *lockedBuffer) entries() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		var entry map[string]any
		if json.Unmarshal([]byte(line), &entry) == nil {
			out = append(out, entry)
		}
	}
	return out
}

// requestLog returns the "request completed" entry for path, or nil.
func (b *lockedBuffer) requestLog(path string) map[string]any {
	for _, entry := range b.entries() {
		if entry["msg"] == "request completed" && entry["path"] == path {
			return entry
		}
	}
	return nil
}

func captureDefaultLog(t *testing.T) *lockedBuffer {
	t.Helper()
	buf := &lockedBuffer{}
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(previous) })
	return buf
}

func TestResponseWriter_HijackWithoutSupport(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}

	conn, brw, err := rw.Hijack()

	require.Error(t, err)
	assert.Nil(t, conn)
	assert.Nil(t, brw)
	assert.Equal(t, http.StatusOK, rw.statusCode, "a failed hijack must not look like an upgrade")
}

func TestResponseWriter_UnwrapReachesFlusher(t *testing.T) {
	rec := httptest.NewRecorder()
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("partial"))
		require.NoError(t, http.NewResponseController(w).Flush())
	}))

	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/books", nil))

	assert.True(t, rec.Flushed)
}

func TestLoggingMiddleware_WebsocketUpgradeThroughRouter(t *testing.T) {
	logs := captureDefaultLog(t)

	// Given: the full router serving a push endpoint that upgrades and hangs up
	upgrader := websocket.Upgrader{}
	push := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	})
	srv := httptest.NewServer(NewRouter(NewHandler(newMockStore(), &mockHub{}, nil, "test"), push))
	defer srv.Close()

	// When: a client dials /ws
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	// Then: the handshake succeeds and the request is logged as a protocol switch
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	require.Eventually(t, func() bool { return logs.requestLog("/ws") != nil }, 2*time.Second, 5*time.Millisecond)

	entry := logs.requestLog("/ws")
	assert.EqualValues(t, http.StatusSwitchingProtocols, entry["status"])
	assert.Equal(t, "INFO", entry["level"])
	assert.NotEmpty(t, entry["request_id"])
}

func TestProblemResponses_CarryRequestID(t *testing.T) {
	router := newTestRouter(newMockStore(dune()), &mockHub{})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"missing book", http.MethodGet, "/api/books/99", "", http.StatusNotFound},
		{"malformed id", http.MethodPut, "/api/books/abc", validBody, http.StatusBadRequest},
		{"invalid input", http.MethodPost, "/api/books", `{"title":""}`, http.StatusUnprocessableEntity},
		{"bad list query", http.MethodGet, "/api/books?page=0", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a caller that supplies its own request id
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set(chiMiddleware.RequestIDHeader, "req-"+strings.ReplaceAll(tt.name, " ", "-"))
			w := httptest.NewRecorder()

			// When
			router.ServeHTTP(w, req)

			// Then: the problem document echoes it
			require.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
			p := decodeProblem(t, w)
			assert.Equal(t, "req-"+strings.ReplaceAll(tt.name, " ", "-"), p.RequestID)
			assert.Equal(t, strings.Split(tt.path, "?")[0], p.Instance)
		})
	}
}

func TestProblemResponses_GeneratedRequestIDMatchesLog(t *testing.T) {
	logs := captureDefaultLog(t)
	router := newTestRouter(newMockStore(), &mockHub{})

	w := doRequest(t, router, http.MethodDelete, "/api/books/7", "")

	require.Equal(t, http.StatusNotFound, w.Code)
	p := decodeProblem(t, w)
	require.NotEmpty(t, p.RequestID)

	entry := logs.requestLog("/api/books/7")
	require.NotNil(t, entry)
	assert.Equal(t, p.RequestID, entry["request_id"])
	assert.Equal(t, "WARN", entry["level"])
}

func TestLoggingMiddleware_LevelFollowsStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusNoContent, "INFO"},
		{http.StatusNotFound, "WARN"},
		{http.StatusUnprocessableEntity, "WARN"},
		{http.StatusServiceUnavailable, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			logs := captureDefaultLog(t)
			router := chi.NewRouter()
			router.Use(chiMiddleware.RequestID)
			router.Use(LoggingMiddleware)
			router.Get("/api/books", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/books", nil))

			entry := logs.requestLog("/api/books")
			require.NotNil(t, entry)
			assert.Equal(t, tt.level, entry["level"])
			assert.EqualValues(t, tt.status, entry["status"])
		})
	}
}

func TestRecoveryMiddleware_PanicInBookRoute(t *testing.T) {
	logs := captureDefaultLog(t)

	// Given: a book route that panics with an internal detail
	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(LoggingMiddleware)
	router.Use(RecoveryMiddleware)
	router.Post("/api/books", func(w http.ResponseWriter, r *http.Request) {
		panic("catalog index corrupted at /var/lib/shelfsync")
	})

	// When
	w := doRequest(t, router, http.MethodPost, "/api/books", validBody)

	// Then: the client gets a generic 500 problem with a request id
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "catalog index")
	p := decodeProblem(t, w)
	assert.Equal(t, "Internal Server Error", p.Detail)
	assert.NotEmpty(t, p.RequestID)

	// And the panic and the 500 are logged server side
	var recovered map[string]any
	for _, entry := range logs.entries() {
		if entry["msg"] == "panic recovered" {
			recovered = entry
		}
	}
	require.NotNil(t, recovered)
	assert.Contains(t, recovered["error"], "catalog index")
	assert.NotEmpty(t, recovered["stack"])

	entry := logs.requestLog("/api/books")
	require.NotNil(t, entry)
	assert.Equal(t, "ERROR", entry["level"])
}

func TestRecoveryMiddleware_ReraisesAbortHandler(t *testing.T) {
	h := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ws", nil))
	})
}
