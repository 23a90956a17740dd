package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hyperengineering/shelfsync/internal/store"
	"github.com/hyperengineering/shelfsync/internal/types"
	"github.com/hyperengineering/shelfsync/internal/validation"
)

// Default list parameters applied when a query omits them.
const (
	DefaultPage  = 1
	DefaultLimit = 10
)

// Broadcaster pushes messages to connected push clients.
type Broadcaster interface {
	Broadcast(msg types.PushMessage) error
	Count() int
}

// SnapshotStatus reports when the catalog was last snapshotted.
type SnapshotStatus interface {
	LastSnapshot() *time.Time
}

// Handler implements the API handlers
type Handler struct {
	store     store.Store
	hub       Broadcaster
	snapshots SnapshotStatus
	version   string
}

// NewHandler creates a new Handler. snapshots may be nil.
func NewHandler(s store.Store, hub Broadcaster, snapshots SnapshotStatus, version string) *Handler {
	return &Handler{
		store:     s,
		hub:       hub,
		snapshots: snapshots,
		version:   version,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		LoggerFromContext(r.Context()).Error("health stats failed", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	resp := types.HealthResponse{
		Status:      "healthy",
		Version:     h.version,
		BookCount:   stats.BookCount,
		PushClients: h.hub.Count(),
	}
	if h.snapshots != nil {
		resp.LastSnapshot = h.snapshots.LastSnapshot()
	}

	writeJSON(w, http.StatusOK, resp)
}

// ProbeBooks handles HEAD /api/books. Clients use it to check reachability.
func (h *Handler) ProbeBooks(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
}

// ListBooks handles GET /api/books
func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	q, errs := parseListQuery(r)
	if len(errs) > 0 {
		WriteBadRequestWithErrors(w, r, "Invalid pagination parameters", errs)
		return
	}

	books, total, err := h.store.ListBooks(r.Context(), q)
	if err != nil {
		if !errors.Is(err, store.ErrInvalidQuery) {
			LoggerFromContext(r.Context()).Error("list books failed", "error", err)
		}
		MapStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, types.BookPage{
		Books:      books,
		Pagination: types.NewPagination(q, total),
	})
}

// GetBook handles GET /api/books/{id}
func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	book, err := h.store.GetBook(r.Context(), id)
	if err != nil {
		h.storeFailure(w, r, "get book failed", id, err)
		return
	}

	writeJSON(w, http.StatusOK, book)
}

// CreateBook handles POST /api/books
func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeBookInput(w, r)
	if !ok {
		return
	}

	book, err := h.store.CreateBook(r.Context(), in)
	if err != nil {
		h.storeFailure(w, r, "create book failed", 0, err)
		return
	}

	LoggerFromContext(r.Context()).Info("book created", "book_id", book.ID)
	h.broadcastCatalog(r)
	writeJSON(w, http.StatusCreated, book)
}

// UpdateBook handles PUT /api/books/{id}
func (h *Handler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	in, ok := decodeBookInput(w, r)
	if !ok {
		return
	}

	book, err := h.store.UpdateBook(r.Context(), id, in)
	if err != nil {
		h.storeFailure(w, r, "update book failed", id, err)
		return
	}

	LoggerFromContext(r.Context()).Info("book updated", "book_id", id)
	h.broadcastCatalog(r)
	writeJSON(w, http.StatusOK, book)
}

// DeleteBook handles DELETE /api/books/{id}
func (h *Handler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteBook(r.Context(), id); err != nil {
		h.storeFailure(w, r, "delete book failed", id, err)
		return
	}

	LoggerFromContext(r.Context()).Info("book deleted", "book_id", id)
	h.broadcastCatalog(r)
	w.WriteHeader(http.StatusNoContent)
}

// broadcastCatalog pushes the full catalog to every push client. Failures
// are logged; the mutation itself already succeeded.
func (h *Handler) broadcastCatalog(r *http.Request) {
	logger := LoggerFromContext(r.Context())

	books, err := h.store.AllBooks(r.Context())
	if err != nil {
		logger.Error("load catalog for broadcast failed", "error", err)
		return
	}
	if err := h.hub.Broadcast(types.BooksMessage(books)); err != nil {
		logger.Error("broadcast catalog failed", "error", err)
	}
}

func (h *Handler) storeFailure(w http.ResponseWriter, r *http.Request, msg string, id int64, err error) {
	if !errors.Is(err, store.ErrNotFound) {
		LoggerFromContext(r.Context()).Error(msg, "error", err, "book_id", id)
	}
	MapStoreError(w, r, err)
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		WriteProblem(w, r, http.StatusBadRequest, "Invalid ID parameter")
		return 0, false
	}
	return id, true
}

// parseListQuery reads page, limit, filter and sort. Missing page and limit
// take their defaults; present values must be integers.
func parseListQuery(r *http.Request) (types.ListQuery, []validation.ValidationError) {
	values := r.URL.Query()
	q := types.ListQuery{
		Page:   DefaultPage,
		Limit:  DefaultLimit,
		Filter: values.Get("filter"),
		Sort:   values.Get("sort"),
	}

	c := &validation.Collector{}
	parseInt := func(field string, dst *int) {
		raw := strings.TrimSpace(values.Get(field))
		if raw == "" {
			return
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.Add(&validation.ValidationError{Field: field, Message: "must be an integer"})
			return
		}
		*dst = n
	}
	parseInt("page", &q.Page)
	parseInt("limit", &q.Limit)
	if c.HasErrors() {
		return q, c.Errors()
	}

	return q, validation.ValidateListQuery(q)
}

// decodeBookInput decodes and validates a request body, writing the problem
// response itself on failure.
func decodeBookInput(w http.ResponseWriter, r *http.Request) (types.BookInput, bool) {
	var in types.BookInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{
				{Field: typeErr.Field, Message: fmt.Sprintf("must be a %s", jsonKind(typeErr.Type.Kind().String()))},
			})
			return in, false
		}
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return in, false
	}

	if errs := validation.ValidateBookInput(in); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return in, false
	}
	return in, true
}

func jsonKind(kind string) string {
	switch kind {
	case "int", "int64":
		return "whole number"
	case "float64":
		return "number"
	default:
		return kind
	}
}
