package shelf

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemote_ListBooksSendsParams(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/books", r.URL.Path)
		gotQuery = map[string]string{
			"page":   r.URL.Query().Get("page"),
			"limit":  r.URL.Query().Get("limit"),
			"filter": r.URL.Query().Get("filter"),
			"sort":   r.URL.Query().Get("sort"),
		}
		json.NewEncoder(w).Encode(BookPage{
			Books:      []Book{sampleBook(1, "Dune")},
			Pagination: Pagination{Page: 2, Limit: 5, Total: 6, TotalPages: 2},
		})
	}))
	defer srv.Close()

	r := NewRemote(srv.URL+"/api/", nil)
	page, err := r.ListBooks(context.Background(), ListParams{Page: 2, Limit: 5, Filter: "author:herbert", Sort: "title:desc"})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"page": "2", "limit": "5", "filter": "author:herbert", "sort": "title:desc"}, gotQuery)
	assert.Equal(t, []Book{sampleBook(1, "Dune")}, page.Books)
	assert.Equal(t, 6, page.Pagination.Total)
}

func TestRemote_CRUD(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/books":
			var in BookInput
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(in.WithID(11))
		case r.Method == http.MethodPut && r.URL.Path == "/books/11":
			var in BookInput
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			json.NewEncoder(w).Encode(in.WithID(11))
		case r.Method == http.MethodGet && r.URL.Path == "/books/11":
			json.NewEncoder(w).Encode(sampleBook(11, "Dune"))
		case r.Method == http.MethodDelete && r.URL.Path == "/books/11":
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, srv.Client())
	ctx := context.Background()

	created, err := r.CreateBook(ctx, sampleBook(0, "Dune").Input())
	require.NoError(t, err)
	assert.Equal(t, int64(11), created.ID)

	updated, err := r.UpdateBook(ctx, 11, sampleBook(0, "Dune II").Input())
	require.NoError(t, err)
	assert.Equal(t, "Dune II", updated.Title)

	got, err := r.GetBook(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, "Dune", got.Title)

	require.NoError(t, r.DeleteBook(ctx, 11))
}

func TestRemote_DecodesProblemDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"type":"about:blank","title":"Unprocessable Entity","status":422,
			"detail":"Validation failed","errors":[{"field":"rating","message":"must be between 1 and 5"}]}`))
	}))
	defer srv.Close()

	_, err := NewRemote(srv.URL, nil).CreateBook(context.Background(), BookInput{})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "Validation failed", apiErr.Detail)
	require.Len(t, apiErr.Errors, 1)
	assert.Equal(t, "rating", apiErr.Errors[0].Field)
	assert.True(t, IsValidationError(err))
}

func TestRemote_DecodesLegacyErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"Title is required"}`))
	}))
	defer srv.Close()

	_, err := NewRemote(srv.URL, nil).CreateBook(context.Background(), BookInput{})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Title is required", apiErr.Detail)
	assert.Contains(t, err.Error(), "400")
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		validation bool
		notFound   bool
	}{
		{"nil", nil, false, false},
		{"transport", errors.New("connection refused"), false, false},
		{"400", &APIError{StatusCode: 400}, true, false},
		{"404", &APIError{StatusCode: 404}, false, true},
		{"408", &APIError{StatusCode: 408}, false, false},
		{"422", &APIError{StatusCode: 422}, true, false},
		{"429", &APIError{StatusCode: 429}, false, false},
		{"500", &APIError{StatusCode: 500}, false, false},
		{"local", &ValidationError{Errors: []FieldError{{Field: "title", Message: "is required"}}}, true, false},
		{"wrapped", errors.Join(errors.New("ctx"), &APIError{StatusCode: 409}), true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.validation, IsValidationError(tt.err))
			assert.Equal(t, tt.notFound, IsNotFound(tt.err))
		})
	}
}

func TestRemote_Probe(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Equal(t, "/books", r.URL.Path)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, nil)

	assert.NoError(t, r.Probe(context.Background()))

	status.Store(http.StatusUnauthorized)
	assert.NoError(t, r.Probe(context.Background()), "a 4xx still means the server is up")

	status.Store(http.StatusServiceUnavailable)
	assert.Error(t, r.Probe(context.Background()))
}
