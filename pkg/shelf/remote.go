package shelf

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// FieldError is a single field failure reported by the remote API.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError is a non-2xx response from the remote API. The fields mirror the
// RFC 7807 problem document the API returns.
type APIError struct {
	StatusCode int          `json:"status"`
	Title      string       `json:"title"`
	Detail     string       `json:"detail"`
	Errors     []FieldError `json:"errors,omitempty"`
}

func (e *APIError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = e.Title
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("remote api: %d %s", e.StatusCode, msg)
}

// IsValidationError reports whether err is a request the remote API rejected
// and that cannot succeed when retried unchanged: a 4xx other than 404, 408
// and 429, or a local *ValidationError.
func IsValidationError(err error) bool {
	var local *ValidationError
	if errors.As(err, &local) {
		return true
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusNotFound, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}

// IsNotFound reports whether err is a 404 from the remote API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Remote is the client for the remote book API.
type Remote struct {
	baseURL string
	client  *http.Client
}

// NewRemote creates a Remote for the API rooted at baseURL.
func NewRemote(baseURL string, client *http.Client) *Remote {
	if client == nil {
		client = http.DefaultClient
	}
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// BaseURL returns the API root.
func (r *Remote) BaseURL() string {
	return r.baseURL
}

// ListBooks fetches one page of the catalog.
func (r *Remote) ListBooks(ctx context.Context, p ListParams) (*BookPage, error) {
	q := url.Values{}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Filter != "" {
		q.Set("filter", p.Filter)
	}
	if p.Sort != "" {
		q.Set("sort", p.Sort)
	}

	path := "/books"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page BookPage
	if err := r.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	if page.Books == nil {
		page.Books = []Book{}
	}
	return &page, nil
}

// GetBook fetches a single book.
func (r *Remote) GetBook(ctx context.Context, id int64) (*Book, error) {
	var book Book
	if err := r.do(ctx, http.MethodGet, bookPath(id), nil, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

// CreateBook creates a book and returns it with its server-assigned ID.
func (r *Remote) CreateBook(ctx context.Context, in BookInput) (*Book, error) {
	var book Book
	if err := r.do(ctx, http.MethodPost, "/books", in, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

// UpdateBook replaces the attributes of a book.
func (r *Remote) UpdateBook(ctx context.Context, id int64, in BookInput) (*Book, error) {
	var book Book
	if err := r.do(ctx, http.MethodPut, bookPath(id), in, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

// DeleteBook deletes a book.
func (r *Remote) DeleteBook(ctx context.Context, id int64) error {
	return r.do(ctx, http.MethodDelete, bookPath(id), nil, nil)
}

// Probe issues a HEAD request against the collection. Any response below
// 500 means the API is up.
func (r *Remote) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.baseURL+"/books", nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return &APIError{StatusCode: resp.StatusCode}
	}
	return nil
}

func bookPath(id int64) string {
	return "/books/" + strconv.FormatInt(id, 10)
}

// do sends a JSON request and decodes a JSON response into out (if non-nil).
func (r *Remote) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if len(data) == 0 {
		return apiErr
	}

	var body struct {
		Title  string       `json:"title"`
		Detail string       `json:"detail"`
		Errors []FieldError `json:"errors"`
		Error  string       `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return apiErr
	}
	apiErr.Title = body.Title
	apiErr.Detail = body.Detail
	apiErr.Errors = body.Errors
	if apiErr.Detail == "" {
		apiErr.Detail = body.Error
	}
	return apiErr
}
