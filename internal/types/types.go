package types

import (
	"encoding/json"
	"time"
)

// Book is a catalog record as stored and served by the API.
type Book struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	Genre     string    `json:"genre"`
	Price     float64   `json:"price"`
	Rating    int       `json:"rating"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BookInput is the request body for creating or replacing a book.
type BookInput struct {
	Title  string  `json:"title"`
	Author string  `json:"author"`
	Genre  string  `json:"genre"`
	Price  float64 `json:"price"`
	Rating int     `json:"rating"`
}

// ListQuery selects a page of the catalog.
type ListQuery struct {
	Page   int
	Limit  int
	Filter string // substring, or "field:value"
	Sort   string // "field" or "field:asc|desc"
}

// Offset returns the number of rows skipped before the page.
func (q ListQuery) Offset() int {
	if q.Page < 1 {
		return 0
	}
	return (q.Page - 1) * q.Limit
}

// Pagination describes where a page sits in the catalog.
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasMore    bool `json:"hasMore"`
}

// NewPagination computes the pagination block for a page of q out of total rows.
func NewPagination(q ListQuery, total int) Pagination {
	totalPages := 0
	if q.Limit > 0 {
		totalPages = (total + q.Limit - 1) / q.Limit
	}
	return Pagination{
		Page:       q.Page,
		Limit:      q.Limit,
		Total:      total,
		TotalPages: totalPages,
		HasMore:    q.Page < totalPages,
	}
}

// BookPage is the response body of the list endpoint.
type BookPage struct {
	Books      []Book     `json:"books"`
	Pagination Pagination `json:"pagination"`
}

// MarshalJSON ensures nil slices in BookPage marshal as [] not null.
func (p BookPage) MarshalJSON() ([]byte, error) {
	if p.Books == nil {
		p.Books = []Book{}
	}
	type Alias BookPage
	return json.Marshal(Alias(p))
}

// Push message types.
const (
	MessageBooks = "books"
	MessagePing  = "ping"
)

// PushMessage is a server-initiated message sent over the push channel.
type PushMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// BooksMessage builds a full catalog snapshot message.
func BooksMessage(books []Book) PushMessage {
	if books == nil {
		books = []Book{}
	}
	return PushMessage{Type: MessageBooks, Data: books}
}

// PingMessage builds a keepalive message.
func PingMessage() PushMessage {
	return PushMessage{Type: MessagePing}
}

// StoreStats holds aggregate store statistics.
type StoreStats struct {
	BookCount   int64      `json:"book_count"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status       string     `json:"status"`
	Version      string     `json:"version"`
	BookCount    int64      `json:"book_count"`
	PushClients  int        `json:"push_clients"`
	LastSnapshot *time.Time `json:"last_snapshot"`
}
