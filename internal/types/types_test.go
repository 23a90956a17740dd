package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBook_JSONRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	book := Book{
		ID:        42,
		Title:     "Dune",
		Author:    "Frank Herbert",
		Genre:     "Sci-Fi",
		Price:     9.99,
		Rating:    5,
		CreatedAt: now,
		UpdatedAt: now,
	}

	data, err := json.Marshal(book)
	require.NoError(t, err)

	var decoded Book
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, book.ID, decoded.ID)
	assert.Equal(t, book.Title, decoded.Title)
	assert.Equal(t, book.Price, decoded.Price)
	assert.Equal(t, book.Rating, decoded.Rating)
	assert.True(t, decoded.CreatedAt.Equal(book.CreatedAt), "CreatedAt: got %v, want %v", decoded.CreatedAt, book.CreatedAt)
	assert.Contains(t, string(data), `"createdAt"`)
}

func TestBookPage_NilBooksMarshalAsEmptyArray(t *testing.T) {
	data, err := json.Marshal(BookPage{Pagination: Pagination{Page: 1, Limit: 10}})
	require.NoError(t, err)

	assert.Contains(t, string(data), `"books":[]`)
	assert.Contains(t, string(data), `"totalPages":0`, "pagination keys are camelCase")
}

func TestNewPagination(t *testing.T) {
	tests := []struct {
		name      string
		query     ListQuery
		total     int
		wantPages int
		wantMore  bool
	}{
		{"empty catalog", ListQuery{Page: 1, Limit: 10}, 0, 0, false},
		{"single partial page", ListQuery{Page: 1, Limit: 10}, 7, 1, false},
		{"first of three", ListQuery{Page: 1, Limit: 10}, 25, 3, true},
		{"last of three", ListQuery{Page: 3, Limit: 10}, 25, 3, false},
		{"exact multiple", ListQuery{Page: 2, Limit: 5}, 10, 2, false},
		{"beyond the end", ListQuery{Page: 9, Limit: 5}, 10, 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPagination(tt.query, tt.total)
			assert.Equal(t, tt.wantPages, p.TotalPages)
			assert.Equal(t, tt.wantMore, p.HasMore)
			assert.Equal(t, tt.total, p.Total)
		})
	}
}

func TestListQuery_Offset(t *testing.T) {
	assert.Equal(t, 20, ListQuery{Page: 3, Limit: 10}.Offset())
	assert.Equal(t, 0, ListQuery{Page: 0, Limit: 10}.Offset(), "page 0 starts at the beginning")
}

func TestPushMessages(t *testing.T) {
	data, err := json.Marshal(BooksMessage(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"books","data":[]}`, string(data))

	data, err = json.Marshal(PingMessage())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping"}`, string(data))
}
