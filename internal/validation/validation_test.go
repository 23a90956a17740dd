package validation

import (
	"strings"
	"testing"

	"github.com/hyperengineering/shelfsync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Primitive Tests ---

func TestValidateUTF8(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"ascii", "hello world", false},
		{"empty", "", false},
		{"unicode", "Hello, 世界", false},
		{"invalid bytes", string([]byte{0xff, 0xfe}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUTF8("title", tt.value)
			if !tt.wantErr {
				assert.Nil(t, err)
				return
			}
			require.NotNil(t, err)
			assert.Equal(t, "title", err.Field)
		})
	}
}

func TestValidateNoNullBytes(t *testing.T) {
	assert.Nil(t, ValidateNoNullBytes("title", "clean"))
	assert.NotNil(t, ValidateNoNullBytes("title", "bad\x00title"))
}

func TestValidateMaxLength(t *testing.T) {
	assert.Nil(t, ValidateMaxLength("title", strings.Repeat("a", 255), 255), "at the limit")
	assert.NotNil(t, ValidateMaxLength("title", strings.Repeat("a", 256), 255), "over the limit")
	assert.Nil(t, ValidateMaxLength("title", strings.Repeat("👋", 255), 255), "counts runes, not bytes")
}

func TestValidateRequired(t *testing.T) {
	assert.Nil(t, ValidateRequired("title", "Dune"))
	assert.NotNil(t, ValidateRequired("title", ""))
	assert.NotNil(t, ValidateRequired("title", "   \t\n"), "whitespace only")
}

func TestValidateEnum(t *testing.T) {
	assert.Nil(t, ValidateEnum("sort", "title", SortFields))

	err := ValidateEnum("sort", "isbn", SortFields)
	require.NotNil(t, err)
	assert.Contains(t, err.Message, "title", "message lists the allowed values")
}

func TestValidateMin(t *testing.T) {
	assert.Nil(t, ValidateMin("price", 0, 0))
	assert.NotNil(t, ValidateMin("price", -0.01, 0))
}

func TestValidateIntRange(t *testing.T) {
	tests := []struct {
		value   int
		wantErr bool
	}{
		{0, true},
		{1, false},
		{3, false},
		{5, false},
		{6, true},
	}

	for _, tt := range tests {
		err := ValidateIntRange("rating", tt.value, 1, 5)
		assert.Equal(t, tt.wantErr, err != nil, "ValidateIntRange(%d) = %v", tt.value, err)
	}

	err := ValidateIntRange("rating", 7, 1, 5)
	require.NotNil(t, err)
	assert.Equal(t, "must be between 1 and 5, got 7", err.Message)
}

// --- Collector Tests ---

func TestCollector_IgnoresNil(t *testing.T) {
	c := &Collector{}
	c.Add(nil)
	c.Add(&ValidationError{Field: "field", Message: "error"})
	c.Add(nil)

	assert.Len(t, c.Errors(), 1)
	assert.True(t, c.HasErrors())
}

func TestCollector_Empty(t *testing.T) {
	c := &Collector{}
	assert.False(t, c.HasErrors())
	assert.Empty(t, c.Errors())
}

// --- ValidateBookInput Tests ---

func validInput() types.BookInput {
	return types.BookInput{Title: "Dune", Author: "Frank Herbert", Genre: "Sci-Fi", Price: 9.99, Rating: 5}
}

func fields(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Field
	}
	return out
}

func TestValidateBookInput_Valid(t *testing.T) {
	assert.Empty(t, ValidateBookInput(validInput()))
}

func TestValidateBookInput_FreeBookAllowed(t *testing.T) {
	in := validInput()
	in.Price = 0
	assert.Empty(t, ValidateBookInput(in))
}

func TestValidateBookInput_FieldErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.BookInput)
		field  string
	}{
		{"missing title", func(in *types.BookInput) { in.Title = "" }, "title"},
		{"blank author", func(in *types.BookInput) { in.Author = "   " }, "author"},
		{"missing genre", func(in *types.BookInput) { in.Genre = "" }, "genre"},
		{"title too long", func(in *types.BookInput) { in.Title = strings.Repeat("x", MaxTextLength+1) }, "title"},
		{"null byte in author", func(in *types.BookInput) { in.Author = "a\x00b" }, "author"},
		{"invalid utf8 genre", func(in *types.BookInput) { in.Genre = string([]byte{0xff}) }, "genre"},
		{"negative price", func(in *types.BookInput) { in.Price = -1 }, "price"},
		{"rating zero", func(in *types.BookInput) { in.Rating = 0 }, "rating"},
		{"rating too high", func(in *types.BookInput) { in.Rating = 6 }, "rating"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)

			assert.Equal(t, []string{tt.field}, fields(ValidateBookInput(in)))
		})
	}
}

func TestValidateBookInput_AllFieldsInvalid(t *testing.T) {
	got := fields(ValidateBookInput(types.BookInput{Price: -5, Rating: 9}))

	for _, field := range []string{"title", "author", "genre", "price", "rating"} {
		assert.Contains(t, got, field)
	}
}

// --- ValidateListQuery Tests ---

func TestValidateListQuery(t *testing.T) {
	tests := []struct {
		name  string
		query types.ListQuery
		field string
	}{
		{"valid", types.ListQuery{Page: 1, Limit: 10}, ""},
		{"valid sort", types.ListQuery{Page: 2, Limit: 100, Sort: "Title:DESC"}, ""},
		{"zero page", types.ListQuery{Page: 0, Limit: 10}, "page"},
		{"zero limit", types.ListQuery{Page: 1, Limit: 0}, "limit"},
		{"limit too large", types.ListQuery{Page: 1, Limit: MaxPageLimit + 1}, "limit"},
		{"unknown sort field", types.ListQuery{Page: 1, Limit: 10, Sort: "isbn"}, "sort"},
		{"unknown direction", types.ListQuery{Page: 1, Limit: 10, Sort: "title:up"}, "sort"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateListQuery(tt.query)
			if tt.field == "" {
				assert.Empty(t, errs)
				return
			}
			assert.Contains(t, fields(errs), tt.field)
		})
	}
}
