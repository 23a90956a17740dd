package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperengineering/shelfsync/internal/types"
)

// Field limits for book attributes.
const (
	MaxTextLength = 255
	MinRating     = 1
	MaxRating     = 5
	MaxPageLimit  = 100
)

// SortFields lists the fields a list request may sort by.
var SortFields = []string{"id", "title", "author", "genre", "price", "rating"}

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// ValidateUTF8 returns an error if the value is not valid UTF-8.
func ValidateUTF8(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{
			Field:   field,
			Message: "must be valid UTF-8",
		}
	}
	return nil
}

// ValidateNoNullBytes returns an error if the value contains null bytes.
func ValidateNoNullBytes(field, value string) *ValidationError {
	if strings.Contains(value, "\x00") {
		return &ValidationError{
			Field:   field,
			Message: "must not contain null bytes",
		}
	}
	return nil
}

// ValidateMaxLength returns an error if the value exceeds max runes.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", max),
		}
	}
	return nil
}

// ValidateRequired returns an error if the value is empty or whitespace-only.
func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{
			Field:   field,
			Message: "is required",
		}
	}
	return nil
}

// ValidateEnum returns an error if the value is not in the allowed list.
func ValidateEnum(field, value string, allowed []string) *ValidationError {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateMin returns an error if the value is below min.
func ValidateMin(field string, value, min float64) *ValidationError {
	if value < min {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be at least %g", min),
		}
	}
	return nil
}

// ValidateIntRange returns an error if the value is outside [min, max].
func ValidateIntRange(field string, value, min, max int) *ValidationError {
	if value < min || value > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be between %d and %d, got %d", min, max, value),
		}
	}
	return nil
}

func validateText(c *Collector, field, value string) {
	if err := ValidateRequired(field, value); err != nil {
		c.Add(err)
		return
	}
	c.Add(ValidateUTF8(field, value))
	c.Add(ValidateNoNullBytes(field, value))
	c.Add(ValidateMaxLength(field, value, MaxTextLength))
}

// ValidateBookInput checks every attribute of a create or update body and
// returns all failures.
func ValidateBookInput(in types.BookInput) []ValidationError {
	c := &Collector{}
	validateText(c, "title", in.Title)
	validateText(c, "author", in.Author)
	validateText(c, "genre", in.Genre)
	c.Add(ValidateMin("price", in.Price, 0))
	c.Add(ValidateIntRange("rating", in.Rating, MinRating, MaxRating))
	return c.Errors()
}

// ValidateListQuery checks page, limit and sort of a list request.
func ValidateListQuery(q types.ListQuery) []ValidationError {
	c := &Collector{}
	if q.Page < 1 {
		c.Add(&ValidationError{Field: "page", Message: "must be a positive integer"})
	}
	c.Add(ValidateIntRange("limit", q.Limit, 1, MaxPageLimit))
	c.Add(ValidateNoNullBytes("filter", q.Filter))

	if sort := strings.TrimSpace(q.Sort); sort != "" {
		field, dir, hasDir := strings.Cut(sort, ":")
		c.Add(ValidateEnum("sort", strings.ToLower(field), SortFields))
		if hasDir {
			c.Add(ValidateEnum("sort", strings.ToLower(dir), []string{"asc", "desc"}))
		}
	}
	return c.Errors()
}
