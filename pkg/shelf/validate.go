package shelf

import (
	"fmt"
	"strings"
)

// ValidationError lists the field failures of a rejected input.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// validateInput checks the attribute rules the remote API enforces, so that
// an input that can never be accepted is not queued for later.
func validateInput(in BookInput) error {
	var errs []FieldError
	for _, f := range []struct {
		name  string
		value string
	}{
		{"title", in.Title},
		{"author", in.Author},
		{"genre", in.Genre},
	} {
		if strings.TrimSpace(f.value) == "" {
			errs = append(errs, FieldError{Field: f.name, Message: "is required"})
		}
	}
	if in.Price < 0 {
		errs = append(errs, FieldError{Field: "price", Message: "must be non-negative"})
	}
	if in.Rating < 1 || in.Rating > 5 {
		errs = append(errs, FieldError{
			Field:   "rating",
			Message: fmt.Sprintf("must be between 1 and 5, got %d", in.Rating),
		})
	}
	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}
