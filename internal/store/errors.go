package store

import "errors"

var (
	ErrNotFound     = errors.New("book not found")
	ErrInvalidQuery = errors.New("invalid list query")
)
