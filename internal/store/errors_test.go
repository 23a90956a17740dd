package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelErrors(t *testing.T) {
	sentinels := []struct {
		name string
		err  error
	}{
		{"ErrNotFound", ErrNotFound},
		{"ErrInvalidQuery", ErrInvalidQuery},
	}

	for _, s := range sentinels {
		t.Run(s.name, func(t *testing.T) {
			require.Error(t, s.err)
			assert.NotEmpty(t, s.err.Error())

			wrapped := fmt.Errorf("operation failed: %w", s.err)
			assert.ErrorIs(t, wrapped, s.err)
		})
	}
}

func TestSentinelErrors_Distinct(t *testing.T) {
	assert.NotErrorIs(t, ErrNotFound, ErrInvalidQuery)
	assert.NotErrorIs(t, fmt.Errorf("%w: unknown sort field", ErrInvalidQuery), ErrNotFound)
}
