package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{"nil", nil, ""},
		{"not found", fmt.Errorf("posting not found: %w", ErrNotFound), CategoryNotFound},
		{"invalid state", fmt.Errorf("not all tasks completed: %w", ErrInvalidState), CategoryInvalidState},
		{"conflict", fmt.Errorf("item already reserved: %w", ErrConflict), CategoryConflict},
		{"invalid transition", fmt.Errorf("task is terminal: %w", ErrInvalidTransition), CategoryInvalidTransition},
		{"validation", fmt.Errorf("percentage out of range: %w", ErrValidation), CategoryValidation},
		{"internal", errors.New("connection reset"), CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Kind(tt.err))
		})
	}
}

func TestKind_DoubleWrapped(t *testing.T) {
	inner := fmt.Errorf("item not found: %w", ErrNotFound)
	outer := fmt.Errorf("create posting: %w", inner)

	assert.Equal(t, CategoryNotFound, Kind(outer))
}
