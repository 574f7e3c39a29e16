package types

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvalidErrorsWrapNotFound(t *testing.T) {
	for _, err := range []error{ErrInvalidShortID, ErrInvalidChannelID, ErrInvalidClaimID} {
		assert.ErrorIs(t, err, ErrNotFound, "%v should wrap ErrNotFound", err)
	}
	assert.NotErrorIs(t, ErrUnsupported, ErrNotFound)
	assert.NotErrorIs(t, ErrIntegrity, ErrNotFound)
}

func TestWrapTimeout(t *testing.T) {
	assert.NoError(t, WrapTimeout(nil))

	plain := errors.New("connection refused")
	assert.Same(t, plain, WrapTimeout(plain))

	deadline := fmt.Errorf("querying claims: %w", context.DeadlineExceeded)
	wrapped := WrapTimeout(deadline)
	assert.ErrorIs(t, wrapped, ErrTimeout)
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)
	assert.NotErrorIs(t, wrapped, ErrNotFound)

	// Already tagged errors are not wrapped twice.
	assert.Same(t, wrapped, WrapTimeout(wrapped))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"not found", ErrNotFound, false},
		{"invalid short id", fmt.Errorf("resolving: %w", ErrInvalidShortID), false},
		{"unsupported", ErrUnsupported, false},
		{"integrity", ErrIntegrity, false},
		{"canceled", context.Canceled, false},
		{"timeout", WrapTimeout(context.DeadlineExceeded), true},
		{"provider", fmt.Errorf("%w: daemon busy", ErrProvider), true},
		{"store failure", errors.New("disk I/O error"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
