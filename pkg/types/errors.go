package types

import (
	"context"
	"errors"
	"fmt"
)

// Lookup errors. The Invalid* errors all wrap ErrNotFound so callers can
// test for a miss with errors.Is(err, ErrNotFound).
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidShortID   = fmt.Errorf("invalid short id: %w", ErrNotFound)
	ErrInvalidChannelID = fmt.Errorf("invalid channel id: %w", ErrNotFound)
	ErrInvalidClaimID   = fmt.Errorf("invalid claim id: %w", ErrNotFound)
	ErrInvalidName      = errors.New("invalid name")
)

// Resolution errors.
var (
	ErrUnsupported = errors.New("channel names are not currently supported")
	ErrIntegrity   = errors.New("claim index integrity violation")
	ErrTimeout     = errors.New("collaborator timed out")
	ErrProvider    = errors.New("content provider error")
	ErrClosed      = errors.New("store is closed")
)

// WrapTimeout tags err with ErrTimeout when it was caused by an expired
// deadline, keeping the original cause in the chain.
func WrapTimeout(err error) error {
	if err == nil || errors.Is(err, ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

// IsRetryable reports whether err is a collaborator failure that a caller
// may retry. Misses, unsupported operations, integrity violations and
// caller cancellation are never retryable.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrUnsupported),
		errors.Is(err, ErrIntegrity),
		errors.Is(err, ErrInvalidName),
		errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}
