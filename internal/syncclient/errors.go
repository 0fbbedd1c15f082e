package syncclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
)

// Re-export the error tags so callers compare against a single symbol.
var (
	ErrNotFound       = model.ErrNotFound
	ErrConflict       = model.ErrConflict
	ErrUnauthorized   = model.ErrUnauthorized
	ErrUnavailable    = model.ErrUnavailable
	ErrValidation     = model.ErrValidation
	ErrMalformedEvent = model.ErrMalformedEvent
)

// ErrClosed is returned by operations on a closed client.
var ErrClosed = fmt.Errorf("%w: client closed", model.ErrUnavailable)

var tags = []error{ErrNotFound, ErrConflict, ErrUnauthorized, ErrUnavailable, ErrValidation, ErrMalformedEvent}

// classify guarantees err carries one of the tags. Deadlines and untagged
// store failures become ErrUnavailable; caller cancellation passes through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, tag := range tags {
		if errors.Is(err, tag) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// resultLabel names err's tag for metrics.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "unavailable"
	}
}

// IsRetryable reports whether the caller may retry err with backoff.
func IsRetryable(err error) bool { return errors.Is(err, ErrUnavailable) }
