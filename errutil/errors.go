// Package errutil holds the error taxonomy shared by every record manager
// and helpers to log and assert oops-built errors.
package errutil

import (
	"errors"
	"log/slog"

	"github.com/samber/oops"
)

var (
	// ErrNotFound signals that a referenced id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState signals an operation that is not legal from the current status.
	ErrInvalidState = errors.New("invalid state")
	// ErrConflict signals a write that would break a per-property uniqueness rule
	// or that lost a race with a concurrent writer.
	ErrConflict = errors.New("conflict")
	// ErrValidation signals malformed input.
	ErrValidation = errors.New("validation failed")
)

var taxonomy = []error{ErrNotFound, ErrInvalidState, ErrConflict, ErrValidation}

// Kind returns the taxonomy sentinel err belongs to, or nil for
// infrastructure failures.
func Kind(err error) error {
	for _, k := range taxonomy {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Code returns the oops code attached to err, or "" if there is none.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

// LogError logs an error with structured context if it's an oops error.
func LogError(logger *slog.Logger, msg string, err error) {
	if oopsErr, ok := oops.AsOops(err); ok {
		attrs := []any{
			"error", oopsErr.Error(),
		}
		if code := oopsErr.Code(); code != nil {
			attrs = append(attrs, "code", code)
		}
		if ctx := oopsErr.Context(); len(ctx) > 0 {
			attrs = append(attrs, "context", ctx)
		}
		logger.Error(msg, attrs...)
		return
	}
	logger.Error(msg, "error", err)
}
