// Package errx joins package sentinel errors with their causes so callers can
// match on either with errors.Is.
package errx

import (
	"errors"
	"fmt"
)

// Wrap returns an error that matches both sentinel and err.
func Wrap(sentinel, err error) error {
	if err == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// With appends detail to the sentinel's message. The result still matches
// sentinel.
func With(sentinel error, detail string) error {
	return fmt.Errorf("%w%s", sentinel, detail)
}

// Is reports whether err matches any of targets.
func Is(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
