package transport

import (
	"errors"
	"fmt"
	"strings"
)

// FatalError marks a provider failure that retrying cannot fix, such
// as a revoked pairing. The session manager counts these against the
// critical threshold.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fatal transport error: %s: %v", e.Reason, e.Err)
	}
	return "fatal transport error: " + e.Reason
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps an error as non-retryable.
func Fatal(reason string, err error) error {
	return &FatalError{Reason: reason, Err: err}
}

// IsFatal reports whether the error is non-retryable. Besides the
// explicit marker, known-unrecoverable provider phrases count.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range []string{"logged out", "unauthorized", "banned", "401", "403"} {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
