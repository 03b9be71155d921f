package queue

import (
	"errors"
	"fmt"
	"time"
)

// unrecoverableError wraps a step failure that retrying cannot fix. The
// runner fails the operation immediately instead of burning the retry budget.
type unrecoverableError struct {
	err error
}

func (e *unrecoverableError) Error() string { return e.err.Error() }
func (e *unrecoverableError) Unwrap() error { return e.err }

// Unrecoverable marks err as a permanent failure.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return &unrecoverableError{err: err}
}

// IsUnrecoverable reports whether err carries the permanent failure marker.
func IsUnrecoverable(err error) bool {
	var ue *unrecoverableError
	return errors.As(err, &ue)
}

// ErrDiscard tells the runner to drop the job without touching the
// operation. Used for stale redeliveries of jobs whose operation already
// reached a terminal state.
var ErrDiscard = errors.New("discard job")

// waitingError wraps the condition a step is polling for (a CloudFront
// deployment, a pending ACME order). The runner reschedules the step after
// the given delay without consuming a retry attempt.
type waitingError struct {
	err   error
	delay time.Duration
}

func (e *waitingError) Error() string { return fmt.Sprintf("waiting: %s", e.err) }
func (e *waitingError) Unwrap() error { return e.err }

// Waiting marks err as a routine wait rather than a failure.
func Waiting(err error, delay time.Duration) error {
	if err == nil {
		return nil
	}
	return &waitingError{err: err, delay: delay}
}

// WaitDelay extracts the wait marker, returning ok=false for real failures.
func WaitDelay(err error) (time.Duration, bool) {
	var we *waitingError
	if errors.As(err, &we) {
		return we.delay, true
	}
	return 0, false
}
