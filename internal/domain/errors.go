package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned when a request is missing required fields.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnsupportedCriteria is returned for a language, topic, or complexity
	// outside the configured set. Rejected before any network call.
	ErrUnsupportedCriteria = errors.New("unsupported criteria")
	// ErrNoTaskAvailable means the request was valid but every candidate is
	// already completed (or the provider returned none).
	ErrNoTaskAvailable = errors.New("no task available")
	// ErrAlreadyCompleted is returned when the user has already submitted an
	// answer for the task.
	ErrAlreadyCompleted = errors.New("task already completed")
	// ErrUpstreamUnavailable indicates a network failure or timeout reaching
	// the labeling provider.
	ErrUpstreamUnavailable = errors.New("upstream provider unavailable")
	// ErrUpstreamRejected indicates the provider answered with a non-success status.
	ErrUpstreamRejected = errors.New("upstream provider rejected request")
	// ErrUpstreamMalformed indicates the provider response could not be parsed.
	ErrUpstreamMalformed = errors.New("upstream provider response malformed")
	// ErrStorageFailure indicates a ledger read or write error.
	ErrStorageFailure = errors.New("ledger storage failure")
	// ErrProfileNotFound is returned when the profile subsystem has no entry
	// for the user.
	ErrProfileNotFound = errors.New("profile not found")
)

// PartialCommitError reports that the upstream provider accepted the answer
// but the local ledger append failed. Callers must not resubmit the task:
// upstream already has the solution.
type PartialCommitError struct {
	Record SubmissionRecord
	Err    error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("upstream accepted task %s but local commit failed: %v", e.Record.TaskID, e.Err)
}

func (e *PartialCommitError) Unwrap() error { return e.Err }
