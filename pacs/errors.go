package pacs

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by query operations when the backend has no entry
// for the requested identifier.
var ErrNotFound = errors.New("not found on backend")

// ConnectionError wraps a network or timeout failure. Retryable.
type ConnectionError struct {
	Backend string
	Op      string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %s: connection failed: %v", e.Backend, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthError means the backend rejected our credentials. Fatal, never retried:
// it will fail for every subsequent order too.
type AuthError struct {
	Backend string
	Status  int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication rejected (status %d)", e.Backend, e.Status)
}

// ValidationError means the backend rejected the payload shape. Fatal, never
// retried: the defect has to be fixed upstream.
type ValidationError struct {
	Backend string
	Status  int
	Body    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: backend rejected payload (status %d): %s", e.Backend, e.Status, e.Body)
}

// ConflictError means the accession number already exists on the backend.
// Adapters translate this into a successful, duplicate-flagged PublishResult.
type ConflictError struct {
	Backend         string
	AccessionNumber string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: accession number %s already present", e.Backend, e.AccessionNumber)
}

// Retryable reports whether the orchestrator may retry the operation that
// produced err. Only transient connection failures qualify.
func Retryable(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}
