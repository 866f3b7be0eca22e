package shelfsync

import (
	"errors"
	"fmt"
)

// Common sentinel errors for the shelfsync package.
var (
	// ErrSyncDisabled is returned when sync operations are attempted while
	// no remote endpoint is configured.
	ErrSyncDisabled = errors.New("synchronization is disabled")

	// ErrStoreClosed is returned when operations are attempted on a closed
	// catalog store.
	ErrStoreClosed = errors.New("catalog store is closed")

	// ErrProductNotFound is returned when a lookup by identity key finds
	// no entity.
	ErrProductNotFound = errors.New("product not found")

	// ErrEngineRunning is returned when Start is called on an engine that
	// already has a worker loop.
	ErrEngineRunning = errors.New("sync engine already running")
)

// TransportError describes a failed exchange with the remote catalog
// service. Temporary errors (timeouts, connection failures, 5xx) are
// retried indefinitely at the poll interval; the distinction only shapes
// the in-call retry policy.
type TransportError struct {
	// Op is the operation that failed ("mutate", "pull").
	Op string
	// Status is the HTTP status code, if a response was received.
	Status int
	// Temporary marks errors worth retrying within the same call.
	Temporary bool
	// Cause is the underlying error, if any.
	Cause error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0 && e.Cause != nil:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Cause)
	case e.Status != 0:
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Status)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Cause)
	default:
		return e.Op + ": transport error"
	}
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// IsTemporary reports whether err is a transport error worth retrying
// within the same network call.
func IsTemporary(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Temporary
	}
	return false
}

// StoreError describes a local catalog store failure.
type StoreError struct {
	// Op is the store operation that failed ("apply", "meta", "get").
	Op string
	// Key is the identity key involved, if any.
	Key string
	// Cause is the underlying error.
	Cause error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store %s [%s]: %v", e.Op, e.Key, e.Cause)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Cause)
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

func newStoreError(op, key string, cause error) *StoreError {
	return &StoreError{Op: op, Key: key, Cause: cause}
}
