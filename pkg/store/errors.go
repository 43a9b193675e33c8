package store

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by stores and adapters after Shutdown/Close.
	ErrClosed = errors.New("store: closed")

	// ErrInvalidKey is returned for empty keys.
	ErrInvalidKey = errors.New("store: invalid key")
)

// BackendError reports a failure of the last backend tried for an operation.
// Primary failures never surface as BackendError; they are absorbed by failover.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("store: %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
