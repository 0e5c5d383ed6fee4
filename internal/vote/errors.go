package vote

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateVote      = errors.New("active vote already exists for requester")
	ErrNotOpen            = errors.New("vote is not open")
	ErrNotExpired         = errors.New("vote has not expired yet")
	ErrAlreadyClaimed     = errors.New("vote already claimed for finalization")
	ErrClaimLost          = errors.New("vote claim no longer held")
	ErrVoteAlreadyStopped = errors.New("vote already stopped")
	ErrSweepInProgress    = errors.New("sweep already running elsewhere")
)

// TransportError reports a failed call against the chat platform.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StoreError reports a failed persistence call. It is fatal to the operation
// that hit it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err came from the chat platform.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsStoreError reports whether err came from the record store.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
