package venue

import (
	"errors"
	"fmt"
)

// ErrorKind buckets adapter failures for logging and retry decisions.
type ErrorKind string

const (
	KindNetwork   ErrorKind = "network"
	KindAuth      ErrorKind = "auth"
	KindRateLimit ErrorKind = "rate_limit"
	KindVenue     ErrorKind = "venue"
	KindDecode    ErrorKind = "decode"
)

// AdapterError is the single error type adapters surface. The engine never
// sees raw transport or venue errors.
type AdapterError struct {
	Venue string
	Op    string
	Kind  ErrorKind
	Err   error
}

func (e *AdapterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Venue, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Venue, e.Op, e.Kind)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewError wraps err as an AdapterError.
func NewError(venue, op string, kind ErrorKind, err error) *AdapterError {
	return &AdapterError{Venue: venue, Op: op, Kind: kind, Err: err}
}

// Errorf builds an AdapterError from a format string.
func Errorf(venue, op string, kind ErrorKind, format string, args ...any) *AdapterError {
	return &AdapterError{Venue: venue, Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the error kind, or KindNetwork for errors that never passed
// through an adapter.
func KindOf(err error) ErrorKind {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindNetwork
}

// IsRetryable reports whether a fresh attempt could succeed. Only idempotent
// reads consult this; placements never retry.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindRateLimit:
		return true
	default:
		return false
	}
}
