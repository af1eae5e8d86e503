package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a backend failure. Classification happens once, at
// the provider boundary; callers branch on the kind and never re-classify.
type ErrorKind int

const (
	// KindAuth marks bad or expired credentials. Never retried.
	KindAuth ErrorKind = iota
	// KindNotFound marks a missing bucket or object.
	KindNotFound
	// KindNetwork marks connectivity failures and timeouts. Retryable.
	KindNetwork
	// KindThrottled marks rate limiting and 5xx responses. Retryable.
	KindThrottled
	// KindChecksumMismatch marks a verification failure on copied data.
	KindChecksumMismatch
	// KindConfiguration marks a malformed endpoint or profile, detected
	// before any network call.
	KindConfiguration
	// KindUnsupported marks an operation the provider cannot perform.
	KindUnsupported
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindNetwork:
		return "network"
	case KindThrottled:
		return "throttled"
	case KindChecksumMismatch:
		return "checksum_mismatch"
	case KindConfiguration:
		return "configuration"
	case KindUnsupported:
		return "unsupported"
	}
	return "unknown"
}

// Error wraps a provider-native failure with its classified kind and the
// operation that produced it.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified storage error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the classification from err, defaulting to KindNetwork
// for plain transport-level errors that escaped classification.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	return KindNetwork
}

// Is reports whether err carries the given kind.
func Is(err error, kind ErrorKind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == kind
}

// IsRetryable reports whether the failure is transient: network faults and
// throttling retry with backoff, everything else fails fast.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == KindNetwork || se.Kind == KindThrottled
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
