package core

import "errors"

var (
	// ErrInvalidEndpoint is returned before any network call when the base URL is unusable.
	ErrInvalidEndpoint = errors.New("invalid endpoint")
	// ErrEmptyResponse is returned when a response body was expected but none arrived.
	ErrEmptyResponse = errors.New("empty response")
	// ErrRecordNotFound is returned when no saving exists for the requested date.
	ErrRecordNotFound = errors.New("record not found")
	// ErrConfirmRejected is returned when the remote side answers a confirmation with false.
	ErrConfirmRejected = errors.New("confirmation rejected by server")

	ErrWithdrawalsDisabled         = errors.New("withdrawals are disabled")
	ErrRemoteWithdrawalUnsupported = errors.New("withdrawals are not supported in remote mode")
)

// TransportError wraps a network or HTTP-level failure.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport error: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError wraps a payload that did not match the expected shape.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode error: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// PersistenceError wraps a local store failure.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return "persistence error: " + e.Err.Error() }
func (e *PersistenceError) Unwrap() error { return e.Err }
