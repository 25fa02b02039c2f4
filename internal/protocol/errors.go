package protocol

import (
	"errors"
	"fmt"
)

// ExitProtocol is the process exit status for any fatal negotiation error.
// No error in this layer is recoverable by retry; the connection must be
// re-established.
const ExitProtocol = 2

// Fatal negotiation error kinds. Match with errors.Is.
var (
	// ErrVersionOutOfRange indicates the remote or negotiated version falls
	// outside the supported range.
	ErrVersionOutOfRange = errors.New("protocol version out of range")

	// ErrLocalVersionTooLow indicates the locally-requested protocol
	// override is below the supported minimum.
	ErrLocalVersionTooLow = errors.New("requested protocol version too low")

	// ErrLocalVersionTooHigh indicates the locally-requested protocol
	// override is above what this build speaks.
	ErrLocalVersionTooHigh = errors.New("requested protocol version too high")

	// ErrBatchTooNew indicates a replayed batch declares a protocol version
	// newer than this build supports.
	ErrBatchTooNew = errors.New("batch protocol version too new")

	// ErrFeatureRequiresNewerProtocol indicates a requested option is
	// incompatible with the negotiated version.
	ErrFeatureRequiresNewerProtocol = errors.New("feature requires newer protocol")

	// ErrConnectionClosed indicates the peer closed the connection
	// mid-handshake.
	ErrConnectionClosed = errors.New("connection closed")
)

// NegotiationError is a fatal handshake failure. It carries the error kind
// for errors.Is dispatch and a human-readable message naming the offending
// option and the negotiated version.
type NegotiationError struct {
	Kind    error
	Message string
}

// Error implements the error interface.
func (e *NegotiationError) Error() string {
	return e.Message
}

// Unwrap returns the error kind for errors.Is/As support.
func (e *NegotiationError) Unwrap() error {
	return e.Kind
}

// ExitCode returns the process exit status for this failure.
func (e *NegotiationError) ExitCode() int {
	return ExitProtocol
}

// failf builds a NegotiationError of the given kind.
func failf(kind error, format string, args ...any) *NegotiationError {
	return &NegotiationError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}
