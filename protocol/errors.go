package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors for the client error taxonomy. Protocol-level failures
// (auth, timeout, version) only ever surface through the callback or event
// associated with the originating request; local resolution failures are
// returned synchronously from the call that detected them.
var (
	// ErrAuthFailure means the server rejected the supplied credentials.
	ErrAuthFailure = errors.New("authentication failure")
	// ErrTimeout means a request received no reply before its deadline.
	ErrTimeout = errors.New("request timed out")
	// ErrNetwork means the transport failed to deliver or receive data.
	ErrNetwork = errors.New("network error")
	// ErrVersionMismatch means client and server protocol versions are incompatible.
	ErrVersionMismatch = errors.New("protocol version mismatch")
	// ErrAlreadyInProgress means a conflicting operation is still outstanding.
	ErrAlreadyInProgress = errors.New("operation already in progress")
	// ErrNotFound means a peer or group lookup missed.
	ErrNotFound = errors.New("not found")
	// ErrPeerNotFound means a message target could not be resolved.
	ErrPeerNotFound = errors.New("peer not found")
	// ErrAborted means an outstanding request was cancelled by disconnect.
	ErrAborted = errors.New("operation aborted")
	// ErrConfiguration means an invalid setup call, such as changing the
	// event delivery mode after registration.
	ErrConfiguration = errors.New("configuration error")
	// ErrInvalidState means the operation is not valid in the current
	// session state.
	ErrInvalidState = errors.New("invalid session state")
)

// ErrorCode is the wire representation of a protocol failure carried in
// reply messages.
type ErrorCode uint8

const (
	CodeNone ErrorCode = iota
	CodeAuthFailure
	CodeTimeout
	CodeNetwork
	CodeVersionMismatch
	CodeAlreadyInProgress
	CodeNotFound
	CodePeerNotFound
	CodeAborted
	CodeConfiguration
	CodeInvalidState
	CodeUnknown ErrorCode = 255
)

var codeErrors = map[ErrorCode]error{
	CodeAuthFailure:       ErrAuthFailure,
	CodeTimeout:           ErrTimeout,
	CodeNetwork:           ErrNetwork,
	CodeVersionMismatch:   ErrVersionMismatch,
	CodeAlreadyInProgress: ErrAlreadyInProgress,
	CodeNotFound:          ErrNotFound,
	CodePeerNotFound:      ErrPeerNotFound,
	CodeAborted:           ErrAborted,
	CodeConfiguration:     ErrConfiguration,
	CodeInvalidState:      ErrInvalidState,
}

// CodeOf maps an error back to its wire code. Unrecognized errors map to
// CodeUnknown so the peer still learns that the request failed.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeNone
	}
	for code, sentinel := range codeErrors {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}

// ErrorOf maps a wire code and optional detail text to a sentinel error.
// The result satisfies errors.Is against the matching sentinel.
func ErrorOf(code ErrorCode, text string) error {
	if code == CodeNone {
		return nil
	}
	sentinel, ok := codeErrors[code]
	if !ok {
		sentinel = ErrNetwork
	}
	if text == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, text)
}
