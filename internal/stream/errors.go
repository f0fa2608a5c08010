package stream

import (
	"errors"
	"fmt"
	"net/http"
)

// Error classes. Typed errors below match them with errors.Is.
var (
	// ErrConfiguration signals a missing or invalid setting detected before any I/O.
	ErrConfiguration = errors.New("configuration error")

	// ErrTransport signals a non-success HTTP status or a network failure.
	ErrTransport = errors.New("transport error")

	// ErrProtocol signals a malformed event line. It is recovered locally and
	// never ends a stream.
	ErrProtocol = errors.New("protocol error")

	// ErrStream signals a failure while reading the body mid-stream.
	ErrStream = errors.New("stream error")

	// ErrInvalidTransition is returned for illegal lifecycle moves.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNoMessages is returned when there is nothing to send.
	ErrNoMessages = errors.New("no messages to send")

	// ErrNoUserMessage is returned when a query needs a user message and there is none.
	ErrNoUserMessage = errors.New("no user message found")

	errUnterminated = errors.New("event stream closed without a terminal event")
)

// TransportError describes a failed request: either a non-success status or
// a network failure before a response was received.
type TransportError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("API request failed: %v", e.Err)
	}
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	return fmt.Sprintf("API request failed: %d %s - %s", e.StatusCode, http.StatusText(e.StatusCode), msg)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ProtocolError describes a single event line that could not be decoded.
type ProtocolError struct {
	Line string
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("failed to parse stream line %q: %v", e.Line, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// StreamError represents an error that occurred during streaming,
// preserving any partial content received before the error.
type StreamError struct {
	Partial string
	Err     error
}

func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

func (e *StreamError) Is(target error) bool { return target == ErrStream }
