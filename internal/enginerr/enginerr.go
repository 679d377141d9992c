// Package enginerr defines the engine's error taxonomy. Every failure
// crossing the request boundary is reduced to one of these kinds; the
// pipeline never raises an opaque error to the HTTP client.
package enginerr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error.
type Kind string

const (
	DataUnavailable        Kind = "data_unavailable"
	PartialAnalyzerFailure Kind = "partial_analyzer_failure"
	LLMFailure             Kind = "llm_failure"
	ValidationFailure      Kind = "validation_failure"
	SubscriberBackpressure Kind = "subscriber_backpressure"
	MalformedTick          Kind = "malformed_tick"
	ClientError            Kind = "client_error"
	Cancelled              Kind = "cancelled"
	Overloaded             Kind = "overloaded"
	Internal               Kind = "internal"
)

// Error carries an error kind plus a human message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an engine error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf builds an engine error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf extracts the kind of err, or Internal when err is not an
// engine error.
func KindOf(err error) Kind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the client may retry the request later.
// Overload at the orchestrator ingress is the documented retryable case.
func Retryable(err error) bool {
	return KindOf(err) == Overloaded
}

// HTTPStatus maps an error kind to the status code of the HTTP surface.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case ClientError:
		return 400
	case Overloaded:
		return 429
	case Cancelled:
		return 499
	case DataUnavailable:
		return 502
	default:
		return 500
	}
}
