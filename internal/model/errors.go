package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorKind classifies relay and client failures.
type ErrorKind int

const (
	// KindInput is a missing or malformed caller input; no upstream call was made.
	KindInput ErrorKind = iota + 1
	// KindTransport means the upstream could not be reached or its reply could not be read.
	KindTransport
	// KindUpstreamStatus is a non-2xx HTTP status seen by the client helper.
	KindUpstreamStatus
	// KindUpstreamLogical is a {ec, data} envelope with ec != 0.
	KindUpstreamLogical
)

func (k ErrorKind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindTransport:
		return "transport"
	case KindUpstreamStatus:
		return "upstream_status"
	case KindUpstreamLogical:
		return "upstream_logical"
	default:
		return "unknown"
	}
}

// Error is the single error type surfaced by the relay and the client helper.
type Error struct {
	Kind    ErrorKind
	Message string

	// Status is the HTTP status for KindUpstreamStatus.
	Status int
	// Code and Data carry the envelope fields for KindUpstreamLogical.
	Code int64
	Data json.RawMessage

	Err error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// InputError returns a KindInput error with the given message.
func InputError(msg string) *Error {
	return &Error{Kind: KindInput, Message: msg}
}

// TransportError wraps err as a KindTransport error carrying err's message.
func TransportError(err error) *Error {
	return &Error{Kind: KindTransport, Message: err.Error(), Err: err}
}

// StatusError returns a KindUpstreamStatus error.
func StatusError(status int, msg string) *Error {
	return &Error{Kind: KindUpstreamStatus, Status: status, Message: msg}
}

// LogicalError returns a KindUpstreamLogical error for a failed {ec, data} envelope.
func LogicalError(code int64, data json.RawMessage, detail string) *Error {
	return &Error{
		Kind:    KindUpstreamLogical,
		Code:    code,
		Data:    data,
		Message: fmt.Sprintf("API error (ec: %d): %s", code, detail),
	}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
