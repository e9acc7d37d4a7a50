package http

import (
	"errors"
	"fmt"
)

// ProtocolKind classifies malformed or oversized input.
type ProtocolKind int

const (
	LineTooLong ProtocolKind = iota + 1
	HeadersTooLarge
	MalformedRequestLine
	MalformedHeader
	UnsupportedVersion
	MalformedBody
	BodyTooLarge
	UnsupportedMediaType
	UnexpectedEOF
)

func (k ProtocolKind) String() string {
	switch k {
	case LineTooLong:
		return "line too long"
	case HeadersTooLarge:
		return "headers too large"
	case MalformedRequestLine:
		return "malformed request line"
	case MalformedHeader:
		return "malformed header"
	case UnsupportedVersion:
		return "unsupported HTTP version"
	case MalformedBody:
		return "malformed body"
	case BodyTooLarge:
		return "body too large"
	case UnsupportedMediaType:
		return "unsupported media type"
	case UnexpectedEOF:
		return "unexpected end of file"
	default:
		return "protocol error"
	}
}

// ProtocolError reports client-attributable input problems.
type ProtocolError struct {
	Kind ProtocolKind
	// RequestLine is set when the offending line is the request line.
	RequestLine bool
	Detail      string
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return "http: " + e.Kind.String()
	}
	return fmt.Sprintf("http: %s: %s", e.Kind, e.Detail)
}

// HTTPCode maps the error to a response status.
func (e *ProtocolError) HTTPCode() int {
	switch e.Kind {
	case LineTooLong:
		if e.RequestLine {
			return StatusRequestURITooLong
		}
		return StatusRequestHeaderFieldsTooLarge
	case HeadersTooLarge:
		return StatusRequestHeaderFieldsTooLarge
	case UnsupportedVersion:
		return StatusHTTPVersionNotSupported
	case BodyTooLarge:
		return StatusRequestEntityTooLarge
	case UnsupportedMediaType:
		return StatusUnsupportedMediaType
	case UnexpectedEOF:
		return StatusInternalServerError
	default:
		return StatusBadRequest
	}
}

// IOError wraps a socket read or write failure.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return "http: " + e.Op + ": " + e.Err.Error() }

func (e *IOError) Unwrap() error { return e.Err }

// HandlerError is produced when a processor fails, returns no response, or panics.
type HandlerError struct {
	Err   error
	Panic interface{}
}

func (e *HandlerError) Error() string {
	switch {
	case e.Panic != nil:
		return fmt.Sprintf("http: handler panic: %v", e.Panic)
	case e.Err != nil:
		return "http: handler failed: " + e.Err.Error()
	default:
		return "http: handler returned no response"
	}
}

func (e *HandlerError) Unwrap() error { return e.Err }

// HTTPCode honors a more specific status carried by the wrapped error.
func (e *HandlerError) HTTPCode() int {
	var coder interface{ HTTPCode() int }
	if e.Err != nil && errors.As(e.Err, &coder) {
		return coder.HTTPCode()
	}
	return StatusInternalServerError
}

// StateError signals API misuse, such as registering handlers on a running server.
// It is raised with panic and is not meant to be recovered.
type StateError struct {
	Op     string
	Reason string
}

func (e *StateError) Error() string { return "http: " + e.Op + ": " + e.Reason }

// RangeError reports a byte range that cannot be satisfied by the resource.
type RangeError struct {
	Range ByteRange
	Size  int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("http: unsatisfiable range %s for %d bytes", e.Range, e.Size)
}

func (e *RangeError) HTTPCode() int { return StatusRequestedRangeNotSatisfiable }

// StatusFromError returns the status code an error maps to, defaulting to 500.
func StatusFromError(err error) int {
	var coder interface{ HTTPCode() int }
	if errors.As(err, &coder) {
		return coder.HTTPCode()
	}
	return StatusInternalServerError
}
