package core

import (
	"errors"
	"time"

	"github.com/searchktools/embed-server/core/http"
)

// Defaults applied by DefaultOptions.
const (
	DefaultPort                  = 8080
	DefaultMaxPendingConnections = 16
	DefaultServerName            = "embed-server"
	DefaultAuthRealm             = DefaultServerName
	DefaultCoalescingInterval    = time.Second
	DefaultReadTimeout           = 30 * time.Second
	DefaultWriteTimeout          = 30 * time.Second
	DefaultIdleTimeout           = 60 * time.Second
	DefaultMaxBodyBytes          = 0
)

// readBufferSize is the size of each socket read.
const readBufferSize = 4 << 10

// statusError carries a fixed HTTP status.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string { return e.msg }

func (e *statusError) HTTPCode() int { return e.code }

// Error definitions
var (
	// ErrProcessTimeout is reported when a processor does not respond within
	// Options.ProcessTimeout.
	ErrProcessTimeout error = &statusError{code: http.StatusServiceUnavailable, msg: "handler did not respond in time"}
	// ErrNoHandler is reported when no handler matches a request.
	ErrNoHandler error = &statusError{code: http.StatusNotFound, msg: "no handler matches the request"}
	// ErrExpectationFailed is reported for an unsupported Expect header.
	ErrExpectationFailed error = &statusError{code: http.StatusExpectationFailed, msg: "unsupported expectation"}
	// ErrTransferEncoding is reported for a Transfer-Encoding other than chunked.
	ErrTransferEncoding error = &statusError{code: http.StatusNotImplemented, msg: "unsupported transfer encoding"}
	// ErrServerRunning is returned by Start and Drain on a running server.
	ErrServerRunning = errors.New("server is already running")
)
