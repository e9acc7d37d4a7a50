package core

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/searchktools/embed-server/core/http"
)

// AuthMethod selects the authentication scheme enforced before processing.
type AuthMethod int

const (
	AuthNone AuthMethod = iota
	AuthBasic
	AuthDigest
)

func (m AuthMethod) String() string {
	switch m {
	case AuthBasic:
		return "basic"
	case AuthDigest:
		return "digest"
	default:
		return "none"
	}
}

// ParseAuthMethod parses "none", "basic" or "digest".
func ParseAuthMethod(s string) (AuthMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return AuthNone, nil
	case "basic":
		return AuthBasic, nil
	case "digest":
		return AuthDigest, nil
	}
	return AuthNone, fmt.Errorf("unknown auth method %q", s)
}

// ConnectionInfo describes a live or finished connection.
type ConnectionInfo struct {
	ID           uint64
	LocalAddr    net.Addr
	RemoteAddr   net.Addr
	Phase        Phase
	Requests     uint64
	BytesRead    uint64
	BytesWritten uint64
	OpenedAt     time.Time
}

// Hooks are lifecycle callbacks. All are optional and may be called from
// any goroutine.
type Hooks struct {
	OnStart func(s *Server)
	OnStop  func(s *Server)
	// OnConnect fires when the first connection opens after an idle period.
	OnConnect func(s *Server)
	// OnDisconnect fires once no connection has been open for
	// Options.ConnectedStateCoalescingInterval.
	OnDisconnect func(s *Server)
	// AcceptConnection can refuse a freshly accepted socket.
	AcceptConnection func(remote net.Addr) bool
	// ConnectionClosed reports the final state of each connection.
	ConnectionClosed func(info ConnectionInfo)
}

// Options configure a Server for one Start.
type Options struct {
	// Port to listen on; 0 lets the system choose.
	Port            int
	BindToLocalhost bool
	// MaxPendingConnections bounds concurrent connections. Extra sockets are
	// closed as soon as they are accepted.
	MaxPendingConnections int
	ServerName            string

	AuthMethod   AuthMethod
	AuthRealm    string
	AuthAccounts map[string]string

	AutomaticallyMapHEADToGET        bool
	ConnectedStateCoalescingInterval time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// ProcessTimeout bounds how long a processor may take; 0 waits forever.
	ProcessTimeout time.Duration

	MaxLineBytes   int
	MaxHeaderBytes int
	// MaxBodyBytes rejects larger request bodies with 413; 0 disables the check.
	MaxBodyBytes int64

	// MIMETypeOverrides maps lowercase extensions to content types for the
	// file and directory handlers.
	MIMETypeOverrides map[string]string

	Hooks Hooks
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Port:                             DefaultPort,
		MaxPendingConnections:            DefaultMaxPendingConnections,
		ServerName:                       DefaultServerName,
		AuthRealm:                        DefaultAuthRealm,
		AutomaticallyMapHEADToGET:        true,
		ConnectedStateCoalescingInterval: DefaultCoalescingInterval,
		ReadTimeout:                      DefaultReadTimeout,
		WriteTimeout:                     DefaultWriteTimeout,
		IdleTimeout:                      DefaultIdleTimeout,
		MaxLineBytes:                     http.DefaultMaxLineBytes,
		MaxHeaderBytes:                   http.DefaultMaxHeaderBytes,
		MaxBodyBytes:                     DefaultMaxBodyBytes,
	}
}

func (o *Options) validate() error {
	if o.Port < 0 || o.Port > 65535 {
		return fmt.Errorf("invalid port %d", o.Port)
	}
	if o.MaxPendingConnections <= 0 {
		return fmt.Errorf("MaxPendingConnections must be positive, got %d", o.MaxPendingConnections)
	}
	if o.AuthMethod != AuthNone && len(o.AuthAccounts) == 0 {
		return fmt.Errorf("%s authentication requires at least one account", o.AuthMethod)
	}
	if o.MaxBodyBytes < 0 {
		return fmt.Errorf("invalid MaxBodyBytes %d", o.MaxBodyBytes)
	}
	if o.ServerName == "" {
		o.ServerName = DefaultServerName
	}
	if o.AuthRealm == "" {
		o.AuthRealm = o.ServerName
	}
	return nil
}

// StartError is returned by Start when the server cannot begin listening.
type StartError struct {
	Op  string
	Err error
}

func (e *StartError) Error() string { return "start server: " + e.Op + ": " + e.Err.Error() }

func (e *StartError) Unwrap() error { return e.Err }
