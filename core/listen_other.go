//go:build !unix

package core

import (
	"net"
	"syscall"
)

var listenControl func(network, address string, c syscall.RawConn) error

// tuneConn relies on the Go defaults, which already disable Nagle.
func tuneConn(nc net.Conn) error { return nil }
