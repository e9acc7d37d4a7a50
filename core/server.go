package core

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/semaphore"

	"github.com/searchktools/embed-server/core/http"
	"github.com/searchktools/embed-server/core/logging"
	"github.com/searchktools/embed-server/core/middleware"
	"github.com/searchktools/embed-server/core/observability"
	"github.com/searchktools/embed-server/core/router"
)

// Server accepts connections and dispatches their requests to registered
// handlers. Handlers must be added while the server is stopped.
type Server struct {
	logger   logging.Logger
	registry *router.Registry
	monitor  *observability.RequestMonitor
	extra    []middleware.PreflightFunc

	mu         sync.Mutex
	opts       *Options
	listener   net.Listener
	port       int
	running    atomic.Bool
	acceptDone chan struct{}
	preflight  *middleware.Pipeline
	sem        *semaphore.Weighted

	conns  *xsync.MapOf[uint64, *Connection]
	wg     sync.WaitGroup
	nextID atomic.Uint64

	totalConnections    atomic.Uint64
	rejectedConnections atomic.Uint64

	// Connected-state coalescing.
	hookMu          sync.Mutex
	active          int
	connected       bool
	disconnectTimer *time.Timer
}

// NewServer creates a stopped server. A nil logger discards logs.
func NewServer(logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &Server{
		logger:   logger,
		registry: router.NewRegistry(),
		monitor:  observability.NewRequestMonitor(),
		conns:    xsync.NewMapOf[uint64, *Connection](),
		opts:     &Options{},
	}
}

// Registry exposes the handler registry.
func (s *Server) Registry() *router.Registry { return s.registry }

// Monitor exposes per-handler request statistics.
func (s *Server) Monitor() *observability.RequestMonitor { return s.monitor }

// Use adds a preflight check that runs after authentication on every
// request. It panics while the server is running.
func (s *Server) Use(check middleware.PreflightFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		panic(&http.StateError{Op: "add preflight check", Reason: "server is running"})
	}
	s.extra = append(s.extra, check)
}

// Start binds the listener and begins accepting connections.
func (s *Server) Start(opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		return &StartError{Op: "check state", Err: ErrServerRunning}
	}
	if err := opts.validate(); err != nil {
		return &StartError{Op: "validate options", Err: err}
	}

	host := ""
	if opts.BindToLocalhost {
		host = "127.0.0.1"
	}
	lc := net.ListenConfig{Control: listenControl}
	ln, err := lc.Listen(context.Background(), "tcp", net.JoinHostPort(host, strconv.Itoa(opts.Port)))
	if err != nil {
		return &StartError{Op: "listen", Err: err}
	}

	s.opts = &opts
	s.listener = ln
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.sem = semaphore.NewWeighted(int64(opts.MaxPendingConnections))
	s.preflight = s.buildPreflight()
	s.acceptDone = make(chan struct{})
	s.registry.Freeze()
	s.running.Store(true)

	go s.acceptLoop(ln, s.opts, s.sem, s.acceptDone)

	s.logger.Logf(logging.Info, "server started on port %d (%d handlers, auth %s)", s.port, s.registry.Len(), opts.AuthMethod)
	if s.opts.Hooks.OnStart != nil {
		s.opts.Hooks.OnStart(s)
	}
	return nil
}

func (s *Server) buildPreflight() *middleware.Pipeline {
	p := middleware.NewPipeline()
	switch s.opts.AuthMethod {
	case AuthBasic:
		p.Use(middleware.BasicAuth(s.opts.AuthRealm, s.opts.AuthAccounts))
	case AuthDigest:
		p.Use(middleware.DigestAuth(s.opts.AuthRealm, s.opts.AuthAccounts))
	}
	for _, check := range s.extra {
		p.Use(check)
	}
	return p.Compile()
}

// Stop closes the listener. Connections already accepted finish their work;
// use Drain to wait for them.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		return
	}
	s.listener.Close()
	<-s.acceptDone
	s.running.Store(false)
	s.registry.Unfreeze()
	port := s.port
	hooks := s.opts.Hooks
	s.mu.Unlock()

	s.logger.Logf(logging.Info, "server stopped on port %d", port)
	if hooks.OnStop != nil {
		hooks.OnStop(s)
	}
}

// Drain waits for open connections to finish. When ctx ends first the
// remaining connections are closed and ctx.Err is returned. Stop must be
// called first; draining a running server returns ErrServerRunning.
func (s *Server) Drain(ctx context.Context) error {
	if s.running.Load() {
		return ErrServerRunning
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.conns.Range(func(_ uint64, c *Connection) bool {
			c.conn.Close()
			return true
		})
		<-done
		return ctx.Err()
	}
}

// IsRunning reports whether the server is accepting connections.
func (s *Server) IsRunning() bool { return s.running.Load() }

// Port returns the bound port, or 0 when stopped.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() {
		return 0
	}
	return s.port
}

// ServerURL returns the base URL clients can use, or "" when stopped.
func (s *Server) ServerURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() {
		return ""
	}
	host := "localhost"
	if !s.opts.BindToLocalhost {
		if ip := primaryIPv4(); ip != "" {
			host = ip
		}
	}
	if s.port == 80 {
		return "http://" + host + "/"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(s.port)) + "/"
}

// primaryIPv4 returns the first non-loopback IPv4 address of the host.
func primaryIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok && !ipn.IP.IsLoopback() {
			if ip4 := ipn.IP.To4(); ip4 != nil {
				return ip4.String()
			}
		}
	}
	return ""
}

// Stats are server-wide counters.
type Stats struct {
	ActiveConnections   int
	TotalConnections    uint64
	RejectedConnections uint64
	Requests            uint64
	BytesRead           uint64
	BytesWritten        uint64
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() Stats {
	st := Stats{
		ActiveConnections:   s.conns.Size(),
		TotalConnections:    s.totalConnections.Load(),
		RejectedConnections: s.rejectedConnections.Load(),
	}
	for _, h := range s.monitor.Snapshot() {
		st.Requests += h.Count
		st.BytesRead += h.BytesRead
		st.BytesWritten += h.BytesWritten
	}
	return st
}

// Connections returns a snapshot of the open connections.
func (s *Server) Connections() []ConnectionInfo {
	out := make([]ConnectionInfo, 0, s.conns.Size())
	s.conns.Range(func(_ uint64, c *Connection) bool {
		out = append(out, c.Info())
		return true
	})
	return out
}

// acceptLoop serves one Start. opts and sem belong to that run so a later
// restart never changes them under live connections.
func (s *Server) acceptLoop(ln net.Listener, opts *Options, sem *semaphore.Weighted, done chan struct{}) {
	defer close(done)
	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// Temporary failures such as EMFILE: back off like net/http does.
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(2*backoff, time.Second)
			}
			s.logger.Logf(logging.Warning, "accept error: %v; retrying in %v", err, backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if !sem.TryAcquire(1) {
			s.rejectedConnections.Add(1)
			s.logger.Logf(logging.Warning, "rejecting connection from %s: %d connections pending", nc.RemoteAddr(), opts.MaxPendingConnections)
			nc.Close()
			continue
		}
		if accept := opts.Hooks.AcceptConnection; accept != nil && !accept(nc.RemoteAddr()) {
			sem.Release(1)
			nc.Close()
			continue
		}
		if err := tuneConn(nc); err != nil {
			s.logger.Logf(logging.Debug, "tune socket: %v", err)
		}

		id := s.nextID.Add(1)
		c := newConnection(s, opts, sem, nc, id)
		s.totalConnections.Add(1)
		s.conns.Store(id, c)
		s.wg.Add(1)
		s.connectionOpened(opts)
		s.logger.Logf(logging.Debug, "conn %d: opened from %s", id, nc.RemoteAddr())
		go c.serve()
	}
}

// connectionClosed is called exactly once by each connection.
func (s *Server) connectionClosed(c *Connection) {
	s.conns.Delete(c.id)
	c.sem.Release(1)
	info := c.Info()
	s.logger.Logf(logging.Debug, "conn %d: closed after %d requests (%d bytes in, %d out)",
		c.id, info.Requests, info.BytesRead, info.BytesWritten)
	if cb := c.opts.Hooks.ConnectionClosed; cb != nil {
		cb(info)
	}
	s.connectionEnded(c.opts)
	s.wg.Done()
}

func (s *Server) connectionOpened(opts *Options) {
	s.hookMu.Lock()
	s.active++
	fire := false
	if s.active == 1 {
		if s.disconnectTimer != nil {
			// Reconnected within the coalescing interval.
			s.disconnectTimer.Stop()
			s.disconnectTimer = nil
		}
		if !s.connected {
			s.connected = true
			fire = true
		}
	}
	s.hookMu.Unlock()
	if fire && opts.Hooks.OnConnect != nil {
		opts.Hooks.OnConnect(s)
	}
}

func (s *Server) connectionEnded(opts *Options) {
	s.hookMu.Lock()
	s.active--
	if s.active > 0 || !s.connected {
		s.hookMu.Unlock()
		return
	}
	interval := opts.ConnectedStateCoalescingInterval
	if interval <= 0 {
		s.connected = false
		s.hookMu.Unlock()
		s.fireDisconnect(opts)
		return
	}
	var t *time.Timer
	t = time.AfterFunc(interval, func() {
		s.hookMu.Lock()
		if s.disconnectTimer != t || s.active > 0 {
			s.hookMu.Unlock()
			return
		}
		s.disconnectTimer = nil
		s.connected = false
		s.hookMu.Unlock()
		s.fireDisconnect(opts)
	})
	s.disconnectTimer = t
	s.hookMu.Unlock()
}

func (s *Server) fireDisconnect(opts *Options) {
	if opts.Hooks.OnDisconnect != nil {
		opts.Hooks.OnDisconnect(s)
	}
}
