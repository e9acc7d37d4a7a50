package core

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/searchktools/embed-server/core/http"
	"github.com/searchktools/embed-server/core/logging"
	"github.com/searchktools/embed-server/core/middleware"
	"github.com/searchktools/embed-server/core/observability"
	"github.com/searchktools/embed-server/core/pools"
	"github.com/searchktools/embed-server/core/router"
)

// Phase is the state of a connection within its request cycle.
type Phase int32

const (
	PhaseReadingHeaders Phase = iota
	PhaseHeadersParsed
	PhaseReadingBody
	PhasePreflight
	PhaseDispatching
	PhaseWritingResponse
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseReadingHeaders:
		return "reading-headers"
	case PhaseHeadersParsed:
		return "headers-parsed"
	case PhaseReadingBody:
		return "reading-body"
	case PhasePreflight:
		return "preflight"
	case PhaseDispatching:
		return "dispatching"
	case PhaseWritingResponse:
		return "writing-response"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// countingConn counts bytes moved through the socket.
type countingConn struct {
	net.Conn
	read    *atomic.Uint64
	written *atomic.Uint64
}

func (c countingConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	c.read.Add(uint64(n))
	return n, err
}

func (c countingConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	c.written.Add(uint64(n))
	return n, err
}

// Connection serves the requests of one client socket, strictly in order.
type Connection struct {
	id       uint64
	server   *Server
	opts     *Options
	sem      *semaphore.Weighted
	conn     net.Conn
	openedAt time.Time

	phase        atomic.Int32
	requests     atomic.Uint64
	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64

	rw      countingConn
	bw      *bufio.Writer
	readBuf []byte
	pending []byte
	parser  http.HeaderParser
}

func newConnection(s *Server, opts *Options, sem *semaphore.Weighted, nc net.Conn, id uint64) *Connection {
	c := &Connection{
		id:       id,
		server:   s,
		opts:     opts,
		sem:      sem,
		conn:     nc,
		openedAt: time.Now(),
	}
	c.rw = countingConn{Conn: nc, read: &c.bytesRead, written: &c.bytesWritten}
	c.bw = bufio.NewWriterSize(c.rw, http.FileReadChunk+64)
	c.parser = http.HeaderParser{MaxLineBytes: opts.MaxLineBytes, MaxHeaderBytes: opts.MaxHeaderBytes}
	return c
}

// ID returns the connection's identifier, unique per server.
func (c *Connection) ID() uint64 { return c.id }

// Phase returns the current phase.
func (c *Connection) Phase() Phase { return Phase(c.phase.Load()) }

func (c *Connection) setPhase(p Phase) { c.phase.Store(int32(p)) }

// Info returns a snapshot of the connection.
func (c *Connection) Info() ConnectionInfo {
	return ConnectionInfo{
		ID:           c.id,
		LocalAddr:    c.conn.LocalAddr(),
		RemoteAddr:   c.conn.RemoteAddr(),
		Phase:        c.Phase(),
		Requests:     c.requests.Load(),
		BytesRead:    c.bytesRead.Load(),
		BytesWritten: c.bytesWritten.Load(),
		OpenedAt:     c.openedAt,
	}
}

func (c *Connection) logf(level logging.Level, format string, args ...interface{}) {
	c.server.logger.Logf(level, "conn %d: "+format, append([]interface{}{c.id}, args...)...)
}

// serve runs the request loop until the connection closes.
func (c *Connection) serve() {
	c.readBuf = pools.GetBytes(readBufferSize)
	defer func() {
		if r := recover(); r != nil {
			c.logf(logging.Error, "panic: %v", r)
		}
		c.close()
	}()

	for {
		keepAlive, err := c.serveRequest()
		if err != nil {
			c.logError(err)
			return
		}
		if !keepAlive {
			return
		}
	}
}

func (c *Connection) logError(err error) {
	var ioErr *http.IOError
	switch {
	case errors.As(err, &ioErr):
		c.logf(logging.Debug, "%v", err)
	default:
		c.logf(logging.Warning, "%v", err)
	}
}

func (c *Connection) close() {
	c.setPhase(PhaseClosed)
	c.conn.Close()
	if c.readBuf != nil {
		pools.PutBytes(c.readBuf)
		c.readBuf = nil
	}
	c.server.connectionClosed(c)
}

// read returns the next bytes from the client, leftovers from the previous
// request first.
func (c *Connection) read(timeout time.Duration) ([]byte, error) {
	if len(c.pending) > 0 {
		p := c.pending
		c.pending = nil
		return p, nil
	}
	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
	}
	n, err := c.rw.Read(c.readBuf)
	if n > 0 {
		return c.readBuf[:n], nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return nil, err
}

// exchange is the state of one request/response cycle.
type exchange struct {
	head      *http.RequestHead
	req       *http.Request
	entry     *router.Entry
	headOnly  bool
	keepAlive bool
	started   time.Time
	readAt    uint64
	wroteAt   uint64
	status    int
}

// serveRequest handles one request. It returns whether the connection may
// be reused for another one; a non-nil error means the connection failed.
func (c *Connection) serveRequest() (bool, error) {
	c.setPhase(PhaseReadingHeaders)
	c.parser.Reset()

	x := &exchange{readAt: c.bytesRead.Load(), wroteAt: c.bytesWritten.Load()}
	defer func() {
		if x.req != nil {
			x.req.Release()
		}
	}()

	timeout := c.opts.ReadTimeout
	if c.requests.Load() > 0 {
		timeout = c.opts.IdleTimeout
	}
	for {
		data, err := c.read(timeout)
		if err != nil {
			if c.parser.Head() == nil && c.parser.Buffered() == 0 && (errors.Is(err, io.EOF) || isTimeout(err)) {
				// Client went away between requests.
				return false, nil
			}
			return false, &http.IOError{Op: "read request head", Err: err}
		}
		if x.started.IsZero() {
			x.started = time.Now()
			timeout = c.opts.ReadTimeout
		}
		done, rest, perr := c.parser.Feed(data)
		if perr != nil {
			c.writeErrorResponse(x, perr)
			return false, perr
		}
		if done {
			if len(rest) > 0 {
				c.pending = append([]byte(nil), rest...)
			}
			break
		}
	}

	c.setPhase(PhaseHeadersParsed)
	c.requests.Add(1)
	x.head = c.parser.Head()
	x.keepAlive = wantsKeepAlive(x.head)

	if err := c.match(x); err != nil {
		x.keepAlive = x.keepAlive && !bodyDeclared(x.head)
		c.writeErrorResponse(x, err)
		c.record(x)
		return x.keepAlive, nil
	}

	if err := c.readBody(x); err != nil {
		var ioErr *http.IOError
		if errors.As(err, &ioErr) {
			return false, err
		}
		x.keepAlive = false
		c.writeErrorResponse(x, err)
		c.record(x)
		return false, nil
	}

	c.setPhase(PhasePreflight)
	resp := c.server.preflight.Execute(x.req)
	if resp == nil && x.entry.Validate != nil {
		resp = middleware.NotModified(x.entry.Validate)(x.req)
	}

	if resp == nil {
		c.setPhase(PhaseDispatching)
		var err error
		resp, err = c.dispatch(x.entry, x.req)
		if err != nil {
			c.logf(logging.Warning, "%s %s: %v", x.req.Method, x.req.Path, err)
			resp = errorResponse(err)
		} else {
			resp = overrideResponse(x.req, resp)
		}
	}

	x.status = resp.StatusCode
	keepAlive, err := c.writeResponse(x, resp)
	c.record(x)
	if err != nil {
		return false, err
	}
	return keepAlive, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func wantsKeepAlive(head *http.RequestHead) bool {
	conn := strings.ToLower(head.Header.Get(http.HeaderConnection))
	if head.ProtoAtLeast(1, 1) {
		return !strings.Contains(conn, "close")
	}
	return strings.Contains(conn, "keep-alive")
}

func bodyDeclared(head *http.RequestHead) bool {
	if head.Header.Has(http.HeaderTransferEncoding) {
		return true
	}
	n, err := strconv.ParseInt(strings.TrimSpace(head.Header.Get(http.HeaderContentLength)), 10, 64)
	return err == nil && n > 0
}

// match resolves the target and asks the registry for a handler.
func (c *Connection) match(x *exchange) error {
	head := x.head
	var (
		u   *url.URL
		err error
	)
	if strings.HasPrefix(head.Target, "http://") || strings.HasPrefix(head.Target, "https://") {
		u, err = url.Parse(head.Target)
	} else {
		u, err = url.ParseRequestURI(head.Target)
	}
	if err != nil {
		return &http.ProtocolError{Kind: http.MalformedRequestLine, RequestLine: true, Detail: "invalid target " + strconv.Quote(head.Target)}
	}
	query := http.ParseURLEncodedForm(u.RawQuery)

	method := head.Method
	if method == "HEAD" && c.opts.AutomaticallyMapHEADToGET {
		method = "GET"
		x.headOnly = true
	} else if method == "HEAD" {
		x.headOnly = true
	}

	req, entry := c.server.registry.Lookup(method, u, head.Header, u.Path, query)
	if req == nil {
		return ErrNoHandler
	}
	req.Proto = head.Proto
	req.LocalAddr = c.conn.LocalAddr()
	req.RemoteAddr = c.conn.RemoteAddr()
	x.req, x.entry = req, entry
	return nil
}

// readBody streams the request body into the request's sink.
func (c *Connection) readBody(x *exchange) error {
	req := x.req
	if te := req.Headers.Get(http.HeaderTransferEncoding); te != "" && !req.Chunked {
		return ErrTransferEncoding
	}
	if expect := req.Headers.Get(http.HeaderExpect); expect != "" {
		if !strings.EqualFold(expect, "100-continue") {
			return ErrExpectationFailed
		}
	}
	if !req.HasBody() {
		return nil
	}
	limit := c.opts.MaxBodyBytes
	if limit > 0 && req.ContentLength > limit {
		return &http.ProtocolError{Kind: http.BodyTooLarge, Detail: fmt.Sprintf("%d bytes declared, limit is %d", req.ContentLength, limit)}
	}

	sink, err := req.BodySink()
	if err != nil {
		return err
	}
	if strings.EqualFold(req.Headers.Get(http.HeaderExpect), "100-continue") && x.head.ProtoAtLeast(1, 1) {
		if err := c.writeContinue(); err != nil {
			return err
		}
	}

	c.setPhase(PhaseReadingBody)
	if err := sink.Open(); err != nil {
		return err
	}
	var received int64
	emit := func(p []byte) error {
		received += int64(len(p))
		if limit > 0 && received > limit {
			return &http.ProtocolError{Kind: http.BodyTooLarge, Detail: fmt.Sprintf("limit is %d bytes", limit)}
		}
		return sink.Write(p)
	}

	if req.Chunked {
		dec := http.ChunkedDecoder{MaxLineBytes: c.opts.MaxLineBytes}
		for !dec.Done() {
			data, err := c.read(c.opts.ReadTimeout)
			if err != nil {
				return &http.IOError{Op: "read chunked body", Err: err}
			}
			n, err := dec.Decode(data, emit)
			if err != nil {
				return err
			}
			if n < len(data) {
				c.pending = append([]byte(nil), data[n:]...)
			}
		}
	} else {
		remain := req.ContentLength
		for remain > 0 {
			data, err := c.read(c.opts.ReadTimeout)
			if err != nil {
				return &http.IOError{Op: "read body", Err: err}
			}
			if int64(len(data)) > remain {
				c.pending = append([]byte(nil), data[remain:]...)
				data = data[:remain]
			}
			remain -= int64(len(data))
			if err := emit(data); err != nil {
				return err
			}
		}
	}
	return sink.Close()
}

func (c *Connection) writeContinue() error {
	if c.opts.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	if _, err := c.bw.WriteString("HTTP/1.1 100 Continue\r\n\r\n"); err != nil {
		return &http.IOError{Op: "write continue", Err: err}
	}
	if err := c.bw.Flush(); err != nil {
		return &http.IOError{Op: "write continue", Err: err}
	}
	return nil
}

type result struct {
	resp *http.Response
	err  error
}

// dispatch runs the processor and waits for its response. Sync and async
// processors both complete through a one-shot channel.
func (c *Connection) dispatch(e *router.Entry, req *http.Request) (*http.Response, error) {
	ch := make(chan result, 1)
	var once sync.Once
	complete := func(resp *http.Response, err error) {
		delivered := false
		once.Do(func() {
			ch <- result{resp, err}
			delivered = true
		})
		if !delivered {
			discardBody(resp)
		}
	}
	run := func() {
		defer func() {
			if r := recover(); r != nil {
				complete(nil, &http.HandlerError{Panic: r})
			}
		}()
		if e.IsAsync() {
			e.AsyncProcess(req, complete)
		} else {
			complete(e.Process(req))
		}
	}

	var timeout <-chan time.Time
	if c.opts.ProcessTimeout > 0 {
		t := time.NewTimer(c.opts.ProcessTimeout)
		defer t.Stop()
		timeout = t.C
		go run()
	} else {
		run()
	}

	select {
	case r := <-ch:
		if r.err != nil {
			discardBody(r.resp)
		}
		var herr *http.HandlerError
		switch {
		case r.err != nil && errors.As(r.err, &herr):
			return nil, r.err
		case r.err != nil:
			return nil, &http.HandlerError{Err: r.err}
		case r.resp == nil:
			return nil, &http.HandlerError{}
		}
		return r.resp, nil
	case <-timeout:
		// Late completions are dropped from now on.
		once.Do(func() {})
		select {
		case r := <-ch:
			discardBody(r.resp)
		default:
		}
		return nil, &http.HandlerError{Err: ErrProcessTimeout}
	}
}

// discardBody releases the body of a response that will not be sent.
// Close is called without Open.
func discardBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
		resp.Body = nil
	}
}

// overrideResponse turns a successful response into 304 or 412 when the
// request's validators show the client already has it.
func overrideResponse(req *http.Request, resp *http.Response) *http.Response {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp
	}
	if resp.ETag == "" && resp.LastModified.IsZero() {
		return resp
	}
	code := http.EvaluatePreconditions(req, resp.ETag, resp.LastModified)
	if code == 0 {
		return resp
	}
	discardBody(resp)
	out := http.NewResponseWithStatus(code)
	out.CacheControlMaxAge = resp.CacheControlMaxAge
	out.LastModified = resp.LastModified
	out.ETag = resp.ETag
	return out
}

func errorResponse(err error) *http.Response {
	code := http.StatusFromError(err)
	var rerr *http.RangeError
	if errors.As(err, &rerr) {
		resp := http.NewResponseWithStatus(code)
		resp.SetHeader(http.HeaderContentRange, fmt.Sprintf("bytes */%d", rerr.Size))
		return resp
	}
	return http.NewErrorResponse(code, "")
}

// writeErrorResponse answers a request that failed before processing.
func (c *Connection) writeErrorResponse(x *exchange, err error) {
	resp := errorResponse(err)
	x.status = resp.StatusCode
	if x.head == nil {
		x.keepAlive = false
	}
	if x.head != nil && x.head.Method == "HEAD" {
		x.headOnly = true
	}
	if _, werr := c.writeResponse(x, resp); werr != nil {
		c.logf(logging.Debug, "write error response: %v", werr)
	}
}

var crlf = []byte("\r\n")

// writeResponse sends the head and body of resp. It returns whether the
// connection can be kept alive.
func (c *Connection) writeResponse(x *exchange, resp *http.Response) (bool, error) {
	c.setPhase(PhaseWritingResponse)

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	bodyAllowed := http.BodyAllowed(status)
	proto11 := x.head == nil || x.head.ProtoAtLeast(1, 1)
	keepAlive := x.keepAlive

	if !bodyAllowed {
		discardBody(resp)
	}
	body := resp.Body
	length := resp.ContentLength
	if body == nil {
		length = 0
	}
	gzipped := body != nil && resp.GzipEncoding && x.req != nil && x.req.AcceptsGzip
	if gzipped {
		body = http.NewGzipBody(body)
		length = -1
	}
	chunked := body != nil && length < 0 && proto11
	if body != nil && length < 0 && !proto11 {
		// HTTP/1.0 has no chunking; the body ends when the connection does.
		keepAlive = false
	}

	// The body is opened before anything is written so a failure can still
	// be answered with a status.
	if body != nil {
		if x.headOnly {
			body.Close()
		} else if err := body.Open(); err != nil {
			body.Close()
			c.logf(logging.Warning, "open response body: %v", err)
			failed := errorResponse(&http.HandlerError{Err: err})
			x.status = failed.StatusCode
			return c.writeResponse(x, failed)
		}
	}

	h := http.Header{}
	h.Set(http.HeaderDate, http.FormatTime(time.Now()))
	h.Set(http.HeaderServer, c.opts.ServerName)
	if keepAlive {
		h.Set(http.HeaderConnection, "keep-alive")
	} else {
		h.Set(http.HeaderConnection, "close")
	}
	h.Set(http.HeaderCacheControl, resp.CacheControl())
	if !resp.LastModified.IsZero() {
		h.Set(http.HeaderLastModified, http.FormatTime(resp.LastModified))
	}
	if resp.ETag != "" {
		h.Set(http.HeaderETag, resp.ETag)
	}
	if bodyAllowed {
		if body != nil {
			contentType := resp.ContentType
			if contentType == "" {
				contentType = http.DefaultMIMEType
			}
			h.Set(http.HeaderContentType, contentType)
		}
		switch {
		case chunked:
			h.Set(http.HeaderTransferEncoding, "chunked")
		case length >= 0:
			h.Set(http.HeaderContentLength, strconv.FormatInt(length, 10))
		}
		if gzipped {
			h.Set(http.HeaderContentEncoding, "gzip")
		}
	}
	for k, v := range resp.AdditionalHeaders() {
		h.Set(k, v)
	}

	if c.opts.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	buf := pools.AcquireBuffer()
	head := append(*buf, "HTTP/1.1 "...)
	head = strconv.AppendInt(head, int64(status), 10)
	head = append(head, ' ')
	head = append(head, http.StatusText(status)...)
	head = append(head, crlf...)
	for _, k := range h.Keys() {
		head = append(head, k...)
		head = append(head, ": "...)
		head = appendSanitized(head, h[k])
		head = append(head, crlf...)
	}
	head = append(head, crlf...)
	_, err := c.bw.Write(head)
	*buf = head
	pools.ReleaseBuffer(buf)
	if err != nil {
		if body != nil && !x.headOnly {
			body.Close()
		}
		return false, &http.IOError{Op: "write response head", Err: err}
	}

	if body == nil || x.headOnly {
		if err := c.bw.Flush(); err != nil {
			return false, &http.IOError{Op: "write response head", Err: err}
		}
		return keepAlive, nil
	}

	if fb, ok := body.(*http.FileBody); ok && !chunked {
		if err := c.sendFile(fb, length); err != nil {
			return false, err
		}
		return keepAlive, nil
	}
	if err := c.writeBody(body, length, chunked); err != nil {
		return false, err
	}
	return keepAlive, nil
}

func appendSanitized(dst []byte, v string) []byte {
	for i := 0; i < len(v); i++ {
		b := v[i]
		if b == '\r' || b == '\n' || b == 0x7f || (b < 0x20 && b != '\t') {
			continue
		}
		dst = append(dst, b)
	}
	return dst
}

// readChunk takes the next piece of body, through the async interface when
// the body offers it.
func readChunk(body http.BodyReader) ([]byte, error) {
	async, ok := body.(http.AsyncBodyReader)
	if !ok {
		return body.Read()
	}
	type chunk struct {
		data []byte
		err  error
	}
	ch := make(chan chunk, 1)
	var once sync.Once
	async.ReadAsync(func(p []byte, err error) {
		once.Do(func() { ch <- chunk{p, err} })
	})
	r := <-ch
	return r.data, r.err
}

// writeBody drains an open body to the client and closes it. Once the head
// is out any failure means the connection must be closed.
func (c *Connection) writeBody(body http.BodyReader, length int64, chunked bool) (err error) {
	defer func() {
		if cerr := body.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close response body: %w", cerr)
		}
	}()

	var sent int64
	for {
		data, rerr := readChunk(body)
		if len(data) > 0 {
			if length >= 0 && sent+int64(len(data)) > length {
				return &http.ProtocolError{Kind: http.MalformedBody, Detail: fmt.Sprintf("body exceeds declared length %d", length)}
			}
			if c.opts.WriteTimeout > 0 {
				c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			}
			if err := c.writeBodyChunk(data, chunked); err != nil {
				return &http.IOError{Op: "write response body", Err: err}
			}
			sent += int64(len(data))
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return fmt.Errorf("read response body: %w", rerr)
		}
	}
	if length >= 0 && sent != length {
		return &http.ProtocolError{Kind: http.UnexpectedEOF, Detail: fmt.Sprintf("body sent %d of %d bytes", sent, length)}
	}
	if chunked {
		if _, err := c.bw.WriteString(http.LastChunk); err != nil {
			return &http.IOError{Op: "write response body", Err: err}
		}
	}
	if err := c.bw.Flush(); err != nil {
		return &http.IOError{Op: "write response body", Err: err}
	}
	return nil
}

func (c *Connection) writeBodyChunk(data []byte, chunked bool) error {
	if !chunked {
		_, err := c.bw.Write(data)
		return err
	}
	var size [16]byte
	frame := strconv.AppendInt(size[:0], int64(len(data)), 16)
	frame = append(frame, crlf...)
	if _, err := c.bw.Write(frame); err != nil {
		return err
	}
	if _, err := c.bw.Write(data); err != nil {
		return err
	}
	if _, err := c.bw.Write(crlf); err != nil {
		return err
	}
	// Streamed bodies are flushed per chunk so clients see data as produced.
	return c.bw.Flush()
}

func (c *Connection) record(x *exchange) {
	name := "unmatched"
	if x.entry != nil && x.entry.Name != "" {
		name = x.entry.Name
	}
	var elapsed time.Duration
	if !x.started.IsZero() {
		elapsed = time.Since(x.started)
	}
	c.server.monitor.RecordRequest(observability.Record{
		Handler:      name,
		StatusCode:   x.status,
		Duration:     elapsed,
		BytesRead:    int64(c.bytesRead.Load() - x.readAt),
		BytesWritten: int64(c.bytesWritten.Load() - x.wroteAt),
	})
	if x.head != nil {
		c.logf(logging.Verbose, "%s %s -> %d (%v)", x.head.Method, x.head.Target, x.status, elapsed)
	}
}
