package http

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/searchktools/embed-server/core/codec"
)

// AttributeRegexCaptures holds the []string of capture groups for requests
// matched by a path regular expression.
const AttributeRegexCaptures = "embed.regex-captures"

// Request is one parsed HTTP request. It is created by a handler's match
// function right after the head is parsed; its Body sink then receives the
// request body as it arrives.
type Request struct {
	Method  string
	URL     *url.URL
	Headers Header
	// Path is the unescaped URL path.
	Path  string
	Query map[string]string
	Proto string

	ContentType string
	// ContentLength is -1 when absent or chunked.
	ContentLength int64
	Chunked       bool

	IfModifiedSince time.Time
	IfNoneMatch     string
	ByteRange       ByteRange
	AcceptsGzip     bool

	LocalAddr  net.Addr
	RemoteAddr net.Addr

	// Body receives the request body. nil discards it.
	Body BodyWriter

	attributes map[string]interface{}
}

// NewRequest builds a request whose body, if any, is discarded.
func NewRequest(method string, u *url.URL, headers Header, path string, query map[string]string) *Request {
	r := &Request{
		Method:        method,
		URL:           u,
		Headers:       headers,
		Path:          path,
		Query:         query,
		Proto:         "HTTP/1.1",
		ContentLength: -1,
		ByteRange:     NoRange,
	}
	if r.Headers == nil {
		r.Headers = Header{}
	}
	if r.Query == nil {
		r.Query = map[string]string{}
	}

	r.Chunked = strings.EqualFold(TruncateHeaderValue(r.Headers.Get(HeaderTransferEncoding)), "chunked")
	if v := r.Headers.Get(HeaderContentLength); v != "" && !r.Chunked {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && n >= 0 {
			r.ContentLength = n
		}
	}
	r.ContentType = r.Headers.Get(HeaderContentType)
	if r.ContentType == "" && r.HasBody() {
		r.ContentType = DefaultMIMEType
	}
	if v := r.Headers.Get(HeaderIfModifiedSince); v != "" {
		if t, ok := ParseTime(v); ok {
			r.IfModifiedSince = t
		}
	}
	r.IfNoneMatch = r.Headers.Get(HeaderIfNoneMatch)
	if v := r.Headers.Get(HeaderRange); v != "" {
		r.ByteRange = ParseRange(v)
	}
	r.AcceptsGzip = acceptsGzip(r.Headers.Get(HeaderAcceptEncoding))
	return r
}

func acceptsGzip(v string) bool {
	for _, enc := range strings.Split(v, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(enc), ";")
		if !strings.EqualFold(strings.TrimSpace(name), "gzip") {
			continue
		}
		// "gzip;q=0" explicitly refuses the coding.
		q := strings.ReplaceAll(strings.TrimSpace(params), " ", "")
		return q != "q=0" && q != "q=0.0" && q != "q=0.00" && q != "q=0.000"
	}
	return false
}

// NewDataRequest builds a request that keeps its body in memory.
func NewDataRequest(method string, u *url.URL, headers Header, path string, query map[string]string) *Request {
	r := NewRequest(method, u, headers, path, query)
	r.Body = &MemorySink{SizeHint: r.ContentLength}
	return r
}

// NewFileRequest builds a request that stores its body in a temporary file.
func NewFileRequest(method string, u *url.URL, headers Header, path string, query map[string]string) *Request {
	r := NewRequest(method, u, headers, path, query)
	r.Body = &FileSink{}
	return r
}

// NewFormRequest builds a request for an application/x-www-form-urlencoded body.
func NewFormRequest(method string, u *url.URL, headers Header, path string, query map[string]string) *Request {
	r := NewRequest(method, u, headers, path, query)
	r.Body = &FormSink{MemorySink: MemorySink{SizeHint: r.ContentLength}, ContentType: r.ContentType}
	return r
}

// NewMultiPartRequest builds a request for a multipart/form-data body.
func NewMultiPartRequest(method string, u *url.URL, headers Header, path string, query map[string]string) *Request {
	r := NewRequest(method, u, headers, path, query)
	r.Body = &MultiPartSink{ContentType: r.ContentType}
	return r
}

// HasBody reports whether the request declares a body.
func (r *Request) HasBody() bool {
	return r.Chunked || r.ContentLength > 0
}

// HasByteRange reports whether the client asked for a partial resource.
func (r *Request) HasByteRange() bool {
	return r.ByteRange.IsValid()
}

// Attribute returns a value attached with SetAttribute.
func (r *Request) Attribute(key string) interface{} {
	return r.attributes[key]
}

// SetAttribute attaches a value to the request for later handler stages.
func (r *Request) SetAttribute(key string, value interface{}) {
	if r.attributes == nil {
		r.attributes = make(map[string]interface{})
	}
	r.attributes[key] = value
}

// RegexCaptures returns the capture groups recorded by a regex match.
func (r *Request) RegexCaptures() []string {
	c, _ := r.Attribute(AttributeRegexCaptures).([]string)
	return c
}

// LocalAddressString returns the local address as host:port.
func (r *Request) LocalAddressString() string { return addrString(r.LocalAddr) }

// RemoteAddressString returns the peer address as host:port.
func (r *Request) RemoteAddressString() string { return addrString(r.RemoteAddr) }

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// BodySink returns the writer the connection streams the body into,
// decoding the request Content-Encoding first.
func (r *Request) BodySink() (BodyWriter, error) {
	sink := r.Body
	if sink == nil {
		sink = discardSink{}
	}
	switch enc := strings.ToLower(TruncateHeaderValue(r.Headers.Get(HeaderContentEncoding))); enc {
	case "", "identity":
		return sink, nil
	case "gzip", "x-gzip":
		g := NewGzipSink(sink)
		r.Body = g
		return g, nil
	default:
		return nil, &ProtocolError{Kind: UnsupportedMediaType, Detail: "content encoding " + enc}
	}
}

// Release frees resources held by the body, such as temporary files.
func (r *Request) Release() {
	if rel, ok := r.Body.(releaser); ok {
		rel.Release()
	}
}

func (r *Request) unwrapBody() BodyWriter {
	if g, ok := r.Body.(*GzipSink); ok {
		return g.Inner
	}
	return r.Body
}

// Data returns the body of a request built with NewDataRequest or NewFormRequest.
func (r *Request) Data() []byte {
	switch s := r.unwrapBody().(type) {
	case *MemorySink:
		return s.Bytes()
	case *FormSink:
		return s.Bytes()
	}
	return nil
}

// Text returns the body decoded with the charset of its Content-Type, or ""
// when the body is not text.
func (r *Request) Text() string {
	if !IsTextContentType(r.ContentType) {
		return ""
	}
	return DecodeText(r.Data(), r.ContentType)
}

// Form returns the fields of a URL-encoded body.
func (r *Request) Form() map[string]string {
	if s, ok := r.unwrapBody().(*FormSink); ok {
		return s.Arguments()
	}
	return nil
}

// TemporaryPath returns where a NewFileRequest body was stored.
func (r *Request) TemporaryPath() string {
	if s, ok := r.unwrapBody().(*FileSink); ok {
		return s.Path()
	}
	return ""
}

// MultiPart returns the parsed multipart form, or nil.
func (r *Request) MultiPart() *MultiPartSink {
	s, _ := r.unwrapBody().(*MultiPartSink)
	return s
}

// Decode unmarshals the in-memory body with the codec matching its Content-Type.
func (r *Request) Decode(v interface{}) error {
	c, err := codec.ForContentType(r.ContentType)
	if err != nil {
		return &ProtocolError{Kind: UnsupportedMediaType, Detail: r.ContentType}
	}
	if err := c.Decode(r.Data(), v); err != nil {
		return &ProtocolError{Kind: MalformedBody, Detail: fmt.Sprintf("%s: %v", c.Name(), err)}
	}
	return nil
}
