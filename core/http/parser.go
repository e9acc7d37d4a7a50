package http

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/http/httpguts"
)

const (
	// DefaultMaxLineBytes bounds a single request or header line.
	DefaultMaxLineBytes = 8 << 10
	// DefaultMaxHeaderBytes bounds the whole header block.
	DefaultMaxHeaderBytes = 64 << 10
)

// HeaderLine is one header as it appeared on the wire.
type HeaderLine struct {
	Name  string
	Value string
}

// RequestHead is the parsed request line plus headers.
type RequestHead struct {
	Method string
	Target string
	Proto  string
	Lines  []HeaderLine
	Header Header
}

// ProtoAtLeast reports whether the head's protocol version is >= major.minor.
func (h *RequestHead) ProtoAtLeast(major, minor int) bool {
	var maj, min int
	switch h.Proto {
	case "HTTP/1.0":
		maj, min = 1, 0
	case "HTTP/1.1":
		maj, min = 1, 1
	default:
		return false
	}
	return maj > major || (maj == major && min >= minor)
}

// HeaderParser incrementally parses a request head from successive socket reads.
// It keeps a cursor between feeds so already scanned bytes are never rescanned.
type HeaderParser struct {
	MaxLineBytes   int
	MaxHeaderBytes int

	buf    []byte
	cursor int
	head   *RequestHead
}

// Reset prepares the parser for the next request on the same connection.
func (p *HeaderParser) Reset() {
	p.buf = nil
	p.cursor = 0
	p.head = nil
}

// Head returns the parsed head once Feed has reported done.
func (p *HeaderParser) Head() *RequestHead {
	return p.head
}

// Buffered returns the number of bytes fed but not yet consumed.
func (p *HeaderParser) Buffered() int {
	return len(p.buf) - p.cursor
}

func (p *HeaderParser) maxLine() int {
	if p.MaxLineBytes > 0 {
		return p.MaxLineBytes
	}
	return DefaultMaxLineBytes
}

func (p *HeaderParser) maxHeader() int {
	if p.MaxHeaderBytes > 0 {
		return p.MaxHeaderBytes
	}
	return DefaultMaxHeaderBytes
}

// Feed appends data and parses as many complete lines as possible. When the
// blank line terminating the head is found it returns done=true along with the
// bytes that followed it (the start of the body or of a pipelined request).
func (p *HeaderParser) Feed(data []byte) (done bool, rest []byte, err error) {
	p.buf = append(p.buf, data...)
	for {
		i := bytes.IndexByte(p.buf[p.cursor:], '\n')
		if i < 0 {
			if len(p.buf)-p.cursor > p.maxLine() {
				return false, nil, &ProtocolError{Kind: LineTooLong, RequestLine: p.head == nil}
			}
			if len(p.buf) > p.maxHeader() {
				return false, nil, &ProtocolError{Kind: HeadersTooLarge}
			}
			return false, nil, nil
		}

		line := p.buf[p.cursor : p.cursor+i]
		p.cursor += i + 1
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		if len(line) > p.maxLine() {
			return false, nil, &ProtocolError{Kind: LineTooLong, RequestLine: p.head == nil}
		}
		if p.cursor > p.maxHeader() {
			return false, nil, &ProtocolError{Kind: HeadersTooLarge}
		}

		if p.head == nil {
			// Robustness: ignore empty lines before the request line.
			if len(line) == 0 {
				continue
			}
			head, err := parseRequestLine(line)
			if err != nil {
				return false, nil, err
			}
			p.head = head
			continue
		}

		if len(line) == 0 {
			p.finish()
			return true, p.buf[p.cursor:], nil
		}
		if err := p.parseHeaderLine(line); err != nil {
			return false, nil, err
		}
	}
}

func (p *HeaderParser) finish() {
	h := make(Header, len(p.head.Lines))
	for _, l := range p.head.Lines {
		h.Add(l.Name, l.Value)
	}
	p.head.Header = h
}

func parseRequestLine(line []byte) (*RequestHead, error) {
	s := string(line)
	sp1 := strings.IndexByte(s, ' ')
	if sp1 <= 0 {
		return nil, &ProtocolError{Kind: MalformedRequestLine, RequestLine: true, Detail: quoteLine(s)}
	}
	sp2 := strings.LastIndexByte(s, ' ')
	if sp2 == sp1 {
		return nil, &ProtocolError{Kind: MalformedRequestLine, RequestLine: true, Detail: quoteLine(s)}
	}
	method := s[:sp1]
	target := strings.TrimSpace(s[sp1+1 : sp2])
	proto := s[sp2+1:]
	if !httpguts.ValidHeaderFieldName(method) || target == "" || strings.ContainsAny(target, " \t") {
		return nil, &ProtocolError{Kind: MalformedRequestLine, RequestLine: true, Detail: quoteLine(s)}
	}
	switch {
	case proto == "HTTP/1.1" || proto == "HTTP/1.0":
	case strings.HasPrefix(proto, "HTTP/"):
		return nil, &ProtocolError{Kind: UnsupportedVersion, RequestLine: true, Detail: proto}
	default:
		return nil, &ProtocolError{Kind: MalformedRequestLine, RequestLine: true, Detail: quoteLine(s)}
	}
	return &RequestHead{Method: method, Target: target, Proto: proto}, nil
}

func (p *HeaderParser) parseHeaderLine(line []byte) error {
	// Obsolete line folding: continuation of the previous value.
	if line[0] == ' ' || line[0] == '\t' {
		n := len(p.head.Lines)
		if n == 0 {
			return &ProtocolError{Kind: MalformedHeader, Detail: "continuation without header"}
		}
		p.head.Lines[n-1].Value += " " + strings.TrimSpace(string(line))
		return nil
	}
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return &ProtocolError{Kind: MalformedHeader, Detail: quoteLine(string(line))}
	}
	name := string(line[:colon])
	value := strings.Trim(string(line[colon+1:]), " \t")
	if !httpguts.ValidHeaderFieldName(name) {
		return &ProtocolError{Kind: MalformedHeader, Detail: "invalid name " + quoteLine(name)}
	}
	if !httpguts.ValidHeaderFieldValue(value) {
		return &ProtocolError{Kind: MalformedHeader, Detail: "invalid value for " + name}
	}
	p.head.Lines = append(p.head.Lines, HeaderLine{Name: name, Value: value})
	return nil
}

func quoteLine(s string) string {
	if len(s) > 64 {
		s = s[:64] + "..."
	}
	return `"` + s + `"`
}

// ParseURLEncodedForm parses "a=1&b=2" into a map. Later keys win.
func ParseURLEncodedForm(s string) map[string]string {
	params := make(map[string]string)
	for _, pair := range strings.Split(s, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			key = k
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			val = v
		}
		params[key] = val
	}
	return params
}
