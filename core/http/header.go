package http

import (
	"net/textproto"
	"sort"
	"strings"
	"time"
)

// HTTP header names used by the server.
const (
	HeaderAcceptEncoding     = "Accept-Encoding"
	HeaderAcceptRanges       = "Accept-Ranges"
	HeaderAuthorization      = "Authorization"
	HeaderCacheControl       = "Cache-Control"
	HeaderConnection         = "Connection"
	HeaderContentDisposition = "Content-Disposition"
	HeaderContentEncoding    = "Content-Encoding"
	HeaderContentLength      = "Content-Length"
	HeaderContentRange       = "Content-Range"
	HeaderContentType        = "Content-Type"
	HeaderDate               = "Date"
	HeaderETag               = "ETag"
	HeaderExpect             = "Expect"
	HeaderHost               = "Host"
	HeaderIfModifiedSince    = "If-Modified-Since"
	HeaderIfNoneMatch        = "If-None-Match"
	HeaderLastModified       = "Last-Modified"
	HeaderLocation           = "Location"
	HeaderRange              = "Range"
	HeaderServer             = "Server"
	HeaderTransferEncoding   = "Transfer-Encoding"
	HeaderWWWAuthenticate    = "WWW-Authenticate"
)

// DefaultMIMEType is used for bodies whose type is not declared.
const DefaultMIMEType = "application/octet-stream"

// TimeFormat is the RFC 822 / RFC 1123 layout used in HTTP date headers.
const TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// Header is a case-insensitive header map. Duplicate names received on the
// wire are folded into a single comma-separated value.
type Header map[string]string

// Get returns the value for key, or "".
func (h Header) Get(key string) string {
	return h[textproto.CanonicalMIMEHeaderKey(key)]
}

// Has reports whether key is present.
func (h Header) Has(key string) bool {
	_, ok := h[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}

// Set replaces any existing value for key.
func (h Header) Set(key, value string) {
	h[textproto.CanonicalMIMEHeaderKey(key)] = value
}

// Add appends value to key, joining with ", " when key already exists.
func (h Header) Add(key, value string) {
	k := textproto.CanonicalMIMEHeaderKey(key)
	if prev, ok := h[k]; ok && prev != "" {
		h[k] = prev + ", " + value
		return
	}
	h[k] = value
}

// Del removes key.
func (h Header) Del(key string) {
	delete(h, textproto.CanonicalMIMEHeaderKey(key))
}

// Clone returns a copy of h.
func (h Header) Clone() Header {
	c := make(Header, len(h))
	for k, v := range h {
		c[k] = v
	}
	return c
}

// Keys returns the header names in sorted order.
func (h Header) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NormalizeHeaderValue lowercases the part of a header value before the first ';'.
// Parameters keep their case since they may be case sensitive (boundaries, charsets).
func NormalizeHeaderValue(value string) string {
	if value == "" {
		return ""
	}
	if i := strings.IndexByte(value, ';'); i >= 0 {
		return strings.ToLower(value[:i]) + value[i:]
	}
	return strings.ToLower(value)
}

// TruncateHeaderValue drops the parameters of a header value.
func TruncateHeaderValue(value string) string {
	if i := strings.IndexByte(value, ';'); i >= 0 {
		return strings.TrimSpace(value[:i])
	}
	return strings.TrimSpace(value)
}

// ExtractHeaderParameter returns the value of attribute in a header like
// `multipart/form-data; boundary="xyz"`. Quotes are removed.
func ExtractHeaderParameter(value, attribute string) string {
	parts := strings.Split(value, ";")
	for _, p := range parts[1:] {
		name, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), attribute) {
			continue
		}
		v = strings.TrimSpace(v)
		if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
			v = v[1 : len(v)-1]
		}
		return v
	}
	return ""
}

// FormatTime formats t for a Date or Last-Modified header.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime parses an HTTP date. RFC 850 and asctime layouts are accepted as well.
func ParseTime(s string) (time.Time, bool) {
	for _, layout := range []string{TimeFormat, time.RFC850, time.ANSIC, time.RFC1123Z} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
