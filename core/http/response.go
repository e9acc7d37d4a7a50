package http

import (
	"fmt"
	"html"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/searchktools/embed-server/core/codec"
)

// Response is produced by a processor and consumed exactly once by the
// connection that owns the matching Request.
type Response struct {
	StatusCode  int
	ContentType string
	// ContentLength is -1 for a body of unknown length, sent chunked.
	ContentLength int64
	// CacheControlMaxAge in seconds; 0 sends "no-cache".
	CacheControlMaxAge int
	LastModified       time.Time
	ETag               string
	// GzipEncoding compresses the body when the client accepts gzip.
	GzipEncoding bool

	Body BodyReader

	headers Header
}

// NewResponse returns an empty 200 response.
func NewResponse() *Response {
	return &Response{StatusCode: StatusOK}
}

// NewResponseWithStatus returns an empty response with the given status.
func NewResponseWithStatus(code int) *Response {
	return &Response{StatusCode: code}
}

// NewRedirectResponse redirects to location with 301 when permanent, 307 otherwise.
func NewRedirectResponse(location *url.URL, permanent bool) *Response {
	code := StatusTemporaryRedirect
	if permanent {
		code = StatusMovedPermanently
	}
	r := NewResponseWithStatus(code)
	r.SetHeader(HeaderLocation, location.String())
	return r
}

// NewDataResponse serves data with the given content type.
func NewDataResponse(data []byte, contentType string) *Response {
	if contentType == "" {
		contentType = DefaultMIMEType
	}
	return &Response{
		StatusCode:    StatusOK,
		ContentType:   contentType,
		ContentLength: int64(len(data)),
		Body:          NewMemoryBody(data),
	}
}

// NewTextResponse serves UTF-8 plain text.
func NewTextResponse(text string) *Response {
	return NewDataResponse([]byte(text), "text/plain; charset=utf-8")
}

// NewHTMLResponse serves UTF-8 HTML.
func NewHTMLResponse(htmlText string) *Response {
	return NewDataResponse([]byte(htmlText), "text/html; charset=utf-8")
}

// NewHTMLTemplateResponse serves the HTML file at path after replacing every
// %name% with variables[name].
func NewHTMLTemplateResponse(path string, variables map[string]string) (*Response, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	text := DecodeText(data, "text/html")
	if len(variables) > 0 {
		pairs := make([]string, 0, 2*len(variables))
		for k, v := range variables {
			pairs = append(pairs, "%"+k+"%", v)
		}
		text = strings.NewReplacer(pairs...).Replace(text)
	}
	return NewHTMLResponse(text), nil
}

// NewEncodedResponse serializes v with c.
func NewEncodedResponse(c codec.Codec, v interface{}) (*Response, error) {
	data, err := c.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s response: %w", c.Name(), err)
	}
	return NewDataResponse(data, c.ContentType()), nil
}

// NewErrorResponse returns a response with a minimal HTML page describing the error.
func NewErrorResponse(code int, format string, args ...interface{}) *Response {
	message := fmt.Sprintf(format, args...)
	title := fmt.Sprintf("%d %s", code, StatusText(code))
	if message == "" {
		message = StatusText(code)
	}
	page := fmt.Sprintf("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>%s</title></head>"+
		"<body><h1>HTTP Error %d: %s</h1></body></html>\n",
		html.EscapeString(title), code, html.EscapeString(message))
	r := NewHTMLResponse(page)
	r.StatusCode = code
	return r
}

// FileOptions configures NewFileResponse.
type FileOptions struct {
	// Range selects part of the file; NoRange serves all of it.
	Range ByteRange
	// Attachment adds a Content-Disposition header so browsers download the file.
	Attachment bool
	// MIMETypeOverrides maps lowercase extensions to content types.
	MIMETypeOverrides map[string]string
}

// NewFileResponse serves a regular file. A byte range yields 206 with a
// Content-Range header; an unsatisfiable one returns a *RangeError.
func NewFileResponse(path string, opts FileOptions) (*Response, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: not a regular file", path)
	}
	size := info.Size()

	r := &Response{
		StatusCode:   StatusOK,
		ContentType:  MIMETypeForExtension(path, opts.MIMETypeOverrides),
		LastModified: info.ModTime(),
		ETag:         FileETag(info),
	}
	rng, err := opts.Range.Clamp(size)
	if err != nil {
		return nil, err
	}
	if opts.Range.IsValid() {
		r.StatusCode = StatusPartialContent
		r.SetHeader(HeaderContentRange, rng.ContentRange(size))
	}
	r.ContentLength = rng.Length
	if rng.Length > 0 {
		r.Body = &FileBody{Path: path, Offset: rng.Offset, Length: rng.Length}
	}
	if opts.Attachment {
		r.SetHeader(HeaderContentDisposition, ContentDisposition(filepath.Base(path)))
	}
	return r, nil
}

// FileETag derives an entity tag from a file's size and modification time.
func FileETag(info os.FileInfo) string {
	return `"` + strconv.FormatInt(info.Size(), 16) + "-" + strconv.FormatInt(info.ModTime().UnixNano(), 16) + `"`
}

// ContentDisposition formats an attachment header with an ASCII fallback name
// and the exact UTF-8 name.
func ContentDisposition(name string) string {
	ascii := asciiFilename(name)
	if ascii == name {
		return `attachment; filename="` + ascii + `"`
	}
	return `attachment; filename="` + ascii + `"; filename*=UTF-8''` + url.PathEscape(name)
}

// SetHeader adds a header sent in addition to the ones the connection derives.
func (r *Response) SetHeader(key, value string) {
	if r.headers == nil {
		r.headers = Header{}
	}
	if value == "" {
		r.headers.Del(key)
		return
	}
	r.headers.Set(key, value)
}

// Header returns an additional header set with SetHeader.
func (r *Response) Header(key string) string {
	return r.headers.Get(key)
}

// AdditionalHeaders returns the headers set with SetHeader.
func (r *Response) AdditionalHeaders() Header {
	return r.headers
}

// HasBody reports whether the response carries a body source.
func (r *Response) HasBody() bool {
	return r.Body != nil
}

// CacheControl formats the Cache-Control header value.
func (r *Response) CacheControl() string {
	if r.CacheControlMaxAge > 0 {
		return "max-age=" + strconv.Itoa(r.CacheControlMaxAge) + ", public"
	}
	return "no-cache"
}

// EvaluatePreconditions applies If-None-Match and If-Modified-Since to a
// resource with the given validators. It returns 304 for GET and HEAD, 412
// for other methods, or 0 when the request should proceed.
func EvaluatePreconditions(req *Request, etag string, lastModified time.Time) int {
	matched := false
	if req.IfNoneMatch != "" && etag != "" {
		matched = etagMatches(req.IfNoneMatch, etag)
	} else if !req.IfModifiedSince.IsZero() && !lastModified.IsZero() {
		// HTTP dates have second precision.
		matched = !lastModified.Truncate(time.Second).After(req.IfModifiedSince)
	}
	if !matched {
		return 0
	}
	if req.Method == "GET" || req.Method == "HEAD" {
		return StatusNotModified
	}
	return StatusPreconditionFailed
}

func etagMatches(ifNoneMatch, etag string) bool {
	if strings.TrimSpace(ifNoneMatch) == "*" {
		return true
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == strings.TrimPrefix(etag, "W/") {
			return true
		}
	}
	return false
}
