// Package middleware contains preflight checks that run after a request body
// has been received and before the handler processes it.
package middleware

import (
	"strings"
	"sync"
	"time"

	"github.com/searchktools/embed-server/core/http"
	"github.com/searchktools/embed-server/core/router"
)

// PreflightFunc inspects a request and returns a response to short-circuit
// processing, or nil to continue.
type PreflightFunc func(req *http.Request) *http.Response

// Pipeline runs preflight checks in the order they were added.
type Pipeline struct {
	handlers []PreflightFunc
	length   int
}

// NewPipeline creates an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{
		handlers: make([]PreflightFunc, 0, 4),
	}
}

// Use appends a check.
func (p *Pipeline) Use(handler PreflightFunc) *Pipeline {
	p.handlers = append(p.handlers, handler)
	p.length = len(p.handlers)
	return p
}

// Len returns the number of checks.
func (p *Pipeline) Len() int {
	if p == nil {
		return 0
	}
	return p.length
}

// Execute runs the checks until one produces a response.
func (p *Pipeline) Execute(req *http.Request) *http.Response {
	if p == nil || p.length == 0 {
		return nil
	}
	for i := 0; i < p.length; i++ {
		if resp := p.handlers[i](req); resp != nil {
			return resp
		}
	}
	return nil
}

// Compile trims the handler slice to its exact size.
func (p *Pipeline) Compile() *Pipeline {
	if p.length <= 1 {
		return p
	}
	compiled := make([]PreflightFunc, p.length)
	copy(compiled, p.handlers)
	p.handlers = compiled
	return p
}

// NotModified answers conditional requests from the handler's validators
// with 304 (GET, HEAD) or 412 (other methods) before the handler runs.
func NotModified(validate router.ValidatorFunc) PreflightFunc {
	return func(req *http.Request) *http.Response {
		if validate == nil || (req.IfNoneMatch == "" && req.IfModifiedSince.IsZero()) {
			return nil
		}
		etag, lastModified, ok := validate(req)
		if !ok {
			return nil
		}
		code := http.EvaluatePreconditions(req, etag, lastModified)
		if code == 0 {
			return nil
		}
		resp := http.NewResponseWithStatus(code)
		resp.ETag = etag
		resp.LastModified = lastModified
		return resp
	}
}

// CORS answers OPTIONS requests with permissive CORS headers.
func CORS(allowOrigin string) PreflightFunc {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return func(req *http.Request) *http.Response {
		if req.Method != "OPTIONS" {
			return nil
		}
		resp := http.NewResponseWithStatus(http.StatusNoContent)
		resp.SetHeader("Access-Control-Allow-Origin", allowOrigin)
		resp.SetHeader("Access-Control-Allow-Methods", "GET, HEAD, POST, PUT, DELETE, OPTIONS")
		allowHeaders := req.Headers.Get("Access-Control-Request-Headers")
		if allowHeaders == "" {
			allowHeaders = "Content-Type, Authorization"
		}
		resp.SetHeader("Access-Control-Allow-Headers", allowHeaders)
		return resp
	}
}

// RateLimiter rejects requests beyond requestsPerSecond with 429.
func RateLimiter(requestsPerSecond int) PreflightFunc {
	var (
		tokens     int
		lastRefill time.Time
		mu         sync.Mutex
	)

	tokens = requestsPerSecond
	lastRefill = time.Now()

	return func(req *http.Request) *http.Response {
		mu.Lock()
		now := time.Now()
		if now.Sub(lastRefill) > time.Second {
			tokens = requestsPerSecond
			lastRefill = now
		}
		if tokens > 0 {
			tokens--
			mu.Unlock()
			return nil
		}
		mu.Unlock()

		resp := http.NewErrorResponse(http.StatusTooManyRequests, "Too Many Requests")
		resp.SetHeader("Retry-After", "1")
		return resp
	}
}

// MethodFilter rejects methods outside allowed with 405.
func MethodFilter(allowed ...string) PreflightFunc {
	allow := strings.Join(allowed, ", ")
	return func(req *http.Request) *http.Response {
		for _, m := range allowed {
			if req.Method == m {
				return nil
			}
		}
		resp := http.NewErrorResponse(http.StatusMethodNotAllowed, "Method %s not allowed", req.Method)
		resp.SetHeader("Allow", allow)
		return resp
	}
}
