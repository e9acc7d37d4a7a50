// Package router holds the handler registry. Handlers are tried most recently
// added first; the first one whose match function returns a request wins.
package router

import (
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/searchktools/embed-server/core/http"
)

// MatchFunc inspects a parsed request head and returns a Request to claim it,
// or nil to let older handlers try.
type MatchFunc func(method string, u *url.URL, headers http.Header, path string, query map[string]string) *http.Request

// RequestFactory builds the request variant a handler wants (data, file,
// form...). It has the same shape as MatchFunc; http.NewRequest and friends
// satisfy it.
type RequestFactory = MatchFunc

// ProcessFunc produces the response synchronously. Returning a nil response
// without an error is a handler bug and yields 500.
type ProcessFunc func(req *http.Request) (*http.Response, error)

// AsyncProcessFunc produces the response later by calling done exactly once,
// from any goroutine.
type AsyncProcessFunc func(req *http.Request, done func(*http.Response, error))

// ValidatorFunc reports the cache validators of the resource a request
// targets, so a conditional request can be answered before processing.
// ok is false when the resource has no validators.
type ValidatorFunc func(req *http.Request) (etag string, lastModified time.Time, ok bool)

// Entry is one registered handler.
type Entry struct {
	// Name identifies the handler in logs and statistics.
	Name         string
	Match        MatchFunc
	Process      ProcessFunc
	AsyncProcess AsyncProcessFunc
	Validate     ValidatorFunc
}

// IsAsync reports whether the entry completes through a callback.
func (e *Entry) IsAsync() bool { return e.AsyncProcess != nil }

// Registry stores handler entries. Reads take a snapshot and never lock;
// writes are only allowed while the registry is not frozen.
type Registry struct {
	mu      sync.Mutex
	entries atomic.Pointer[[]*Entry]
	frozen  atomic.Bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.entries.Store(&[]*Entry{})
	return r
}

// Add registers e ahead of every existing entry. It panics with
// *http.StateError if the registry is frozen or e is incomplete.
func (r *Registry) Add(e Entry) *Entry {
	if e.Match == nil {
		panic(&http.StateError{Op: "add handler", Reason: "match function is nil"})
	}
	if (e.Process == nil) == (e.AsyncProcess == nil) {
		panic(&http.StateError{Op: "add handler", Reason: "exactly one of Process and AsyncProcess must be set"})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		panic(&http.StateError{Op: "add handler", Reason: "server is running"})
	}
	old := *r.entries.Load()
	next := make([]*Entry, len(old), len(old)+1)
	copy(next, old)
	entry := &e
	next = append(next, entry)
	r.entries.Store(&next)
	return entry
}

// RemoveAll drops every entry. It panics if the registry is frozen.
func (r *Registry) RemoveAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		panic(&http.StateError{Op: "remove handlers", Reason: "server is running"})
	}
	r.entries.Store(&[]*Entry{})
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	return len(*r.entries.Load())
}

// Freeze rejects further changes until Unfreeze.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen.Store(true)
	r.mu.Unlock()
}

// Unfreeze allows changes again.
func (r *Registry) Unfreeze() {
	r.mu.Lock()
	r.frozen.Store(false)
	r.mu.Unlock()
}

// Frozen reports whether changes are currently rejected.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Lookup offers the head to each entry, newest first, and returns the first
// request produced along with the entry that produced it.
func (r *Registry) Lookup(method string, u *url.URL, headers http.Header, path string, query map[string]string) (*http.Request, *Entry) {
	entries := *r.entries.Load()
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if req := e.Match(method, u, headers, path, query); req != nil {
			return req, e
		}
	}
	return nil, nil
}
