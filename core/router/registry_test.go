package router

import (
	"errors"
	"net/url"
	"testing"

	"github.com/searchktools/embed-server/core/http"
)

func lookup(r *Registry, method, path string) (*http.Request, *Entry) {
	u := &url.URL{Path: path}
	return r.Lookup(method, u, http.Header{}, path, map[string]string{})
}

func okProcess(req *http.Request) (*http.Response, error) {
	return http.NewResponse(), nil
}

// TestRegistryLIFO checks that the most recently added matching entry wins.
func TestRegistryLIFO(t *testing.T) {
	r := NewRegistry()
	r.Add(Entry{Name: "default", Match: MatchMethod("GET", nil), Process: okProcess})
	r.Add(Entry{Name: "hello", Match: MatchPath("GET", "/hello", nil), Process: okProcess})

	tests := []struct {
		method string
		path   string
		want   string
	}{
		{"GET", "/hello", "hello"},
		{"GET", "/HELLO", "hello"},
		{"GET", "/other", "default"},
		{"POST", "/hello", ""},
	}
	for _, tt := range tests {
		req, e := lookup(r, tt.method, tt.path)
		got := ""
		if e != nil {
			got = e.Name
			if req == nil {
				t.Errorf("%s %s: entry without request", tt.method, tt.path)
			}
		}
		if got != tt.want {
			t.Errorf("%s %s: matched %q, want %q", tt.method, tt.path, got, tt.want)
		}
	}

	// A newer default handler shadows the specific one.
	r.Add(Entry{Name: "catch-all", Match: MatchMethod("GET", nil), Process: okProcess})
	if _, e := lookup(r, "GET", "/hello"); e == nil || e.Name != "catch-all" {
		t.Errorf("Expected catch-all to win, got %v", e)
	}
}

func TestRegistryRegex(t *testing.T) {
	r := NewRegistry()
	match, err := MatchPathRegex("GET", `^/users/(\d+)/posts/(\w+)$`, nil)
	if err != nil {
		t.Fatalf("MatchPathRegex error: %v", err)
	}
	r.Add(Entry{Name: "posts", Match: match, Process: okProcess})

	req, e := lookup(r, "GET", "/Users/42/posts/intro")
	if e == nil {
		t.Fatal("Expected regex match")
	}
	captures := req.RegexCaptures()
	if len(captures) != 2 || captures[0] != "42" || captures[1] != "intro" {
		t.Errorf("Captures = %v", captures)
	}

	if _, e := lookup(r, "GET", "/users/x/posts/intro"); e != nil {
		t.Error("Unexpected match")
	}

	if _, err := MatchPathRegex("GET", "(", nil); err == nil {
		t.Error("Expected compile error")
	}
}

func TestRegistryPrefix(t *testing.T) {
	r := NewRegistry()
	r.Add(Entry{Name: "static", Match: MatchPathPrefix("GET", "/static/", nil), Process: okProcess})

	if _, e := lookup(r, "GET", "/Static/css/site.css"); e == nil {
		t.Error("Expected prefix match")
	}
	if _, e := lookup(r, "GET", "/stat"); e != nil {
		t.Error("Unexpected match for shorter path")
	}
}

func TestRegistryFactory(t *testing.T) {
	r := NewRegistry()
	r.Add(Entry{Match: MatchPath("POST", "/upload", http.NewFileRequest), Process: okProcess})
	req, _ := lookup(r, "POST", "/upload")
	if _, ok := req.Body.(*http.FileSink); !ok {
		t.Errorf("Expected FileSink body, got %T", req.Body)
	}
}

func expectStatePanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		rec := recover()
		err, _ := rec.(error)
		var serr *http.StateError
		if !errors.As(err, &serr) {
			t.Errorf("%s: expected *http.StateError panic, got %v", name, rec)
		}
	}()
	fn()
}

func TestRegistryFrozen(t *testing.T) {
	r := NewRegistry()
	r.Add(Entry{Match: MatchMethod("GET", nil), Process: okProcess})
	r.Freeze()

	expectStatePanic(t, "Add", func() {
		r.Add(Entry{Match: MatchMethod("GET", nil), Process: okProcess})
	})
	expectStatePanic(t, "RemoveAll", r.RemoveAll)

	if _, e := lookup(r, "GET", "/"); e == nil {
		t.Error("Lookup must keep working while frozen")
	}

	r.Unfreeze()
	r.RemoveAll()
	if r.Len() != 0 {
		t.Errorf("Len = %d after RemoveAll", r.Len())
	}
}

func TestRegistryInvalidEntry(t *testing.T) {
	r := NewRegistry()
	expectStatePanic(t, "no match", func() { r.Add(Entry{Process: okProcess}) })
	expectStatePanic(t, "no process", func() { r.Add(Entry{Match: MatchMethod("GET", nil)}) })
	expectStatePanic(t, "both", func() {
		r.Add(Entry{
			Match:        MatchMethod("GET", nil),
			Process:      okProcess,
			AsyncProcess: func(*http.Request, func(*http.Response, error)) {},
		})
	})
}

func BenchmarkRegistryLookup(b *testing.B) {
	r := NewRegistry()
	r.Add(Entry{Match: MatchMethod("GET", nil), Process: okProcess})
	for i := 0; i < 20; i++ {
		r.Add(Entry{Match: MatchPath("GET", "/route/"+string(rune('a'+i)), nil), Process: okProcess})
	}
	u := &url.URL{Path: "/route/a"}
	h := http.Header{}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Lookup("GET", u, h, u.Path, nil)
	}
}
