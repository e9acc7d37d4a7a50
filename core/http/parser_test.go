package http

import (
	"errors"
	"strings"
	"testing"
)

func feedAll(t *testing.T, p *HeaderParser, pieces ...string) (bool, []byte, error) {
	t.Helper()
	var (
		done bool
		rest []byte
		err  error
	)
	for _, piece := range pieces {
		done, rest, err = p.Feed([]byte(piece))
		if done || err != nil {
			return done, rest, err
		}
	}
	return done, rest, err
}

func TestHeaderParser_Simple(t *testing.T) {
	p := &HeaderParser{}
	done, rest, err := feedAll(t, p, "GET /hello?x=1 HTTP/1.1\r\nHost: localhost\r\nAccept: */*\r\n\r\n")
	if err != nil {
		t.Fatalf("Feed error: %v", err)
	}
	if !done {
		t.Fatal("Expected head to be complete")
	}
	if len(rest) != 0 {
		t.Errorf("Expected no leftover bytes, got %q", rest)
	}
	head := p.Head()
	if head.Method != "GET" || head.Target != "/hello?x=1" || head.Proto != "HTTP/1.1" {
		t.Errorf("Unexpected request line: %+v", head)
	}
	if head.Header.Get("host") != "localhost" {
		t.Errorf("Expected Host localhost, got %q", head.Header.Get("host"))
	}
}

func TestHeaderParser_SplitAcrossReads(t *testing.T) {
	full := "POST /upload HTTP/1.1\r\nContent-Length: 4\r\nX-Custom:  spaced value \r\n\r\nbody"
	for split := 1; split < len(full)-4; split++ {
		p := &HeaderParser{}
		done, rest, err := feedAll(t, p, full[:split], full[split:])
		if err != nil {
			t.Fatalf("split %d: Feed error: %v", split, err)
		}
		if !done {
			t.Fatalf("split %d: head not complete", split)
		}
		if string(rest) != "body" {
			t.Errorf("split %d: rest = %q, want body", split, rest)
		}
		if v := p.Head().Header.Get("X-Custom"); v != "spaced value" {
			t.Errorf("split %d: X-Custom = %q", split, v)
		}
	}
}

func TestHeaderParser_Incomplete(t *testing.T) {
	p := &HeaderParser{}
	done, _, err := feedAll(t, p, "GET / HTTP/1.1\r\nHost: a\r\n")
	if err != nil || done {
		t.Errorf("Expected incomplete without error, got done=%v err=%v", done, err)
	}
	if p.Buffered() != 0 {
		t.Errorf("Expected all complete lines consumed, %d buffered", p.Buffered())
	}
}

func TestHeaderParser_BareLFAndLeadingBlankLines(t *testing.T) {
	p := &HeaderParser{}
	done, _, err := feedAll(t, p, "\r\n\nGET / HTTP/1.0\nHost: a\n\n")
	if err != nil || !done {
		t.Fatalf("Expected done, got done=%v err=%v", done, err)
	}
	if p.Head().Proto != "HTTP/1.0" {
		t.Errorf("Proto = %s", p.Head().Proto)
	}
}

func TestHeaderParser_DuplicateHeadersFolded(t *testing.T) {
	p := &HeaderParser{}
	_, _, err := feedAll(t, p, "GET / HTTP/1.1\r\nAccept: text/html\r\naccept: application/json\r\n\r\n")
	if err != nil {
		t.Fatalf("Feed error: %v", err)
	}
	if got := p.Head().Header.Get("Accept"); got != "text/html, application/json" {
		t.Errorf("Accept = %q", got)
	}
	if len(p.Head().Lines) != 2 {
		t.Errorf("Expected 2 raw lines, got %d", len(p.Head().Lines))
	}
}

func TestHeaderParser_ObsFold(t *testing.T) {
	p := &HeaderParser{}
	_, _, err := feedAll(t, p, "GET / HTTP/1.1\r\nX-Long: first\r\n\tsecond\r\n\r\n")
	if err != nil {
		t.Fatalf("Feed error: %v", err)
	}
	if got := p.Head().Header.Get("X-Long"); got != "first second" {
		t.Errorf("X-Long = %q", got)
	}
}

func TestHeaderParser_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		code  int
	}{
		{"no target", "GET HTTP/1.1\r\n\r\n", StatusBadRequest},
		{"bad method", "G@T / HTTP/1.1\r\n\r\n", StatusBadRequest},
		{"not http", "GET / FTP/1.0\r\n\r\n", StatusBadRequest},
		{"http2", "GET / HTTP/2.0\r\n\r\n", StatusHTTPVersionNotSupported},
		{"no colon", "GET / HTTP/1.1\r\nBroken\r\n\r\n", StatusBadRequest},
		{"bad name", "GET / HTTP/1.1\r\nBad Name: x\r\n\r\n", StatusBadRequest},
		{"control char", "GET / HTTP/1.1\r\nX: a\x01b\r\n\r\n", StatusBadRequest},
		{"fold first", "GET / HTTP/1.1\r\n folded\r\n\r\n", StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &HeaderParser{}
			_, _, err := feedAll(t, p, tt.input)
			var perr *ProtocolError
			if !errors.As(err, &perr) {
				t.Fatalf("Expected *ProtocolError, got %v", err)
			}
			if perr.HTTPCode() != tt.code {
				t.Errorf("HTTPCode = %d, want %d", perr.HTTPCode(), tt.code)
			}
		})
	}
}

func TestHeaderParser_Limits(t *testing.T) {
	p := &HeaderParser{MaxLineBytes: 32}
	_, _, err := feedAll(t, p, "GET /"+strings.Repeat("a", 64))
	if StatusFromError(err) != StatusRequestURITooLong {
		t.Errorf("Long request line: got %v", err)
	}

	p = &HeaderParser{MaxLineBytes: 32}
	_, _, err = feedAll(t, p, "GET / HTTP/1.1\r\nX: "+strings.Repeat("b", 64)+"\r\n")
	if StatusFromError(err) != StatusRequestHeaderFieldsTooLarge {
		t.Errorf("Long header line: got %v", err)
	}

	p = &HeaderParser{MaxHeaderBytes: 64}
	_, _, err = feedAll(t, p, "GET / HTTP/1.1\r\n", "A: 1234567890\r\n", "B: 1234567890\r\n", "C: 1234567890\r\n", "D: 1234567890\r\n")
	if StatusFromError(err) != StatusRequestHeaderFieldsTooLarge {
		t.Errorf("Large header block: got %v", err)
	}
}

func TestHeaderParser_Reset(t *testing.T) {
	p := &HeaderParser{}
	done, rest, _ := feedAll(t, p, "GET /a HTTP/1.1\r\n\r\nGET /b HTTP/1.1\r\n\r\n")
	if !done {
		t.Fatal("Expected first head")
	}
	p.Reset()
	done, _, err := p.Feed(rest)
	if err != nil || !done {
		t.Fatalf("Second head: done=%v err=%v", done, err)
	}
	if p.Head().Target != "/b" {
		t.Errorf("Target = %s, want /b", p.Head().Target)
	}
}

func TestParseURLEncodedForm(t *testing.T) {
	form := ParseURLEncodedForm("a=1&b=hello+world&c=%E2%9C%93&a=2&&empty=")
	want := map[string]string{"a": "2", "b": "hello world", "c": "✓", "empty": ""}
	for k, v := range want {
		if form[k] != v {
			t.Errorf("form[%q] = %q, want %q", k, form[k], v)
		}
	}
	if len(form) != len(want) {
		t.Errorf("Got %d keys, want %d", len(form), len(want))
	}
}

func TestHeaderHelpers(t *testing.T) {
	ct := `Multipart/Form-Data; boundary="AbC"`
	if got := NormalizeHeaderValue(ct); got != `multipart/form-data; boundary="AbC"` {
		t.Errorf("NormalizeHeaderValue = %q", got)
	}
	if got := TruncateHeaderValue(ct); got != "Multipart/Form-Data" {
		t.Errorf("TruncateHeaderValue = %q", got)
	}
	if got := ExtractHeaderParameter(ct, "BOUNDARY"); got != "AbC" {
		t.Errorf("ExtractHeaderParameter = %q", got)
	}
	if got := ExtractHeaderParameter("text/plain", "charset"); got != "" {
		t.Errorf("Expected no parameter, got %q", got)
	}
}
