package http

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func writeAll(t *testing.T, w BodyWriter, data []byte, step int) error {
	t.Helper()
	if err := w.Open(); err != nil {
		return err
	}
	for len(data) > 0 {
		n := min(step, len(data))
		if err := w.Write(data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return w.Close()
}

func TestMemorySink(t *testing.T) {
	s := &MemorySink{SizeHint: 5}
	if err := writeAll(t, s, []byte("hello"), 2); err != nil {
		t.Fatalf("writeAll error: %v", err)
	}
	if string(s.Bytes()) != "hello" {
		t.Errorf("Bytes = %q", s.Bytes())
	}
}

func TestMemorySink_HugeSizeHint(t *testing.T) {
	s := &MemorySink{SizeHint: 1 << 40}
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	if c := s.buf.Cap(); c > 2*MaxPreallocBytes {
		t.Errorf("Open reserved %d bytes for a declared length it has not seen", c)
	}
	if err := s.Write(make([]byte, 3*MaxPreallocBytes)); err != nil {
		t.Fatal(err)
	}
	if len(s.Bytes()) != 3*MaxPreallocBytes {
		t.Errorf("Bytes length = %d", len(s.Bytes()))
	}
}

func TestMemorySink_MaxSize(t *testing.T) {
	s := &MemorySink{MaxSize: 4}
	err := writeAll(t, s, []byte("hello"), 1)
	if StatusFromError(err) != StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %v", err)
	}
}

func TestFileSink(t *testing.T) {
	s := &FileSink{Dir: t.TempDir()}
	if err := writeAll(t, s, []byte("file body"), 3); err != nil {
		t.Fatalf("writeAll error: %v", err)
	}
	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if string(data) != "file body" {
		t.Errorf("File content = %q", data)
	}
	path := s.Path()
	s.Release()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Expected temp file removed, stat err = %v", err)
	}
}

func TestFormSink_Charset(t *testing.T) {
	// "café" in ISO-8859-1, percent-encoded.
	s := &FormSink{ContentType: "application/x-www-form-urlencoded; charset=iso-8859-1"}
	if err := writeAll(t, s, []byte("name=caf%E9&n=1"), 4); err != nil {
		t.Fatalf("writeAll error: %v", err)
	}
	args := s.Arguments()
	if args["n"] != "1" {
		t.Errorf("n = %q", args["n"])
	}
	if args["name"] != "café" {
		t.Errorf("name = %q, want café", args["name"])
	}
}

func TestGzipSink(t *testing.T) {
	plain := strings.Repeat("compressible text ", 500)
	var zbuf bytes.Buffer
	zw := gzip.NewWriter(&zbuf)
	zw.Write([]byte(plain))
	zw.Close()

	inner := &MemorySink{}
	s := NewGzipSink(inner)
	if err := writeAll(t, s, zbuf.Bytes(), 100); err != nil {
		t.Fatalf("writeAll error: %v", err)
	}
	if string(inner.Bytes()) != plain {
		t.Errorf("Decoded %d bytes, want %d", len(inner.Bytes()), len(plain))
	}
}

func TestGzipSink_Invalid(t *testing.T) {
	s := NewGzipSink(&MemorySink{})
	err := writeAll(t, s, []byte("definitely not gzip data"), 8)
	if StatusFromError(err) != StatusBadRequest {
		t.Errorf("Expected 400, got %v", err)
	}
	s.Release()
}

func TestGzipSink_InnerLimit(t *testing.T) {
	var zbuf bytes.Buffer
	zw := gzip.NewWriter(&zbuf)
	zw.Write(bytes.Repeat([]byte{'x'}, 10000))
	zw.Close()

	s := NewGzipSink(&MemorySink{MaxSize: 100})
	err := writeAll(t, s, zbuf.Bytes(), 16)
	if StatusFromError(err) != StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %v", err)
	}
	s.Release()
}

const testBoundary = "XyZzY"

func multipartBody() string {
	return "preamble\r\n" +
		"--" + testBoundary + "\r\n" +
		"Content-Disposition: form-data; name=\"title\"\r\n\r\n" +
		"Hello\r\n" +
		"--" + testBoundary + "\r\n" +
		"Content-Disposition: form-data; name=\"upload\"; filename=\"notes.txt\"\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"line one\nline two\r\n" +
		"--" + testBoundary + "--\r\n" +
		"epilogue"
}

func TestMultiPartSink(t *testing.T) {
	for _, step := range []int{1, 7, 1024} {
		s := &MultiPartSink{ContentType: "multipart/form-data; boundary=" + testBoundary, Dir: t.TempDir()}
		if err := writeAll(t, s, []byte(multipartBody()), step); err != nil {
			t.Fatalf("step %d: writeAll error: %v", step, err)
		}
		arg := s.FirstArgument("title")
		if arg == nil || arg.String != "Hello" {
			t.Fatalf("step %d: title argument = %+v", step, arg)
		}
		file := s.FirstFile("upload")
		if file == nil || file.FileName != "notes.txt" || file.MIMEType != "text/plain" {
			t.Fatalf("step %d: upload file = %+v", step, file)
		}
		data, err := os.ReadFile(file.TemporaryPath)
		if err != nil || string(data) != "line one\nline two" {
			t.Errorf("step %d: file content = %q, err = %v", step, data, err)
		}
		s.Release()
		if _, err := os.Stat(file.TemporaryPath); !os.IsNotExist(err) {
			t.Errorf("step %d: expected upload removed", step)
		}
	}
}

func TestMultiPartSink_MissingBoundary(t *testing.T) {
	s := &MultiPartSink{ContentType: "multipart/form-data"}
	if err := s.Open(); StatusFromError(err) != StatusBadRequest {
		t.Errorf("Expected 400, got %v", err)
	}
}

func TestMultiPartSink_Truncated(t *testing.T) {
	s := &MultiPartSink{ContentType: "multipart/form-data; boundary=" + testBoundary, Dir: t.TempDir()}
	body := multipartBody()
	err := writeAll(t, s, []byte(body[:len(body)/2]), 16)
	if err == nil {
		t.Error("Expected error for truncated multipart body")
	}
	s.Release()
}
