package http

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func drain(t *testing.T, b BodyReader) ([]byte, error) {
	t.Helper()
	if err := b.Open(); err != nil {
		return nil, err
	}
	defer b.Close()
	var out bytes.Buffer
	for {
		data, err := b.Read()
		if errors.Is(err, io.EOF) {
			return out.Bytes(), nil
		}
		if err != nil {
			return out.Bytes(), err
		}
		out.Write(data)
	}
}

func TestMemoryBody(t *testing.T) {
	got, err := drain(t, NewMemoryBody([]byte("hello")))
	if err != nil || string(got) != "hello" {
		t.Errorf("drain = %q, %v", got, err)
	}
	got, err = drain(t, NewMemoryBody(nil))
	if err != nil || len(got) != 0 {
		t.Errorf("empty drain = %q, %v", got, err)
	}
}

func TestFileBody_Range(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	content := bytes.Repeat([]byte("0123456789"), 10000)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := drain(t, &FileBody{Path: path, Offset: 0, Length: int64(len(content))})
	if err != nil || !bytes.Equal(got, content) {
		t.Fatalf("full read: %d bytes, err %v", len(got), err)
	}

	got, err = drain(t, &FileBody{Path: path, Offset: 500, Length: 100})
	if err != nil || !bytes.Equal(got, content[500:600]) {
		t.Errorf("range read = %q, err %v", got, err)
	}
}

func TestFileBody_Shrunk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.txt")
	os.WriteFile(path, []byte("abc"), 0o644)

	_, err := drain(t, &FileBody{Path: path, Length: 10})
	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.Kind != UnexpectedEOF {
		t.Errorf("Expected UnexpectedEOF, got %v", err)
	}
}

func TestFileBody_WriteTo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.bin")
	content := bytes.Repeat([]byte("abcdefgh"), FileSendChunk/4)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	b := &FileBody{Path: path, Offset: 3, Length: int64(len(content)) - 3}
	if err := b.Open(); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	n, err := b.WriteTo(&out)
	b.Close()
	if err != nil || n != int64(len(content))-3 || !bytes.Equal(out.Bytes(), content[3:]) {
		t.Errorf("WriteTo = %d, %v", n, err)
	}

	short := &FileBody{Path: path, Length: int64(len(content)) + 1}
	if err := short.Open(); err != nil {
		t.Fatal(err)
	}
	defer short.Close()
	_, err = short.WriteTo(io.Discard)
	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.Kind != UnexpectedEOF {
		t.Errorf("Expected UnexpectedEOF, got %v", err)
	}
}

func TestStreamBody_Pull(t *testing.T) {
	parts := []string{"a", "bc", "def"}
	i := 0
	body := NewStreamBody(func() ([]byte, error) {
		if i == len(parts) {
			return nil, nil
		}
		i++
		return []byte(parts[i-1]), nil
	})
	got, err := drain(t, body)
	if err != nil || string(got) != "abcdef" {
		t.Errorf("drain = %q, %v", got, err)
	}
}

func TestStreamBody_Push(t *testing.T) {
	count := 0
	body := NewAsyncStreamBody(func(done func([]byte, error)) {
		go func() {
			count++
			if count > 3 {
				done(nil, io.EOF)
				return
			}
			done([]byte("x"), nil)
		}()
	})

	if err := body.Open(); err != nil {
		t.Fatal(err)
	}
	var got strings.Builder
	for {
		ch := make(chan struct{})
		var data []byte
		var err error
		body.ReadAsync(func(d []byte, e error) {
			data, err = d, e
			close(ch)
		})
		<-ch
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadAsync error: %v", err)
		}
		got.Write(data)
	}
	if got.String() != "xxx" {
		t.Errorf("got %q, want xxx", got.String())
	}
}

func TestStreamBody_Error(t *testing.T) {
	boom := errors.New("boom")
	body := NewStreamBody(func() ([]byte, error) { return nil, boom })
	if _, err := drain(t, body); !errors.Is(err, boom) {
		t.Errorf("Expected boom, got %v", err)
	}
}

func TestGzipBody(t *testing.T) {
	plain := strings.Repeat("gzip me please ", 1000)
	i := 0
	inner := NewStreamBody(func() ([]byte, error) {
		if i >= len(plain) {
			return nil, io.EOF
		}
		end := min(i+700, len(plain))
		chunk := plain[i:end]
		i = end
		return []byte(chunk), nil
	})
	compressed, err := drain(t, NewGzipBody(inner))
	if err != nil {
		t.Fatalf("drain error: %v", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		t.Fatalf("NewReader error: %v", err)
	}
	decoded, err := io.ReadAll(zr)
	if err != nil || string(decoded) != plain {
		t.Errorf("decoded %d bytes, err %v", len(decoded), err)
	}
}
