package http

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// BodyWriter receives a request body as it streams off the connection.
// Open is called once before the first Write, Close once after the last.
// An error from any of them aborts the request; if the error carries an
// HTTPCode the client gets that status.
type BodyWriter interface {
	Open() error
	Write(p []byte) error
	Close() error
}

// releaser is implemented by sinks holding resources past Close.
type releaser interface {
	Release()
}

type discardSink struct{}

func (discardSink) Open() error          { return nil }
func (discardSink) Write(p []byte) error { return nil }
func (discardSink) Close() error         { return nil }

// MaxPreallocBytes caps the storage a MemorySink reserves from its size
// hint. Larger bodies grow the buffer as bytes arrive.
const MaxPreallocBytes = 64 << 10

// MemorySink keeps the body in memory.
type MemorySink struct {
	// MaxSize bounds the body; 0 means unbounded.
	MaxSize int64
	// SizeHint preallocates storage, usually the declared Content-Length.
	SizeHint int64

	buf bytes.Buffer
}

func (s *MemorySink) Open() error {
	s.buf.Reset()
	if s.SizeHint > 0 && (s.MaxSize <= 0 || s.SizeHint <= s.MaxSize) {
		s.buf.Grow(int(min(s.SizeHint, MaxPreallocBytes)))
	}
	return nil
}

func (s *MemorySink) Write(p []byte) error {
	if s.MaxSize > 0 && int64(s.buf.Len()+len(p)) > s.MaxSize {
		return &ProtocolError{Kind: BodyTooLarge, Detail: fmt.Sprintf("limit is %d bytes", s.MaxSize)}
	}
	s.buf.Write(p)
	return nil
}

func (s *MemorySink) Close() error { return nil }

// Bytes returns the received body.
func (s *MemorySink) Bytes() []byte { return s.buf.Bytes() }

// FileSink streams the body into a temporary file that lives until Release.
type FileSink struct {
	// Dir is the directory for the temporary file; "" uses os.TempDir.
	Dir string

	file *os.File
	path string
}

func (s *FileSink) Open() error {
	f, err := os.CreateTemp(s.Dir, "embed-upload-*")
	if err != nil {
		return fmt.Errorf("create upload file: %w", err)
	}
	s.file = f
	s.path = f.Name()
	return nil
}

func (s *FileSink) Write(p []byte) error {
	if _, err := s.file.Write(p); err != nil {
		return fmt.Errorf("write upload file: %w", err)
	}
	return nil
}

func (s *FileSink) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return fmt.Errorf("close upload file: %w", err)
	}
	return nil
}

// Path returns the temporary file path, or "" before Open.
func (s *FileSink) Path() string { return s.path }

// Release removes the temporary file.
func (s *FileSink) Release() {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	if s.path != "" {
		os.Remove(s.path)
		s.path = ""
	}
}

// FormSink collects an application/x-www-form-urlencoded body and parses it on Close.
type FormSink struct {
	MemorySink
	// ContentType selects the charset used to decode the body.
	ContentType string

	args map[string]string
}

// Close parses the fields. Percent escapes are decoded first so that escaped
// bytes are interpreted in the declared charset.
func (s *FormSink) Close() error {
	raw := ParseURLEncodedForm(string(s.Bytes()))
	s.args = make(map[string]string, len(raw))
	for k, v := range raw {
		s.args[DecodeText([]byte(k), s.ContentType)] = DecodeText([]byte(v), s.ContentType)
	}
	return nil
}

// Arguments returns the parsed form fields.
func (s *FormSink) Arguments() map[string]string { return s.args }

// pipeSink feeds written bytes to a goroutine consuming them as an io.Reader.
// It backs the sinks whose parsers only speak io.Reader.
type pipeSink struct {
	pw   *io.PipeWriter
	done chan error
}

func (p *pipeSink) start(consume func(r io.Reader) error) {
	pr, pw := io.Pipe()
	p.pw = pw
	p.done = make(chan error, 1)
	go func() {
		err := consume(pr)
		if err == nil {
			// Drain anything the parser left behind (multipart epilogue).
			_, err = io.Copy(io.Discard, pr)
		}
		pr.CloseWithError(err)
		p.done <- err
	}()
}

func (p *pipeSink) write(b []byte) error {
	if _, err := p.pw.Write(b); err != nil {
		return err
	}
	return nil
}

func (p *pipeSink) close() error {
	if p.pw == nil {
		return nil
	}
	p.pw.Close()
	p.pw = nil
	return <-p.done
}

// abort stops the consumer without waiting for input it will never get.
func (p *pipeSink) abort() {
	if p.pw != nil {
		p.pw.CloseWithError(io.ErrUnexpectedEOF)
		<-p.done
		p.pw = nil
	}
}
