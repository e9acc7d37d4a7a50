package http

import (
	"bytes"
	"errors"
	"io"

	"github.com/klauspost/compress/gzip"
)

// GzipSink decodes a request body sent with Content-Encoding: gzip and
// forwards the plain bytes to Inner.
type GzipSink struct {
	Inner BodyWriter

	pipe pipeSink
}

// NewGzipSink wraps inner.
func NewGzipSink(inner BodyWriter) *GzipSink {
	return &GzipSink{Inner: inner}
}

func (s *GzipSink) Open() error {
	if err := s.Inner.Open(); err != nil {
		return err
	}
	s.pipe.start(func(r io.Reader) error {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return &ProtocolError{Kind: MalformedBody, Detail: "gzip: " + err.Error()}
		}
		defer zr.Close()
		buf := make([]byte, 32<<10)
		for {
			n, err := zr.Read(buf)
			if n > 0 {
				if werr := s.Inner.Write(buf[:n]); werr != nil {
					return werr
				}
			}
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return &ProtocolError{Kind: MalformedBody, Detail: "gzip: " + err.Error()}
			}
		}
	})
	return nil
}

func (s *GzipSink) Write(p []byte) error { return s.pipe.write(p) }

func (s *GzipSink) Close() error {
	if err := s.pipe.close(); err != nil {
		return err
	}
	return s.Inner.Close()
}

// Release stops the decoder and releases the inner sink.
func (s *GzipSink) Release() {
	s.pipe.abort()
	if r, ok := s.Inner.(releaser); ok {
		r.Release()
	}
}

// GzipBody compresses another body on the fly. The compressed size is not
// known ahead of time so responses using it are always sent chunked.
type GzipBody struct {
	Inner BodyReader
	Level int

	buf      bytes.Buffer
	out      []byte
	zw       *gzip.Writer
	finished bool
}

// NewGzipBody wraps inner with default compression.
func NewGzipBody(inner BodyReader) *GzipBody {
	return &GzipBody{Inner: inner, Level: gzip.DefaultCompression}
}

func (b *GzipBody) Open() error {
	if err := b.Inner.Open(); err != nil {
		return err
	}
	zw, err := gzip.NewWriterLevel(&b.buf, b.Level)
	if err != nil {
		return err
	}
	b.zw = zw
	return nil
}

func (b *GzipBody) Read() ([]byte, error) {
	for !b.finished {
		data, err := b.Inner.Read()
		if len(data) > 0 {
			if _, werr := b.zw.Write(data); werr != nil {
				return nil, werr
			}
		}
		if errors.Is(err, io.EOF) {
			if cerr := b.zw.Close(); cerr != nil {
				return nil, cerr
			}
			b.finished = true
		} else if err != nil {
			return nil, err
		}
		if b.buf.Len() > 0 {
			return b.take(), nil
		}
	}
	if b.buf.Len() > 0 {
		return b.take(), nil
	}
	return nil, io.EOF
}

// take hands out the compressed bytes accumulated so far. The slice stays
// valid until the next Read.
func (b *GzipBody) take() []byte {
	b.out = append(b.out[:0], b.buf.Bytes()...)
	b.buf.Reset()
	return b.out
}

func (b *GzipBody) Close() error {
	return b.Inner.Close()
}
