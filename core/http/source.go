package http

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/searchktools/embed-server/core/pools"
)

// BodyReader produces a response body in chunks. Open is called once before
// the first Read and Close once after the last. Read returns io.EOF when the
// body is exhausted; the returned slice is only valid until the next Read.
// A body that is never sent (HEAD, 304, a status without content, a failed
// Open) is still closed, so Close must not assume Open succeeded.
type BodyReader interface {
	Open() error
	Read() ([]byte, error)
	Close() error
}

// AsyncBodyReader is implemented by bodies that deliver data by callback.
// The connection prefers ReadAsync when it is available.
type AsyncBodyReader interface {
	BodyReader
	ReadAsync(done func([]byte, error))
}

// MemoryBody serves a byte slice.
type MemoryBody struct {
	data []byte
	sent bool
}

// NewMemoryBody returns a body serving data.
func NewMemoryBody(data []byte) *MemoryBody {
	return &MemoryBody{data: data}
}

func (b *MemoryBody) Open() error {
	b.sent = false
	return nil
}

func (b *MemoryBody) Read() ([]byte, error) {
	if b.sent || len(b.data) == 0 {
		return nil, io.EOF
	}
	b.sent = true
	return b.data, nil
}

func (b *MemoryBody) Close() error { return nil }

// FileReadChunk is the size of each read from a FileBody.
const FileReadChunk = 32 << 10

// FileBody serves Length bytes of a file starting at Offset. The range must
// already be clamped to the file size.
type FileBody struct {
	Path   string
	Offset int64
	Length int64

	file   *os.File
	remain int64
	buf    []byte
}

func (b *FileBody) Open() error {
	f, err := os.Open(b.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", b.Path, err)
	}
	if b.Offset > 0 {
		if _, err := f.Seek(b.Offset, io.SeekStart); err != nil {
			f.Close()
			return fmt.Errorf("seek %s: %w", b.Path, err)
		}
	}
	b.file = f
	b.remain = b.Length
	b.buf = pools.GetBytes(FileReadChunk)
	return nil
}

func (b *FileBody) Read() ([]byte, error) {
	if b.remain <= 0 {
		return nil, io.EOF
	}
	want := int64(len(b.buf))
	if want > b.remain {
		want = b.remain
	}
	n, err := b.file.Read(b.buf[:want])
	b.remain -= int64(n)
	if n > 0 {
		return b.buf[:n], nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		// The file shrank after the response was built.
		return nil, &ProtocolError{Kind: UnexpectedEOF, Detail: b.Path}
	}
	return nil, fmt.Errorf("read %s: %w", b.Path, err)
}

// FileSendChunk bounds each WriteTo step so callers can renew write
// deadlines between steps.
const FileSendChunk = 1 << 20

// WriteTo copies the rest of the range to w. When w is a TCP connection the
// copy is done by the kernel (sendfile or splice) without passing through
// user space.
func (b *FileBody) WriteTo(w io.Writer) (int64, error) {
	if b.file == nil {
		return 0, fmt.Errorf("%s: body not open", b.Path)
	}
	var total int64
	for b.remain > 0 {
		step := min(b.remain, FileSendChunk)
		n, err := io.Copy(w, io.LimitReader(b.file, step))
		total += n
		b.remain -= n
		if err != nil {
			return total, err
		}
		if n < step {
			return total, &ProtocolError{Kind: UnexpectedEOF, Detail: b.Path}
		}
	}
	return total, nil
}

func (b *FileBody) Close() error {
	if b.buf != nil {
		pools.PutBytes(b.buf)
		b.buf = nil
	}
	if b.file == nil {
		return nil
	}
	err := b.file.Close()
	b.file = nil
	return err
}

// StreamBlock returns the next piece of a streamed body. An empty slice or
// io.EOF ends the stream.
type StreamBlock func() ([]byte, error)

// AsyncStreamBlock delivers the next piece of a streamed body through done,
// possibly from another goroutine. done must be called exactly once.
type AsyncStreamBlock func(done func([]byte, error))

// StreamBody serves data produced on demand, in pull or push style.
type StreamBody struct {
	pull StreamBlock
	push AsyncStreamBlock
	done bool
}

// NewStreamBody returns a pull-style body.
func NewStreamBody(block StreamBlock) *StreamBody {
	return &StreamBody{pull: block}
}

// NewAsyncStreamBody returns a push-style body.
func NewAsyncStreamBody(block AsyncStreamBlock) *StreamBody {
	return &StreamBody{push: block}
}

func (b *StreamBody) Open() error { return nil }

func (b *StreamBody) Read() ([]byte, error) {
	if b.done {
		return nil, io.EOF
	}
	var data []byte
	var err error
	if b.pull != nil {
		data, err = b.pull()
	} else {
		ch := make(chan struct{})
		b.push(func(d []byte, e error) {
			data, err = d, e
			close(ch)
		})
		<-ch
	}
	return b.finish(data, err)
}

// ReadAsync never blocks the caller on a push-style producer.
func (b *StreamBody) ReadAsync(done func([]byte, error)) {
	if b.done {
		done(nil, io.EOF)
		return
	}
	if b.push == nil {
		done(b.Read())
		return
	}
	b.push(func(d []byte, e error) {
		done(b.finish(d, e))
	})
}

func (b *StreamBody) finish(data []byte, err error) ([]byte, error) {
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if len(data) == 0 {
		b.done = true
		return nil, io.EOF
	}
	if err != nil {
		// Final data delivered along with EOF; the next read ends the stream.
		b.done = true
	}
	return data, nil
}

func (b *StreamBody) Close() error { return nil }
