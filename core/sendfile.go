package core

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/searchktools/embed-server/core/http"
)

// fileSender is the destination of a file transfer. It renews the write
// deadline before every step and forwards ReadFrom to the socket so the
// kernel copy path stays available.
type fileSender struct {
	c *Connection
}

func (w fileSender) renew() {
	if w.c.opts.WriteTimeout > 0 {
		w.c.conn.SetWriteDeadline(time.Now().Add(w.c.opts.WriteTimeout))
	}
}

func (w fileSender) Write(p []byte) (int, error) {
	w.renew()
	return w.c.rw.Write(p)
}

func (w fileSender) ReadFrom(r io.Reader) (int64, error) {
	w.renew()
	if rf, ok := w.c.conn.(io.ReaderFrom); ok {
		n, err := rf.ReadFrom(r)
		w.c.bytesWritten.Add(uint64(n))
		return n, err
	}
	return io.Copy(w.c.rw, r)
}

// sendFile writes an open file body of known length straight from the file
// to the socket, then closes it.
func (c *Connection) sendFile(body *http.FileBody, length int64) error {
	defer body.Close()
	if err := c.bw.Flush(); err != nil {
		return &http.IOError{Op: "write response head", Err: err}
	}

	n, err := body.WriteTo(fileSender{c})
	if err != nil {
		var perr *http.ProtocolError
		if errors.As(err, &perr) {
			return err
		}
		return &http.IOError{Op: "send file", Err: err}
	}
	if n != length {
		return &http.ProtocolError{Kind: http.UnexpectedEOF, Detail: fmt.Sprintf("file body sent %d of %d bytes", n, length)}
	}
	return nil
}
