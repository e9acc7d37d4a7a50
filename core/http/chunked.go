package http

import (
	"bytes"
	"strconv"
	"strings"
)

type chunkState int

const (
	chunkSize chunkState = iota
	chunkData
	chunkDataCRLF
	chunkTrailer
	chunkDone
)

// ChunkedDecoder decodes a Transfer-Encoding: chunked body fed in arbitrary
// slices. It never reads past the terminating blank line, so bytes of a
// pipelined request that share a read with the last chunk are handed back.
type ChunkedDecoder struct {
	MaxLineBytes int

	state  chunkState
	remain int64
	line   []byte
}

// Done reports whether the last chunk and trailers have been consumed.
func (d *ChunkedDecoder) Done() bool { return d.state == chunkDone }

// Decode consumes p, passing decoded payload to emit. It returns the number of
// bytes of p that belong to the chunked body.
func (d *ChunkedDecoder) Decode(p []byte, emit func([]byte) error) (int, error) {
	n := 0
	for n < len(p) && d.state != chunkDone {
		switch d.state {
		case chunkData:
			take := int64(len(p) - n)
			if take > d.remain {
				take = d.remain
			}
			if err := emit(p[n : n+int(take)]); err != nil {
				return n, err
			}
			n += int(take)
			d.remain -= take
			if d.remain == 0 {
				d.state = chunkDataCRLF
			}
			continue
		}

		line, used, ok, err := d.readLine(p[n:])
		n += used
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}

		switch d.state {
		case chunkSize:
			size, err := parseChunkSize(line)
			if err != nil {
				return n, err
			}
			if size == 0 {
				d.state = chunkTrailer
			} else {
				d.remain = size
				d.state = chunkData
			}
		case chunkDataCRLF:
			if len(line) != 0 {
				return n, &ProtocolError{Kind: MalformedBody, Detail: "missing CRLF after chunk data"}
			}
			d.state = chunkSize
		case chunkTrailer:
			// Trailer fields are ignored.
			if len(line) == 0 {
				d.state = chunkDone
			}
		}
	}
	return n, nil
}

// readLine accumulates bytes until LF. The CR, if any, is dropped.
func (d *ChunkedDecoder) readLine(p []byte) (line []byte, used int, ok bool, err error) {
	max := d.MaxLineBytes
	if max <= 0 {
		max = DefaultMaxLineBytes
	}
	i := bytes.IndexByte(p, '\n')
	if i < 0 {
		d.line = append(d.line, p...)
		if len(d.line) > max {
			return nil, len(p), false, &ProtocolError{Kind: MalformedBody, Detail: "chunk line too long"}
		}
		return nil, len(p), false, nil
	}
	d.line = append(d.line, p[:i]...)
	if len(d.line) > max {
		return nil, i + 1, false, &ProtocolError{Kind: MalformedBody, Detail: "chunk line too long"}
	}
	line = bytes.TrimSuffix(d.line, []byte{'\r'})
	d.line = d.line[:0]
	return line, i + 1, true, nil
}

func parseChunkSize(line []byte) (int64, error) {
	s := string(line)
	// Chunk extensions are ignored: "<hex>;<ext>"
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, &ProtocolError{Kind: MalformedBody, Detail: "empty chunk size"}
	}
	n, err := strconv.ParseInt(s, 16, 64)
	if err != nil || n < 0 {
		return 0, &ProtocolError{Kind: MalformedBody, Detail: "invalid chunk size " + quoteLine(s)}
	}
	return n, nil
}

// LastChunk terminates a chunked body with no trailers.
const LastChunk = "0\r\n\r\n"

// AppendChunk appends p framed as one chunk. Empty input appends nothing so
// callers cannot terminate the body by accident.
func AppendChunk(dst, p []byte) []byte {
	if len(p) == 0 {
		return dst
	}
	dst = strconv.AppendInt(dst, int64(len(p)), 16)
	dst = append(dst, '\r', '\n')
	dst = append(dst, p...)
	return append(dst, '\r', '\n')
}
