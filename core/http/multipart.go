package http

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
)

// MultiPartArgument is a non-file field of a multipart/form-data body.
type MultiPartArgument struct {
	ControlName string
	ContentType string
	MIMEType    string
	Data        []byte
	// String is Data decoded with the part's charset, if the part is text.
	String string
}

// MultiPartFile is a file field of a multipart/form-data body, stored in a
// temporary file that is removed when the request is released.
type MultiPartFile struct {
	ControlName   string
	ContentType   string
	MIMEType      string
	FileName      string
	TemporaryPath string
	Size          int64
}

// MultiPartSink parses a multipart/form-data body while it streams in.
type MultiPartSink struct {
	// ContentType is the request Content-Type carrying the boundary.
	ContentType string
	// Dir is where uploaded files are stored; "" uses os.TempDir.
	Dir string
	// MaxArgumentBytes bounds a single in-memory argument; 0 means 1 MiB.
	MaxArgumentBytes int64

	Arguments []*MultiPartArgument
	Files     []*MultiPartFile

	pipe pipeSink
}

func (s *MultiPartSink) Open() error {
	boundary := ExtractHeaderParameter(s.ContentType, "boundary")
	if boundary == "" {
		return &ProtocolError{Kind: MalformedBody, Detail: "multipart boundary missing"}
	}
	s.pipe.start(func(r io.Reader) error {
		return s.parse(multipart.NewReader(r, boundary))
	})
	return nil
}

func (s *MultiPartSink) Write(p []byte) error { return s.pipe.write(p) }

func (s *MultiPartSink) Close() error { return s.pipe.close() }

func (s *MultiPartSink) parse(mr *multipart.Reader) error {
	for {
		part, err := mr.NextRawPart()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &ProtocolError{Kind: MalformedBody, Detail: "multipart: " + err.Error()}
		}
		if err := s.consumePart(part); err != nil {
			part.Close()
			return err
		}
		part.Close()
	}
}

func (s *MultiPartSink) consumePart(part *multipart.Part) error {
	contentType := part.Header.Get(HeaderContentType)
	if contentType == "" {
		contentType = "text/plain"
	}
	mimeType := TruncateHeaderValue(NormalizeHeaderValue(contentType))
	name := part.FormName()

	if fileName := part.FileName(); fileName != "" {
		f, err := os.CreateTemp(s.Dir, "embed-part-*")
		if err != nil {
			return fmt.Errorf("create multipart file: %w", err)
		}
		file := &MultiPartFile{
			ControlName:   name,
			ContentType:   contentType,
			MIMEType:      mimeType,
			FileName:      fileName,
			TemporaryPath: f.Name(),
		}
		// Registered first so Release cleans up after a partial copy.
		s.Files = append(s.Files, file)
		n, err := io.Copy(f, part)
		file.Size = n
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			return &ProtocolError{Kind: MalformedBody, Detail: "multipart: " + err.Error()}
		}
		return nil
	}

	limit := s.MaxArgumentBytes
	if limit <= 0 {
		limit = 1 << 20
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(part, limit+1))
	if err != nil {
		return &ProtocolError{Kind: MalformedBody, Detail: "multipart: " + err.Error()}
	}
	if n > limit {
		return &ProtocolError{Kind: BodyTooLarge, Detail: fmt.Sprintf("multipart argument %q exceeds %d bytes", name, limit)}
	}
	arg := &MultiPartArgument{
		ControlName: name,
		ContentType: contentType,
		MIMEType:    mimeType,
		Data:        buf.Bytes(),
	}
	if IsTextContentType(mimeType) {
		arg.String = DecodeText(arg.Data, contentType)
	}
	s.Arguments = append(s.Arguments, arg)
	return nil
}

// FirstArgument returns the first argument named name, or nil.
func (s *MultiPartSink) FirstArgument(name string) *MultiPartArgument {
	for _, a := range s.Arguments {
		if a.ControlName == name {
			return a
		}
	}
	return nil
}

// FirstFile returns the first file named name, or nil.
func (s *MultiPartSink) FirstFile(name string) *MultiPartFile {
	for _, f := range s.Files {
		if f.ControlName == name {
			return f
		}
	}
	return nil
}

// Release removes uploaded files.
func (s *MultiPartSink) Release() {
	s.pipe.abort()
	for _, f := range s.Files {
		os.Remove(f.TemporaryPath)
	}
}
