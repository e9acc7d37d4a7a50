package codec

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrUnsupportedCodec = errors.New("unsupported codec")
)

// Codec encodes and decodes request and response bodies
type Codec interface {
	// Encode encodes a value to bytes
	Encode(v interface{}) ([]byte, error)

	// Decode decodes bytes to a value
	Decode(data []byte, v interface{}) error

	// Name returns the codec name
	Name() string

	// ContentType returns the MIME type written with encoded bodies
	ContentType() string
}

// CodecType represents the codec type
type CodecType byte

const (
	CodecJSON     CodecType = 0x01
	CodecProtobuf CodecType = 0x03
)

// GetCodec returns a codec by type
func GetCodec(typ CodecType) (Codec, error) {
	switch typ {
	case CodecJSON:
		return &JSONCodec{}, nil
	case CodecProtobuf:
		return &ProtobufCodec{Deterministic: true}, nil
	default:
		return nil, ErrUnsupportedCodec
	}
}

// ForContentType picks a codec from a Content-Type header value
func ForContentType(contentType string) (Codec, error) {
	t := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	switch {
	case t == "application/json" || strings.HasSuffix(t, "+json"):
		return &JSONCodec{}, nil
	case t == "application/x-protobuf" || t == "application/protobuf" || t == "application/vnd.google.protobuf":
		return &ProtobufCodec{Deterministic: true}, nil
	default:
		return nil, ErrUnsupportedCodec
	}
}

// JSONCodec implements JSON encoding/decoding
type JSONCodec struct{}

func (c *JSONCodec) Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Name() string {
	return "json"
}

func (c *JSONCodec) ContentType() string {
	return "application/json"
}
