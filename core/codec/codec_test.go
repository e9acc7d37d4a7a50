package codec

import (
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestJSONCodec(t *testing.T) {
	codec := &JSONCodec{}

	type TestStruct struct {
		Name  string
		Value int
	}

	original := &TestStruct{Name: "test", Value: 42}

	data, err := codec.Encode(original)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	decoded := &TestStruct{}
	if err := codec.Decode(data, decoded); err != nil {
		t.Fatalf("Decode error: %v", err)
	}

	if decoded.Name != original.Name || decoded.Value != original.Value {
		t.Errorf("Mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestProtobufCodec(t *testing.T) {
	codec := &ProtobufCodec{Deterministic: true}

	original := wrapperspb.Int32(42)

	data, err := codec.Encode(original)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	decoded := &wrapperspb.Int32Value{}
	if err := codec.Decode(data, decoded); err != nil {
		t.Fatalf("Decode error: %v", err)
	}

	if !proto.Equal(decoded, original) {
		t.Errorf("Mismatch: got %d, want %d", decoded.Value, original.Value)
	}
}

func TestProtobufCodecInvalidType(t *testing.T) {
	codec := &ProtobufCodec{}

	if _, err := codec.Encode("not a proto message"); err == nil {
		t.Error("Expected error for non-proto message")
	}
	var s string
	if err := codec.Decode(nil, &s); err == nil {
		t.Error("Expected error for non-proto target")
	}
}

func TestForContentType(t *testing.T) {
	tests := []struct {
		contentType string
		want        string
	}{
		{"application/json", "json"},
		{"application/json; charset=utf-8", "json"},
		{"application/problem+json", "json"},
		{"application/x-protobuf", "protobuf"},
		{"APPLICATION/PROTOBUF", "protobuf"},
	}
	for _, tt := range tests {
		c, err := ForContentType(tt.contentType)
		if err != nil {
			t.Errorf("ForContentType(%q) error: %v", tt.contentType, err)
			continue
		}
		if c.Name() != tt.want {
			t.Errorf("ForContentType(%q) = %s, want %s", tt.contentType, c.Name(), tt.want)
		}
	}

	if _, err := ForContentType("text/plain"); err != ErrUnsupportedCodec {
		t.Errorf("Expected ErrUnsupportedCodec, got %v", err)
	}
}

func BenchmarkJSONEncode(b *testing.B) {
	codec := &JSONCodec{}
	data := map[string]interface{}{
		"name":  "benchmark",
		"value": 123,
		"items": []int{1, 2, 3, 4, 5},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = codec.Encode(data)
	}
}

func BenchmarkProtobufEncode(b *testing.B) {
	codec := &ProtobufCodec{Deterministic: true}
	msg := wrapperspb.String("benchmark message with some data")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = codec.Encode(msg)
	}
}
