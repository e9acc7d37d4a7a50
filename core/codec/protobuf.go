package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// ProtobufCodec encodes proto.Message bodies. Deterministic output keeps
// generated ETags stable across identical responses.
type ProtobufCodec struct {
	Deterministic bool
}

func (c *ProtobufCodec) Encode(v interface{}) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("codec: protobuf body must be a proto.Message, got %T", v)
	}
	return proto.MarshalOptions{Deterministic: c.Deterministic}.Marshal(msg)
}

func (c *ProtobufCodec) Decode(data []byte, v interface{}) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("codec: protobuf target must be a proto.Message, got %T", v)
	}
	return proto.UnmarshalOptions{DiscardUnknown: true}.Unmarshal(data, msg)
}

func (c *ProtobufCodec) Name() string {
	return "protobuf"
}

func (c *ProtobufCodec) ContentType() string {
	return "application/x-protobuf"
}
