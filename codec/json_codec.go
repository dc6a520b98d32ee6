package codec

import (
	"encoding/json"
)

// JSONCodec serializes envelopes with encoding/json. It is the interoperable
// default: any peer that can read JSON can speak it, and payloads stay
// inspectable on the wire, at the cost of size and encode speed compared to
// BinaryCodec.
type JSONCodec struct{}

var _ Codec = (*JSONCodec)(nil)

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
