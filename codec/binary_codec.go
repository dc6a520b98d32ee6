package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"mesh-rpc/message"
)

// BinaryCodec serializes envelopes as a sequence of uvarint-length-prefixed
// fields, in a fixed order: Service, Method, Error, Payload. Field names
// never travel, and short strings cost one length byte, so envelopes are
// both smaller and cheaper to decode than JSON.
type BinaryCodec struct{}

var _ Codec = (*BinaryCodec)(nil)

var errNotMessage = errors.New("codec: binary codec only handles *message.Message")

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(*message.Message)
	if !ok {
		return nil, errNotMessage
	}
	var buf bytes.Buffer
	buf.Grow(len(msg.Service) + len(msg.Method) + len(msg.Error) + len(msg.Payload) + 4*binary.MaxVarintLen32)

	writeField(&buf, []byte(msg.Service))
	writeField(&buf, []byte(msg.Method))
	writeField(&buf, []byte(msg.Error))
	writeField(&buf, msg.Payload)
	return buf.Bytes(), nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	msg, ok := v.(*message.Message)
	if !ok {
		return errNotMessage
	}
	rest := data

	var err error
	var field []byte
	if field, rest, err = readField(rest); err != nil {
		return fmt.Errorf("codec: service field: %w", err)
	}
	msg.Service = string(field)
	if field, rest, err = readField(rest); err != nil {
		return fmt.Errorf("codec: method field: %w", err)
	}
	msg.Method = string(field)
	if field, rest, err = readField(rest); err != nil {
		return fmt.Errorf("codec: error field: %w", err)
	}
	msg.Error = string(field)
	if field, _, err = readField(rest); err != nil {
		return fmt.Errorf("codec: payload field: %w", err)
	}
	msg.Payload = append([]byte(nil), field...)
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

func writeField(buf *bytes.Buffer, field []byte) {
	var lenBuf [binary.MaxVarintLen32]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(field)))
	buf.Write(lenBuf[:n])
	buf.Write(field)
}

// readField consumes one uvarint-prefixed field and returns the remainder.
func readField(data []byte) (field, rest []byte, err error) {
	length, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, nil, io.ErrUnexpectedEOF
	}
	data = data[n:]
	if length > uint64(len(data)) {
		return nil, nil, io.ErrUnexpectedEOF
	}
	return data[:length], data[length:], nil
}
