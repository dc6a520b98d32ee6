// Package protocol implements the mesh-rpc frame layout: a fixed 12-byte
// header followed by a length-prefixed body. The receiver reads the header
// first to learn the body length, then reads exactly that many bytes, so
// frame boundaries survive TCP's stream semantics.
//
// Frame layout:
//
//	0       2     3     4            8            12
//	┌───────┬─────┬─────┬────────────┬────────────┬──────────────┐
//	│ magic │ ver │flags│    seq     │  bodyLen   │   body ...   │
//	│ "ms"  │ 02  │     │   uint32   │   uint32   │ bodyLen bytes│
//	└───────┴─────┴─────┴────────────┴────────────┴──────────────┘
//
// The flags byte packs the frame type in its high nibble and the codec id
// in its low nibble; the body length is written on the wire only, never
// carried in the in-memory Header.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// Magic identifies a mesh-rpc frame ("ms", big-endian).
	Magic uint16 = 0x6d73
	// Version is the current frame layout revision.
	Version byte = 0x02
	// HeaderSize is the fixed wire size of a header.
	HeaderSize = 12
	// MaxBodyLen bounds a single frame body. A peer announcing more is
	// treated as corrupt rather than allocated for.
	MaxBodyLen = 16 << 20
)

// MsgType distinguishes request, response, and heartbeat frames.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0
	MsgTypeResponse  MsgType = 1
	MsgTypeHeartbeat MsgType = 2 // keepalive probe, no body
)

// Codec ids, mirrored from the codec package so this package stays free of
// higher-level imports.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

// Header is the in-memory form of a frame header. The body length is not a
// field: Encode derives it from the body it is given, which makes a
// mismatched length unrepresentable.
type Header struct {
	Codec byte    // serialization of the body
	Type  MsgType // request, response, or heartbeat
	Seq   uint32  // correlates a response with its request
}

func packFlags(h *Header) byte {
	return byte(h.Type)<<4 | h.Codec&0x0f
}

// Encode writes one complete frame. Callers sharing w across goroutines
// must serialise Encode calls; interleaved writes corrupt the stream.
func (h *Header) Encode(w io.Writer, body []byte) error {
	if len(body) > MaxBodyLen {
		return fmt.Errorf("protocol: body of %d bytes exceeds frame limit", len(body))
	}
	var buf [HeaderSize]byte
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	buf[2] = Version
	buf[3] = packFlags(h)
	binary.BigEndian.PutUint32(buf[4:8], h.Seq)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(body)))

	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	_, err := w.Write(body)
	return err
}

// Decode reads one complete frame, validating magic, version, frame type,
// and the body-length bound before allocating the body.
func Decode(r io.Reader) (*Header, []byte, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, nil, err
	}

	if got := binary.BigEndian.Uint16(buf[0:2]); got != Magic {
		return nil, nil, fmt.Errorf("protocol: invalid magic number: %#04x", got)
	}
	if buf[2] != Version {
		return nil, nil, fmt.Errorf("protocol: unsupported version: %d", buf[2])
	}
	flags := buf[3]
	h := &Header{
		Codec: flags & 0x0f,
		Type:  MsgType(flags >> 4),
		Seq:   binary.BigEndian.Uint32(buf[4:8]),
	}
	if h.Type > MsgTypeHeartbeat {
		return nil, nil, fmt.Errorf("protocol: unsupported frame type: %d", h.Type)
	}

	bodyLen := binary.BigEndian.Uint32(buf[8:12])
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("protocol: announced body of %d bytes exceeds frame limit", bodyLen)
	}
	if bodyLen == 0 {
		return h, nil, nil
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}
	return h, body, nil
}
