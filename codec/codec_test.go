package codec

import (
	"testing"

	"mesh-rpc/message"
)

func sample() *message.Message {
	return &message.Message{
		Service: "demo.Greeter",
		Method:  "SayHello",
		Payload: []byte(`{"name":"liam"}`),
	}
}

func roundTrip(t *testing.T, c Codec) {
	t.Helper()
	original := sample()

	data, err := c.Encode(original)
	if err != nil {
		t.Fatalf("%T encode failed: %v", c, err)
	}
	var decoded message.Message
	if err := c.Decode(data, &decoded); err != nil {
		t.Fatalf("%T decode failed: %v", c, err)
	}

	if decoded.Service != original.Service || decoded.Method != original.Method {
		t.Fatalf("identity lost: %s.%s", decoded.Service, decoded.Method)
	}
	if string(decoded.Payload) != string(original.Payload) {
		t.Fatalf("payload lost: %s", decoded.Payload)
	}
	if decoded.Error != original.Error {
		t.Fatalf("error field lost: %q", decoded.Error)
	}
}

func TestJSONCodecRoundTrip(t *testing.T) {
	roundTrip(t, &JSONCodec{})
}

func TestBinaryCodecRoundTrip(t *testing.T) {
	roundTrip(t, &BinaryCodec{})
}

func TestBinaryCodecEmptyFields(t *testing.T) {
	c := &BinaryCodec{}
	data, err := c.Encode(&message.Message{})
	if err != nil {
		t.Fatal(err)
	}
	var decoded message.Message
	if err := c.Decode(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Service != "" || decoded.Method != "" || len(decoded.Payload) != 0 {
		t.Fatalf("expect empty envelope, got %+v", decoded)
	}
}

func TestBinaryCodecRejectsForeignTypes(t *testing.T) {
	c := &BinaryCodec{}
	if _, err := c.Encode("not a message"); err == nil {
		t.Fatal("expect encode error for non-envelope value")
	}
	if err := c.Decode([]byte{1, 2}, "not a message"); err == nil {
		t.Fatal("expect decode error for non-envelope value")
	}
}

func TestBinaryCodecTruncatedInput(t *testing.T) {
	c := &BinaryCodec{}
	data, err := c.Encode(sample())
	if err != nil {
		t.Fatal(err)
	}
	for _, cut := range []int{0, 1, len(data) / 2, len(data) - 1} {
		var decoded message.Message
		if err := c.Decode(data[:cut], &decoded); err == nil {
			t.Fatalf("expect error for %d-byte prefix", cut)
		}
	}
}

func TestGetCodec(t *testing.T) {
	if GetCodec(CodecTypeBinary).Type() != CodecTypeBinary {
		t.Fatal("binary codec not resolved")
	}
	if GetCodec(CodecTypeJSON).Type() != CodecTypeJSON {
		t.Fatal("json codec not resolved")
	}
	// unknown ids fall back to JSON
	if GetCodec(CodecType(42)).Type() != CodecTypeJSON {
		t.Fatal("unknown id must fall back to JSON")
	}
}
