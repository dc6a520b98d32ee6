// Package message defines the call envelope the mesh-rpc transports carry
// inside a protocol frame: which exported service is addressed, which of its
// methods, and the serialized argument or reply payload.
//
// The envelope is deliberately flat. The frame header (package protocol)
// owns sequencing and codec selection; the envelope owns call identity, so a
// server can route on Service/Method without re-parsing a combined string.
package message

// Message is one request or response travelling between caller and
// provider.
//
//   - Request:  Service and Method name the target, Payload holds the
//     serialized arguments, Error is empty.
//   - Response: Payload holds the serialized reply; Error carries the
//     provider-side failure text when the call did not succeed.
type Message struct {
	Service string // exported service path, e.g. "demo.Greeter"
	Method  string // method on that service, e.g. "SayHello"
	Error   string
	Payload []byte
}

// Failed reports whether the message carries a provider-side error.
func (m *Message) Failed() bool { return m.Error != "" }

// Target renders the call identity for logs, "Service.Method".
func (m *Message) Target() string { return m.Service + "." + m.Method }
