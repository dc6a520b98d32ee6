package transport

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"mesh-rpc/codec"
	"mesh-rpc/logger"
	"mesh-rpc/message"
	"mesh-rpc/protocol"
)

// ErrConnClosed is delivered to callers whose responses can no longer
// arrive because the connection went away.
var ErrConnClosed = errors.New("transport: connection closed")

const heartbeatInterval = 30 * time.Second

// ClientTransport multiplexes concurrent calls over one TCP connection. A
// caller claims a sequence number, parks a channel under it, and writes its
// request frame; the single read loop matches each incoming response frame
// to the parked channel by sequence number, so responses may arrive in any
// order. A heartbeat ticker keeps idle connections from being reaped by
// intermediaries.
type ClientTransport struct {
	conn  net.Conn
	codec codec.CodecType

	seq     atomic.Uint32 // claimed per call, never reused on this conn
	writeMu sync.Mutex    // one frame on the wire at a time

	mu      sync.Mutex
	pending map[uint32]chan *message.Message // seq -> waiting caller
	closed  bool

	done chan struct{} // stops the heartbeat ticker
}

// NewClientTransport starts the read loop and heartbeat for conn.
func NewClientTransport(conn net.Conn, ct codec.CodecType) *ClientTransport {
	t := &ClientTransport{
		conn:    conn,
		codec:   ct,
		pending: make(map[uint32]chan *message.Message),
		done:    make(chan struct{}),
	}
	go t.readLoop()
	go t.heartbeatLoop()
	return t
}

// Send issues one call. The returned channel receives exactly one message:
// the response, or an envelope carrying ErrConnClosed's text if the
// connection dies first.
func (t *ClientTransport) Send(service, method string, args any) (uint32, <-chan *message.Message, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return 0, nil, err
	}
	body, err := codec.GetCodec(t.codec).Encode(&message.Message{
		Service: service,
		Method:  method,
		Payload: payload,
	})
	if err != nil {
		return 0, nil, err
	}

	seq := t.seq.Add(1)
	respCh := make(chan *message.Message, 1)
	if err := t.park(seq, respCh); err != nil {
		return 0, nil, err
	}

	header := &protocol.Header{
		Codec: byte(t.codec),
		Type:  protocol.MsgTypeRequest,
		Seq:   seq,
	}
	t.writeMu.Lock()
	err = header.Encode(t.conn, body)
	t.writeMu.Unlock()
	if err != nil {
		t.abandon(seq)
		return 0, nil, err
	}
	return seq, respCh, nil
}

// park registers the caller's channel before its frame hits the wire, so
// the read loop can never see a response for an unknown sequence.
func (t *ClientTransport) park(seq uint32, ch chan *message.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrConnClosed
	}
	t.pending[seq] = ch
	return nil
}

func (t *ClientTransport) abandon(seq uint32) {
	t.mu.Lock()
	delete(t.pending, seq)
	t.mu.Unlock()
}

// take removes and returns the channel parked under seq.
func (t *ClientTransport) take(seq uint32) (chan *message.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.pending[seq]
	if ok {
		delete(t.pending, seq)
	}
	return ch, ok
}

// readLoop is the single frame reader. TCP is a byte stream, so exactly one
// goroutine may parse frame boundaries.
func (t *ClientTransport) readLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.shutdown(err)
			return
		}
		if header.Type != protocol.MsgTypeResponse {
			continue
		}

		resp := &message.Message{}
		if err := codec.GetCodec(codec.CodecType(header.Codec)).Decode(body, resp); err != nil {
			logger.L().Warn("dropping undecodable response frame",
				logger.Int("seq", int(header.Seq)), logger.Error(err))
			continue
		}
		if ch, ok := t.take(header.Seq); ok {
			ch <- resp
		}
	}
}

// shutdown marks the transport dead and fails every parked caller, so no
// goroutine blocks forever on a response that cannot come.
func (t *ClientTransport) shutdown(cause error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	parked := t.pending
	t.pending = map[uint32]chan *message.Message{}
	t.mu.Unlock()

	close(t.done)
	for _, ch := range parked {
		ch <- &message.Message{Error: ErrConnClosed.Error() + ": " + cause.Error()}
	}
}

// heartbeatLoop writes an empty heartbeat frame periodically. A write
// failure means the connection is gone; the read loop notices and fails the
// parked callers.
func (t *ClientTransport) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			header := &protocol.Header{Type: protocol.MsgTypeHeartbeat}
			t.writeMu.Lock()
			err := header.Encode(t.conn, nil)
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Close tears the connection down and releases every parked caller.
func (t *ClientTransport) Close() error {
	err := t.conn.Close()
	t.shutdown(ErrConnClosed)
	return err
}

// Conn exposes the underlying connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}
