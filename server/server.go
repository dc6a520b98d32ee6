// Package server implements the TCP endpoint behind the framework's own
// protocol: it accepts connections, reads frames, and dispatches requests to
// the invokers exported on it.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request: go handleRequest (parallel processing)
//	    → Codec.Decode → Middleware Chain → dispatch (Invoker.Invoke) → Codec.Encode → write response
//
// The envelope carries Service and Method as separate fields, so dispatch is
// two map lookups with no string splitting.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"mesh-rpc/codec"
	"mesh-rpc/logger"
	"mesh-rpc/message"
	"mesh-rpc/middleware"
	"mesh-rpc/protocol"
	"mesh-rpc/proxy"
)

// entry is one exported service on this server.
type entry struct {
	invoker proxy.Invoker
	methods map[string]*proxy.MethodInfo
}

// Server serves exported invokers over TCP. One server owns one listener;
// the transport layer keeps one server per bind port.
type Server struct {
	mu       sync.RWMutex
	services map[string]*entry // service path -> exported invoker

	listener    net.Listener
	wg          sync.WaitGroup // in-flight requests, for graceful shutdown
	shutdown    atomic.Bool    // suppresses the Accept error raised by Close
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc
}

// NewServer creates a server with no exported services.
func NewServer() *Server {
	return &Server{services: make(map[string]*entry)}
}

// Attach exposes the invoker under its descriptor path. The invoker must be
// introspectable so request payloads can be decoded into concrete types.
func (svr *Server) Attach(inv proxy.Invoker) error {
	methods := proxy.MethodsOf(inv)
	if methods == nil {
		return fmt.Errorf("server: invoker for %s does not expose method types", inv.Interface())
	}
	path := inv.URL().Path()
	svr.mu.Lock()
	svr.services[path] = &entry{invoker: inv, methods: methods}
	svr.mu.Unlock()
	return nil
}

// Detach removes the service at path. Returns the number of services left.
func (svr *Server) Detach(path string) int {
	svr.mu.Lock()
	delete(svr.services, path)
	n := len(svr.services)
	svr.mu.Unlock()
	return n
}

// Use registers a middleware. Middlewares are applied in the order they are
// added, before the listener starts.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve listens on address and runs the accept loop until Shutdown.
func (svr *Server) Serve(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	svr.listener = listener

	// middleware chain is composed once, not per request:
	// Chain(A, B)(dispatch) runs A.before → B.before → dispatch → B.after → A.after
	svr.handler = middleware.Chain(svr.middlewares...)(svr.dispatch)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

// handleConn reads frames sequentially (frame boundaries require a single
// reader) and processes each request in its own goroutine. A per-connection
// write mutex keeps concurrently written response frames from interleaving.
func (svr *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	writeMu := &sync.Mutex{}
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			return // connection closed or protocol error
		}
		if header.Type == protocol.MsgTypeHeartbeat {
			continue
		}
		go svr.handleRequest(header, body, conn, writeMu)
	}
}

func (svr *Server) handleRequest(header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex) {
	svr.wg.Add(1)
	defer svr.wg.Done()

	c := codec.GetCodec(codec.CodecType(header.Codec))
	msg := message.Message{}
	if err := c.Decode(body, &msg); err != nil {
		logger.L().Warn("undecodable request body", logger.Error(err))
		return
	}

	resp := svr.handler(context.Background(), &msg)

	writeMu.Lock()
	defer writeMu.Unlock()

	result, err := c.Encode(resp)
	if err != nil {
		logger.L().Error("cannot encode response", logger.Error(err))
		return
	}
	replyHeader := protocol.Header{
		Codec: header.Codec,
		Type:  protocol.MsgTypeResponse,
		Seq:   header.Seq, // same seq as the request; this is how multiplexing works
	}
	if err := replyHeader.Encode(conn, result); err != nil {
		logger.L().Warn("cannot write response frame", logger.Error(err))
	}
}

// Shutdown stops the server: close the listener, then wait for in-flight
// requests up to timeout. Deregistration happens above this layer, before
// Shutdown is called.
func (svr *Server) Shutdown(timeout time.Duration) error {
	// flag first: Close makes Accept fail, and Serve must read the flag to
	// know the failure is intentional
	svr.shutdown.Store(true)
	if svr.listener != nil {
		svr.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("server: timeout waiting for in-flight requests")
	}
}

// dispatch routes the envelope to the exported service and invokes the
// named method.
func (svr *Server) dispatch(ctx context.Context, req *message.Message) *message.Message {
	if req.Service == "" || req.Method == "" {
		return &message.Message{Service: req.Service, Method: req.Method, Error: "incomplete call identity"}
	}

	svr.mu.RLock()
	svc, ok := svr.services[req.Service]
	svr.mu.RUnlock()
	if !ok {
		return &message.Message{Service: req.Service, Method: req.Method, Error: "unknown service " + req.Service}
	}
	mt, ok := svc.methods[req.Method]
	if !ok {
		return &message.Message{Service: req.Service, Method: req.Method, Error: "unknown method " + req.Method + " on " + req.Service}
	}

	argv := reflect.New(mt.ArgType)
	replyv := reflect.New(mt.ReplyType)
	if err := json.Unmarshal(req.Payload, argv.Interface()); err != nil {
		return &message.Message{Service: req.Service, Method: req.Method, Error: err.Error()}
	}

	callErr := svc.invoker.Invoke(ctx, req.Method, argv.Interface(), replyv.Interface())

	payload, err := json.Marshal(replyv.Interface())
	if err != nil {
		logger.L().Error("cannot marshal reply", logger.Error(err))
	}
	resp := &message.Message{
		Service: req.Service,
		Method:  req.Method,
		Payload: payload,
	}
	if callErr != nil {
		resp.Error = callErr.Error()
	}
	return resp
}
