package transport

import (
	"net"
	"strconv"
	"sync"
	"time"

	"mesh-rpc/endpoint"
	"mesh-rpc/logger"
	"mesh-rpc/middleware"
	"mesh-rpc/proxy"
	"mesh-rpc/server"
)

const (
	// DubboProtocol is the name of the framework's own TCP protocol.
	DubboProtocol = "dubbo"
	// DefaultDubboPort is its default listen port.
	DefaultDubboPort uint16 = 20880

	shutdownTimeout = 5 * time.Second
)

func init() {
	registerBuiltin(func(r *Registry) {
		r.Register(DubboProtocol, NewTCPTransport())
	})
}

// TCPTransport serves invokers over the framework's framed TCP protocol.
// Services exported to the same bind port share one listener.
type TCPTransport struct {
	mu      sync.Mutex
	servers map[string]*tcpServer // bind address -> running server
}

// NewTCPTransport returns a TCP transport with no open listeners.
func NewTCPTransport() *TCPTransport {
	return &TCPTransport{servers: make(map[string]*tcpServer)}
}

func (t *TCPTransport) DefaultPort() uint16 { return DefaultDubboPort }

// Export attaches the invoker to the server listening on its bind address,
// starting the listener on first use. The bind target comes from the
// bind.ip/bind.port parameters when present (they may differ from the
// advertised host/port), else from the descriptor itself.
func (t *TCPTransport) Export(inv proxy.Invoker) (Exporter, error) {
	d := inv.URL()
	bindIP := d.Parameter(endpoint.BindIPKey, d.Host())
	bindPort := d.ParameterAsInt(endpoint.BindPortKey, int(d.Port()))
	addr := net.JoinHostPort(bindIP, strconv.Itoa(bindPort))

	t.mu.Lock()
	srv, ok := t.servers[addr]
	if !ok {
		srv = &tcpServer{server: server.NewServer(), addr: addr}
		installMiddleware(srv.server, d)
		t.servers[addr] = srv
	}
	t.mu.Unlock()

	if err := srv.start(); err != nil {
		return nil, err
	}
	if err := srv.server.Attach(inv); err != nil {
		return nil, err
	}
	logger.L().Info("exported service over tcp",
		logger.String("service", d.Path()),
		logger.String("bind", addr))
	return &tcpExporter{transport: t, srv: srv, invoker: inv}, nil
}

// installMiddleware composes the listener's ambient chain from the first
// exported descriptor: logging always, a call budget when the resolved
// configuration carries a timeout, and a token-bucket limiter when it
// carries a tps bound. Services that share the bind port share the chain.
func installMiddleware(svr *server.Server, d endpoint.Descriptor) {
	svr.Use(middleware.LoggingMiddleware())

	ms := d.ParameterAsInt("timeout", 0)
	if ms == 0 {
		ms = d.ParameterAsInt("default.timeout", 0)
	}
	if ms > 0 {
		svr.Use(middleware.TimeoutMiddleware(time.Duration(ms) * time.Millisecond))
	}

	tps := d.ParameterAsInt("tps", 0)
	if tps == 0 {
		tps = d.ParameterAsInt("default.tps", 0)
	}
	if tps > 0 {
		svr.Use(middleware.RateLimitMiddleware(float64(tps), tps))
	}
}

type tcpServer struct {
	server *server.Server
	addr   string

	startOnce sync.Once
	startErr  error
}

// start launches the accept loop once and waits for the listener to be
// reachable so Export's caller can rely on the endpoint being live.
func (s *tcpServer) start() error {
	s.startOnce.Do(func() {
		errCh := make(chan error, 1)
		go func() {
			errCh <- s.server.Serve("tcp", s.addr)
		}()
		for i := 0; i < 50; i++ {
			conn, err := net.DialTimeout("tcp", s.addr, 100*time.Millisecond)
			if err == nil {
				conn.Close()
				return
			}
			select {
			case s.startErr = <-errCh:
				if s.startErr == nil {
					s.startErr = net.ErrClosed
				}
				return
			case <-time.After(20 * time.Millisecond):
			}
		}
		s.startErr = net.ErrClosed
	})
	return s.startErr
}

type tcpExporter struct {
	transport *TCPTransport
	srv       *tcpServer
	invoker   proxy.Invoker
	once      sync.Once
}

func (e *tcpExporter) Invoker() proxy.Invoker { return e.invoker }

// Unexport detaches the service; the listener closes when its last service
// is gone.
func (e *tcpExporter) Unexport() {
	e.once.Do(func() {
		left := e.srv.server.Detach(e.invoker.URL().Path())
		if left > 0 {
			return
		}
		e.transport.mu.Lock()
		delete(e.transport.servers, e.srv.addr)
		e.transport.mu.Unlock()
		if err := e.srv.server.Shutdown(shutdownTimeout); err != nil {
			logger.L().Warn("listener shutdown failed",
				logger.String("bind", e.srv.addr), logger.Error(err))
		}
	})
}
