package transport

import (
	"sync"

	"mesh-rpc/logger"
	"mesh-rpc/proxy"
)

// InjvmProtocol is the protocol name of the in-process transport.
const InjvmProtocol = "injvm"

func init() {
	registerBuiltin(func(r *Registry) {
		r.Register(InjvmProtocol, NewInjvmTransport())
	})
}

// InjvmTransport serves invokers inside the current process. Consumers in
// the same process look the invoker up by service path instead of going
// through a socket.
type InjvmTransport struct {
	mu        sync.RWMutex
	exporters map[string]*injvmExporter // service path -> live exporter
}

// NewInjvmTransport returns an empty in-process transport.
func NewInjvmTransport() *InjvmTransport {
	return &InjvmTransport{exporters: make(map[string]*injvmExporter)}
}

func (t *InjvmTransport) DefaultPort() uint16 { return 0 }

// Export installs the invoker in the in-process table. Re-exporting the same
// path replaces the previous entry.
func (t *InjvmTransport) Export(inv proxy.Invoker) (Exporter, error) {
	path := inv.URL().Path()
	exp := &injvmExporter{transport: t, path: path, invoker: inv}

	t.mu.Lock()
	t.exporters[path] = exp
	t.mu.Unlock()

	logger.L().Info("exported service in-process", logger.String("service", path))
	return exp, nil
}

// Lookup returns the invoker exported under path, for same-process callers.
func (t *InjvmTransport) Lookup(path string) (proxy.Invoker, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	exp, ok := t.exporters[path]
	if !ok {
		return nil, false
	}
	return exp.invoker, true
}

type injvmExporter struct {
	transport *InjvmTransport
	path      string
	invoker   proxy.Invoker
	once      sync.Once
}

func (e *injvmExporter) Invoker() proxy.Invoker { return e.invoker }

func (e *injvmExporter) Unexport() {
	e.once.Do(func() {
		e.transport.mu.Lock()
		if current, ok := e.transport.exporters[e.path]; ok && current == e {
			delete(e.transport.exporters, e.path)
		}
		e.transport.mu.Unlock()
	})
}
