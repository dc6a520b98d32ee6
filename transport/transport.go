// Package transport defines the server-side transport capability (bind an
// invoker to an endpoint and serve it) plus the plug-in registry that maps
// protocol names to transports, and the client-side connection machinery for
// the framework's own TCP protocol.
//
// Transports are looked up by the lowercase protocol name of a descriptor.
// The registry is populated at process start from each transport's init; the
// "registry" and "injvm" transports are ordinary entries, and the registry
// transport's re-dispatch by the embedded export= parameter is just another
// lookup.
package transport

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"mesh-rpc/proxy"
)

// Transport is the capability set required of a protocol implementation.
type Transport interface {
	// Export binds the invoker and starts serving it. The returned Exporter
	// represents the live endpoint.
	Export(inv proxy.Invoker) (Exporter, error)
	// DefaultPort is the port used when neither config nor environment
	// chooses one. Zero means "no default, allocate".
	DefaultPort() uint16
}

// Exporter is the handle of a live endpoint.
type Exporter interface {
	// Invoker returns the invoker being served.
	Invoker() proxy.Invoker
	// Unexport tears the endpoint down. Idempotent.
	Unexport()
}

// Wrapper decorates a transport at registration time. The composition order
// is last-registered outermost, mirroring a middleware chain.
type Wrapper func(Transport) Transport

// UnknownProtocolError reports a protocol name with no registered transport.
type UnknownProtocolError struct {
	Protocol string
}

func (e *UnknownProtocolError) Error() string {
	return "transport: unknown protocol " + e.Protocol
}

// ExportError reports a transport export failure, carrying the
// (protocol, registry) pair the pipeline was working on.
type ExportError struct {
	Protocol string
	Registry string
	Err      error
}

func (e *ExportError) Error() string {
	if e.Registry != "" {
		return fmt.Sprintf("transport: export of %s via registry %s failed: %v", e.Protocol, e.Registry, e.Err)
	}
	return fmt.Sprintf("transport: export of %s failed: %v", e.Protocol, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

// Registry resolves protocol names to transports.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]Transport
	wrappers   []Wrapper
}

// NewRegistry returns an empty transport registry.
func NewRegistry() *Registry {
	return &Registry{transports: make(map[string]Transport)}
}

// RegisterWrapper installs a decorator applied to transports registered
// after it. Register wrappers before transports.
func (r *Registry) RegisterWrapper(w Wrapper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wrappers = append(r.wrappers, w)
}

// Register binds name to t, wrapped by the installed decorator chain.
func (r *Registry) Register(name string, t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.wrappers {
		t = w(t)
	}
	r.transports[strings.ToLower(name)] = t
}

// Get returns the transport bound to name.
func (r *Registry) Get(name string) (Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[strings.ToLower(name)]
	if !ok {
		return nil, &UnknownProtocolError{Protocol: name}
	}
	return t, nil
}

// Names lists the registered protocol names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.transports))
	for name := range r.transports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry is the process-wide transport registry. The injvm,
// registry and TCP transports are queued by their init hooks and installed
// when it is first called.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
		installBuiltins(defaultRegistry)
	})
	return defaultRegistry
}

// builtins are queued by init funcs and installed when DefaultRegistry is
// first built.
var builtins []func(*Registry)

func registerBuiltin(f func(*Registry)) {
	builtins = append(builtins, f)
}

func installBuiltins(r *Registry) {
	for _, f := range builtins {
		f(r)
	}
}
