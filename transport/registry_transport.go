package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mesh-rpc/endpoint"
	"mesh-rpc/logger"
	"mesh-rpc/proxy"
	"mesh-rpc/registry"
)

// RegistryProtocol is the protocol name of the registry transport.
const RegistryProtocol = "registry"

const registryCallTimeout = 10 * time.Second

func init() {
	registerBuiltin(func(r *Registry) {
		r.Register(RegistryProtocol, NewRegistryTransport(r))
	})
}

// RegistryTransport drives both registration and the actual export with one
// pipeline: its descriptor is the registry's, and the service descriptor
// travels percent-encoded in the export= parameter. Export re-dispatches the
// inner descriptor to its own transport, then publishes it at the discovery
// registry, unless register=false suppresses publication.
type RegistryTransport struct {
	transports  *Registry
	newRegistry registry.Factory // swapped in tests

	mu      sync.Mutex
	clients map[string]registry.Registry // registry address -> shared client
}

// NewRegistryTransport returns a registry transport dispatching through
// transports.
func NewRegistryTransport(transports *Registry) *RegistryTransport {
	return &RegistryTransport{
		transports:  transports,
		newRegistry: registry.New,
		clients:     make(map[string]registry.Registry),
	}
}

// SetRegistryFactory replaces the discovery-registry constructor. Intended
// for tests.
func (t *RegistryTransport) SetRegistryFactory(f registry.Factory) {
	t.newRegistry = f
}

func (t *RegistryTransport) DefaultPort() uint16 { return 0 }

func (t *RegistryTransport) Export(inv proxy.Invoker) (Exporter, error) {
	registryURL := inv.URL()

	encoded := registryURL.Parameter(endpoint.ExportKey, "")
	if encoded == "" {
		return nil, fmt.Errorf("transport: registry descriptor %s carries no export parameter", registryURL.String())
	}
	raw, err := registryURL.DecodedParameter(endpoint.ExportKey)
	if err != nil {
		return nil, err
	}
	providerURL, err := endpoint.Parse(raw)
	if err != nil {
		return nil, err
	}

	inner, err := t.transports.Get(providerURL.Protocol())
	if err != nil {
		return nil, err
	}
	innerExporter, err := inner.Export(WithURL(inv, providerURL))
	if err != nil {
		return nil, err
	}

	exp := &registryExporter{
		inner:       innerExporter,
		providerURL: providerURL,
	}

	if providerURL.ParameterAsBool(endpoint.RegisterKey, true) {
		client, err := t.client(registryURL)
		if err != nil {
			innerExporter.Unexport()
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), registryCallTimeout)
		defer cancel()
		if err := client.Register(ctx, providerURL); err != nil {
			innerExporter.Unexport()
			return nil, err
		}
		exp.registry = client
		logger.L().Info("registered exported service",
			logger.String("service", providerURL.ServiceKey()),
			logger.String("registry", registryURL.Address()))
	}

	return exp, nil
}

// client returns the shared discovery client for the registry address,
// creating it on first use.
func (t *RegistryTransport) client(registryURL endpoint.Descriptor) (registry.Registry, error) {
	addr := registryURL.Address()
	t.mu.Lock()
	defer t.mu.Unlock()
	if client, ok := t.clients[addr]; ok {
		return client, nil
	}
	client, err := t.newRegistry(registryURL)
	if err != nil {
		return nil, err
	}
	t.clients[addr] = client
	return client, nil
}

type registryExporter struct {
	inner       Exporter
	providerURL endpoint.Descriptor
	registry    registry.Registry
	once        sync.Once
}

func (e *registryExporter) Invoker() proxy.Invoker { return e.inner.Invoker() }

// Unexport deregisters first so consumers stop routing here, then tears down
// the endpoint.
func (e *registryExporter) Unexport() {
	e.once.Do(func() {
		if e.registry != nil {
			ctx, cancel := context.WithTimeout(context.Background(), registryCallTimeout)
			defer cancel()
			if err := e.registry.Deregister(ctx, e.providerURL); err != nil {
				logger.L().Warn("deregister failed",
					logger.String("service", e.providerURL.ServiceKey()),
					logger.Error(err))
			}
		}
		e.inner.Unexport()
	})
}

// urlInvoker overrides the descriptor an invoker reports, leaving invocation
// untouched. The registry transport uses it to hand the inner transport the
// provider descriptor while the original invoker was built for the registry
// descriptor.
type urlInvoker struct {
	proxy.Invoker
	url endpoint.Descriptor
}

// WithURL returns inv with its descriptor replaced by d.
func WithURL(inv proxy.Invoker, d endpoint.Descriptor) proxy.Invoker {
	return &urlInvoker{Invoker: inv, url: d}
}

func (inv *urlInvoker) URL() endpoint.Descriptor { return inv.url }

// Methods keeps the wrapped invoker introspectable.
func (inv *urlInvoker) Methods() map[string]*proxy.MethodInfo {
	return proxy.MethodsOf(inv.Invoker)
}
