// Package registry defines the discovery-registry capability the export
// pipeline and the client side depend on, plus the etcd implementation.
//
// Implementations are looked up by the registry protocol name carried in the
// "registry" parameter of a registry:// descriptor, via factories installed
// with RegisterFactory at process start.
package registry

import (
	"context"
	"sort"
	"sync"

	"mesh-rpc/endpoint"
)

// ServiceInstance is one registered provider of a service.
type ServiceInstance struct {
	Addr    string `json:"addr"`
	Weight  int    `json:"weight"`
	Version string `json:"version,omitempty"`
	URL     string `json:"url,omitempty"` // full descriptor form
}

// DefaultWeight applies when a descriptor carries no weight parameter.
const DefaultWeight = 100

// InstanceOf derives the registered instance from a provider descriptor.
func InstanceOf(d endpoint.Descriptor) ServiceInstance {
	return ServiceInstance{
		Addr:    d.Address(),
		Weight:  d.ParameterAsInt(endpoint.WeightKey, DefaultWeight),
		Version: d.Parameter(endpoint.VersionKey, ""),
		URL:     d.String(),
	}
}

// Registry stores and distributes endpoint descriptors.
type Registry interface {
	// Register publishes the provider descriptor.
	Register(ctx context.Context, d endpoint.Descriptor) error
	// Deregister withdraws a previously registered descriptor.
	Deregister(ctx context.Context, d endpoint.Descriptor) error
	// Discover returns the current providers of the service key.
	Discover(ctx context.Context, serviceKey string) ([]ServiceInstance, error)
	// Watch emits updated instance lists whenever providers change. The
	// channel closes when ctx is cancelled.
	Watch(ctx context.Context, serviceKey string) (<-chan []ServiceInstance, error)
	// Close releases the underlying client.
	Close() error
}

// Factory builds a Registry from its registry:// descriptor.
type Factory func(d endpoint.Descriptor) (Registry, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// RegisterFactory installs a factory for the given registry protocol name.
func RegisterFactory(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// FactoryNames lists the installed registry protocols, sorted.
func FactoryNames() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New resolves d's "registry" parameter (default etcd) to a factory and
// builds the registry client.
func New(d endpoint.Descriptor) (Registry, error) {
	name := d.Parameter(endpoint.RegistryKey, "etcd")
	factoriesMu.RLock()
	f, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, &UnknownRegistryError{Name: name}
	}
	return f(d)
}

// UnknownRegistryError reports a registry protocol with no installed factory.
type UnknownRegistryError struct {
	Name string
}

func (e *UnknownRegistryError) Error() string {
	return "registry: no factory for protocol " + e.Name
}
