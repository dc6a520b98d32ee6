package export

import (
	"mesh-rpc/proxy"
)

// Snapshot is the immutable service metadata that travels with every
// exported invoker, so transports and registries can attribute an endpoint
// to its service without reaching back into the live Service.
type Snapshot struct {
	Interface string
	Path      string
	Group     string
	Version   string
	Generic   string
}

func (s *Service) snapshot() Snapshot {
	return Snapshot{
		Interface: s.Interface,
		Path:      s.Path,
		Group:     s.Group,
		Version:   s.Version,
		Generic:   s.Generic,
	}
}

// DelegateInvoker pairs an invoker with the exporting service's metadata.
// It is a value, not a hierarchy: transports see a plain invoker plus the
// snapshot.
type DelegateInvoker struct {
	proxy.Invoker
	Service Snapshot
}

// Methods keeps the wrapped invoker introspectable through the delegation.
func (d DelegateInvoker) Methods() map[string]*proxy.MethodInfo {
	return proxy.MethodsOf(d.Invoker)
}
