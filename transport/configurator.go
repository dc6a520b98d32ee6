package transport

import (
	"strings"
	"sync"

	"mesh-rpc/endpoint"
)

// Configurator rewrites a descriptor right before export, e.g. to apply
// operator overrides. Registered per protocol name; a descriptor whose
// protocol has no configurator passes through untouched.
type Configurator func(endpoint.Descriptor) endpoint.Descriptor

var (
	configuratorsMu sync.RWMutex
	configurators   = map[string]Configurator{}
)

// RegisterConfigurator installs a configurator for the protocol name.
func RegisterConfigurator(protocol string, c Configurator) {
	configuratorsMu.Lock()
	defer configuratorsMu.Unlock()
	configurators[strings.ToLower(protocol)] = c
}

// Configure applies the configurator registered for d's protocol, if any.
func Configure(d endpoint.Descriptor) endpoint.Descriptor {
	configuratorsMu.RLock()
	c, ok := configurators[d.Protocol()]
	configuratorsMu.RUnlock()
	if !ok {
		return d
	}
	return c(d)
}
