// Package proxy bridges user service references and transports. A Factory
// wraps a reference into an Invoker; the Invoker is what a transport exports
// and what ultimately executes calls against the reference.
package proxy

import (
	"context"

	"mesh-rpc/endpoint"
)

// Invoker is something that, given a call, produces a result. It carries the
// service reference, the interface identity, and the endpoint descriptor the
// service was exported under.
type Invoker interface {
	// Interface returns the service interface identifier.
	Interface() string
	// URL returns the descriptor this invoker was built for.
	URL() endpoint.Descriptor
	// Invoke executes method with args, writing the result into reply.
	Invoke(ctx context.Context, method string, args, reply any) error
}

// Factory builds invokers from user references.
type Factory interface {
	GetInvoker(ref any, iface string, d endpoint.Descriptor) (Invoker, error)
}

// GenericService is the sentinel capability for services whose interface is
// not statically known. Calls arrive as (method, argument type names, args).
type GenericService interface {
	GenericInvoke(ctx context.Context, method string, argTypes []string, args []any) (any, error)
}

// GenericInterface is the interface token for generic services. Exporting a
// generic service does not substitute it; the configured interface is kept.
const GenericInterface = "mesh.rpc.GenericService"

// Generic flavours accepted by the generic parameter.
const (
	GenericTrue       = "true"
	GenericNativeJava = "nativejava"
	GenericBean       = "bean"
)

// IsGeneric reports whether flavour names a supported generic serialization.
func IsGeneric(flavour string) bool {
	switch flavour {
	case GenericTrue, GenericNativeJava, GenericBean:
		return true
	}
	return false
}
