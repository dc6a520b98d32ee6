package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mesh-rpc/endpoint"
	"mesh-rpc/proxy"
	"mesh-rpc/registry"
)

// fakeTransport records exports and serves canned exporters.
type fakeTransport struct {
	port     uint16
	mu       sync.Mutex
	exported []proxy.Invoker
	fail     error
}

func (t *fakeTransport) DefaultPort() uint16 { return t.port }

func (t *fakeTransport) Export(inv proxy.Invoker) (Exporter, error) {
	if t.fail != nil {
		return nil, t.fail
	}
	t.mu.Lock()
	t.exported = append(t.exported, inv)
	t.mu.Unlock()
	return &fakeExporter{invoker: inv}, nil
}

type fakeExporter struct {
	invoker   proxy.Invoker
	unexports int
}

func (e *fakeExporter) Invoker() proxy.Invoker { return e.invoker }
func (e *fakeExporter) Unexport()              { e.unexports++ }

// fakeInvoker is the minimal invoker for transport tests.
type fakeInvoker struct {
	iface string
	url   endpoint.Descriptor
}

func (inv *fakeInvoker) Interface() string        { return inv.iface }
func (inv *fakeInvoker) URL() endpoint.Descriptor { return inv.url }
func (inv *fakeInvoker) Invoke(context.Context, string, any, any) error {
	return nil
}

// fakeDiscovery records register/deregister calls.
type fakeDiscovery struct {
	mu           sync.Mutex
	registered   []endpoint.Descriptor
	deregistered []endpoint.Descriptor
}

func (r *fakeDiscovery) Register(_ context.Context, d endpoint.Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered = append(r.registered, d)
	return nil
}

func (r *fakeDiscovery) Deregister(_ context.Context, d endpoint.Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deregistered = append(r.deregistered, d)
	return nil
}

func (r *fakeDiscovery) Discover(context.Context, string) ([]registry.ServiceInstance, error) {
	return nil, nil
}

func (r *fakeDiscovery) Watch(context.Context, string) (<-chan []registry.ServiceInstance, error) {
	return nil, nil
}

func (r *fakeDiscovery) Close() error { return nil }

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	ft := &fakeTransport{port: 7}
	r.Register("Dubbo", ft)

	got, err := r.Get("dubbo")
	require.NoError(t, err)
	assert.Equal(t, uint16(7), got.DefaultPort())

	// lookup is case-insensitive both ways
	_, err = r.Get("DUBBO")
	require.NoError(t, err)

	_, err = r.Get("thrift")
	require.Error(t, err)
	var unknown *UnknownProtocolError
	assert.ErrorAs(t, err, &unknown)
	assert.Equal(t, "thrift", unknown.Protocol)
}

type taggingTransport struct {
	Transport
	tag string
}

func TestRegistryWrapperChain(t *testing.T) {
	r := NewRegistry()
	r.RegisterWrapper(func(next Transport) Transport {
		return &taggingTransport{Transport: next, tag: "filter"}
	})
	r.RegisterWrapper(func(next Transport) Transport {
		return &taggingTransport{Transport: next, tag: "listener"}
	})
	r.Register("dubbo", &fakeTransport{})

	got, err := r.Get("dubbo")
	require.NoError(t, err)

	// last-registered wrapper is outermost: listener ∘ filter ∘ raw
	outer, ok := got.(*taggingTransport)
	require.True(t, ok)
	assert.Equal(t, "listener", outer.tag)
	inner, ok := outer.Transport.(*taggingTransport)
	require.True(t, ok)
	assert.Equal(t, "filter", inner.tag)
}

func TestInjvmExportLookupUnexport(t *testing.T) {
	inj := NewInjvmTransport()
	inv := &fakeInvoker{iface: "demo.Greeter", url: endpoint.New(InjvmProtocol, "127.0.0.1", 0, "demo.Greeter")}

	exp, err := inj.Export(inv)
	require.NoError(t, err)

	got, ok := inj.Lookup("demo.Greeter")
	require.True(t, ok)
	assert.Equal(t, inv, got)

	exp.Unexport()
	exp.Unexport() // idempotent

	_, ok = inj.Lookup("demo.Greeter")
	assert.False(t, ok)
}

func TestInjvmUnexportKeepsReplacement(t *testing.T) {
	inj := NewInjvmTransport()
	inv1 := &fakeInvoker{url: endpoint.New(InjvmProtocol, "127.0.0.1", 0, "demo.Greeter")}
	inv2 := &fakeInvoker{url: endpoint.New(InjvmProtocol, "127.0.0.1", 0, "demo.Greeter")}

	exp1, err := inj.Export(inv1)
	require.NoError(t, err)
	_, err = inj.Export(inv2)
	require.NoError(t, err)

	// unexporting the replaced exporter must not drop the live one
	exp1.Unexport()
	got, ok := inj.Lookup("demo.Greeter")
	require.True(t, ok)
	assert.Equal(t, proxy.Invoker(inv2), got)
}

func registryDescriptor(t *testing.T, provider endpoint.Descriptor) endpoint.Descriptor {
	t.Helper()
	return endpoint.New(RegistryProtocol, "127.0.0.1", 2379, "RegistryService").
		WithParameter(endpoint.RegistryKey, "etcd").
		WithEncodedParameter(endpoint.ExportKey, provider.String())
}

func TestRegistryTransportExport(t *testing.T) {
	transports := NewRegistry()
	inner := &fakeTransport{port: 20880}
	transports.Register("dubbo", inner)

	rt := NewRegistryTransport(transports)
	disco := &fakeDiscovery{}
	rt.SetRegistryFactory(func(endpoint.Descriptor) (registry.Registry, error) {
		return disco, nil
	})

	provider := endpoint.New("dubbo", "192.168.1.4", 20880, "demo.Greeter").
		WithParameter(endpoint.SideKey, endpoint.ProviderSide)
	inv := &fakeInvoker{iface: "demo.Greeter", url: registryDescriptor(t, provider)}

	exp, err := rt.Export(inv)
	require.NoError(t, err)

	// the inner transport got the provider descriptor, not the registry one
	require.Len(t, inner.exported, 1)
	assert.True(t, provider.Equal(inner.exported[0].URL()))

	// the provider descriptor was published
	require.Len(t, disco.registered, 1)
	assert.True(t, provider.Equal(disco.registered[0]))

	exp.Unexport()
	exp.Unexport()
	require.Len(t, disco.deregistered, 1)
}

func TestRegistryTransportRegisterFalse(t *testing.T) {
	transports := NewRegistry()
	inner := &fakeTransport{}
	transports.Register("dubbo", inner)

	rt := NewRegistryTransport(transports)
	disco := &fakeDiscovery{}
	rt.SetRegistryFactory(func(endpoint.Descriptor) (registry.Registry, error) {
		return disco, nil
	})

	provider := endpoint.New("dubbo", "192.168.1.4", 20880, "demo.Greeter").
		WithParameter(endpoint.RegisterKey, "false")
	inv := &fakeInvoker{url: registryDescriptor(t, provider)}

	_, err := rt.Export(inv)
	require.NoError(t, err)

	assert.Len(t, inner.exported, 1)
	assert.Empty(t, disco.registered)
}

func TestRegistryTransportMissingExportParam(t *testing.T) {
	rt := NewRegistryTransport(NewRegistry())
	inv := &fakeInvoker{url: endpoint.New(RegistryProtocol, "127.0.0.1", 2379, "RegistryService")}

	_, err := rt.Export(inv)
	require.Error(t, err)
}

func TestRegistryTransportUnknownInnerProtocol(t *testing.T) {
	rt := NewRegistryTransport(NewRegistry())
	provider := endpoint.New("thrift", "h", 1, "p")
	inv := &fakeInvoker{url: registryDescriptor(t, provider)}

	_, err := rt.Export(inv)
	var unknown *UnknownProtocolError
	assert.ErrorAs(t, err, &unknown)
}

func TestRegistryTransportInnerFailure(t *testing.T) {
	transports := NewRegistry()
	transports.Register("dubbo", &fakeTransport{fail: errors.New("bind refused")})

	rt := NewRegistryTransport(transports)
	provider := endpoint.New("dubbo", "h", 1, "p")
	inv := &fakeInvoker{url: registryDescriptor(t, provider)}

	_, err := rt.Export(inv)
	assert.ErrorContains(t, err, "bind refused")
}

func TestConfigure(t *testing.T) {
	RegisterConfigurator("conf-test", func(d endpoint.Descriptor) endpoint.Descriptor {
		return d.WithParameter("configured", "true")
	})

	d := endpoint.New("conf-test", "h", 1, "p")
	assert.Equal(t, "true", Configure(d).Parameter("configured", ""))

	plain := endpoint.New("other", "h", 1, "p")
	assert.True(t, plain.Equal(Configure(plain)))
}

func TestDefaultRegistryBuiltins(t *testing.T) {
	r := DefaultRegistry()
	for _, name := range []string{InjvmProtocol, RegistryProtocol, DubboProtocol} {
		_, err := r.Get(name)
		assert.NoError(t, err, name)
	}
}
