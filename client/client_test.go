package client

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"mesh-rpc/codec"
	"mesh-rpc/endpoint"
	"mesh-rpc/loadbalance"
	"mesh-rpc/netutil"
	"mesh-rpc/proxy"
	"mesh-rpc/registry"
	"mesh-rpc/server"
)

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

type Arith struct{}

func (a *Arith) Add(args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

// staticRegistry serves a fixed instance list, no etcd needed.
type staticRegistry struct {
	instances []registry.ServiceInstance
}

func (r *staticRegistry) Register(context.Context, endpoint.Descriptor) error { return nil }
func (r *staticRegistry) Deregister(context.Context, endpoint.Descriptor) error { return nil }
func (r *staticRegistry) Discover(context.Context, string) ([]registry.ServiceInstance, error) {
	return r.instances, nil
}
func (r *staticRegistry) Watch(context.Context, string) (<-chan []registry.ServiceInstance, error) {
	return nil, nil
}
func (r *staticRegistry) Close() error { return nil }

func startArithServer(t *testing.T) string {
	t.Helper()
	port := netutil.AvailablePort(28900)
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))

	d := endpoint.New("dubbo", "127.0.0.1", uint16(port), "demo.Arith")
	inv, err := proxy.NewReflectFactory().GetInvoker(&Arith{}, "demo.Arith", d)
	if err != nil {
		t.Fatal(err)
	}
	svr := server.NewServer()
	if err := svr.Attach(inv); err != nil {
		t.Fatal(err)
	}
	go svr.Serve("tcp", addr)
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	time.Sleep(100 * time.Millisecond)
	return addr
}

func TestClientCall(t *testing.T) {
	addr := startArithServer(t)
	reg := &staticRegistry{instances: []registry.ServiceInstance{{Addr: addr, Weight: 1}}}

	c := NewClient(reg, loadbalance.NewWeightedRoundRobin(), codec.CodecTypeJSON, 2)

	reply := &Reply{}
	if err := c.Call(context.Background(), "demo.Arith", "Add", &Args{A: 1, B: 2}, reply); err != nil {
		t.Fatal(err)
	}
	if reply.Result != 3 {
		t.Fatalf("expect 3, got %v", reply.Result)
	}

	reply2 := &Reply{}
	if err := c.Call(context.Background(), "demo.Arith", "Add", &Args{A: 10, B: 20}, reply2); err != nil {
		t.Fatal(err)
	}
	if reply2.Result != 30 {
		t.Fatalf("expect 30, got %v", reply2.Result)
	}
}

func TestClientCallWithBinaryCodec(t *testing.T) {
	addr := startArithServer(t)
	reg := &staticRegistry{instances: []registry.ServiceInstance{{Addr: addr, Weight: 1}}}

	c := NewClient(reg, nil, codec.CodecTypeBinary, 1)

	reply := &Reply{}
	if err := c.Call(context.Background(), "demo.Arith", "Add", &Args{A: 5, B: 7}, reply); err != nil {
		t.Fatal(err)
	}
	if reply.Result != 12 {
		t.Fatalf("expect 12, got %v", reply.Result)
	}
}

func TestClientCallIncompleteIdentity(t *testing.T) {
	c := NewClient(&staticRegistry{}, nil, codec.CodecTypeJSON, 1)
	if err := c.Call(context.Background(), "demo.Arith", "", nil, nil); err == nil {
		t.Fatal("expect error for missing method name")
	}
	if err := c.Call(context.Background(), "", "Add", nil, nil); err == nil {
		t.Fatal("expect error for missing service name")
	}
}

func TestClientCallNoInstances(t *testing.T) {
	c := NewClient(&staticRegistry{}, nil, codec.CodecTypeJSON, 1)
	err := c.Call(context.Background(), "demo.Arith", "Add", &Args{}, &Reply{})
	if err == nil {
		t.Fatal("expect error when no instances are available")
	}
}
