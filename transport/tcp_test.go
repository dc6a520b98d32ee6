package transport

import (
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"mesh-rpc/codec"
	"mesh-rpc/endpoint"
	"mesh-rpc/netutil"
	"mesh-rpc/proxy"
)

type Slow struct{}

func (s *Slow) Nap(args *Args, reply *Reply) error {
	time.Sleep(200 * time.Millisecond)
	reply.Result = args.A
	return nil
}

func TestTCPExportServesCalls(t *testing.T) {
	port := netutil.AvailablePort(29100)
	d := endpoint.New(DubboProtocol, "127.0.0.1", uint16(port), "demo.Arith")
	inv, err := proxy.NewReflectFactory().GetInvoker(&Arith{}, "demo.Arith", d)
	if err != nil {
		t.Fatal(err)
	}

	tt := NewTCPTransport()
	exp, err := tt.Export(inv)
	if err != nil {
		t.Fatal(err)
	}
	defer exp.Unexport()

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatal(err)
	}
	ct := NewClientTransport(conn, codec.CodecTypeJSON)
	defer ct.Close()

	_, ch, err := ct.Send("demo.Arith", "Add", &Args{A: 2, B: 3})
	if err != nil {
		t.Fatal(err)
	}
	resp := <-ch
	if resp.Failed() {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
}

// the descriptor's timeout parameter becomes a live call budget on the
// listener
func TestTCPExportWiresTimeoutMiddleware(t *testing.T) {
	port := netutil.AvailablePort(29200)
	d := endpoint.New(DubboProtocol, "127.0.0.1", uint16(port), "demo.Slow").
		WithParameter("timeout", "50")
	inv, err := proxy.NewReflectFactory().GetInvoker(&Slow{}, "demo.Slow", d)
	if err != nil {
		t.Fatal(err)
	}

	tt := NewTCPTransport()
	exp, err := tt.Export(inv)
	if err != nil {
		t.Fatal(err)
	}
	defer exp.Unexport()

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatal(err)
	}
	ct := NewClientTransport(conn, codec.CodecTypeJSON)
	defer ct.Close()

	_, ch, err := ct.Send("demo.Slow", "Nap", &Args{A: 1})
	if err != nil {
		t.Fatal(err)
	}
	resp := <-ch
	if !resp.Failed() || !strings.Contains(resp.Error, "timed out") {
		t.Fatalf("expect a timeout response, got %+v", resp)
	}
}

// calls above the descriptor's tps bound are rejected, not queued
func TestTCPExportWiresRateLimitMiddleware(t *testing.T) {
	port := netutil.AvailablePort(29300)
	d := endpoint.New(DubboProtocol, "127.0.0.1", uint16(port), "demo.Arith").
		WithParameter("tps", "1")
	inv, err := proxy.NewReflectFactory().GetInvoker(&Arith{}, "demo.Arith", d)
	if err != nil {
		t.Fatal(err)
	}

	tt := NewTCPTransport()
	exp, err := tt.Export(inv)
	if err != nil {
		t.Fatal(err)
	}
	defer exp.Unexport()

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatal(err)
	}
	ct := NewClientTransport(conn, codec.CodecTypeJSON)
	defer ct.Close()

	limited := false
	for i := 0; i < 5; i++ {
		_, ch, err := ct.Send("demo.Arith", "Add", &Args{A: i, B: i})
		if err != nil {
			t.Fatal(err)
		}
		if resp := <-ch; resp.Error == "rate limit exceeded" {
			limited = true
		}
	}
	if !limited {
		t.Fatal("expect at least one rate-limited call out of 5")
	}
}
