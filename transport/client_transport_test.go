package transport

import (
	"encoding/json"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"mesh-rpc/codec"
	"mesh-rpc/endpoint"
	"mesh-rpc/netutil"
	"mesh-rpc/proxy"
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

func startArith(t *testing.T) string {
	t.Helper()
	port := netutil.AvailablePort(29000)
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))

	d := endpoint.New(DubboProtocol, "127.0.0.1", uint16(port), "demo.Arith")
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

// serial requests over one connection
func TestClientTransportSerial(t *testing.T) {
	addr := startArith(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	ct := NewClientTransport(conn, codec.CodecTypeJSON)

	for i := 0; i < 3; i++ {
		_, ch, err := ct.Send("demo.Arith", "Add", &Args{A: i, B: i})
		if err != nil {
			t.Fatal(err)
		}
		resp := <-ch
		if resp.Error != "" {
			t.Fatalf("server error: %s", resp.Error)
		}
		var reply Reply
		if err := json.Unmarshal(resp.Payload, &reply); err != nil {
			t.Fatal(err)
		}
		if reply.Result != i*2 {
			t.Fatalf("expect %d, got %d", i*2, reply.Result)
		}
	}
}

// concurrent requests over one connection: the multiplexing core
func TestClientTransportConcurrent(t *testing.T) {
	addr := startArith(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	ct := NewClientTransport(conn, codec.CodecTypeJSON)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			_, ch, err := ct.Send("demo.Arith", "Add", &Args{A: n, B: n})
			if err != nil {
				t.Errorf("send failed: %v", err)
				return
			}

			resp := <-ch
			if resp.Error != "" {
				t.Errorf("server error: %s", resp.Error)
				return
			}

			var reply Reply
			if err := json.Unmarshal(resp.Payload, &reply); err != nil {
				t.Errorf("unmarshal failed: %v", err)
				return
			}
			if reply.Result != n*2 {
				t.Errorf("expect %d, got %d", n*2, reply.Result)
			}
		}(i)
	}
	wg.Wait()
}

func TestClientTransportSendFailsAfterClose(t *testing.T) {
	addr := startArith(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	ct := NewClientTransport(conn, codec.CodecTypeJSON)
	ct.Close()

	if _, _, err := ct.Send("demo.Arith", "Add", &Args{A: 1, B: 1}); err == nil {
		t.Fatal("expect Send to fail on a closed transport")
	}
}
