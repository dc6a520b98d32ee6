// Package client is the caller side: it resolves providers through a
// discovery registry, picks one with a load balancer, and issues calls over
// pooled multiplexed connections.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"mesh-rpc/codec"
	"mesh-rpc/loadbalance"
	"mesh-rpc/registry"
	"mesh-rpc/transport"
)

// Client calls remote services by (service path, method) identity.
type Client struct {
	registry   registry.Registry
	balancer   loadbalance.Balancer
	transports map[string]chan *transport.ClientTransport // per provider address
	codecType  codec.CodecType
	mu         sync.Mutex
	poolSize   int
}

// NewClient builds a client. bal defaults to WeightedRoundRobin when nil.
func NewClient(reg registry.Registry, bal loadbalance.Balancer, codecType codec.CodecType, poolSize int) *Client {
	if bal == nil {
		bal = loadbalance.NewWeightedRoundRobin()
	}
	return &Client{
		registry:   reg,
		balancer:   bal,
		transports: make(map[string]chan *transport.ClientTransport),
		codecType:  codecType,
		poolSize:   poolSize,
	}
}

// getTransport borrows a pooled connection to addr, creating the pool and
// its connections on first use.
func (c *Client) getTransport(addr string) (*transport.ClientTransport, error) {
	c.mu.Lock()
	pool, ok := c.transports[addr]
	if !ok {
		pool = make(chan *transport.ClientTransport, c.poolSize)
		c.transports[addr] = pool
	}
	c.mu.Unlock()

	if !ok {
		for i := 0; i < c.poolSize; i++ {
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				return nil, err
			}
			pool <- transport.NewClientTransport(conn, c.codecType)
		}
	}
	return <-pool, nil
}

func (c *Client) putTransport(addr string, t *transport.ClientTransport) {
	c.transports[addr] <- t
}

// Call resolves the service, picks a provider, and performs one RPC.
func (c *Client) Call(ctx context.Context, service, method string, args, reply any) error {
	if service == "" || method == "" {
		return fmt.Errorf("client: incomplete call identity %q.%q", service, method)
	}

	instances, err := c.registry.Discover(ctx, service)
	if err != nil {
		return err
	}
	// per-method balancer state is keyed on the full call identity
	instance, err := c.balancer.Pick(service+"."+method, instances)
	if err != nil {
		return err
	}

	t, err := c.getTransport(instance.Addr)
	if err != nil {
		return err
	}
	defer c.putTransport(instance.Addr, t)

	_, ch, err := t.Send(service, method, args)
	if err != nil {
		return err
	}

	select {
	case resp := <-ch:
		if resp.Failed() {
			return fmt.Errorf("client: server error: %v", resp.Error)
		}
		return json.Unmarshal(resp.Payload, reply)
	case <-ctx.Done():
		return ctx.Err()
	}
}
