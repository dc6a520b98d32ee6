// etcd-backed Registry. Descriptors are stored under
//
//	/mesh-rpc/{serviceKey}/{addr}
//
// with a JSON instance record as the value, attached to a TTL lease so a
// crashed provider disappears when its KeepAlive stops renewing.
package registry

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"golang.org/x/time/rate"

	"mesh-rpc/endpoint"
	"mesh-rpc/logger"
)

const (
	keyPrefix = "/mesh-rpc/"

	// DefaultTTL is the registration lease in seconds; KeepAlive renews it.
	DefaultTTL = 10
)

func init() {
	RegisterFactory("etcd", func(d endpoint.Descriptor) (Registry, error) {
		timeout := time.Duration(d.ParameterAsInt("timeout", 5000)) * time.Millisecond
		endpoints := []string{d.Address()}
		for _, extra := range strings.Split(d.Parameter("backup", ""), ",") {
			if extra != "" {
				endpoints = append(endpoints, extra)
			}
		}
		return NewEtcdRegistry(endpoints, timeout)
	})
}

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // registered key -> lease
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c, leases: make(map[string]clientv3.LeaseID)}, nil
}

func registrationKey(serviceKey, addr string) string {
	return keyPrefix + serviceKey + "/" + addr
}

// Register publishes d with a TTL lease and starts background renewal.
func (r *EtcdRegistry) Register(ctx context.Context, d endpoint.Descriptor) error {
	ttl := int64(d.ParameterAsInt("ttl", DefaultTTL))
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	instance := InstanceOf(d)
	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	key := registrationKey(d.ServiceKey(), instance.Addr)
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	// KeepAlive outlives ctx: the registration stands until Deregister
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return err
	}
	// drain renewal responses so the channel never fills
	go func() {
		for range ch {
		}
	}()

	r.mu.Lock()
	r.leases[key] = lease.ID
	r.mu.Unlock()

	logger.L().Info("registered provider",
		logger.String("key", key),
		logger.Int("ttl", int(ttl)))
	return nil
}

// Deregister removes d's registration and revokes its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, d endpoint.Descriptor) error {
	key := registrationKey(d.ServiceKey(), d.Address())
	if _, err := r.client.Delete(ctx, key); err != nil {
		return err
	}
	r.mu.Lock()
	leaseID, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()
	if ok {
		// best effort; the TTL reaps it anyway
		if _, err := r.client.Revoke(ctx, leaseID); err != nil {
			logger.L().Warn("lease revoke failed", logger.String("key", key), logger.Error(err))
		}
	}
	return nil
}

// Discover lists the currently registered providers of serviceKey.
func (r *EtcdRegistry) Discover(ctx context.Context, serviceKey string) ([]ServiceInstance, error) {
	resp, err := r.client.Get(ctx, keyPrefix+serviceKey+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			logger.L().Warn("skipping malformed registration",
				logger.String("key", string(kv.Key)), logger.Error(err))
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch re-resolves the provider list on every change under the service
// prefix. Re-resolution is rate limited so a registration storm does not
// turn into an etcd Get storm.
func (r *EtcdRegistry) Watch(ctx context.Context, serviceKey string) (<-chan []ServiceInstance, error) {
	out := make(chan []ServiceInstance, 1)
	limiter := rate.NewLimiter(rate.Every(200*time.Millisecond), 1)

	go func() {
		defer close(out)
		watchChan := r.client.Watch(ctx, keyPrefix+serviceKey+"/", clientv3.WithPrefix())
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-watchChan:
				if !ok {
					return
				}
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				instances, err := r.Discover(ctx, serviceKey)
				if err != nil {
					logger.L().Warn("re-resolve after watch event failed",
						logger.String("service", serviceKey), logger.Error(err))
					continue
				}
				select {
				case out <- instances:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close releases the etcd client.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
