// Package registry advertises running servers and lets clients find them.
package registry

import "context"

// ServiceInstance is one server process reachable at Addr.
type ServiceInstance struct {
	Addr    string
	Weight  int // relative capacity, used by weighted balancing
	Version string
}

type Registry interface {
	// Register advertises instance under serviceName. The entry expires ttl
	// seconds after the process stops renewing it.
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list after every change until ctx ends.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}
