// Package registry resolves an instrument service name to reachable endpoints.
package registry

import (
	"context"
	"errors"
)

// ErrNoInstances is returned by Discover when nothing is registered under a name.
var ErrNoInstances = errors.New("registry: no instances")

// ServiceInstance is one advertised instrument server.
type ServiceInstance struct {
	Addr    string `json:"addr" yaml:"addr" toml:"addr"`
	Weight  int    `json:"weight" yaml:"weight" toml:"weight"` // weight for load balancing
	Version string `json:"version,omitempty" yaml:"version" toml:"version"`
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list after every change until ctx is done.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}
