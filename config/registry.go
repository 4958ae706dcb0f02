package config

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"instrument-rpc/loadbalance"
	"instrument-rpc/registry"
)

// OpenRegistry builds the registry selected by Registry.Kind. Static instances from
// the file are registered under service. The returned func releases the registry.
func (c Config) OpenRegistry(ctx context.Context, service string, zl *zap.Logger) (registry.Registry, func() error, error) {
	switch c.Registry.Kind {
	case "etcd":
		reg, err := registry.NewEtcdRegistry(registry.EtcdConfig{
			Endpoints:   c.Registry.Endpoints,
			DialTimeout: c.Client.DialTimeout,
			Logger:      zl,
		})
		if err != nil {
			return nil, nil, err
		}
		return reg, reg.Close, nil
	case "static", "":
		reg := registry.NewStaticRegistry()
		for _, inst := range c.Registry.Instances {
			if err := reg.Register(ctx, service, inst, 0); err != nil {
				return nil, nil, err
			}
		}
		return reg, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("config: unknown registry kind %q", c.Registry.Kind)
	}
}

// Balancer builds the configured load balancer.
func (c Config) Balancer() (loadbalance.Balancer, error) {
	return loadbalance.New(c.Registry.Balancer, c.Registry.AffinityKey)
}
