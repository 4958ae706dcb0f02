package instrument

import (
	"context"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"instrument-rpc/client"
	"instrument-rpc/loadbalance"
	"instrument-rpc/logging"
	"instrument-rpc/registry"
	"instrument-rpc/server"
)

// Two simulators advertised in etcd; clients resolving the service land on both.
// Requires a running etcd; set INSTRUMENT_RPC_ETCD=localhost:2379 to enable.
func TestMultiServerWithEtcd(t *testing.T) {
	endpoints := os.Getenv("INSTRUMENT_RPC_ETCD")
	if endpoints == "" {
		t.Skip("INSTRUMENT_RPC_ETCD not set")
	}
	reg, err := registry.NewEtcdRegistry(registry.EtcdConfig{Endpoints: strings.Split(endpoints, ",")})
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	const service = "instrument-integration"
	logger := logging.ForTests(t)
	addrs := make(map[string]bool)
	for i := 0; i < 2; i++ {
		svr := server.NewServer(server.Options{Name: service, Logger: logger, TTL: 10})
		if err := svr.Register(NewSimulator(svr, logger, nil)); err != nil {
			t.Fatal(err)
		}
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		go svr.ServeListener(ln, "", reg)
		t.Cleanup(func() { svr.Shutdown(3 * time.Second) })
		addrs[svr.Addr().String()] = false
	}

	bal := &loadbalance.RoundRobinBalancer{}
	for i := 0; i < 4; i++ {
		opts := client.DefaultOptions()
		opts.Logger = logger
		opts.Registry = reg
		opts.Balancer = bal
		c := client.New(opts)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.ConnectService(ctx, service); err != nil {
			cancel()
			t.Fatalf("ConnectService failed: %v", err)
		}
		if pong, err := New(c).Ping(ctx); err != nil || pong != "pong" {
			t.Fatalf("ping %d: %q, %v", i, pong, err)
		}
		cancel()
		addrs[c.Addr()] = true
		c.Close()
	}
	for addr, hit := range addrs {
		if !hit {
			t.Errorf("instance %s never picked", addr)
		}
	}
}
