package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// Requires a running etcd; set INSTRUMENT_RPC_ETCD=localhost:2379 to enable.
func TestEtcdRegisterAndDiscover(t *testing.T) {
	endpoints := os.Getenv("INSTRUMENT_RPC_ETCD")
	if endpoints == "" {
		t.Skip("INSTRUMENT_RPC_ETCD not set")
	}

	reg, err := NewEtcdRegistry(EtcdConfig{Endpoints: strings.Split(endpoints, ",")})
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	inst1 := ServiceInstance{Addr: "127.0.0.1:8001", Weight: 10, Version: "1.0"}
	inst2 := ServiceInstance{Addr: "127.0.0.1:8002", Weight: 5, Version: "1.0"}

	if err := reg.Register(ctx, "eyetracker-test", inst1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, "eyetracker-test", inst2, 10); err != nil {
		t.Fatal(err)
	}

	instances, err := reg.Discover(ctx, "eyetracker-test")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	if err := reg.Deregister(ctx, "eyetracker-test", inst1.Addr); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)

	instances, err = reg.Discover(ctx, "eyetracker-test")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 || instances[0].Addr != inst2.Addr {
		t.Fatalf("expect only %s, got %+v", inst2.Addr, instances)
	}

	reg.Deregister(ctx, "eyetracker-test", inst2.Addr)
}
