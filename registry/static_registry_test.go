package registry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStaticRegisterAndDiscover(t *testing.T) {
	reg := NewStaticRegistry()
	ctx := context.Background()

	inst1 := ServiceInstance{Addr: "127.0.0.1:8001", Weight: 10, Version: "1.0"}
	inst2 := ServiceInstance{Addr: "127.0.0.1:8002", Weight: 5, Version: "1.0"}

	if err := reg.Register(ctx, "eyetracker", inst1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, "eyetracker", inst2, 10); err != nil {
		t.Fatal(err)
	}

	instances, err := reg.Discover(ctx, "eyetracker")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	if err := reg.Deregister(ctx, "eyetracker", inst1.Addr); err != nil {
		t.Fatal(err)
	}
	instances, err = reg.Discover(ctx, "eyetracker")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 || instances[0].Addr != inst2.Addr {
		t.Fatalf("expect only %s, got %+v", inst2.Addr, instances)
	}
}

func TestStaticReplaceSameAddr(t *testing.T) {
	reg := NewStaticRegistry()
	ctx := context.Background()
	reg.Register(ctx, "eyetracker", ServiceInstance{Addr: "a", Weight: 1}, 0)
	reg.Register(ctx, "eyetracker", ServiceInstance{Addr: "a", Weight: 7}, 0)

	instances, _ := reg.Discover(ctx, "eyetracker")
	if len(instances) != 1 || instances[0].Weight != 7 {
		t.Fatalf("expected replaced instance, got %+v", instances)
	}
}

func TestStaticDiscoverEmpty(t *testing.T) {
	_, err := NewStaticRegistry().Discover(context.Background(), "missing")
	if !errors.Is(err, ErrNoInstances) {
		t.Fatalf("expected ErrNoInstances, got %v", err)
	}
}

func TestStaticWatch(t *testing.T) {
	reg := NewStaticRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	ch := reg.Watch(ctx, "eyetracker")

	reg.Register(context.Background(), "eyetracker", ServiceInstance{Addr: "a", Weight: 1}, 0)

	select {
	case list := <-ch:
		if len(list) != 1 || list[0].Addr != "a" {
			t.Fatalf("unexpected update %+v", list)
		}
	case <-time.After(time.Second):
		t.Fatal("no watch update")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed")
	}
}
