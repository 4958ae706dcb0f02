package main

import (
	"bytes"
	"net"
	"strings"
	"testing"
	"time"

	"instrument-rpc/instrument"
	"instrument-rpc/logging"
	"instrument-rpc/server"
)

func startInstrument(t *testing.T) string {
	t.Helper()
	logger := logging.ForTests(t)
	svr := server.NewServer(server.Options{Name: "instrument", Logger: logger})
	if err := svr.Register(instrument.NewSimulator(svr, logger, nil)); err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go svr.ServeListener(ln, "", nil)
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return svr.Addr().String()
}

func TestRunCall(t *testing.T) {
	addr := startInstrument(t)
	var out, errOut bytes.Buffer

	if code := run([]string{"-addr", addr, "call", "ping"}, &out, &errOut); code != 0 {
		t.Fatalf("exit %d: %s", code, errOut.String())
	}
	if strings.TrimSpace(out.String()) != `"pong"` {
		t.Fatalf("unexpected output %q", out.String())
	}

	out.Reset()
	if code := run([]string{"-addr", addr, "call", "setLogFile", `"/tmp/a.log"`}, &out, &errOut); code != 0 {
		t.Fatalf("exit %d: %s", code, errOut.String())
	}
	if strings.TrimSpace(out.String()) != "true" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestRunCallRemoteError(t *testing.T) {
	addr := startInstrument(t)
	var out, errOut bytes.Buffer
	if code := run([]string{"-addr", addr, "call", "noSuchMethod"}, &out, &errOut); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
}

func TestRunCallBadParams(t *testing.T) {
	addr := startInstrument(t)
	var out, errOut bytes.Buffer
	if code := run([]string{"-addr", addr, "call", "ping", "{not json"}, &out, &errOut); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
}

func TestRunInfo(t *testing.T) {
	addr := startInstrument(t)
	var out, errOut bytes.Buffer
	if code := run([]string{"-addr", addr, "info"}, &out, &errOut); code != 0 {
		t.Fatalf("exit %d: %s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "instrument-sim 1.0.0") || !strings.Contains(out.String(), "Idle (0x0001)") {
		t.Fatalf("unexpected info output:\n%s", out.String())
	}
}

func TestRunWaitTimeout(t *testing.T) {
	addr := startInstrument(t)
	var out, errOut bytes.Buffer
	if code := run([]string{"-addr", addr, "wait", "-timeout", "100ms"}, &out, &errOut); code != 1 {
		t.Fatalf("expected exit 1 on timeout, got %d", code)
	}
}

func TestRunUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run(nil, &out, &errOut); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if !strings.Contains(errOut.String(), "usage: rpcctl") {
		t.Fatalf("usage not printed: %q", errOut.String())
	}
}
