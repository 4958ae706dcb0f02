package instrument

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"instrument-rpc/client"
	"instrument-rpc/message"
	"instrument-rpc/protocol"
	"instrument-rpc/server"
)

func benchInstrument(b *testing.B) (*server.Server, *Instrument) {
	b.Helper()
	svr := server.NewServer(server.Options{Logger: zerolog.Nop()})
	if err := svr.Register(NewSimulator(svr, zerolog.Nop(), nil)); err != nil {
		b.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		b.Fatal(err)
	}
	go svr.ServeListener(ln, "", nil)
	b.Cleanup(func() { svr.Shutdown(3 * time.Second) })

	opts := client.DefaultOptions()
	opts.Transport.IdleTimeout = 5 * time.Millisecond
	c := client.New(opts)
	if err := c.Connect(context.Background(), svr.Addr().String()); err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { c.Close() })
	return svr, New(c)
}

func BenchmarkSerialPing(b *testing.B) {
	_, in := benchInstrument(b)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := in.Ping(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

// Callers share one connection and queue on the client lock.
func BenchmarkConcurrentGetState(b *testing.B) {
	_, in := benchInstrument(b)
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := in.State(ctx); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

func BenchmarkEncodeRequest(b *testing.B) {
	for i := 0; i < b.N; i++ {
		req, err := message.NewRequest(MethodStartRecording, 2)
		if err != nil {
			b.Fatal(err)
		}
		payload, err := client.DefaultOptions().Codec.Encode(req)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := protocol.Encode(payload); err != nil {
			b.Fatal(err)
		}
	}
}
