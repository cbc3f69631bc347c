package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"yar-rpc/codec"
	"yar-rpc/message"
	"yar-rpc/protocol"
	"yar-rpc/registry"
	"yar-rpc/router"
	"yar-rpc/server"
)

func startServer(t *testing.T) string {
	t.Helper()

	r := router.New()
	r.AddRoute("ping", func(ctx context.Context, args []any) (any, error) { return "pong", nil })
	r.AddRoute("add", func(a, b int) int { return a + b })
	r.AddRoute("fail", func() error { return message.NewError(7, "boom") })
	r.AddRoute("slow", func(ms int) int {
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return ms
	})

	srv := server.NewServer(server.NewDispatcher(r.Routes(), nil, nil), server.Options{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.ServeListener(ln)
	t.Cleanup(func() { srv.Shutdown(time.Second) })
	return ln.Addr().String()
}

func TestConnCall(t *testing.T) {
	addr := startServer(t)

	for _, c := range []codec.Codec{&codec.MsgpackCodec{}, &codec.JSONCodec{}} {
		conn, err := Dial(context.Background(), addr, ConnOptions{Codec: c})
		if err != nil {
			t.Fatal(err)
		}

		resp, err := conn.Call(context.Background(), "ping")
		if err != nil {
			t.Fatalf("%s: %v", c.Name(), err)
		}
		if resp.Result != "pong" || resp.Status != message.StatusOK {
			t.Fatalf("%s: unexpected response %+v", c.Name(), resp)
		}

		resp, err = conn.Call(context.Background(), "add", 3, 5)
		if err != nil {
			t.Fatal(err)
		}
		if fmt.Sprint(resp.Result) != "8" {
			t.Fatalf("%s: add = %v", c.Name(), resp.Result)
		}
		conn.Close()
	}
}

func TestConnRemoteError(t *testing.T) {
	addr := startServer(t)
	conn, err := Dial(context.Background(), addr, ConnOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	_, err = conn.Call(context.Background(), "fail")
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expect RemoteError, got %v", err)
	}
	if remote.Detail.Message != "boom" || remote.Code() != 7 || remote.Detail.Line == 0 {
		t.Fatalf("unexpected detail %+v", remote.Detail)
	}

	_, err = conn.Call(context.Background(), "missing")
	if !errors.As(err, &remote) || remote.Detail.Message != "Not Found missing" {
		t.Fatalf("expect Not Found, got %v", err)
	}
}

func TestConnConcurrentCalls(t *testing.T) {
	addr := startServer(t)
	conn, err := Dial(context.Background(), addr, ConnOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := conn.Call(context.Background(), "add", i, i)
			if err != nil {
				errs <- err
				return
			}
			if fmt.Sprint(resp.Result) != fmt.Sprint(2*i) {
				errs <- fmt.Errorf("add(%d,%d) = %v", i, i, resp.Result)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestConnContextCancel(t *testing.T) {
	addr := startServer(t)
	conn, err := Dial(context.Background(), addr, ConnOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := conn.Call(ctx, "slow", 500); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expect deadline exceeded, got %v", err)
	}

	// the connection is still usable afterwards
	if _, err := conn.Call(context.Background(), "ping"); err != nil {
		t.Fatal(err)
	}
}

func TestConnBrokenFailsPending(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, 128)
		nc.Read(buf)
		nc.Close()
	}()

	conn, err := Dial(context.Background(), ln.Addr().String(), ConnOptions{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = conn.Call(context.Background(), "ping")
	if !errors.Is(err, ErrConnClosed) {
		t.Fatalf("expect ErrConnClosed, got %v", err)
	}
	if !conn.Broken() {
		t.Fatal("expect connection marked broken")
	}
}

func TestClientDiscoversAndBalances(t *testing.T) {
	addr1 := startServer(t)
	addr2 := startServer(t)

	reg := registry.NewMemoryRegistry()
	ctx := context.Background()
	reg.Register(ctx, "calc", registry.ServiceInstance{Addr: addr1, Weight: 1}, 10)
	reg.Register(ctx, "calc", registry.ServiceInstance{Addr: addr2, Weight: 1}, 10)

	cli := NewClient(reg, nil, "calc", Options{})
	defer cli.Close()

	for i := 0; i < 4; i++ {
		got, err := cli.Call(ctx, "add", i, 1)
		if err != nil {
			t.Fatal(err)
		}
		if fmt.Sprint(got) != fmt.Sprint(i+1) {
			t.Fatalf("add(%d,1) = %v", i, got)
		}
	}
	if len(cli.conns) != 2 {
		t.Fatalf("expect a connection per instance, got %d", len(cli.conns))
	}
}

func TestClientRetriesDeadInstance(t *testing.T) {
	live := startServer(t)

	// reserve an address with nothing listening on it
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	dead := ln.Addr().String()
	ln.Close()

	reg := registry.NewMemoryRegistry()
	ctx := context.Background()
	reg.Register(ctx, "calc", registry.ServiceInstance{Addr: dead}, 10)
	reg.Register(ctx, "calc", registry.ServiceInstance{Addr: live}, 10)

	cli := NewClient(reg, nil, "calc", Options{MaxRetries: 2, BaseDelay: time.Millisecond})
	defer cli.Close()

	// round robin starts at the dead instance; the retry lands on the live one
	got, err := cli.Call(ctx, "ping")
	if err != nil {
		t.Fatal(err)
	}
	if got != "pong" {
		t.Fatalf("expect pong, got %v", got)
	}
}

func TestClientDoesNotRetryExceptions(t *testing.T) {
	addr := startServer(t)
	reg := registry.NewMemoryRegistry()
	reg.Register(context.Background(), "calc", registry.ServiceInstance{Addr: addr}, 10)

	calls := 0
	cli := NewClient(reg, &countingBalancer{calls: &calls}, "calc", Options{MaxRetries: 3, BaseDelay: time.Millisecond})
	defer cli.Close()

	_, err := cli.Call(context.Background(), "fail")
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expect RemoteError, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expect a single attempt, got %d", calls)
	}
}

func TestClientDoesNotRetryAfterSend(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	// reads one whole request, then hangs up without answering
	var received atomic.Int32
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			if _, _, err := protocol.ReadFrame(nc, 0); err == nil {
				received.Add(1)
			}
			nc.Close()
		}
	}()

	reg := registry.NewMemoryRegistry()
	reg.Register(context.Background(), "calc", registry.ServiceInstance{Addr: ln.Addr().String()}, 10)

	calls := 0
	cli := NewClient(reg, &countingBalancer{calls: &calls}, "calc", Options{MaxRetries: 3, BaseDelay: time.Millisecond})
	defer cli.Close()

	_, err = cli.Call(context.Background(), "charge", 100)
	if !errors.Is(err, ErrConnClosed) {
		t.Fatalf("expect ErrConnClosed, got %v", err)
	}
	if errors.Is(err, ErrNotSent) {
		t.Fatalf("request was written, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expect a single attempt, got %d", calls)
	}
	time.Sleep(20 * time.Millisecond)
	if n := received.Load(); n != 1 {
		t.Fatalf("expect the request delivered once, got %d", n)
	}
}

func TestClientNoInstances(t *testing.T) {
	cli := NewClient(registry.NewMemoryRegistry(), nil, "none", Options{MaxRetries: 1, BaseDelay: time.Millisecond})
	if _, err := cli.Call(context.Background(), "ping"); err == nil {
		t.Fatal("expect error without instances")
	}
}

type countingBalancer struct {
	calls *int
}

func (b *countingBalancer) Pick(_ string, instances []registry.ServiceInstance) (registry.ServiceInstance, error) {
	*b.calls++
	return instances[0], nil
}

func (b *countingBalancer) Name() string { return "counting" }
