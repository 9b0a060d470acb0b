// Copyright 2023 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lockd

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"deps.dev/util/artifact/lockproto"
)

// testClient is a minimal hand-rolled protocol client used only to
// exercise the server from outside its own package.
type testClient struct {
	t    *testing.T
	nc   net.Conn
	next uint32
	resp chan lockproto.Frame
}

func dialTestClient(t *testing.T, addr string) *testClient {
	t.Helper()
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c := &testClient{t: t, nc: nc, resp: make(chan lockproto.Frame, 16)}
	go func() {
		for {
			f, err := lockproto.ReadFrame(nc)
			if err != nil {
				close(c.resp)
				return
			}
			c.resp <- f
		}
	}()
	return c
}

func (c *testClient) send(args ...string) uint32 {
	c.t.Helper()
	c.next++
	id := c.next
	if err := lockproto.WriteFrame(c.nc, lockproto.Frame{RequestID: id, Args: args}); err != nil {
		c.t.Fatalf("send %v: %v", args, err)
	}
	return id
}

func (c *testClient) await(t *testing.T, timeout time.Duration) (lockproto.Frame, bool) {
	t.Helper()
	select {
	case f, ok := <-c.resp:
		return f, ok
	case <-time.After(timeout):
		return lockproto.Frame{}, false
	}
}

func (c *testClient) context(t *testing.T, shared bool) string {
	t.Helper()
	sharedStr := "false"
	if shared {
		sharedStr = "true"
	}
	c.send(lockproto.Context, sharedStr)
	f, ok := c.await(t, time.Second)
	if !ok || f.Command() != lockproto.Context {
		t.Fatalf("CONTEXT reply: %+v ok=%v", f, ok)
	}
	return f.Args[1]
}

func startTestServer(t *testing.T) (addr string, srv *Server, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv = NewServer(zerolog.Nop(), 300*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Serve(ctx, ln)
		close(done)
	}()
	return ln.Addr().String(), srv, func() {
		cancel()
		<-done
	}
}

func TestSharedAcquisitionsDoNotBlock(t *testing.T) {
	addr, _, stop := startTestServer(t)
	defer stop()

	a := dialTestClient(t, addr)
	b := dialTestClient(t, addr)
	ctxA := a.context(t, true)
	ctxB := b.context(t, true)

	a.send(lockproto.Acquire, ctxA, "k")
	b.send(lockproto.Acquire, ctxB, "k")

	if f, ok := a.await(t, time.Second); !ok || f.Command() != lockproto.Acquire {
		t.Fatalf("A ACQUIRE: %+v ok=%v", f, ok)
	}
	if f, ok := b.await(t, time.Second); !ok || f.Command() != lockproto.Acquire {
		t.Fatalf("B ACQUIRE: %+v ok=%v", f, ok)
	}
}

func TestExclusiveBlocksBehindSharedThenProceeds(t *testing.T) {
	addr, _, stop := startTestServer(t)
	defer stop()

	a := dialTestClient(t, addr)
	b := dialTestClient(t, addr)
	c := dialTestClient(t, addr)
	ctxA := a.context(t, true)
	ctxB := b.context(t, true)
	ctxC := c.context(t, false)

	a.send(lockproto.Acquire, ctxA, "k")
	if f, ok := a.await(t, time.Second); !ok || f.Command() != lockproto.Acquire {
		t.Fatalf("A ACQUIRE: %+v ok=%v", f, ok)
	}
	b.send(lockproto.Acquire, ctxB, "k")
	if f, ok := b.await(t, time.Second); !ok || f.Command() != lockproto.Acquire {
		t.Fatalf("B ACQUIRE: %+v ok=%v", f, ok)
	}

	c.send(lockproto.Acquire, ctxC, "k")
	if f, ok := c.await(t, 150*time.Millisecond); ok {
		t.Fatalf("C ACQUIRE should still be blocked, got %+v", f)
	}

	a.send(lockproto.Close, ctxA)
	if f, ok := a.await(t, time.Second); !ok || f.Command() != lockproto.Close {
		t.Fatalf("A CLOSE reply: %+v ok=%v", f, ok)
	}
	if f, ok := c.await(t, 150*time.Millisecond); ok {
		t.Fatalf("C ACQUIRE should still be blocked behind B, got %+v", f)
	}

	b.send(lockproto.Close, ctxB)
	if f, ok := b.await(t, time.Second); !ok || f.Command() != lockproto.Close {
		t.Fatalf("B CLOSE reply: %+v ok=%v", f, ok)
	}

	if f, ok := c.await(t, time.Second); !ok || f.Command() != lockproto.Acquire {
		t.Fatalf("C ACQUIRE after both shared holders release: %+v ok=%v", f, ok)
	}
}

func TestCloseCancelsWaiterWithoutResponse(t *testing.T) {
	addr, _, stop := startTestServer(t)
	defer stop()

	holder := dialTestClient(t, addr)
	waiter := dialTestClient(t, addr)
	next := dialTestClient(t, addr)

	holderCtx := holder.context(t, false)
	waiterCtx := waiter.context(t, false)
	nextCtx := next.context(t, false)

	holder.send(lockproto.Acquire, holderCtx, "k")
	if f, ok := holder.await(t, time.Second); !ok || f.Command() != lockproto.Acquire {
		t.Fatalf("holder ACQUIRE: %+v ok=%v", f, ok)
	}

	waiter.send(lockproto.Acquire, waiterCtx, "k")
	time.Sleep(50 * time.Millisecond) // let it enqueue behind holder

	waiter.send(lockproto.Close, waiterCtx)
	if f, ok := waiter.await(t, time.Second); !ok || f.Command() != lockproto.Close {
		t.Fatalf("waiter CLOSE reply: %+v ok=%v", f, ok)
	}
	// The cancelled ACQUIRE must never reply.
	if f, ok := waiter.await(t, 150*time.Millisecond); ok {
		t.Fatalf("cancelled waiter got a response: %+v", f)
	}

	next.send(lockproto.Acquire, nextCtx, "k")
	time.Sleep(50 * time.Millisecond)

	holder.send(lockproto.Close, holderCtx)
	if f, ok := holder.await(t, time.Second); !ok || f.Command() != lockproto.Close {
		t.Fatalf("holder CLOSE reply: %+v ok=%v", f, ok)
	}
	if f, ok := next.await(t, time.Second); !ok || f.Command() != lockproto.Acquire {
		t.Fatalf("next waiter ACQUIRE was delayed by the cancelled one: %+v ok=%v", f, ok)
	}
}

func TestDisconnectReleasesHeldKeys(t *testing.T) {
	addr, srv, stop := startTestServer(t)
	defer stop()

	holder := dialTestClient(t, addr)
	ctxID := holder.context(t, false)
	holder.send(lockproto.Acquire, ctxID, "k1", "k2", "k3")
	if f, ok := holder.await(t, time.Second); !ok || f.Command() != lockproto.Acquire {
		t.Fatalf("holder ACQUIRE: %+v ok=%v", f, ok)
	}

	stats := srv.Stats()
	want := Stats{HeldKeys: 3, WaiterCount: 0, ConnectedClients: 1}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Fatalf("Stats() mismatch (-want +got):\n%s", diff)
	}

	holder.nc.Close()

	waiter := dialTestClient(t, addr)
	wctxID := waiter.context(t, false)
	waiter.send(lockproto.Acquire, wctxID, "k1", "k2", "k3")
	if f, ok := waiter.await(t, time.Second); !ok || f.Command() != lockproto.Acquire {
		t.Fatalf("keys not released after disconnect: %+v ok=%v", f, ok)
	}
}

func TestIdleExpiryShutsDownWhenNoClients(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := NewServer(zerolog.Nop(), 200*time.Millisecond)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background(), ln) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not shut down after idle timeout")
	}
}

func TestStopCommandShutsDownDaemon(t *testing.T) {
	addr, _, stop := startTestServer(t)
	defer stop()
	c := dialTestClient(t, addr)
	c.send(lockproto.Stop)
	if f, ok := c.await(t, time.Second); !ok || f.Command() != lockproto.Stop {
		t.Fatalf("STOP reply: %+v ok=%v", f, ok)
	}
}

func TestMalformedFrameClosesOnlyThatConnection(t *testing.T) {
	addr, _, stop := startTestServer(t)
	defer stop()

	bad, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	// requestId=1, argc absurdly large -> rejected by ReadFrame's sanity bound.
	bad.Write([]byte{0, 0, 0, 1, 0xFF, 0xFF, 0xFF, 0xFF})
	buf := make([]byte, 1)
	bad.SetReadDeadline(time.Now().Add(time.Second))
	if n, err := bad.Read(buf); err == nil && n > 0 {
		t.Fatalf("expected connection to be closed, got data")
	}

	good := dialTestClient(t, addr)
	ctxID := good.context(t, true)
	good.send(lockproto.Acquire, ctxID, "k")
	if f, ok := good.await(t, time.Second); !ok || f.Command() != lockproto.Acquire {
		t.Fatalf("other connection affected by malformed frame: %+v ok=%v", f, ok)
	}
}
