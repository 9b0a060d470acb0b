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

package lockclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"deps.dev/util/artifact/lockd"
)

func startDaemon(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := lockd.NewServer(zerolog.Nop(), 300*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Serve(ctx, ln)
		close(done)
	}()
	return ln.Addr().String(), func() {
		cancel()
		<-done
	}
}

func TestAcquireAndCloseRoundTrip(t *testing.T) {
	addr, stop := startDaemon(t)
	defer stop()

	conn, err := Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	lc, err := conn.NewContext(false)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	if err := lc.Acquire(context.Background(), "b", "a", "c"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := lc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	addr, stop := startDaemon(t)
	defer stop()

	holderConn, err := Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer holderConn.Close()
	holder, err := holderConn.NewContext(false)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	if err := holder.Acquire(context.Background(), "k"); err != nil {
		t.Fatalf("holder Acquire: %v", err)
	}

	waiterConn, err := Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer waiterConn.Close()
	waiter, err := waiterConn.NewContext(false)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := waiter.Acquire(ctx, "k"); err != context.DeadlineExceeded {
		t.Fatalf("Acquire after cancellation = %v, want context.DeadlineExceeded", err)
	}
}
