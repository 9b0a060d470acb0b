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
	"net"
	"sync"
	"sync/atomic"

	"deps.dev/util/artifact/lockproto"
)

// Conn is one client connection to a lock daemon. Many contexts may
// share a Conn; requests are multiplexed by requestId, and a single
// reader goroutine demultiplexes responses to their callers.
type Conn struct {
	nc      net.Conn
	writeMu sync.Mutex
	nextID  atomic.Uint32

	mu       sync.Mutex
	pending  map[uint32]chan lockproto.Frame
	closed   chan struct{}
	closeErr error
}

// Dial opens a connection to a lock daemon already listening at addr
// over network (e.g. "unix" or "tcp").
func Dial(network, addr string) (*Conn, error) {
	nc, err := net.Dial(network, addr)
	if err != nil {
		return nil, ErrUnavailable
	}
	return newConn(nc), nil
}

func newConn(nc net.Conn) *Conn {
	c := &Conn{
		nc:      nc,
		pending: make(map[uint32]chan lockproto.Frame),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	for {
		f, err := lockproto.ReadFrame(c.nc)
		if err != nil {
			c.teardown(err)
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[f.RequestID]
		if ok {
			delete(c.pending, f.RequestID)
		}
		c.mu.Unlock()
		if ok {
			ch <- f
		}
	}
}

func (c *Conn) teardown(err error) {
	c.mu.Lock()
	if c.closeErr == nil {
		c.closeErr = err
	}
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
}

// Close closes the underlying connection. Pending calls receive
// ErrUnavailable.
func (c *Conn) Close() error {
	err := c.nc.Close()
	c.teardown(err)
	return err
}

// call sends a request frame built from args and blocks for its
// response. It returns ErrUnavailable if the connection closes before
// a response arrives.
func (c *Conn) call(args ...string) (lockproto.Frame, error) {
	id := c.nextID.Add(1)
	ch := make(chan lockproto.Frame, 1)

	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return lockproto.Frame{}, ErrUnavailable
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.write(id, args); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return lockproto.Frame{}, ErrUnavailable
	}

	f, ok := <-ch
	if !ok {
		return lockproto.Frame{}, ErrUnavailable
	}
	return f, nil
}

func (c *Conn) write(id uint32, args []string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return lockproto.WriteFrame(c.nc, lockproto.Frame{RequestID: id, Args: args})
}

// forget cancels interest in a still-pending call's response, used
// when a caller's context is cancelled before the daemon replies.
func (c *Conn) forget(id uint32) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// NewContext opens a shared or exclusive context on this connection.
func (c *Conn) NewContext(shared bool) (*Context, error) {
	sharedStr := "false"
	if shared {
		sharedStr = "true"
	}
	f, err := c.call(lockproto.Context, sharedStr)
	if err != nil {
		return nil, err
	}
	if f.Command() != lockproto.Context || len(f.Args) != 2 {
		return nil, ErrProtocol
	}
	return &Context{conn: c, id: f.Args[1], shared: shared}, nil
}

// Stop asks the daemon to shut down after replying.
func (c *Conn) Stop() error {
	f, err := c.call(lockproto.Stop)
	if err != nil {
		return err
	}
	if f.Command() != lockproto.Stop {
		return ErrProtocol
	}
	return nil
}
