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
	"strconv"
	"sync"
	"sync/atomic"

	"deps.dev/util/artifact/lockproto"
)

// conn is one accepted client connection: a serial frame reader that
// dispatches command handling onto its own goroutine, with writes
// serialized under outMu (section 4.C.5 invariant 2).
type conn struct {
	server *Server
	nc     net.Conn

	outMu  sync.Mutex
	closed atomic.Bool

	mu            sync.Mutex
	contexts      map[string]*lockContext
	nextContextID uint64
}

func newConn(s *Server, nc net.Conn) *conn {
	return &conn{server: s, nc: nc, contexts: make(map[string]*lockContext)}
}

func (c *conn) serve(ctx context.Context) {
	defer c.cleanup()
	go func() {
		<-ctx.Done()
		c.nc.Close()
	}()
	for {
		frame, err := lockproto.ReadFrame(c.nc)
		if err != nil {
			return
		}
		c.server.touch()
		go c.dispatch(frame)
	}
}

func (c *conn) cleanup() {
	c.closed.Store(true)
	c.mu.Lock()
	owned := make([]*lockContext, 0, len(c.contexts))
	for _, lc := range c.contexts {
		owned = append(owned, lc)
	}
	c.contexts = map[string]*lockContext{}
	c.mu.Unlock()

	for _, lc := range owned {
		c.server.closeContext(lc)
	}
	c.nc.Close()
	c.server.removeConn(c)
}

func (c *conn) reply(requestID uint32, args ...string) {
	if c.closed.Load() {
		return
	}
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if err := lockproto.WriteFrame(c.nc, lockproto.Frame{RequestID: requestID, Args: args}); err != nil {
		c.server.log.Debug().Err(err).Msg("failed to write lock daemon response, closing connection")
		c.nc.Close()
	}
	c.server.touch()
}

func (c *conn) protocolError(msg string) {
	c.server.log.Warn().Str("reason", msg).Msg("malformed lock daemon request, closing connection")
	c.nc.Close()
}

func (c *conn) newContextID() string {
	c.mu.Lock()
	c.nextContextID++
	id := c.nextContextID
	c.mu.Unlock()
	return strconv.FormatUint(id, 36)
}

func (c *conn) addContext(lc *lockContext) {
	c.mu.Lock()
	c.contexts[lc.id] = lc
	c.mu.Unlock()
}

func (c *conn) lookupContext(id string) *lockContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contexts[id]
}

func (c *conn) removeContext(id string) {
	c.mu.Lock()
	delete(c.contexts, id)
	c.mu.Unlock()
}

func (c *conn) dispatch(f lockproto.Frame) {
	c.server.log.Debug().Uint32("requestId", f.RequestID).Strs("args", f.Args).Msg("received lock daemon frame")
	switch f.Command() {
	case lockproto.Context:
		c.handleContext(f)
	case lockproto.Acquire:
		c.handleAcquire(f)
	case lockproto.Close:
		c.handleClose(f)
	case lockproto.Stop:
		c.handleStop(f)
	default:
		c.protocolError("unknown command " + f.Command())
	}
}

func (c *conn) handleContext(f lockproto.Frame) {
	if len(f.Args) != 2 || (f.Args[1] != "true" && f.Args[1] != "false") {
		c.protocolError("malformed CONTEXT request")
		return
	}
	shared := f.Args[1] == "true"
	lc := newLockContext(c.newContextID(), shared, c)
	c.addContext(lc)
	c.server.log.Debug().Str("contextId", lc.id).Bool("shared", shared).Msg("opened lock context")
	c.reply(f.RequestID, lockproto.Context, lc.id)
}

func (c *conn) handleAcquire(f lockproto.Frame) {
	if len(f.Args) < 2 {
		c.protocolError("malformed ACQUIRE request")
		return
	}
	ctxID := f.Args[1]
	keys := f.Args[2:]
	lc := c.lookupContext(ctxID)
	if lc == nil {
		c.protocolError("ACQUIRE on unknown context " + ctxID)
		return
	}
	c.server.log.Debug().Str("contextId", ctxID).Strs("keys", keys).Msg("acquiring keys")

	if len(keys) == 0 {
		c.reply(f.RequestID, lockproto.Acquire)
		return
	}

	g := newGrantTracker(len(keys))
	lc.addTracker(g)
	locks := make([]*Lock, len(keys))
	for i, key := range keys {
		lock := c.server.lockFor(key)
		locks[i] = lock
		lc.addKey(key)
		lock.enqueue(lc.id, lc.shared, g)
	}
	for _, lock := range locks {
		lock.advance()
	}

	go func() {
		select {
		case <-g.done:
			c.server.log.Debug().Str("contextId", ctxID).Strs("keys", keys).Msg("keys granted")
			c.reply(f.RequestID, lockproto.Acquire)
		case <-g.abandoned:
			c.server.log.Debug().Str("contextId", ctxID).Strs("keys", keys).Msg("acquire abandoned, dropping response")
		}
	}()
}

func (c *conn) handleClose(f lockproto.Frame) {
	if len(f.Args) != 2 {
		c.protocolError("malformed CLOSE request")
		return
	}
	ctxID := f.Args[1]
	lc := c.lookupContext(ctxID)
	if lc == nil {
		c.protocolError("CLOSE on unknown context " + ctxID)
		return
	}
	c.removeContext(ctxID)
	c.server.closeContext(lc)
	c.server.log.Debug().Str("contextId", ctxID).Msg("closed lock context")
	c.reply(f.RequestID, lockproto.Close)
}

func (c *conn) handleStop(f lockproto.Frame) {
	if len(f.Args) != 1 {
		c.protocolError("malformed STOP request")
		return
	}
	c.reply(f.RequestID, lockproto.Stop)
	c.server.initiateShutdown()
}
