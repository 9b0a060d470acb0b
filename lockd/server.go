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
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"deps.dev/util/artifact/lockproto"
)

const idleCheckInterval = 50 * time.Millisecond

// Server is the lock daemon's core: a key-to-Lock map and the accept
// loop and idle timer that drive it. The zero Server is not usable;
// construct one with NewServer.
type Server struct {
	log         zerolog.Logger
	idleTimeout time.Duration

	mu    sync.Mutex
	keys  map[string]*Lock
	conns map[*conn]struct{}

	connected atomic.Int32
	lastUsed  atomic.Int64

	cancel atomic.Value // func()
}

// NewServer returns a Server that will shut itself down after
// idleTimeout with no connected clients, logging through log.
func NewServer(log zerolog.Logger, idleTimeout time.Duration) *Server {
	s := &Server{
		log:         log,
		idleTimeout: idleTimeout,
		keys:        make(map[string]*Lock),
		conns:       make(map[*conn]struct{}),
	}
	s.lastUsed.Store(time.Now().UnixNano())
	return s
}

// NewServerFromConfig builds a Server from cfg, filling any zero-valued
// field from DefaultConfig, and raises base to Debug level when
// cfg.Debug is set so the per-frame logging in conn.go is emitted.
func NewServerFromConfig(base zerolog.Logger, cfg Config) *Server {
	def := DefaultConfig()
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.Family == "" {
		cfg.Family = def.Family
	}
	if cfg.Debug && base.GetLevel() > zerolog.DebugLevel {
		base = base.Level(zerolog.DebugLevel)
	}
	return NewServer(base, cfg.IdleTimeout)
}

func (s *Server) touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

func (s *Server) lockFor(key string) *Lock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.keys[key]
	if !ok {
		l = newLock()
		s.keys[key] = l
	}
	return l
}

func (s *Server) addConn(c *conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeConn(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.connected.Add(-1)
	s.touch()
}

func (s *Server) closeContext(lc *lockContext) {
	lc.abandonTrackers()
	for _, key := range lc.ownedKeys() {
		lock := s.lockFor(key)
		lock.cancel(lc.id)
		lock.release(lc.id)
	}
}

// initiateShutdown triggers the same teardown as idle expiry: it is
// invoked by a STOP command. An OS signal reaches Serve instead through
// cancellation of the ctx its caller passed in.
func (s *Server) initiateShutdown() {
	if c, ok := s.cancel.Load().(func()); ok && c != nil {
		c()
	}
}

// Serve runs the accept loop and idle timer on ln until ctx is
// cancelled, STOP is received, or the idle timer fires, then closes
// every connection and returns. A nil error means graceful shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancel.Store(cancel)
	s.touch()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		ln.Close()
		s.closeAllConns()
		return nil
	})

	g.Go(func() error {
		for {
			nc, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return err
			}
			s.connected.Add(1)
			s.touch()
			c := newConn(s, nc)
			s.addConn(c)
			go c.serve(gctx)
		}
	})

	g.Go(func() error {
		return s.idleLoop(gctx, cancel)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}

func (s *Server) idleLoop(ctx context.Context, cancel context.CancelFunc) error {
	ticker := time.NewTicker(idleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.connected.Load() != 0 {
				continue
			}
			last := time.Unix(0, s.lastUsed.Load())
			if time.Since(last) >= s.idleTimeout {
				s.log.Info().Dur("idleTimeout", s.idleTimeout).Msg("lock daemon idle, shutting down")
				cancel()
				return nil
			}
		}
	}
}

func (s *Server) closeAllConns() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.nc.Close()
	}
}

// Stats is an in-process introspection snapshot for tests; it is not
// part of the wire protocol.
type Stats struct {
	HeldKeys         int
	WaiterCount      int
	ConnectedClients int
}

// Stats reports the daemon's current key/waiter/connection counts.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	locks := make([]*Lock, 0, len(s.keys))
	for _, l := range s.keys {
		locks = append(locks, l)
	}
	s.mu.Unlock()

	var stats Stats
	for _, l := range locks {
		holders, waiters := l.snapshot()
		if holders > 0 {
			stats.HeldKeys++
		}
		stats.WaiterCount += waiters
	}
	stats.ConnectedClients = int(s.connected.Load())
	return stats
}

// Handshake completes the auto-spawn protocol of section 6: it dials
// rendezvousAddr over family, then writes nonce followed by
// listenAddr as two length-prefixed strings, letting the spawning
// client learn where this daemon actually listens.
func Handshake(family, rendezvousAddr, nonce, listenAddr string) error {
	nc, err := net.Dial(Network(family), rendezvousAddr)
	if err != nil {
		return err
	}
	defer nc.Close()
	if err := lockproto.WriteLPString(nc, nonce); err != nil {
		return err
	}
	return lockproto.WriteLPString(nc, listenAddr)
}
