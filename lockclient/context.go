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
	"sort"

	"deps.dev/util/artifact/lockproto"
)

// Context is a client handle for one CONTEXT opened on the daemon. A
// Context must not be reused after Close.
type Context struct {
	conn   *Conn
	id     string
	shared bool
}

// Acquire blocks until every key is granted to this context, sorting
// keys lexicographically first as section 4.C.3 requires of callers.
//
// The daemon itself never times out a wait (section 4.C.5), so Acquire
// honors ctx.Done() locally: on cancellation it stops waiting, starts a
// best-effort CLOSE of this (now-abandoned) context on a background
// goroutine, and returns ctx.Err() without waiting for that CLOSE to
// complete. This is additive client-side behavior; it does
// not change any daemon-side invariant.
func (lc *Context) Acquire(ctx context.Context, keys ...string) error {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	id := lc.conn.nextID.Add(1)
	ch := make(chan lockproto.Frame, 1)
	lc.conn.mu.Lock()
	if lc.conn.pending == nil {
		lc.conn.mu.Unlock()
		return ErrUnavailable
	}
	lc.conn.pending[id] = ch
	lc.conn.mu.Unlock()

	args := append([]string{lockproto.Acquire, lc.id}, sorted...)
	if err := lc.conn.write(id, args); err != nil {
		lc.conn.forget(id)
		return ErrUnavailable
	}

	select {
	case f, ok := <-ch:
		if !ok {
			return ErrUnavailable
		}
		if f.Command() != lockproto.Acquire {
			return ErrProtocol
		}
		return nil
	case <-ctx.Done():
		lc.conn.forget(id)
		go lc.Close()
		return ctx.Err()
	case <-lc.conn.closed:
		return ErrUnavailable
	}
}

// Close releases every key this context holds or is waiting on.
func (lc *Context) Close() error {
	f, err := lc.conn.call(lockproto.Close, lc.id)
	if err != nil {
		return err
	}
	if f.Command() != lockproto.Close {
		return ErrProtocol
	}
	return nil
}
