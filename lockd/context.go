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

import "sync"

// lockContext is the server-side bookkeeping for one client-visible
// CONTEXT: the keys it currently holds, for release on CLOSE or
// disconnect.
type lockContext struct {
	id     string
	shared bool
	conn   *conn

	mu       sync.Mutex
	keys     map[string]struct{}
	trackers []*grantTracker
}

func newLockContext(id string, shared bool, c *conn) *lockContext {
	return &lockContext{id: id, shared: shared, conn: c, keys: make(map[string]struct{})}
}

// addTracker registers a pending multi-key ACQUIRE's grantTracker so a
// later CLOSE or disconnect can abandon it.
func (c *lockContext) addTracker(g *grantTracker) {
	c.mu.Lock()
	c.trackers = append(c.trackers, g)
	c.mu.Unlock()
}

// abandonTrackers abandons every tracker registered by this context
// and forgets them, silently dropping any ACQUIRE still in flight.
func (c *lockContext) abandonTrackers() {
	c.mu.Lock()
	trackers := c.trackers
	c.trackers = nil
	c.mu.Unlock()
	for _, g := range trackers {
		g.abandon()
	}
}

func (c *lockContext) addKey(key string) {
	c.mu.Lock()
	c.keys[key] = struct{}{}
	c.mu.Unlock()
}

func (c *lockContext) removeKey(key string) {
	c.mu.Lock()
	delete(c.keys, key)
	c.mu.Unlock()
}

// ownedKeys returns a snapshot of the keys this context believes it
// holds or is waiting on, for CLOSE/disconnect teardown.
func (c *lockContext) ownedKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.keys))
	for k := range c.keys {
		keys = append(keys, k)
	}
	return keys
}
