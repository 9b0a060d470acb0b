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

// Package proputil reads and writes the ASCII "key=value" property-file
// format used by the update-check sidecar state (spec section 6): one
// entry per line, '=' separating key and value, '#' introducing a
// comment. It intentionally implements only the subset of the Java
// properties format needed for that sidecar, not escaping or
// multi-line continuations.
package proputil

import (
	"bufio"
	"os"
	"strings"
)

// Properties is an ordered set of key/value pairs. The zero value is an
// empty set ready to use.
type Properties struct {
	keys   []string
	values map[string]string
}

// New returns an empty Properties.
func New() *Properties {
	return &Properties{values: make(map[string]string)}
}

// Get returns the value for key and whether it was present.
func (p *Properties) Get(key string) (string, bool) {
	if p.values == nil {
		return "", false
	}
	v, ok := p.values[key]
	return v, ok
}

// Set stores value under key, appending key to the write order if new.
func (p *Properties) Set(key, value string) {
	if p.values == nil {
		p.values = make(map[string]string)
	}
	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Delete removes key, if present.
func (p *Properties) Delete(key string) {
	if _, ok := p.values[key]; !ok {
		return
	}
	delete(p.values, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
}

// Load parses the property-file contents of r into a fresh Properties.
func Load(r *bufio.Reader) (*Properties, error) {
	p := New()
	for {
		line, err := r.ReadString('\n')
		trimmed := strings.TrimRight(strings.TrimRight(line, "\n"), "\r")
		if t := strings.TrimSpace(trimmed); t != "" && !strings.HasPrefix(t, "#") {
			if idx := strings.IndexByte(trimmed, '='); idx >= 0 {
				key := strings.TrimSpace(trimmed[:idx])
				value := strings.TrimSpace(trimmed[idx+1:])
				p.Set(key, value)
			}
		}
		if err != nil {
			break
		}
	}
	return p, nil
}

// WriteTo serializes p in key=value form, one entry per line, in
// insertion order.
func (p *Properties) WriteTo(w *bufio.Writer) error {
	for _, k := range p.keys {
		if _, err := w.WriteString(k); err != nil {
			return err
		}
		if err := w.WriteByte('='); err != nil {
			return err
		}
		if _, err := w.WriteString(p.values[k]); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}

// LoadFile reads and parses path. A missing file yields an empty,
// non-nil Properties and no error, matching the sidecar's "unreadable
// state means no timestamp available" contract.
func LoadFile(path string) (*Properties, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, err
	}
	defer f.Close()

	unlock, err := lockShared(f)
	if err != nil {
		return New(), nil
	}
	defer unlock()

	return Load(bufio.NewReader(f))
}

// StoreFile writes p to path atomically with respect to concurrent
// readers: it locks the destination exclusively for the duration of the
// write. The lock is scoped to this single call and is always released,
// including when the write fails.
func StoreFile(path string, p *Properties) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	unlock, err := lockExclusive(f)
	if err != nil {
		return err
	}
	defer unlock()

	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	return p.WriteTo(w)
}
