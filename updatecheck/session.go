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

package updatecheck

import "sync"

// SessionMode controls how Session's dedup map participates in Check,
// per section 4.B.2 rule 1.
type SessionMode int

const (
	// ModeEnabled is the normal mode: a touched key short-circuits
	// later calls within the same session.
	ModeEnabled SessionMode = iota
	// ModeDisabled ignores the dedup map for both reads and writes;
	// every call is evaluated fresh.
	ModeDisabled
	// ModeBypass ignores the dedup map for reads but still records
	// the outcome, so a later call in ModeEnabled would see it.
	ModeBypass
)

// ParseSessionMode accepts "enabled", "disabled" and "bypass", plus the
// legacy boolean spellings "true" (-> enabled) and "false" (->
// disabled) that some older callers still pass. Anything else defaults
// to ModeEnabled.
func ParseSessionMode(s string) SessionMode {
	switch s {
	case "enabled", "true":
		return ModeEnabled
	case "disabled", "false":
		return ModeDisabled
	case "bypass":
		return ModeBypass
	default:
		return ModeEnabled
	}
}

// DedupKey identifies one update-check decision within a session:
// repository, normalized URL, the item being checked, and a kind tag
// distinguishing artifact checks from metadata checks sharing the same
// URL.
type DedupKey struct {
	RepositoryID string
	URL          string
	ItemIdentity string
	Kind         string
}

type dedupEntry struct {
	class ErrorClass
	err   error
}

// Session holds per-build-session dedup state for the update-check
// engine. The zero Session is not usable; construct one with
// NewSession. A Session is safe for concurrent use.
type Session struct {
	mode SessionMode

	mu      sync.Mutex
	touched map[DedupKey]dedupEntry
}

// NewSession returns a Session operating in the given mode.
func NewSession(mode SessionMode) *Session {
	return &Session{mode: mode, touched: make(map[DedupKey]dedupEntry)}
}

// lookup returns the recorded outcome for key, and whether one exists
// and should be honored under the session's mode.
func (s *Session) lookup(key DedupKey) (dedupEntry, bool) {
	if s.mode != ModeEnabled {
		return dedupEntry{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.touched[key]
	return e, ok
}

// record stores the outcome for key, unless the session is in
// ModeDisabled, in which case every call is meant to stay fresh and
// nothing is ever recorded.
func (s *Session) record(key DedupKey, class ErrorClass, err error) {
	if s.mode == ModeDisabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched[key] = dedupEntry{class: class, err: err}
}
