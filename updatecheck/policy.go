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

/*
Package updatecheck decides whether a locally cached artifact or piece
of repository metadata must be re-fetched, given a per-repository
policy string, session-scoped deduplication, and cached error replay.
It never performs I/O to a remote repository itself; it only answers
"is a fetch required" and persists the bookkeeping that makes that
answer sticky across a build session.
*/
package updatecheck

import (
	"strconv"
	"strings"
	"time"
)

// policyKind tags the variant a Policy holds, replacing the source's
// sub-typed filter objects with a small tagged union.
type policyKind int

const (
	kindNever policyKind = iota
	kindAlways
	kindDaily
	kindInterval
)

// Policy is a parsed update-check policy. The zero Policy is kindNever.
type Policy struct {
	kind     policyKind
	interval time.Duration
}

// ParsePolicy parses one of "never", "always", "daily" or
// "interval:N" (N minutes). Any other string, including a malformed
// interval, is treated as "never" per section 4.B.1.
func ParsePolicy(s string) Policy {
	switch {
	case s == "never":
		return Policy{kind: kindNever}
	case s == "always":
		return Policy{kind: kindAlways}
	case s == "daily":
		return Policy{kind: kindDaily}
	case strings.HasPrefix(s, "interval:"):
		n, err := strconv.Atoi(strings.TrimPrefix(s, "interval:"))
		if err != nil || n < 0 {
			return Policy{kind: kindNever}
		}
		return Policy{kind: kindInterval, interval: time.Duration(n) * time.Minute}
	default:
		return Policy{kind: kindNever}
	}
}

// String returns the canonical policy string ParsePolicy would accept
// back, i.e. ParsePolicy(p.String()) reproduces an equivalent Policy.
func (p Policy) String() string {
	switch p.kind {
	case kindAlways:
		return "always"
	case kindDaily:
		return "daily"
	case kindInterval:
		return "interval:" + strconv.FormatInt(int64(p.interval/time.Minute), 10)
	default:
		return "never"
	}
}

// stale reports whether, given lastUpdated was recorded and now is the
// current wall-clock time, a fetch should be triggered by staleness
// alone (independent of any cached-error replay, which is evaluated
// separately by Check).
func (p Policy) stale(lastUpdated, now time.Time) bool {
	switch p.kind {
	case kindAlways:
		return true
	case kindDaily:
		ly, lm, ld := lastUpdated.Local().Date()
		ny, nm, nd := now.Local().Date()
		return ly != ny || lm != nm || ld != nd
	case kindInterval:
		return now.Sub(lastUpdated) >= p.interval
	default: // kindNever
		return false
	}
}
