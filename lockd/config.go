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
Package lockd implements the cross-process lock daemon: a stream
server handing out shared and exclusive named locks, fairly queued and
released on context close or client disconnect.
*/
package lockd

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config holds the daemon's tunables, matching section 6's
// configuration table.
type Config struct {
	// IdleTimeout is the grace period with no connected clients before
	// the daemon shuts itself down.
	IdleTimeout time.Duration
	// Family selects the socket family: "unix" or "inet".
	Family string
	// NoFork carries the noFork setting. NewServerFromConfig does not
	// read it: a Server always runs in the process that calls Serve.
	NoFork bool
	// Debug enables verbose per-frame logging.
	Debug bool
}

// DefaultConfig returns the configuration section 6 specifies as
// defaults.
func DefaultConfig() Config {
	return Config{
		IdleTimeout: 300 * time.Second,
		Family:      "unix",
	}
}

// Network maps the "unix"|"inet" family value of section 6 onto the
// net package's "unix"|"tcp" network names.
func Network(family string) string {
	if family == "inet" {
		return "tcp"
	}
	return "unix"
}

// ParseDuration parses a duration given either as a bare integer number
// of seconds or as an integer followed by "ms", per section 6. No
// library in the pack offers this exact dual-format grammar.
func ParseDuration(s string) (time.Duration, error) {
	if ms, ok := strings.CutSuffix(s, "ms"); ok {
		n, err := strconv.ParseInt(ms, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("lockd: invalid duration %q: %w", s, err)
		}
		return time.Duration(n) * time.Millisecond, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("lockd: invalid duration %q: %w", s, err)
	}
	return time.Duration(n) * time.Second, nil
}
