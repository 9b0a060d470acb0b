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

package version

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// ErrInvalidRange is returned by ParseRange for any input that does not
// match the single-interval grammar of section 4.A.6: a bracketed
// interval "[1,2)", a singleton "[1]", or a wildcard "[1.2.*]".
// Comma-separated unions of more than one interval are explicitly
// rejected, not an extension of the grammar.
var ErrInvalidRange = errors.New("version: invalid range")

// Range is a single version interval: lower and upper bounds, each
// either inclusive, exclusive, or unbounded (nil). The zero Range has
// no bounds and contains every version; construct one with ParseRange.
type Range struct {
	lower     *Version
	lowerIncl bool
	upper     *Version
	upperIncl bool
}

// ParseRange parses s under the grammar:
//
//	range    := interval
//	interval := bounded | singleton | wildcard
//	bounded  := ( "[" | "(" ) version? "," version? ( "]" | ")" )
//	singleton:= "[" version "]"
//	wildcard := "[" version ".*" "]"
//
// Only one interval is accepted; "[1,2),[3,4)"-style unions are
// rejected with ErrInvalidRange, per spec.md's explicit decision to
// keep the core range language single-interval only. Whitespace
// anywhere in s is also rejected.
func ParseRange(s string) (Range, error) {
	if s == "" || strings.ContainsAny(s, " \t\n\r") {
		return Range{}, fmt.Errorf("version: parse range %q: %w", s, ErrInvalidRange)
	}
	if len(s) < 2 {
		return Range{}, fmt.Errorf("version: parse range %q: %w", s, ErrInvalidRange)
	}

	open := s[0]
	closeCh := s[len(s)-1]
	var lowerIncl, upperIncl bool
	switch open {
	case '[':
		lowerIncl = true
	case '(':
		lowerIncl = false
	default:
		return Range{}, fmt.Errorf("version: parse range %q: missing open bracket: %w", s, ErrInvalidRange)
	}
	switch closeCh {
	case ']':
		upperIncl = true
	case ')':
		upperIncl = false
	default:
		return Range{}, fmt.Errorf("version: parse range %q: missing close bracket: %w", s, ErrInvalidRange)
	}

	inner := s[1 : len(s)-1]
	switch strings.Count(inner, ",") {
	case 0:
		if open != '[' || closeCh != ']' {
			return Range{}, fmt.Errorf("version: parse range %q: singleton/wildcard requires square brackets: %w", s, ErrInvalidRange)
		}
		if inner == "" {
			return Range{}, fmt.Errorf("version: parse range %q: empty singleton: %w", s, ErrInvalidRange)
		}
		if base, ok := strings.CutSuffix(inner, ".*"); ok {
			return wildcardRange(s, base)
		}
		v := Parse(inner)
		return Range{lower: &v, lowerIncl: true, upper: &v, upperIncl: true}, nil

	case 1:
		parts := strings.SplitN(inner, ",", 2)
		r := Range{lowerIncl: lowerIncl, upperIncl: upperIncl}
		if parts[0] != "" {
			v := Parse(parts[0])
			r.lower = &v
		}
		if parts[1] != "" {
			v := Parse(parts[1])
			r.upper = &v
		}
		return r, nil

	default:
		return Range{}, fmt.Errorf("version: parse range %q: multiple comma-separated intervals not supported: %w", s, ErrInvalidRange)
	}
}

// wildcardRange builds the Range for a "[X.*]" wildcard: the lower
// bound is X itself, padded with a MIN sentinel so that pre-releases of
// X (e.g. "1.2-alpha-1") are included; the upper bound is X with its
// last significant numeric component incremented, padded the same way,
// exclusive, so the next family's own pre-releases are excluded too.
func wildcardRange(raw, base string) (Range, error) {
	v := Parse(base)
	j := -1
	for k := len(v.items) - 1; k >= 0; k-- {
		if isNumericKind(v.items[k].kind) {
			j = k
			break
		}
	}
	if j < 0 {
		return Range{}, fmt.Errorf("version: parse range %q: wildcard base has no numeric component: %w", raw, ErrInvalidRange)
	}

	parts := make([]string, j+1)
	for k := 0; k <= j; k++ {
		it := v.items[k]
		if k == j {
			parts[k] = incrementedDigits(it)
		} else {
			parts[k] = digitsOf(it)
		}
	}

	lower := Parse(base + "-min")
	upper := Parse(strings.Join(parts, ".") + "-min")
	return Range{lower: &lower, lowerIncl: true, upper: &upper, upperIncl: false}, nil
}

func digitsOf(it Item) string {
	if it.kind == BigInt {
		return it.big.String()
	}
	return strconv.FormatInt(it.intVal, 10)
}

func incrementedDigits(it Item) string {
	if it.kind == BigInt {
		n := new(big.Int).Add(it.big, big.NewInt(1))
		return n.String()
	}
	return strconv.FormatInt(it.intVal+1, 10)
}

// Contains reports whether v falls within r, honoring each bound's
// inclusivity and treating a nil bound as unbounded in that direction.
func (r Range) Contains(v Version) bool {
	if r.lower != nil {
		c := Compare(v, *r.lower)
		if c < 0 || (c == 0 && !r.lowerIncl) {
			return false
		}
	}
	if r.upper != nil {
		c := Compare(v, *r.upper)
		if c > 0 || (c == 0 && !r.upperIncl) {
			return false
		}
	}
	return true
}

// Equal reports whether r and other describe the same set of versions:
// equal bounds (by Compare, not by source text) with matching
// inclusivity.
func (r Range) Equal(other Range) bool {
	return boundsEqual(r.lower, r.lowerIncl, other.lower, other.lowerIncl) &&
		boundsEqual(r.upper, r.upperIncl, other.upper, other.upperIncl)
}

func boundsEqual(a *Version, aIncl bool, b *Version, bIncl bool) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return aIncl == bIncl && Compare(*a, *b) == 0
}

// String renders r as a bracketed interval. The result always parses
// back (via ParseRange) to a Range that is Equal to r, though not
// necessarily identical source text: a singleton or wildcard Range
// round-trips through its expanded two-bound form ("[1.0]" renders as
// "[1.0,1.0]", "[1.2.*]" as "[1.2-min,1.3-min)") rather than its
// original literal syntax.
func (r Range) String() string {
	var b strings.Builder
	if r.lowerIncl {
		b.WriteByte('[')
	} else {
		b.WriteByte('(')
	}
	if r.lower != nil {
		b.WriteString(r.lower.AsString())
	}
	b.WriteByte(',')
	if r.upper != nil {
		b.WriteString(r.upper.AsString())
	}
	if r.upperIncl {
		b.WriteByte(']')
	} else {
		b.WriteByte(')')
	}
	return b.String()
}
