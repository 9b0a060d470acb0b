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
Package version implements a total order over arbitrary build-artifact
version strings, in the style of Maven's generic version scheme.

Every string is accepted; there is no parse failure for a Version, only
for a Range (see range.go). A version is tokenized into a sequence of
Items tagged MIN, QUALIFIER, STRING, INT, BIGINT or MAX, and two
versions are compared item by item with padding rules that make
"1", "1.0", "1-ga" and "1-release" equal, and pre-release qualifiers
such as "alpha" sort below a plain release while "sp" sorts above one.

The comparator never mutates its inputs and holds no state of its own,
so it is safe for unrestricted concurrent use.
*/
package version

import (
	"math/big"
	"strconv"
	"strings"
)

// Kind tags the variant an Item holds. Kinds are ordered MIN < QUALIFIER
// < STRING < INT < BIGINT < MAX; this ordinal is consulted whenever two
// Items of different Kind are compared.
type Kind int

const (
	Min Kind = iota
	Qualifier
	String
	Int
	BigInt
	Max
)

// qualifierWeights holds the known pre-release/release qualifier weights.
// Unknown non-numeric tokens fall back to Kind String and sort by their
// text instead of one of these weights.
var qualifierWeights = map[string]int{
	"alpha":     -5,
	"beta":      -4,
	"milestone": -3,
	"cr":        -2,
	"rc":        -2,
	"snapshot":  -1,
	"":          0,
	"ga":        0,
	"final":     0,
	"release":   0,
	"sp":        1,
}

// Item is one tagged element of a parsed Version. The zero Item is not
// meaningful on its own; Items are only produced by Parse.
type Item struct {
	kind            Kind
	qualifierWeight int      // valid when kind == Qualifier
	str             string   // valid when kind == String or Qualifier (lower-cased)
	intVal          int64    // valid when kind == Int
	big             *big.Int // valid when kind == BigInt
}

func isNumericKind(k Kind) bool { return k == Int || k == BigInt }
func isSentinelKind(k Kind) bool { return k == Min || k == Max }

// compareToNull compares an Item against the conceptual zero/padding
// element, per the rules of section 4.A.3: MIN sorts below padding; MAX,
// BIGINT and STRING sort above it; INT and QUALIFIER sort by the sign of
// their stored integer.
func (it Item) compareToNull() int {
	switch it.kind {
	case Min:
		return -1
	case Max, BigInt, String:
		return 1
	case Int:
		return signInt64(it.intVal)
	case Qualifier:
		return signInt(it.qualifierWeight)
	}
	return 0
}

// isZero reports whether it compares equal to padding, i.e. is eligible
// to be trimmed as a trailing element (section 3, invariant iv). Only
// Int(0) and a zero-weight Qualifier (ga/final/release/"") are ever
// equal to padding; every other kind compares non-zero by construction.
func (it Item) isZero() bool {
	switch it.kind {
	case Int:
		return it.intVal == 0
	case Qualifier:
		return it.qualifierWeight == 0
	}
	return false
}

func signInt64(v int64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func signInt(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// compareItemsDirect implements section 4.A.4: items of different Kind
// compare by Kind ordinal; items of the same Kind compare by value,
// numerically for Int/BigInt/Qualifier and by (already lower-cased)
// Unicode order for String. MIN and MAX only ever compare equal to
// themselves here since they are unique sentinels.
func compareItemsDirect(a, b Item) int {
	if a.kind != b.kind {
		return signInt(int(a.kind) - int(b.kind))
	}
	switch a.kind {
	case Int:
		return signInt64(a.intVal - b.intVal)
	case BigInt:
		return a.big.Cmp(b.big)
	case Qualifier:
		return signInt(a.qualifierWeight - b.qualifierWeight)
	case String:
		return strings.Compare(a.str, b.str)
	default: // Min, Max
		return 0
	}
}

// Version is an ordered sequence of Items paired with the original input
// string. The zero Version represents "0".
type Version struct {
	raw   string
	items []Item
}

// Parse tokenizes s into a Version. Parse never fails: the tokenizer in
// section 4.A.1 accepts any input, mapping the empty string to "0".
func Parse(s string) Version {
	return Version{raw: s, items: parseItems(s)}
}

// AsString returns the original string passed to Parse, byte for byte.
func (v Version) AsString() string {
	return v.raw
}

// String implements fmt.Stringer as AsString, per section 6's
// toString(Version) == asString() contract.
func (v Version) String() string {
	return v.raw
}

// Compare returns -1, 0 or 1 as a sorts before, the same as, or after b,
// implementing the algorithm of section 4.A.5.
func Compare(a, b Version) int {
	ai, bi := a.items, b.items
	i := 0
	number := true // kind-class of the last matched same-kind run; numeric until proven otherwise
	for {
		aEnd := i >= len(ai)
		bEnd := i >= len(bi)
		switch {
		case aEnd && bEnd:
			return 0
		case aEnd:
			return signInt(-paddingCompare(bi, i))
		case bEnd:
			return signInt(paddingCompare(ai, i))
		}

		x, y := ai[i], bi[i]

		// MIN/MAX are absolute sentinels: they always decide by direct
		// kind-ordinal comparison, never by the padding machinery below,
		// because by construction they only ever appear as a version's
		// final item.
		if isSentinelKind(x.kind) || isSentinelKind(y.kind) {
			if c := compareItemsDirect(x, y); c != 0 {
				return signInt(c)
			}
			i++
			continue
		}

		xNum := isNumericKind(x.kind)
		yNum := isNumericKind(y.kind)
		if xNum == yNum {
			if c := compareItemsDirect(x, y); c != 0 {
				return signInt(c)
			}
			number = xNum
			i++
			continue
		}

		// Kind-class transition: one side numeric, the other not.
		if i == 0 {
			return signInt(compareItemsDirect(x, y))
		}
		if xNum == number {
			// a continues the run that was matching, so a pads itself from
			// here: a positive padding result means a sorts after b.
			return signInt(paddingCompare(ai, i))
		}
		return signInt(-paddingCompare(bi, i))
	}
}

// paddingCompare walks items from index i, comparing each against the
// conceptual null/padding element, and returns the first non-zero
// result, or 0 if every remaining item compares equal to padding.
func paddingCompare(items []Item, i int) int {
	for ; i < len(items); i++ {
		if c := items[i].compareToNull(); c != 0 {
			return c
		}
	}
	return 0
}

// Less reports whether a sorts strictly before b.
func Less(a, b Version) bool { return Compare(a, b) < 0 }

// Equal reports whether a and b compare equal.
func Equal(a, b Version) bool { return Compare(a, b) == 0 }

const separators = ".-_"

func isSeparator(c byte) bool { return c == '.' || c == '-' || c == '_' }
func isDigit(c byte) bool     { return c >= '0' && c <= '9' }

type rawToken struct {
	text               string
	digit              bool
	terminatedByNumber bool
}

// scanTokens implements the forward pass of section 4.A.1: runs of
// digits and runs of non-digits, split at separators and at
// digit/non-digit boundaries; empty tokens (from a leading, trailing or
// doubled separator) become "0".
func scanTokens(s string) []rawToken {
	if s == "" {
		s = "0"
	}
	var toks []rawToken
	n := len(s)
	i := 0
	for i < n {
		if isSeparator(s[i]) {
			toks = append(toks, rawToken{text: "0", digit: true})
			i++
			if i == n {
				toks = append(toks, rawToken{text: "0", digit: true})
			}
			continue
		}
		start := i
		digit := isDigit(s[i])
		for i < n && !isSeparator(s[i]) && isDigit(s[i]) == digit {
			i++
		}
		term := !digit && i < n && isDigit(s[i])
		toks = append(toks, rawToken{text: s[start:i], digit: digit, terminatedByNumber: term})
		if i < n && isSeparator(s[i]) {
			i++
			if i == n {
				toks = append(toks, rawToken{text: "0", digit: true})
			}
		}
	}
	if len(toks) == 0 {
		toks = append(toks, rawToken{text: "0", digit: true})
	}
	return toks
}

// parseItems implements section 4.A.2 (item construction) followed by
// the trailing-padding trim of section 3's invariant (iv).
func parseItems(s string) []Item {
	toks := scanTokens(s)
	items := make([]Item, 0, len(toks))
	for idx, t := range toks {
		if t.digit {
			items = append(items, numericItem(t.text))
			continue
		}

		lower := strings.ToLower(t.text)
		if t.terminatedByNumber && len(lower) == 1 {
			switch lower {
			case "a":
				lower = "alpha"
			case "b":
				lower = "beta"
			case "m":
				lower = "milestone"
			}
		}

		if idx == len(toks)-1 {
			switch lower {
			case "min":
				items = append(items, Item{kind: Min})
				continue
			case "max":
				items = append(items, Item{kind: Max})
				continue
			}
		}

		if w, ok := qualifierWeights[lower]; ok {
			items = append(items, Item{kind: Qualifier, qualifierWeight: w, str: lower})
		} else {
			items = append(items, Item{kind: String, str: lower})
		}
	}

	// Trim trailing padding items, but never down to an empty sequence.
	for len(items) > 1 && items[len(items)-1].isZero() {
		items = items[:len(items)-1]
	}
	return items
}

// numericItem builds an Int or BigInt Item from a run of ASCII digits,
// stripping leading zeros first (section 4.A.1/3, invariant iii).
func numericItem(text string) Item {
	trimmed := strings.TrimLeft(text, "0")
	if trimmed == "" {
		trimmed = "0"
	}
	if len(trimmed) <= 9 {
		v, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			// Cannot happen: trimmed is all digits and at most 9 of them.
			panic("version: unreachable: " + err.Error())
		}
		return Item{kind: Int, intVal: v}
	}
	bi := new(big.Int)
	bi.SetString(trimmed, 10)
	return Item{kind: BigInt, big: bi}
}
