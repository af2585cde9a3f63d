// Package pagerange turns a page selection policy into concrete zero-based
// page indices for a document with a known page count.
package pagerange

import (
	"fmt"
	"sort"
	"strings"
)

// Mode selects which pages of every source document take part in a merge.
type Mode int

const (
	All Mode = iota
	Odd
	Even
	Custom
)

func (m Mode) String() string {
	switch m {
	case All:
		return "all"
	case Odd:
		return "odd"
	case Even:
		return "even"
	case Custom:
		return "custom"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode maps the user facing names ("all", "odd", "even", "custom") to a Mode.
// An empty string means All.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return All, nil
	case "odd":
		return Odd, nil
	case "even":
		return Even, nil
	case "custom":
		return Custom, nil
	}
	return All, fmt.Errorf("unknown page range %q", s)
}

// Spec is a global selection policy. Expr is only consulted when Mode is Custom.
type Spec struct {
	Mode Mode
	Expr string
}

// Resolve returns the selected page indices in [0, n), ascending and without
// duplicates. It never fails: malformed custom expressions select fewer pages
// (possibly none).
func Resolve(spec Spec, n int) []int {
	if n <= 0 {
		return []int{}
	}
	switch spec.Mode {
	case Odd:
		return stepped(0, n)
	case Even:
		return stepped(1, n)
	case Custom:
		return ParseCustom(spec.Expr, n)
	default:
		return stepped(-1, n)
	}
}

// stepped returns every index when start < 0, otherwise every second index from start.
func stepped(start, n int) []int {
	if start < 0 {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	out := make([]int, 0, n/2+1)
	for i := start; i < n; i += 2 {
		out = append(out, i)
	}
	return out
}

// ParseCustom parses a comma separated list of 1-based page numbers and
// inclusive "a-b" ranges against a document of n pages.
//
// Range bounds are clamped to [1, n]; a bound that is not a number is replaced
// by 1 (start) or n (end). Single page numbers outside [1, n] are dropped.
// The result is sorted and deduplicated, so the order of tokens in expr has no
// effect on merge order.
func ParseCustom(expr string, n int) []int {
	if n <= 0 || strings.TrimSpace(expr) == "" {
		return []int{}
	}
	seen := make(map[int]struct{})
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "-") {
			bounds := strings.Split(part, "-")
			a, ok := leadingInt(bounds[0])
			if !ok {
				a = 1
			}
			b, ok := leadingInt(bounds[1])
			if !ok {
				b = n
			}
			if a < 1 {
				a = 1
			}
			if b > n {
				b = n
			}
			for p := a; p <= b; p++ {
				seen[p-1] = struct{}{}
			}
			continue
		}
		if p, ok := leadingInt(part); ok && p >= 1 && p <= n {
			seen[p-1] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for i := range seen {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// leadingInt reads an optionally signed run of decimal digits at the start of
// s (after trimming spaces) and ignores whatever follows, so "7abc" is 7 and
// "abc" is not a number.
func leadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}
	v, digits := 0, 0
	for ; digits < len(s); digits++ {
		c := s[digits]
		if c < '0' || c > '9' {
			break
		}
		if v > (1<<31)/10 {
			// saturate; page counts never get near this
			v = 1 << 31
			continue
		}
		v = v*10 + int(c-'0')
	}
	if digits == 0 {
		return 0, false
	}
	if neg {
		v = -v
	}
	return v, true
}
