package textdex

import (
	"fmt"
	"strconv"
)

// SortKey is a decoded wire sort key. The wire form discriminates by
// prefix: `#` for numbers, `$` for strings.
type SortKey struct {
	IsNumber bool
	Num      float64
	Str      string
}

// ParseSortKey decodes the prefixed wire encoding.
func ParseSortKey(s string) (SortKey, error) {
	if s == "" {
		return SortKey{}, fmt.Errorf("empty sort key")
	}
	switch s[0] {
	case '#':
		n, err := strconv.ParseFloat(s[1:], 64)
		if err != nil {
			return SortKey{}, fmt.Errorf("bad numeric sort key %q: %w", s, err)
		}
		return SortKey{IsNumber: true, Num: n}, nil
	case '$':
		return SortKey{Str: s[1:]}, nil
	default:
		return SortKey{}, fmt.Errorf("unknown sort key prefix in %q", s)
	}
}
