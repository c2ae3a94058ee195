// Package pagination parses and clamps _count/_offset paging values.
package pagination

import (
	"net/url"
	"strconv"
)

// Page is a validated count/offset pair.
type Page struct {
	Count  int
	Offset int
}

// Parse reads _count and _offset, falling back to def and clamping to max.
// Invalid or negative values fall back rather than erroring, matching how
// paging is treated everywhere else: a hint, not a contract.
func Parse(values url.Values, def, max int) Page {
	p := Page{Count: def}
	if v := values.Get("_count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Count = n
		}
	}
	if p.Count > max {
		p.Count = max
	}
	if v := values.Get("_offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Offset = n
		}
	}
	return p
}

// Bounds returns the slice bounds of this page over a list of n items.
func (p Page) Bounds(n int) (lo, hi int) {
	lo = p.Offset
	if lo > n {
		lo = n
	}
	hi = lo + p.Count
	if hi > n {
		hi = n
	}
	return lo, hi
}
