package search

import (
	"fmt"
	"strings"
)

// Path expressions address values inside a decoded resource document. The
// grammar is deliberately small:
//
//	name.family              field access, descending through objects
//	name[*].family           expand an array and continue into each element
//	telecom[system=phone]    expand an array, keeping elements whose child
//	                         field equals the literal
//
// A bare field access over an array value implicitly expands it, matching
// how FHIR element cardinality works in practice.

type segment struct {
	field       string
	expand      bool
	filterKey   string
	filterValue string
}

// parsePath compiles a dotted path expression into its segments.
func parsePath(expr string) ([]segment, error) {
	if expr == "" {
		return nil, fmt.Errorf("empty path expression")
	}
	parts := strings.Split(expr, ".")
	segs := make([]segment, 0, len(parts))
	for _, part := range parts {
		seg, err := parseSegment(part)
		if err != nil {
			return nil, fmt.Errorf("path %q: %w", expr, err)
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

func parseSegment(part string) (segment, error) {
	open := strings.IndexByte(part, '[')
	if open < 0 {
		if part == "" {
			return segment{}, fmt.Errorf("empty segment")
		}
		return segment{field: part}, nil
	}
	if !strings.HasSuffix(part, "]") || open == 0 {
		return segment{}, fmt.Errorf("malformed segment %q", part)
	}
	seg := segment{field: part[:open], expand: true}
	inner := part[open+1 : len(part)-1]
	if inner == "*" {
		return seg, nil
	}
	eq := strings.IndexByte(inner, '=')
	if eq <= 0 {
		return segment{}, fmt.Errorf("malformed filter %q", part)
	}
	seg.filterKey = inner[:eq]
	seg.filterValue = inner[eq+1:]
	return seg, nil
}

// evalPath walks a decoded JSON document and returns every value the
// compiled path addresses. Missing fields yield no results, never errors.
func evalPath(doc interface{}, segs []segment) []interface{} {
	current := []interface{}{doc}
	for _, seg := range segs {
		var next []interface{}
		for _, node := range current {
			obj, ok := node.(map[string]interface{})
			if !ok {
				continue
			}
			val, ok := obj[seg.field]
			if !ok {
				continue
			}
			next = append(next, expandValue(val, seg)...)
		}
		if len(next) == 0 {
			return nil
		}
		current = next
	}
	return current
}

func expandValue(val interface{}, seg segment) []interface{} {
	arr, isArr := val.([]interface{})
	if !isArr {
		if seg.filterKey != "" && !filterMatch(val, seg) {
			return nil
		}
		return []interface{}{val}
	}
	out := make([]interface{}, 0, len(arr))
	for _, el := range arr {
		if seg.filterKey != "" && !filterMatch(el, seg) {
			continue
		}
		out = append(out, el)
	}
	return out
}

func filterMatch(node interface{}, seg segment) bool {
	obj, ok := node.(map[string]interface{})
	if !ok {
		return false
	}
	s, ok := obj[seg.filterKey].(string)
	return ok && s == seg.filterValue
}

// evalPathStrings is evalPath restricted to string leaves.
func evalPathStrings(doc interface{}, segs []segment) []string {
	vals := evalPath(doc, segs)
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
