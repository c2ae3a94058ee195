package search

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/fhird/fhird/internal/fhir"
)

// Comparator prefixes recognized on token, number, date, and quantity
// values.
var knownPrefixes = map[string]bool{
	"eq": true, "ne": true, "gt": true, "lt": true, "ge": true, "le": true,
}

var knownModifiers = map[string]bool{
	"exact": true, "contains": true, "missing": true, "text": true,
}

// CondValue is one OR'd value of a predicate, with its comparator prefix
// already stripped.
type CondValue struct {
	Prefix string
	Raw    string
}

// PredKind discriminates how a predicate is executed.
type PredKind int

const (
	PredParam PredKind = iota
	PredID
	PredLastUpdated
	PredChain
	PredHas
	PredComposite
)

// ChainSpec is a chained reference search, e.g.
// general-practitioner.name=Smith. Rest may itself contain further hops.
// A type qualifier narrows Targets to one type; without it every declared
// target is searched and the id sets union.
type ChainSpec struct {
	Def     ParamDef
	Targets []string
	Rest    string
	Value   string
}

// HasSpec is a reverse chain, e.g. _has:Observation:patient:code=8867-4.
type HasSpec struct {
	RefType  string
	RefField string
	Param    string
	Value    string
}

// CompositeSpec pairs the values of a composite parameter, split on $.
type CompositeSpec struct {
	Def    CompositeDef
	Values [][]string
}

// Predicate is one AND'd condition of a search.
type Predicate struct {
	Kind     PredKind
	Def      ParamDef
	Modifier string
	Values   []CondValue
	Chain    ChainSpec
	Has      HasSpec
	Comp     CompositeSpec
}

// SortField is one _sort key, already resolved against the type's mapping.
type SortField struct {
	Def  ParamDef
	Desc bool
}

// IncludeSpec is one _include or _revinclude directive.
type IncludeSpec struct {
	SourceType string
	Param      string
	TargetType string
	Iterate    bool
}

// Control carries the non-predicate parts of a search request.
type Control struct {
	Count       int
	Offset      int
	Sort        []SortField
	Includes    []IncludeSpec
	RevIncludes []IncludeSpec
	Summary     string
	Elements    []string
}

// Query is a fully parsed search request for one resource type.
type Query struct {
	Type       string
	Predicates []Predicate
	Control    Control
}

// Limits bounds paging. Both values come from configuration.
type Limits struct {
	DefaultCount int
	MaxCount     int
}

// ParseQuery resolves raw query values against the resource type's mapping
// table. Unknown search parameters are rejected; malformed control values
// are rejected.
func ParseQuery(resourceType string, raw url.Values, limits Limits) (*Query, error) {
	q := &Query{
		Type:    resourceType,
		Control: Control{Count: limits.DefaultCount},
	}

	for key, values := range raw {
		for _, value := range values {
			if err := parsePair(q, resourceType, key, value, limits); err != nil {
				return nil, err
			}
		}
	}

	if q.Control.Count < 1 {
		q.Control.Count = limits.DefaultCount
	}
	if q.Control.Count > limits.MaxCount {
		q.Control.Count = limits.MaxCount
	}
	if q.Control.Offset < 0 {
		q.Control.Offset = 0
	}
	return q, nil
}

func parsePair(q *Query, resourceType, key, value string, limits Limits) error {
	switch key {
	case "_count":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fhir.BadRequestf("invalid _count %q", value)
		}
		q.Control.Count = n
		return nil
	case "_offset":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fhir.BadRequestf("invalid _offset %q", value)
		}
		q.Control.Offset = n
		return nil
	case "_sort":
		return parseSort(q, resourceType, value)
	case "_include", "_include:iterate":
		return parseInclude(&q.Control.Includes, resourceType, value, key == "_include:iterate")
	case "_revinclude", "_revinclude:iterate":
		return parseInclude(&q.Control.RevIncludes, resourceType, value, key == "_revinclude:iterate")
	case "_summary":
		q.Control.Summary = value
		return nil
	case "_elements":
		for _, e := range strings.Split(value, ",") {
			if e = strings.TrimSpace(e); e != "" {
				q.Control.Elements = append(q.Control.Elements, e)
			}
		}
		return nil
	case "_id":
		q.Predicates = append(q.Predicates, Predicate{Kind: PredID, Values: orValues(value)})
		return nil
	case "_lastUpdated":
		q.Predicates = append(q.Predicates, Predicate{Kind: PredLastUpdated, Values: orValues(value)})
		return nil
	case "_format", "_pretty", "_total":
		// Accepted and ignored; JSON is the only representation served.
		return nil
	}

	if strings.HasPrefix(key, "_has:") {
		return parseHas(q, key, value)
	}
	if strings.HasPrefix(key, "_") {
		return fhir.BadRequestf("unsupported parameter %q", key)
	}

	base, qualifier, hasQualifier := strings.Cut(key, ":")

	// A qualifier that is not a known modifier names the chain target type,
	// e.g. general-practitioner:Practitioner.name.
	if hasQualifier && !knownModifiers[qualifier] {
		targetType, rest, ok := strings.Cut(qualifier, ".")
		if !ok {
			return fhir.BadRequestf("unknown modifier %q on parameter %q", qualifier, base)
		}
		return parseChain(q, resourceType, base, targetType, rest, value)
	}

	if !hasQualifier {
		if head, rest, chained := strings.Cut(base, "."); chained {
			return parseChain(q, resourceType, head, "", rest, value)
		}
	}

	modifier := ""
	if hasQualifier {
		modifier = qualifier
	}

	if cd, ok := CompositeDefFor(resourceType, base); ok {
		return parseComposite(q, cd, value)
	}

	def, ok := ParamDefFor(resourceType, base)
	if !ok {
		return fhir.BadRequestf("unknown search parameter %q for %s", base, resourceType)
	}
	if modifier == "missing" {
		if value != "true" && value != "false" {
			return fhir.BadRequestf("%s:missing must be true or false", base)
		}
	}
	q.Predicates = append(q.Predicates, Predicate{
		Kind:     PredParam,
		Def:      def,
		Modifier: modifier,
		Values:   orValues(value),
	})
	return nil
}

// orValues splits a comma-separated value list and strips comparator
// prefixes.
func orValues(value string) []CondValue {
	parts := strings.Split(value, ",")
	out := make([]CondValue, 0, len(parts))
	for _, part := range parts {
		out = append(out, splitPrefix(part))
	}
	return out
}

func splitPrefix(v string) CondValue {
	if len(v) > 2 && knownPrefixes[v[:2]] {
		rest := v[2:]
		// Only strip when what follows looks like a number or date, so a
		// token code like "lens" is not mangled.
		if rest != "" && (rest[0] >= '0' && rest[0] <= '9' || rest[0] == '-') {
			return CondValue{Prefix: v[:2], Raw: rest}
		}
	}
	return CondValue{Prefix: "eq", Raw: v}
}

func parseChain(q *Query, resourceType, param, targetType, rest, value string) error {
	def, ok := ParamDefFor(resourceType, param)
	if !ok || def.Type != TypeReference {
		return fhir.BadRequestf("cannot chain through %q on %s", param, resourceType)
	}
	var targets []string
	if targetType != "" {
		if !Supported(targetType) {
			return fhir.BadRequestf("unsupported chain target type %q", targetType)
		}
		targets = []string{targetType}
	} else {
		for _, t := range def.Targets {
			if Supported(t) {
				targets = append(targets, t)
			}
		}
		if len(targets) == 0 {
			return fhir.BadRequestf("chain through %q requires a type qualifier", param)
		}
	}
	q.Predicates = append(q.Predicates, Predicate{
		Kind:  PredChain,
		Chain: ChainSpec{Def: def, Targets: targets, Rest: rest, Value: value},
	})
	return nil
}

func parseHas(q *Query, key, value string) error {
	// _has:Observation:patient:code
	parts := strings.Split(key, ":")
	if len(parts) != 4 || parts[1] == "" || parts[2] == "" || parts[3] == "" {
		return fhir.BadRequestf("malformed _has parameter %q", key)
	}
	if !Supported(parts[1]) {
		return fhir.BadRequestf("unsupported _has type %q", parts[1])
	}
	q.Predicates = append(q.Predicates, Predicate{
		Kind: PredHas,
		Has:  HasSpec{RefType: parts[1], RefField: parts[2], Param: parts[3], Value: value},
	})
	return nil
}

func parseComposite(q *Query, cd CompositeDef, value string) error {
	var pairs [][]string
	for _, or := range strings.Split(value, ",") {
		comps := strings.Split(or, "$")
		if len(comps) != len(cd.Components) {
			return fhir.BadRequestf("composite %q expects %d components", cd.Name, len(cd.Components))
		}
		pairs = append(pairs, comps)
	}
	q.Predicates = append(q.Predicates, Predicate{
		Kind: PredComposite,
		Comp: CompositeSpec{Def: cd, Values: pairs},
	})
	return nil
}

func parseSort(q *Query, resourceType, value string) error {
	for _, field := range strings.Split(value, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		desc := strings.HasPrefix(field, "-")
		name := strings.TrimPrefix(field, "-")
		if name == "_lastUpdated" {
			q.Control.Sort = append(q.Control.Sort, SortField{Def: ParamDef{Name: "_lastUpdated"}, Desc: desc})
			continue
		}
		def, ok := ParamDefFor(resourceType, name)
		if !ok {
			return fhir.BadRequestf("cannot sort %s by %q", resourceType, name)
		}
		q.Control.Sort = append(q.Control.Sort, SortField{Def: def, Desc: desc})
	}
	return nil
}

func parseInclude(dst *[]IncludeSpec, resourceType, value string, iterate bool) error {
	// _include=* follows every reference field of the searched type.
	if value == "*" {
		*dst = append(*dst, IncludeSpec{SourceType: resourceType, Param: "*", Iterate: iterate})
		return nil
	}
	parts := strings.Split(value, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return fhir.BadRequestf("malformed include %q", value)
	}
	spec := IncludeSpec{SourceType: parts[0], Param: parts[1], Iterate: iterate}
	if len(parts) == 3 {
		if parts[2] == "iterate" {
			spec.Iterate = true
		} else {
			spec.TargetType = parts[2]
		}
	}
	*dst = append(*dst, spec)
	return nil
}
