package search

import (
	"errors"
	"net/url"
	"testing"

	"github.com/fhird/fhird/internal/fhir"
)

var testLimits = Limits{DefaultCount: 20, MaxCount: 100}

func parseFor(t *testing.T, resourceType, rawQuery string) *Query {
	t.Helper()
	vals, err := url.ParseQuery(rawQuery)
	if err != nil {
		t.Fatalf("fixture query: %v", err)
	}
	q, err := ParseQuery(resourceType, vals, testLimits)
	if err != nil {
		t.Fatalf("ParseQuery(%q): %v", rawQuery, err)
	}
	return q
}

func TestParseQueryPlainParam(t *testing.T) {
	q := parseFor(t, "Patient", "family=Kim")
	if len(q.Predicates) != 1 {
		t.Fatalf("predicates = %d", len(q.Predicates))
	}
	p := q.Predicates[0]
	if p.Kind != PredParam || p.Def.Name != "family" || p.Modifier != "" {
		t.Errorf("predicate = %+v", p)
	}
	if len(p.Values) != 1 || p.Values[0].Raw != "Kim" || p.Values[0].Prefix != "eq" {
		t.Errorf("values = %+v", p.Values)
	}
}

func TestParseQueryModifiers(t *testing.T) {
	tests := []struct {
		raw      string
		modifier string
	}{
		{"family:exact=Kim", "exact"},
		{"family:contains=im", "contains"},
		{"birthdate:missing=true", "missing"},
		{"code:text=heart", "text"},
	}
	for _, tt := range tests {
		rtype := "Patient"
		if tt.raw[0] == 'c' {
			rtype = "Observation"
		}
		q := parseFor(t, rtype, tt.raw)
		if q.Predicates[0].Modifier != tt.modifier {
			t.Errorf("%s: modifier = %q, want %q", tt.raw, q.Predicates[0].Modifier, tt.modifier)
		}
	}
}

func TestParseQueryMissingRequiresBool(t *testing.T) {
	vals := url.Values{"birthdate:missing": {"maybe"}}
	if _, err := ParseQuery("Patient", vals, testLimits); !errors.Is(err, fhir.ErrBadRequest) {
		t.Fatalf("err = %v, want ErrBadRequest", err)
	}
}

func TestParseQueryPrefixes(t *testing.T) {
	q := parseFor(t, "Patient", "birthdate=ge1990-01-01&birthdate=lt2000-01-01")
	if len(q.Predicates) != 2 {
		t.Fatalf("predicates = %d, want 2 AND'd", len(q.Predicates))
	}
	prefixes := map[string]bool{}
	for _, p := range q.Predicates {
		prefixes[p.Values[0].Prefix] = true
	}
	if !prefixes["ge"] || !prefixes["lt"] {
		t.Errorf("prefixes = %v", prefixes)
	}
}

func TestParseQueryPrefixNotStrippedFromCodes(t *testing.T) {
	q := parseFor(t, "Observation", "status=lens")
	v := q.Predicates[0].Values[0]
	if v.Prefix != "eq" || v.Raw != "lens" {
		t.Errorf("value = %+v, token codes must keep leading letters", v)
	}
}

func TestParseQueryOrAndSplit(t *testing.T) {
	q := parseFor(t, "Observation", "code=8867-4,8480-6&status=final")
	if len(q.Predicates) != 2 {
		t.Fatalf("predicates = %d, want 2", len(q.Predicates))
	}
	for _, p := range q.Predicates {
		if p.Def.Name == "code" && len(p.Values) != 2 {
			t.Errorf("code OR values = %d, want 2", len(p.Values))
		}
	}
}

func TestParseQueryChain(t *testing.T) {
	q := parseFor(t, "Patient", "general-practitioner.name=Smith")
	p := q.Predicates[0]
	if p.Kind != PredChain {
		t.Fatalf("kind = %v, want chain", p.Kind)
	}
	// Unqualified chains keep every declared target; execution unions them.
	want := []string{"Practitioner", "PractitionerRole", "Organization"}
	if len(p.Chain.Targets) != len(want) {
		t.Fatalf("targets = %v, want %v", p.Chain.Targets, want)
	}
	for i, target := range want {
		if p.Chain.Targets[i] != target {
			t.Errorf("targets = %v, want %v", p.Chain.Targets, want)
			break
		}
	}
	if p.Chain.Rest != "name" || p.Chain.Value != "Smith" {
		t.Errorf("chain = %+v", p.Chain)
	}
}

func TestParseQueryChainTypeQualified(t *testing.T) {
	q := parseFor(t, "Patient", "general-practitioner:Organization.name=Clinic")
	p := q.Predicates[0]
	if p.Kind != PredChain || len(p.Chain.Targets) != 1 || p.Chain.Targets[0] != "Organization" {
		t.Fatalf("chain = %+v", p.Chain)
	}
}

func TestParseQueryChainMultiHop(t *testing.T) {
	q := parseFor(t, "Observation", "subject.organization.name=Clinic")
	p := q.Predicates[0]
	if p.Kind != PredChain || p.Chain.Rest != "organization.name" {
		t.Fatalf("chain = %+v", p.Chain)
	}
}

func TestParseQueryChainThroughNonReference(t *testing.T) {
	vals := url.Values{"family.name": {"x"}}
	if _, err := ParseQuery("Patient", vals, testLimits); !errors.Is(err, fhir.ErrBadRequest) {
		t.Fatalf("err = %v, want ErrBadRequest", err)
	}
}

func TestParseQueryHas(t *testing.T) {
	q := parseFor(t, "Patient", "_has:Observation:patient:code=8867-4")
	p := q.Predicates[0]
	if p.Kind != PredHas {
		t.Fatalf("kind = %v", p.Kind)
	}
	want := HasSpec{RefType: "Observation", RefField: "patient", Param: "code", Value: "8867-4"}
	if p.Has != want {
		t.Errorf("has = %+v, want %+v", p.Has, want)
	}
}

func TestParseQueryHasMalformed(t *testing.T) {
	vals := url.Values{"_has:Observation:patient": {"x"}}
	if _, err := ParseQuery("Patient", vals, testLimits); !errors.Is(err, fhir.ErrBadRequest) {
		t.Fatalf("err = %v, want ErrBadRequest", err)
	}
}

func TestParseQueryComposite(t *testing.T) {
	q := parseFor(t, "Observation", "component-code-value-quantity=8480-6$gt100")
	p := q.Predicates[0]
	if p.Kind != PredComposite {
		t.Fatalf("kind = %v", p.Kind)
	}
	if p.Comp.Def.Name != "component-code-value-quantity" {
		t.Errorf("def = %q", p.Comp.Def.Name)
	}
	if len(p.Comp.Values) != 1 || len(p.Comp.Values[0]) != 2 {
		t.Fatalf("values = %+v", p.Comp.Values)
	}
	if p.Comp.Values[0][0] != "8480-6" || p.Comp.Values[0][1] != "gt100" {
		t.Errorf("components = %v", p.Comp.Values[0])
	}
}

func TestParseQueryCompositeWrongArity(t *testing.T) {
	vals := url.Values{"component-code-value-quantity": {"8480-6"}}
	if _, err := ParseQuery("Observation", vals, testLimits); !errors.Is(err, fhir.ErrBadRequest) {
		t.Fatalf("err = %v, want ErrBadRequest", err)
	}
}

func TestParseQueryControls(t *testing.T) {
	q := parseFor(t, "Patient", "_count=10&_offset=30&_sort=-birthdate,family&_summary=count&_elements=name,birthDate")
	c := q.Control
	if c.Count != 10 || c.Offset != 30 {
		t.Errorf("count/offset = %d/%d", c.Count, c.Offset)
	}
	if len(c.Sort) != 2 || !c.Sort[0].Desc || c.Sort[0].Def.Name != "birthdate" || c.Sort[1].Desc {
		t.Errorf("sort = %+v", c.Sort)
	}
	if c.Summary != "count" {
		t.Errorf("summary = %q", c.Summary)
	}
	if len(c.Elements) != 2 {
		t.Errorf("elements = %v", c.Elements)
	}
}

func TestParseQueryCountClamped(t *testing.T) {
	q := parseFor(t, "Patient", "_count=5000")
	if q.Control.Count != testLimits.MaxCount {
		t.Errorf("count = %d, want clamped to %d", q.Control.Count, testLimits.MaxCount)
	}
}

func TestParseQueryIncludes(t *testing.T) {
	q := parseFor(t, "Observation", "_include=Observation:subject&_revinclude:iterate=Provenance:target")
	if len(q.Control.Includes) != 1 || q.Control.Includes[0].Param != "subject" || q.Control.Includes[0].Iterate {
		t.Errorf("includes = %+v", q.Control.Includes)
	}
	if len(q.Control.RevIncludes) != 1 || !q.Control.RevIncludes[0].Iterate {
		t.Errorf("revincludes = %+v", q.Control.RevIncludes)
	}
}

func TestParseQueryIncludeWildcard(t *testing.T) {
	q := parseFor(t, "Encounter", "_include=*")
	if len(q.Control.Includes) != 1 {
		t.Fatalf("includes = %+v", q.Control.Includes)
	}
	inc := q.Control.Includes[0]
	if inc.SourceType != "Encounter" || inc.Param != "*" {
		t.Errorf("wildcard include = %+v", inc)
	}
}

func TestParseQueryIDAndLastUpdated(t *testing.T) {
	q := parseFor(t, "Patient", "_id=a,b&_lastUpdated=ge2024-01-01")
	kinds := map[PredKind]Predicate{}
	for _, p := range q.Predicates {
		kinds[p.Kind] = p
	}
	if len(kinds[PredID].Values) != 2 {
		t.Errorf("_id values = %+v", kinds[PredID].Values)
	}
	if kinds[PredLastUpdated].Values[0].Prefix != "ge" {
		t.Errorf("_lastUpdated = %+v", kinds[PredLastUpdated].Values)
	}
}

func TestParseQueryUnknownParam(t *testing.T) {
	vals := url.Values{"favorite-color": {"blue"}}
	if _, err := ParseQuery("Patient", vals, testLimits); !errors.Is(err, fhir.ErrBadRequest) {
		t.Fatalf("err = %v, want ErrBadRequest", err)
	}
}
