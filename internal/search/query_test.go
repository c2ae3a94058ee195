package search

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestStringCondition(t *testing.T) {
	tests := []struct {
		name     string
		modifier string
		raw      string
		wantSQL  string
		wantArg  string
	}{
		{name: "default is prefix match", modifier: "", raw: "Kim", wantSQL: "lower(si.value_string) LIKE $1", wantArg: "kim%"},
		{name: "exact keeps case", modifier: "exact", raw: "Kim", wantSQL: "si.value_string = $1", wantArg: "Kim"},
		{name: "contains wraps wildcards", modifier: "contains", raw: "im", wantSQL: "lower(si.value_string) LIKE $1", wantArg: "%im%"},
		{name: "like metacharacters escaped", modifier: "", raw: "50%", wantSQL: "lower(si.value_string) LIKE $1", wantArg: `50\%%`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBuilder()
			got := stringCondition(b, "si.value_string", tt.modifier, tt.raw)
			if got != tt.wantSQL {
				t.Errorf("sql = %q, want %q", got, tt.wantSQL)
			}
			if b.args[0] != tt.wantArg {
				t.Errorf("arg = %q, want %q", b.args[0], tt.wantArg)
			}
		})
	}
}

func TestTokenCondition(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "bare code",
			raw:      "final",
			wantSQL:  "(si.value_token_code = $1)",
			wantArgs: []any{"final"},
		},
		{
			name:     "system and code",
			raw:      "http://loinc.org|8867-4",
			wantSQL:  "(si.value_token_system = $1 AND si.value_token_code = $2)",
			wantArgs: []any{"http://loinc.org", "8867-4"},
		},
		{
			name:     "empty system",
			raw:      "|8867-4",
			wantSQL:  "(si.value_token_system IS NULL AND si.value_token_code = $1)",
			wantArgs: []any{"8867-4"},
		},
		{
			name:     "system only",
			raw:      "http://loinc.org|",
			wantSQL:  "(si.value_token_system = $1)",
			wantArgs: []any{"http://loinc.org"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBuilder()
			got, err := tokenCondition(b, "", CondValue{Prefix: "eq", Raw: tt.raw})
			if err != nil {
				t.Fatalf("tokenCondition: %v", err)
			}
			if got != tt.wantSQL {
				t.Errorf("sql = %q, want %q", got, tt.wantSQL)
			}
			if !reflect.DeepEqual(b.args, tt.wantArgs) {
				t.Errorf("args = %v, want %v", b.args, tt.wantArgs)
			}
		})
	}
}

func TestTokenConditionNegated(t *testing.T) {
	b := newBuilder()
	got, err := tokenCondition(b, "", CondValue{Prefix: "ne", Raw: "final"})
	if err != nil {
		t.Fatalf("tokenCondition: %v", err)
	}
	if !strings.HasPrefix(got, "NOT (") {
		t.Errorf("sql = %q, want negation", got)
	}
}

func TestDateConditionRanges(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		raw    string
		want   string
	}{
		{name: "eq is half open interval", prefix: "eq", raw: "1990", want: "(si.value_date >= $1 AND si.value_date < $2)"},
		{name: "gt is after the interval", prefix: "gt", raw: "1990-05", want: "si.value_date >= $1"},
		{name: "ge is interval start", prefix: "ge", raw: "1990-05-12", want: "si.value_date >= $1"},
		{name: "lt is before the interval", prefix: "lt", raw: "1990", want: "si.value_date < $1"},
		{name: "le is before interval end", prefix: "le", raw: "1990", want: "si.value_date < $1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBuilder()
			got, err := dateCondition(b, "si.value_date", CondValue{Prefix: tt.prefix, Raw: tt.raw})
			if err != nil {
				t.Fatalf("dateCondition: %v", err)
			}
			if got != tt.want {
				t.Errorf("sql = %q, want %q", got, tt.want)
			}
		})
	}

	// gt on a year must compare against the start of the next year.
	b := newBuilder()
	if _, err := dateCondition(b, "si.value_date", CondValue{Prefix: "gt", Raw: "1990"}); err != nil {
		t.Fatal(err)
	}
	if arg, ok := b.args[0].(time.Time); !ok || arg.Year() != 1991 {
		t.Errorf("gt 1990 arg = %v, want 1991-01-01", b.args[0])
	}
}

func TestDateConditionRejectsGarbage(t *testing.T) {
	b := newBuilder()
	if _, err := dateCondition(b, "si.value_date", CondValue{Prefix: "eq", Raw: "yesterday"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestQuantityCondition(t *testing.T) {
	b := newBuilder()
	got, err := quantityCondition(b, CondValue{Prefix: "gt", Raw: "5.4|http://unitsofmeasure.org|mg"})
	if err != nil {
		t.Fatalf("quantityCondition: %v", err)
	}
	want := "(si.value_number > $1 AND si.value_token_system = $2 AND si.value_token_code = $3)"
	if got != want {
		t.Errorf("sql = %q, want %q", got, want)
	}
}

func TestReferenceVariants(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"Patient/p1", []string{"Patient/p1", "p1", "urn:uuid:p1"}},
		{"urn:uuid:p1", []string{"urn:uuid:p1", "p1"}},
		{"p1", []string{"p1", "urn:uuid:p1"}},
	}
	for _, tt := range tests {
		if got := referenceVariants(tt.raw); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("referenceVariants(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestReferenceIDAndType(t *testing.T) {
	if got := ReferenceID("Patient/p1"); got != "p1" {
		t.Errorf("ReferenceID = %q", got)
	}
	if got := ReferenceID("urn:uuid:3f1c"); got != "3f1c" {
		t.Errorf("ReferenceID urn = %q", got)
	}
	if got := ReferenceType("Patient/p1"); got != "Patient" {
		t.Errorf("ReferenceType = %q", got)
	}
	if got := ReferenceType("urn:uuid:3f1c"); got != "" {
		t.Errorf("ReferenceType urn = %q, want empty", got)
	}
}

func TestParseDateRangePrecision(t *testing.T) {
	start, end, ok := parseDateRange("2020-02")
	if !ok {
		t.Fatal("parseDateRange failed")
	}
	if start.Format("2006-01-02") != "2020-02-01" || end.Format("2006-01-02") != "2020-03-01" {
		t.Errorf("range = [%s, %s)", start, end)
	}
}

func TestOrderByStableDefault(t *testing.T) {
	b := newBuilder()
	got, err := b.orderBy(nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != " ORDER BY r.id" {
		t.Errorf("orderBy = %q", got)
	}
}

func TestOrderByParamSort(t *testing.T) {
	b := newBuilder()
	def, _ := ParamDefFor("Patient", "birthdate")
	got, err := b.orderBy([]SortField{{Def: def, Desc: true}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "MIN(si.value_date)") || !strings.Contains(got, "DESC") {
		t.Errorf("orderBy = %q", got)
	}
	if !strings.HasSuffix(got, "r.id") {
		t.Errorf("orderBy %q lacks the r.id tiebreak", got)
	}
}

func TestAddCompositeJoinsOnGroup(t *testing.T) {
	b := newBuilder()
	cd, ok := CompositeDefFor("Observation", "component-code-value-quantity")
	if !ok {
		t.Fatal("composite def missing")
	}
	err := addComposite(b, CompositeSpec{Def: cd, Values: [][]string{{"8480-6", "gt100"}}})
	if err != nil {
		t.Fatalf("addComposite: %v", err)
	}
	clause := b.clause()
	if !strings.Contains(clause, "b.group_id = a.group_id") {
		t.Errorf("clause lacks group correlation: %q", clause)
	}
	// Component row names are bound positionally, not rendered inline.
	found := false
	for _, a := range b.args {
		if a == "component-code-value-quantity$code" {
			found = true
		}
	}
	if !found {
		t.Errorf("args lack component row name: %v", b.args)
	}
}
