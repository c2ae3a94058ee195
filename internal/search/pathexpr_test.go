package search

import (
	"encoding/json"
	"reflect"
	"testing"
)

func decode(t *testing.T, raw string) interface{} {
	t.Helper()
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	return v
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		want    []segment
		wantErr bool
	}{
		{
			name: "plain fields",
			expr: "subject.reference",
			want: []segment{{field: "subject"}, {field: "reference"}},
		},
		{
			name: "explicit expand",
			expr: "name[*].family",
			want: []segment{{field: "name", expand: true}, {field: "family"}},
		},
		{
			name: "filter",
			expr: "telecom[system=phone].value",
			want: []segment{
				{field: "telecom", expand: true, filterKey: "system", filterValue: "phone"},
				{field: "value"},
			},
		},
		{name: "empty", expr: "", wantErr: true},
		{name: "empty segment", expr: "name..family", wantErr: true},
		{name: "unclosed bracket", expr: "name[*", wantErr: true},
		{name: "bare bracket", expr: "[*]", wantErr: true},
		{name: "bad filter", expr: "telecom[=phone]", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePath(tt.expr)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parsePath: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEvalPath(t *testing.T) {
	patient := decode(t, `{
		"resourceType": "Patient",
		"name": [
			{"family": "Kim", "given": ["Ana", "B"]},
			{"family": "Lee"}
		],
		"telecom": [
			{"system": "phone", "value": "555-1234"},
			{"system": "email", "value": "ana@example.com"}
		],
		"managingOrganization": {"reference": "Organization/o1"}
	}`)

	tests := []struct {
		name string
		expr string
		want []string
	}{
		{name: "expand then field", expr: "name[*].family", want: []string{"Kim", "Lee"}},
		{name: "nested string array", expr: "name[*].given[*]", want: []string{"Ana", "B"}},
		{name: "implicit expansion", expr: "name.family", want: []string{"Kim", "Lee"}},
		{name: "filter keeps matching element", expr: "telecom[system=phone].value", want: []string{"555-1234"}},
		{name: "single object", expr: "managingOrganization.reference", want: []string{"Organization/o1"}},
		{name: "missing field", expr: "birthDate", want: []string{}},
		{name: "missing nested", expr: "name[*].prefix", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segs, err := parsePath(tt.expr)
			if err != nil {
				t.Fatalf("parsePath: %v", err)
			}
			got := evalPathStrings(patient, segs)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvalPathObjects(t *testing.T) {
	obs := decode(t, `{
		"component": [
			{"code": {"coding": [{"code": "8480-6"}]}, "valueQuantity": {"value": 120}},
			{"code": {"coding": [{"code": "8462-4"}]}, "valueQuantity": {"value": 80}}
		]
	}`)
	segs, err := parsePath("component[*]")
	if err != nil {
		t.Fatalf("parsePath: %v", err)
	}
	got := evalPath(obs, segs)
	if len(got) != 2 {
		t.Fatalf("expected 2 components, got %d", len(got))
	}
	for i, v := range got {
		if _, ok := v.(map[string]interface{}); !ok {
			t.Errorf("component %d is %T, want object", i, v)
		}
	}
}
