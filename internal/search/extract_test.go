package search

import (
	"testing"

	"github.com/shopspring/decimal"
)

func rowsFor(rows []IndexRow, name string) []IndexRow {
	var out []IndexRow
	for _, r := range rows {
		if r.ParamName == name {
			out = append(out, r)
		}
	}
	return out
}

func TestExtractPatient(t *testing.T) {
	doc := []byte(`{
		"resourceType": "Patient",
		"id": "p1",
		"name": [{"family": "Kim", "given": ["Ana", "B"]}],
		"gender": "female",
		"birthDate": "1990-05-12",
		"telecom": [
			{"system": "phone", "value": "555-1234"},
			{"system": "email", "value": "ana@example.com"}
		],
		"managingOrganization": {"reference": "Organization/o1"},
		"identifier": [{"system": "http://hospital.example/mrn", "value": "MRN-7"}]
	}`)
	rows, err := Extract("Patient", doc)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	family := rowsFor(rows, "family")
	if len(family) != 1 || family[0].String == nil || *family[0].String != "Kim" {
		t.Errorf("family rows = %+v", family)
	}
	name := rowsFor(rows, "name")
	if len(name) != 3 {
		t.Errorf("name rows = %d, want 3 (family + 2 given)", len(name))
	}
	gender := rowsFor(rows, "gender")
	if len(gender) != 1 || gender[0].TokenCode == nil || *gender[0].TokenCode != "female" {
		t.Errorf("gender rows = %+v", gender)
	}
	bd := rowsFor(rows, "birthdate")
	if len(bd) != 1 || bd[0].Date == nil || bd[0].Date.Format("2006-01-02") != "1990-05-12" {
		t.Errorf("birthdate rows = %+v", bd)
	}
	phone := rowsFor(rows, "phone")
	if len(phone) != 1 || *phone[0].TokenCode != "555-1234" {
		t.Errorf("phone rows = %+v", phone)
	}
	org := rowsFor(rows, "organization")
	if len(org) != 1 || org[0].Reference == nil || *org[0].Reference != "Organization/o1" {
		t.Errorf("organization rows = %+v", org)
	}
	ident := rowsFor(rows, "identifier")
	if len(ident) != 1 || *ident[0].TokenCode != "MRN-7" || *ident[0].TokenSystem != "http://hospital.example/mrn" {
		t.Errorf("identifier rows = %+v", ident)
	}
}

func TestExtractObservationCodeableConcept(t *testing.T) {
	doc := []byte(`{
		"resourceType": "Observation",
		"status": "final",
		"code": {
			"coding": [{"system": "http://loinc.org", "code": "8867-4", "display": "Heart rate"}],
			"text": "Heart rate"
		},
		"subject": {"reference": "urn:uuid:3f1c"},
		"valueQuantity": {"value": 72.5, "unit": "beats/minute", "system": "http://unitsofmeasure.org", "code": "/min"}
	}`)
	rows, err := Extract("Observation", doc)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	code := rowsFor(rows, "code")
	var tokens, texts int
	for _, r := range code {
		if r.TokenCode != nil {
			tokens++
			if *r.TokenCode != "8867-4" || r.TokenSystem == nil || *r.TokenSystem != "http://loinc.org" {
				t.Errorf("code token = %+v", r)
			}
		}
		if r.String != nil {
			texts++
			if *r.String != "Heart rate" {
				t.Errorf("code text = %q", *r.String)
			}
		}
	}
	if tokens != 1 || texts != 1 {
		t.Errorf("code rows: %d tokens, %d texts, want 1 each", tokens, texts)
	}

	vq := rowsFor(rows, "value-quantity")
	if len(vq) != 1 {
		t.Fatalf("value-quantity rows = %d", len(vq))
	}
	if !vq[0].Number.Equal(decimal.RequireFromString("72.5")) {
		t.Errorf("value = %s, want 72.5", vq[0].Number)
	}
	if vq[0].TokenCode == nil || *vq[0].TokenCode != "/min" {
		t.Errorf("unit code = %+v", vq[0].TokenCode)
	}

	subj := rowsFor(rows, "subject")
	if len(subj) != 1 || *subj[0].Reference != "urn:uuid:3f1c" {
		t.Errorf("subject rows = %+v", subj)
	}
}

func TestExtractCompositeGroups(t *testing.T) {
	doc := []byte(`{
		"resourceType": "Observation",
		"status": "final",
		"code": {"coding": [{"system": "http://loinc.org", "code": "85354-9"}]},
		"component": [
			{
				"code": {"coding": [{"system": "http://loinc.org", "code": "8480-6"}]},
				"valueQuantity": {"value": 120, "code": "mm[Hg]"}
			},
			{
				"code": {"coding": [{"system": "http://loinc.org", "code": "8462-4"}]},
				"valueQuantity": {"value": 80, "code": "mm[Hg]"}
			}
		]
	}`)
	rows, err := Extract("Observation", doc)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	codes := rowsFor(rows, "component-code-value-quantity$code")
	values := rowsFor(rows, "component-code-value-quantity$value")
	if len(codes) != 2 || len(values) != 2 {
		t.Fatalf("composite rows: %d codes, %d values, want 2 each", len(codes), len(values))
	}

	// Each component's code and value must share a group id, and the two
	// components must not share one.
	groupByCode := map[string]int{}
	for _, r := range codes {
		groupByCode[*r.TokenCode] = r.GroupID
	}
	if groupByCode["8480-6"] == groupByCode["8462-4"] {
		t.Error("distinct components share a group id")
	}
	for _, v := range values {
		var want string
		if v.Number.Equal(decimal.NewFromInt(120)) {
			want = "8480-6"
		} else {
			want = "8462-4"
		}
		if v.GroupID != groupByCode[want] {
			t.Errorf("value %s in group %d, want group of code %s (%d)", v.Number, v.GroupID, want, groupByCode[want])
		}
	}
}

func TestExtractUnmappedType(t *testing.T) {
	rows, err := Extract("Binary", []byte(`{"resourceType":"Binary"}`))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("unmapped type produced %d rows", len(rows))
	}
}

func TestExtractMalformed(t *testing.T) {
	if _, err := Extract("Patient", []byte(`{"name":`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestParseDatePrecisions(t *testing.T) {
	tests := []struct {
		in   string
		ok   bool
		want string
	}{
		{"2020", true, "2020-01-01T00:00:00Z"},
		{"2020-03", true, "2020-03-01T00:00:00Z"},
		{"2020-03-15", true, "2020-03-15T00:00:00Z"},
		{"2020-03-15T10:30:00Z", true, "2020-03-15T10:30:00Z"},
		{"2020-03-15T10:30:00+02:00", true, "2020-03-15T08:30:00Z"},
		{"not-a-date", false, ""},
	}
	for _, tt := range tests {
		got, ok := parseDate(tt.in)
		if ok != tt.ok {
			t.Errorf("parseDate(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && got.Format("2006-01-02T15:04:05Z07:00") != tt.want {
			t.Errorf("parseDate(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
