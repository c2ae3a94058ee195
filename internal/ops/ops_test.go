package ops

import (
	"context"
	"errors"
	"testing"

	"github.com/fhird/fhird/internal/fhir"
	"github.com/fhird/fhird/internal/search"
)

func TestCompartmentLinksResolve(t *testing.T) {
	// Every compartment entry must name a real reference parameter on its
	// type, or $everything silently queries nothing.
	for rtype, params := range compartmentLinks {
		if !search.Supported(rtype) {
			t.Errorf("%s: not a mapped resource type", rtype)
			continue
		}
		for _, param := range params {
			def, ok := search.ParamDefFor(rtype, param)
			if !ok {
				t.Errorf("%s: parameter %q not mapped", rtype, param)
				continue
			}
			if def.Type != search.TypeReference {
				t.Errorf("%s: parameter %q is %s, want reference", rtype, param, def.Type)
			}
		}
	}
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Register("$everything", LevelInstance, func(ctx context.Context, req Request) (any, error) {
		called = true
		return nil, nil
	})

	if _, err := r.Dispatch(context.Background(), "$everything", Request{Level: LevelInstance}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !called {
		t.Error("handler not invoked")
	}
}

func TestRegistryRecognizedButUnhandled(t *testing.T) {
	r := NewRegistry()
	_, err := r.Dispatch(context.Background(), "$export", Request{Level: LevelSystem})
	if !errors.Is(err, fhir.ErrNotImplemented) {
		t.Fatalf("err = %v, want ErrNotImplemented", err)
	}
}

func TestRegistryUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Dispatch(context.Background(), "$frobnicate", Request{Level: LevelSystem})
	if !errors.Is(err, fhir.ErrBadRequest) {
		t.Fatalf("err = %v, want ErrBadRequest", err)
	}
}

func TestRegistryWrongLevel(t *testing.T) {
	r := NewRegistry()
	r.Register("$everything", LevelInstance, func(ctx context.Context, req Request) (any, error) {
		return nil, nil
	})
	// Registered at instance level only; a type-level call falls through to
	// the recognized set.
	_, err := r.Dispatch(context.Background(), "$everything", Request{Level: LevelType})
	if !errors.Is(err, fhir.ErrNotImplemented) {
		t.Fatalf("err = %v, want ErrNotImplemented", err)
	}
}

func TestValidatePasses(t *testing.T) {
	out := Validate("Patient", []byte(`{"resourceType":"Patient","id":"p1"}`))
	if out.HasErrors() {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		code string
	}{
		{name: "malformed json", doc: `{"resourceType":`, code: fhir.IssueTypeStructure},
		{name: "missing type", doc: `{"id":"x"}`, code: fhir.IssueTypeRequired},
		{name: "wrong type", doc: `{"resourceType":"Observation"}`, code: fhir.IssueTypeInvalid},
		{name: "bad id", doc: `{"resourceType":"Patient","id":true}`, code: fhir.IssueTypeValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Validate("Patient", []byte(tt.doc))
			if !out.HasErrors() {
				t.Fatal("expected errors")
			}
			found := false
			for _, iss := range out.Issue {
				if iss.Code == tt.code {
					found = true
				}
			}
			if !found {
				t.Errorf("no issue with code %s in %+v", tt.code, out.Issue)
			}
		})
	}
}

func TestParseTypeFilter(t *testing.T) {
	got := parseTypeFilter("Observation,Condition")
	if len(got) != 2 || !got["Observation"] || !got["Condition"] {
		t.Errorf("filter = %v", got)
	}
	if parseTypeFilter("") != nil {
		t.Error("empty filter should be nil")
	}
}

func TestParseSince(t *testing.T) {
	tests := []struct {
		raw     string
		wantErr bool
	}{
		{raw: "2024-06-01T10:30:00Z"},
		{raw: "2024-06-01"},
		{raw: "2024"},
		{raw: "yesterday", wantErr: true},
		{raw: "06/01/2024", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseSince(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseSince(%q) = %v, want error", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseSince(%q): %v", tt.raw, err)
			}
			if got.IsZero() {
				t.Errorf("parseSince(%q) returned zero time", tt.raw)
			}
		})
	}
}
