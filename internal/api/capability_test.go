package api

import (
	"testing"
	"time"

	"github.com/fhird/fhird/internal/config"
)

func TestCapabilityCacheTTL(t *testing.T) {
	cache := newCapabilityCache(time.Hour)
	builds := 0
	build := func() *CapabilityStatement {
		builds++
		return &CapabilityStatement{ResourceType: "CapabilityStatement"}
	}

	first := cache.get(build)
	second := cache.get(build)
	if builds != 1 {
		t.Errorf("builds = %d, want 1 within TTL", builds)
	}
	if first != second {
		t.Error("cached statement must be reused")
	}

	cache.built = time.Now().Add(-2 * time.Hour)
	cache.get(build)
	if builds != 2 {
		t.Errorf("builds = %d, want rebuild after TTL", builds)
	}
}

func TestBuildCapability(t *testing.T) {
	s := &Server{cfg: &config.Config{BaseURL: "http://localhost:8000/fhir"}}
	stmt := s.buildCapability()

	if stmt.FhirVersion != "4.0.1" {
		t.Errorf("fhirVersion = %s", stmt.FhirVersion)
	}
	if len(stmt.Rest) != 1 || len(stmt.Rest[0].Resource) == 0 {
		t.Fatal("no rest resources advertised")
	}

	var patient *capResource
	for i := range stmt.Rest[0].Resource {
		if stmt.Rest[0].Resource[i].Type == "Patient" {
			patient = &stmt.Rest[0].Resource[i]
		}
	}
	if patient == nil {
		t.Fatal("Patient not advertised")
	}

	names := map[string]bool{}
	for _, p := range patient.SearchParam {
		names[p.Name] = true
	}
	for _, want := range []string{"_id", "_lastUpdated", "name", "birthdate", "general-practitioner"} {
		if !names[want] {
			t.Errorf("Patient searchParam %q missing", want)
		}
	}

	var obs *capResource
	for i := range stmt.Rest[0].Resource {
		if stmt.Rest[0].Resource[i].Type == "Observation" {
			obs = &stmt.Rest[0].Resource[i]
		}
	}
	if obs == nil {
		t.Fatal("Observation not advertised")
	}
	foundComposite := false
	for _, p := range obs.SearchParam {
		if p.Name == "component-code-value-quantity" && p.Type == "composite" {
			foundComposite = true
		}
	}
	if !foundComposite {
		t.Error("composite parameter not advertised")
	}
}
