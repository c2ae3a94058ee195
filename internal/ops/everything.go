package ops

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/fhird/fhird/internal/fhir"
	"github.com/fhird/fhird/internal/search"
	"github.com/fhird/fhird/internal/store"
	"github.com/fhird/fhird/pkg/pagination"
)

// compartmentLinks lists, per resource type, the search parameters that tie
// a resource into a patient's compartment. Only types with at least one
// patient-valued reference appear.
var compartmentLinks = map[string][]string{
	"AllergyIntolerance":       {"patient", "recorder"},
	"Appointment":              {"patient"},
	"Basic":                    {"patient", "author"},
	"CarePlan":                 {"patient"},
	"CareTeam":                 {"patient", "participant"},
	"Claim":                    {"patient"},
	"Communication":            {"patient", "sender", "recipient"},
	"Condition":                {"patient", "asserter"},
	"Consent":                  {"patient"},
	"Coverage":                 {"patient", "subscriber", "payor"},
	"DetectedIssue":            {"patient"},
	"DiagnosticReport":         {"patient"},
	"DocumentReference":        {"patient", "author"},
	"Device":                   {"patient"},
	"Encounter":                {"patient"},
	"EpisodeOfCare":            {"patient"},
	"ExplanationOfBenefit":     {"patient"},
	"FamilyMemberHistory":      {"patient"},
	"Goal":                     {"patient"},
	"Group":                    {"member"},
	"ImagingStudy":             {"patient"},
	"Immunization":             {"patient"},
	"List":                     {"patient", "source"},
	"MedicationAdministration": {"patient"},
	"MedicationDispense":       {"patient"},
	"MedicationRequest":        {"patient"},
	"MedicationStatement":      {"patient"},
	"NutritionOrder":           {"patient"},
	"Observation":              {"patient", "performer"},
	"Procedure":                {"patient", "performer"},
	"Provenance":               {"patient"},
	"QuestionnaireResponse":    {"patient", "author"},
	"RelatedPerson":            {"patient"},
	"RiskAssessment":           {"patient"},
	"Schedule":                 {"actor"},
	"ServiceRequest":           {"patient", "performer", "requester"},
	"Specimen":                 {"patient"},
	"SupplyDelivery":           {"patient"},
	"Task":                     {"patient", "owner", "requester"},
}

// transitiveParams are the reference parameters followed once over the
// compartment's contents, pulling in the practitioners, organizations, and
// locations the record mentions.
var transitiveParams = []string{
	"performer", "author", "encounter", "location", "organization",
	"practitioner", "general-practitioner", "recorder", "asserter",
	"requester", "participant", "service-provider", "medication",
	"prescription", "claim", "coverage", "care-team",
}

// Everything assembles a patient's compartment.
type Everything struct {
	store  *store.Store
	engine *search.Engine
	log    zerolog.Logger
	limit  int
}

func NewEverything(st *store.Store, engine *search.Engine, logger zerolog.Logger, subSearchLimit int) *Everything {
	return &Everything{
		store:  st,
		engine: engine,
		log:    logger.With().Str("component", "everything").Logger(),
		limit:  subSearchLimit,
	}
}

// Run fetches the patient plus every compartment resource, then one
// transitive pass over the references those resources carry. Individual
// branch failures are logged and skipped; only a missing patient fails the
// operation.
func (e *Everything) Run(ctx context.Context, patientID, baseURL string, params url.Values) (*fhir.Bundle, error) {
	patient, err := e.store.Read(ctx, "Patient", patientID)
	if err != nil {
		return nil, err
	}

	typeFilter := parseTypeFilter(params.Get("_type"))
	since := params.Get("_since")
	var sinceTS *time.Time
	if since != "" {
		t, err := parseSince(since)
		if err != nil {
			return nil, fhir.BadRequestf("invalid _since %q", since)
		}
		sinceTS = &t
	}
	page := pagination.Parse(params, e.limit, e.limit)

	seen := map[string]struct{}{"Patient/" + patientID: {}}
	collected := []search.Match{{
		ResourceID:  patient.ID,
		Type:        patient.Type,
		FhirID:      patient.FhirID,
		VersionID:   patient.VersionID,
		LastUpdated: patient.LastUpdated,
		Doc:         patient.Doc,
	}}

	types := make([]string, 0, len(compartmentLinks))
	for t := range compartmentLinks {
		types = append(types, t)
	}
	sort.Strings(types)

	for _, rtype := range types {
		if typeFilter != nil && !typeFilter[rtype] {
			continue
		}
		for _, param := range compartmentLinks[rtype] {
			if _, ok := search.ParamDefFor(rtype, param); !ok {
				continue
			}
			vals := url.Values{param: {"Patient/" + patientID}}
			if since != "" {
				vals.Set("_lastUpdated", "ge"+since)
			}
			matches, err := e.branch(ctx, rtype, vals)
			if err != nil {
				e.log.Warn().Err(err).Str("type", rtype).Str("param", param).Msg("compartment branch failed, skipped")
				continue
			}
			for _, m := range matches {
				key := m.Type + "/" + m.FhirID
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				collected = append(collected, m)
			}
		}
	}

	collected = append(collected, e.transitive(ctx, collected, seen, sinceTS)...)

	total := len(collected)
	lo, hi := page.Bounds(total)

	bundle := fhir.NewBundle(fhir.BundleTypeSearchset)
	bundle.SetTotal(total)
	for _, m := range collected[lo:hi] {
		bundle.SearchsetEntry(baseURL, m.Type, m.FhirID, m.Doc, fhir.SearchModeMatch)
	}
	bundle.AddPageLinks(fhir.PageLinks{
		BaseURL: baseURL,
		Path:    "/Patient/" + patientID + "/$everything",
		Query:   params,
		Offset:  page.Offset,
		Count:   page.Count,
		Total:   total,
	})
	return bundle, nil
}

// branch runs one bounded compartment sub-search.
func (e *Everything) branch(ctx context.Context, rtype string, vals url.Values) ([]search.Match, error) {
	q, err := search.ParseQuery(rtype, vals, search.Limits{DefaultCount: e.limit, MaxCount: e.limit})
	if err != nil {
		return nil, err
	}
	q.Control.Count = e.limit
	res, err := e.engine.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	return res.Matches, nil
}

// transitive follows outward references once, so the returned record is
// navigable without further round trips. The _since cutoff applies here
// the same way it does to the direct compartment searches.
func (e *Everything) transitive(ctx context.Context, matches []search.Match, seen map[string]struct{}, since *time.Time) []search.Match {
	refs := map[string]map[string]struct{}{}
	for _, m := range matches {
		for _, param := range transitiveParams {
			def, ok := search.ParamDefFor(m.Type, param)
			if !ok || def.Type != search.TypeReference {
				continue
			}
			for _, ref := range e.referencesOf(ctx, m.ResourceID, param) {
				t := search.ReferenceType(ref)
				if t == "" {
					continue
				}
				if refs[t] == nil {
					refs[t] = map[string]struct{}{}
				}
				refs[t][search.ReferenceID(ref)] = struct{}{}
			}
		}
	}

	var out []search.Match
	types := make([]string, 0, len(refs))
	for t := range refs {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		for id := range refs[t] {
			key := t + "/" + id
			if _, dup := seen[key]; dup {
				continue
			}
			res, err := e.store.Read(ctx, t, id)
			if err != nil {
				continue
			}
			if since != nil && res.LastUpdated.Before(*since) {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, search.Match{
				ResourceID:  res.ID,
				Type:        res.Type,
				FhirID:      res.FhirID,
				VersionID:   res.VersionID,
				LastUpdated: res.LastUpdated,
				Doc:         res.Doc,
			})
		}
	}
	return out
}

func (e *Everything) referencesOf(ctx context.Context, resourceID int64, param string) []string {
	refs, err := e.engine.ReferencesOf(ctx, resourceID, param)
	if err != nil {
		e.log.Warn().Err(err).Int64("resource", resourceID).Str("param", param).Msg("reference scan failed, skipped")
		return nil
	}
	return refs
}

// parseSince accepts the instant and partial-date forms _since allows,
// matching what the per-type searches accept for _lastUpdated.
func parseSince(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02", "2006-01", "2006"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable instant %q", raw)
}

func parseTypeFilter(raw string) map[string]bool {
	if raw == "" {
		return nil
	}
	out := map[string]bool{}
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if t := raw[start:i]; t != "" {
				out[t] = true
			}
			start = i + 1
		}
	}
	return out
}

// Register wires the patient-level $everything into a registry.
func (e *Everything) Register(r *Registry) {
	r.Register("$everything", LevelInstance, func(ctx context.Context, req Request) (any, error) {
		if req.ResourceType != "Patient" {
			return nil, fhir.BadRequestf("$everything is only supported on Patient")
		}
		ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		return e.Run(ctx, req.ID, req.BaseURL, req.Params)
	})
}
