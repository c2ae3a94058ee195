package ops

import (
	"context"
	"encoding/json"

	"github.com/buger/jsonparser"

	"github.com/fhird/fhird/internal/fhir"
	"github.com/fhird/fhird/internal/normalize"
)

// RegisterValidate wires the type-level $validate. The checks are
// structural: well-formed JSON, a resourceType matching the endpoint, a
// string id when present, and a payload the normalization pass accepts.
// Profile validation is out of scope.
func RegisterValidate(r *Registry) {
	r.Register("$validate", LevelType, func(ctx context.Context, req Request) (any, error) {
		return Validate(req.ResourceType, req.Body), nil
	})
}

// Validate runs the structural checks and reports them as an
// OperationOutcome. A failing validation is still a 200; the outcome body
// carries the verdict.
func Validate(resourceType string, doc []byte) *fhir.OperationOutcome {
	var issues []fhir.OperationOutcomeIssue
	addErr := func(code, diag string) {
		issues = append(issues, fhir.OperationOutcomeIssue{
			Severity:    fhir.IssueSeverityError,
			Code:        code,
			Diagnostics: diag,
		})
	}

	if !json.Valid(doc) {
		addErr(fhir.IssueTypeStructure, "resource is not valid JSON")
		return fhir.MultipleIssuesOutcome(issues)
	}

	docType, err := jsonparser.GetString(doc, "resourceType")
	switch {
	case err != nil:
		addErr(fhir.IssueTypeRequired, "resourceType is missing")
	case docType != resourceType:
		addErr(fhir.IssueTypeInvalid, "resourceType "+docType+" does not match endpoint "+resourceType)
	}

	if _, vt, _, err := jsonparser.Get(doc, "id"); err == nil && vt != jsonparser.String && vt != jsonparser.Number {
		addErr(fhir.IssueTypeValue, "id must be a string")
	}

	if len(issues) == 0 {
		if _, err := normalize.Apply(resourceType, doc); err != nil {
			addErr(fhir.IssueTypeProcessing, err.Error())
		}
	}

	if len(issues) == 0 {
		return fhir.SuccessOutcome("validation passed")
	}
	return fhir.MultipleIssuesOutcome(issues)
}
