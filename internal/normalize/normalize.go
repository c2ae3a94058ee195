// Package normalize applies a declared set of payload repairs before a
// resource is stored. Bulk-export pipelines emit JSON with known drift
// (numeric ids, R5 medication[x] shape, explicit nulls); each rule here is
// pure and covers exactly one of those cases.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/buger/jsonparser"
)

// Apply runs every normalization rule over a raw resource document and
// returns the repaired document. The input slice is never mutated.
func Apply(resourceType string, doc []byte) ([]byte, error) {
	out, err := stringifyID(doc)
	if err != nil {
		return nil, err
	}
	switch resourceType {
	case "MedicationRequest", "MedicationAdministration", "MedicationDispense", "MedicationStatement":
		out, err = liftMedication(out)
		if err != nil {
			return nil, err
		}
	}
	return stripNulls(out)
}

// stringifyID rewrites a numeric top-level id as a JSON string. Ids are
// opaque tokens everywhere else in the server.
func stringifyID(doc []byte) ([]byte, error) {
	v, vt, _, err := jsonparser.Get(doc, "id")
	if err == jsonparser.KeyPathNotFoundError {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("probe id: %w", err)
	}
	if vt != jsonparser.Number {
		return doc, nil
	}
	quoted := append([]byte{'"'}, v...)
	quoted = append(quoted, '"')
	out := append([]byte(nil), doc...)
	return jsonparser.Set(out, quoted, "id")
}

// liftMedication converts the R5 choice-type shape
// {"medication":{"concept":...}} or {"medication":{"reference":...}} into
// the R4 fields medicationCodeableConcept / medicationReference.
func liftMedication(doc []byte) ([]byte, error) {
	med, vt, _, err := jsonparser.Get(doc, "medication")
	if err == jsonparser.KeyPathNotFoundError || vt != jsonparser.Object {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("probe medication: %w", err)
	}

	out := append([]byte(nil), doc...)
	if concept, cvt, _, cerr := jsonparser.Get(med, "concept"); cerr == nil && cvt == jsonparser.Object {
		if out, err = jsonparser.Set(out, concept, "medicationCodeableConcept"); err != nil {
			return nil, err
		}
		out = jsonparser.Delete(out, "medication")
		return out, nil
	}
	if _, rvt, _, rerr := jsonparser.Get(med, "reference"); rerr == nil && rvt == jsonparser.String {
		if out, err = jsonparser.Set(out, med, "medicationReference"); err != nil {
			return nil, err
		}
		out = jsonparser.Delete(out, "medication")
		return out, nil
	}
	return doc, nil
}

// stripNulls removes explicit JSON nulls everywhere in the document. A null
// field and an absent field mean the same thing to search and storage, and
// keeping them out of JSONB keeps :missing semantics single-valued.
func stripNulls(doc []byte) ([]byte, error) {
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("parse resource: %w", err)
	}
	cleaned := pruneNulls(v)
	out, err := json.Marshal(cleaned)
	if err != nil {
		return nil, fmt.Errorf("render resource: %w", err)
	}
	return out, nil
}

func pruneNulls(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			if child == nil {
				delete(t, k)
				continue
			}
			t[k] = pruneNulls(child)
		}
		return t
	case []interface{}:
		kept := t[:0]
		for _, child := range t {
			if child == nil {
				continue
			}
			kept = append(kept, pruneNulls(child))
		}
		return kept
	default:
		return v
	}
}
