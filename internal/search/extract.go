package search

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// IndexRow is one row destined for the search_index table. Nil pointers
// become SQL NULLs. GroupID correlates composite component rows extracted
// from the same element instance; plain rows carry group 0.
type IndexRow struct {
	ParamName   string
	ParamType   ParamType
	GroupID     int
	String      *string
	Number      *decimal.Decimal
	Date        *time.Time
	TokenSystem *string
	TokenCode   *string
	Reference   *string
}

// Extract pulls every indexed search value out of a resource document. An
// unmapped resource type yields no rows, which makes it unsearchable rather
// than an error.
func Extract(resourceType string, doc []byte) ([]IndexRow, error) {
	def, ok := typeDefs[resourceType]
	if !ok {
		return nil, nil
	}

	var root interface{}
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("decode %s: %w", resourceType, err)
	}

	var rows []IndexRow
	for _, pd := range def.Params {
		for _, path := range pd.Paths {
			segs, err := parsePath(path)
			if err != nil {
				return nil, err
			}
			for _, val := range evalPath(root, segs) {
				rows = append(rows, valueRows(pd.Name, pd.Type, 0, val)...)
			}
		}
	}

	group := 0
	for _, cd := range def.Composites {
		instances := []interface{}{root}
		if cd.Root != "" {
			segs, err := parsePath(cd.Root)
			if err != nil {
				return nil, err
			}
			instances = evalPath(root, segs)
		}
		for _, inst := range instances {
			group++
			for _, comp := range cd.Components {
				segs, err := parsePath(comp.Path)
				if err != nil {
					return nil, err
				}
				name := cd.Name + "$" + comp.Name
				for _, val := range evalPath(inst, segs) {
					rows = append(rows, valueRows(name, comp.Type, group, val)...)
				}
			}
		}
	}
	return rows, nil
}

func valueRows(name string, pt ParamType, group int, val interface{}) []IndexRow {
	switch pt {
	case TypeString, TypeURI:
		if s, ok := val.(string); ok {
			return []IndexRow{{ParamName: name, ParamType: pt, GroupID: group, String: &s}}
		}
	case TypeToken:
		return tokenRows(name, group, val)
	case TypeDate:
		if s, ok := val.(string); ok {
			if t, ok := parseDate(s); ok {
				return []IndexRow{{ParamName: name, ParamType: pt, GroupID: group, Date: &t}}
			}
		}
	case TypeNumber:
		if d, ok := asDecimal(val); ok {
			return []IndexRow{{ParamName: name, ParamType: pt, GroupID: group, Number: &d}}
		}
	case TypeQuantity:
		return quantityRows(name, group, val)
	case TypeReference:
		if s, ok := val.(string); ok && s != "" {
			return []IndexRow{{ParamName: name, ParamType: pt, GroupID: group, Reference: &s}}
		}
	}
	return nil
}

// tokenRows handles the shapes a token path can land on: CodeableConcept,
// Coding, Identifier, bare code string, or boolean.
func tokenRows(name string, group int, val interface{}) []IndexRow {
	switch t := val.(type) {
	case string:
		return []IndexRow{tokenRow(name, group, "", t)}
	case bool:
		code := "false"
		if t {
			code = "true"
		}
		return []IndexRow{tokenRow(name, group, "", code)}
	case map[string]interface{}:
		if codings, ok := t["coding"].([]interface{}); ok {
			var rows []IndexRow
			for _, c := range codings {
				co, ok := c.(map[string]interface{})
				if !ok {
					continue
				}
				sys, _ := co["system"].(string)
				code, _ := co["code"].(string)
				if code != "" {
					rows = append(rows, tokenRow(name, group, sys, code))
				}
			}
			if text, ok := t["text"].(string); ok && text != "" {
				rows = append(rows, IndexRow{ParamName: name, ParamType: TypeToken, GroupID: group, String: &text})
			}
			return rows
		}
		// Coding or Identifier.
		sys, _ := t["system"].(string)
		if code, ok := t["code"].(string); ok && code != "" {
			return []IndexRow{tokenRow(name, group, sys, code)}
		}
		if value, ok := t["value"].(string); ok && value != "" {
			return []IndexRow{tokenRow(name, group, sys, value)}
		}
	}
	return nil
}

func tokenRow(name string, group int, system, code string) IndexRow {
	row := IndexRow{ParamName: name, ParamType: TypeToken, GroupID: group, TokenCode: &code}
	if system != "" {
		row.TokenSystem = &system
	}
	return row
}

// quantityRows indexes a Quantity's decimal value plus its unit as a token,
// so quantity predicates can constrain both.
func quantityRows(name string, group int, val interface{}) []IndexRow {
	q, ok := val.(map[string]interface{})
	if !ok {
		return nil
	}
	d, ok := asDecimal(q["value"])
	if !ok {
		return nil
	}
	row := IndexRow{ParamName: name, ParamType: TypeQuantity, GroupID: group, Number: &d}
	if sys, ok := q["system"].(string); ok && sys != "" {
		row.TokenSystem = &sys
	}
	if code, ok := q["code"].(string); ok && code != "" {
		row.TokenCode = &code
	} else if unit, ok := q["unit"].(string); ok && unit != "" {
		row.TokenCode = &unit
	}
	return []IndexRow{row}
}

func asDecimal(val interface{}) (decimal.Decimal, bool) {
	switch n := val.(type) {
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(n), true
	case string:
		d, err := decimal.NewFromString(n)
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

// parseDate accepts the partial-precision date forms FHIR allows. A partial
// date indexes as the start of its implied interval.
func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
