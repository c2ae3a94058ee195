package search

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/fhird/fhird/internal/fhir"
)

// addChain resolves a chained predicate by searching the referenced type(s)
// first, then restricting the primary search to resources whose reference
// values point at one of the matched ids. An unqualified chain through a
// multi-target parameter searches every declared target and unions the id
// sets; targets that lack the chained parameter are skipped. Each
// sub-search is capped at SubSearchLimit.
func (e *Engine) addChain(ctx context.Context, b *builder, resourceType string, spec ChainSpec) error {
	subCtx, cancel := context.WithTimeout(ctx, e.opts.SubOpTimeout)
	defer cancel()

	// Rest may itself be chained; ParseQuery inside SearchIDs recurses.
	vals := url.Values{spec.Rest: {spec.Value}}

	var variants []string
	searched := false
	var parseErr error
	for _, target := range spec.Targets {
		ids, err := e.SearchIDs(subCtx, target, vals, e.opts.SubSearchLimit)
		if err != nil {
			// A target without the chained parameter is not a match set,
			// but the chain itself is only malformed when no target has it.
			if errors.Is(err, fhir.ErrBadRequest) {
				if parseErr == nil {
					parseErr = err
				}
				continue
			}
			return fmt.Errorf("chain %s.%s: %w", spec.Def.Name, spec.Rest, err)
		}
		searched = true
		if len(ids) == e.opts.SubSearchLimit {
			e.log.Warn().
				Str("param", spec.Def.Name).
				Str("target", target).
				Int("limit", e.opts.SubSearchLimit).
				Msg("chained sub-search hit its cap, results may be partial")
		}
		for _, id := range ids {
			variants = append(variants, idReferenceVariants(target, id)...)
		}
	}
	if !searched && parseErr != nil {
		return fmt.Errorf("chain %s.%s: %w", spec.Def.Name, spec.Rest, parseErr)
	}
	if len(variants) == 0 {
		b.where("FALSE")
		return nil
	}
	b.where("EXISTS (SELECT 1 FROM search_index si WHERE si.resource_id = r.id AND si.param_name = " +
		b.arg(spec.Def.Name) + " AND si.value_reference = ANY(" + b.arg(variants) + "))")
	return nil
}

// addHas resolves a reverse chain: search the referencing type, collect the
// ids its reference field points at, and restrict the primary search to
// that id set. Multiple _has predicates intersect because each adds its own
// AND clause.
func (e *Engine) addHas(ctx context.Context, b *builder, spec HasSpec) error {
	refDef, ok := ParamDefFor(spec.RefType, spec.RefField)
	if !ok || refDef.Type != TypeReference {
		return fhir.BadRequestf("_has field %q is not a reference on %s", spec.RefField, spec.RefType)
	}

	subCtx, cancel := context.WithTimeout(ctx, e.opts.SubOpTimeout)
	defer cancel()

	inner := newBuilder()
	inner.where("r.resource_type = "+inner.arg(spec.RefType), "NOT r.deleted")
	subQ, err := ParseQuery(spec.RefType, url.Values{spec.Param: {spec.Value}},
		Limits{DefaultCount: e.opts.SubSearchLimit, MaxCount: e.opts.SubSearchLimit})
	if err != nil {
		return fmt.Errorf("_has %s:%s:%s: %w", spec.RefType, spec.RefField, spec.Param, err)
	}
	for _, pred := range subQ.Predicates {
		if err := e.addPredicate(subCtx, inner, spec.RefType, pred); err != nil {
			return err
		}
	}

	sql := "SELECT si.value_reference FROM search_index si WHERE si.param_name = " + inner.arg(spec.RefField) +
		" AND si.value_reference IS NOT NULL AND si.resource_id IN " +
		"(SELECT r.id FROM resource r WHERE " + inner.clause() + " ORDER BY r.id LIMIT " + inner.arg(e.opts.SubSearchLimit) + ")"

	rows, err := e.conn(subCtx).Query(subCtx, sql, inner.args...)
	if err != nil {
		return fmt.Errorf("_has sub-search %s: %w", spec.RefType, err)
	}
	defer rows.Close()

	idSet := map[string]struct{}{}
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return err
		}
		if id := ReferenceID(ref); id != "" {
			idSet[id] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if len(idSet) == 0 {
		b.where("FALSE")
		return nil
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	b.where("r.fhir_id = ANY(" + b.arg(ids) + ")")
	return nil
}

// ReferenceID extracts the bare id from any stored reference encoding:
// Type/id, urn:uuid:id, a full URL, or the id itself.
func ReferenceID(ref string) string {
	if rest, ok := strings.CutPrefix(ref, "urn:uuid:"); ok {
		return rest
	}
	if slash := strings.LastIndexByte(ref, '/'); slash >= 0 {
		return ref[slash+1:]
	}
	return ref
}

// ReferenceType extracts the type from a Type/id reference, or "" when the
// encoding does not carry one.
func ReferenceType(ref string) string {
	if strings.HasPrefix(ref, "urn:uuid:") {
		return ""
	}
	parts := strings.Split(ref, "/")
	if len(parts) >= 2 {
		t := parts[len(parts)-2]
		if Supported(t) {
			return t
		}
	}
	return ""
}
