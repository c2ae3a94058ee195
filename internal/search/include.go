package search

import (
	"context"
)

// maxIncludeHops bounds :iterate expansion.
const maxIncludeHops = 3

// resolveIncludes gathers _include and _revinclude resources for a page of
// matches. Includes are best effort: a failed branch is logged and skipped,
// never failing the primary search.
func (e *Engine) resolveIncludes(ctx context.Context, q *Query, matches []Match) []Match {
	seen := map[string]struct{}{}
	for _, m := range matches {
		seen[m.Type+"/"+m.FhirID] = struct{}{}
	}

	var included []Match
	frontier := matches
	for hop := 0; hop < maxIncludeHops && len(frontier) > 0; hop++ {
		var next []Match
		for _, spec := range q.Control.Includes {
			if hop > 0 && !spec.Iterate {
				continue
			}
			next = append(next, e.forwardInclude(ctx, spec, frontier, seen)...)
		}
		for _, spec := range q.Control.RevIncludes {
			if hop > 0 && !spec.Iterate {
				continue
			}
			next = append(next, e.reverseInclude(ctx, spec, frontier, seen)...)
		}
		included = append(included, next...)
		frontier = next
	}
	return included
}

// forwardInclude follows reference values out of the frontier resources.
// A "*" parameter follows every reference field of the source type.
func (e *Engine) forwardInclude(ctx context.Context, spec IncludeSpec, frontier []Match, seen map[string]struct{}) []Match {
	wildcard := spec.Param == "*"
	var def ParamDef
	if !wildcard {
		var ok bool
		def, ok = ParamDefFor(spec.SourceType, spec.Param)
		if !ok || def.Type != TypeReference {
			e.log.Warn().Str("source", spec.SourceType).Str("param", spec.Param).Msg("include names a non-reference parameter, skipped")
			return nil
		}
	}

	var sourceIDs []int64
	for _, m := range frontier {
		if m.Type == spec.SourceType {
			sourceIDs = append(sourceIDs, m.ResourceID)
		}
	}
	if len(sourceIDs) == 0 {
		return nil
	}

	subCtx, cancel := context.WithTimeout(ctx, e.opts.SubOpTimeout)
	defer cancel()

	b := newBuilder()
	sql := "SELECT DISTINCT si.value_reference FROM search_index si WHERE si.resource_id = ANY(" + b.arg(sourceIDs) + ")"
	if wildcard {
		sql += " AND si.param_type = " + b.arg(string(TypeReference))
	} else {
		sql += " AND si.param_name = " + b.arg(spec.Param)
	}
	sql += " AND si.value_reference IS NOT NULL"
	rows, err := e.conn(subCtx).Query(subCtx, sql, b.args...)
	if err != nil {
		e.log.Warn().Err(err).Str("param", spec.Param).Msg("include reference scan failed, skipped")
		return nil
	}
	var refs []string
	for rows.Next() {
		var ref string
		if rows.Scan(&ref) == nil {
			refs = append(refs, ref)
		}
	}
	rows.Close()
	if rows.Err() != nil || len(refs) == 0 {
		return nil
	}

	// Group bare ids by the type they resolve to. A reference that does not
	// carry a type falls back to the include's target, then the parameter's
	// declared targets.
	byType := map[string][]string{}
	for _, ref := range refs {
		t := ReferenceType(ref)
		if t == "" {
			t = spec.TargetType
		}
		if t == "" {
			for _, cand := range def.Targets {
				byType[cand] = append(byType[cand], ReferenceID(ref))
			}
			continue
		}
		if spec.TargetType != "" && t != spec.TargetType {
			continue
		}
		byType[t] = append(byType[t], ReferenceID(ref))
	}

	var out []Match
	for t, ids := range byType {
		out = append(out, e.fetchByIDs(subCtx, t, ids, seen)...)
	}
	return out
}

// reverseInclude finds resources of the referencing type that point at any
// frontier resource.
func (e *Engine) reverseInclude(ctx context.Context, spec IncludeSpec, frontier []Match, seen map[string]struct{}) []Match {
	def, ok := ParamDefFor(spec.SourceType, spec.Param)
	if !ok || def.Type != TypeReference {
		e.log.Warn().Str("source", spec.SourceType).Str("param", spec.Param).Msg("revinclude names a non-reference parameter, skipped")
		return nil
	}

	var variants []string
	for _, m := range frontier {
		variants = append(variants, idReferenceVariants(m.Type, m.FhirID)...)
	}
	if len(variants) == 0 {
		return nil
	}

	subCtx, cancel := context.WithTimeout(ctx, e.opts.SubOpTimeout)
	defer cancel()

	b := newBuilder()
	sql := "SELECT DISTINCT r.id, r.resource_type, r.fhir_id, r.version_id, r.last_updated, r.resource " +
		"FROM resource r JOIN search_index si ON si.resource_id = r.id " +
		"WHERE r.resource_type = " + b.arg(spec.SourceType) + " AND NOT r.deleted AND si.param_name = " + b.arg(spec.Param) +
		" AND si.value_reference = ANY(" + b.arg(variants) + ") ORDER BY r.id LIMIT " + b.arg(e.opts.SubSearchLimit)

	matches, err := e.queryMatches(subCtx, sql, b.args)
	if err != nil {
		e.log.Warn().Err(err).Str("source", spec.SourceType).Str("param", spec.Param).Msg("revinclude failed, skipped")
		return nil
	}
	return dedupe(matches, seen)
}

func (e *Engine) fetchByIDs(ctx context.Context, resourceType string, ids []string, seen map[string]struct{}) []Match {
	fresh := ids[:0]
	for _, id := range ids {
		if _, dup := seen[resourceType+"/"+id]; !dup {
			fresh = append(fresh, id)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	b := newBuilder()
	sql := "SELECT r.id, r.resource_type, r.fhir_id, r.version_id, r.last_updated, r.resource FROM resource r " +
		"WHERE r.resource_type = " + b.arg(resourceType) + " AND r.fhir_id = ANY(" + b.arg(fresh) + ") AND NOT r.deleted ORDER BY r.id"
	matches, err := e.queryMatches(ctx, sql, b.args)
	if err != nil {
		e.log.Warn().Err(err).Str("type", resourceType).Msg("include fetch failed, skipped")
		return nil
	}
	return dedupe(matches, seen)
}

func dedupe(matches []Match, seen map[string]struct{}) []Match {
	out := matches[:0]
	for _, m := range matches {
		key := m.Type + "/" + m.FhirID
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}
	return out
}
