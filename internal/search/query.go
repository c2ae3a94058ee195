package search

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/fhird/fhird/internal/fhir"
	"github.com/fhird/fhird/internal/platform/db"
)

// Options bounds search work. SubSearchLimit caps the size of the id sets
// produced by chained and reverse-chained sub-searches so a broad chain
// cannot balloon memory.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	SubSearchLimit  int
	SubOpTimeout    time.Duration
}

// Engine executes parsed queries against the search index.
type Engine struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
	opts Options
}

func NewEngine(pool *pgxpool.Pool, logger zerolog.Logger, opts Options) *Engine {
	return &Engine{pool: pool, log: logger.With().Str("component", "search").Logger(), opts: opts}
}

// Limits returns the paging limits used when parsing queries for this
// engine.
func (e *Engine) Limits() Limits {
	return Limits{DefaultCount: e.opts.DefaultPageSize, MaxCount: e.opts.MaxPageSize}
}

// Match is one resource row returned by a search.
type Match struct {
	ResourceID  int64
	Type        string
	FhirID      string
	VersionID   int
	LastUpdated time.Time
	Doc         []byte
}

// Result is a completed search: the page of matches, any included
// resources, and the total match count before paging.
type Result struct {
	Matches  []Match
	Includes []Match
	Total    int
}

// Search runs a parsed query. Chained and _has predicates are resolved into
// id restrictions first, then everything executes as one indexed statement.
func (e *Engine) Search(ctx context.Context, q *Query) (*Result, error) {
	b := newBuilder()
	b.where("r.resource_type = "+b.arg(q.Type), "NOT r.deleted")

	for _, pred := range q.Predicates {
		if err := e.addPredicate(ctx, b, q.Type, pred); err != nil {
			return nil, err
		}
	}

	res := &Result{}

	countSQL := "SELECT COUNT(*) FROM resource r WHERE " + b.clause()
	if err := e.row(ctx, countSQL, b.args).Scan(&res.Total); err != nil {
		return nil, fmt.Errorf("count %s search: %w", q.Type, err)
	}
	if q.Control.Summary == "count" {
		return res, nil
	}

	orderBy, err := b.orderBy(q.Control.Sort)
	if err != nil {
		return nil, err
	}
	sql := "SELECT r.id, r.resource_type, r.fhir_id, r.version_id, r.last_updated, r.resource FROM resource r WHERE " +
		b.clause() + orderBy +
		" LIMIT " + b.arg(q.Control.Count) + " OFFSET " + b.arg(q.Control.Offset)

	matches, err := e.queryMatches(ctx, sql, b.args)
	if err != nil {
		return nil, fmt.Errorf("execute %s search: %w", q.Type, err)
	}
	res.Matches = matches

	if len(q.Control.Includes) > 0 || len(q.Control.RevIncludes) > 0 {
		res.Includes = e.resolveIncludes(ctx, q, res.Matches)
	}
	return res, nil
}

// SearchIDs is the bounded sub-search used by chaining, _has, and
// conditional create. It returns fhir_ids only, capped at limit.
func (e *Engine) SearchIDs(ctx context.Context, resourceType string, vals url.Values, limit int) ([]string, error) {
	q, err := ParseQuery(resourceType, vals, Limits{DefaultCount: limit, MaxCount: limit})
	if err != nil {
		return nil, err
	}
	q.Control.Count = limit
	q.Control.Offset = 0

	b := newBuilder()
	b.where("r.resource_type = "+b.arg(resourceType), "NOT r.deleted")
	for _, pred := range q.Predicates {
		if err := e.addPredicate(ctx, b, resourceType, pred); err != nil {
			return nil, err
		}
	}

	sql := "SELECT r.fhir_id FROM resource r WHERE " + b.clause() + " ORDER BY r.id LIMIT " + b.arg(limit)
	rows, err := e.conn(ctx).Query(ctx, sql, b.args...)
	if err != nil {
		return nil, fmt.Errorf("sub-search %s: %w", resourceType, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (e *Engine) addPredicate(ctx context.Context, b *builder, resourceType string, pred Predicate) error {
	switch pred.Kind {
	case PredID:
		ids := make([]string, len(pred.Values))
		for i, v := range pred.Values {
			ids[i] = v.Raw
		}
		b.where("r.fhir_id = ANY(" + b.arg(ids) + ")")
		return nil
	case PredLastUpdated:
		return addDateColumn(b, "r.last_updated", pred.Values)
	case PredParam:
		return addParamPredicate(b, pred)
	case PredComposite:
		return addComposite(b, pred.Comp)
	case PredChain:
		return e.addChain(ctx, b, resourceType, pred.Chain)
	case PredHas:
		return e.addHas(ctx, b, pred.Has)
	}
	return fhir.BadRequestf("unsupported predicate")
}

func addParamPredicate(b *builder, pred Predicate) error {
	name := pred.Def.Name

	if pred.Modifier == "missing" {
		exists := "EXISTS (SELECT 1 FROM search_index si WHERE si.resource_id = r.id AND si.param_name = " + b.arg(name) + ")"
		if pred.Values[0].Raw == "true" {
			b.where("NOT " + exists)
		} else {
			b.where(exists)
		}
		return nil
	}

	var ors []string
	for _, v := range pred.Values {
		cond, err := valueCondition(b, pred.Def.Type, pred.Modifier, v)
		if err != nil {
			return err
		}
		ors = append(ors, cond)
	}
	b.where("EXISTS (SELECT 1 FROM search_index si WHERE si.resource_id = r.id AND si.param_name = " +
		b.arg(name) + " AND (" + strings.Join(ors, " OR ") + "))")
	return nil
}

// valueCondition renders one OR'd value against a search_index row aliased
// si.
func valueCondition(b *builder, pt ParamType, modifier string, v CondValue) (string, error) {
	switch pt {
	case TypeString, TypeURI:
		return stringCondition(b, "si.value_string", modifier, v.Raw), nil
	case TypeToken:
		return tokenCondition(b, modifier, v)
	case TypeDate:
		return dateCondition(b, "si.value_date", v)
	case TypeNumber:
		return numberCondition(b, "si.value_number", v)
	case TypeQuantity:
		return quantityCondition(b, v)
	case TypeReference:
		return "si.value_reference = ANY(" + b.arg(referenceVariants(v.Raw)) + ")", nil
	}
	return "", fhir.BadRequestf("unsupported parameter type %q", pt)
}

func stringCondition(b *builder, col, modifier, raw string) string {
	switch modifier {
	case "exact":
		return col + " = " + b.arg(raw)
	case "contains":
		return "lower(" + col + ") LIKE " + b.arg("%"+strings.ToLower(likeEscape(raw))+"%")
	default:
		// FHIR string search is a case-insensitive prefix match.
		return "lower(" + col + ") LIKE " + b.arg(strings.ToLower(likeEscape(raw))+"%")
	}
}

func likeEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return r.Replace(s)
}

func tokenCondition(b *builder, modifier string, v CondValue) (string, error) {
	if modifier == "text" {
		return "lower(si.value_string) LIKE " + b.arg("%"+strings.ToLower(likeEscape(v.Raw))+"%"), nil
	}
	system, code, hasSystem := strings.Cut(v.Raw, "|")
	if !hasSystem {
		code = v.Raw
		system = ""
	}
	var parts []string
	switch {
	case !hasSystem:
		parts = append(parts, "si.value_token_code = "+b.arg(code))
	case system == "":
		// |code matches entries with no system.
		parts = append(parts, "si.value_token_system IS NULL", "si.value_token_code = "+b.arg(code))
	case code == "":
		// system| matches any code in the system.
		parts = append(parts, "si.value_token_system = "+b.arg(system))
	default:
		parts = append(parts, "si.value_token_system = "+b.arg(system), "si.value_token_code = "+b.arg(code))
	}
	cond := "(" + strings.Join(parts, " AND ") + ")"
	if v.Prefix == "ne" {
		cond = "NOT " + cond
	}
	return cond, nil
}

func dateCondition(b *builder, col string, v CondValue) (string, error) {
	start, end, ok := parseDateRange(v.Raw)
	if !ok {
		return "", fhir.BadRequestf("invalid date %q", v.Raw)
	}
	switch v.Prefix {
	case "eq":
		return "(" + col + " >= " + b.arg(start) + " AND " + col + " < " + b.arg(end) + ")", nil
	case "ne":
		return "(" + col + " < " + b.arg(start) + " OR " + col + " >= " + b.arg(end) + ")", nil
	case "gt":
		return col + " >= " + b.arg(end), nil
	case "ge":
		return col + " >= " + b.arg(start), nil
	case "lt":
		return col + " < " + b.arg(start), nil
	case "le":
		return col + " < " + b.arg(end), nil
	}
	return "", fhir.BadRequestf("invalid date prefix %q", v.Prefix)
}

func addDateColumn(b *builder, col string, values []CondValue) error {
	var ors []string
	for _, v := range values {
		cond, err := dateCondition(b, col, v)
		if err != nil {
			return err
		}
		ors = append(ors, cond)
	}
	b.where("(" + strings.Join(ors, " OR ") + ")")
	return nil
}

func numberCondition(b *builder, col string, v CondValue) (string, error) {
	d, err := decimal.NewFromString(v.Raw)
	if err != nil {
		return "", fhir.BadRequestf("invalid number %q", v.Raw)
	}
	op, ok := map[string]string{"eq": "=", "ne": "<>", "gt": ">", "lt": "<", "ge": ">=", "le": "<="}[v.Prefix]
	if !ok {
		return "", fhir.BadRequestf("invalid number prefix %q", v.Prefix)
	}
	return col + " " + op + " " + b.arg(d), nil
}

// quantityCondition handles value[|system|code], constraining the unit when
// given.
func quantityCondition(b *builder, v CondValue) (string, error) {
	parts := strings.Split(v.Raw, "|")
	num, err := numberCondition(b, "si.value_number", CondValue{Prefix: v.Prefix, Raw: parts[0]})
	if err != nil {
		return "", err
	}
	conds := []string{num}
	if len(parts) >= 2 && parts[1] != "" {
		conds = append(conds, "si.value_token_system = "+b.arg(parts[1]))
	}
	if len(parts) >= 3 && parts[2] != "" {
		conds = append(conds, "si.value_token_code = "+b.arg(parts[2]))
	}
	return "(" + strings.Join(conds, " AND ") + ")", nil
}

// addComposite joins two index rows on group_id so both components come
// from the same element instance.
func addComposite(b *builder, spec CompositeSpec) error {
	var ors []string
	for _, pair := range spec.Values {
		var conds []string
		for i, comp := range spec.Def.Components {
			alias := string(rune('a' + i))
			v := splitPrefix(pair[i])
			cond, err := valueCondition(b, comp.Type, "", v)
			if err != nil {
				return err
			}
			cond = strings.ReplaceAll(cond, "si.", alias+".")
			conds = append(conds, alias+".param_name = "+b.arg(spec.Def.Name+"$"+comp.Name), cond)
		}
		ors = append(ors, "("+strings.Join(conds, " AND ")+")")
	}
	b.where("EXISTS (SELECT 1 FROM search_index a JOIN search_index b ON b.resource_id = a.resource_id AND b.group_id = a.group_id " +
		"WHERE a.resource_id = r.id AND (" + strings.Join(ors, " OR ") + "))")
	return nil
}

// referenceVariants lists the encodings under which one reference value may
// have been stored. Bulk exports use urn:uuid ids, hand-entered data uses
// Type/id, and some payloads carry the bare id.
func referenceVariants(raw string) []string {
	variants := []string{raw}
	if rest, ok := strings.CutPrefix(raw, "urn:uuid:"); ok {
		variants = append(variants, rest)
		return variants
	}
	if slash := strings.LastIndexByte(raw, '/'); slash >= 0 {
		id := raw[slash+1:]
		variants = append(variants, id, "urn:uuid:"+id)
		return variants
	}
	variants = append(variants, "urn:uuid:"+raw)
	return variants
}

// idReferenceVariants encodes a known Type/id pair in every stored form.
func idReferenceVariants(resourceType, id string) []string {
	return []string{resourceType + "/" + id, id, "urn:uuid:" + id}
}

// parseDateRange returns the half-open interval a partial-precision date
// denotes.
func parseDateRange(s string) (time.Time, time.Time, bool) {
	t, ok := parseDate(s)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	switch len(s) {
	case 4:
		return t, t.AddDate(1, 0, 0), true
	case 7:
		return t, t.AddDate(0, 1, 0), true
	case 10:
		return t, t.AddDate(0, 0, 1), true
	default:
		return t, t.Add(time.Second), true
	}
}

// builder accumulates WHERE fragments with positional args.
type builder struct {
	wheres []string
	args   []any
}

func newBuilder() *builder {
	return &builder{}
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *builder) where(conds ...string) {
	b.wheres = append(b.wheres, conds...)
}

func (b *builder) clause() string {
	return strings.Join(b.wheres, " AND ")
}

// orderBy renders _sort fields. Sort values come from a per-resource MIN
// over the index; r.id is always the final tiebreak so paging is stable.
func (b *builder) orderBy(sorts []SortField) (string, error) {
	if len(sorts) == 0 {
		return " ORDER BY r.id", nil
	}
	var keys []string
	for _, s := range sorts {
		dir := " ASC"
		if s.Desc {
			dir = " DESC"
		}
		if s.Def.Name == "_lastUpdated" {
			keys = append(keys, "r.last_updated"+dir)
			continue
		}
		col, ok := sortColumn(s.Def.Type)
		if !ok {
			return "", fhir.BadRequestf("cannot sort by %q parameter %q", s.Def.Type, s.Def.Name)
		}
		keys = append(keys, "(SELECT MIN(si."+col+") FROM search_index si WHERE si.resource_id = r.id AND si.param_name = "+
			b.arg(s.Def.Name)+")"+dir)
	}
	keys = append(keys, "r.id")
	return " ORDER BY " + strings.Join(keys, ", "), nil
}

func sortColumn(pt ParamType) (string, bool) {
	switch pt {
	case TypeString, TypeURI:
		return "value_string", true
	case TypeToken:
		return "value_token_code", true
	case TypeDate:
		return "value_date", true
	case TypeNumber, TypeQuantity:
		return "value_number", true
	}
	return "", false
}

// queryRunner is the subset of pgx shared by the pool and a transaction.
// Searches issued inside a transaction bundle see its uncommitted writes.
type queryRunner interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (e *Engine) conn(ctx context.Context) queryRunner {
	if tx, ok := db.TxFromContext(ctx); ok {
		return tx
	}
	return e.pool
}

func (e *Engine) row(ctx context.Context, sql string, args []any) pgx.Row {
	return e.conn(ctx).QueryRow(ctx, sql, args...)
}

// ReferencesOf lists the distinct reference values one resource holds
// under a parameter, straight from the index.
func (e *Engine) ReferencesOf(ctx context.Context, resourceID int64, param string) ([]string, error) {
	rows, err := e.conn(ctx).Query(ctx,
		`SELECT DISTINCT value_reference FROM search_index
		 WHERE resource_id = $1 AND param_name = $2 AND value_reference IS NOT NULL`,
		resourceID, param)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (e *Engine) queryMatches(ctx context.Context, sql string, args []any) ([]Match, error) {
	rows, err := e.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ResourceID, &m.Type, &m.FhirID, &m.VersionID, &m.LastUpdated, &m.Doc); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
