package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/fhird/fhird/internal/fhir"
	"github.com/fhird/fhird/internal/normalize"
	"github.com/fhird/fhird/internal/platform/db"
	"github.com/fhird/fhird/internal/search"
)

// Searcher is the sub-search used by conditional create. The search engine
// implements it; the indirection keeps this package from importing the
// query planner.
type Searcher interface {
	SearchIDs(ctx context.Context, resourceType string, vals url.Values, limit int) ([]string, error)
}

// Resource is one stored resource row.
type Resource struct {
	ID          int64
	Type        string
	FhirID      string
	VersionID   int
	LastUpdated time.Time
	Deleted     bool
	Doc         []byte
}

// Store owns resource persistence: documents, versions, soft deletes, and
// the search index rows derived from each write. Every write re-extracts
// inside the same transaction, so readers never see an index stale relative
// to the visible document.
type Store struct {
	pool           *pgxpool.Pool
	log            zerolog.Logger
	searcher       Searcher
	updateAsCreate bool
}

func New(pool *pgxpool.Pool, logger zerolog.Logger, searcher Searcher, updateAsCreate bool) *Store {
	return &Store{
		pool:           pool,
		log:            logger.With().Str("component", "store").Logger(),
		searcher:       searcher,
		updateAsCreate: updateAsCreate,
	}
}

// Create stores a new resource, keeping a payload-supplied id and assigning
// one otherwise. When ifNoneExist is set it runs as a conditional create:
// one existing match returns that resource untouched, multiple matches
// conflict.
func (s *Store) Create(ctx context.Context, resourceType string, doc []byte, ifNoneExist string) (*Resource, bool, error) {
	doc, err := s.prepare(resourceType, doc)
	if err != nil {
		return nil, false, err
	}

	if ifNoneExist != "" {
		vals, err := url.ParseQuery(ifNoneExist)
		if err != nil {
			return nil, false, fhir.BadRequestf("malformed If-None-Exist %q", ifNoneExist)
		}
		ids, err := s.searcher.SearchIDs(ctx, resourceType, vals, 2)
		if err != nil {
			return nil, false, err
		}
		switch len(ids) {
		case 0:
		case 1:
			existing, err := s.Read(ctx, resourceType, ids[0])
			return existing, false, err
		default:
			return nil, false, fmt.Errorf("%w: If-None-Exist matched multiple resources", fhir.ErrConflict)
		}
	}

	id := payloadID(doc)
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	doc, err = stampMeta(doc, id, 1, now)
	if err != nil {
		return nil, false, err
	}

	res := &Resource{Type: resourceType, FhirID: id, VersionID: 1, LastUpdated: now, Doc: doc}
	err = s.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`INSERT INTO resource (resource_type, fhir_id, version_id, last_updated, deleted, resource)
			 VALUES ($1, $2, 1, $3, FALSE, $4) RETURNING id`,
			resourceType, id, now, doc).Scan(&res.ID); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s/%s already exists", fhir.ErrConflict, resourceType, id)
			}
			return fmt.Errorf("insert %s: %w", resourceType, err)
		}
		if err := insertHistory(ctx, tx, resourceType, id, 1, "CREATE", doc, now); err != nil {
			return err
		}
		return reindex(ctx, tx, res.ID, resourceType, doc)
	})
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

// CreateWithID stores a new resource under a caller-chosen id. Transaction
// bundles use it so intra-bundle references can be rewritten before any
// entry executes.
func (s *Store) CreateWithID(ctx context.Context, resourceType, id string, doc []byte) (*Resource, bool, error) {
	doc, err := s.prepare(resourceType, doc)
	if err != nil {
		return nil, false, err
	}
	now := time.Now().UTC()
	doc, err = stampMeta(doc, id, 1, now)
	if err != nil {
		return nil, false, err
	}
	res := &Resource{Type: resourceType, FhirID: id, VersionID: 1, LastUpdated: now, Doc: doc}
	err = s.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`INSERT INTO resource (resource_type, fhir_id, version_id, last_updated, deleted, resource)
			 VALUES ($1, $2, 1, $3, FALSE, $4) RETURNING id`,
			resourceType, id, now, doc).Scan(&res.ID); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s/%s already exists", fhir.ErrConflict, resourceType, id)
			}
			return fmt.Errorf("insert %s/%s: %w", resourceType, id, err)
		}
		if err := insertHistory(ctx, tx, resourceType, id, 1, "CREATE", doc, now); err != nil {
			return err
		}
		return reindex(ctx, tx, res.ID, resourceType, doc)
	})
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

// Read returns the current version. Soft-deleted resources are gone, not
// absent.
func (s *Store) Read(ctx context.Context, resourceType, id string) (*Resource, error) {
	res := &Resource{Type: resourceType, FhirID: id}
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT id, version_id, last_updated, deleted, resource FROM resource
		 WHERE resource_type = $1 AND fhir_id = $2`,
		resourceType, id).Scan(&res.ID, &res.VersionID, &res.LastUpdated, &res.Deleted, &res.Doc)
	if err == pgx.ErrNoRows {
		return nil, fhir.NotFoundf("%s/%s", resourceType, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", resourceType, id, err)
	}
	if res.Deleted {
		return nil, fmt.Errorf("%w: %s/%s", fhir.ErrGone, resourceType, id)
	}
	return res, nil
}

// ReadVersion returns one historical version from the append-only log.
func (s *Store) ReadVersion(ctx context.Context, resourceType, id string, versionID int) (*Resource, error) {
	res := &Resource{Type: resourceType, FhirID: id, VersionID: versionID}
	var action string
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT action, resource, ts FROM resource_history
		 WHERE resource_type = $1 AND fhir_id = $2 AND version_id = $3`,
		resourceType, id, versionID).Scan(&action, &res.Doc, &res.LastUpdated)
	if err == pgx.ErrNoRows {
		return nil, fhir.NotFoundf("%s/%s/_history/%d", resourceType, id, versionID)
	}
	if err != nil {
		return nil, fmt.Errorf("read version %s/%s/%d: %w", resourceType, id, versionID, err)
	}
	if action == "DELETE" {
		return nil, fmt.Errorf("%w: %s/%s version %d", fhir.ErrGone, resourceType, id, versionID)
	}
	return res, nil
}

// Update replaces the current version, checking If-Match optimistic locking
// when supplied. Updating a soft-deleted resource revives it. Updating an
// unknown id creates it at that id when update-as-create is enabled.
func (s *Store) Update(ctx context.Context, resourceType, id string, doc []byte, ifMatch string) (*Resource, bool, error) {
	doc, err := s.prepare(resourceType, doc)
	if err != nil {
		return nil, false, err
	}
	if bodyID, berr := jsonparser.GetString(doc, "id"); berr == nil && bodyID != id {
		return nil, false, fhir.BadRequestf("body id %q does not match URL id %q", bodyID, id)
	}

	wantVersion := 0
	if ifMatch != "" {
		wantVersion, err = parseIfMatch(ifMatch)
		if err != nil {
			return nil, false, err
		}
	}

	now := time.Now().UTC()
	res := &Resource{Type: resourceType, FhirID: id, LastUpdated: now}
	created := false

	err = s.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var cur int
		var deleted bool
		scanErr := tx.QueryRow(ctx,
			`SELECT id, version_id, deleted FROM resource
			 WHERE resource_type = $1 AND fhir_id = $2 FOR UPDATE`,
			resourceType, id).Scan(&res.ID, &cur, &deleted)

		if scanErr == pgx.ErrNoRows {
			if !s.updateAsCreate {
				return fhir.NotFoundf("%s/%s", resourceType, id)
			}
			if wantVersion != 0 {
				return fmt.Errorf("%w: If-Match on a resource that does not exist", fhir.ErrConflict)
			}
			created = true
			res.VersionID = 1
			stamped, err := stampMeta(doc, id, 1, now)
			if err != nil {
				return err
			}
			res.Doc = stamped
			if err := tx.QueryRow(ctx,
				`INSERT INTO resource (resource_type, fhir_id, version_id, last_updated, deleted, resource)
				 VALUES ($1, $2, 1, $3, FALSE, $4) RETURNING id`,
				resourceType, id, now, stamped).Scan(&res.ID); err != nil {
				return fmt.Errorf("insert %s/%s: %w", resourceType, id, err)
			}
			if err := insertHistory(ctx, tx, resourceType, id, 1, "CREATE", stamped, now); err != nil {
				return err
			}
			return reindex(ctx, tx, res.ID, resourceType, stamped)
		}
		if scanErr != nil {
			return fmt.Errorf("lock %s/%s: %w", resourceType, id, scanErr)
		}

		if wantVersion != 0 && wantVersion != cur {
			return fmt.Errorf("%w: expected version %d, current is %d", fhir.ErrConflict, wantVersion, cur)
		}

		res.VersionID = cur + 1
		stamped, err := stampMeta(doc, id, res.VersionID, now)
		if err != nil {
			return err
		}
		res.Doc = stamped
		if _, err := tx.Exec(ctx,
			`UPDATE resource SET version_id = $1, last_updated = $2, deleted = FALSE, resource = $3 WHERE id = $4`,
			res.VersionID, now, stamped, res.ID); err != nil {
			return fmt.Errorf("update %s/%s: %w", resourceType, id, err)
		}
		if err := insertHistory(ctx, tx, resourceType, id, res.VersionID, "UPDATE", stamped, now); err != nil {
			return err
		}
		if deleted {
			s.log.Debug().Str("resource", resourceType+"/"+id).Msg("update revived a deleted resource")
		}
		return reindex(ctx, tx, res.ID, resourceType, stamped)
	})
	if err != nil {
		return nil, false, err
	}
	return res, created, nil
}

// Delete soft-deletes a resource and drops its index rows. Deleting an
// absent or already-deleted resource succeeds without effect; the bool
// reports whether anything changed.
func (s *Store) Delete(ctx context.Context, resourceType, id string) (bool, error) {
	changed := false
	err := s.inTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var rid int64
		var cur int
		var deleted bool
		scanErr := tx.QueryRow(ctx,
			`SELECT id, version_id, deleted FROM resource
			 WHERE resource_type = $1 AND fhir_id = $2 FOR UPDATE`,
			resourceType, id).Scan(&rid, &cur, &deleted)
		if scanErr == pgx.ErrNoRows {
			return nil
		}
		if scanErr != nil {
			return fmt.Errorf("lock %s/%s: %w", resourceType, id, scanErr)
		}
		if deleted {
			return nil
		}

		now := time.Now().UTC()
		next := cur + 1
		if _, err := tx.Exec(ctx,
			`UPDATE resource SET version_id = $1, last_updated = $2, deleted = TRUE WHERE id = $3`,
			next, now, rid); err != nil {
			return fmt.Errorf("delete %s/%s: %w", resourceType, id, err)
		}
		if err := insertHistory(ctx, tx, resourceType, id, next, "DELETE", nil, now); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM search_index WHERE resource_id = $1`, rid); err != nil {
			return fmt.Errorf("deindex %s/%s: %w", resourceType, id, err)
		}
		changed = true
		return nil
	})
	return changed, err
}

// prepare validates the raw payload and runs the normalization pass.
func (s *Store) prepare(resourceType string, doc []byte) ([]byte, error) {
	if !json.Valid(doc) {
		return nil, fhir.BadRequestf("malformed JSON")
	}
	docType, err := jsonparser.GetString(doc, "resourceType")
	if err != nil {
		return nil, fhir.BadRequestf("missing resourceType")
	}
	if docType != resourceType {
		return nil, fhir.BadRequestf("resourceType %q does not match endpoint %s", docType, resourceType)
	}
	out, err := normalize.Apply(resourceType, doc)
	if err != nil {
		return nil, fhir.BadRequestf("%v", err)
	}
	return out, nil
}

// stampMeta writes the server-controlled id, meta.versionId, and
// meta.lastUpdated into the document.
func stampMeta(doc []byte, id string, versionID int, now time.Time) ([]byte, error) {
	out := append([]byte(nil), doc...)
	var err error
	if out, err = jsonparser.Set(out, []byte(strconv.Quote(id)), "id"); err != nil {
		return nil, fmt.Errorf("stamp id: %w", err)
	}
	if out, err = jsonparser.Set(out, []byte(strconv.Quote(strconv.Itoa(versionID))), "meta", "versionId"); err != nil {
		return nil, fmt.Errorf("stamp versionId: %w", err)
	}
	if out, err = jsonparser.Set(out, []byte(strconv.Quote(now.Format(time.RFC3339))), "meta", "lastUpdated"); err != nil {
		return nil, fmt.Errorf("stamp lastUpdated: %w", err)
	}
	return out, nil
}

// payloadID returns the id the payload carries, or "" when absent.
// Normalization has already rewritten numeric ids as strings.
func payloadID(doc []byte) string {
	id, err := jsonparser.GetString(doc, "id")
	if err != nil {
		return ""
	}
	return id
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func parseIfMatch(header string) (int, error) {
	v := strings.TrimSpace(header)
	v = strings.TrimPrefix(v, "W/")
	v = strings.Trim(v, `"`)
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fhir.BadRequestf("malformed If-Match %q", header)
	}
	return n, nil
}

// reindex replaces the resource's search index rows from the stored
// document, inside the caller's transaction.
func reindex(ctx context.Context, tx pgx.Tx, resourceID int64, resourceType string, doc []byte) error {
	rows, err := search.Extract(resourceType, doc)
	if err != nil {
		return fmt.Errorf("extract %s: %w", resourceType, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM search_index WHERE resource_id = $1`, resourceID); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(
			`INSERT INTO search_index (resource_id, resource_type, param_name, param_type, group_id,
			 value_string, value_number, value_date, value_token_system, value_token_code, value_reference)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			resourceID, resourceType, r.ParamName, string(r.ParamType), r.GroupID,
			r.String, r.Number, r.Date, r.TokenSystem, r.TokenCode, r.Reference)
	}
	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for range rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("index row: %w", err)
		}
	}
	return nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, resourceType, id string, versionID int, action string, doc []byte, ts time.Time) error {
	var res any
	if doc != nil {
		res = doc
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO resource_history (resource_type, fhir_id, version_id, action, resource, ts)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		resourceType, id, versionID, action, res, ts); err != nil {
		return fmt.Errorf("history %s/%s: %w", resourceType, id, err)
	}
	return nil
}

// inTx runs fn inside the ambient transaction when one is on the context
// (transaction bundles), otherwise in its own.
func (s *Store) inTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	if tx, ok := db.TxFromContext(ctx); ok {
		return fn(ctx, tx)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// conn prefers the ambient transaction for reads too, so reads inside a
// transaction bundle see its writes.
func (s *Store) conn(ctx context.Context) queryRower {
	if tx, ok := db.TxFromContext(ctx); ok {
		return tx
	}
	return s.pool
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}
