package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fhird/fhird/internal/fhir"
	"github.com/fhird/fhird/internal/platform/db"
	"github.com/fhird/fhird/internal/store"
)

// handleBundle processes a POST of a batch or transaction Bundle at the
// system endpoint. Batches run entry by entry with per-entry outcomes;
// transactions run inside one database transaction and fail as a whole.
func (s *Server) handleBundle(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return s.respondError(c, fhir.BadRequestf("read body: %v", err))
	}

	var bundle fhir.Bundle
	if err := json.Unmarshal(body, &bundle); err != nil {
		return s.respondError(c, fhir.BadRequestf("malformed Bundle: %v", err))
	}
	if bundle.ResourceType != "Bundle" {
		return s.respondError(c, fhir.BadRequestf("expected a Bundle, got %q", bundle.ResourceType))
	}

	ctx := c.Request().Context()
	switch bundle.Type {
	case fhir.BundleTypeBatch:
		s.metrics.CountOperation("*", "batch")
		resp := s.processBatch(ctx, &bundle)
		return fhirJSON(c, http.StatusOK, resp)
	case fhir.BundleTypeTransaction:
		s.metrics.CountOperation("*", "transaction")
		resp, err := s.processTransaction(ctx, &bundle)
		if err != nil {
			return s.respondError(c, err)
		}
		return fhirJSON(c, http.StatusOK, resp)
	default:
		return s.respondError(c, fhir.BadRequestf("unsupported Bundle type %q", bundle.Type))
	}
}

// entryOp is one validated bundle entry, ready to execute.
type entryOp struct {
	index    int
	method   string
	rtype    string
	id       string
	query    string
	fullURL  string
	resource json.RawMessage
	req      *fhir.BundleEntryRequest
}

// methodOrder executes deletes first, then creates, then updates, then
// reads, so intra-bundle references resolve regardless of entry order.
var methodOrder = map[string]int{"DELETE": 0, "POST": 1, "PUT": 2, "PATCH": 2, "GET": 3}

func parseEntries(bundle *fhir.Bundle) ([]entryOp, error) {
	entries := make([]entryOp, 0, len(bundle.Entry))
	for i, e := range bundle.Entry {
		if e.Request == nil {
			return nil, fhir.BadRequestf("entry %d has no request", i)
		}
		method := strings.ToUpper(e.Request.Method)
		if _, ok := methodOrder[method]; !ok {
			return nil, fhir.BadRequestf("entry %d: unsupported method %q", i, e.Request.Method)
		}

		rawURL := strings.TrimPrefix(e.Request.URL, "/")
		pathPart, queryPart, _ := strings.Cut(rawURL, "?")
		segs := strings.Split(pathPart, "/")
		op := entryOp{
			index:    i,
			method:   method,
			rtype:    segs[0],
			query:    queryPart,
			fullURL:  e.FullURL,
			resource: e.Resource,
			req:      e.Request,
		}
		if op.rtype == "" {
			return nil, fhir.BadRequestf("entry %d: empty request url", i)
		}
		if len(segs) > 1 {
			op.id = segs[1]
		}

		switch method {
		case "POST":
			if len(op.resource) == 0 {
				return nil, fhir.BadRequestf("entry %d: POST without a resource", i)
			}
		case "PUT":
			if op.id == "" || len(op.resource) == 0 {
				return nil, fhir.BadRequestf("entry %d: PUT needs Type/id and a resource", i)
			}
		case "DELETE":
			if op.id == "" {
				return nil, fhir.BadRequestf("entry %d: DELETE needs Type/id", i)
			}
		}
		entries = append(entries, op)
	}
	return entries, nil
}

// assignIDs gives every POST entry its server id up front and returns the
// fullUrl-to-reference map used to rewrite intra-bundle references.
func assignIDs(entries []entryOp) map[string]string {
	idMap := make(map[string]string)
	for i := range entries {
		if entries[i].method != "POST" {
			if entries[i].fullURL != "" && entries[i].id != "" {
				idMap[entries[i].fullURL] = entries[i].rtype + "/" + entries[i].id
			}
			continue
		}
		id := uuid.NewString()
		entries[i].id = id
		if entries[i].fullURL != "" {
			idMap[entries[i].fullURL] = entries[i].rtype + "/" + id
		}
	}
	return idMap
}

// rewriteRefs replaces urn:uuid (and any other fullUrl) reference values
// with the assigned Type/id references.
func rewriteRefs(doc json.RawMessage, idMap map[string]string) (json.RawMessage, error) {
	if len(idMap) == 0 || len(doc) == 0 {
		return doc, nil
	}
	var v interface{}
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, fhir.BadRequestf("entry resource: %v", err)
	}
	rewriteRefValue(v, idMap)
	out, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func rewriteRefValue(v interface{}, idMap map[string]string) {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			if k == "reference" {
				if s, ok := child.(string); ok {
					if mapped, ok := idMap[s]; ok {
						t[k] = mapped
						continue
					}
				}
			}
			rewriteRefValue(child, idMap)
		}
	case []interface{}:
		for _, child := range t {
			rewriteRefValue(child, idMap)
		}
	}
}

func (s *Server) processBatch(ctx context.Context, bundle *fhir.Bundle) *fhir.Bundle {
	resp := fhir.NewBundle(fhir.BundleTypeBatchResponse)
	for i, e := range bundle.Entry {
		sub := &fhir.Bundle{Entry: []fhir.BundleEntry{e}}
		entries, err := parseEntries(sub)
		if err != nil {
			resp.Entry = append(resp.Entry, errorEntry(err))
			continue
		}
		idMap := assignIDs(entries)
		entry, err := s.executeEntry(ctx, entries[0], idMap)
		if err != nil {
			s.log.Warn().Err(err).Int("entry", i).Msg("batch entry failed")
			resp.Entry = append(resp.Entry, errorEntry(err))
			continue
		}
		resp.Entry = append(resp.Entry, entry)
	}
	return resp
}

func (s *Server) processTransaction(ctx context.Context, bundle *fhir.Bundle) (*fhir.Bundle, error) {
	entries, err := parseEntries(bundle)
	if err != nil {
		return nil, err
	}
	idMap := assignIDs(entries)

	ordered := make([]entryOp, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(a, b int) bool {
		return methodOrder[ordered[a].method] < methodOrder[ordered[b].method]
	})

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)
	txCtx := db.WithTx(ctx, tx)

	results := make([]fhir.BundleEntry, len(entries))
	for _, op := range ordered {
		entry, err := s.executeEntry(txCtx, op, idMap)
		if err != nil {
			return nil, fmt.Errorf("entry %d (%s %s): %w", op.index, op.method, op.req.URL, err)
		}
		results[op.index] = entry
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	resp := fhir.NewBundle(fhir.BundleTypeTransactionResponse)
	resp.Entry = results
	return resp, nil
}

func (s *Server) executeEntry(ctx context.Context, op entryOp, idMap map[string]string) (fhir.BundleEntry, error) {
	doc, err := rewriteRefs(op.resource, idMap)
	if err != nil {
		return fhir.BundleEntry{}, err
	}

	switch op.method {
	case "POST":
		// The id was assigned up front so intra-bundle references could be
		// rewritten; store it via update-as-create semantics.
		if op.req.IfNoneExist != "" {
			res, created, err := s.store.Create(ctx, op.rtype, doc, op.req.IfNoneExist)
			if err != nil {
				return fhir.BundleEntry{}, err
			}
			return s.writtenEntry(res, created), nil
		}
		res, err := s.createWithID(ctx, op.rtype, op.id, doc)
		if err != nil {
			return fhir.BundleEntry{}, err
		}
		return s.writtenEntry(res, true), nil
	case "PUT", "PATCH":
		res, created, err := s.store.Update(ctx, op.rtype, op.id, doc, op.req.IfMatch)
		if err != nil {
			return fhir.BundleEntry{}, err
		}
		return s.writtenEntry(res, created), nil
	case "DELETE":
		if _, err := s.store.Delete(ctx, op.rtype, op.id); err != nil {
			return fhir.BundleEntry{}, err
		}
		return fhir.BundleEntry{Response: &fhir.BundleEntryResponse{Status: "204 No Content"}}, nil
	case "GET":
		return s.readEntry(ctx, op)
	}
	return fhir.BundleEntry{}, fhir.BadRequestf("unsupported method %q", op.method)
}

// createWithID persists a POST entry under its pre-assigned id.
func (s *Server) createWithID(ctx context.Context, rtype, id string, doc json.RawMessage) (*store.Resource, error) {
	res, _, err := s.store.CreateWithID(ctx, rtype, id, doc)
	return res, err
}

func (s *Server) readEntry(ctx context.Context, op entryOp) (fhir.BundleEntry, error) {
	if op.id == "" || strings.HasPrefix(op.id, "_") {
		return fhir.BundleEntry{}, fhir.BadRequestf("bundle GET supports reads only, got %q", op.req.URL)
	}
	res, err := s.store.Read(ctx, op.rtype, op.id)
	if err != nil {
		return fhir.BundleEntry{}, err
	}
	return fhir.BundleEntry{
		Resource: res.Doc,
		Response: &fhir.BundleEntryResponse{
			Status:       "200 OK",
			Etag:         fhir.WeakETag(res.VersionID),
			LastModified: res.LastUpdated.UTC().Format("2006-01-02T15:04:05Z07:00"),
		},
	}, nil
}

func (s *Server) writtenEntry(res *store.Resource, created bool) fhir.BundleEntry {
	status := "200 OK"
	if created {
		status = "201 Created"
	}
	return fhir.BundleEntry{
		Resource: res.Doc,
		Response: &fhir.BundleEntryResponse{
			Status:       status,
			Location:     s.cfg.BaseURL + "/" + res.Type + "/" + res.FhirID + "/_history/" + strconv.Itoa(res.VersionID),
			Etag:         fhir.WeakETag(res.VersionID),
			LastModified: res.LastUpdated.UTC().Format("2006-01-02T15:04:05Z07:00"),
		},
	}
}

func errorEntry(err error) fhir.BundleEntry {
	outcome, _ := json.Marshal(fhir.OutcomeFor(err))
	return fhir.BundleEntry{
		Response: &fhir.BundleEntryResponse{
			Status:  strconv.Itoa(fhir.StatusFor(err)) + " " + http.StatusText(fhir.StatusFor(err)),
			Outcome: outcome,
		},
	}
}
