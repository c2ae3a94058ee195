package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fhird/fhird/internal/fhir"
	"github.com/fhird/fhird/internal/ops"
	"github.com/fhird/fhird/internal/search"
	"github.com/fhird/fhird/internal/store"
	"github.com/fhird/fhird/pkg/pagination"
)

func (s *Server) handleSearch(c echo.Context) error {
	rtype := c.Param("type")
	if strings.HasPrefix(rtype, "$") {
		return s.dispatchOp(c, rtype, ops.LevelSystem, "")
	}
	if !search.Supported(rtype) {
		return s.respondError(c, fhir.NotFoundf("resource type %s", rtype))
	}
	s.metrics.CountOperation(rtype, "search")

	vals := c.QueryParams()
	if c.Request().Method == http.MethodPost {
		// POST _search carries parameters as form data, possibly alongside
		// query parameters.
		form, err := c.FormParams()
		if err == nil {
			merged := url.Values{}
			for k, v := range vals {
				merged[k] = v
			}
			for k, v := range form {
				merged[k] = append(merged[k], v...)
			}
			vals = merged
		}
	}

	q, err := search.ParseQuery(rtype, vals, s.engine.Limits())
	if err != nil {
		return s.respondError(c, err)
	}
	res, err := s.engine.Search(c.Request().Context(), q)
	if err != nil {
		return s.respondError(c, err)
	}

	bundle := fhir.NewBundle(fhir.BundleTypeSearchset)
	bundle.SetTotal(res.Total)
	for _, m := range res.Matches {
		bundle.SearchsetEntry(s.cfg.BaseURL, m.Type, m.FhirID, filterDoc(m.Doc, q.Control.Elements), fhir.SearchModeMatch)
	}
	for _, m := range res.Includes {
		bundle.SearchsetEntry(s.cfg.BaseURL, m.Type, m.FhirID, m.Doc, fhir.SearchModeInclude)
	}
	bundle.AddPageLinks(fhir.PageLinks{
		BaseURL: s.cfg.BaseURL,
		Path:    "/" + rtype,
		Query:   vals,
		Offset:  q.Control.Offset,
		Count:   q.Control.Count,
		Total:   res.Total,
	})
	return fhirJSON(c, http.StatusOK, bundle)
}

func (s *Server) handleCreate(c echo.Context) error {
	rtype := c.Param("type")
	if strings.HasPrefix(rtype, "$") {
		return s.dispatchOp(c, rtype, ops.LevelSystem, "")
	}
	if !search.Supported(rtype) {
		return s.respondError(c, fhir.NotFoundf("resource type %s", rtype))
	}
	s.metrics.CountOperation(rtype, "create")

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return s.respondError(c, fhir.BadRequestf("read body: %v", err))
	}

	res, created, err := s.store.Create(c.Request().Context(), rtype, body, c.Request().Header.Get("If-None-Exist"))
	if err != nil {
		return s.respondError(c, err)
	}

	s.setResourceHeaders(c, res)
	if !created {
		return fhirJSON(c, http.StatusOK, json.RawMessage(res.Doc))
	}
	c.Response().Header().Set("Location", s.cfg.BaseURL+"/"+rtype+"/"+res.FhirID+"/_history/"+strconv.Itoa(res.VersionID))
	return fhirJSON(c, http.StatusCreated, json.RawMessage(res.Doc))
}

// handlePostTypeOp serves POST /Type/$op. A POST to a plain instance URL
// has no meaning in this API.
func (s *Server) handlePostTypeOp(c echo.Context) error {
	if op := c.Param("id"); strings.HasPrefix(op, "$") {
		return s.dispatchOp(c, op, ops.LevelType, "")
	}
	return s.respondError(c, fhir.BadRequestf("POST is not supported on instance URLs"))
}

// handleReadOrTypeOp serves GET /Type/id, where id may actually be a
// $-operation invoked at type level.
func (s *Server) handleReadOrTypeOp(c echo.Context) error {
	if op := c.Param("id"); strings.HasPrefix(op, "$") {
		return s.dispatchOp(c, op, ops.LevelType, "")
	}
	return s.handleRead(c)
}

func (s *Server) handleRead(c echo.Context) error {
	rtype, id := c.Param("type"), c.Param("id")
	s.metrics.CountOperation(rtype, "read")

	res, err := s.store.Read(c.Request().Context(), rtype, id)
	if err != nil {
		return s.respondError(c, err)
	}
	s.setResourceHeaders(c, res)
	return fhirJSON(c, http.StatusOK, json.RawMessage(res.Doc))
}

func (s *Server) handleVRead(c echo.Context) error {
	rtype, id := c.Param("type"), c.Param("id")
	s.metrics.CountOperation(rtype, "vread")

	vid, err := strconv.Atoi(c.Param("vid"))
	if err != nil || vid < 1 {
		return s.respondError(c, fhir.BadRequestf("invalid version id %q", c.Param("vid")))
	}
	res, err := s.store.ReadVersion(c.Request().Context(), rtype, id, vid)
	if err != nil {
		return s.respondError(c, err)
	}
	s.setResourceHeaders(c, res)
	return fhirJSON(c, http.StatusOK, json.RawMessage(res.Doc))
}

func (s *Server) handleUpdate(c echo.Context) error {
	rtype, id := c.Param("type"), c.Param("id")
	if !search.Supported(rtype) {
		return s.respondError(c, fhir.NotFoundf("resource type %s", rtype))
	}
	s.metrics.CountOperation(rtype, "update")

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return s.respondError(c, fhir.BadRequestf("read body: %v", err))
	}

	res, created, err := s.store.Update(c.Request().Context(), rtype, id, body, c.Request().Header.Get("If-Match"))
	if err != nil {
		return s.respondError(c, err)
	}
	s.setResourceHeaders(c, res)
	if created {
		c.Response().Header().Set("Location", s.cfg.BaseURL+"/"+rtype+"/"+id+"/_history/1")
		return fhirJSON(c, http.StatusCreated, json.RawMessage(res.Doc))
	}
	return fhirJSON(c, http.StatusOK, json.RawMessage(res.Doc))
}

func (s *Server) handleDelete(c echo.Context) error {
	rtype, id := c.Param("type"), c.Param("id")
	s.metrics.CountOperation(rtype, "delete")

	if _, err := s.store.Delete(c.Request().Context(), rtype, id); err != nil {
		return s.respondError(c, err)
	}
	// Idempotent: deleting an absent resource is still a 204.
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleInstanceHistory(c echo.Context) error {
	rtype, id := c.Param("type"), c.Param("id")
	s.metrics.CountOperation(rtype, "history")
	return s.history(c, store.HistoryOptions{Type: rtype, ID: id}, "/"+rtype+"/"+id+"/_history")
}

func (s *Server) handleTypeHistory(c echo.Context) error {
	rtype := c.Param("type")
	s.metrics.CountOperation(rtype, "history")
	return s.history(c, store.HistoryOptions{Type: rtype}, "/"+rtype+"/_history")
}

func (s *Server) handleSystemHistory(c echo.Context) error {
	s.metrics.CountOperation("*", "history")
	return s.history(c, store.HistoryOptions{}, "/_history")
}

func (s *Server) history(c echo.Context, opts store.HistoryOptions, path string) error {
	vals := c.QueryParams()
	page := pagination.Parse(vals, s.cfg.DefaultPageSize, s.cfg.MaxPageSize)
	opts.Count = page.Count
	opts.Offset = page.Offset

	if since := vals.Get("_since"); since != "" {
		t, err := parseHistoryTime(since)
		if err != nil {
			return s.respondError(c, fhir.BadRequestf("invalid _since %q", since))
		}
		opts.Since = &t
	}
	if at := vals.Get("_at"); at != "" {
		t, err := parseHistoryTime(at)
		if err != nil {
			return s.respondError(c, fhir.BadRequestf("invalid _at %q", at))
		}
		opts.At = &t
	}

	versions, total, err := s.store.History(c.Request().Context(), opts)
	if err != nil {
		return s.respondError(c, err)
	}

	bundle := fhir.NewBundle(fhir.BundleTypeHistory)
	bundle.SetTotal(total)
	for _, v := range versions {
		bundle.HistoryEntry(s.cfg.BaseURL, v.Type, v.FhirID, v.VersionID, v.Action, v.TS, v.Doc)
	}
	bundle.AddPageLinks(fhir.PageLinks{
		BaseURL: s.cfg.BaseURL,
		Path:    path,
		Query:   vals,
		Offset:  page.Offset,
		Count:   page.Count,
		Total:   total,
	})
	return fhirJSON(c, http.StatusOK, bundle)
}

// parseHistoryTime accepts the instant and date forms _since and _at allow.
func parseHistoryTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func (s *Server) handleInstanceOp(c echo.Context) error {
	op := c.Param("op")
	if !strings.HasPrefix(op, "$") {
		return s.respondError(c, fhir.NotFoundf("%s", c.Request().URL.Path))
	}
	return s.dispatchOp(c, op, ops.LevelInstance, c.Param("id"))
}

func (s *Server) dispatchOp(c echo.Context, name string, level ops.Level, id string) error {
	rtype := c.Param("type")
	s.metrics.CountOperation(rtype, name)

	var body []byte
	if c.Request().Body != nil {
		body, _ = io.ReadAll(c.Request().Body)
	}
	result, err := s.registry.Dispatch(c.Request().Context(), name, ops.Request{
		Level:        level,
		ResourceType: rtype,
		ID:           id,
		BaseURL:      s.cfg.BaseURL,
		Params:       c.QueryParams(),
		Body:         body,
	})
	if err != nil {
		return s.respondError(c, err)
	}
	return fhirJSON(c, http.StatusOK, result)
}

func (s *Server) setResourceHeaders(c echo.Context, res *store.Resource) {
	h := c.Response().Header()
	h.Set("ETag", fhir.WeakETag(res.VersionID))
	h.Set("Last-Modified", res.LastUpdated.UTC().Format(http.TimeFormat))
}

// filterDoc applies _elements to a match document, always keeping the
// mandatory identity fields.
func filterDoc(doc []byte, elements []string) json.RawMessage {
	if len(elements) == 0 {
		return doc
	}
	var full map[string]json.RawMessage
	if err := json.Unmarshal(doc, &full); err != nil {
		return doc
	}
	keep := map[string]bool{"resourceType": true, "id": true, "meta": true}
	for _, e := range elements {
		keep[e] = true
	}
	out := make(map[string]json.RawMessage, len(keep))
	for k, v := range full {
		if keep[k] {
			out[k] = v
		}
	}
	filtered, err := json.Marshal(out)
	if err != nil {
		return doc
	}
	return filtered
}
