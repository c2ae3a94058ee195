package fhir

import (
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Bundle types used by this server.
const (
	BundleTypeSearchset           = "searchset"
	BundleTypeHistory             = "history"
	BundleTypeBatch               = "batch"
	BundleTypeTransaction         = "transaction"
	BundleTypeBatchResponse       = "batch-response"
	BundleTypeTransactionResponse = "transaction-response"
	BundleTypeCollection          = "collection"
)

// Bundle is the FHIR Bundle wire type. Entry resources stay as raw JSON so
// stored documents round-trip byte for byte.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Meta         *Meta         `json:"meta,omitempty"`
	Type         string        `json:"type"`
	Timestamp    string        `json:"timestamp,omitempty"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string               `json:"fullUrl,omitempty"`
	Resource json.RawMessage      `json:"resource,omitempty"`
	Search   *BundleEntrySearch   `json:"search,omitempty"`
	Request  *BundleEntryRequest  `json:"request,omitempty"`
	Response *BundleEntryResponse `json:"response,omitempty"`
}

type BundleEntrySearch struct {
	Mode  string   `json:"mode,omitempty"`
	Score *float64 `json:"score,omitempty"`
}

type BundleEntryRequest struct {
	Method      string `json:"method"`
	URL         string `json:"url"`
	IfNoneMatch string `json:"ifNoneMatch,omitempty"`
	IfMatch     string `json:"ifMatch,omitempty"`
	IfNoneExist string `json:"ifNoneExist,omitempty"`
}

type BundleEntryResponse struct {
	Status       string          `json:"status"`
	Location     string          `json:"location,omitempty"`
	Etag         string          `json:"etag,omitempty"`
	LastModified string          `json:"lastModified,omitempty"`
	Outcome      json.RawMessage `json:"outcome,omitempty"`
}

// Search entry modes.
const (
	SearchModeMatch   = "match"
	SearchModeInclude = "include"
)

// NewBundle creates a Bundle of the given type with a fresh id and timestamp.
func NewBundle(bundleType string) *Bundle {
	return &Bundle{
		ResourceType: "Bundle",
		ID:           uuid.NewString(),
		Type:         bundleType,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
}

// SearchsetEntry appends a match or include entry to a searchset bundle.
func (b *Bundle) SearchsetEntry(baseURL, resourceType, id string, resource json.RawMessage, mode string) {
	b.Entry = append(b.Entry, BundleEntry{
		FullURL:  baseURL + "/" + resourceType + "/" + id,
		Resource: resource,
		Search:   &BundleEntrySearch{Mode: mode},
	})
}

// SetTotal records the total match count on a searchset bundle.
func (b *Bundle) SetTotal(n int) {
	b.Total = &n
}

// PageLinks holds everything needed to build self/next/previous links for a
// paged searchset or history bundle.
type PageLinks struct {
	BaseURL string
	Path    string
	Query   url.Values
	Offset  int
	Count   int
	Total   int
}

// AddPageLinks attaches self and, where applicable, next and previous links.
// The query values are copied so the caller's map is not mutated.
func (b *Bundle) AddPageLinks(p PageLinks) {
	b.Link = append(b.Link, BundleLink{Relation: "self", URL: p.pageURL(p.Offset)})
	if p.Offset+p.Count < p.Total {
		b.Link = append(b.Link, BundleLink{Relation: "next", URL: p.pageURL(p.Offset + p.Count)})
	}
	if p.Offset > 0 {
		prev := p.Offset - p.Count
		if prev < 0 {
			prev = 0
		}
		b.Link = append(b.Link, BundleLink{Relation: "previous", URL: p.pageURL(prev)})
	}
}

func (p PageLinks) pageURL(offset int) string {
	q := url.Values{}
	for k, vs := range p.Query {
		q[k] = append([]string(nil), vs...)
	}
	q.Set("_count", strconv.Itoa(p.Count))
	if offset > 0 {
		q.Set("_offset", strconv.Itoa(offset))
	} else {
		q.Del("_offset")
	}
	u := p.BaseURL + p.Path
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

// HistoryEntry appends a history entry with its request and response blocks.
// Deleted versions carry no resource body.
func (b *Bundle) HistoryEntry(baseURL, resourceType, id string, versionID int, action string, ts time.Time, resource json.RawMessage) {
	entry := BundleEntry{
		FullURL: baseURL + "/" + resourceType + "/" + id,
		Response: &BundleEntryResponse{
			Status:       historyStatus(action),
			Etag:         WeakETag(versionID),
			LastModified: ts.UTC().Format(time.RFC3339),
		},
		Request: &BundleEntryRequest{
			Method: historyMethod(action),
			URL:    historyRequestURL(resourceType, id, action),
		},
	}
	if action != "DELETE" {
		entry.Resource = resource
	}
	b.Entry = append(b.Entry, entry)
}

func historyMethod(action string) string {
	switch action {
	case "CREATE":
		return "POST"
	case "DELETE":
		return "DELETE"
	default:
		return "PUT"
	}
}

func historyStatus(action string) string {
	switch action {
	case "CREATE":
		return "201 Created"
	case "DELETE":
		return "204 No Content"
	default:
		return "200 OK"
	}
}

func historyRequestURL(resourceType, id, action string) string {
	if action == "CREATE" {
		return resourceType
	}
	return resourceType + "/" + id
}
