package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fhird/fhird/internal/search"
)

// CapabilityStatement is the subset of the FHIR resource this server
// advertises.
type CapabilityStatement struct {
	ResourceType   string            `json:"resourceType"`
	Status         string            `json:"status"`
	Date           string            `json:"date"`
	Kind           string            `json:"kind"`
	FhirVersion    string            `json:"fhirVersion"`
	Format         []string          `json:"format"`
	Software       capSoftware       `json:"software"`
	Implementation capImplementation `json:"implementation"`
	Rest           []capRest         `json:"rest"`
}

type capSoftware struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type capImplementation struct {
	Description string `json:"description"`
	URL         string `json:"url"`
}

type capRest struct {
	Mode        string           `json:"mode"`
	Resource    []capResource    `json:"resource"`
	Interaction []capInteraction `json:"interaction"`
}

type capResource struct {
	Type        string           `json:"type"`
	Versioning  string           `json:"versioning"`
	ReadHistory bool             `json:"readHistory"`
	Interaction []capInteraction `json:"interaction"`
	SearchParam []capSearchParam `json:"searchParam,omitempty"`
}

type capInteraction struct {
	Code string `json:"code"`
}

type capSearchParam struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// capabilityCache holds the built statement behind an explicit TTL. It is
// constructed once at startup and owned by the server; there is no package
// global.
type capabilityCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	built   time.Time
	current *CapabilityStatement
}

func newCapabilityCache(ttl time.Duration) *capabilityCache {
	return &capabilityCache{ttl: ttl}
}

func (c *capabilityCache) get(build func() *CapabilityStatement) *CapabilityStatement {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || time.Since(c.built) > c.ttl {
		c.current = build()
		c.built = time.Now()
	}
	return c.current
}

func (s *Server) handleMetadata(c echo.Context) error {
	s.metrics.CountOperation("*", "metadata")
	stmt := s.cap.get(s.buildCapability)
	return fhirJSON(c, http.StatusOK, stmt)
}

// buildCapability derives the statement from the same mapping tables that
// drive extraction and parsing, so advertised parameters never drift from
// implemented ones.
func (s *Server) buildCapability() *CapabilityStatement {
	interactions := []capInteraction{
		{Code: "read"}, {Code: "vread"}, {Code: "update"}, {Code: "delete"},
		{Code: "search-type"}, {Code: "create"}, {Code: "history-instance"}, {Code: "history-type"},
	}

	var resources []capResource
	for _, rtype := range search.ResourceTypes() {
		def, _ := search.Defs(rtype)
		params := []capSearchParam{
			{Name: "_id", Type: "token"},
			{Name: "_lastUpdated", Type: "date"},
		}
		for _, p := range def.Params {
			params = append(params, capSearchParam{Name: p.Name, Type: string(p.Type)})
		}
		for _, comp := range def.Composites {
			params = append(params, capSearchParam{Name: comp.Name, Type: "composite"})
		}
		resources = append(resources, capResource{
			Type:        rtype,
			Versioning:  "versioned",
			ReadHistory: true,
			Interaction: interactions,
			SearchParam: params,
		})
	}

	return &CapabilityStatement{
		ResourceType: "CapabilityStatement",
		Status:       "active",
		Date:         time.Now().UTC().Format(time.RFC3339),
		Kind:         "instance",
		FhirVersion:  "4.0.1",
		Format:       []string{"application/fhir+json"},
		Software:     capSoftware{Name: "fhird", Version: "1.0.0"},
		Implementation: capImplementation{
			Description: "FHIR R4 resource server",
			URL:         s.cfg.BaseURL,
		},
		Rest: []capRest{{
			Mode:     "server",
			Resource: resources,
			Interaction: []capInteraction{
				{Code: "transaction"}, {Code: "batch"}, {Code: "history-system"},
			},
		}},
	}
}
