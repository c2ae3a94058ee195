// Package telemetry counts FHIR operations by resource type and operation
// and serves them in Prometheus text exposition format, without importing
// a metrics SDK.
package telemetry

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/labstack/echo/v4"
)

type counterStore struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newCounterStore() *counterStore {
	return &counterStore{items: make(map[string]*int64)}
}

func (s *counterStore) inc(key string) {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		atomic.AddInt64(p, 1)
		return
	}
	s.mu.Lock()
	p, ok = s.items[key]
	if !ok {
		v := int64(1)
		s.items[key] = &v
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	atomic.AddInt64(p, 1)
}

func (s *counterStore) get(key string) int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

func (s *counterStore) snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]int64, len(s.items))
	for k, p := range s.items {
		cp[k] = atomic.LoadInt64(p)
	}
	return cp
}

// Provider records operation counts for the whole process. Construct one in
// main and pass it down; there are no package-level globals.
type Provider struct {
	counters *counterStore
}

// NewProvider creates a telemetry provider.
func NewProvider() *Provider {
	return &Provider{counters: newCounterStore()}
}

// CountOperation increments the fhir.operation.count metric for a resource
// type and operation (read, create, update, delete, search, history, ...).
func (p *Provider) CountOperation(resourceType, operation string) {
	p.counters.inc("fhir.operation.count|" + resourceType + "|" + operation)
}

// OperationCount returns the current count for a resource type/operation.
func (p *Provider) OperationCount(resourceType, operation string) int64 {
	return p.counters.get("fhir.operation.count|" + resourceType + "|" + operation)
}

// PrometheusHandler serves the counters in Prometheus text format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder
		b.WriteString("# HELP fhir_operation_count Total FHIR operations by resource type and operation.\n")
		b.WriteString("# TYPE fhir_operation_count counter\n")

		snap := p.counters.snapshot()
		keys := make([]string, 0, len(snap))
		for k := range snap {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, key := range keys {
			parts := strings.SplitN(key, "|", 3)
			if len(parts) == 3 && parts[0] == "fhir.operation.count" {
				fmt.Fprintf(&b, "fhir_operation_count{resource_type=%q,operation=%q} %d\n",
					parts[1], parts[2], snap[key])
			}
		}

		return c.String(http.StatusOK, b.String())
	}
}
