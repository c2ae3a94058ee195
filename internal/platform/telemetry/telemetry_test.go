package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestCountOperation(t *testing.T) {
	p := NewProvider()
	p.CountOperation("Patient", "read")
	p.CountOperation("Patient", "read")
	p.CountOperation("Observation", "search")

	if got := p.OperationCount("Patient", "read"); got != 2 {
		t.Errorf("Patient read count = %d, want 2", got)
	}
	if got := p.OperationCount("Observation", "search"); got != 1 {
		t.Errorf("Observation search count = %d, want 1", got)
	}
	if got := p.OperationCount("Patient", "delete"); got != 0 {
		t.Errorf("unrecorded operation count = %d, want 0", got)
	}
}

func TestPrometheusHandler(t *testing.T) {
	p := NewProvider()
	p.CountOperation("Patient", "read")
	p.CountOperation("Observation", "search")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	if err := p.PrometheusHandler()(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler: %v", err)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "# TYPE fhir_operation_count counter") {
		t.Errorf("body lacks TYPE line: %q", body)
	}
	if !strings.Contains(body, `fhir_operation_count{resource_type="Patient",operation="read"} 1`) {
		t.Errorf("body lacks Patient read sample: %q", body)
	}
	if !strings.Contains(body, `fhir_operation_count{resource_type="Observation",operation="search"} 1`) {
		t.Errorf("body lacks Observation search sample: %q", body)
	}
}
