package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestObserveAndSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Observe("GET /api/pages", 200, 40*time.Millisecond)
	r.Observe("GET /api/pages", 502, 60*time.Millisecond)
	r.ObserveLatency("GET /api/pages", 40*time.Millisecond)

	snap := r.Snapshot()
	ep, ok := snap.Endpoints["GET /api/pages"]
	if !ok {
		t.Fatalf("missing endpoint stat: %v", snap.Endpoints)
	}
	if ep.Count != 2 || ep.ErrorCount != 1 {
		t.Fatalf("unexpected counts %+v", ep)
	}
	if ep.MaxMillis != 60 || ep.AverageMillis != 50 {
		t.Fatalf("unexpected latency stats %+v", ep)
	}
	if ep.LastStatusCode != 502 {
		t.Fatalf("unexpected last status %d", ep.LastStatusCode)
	}
	if len(snap.Histograms) != 1 || snap.Histograms[0].Count != 1 {
		t.Fatalf("unexpected histograms %+v", snap.Histograms)
	}
}

func TestToolCounters(t *testing.T) {
	r := NewRegistry()
	r.IncTool("createPage")
	r.IncTool("createPage")
	r.IncToolError("createPage", "validation_failed")
	r.IncToolError("createPage", "")
	r.IncTool("  ")

	snap := r.Snapshot()
	if snap.ToolCalls["createPage"] != 2 {
		t.Fatalf("tool calls = %v", snap.ToolCalls)
	}
	if snap.ToolErrors["createPage|validation_failed"] != 1 || snap.ToolErrors["createPage|unknown"] != 1 {
		t.Fatalf("tool errors = %v", snap.ToolErrors)
	}
	if len(snap.ToolCalls) != 1 {
		t.Fatalf("blank tool names must be ignored: %v", snap.ToolCalls)
	}
}

func TestPrometheusHandler(t *testing.T) {
	r := NewRegistry()
	r.Observe("POST /api/mcp/dispatch", 200, 10*time.Millisecond)
	r.IncTool("createPage")
	r.IncToolError("createPage", "not_found")
	r.SetGauge("pages_total", 12)

	rec := httptest.NewRecorder()
	r.PrometheusHandler()(rec, httptest.NewRequest(http.MethodGet, "/metrics/prometheus", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`cms_endpoint_count{endpoint="POST /api/mcp/dispatch"} 1`,
		`cms_tool_calls_total{tool="createPage"} 1`,
		`cms_tool_errors_total{tool="createPage",code="not_found"} 1`,
		`cms_gauge{name="pages_total"} 12.000`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("prometheus output missing %q:\n%s", want, body)
		}
	}
}

func TestJSONHandler(t *testing.T) {
	r := NewRegistry()
	r.IncTool("createArticle")
	rec := httptest.NewRecorder()
	r.Handler()(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("content type %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), `"createArticle": 1`) {
		t.Fatalf("snapshot body missing tool count: %s", rec.Body.String())
	}
}
