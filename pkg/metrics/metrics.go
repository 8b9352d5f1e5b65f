package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry is the in-process metrics store: per-endpoint request stats,
// per-tool dispatch counters, and operational gauges.
type Registry struct {
	mu         sync.RWMutex
	endpoint   map[string]*EndpointStat
	toolCalls  map[string]int64
	toolErrors map[string]int64
	gauges     map[string]float64
	Histograms *HistogramRegistry
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

type Snapshot struct {
	GeneratedAt string                  `json:"generated_at"`
	Endpoints   map[string]EndpointStat `json:"endpoints"`
	ToolCalls   map[string]int64        `json:"tool_calls"`
	ToolErrors  map[string]int64        `json:"tool_errors"`
	Gauges      map[string]float64      `json:"gauges"`
	Histograms  []HistogramSnapshot     `json:"histograms,omitempty"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint:   map[string]*EndpointStat{},
		toolCalls:  map[string]int64{},
		toolErrors: map[string]int64{},
		gauges:     map[string]float64{},
		Histograms: NewHistogramRegistry(),
	}
}

func (r *Registry) Observe(path string, status int, d time.Duration) {
	millis := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[path]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[path] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
}

func (r *Registry) ObserveLatency(endpoint string, d time.Duration) {
	r.Histograms.ObserveDuration(endpoint, d)
}

// IncTool counts a dispatch of the named tool.
func (r *Registry) IncTool(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	r.mu.Lock()
	r.toolCalls[name]++
	r.mu.Unlock()
}

// IncToolError counts a failed dispatch under "<tool>|<code>".
func (r *Registry) IncToolError(name, code string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	code = strings.TrimSpace(code)
	if code == "" {
		code = "unknown"
	}
	r.mu.Lock()
	r.toolErrors[name+"|"+code]++
	r.mu.Unlock()
}

func (r *Registry) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Endpoints:   make(map[string]EndpointStat, len(r.endpoint)),
		ToolCalls:   make(map[string]int64, len(r.toolCalls)),
		ToolErrors:  make(map[string]int64, len(r.toolErrors)),
		Gauges:      make(map[string]float64, len(r.gauges)),
	}
	for k, v := range r.endpoint {
		out.Endpoints[k] = *v
	}
	for k, v := range r.toolCalls {
		out.ToolCalls[k] = v
	}
	for k, v := range r.toolErrors {
		out.ToolErrors[k] = v
	}
	for k, v := range r.gauges {
		out.Gauges[k] = v
	}
	out.Histograms = r.Histograms.Snapshots()
	return out
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
	}
}

func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		b := &strings.Builder{}
		b.WriteString("# HELP cms_endpoint_count total requests by endpoint\n")
		b.WriteString("# TYPE cms_endpoint_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "cms_endpoint_count{endpoint=%q} %d\n", ep, snap.Endpoints[ep].Count)
		}
		b.WriteString("# HELP cms_endpoint_error_count total endpoint errors\n")
		b.WriteString("# TYPE cms_endpoint_error_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "cms_endpoint_error_count{endpoint=%q} %d\n", ep, snap.Endpoints[ep].ErrorCount)
		}
		b.WriteString("# HELP cms_endpoint_avg_millis endpoint average latency in milliseconds\n")
		b.WriteString("# TYPE cms_endpoint_avg_millis gauge\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "cms_endpoint_avg_millis{endpoint=%q} %.3f\n", ep, snap.Endpoints[ep].AverageMillis)
		}
		b.WriteString("# HELP cms_tool_calls_total tool dispatches by tool name\n")
		b.WriteString("# TYPE cms_tool_calls_total counter\n")
		for _, tool := range SortedKeys(snap.ToolCalls) {
			fmt.Fprintf(b, "cms_tool_calls_total{tool=%q} %d\n", tool, snap.ToolCalls[tool])
		}
		b.WriteString("# HELP cms_tool_errors_total failed tool dispatches by tool and code\n")
		b.WriteString("# TYPE cms_tool_errors_total counter\n")
		for _, key := range SortedKeys(snap.ToolErrors) {
			parts := strings.SplitN(key, "|", 2)
			code := "unknown"
			if len(parts) == 2 {
				code = parts[1]
			}
			fmt.Fprintf(b, "cms_tool_errors_total{tool=%q,code=%q} %d\n", parts[0], code, snap.ToolErrors[key])
		}
		b.WriteString("# HELP cms_gauge operational gauge metrics\n")
		b.WriteString("# TYPE cms_gauge gauge\n")
		for _, name := range SortedKeys(snap.Gauges) {
			fmt.Fprintf(b, "cms_gauge{name=%q} %.3f\n", name, snap.Gauges[name])
		}
		for _, h := range snap.Histograms {
			b.WriteString("# HELP cms_latency_seconds latency histogram\n")
			b.WriteString("# TYPE cms_latency_seconds histogram\n")
			for _, bucket := range h.Buckets {
				fmt.Fprintf(b, "cms_latency_seconds_bucket{endpoint=%q,le=\"%.3f\"} %d\n", h.Name, bucket.Le, bucket.Count)
			}
			fmt.Fprintf(b, "cms_latency_seconds_bucket{endpoint=%q,le=\"+Inf\"} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "cms_latency_seconds_sum{endpoint=%q} %.6f\n", h.Name, h.Sum)
			fmt.Fprintf(b, "cms_latency_seconds_count{endpoint=%q} %d\n", h.Name, h.Count)
		}
		_, _ = w.Write([]byte(b.String()))
	}
}

func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
