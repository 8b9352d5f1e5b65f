package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	apitrace "go.opentelemetry.io/otel/trace"
)

func sampleDecision(t *testing.T, s sdktrace.Sampler) sdktrace.SamplingDecision {
	t.Helper()
	tid := apitrace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	res := s.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       tid,
		Name:          "op",
	})
	return res.Decision
}

func TestParseSampler(t *testing.T) {
	cases := []struct {
		arg  string
		want sdktrace.SamplingDecision
	}{
		{"", sdktrace.RecordAndSample},
		{"garbage", sdktrace.RecordAndSample},
		{"1", sdktrace.RecordAndSample},
		{"2", sdktrace.RecordAndSample},
		{"0", sdktrace.Drop},
		{"-1", sdktrace.Drop},
	}
	for _, c := range cases {
		if got := sampleDecision(t, parseSampler(c.arg)); got != c.want {
			t.Fatalf("arg %q: decision = %v, want %v", c.arg, got, c.want)
		}
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("TELEMETRY_TEST_INT", "7")
	if got := envInt("TELEMETRY_TEST_INT", 3); got != 7 {
		t.Fatalf("envInt = %d", got)
	}
	t.Setenv("TELEMETRY_TEST_INT", "not-a-number")
	if got := envInt("TELEMETRY_TEST_INT", 3); got != 3 {
		t.Fatalf("bad value must fall back, got %d", got)
	}
	if got := envInt("TELEMETRY_TEST_INT_MISSING", 11); got != 11 {
		t.Fatalf("missing value must fall back, got %d", got)
	}
}

func TestInitWithoutExporter(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := Init(context.Background(), "cms-test")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if shutdown == nil {
		t.Fatal("expected shutdown func")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInstrumentClient(t *testing.T) {
	c := InstrumentClient(nil)
	if c == nil || c.Transport == nil {
		t.Fatal("nil client must become an instrumented client")
	}
	existing := &http.Client{}
	got := InstrumentClient(existing)
	if got != existing {
		t.Fatal("existing client must be returned, not replaced")
	}
	if got.Transport == nil {
		t.Fatal("existing client must gain an instrumented transport")
	}
}

func TestHTTPMiddleware(t *testing.T) {
	mw := HTTPMiddleware("cms-test")
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHTTPMiddlewareDefaultServiceName(t *testing.T) {
	mw := HTTPMiddleware("  ")
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestInitExporterRequiredVsOptional(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector.invalid:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_TIMEOUT_SEC", "1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	t.Setenv("OTEL_REQUIRED", "false")
	shutdown, err := Init(ctx, "cms-test")
	if err != nil {
		t.Fatalf("optional exporter failure must fall back, got %v", err)
	}
	if shutdown == nil {
		t.Fatal("expected local-only shutdown func")
	}
	_ = shutdown(context.Background())

	t.Setenv("OTEL_REQUIRED", "true")
	if _, err := Init(ctx, "cms-test"); err == nil {
		t.Fatal("required exporter failure must surface as an error")
	}
}

func TestInitExporterSuccessInsecure(t *testing.T) {
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer collector.Close()

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", collector.Listener.Addr().String())
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")
	t.Setenv("OTEL_REQUIRED", "true")

	shutdown, err := Init(context.Background(), "cms-test")
	if err != nil {
		t.Fatalf("Init with reachable collector: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
