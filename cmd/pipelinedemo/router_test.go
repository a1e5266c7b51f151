package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/AlfredDev/pipelinecore/metrics"
	"github.com/AlfredDev/pipelinecore/pipeline"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	collector := metrics.NewCollector(metrics.CollectorConfig{}, zerolog.Nop())
	prom := metrics.NewPrometheusExporter()
	collector.AddExporter(prom)

	standard := pipeline.NewStandardPipeline(EchoHandler())
	if err := standard.AddMiddlewares(&authMiddleware{priority: 10}, &metricsMiddleware{priority: 40, collector: collector}); err != nil {
		t.Fatalf("AddMiddlewares: %v", err)
	}

	dynamic := pipeline.NewDynamicPipeline()
	if err := dynamic.AddMiddlewares(&authMiddleware{priority: 10}); err != nil {
		t.Fatalf("AddMiddlewares: %v", err)
	}
	dynamic.Register(pipeline.TypeName(UppercaseCommand{}), UppercaseHandler())
	dynamic.Register(pipeline.TypeName(ReverseCommand{}), ReverseHandler())

	return newRouter(&StandardDemo{pipeline: standard}, &DynamicDemo{pipeline: dynamic}, prom)
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if apiKey != "" {
		req.Header.Set("Authorization", apiKey)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealthzReturnsOK(t *testing.T) {
	r := newTestRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestEchoRoundTripsMessage(t *testing.T) {
	r := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/v1/commands/echo", EchoCommand{Message: "hello"}, "secret")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["result"] != "hello" {
		t.Fatalf("expected echoed message, got %+v", body)
	}
	if body["request_id"] == "" || body["request_id"] == nil {
		t.Fatalf("expected a populated request_id, got %+v", body)
	}
}

func TestEchoWithoutAPIKeyIsUnauthorized(t *testing.T) {
	r := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/v1/commands/echo", EchoCommand{Message: "hello"}, "")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDynamicUppercaseRoutesByKind(t *testing.T) {
	r := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/v1/commands/uppercase", map[string]string{"text": "abc"}, "secret")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["result"] != "ABC" {
		t.Fatalf("expected ABC, got %+v", body)
	}
}

func TestDynamicUnknownKindReturnsNotFound(t *testing.T) {
	r := newTestRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/v1/commands/nonexistent", map[string]string{"text": "abc"}, "secret")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsEndpointServesPrometheusExposition(t *testing.T) {
	r := newTestRouter(t)
	doJSON(t, r, http.MethodPost, "/v1/commands/echo", EchoCommand{Message: "hi"}, "secret")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
