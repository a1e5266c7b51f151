package main

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/AlfredDev/pipelinecore/metrics"
	"github.com/AlfredDev/pipelinecore/pipeline"
)

// newRouter wires the demo HTTP surface: POST /v1/commands/echo against
// the StandardPipeline, POST /v1/commands/{kind} against the
// DynamicPipeline, GET /metrics for Prometheus scraping, and GET /healthz.
func newRouter(standard *StandardDemo, dynamic *DynamicDemo, prom *metrics.PrometheusExporter) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)

	r.Get("/healthz", handleHealthz)
	r.Get("/metrics", prom.Handler())

	r.Route("/v1/commands", func(r chi.Router) {
		r.Post("/echo", standard.handleEcho)
		r.Post("/{kind}", dynamic.handleDynamic)
	})

	return r
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// StandardDemo exposes the echo StandardPipeline as an HTTP handler.
type StandardDemo struct {
	pipeline *pipeline.StandardPipeline
}

func (d *StandardDemo) handleEcho(w http.ResponseWriter, r *http.Request) {
	var cmd EchoCommand
	if err := decodeJSON(r, &cmd); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cctx := pipeline.NewCommandContext()
	cctx.SetMetadata("api_key", r.Header.Get("Authorization"))
	cctx.SetMetadata("client_id", r.RemoteAddr)

	result, err := d.pipeline.Execute(r.Context(), cmd, cctx)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result, "request_id": cctx.RequestID()})
}

// DynamicDemo exposes the registry-backed DynamicPipeline as an HTTP
// handler, routing on the {kind} path parameter.
type DynamicDemo struct {
	pipeline *pipeline.DynamicPipeline
}

func (d *DynamicDemo) handleDynamic(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")

	var body struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cmd, err := buildDynamicCommand(kind, body.Text)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	cctx := pipeline.NewCommandContext()
	cctx.SetMetadata("api_key", r.Header.Get("Authorization"))
	cctx.SetMetadata("client_id", r.RemoteAddr)

	result, err := d.pipeline.Execute(r.Context(), cmd, cctx)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result, "request_id": cctx.RequestID()})
}

func decodeJSON(r *http.Request, dst any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body); _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func statusFor(err error) int {
	// The chain wraps middleware failures in MiddlewareError; classify the
	// underlying cause.
	for {
		mwErr, ok := err.(*pipeline.MiddlewareError)
		if !ok || mwErr.Cause == nil {
			break
		}
		err = mwErr.Cause
	}
	switch err.(type) {
	case *pipeline.AuthorizationError:
		return http.StatusUnauthorized
	case *pipeline.RateLimitExceededError:
		return http.StatusTooManyRequests
	case *pipeline.HandlerNotFoundError:
		return http.StatusNotFound
	case *pipeline.TimeoutError:
		return http.StatusGatewayTimeout
	case *pipeline.CancelledError:
		return http.StatusRequestTimeout
	case *pipeline.ValidationError, *pipeline.InvalidCommandTypeError:
		return http.StatusBadRequest
	case *pipeline.RetryExhaustedError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
