// Package api exposes the HTTP interface for the crawl service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/config"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/crawl"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/metrics"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/orchestrator"
	"go.uber.org/zap"
)

// Engine is the orchestrator surface the HTTP layer depends on.
type Engine interface {
	Submit(ctx context.Context, req crawl.Request) (*orchestrator.Handle, error)
	SubmitBatch(ctx context.Context, reqs []crawl.Request) ([]*orchestrator.Handle, error)
	Await(ctx context.Context, h *orchestrator.Handle) (crawl.Record, error)
	Job(id string) (orchestrator.Snapshot, bool)
	Strategies() []string
}

// Server wires HTTP handlers to the orchestrator.
type Server struct {
	router chi.Router
	engine Engine
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(engine Engine, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine: engine,
		cfg:    cfg,
		logger: logger,
	}

	timeout := time.Duration(cfg.Server.RequestTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(timeout))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/extract", s.extract)
		r.Get("/strategies", s.listStrategies)
		r.Post("/jobs", s.submitJob)
		r.Post("/jobs/batch", s.submitBatch)
		r.Get("/jobs/{job_id}", s.getJob)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// extract runs the pipeline synchronously and returns the record.
func (s *Server) extract(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	handle, err := s.engine.Submit(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}

	record, err := s.engine.Await(r.Context(), handle)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			writeError(w, http.StatusGatewayTimeout, "extraction did not finish in time")
			return
		}
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, extractResponse{JobID: handle.JobID, Record: record})
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	handle, err := s.engine.Submit(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": handle.JobID})
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	var batch batchRequest
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(batch.Jobs) == 0 {
		writeError(w, http.StatusBadRequest, "jobs required")
		return
	}

	reqs := make([]crawl.Request, 0, len(batch.Jobs))
	for _, item := range batch.Jobs {
		reqs = append(reqs, s.toCrawlRequest(item))
	}

	handles, err := s.engine.SubmitBatch(r.Context(), reqs)
	if err != nil {
		writeFailure(w, err)
		return
	}
	ids := make([]string, 0, len(handles))
	for _, h := range handles {
		ids = append(ids, h.JobID)
	}
	writeJSON(w, http.StatusAccepted, map[string][]string{"job_ids": ids})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.engine.Job(chi.URLParam(r, "job_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) listStrategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"strategies": s.engine.Strategies()})
}

func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (crawl.Request, bool) {
	var body jobRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return crawl.Request{}, false
	}
	if body.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return crawl.Request{}, false
	}
	return s.toCrawlRequest(body), true
}

// toCrawlRequest fills unset knobs from configuration.
func (s *Server) toCrawlRequest(body jobRequest) crawl.Request {
	strategy := body.Strategy
	if strategy == "" {
		strategy = "article"
	}

	policy := crawl.FetchPolicy{
		Wait:           crawl.WaitMode(body.Wait),
		WaitSelector:   body.WaitSelector,
		Delay:          time.Duration(body.DelayMs) * time.Millisecond,
		Timeout:        time.Duration(body.TimeoutMs) * time.Millisecond,
		ViewportWidth:  body.ViewportWidth,
		ViewportHeight: body.ViewportHeight,
		MaxRedirects:   body.MaxRedirects,
		ProbeFallback:  boolOrDefault(body.ProbeFallback, s.cfg.Probe.Enabled),
	}
	if policy.Wait == "" {
		policy.Wait = crawl.WaitMode(s.cfg.Fetch.DefaultWait)
	}
	if policy.MaxRedirects == 0 {
		policy.MaxRedirects = s.cfg.Fetch.MaxRedirects
	}
	if len(body.Headers) > 0 {
		policy.Headers = make(http.Header, len(body.Headers))
		for k, v := range body.Headers {
			policy.Headers.Set(k, v)
		}
	}

	return crawl.Request{
		URL:      body.URL,
		Strategy: strategy,
		Priority: body.Priority,
		Policy:   policy,
	}
}

type jobRequest struct {
	URL            string            `json:"url"`
	Strategy       string            `json:"strategy"`
	Priority       int               `json:"priority"`
	Wait           string            `json:"wait"`
	WaitSelector   string            `json:"wait_selector"`
	DelayMs        int               `json:"delay_ms"`
	TimeoutMs      int               `json:"timeout_ms"`
	MaxRedirects   int               `json:"max_redirects"`
	ViewportWidth  int               `json:"viewport_width"`
	ViewportHeight int               `json:"viewport_height"`
	Headers        map[string]string `json:"headers"`
	ProbeFallback  *bool             `json:"probe_fallback"`
}

type batchRequest struct {
	Jobs []jobRequest `json:"jobs"`
}

type extractResponse struct {
	JobID  string       `json:"job_id"`
	Record crawl.Record `json:"record"`
}

func boolOrDefault(ptr *bool, def bool) bool {
	if ptr == nil {
		return def
	}
	return *ptr
}

// writeFailure maps a classified pipeline failure onto an HTTP status.
func writeFailure(w http.ResponseWriter, err error) {
	failure := crawl.AsFailure(err)
	status := http.StatusBadGateway
	switch failure.Class {
	case crawl.FailInvalidRequest:
		status = http.StatusBadRequest
	case crawl.FailPoolExhausted, crawl.FailPoolDrained:
		status = http.StatusServiceUnavailable
	case crawl.FailTimeout:
		status = http.StatusGatewayTimeout
	case crawl.FailExtraction:
		status = http.StatusUnprocessableEntity
	}

	payload := map[string]any{
		"error": failure.Error(),
		"class": string(failure.Class),
	}
	if failure.StatusCode != 0 {
		payload["upstream_status"] = failure.StatusCode
	}
	if failure.Partial != nil {
		payload["partial"] = failure.Partial
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
