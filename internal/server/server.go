// Package server exposes the read-side HTTP API: alert views per feed,
// configuration updates, health, and Prometheus metrics. A unified cross-feed
// view is plain concatenation at this layer; the engines stay independent.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quietdesk/stillwatch/internal/alertcfg"
	"github.com/quietdesk/stillwatch/internal/alertlog"
	"github.com/quietdesk/stillwatch/internal/logger"
	"github.com/quietdesk/stillwatch/internal/models"
	"github.com/quietdesk/stillwatch/internal/pipeline"
)

// Server routes API requests to the per-feed pipelines.
type Server struct {
	pipelines map[string]*pipeline.Pipeline
	order     []string
}

// New creates a server over the given pipelines, preserving feed order.
func New(pipelines []*pipeline.Pipeline) *Server {
	s := &Server{pipelines: make(map[string]*pipeline.Pipeline, len(pipelines))}
	for _, p := range pipelines {
		s.pipelines[p.Name()] = p
		s.order = append(s.order, p.Name())
	}
	return s
}

// Router builds the chi router for the API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/alerts", s.handleAllAlerts)
		r.Route("/feeds", func(r chi.Router) {
			r.Get("/", s.handleFeeds)
			r.Route("/{feed}", func(r chi.Router) {
				r.Get("/alerts", s.handleAlerts)
				r.Delete("/alerts", s.handleClearAlerts)
				r.Get("/inactive", s.handleInactive)
				r.Get("/configs", s.handleConfigs)
				r.Put("/configs/{key}", s.handleSetConfig)
				r.Post("/configs", s.handleSetConfigs)
			})
		})
	})

	return r
}

func (s *Server) pipelineFor(w http.ResponseWriter, r *http.Request) *pipeline.Pipeline {
	name := chi.URLParam(r, "feed")
	p, ok := s.pipelines[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown feed: "+name)
		return nil
	}
	return p
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	type feedHealth struct {
		Feed  string `json:"feed"`
		State string `json:"state"`
	}
	out := struct {
		Status string       `json:"status"`
		Feeds  []feedHealth `json:"feeds"`
	}{Status: "ok"}
	for _, name := range s.order {
		out.Feeds = append(out.Feeds, feedHealth{
			Feed:  name,
			State: string(s.pipelines[name].ConnState()),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFeeds(w http.ResponseWriter, _ *http.Request) {
	type feedInfo struct {
		Feed             string `json:"feed"`
		State            string `json:"state"`
		TicksProcessed   uint64 `json:"ticks_processed"`
		MalformedDropped uint64 `json:"malformed_dropped"`
		OracleFailures   uint64 `json:"oracle_failures"`
		OpenAlerts       int    `json:"open_alerts"`
	}
	out := make([]feedInfo, 0, len(s.order))
	for _, name := range s.order {
		p := s.pipelines[name]
		stats := p.Stats()
		out = append(out, feedInfo{
			Feed:             name,
			State:            string(p.ConnState()),
			TicksProcessed:   stats.TicksProcessed,
			MalformedDropped: stats.MalformedDropped,
			OracleFailures:   stats.OracleFailures,
			OpenAlerts:       len(p.InactiveInstrumentKeys()),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func queryFromRequest(r *http.Request) (alertlog.Filter, alertlog.Sort) {
	q := r.URL.Query()
	filter := alertlog.Filter{
		Severity: models.Severity(q.Get("severity")),
		Text:     q.Get("q"),
		Status:   models.AlertStatus(q.Get("status")),
	}
	order := alertlog.Sort{
		Field:      alertlog.SortField(q.Get("sort")),
		Descending: q.Get("desc") == "true",
	}
	return filter, order
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	p := s.pipelineFor(w, r)
	if p == nil {
		return
	}
	filter, order := queryFromRequest(r)
	writeJSON(w, http.StatusOK, p.Query(filter, order))
}

// handleAllAlerts concatenates every feed's view, in feed order.
func (s *Server) handleAllAlerts(w http.ResponseWriter, r *http.Request) {
	filter, order := queryFromRequest(r)
	type feedAlerts struct {
		Feed   string              `json:"feed"`
		Alerts []models.AlertEvent `json:"alerts"`
	}
	out := make([]feedAlerts, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, feedAlerts{
			Feed:   name,
			Alerts: s.pipelines[name].Query(filter, order),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClearAlerts(w http.ResponseWriter, r *http.Request) {
	p := s.pipelineFor(w, r)
	if p == nil {
		return
	}
	p.ClearAlerts()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInactive(w http.ResponseWriter, r *http.Request) {
	p := s.pipelineFor(w, r)
	if p == nil {
		return
	}
	keys := p.InactiveInstrumentKeys()
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, keys)
}

// policyDTO is the wire form of an alert policy; duration is in seconds.
type policyDTO struct {
	Enabled            bool    `json:"enabled"`
	Deviation          float64 `json:"deviation"`
	DurationSeconds    int     `json:"duration_seconds"`
	RespectMarketHours bool    `json:"respect_market_hours"`
}

func (d policyDTO) toModel() models.AlertConfig {
	return models.AlertConfig{
		Enabled:            d.Enabled,
		Deviation:          d.Deviation,
		Duration:           time.Duration(d.DurationSeconds) * time.Second,
		RespectMarketHours: d.RespectMarketHours,
	}
}

func fromModel(cfg models.AlertConfig) policyDTO {
	return policyDTO{
		Enabled:            cfg.Enabled,
		Deviation:          cfg.Deviation,
		DurationSeconds:    int(cfg.Duration / time.Second),
		RespectMarketHours: cfg.RespectMarketHours,
	}
}

func (s *Server) handleConfigs(w http.ResponseWriter, r *http.Request) {
	p := s.pipelineFor(w, r)
	if p == nil {
		return
	}
	overrides := make(map[string]policyDTO)
	for key, cfg := range p.Configurations() {
		overrides[key] = fromModel(cfg)
	}
	out := struct {
		Default   policyDTO            `json:"default"`
		Overrides map[string]policyDTO `json:"overrides"`
	}{
		Default:   fromModel(p.DefaultConfiguration()),
		Overrides: overrides,
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	p := s.pipelineFor(w, r)
	if p == nil {
		return
	}
	var dto policyDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config body: "+err.Error())
		return
	}
	key := chi.URLParam(r, "key")
	if err := p.Configure(key, dto.toModel()); err != nil {
		writeError(w, statusForConfigError(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusForConfigError(err error) int {
	if errors.Is(err, alertcfg.ErrInvalidConfig) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) handleSetConfigs(w http.ResponseWriter, r *http.Request) {
	p := s.pipelineFor(w, r)
	if p == nil {
		return
	}
	var body struct {
		Keys   []string  `json:"keys"`
		Config policyDTO `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config body: "+err.Error())
		return
	}
	if len(body.Keys) == 0 {
		writeError(w, http.StatusBadRequest, "keys must not be empty")
		return
	}
	if err := p.ConfigureMany(body.Keys, body.Config.toModel()); err != nil {
		writeError(w, statusForConfigError(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
