// Package server assembles the HTTP surface (spec §4.G): routing,
// middleware, health, and the conversation-log debug endpoints, following
// the shape of pkg/gateway/server/server.go in the teacher.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/voicebridge/proxy/internal/config"
	"github.com/voicebridge/proxy/internal/convlog"
	"github.com/voicebridge/proxy/internal/mw"
	"github.com/voicebridge/proxy/internal/turn"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	cfg      config.Config
	logger   *slog.Logger
	mux      *http.ServeMux
	pipeline *turn.Pipeline
	convlog  *convlog.Log
	registry *prometheus.Registry
	started  time.Time
}

func New(cfg config.Config, logger *slog.Logger, pipeline *turn.Pipeline, log *convlog.Log, registry *prometheus.Registry) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
		pipeline: pipeline,
		convlog:  log,
		registry: registry,
		started:  time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /v1/chat/completions", s.pipeline.Handle)
	// Known routing quirk of the voice platform (SPEC_FULL open question
	// (iii)): the path is sometimes doubled. Same handler, no special-casing.
	s.mux.HandleFunc("POST /v1/chat/completions/chat/completions", s.pipeline.Handle)

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /conversations", s.handleConversationsGet)
	s.mux.HandleFunc("DELETE /conversations", s.handleConversationsDelete)
	s.mux.HandleFunc("GET /debug/tail", s.handleDebugTail)

	if s.cfg.MetricsEnabled && s.registry != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
}

// Handler returns the fully wrapped handler. Middleware is applied
// outermost-last, mirroring the teacher's Handler() assembly.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg)(h)
	h = mw.Recover(s.logger)(h)
	h = mw.AccessLog(s.logger)(h)
	h = mw.RequestID(h)
	return h
}
