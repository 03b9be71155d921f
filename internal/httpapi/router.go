// Package httpapi exposes the broker over the Open Service Broker wire
// protocol.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cloud-gov/external-domain-broker/internal/broker"
	"github.com/cloud-gov/external-domain-broker/internal/config"
	"github.com/cloud-gov/external-domain-broker/internal/middleware"
)

// Server handles the OSB HTTP surface.
type Server struct {
	broker *broker.Broker
	cfg    *config.Config
	logger *slog.Logger
	ready  func() error
}

// NewServer creates the HTTP API server. ready is polled by the readiness
// endpoint; it should check the backing stores.
func NewServer(b *broker.Broker, cfg *config.Config, logger *slog.Logger, ready func() error) *Server {
	return &Server{broker: b, cfg: cfg, logger: logger.With("component", "httpapi"), ready: ready}
}

// Router assembles the chi router with the full middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(s.logger))
	r.Use(middleware.Metrics())
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(middleware.CORS())

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v2", func(r chi.Router) {
		r.Use(middleware.BasicAuth(s.cfg.Server.BrokerUser, s.cfg.Server.BrokerPass))

		r.Get("/catalog", s.handleCatalog)
		r.Route("/service_instances/{instance_id}", func(r chi.Router) {
			r.Put("/", s.handleProvision)
			r.Patch("/", s.handleUpdate)
			r.Delete("/", s.handleDeprovision)
			r.Get("/last_operation", s.handleLastOperation)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.ready(); err != nil {
		s.logger.Error("readiness check failed", "error", err)
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}
