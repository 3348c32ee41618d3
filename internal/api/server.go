// internal/api/server.go

// Package api exposes the egress pool and the task orchestrator over HTTP.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/valpere/scraperotor/internal/events"
	"github.com/valpere/scraperotor/internal/monitoring"
	"github.com/valpere/scraperotor/internal/orchestrator"
	"github.com/valpere/scraperotor/internal/proxy"
	"github.com/valpere/scraperotor/internal/utils"
)

var apiLogger = utils.NewComponentLogger("api")

// Dependencies wired into the server. Pool and Orchestrator are required.
type Dependencies struct {
	Pool         *proxy.Pool
	Monitor      *proxy.HealthMonitor
	Orchestrator *orchestrator.Orchestrator
	Bus          *events.Bus
	Metrics      *monitoring.Metrics
	Health       *monitoring.HealthManager
}

// Server is the management API
type Server struct {
	config Config
	deps   Dependencies
	router *mux.Router
	hub    *Hub
	http   *http.Server
}

// NewServer builds the router. It does not listen until Serve.
func NewServer(config Config, deps Dependencies) (*Server, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	if deps.Pool == nil || deps.Orchestrator == nil {
		return nil, fmt.Errorf("api server requires a pool and an orchestrator")
	}

	s := &Server{config: config, deps: deps}
	if deps.Bus != nil {
		s.hub = NewHub(deps.Bus)
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:         config.Address,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.observeMiddleware, s.rateLimitMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware, s.bodyLimitMiddleware)

	api.HandleFunc("/proxies", s.listProxies).Methods(http.MethodGet)
	api.HandleFunc("/proxies", s.addProxy).Methods(http.MethodPost)
	api.HandleFunc("/proxies/stats", s.poolStats).Methods(http.MethodGet)
	api.HandleFunc("/proxies/check", s.checkProxies).Methods(http.MethodPost)
	api.HandleFunc("/proxies/{id}", s.getProxy).Methods(http.MethodGet)
	api.HandleFunc("/proxies/{id}", s.removeProxy).Methods(http.MethodDelete)
	api.HandleFunc("/proxies/{id}/enable", s.setProxyEnabled(true)).Methods(http.MethodPost)
	api.HandleFunc("/proxies/{id}/disable", s.setProxyEnabled(false)).Methods(http.MethodPost)
	api.HandleFunc("/proxies/{id}/healthy", s.markHealthy).Methods(http.MethodPost)

	api.HandleFunc("/pool/config", s.getPoolConfig).Methods(http.MethodGet)
	api.HandleFunc("/pool/config", s.updatePoolConfig).Methods(http.MethodPut)
	api.HandleFunc("/pool/reset", s.resetPool).Methods(http.MethodPost)
	api.HandleFunc("/quotas", s.listQuotas).Methods(http.MethodGet)

	api.HandleFunc("/tasks", s.listTasks).Methods(http.MethodGet)
	api.HandleFunc("/tasks", s.submitTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks/preview", s.previewTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks/stats", s.taskStats).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}", s.getTask).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}/cancel", s.cancelTask).Methods(http.MethodPost)

	if s.hub != nil {
		api.Handle("/events", s.hub).Methods(http.MethodGet)
	}

	return r
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on l until Shutdown
func (s *Server) Serve(l net.Listener) error {
	apiLogger.WithField("address", l.Addr().String()).Info("management API listening")
	if err := s.http.Serve(l); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured address
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	return s.Serve(l)
}

// Shutdown closes event streams, then drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
