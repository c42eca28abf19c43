// Package api provides HTTP handlers and routing for the lineage service.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server holds the HTTP handlers and dependencies.
type Server struct {
	router   *mux.Router
	handlers *Handlers
}

// NewServer creates a new API server with the given handlers.
func NewServer(h *Handlers) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		handlers: h,
	}
	s.setupRoutes()
	return s
}

// Router returns the configured router for use with http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	// Health endpoints
	s.router.HandleFunc("/health", s.handlers.Health).Methods("GET")
	s.router.HandleFunc("/healthz", s.handlers.Health).Methods("GET")
	s.router.HandleFunc("/ready", s.handlers.Ready).Methods("GET")

	// Prometheus metrics
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Graph management
	api.HandleFunc("/graphs", s.handlers.BuildGraph).Methods("POST")
	api.HandleFunc("/graphs", s.handlers.ListGraphs).Methods("GET")
	api.HandleFunc("/graphs/{id}", s.handlers.GetGraph).Methods("GET")
	api.HandleFunc("/graphs/{id}", s.handlers.DeleteGraph).Methods("DELETE")
	api.HandleFunc("/graphs/{id}/select", s.handlers.SelectNodes).Methods("POST")
	api.HandleFunc("/graphs/{id}/batches", s.handlers.StartBatch).Methods("POST")

	// Batch actions
	api.HandleFunc("/batches", s.handlers.ListBatches).Methods("GET")
	api.HandleFunc("/batches/{id}", s.handlers.GetBatch).Methods("GET")
	api.HandleFunc("/batches/{id}/cancel", s.handlers.CancelBatch).Methods("POST")
	api.HandleFunc("/batches/{id}/events", s.handlers.StreamBatchEvents).Methods("GET")

	// BatchStore diagnostics
	api.HandleFunc("/batchstore/info", s.handlers.BatchStoreInfo).Methods("GET")
	api.HandleFunc("/batchstore/selfcheck", s.handlers.BatchStoreSelfCheck).Methods("GET")

	// Apply middleware
	s.router.Use(s.handlers.CORSMiddleware)
	s.router.Use(s.handlers.LoggingMiddleware)
	s.router.Use(s.handlers.RecoveryMiddleware)
}
