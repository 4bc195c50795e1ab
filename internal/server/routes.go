package server

import (
	"net/http"

	"github.com/jackzampolin/castwright/internal/api"
	"github.com/jackzampolin/castwright/internal/server/endpoints"
)

// registerRoutes mounts every endpoint. Pipeline routes go through
// requireInit.
func (s *Server) registerRoutes(mux *http.ServeMux, metrics http.Handler) {
	registry := api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{MetricsHandler: metrics}) {
		registry.Register(ep)
	}
	registry.RegisterRoutes(mux, s.requireInit)
}
