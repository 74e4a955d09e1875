package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// routes mounts the API under /api/v1.
//
//	GET    /health                          public
//	GET    /ws?ticket=                      ticket checked by the handler
//	POST   /auth/ws-ticket                  viewer
//	GET    /devices[?liveness=]             viewer
//	GET    /devices/{id}                    viewer
//	DELETE /devices/{id}                    operator
//	POST   /devices/{id}/investigate        operator
//	POST   /devices/{id}/functions/{fid}    operator
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(withRequestID, middleware.RealIP, s.accessLog, s.recoverPanics)
	r.Use(cors.Handler(s.corsOptions()))
	r.Use(middleware.RequestSize(maxBodyBytes))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Get("/devices", s.handleListDevices)
			r.Get("/devices/{id}", s.handleGetDevice)

			r.Group(func(r chi.Router) {
				r.Use(s.requireOperator)
				r.Delete("/devices/{id}", s.handleDeleteDevice)
				r.Post("/devices/{id}/investigate", s.handleInvestigate)
				r.Post("/devices/{id}/functions/{fid}", s.handleInvoke)
			})
		})
	})

	return r
}

// corsOptions allows every origin unless api.cors.allowed_origins is set.
func (s *Server) corsOptions() cors.Options {
	origins := s.cfg.CORS.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", headerRequestID},
		ExposedHeaders: []string{headerRequestID},
		MaxAge:         600,
	}
}

// handleHealth serves the reporter's latest snapshot, or a minimal status
// when the server runs without one.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health != nil {
		writeJSON(w, http.StatusOK, s.health.Current())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "ok",
		"version":             s.version,
		"devices":             s.registry.Count(),
		"investigation_queue": s.registry.QueueLength(),
	})
}
