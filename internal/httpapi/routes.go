package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/lydongcanh/sprintopia/internal/hub"
	"github.com/lydongcanh/sprintopia/internal/ws"
)

// SetupRoutes wires the REST surface, the health probe and the
// realtime websocket endpoint. allowedOrigins feeds both CORS and the
// websocket origin check.
func SetupRoutes(api *API, h *hub.Hub, log *zap.Logger, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	})
	r.Use(c.Handler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/grooming-sessions", func(r chi.Router) {
			r.Post("/", api.createSession)
			r.Get("/", api.listSessions)
			r.Get("/{id}", api.getSession)
			r.Put("/{id}/users/{userID}", api.joinSession)
			r.Delete("/{id}/users/{userID}", api.leaveSession)
		})
		r.Route("/users", func(r chi.Router) {
			r.Post("/", api.createUser)
			r.Get("/{id}", api.getUser)
		})
	})

	r.Get("/healthz", api.healthz)
	r.Get("/realtime", ws.Handler(h, log, allowedOrigins))
	return r
}
