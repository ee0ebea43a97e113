package api

import (
	"net/http"

	"github.com/example/artisanhub/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Recoverer(s.logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondJSONError(w, "not found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/users", s.Register)
	r.Post("/sessions", s.Login)

	r.Route("/users/{userID}", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(s.jwt))
		r.Use(middleware.RequireSelf("userID"))

		r.Get("/", s.GetUser)
		r.Get("/cart", s.ListCart)
		r.Put("/cart/{productID}", s.UpsertCartLine)
		r.Delete("/cart/{productID}", s.DeleteCartLine)
	})

	return r
}
