package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/artisanhub/internal/auth"
	"github.com/example/artisanhub/internal/remote"
	"github.com/rs/zerolog"
)

// Server holds the edge function handlers. They are thin wrappers over a
// remote.Store so the same code serves Postgres and DynamoDB deployments.
type Server struct {
	store  remote.Store
	jwt    *auth.JWTService
	logger zerolog.Logger
}

func NewServer(store remote.Store, jwtService *auth.JWTService, logger zerolog.Logger) *Server {
	return &Server{
		store:  store,
		jwt:    jwtService,
		logger: logger.With().Str("component", "api").Logger(),
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	env := remote.Envelope{Success: true}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			respondJSONError(w, "failed to encode response", http.StatusInternalServerError)
			return
		}
		env.Data = raw
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func respondJSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(remote.Envelope{Success: false, Error: message})
}

// respondStoreError maps remote.Store errors onto HTTP statuses
func (s *Server) respondStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, remote.ErrNotFound):
		respondJSONError(w, "not found", http.StatusNotFound)
	case errors.Is(err, remote.ErrConflict):
		respondJSONError(w, "already exists", http.StatusConflict)
	case errors.Is(err, remote.ErrInvalidUser), errors.Is(err, remote.ErrInvalidLine):
		respondJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, remote.ErrUnavailable):
		s.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("store unavailable")
		respondJSONError(w, "service unavailable", http.StatusServiceUnavailable)
	default:
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("store call failed")
		respondJSONError(w, "internal error", http.StatusInternalServerError)
	}
}
