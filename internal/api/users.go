package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/artisanhub/internal/auth"
	"github.com/example/artisanhub/internal/remote"
	"github.com/go-chi/chi/v5"
)

// Register handles POST /users
func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	var req remote.NewUser
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Email = remote.NormalizeEmail(req.Email)
	if req.Email == "" {
		respondJSONError(w, "email is required", http.StatusBadRequest)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) {
			respondJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		respondJSONError(w, "failed to hash password", http.StatusInternalServerError)
		return
	}
	req.Password = ""
	req.PasswordHash = hash

	user, err := s.store.CreateUser(r.Context(), req)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}

	s.respondAuth(w, http.StatusCreated, user)
	s.logger.Info().Str("user_id", user.ID).Bool("is_artisan", user.IsArtisan).Msg("user registered")
}

// Login handles POST /sessions
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req remote.Credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	email := remote.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		respondJSONError(w, "invalid email or password", http.StatusUnauthorized)
		return
	}

	user, err := s.store.GetUser(r.Context(), email)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			respondJSONError(w, "invalid email or password", http.StatusUnauthorized)
			return
		}
		s.respondStoreError(w, r, err)
		return
	}
	if !auth.CheckPassword(req.Password, user.PasswordHash) {
		respondJSONError(w, "invalid email or password", http.StatusUnauthorized)
		return
	}

	s.respondAuth(w, http.StatusOK, user)
}

// GetUser handles GET /users/{userID}; the key may also be the caller's email
func (s *Server) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (s *Server) respondAuth(w http.ResponseWriter, status int, user *remote.UserRecord) {
	token, expiresAt, err := s.jwt.GenerateAccessToken(user.ID, user.Email, user.IsArtisan)
	if err != nil {
		respondJSONError(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	respondJSON(w, status, remote.AuthResult{User: *user, Token: token, ExpiresAt: expiresAt})
}
