package api

import (
	"encoding/json"
	"net/http"

	"github.com/example/artisanhub/internal/api/middleware"
	"github.com/example/artisanhub/internal/remote"
	"github.com/go-chi/chi/v5"
)

// Cart handlers address the authenticated user. RequireSelf has already
// checked that the path names the same user, possibly by email.

func (s *Server) ListCart(w http.ResponseWriter, r *http.Request) {
	lines, err := s.store.ListCartLines(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	if lines == nil {
		lines = []remote.LineRecord{}
	}
	respondJSON(w, http.StatusOK, lines)
}

// UpsertCartLine handles PUT /users/{userID}/cart/{productID}
func (s *Server) UpsertCartLine(w http.ResponseWriter, r *http.Request) {
	var line remote.LineRecord
	if err := json.NewDecoder(r.Body).Decode(&line); err != nil {
		respondJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	productID := chi.URLParam(r, "productID")
	if line.ProductID != "" && line.ProductID != productID {
		respondJSONError(w, "product id does not match path", http.StatusBadRequest)
		return
	}
	line.ProductID = productID
	if line.Quantity <= 0 {
		respondJSONError(w, remote.ErrInvalidLine.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.UpsertCartLine(r.Context(), middleware.GetUserID(r.Context()), line); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, line)
}

func (s *Server) DeleteCartLine(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteCartLine(r.Context(), middleware.GetUserID(r.Context()), chi.URLParam(r, "productID"))
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, nil)
}
