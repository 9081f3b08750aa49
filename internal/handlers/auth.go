// Package handlers implements the HTTP API: authentication, publishing,
// channel discovery, and the SSE stream.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/taskpal/backend/internal/crypto"
	"github.com/taskpal/backend/internal/logging"
	"github.com/taskpal/backend/internal/models"
	"github.com/taskpal/backend/internal/services"
	"github.com/taskpal/backend/internal/store"
)

// AuthHandler exchanges credentials for JWT tokens.
type AuthHandler struct {
	store       *store.Store
	authService *services.AuthService
}

// NewAuthHandler creates an AuthHandler with the required dependencies.
func NewAuthHandler(st *store.Store, authService *services.AuthService) *AuthHandler {
	return &AuthHandler{store: st, authService: authService}
}

// Login verifies email/password credentials and returns a signed token.
// Unknown emails and wrong passwords get the same response so the endpoint
// does not leak which accounts exist.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logging.LogSecurityEvent(r.Context(), logging.SecurityEventBadCredentials, "login with unknown email")
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to look up user", err)
		return
	}

	if !crypto.CheckPassword(user.PasswordHash, req.Password) {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventBadCredentials, "login with wrong password")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.authService.GenerateToken(user.ID)
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to generate token", err)
		return
	}

	writeJSON(w, http.StatusOK, models.LoginResponse{Token: token, UserID: user.ID})
}
