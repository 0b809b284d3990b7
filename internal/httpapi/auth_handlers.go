package httpapi

import (
	"net/http"
	"strings"
	"time"

	"vantadb.org/internal/access"
	"vantadb.org/internal/audit"
	"vantadb.org/internal/auth"
)

type tokenRequest struct {
	User      string `json:"user"`
	Role      string `json:"role"`
	Level     string `json:"level"`
	Namespace string `json:"namespace"`
	Database  string `json:"database"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

const tokenTTL = 15 * time.Minute

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user := strings.TrimSpace(req.User)
	if user == "" {
		writeError(w, r, http.StatusBadRequest, "user is required")
		return
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	scope := access.Target{
		Level:     access.Level(strings.TrimSpace(req.Level)),
		Namespace: strings.TrimSpace(req.Namespace),
		Database:  strings.TrimSpace(req.Database),
	}
	if scope.Level == "" {
		scope.Level = access.LevelRoot
	}
	if err := scope.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	actor := auth.Actor{Name: user, Role: role, Scope: scope}
	token, err := auth.GenerateToken(actor, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(tokenTTL)
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"user":       user,
		"role":       string(role),
		"level":      string(scope.Level),
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
