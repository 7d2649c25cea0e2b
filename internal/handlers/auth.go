package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/xelth-com/sensestamp/internal/apperr"
	"github.com/xelth-com/sensestamp/internal/middleware"
)

// TokenRequest exchanges an API key for a session token
type TokenRequest struct {
	APIKey string `json:"api_key"`
}

// issueToken exchanges an API key (JSON body or bearer header) for a session JWT
func (r *Router) issueToken(w http.ResponseWriter, req *http.Request) {
	var body TokenRequest
	if req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			r.respondError(w, req, apperr.Validation("Invalid JSON payload"))
			return
		}
	}
	if body.APIKey == "" {
		body.APIKey = middleware.BearerToken(req)
	}
	if body.APIKey == "" {
		r.respondError(w, req, apperr.Unauthorized("Missing API key"))
		return
	}

	session, err := r.deps.Tenants.IssueSession(req.Context(), body.APIKey)
	if err != nil {
		r.respondError(w, req, err)
		return
	}

	respondJSON(w, http.StatusOK, session)
}
