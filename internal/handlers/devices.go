package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/xelth-com/sensestamp/internal/apperr"
	"github.com/xelth-com/sensestamp/internal/middleware"
	"github.com/xelth-com/sensestamp/internal/services/registry"
)

// registerDevice creates a device for the caller. The secret appears only in this response.
func (r *Router) registerDevice(w http.ResponseWriter, req *http.Request) {
	var body registry.RegisterRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		r.respondError(w, req, apperr.Validation("Invalid JSON payload"))
		return
	}

	reg, err := r.deps.Registry.Register(req.Context(), middleware.OwnerID(req.Context()), body)
	if err != nil {
		r.respondError(w, req, err)
		return
	}

	respondJSON(w, http.StatusCreated, reg)
}

// listDevices returns the caller's devices
func (r *Router) listDevices(w http.ResponseWriter, req *http.Request) {
	devices, err := r.deps.Registry.List(req.Context(), middleware.OwnerID(req.Context()))
	if err != nil {
		r.respondError(w, req, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"devices": devices})
}
