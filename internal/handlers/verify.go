package handlers

import (
	"net/http"
	"strconv"

	"github.com/xelth-com/sensestamp/internal/apperr"
)

// verifyEvent is the public proof lookup
func (r *Router) verifyEvent(w http.ResponseWriter, req *http.Request) {
	result, err := r.deps.Proof.Lookup(req.Context(), req.URL.Query().Get("id"))
	if err != nil {
		r.respondError(w, req, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// verifyQRCode renders the public verify URL of an event as a PNG
func (r *Router) verifyQRCode(w http.ResponseWriter, req *http.Request) {
	size := 0
	if raw := req.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			r.respondError(w, req, apperr.Validation("size must be an integer"))
			return
		}
		size = n
	}

	png, err := r.deps.Proof.QRCode(req.Context(), req.URL.Query().Get("id"), size)
	if err != nil {
		r.respondError(w, req, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
