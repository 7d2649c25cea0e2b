package handlers

import (
	"net/http"

	"github.com/xelth-com/sensestamp/internal/apperr"
	"github.com/xelth-com/sensestamp/internal/middleware"
	"github.com/xelth-com/sensestamp/internal/models"
	"github.com/xelth-com/sensestamp/internal/services/ingest"
	"github.com/xelth-com/sensestamp/internal/websocket"
)

// ingestEvent accepts a signed event from a device
func (r *Router) ingestEvent(w http.ResponseWriter, req *http.Request) {
	event, err := ingest.ParseRequest(req.Body)
	if err != nil {
		r.respondError(w, req, err)
		return
	}

	receipt, err := r.deps.Ingest.Ingest(req.Context(), event)
	if err != nil {
		r.respondError(w, req, err)
		return
	}

	respondJSON(w, http.StatusOK, receipt)
}

// listEvents returns the caller's events, newest first.
// Query: device_id, tag_uid, limit (max 100), offset.
func (r *Router) listEvents(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	page, err := r.deps.Events.List(req.Context(), models.EventFilter{
		OwnerID:  middleware.OwnerID(req.Context()),
		DeviceID: q.Get("device_id"),
		TagUID:   q.Get("tag_uid"),
		Limit:    queryInt(req, "limit"),
		Offset:   queryInt(req, "offset"),
	})
	if err != nil {
		r.respondError(w, req, err)
		return
	}

	respondJSON(w, http.StatusOK, page)
}

// streamEvents upgrades to a websocket that receives the caller's accepted events
func (r *Router) streamEvents(w http.ResponseWriter, req *http.Request) {
	if r.deps.Hub == nil {
		r.respondError(w, req, apperr.NotFound("Live feed disabled"))
		return
	}
	websocket.ServeWs(r.deps.Hub, w, req, middleware.OwnerID(req.Context()))
}
