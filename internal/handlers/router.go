package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/xelth-com/sensestamp/internal/apperr"
	"github.com/xelth-com/sensestamp/internal/buildinfo"
	"github.com/xelth-com/sensestamp/internal/middleware"
	"github.com/xelth-com/sensestamp/internal/services/eventlog"
	"github.com/xelth-com/sensestamp/internal/services/ingest"
	"github.com/xelth-com/sensestamp/internal/services/proof"
	"github.com/xelth-com/sensestamp/internal/services/registry"
	"github.com/xelth-com/sensestamp/internal/services/tenant"
	"github.com/xelth-com/sensestamp/internal/websocket"
)

// Deps are the services behind the HTTP API
type Deps struct {
	Ingest   *ingest.Service
	Registry *registry.Service
	Proof    *proof.Service
	Events   *eventlog.Service
	Tenants  *tenant.Service

	// Hub serves the live feed; nil disables /api/events/stream
	Hub *websocket.Hub

	// Reporter receives internal errors; nil disables reporting
	Reporter *sentry.Client

	Logger zerolog.Logger
}

// Router wraps the mux router and the services
type Router struct {
	*mux.Router
	deps Deps
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(deps Deps) *Router {
	r := &Router{
		Router: mux.NewRouter(),
		deps:   deps,
	}

	r.Use(middleware.RequestIDMiddleware, middleware.LoggerMiddleware(deps.Logger))

	r.HandleFunc("/health", r.healthCheck).Methods(http.MethodGet)

	requireOwner := middleware.AuthMiddleware(deps.Tenants, r.respondError, false)
	requireOwnerWS := middleware.AuthMiddleware(deps.Tenants, r.respondError, true)

	api := r.PathPrefix("/api").Subrouter()

	// Device-signed ingestion; no tenant credential
	api.HandleFunc("/events", r.ingestEvent).Methods(http.MethodPost)
	api.Handle("/events", requireOwner(http.HandlerFunc(r.listEvents))).Methods(http.MethodGet)

	// Public proof
	api.HandleFunc("/events/verify", r.verifyEvent).Methods(http.MethodGet)
	api.HandleFunc("/events/verify/qr", r.verifyQRCode).Methods(http.MethodGet)

	api.Handle("/events/stream", requireOwnerWS(http.HandlerFunc(r.streamEvents))).Methods(http.MethodGet)

	api.Handle("/devices", requireOwner(http.HandlerFunc(r.registerDevice))).Methods(http.MethodPost)
	api.Handle("/devices", requireOwner(http.HandlerFunc(r.listDevices))).Methods(http.MethodGet)

	api.HandleFunc("/auth/token", r.issueToken).Methods(http.MethodPost)

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		buildinfo.Info
	}{"ok", buildinfo.Get()})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError classifies err, logs it and sends the error body.
// Internal errors are reported when a Reporter is configured.
func (r *Router) respondError(w http.ResponseWriter, req *http.Request, err error) {
	ctx := req.Context()
	rid := middleware.RequestID(ctx)
	status, body := apperr.ToResponse(err, rid)
	logger := zerolog.Ctx(ctx)

	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", req.URL.Path).Msg("request failed")
		if r.deps.Reporter != nil {
			scope := sentry.NewScope()
			scope.SetTag("request_id", rid)
			scope.SetRequest(req)
			cause := err
			if e := apperr.From(err); e.Err != nil {
				cause = e.Err
			}
			r.deps.Reporter.CaptureException(cause, nil, scope)
		}
	} else {
		logger.Info().Str("code", string(body.Code)).Str("path", req.URL.Path).Msg("request rejected")
	}

	respondJSON(w, status, body)
}

// queryInt reads an integer query parameter; missing or malformed values yield 0.
func queryInt(req *http.Request, key string) int {
	v, err := strconv.Atoi(req.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return v
}
