package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/xelth-com/sensestamp/internal/apperr"
	"github.com/xelth-com/sensestamp/internal/database"
	"github.com/xelth-com/sensestamp/internal/repository"
	"github.com/xelth-com/sensestamp/internal/services/eventlog"
	"github.com/xelth-com/sensestamp/internal/services/ingest"
	"github.com/xelth-com/sensestamp/internal/services/proof"
	"github.com/xelth-com/sensestamp/internal/services/registry"
	"github.com/xelth-com/sensestamp/internal/services/tenant"
	"github.com/xelth-com/sensestamp/internal/signing"
	"github.com/xelth-com/sensestamp/internal/websocket"
)

const testNow int64 = 1700000000

type testEnv struct {
	router  *Router
	store   *repository.Store
	tenants *tenant.Service
	apiKey  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.OpenSQLite("file:"+uuid.NewString()+"?mode=memory&cache=shared", nil)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	store := repository.New(db)

	ctx, cancel := context.WithCancel(context.Background())
	hub := websocket.NewHub()
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	tenants := tenant.NewService(store, "test-jwt-secret")
	deps := Deps{
		Ingest: ingest.NewService(store,
			ingest.WithClock(func() time.Time { return time.Unix(testNow, 0) }),
			ingest.WithNotifier(hub),
		),
		Registry: registry.NewService(store),
		Proof:    proof.NewService(store, "https://stamp.example.com"),
		Events:   eventlog.NewService(store),
		Tenants:  tenants,
		Hub:      hub,
		Logger:   zerolog.Nop(),
	}

	key, _, err := tenants.CreateKey(context.Background(), "owner-1", "test")
	if err != nil {
		t.Fatalf("CreateKey failed: %v", err)
	}

	return &testEnv{router: NewRouter(deps), store: store, tenants: tenants, apiKey: key}
}

func (e *testEnv) do(method, target, bearer string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			json.NewEncoder(&buf).Encode(b)
		}
	}
	r := httptest.NewRequest(method, target, &buf)
	if bearer != "" {
		r.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	return w
}

func (e *testEnv) register(t *testing.T, deviceID string) string {
	t.Helper()
	w := e.do(http.MethodPost, "/api/devices", e.apiKey, map[string]string{"device_id": deviceID, "location": "Lobby"})
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", deviceID, w.Code, w.Body.String())
	}
	var reg registry.Registration
	if err := json.Unmarshal(w.Body.Bytes(), &reg); err != nil {
		t.Fatalf("decoding registration: %v", err)
	}
	return reg.Secret
}

func signedEvent(deviceID, tagUID string, ts int64, secret string) map[string]interface{} {
	return map[string]interface{}{
		"device_id":  deviceID,
		"tag_uid":    tagUID,
		"timestamp":  ts,
		"signature":  signing.Sign(deviceID, tagUID, ts, secret),
		"battery_mv": 2950,
		"fw_version": "1.4.0",
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) apperr.Response {
	t.Helper()
	var resp apperr.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding error body %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestEndToEndProof(t *testing.T) {
	is := is.New(t)
	env := newTestEnv(t)

	secret := env.register(t, "ss-001")
	is.Equal(len(secret), 64)

	w := env.do(http.MethodPost, "/api/events", "", signedEvent("ss-001", "04A2", testNow, secret))
	is.Equal(w.Code, http.StatusOK)

	var receipt ingest.Receipt
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &receipt))
	is.True(receipt.OK)
	is.True(receipt.Verified)
	is.True(receipt.EventID != "")

	w = env.do(http.MethodGet, "/api/events/verify?id="+receipt.EventID, "", nil)
	is.Equal(w.Code, http.StatusOK)

	var got proof.Proof
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &got))
	is.True(got.Verified)
	is.Equal(got.Proof.EventID, receipt.EventID)
	is.Equal(got.Proof.DeviceID, "ss-001")
	is.Equal(got.Proof.TagUID, "04A2")
	is.Equal(got.Proof.Timestamp, testNow)
	is.True(got.Proof.Location != nil && *got.Proof.Location == "Lobby") // inherited from device

	is.True(!strings.Contains(w.Body.String(), "signature"))
	is.True(!strings.Contains(w.Body.String(), secret))
}

func TestIngestRejections(t *testing.T) {
	env := newTestEnv(t)
	secret := env.register(t, "ss-001")

	first := env.do(http.MethodPost, "/api/events", "", signedEvent("ss-001", "04A2", testNow, secret))
	if first.Code != http.StatusOK {
		t.Fatalf("seed event failed: %d %s", first.Code, first.Body.String())
	}
	var receipt ingest.Receipt
	json.Unmarshal(first.Body.Bytes(), &receipt)

	tampered := signedEvent("ss-001", "04A3", testNow, secret)
	tampered["tag_uid"] = "04FF"

	tests := []struct {
		name     string
		body     interface{}
		wantCode int
		wantKind apperr.Kind
	}{
		{"stale", signedEvent("ss-001", "04A2", testNow-600, secret), http.StatusBadRequest, apperr.KindStaleTimestamp},
		{"duplicate", signedEvent("ss-001", "04A2", testNow+5, secret), http.StatusConflict, apperr.KindDuplicateEvent},
		{"bad signature", tampered, http.StatusUnauthorized, apperr.KindInvalidSignature},
		{"wrong secret", signedEvent("ss-001", "04A2", testNow, strings.Repeat("ab", 32)), http.StatusUnauthorized, apperr.KindInvalidSignature},
		{"unknown device", signedEvent("ss-404", "04A2", testNow, secret), http.StatusUnauthorized, apperr.KindUnauthorized},
		{"missing fields", map[string]string{"device_id": "ss-001"}, http.StatusBadRequest, apperr.KindValidation},
		{"not json", "{oops", http.StatusBadRequest, apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			w := env.do(http.MethodPost, "/api/events", "", tt.body)
			is.Equal(w.Code, tt.wantCode)

			resp := decodeError(t, w)
			is.Equal(resp.Code, tt.wantKind)
			is.True(!resp.OK)
			is.True(resp.RequestID != "")
			is.Equal(resp.RequestID, w.Header().Get("x-request-id"))

			switch tt.wantKind {
			case apperr.KindStaleTimestamp:
				is.True(resp.DriftSeconds != nil)
				is.Equal(*resp.DriftSeconds, int64(600))
			case apperr.KindDuplicateEvent:
				is.Equal(resp.EventID, receipt.EventID)
			}
		})
	}
}

func TestDuplicateWindowBoundary(t *testing.T) {
	is := is.New(t)
	env := newTestEnv(t)
	secret := env.register(t, "ss-001")

	is.Equal(env.do(http.MethodPost, "/api/events", "", signedEvent("ss-001", "04A2", testNow, secret)).Code, http.StatusOK)
	is.Equal(env.do(http.MethodPost, "/api/events", "", signedEvent("ss-001", "04A2", testNow+11, secret)).Code, http.StatusOK)
	is.Equal(env.do(http.MethodPost, "/api/events", "", signedEvent("ss-001", "04B7", testNow+1, secret)).Code, http.StatusOK)
}

func TestDevices(t *testing.T) {
	is := is.New(t)
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/devices", "", map[string]string{"device_id": "ss-001"})
	is.Equal(w.Code, http.StatusUnauthorized)

	secret := env.register(t, "ss-001")

	w = env.do(http.MethodPost, "/api/devices", env.apiKey, map[string]string{"device_id": "ss-001"})
	is.Equal(w.Code, http.StatusConflict)
	is.Equal(decodeError(t, w).Code, apperr.KindConflict)

	w = env.do(http.MethodPost, "/api/devices", env.apiKey, map[string]string{"name": "no id"})
	is.Equal(w.Code, http.StatusBadRequest)

	w = env.do(http.MethodGet, "/api/devices", env.apiKey, nil)
	is.Equal(w.Code, http.StatusOK)
	is.True(!strings.Contains(w.Body.String(), secret))

	var list struct {
		Devices []struct {
			DeviceID string `json:"device_id"`
			Name     string `json:"name"`
		} `json:"devices"`
	}
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &list))
	is.Equal(len(list.Devices), 1)
	is.Equal(list.Devices[0].DeviceID, "ss-001")
	is.Equal(list.Devices[0].Name, "ss-001")
}

func TestListEventsScopedAndCapped(t *testing.T) {
	is := is.New(t)
	env := newTestEnv(t)
	secret := env.register(t, "ss-001")

	for i := int64(0); i < 3; i++ {
		w := env.do(http.MethodPost, "/api/events", "", signedEvent("ss-001", fmt.Sprintf("04A%d", i), testNow-i*20, secret))
		is.Equal(w.Code, http.StatusOK)
	}

	w := env.do(http.MethodGet, "/api/events?limit=500", env.apiKey, nil)
	is.Equal(w.Code, http.StatusOK)

	var page eventlog.Page
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &page))
	is.Equal(page.Limit, 100)
	is.Equal(page.Total, int64(3))
	is.Equal(page.Events[0].Timestamp, testNow)
	is.True(!strings.Contains(w.Body.String(), "signature"))

	w = env.do(http.MethodGet, "/api/events?tag_uid=04A1", env.apiKey, nil)
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &page))
	is.Equal(page.Total, int64(1))
	is.Equal(page.Limit, 50)

	otherKey, _, err := env.tenants.CreateKey(context.Background(), "owner-2", "")
	is.NoErr(err)
	w = env.do(http.MethodGet, "/api/events", otherKey, nil)
	is.Equal(w.Code, http.StatusOK)
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &page))
	is.Equal(page.Total, int64(0))
	is.Equal(len(page.Events), 0)

	w = env.do(http.MethodGet, "/api/events", "ssk_000000000000_nope", nil)
	is.Equal(w.Code, http.StatusUnauthorized)
}

func TestVerifyErrors(t *testing.T) {
	is := is.New(t)
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/events/verify", "", nil)
	is.Equal(w.Code, http.StatusBadRequest)

	w = env.do(http.MethodGet, "/api/events/verify?id="+uuid.NewString(), "", nil)
	is.Equal(w.Code, http.StatusNotFound)
	is.Equal(decodeError(t, w).Code, apperr.KindNotFound)
}

func TestVerifyQRCode(t *testing.T) {
	is := is.New(t)
	env := newTestEnv(t)
	secret := env.register(t, "ss-001")

	w := env.do(http.MethodPost, "/api/events", "", signedEvent("ss-001", "04A2", testNow, secret))
	var receipt ingest.Receipt
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &receipt))

	w = env.do(http.MethodGet, "/api/events/verify/qr?id="+receipt.EventID+"&size=128", "", nil)
	is.Equal(w.Code, http.StatusOK)
	is.Equal(w.Header().Get("Content-Type"), "image/png")
	is.True(bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))

	w = env.do(http.MethodGet, "/api/events/verify/qr?id="+receipt.EventID+"&size=big", "", nil)
	is.Equal(w.Code, http.StatusBadRequest)

	w = env.do(http.MethodGet, "/api/events/verify/qr?id="+uuid.NewString(), "", nil)
	is.Equal(w.Code, http.StatusNotFound)
}

func TestSessionToken(t *testing.T) {
	is := is.New(t)
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/auth/token", "", map[string]string{"api_key": env.apiKey})
	is.Equal(w.Code, http.StatusOK)

	var session tenant.Session
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &session))
	is.Equal(session.TokenType, "Bearer")

	w = env.do(http.MethodGet, "/api/devices", session.Token, nil)
	is.Equal(w.Code, http.StatusOK)

	w = env.do(http.MethodPost, "/api/auth/token", env.apiKey, nil)
	is.Equal(w.Code, http.StatusOK)

	w = env.do(http.MethodPost, "/api/auth/token", "", nil)
	is.Equal(w.Code, http.StatusUnauthorized)
}

func TestRevokedKeyEndsSessions(t *testing.T) {
	is := is.New(t)
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/auth/token", "", map[string]string{"api_key": env.apiKey})
	is.Equal(w.Code, http.StatusOK)
	var session tenant.Session
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &session))

	keyID, _, ok := tenant.ParseKey(env.apiKey)
	is.True(ok)
	is.NoErr(env.store.RevokeAPIKey(context.Background(), keyID))

	w = env.do(http.MethodGet, "/api/devices", session.Token, nil)
	is.Equal(w.Code, http.StatusUnauthorized)

	w = env.do(http.MethodGet, "/api/devices", env.apiKey, nil)
	is.Equal(w.Code, http.StatusUnauthorized)
}

func TestHealth(t *testing.T) {
	is := is.New(t)
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/health", "", nil)
	is.Equal(w.Code, http.StatusOK)

	var body map[string]interface{}
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &body))
	is.Equal(body["status"], "ok")
	is.True(body["commit"] != "")
	is.True(body["started_at"] != nil)
	is.True(w.Header().Get("x-request-id") != "")
}
