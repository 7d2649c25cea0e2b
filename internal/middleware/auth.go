package middleware

import (
	"context"
	"net/http"
	"strings"
)

type ownerKey struct{}

// Authenticator resolves a bearer credential to an owner id
type Authenticator interface {
	Authenticate(ctx context.Context, bearer string) (string, error)
}

// ErrorWriter renders an authentication failure
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// WithOwner adds the authenticated owner id to ctx
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// OwnerID returns the authenticated owner id, or "" outside AuthMiddleware
func OwnerID(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

// BearerToken extracts the credential from "Authorization: Bearer <token>"
func BearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(authHeader, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// AuthMiddleware requires a valid bearer credential. When allowQuery is set
// the "token" query parameter is accepted as well (browsers cannot set
// headers on websocket upgrades).
func AuthMiddleware(auth Authenticator, onError ErrorWriter, allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" && allowQuery {
				token = r.URL.Query().Get("token")
			}

			ownerID, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				onError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), ownerID)))
		})
	}
}
