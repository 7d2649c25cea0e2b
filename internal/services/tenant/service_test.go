package tenant

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xelth-com/sensestamp/internal/apperr"
	"github.com/xelth-com/sensestamp/internal/models"
)

type keyRepo struct {
	keys    map[string]*models.APIKey
	touched []string
}

func newKeyRepo() *keyRepo { return &keyRepo{keys: map[string]*models.APIKey{}} }

func (r *keyRepo) FindAPIKey(_ context.Context, id string) (*models.APIKey, error) {
	k, ok := r.keys[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return k, nil
}

func (r *keyRepo) CreateAPIKey(_ context.Context, k *models.APIKey) error {
	r.keys[k.ID] = k
	return nil
}

func (r *keyRepo) TouchAPIKey(_ context.Context, id string, _ time.Time) error {
	r.touched = append(r.touched, id)
	return nil
}

func isUnauthorized(err error) bool {
	var e *apperr.Error
	return errors.As(err, &e) && e.Kind == apperr.KindUnauthorized
}

func TestCreateAndAuthenticateKey(t *testing.T) {
	repo := newKeyRepo()
	svc := NewService(repo, "jwt-secret")
	ctx := context.Background()

	plain, key, err := svc.CreateKey(ctx, "owner-1", "ci")
	if err != nil {
		t.Fatalf("CreateKey failed: %v", err)
	}
	if !strings.HasPrefix(plain, KeyPrefix+key.ID+"_") {
		t.Errorf("unexpected key format %s", plain)
	}
	if strings.Contains(key.KeyHash, plain[len(KeyPrefix)+len(key.ID)+1:]) {
		t.Error("stored hash must not contain the secret")
	}

	owner, err := svc.Authenticate(ctx, plain)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if owner != "owner-1" {
		t.Errorf("Expected owner-1, got %s", owner)
	}
	if len(repo.touched) != 1 {
		t.Errorf("Expected last use to be recorded once, got %d", len(repo.touched))
	}

	if _, err := svc.Authenticate(ctx, plain+"x"); !isUnauthorized(err) {
		t.Errorf("tampered key should be unauthorized, got %v", err)
	}

	key.Revoked = true
	if _, err := svc.Authenticate(ctx, plain); !isUnauthorized(err) {
		t.Errorf("revoked key should be unauthorized, got %v", err)
	}
}

func TestAuthenticateRejectsGarbage(t *testing.T) {
	svc := NewService(newKeyRepo(), "jwt-secret")
	ctx := context.Background()

	for _, bearer := range []string{"", "ssk_", "ssk_short_secret", "ssk_0123456789ab_", "ssk_0123456789ab_nosuchkey", "not-a-jwt"} {
		if _, err := svc.Authenticate(ctx, bearer); !isUnauthorized(err) {
			t.Errorf("%q: expected unauthorized, got %v", bearer, err)
		}
	}
}

func TestSessionExchange(t *testing.T) {
	svc := NewService(newKeyRepo(), "jwt-secret")
	ctx := context.Background()

	plain, _, err := svc.CreateKey(ctx, "owner-7", "")
	if err != nil {
		t.Fatalf("CreateKey failed: %v", err)
	}

	sess, err := svc.IssueSession(ctx, plain)
	if err != nil {
		t.Fatalf("IssueSession failed: %v", err)
	}
	if sess.TokenType != "Bearer" || sess.Token == "" {
		t.Errorf("unexpected session %+v", sess)
	}

	owner, err := svc.Authenticate(ctx, sess.Token)
	if err != nil {
		t.Fatalf("session token should authenticate: %v", err)
	}
	if owner != "owner-7" {
		t.Errorf("Expected owner-7, got %s", owner)
	}

	if _, err := svc.IssueSession(ctx, "ssk_0123456789ab_bad"); !isUnauthorized(err) {
		t.Errorf("bad key should not get a session, got %v", err)
	}
}

func TestSessionsDisabledWithoutSecret(t *testing.T) {
	svc := NewService(newKeyRepo(), "")
	ctx := context.Background()

	plain, _, err := svc.CreateKey(ctx, "owner-1", "")
	if err != nil {
		t.Fatalf("CreateKey failed: %v", err)
	}
	if _, err := svc.IssueSession(ctx, plain); err == nil {
		t.Error("sessions should be disabled")
	}
	if _, err := svc.Authenticate(ctx, "eyJhbGciOiJIUzI1NiJ9.e30.x"); !isUnauthorized(err) {
		t.Errorf("tokens should be rejected when sessions are disabled, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, plain); err != nil {
		t.Errorf("API keys still work without sessions: %v", err)
	}
}

func TestParseKey(t *testing.T) {
	id, secret, ok := ParseKey("ssk_0123456789ab_s3cr3t_with_underscore")
	if !ok || id != "0123456789ab" || secret != "s3cr3t_with_underscore" {
		t.Errorf("unexpected parse: %q %q %v", id, secret, ok)
	}
}

func TestSessionRevokedWithItsKey(t *testing.T) {
	repo := newKeyRepo()
	svc := NewService(repo, "jwt-secret")
	ctx := context.Background()

	plain, key, err := svc.CreateKey(ctx, "owner-1", "")
	if err != nil {
		t.Fatalf("CreateKey failed: %v", err)
	}
	sess, err := svc.IssueSession(ctx, plain)
	if err != nil {
		t.Fatalf("IssueSession failed: %v", err)
	}
	if _, err := svc.Authenticate(ctx, sess.Token); err != nil {
		t.Fatalf("fresh session should authenticate: %v", err)
	}

	key.Revoked = true
	if _, err := svc.Authenticate(ctx, sess.Token); !isUnauthorized(err) {
		t.Errorf("session of a revoked key should be unauthorized, got %v", err)
	}

	delete(repo.keys, key.ID)
	if _, err := svc.Authenticate(ctx, sess.Token); !isUnauthorized(err) {
		t.Errorf("session of a deleted key should be unauthorized, got %v", err)
	}
}
