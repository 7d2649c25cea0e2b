// Package tenant authenticates management callers and maps them to an owner.
package tenant

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/xelth-com/sensestamp/internal/apperr"
	"github.com/xelth-com/sensestamp/internal/models"
	"github.com/xelth-com/sensestamp/internal/utils"
)

const (
	// KeyPrefix marks an API key; anything else is treated as a session token.
	KeyPrefix = "ssk_"

	keyIDBytes     = 6
	keySecretBytes = 32

	// SessionTTL is the lifetime of tokens issued by IssueSession.
	SessionTTL = time.Hour
)

// Repository stores API keys
type Repository interface {
	FindAPIKey(ctx context.Context, id string) (*models.APIKey, error)
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	TouchAPIKey(ctx context.Context, id string, at time.Time) error
}

// Session is a token exchanged for an API key
type Session struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service authenticates bearer credentials
type Service struct {
	repo      Repository
	jwtSecret string
	entropy   io.Reader
}

// NewService creates a tenant service. Session tokens are disabled when
// jwtSecret is empty.
func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{repo: repo, jwtSecret: jwtSecret, entropy: rand.Reader}
}

// Authenticate resolves a bearer credential to an owner id.
func (s *Service) Authenticate(ctx context.Context, bearer string) (string, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return "", apperr.Unauthorized("Missing API key")
	}

	if strings.HasPrefix(bearer, KeyPrefix) {
		key, err := s.verifyKey(ctx, bearer)
		if err != nil {
			return "", err
		}
		return key.OwnerID, nil
	}

	if s.jwtSecret == "" {
		return "", apperr.Unauthorized("Invalid API key")
	}
	ownerID, keyID, err := utils.ValidateSessionToken(bearer, s.jwtSecret)
	if err != nil {
		return "", apperr.Unauthorized("Invalid or expired token")
	}

	// A session lives no longer than the key it was issued for
	key, err := s.repo.FindAPIKey(ctx, keyID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return "", apperr.Unauthorized("Invalid or expired token")
	case err != nil:
		return "", apperr.Internal("Failed to check API key", err)
	}
	if key.Revoked || key.OwnerID != ownerID {
		return "", apperr.Unauthorized("Invalid or expired token")
	}
	return ownerID, nil
}

// IssueSession exchanges an API key for a short-lived session token.
func (s *Service) IssueSession(ctx context.Context, apiKey string) (*Session, error) {
	if s.jwtSecret == "" {
		return nil, apperr.NotFound("Session tokens are disabled")
	}

	key, err := s.verifyKey(ctx, strings.TrimSpace(apiKey))
	if err != nil {
		return nil, err
	}

	token, exp, err := utils.GenerateSessionToken(key.OwnerID, key.ID, s.jwtSecret, SessionTTL)
	if err != nil {
		return nil, apperr.Internal("Failed to generate token", err)
	}
	return &Session{Token: token, TokenType: "Bearer", ExpiresAt: exp}, nil
}

// CreateKey mints an API key for ownerID. The plaintext is returned once.
func (s *Service) CreateKey(ctx context.Context, ownerID, label string) (string, *models.APIKey, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return "", nil, apperr.Validation("owner id is required")
	}

	id, err := s.randomHex(keyIDBytes)
	if err != nil {
		return "", nil, err
	}
	secret, err := s.randomHex(keySecretBytes)
	if err != nil {
		return "", nil, err
	}

	hash, err := utils.HashSecret(secret)
	if err != nil {
		return "", nil, fmt.Errorf("hashing key: %w", err)
	}

	key := &models.APIKey{ID: id, OwnerID: ownerID, KeyHash: hash, Label: label}
	if err := s.repo.CreateAPIKey(ctx, key); err != nil {
		return "", nil, fmt.Errorf("storing key: %w", err)
	}

	return KeyPrefix + id + "_" + secret, key, nil
}

func (s *Service) verifyKey(ctx context.Context, raw string) (*models.APIKey, error) {
	id, secret, ok := ParseKey(raw)
	if !ok {
		return nil, apperr.Unauthorized("Invalid API key")
	}

	key, err := s.repo.FindAPIKey(ctx, id)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return nil, apperr.Unauthorized("Invalid API key")
	case err != nil:
		return nil, apperr.Internal("Failed to check API key", err)
	}

	if key.Revoked || !utils.CheckSecretHash(secret, key.KeyHash) {
		return nil, apperr.Unauthorized("Invalid API key")
	}

	if err := s.repo.TouchAPIKey(ctx, key.ID, time.Now().UTC()); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key_id", key.ID).Msg("updating key last use")
	}
	return key, nil
}

// ParseKey splits "ssk_<id>_<secret>" into its parts.
func ParseKey(raw string) (id, secret string, ok bool) {
	rest, found := strings.CutPrefix(raw, KeyPrefix)
	if !found {
		return "", "", false
	}
	id, secret, found = strings.Cut(rest, "_")
	if !found || len(id) != keyIDBytes*2 || secret == "" {
		return "", "", false
	}
	return id, secret, true
}

func (s *Service) randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.entropy, buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
