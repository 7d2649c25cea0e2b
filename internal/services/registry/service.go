// Package registry registers tenant devices and issues their HMAC secrets.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/xelth-com/sensestamp/internal/apperr"
	"github.com/xelth-com/sensestamp/internal/models"
)

// SecretSize is the number of random bytes in a device secret.
const SecretSize = 32

// SecretWarning accompanies the one response that carries a secret.
const SecretWarning = "Save this HMAC secret - it cannot be retrieved again. Flash it to your device's config.h"

// Repository is the device store used by the registry
type Repository interface {
	FindDeviceByCode(ctx context.Context, deviceCode string) (*models.Device, error)
	CreateDevice(ctx context.Context, device *models.Device) error
	ListDevicesByOwner(ctx context.Context, ownerID string) ([]models.Device, error)
}

// RegisterRequest represents a device registration request
type RegisterRequest struct {
	DeviceID string  `json:"device_id"`
	Name     string  `json:"name,omitempty"`
	Location *string `json:"location,omitempty"`
}

// Registration is the one-time registration result
type Registration struct {
	OK      bool           `json:"ok"`
	Device  *models.Device `json:"device"`
	Secret  string         `json:"secret"`
	Warning string         `json:"warning"`
}

// Service manages device records
type Service struct {
	repo    Repository
	entropy io.Reader
}

// NewService creates a registry backed by repo and crypto/rand.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, entropy: rand.Reader}
}

// Register creates a device owned by ownerID and returns its secret.
func (s *Service) Register(ctx context.Context, ownerID string, req RegisterRequest) (*Registration, error) {
	if ownerID == "" {
		return nil, apperr.Unauthorized("Missing API key")
	}

	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		return nil, apperr.Validation("Missing required field: device_id")
	}

	_, err := s.repo.FindDeviceByCode(ctx, deviceID)
	switch {
	case err == nil:
		return nil, apperr.Conflict("Device already registered")
	case !errors.Is(err, models.ErrNotFound):
		return nil, apperr.Internal("Failed to register device", err)
	}

	secret, err := s.newSecret()
	if err != nil {
		return nil, apperr.Internal("Failed to register device", err)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = deviceID
	}
	location := req.Location
	if location != nil && strings.TrimSpace(*location) == "" {
		location = nil
	}

	device := &models.Device{
		DeviceID:   deviceID,
		OwnerID:    ownerID,
		Name:       name,
		Location:   location,
		HMACSecret: secret,
	}

	if err := s.repo.CreateDevice(ctx, device); err != nil {
		// lost a race with a concurrent registration of the same id
		if errors.Is(err, models.ErrDuplicate) {
			return nil, apperr.Conflict("Device already registered")
		}
		return nil, apperr.Internal("Failed to register device", err)
	}

	zerolog.Ctx(ctx).Info().
		Str("device_id", deviceID).
		Str("owner_id", ownerID).
		Msg("device registered")

	return &Registration{
		OK:      true,
		Device:  device,
		Secret:  secret,
		Warning: SecretWarning,
	}, nil
}

// List returns the owner's devices, newest first.
func (s *Service) List(ctx context.Context, ownerID string) ([]models.Device, error) {
	if ownerID == "" {
		return nil, apperr.Unauthorized("Missing API key")
	}

	devices, err := s.repo.ListDevicesByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperr.Internal("Failed to fetch devices", err)
	}
	if devices == nil {
		devices = []models.Device{}
	}
	return devices, nil
}

func (s *Service) newSecret() (string, error) {
	buf := make([]byte, SecretSize)
	if _, err := io.ReadFull(s.entropy, buf); err != nil {
		return "", fmt.Errorf("generating device secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
