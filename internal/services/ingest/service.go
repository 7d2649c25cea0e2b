// Package ingest verifies and records proof-of-presence events sent by devices.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/xelth-com/sensestamp/internal/apperr"
	"github.com/xelth-com/sensestamp/internal/guard"
	"github.com/xelth-com/sensestamp/internal/models"
	"github.com/xelth-com/sensestamp/internal/signing"
)

// Repository is the slice of the store the ingestion pipeline needs.
type Repository interface {
	guard.EventFinder
	FindDeviceByCode(ctx context.Context, deviceCode string) (*models.Device, error)
	InsertEvent(ctx context.Context, event *models.Event) error
	UpdateDeviceState(ctx context.Context, deviceRef string, state models.DeviceState) error
}

// Notifier is told about every stored event. It must not block.
type Notifier interface {
	EventAccepted(event *models.Event)
}

// Receipt is returned to the device once its event is durably stored
type Receipt struct {
	OK        bool      `json:"ok"`
	EventID   string    `json:"event_id"`
	CreatedAt time.Time `json:"created_at"`
	Verified  bool      `json:"verified"`
}

// Service runs the ingestion pipeline
type Service struct {
	repo     Repository
	notifier Notifier
	now      func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides the server clock used by the freshness check.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithNotifier registers a listener for accepted events.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// NewService creates a new ingestion service
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest authenticates req and stores it. Checks run in order (device,
// signature, freshness, duplicate) and the first failure ends the request
// before anything is written.
func (s *Service) Ingest(ctx context.Context, req Request) (*Receipt, error) {
	logger := zerolog.Ctx(ctx).With().
		Str("device_id", req.DeviceID).
		Str("tag_uid", req.TagUID).
		Int64("timestamp", req.Timestamp).
		Logger()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	device, err := s.repo.FindDeviceByCode(ctx, req.DeviceID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		logger.Warn().Str("stage", "device_resolved").Msg("unknown device")
		return nil, apperr.Unauthorized("Unknown device")
	case err != nil:
		logger.Error().Err(err).Str("stage", "device_resolved").Msg("loading device")
		return nil, apperr.Internal("Failed to load device", err)
	}

	if !signing.Verify(req.DeviceID, req.TagUID, req.Timestamp, req.Signature, device.HMACSecret) {
		logger.Warn().Str("stage", "signature_checked").Msg("invalid signature")
		return nil, apperr.InvalidSignature()
	}

	if drift, ok := guard.CheckFreshness(req.Timestamp, s.now()); !ok {
		logger.Warn().Str("stage", "freshness_checked").Int64("drift_seconds", drift).Msg("timestamp out of range")
		return nil, apperr.StaleTimestamp(drift)
	}

	existingID, err := guard.CheckDuplicate(ctx, s.repo, req.DeviceID, req.TagUID, req.Timestamp)
	if err != nil {
		logger.Error().Err(err).Str("stage", "dedup_checked").Msg("duplicate check")
		return nil, apperr.Internal("Failed to check for duplicates", err)
	}
	if existingID != "" {
		logger.Info().Str("stage", "dedup_checked").Str("existing_event_id", existingID).Msg("duplicate event")
		return nil, apperr.DuplicateEvent(existingID)
	}

	event := &models.Event{
		DeviceRef:  device.ID,
		DeviceCode: req.DeviceID,
		OwnerID:    device.OwnerID,
		TagUID:     req.TagUID,
		Timestamp:  req.Timestamp,
		Location:   req.Location,
		Signature:  req.Signature,
		BatteryMV:  req.BatteryMV,
		FWVersion:  req.FWVersion,
		Verified:   true,
		RawPayload: datatypes.JSON(req.Raw()),
	}
	if event.Location == nil {
		event.Location = device.Location
	}

	if err := s.repo.InsertEvent(ctx, event); err != nil {
		logger.Error().Err(err).Str("stage", "stored").Msg("storing event")
		return nil, apperr.Internal("Failed to store event", err)
	}

	// The event is the authoritative record; a failed device refresh only
	// leaves last_seen stale.
	state := models.DeviceState{
		LastSeen:  time.Unix(req.Timestamp, 0).UTC(),
		BatteryMV: req.BatteryMV,
		FWVersion: req.FWVersion,
	}
	if err := s.repo.UpdateDeviceState(ctx, device.ID, state); err != nil {
		logger.Warn().Err(err).Str("stage", "device_updated").Str("event_id", event.ID).Msg("updating device state")
	}

	if s.notifier != nil {
		s.notifier.EventAccepted(event)
	}

	logger.Info().Str("event_id", event.ID).Msg("event accepted")

	return &Receipt{
		OK:        true,
		EventID:   event.ID,
		CreatedAt: event.CreatedAt,
		Verified:  true,
	}, nil
}
