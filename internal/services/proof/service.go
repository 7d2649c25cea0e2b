// Package proof serves the public, unauthenticated view of recorded events
// so third parties can confirm a presence claim.
package proof

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/xelth-com/sensestamp/internal/apperr"
	"github.com/xelth-com/sensestamp/internal/models"
)

const (
	verifiedMessage   = "This proof-of-presence event has been cryptographically verified."
	unverifiedMessage = "This event could not be verified."

	DefaultQRSize = 256
	MinQRSize     = 64
	MaxQRSize     = 1024
)

// Repository loads a single event
type Repository interface {
	FindEventByID(ctx context.Context, id string) (*models.Event, error)
}

// Fields are the canonical proof fields. Signature and secret are never part of it.
type Fields struct {
	EventID    string    `json:"event_id"`
	DeviceID   string    `json:"device_id"`
	TagUID     string    `json:"tag_uid"`
	Timestamp  int64     `json:"timestamp"`
	Location   *string   `json:"location"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Proof is the public verification record
type Proof struct {
	Verified bool   `json:"verified"`
	Proof    Fields `json:"proof"`
	Message  string `json:"message"`
}

// Service answers public verification lookups
type Service struct {
	repo    Repository
	baseURL string
}

// NewService creates a proof service. baseURL is the public origin used in QR codes.
func NewService(repo Repository, baseURL string) *Service {
	return &Service{repo: repo, baseURL: strings.TrimRight(baseURL, "/")}
}

// Lookup returns the proof record for eventID.
func (s *Service) Lookup(ctx context.Context, eventID string) (*Proof, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, apperr.Validation("Missing event ID. Usage: /api/events/verify?id=<event_id>")
	}

	ev, err := s.repo.FindEventByID(ctx, eventID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return nil, apperr.NotFound("Event not found")
	case err != nil:
		return nil, apperr.Internal("Failed to load event", err)
	}

	p := &Proof{
		Verified: ev.Verified,
		Proof: Fields{
			EventID:    ev.ID,
			DeviceID:   ev.DeviceCode,
			TagUID:     ev.TagUID,
			Timestamp:  ev.Timestamp,
			Location:   ev.Location,
			RecordedAt: ev.CreatedAt,
		},
		Message: unverifiedMessage,
	}
	if ev.Verified {
		p.Message = verifiedMessage
	}
	return p, nil
}

// VerifyURL is the public link for eventID.
func (s *Service) VerifyURL(eventID string) string {
	return s.baseURL + "/api/events/verify?id=" + url.QueryEscape(eventID)
}

// QRCode renders the verify URL of an existing event as a PNG.
func (s *Service) QRCode(ctx context.Context, eventID string, size int) ([]byte, error) {
	p, err := s.Lookup(ctx, eventID)
	if err != nil {
		return nil, err
	}

	if size == 0 {
		size = DefaultQRSize
	}
	if size < MinQRSize || size > MaxQRSize {
		return nil, apperr.Validation("size must be between 64 and 1024")
	}

	png, err := qrcode.Encode(s.VerifyURL(p.Proof.EventID), qrcode.Medium, size)
	if err != nil {
		return nil, apperr.Internal("Failed to generate QR", err)
	}
	return png, nil
}
