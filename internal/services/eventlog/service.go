// Package eventlog lists a tenant's recorded events.
package eventlog

import (
	"context"
	"strings"

	"github.com/xelth-com/sensestamp/internal/apperr"
	"github.com/xelth-com/sensestamp/internal/models"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Repository pages through events matching a filter
type Repository interface {
	ListEvents(ctx context.Context, filter models.EventFilter) ([]models.Event, int64, error)
}

// Page is one slice of an owner's event log
type Page struct {
	Events []models.Event `json:"events"`
	Total  int64          `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// Service lists events
type Service struct {
	repo Repository
}

// NewService creates an event log service
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Normalize applies the paging defaults and caps.
func Normalize(f models.EventFilter) models.EventFilter {
	f.DeviceID = strings.TrimSpace(f.DeviceID)
	f.TagUID = strings.TrimSpace(f.TagUID)
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// List returns events of filter.OwnerID, newest event timestamp first.
func (s *Service) List(ctx context.Context, filter models.EventFilter) (*Page, error) {
	if filter.OwnerID == "" {
		return nil, apperr.Unauthorized("Missing API key")
	}
	filter = Normalize(filter)

	events, total, err := s.repo.ListEvents(ctx, filter)
	if err != nil {
		return nil, apperr.Internal("Failed to fetch events", err)
	}
	if events == nil {
		events = []models.Event{}
	}

	return &Page{Events: events, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}
