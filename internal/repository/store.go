// Package repository persists devices, events and API keys with gorm.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/xelth-com/sensestamp/internal/models"
)

// Store implements the narrow repository interfaces of every service
type Store struct {
	db *gorm.DB
}

// New creates a Store over db. db should be opened with TranslateError so
// unique violations surface as gorm.ErrDuplicatedKey.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return models.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return models.ErrDuplicate
	}
	return err
}

// FindDeviceByCode loads a device by its caller-chosen device_id
func (s *Store) FindDeviceByCode(ctx context.Context, deviceCode string) (*models.Device, error) {
	var device models.Device
	if err := s.db.WithContext(ctx).Where("device_id = ?", deviceCode).First(&device).Error; err != nil {
		return nil, translate(err)
	}
	return &device, nil
}

// CreateDevice inserts a new device
func (s *Store) CreateDevice(ctx context.Context, device *models.Device) error {
	if err := s.db.WithContext(ctx).Create(device).Error; err != nil {
		return translate(err)
	}
	return nil
}

// ListDevicesByOwner returns an owner's devices, newest first
func (s *Store) ListDevicesByOwner(ctx context.Context, ownerID string) ([]models.Device, error) {
	var devices []models.Device
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&devices).Error
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// UpdateDeviceState refreshes last_seen and, when supplied, battery and firmware
func (s *Store) UpdateDeviceState(ctx context.Context, deviceRef string, state models.DeviceState) error {
	updates := map[string]interface{}{
		"last_seen":  state.LastSeen,
		"updated_at": time.Now().UTC(),
	}
	if state.BatteryMV != nil {
		updates["battery_mv"] = *state.BatteryMV
	}
	if state.FWVersion != nil {
		updates["fw_version"] = *state.FWVersion
	}

	res := s.db.WithContext(ctx).Model(&models.Device{}).Where("id = ?", deviceRef).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// FindRecentEvent returns any event for the device and tag whose timestamp
// lies in [from, to].
func (s *Store) FindRecentEvent(ctx context.Context, deviceCode, tagUID string, from, to int64) (*models.Event, error) {
	var event models.Event
	err := s.db.WithContext(ctx).
		Where(`device_code = ? AND tag_uid = ? AND "timestamp" BETWEEN ? AND ?`, deviceCode, tagUID, from, to).
		Order(`"timestamp" DESC`).
		First(&event).Error
	if err != nil {
		return nil, translate(err)
	}
	return &event, nil
}

// InsertEvent stores an accepted event
func (s *Store) InsertEvent(ctx context.Context, event *models.Event) error {
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return translate(err)
	}
	return nil
}

// FindEventByID loads an event by id
func (s *Store) FindEventByID(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&event).Error; err != nil {
		return nil, translate(err)
	}
	return &event, nil
}

// ListEvents returns one page of an owner's events and the total match count
func (s *Store) ListEvents(ctx context.Context, filter models.EventFilter) ([]models.Event, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Event{}).Where("owner_id = ?", filter.OwnerID)
	if filter.DeviceID != "" {
		query = query.Where("device_code = ?", filter.DeviceID)
	}
	if filter.TagUID != "" {
		query = query.Where("tag_uid = ?", filter.TagUID)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting events: %w", err)
	}

	var events []models.Event
	err := query.
		Order(`"timestamp" DESC`).
		Order("created_at DESC").
		Offset(filter.Offset).
		Limit(filter.Limit).
		Find(&events).Error
	if err != nil {
		return nil, 0, fmt.Errorf("listing events: %w", err)
	}
	return events, total, nil
}

// FindAPIKey loads an API key by its public id
func (s *Store) FindAPIKey(ctx context.Context, id string) (*models.APIKey, error) {
	var key models.APIKey
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&key).Error; err != nil {
		return nil, translate(err)
	}
	return &key, nil
}

// CreateAPIKey stores a new API key
func (s *Store) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	if err := s.db.WithContext(ctx).Create(key).Error; err != nil {
		return translate(err)
	}
	return nil
}

// TouchAPIKey records the last use of a key
func (s *Store) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.APIKey{}).Where("id = ?", id).Update("last_used_at", at).Error
}

// RevokeAPIKey disables a key
func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&models.APIKey{}).Where("id = ?", id).Update("revoked", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}
