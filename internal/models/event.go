package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event is one accepted proof-of-presence scan. Rows are never updated.
type Event struct {
	ID         string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	DeviceRef  string         `gorm:"index;not null" json:"-"`
	DeviceCode string         `gorm:"not null;index:idx_ss_events_dedup,priority:1" json:"device_code"`
	OwnerID    string         `gorm:"index;not null" json:"-"`
	TagUID     string         `gorm:"not null;index:idx_ss_events_dedup,priority:2" json:"tag_uid"`
	Timestamp  int64          `gorm:"not null;index:idx_ss_events_dedup,priority:3" json:"timestamp"`
	Location   *string        `json:"location"`
	Signature  string         `gorm:"not null" json:"-"`
	BatteryMV  *int           `json:"battery_mv"`
	FWVersion  *string        `json:"fw_version"`
	Verified   bool           `gorm:"not null;default:false" json:"verified"`
	RawPayload datatypes.JSON `json:"-"`
	CreatedAt  time.Time      `json:"created_at"`
}

// TableName specifies the table name for Event
func (Event) TableName() string {
	return "ss_events"
}

// BeforeCreate assigns the event id
func (e *Event) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// EventFilter narrows an owner's event listing
type EventFilter struct {
	OwnerID  string
	DeviceID string
	TagUID   string
	Limit    int
	Offset   int
}
