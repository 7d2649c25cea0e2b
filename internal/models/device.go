package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Device is an NFC sensor registered by a tenant.
// Convention: Go PascalCase -> DB snake_case (GORM auto) -> JSON snake_case (firmware wire format)
type Device struct {
	ID         string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	DeviceID   string     `gorm:"uniqueIndex;not null" json:"device_id"`
	OwnerID    string     `gorm:"index;not null" json:"-"`
	Name       string     `json:"name"`
	Location   *string    `json:"location"`
	HMACSecret string     `gorm:"not null" json:"-"` // shown once at registration
	LastSeen   *time.Time `json:"last_seen"`
	BatteryMV  *int       `json:"battery_mv"`
	FWVersion  *string    `json:"fw_version"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"-"`
}

// TableName specifies the table name for Device
func (Device) TableName() string {
	return "ss_devices"
}

// BeforeCreate assigns the internal id
func (d *Device) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

// DeviceState is the part of a device refreshed by every accepted event.
// Nil fields are left untouched.
type DeviceState struct {
	LastSeen  time.Time
	BatteryMV *int
	FWVersion *string
}
