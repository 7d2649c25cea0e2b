package models

import "time"

// APIKey maps a bearer credential to a tenant (owner).
// Only the bcrypt hash of the secret part is stored.
type APIKey struct {
	ID         string     `gorm:"primaryKey;type:varchar(32)" json:"id"`
	OwnerID    string     `gorm:"index;not null" json:"owner_id"`
	KeyHash    string     `gorm:"not null" json:"-"`
	Label      string     `json:"label,omitempty"`
	Revoked    bool       `gorm:"not null;default:false" json:"revoked"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// TableName specifies the table name for APIKey
func (APIKey) TableName() string {
	return "ss_api_keys"
}
