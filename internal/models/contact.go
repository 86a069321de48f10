package models

import "time"

// EmergencyContact is one cached reference record. The whole table is
// replaced atomically on every successful refresh; rows are never merged
// individually.
type EmergencyContact struct {
	ID           string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name         string    `gorm:"type:varchar(255);not null" json:"name"`
	Phone        string    `gorm:"type:varchar(32);not null" json:"phone"`
	Relationship string    `gorm:"type:varchar(64)" json:"relationship,omitempty"`
	DisplayOrder int       `gorm:"default:0;index:idx_contact_order" json:"displayOrder"`
	IsDefault    bool      `gorm:"default:false" json:"isDefault"`
	LastUpdated  time.Time `gorm:"not null" json:"lastUpdated"`
}

// TableName specifies the table name
func (EmergencyContact) TableName() string {
	return "emergency_contacts"
}

// CacheInfo describes cache freshness for UI staleness indicators
type CacheInfo struct {
	Count       int        `json:"count"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`
}
