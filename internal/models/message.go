package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// StoredMessage is a server-authoritative message held locally so it stays
// readable offline. Title, body, timestamp and audience are overwritten on
// every reconcile; Read and ReadAt are owned by this device and survive.
type StoredMessage struct {
	ID        string         `gorm:"type:varchar(64);primaryKey" json:"id"`
	Title     string         `gorm:"type:varchar(255)" json:"title"`
	Message   string         `gorm:"type:text" json:"message"`
	Timestamp time.Time      `gorm:"not null;index:idx_message_ts" json:"timestamp"`
	Audience  datatypes.JSON `gorm:"type:jsonb" json:"audience,omitempty"`

	Read   bool       `gorm:"default:false;index:idx_message_read" json:"read"`
	ReadAt *time.Time `json:"readAt,omitempty"`

	// LastSeen is when this record was last confirmed present on the server
	LastSeen time.Time `gorm:"not null" json:"lastSeen"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name
func (StoredMessage) TableName() string {
	return "stored_messages"
}

// AudienceList decodes the audience roles, empty when unset or malformed
func (m *StoredMessage) AudienceList() []string {
	if len(m.Audience) == 0 {
		return nil
	}
	var roles []string
	if err := json.Unmarshal(m.Audience, &roles); err != nil {
		return nil
	}
	return roles
}

// IncomingMessage is the server's view of a message, already validated at
// the API boundary. It carries no local read state.
type IncomingMessage struct {
	ID        string
	Title     string
	Message   string
	Timestamp time.Time
	Audience  []string
}

// EncodeAudience marshals the audience roles for storage
func (m IncomingMessage) EncodeAudience() datatypes.JSON {
	if len(m.Audience) == 0 {
		return nil
	}
	raw, err := json.Marshal(m.Audience)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
