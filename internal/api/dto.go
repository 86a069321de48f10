package api

import (
	"fmt"
	"time"

	"github.com/shiftwatch/fieldagent/internal/models"
)

// The remote API answers loosely shaped JSON. Every response is decoded into
// one of these DTOs and validated before anything else touches the data;
// only the converted internal/models types leave this package.

type contactDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Relationship string `json:"relationship"`
	DisplayOrder int    `json:"displayOrder"`
	IsDefault    bool   `json:"isDefault"`
}

func (d contactDTO) toModel() (models.EmergencyContact, error) {
	if d.ID == "" {
		return models.EmergencyContact{}, fmt.Errorf("contact missing id")
	}
	if d.Name == "" || d.Phone == "" {
		return models.EmergencyContact{}, fmt.Errorf("contact %s missing name or phone", d.ID)
	}
	return models.EmergencyContact{
		ID:           d.ID,
		Name:         d.Name,
		Phone:        d.Phone,
		Relationship: d.Relationship,
		DisplayOrder: d.DisplayOrder,
		IsDefault:    d.IsDefault,
	}, nil
}

type messageDTO struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Message   string   `json:"message"`
	Timestamp string   `json:"timestamp"`
	Audience  []string `json:"audience"`
}

func (d messageDTO) toModel() (models.IncomingMessage, error) {
	if d.ID == "" {
		return models.IncomingMessage{}, fmt.Errorf("message missing id")
	}
	ts, err := time.Parse(time.RFC3339, d.Timestamp)
	if err != nil {
		return models.IncomingMessage{}, fmt.Errorf("message %s has bad timestamp %q: %w", d.ID, d.Timestamp, err)
	}
	return models.IncomingMessage{
		ID:        d.ID,
		Title:     d.Title,
		Message:   d.Message,
		Timestamp: ts.UTC(),
		Audience:  d.Audience,
	}, nil
}

type pushKeyDTO struct {
	PublicKey string `json:"publicKey"`
}

type reportDTO struct {
	Severity   int            `json:"severity"`
	Message    string         `json:"message"`
	Location   *models.GPSFix `json:"location,omitempty"`
	ShiftRef   string         `json:"shiftRef,omitempty"`
	IsOffShift bool           `json:"isOffShift"`
}
