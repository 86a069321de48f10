package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ReportStatus is the lifecycle state of a queued incident report
type ReportStatus string

const (
	ReportStatusDraft   ReportStatus = "draft"
	ReportStatusQueued  ReportStatus = "queued"
	ReportStatusSyncing ReportStatus = "syncing"
	ReportStatusSynced  ReportStatus = "synced"
	ReportStatusFailed  ReportStatus = "failed"
)

// validReportTransitions encodes the write-queue state machine:
//
//	draft -> queued -> syncing -> synced
//	                syncing -> failed -> syncing
var validReportTransitions = map[ReportStatus][]ReportStatus{
	ReportStatusDraft:   {ReportStatusQueued},
	ReportStatusQueued:  {ReportStatusSyncing},
	ReportStatusSyncing: {ReportStatusSynced, ReportStatusFailed},
	ReportStatusFailed:  {ReportStatusSyncing},
	ReportStatusSynced:  {},
}

// CanTransitionTo reports whether the state machine allows moving to next
func (s ReportStatus) CanTransitionTo(next ReportStatus) bool {
	for _, allowed := range validReportTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// GPSFix is an optional location snapshot attached to a report
type GPSFix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	FixedAt   time.Time `json:"fixedAt"`
}

// ReportPayload is the user-authored content of an incident report. It is
// what gets delivered to the server; the queue bookkeeping around it stays
// local.
type ReportPayload struct {
	Severity   int     `json:"severity"`
	Message    string  `json:"message"`
	Location   *GPSFix `json:"location,omitempty"`
	ShiftRef   string  `json:"shiftRef,omitempty"`
	IsOffShift bool    `json:"isOffShift"`
}

// QueuedReport is a durable write-queue entry for one incident report.
// Delivery is at-least-once: a retry after a lost success response can
// produce a duplicate server-side write, because the submission carries no
// idempotency key. That is the wire contract; the client ID below is used
// for log correlation only.
type QueuedReport struct {
	ID         string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Severity   int            `gorm:"not null" json:"severity"`
	Message    string         `gorm:"type:text;not null" json:"message"`
	Location   datatypes.JSON `gorm:"type:jsonb" json:"location,omitempty"`
	ShiftRef   *string        `gorm:"type:varchar(64)" json:"shiftRef,omitempty"`
	IsOffShift bool           `gorm:"default:false" json:"isOffShift"`

	Status       ReportStatus `gorm:"type:varchar(20);not null;index:idx_report_status" json:"status"`
	SyncAttempts int          `gorm:"default:0" json:"syncAttempts"`
	LastAttempt  *time.Time   `json:"lastAttempt,omitempty"`
	LastError    *string      `gorm:"type:text" json:"lastError,omitempty"`

	CreatedAt time.Time `gorm:"not null;index:idx_report_created" json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name
func (QueuedReport) TableName() string {
	return "queued_reports"
}

// NewQueuedReport builds a draft report with a freshly allocated client ID
func NewQueuedReport(payload ReportPayload) (*QueuedReport, error) {
	report := &QueuedReport{
		ID:         uuid.New().String(),
		Severity:   payload.Severity,
		Message:    payload.Message,
		ShiftRef:   optionalString(payload.ShiftRef),
		IsOffShift: payload.IsOffShift,
		Status:     ReportStatusDraft,
	}

	if payload.Location != nil {
		raw, err := json.Marshal(payload.Location)
		if err != nil {
			return nil, fmt.Errorf("failed to encode location: %w", err)
		}
		report.Location = datatypes.JSON(raw)
	}

	return report, nil
}

// Payload reassembles the deliverable content of the report
func (r *QueuedReport) Payload() (ReportPayload, error) {
	payload := ReportPayload{
		Severity:   r.Severity,
		Message:    r.Message,
		IsOffShift: r.IsOffShift,
	}
	if r.ShiftRef != nil {
		payload.ShiftRef = *r.ShiftRef
	}
	if len(r.Location) > 0 {
		var fix GPSFix
		if err := json.Unmarshal(r.Location, &fix); err != nil {
			return payload, fmt.Errorf("failed to decode location for report %s: %w", r.ID, err)
		}
		payload.Location = &fix
	}
	return payload, nil
}

// IsPending reports whether the record should appear in the UI pending list
func (r *QueuedReport) IsPending() bool {
	switch r.Status {
	case ReportStatusDraft, ReportStatusQueued, ReportStatusFailed:
		return true
	}
	return false
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
