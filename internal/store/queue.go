package store

import (
	"fmt"
	"log"
	"time"

	"github.com/shiftwatch/fieldagent/internal/database"
	"github.com/shiftwatch/fieldagent/internal/models"
	"gorm.io/gorm"
)

// ReportQueue is the durable write queue for incident reports. Reports are
// created locally as drafts, queued for delivery, and walked through the
// syncing lifecycle by the orchestrator. CreateDraft and QueueForSync never
// touch the network.
type ReportQueue struct {
	db  *database.DB
	now func() time.Time
}

// NewReportQueue creates a report queue over the local durable store
func NewReportQueue(db *database.DB) *ReportQueue {
	return &ReportQueue{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// CreateDraft allocates an ID and stores the report as a draft. This is the
// only creation path; reports start as drafts even when the device is
// online, so the authoring flow is identical regardless of connectivity.
func (q *ReportQueue) CreateDraft(payload models.ReportPayload) (*models.QueuedReport, error) {
	report, err := models.NewQueuedReport(payload)
	if err != nil {
		return nil, err
	}
	report.CreatedAt = q.now()

	if err := q.db.Create(report).Error; err != nil {
		return nil, classify(err)
	}
	return report, nil
}

// QueueForSync moves a draft into the queue and stamps the attempt time
func (q *ReportQueue) QueueForSync(id string) error {
	now := q.now()
	return q.transition(id, models.ReportStatusQueued, func(r *models.QueuedReport) {
		r.LastAttempt = &now
	})
}

// MarkSyncing claims a record for delivery. The current status is re-read
// inside the transaction, so a record already claimed by another pass is
// rejected with ErrInvalidTransition.
func (q *ReportQueue) MarkSyncing(id string) error {
	now := q.now()
	return q.transition(id, models.ReportStatusSyncing, func(r *models.QueuedReport) {
		r.LastAttempt = &now
	})
}

// MarkSynced records a confirmed server-side write and clears the error
func (q *ReportQueue) MarkSynced(id string) error {
	return q.transition(id, models.ReportStatusSynced, func(r *models.QueuedReport) {
		r.LastError = nil
	})
}

// MarkFailed records a delivery failure and bumps the attempt counter
func (q *ReportQueue) MarkFailed(id string, cause error) error {
	msg := cause.Error()
	return q.transition(id, models.ReportStatusFailed, func(r *models.QueuedReport) {
		r.SyncAttempts++
		r.LastError = &msg
	})
}

// Get loads a single report by ID
func (q *ReportQueue) Get(id string) (*models.QueuedReport, error) {
	var report models.QueuedReport
	if err := q.db.Where("id = ?", id).First(&report).Error; err != nil {
		return nil, classify(err)
	}
	return &report, nil
}

// Pending returns drafts plus queued and failed records for the UI badge,
// oldest first
func (q *ReportQueue) Pending() ([]models.QueuedReport, error) {
	return q.byStatus(models.ReportStatusDraft, models.ReportStatusQueued, models.ReportStatusFailed)
}

// Drainable returns the records a sync pass must attempt, oldest first
func (q *ReportQueue) Drainable() ([]models.QueuedReport, error) {
	return q.byStatus(models.ReportStatusQueued, models.ReportStatusFailed)
}

// Delete removes a report, normally after the post-sync grace period
func (q *ReportQueue) Delete(id string) error {
	if err := q.db.Where("id = ?", id).Delete(&models.QueuedReport{}).Error; err != nil {
		return classify(err)
	}
	return nil
}

// RecoverInterrupted repairs queue state after a crash: records stuck in
// syncing fall back to failed so the UI shows an honest retry affordance,
// and synced records whose grace deletion never ran are removed.
func (q *ReportQueue) RecoverInterrupted() (int, error) {
	interruptedMsg := "delivery interrupted by restart"
	recovered := 0

	err := q.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.QueuedReport{}).
			Where("status = ?", models.ReportStatusSyncing).
			Updates(map[string]interface{}{
				"status":        models.ReportStatusFailed,
				"sync_attempts": gorm.Expr("sync_attempts + 1"),
				"last_error":    interruptedMsg,
			})
		if res.Error != nil {
			return res.Error
		}
		recovered = int(res.RowsAffected)

		return tx.Where("status = ?", models.ReportStatusSynced).
			Delete(&models.QueuedReport{}).Error
	})
	if err != nil {
		return 0, classify(err)
	}

	if recovered > 0 {
		log.Printf("🧹 Recovered %d interrupted report(s) to failed", recovered)
	}
	return recovered, nil
}

func (q *ReportQueue) byStatus(statuses ...models.ReportStatus) ([]models.QueuedReport, error) {
	var reports []models.QueuedReport
	err := q.db.Where("status IN ?", statuses).
		Order("created_at ASC").
		Find(&reports).Error
	if err != nil {
		return nil, classify(err)
	}
	return reports, nil
}

// transition applies a status change after re-reading the current status
// inside a transaction
func (q *ReportQueue) transition(id string, to models.ReportStatus, mutate func(*models.QueuedReport)) error {
	err := q.db.Transaction(func(tx *gorm.DB) error {
		var report models.QueuedReport
		if err := tx.Where("id = ?", id).First(&report).Error; err != nil {
			return err
		}

		if !report.Status.CanTransitionTo(to) {
			return fmt.Errorf("%w: %s -> %s for report %s", ErrInvalidTransition, report.Status, to, id)
		}

		report.Status = to
		if mutate != nil {
			mutate(&report)
		}
		return tx.Save(&report).Error
	})
	if err != nil {
		return classify(err)
	}
	return nil
}
