package store

import (
	"errors"
	"time"

	"github.com/shiftwatch/fieldagent/internal/database"
	"github.com/shiftwatch/fieldagent/internal/models"
	"gorm.io/gorm"
)

// MessageStore merges server-authoritative messages into local records while
// preserving the locally owned read state. Reconcile never deletes: a fetch
// that narrows results (pagination, filters) must not look like a deletion,
// so records only leave through PurgeOlderThan.
type MessageStore struct {
	db  *database.DB
	now func() time.Time
}

// NewMessageStore creates a message store over the local durable store
func NewMessageStore(db *database.DB) *MessageStore {
	return &MessageStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile merges a server-fetched list into the local table. For an
// existing ID the server fields are overwritten and read/readAt are left
// alone; the update is column-scoped, so a concurrent MarkRead cannot be
// clobbered. Unknown IDs are inserted unread.
func (s *MessageStore) Reconcile(incoming []models.IncomingMessage) error {
	if len(incoming) == 0 {
		return nil
	}
	now := s.now()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, msg := range incoming {
			var existing models.StoredMessage
			err := tx.Where("id = ?", msg.ID).First(&existing).Error

			switch {
			case err == nil:
				updates := map[string]interface{}{
					"title":     msg.Title,
					"message":   msg.Message,
					"timestamp": msg.Timestamp,
					"audience":  msg.EncodeAudience(),
					"last_seen": now,
				}
				if err := tx.Model(&models.StoredMessage{}).
					Where("id = ?", msg.ID).
					Updates(updates).Error; err != nil {
					return err
				}

			case errors.Is(err, gorm.ErrRecordNotFound):
				record := models.StoredMessage{
					ID:        msg.ID,
					Title:     msg.Title,
					Message:   msg.Message,
					Timestamp: msg.Timestamp,
					Audience:  msg.EncodeAudience(),
					Read:      false,
					LastSeen:  now,
				}
				if err := tx.Create(&record).Error; err != nil {
					return err
				}

			default:
				return err
			}
		}
		return nil
	})
	return classify(err)
}

// GetAll returns all stored messages, newest first
func (s *MessageStore) GetAll() ([]models.StoredMessage, error) {
	var messages []models.StoredMessage
	err := s.db.Order("timestamp DESC").Find(&messages).Error
	if err != nil {
		return nil, classify(err)
	}
	return messages, nil
}

// MarkRead marks one message as read. Touches only the read fields.
func (s *MessageStore) MarkRead(id string) error {
	now := s.now()
	res := s.db.Model(&models.StoredMessage{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"read": true, "read_at": now})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllRead marks every unread message as read
func (s *MessageStore) MarkAllRead() error {
	now := s.now()
	err := s.db.Model(&models.StoredMessage{}).
		Where("read = ?", false).
		Updates(map[string]interface{}{"read": true, "read_at": now}).Error
	return classify(err)
}

// UnreadCount returns the number of unread messages
func (s *MessageStore) UnreadCount() (int64, error) {
	var count int64
	err := s.db.Model(&models.StoredMessage{}).
		Where("read = ?", false).
		Count(&count).Error
	if err != nil {
		return 0, classify(err)
	}
	return count, nil
}

// PurgeOlderThan deletes messages whose server timestamp is older than the
// retention window and returns how many went away
func (s *MessageStore) PurgeOlderThan(days int) (int64, error) {
	cutoff := s.now().AddDate(0, 0, -days)
	res := s.db.Where("timestamp < ?", cutoff).Delete(&models.StoredMessage{})
	if res.Error != nil {
		return 0, classify(res.Error)
	}
	return res.RowsAffected, nil
}
