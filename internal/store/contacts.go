package store

import (
	"errors"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shiftwatch/fieldagent/internal/database"
	"github.com/shiftwatch/fieldagent/internal/models"
	"gorm.io/gorm"
)

// fallbackSize bounds the in-memory copy of the contact snapshot. Real
// deployments carry a handful of contacts; the bound only matters if the
// server misbehaves.
const fallbackSize = 64

// ContactCache is the cache-aside store for emergency contacts. Reads always
// serve local data and never block on the network; population happens only
// through ReplaceAll, driven by the sync orchestrator. A session-scoped LRU
// holds the last good snapshot so reads keep working if the durable store
// goes away mid-session.
type ContactCache struct {
	db       *database.DB
	now      func() time.Time
	fallback *lru.Cache[string, models.EmergencyContact]
}

// NewContactCache creates a contact cache over the local durable store
func NewContactCache(db *database.DB) *ContactCache {
	// lru.New only fails on a non-positive size
	fallback, _ := lru.New[string, models.EmergencyContact](fallbackSize)
	return &ContactCache{
		db:       db,
		now:      func() time.Time { return time.Now().UTC() },
		fallback: fallback,
	}
}

// ReplaceAll atomically swaps the entire cache for the server's current
// records. On any error the previous contents stay untouched: stale-but-
// present beats empty.
func (c *ContactCache) ReplaceAll(contacts []models.EmergencyContact) error {
	now := c.now()
	contacts = normalizeDefaults(contacts)
	for i := range contacts {
		contacts[i].LastUpdated = now
	}

	err := c.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.EmergencyContact{}).Error; err != nil {
			return err
		}
		if len(contacts) == 0 {
			return nil
		}
		return tx.Create(&contacts).Error
	})
	if err != nil {
		return classify(err)
	}

	c.fallback.Purge()
	for _, contact := range contacts {
		c.fallback.Add(contact.ID, contact)
	}
	return nil
}

// GetAll returns all cached contacts ordered for display
func (c *ContactCache) GetAll() ([]models.EmergencyContact, error) {
	var contacts []models.EmergencyContact
	err := c.db.Order("display_order ASC, id ASC").Find(&contacts).Error
	if err != nil {
		if fromFallback := c.fallbackAll(); fromFallback != nil {
			return fromFallback, nil
		}
		return nil, classify(err)
	}
	return contacts, nil
}

// GetDefault returns the single default contact, ErrNotFound when none
func (c *ContactCache) GetDefault() (*models.EmergencyContact, error) {
	var contact models.EmergencyContact
	err := c.db.Where("is_default = ?", true).First(&contact).Error
	if err == nil {
		return &contact, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		for _, fc := range c.fallbackAll() {
			if fc.IsDefault {
				fc := fc
				return &fc, nil
			}
		}
	}
	return nil, classify(err)
}

// HasData reports whether the cache holds any contacts
func (c *ContactCache) HasData() bool {
	var count int64
	if err := c.db.Model(&models.EmergencyContact{}).Count(&count).Error; err != nil {
		return c.fallback.Len() > 0
	}
	return count > 0
}

// Info returns freshness metadata for UI staleness indicators
func (c *ContactCache) Info() (models.CacheInfo, error) {
	contacts, err := c.GetAll()
	if err != nil {
		return models.CacheInfo{}, err
	}

	info := models.CacheInfo{Count: len(contacts)}
	for _, contact := range contacts {
		if info.LastUpdated == nil || contact.LastUpdated.After(*info.LastUpdated) {
			t := contact.LastUpdated
			info.LastUpdated = &t
		}
	}
	return info, nil
}

func (c *ContactCache) fallbackAll() []models.EmergencyContact {
	if c.fallback.Len() == 0 {
		return nil
	}
	contacts := make([]models.EmergencyContact, 0, c.fallback.Len())
	for _, key := range c.fallback.Keys() {
		if contact, ok := c.fallback.Peek(key); ok {
			contacts = append(contacts, contact)
		}
	}
	sort.Slice(contacts, func(i, j int) bool {
		if contacts[i].DisplayOrder != contacts[j].DisplayOrder {
			return contacts[i].DisplayOrder < contacts[j].DisplayOrder
		}
		return contacts[i].ID < contacts[j].ID
	})
	return contacts
}

// normalizeDefaults enforces the at-most-one-default invariant. When the
// server hands back several defaults, the first in display order keeps the
// flag.
func normalizeDefaults(contacts []models.EmergencyContact) []models.EmergencyContact {
	sorted := make([]models.EmergencyContact, len(contacts))
	copy(sorted, contacts)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].DisplayOrder != sorted[j].DisplayOrder {
			return sorted[i].DisplayOrder < sorted[j].DisplayOrder
		}
		return sorted[i].ID < sorted[j].ID
	})

	seen := false
	for i := range sorted {
		if sorted[i].IsDefault {
			if seen {
				sorted[i].IsDefault = false
			}
			seen = true
		}
	}
	return sorted
}
