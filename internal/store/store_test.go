package store

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/shiftwatch/fieldagent/internal/database"
	"github.com/shiftwatch/fieldagent/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens a throwaway database with the agent schema, standing in
// for the embedded PostgreSQL process
func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "agent.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	err = gdb.AutoMigrate(
		&models.QueuedReport{},
		&models.EmergencyContact{},
		&models.StoredMessage{},
	)
	if err != nil {
		t.Fatalf("Migration failed: %v", err)
	}

	return &database.DB{DB: gdb}
}
