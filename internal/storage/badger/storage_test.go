package badger

import (
	"path/filepath"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
)

// setupTestDB opens a throwaway Badger database for a single test
func setupTestDB(t *testing.T) (*BadgerDB, func()) {
	t.Helper()

	logger := arbor.NewLogger()
	config := &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "db"),
	}

	db, err := NewBadgerDB(logger, config)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	return db, func() {
		db.Close()
	}
}
