package state

import (
	"path/filepath"
	"testing"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/config"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
)

// NewTestManager returns a manager backed by a database in a temp directory
func NewTestManager(t *testing.T) *Manager {
	t.Helper()

	cfg := config.StateConfig{
		Enabled: true,
		DBPath:  filepath.Join(t.TempDir(), "db", "frames.db"),
	}

	mgr, err := NewManager(cfg, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })

	return mgr
}
