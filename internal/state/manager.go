package state

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/config"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
)

// System state keys written by the capture loop
const (
	KeyLastCycleAt     = "last_cycle_at"
	KeyLastDetectionAt = "last_detection_at"
	KeyLastCycleID     = "last_cycle_id"
)

// Manager manages the frame index and loop state persistence
type Manager struct {
	db     *Database
	logger *logger.Logger
	mu     sync.RWMutex
}

// NewManager creates a new state manager
func NewManager(cfg config.StateConfig, log *logger.Logger) (*Manager, error) {
	db, err := NewDatabase(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return &Manager{
		db:     db,
		logger: log,
	}, nil
}

// Close closes the state manager and database
func (m *Manager) Close() error {
	return m.db.Close()
}

// GetDB returns the database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db.GetDB()
}

// SaveSystemState saves a system state value
func (m *Manager) SaveSystemState(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		INSERT INTO system_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`

	_, err := m.db.GetDB().ExecContext(ctx, query, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save system state: %w", err)
	}

	return nil
}

// GetSystemState retrieves a system state value, or "" when unset
func (m *Manager) GetSystemState(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var value string
	query := `SELECT value FROM system_state WHERE key = ?`
	err := m.db.GetDB().QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get system state: %w", err)
	}

	return value, nil
}

// RecoveredState is what a previous run left behind
type RecoveredState struct {
	FrameCount  int
	Latest      *FrameRecord
	SystemState map[string]string
}

// RecoverState loads the persisted inventory on startup
func (m *Manager) RecoverState(ctx context.Context) (*RecoveredState, error) {
	m.logger.Info("Recovering frame index")

	count, err := m.CountFrames(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count frames: %w", err)
	}

	latest, err := m.LatestFrame(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest frame: %w", err)
	}

	systemState, err := m.recoverSystemState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover system state: %w", err)
	}

	m.logger.Info("State recovery complete",
		"frames", count,
		"last_cycle_at", systemState[KeyLastCycleAt],
	)

	return &RecoveredState{
		FrameCount:  count,
		Latest:      latest,
		SystemState: systemState,
	}, nil
}

func (m *Manager) recoverSystemState(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, err := m.db.GetDB().QueryContext(ctx, `SELECT key, value FROM system_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	state := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		state[key] = value
	}

	return state, rows.Err()
}
