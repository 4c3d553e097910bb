package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// FrameRecord is one indexed frame file
type FrameRecord struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	Source      string    `json:"source"`
	SizeBytes   int64     `json:"size_bytes"`
	CapturedAt  time.Time `json:"captured_at"`
	Analyzed    bool      `json:"analyzed"`
	Detected    bool      `json:"detected"`
	ArchivePath string    `json:"archive_path,omitempty"`
}

const frameColumns = `id, path, source, size_bytes, captured_at, analyzed, detected, archive_path`

// AddFrame indexes a persisted frame. Re-adding the same path replaces the row.
func (m *Manager) AddFrame(ctx context.Context, rec FrameRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		INSERT INTO frames (id, path, source, size_bytes, captured_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			id = excluded.id,
			source = excluded.source,
			size_bytes = excluded.size_bytes,
			captured_at = excluded.captured_at
	`

	_, err := m.db.GetDB().ExecContext(ctx, query,
		rec.ID, rec.Path, rec.Source, rec.SizeBytes, rec.CapturedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to add frame: %w", err)
	}
	return nil
}

// MarkAnalyzed records the verdict outcome for a frame
func (m *Manager) MarkAnalyzed(ctx context.Context, id string, detected bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.db.GetDB().ExecContext(ctx,
		`UPDATE frames SET analyzed = 1, detected = ? WHERE id = ?`, detected, id)
	if err != nil {
		return fmt.Errorf("failed to mark frame analyzed: %w", err)
	}
	return nil
}

// MarkArchived records where a frame was archived
func (m *Manager) MarkArchived(ctx context.Context, id, archivePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.db.GetDB().ExecContext(ctx,
		`UPDATE frames SET archive_path = ? WHERE id = ?`, archivePath, id)
	if err != nil {
		return fmt.Errorf("failed to mark frame archived: %w", err)
	}
	return nil
}

// RemoveFrame drops the index entry for path. Unknown paths are not an error.
func (m *Manager) RemoveFrame(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.db.GetDB().ExecContext(ctx, `DELETE FROM frames WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to remove frame: %w", err)
	}
	return nil
}

// GetFrame returns the frame with the given ID, or nil
func (m *Manager) GetFrame(ctx context.Context, id string) (*FrameRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row := m.db.GetDB().QueryRowContext(ctx,
		`SELECT `+frameColumns+` FROM frames WHERE id = ?`, id)
	rec, err := scanFrame(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get frame: %w", err)
	}
	return rec, nil
}

// LatestFrame returns the most recently captured frame, or nil when the
// index is empty
func (m *Manager) LatestFrame(ctx context.Context) (*FrameRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row := m.db.GetDB().QueryRowContext(ctx,
		`SELECT `+frameColumns+` FROM frames ORDER BY captured_at DESC, id DESC LIMIT 1`)
	rec, err := scanFrame(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest frame: %w", err)
	}
	return rec, nil
}

// ListFrames returns up to limit frames, newest first. detectedOnly restricts
// the result to frames with a positive verdict.
func (m *Manager) ListFrames(ctx context.Context, limit int, detectedOnly bool) ([]FrameRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + frameColumns + ` FROM frames`
	if detectedOnly {
		query += ` WHERE detected = 1`
	}
	query += ` ORDER BY captured_at DESC, id DESC LIMIT ?`

	rows, err := m.db.GetDB().QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list frames: %w", err)
	}
	defer rows.Close()

	frames := make([]FrameRecord, 0)
	for rows.Next() {
		rec, err := scanFrame(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		frames = append(frames, *rec)
	}
	return frames, rows.Err()
}

// CountFrames returns the number of indexed frames
func (m *Manager) CountFrames(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int
	if err := m.db.GetDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM frames`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count frames: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFrame(s scanner) (*FrameRecord, error) {
	var rec FrameRecord
	var archivePath sql.NullString
	if err := s.Scan(
		&rec.ID, &rec.Path, &rec.Source, &rec.SizeBytes, &rec.CapturedAt,
		&rec.Analyzed, &rec.Detected, &archivePath,
	); err != nil {
		return nil, err
	}
	rec.ArchivePath = archivePath.String
	return &rec, nil
}
