package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nvandessel/tracegraph/internal/models"
)

// CreateBaseline stores a baseline and its encoded snapshot.
func (s *SQLiteGraphStore) CreateBaseline(ctx context.Context, rec BaselineRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("baseline ID is required")
	}
	if len(rec.Blob) == 0 {
		return fmt.Errorf("baseline %s: snapshot is empty", rec.ID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := checkProject(ctx, tx, rec.ProjectID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO model_baselines (id, project_id, name, description, created_by, created_at, snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ProjectID, rec.Name, rec.Description, rec.CreatedBy, formatTime(rec.CreatedAt), rec.Blob)
	if err != nil {
		return fmt.Errorf("failed to insert baseline: %w", err)
	}
	return tx.Commit()
}

// GetBaseline returns a baseline with its encoded snapshot.
func (s *SQLiteGraphStore) GetBaseline(ctx context.Context, id string) (*BaselineRecord, error) {
	var rec BaselineRecord
	var created string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, description, created_by, created_at, snapshot
		FROM model_baselines WHERE id = ?`, id).Scan(
		&rec.ID, &rec.ProjectID, &rec.Name, &rec.Description, &rec.CreatedBy, &created, &rec.Blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("baseline %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query baseline: %w", err)
	}
	if rec.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListBaselines returns a project's baselines newest first, without
// snapshots.
func (s *SQLiteGraphStore) ListBaselines(ctx context.Context, projectID string) ([]models.Baseline, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, description, created_by, created_at
		FROM model_baselines WHERE project_id = ?
		ORDER BY created_at DESC, rowid DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query baselines: %w", err)
	}
	defer rows.Close()

	baselines := make([]models.Baseline, 0)
	for rows.Next() {
		var b models.Baseline
		var created string
		if err := rows.Scan(&b.ID, &b.ProjectID, &b.Name, &b.Description, &b.CreatedBy, &created); err != nil {
			return nil, fmt.Errorf("failed to scan baseline: %w", err)
		}
		if b.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		baselines = append(baselines, b)
	}
	return baselines, rows.Err()
}

// DeleteBaseline removes a baseline.
func (s *SQLiteGraphStore) DeleteBaseline(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM model_baselines WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete baseline: %w", err)
	}
	return requireAffected(res, "baseline", id)
}

var _ GraphStore = (*SQLiteGraphStore)(nil)
