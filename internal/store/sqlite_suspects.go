package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nvandessel/tracegraph/internal/history"
	"github.com/nvandessel/tracegraph/internal/models"
)

// ListHistory returns a node's requirement history newest-first. A stored
// snapshot that cannot be decoded fails the whole query.
func (s *SQLiteGraphStore) ListHistory(ctx context.Context, nodeID string, limit int) ([]models.RequirementHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, node_id, actor, change_source, changed_at, prev_snapshot, next_snapshot
		FROM requirement_history
		WHERE node_id = ?
		ORDER BY changed_at DESC, rowid DESC
		LIMIT ?`, nodeID, history.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := make([]models.RequirementHistoryEntry, 0)
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func scanHistory(sc scanner) (*models.RequirementHistoryEntry, error) {
	var e models.RequirementHistoryEntry
	var source, changed, prev, next string
	if err := sc.Scan(&e.ID, &e.ProjectID, &e.NodeID, &e.Actor, &source, &changed, &prev, &next); err != nil {
		return nil, fmt.Errorf("failed to scan history entry: %w", err)
	}
	e.Source = models.ChangeSource(source)

	var err error
	if e.Timestamp, err = parseTime(changed); err != nil {
		return nil, err
	}
	if e.Prev, err = history.DecodeSnapshot([]byte(prev)); err != nil {
		return nil, fmt.Errorf("history %s prev: %w", e.ID, err)
	}
	if e.Next, err = history.DecodeSnapshot([]byte(next)); err != nil {
		return nil, fmt.Errorf("history %s next: %w", e.ID, err)
	}
	return &e, nil
}

// CheckHistory decodes every stored history snapshot and returns the
// number of entries checked. The first undecodable entry is returned as
// an error wrapping history.ErrCorruptSnapshot.
func (s *SQLiteGraphStore) CheckHistory(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, node_id, actor, change_source, changed_at, prev_snapshot, next_snapshot
		FROM requirement_history ORDER BY rowid`)
	if err != nil {
		return 0, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	checked := 0
	for rows.Next() {
		if _, err := scanHistory(rows); err != nil {
			return checked, err
		}
		checked++
	}
	return checked, rows.Err()
}

// Suspect links

const suspectColumns = `id, project_id, edge_id, source_node_id, target_node_id,
	flagged_at, flagged_reason, resolved_at, resolved_by`

// InsertSuspectIfAbsent inserts link in a single guarded statement. The
// partial unique index on open links backs the guard.
func (s *SQLiteGraphStore) InsertSuspectIfAbsent(ctx context.Context, link models.SuspectLink) (bool, error) {
	if link.ID == "" || link.EdgeID == "" {
		return false, fmt.Errorf("suspect link id and edge id are required")
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO suspect_links
			(id, project_id, edge_id, source_node_id, target_node_id, flagged_at, flagged_reason)
		SELECT ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM suspect_links WHERE edge_id = ? AND resolved_at IS NULL
		)`,
		link.ID, link.ProjectID, link.EdgeID, link.SourceID, link.TargetID,
		formatTime(link.FlaggedAt), link.FlaggedReason, link.EdgeID)
	if err != nil {
		return false, fmt.Errorf("failed to flag edge %s: %w", link.EdgeID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// ResolveSuspect closes an open link. A second call leaves the first
// resolution in place and succeeds.
func (s *SQLiteGraphStore) ResolveSuspect(ctx context.Context, id, resolvedBy string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE suspect_links SET resolved_at = ?, resolved_by = ?
		WHERE id = ? AND resolved_at IS NULL`,
		formatTime(at), nullString(resolvedBy), id)
	if err != nil {
		return fmt.Errorf("failed to resolve suspect link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	// Nothing updated: either already resolved or unknown.
	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM suspect_links WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("suspect link %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to look up suspect link: %w", err)
	}
	return nil
}

// GetSuspect returns a suspect link by ID, open or resolved.
func (s *SQLiteGraphStore) GetSuspect(ctx context.Context, id string) (*models.SuspectLink, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+suspectColumns+` FROM suspect_links WHERE id = ?`, id)
	l, err := scanSuspect(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("suspect link %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// ListOpenSuspects returns a project's unresolved links, newest-flagged-first.
func (s *SQLiteGraphStore) ListOpenSuspects(ctx context.Context, projectID string) ([]models.SuspectLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+suspectColumns+` FROM suspect_links
		WHERE project_id = ? AND resolved_at IS NULL
		ORDER BY flagged_at DESC, rowid DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query suspect links: %w", err)
	}
	defer rows.Close()

	links := make([]models.SuspectLink, 0)
	for rows.Next() {
		l, err := scanSuspect(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, *l)
	}
	return links, rows.Err()
}

func scanSuspect(sc scanner) (*models.SuspectLink, error) {
	var l models.SuspectLink
	var flagged string
	var resolvedAt, resolvedBy sql.NullString
	err := sc.Scan(&l.ID, &l.ProjectID, &l.EdgeID, &l.SourceID, &l.TargetID,
		&flagged, &l.FlaggedReason, &resolvedAt, &resolvedBy)
	if err != nil {
		return nil, err
	}
	if l.FlaggedAt, err = parseTime(flagged); err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		t, err := parseTime(resolvedAt.String)
		if err != nil {
			return nil, err
		}
		l.ResolvedAt = &t
	}
	if resolvedBy.Valid {
		by := resolvedBy.String
		l.ResolvedBy = &by
	}
	return &l, nil
}
