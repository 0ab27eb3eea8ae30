package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nvandessel/tracegraph/internal/models"
)

// Comments

const commentColumns = `id, project_id, node_id, parent_id, author, body,
	created_at, updated_at, resolved_at, resolved_by`

// AddComment inserts a comment after checking its node and parent.
func (s *SQLiteGraphStore) AddComment(ctx context.Context, c models.Comment) error {
	if c.ID == "" || c.NodeID == "" {
		return fmt.Errorf("comment id and node id are required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := checkProject(ctx, tx, c.ProjectID); err != nil {
		return err
	}
	var nodeProject string
	err = tx.QueryRowContext(ctx, `SELECT project_id FROM nodes WHERE id = ?`, c.NodeID).Scan(&nodeProject)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("node %s: %w", c.NodeID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to look up node: %w", err)
	}
	if nodeProject != c.ProjectID {
		return fmt.Errorf("node %s: belongs to project %s", c.NodeID, nodeProject)
	}

	if c.ParentID != "" {
		var parentNode string
		err := tx.QueryRowContext(ctx, `SELECT node_id FROM req_comments WHERE id = ?`, c.ParentID).Scan(&parentNode)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("comment %s: %w", c.ParentID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to look up parent comment: %w", err)
		}
		if parentNode != c.NodeID {
			return fmt.Errorf("comment %s is on node %s, not %s", c.ParentID, parentNode, c.NodeID)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO req_comments (id, project_id, node_id, parent_id, author, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProjectID, c.NodeID, nullString(c.ParentID), c.Author, c.Body,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert comment: %w", err)
	}
	return tx.Commit()
}

// GetComment returns a comment by ID.
func (s *SQLiteGraphStore) GetComment(ctx context.Context, id string) (*models.Comment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM req_comments WHERE id = ?`, id)
	c, err := scanComment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListComments returns a node's comments oldest first.
func (s *SQLiteGraphStore) ListComments(ctx context.Context, nodeID string) ([]models.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+` FROM req_comments
		WHERE node_id = ? ORDER BY created_at, rowid`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query comments: %w", err)
	}
	defer rows.Close()

	comments := make([]models.Comment, 0)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, *c)
	}
	return comments, rows.Err()
}

// OpenCommentCounts counts unresolved comments per node of a project.
func (s *SQLiteGraphStore) OpenCommentCounts(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, COUNT(*) FROM req_comments
		WHERE project_id = ? AND resolved_at IS NULL
		GROUP BY node_id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to count comments: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var nodeID string
		var n int
		if err := rows.Scan(&nodeID, &n); err != nil {
			return nil, fmt.Errorf("failed to scan comment count: %w", err)
		}
		counts[nodeID] = n
	}
	return counts, rows.Err()
}

// ResolveComment resolves an open comment; a resolved one is left alone.
func (s *SQLiteGraphStore) ResolveComment(ctx context.Context, id, resolvedBy string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE req_comments SET resolved_at = ?, resolved_by = ?, updated_at = ?
		WHERE id = ? AND resolved_at IS NULL`,
		formatTime(at), nullString(resolvedBy), formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to resolve comment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	_, err = s.GetComment(ctx, id)
	return err
}

// DeleteComment removes a comment. Replies cascade.
func (s *SQLiteGraphStore) DeleteComment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM req_comments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete comment: %w", err)
	}
	return requireAffected(res, "comment", id)
}

func scanComment(sc scanner) (*models.Comment, error) {
	var c models.Comment
	var parent, resolvedAt, resolvedBy sql.NullString
	var created, updated string
	err := sc.Scan(&c.ID, &c.ProjectID, &c.NodeID, &parent, &c.Author, &c.Body,
		&created, &updated, &resolvedAt, &resolvedBy)
	if err != nil {
		return nil, err
	}
	c.ParentID = parent.String
	if c.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if c.ResolvedAt, err = parseNullTime(resolvedAt); err != nil {
		return nil, err
	}
	if resolvedBy.Valid {
		by := resolvedBy.String
		c.ResolvedBy = &by
	}
	return &c, nil
}

// Review sessions

const sessionColumns = `id, project_id, title, description, status, created_by, created_at, closed_at`

// CreateReviewSession inserts a session and its items in one transaction.
func (s *SQLiteGraphStore) CreateReviewSession(ctx context.Context, rs models.ReviewSession) error {
	if rs.ID == "" {
		return fmt.Errorf("review session ID is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := checkProject(ctx, tx, rs.ProjectID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO review_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL)`,
		rs.ID, rs.ProjectID, rs.Title, rs.Description, string(rs.Status), rs.CreatedBy, formatTime(rs.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert review session: %w", err)
	}

	for i, item := range rs.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO review_items (id, session_id, node_id, position) VALUES (?, ?, ?, ?)`,
			item.ID, rs.ID, item.NodeID, i)
		if err != nil {
			return fmt.Errorf("failed to insert review item for node %s: %w", item.NodeID, err)
		}
	}
	return tx.Commit()
}

// GetReviewSession returns a session with its items.
func (s *SQLiteGraphStore) GetReviewSession(ctx context.Context, id string) (*models.ReviewSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM review_sessions WHERE id = ?`, id)
	rs, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("review session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if rs.Items, err = s.reviewItems(ctx, rs.ID); err != nil {
		return nil, err
	}
	return rs, nil
}

// ListReviewSessions returns a project's sessions newest first.
func (s *SQLiteGraphStore) ListReviewSessions(ctx context.Context, projectID string) ([]models.ReviewSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM review_sessions
		WHERE project_id = ? ORDER BY created_at DESC, rowid DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query review sessions: %w", err)
	}

	sessions := make([]models.ReviewSession, 0)
	for rows.Next() {
		rs, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		sessions = append(sessions, *rs)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Release the only connection before loading items.
	rows.Close()

	for i := range sessions {
		if sessions[i].Items, err = s.reviewItems(ctx, sessions[i].ID); err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

func (s *SQLiteGraphStore) reviewItems(ctx context.Context, sessionID string) ([]models.ReviewItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, node_id, verdict, verdict_by, verdict_at, verdict_note
		FROM review_items WHERE session_id = ? ORDER BY position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query review items: %w", err)
	}
	defer rows.Close()

	items := make([]models.ReviewItem, 0)
	for rows.Next() {
		var it models.ReviewItem
		var verdict, by, at, note sql.NullString
		if err := rows.Scan(&it.ID, &it.SessionID, &it.NodeID, &verdict, &by, &at, &note); err != nil {
			return nil, fmt.Errorf("failed to scan review item: %w", err)
		}
		it.Verdict = models.Verdict(verdict.String)
		it.VerdictBy = by.String
		it.VerdictNote = note.String
		if it.VerdictAt, err = parseNullTime(at); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// SetReviewVerdict records a verdict on an item of an unclosed session.
func (s *SQLiteGraphStore) SetReviewVerdict(ctx context.Context, itemID string, verdict models.Verdict, by, note string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var sessionID, status string
	err = tx.QueryRowContext(ctx, `
		SELECT s.id, s.status FROM review_items i
		JOIN review_sessions s ON s.id = i.session_id
		WHERE i.id = ?`, itemID).Scan(&sessionID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("review item %s: %w", itemID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to look up review item: %w", err)
	}
	if models.ReviewStatus(status).Final() {
		return fmt.Errorf("review session %s (%s): %w", sessionID, status, ErrReviewClosed)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE review_items SET verdict = ?, verdict_by = ?, verdict_at = ?, verdict_note = ?
		WHERE id = ?`,
		string(verdict), nullString(by), formatTime(at), nullString(note), itemID)
	if err != nil {
		return fmt.Errorf("failed to set verdict: %w", err)
	}
	if models.ReviewStatus(status) == models.ReviewOpen {
		if _, err := tx.ExecContext(ctx,
			`UPDATE review_sessions SET status = ? WHERE id = ?`,
			string(models.ReviewInProgress), sessionID); err != nil {
			return fmt.Errorf("failed to update review status: %w", err)
		}
	}
	return tx.Commit()
}

// CloseReviewSession sets a final status on an unclosed session.
func (s *SQLiteGraphStore) CloseReviewSession(ctx context.Context, id string, status models.ReviewStatus, at time.Time) error {
	if !status.Final() {
		return fmt.Errorf("cannot close review session with status %s", status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM review_sessions WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("review session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to look up review session: %w", err)
	}
	if models.ReviewStatus(current).Final() {
		return fmt.Errorf("review session %s (%s): %w", id, current, ErrReviewClosed)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE review_sessions SET status = ?, closed_at = ? WHERE id = ?`,
		string(status), formatTime(at), id); err != nil {
		return fmt.Errorf("failed to close review session: %w", err)
	}
	return tx.Commit()
}

func scanSession(sc scanner) (*models.ReviewSession, error) {
	var rs models.ReviewSession
	var status, created string
	var closed sql.NullString
	err := sc.Scan(&rs.ID, &rs.ProjectID, &rs.Title, &rs.Description, &status, &rs.CreatedBy, &created, &closed)
	if err != nil {
		return nil, err
	}
	rs.Status = models.ReviewStatus(status)
	if rs.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if rs.ClosedAt, err = parseNullTime(closed); err != nil {
		return nil, err
	}
	return &rs, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
