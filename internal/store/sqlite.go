// Package store provides graph storage implementations.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nvandessel/tracegraph/internal/history"
	"github.com/nvandessel/tracegraph/internal/models"

	_ "modernc.org/sqlite" // SQLite driver
)

// DefaultBusyTimeout is how long a connection waits on a locked database.
const DefaultBusyTimeout = 5 * time.Second

// timeFormat is fixed-width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteGraphStore implements GraphStore using SQLite for persistence.
// Writes that must be atomic run in a single database transaction.
type SQLiteGraphStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteGraphStore creates a new SQLiteGraphStore rooted at projectRoot.
// It creates the database at .tracegraph/tracegraph.db.
func NewSQLiteGraphStore(projectRoot string) (*SQLiteGraphStore, error) {
	return OpenSQLiteGraphStore(DefaultDBPath(projectRoot), DefaultBusyTimeout)
}

// OpenSQLiteGraphStore opens (or creates) the database at dbPath.
func OpenSQLiteGraphStore(dbPath string, busyTimeout time.Duration) (*SQLiteGraphStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)",
		dbPath, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteGraphStore{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteGraphStore) Path() string {
	return s.dbPath
}

// Close closes the database.
func (s *SQLiteGraphStore) Close() error {
	return s.db.Close()
}

// Projects

// CreateProject inserts a new project.
func (s *SQLiteGraphStore) CreateProject(ctx context.Context, p models.Project) error {
	if p.ID == "" {
		return fmt.Errorf("project ID is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, formatTime(p.CreatedAt), formatTime(p.ModifiedAt))
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

// GetProject returns a project by ID.
func (s *SQLiteGraphStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, modified_at FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListProjects returns all projects, most recently modified first.
func (s *SQLiteGraphStore) ListProjects(ctx context.Context) ([]models.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_at, modified_at FROM projects
		ORDER BY modified_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	projects := make([]models.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// DeleteProject removes a project and everything it owns.
func (s *SQLiteGraphStore) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return requireAffected(res, "project", id)
}

// Nodes

const nodeColumns = `id, project_id, kind, name, description,
	req_id, req_text, req_rationale, req_priority, req_status, req_source,
	req_allocations, req_verification_method, data, meta, created_at, modified_at`

// UpsertNode writes the node and, for requirements, the history entry for
// the change in the same transaction.
func (s *SQLiteGraphStore) UpsertNode(ctx context.Context, node models.Node) (*models.RequirementHistoryEntry, error) {
	if err := node.Validate(); err != nil {
		return nil, err
	}

	reqRow, err := history.RowFromNode(node)
	if err != nil {
		return nil, err
	}
	if reqRow == nil {
		reqRow = &models.RequirementRow{}
	}

	var dataJSON sql.NullString
	if node.Kind != models.NodeKindRequirement {
		raw, err := models.EncodeData(node.Data)
		if err != nil {
			return nil, err
		}
		dataJSON = nullBytes(raw)
	}
	metaJSON, err := marshalMeta(node.Meta)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := checkProject(ctx, tx, node.ProjectID); err != nil {
		return nil, err
	}

	prior, err := readPriorRequirement(ctx, tx, node)
	if err != nil {
		return nil, err
	}

	entry, err := history.RecordIfChanged(prior, node)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", node.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO nodes (`+nodeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			req_id = excluded.req_id,
			req_text = excluded.req_text,
			req_rationale = excluded.req_rationale,
			req_priority = excluded.req_priority,
			req_status = excluded.req_status,
			req_source = excluded.req_source,
			req_allocations = excluded.req_allocations,
			req_verification_method = excluded.req_verification_method,
			data = excluded.data,
			meta = excluded.meta,
			modified_at = excluded.modified_at`,
		node.ID, node.ProjectID, string(node.Kind), node.Name, node.Description,
		reqRow.ReqID, reqRow.Text, reqRow.Rationale, reqRow.Priority, reqRow.Status, reqRow.Source,
		reqRow.Allocations, reqRow.VerificationMethod,
		dataJSON, metaJSON, formatTime(node.CreatedAt), formatTime(node.ModifiedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert node: %w", err)
	}

	if entry != nil {
		if err := insertHistory(ctx, tx, entry); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit node write: %w", err)
	}
	return entry, nil
}

// readPriorRequirement loads the stored requirement columns of node, or nil
// if the node does not exist yet. A stored node may not change kind or
// project.
func readPriorRequirement(ctx context.Context, tx *sql.Tx, node models.Node) (*models.RequirementRow, error) {
	var kind, projectID string
	var row models.RequirementRow
	err := tx.QueryRowContext(ctx, `
		SELECT kind, project_id, name, description, req_id, req_text, req_rationale,
			req_priority, req_status, req_source, req_allocations, req_verification_method
		FROM nodes WHERE id = ?`, node.ID).Scan(
		&kind, &projectID, &row.Name, &row.Description, &row.ReqID, &row.Text, &row.Rationale,
		&row.Priority, &row.Status, &row.Source, &row.Allocations, &row.VerificationMethod,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read prior node: %w", err)
	}

	if kind != string(node.Kind) {
		return nil, fmt.Errorf("node %s: kind cannot change from %s to %s", node.ID, kind, node.Kind)
	}
	if projectID != node.ProjectID {
		return nil, fmt.Errorf("node %s: belongs to project %s", node.ID, projectID)
	}
	if node.Kind != models.NodeKindRequirement {
		return nil, nil
	}
	return &row, nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, e *models.RequirementHistoryEntry) error {
	prev, err := history.EncodeSnapshot(e.Prev)
	if err != nil {
		return err
	}
	next, err := history.EncodeSnapshot(e.Next)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO requirement_history
			(id, project_id, node_id, actor, change_source, changed_at, prev_snapshot, next_snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProjectID, e.NodeID, e.Actor, string(e.Source), formatTime(e.Timestamp), prev, next)
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

// GetNode returns a node by ID.
func (s *SQLiteGraphStore) GetNode(ctx context.Context, id string) (*models.Node, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return node, nil
}

// ListNodes returns every node of a project in creation order.
func (s *SQLiteGraphStore) ListNodes(ctx context.Context, projectID string) ([]models.Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE project_id = ? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	nodes := make([]models.Node, 0)
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}

// DeleteNode removes a node and its incident edges.
func (s *SQLiteGraphStore) DeleteNode(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}
	if err := requireAffected(res, "node", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE source_id = ? OR target_id = ?`, id, id); err != nil {
		return fmt.Errorf("failed to delete incident edges: %w", err)
	}

	return tx.Commit()
}

// Edges

const edgeColumns = `id, project_id, kind, source_id, target_id, label, meta, created_at, modified_at`

// UpsertEdge inserts an edge, or updates the label and metadata of an
// existing one. Kind and endpoints are fixed at creation.
func (s *SQLiteGraphStore) UpsertEdge(ctx context.Context, edge models.Edge) error {
	if err := edge.Validate(); err != nil {
		return err
	}
	metaJSON, err := marshalMeta(edge.Meta)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := checkProject(ctx, tx, edge.ProjectID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO edges (`+edgeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			label = excluded.label,
			meta = excluded.meta,
			modified_at = excluded.modified_at`,
		edge.ID, edge.ProjectID, string(edge.Kind), edge.SourceID, edge.TargetID, edge.Label,
		metaJSON, formatTime(edge.CreatedAt), formatTime(edge.ModifiedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert edge: %w", err)
	}

	return tx.Commit()
}

// GetEdge returns an edge by ID.
func (s *SQLiteGraphStore) GetEdge(ctx context.Context, id string) (*models.Edge, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+edgeColumns+` FROM edges WHERE id = ?`, id)
	e, err := scanEdge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("edge %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// DeleteEdge removes an edge. Its suspect links go with it.
func (s *SQLiteGraphStore) DeleteEdge(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM edges WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete edge: %w", err)
	}
	return requireAffected(res, "edge", id)
}

// EdgesForNode returns every edge touching nodeID.
func (s *SQLiteGraphStore) EdgesForNode(ctx context.Context, nodeID string) ([]models.Edge, error) {
	return s.queryEdges(ctx,
		`SELECT `+edgeColumns+` FROM edges WHERE source_id = ? OR target_id = ? ORDER BY created_at, id`,
		nodeID, nodeID)
}

// DerivationEdgesFrom returns the derivation edges leaving nodeID.
func (s *SQLiteGraphStore) DerivationEdgesFrom(ctx context.Context, projectID, nodeID string) ([]models.Edge, error) {
	return s.queryEdges(ctx, `
		SELECT `+edgeColumns+` FROM edges
		WHERE project_id = ? AND source_id = ?
		  AND kind IN ('derives', 'refines', 'traces', 'satisfies')
		ORDER BY created_at, id`,
		projectID, nodeID)
}

func (s *SQLiteGraphStore) queryEdges(ctx context.Context, query string, args ...interface{}) ([]models.Edge, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	edges := make([]models.Edge, 0)
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, *e)
	}
	return edges, rows.Err()
}

// Helper functions

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(sc scanner) (*models.Project, error) {
	var p models.Project
	var created, modified string
	if err := sc.Scan(&p.ID, &p.Name, &p.Description, &created, &modified); err != nil {
		return nil, err
	}
	var err error
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if p.ModifiedAt, err = parseTime(modified); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanNode(sc scanner) (*models.Node, error) {
	var n models.Node
	var kind string
	var req models.RequirementRow
	var dataJSON, metaJSON sql.NullString
	var created, modified string

	err := sc.Scan(&n.ID, &n.ProjectID, &kind, &n.Name, &n.Description,
		&req.ReqID, &req.Text, &req.Rationale, &req.Priority, &req.Status, &req.Source,
		&req.Allocations, &req.VerificationMethod, &dataJSON, &metaJSON, &created, &modified)
	if err != nil {
		return nil, err
	}

	if n.Kind, err = models.ParseNodeKind(kind); err != nil {
		return nil, fmt.Errorf("node %s: %w", n.ID, err)
	}
	if n.Kind == models.NodeKindRequirement {
		n.Data, err = requirementFromRow(&req)
	} else {
		n.Data, err = models.DecodeData(n.Kind, []byte(dataJSON.String))
	}
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", n.ID, err)
	}
	if n.Meta, err = unmarshalMeta(metaJSON); err != nil {
		return nil, fmt.Errorf("node %s: %w", n.ID, err)
	}
	if n.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if n.ModifiedAt, err = parseTime(modified); err != nil {
		return nil, err
	}
	return &n, nil
}

// requirementFromRow rebuilds the requirement payload from its columns.
func requirementFromRow(row *models.RequirementRow) (models.RequirementData, error) {
	snap, err := history.SnapshotFromRow(row)
	if err != nil {
		return models.RequirementData{}, err
	}
	d := models.RequirementData{
		ReqID:              snap.ReqID,
		Text:               snap.Text,
		Rationale:          snap.Rationale,
		Priority:           models.RequirementPriority(snap.Priority),
		Status:             models.RequirementStatus(snap.Status),
		Source:             snap.Source,
		VerificationMethod: models.VerificationMethod(snap.VerificationMethod),
		Allocations:        snap.Allocations,
	}
	if d.Priority == "" {
		d.Priority = models.PriorityShould
	}
	if d.Status == "" {
		d.Status = models.StatusDraft
	}
	return d, nil
}

func scanEdge(sc scanner) (*models.Edge, error) {
	var e models.Edge
	var kind string
	var metaJSON sql.NullString
	var created, modified string

	err := sc.Scan(&e.ID, &e.ProjectID, &kind, &e.SourceID, &e.TargetID, &e.Label, &metaJSON, &created, &modified)
	if err != nil {
		return nil, err
	}
	if e.Kind, err = models.ParseEdgeKind(kind); err != nil {
		return nil, fmt.Errorf("edge %s: %w", e.ID, err)
	}
	if e.Meta, err = unmarshalMeta(metaJSON); err != nil {
		return nil, fmt.Errorf("edge %s: %w", e.ID, err)
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if e.ModifiedAt, err = parseTime(modified); err != nil {
		return nil, err
	}
	return &e, nil
}

func checkProject(ctx context.Context, tx *sql.Tx, projectID string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE id = ?`, projectID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to look up project: %w", err)
	}
	return nil
}

func requireAffected(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func marshalMeta(meta map[string]interface{}) (sql.NullString, error) {
	if len(meta) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return nullBytes(b), nil
}

func unmarshalMeta(raw sql.NullString) (map[string]interface{}, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var meta map[string]interface{}
	if err := json.Unmarshal([]byte(raw.String), &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return meta, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
