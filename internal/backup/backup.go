// Package backup writes a project's graph to a compressed file and restores
// it into a project, with retention policies for the backup directory.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nvandessel/tracegraph/internal/baseline"
	"github.com/nvandessel/tracegraph/internal/history"
	"github.com/nvandessel/tracegraph/internal/models"
	"github.com/nvandessel/tracegraph/internal/pathutil"
	"github.com/nvandessel/tracegraph/internal/store"
)

// FileExt is the extension of backup files.
const FileExt = ".snap"

// filePrefix starts every generated backup file name.
const filePrefix = "tracegraph-backup-"

// MaxRestoreFileSize bounds how much of a backup file Restore reads (50MB).
const MaxRestoreFileSize = 50 * 1024 * 1024

// RestoreActor is recorded on requirement history written by a restore.
const RestoreActor = "backup-restore"

// Source supplies the graph of a project.
type Source interface {
	Graph(ctx context.Context, projectID string) (*models.GraphSnapshot, error)
}

// Target receives restored nodes and edges. The engine satisfies it, so
// restored requirements get history and propagation like any other write.
type Target interface {
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetNode(ctx context.Context, id string) (*models.Node, error)
	UpsertNode(ctx context.Context, node models.Node) (*models.Node, *models.RequirementHistoryEntry, error)
	GetEdge(ctx context.Context, id string) (*models.Edge, error)
	UpsertEdge(ctx context.Context, edge models.Edge) (*models.Edge, error)
}

// Info describes a written backup.
type Info struct {
	Path      string    `json:"path"`
	ProjectID string    `json:"project_id"`
	CreatedAt time.Time `json:"created_at"`
	NodeCount int       `json:"node_count"`
	EdgeCount int       `json:"edge_count"`
	Size      int64     `json:"size"`
}

// DefaultDir returns the default backup directory for a project
// (~/.tracegraph/backups/<project-id>/).
func DefaultDir(projectID string) (string, error) {
	global, err := store.GlobalPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(global, "backups", projectID), nil
}

// GeneratePath creates a timestamped backup file name in dir.
func GeneratePath(dir string) string {
	ts := time.Now().UTC().Format("20060102-150405.000")
	return filepath.Join(dir, filePrefix+ts+FileExt)
}

// Backup writes the project's current graph to outputPath. When allowedDirs
// is given, outputPath must resolve inside one of them.
func Backup(ctx context.Context, src Source, projectID, outputPath string, allowedDirs ...string) (*Info, error) {
	if len(allowedDirs) > 0 {
		if err := pathutil.ValidatePath(outputPath, allowedDirs); err != nil {
			return nil, fmt.Errorf("backup path rejected: %w", err)
		}
	}

	snap, err := src.Graph(ctx, projectID)
	if err != nil {
		return nil, err
	}
	blob, err := baseline.Encode(snap)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	if err := os.WriteFile(outputPath, blob, 0600); err != nil {
		return nil, fmt.Errorf("failed to write backup file: %w", err)
	}

	return &Info{
		Path:      outputPath,
		ProjectID: projectID,
		CreatedAt: time.Now().UTC(),
		NodeCount: len(snap.Nodes),
		EdgeCount: len(snap.Edges),
		Size:      int64(len(blob)),
	}, nil
}

// RestoreMode controls how restore handles existing data.
type RestoreMode string

const (
	// RestoreMerge skips nodes and edges whose IDs already exist (default).
	RestoreMerge RestoreMode = "merge"
	// RestoreOverwrite writes every node and edge from the backup.
	RestoreOverwrite RestoreMode = "overwrite"
)

// ParseRestoreMode accepts "merge" or "overwrite"; empty means merge.
func ParseRestoreMode(s string) (RestoreMode, error) {
	switch RestoreMode(s) {
	case "", RestoreMerge:
		return RestoreMerge, nil
	case RestoreOverwrite:
		return RestoreOverwrite, nil
	}
	return "", fmt.Errorf("invalid restore mode: %s (must be merge or overwrite)", s)
}

// RestoreResult contains statistics about the restore operation.
type RestoreResult struct {
	NodesRestored int `json:"nodes_restored"`
	NodesSkipped  int `json:"nodes_skipped"`
	EdgesRestored int `json:"edges_restored"`
	EdgesSkipped  int `json:"edges_skipped"`
	// HistoryRecorded counts requirement history entries the restore wrote.
	HistoryRecorded int `json:"history_recorded"`
	// NodeIDs maps backup node IDs to the IDs they were restored under. It
	// is set only when the backup came from another project.
	NodeIDs map[string]string `json:"node_ids,omitempty"`
}

// Restore reads a backup file and writes its nodes and edges into
// projectID. A backup of another project that still exists is restored as a
// copy: every node and edge gets a fresh ID and edges are rewired to the new
// node IDs. Otherwise IDs are kept. Existence checks only consider
// projectID, and an ID held by another project is a conflict. Every item is checked before the first write, so a
// rejected restore writes nothing. Nodes are written before edges and are
// attributed to RestoreActor as a system change.
func Restore(ctx context.Context, dst Target, inputPath, projectID string, mode RestoreMode, allowedDirs ...string) (*RestoreResult, error) {
	if len(allowedDirs) > 0 {
		if err := pathutil.ValidatePath(inputPath, allowedDirs); err != nil {
			return nil, fmt.Errorf("restore path rejected: %w", err)
		}
	}

	snap, err := readFile(inputPath)
	if err != nil {
		return nil, err
	}
	if _, err := dst.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	plan, err := planRestore(ctx, dst, snap, projectID, mode)
	if err != nil {
		return nil, err
	}

	result := &plan.result
	for _, n := range plan.nodes {
		_, entry, err := dst.UpsertNode(ctx, n)
		if err != nil {
			return result, fmt.Errorf("failed to restore node %s: %w", n.ID, err)
		}
		if entry != nil {
			result.HistoryRecorded++
		}
		result.NodesRestored++
	}
	for _, e := range plan.edges {
		if _, err := dst.UpsertEdge(ctx, e); err != nil {
			return result, fmt.Errorf("failed to restore edge %s: %w", e.ID, err)
		}
		result.EdgesRestored++
	}
	return result, nil
}

// restorePlan holds the nodes and edges a restore will write.
type restorePlan struct {
	nodes  []models.Node
	edges  []models.Edge
	result RestoreResult
}

// planRestore decides what to write without writing anything.
func planRestore(ctx context.Context, dst Target, snap *models.GraphSnapshot, projectID string, mode RestoreMode) (*restorePlan, error) {
	plan := &restorePlan{}

	var ids map[string]string
	if source := sourceProject(snap, projectID); source != "" {
		live, err := lookup(dst.GetProject(ctx, source))
		if err != nil {
			return nil, fmt.Errorf("failed to check source project %s: %w", source, err)
		}
		if live != nil {
			ids = make(map[string]string, len(snap.Nodes))
			for _, n := range snap.Nodes {
				ids[n.ID] = models.NewID()
			}
			plan.result.NodeIDs = ids
		}
	}

	for _, n := range snap.Nodes {
		n = n.Clone()
		if ids != nil {
			n.ID = ids[n.ID]
		}
		n.ProjectID = projectID
		markRestored(&n)
		if err := n.Validate(); err != nil {
			return nil, fmt.Errorf("invalid node in backup: %w", err)
		}

		existing, err := lookup(dst.GetNode(ctx, n.ID))
		if err != nil {
			return nil, fmt.Errorf("failed to check existing node %s: %w", n.ID, err)
		}
		if existing != nil {
			if existing.ProjectID != projectID {
				return nil, fmt.Errorf("node %s belongs to project %s", n.ID, existing.ProjectID)
			}
			if mode == RestoreMerge {
				plan.result.NodesSkipped++
				continue
			}
		}
		plan.nodes = append(plan.nodes, n)
	}

	for _, e := range snap.Edges {
		e = e.Clone()
		if ids != nil {
			e.ID = models.NewID()
			e.SourceID = remapID(ids, e.SourceID)
			e.TargetID = remapID(ids, e.TargetID)
		}
		e.ProjectID = projectID
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("invalid edge in backup: %w", err)
		}

		existing, err := lookup(dst.GetEdge(ctx, e.ID))
		if err != nil {
			return nil, fmt.Errorf("failed to check existing edge %s: %w", e.ID, err)
		}
		if existing != nil {
			if existing.ProjectID != projectID {
				return nil, fmt.Errorf("edge %s belongs to project %s", e.ID, existing.ProjectID)
			}
			if mode == RestoreMerge {
				plan.result.EdgesSkipped++
				continue
			}
		}
		plan.edges = append(plan.edges, e)
	}
	return plan, nil
}

// sourceProject returns the project a snapshot was taken from when it is
// not projectID.
func sourceProject(snap *models.GraphSnapshot, projectID string) string {
	for _, n := range snap.Nodes {
		if n.ProjectID != "" && n.ProjectID != projectID {
			return n.ProjectID
		}
	}
	for _, e := range snap.Edges {
		if e.ProjectID != "" && e.ProjectID != projectID {
			return e.ProjectID
		}
	}
	return ""
}

// remapID returns the new ID of a restored node. Endpoints outside the
// backup keep their ID.
func remapID(ids map[string]string, id string) string {
	if mapped, ok := ids[id]; ok {
		return mapped
	}
	return id
}

// readFile loads and decodes a backup file, reading at most
// MaxRestoreFileSize bytes.
func readFile(path string) (*models.GraphSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup file: %w", err)
	}
	defer f.Close()

	blob, err := io.ReadAll(io.LimitReader(f, MaxRestoreFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read backup file: %w", err)
	}
	if len(blob) > MaxRestoreFileSize {
		return nil, fmt.Errorf("backup file exceeds maximum size of %d bytes", MaxRestoreFileSize)
	}

	snap, err := baseline.Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to decode backup: %w", err)
	}
	return snap, nil
}

func markRestored(n *models.Node) {
	meta := make(map[string]interface{}, len(n.Meta)+2)
	for k, v := range n.Meta {
		meta[k] = v
	}
	meta[history.MetaActor] = RestoreActor
	meta[history.MetaChangeSource] = string(models.ChangeSourceSystem)
	n.Meta = meta
}

// lookup turns a not-found error into a nil result.
func lookup[T any](v *T, err error) (*T, error) {
	switch {
	case err == nil:
		return v, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, nil
	default:
		return nil, err
	}
}
