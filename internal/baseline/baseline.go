// Package baseline freezes named copies of a project's graph and compares
// them with each other or with the live model.
package baseline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nvandessel/tracegraph/internal/models"
	"github.com/nvandessel/tracegraph/internal/store"
)

// DefaultCreator is recorded when a baseline names no creator.
const DefaultCreator = "User"

// GraphSource supplies the current graph of a project.
type GraphSource interface {
	Graph(ctx context.Context, projectID string) (*models.GraphSnapshot, error)
}

// Manager creates, reads and compares baselines.
type Manager struct {
	store  store.GraphStore
	graphs GraphSource
	now    func() time.Time
}

// NewManager creates a Manager. graphs is usually the engine.
func NewManager(s store.GraphStore, graphs GraphSource) *Manager {
	return &Manager{
		store:  s,
		graphs: graphs,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create snapshots the project's current graph under name.
func (m *Manager) Create(ctx context.Context, projectID, name, description, createdBy string) (*models.Baseline, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("baseline name is required")
	}
	if strings.TrimSpace(createdBy) == "" {
		createdBy = DefaultCreator
	}

	snap, err := m.graphs.Graph(ctx, projectID)
	if err != nil {
		return nil, err
	}
	blob, err := Encode(snap)
	if err != nil {
		return nil, err
	}

	b := models.Baseline{
		ID:          models.NewID(),
		ProjectID:   projectID,
		Name:        name,
		Description: description,
		CreatedBy:   createdBy,
		CreatedAt:   m.now(),
	}
	if err := m.store.CreateBaseline(ctx, store.BaselineRecord{Baseline: b, Blob: blob}); err != nil {
		return nil, err
	}
	b.Snapshot = snap
	return &b, nil
}

// List returns the project's baselines newest first, without snapshots.
func (m *Manager) List(ctx context.Context, projectID string) ([]models.Baseline, error) {
	return m.store.ListBaselines(ctx, projectID)
}

// Get returns a baseline with its decoded snapshot. A blob that fails to
// decode wraps ErrCorruptBaseline.
func (m *Manager) Get(ctx context.Context, id string) (*models.Baseline, error) {
	rec, err := m.store.GetBaseline(ctx, id)
	if err != nil {
		return nil, err
	}
	snap, err := Decode(rec.Blob)
	if err != nil {
		return nil, fmt.Errorf("baseline %s: %w", id, err)
	}
	b := rec.Baseline
	b.Snapshot = snap
	return &b, nil
}

// Delete removes a baseline.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.DeleteBaseline(ctx, id)
}

// Compare diffs baseline fromID against baseline toID, or against the
// live graph of the same project when toID is empty.
func (m *Manager) Compare(ctx context.Context, fromID, toID string) (*Diff, error) {
	from, err := m.Get(ctx, fromID)
	if err != nil {
		return nil, err
	}

	var to *models.GraphSnapshot
	if toID == "" {
		if to, err = m.graphs.Graph(ctx, from.ProjectID); err != nil {
			return nil, err
		}
	} else {
		other, err := m.Get(ctx, toID)
		if err != nil {
			return nil, err
		}
		to = other.Snapshot
	}

	d := Compare(from.Snapshot, to)
	return &d, nil
}

// Diff lists the IDs that differ between two snapshots, each list sorted.
type Diff struct {
	AddedNodes   []string `json:"added_nodes"`
	RemovedNodes []string `json:"removed_nodes"`
	ChangedNodes []string `json:"changed_nodes"`
	AddedEdges   []string `json:"added_edges"`
	RemovedEdges []string `json:"removed_edges"`
	ChangedEdges []string `json:"changed_edges"`
}

// Empty reports whether the snapshots were equivalent.
func (d Diff) Empty() bool {
	return len(d.AddedNodes)+len(d.RemovedNodes)+len(d.ChangedNodes)+
		len(d.AddedEdges)+len(d.RemovedEdges)+len(d.ChangedEdges) == 0
}

// Compare diffs two snapshots. Timestamps are ignored; any other field
// difference marks the node or edge as changed.
func Compare(from, to *models.GraphSnapshot) Diff {
	fromNodes := make(map[string]string, len(from.Nodes))
	for _, n := range from.Nodes {
		fromNodes[n.ID] = nodeFingerprint(n)
	}
	toNodes := make(map[string]string, len(to.Nodes))
	for _, n := range to.Nodes {
		toNodes[n.ID] = nodeFingerprint(n)
	}
	fromEdges := make(map[string]string, len(from.Edges))
	for _, e := range from.Edges {
		fromEdges[e.ID] = edgeFingerprint(e)
	}
	toEdges := make(map[string]string, len(to.Edges))
	for _, e := range to.Edges {
		toEdges[e.ID] = edgeFingerprint(e)
	}

	var d Diff
	d.AddedNodes, d.RemovedNodes, d.ChangedNodes = diffSets(fromNodes, toNodes)
	d.AddedEdges, d.RemovedEdges, d.ChangedEdges = diffSets(fromEdges, toEdges)
	return d
}

func diffSets(from, to map[string]string) (added, removed, changed []string) {
	added, removed, changed = []string{}, []string{}, []string{}
	for id, fp := range to {
		old, ok := from[id]
		switch {
		case !ok:
			added = append(added, id)
		case old != fp:
			changed = append(changed, id)
		}
	}
	for id := range from {
		if _, ok := to[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(changed)
	return added, removed, changed
}

func nodeFingerprint(n models.Node) string {
	n.CreatedAt, n.ModifiedAt = time.Time{}, time.Time{}
	return fingerprint(n)
}

func edgeFingerprint(e models.Edge) string {
	e.CreatedAt, e.ModifiedAt = time.Time{}, time.Time{}
	return fingerprint(e)
}

// fingerprint relies on encoding/json sorting map keys.
func fingerprint(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("unencodable:%v", err)
	}
	return string(b)
}
