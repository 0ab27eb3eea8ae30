package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nvandessel/tracegraph/internal/history"
	"github.com/nvandessel/tracegraph/internal/models"
)

// InMemoryGraphStore implements GraphStore for testing and development.
// A single mutex makes every operation atomic.
type InMemoryGraphStore struct {
	mu        sync.RWMutex
	projects  map[string]models.Project
	nodes     map[string]models.Node
	nodeOrder []string
	edges     map[string]models.Edge
	edgeOrder []string
	history   []models.RequirementHistoryEntry
	suspects  []models.SuspectLink
	baselines []BaselineRecord
	comments  []models.Comment
	reviews   []models.ReviewSession
}

// NewInMemoryGraphStore creates a new in-memory store.
func NewInMemoryGraphStore() *InMemoryGraphStore {
	return &InMemoryGraphStore{
		projects: make(map[string]models.Project),
		nodes:    make(map[string]models.Node),
		edges:    make(map[string]models.Edge),
	}
}

// CreateProject adds a project.
func (s *InMemoryGraphStore) CreateProject(ctx context.Context, p models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		return fmt.Errorf("project ID is required")
	}
	if _, exists := s.projects[p.ID]; exists {
		return fmt.Errorf("project %s already exists", p.ID)
	}
	s.projects[p.ID] = p
	return nil
}

// GetProject returns a project by ID.
func (s *InMemoryGraphStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.projects[id]
	if !exists {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return &p, nil
}

// ListProjects returns all projects, most recently modified first.
func (s *InMemoryGraphStore) ListProjects(ctx context.Context) ([]models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModifiedAt.Equal(out[j].ModifiedAt) {
			return out[i].ModifiedAt.After(out[j].ModifiedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteProject removes a project and everything it owns.
func (s *InMemoryGraphStore) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.projects[id]; !exists {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	delete(s.projects, id)

	for _, nid := range append([]string(nil), s.nodeOrder...) {
		if s.nodes[nid].ProjectID == id {
			s.removeNodeLocked(nid)
		}
	}
	for _, eid := range append([]string(nil), s.edgeOrder...) {
		if s.edges[eid].ProjectID == id {
			s.removeEdgeLocked(eid)
		}
	}
	s.history = filter(s.history, func(e models.RequirementHistoryEntry) bool { return e.ProjectID != id })
	s.suspects = filter(s.suspects, func(l models.SuspectLink) bool { return l.ProjectID != id })
	s.baselines = filter(s.baselines, func(b BaselineRecord) bool { return b.ProjectID != id })
	s.comments = filter(s.comments, func(c models.Comment) bool { return c.ProjectID != id })
	s.reviews = filter(s.reviews, func(r models.ReviewSession) bool { return r.ProjectID != id })
	return nil
}

// UpsertNode writes a copy of node and records requirement history under
// one lock.
func (s *InMemoryGraphStore) UpsertNode(ctx context.Context, node models.Node) (*models.RequirementHistoryEntry, error) {
	if err := node.Validate(); err != nil {
		return nil, err
	}
	node = node.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.projects[node.ProjectID]; !exists {
		return nil, fmt.Errorf("project %s: %w", node.ProjectID, ErrNotFound)
	}

	var prior *models.RequirementRow
	existing, exists := s.nodes[node.ID]
	if exists {
		if existing.Kind != node.Kind {
			return nil, fmt.Errorf("node %s: kind cannot change from %s to %s", node.ID, existing.Kind, node.Kind)
		}
		if existing.ProjectID != node.ProjectID {
			return nil, fmt.Errorf("node %s: belongs to project %s", node.ID, existing.ProjectID)
		}
		var err error
		if prior, err = history.RowFromNode(existing); err != nil {
			return nil, err
		}
		node.CreatedAt = existing.CreatedAt
	}

	entry, err := history.RecordIfChanged(prior, node)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", node.ID, err)
	}

	if !exists {
		s.nodeOrder = append(s.nodeOrder, node.ID)
	}
	s.nodes[node.ID] = node
	if entry != nil {
		s.history = append(s.history, *entry)
	}
	return entry, nil
}

// GetNode retrieves a node by ID.
func (s *InMemoryGraphStore) GetNode(ctx context.Context, id string) (*models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, exists := s.nodes[id]
	if !exists {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	node = node.Clone()
	return &node, nil
}

// ListNodes returns a project's nodes in insertion order.
func (s *InMemoryGraphStore) ListNodes(ctx context.Context, projectID string) ([]models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Node, 0)
	for _, id := range s.nodeOrder {
		if n := s.nodes[id]; n.ProjectID == projectID {
			out = append(out, n.Clone())
		}
	}
	return out, nil
}

// DeleteNode removes a node and its associated edges.
func (s *InMemoryGraphStore) DeleteNode(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[id]; !exists {
		return fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	s.removeNodeLocked(id)
	s.comments = filter(s.comments, func(c models.Comment) bool { return c.NodeID != id })

	for _, eid := range append([]string(nil), s.edgeOrder...) {
		if e := s.edges[eid]; e.SourceID == id || e.TargetID == id {
			s.removeEdgeLocked(eid)
		}
	}
	return nil
}

func (s *InMemoryGraphStore) removeNodeLocked(id string) {
	delete(s.nodes, id)
	s.nodeOrder = filter(s.nodeOrder, func(n string) bool { return n != id })
}

// removeEdgeLocked deletes an edge and its suspect links.
func (s *InMemoryGraphStore) removeEdgeLocked(id string) {
	delete(s.edges, id)
	s.edgeOrder = filter(s.edgeOrder, func(e string) bool { return e != id })
	s.suspects = filter(s.suspects, func(l models.SuspectLink) bool { return l.EdgeID != id })
}

// UpsertEdge inserts an edge or updates its label and metadata.
func (s *InMemoryGraphStore) UpsertEdge(ctx context.Context, edge models.Edge) error {
	if err := edge.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.projects[edge.ProjectID]; !exists {
		return fmt.Errorf("project %s: %w", edge.ProjectID, ErrNotFound)
	}

	if existing, exists := s.edges[edge.ID]; exists {
		existing.Label = edge.Label
		existing.Meta = edge.Clone().Meta
		existing.ModifiedAt = edge.ModifiedAt
		s.edges[edge.ID] = existing
		return nil
	}
	s.edges[edge.ID] = edge.Clone()
	s.edgeOrder = append(s.edgeOrder, edge.ID)
	return nil
}

// GetEdge retrieves an edge by ID.
func (s *InMemoryGraphStore) GetEdge(ctx context.Context, id string) (*models.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.edges[id]
	if !exists {
		return nil, fmt.Errorf("edge %s: %w", id, ErrNotFound)
	}
	e = e.Clone()
	return &e, nil
}

// DeleteEdge removes an edge.
func (s *InMemoryGraphStore) DeleteEdge(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.edges[id]; !exists {
		return fmt.Errorf("edge %s: %w", id, ErrNotFound)
	}
	s.removeEdgeLocked(id)
	return nil
}

// EdgesForNode returns every edge touching nodeID.
func (s *InMemoryGraphStore) EdgesForNode(ctx context.Context, nodeID string) ([]models.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Edge, 0)
	for _, id := range s.edgeOrder {
		if e := s.edges[id]; e.SourceID == nodeID || e.TargetID == nodeID {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

// DerivationEdgesFrom returns the derivation edges leaving nodeID.
func (s *InMemoryGraphStore) DerivationEdgesFrom(ctx context.Context, projectID, nodeID string) ([]models.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Edge, 0)
	for _, id := range s.edgeOrder {
		e := s.edges[id]
		if e.ProjectID == projectID && e.SourceID == nodeID && e.Kind.IsDerivation() {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

// ListHistory returns a node's history newest-first.
func (s *InMemoryGraphStore) ListHistory(ctx context.Context, nodeID string, limit int) ([]models.RequirementHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.RequirementHistoryEntry, 0)
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].NodeID == nodeID {
			out = append(out, s.history[i])
		}
	}
	// Ties keep the latest insert first.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit = history.ClampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InsertSuspectIfAbsent inserts link unless the edge already has an open one.
func (s *InMemoryGraphStore) InsertSuspectIfAbsent(ctx context.Context, link models.SuspectLink) (bool, error) {
	if link.ID == "" || link.EdgeID == "" {
		return false, fmt.Errorf("suspect link id and edge id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.edges[link.EdgeID]; !exists {
		return false, fmt.Errorf("edge %s: %w", link.EdgeID, ErrNotFound)
	}
	for _, l := range s.suspects {
		if l.EdgeID == link.EdgeID && l.Open() {
			return false, nil
		}
	}
	link.ResolvedAt = nil
	link.ResolvedBy = nil
	s.suspects = append(s.suspects, link)
	return true, nil
}

// ResolveSuspect closes an open link; resolving a closed link is a no-op.
func (s *InMemoryGraphStore) ResolveSuspect(ctx context.Context, id, resolvedBy string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.suspects {
		l := &s.suspects[i]
		if l.ID != id {
			continue
		}
		if l.Open() {
			ts := at.UTC()
			l.ResolvedAt = &ts
			if resolvedBy != "" {
				by := resolvedBy
				l.ResolvedBy = &by
			}
		}
		return nil
	}
	return fmt.Errorf("suspect link %s: %w", id, ErrNotFound)
}

// GetSuspect returns a suspect link by ID.
func (s *InMemoryGraphStore) GetSuspect(ctx context.Context, id string) (*models.SuspectLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, l := range s.suspects {
		if l.ID == id {
			return &l, nil
		}
	}
	return nil, fmt.Errorf("suspect link %s: %w", id, ErrNotFound)
}

// ListOpenSuspects returns a project's unresolved links, newest-flagged-first.
func (s *InMemoryGraphStore) ListOpenSuspects(ctx context.Context, projectID string) ([]models.SuspectLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.SuspectLink, 0)
	for i := len(s.suspects) - 1; i >= 0; i-- {
		if l := s.suspects[i]; l.ProjectID == projectID && l.Open() {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FlaggedAt.After(out[j].FlaggedAt)
	})
	return out, nil
}

// CreateBaseline stores a baseline.
func (s *InMemoryGraphStore) CreateBaseline(ctx context.Context, rec BaselineRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		return fmt.Errorf("baseline ID is required")
	}
	if _, exists := s.projects[rec.ProjectID]; !exists {
		return fmt.Errorf("project %s: %w", rec.ProjectID, ErrNotFound)
	}
	rec.Blob = append([]byte(nil), rec.Blob...)
	rec.Snapshot = nil
	s.baselines = append(s.baselines, rec)
	return nil
}

// GetBaseline returns a baseline with its encoded snapshot.
func (s *InMemoryGraphStore) GetBaseline(ctx context.Context, id string) (*BaselineRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, b := range s.baselines {
		if b.ID == id {
			return &b, nil
		}
	}
	return nil, fmt.Errorf("baseline %s: %w", id, ErrNotFound)
}

// ListBaselines returns a project's baselines newest first.
func (s *InMemoryGraphStore) ListBaselines(ctx context.Context, projectID string) ([]models.Baseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Baseline, 0)
	for i := len(s.baselines) - 1; i >= 0; i-- {
		if b := s.baselines[i]; b.ProjectID == projectID {
			out = append(out, b.Baseline)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteBaseline removes a baseline.
func (s *InMemoryGraphStore) DeleteBaseline(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.baselines)
	s.baselines = filter(s.baselines, func(b BaselineRecord) bool { return b.ID != id })
	if len(s.baselines) == n {
		return fmt.Errorf("baseline %s: %w", id, ErrNotFound)
	}
	return nil
}

// AddComment stores a comment after checking its node and parent.
func (s *InMemoryGraphStore) AddComment(ctx context.Context, c models.Comment) error {
	if c.ID == "" || c.NodeID == "" {
		return fmt.Errorf("comment id and node id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.projects[c.ProjectID]; !exists {
		return fmt.Errorf("project %s: %w", c.ProjectID, ErrNotFound)
	}
	node, exists := s.nodes[c.NodeID]
	if !exists {
		return fmt.Errorf("node %s: %w", c.NodeID, ErrNotFound)
	}
	if node.ProjectID != c.ProjectID {
		return fmt.Errorf("node %s: belongs to project %s", c.NodeID, node.ProjectID)
	}
	if c.ParentID != "" {
		parent := s.commentLocked(c.ParentID)
		if parent == nil {
			return fmt.Errorf("comment %s: %w", c.ParentID, ErrNotFound)
		}
		if parent.NodeID != c.NodeID {
			return fmt.Errorf("comment %s is on node %s, not %s", c.ParentID, parent.NodeID, c.NodeID)
		}
	}
	c.ResolvedAt = nil
	c.ResolvedBy = nil
	s.comments = append(s.comments, c)
	return nil
}

func (s *InMemoryGraphStore) commentLocked(id string) *models.Comment {
	for i := range s.comments {
		if s.comments[i].ID == id {
			return &s.comments[i]
		}
	}
	return nil
}

// GetComment returns a comment by ID.
func (s *InMemoryGraphStore) GetComment(ctx context.Context, id string) (*models.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.commentLocked(id)
	if c == nil {
		return nil, fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	out := *c
	return &out, nil
}

// ListComments returns a node's comments oldest first.
func (s *InMemoryGraphStore) ListComments(ctx context.Context, nodeID string) ([]models.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Comment, 0)
	for _, c := range s.comments {
		if c.NodeID == nodeID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// OpenCommentCounts counts unresolved comments per node of a project.
func (s *InMemoryGraphStore) OpenCommentCounts(ctx context.Context, projectID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, c := range s.comments {
		if c.ProjectID == projectID && c.Open() {
			counts[c.NodeID]++
		}
	}
	return counts, nil
}

// ResolveComment resolves an open comment; a resolved one is left alone.
func (s *InMemoryGraphStore) ResolveComment(ctx context.Context, id, resolvedBy string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.commentLocked(id)
	if c == nil {
		return fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	if c.Open() {
		ts := at.UTC()
		c.ResolvedAt = &ts
		c.UpdatedAt = ts
		if resolvedBy != "" {
			by := resolvedBy
			c.ResolvedBy = &by
		}
	}
	return nil
}

// DeleteComment removes a comment and, transitively, its replies.
func (s *InMemoryGraphStore) DeleteComment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.commentLocked(id) == nil {
		return fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	doomed := map[string]bool{id: true}
	for grew := true; grew; {
		grew = false
		for _, c := range s.comments {
			if c.ParentID != "" && doomed[c.ParentID] && !doomed[c.ID] {
				doomed[c.ID] = true
				grew = true
			}
		}
	}
	s.comments = filter(s.comments, func(c models.Comment) bool { return !doomed[c.ID] })
	return nil
}

// CreateReviewSession stores a session and its items.
func (s *InMemoryGraphStore) CreateReviewSession(ctx context.Context, rs models.ReviewSession) error {
	if rs.ID == "" {
		return fmt.Errorf("review session ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.projects[rs.ProjectID]; !exists {
		return fmt.Errorf("project %s: %w", rs.ProjectID, ErrNotFound)
	}
	rs.ClosedAt = nil
	rs.Items = append([]models.ReviewItem(nil), rs.Items...)
	for i := range rs.Items {
		rs.Items[i].SessionID = rs.ID
	}
	s.reviews = append(s.reviews, rs)
	return nil
}

// GetReviewSession returns a session with its items.
func (s *InMemoryGraphStore) GetReviewSession(ctx context.Context, id string) (*models.ReviewSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rs := range s.reviews {
		if rs.ID == id {
			out := copySession(rs)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("review session %s: %w", id, ErrNotFound)
}

// ListReviewSessions returns a project's sessions newest first.
func (s *InMemoryGraphStore) ListReviewSessions(ctx context.Context, projectID string) ([]models.ReviewSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ReviewSession, 0)
	for i := len(s.reviews) - 1; i >= 0; i-- {
		if rs := s.reviews[i]; rs.ProjectID == projectID {
			out = append(out, copySession(rs))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// SetReviewVerdict records a verdict on an item of an unclosed session.
func (s *InMemoryGraphStore) SetReviewVerdict(ctx context.Context, itemID string, verdict models.Verdict, by, note string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.reviews {
		rs := &s.reviews[i]
		for j := range rs.Items {
			it := &rs.Items[j]
			if it.ID != itemID {
				continue
			}
			if rs.Status.Final() {
				return fmt.Errorf("review session %s (%s): %w", rs.ID, rs.Status, ErrReviewClosed)
			}
			ts := at.UTC()
			it.Verdict = verdict
			it.VerdictBy = by
			it.VerdictAt = &ts
			it.VerdictNote = note
			if rs.Status == models.ReviewOpen {
				rs.Status = models.ReviewInProgress
			}
			return nil
		}
	}
	return fmt.Errorf("review item %s: %w", itemID, ErrNotFound)
}

// CloseReviewSession sets a final status on an unclosed session.
func (s *InMemoryGraphStore) CloseReviewSession(ctx context.Context, id string, status models.ReviewStatus, at time.Time) error {
	if !status.Final() {
		return fmt.Errorf("cannot close review session with status %s", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.reviews {
		rs := &s.reviews[i]
		if rs.ID != id {
			continue
		}
		if rs.Status.Final() {
			return fmt.Errorf("review session %s (%s): %w", id, rs.Status, ErrReviewClosed)
		}
		ts := at.UTC()
		rs.Status = status
		rs.ClosedAt = &ts
		return nil
	}
	return fmt.Errorf("review session %s: %w", id, ErrNotFound)
}

func copySession(rs models.ReviewSession) models.ReviewSession {
	rs.Items = append(make([]models.ReviewItem, 0, len(rs.Items)), rs.Items...)
	return rs
}

// Close is a no-op for the in-memory store.
func (s *InMemoryGraphStore) Close() error {
	return nil
}

func filter[T any](in []T, keep func(T) bool) []T {
	out := in[:0]
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

var _ GraphStore = (*InMemoryGraphStore)(nil)
