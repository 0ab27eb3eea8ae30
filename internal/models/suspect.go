package models

import "time"

// SuspectLink marks an edge whose target may no longer be justified by its
// source. At most one link per edge may be open (ResolvedAt == nil).
type SuspectLink struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"project_id"`
	EdgeID        string     `json:"edge_id"`
	SourceID      string     `json:"source_id"`
	TargetID      string     `json:"target_id"`
	FlaggedAt     time.Time  `json:"flagged_at"`
	FlaggedReason string     `json:"flagged_reason"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy    *string    `json:"resolved_by,omitempty"`
}

// Open reports whether the link is still unresolved.
func (l *SuspectLink) Open() bool {
	return l.ResolvedAt == nil
}

// Baseline is a named, frozen copy of a project's graph.
type Baseline struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`

	// Snapshot is nil in listings.
	Snapshot *GraphSnapshot `json:"snapshot,omitempty"`
}

// GraphSnapshot is the full node and edge set of a project.
type GraphSnapshot struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}
