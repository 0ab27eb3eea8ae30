// Package mcp provides an MCP (Model Context Protocol) server that lets an
// AI assistant read and edit a tracegraph project.
package mcp

import (
	"time"
)

// ValidateInput defines the input for tracegraph_validate tool.
type ValidateInput struct {
	ProjectID string `json:"project_id" jsonschema:"Project to validate"`
}

// ValidateOutput defines the output for tracegraph_validate tool.
type ValidateOutput struct {
	Valid    bool          `json:"valid" jsonschema:"True when no error-severity issue was found"`
	Errors   int           `json:"errors" jsonschema:"Number of error issues"`
	Warnings int           `json:"warnings" jsonschema:"Number of warning issues"`
	Infos    int           `json:"infos" jsonschema:"Number of info issues"`
	Issues   []IssueOutput `json:"issues" jsonschema:"Findings in node order then edge order"`
}

// IssueOutput is a single validation finding.
type IssueOutput struct {
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	NodeID   string `json:"node_id,omitempty"`
	EdgeID   string `json:"edge_id,omitempty"`
}

// GraphInput defines the input for tracegraph_graph tool.
type GraphInput struct {
	ProjectID string `json:"project_id" jsonschema:"Project whose graph to return"`
	Kind      string `json:"kind,omitempty" jsonschema:"Only return nodes of this kind (e.g. 'requirement', 'block'); edges are not filtered"`
}

// GraphOutput defines the output for tracegraph_graph tool.
type GraphOutput struct {
	Nodes     []NodeOutput `json:"nodes" jsonschema:"Nodes of the project"`
	Edges     []EdgeOutput `json:"edges" jsonschema:"Edges of the project sorted by id"`
	NodeCount int          `json:"node_count" jsonschema:"Number of nodes returned"`
	EdgeCount int          `json:"edge_count" jsonschema:"Number of edges returned"`
}

// NodeOutput is the tool view of a node. Data holds the kind-specific fields.
type NodeOutput struct {
	ID          string                 `json:"id"`
	Kind        string                 `json:"kind"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
	ModifiedAt  time.Time              `json:"modified_at"`
}

// EdgeOutput is the tool view of an edge.
type EdgeOutput struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Label    string `json:"label,omitempty"`
}

// HistoryInput defines the input for tracegraph_history tool.
type HistoryInput struct {
	NodeID string `json:"node_id" jsonschema:"Requirement node ID"`
	Limit  int    `json:"limit,omitempty" jsonschema:"Maximum entries to return (default 20; max 200)"`
}

// HistoryOutput defines the output for tracegraph_history tool.
type HistoryOutput struct {
	NodeID  string               `json:"node_id"`
	Entries []HistoryEntryOutput `json:"entries" jsonschema:"History entries newest first"`
	Count   int                  `json:"count"`
}

// HistoryEntryOutput summarizes one recorded requirement change.
type HistoryEntryOutput struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"ts"`
	Actor     string    `json:"actor"`
	Source    string    `json:"source"`
	Changed   []string  `json:"changed" jsonschema:"Snapshot fields that differ between prev and next"`
	PrevText  string    `json:"prev_text"`
	NextText  string    `json:"next_text"`
}

// SuspectsInput defines the input for tracegraph_suspects tool.
type SuspectsInput struct {
	ProjectID string `json:"project_id" jsonschema:"Project whose open suspect links to list"`
}

// SuspectsOutput defines the output for tracegraph_suspects tool.
type SuspectsOutput struct {
	Suspects []SuspectOutput `json:"suspects" jsonschema:"Unresolved suspect links, most recently flagged first"`
	Count    int             `json:"count"`
}

// SuspectOutput is the tool view of a suspect link.
type SuspectOutput struct {
	ID        string    `json:"id"`
	EdgeID    string    `json:"edge_id"`
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	FlaggedAt time.Time `json:"flagged_at"`
	Reason    string    `json:"reason"`
}

// ResolveInput defines the input for tracegraph_resolve tool.
type ResolveInput struct {
	SuspectID  string `json:"suspect_id" jsonschema:"Suspect link to resolve"`
	ResolvedBy string `json:"resolved_by,omitempty" jsonschema:"Who reviewed the link (default: User)"`
}

// ResolveOutput defines the output for tracegraph_resolve tool.
type ResolveOutput struct {
	SuspectID  string    `json:"suspect_id"`
	ResolvedBy string    `json:"resolved_by"`
	ResolvedAt time.Time `json:"resolved_at" jsonschema:"Time of the first resolution"`
	Message    string    `json:"message"`
}

// SweepInput defines the input for tracegraph_sweep tool.
type SweepInput struct {
	ProjectID string `json:"project_id" jsonschema:"Project to revalidate"`
	Reason    string `json:"reason,omitempty" jsonschema:"Reason recorded on new suspect links (default: revalidation sweep)"`
}

// SweepOutput defines the output for tracegraph_sweep tool.
type SweepOutput struct {
	Requirements int    `json:"requirements" jsonschema:"Requirements visited"`
	Flagged      int    `json:"flagged" jsonschema:"New suspect links raised"`
	Failed       int    `json:"failed" jsonschema:"Requirements whose propagation failed"`
	Message      string `json:"message"`
}

// UpsertNodeInput defines the input for tracegraph_upsert_node tool.
// Requirement fields are ignored for other kinds. On update, empty fields
// keep their stored value.
type UpsertNodeInput struct {
	ProjectID   string `json:"project_id" jsonschema:"Owning project"`
	ID          string `json:"id,omitempty" jsonschema:"Node ID to update; omit to create"`
	Kind        string `json:"kind" jsonschema:"Node kind (e.g. 'requirement', 'block', 'port')"`
	Name        string `json:"name,omitempty" jsonschema:"Display name"`
	Description string `json:"description,omitempty" jsonschema:"Free-form description"`
	Actor       string `json:"actor,omitempty" jsonschema:"Who is making the change (default: assistant)"`

	ReqID              string   `json:"req_id,omitempty" jsonschema:"Requirement identifier (e.g. 'REQ-001')"`
	Text               string   `json:"text,omitempty" jsonschema:"Requirement statement"`
	Rationale          string   `json:"rationale,omitempty" jsonschema:"Why the requirement exists"`
	Priority           string   `json:"priority,omitempty" jsonschema:"shall, should or may"`
	Status             string   `json:"status,omitempty" jsonschema:"draft, approved or obsolete"`
	VerificationMethod string   `json:"verification_method,omitempty" jsonschema:"analysis, test, inspection or demonstration"`
	Source             string   `json:"source,omitempty" jsonschema:"Origin document or stakeholder"`
	Allocations        []string `json:"allocations,omitempty" jsonschema:"Subsystems the requirement is allocated to"`
}

// UpsertNodeOutput defines the output for tracegraph_upsert_node tool.
type UpsertNodeOutput struct {
	Node            NodeOutput `json:"node"`
	Created         bool       `json:"created"`
	HistoryRecorded bool       `json:"history_recorded" jsonschema:"True when a meaningful requirement change was recorded"`
	Message         string     `json:"message"`
}

// UpsertEdgeInput defines the input for tracegraph_upsert_edge tool.
type UpsertEdgeInput struct {
	ProjectID string `json:"project_id" jsonschema:"Owning project"`
	ID        string `json:"id,omitempty" jsonschema:"Edge ID to update; omit to create"`
	Kind      string `json:"kind" jsonschema:"Edge kind (e.g. 'derives', 'satisfies', 'verifies')"`
	SourceID  string `json:"source_id" jsonschema:"Source node ID"`
	TargetID  string `json:"target_id" jsonschema:"Target node ID"`
	Label     string `json:"label,omitempty" jsonschema:"Optional label"`
}

// UpsertEdgeOutput defines the output for tracegraph_upsert_edge tool.
type UpsertEdgeOutput struct {
	Edge    EdgeOutput `json:"edge"`
	Message string     `json:"message"`
}

// CommentInput defines the input for tracegraph_comment tool.
type CommentInput struct {
	NodeID   string `json:"node_id" jsonschema:"Node to comment on"`
	Body     string `json:"body" jsonschema:"Comment text"`
	ParentID string `json:"parent_id,omitempty" jsonschema:"Comment being replied to; must be on the same node"`
	Author   string `json:"author,omitempty" jsonschema:"Who is commenting (default: assistant)"`
}

// CommentOutput is the tool view of a comment.
type CommentOutput struct {
	ID         string     `json:"id"`
	NodeID     string     `json:"node_id"`
	ParentID   string     `json:"parent_id,omitempty"`
	Author     string     `json:"author"`
	Body       string     `json:"body"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
}

// CommentsInput defines the input for tracegraph_comments tool. Exactly
// one of node_id and project_id is set.
type CommentsInput struct {
	NodeID    string `json:"node_id,omitempty" jsonschema:"Node whose comments to list, oldest first"`
	ProjectID string `json:"project_id,omitempty" jsonschema:"Project whose open comment counts per node to return"`
}

// CommentsOutput defines the output for tracegraph_comments tool.
type CommentsOutput struct {
	Comments []CommentOutput `json:"comments,omitempty" jsonschema:"Comments on the node"`
	Counts   map[string]int  `json:"counts,omitempty" jsonschema:"Open comments per node ID"`
	Count    int             `json:"count"`
}

// ResolveCommentInput defines the input for tracegraph_resolve_comment tool.
type ResolveCommentInput struct {
	CommentID  string `json:"comment_id" jsonschema:"Comment to resolve"`
	ResolvedBy string `json:"resolved_by,omitempty" jsonschema:"Who resolved it (default: assistant)"`
}

// ResolveCommentOutput defines the output for tracegraph_resolve_comment tool.
type ResolveCommentOutput struct {
	Comment CommentOutput `json:"comment"`
	Message string        `json:"message"`
}

// ReviewsInput defines the input for tracegraph_reviews tool. Exactly one
// of project_id and review_id is set.
type ReviewsInput struct {
	ProjectID string `json:"project_id,omitempty" jsonschema:"Project whose review sessions to list, newest first"`
	ReviewID  string `json:"review_id,omitempty" jsonschema:"Single review session to return"`
}

// ReviewsOutput defines the output for tracegraph_reviews tool.
type ReviewsOutput struct {
	Reviews []ReviewOutput `json:"reviews"`
	Count   int            `json:"count"`
}

// ReviewOutput is the tool view of a review session.
type ReviewOutput struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	Status    string             `json:"status" jsonschema:"open, in_progress, approved, rejected or closed"`
	CreatedBy string             `json:"created_by"`
	CreatedAt time.Time          `json:"created_at"`
	Items     []ReviewItemOutput `json:"items"`
}

// ReviewItemOutput is one node of a review session.
type ReviewItemOutput struct {
	ID      string `json:"id"`
	NodeID  string `json:"node_id"`
	Verdict string `json:"verdict,omitempty" jsonschema:"approved, rejected or needs_changes; empty until given"`
	By      string `json:"by,omitempty"`
	Note    string `json:"note,omitempty"`
}

// ReviewVerdictInput defines the input for tracegraph_review_verdict tool.
type ReviewVerdictInput struct {
	ItemID  string `json:"item_id" jsonschema:"Review item to judge"`
	Verdict string `json:"verdict" jsonschema:"approved, rejected or needs_changes"`
	Note    string `json:"note,omitempty" jsonschema:"Reason for the verdict"`
	Actor   string `json:"actor,omitempty" jsonschema:"Who gives the verdict (default: assistant)"`
}

// ReviewVerdictOutput defines the output for tracegraph_review_verdict tool.
type ReviewVerdictOutput struct {
	ItemID  string `json:"item_id"`
	Verdict string `json:"verdict"`
	Message string `json:"message"`
}
