// Package store defines the GraphStore interface for persisting the
// traceability graph and the records derived from it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/nvandessel/tracegraph/internal/models"
)

// ErrNotFound is returned when a referenced project, node, edge, suspect
// link or baseline does not exist.
var ErrNotFound = errors.New("not found")

// ErrReviewClosed is returned when a verdict or close targets a review
// session that is already closed.
var ErrReviewClosed = errors.New("review session is closed")

// BaselineRecord is a stored baseline: its metadata plus the encoded
// snapshot blob.
type BaselineRecord struct {
	models.Baseline
	Blob []byte
}

// GraphStore defines the interface for storing and querying the
// traceability graph.
type GraphStore interface {
	// Project operations
	CreateProject(ctx context.Context, p models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]models.Project, error)
	DeleteProject(ctx context.Context, id string) error

	// UpsertNode writes a node. For requirements it also appends a history
	// entry when the requirement changed meaningfully; the node write and
	// the entry commit together or not at all. The returned entry is nil
	// when nothing was recorded.
	UpsertNode(ctx context.Context, node models.Node) (*models.RequirementHistoryEntry, error)
	GetNode(ctx context.Context, id string) (*models.Node, error)
	ListNodes(ctx context.Context, projectID string) ([]models.Node, error)
	// DeleteNode removes a node and every edge incident to it.
	DeleteNode(ctx context.Context, id string) error

	// Edge operations
	UpsertEdge(ctx context.Context, edge models.Edge) error
	GetEdge(ctx context.Context, id string) (*models.Edge, error)
	DeleteEdge(ctx context.Context, id string) error
	EdgesForNode(ctx context.Context, nodeID string) ([]models.Edge, error)
	// DerivationEdgesFrom returns the derives/refines/traces/satisfies
	// edges whose source is nodeID.
	DerivationEdgesFrom(ctx context.Context, projectID, nodeID string) ([]models.Edge, error)

	// ListHistory returns a node's history newest-first, at most limit
	// entries.
	ListHistory(ctx context.Context, nodeID string, limit int) ([]models.RequirementHistoryEntry, error)

	// InsertSuspectIfAbsent inserts link unless an unresolved link already
	// exists for the same edge. The check and the insert are one atomic
	// step. It reports whether a row was inserted.
	InsertSuspectIfAbsent(ctx context.Context, link models.SuspectLink) (bool, error)
	// ResolveSuspect closes an open link. Resolving a closed link is a
	// no-op that keeps the first resolution.
	ResolveSuspect(ctx context.Context, id, resolvedBy string, at time.Time) error
	GetSuspect(ctx context.Context, id string) (*models.SuspectLink, error)
	// ListOpenSuspects returns unresolved links newest-flagged-first.
	ListOpenSuspects(ctx context.Context, projectID string) ([]models.SuspectLink, error)

	// Baseline operations
	CreateBaseline(ctx context.Context, rec BaselineRecord) error
	GetBaseline(ctx context.Context, id string) (*BaselineRecord, error)
	// ListBaselines returns metadata only, newest first.
	ListBaselines(ctx context.Context, projectID string) ([]models.Baseline, error)
	DeleteBaseline(ctx context.Context, id string) error

	// AddComment stores a comment on a node of the comment's project. A
	// reply's parent must be a comment on the same node.
	AddComment(ctx context.Context, c models.Comment) error
	GetComment(ctx context.Context, id string) (*models.Comment, error)
	// ListComments returns a node's comments oldest first.
	ListComments(ctx context.Context, nodeID string) ([]models.Comment, error)
	// OpenCommentCounts maps node ID to its number of unresolved comments.
	// Nodes without open comments are absent.
	OpenCommentCounts(ctx context.Context, projectID string) (map[string]int, error)
	// ResolveComment marks a comment resolved. Resolving twice keeps the
	// first resolution.
	ResolveComment(ctx context.Context, id, resolvedBy string, at time.Time) error
	// DeleteComment removes a comment and its replies.
	DeleteComment(ctx context.Context, id string) error

	// CreateReviewSession stores a session and its items together.
	CreateReviewSession(ctx context.Context, rs models.ReviewSession) error
	GetReviewSession(ctx context.Context, id string) (*models.ReviewSession, error)
	// ListReviewSessions returns a project's sessions with their items,
	// newest first.
	ListReviewSessions(ctx context.Context, projectID string) ([]models.ReviewSession, error)
	// SetReviewVerdict records a verdict on an item and moves an open
	// session to in_progress. Closed sessions return ErrReviewClosed.
	SetReviewVerdict(ctx context.Context, itemID string, verdict models.Verdict, by, note string, at time.Time) error
	// CloseReviewSession sets a final status. Closing twice returns
	// ErrReviewClosed.
	CloseReviewSession(ctx context.Context, id string, status models.ReviewStatus, at time.Time) error

	Close() error
}
