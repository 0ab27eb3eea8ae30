package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/nvandessel/tracegraph/internal/models"
)

// DefaultReviewer is recorded when a comment, resolution, session or
// verdict names nobody.
const DefaultReviewer = "User"

func reviewer(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return DefaultReviewer
	}
	return name
}

// AddComment attaches a comment to a node. parentID, when set, must be a
// comment on the same node.
func (e *Engine) AddComment(ctx context.Context, nodeID, parentID, author, body string) (*models.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("comment body is required")
	}
	node, err := e.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	c := models.Comment{
		ID:        models.NewID(),
		ProjectID: node.ProjectID,
		NodeID:    node.ID,
		ParentID:  strings.TrimSpace(parentID),
		Author:    reviewer(author),
		Body:      body,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.AddComment(ctx, c); err != nil {
		return nil, err
	}
	e.logger.Debug("comment added", "node_id", nodeID, "comment_id", c.ID, "reply", c.ParentID != "")
	return &c, nil
}

// GetComment returns a comment or an error wrapping store.ErrNotFound.
func (e *Engine) GetComment(ctx context.Context, id string) (*models.Comment, error) {
	return e.store.GetComment(ctx, id)
}

// ListComments returns a node's comments oldest first.
func (e *Engine) ListComments(ctx context.Context, nodeID string) ([]models.Comment, error) {
	if _, err := e.store.GetNode(ctx, nodeID); err != nil {
		return nil, err
	}
	return e.store.ListComments(ctx, nodeID)
}

// CommentCounts maps each node of the project with open comments to their
// number.
func (e *Engine) CommentCounts(ctx context.Context, projectID string) (map[string]int, error) {
	if _, err := e.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.store.OpenCommentCounts(ctx, projectID)
}

// ResolveComment marks a comment resolved. Repeated calls succeed and keep
// the first resolution.
func (e *Engine) ResolveComment(ctx context.Context, id, resolvedBy string) error {
	return e.store.ResolveComment(ctx, id, reviewer(resolvedBy), e.now())
}

// DeleteComment removes a comment and its replies.
func (e *Engine) DeleteComment(ctx context.Context, id string) error {
	return e.store.DeleteComment(ctx, id)
}

// CreateReview opens a review session over nodeIDs. Every node must belong
// to the project; duplicates are dropped, keeping the first occurrence.
func (e *Engine) CreateReview(ctx context.Context, projectID, title, description, createdBy string, nodeIDs []string) (*models.ReviewSession, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("review title is required")
	}
	if len(nodeIDs) == 0 {
		return nil, fmt.Errorf("a review needs at least one node")
	}
	if _, err := e.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	rs := models.ReviewSession{
		ID:          models.NewID(),
		ProjectID:   projectID,
		Title:       title,
		Description: description,
		Status:      models.ReviewOpen,
		CreatedBy:   reviewer(createdBy),
		CreatedAt:   e.now(),
	}
	seen := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		node, err := e.store.GetNode(ctx, id)
		if err != nil {
			return nil, err
		}
		if node.ProjectID != projectID {
			return nil, fmt.Errorf("node %s belongs to project %s", id, node.ProjectID)
		}
		rs.Items = append(rs.Items, models.ReviewItem{ID: models.NewID(), SessionID: rs.ID, NodeID: id})
	}

	if err := e.store.CreateReviewSession(ctx, rs); err != nil {
		return nil, err
	}
	e.logger.Debug("review session created", "project_id", projectID, "review_id", rs.ID, "items", len(rs.Items))
	return &rs, nil
}

// GetReview returns a review session with its items.
func (e *Engine) GetReview(ctx context.Context, id string) (*models.ReviewSession, error) {
	return e.store.GetReviewSession(ctx, id)
}

// ListReviews returns a project's review sessions newest first.
func (e *Engine) ListReviews(ctx context.Context, projectID string) ([]models.ReviewSession, error) {
	if _, err := e.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.store.ListReviewSessions(ctx, projectID)
}

// SetVerdict records approved, rejected or needs_changes on a review item.
func (e *Engine) SetVerdict(ctx context.Context, itemID, verdict, by, note string) error {
	v, err := models.ParseVerdict(verdict)
	if err != nil {
		return err
	}
	return e.store.SetReviewVerdict(ctx, itemID, v, reviewer(by), strings.TrimSpace(note), e.now())
}

// CloseReview ends a session with a final status: approved, rejected or
// closed. An empty status means closed.
func (e *Engine) CloseReview(ctx context.Context, id, status string) error {
	st := models.ReviewClosed
	if strings.TrimSpace(status) != "" {
		var err error
		if st, err = models.ParseReviewStatus(status); err != nil {
			return err
		}
	}
	if !st.Final() {
		return fmt.Errorf("a review can only be closed as approved, rejected or closed, not %s", st)
	}
	return e.store.CloseReviewSession(ctx, id, st, e.now())
}
