package mcp

import (
	"context"
	"fmt"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/tracegraph/internal/models"
	"github.com/nvandessel/tracegraph/internal/ratelimit"
	"github.com/nvandessel/tracegraph/internal/sanitize"
)

// handleComment implements the tracegraph_comment tool.
func (s *Server) handleComment(ctx context.Context, req *sdk.CallToolRequest, args CommentInput) (_ *sdk.CallToolResult, _ CommentOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ratelimit.ToolComment, start, retErr, sanitizeToolParams(map[string]interface{}{
			"node_id":   args.NodeID,
			"parent_id": args.ParentID,
			"body":      args.Body,
			"author":    args.Author,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, ratelimit.ToolComment); err != nil {
		return nil, CommentOutput{}, err
	}
	if args.NodeID == "" {
		return nil, CommentOutput{}, fmt.Errorf("'node_id' parameter is required")
	}
	body := sanitize.Text(args.Body)
	if body == "" {
		return nil, CommentOutput{}, fmt.Errorf("'body' parameter is required")
	}
	author := sanitize.Label(args.Author)
	if author == "" {
		author = DefaultActor
	}

	c, err := s.engine.AddComment(ctx, args.NodeID, args.ParentID, author, body)
	if err != nil {
		return nil, CommentOutput{}, notFound("node or parent comment", args.NodeID, err)
	}
	return nil, commentOutput(*c), nil
}

// handleComments implements the tracegraph_comments tool.
func (s *Server) handleComments(ctx context.Context, req *sdk.CallToolRequest, args CommentsInput) (_ *sdk.CallToolResult, _ CommentsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ratelimit.ToolComments, start, retErr, sanitizeToolParams(map[string]interface{}{
			"node_id":    args.NodeID,
			"project_id": args.ProjectID,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, ratelimit.ToolComments); err != nil {
		return nil, CommentsOutput{}, err
	}
	if (args.NodeID == "") == (args.ProjectID == "") {
		return nil, CommentsOutput{}, fmt.Errorf("exactly one of 'node_id' and 'project_id' is required")
	}

	if args.ProjectID != "" {
		counts, err := s.engine.CommentCounts(ctx, args.ProjectID)
		if err != nil {
			return nil, CommentsOutput{}, notFound("project", args.ProjectID, err)
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		return nil, CommentsOutput{Counts: counts, Count: total}, nil
	}

	comments, err := s.engine.ListComments(ctx, args.NodeID)
	if err != nil {
		return nil, CommentsOutput{}, notFound("node", args.NodeID, err)
	}
	out := CommentsOutput{
		Comments: make([]CommentOutput, len(comments)),
		Count:    len(comments),
	}
	for i, c := range comments {
		out.Comments[i] = commentOutput(c)
	}
	return nil, out, nil
}

// handleResolveComment implements the tracegraph_resolve_comment tool.
func (s *Server) handleResolveComment(ctx context.Context, req *sdk.CallToolRequest, args ResolveCommentInput) (_ *sdk.CallToolResult, _ ResolveCommentOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ratelimit.ToolResolveComment, start, retErr, sanitizeToolParams(map[string]interface{}{
			"comment_id":  args.CommentID,
			"resolved_by": args.ResolvedBy,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, ratelimit.ToolResolveComment); err != nil {
		return nil, ResolveCommentOutput{}, err
	}
	if args.CommentID == "" {
		return nil, ResolveCommentOutput{}, fmt.Errorf("'comment_id' parameter is required")
	}
	by := sanitize.Label(args.ResolvedBy)
	if by == "" {
		by = DefaultActor
	}

	if err := s.engine.ResolveComment(ctx, args.CommentID, by); err != nil {
		return nil, ResolveCommentOutput{}, notFound("comment", args.CommentID, err)
	}
	c, err := s.engine.GetComment(ctx, args.CommentID)
	if err != nil {
		return nil, ResolveCommentOutput{}, notFound("comment", args.CommentID, err)
	}
	return nil, ResolveCommentOutput{
		Comment: commentOutput(*c),
		Message: fmt.Sprintf("Comment %s resolved", c.ID),
	}, nil
}

// handleReviews implements the tracegraph_reviews tool.
func (s *Server) handleReviews(ctx context.Context, req *sdk.CallToolRequest, args ReviewsInput) (_ *sdk.CallToolResult, _ ReviewsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ratelimit.ToolReviews, start, retErr, sanitizeToolParams(map[string]interface{}{
			"project_id": args.ProjectID,
			"review_id":  args.ReviewID,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, ratelimit.ToolReviews); err != nil {
		return nil, ReviewsOutput{}, err
	}
	if (args.ProjectID == "") == (args.ReviewID == "") {
		return nil, ReviewsOutput{}, fmt.Errorf("exactly one of 'project_id' and 'review_id' is required")
	}

	var sessions []models.ReviewSession
	if args.ReviewID != "" {
		rs, err := s.engine.GetReview(ctx, args.ReviewID)
		if err != nil {
			return nil, ReviewsOutput{}, notFound("review session", args.ReviewID, err)
		}
		sessions = []models.ReviewSession{*rs}
	} else {
		var err error
		if sessions, err = s.engine.ListReviews(ctx, args.ProjectID); err != nil {
			return nil, ReviewsOutput{}, notFound("project", args.ProjectID, err)
		}
	}

	out := ReviewsOutput{
		Reviews: make([]ReviewOutput, len(sessions)),
		Count:   len(sessions),
	}
	for i, rs := range sessions {
		out.Reviews[i] = reviewOutput(rs)
	}
	return nil, out, nil
}

// handleReviewVerdict implements the tracegraph_review_verdict tool.
func (s *Server) handleReviewVerdict(ctx context.Context, req *sdk.CallToolRequest, args ReviewVerdictInput) (_ *sdk.CallToolResult, _ ReviewVerdictOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ratelimit.ToolReviewVerdict, start, retErr, sanitizeToolParams(map[string]interface{}{
			"item_id": args.ItemID,
			"verdict": args.Verdict,
			"note":    args.Note,
			"actor":   args.Actor,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, ratelimit.ToolReviewVerdict); err != nil {
		return nil, ReviewVerdictOutput{}, err
	}
	if args.ItemID == "" {
		return nil, ReviewVerdictOutput{}, fmt.Errorf("'item_id' parameter is required")
	}
	verdict, err := models.ParseVerdict(args.Verdict)
	if err != nil {
		return nil, ReviewVerdictOutput{}, err
	}
	actor := sanitize.Label(args.Actor)
	if actor == "" {
		actor = DefaultActor
	}

	if err := s.engine.SetVerdict(ctx, args.ItemID, string(verdict), actor, sanitize.Text(args.Note)); err != nil {
		return nil, ReviewVerdictOutput{}, notFound("review item", args.ItemID, err)
	}
	return nil, ReviewVerdictOutput{
		ItemID:  args.ItemID,
		Verdict: string(verdict),
		Message: fmt.Sprintf("Recorded %s on review item %s", verdict, args.ItemID),
	}, nil
}

func commentOutput(c models.Comment) CommentOutput {
	out := CommentOutput{
		ID:         c.ID,
		NodeID:     c.NodeID,
		ParentID:   c.ParentID,
		Author:     c.Author,
		Body:       c.Body,
		CreatedAt:  c.CreatedAt,
		ResolvedAt: c.ResolvedAt,
	}
	if c.ResolvedBy != nil {
		out.ResolvedBy = *c.ResolvedBy
	}
	return out
}

func reviewOutput(rs models.ReviewSession) ReviewOutput {
	out := ReviewOutput{
		ID:        rs.ID,
		Title:     rs.Title,
		Status:    string(rs.Status),
		CreatedBy: rs.CreatedBy,
		CreatedAt: rs.CreatedAt,
		Items:     make([]ReviewItemOutput, len(rs.Items)),
	}
	for i, it := range rs.Items {
		out.Items[i] = ReviewItemOutput{
			ID:      it.ID,
			NodeID:  it.NodeID,
			Verdict: string(it.Verdict),
			By:      it.VerdictBy,
			Note:    it.VerdictNote,
		}
	}
	return out
}
