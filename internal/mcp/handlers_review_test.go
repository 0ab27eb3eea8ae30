package mcp

import (
	"context"
	"strings"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestHandleComment_Thread(t *testing.T) {
	server, pid := setupTestServer(t)
	ctx := context.Background()
	upsertRequirement(t, server, pid, "r1", "The PSU shall deliver 12 V.")

	_, root, err := server.handleComment(ctx, &sdk.CallToolRequest{}, CommentInput{NodeID: "r1", Body: "Is 12 V right?"})
	if err != nil {
		t.Fatalf("handleComment() error = %v", err)
	}
	if root.Author != DefaultActor {
		t.Errorf("author = %q, want %q", root.Author, DefaultActor)
	}
	_, reply, err := server.handleComment(ctx, &sdk.CallToolRequest{}, CommentInput{
		NodeID: "r1", ParentID: root.ID, Body: "Yes", Author: "copilot",
	})
	if err != nil {
		t.Fatalf("handleComment(reply) error = %v", err)
	}
	if reply.ParentID != root.ID || reply.Author != "copilot" {
		t.Errorf("reply = %+v", reply)
	}

	_, list, err := server.handleComments(ctx, &sdk.CallToolRequest{}, CommentsInput{NodeID: "r1"})
	if err != nil {
		t.Fatalf("handleComments(node) error = %v", err)
	}
	if list.Count != 2 || list.Comments[0].ID != root.ID {
		t.Errorf("comments = %+v", list)
	}

	_, resolved, err := server.handleResolveComment(ctx, &sdk.CallToolRequest{}, ResolveCommentInput{CommentID: root.ID})
	if err != nil {
		t.Fatalf("handleResolveComment() error = %v", err)
	}
	if resolved.Comment.ResolvedAt == nil || resolved.Comment.ResolvedBy != DefaultActor {
		t.Errorf("resolved = %+v", resolved.Comment)
	}

	_, counts, err := server.handleComments(ctx, &sdk.CallToolRequest{}, CommentsInput{ProjectID: pid})
	if err != nil {
		t.Fatalf("handleComments(project) error = %v", err)
	}
	if counts.Count != 1 || counts.Counts["r1"] != 1 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestHandleComment_Errors(t *testing.T) {
	server, pid := setupTestServer(t)
	ctx := context.Background()
	upsertRequirement(t, server, pid, "r1", "A")

	tests := []struct {
		name    string
		call    func() error
		wantErr string
	}{
		{"missing node", func() error {
			_, _, err := server.handleComment(ctx, &sdk.CallToolRequest{}, CommentInput{Body: "x"})
			return err
		}, "'node_id' parameter is required"},
		{"blank body", func() error {
			_, _, err := server.handleComment(ctx, &sdk.CallToolRequest{}, CommentInput{NodeID: "r1", Body: "\x00 "})
			return err
		}, "'body' parameter is required"},
		{"unknown node", func() error {
			_, _, err := server.handleComment(ctx, &sdk.CallToolRequest{}, CommentInput{NodeID: "nope", Body: "x"})
			return err
		}, "not found"},
		{"both selectors", func() error {
			_, _, err := server.handleComments(ctx, &sdk.CallToolRequest{}, CommentsInput{NodeID: "r1", ProjectID: pid})
			return err
		}, "exactly one"},
		{"unknown comment", func() error {
			_, _, err := server.handleResolveComment(ctx, &sdk.CallToolRequest{}, ResolveCommentInput{CommentID: "nope"})
			return err
		}, "comment nope not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestHandleReviews_VerdictFlow(t *testing.T) {
	server, pid := setupTestServer(t)
	ctx := context.Background()
	upsertRequirement(t, server, pid, "r1", "A")
	upsertRequirement(t, server, pid, "r2", "B")

	rs, err := server.engine.CreateReview(ctx, pid, "PDR", "", "alice", []string{"r1", "r2"})
	if err != nil {
		t.Fatalf("CreateReview() error = %v", err)
	}

	_, v, err := server.handleReviewVerdict(ctx, &sdk.CallToolRequest{}, ReviewVerdictInput{
		ItemID: rs.Items[0].ID, Verdict: "Needs-Changes", Note: "split it",
	})
	if err != nil {
		t.Fatalf("handleReviewVerdict() error = %v", err)
	}
	if v.Verdict != "needs_changes" {
		t.Errorf("verdict = %q, want needs_changes", v.Verdict)
	}
	if _, _, err := server.handleReviewVerdict(ctx, &sdk.CallToolRequest{}, ReviewVerdictInput{
		ItemID: rs.Items[1].ID, Verdict: "maybe",
	}); err == nil {
		t.Error("unknown verdict accepted")
	}

	_, one, err := server.handleReviews(ctx, &sdk.CallToolRequest{}, ReviewsInput{ReviewID: rs.ID})
	if err != nil {
		t.Fatalf("handleReviews(review) error = %v", err)
	}
	got := one.Reviews[0]
	if got.Status != "in_progress" || got.Items[0].By != DefaultActor || got.Items[0].Note != "split it" {
		t.Errorf("review = %+v", got)
	}

	if err := server.engine.CloseReview(ctx, rs.ID, "rejected"); err != nil {
		t.Fatalf("CloseReview() error = %v", err)
	}
	_, _, err = server.handleReviewVerdict(ctx, &sdk.CallToolRequest{}, ReviewVerdictInput{
		ItemID: rs.Items[1].ID, Verdict: "approved",
	})
	if err == nil || !strings.Contains(err.Error(), "closed") {
		t.Errorf("verdict on closed session error = %v", err)
	}

	_, all, err := server.handleReviews(ctx, &sdk.CallToolRequest{}, ReviewsInput{ProjectID: pid})
	if err != nil {
		t.Fatalf("handleReviews(project) error = %v", err)
	}
	if all.Count != 1 || all.Reviews[0].Status != "rejected" {
		t.Errorf("reviews = %+v", all)
	}

	if _, _, err := server.handleReviews(ctx, &sdk.CallToolRequest{}, ReviewsInput{}); err == nil {
		t.Error("handleReviews without selector succeeded")
	}
}
