package models

import (
	"fmt"
	"strings"
	"time"
)

// Comment is a review note attached to a node. Replies name their parent.
type Comment struct {
	ID         string     `json:"id"`
	ProjectID  string     `json:"project_id"`
	NodeID     string     `json:"node_id"`
	ParentID   string     `json:"parent_id,omitempty"`
	Author     string     `json:"author"`
	Body       string     `json:"body"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy *string    `json:"resolved_by,omitempty"`
}

// Open reports whether the comment is still unresolved.
func (c *Comment) Open() bool {
	return c.ResolvedAt == nil
}

// ReviewStatus is the lifecycle state of a review session.
type ReviewStatus string

const (
	ReviewOpen       ReviewStatus = "open"
	ReviewInProgress ReviewStatus = "in_progress"
	ReviewApproved   ReviewStatus = "approved"
	ReviewRejected   ReviewStatus = "rejected"
	ReviewClosed     ReviewStatus = "closed"
)

// ParseReviewStatus parses a status name, case-insensitively.
func ParseReviewStatus(s string) (ReviewStatus, error) {
	switch st := ReviewStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case ReviewOpen, ReviewInProgress, ReviewApproved, ReviewRejected, ReviewClosed:
		return st, nil
	}
	return "", fmt.Errorf("unknown review status: %q", s)
}

// Final reports whether a session in this status accepts no more verdicts.
func (s ReviewStatus) Final() bool {
	return s == ReviewApproved || s == ReviewRejected || s == ReviewClosed
}

// Verdict is a reviewer's decision on one item of a session.
type Verdict string

const (
	VerdictApproved     Verdict = "approved"
	VerdictRejected     Verdict = "rejected"
	VerdictNeedsChanges Verdict = "needs_changes"
)

// ParseVerdict parses a verdict name. "needs-changes" is accepted too.
func ParseVerdict(s string) (Verdict, error) {
	v := Verdict(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	switch v {
	case VerdictApproved, VerdictRejected, VerdictNeedsChanges:
		return v, nil
	}
	return "", fmt.Errorf("unknown verdict: %q (must be approved, rejected or needs_changes)", s)
}

// ReviewSession groups nodes put up for review together.
type ReviewSession struct {
	ID          string       `json:"id"`
	ProjectID   string       `json:"project_id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      ReviewStatus `json:"status"`
	CreatedBy   string       `json:"created_by"`
	CreatedAt   time.Time    `json:"created_at"`
	ClosedAt    *time.Time   `json:"closed_at,omitempty"`
	Items       []ReviewItem `json:"items"`
}

// ReviewItem is one node in a session and the verdict given on it.
type ReviewItem struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	NodeID      string     `json:"node_id"`
	Verdict     Verdict    `json:"verdict,omitempty"`
	VerdictBy   string     `json:"verdict_by,omitempty"`
	VerdictAt   *time.Time `json:"verdict_at,omitempty"`
	VerdictNote string     `json:"verdict_note,omitempty"`
}
