package history

import (
	"github.com/nvandessel/tracegraph/internal/models"
)

// History query bounds.
const (
	DefaultLimit = 20
	MaxLimit     = 200
)

// Metadata keys read when attributing a change.
const (
	MetaActor        = "actor"
	MetaChangeSource = "change_source"
	MetaAIGenerated  = "ai_generated"
	MetaAISuggested  = "ai_suggested"
)

// RecordIfChanged compares the stored prior state of a node with the node
// about to be written and returns the audit entry for the change, or nil
// when nothing meaningful changed or the node is not a requirement.
//
// The caller must insert the entry in the same transaction as the node
// write.
func RecordIfChanged(prior *models.RequirementRow, node models.Node) (*models.RequirementHistoryEntry, error) {
	next, ok := SnapshotFromNode(node)
	if !ok {
		return nil, nil
	}
	prev, err := SnapshotFromRow(prior)
	if err != nil {
		return nil, err
	}
	if prev.Equal(next) {
		return nil, nil
	}

	return &models.RequirementHistoryEntry{
		ID:        models.NewID(),
		ProjectID: node.ProjectID,
		NodeID:    node.ID,
		Timestamp: node.ModifiedAt.UTC(),
		Actor:     ResolveActor(node),
		Source:    ResolveSource(node),
		Prev:      prev,
		Next:      next,
	}, nil
}

// ResolveActor returns the node's "actor" metadata, or "system".
func ResolveActor(node models.Node) string {
	if actor := node.MetaString(MetaActor); actor != "" {
		return actor
	}
	return models.DefaultActor
}

// ResolveSource returns the explicit "change_source" metadata if set,
// "ai" if the node is flagged as AI-originated, and "manual" otherwise.
func ResolveSource(node models.Node) models.ChangeSource {
	if src := node.MetaString(MetaChangeSource); src != "" {
		return models.ChangeSource(src)
	}
	if node.MetaBool(MetaAIGenerated) || node.MetaBool(MetaAISuggested) {
		return models.ChangeSourceAI
	}
	return models.ChangeSourceManual
}

// ClampLimit bounds a history query to [1, MaxLimit]. Callers that let the
// limit be omitted substitute DefaultLimit before clamping.
func ClampLimit(n int) int {
	switch {
	case n < 1:
		return 1
	case n > MaxLimit:
		return MaxLimit
	default:
		return n
	}
}
