// Package history detects meaningful requirement changes and builds the
// audit entries that record them.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/nvandessel/tracegraph/internal/models"
)

// ErrCorruptSnapshot marks stored requirement state that cannot be decoded.
// It means the audit log itself is damaged and is never skipped.
var ErrCorruptSnapshot = errors.New("corrupt requirement snapshot")

const (
	defaultPriority = string(models.PriorityShould)
	defaultStatus   = string(models.StatusDraft)
)

// SnapshotFromNode projects a requirement node onto its comparable fields.
// It returns false for any other kind.
func SnapshotFromNode(node models.Node) (models.RequirementSnapshot, bool) {
	req, ok := node.Requirement()
	if !ok {
		return models.RequirementSnapshot{}, false
	}

	return models.RequirementSnapshot{
		ReqID:              req.ReqID,
		Name:               node.Name,
		Text:               req.Text,
		Rationale:          req.Rationale,
		Priority:           enumText(string(req.Priority), defaultPriority),
		Status:             enumText(string(req.Status), defaultStatus),
		VerificationMethod: enumText(string(req.VerificationMethod), ""),
		Source:             req.Source,
		Allocations:        nonNil(req.Allocations),
		Description:        node.Description,
	}, true
}

// SnapshotFromRow projects a stored prior row. A nil row is the empty
// snapshot, so a newly created requirement always differs from it.
func SnapshotFromRow(row *models.RequirementRow) (models.RequirementSnapshot, error) {
	if row == nil {
		return models.RequirementSnapshot{Allocations: []string{}}, nil
	}

	allocations := []string{}
	if raw := deref(row.Allocations); strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &allocations); err != nil {
			return models.RequirementSnapshot{}, fmt.Errorf("%w: allocations: %v", ErrCorruptSnapshot, err)
		}
	}

	return models.RequirementSnapshot{
		ReqID:              deref(row.ReqID),
		Name:               deref(row.Name),
		Text:               deref(row.Text),
		Rationale:          deref(row.Rationale),
		Priority:           enumText(deref(row.Priority), ""),
		Status:             enumText(deref(row.Status), ""),
		VerificationMethod: enumText(deref(row.VerificationMethod), ""),
		Source:             deref(row.Source),
		Allocations:        nonNil(allocations),
		Description:        deref(row.Description),
	}, nil
}

// RowFromNode is the stored form of a requirement node, the inverse of
// SnapshotFromRow. Stores that keep nodes in memory use it to remember the
// prior state.
func RowFromNode(node models.Node) (*models.RequirementRow, error) {
	snap, ok := SnapshotFromNode(node)
	if !ok {
		return nil, nil
	}
	alloc, err := json.Marshal(snap.Allocations)
	if err != nil {
		return nil, fmt.Errorf("marshal allocations: %w", err)
	}
	allocStr := string(alloc)

	return &models.RequirementRow{
		Name:               &snap.Name,
		Description:        &snap.Description,
		ReqID:              &snap.ReqID,
		Text:               &snap.Text,
		Rationale:          &snap.Rationale,
		Priority:           &snap.Priority,
		Status:             &snap.Status,
		Source:             &snap.Source,
		VerificationMethod: &snap.VerificationMethod,
		Allocations:        &allocStr,
	}, nil
}

// ChangedFields names the snapshot fields that differ between prev and
// next, in declaration order, using their JSON names.
func ChangedFields(prev, next models.RequirementSnapshot) []string {
	var out []string
	add := func(name string, changed bool) {
		if changed {
			out = append(out, name)
		}
	}
	add("req_id", prev.ReqID != next.ReqID)
	add("name", prev.Name != next.Name)
	add("text", prev.Text != next.Text)
	add("rationale", prev.Rationale != next.Rationale)
	add("priority", prev.Priority != next.Priority)
	add("status", prev.Status != next.Status)
	add("verification_method", prev.VerificationMethod != next.VerificationMethod)
	add("source", prev.Source != next.Source)
	add("allocations", !slices.Equal(prev.Allocations, next.Allocations))
	add("description", prev.Description != next.Description)
	return out
}

// EncodeSnapshot serializes a snapshot for the history log.
func EncodeSnapshot(s models.RequirementSnapshot) (string, error) {
	s.Allocations = nonNil(s.Allocations)
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	return string(b), nil
}

// DecodeSnapshot parses a stored snapshot blob.
func DecodeSnapshot(raw []byte) (models.RequirementSnapshot, error) {
	var s models.RequirementSnapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return models.RequirementSnapshot{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	s.Allocations = nonNil(s.Allocations)
	return s, nil
}

func enumText(s, fallback string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return fallback
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
