package models

import (
	"slices"
	"time"
)

// ChangeSource records who originated a requirement change.
type ChangeSource string

const (
	ChangeSourceManual ChangeSource = "manual"
	ChangeSourceAI     ChangeSource = "ai"
	ChangeSourceSystem ChangeSource = "system"
)

// DefaultActor is recorded when a node carries no explicit actor.
const DefaultActor = "system"

// RequirementSnapshot is the comparable projection of a requirement's
// semantically meaningful fields. Absent values are always "" or an empty
// slice, never nil, and enum values are lowercase.
type RequirementSnapshot struct {
	ReqID              string   `json:"req_id"`
	Name               string   `json:"name"`
	Text               string   `json:"text"`
	Rationale          string   `json:"rationale"`
	Priority           string   `json:"priority"`
	Status             string   `json:"status"`
	VerificationMethod string   `json:"verification_method"`
	Source             string   `json:"source"`
	Allocations        []string `json:"allocations"`
	Description        string   `json:"description"`
}

// Equal reports full structural equality. Allocation order matters.
func (s RequirementSnapshot) Equal(o RequirementSnapshot) bool {
	return s.ReqID == o.ReqID &&
		s.Name == o.Name &&
		s.Text == o.Text &&
		s.Rationale == o.Rationale &&
		s.Priority == o.Priority &&
		s.Status == o.Status &&
		s.VerificationMethod == o.VerificationMethod &&
		s.Source == o.Source &&
		slices.Equal(s.Allocations, o.Allocations) &&
		s.Description == o.Description
}

// RequirementHistoryEntry is an immutable audit record of one meaningful
// requirement change.
type RequirementHistoryEntry struct {
	ID        string              `json:"id"`
	ProjectID string              `json:"project_id"`
	NodeID    string              `json:"node_id"`
	Timestamp time.Time           `json:"ts"`
	Actor     string              `json:"actor"`
	Source    ChangeSource        `json:"source"`
	Prev      RequirementSnapshot `json:"prev"`
	Next      RequirementSnapshot `json:"next"`
}

// RequirementRow is the stored state of a requirement as it was before a
// write. Every column is nullable.
type RequirementRow struct {
	Name               *string
	Description        *string
	ReqID              *string
	Text               *string
	Rationale          *string
	Priority           *string
	Status             *string
	Source             *string
	VerificationMethod *string
	// Allocations is the raw JSON array column.
	Allocations *string
}
