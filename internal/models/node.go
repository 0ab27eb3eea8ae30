// Package models defines the traceability graph: nodes, edges, their kind
// taxonomy, and the records the integrity engine derives from them.
package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns a fresh random identifier.
func NewID() string {
	return uuid.NewString()
}

// Project owns a set of nodes and edges.
type Project struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	ModifiedAt  time.Time `json:"modified_at" yaml:"modified_at"`
}

// Node is a typed engineering artifact.
type Node struct {
	// Identity
	ID        string   `json:"id" yaml:"id"`
	ProjectID string   `json:"project_id" yaml:"project_id"`
	Kind      NodeKind `json:"kind" yaml:"kind"`

	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Data is the kind-specific payload. Data.Kind() must equal Kind.
	Data NodeData `json:"-" yaml:"-"`

	// Meta holds non-queryable annotations such as provenance hints
	// ("actor", "change_source", "ai_generated").
	Meta map[string]interface{} `json:"meta,omitempty" yaml:"meta,omitempty"`

	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
	ModifiedAt time.Time `json:"modified_at" yaml:"modified_at"`
}

// nodeJSON is the wire shape of Node with its payload as a tagged object.
type nodeJSON struct {
	ID          string                 `json:"id"`
	ProjectID   string                 `json:"project_id"`
	Kind        NodeKind               `json:"kind"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Data        json.RawMessage        `json:"data,omitempty"`
	Meta        map[string]interface{} `json:"meta,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	ModifiedAt  time.Time              `json:"modified_at"`
}

// MarshalJSON writes Data as {"kind": ..., fields...}.
func (n Node) MarshalJSON() ([]byte, error) {
	out := nodeJSON{
		ID:          n.ID,
		ProjectID:   n.ProjectID,
		Kind:        n.Kind,
		Name:        n.Name,
		Description: n.Description,
		Meta:        n.Meta,
		CreatedAt:   n.CreatedAt,
		ModifiedAt:  n.ModifiedAt,
	}
	if n.Data != nil {
		raw, err := EncodeData(n.Data)
		if err != nil {
			return nil, err
		}
		out.Data = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a node and decodes its tagged payload. A missing
// payload becomes DefaultData(kind).
func (n *Node) UnmarshalJSON(b []byte) error {
	var in nodeJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	kind, err := ParseNodeKind(string(in.Kind))
	if err != nil {
		return err
	}
	data, err := DecodeData(kind, in.Data)
	if err != nil {
		return err
	}

	*n = Node{
		ID:          in.ID,
		ProjectID:   in.ProjectID,
		Kind:        kind,
		Name:        in.Name,
		Description: in.Description,
		Data:        data,
		Meta:        in.Meta,
		CreatedAt:   in.CreatedAt,
		ModifiedAt:  in.ModifiedAt,
	}
	return nil
}

// Validate checks the node's structural invariants.
func (n *Node) Validate() error {
	if strings.TrimSpace(n.ID) == "" {
		return fmt.Errorf("node id is required")
	}
	if strings.TrimSpace(n.ProjectID) == "" {
		return fmt.Errorf("node %s: project id is required", n.ID)
	}
	if !n.Kind.Valid() {
		return fmt.Errorf("node %s: unknown kind %q", n.ID, n.Kind)
	}
	if n.Data == nil {
		return fmt.Errorf("node %s: data is required", n.ID)
	}
	if n.Data.Kind() != n.Kind {
		return fmt.Errorf("node %s: data kind %q does not match node kind %q", n.ID, n.Data.Kind(), n.Kind)
	}
	return nil
}

// Clone returns a copy of n that shares no maps or slices with it.
func (n Node) Clone() Node {
	n.Meta = cloneMeta(n.Meta)
	switch d := n.Data.(type) {
	case RequirementData:
		d.Allocations = slices.Clone(d.Allocations)
		n.Data = d
	case ConstraintBlockData:
		d.Parameters = slices.Clone(d.Parameters)
		n.Data = d
	}
	return n
}

// Requirement returns the requirement payload if n is a requirement.
func (n *Node) Requirement() (RequirementData, bool) {
	if n.Kind != NodeKindRequirement {
		return RequirementData{}, false
	}
	d, ok := n.Data.(RequirementData)
	return d, ok
}

// MetaString returns the trimmed string value of a metadata key, or "".
func (n *Node) MetaString(key string) string {
	if n.Meta == nil {
		return ""
	}
	s, ok := n.Meta[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// MetaBool reports whether a metadata key holds boolean true.
func (n *Node) MetaBool(key string) bool {
	if n.Meta == nil {
		return false
	}
	b, ok := n.Meta[key].(bool)
	return ok && b
}

// Edge is a typed traceability relationship between two nodes. SourceID and
// TargetID are weak references: nothing guarantees the nodes exist.
type Edge struct {
	ID        string   `json:"id" yaml:"id"`
	ProjectID string   `json:"project_id" yaml:"project_id"`
	Kind      EdgeKind `json:"kind" yaml:"kind"`
	SourceID  string   `json:"source_id" yaml:"source_id"`
	TargetID  string   `json:"target_id" yaml:"target_id"`
	Label     string   `json:"label,omitempty" yaml:"label,omitempty"`

	Meta map[string]interface{} `json:"meta,omitempty" yaml:"meta,omitempty"`

	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
	ModifiedAt time.Time `json:"modified_at" yaml:"modified_at"`
}

// Clone returns a copy of e that shares no maps with it.
func (e Edge) Clone() Edge {
	e.Meta = cloneMeta(e.Meta)
	return e
}

func cloneMeta(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneMeta(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}

// Validate checks the edge's structural invariants. Endpoint existence is
// not checked here.
func (e *Edge) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("edge id is required")
	}
	if strings.TrimSpace(e.ProjectID) == "" {
		return fmt.Errorf("edge %s: project id is required", e.ID)
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("edge %s: unknown kind %q", e.ID, e.Kind)
	}
	if e.SourceID == "" || e.TargetID == "" {
		return fmt.Errorf("edge %s: source and target are required", e.ID)
	}
	return nil
}
