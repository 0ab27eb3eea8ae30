package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NodeData is the kind-specific payload of a node. The set of
// implementations is closed: only the variants declared in this file
// satisfy it, one per NodeKind.
type NodeData interface {
	// Kind returns the node kind this payload belongs to.
	Kind() NodeKind
	isNodeData()
}

// RequirementPriority expresses the obligation level of a requirement.
type RequirementPriority string

const (
	PriorityShall  RequirementPriority = "shall"
	PriorityShould RequirementPriority = "should" // default
	PriorityMay    RequirementPriority = "may"
)

// RequirementStatus is the lifecycle state of a requirement.
type RequirementStatus string

const (
	StatusDraft    RequirementStatus = "draft" // default
	StatusApproved RequirementStatus = "approved"
	StatusObsolete RequirementStatus = "obsolete"
)

// VerificationMethod is how a requirement is to be verified.
// The empty value means no method has been chosen.
type VerificationMethod string

const (
	VerifyAnalysis      VerificationMethod = "analysis"
	VerifyTest          VerificationMethod = "test"
	VerifyInspection    VerificationMethod = "inspection"
	VerifyDemonstration VerificationMethod = "demonstration"
)

// ParsePriority accepts shall, should or may in any case.
func ParsePriority(s string) (RequirementPriority, error) {
	switch p := RequirementPriority(strings.ToLower(strings.TrimSpace(s))); p {
	case PriorityShall, PriorityShould, PriorityMay:
		return p, nil
	}
	return "", fmt.Errorf("unknown priority: %q", s)
}

// ParseStatus accepts draft, approved or obsolete in any case.
func ParseStatus(s string) (RequirementStatus, error) {
	switch st := RequirementStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusDraft, StatusApproved, StatusObsolete:
		return st, nil
	}
	return "", fmt.Errorf("unknown status: %q", s)
}

// ParseVerificationMethod accepts the four methods in any case. Empty text
// clears the method.
func ParseVerificationMethod(s string) (VerificationMethod, error) {
	switch m := VerificationMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case "", VerifyAnalysis, VerifyTest, VerifyInspection, VerifyDemonstration:
		return m, nil
	}
	return "", fmt.Errorf("unknown verification method: %q", s)
}

// RequirementData is the payload of a requirement node.
type RequirementData struct {
	// ReqID is the human-readable identifier, e.g. "REQ-001".
	ReqID              string              `json:"req_id,omitempty" yaml:"req_id,omitempty"`
	Text               string              `json:"text,omitempty" yaml:"text,omitempty"`
	Rationale          string              `json:"rationale,omitempty" yaml:"rationale,omitempty"`
	Priority           RequirementPriority `json:"priority,omitempty" yaml:"priority,omitempty"`
	Status             RequirementStatus   `json:"status,omitempty" yaml:"status,omitempty"`
	Source             string              `json:"source,omitempty" yaml:"source,omitempty"`
	VerificationMethod VerificationMethod  `json:"verification_method,omitempty" yaml:"verification_method,omitempty"`
	// Allocations are subsystem tags, e.g. ["FPGA", "Microcontroller"].
	Allocations []string `json:"allocations,omitempty" yaml:"allocations,omitempty"`
}

// BlockData is the payload of a block node.
type BlockData struct {
	IsAbstract   bool   `json:"is_abstract,omitempty" yaml:"is_abstract,omitempty"`
	Multiplicity string `json:"multiplicity,omitempty" yaml:"multiplicity,omitempty"`
}

// PortDirection is the flow direction of a port.
type PortDirection string

const (
	PortIn    PortDirection = "in"
	PortOut   PortDirection = "out"
	PortInOut PortDirection = "inout"
)

// PortData is the payload of a port node.
type PortData struct {
	Direction PortDirection `json:"direction,omitempty" yaml:"direction,omitempty"`
	// TypeRef is the ID of the typing block. It is a soft reference.
	TypeRef string `json:"type_ref,omitempty" yaml:"type_ref,omitempty"`
	// TypeName is the human-readable type, e.g. "Voltage".
	TypeName     string `json:"type_name,omitempty" yaml:"type_name,omitempty"`
	Multiplicity string `json:"multiplicity,omitempty" yaml:"multiplicity,omitempty"`
}

// UseCaseData is the payload of a use case node.
type UseCaseData struct {
	Level string `json:"level,omitempty" yaml:"level,omitempty"` // summary, user, subfunction
}

// TestCaseData is the payload of a test case node.
type TestCaseData struct {
	Procedure string `json:"procedure,omitempty" yaml:"procedure,omitempty"`
	Expected  string `json:"expected,omitempty" yaml:"expected,omitempty"`
	Status    string `json:"status,omitempty" yaml:"status,omitempty"` // not_run, pass, fail
}

// ValueTypeData is the payload of a value type node.
type ValueTypeData struct {
	BaseType   string `json:"base_type,omitempty" yaml:"base_type,omitempty"`
	Unit       string `json:"unit,omitempty" yaml:"unit,omitempty"`
	Constraint string `json:"constraint,omitempty" yaml:"constraint,omitempty"`
}

// ConstraintBlockData is the payload of a constraint block node.
type ConstraintBlockData struct {
	Expression string   `json:"expression,omitempty" yaml:"expression,omitempty"`
	Parameters []string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// StateData is the payload of a state machine state.
type StateData struct {
	// PseudoKind is "initial", "final", "choice", "fork", "join" or empty.
	PseudoKind  string `json:"pseudo_kind,omitempty" yaml:"pseudo_kind,omitempty"`
	EntryAction string `json:"entry_action,omitempty" yaml:"entry_action,omitempty"`
	ExitAction  string `json:"exit_action,omitempty" yaml:"exit_action,omitempty"`
	DoActivity  string `json:"do_activity,omitempty" yaml:"do_activity,omitempty"`
}

// Kinds without payload fields.
type (
	InterfaceData   struct{}
	ActorData       struct{}
	StakeholderData struct{}
	FunctionData    struct{}
	ExternalData    struct{}
)

func (RequirementData) Kind() NodeKind     { return NodeKindRequirement }
func (BlockData) Kind() NodeKind           { return NodeKindBlock }
func (InterfaceData) Kind() NodeKind       { return NodeKindInterface }
func (PortData) Kind() NodeKind            { return NodeKindPort }
func (UseCaseData) Kind() NodeKind         { return NodeKindUseCase }
func (ActorData) Kind() NodeKind           { return NodeKindActor }
func (TestCaseData) Kind() NodeKind        { return NodeKindTestCase }
func (StakeholderData) Kind() NodeKind     { return NodeKindStakeholder }
func (FunctionData) Kind() NodeKind        { return NodeKindFunction }
func (ExternalData) Kind() NodeKind        { return NodeKindExternal }
func (ValueTypeData) Kind() NodeKind       { return NodeKindValueType }
func (ConstraintBlockData) Kind() NodeKind { return NodeKindConstraintBlock }
func (StateData) Kind() NodeKind           { return NodeKindState }

func (RequirementData) isNodeData()     {}
func (BlockData) isNodeData()           {}
func (InterfaceData) isNodeData()       {}
func (PortData) isNodeData()            {}
func (UseCaseData) isNodeData()         {}
func (ActorData) isNodeData()           {}
func (TestCaseData) isNodeData()        {}
func (StakeholderData) isNodeData()     {}
func (FunctionData) isNodeData()        {}
func (ExternalData) isNodeData()        {}
func (ValueTypeData) isNodeData()       {}
func (ConstraintBlockData) isNodeData() {}
func (StateData) isNodeData()           {}

// DefaultData returns the zero payload for kind.
func DefaultData(kind NodeKind) (NodeData, error) {
	switch kind {
	case NodeKindRequirement:
		return RequirementData{Priority: PriorityShould, Status: StatusDraft}, nil
	case NodeKindBlock:
		return BlockData{}, nil
	case NodeKindInterface:
		return InterfaceData{}, nil
	case NodeKindPort:
		return PortData{Direction: PortInOut}, nil
	case NodeKindUseCase:
		return UseCaseData{Level: "user"}, nil
	case NodeKindActor:
		return ActorData{}, nil
	case NodeKindTestCase:
		return TestCaseData{Status: "not_run"}, nil
	case NodeKindStakeholder:
		return StakeholderData{}, nil
	case NodeKindFunction:
		return FunctionData{}, nil
	case NodeKindExternal:
		return ExternalData{}, nil
	case NodeKindValueType:
		return ValueTypeData{}, nil
	case NodeKindConstraintBlock:
		return ConstraintBlockData{}, nil
	case NodeKindState:
		return StateData{}, nil
	default:
		return nil, fmt.Errorf("unknown node kind: %q", kind)
	}
}

// EncodeData serializes a payload as a JSON object tagged with its kind.
func EncodeData(data NodeData) ([]byte, error) {
	if data == nil {
		return nil, fmt.Errorf("node data is nil")
	}
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s data: %w", data.Kind(), err)
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("flatten %s data: %w", data.Kind(), err)
	}
	kindJSON, _ := json.Marshal(data.Kind())
	fields["kind"] = kindJSON

	return json.Marshal(fields)
}

// DecodeData parses a kind-tagged payload. An empty payload yields
// DefaultData(kind). A payload whose tag disagrees with kind is rejected.
func DecodeData(kind NodeKind, raw []byte) (NodeData, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return DefaultData(kind)
	}

	var tag struct {
		Kind NodeKind `json:"kind"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, fmt.Errorf("decode %s data: %w", kind, err)
	}
	if tag.Kind != "" && tag.Kind != kind {
		return nil, fmt.Errorf("data kind %q does not match node kind %q", tag.Kind, kind)
	}

	switch kind {
	case NodeKindRequirement:
		d := RequirementData{Priority: PriorityShould, Status: StatusDraft}
		return decodeInto(raw, d)
	case NodeKindBlock:
		return decodeInto(raw, BlockData{})
	case NodeKindInterface:
		return InterfaceData{}, nil
	case NodeKindPort:
		return decodeInto(raw, PortData{Direction: PortInOut})
	case NodeKindUseCase:
		return decodeInto(raw, UseCaseData{Level: "user"})
	case NodeKindActor:
		return ActorData{}, nil
	case NodeKindTestCase:
		return decodeInto(raw, TestCaseData{Status: "not_run"})
	case NodeKindStakeholder:
		return StakeholderData{}, nil
	case NodeKindFunction:
		return FunctionData{}, nil
	case NodeKindExternal:
		return ExternalData{}, nil
	case NodeKindValueType:
		return decodeInto(raw, ValueTypeData{})
	case NodeKindConstraintBlock:
		return decodeInto(raw, ConstraintBlockData{})
	case NodeKindState:
		return decodeInto(raw, StateData{})
	default:
		return nil, fmt.Errorf("unknown node kind: %q", kind)
	}
}

func decodeInto[T NodeData](raw []byte, v T) (NodeData, error) {
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s data: %w", v.Kind(), err)
	}
	return v, nil
}
