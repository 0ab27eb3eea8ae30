package models

import "fmt"

// NodeKind is the closed set of artifact kinds a node can have.
type NodeKind string

const (
	NodeKindRequirement     NodeKind = "requirement"
	NodeKindBlock           NodeKind = "block"
	NodeKindInterface       NodeKind = "interface"
	NodeKindPort            NodeKind = "port"
	NodeKindUseCase         NodeKind = "use_case"
	NodeKindActor           NodeKind = "actor"
	NodeKindTestCase        NodeKind = "test_case"
	NodeKindStakeholder     NodeKind = "stakeholder"
	NodeKindFunction        NodeKind = "function"
	NodeKindExternal        NodeKind = "external"
	NodeKindValueType       NodeKind = "value_type"
	NodeKindConstraintBlock NodeKind = "constraint_block"
	NodeKindState           NodeKind = "state"
)

// AllNodeKinds lists every node kind in declaration order.
var AllNodeKinds = []NodeKind{
	NodeKindRequirement,
	NodeKindBlock,
	NodeKindInterface,
	NodeKindPort,
	NodeKindUseCase,
	NodeKindActor,
	NodeKindTestCase,
	NodeKindStakeholder,
	NodeKindFunction,
	NodeKindExternal,
	NodeKindValueType,
	NodeKindConstraintBlock,
	NodeKindState,
}

// ParseNodeKind converts stored or user-supplied text into a NodeKind.
func ParseNodeKind(s string) (NodeKind, error) {
	k := NodeKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown node kind: %q", s)
	}
	return k, nil
}

// Valid reports whether k is one of the known node kinds.
func (k NodeKind) Valid() bool {
	switch k {
	case NodeKindRequirement, NodeKindBlock, NodeKindInterface, NodeKindPort,
		NodeKindUseCase, NodeKindActor, NodeKindTestCase, NodeKindStakeholder,
		NodeKindFunction, NodeKindExternal, NodeKindValueType,
		NodeKindConstraintBlock, NodeKindState:
		return true
	default:
		return false
	}
}

// EdgeKind is the closed set of relationship kinds between nodes.
type EdgeKind string

const (
	EdgeKindSatisfies        EdgeKind = "satisfies"         // Block satisfies a Requirement
	EdgeKindRefines          EdgeKind = "refines"           // Requirement refines another Requirement
	EdgeKindAllocates        EdgeKind = "allocates"         // Function allocated to a Block
	EdgeKindRealizes         EdgeKind = "realizes"          // Block realizes a UseCase
	EdgeKindTraces           EdgeKind = "traces"            // Generic traceability link
	EdgeKindVerifies         EdgeKind = "verifies"          // TestCase verifies a Requirement
	EdgeKindConnects         EdgeKind = "connects"          // Port-to-port flow connection
	EdgeKindComposes         EdgeKind = "composes"          // Block composed within a Block
	EdgeKindSpecializes      EdgeKind = "specializes"       // Block generalization
	EdgeKindDerives          EdgeKind = "derives"           // Source content derives the target
	EdgeKindBlocks           EdgeKind = "blocks"            // Schedule dependency
	EdgeKindTransition       EdgeKind = "transition"        // State machine transition
	EdgeKindBindingConnector EdgeKind = "binding_connector" // Parametric binding
)

// AllEdgeKinds lists every edge kind in declaration order.
var AllEdgeKinds = []EdgeKind{
	EdgeKindSatisfies,
	EdgeKindRefines,
	EdgeKindAllocates,
	EdgeKindRealizes,
	EdgeKindTraces,
	EdgeKindVerifies,
	EdgeKindConnects,
	EdgeKindComposes,
	EdgeKindSpecializes,
	EdgeKindDerives,
	EdgeKindBlocks,
	EdgeKindTransition,
	EdgeKindBindingConnector,
}

// DerivationEdgeKinds are the edge kinds whose target is justified by the
// source's content. Only these take part in suspect propagation.
var DerivationEdgeKinds = []EdgeKind{
	EdgeKindDerives,
	EdgeKindRefines,
	EdgeKindTraces,
	EdgeKindSatisfies,
}

// ParseEdgeKind converts stored or user-supplied text into an EdgeKind.
func ParseEdgeKind(s string) (EdgeKind, error) {
	k := EdgeKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown edge kind: %q", s)
	}
	return k, nil
}

// Valid reports whether k is one of the known edge kinds.
func (k EdgeKind) Valid() bool {
	for _, known := range AllEdgeKinds {
		if k == known {
			return true
		}
	}
	return false
}

// IsDerivation reports whether k is a derivation edge kind.
func (k EdgeKind) IsDerivation() bool {
	switch k {
	case EdgeKindDerives, EdgeKindRefines, EdgeKindTraces, EdgeKindSatisfies:
		return true
	default:
		return false
	}
}
