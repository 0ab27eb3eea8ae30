// Package validation re-derives structural and semantic integrity findings
// for a traceability graph. It holds no state and never writes.
package validation

import (
	"fmt"
	"strings"

	"github.com/nvandessel/tracegraph/internal/models"
)

// Severity grades an issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Stable issue codes.
const (
	CodeNodeUnnamed             = "NODE_UNNAMED"
	CodeReqNoText               = "REQ_NO_TEXT"
	CodeReqNoVerif              = "REQ_NO_VERIF"
	CodeEdgeDanglingSource      = "EDGE_DANGLING_SOURCE"
	CodeEdgeDanglingTarget      = "EDGE_DANGLING_TARGET"
	CodeSatisfiesWrongTarget    = "SATISFIES_WRONG_TARGET"
	CodeSatisfiesUnusualSource  = "SATISFIES_UNUSUAL_SOURCE"
	CodeVerifiesWrongSource     = "VERIFIES_WRONG_SOURCE"
	CodeVerifiesWrongTarget     = "VERIFIES_WRONG_TARGET"
	CodeConnectsInvalidEndpoint = "CONNECTS_INVALID_ENDPOINT"
	CodePortTypeMismatch        = "PORT_TYPE_MISMATCH"
	CodeTransitionNotStates     = "TRANSITION_NOT_STATES"
	CodeBindingConnectorUnusual = "BINDING_CONNECTOR_UNUSUAL"
)

// Issue is a single finding. Issues are never persisted and their IDs are
// fresh on every call.
type Issue struct {
	ID       string   `json:"id"`
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	NodeID   string   `json:"node_id,omitempty"`
	EdgeID   string   `json:"edge_id,omitempty"`
}

// Validate returns every finding for the given graph: node issues in node
// order, then edge issues in edge order. The same input always yields the
// same sequence of codes, severities, messages and references.
func Validate(nodes []models.Node, edges []models.Edge) []Issue {
	issues := make([]Issue, 0)

	byID := make(map[string]*models.Node, len(nodes))
	for i := range nodes {
		// First occurrence wins so duplicate IDs resolve deterministically.
		if _, seen := byID[nodes[i].ID]; !seen {
			byID[nodes[i].ID] = &nodes[i]
		}
	}

	for i := range nodes {
		issues = append(issues, validateNode(&nodes[i])...)
	}
	for i := range edges {
		issues = append(issues, validateEdge(&edges[i], byID)...)
	}

	return issues
}

func newIssue(sev Severity, code, msg, nodeID, edgeID string) Issue {
	return Issue{
		ID:       models.NewID(),
		Severity: sev,
		Code:     code,
		Message:  msg,
		NodeID:   nodeID,
		EdgeID:   edgeID,
	}
}

func validateNode(n *models.Node) []Issue {
	var issues []Issue

	if strings.TrimSpace(n.Name) == "" {
		issues = append(issues, newIssue(SeverityWarning, CodeNodeUnnamed,
			fmt.Sprintf("%s has no name", n.Kind), n.ID, ""))
	}

	req, ok := n.Requirement()
	if !ok {
		return issues
	}
	label := req.ReqID
	if label == "" {
		label = n.Name
	}
	if strings.TrimSpace(req.Text) == "" {
		issues = append(issues, newIssue(SeverityWarning, CodeReqNoText,
			fmt.Sprintf("Requirement '%s' has no requirement text", label), n.ID, ""))
	}
	if strings.TrimSpace(string(req.VerificationMethod)) == "" {
		issues = append(issues, newIssue(SeverityInfo, CodeReqNoVerif,
			fmt.Sprintf("Requirement '%s' has no verification method", label), n.ID, ""))
	}

	return issues
}

func validateEdge(e *models.Edge, byID map[string]*models.Node) []Issue {
	src, srcOK := byID[e.SourceID]
	tgt, tgtOK := byID[e.TargetID]

	// A missing endpoint suppresses every kind-specific rule.
	if !srcOK {
		return []Issue{newIssue(SeverityError, CodeEdgeDanglingSource,
			fmt.Sprintf("%s edge has a missing source node", e.Kind), "", e.ID)}
	}
	if !tgtOK {
		return []Issue{newIssue(SeverityError, CodeEdgeDanglingTarget,
			fmt.Sprintf("%s edge has a missing target node", e.Kind), "", e.ID)}
	}

	var issues []Issue

	switch e.Kind {
	case models.EdgeKindSatisfies:
		if tgt.Kind != models.NodeKindRequirement {
			issues = append(issues, newIssue(SeverityError, CodeSatisfiesWrongTarget,
				fmt.Sprintf("satisfies target must be a requirement, got %s", tgt.Kind), tgt.ID, e.ID))
		}
		if src.Kind != models.NodeKindBlock {
			issues = append(issues, newIssue(SeverityWarning, CodeSatisfiesUnusualSource,
				fmt.Sprintf("satisfies source is usually a block, got %s", src.Kind), src.ID, e.ID))
		}

	case models.EdgeKindVerifies:
		if src.Kind != models.NodeKindTestCase {
			issues = append(issues, newIssue(SeverityError, CodeVerifiesWrongSource,
				fmt.Sprintf("verifies source must be a test case, got %s", src.Kind), src.ID, e.ID))
		}
		if tgt.Kind != models.NodeKindRequirement {
			issues = append(issues, newIssue(SeverityError, CodeVerifiesWrongTarget,
				fmt.Sprintf("verifies target must be a requirement, got %s", tgt.Kind), tgt.ID, e.ID))
		}

	case models.EdgeKindConnects:
		if !isKind(src, models.NodeKindPort, models.NodeKindBlock) || !isKind(tgt, models.NodeKindPort, models.NodeKindBlock) {
			issues = append(issues, newIssue(SeverityError, CodeConnectsInvalidEndpoint,
				"connects endpoints must be ports or blocks", "", e.ID))
		}
		if st, tt, ok := portTypes(src, tgt); ok && st != tt {
			issues = append(issues, newIssue(SeverityWarning, CodePortTypeMismatch,
				fmt.Sprintf("port type mismatch: %q connected to %q", st, tt), "", e.ID))
		}

	case models.EdgeKindTransition:
		if src.Kind != models.NodeKindState || tgt.Kind != models.NodeKindState {
			issues = append(issues, newIssue(SeverityError, CodeTransitionNotStates,
				"transition must link two states", "", e.ID))
		}

	case models.EdgeKindBindingConnector:
		allowed := []models.NodeKind{models.NodeKindPort, models.NodeKindConstraintBlock, models.NodeKindBlock}
		if !isKind(src, allowed...) || !isKind(tgt, allowed...) {
			issues = append(issues, newIssue(SeverityWarning, CodeBindingConnectorUnusual,
				"binding connector usually links ports or constraint blocks", "", e.ID))
		}

	case models.EdgeKindRefines, models.EdgeKindAllocates, models.EdgeKindRealizes,
		models.EdgeKindTraces, models.EdgeKindComposes, models.EdgeKindSpecializes,
		models.EdgeKindDerives, models.EdgeKindBlocks:
		// Only the dangling-reference check applies.
	}

	return issues
}

func isKind(n *models.Node, kinds ...models.NodeKind) bool {
	for _, k := range kinds {
		if n.Kind == k {
			return true
		}
	}
	return false
}

// portTypes returns the type names of two connected ports when both are
// ports and both names are set.
func portTypes(src, tgt *models.Node) (string, string, bool) {
	sp, ok := src.Data.(models.PortData)
	if !ok || src.Kind != models.NodeKindPort {
		return "", "", false
	}
	tp, ok := tgt.Data.(models.PortData)
	if !ok || tgt.Kind != models.NodeKindPort {
		return "", "", false
	}
	if sp.TypeName == "" || tp.TypeName == "" {
		return "", "", false
	}
	return sp.TypeName, tp.TypeName, true
}

// Summary counts issues by severity.
type Summary struct {
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
	Infos    int `json:"infos"`
}

// Total returns the number of issues counted.
func (s Summary) Total() int {
	return s.Errors + s.Warnings + s.Infos
}

// Summarize counts issues by severity.
func Summarize(issues []Issue) Summary {
	var s Summary
	for _, is := range issues {
		switch is.Severity {
		case SeverityError:
			s.Errors++
		case SeverityWarning:
			s.Warnings++
		case SeverityInfo:
			s.Infos++
		}
	}
	return s
}
