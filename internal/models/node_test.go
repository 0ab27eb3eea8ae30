package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNodeJSON_TaggedData(t *testing.T) {
	n := Node{
		ID:        "n1",
		ProjectID: "p1",
		Kind:      NodeKindPort,
		Name:      "VIN",
		Data:      PortData{Direction: PortIn, TypeName: "Voltage"},
	}

	raw, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(raw), `"kind":"port"`) {
		t.Errorf("payload is not tagged: %s", raw)
	}

	var got Node
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	port, ok := got.Data.(PortData)
	if !ok {
		t.Fatalf("Data type = %T, want PortData", got.Data)
	}
	if port.TypeName != "Voltage" || port.Direction != PortIn {
		t.Errorf("port = %+v", port)
	}
}

func TestNodeJSON_MissingDataUsesDefault(t *testing.T) {
	var n Node
	if err := json.Unmarshal([]byte(`{"id":"r1","project_id":"p1","kind":"requirement","name":"R"}`), &n); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	req, ok := n.Requirement()
	if !ok {
		t.Fatalf("Requirement() ok = false, data = %T", n.Data)
	}
	if req.Priority != PriorityShould || req.Status != StatusDraft {
		t.Errorf("defaults = %q/%q, want should/draft", req.Priority, req.Status)
	}
}

func TestNodeJSON_RejectsMismatchedData(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"tag disagrees", `{"id":"b1","project_id":"p1","kind":"block","data":{"kind":"port"}}`},
		{"unknown kind", `{"id":"x","project_id":"p1","kind":"widget"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n Node
			if err := json.Unmarshal([]byte(tt.in), &n); err == nil {
				t.Error("Unmarshal() expected error, got nil")
			}
		})
	}
}

func TestNode_Validate(t *testing.T) {
	tests := []struct {
		name    string
		node    Node
		wantErr bool
	}{
		{"valid", Node{ID: "a", ProjectID: "p", Kind: NodeKindBlock, Data: BlockData{}}, false},
		{"missing id", Node{ProjectID: "p", Kind: NodeKindBlock, Data: BlockData{}}, true},
		{"missing project", Node{ID: "a", Kind: NodeKindBlock, Data: BlockData{}}, true},
		{"nil data", Node{ID: "a", ProjectID: "p", Kind: NodeKindBlock}, true},
		{"data mismatch", Node{ID: "a", ProjectID: "p", Kind: NodeKindBlock, Data: StateData{}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.node.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultData_EveryKind(t *testing.T) {
	for _, kind := range AllNodeKinds {
		d, err := DefaultData(kind)
		if err != nil {
			t.Fatalf("DefaultData(%s) error = %v", kind, err)
		}
		if d.Kind() != kind {
			t.Errorf("DefaultData(%s).Kind() = %s", kind, d.Kind())
		}
	}
}

func TestEdgeKind_IsDerivation(t *testing.T) {
	want := map[EdgeKind]bool{
		EdgeKindDerives:   true,
		EdgeKindRefines:   true,
		EdgeKindTraces:    true,
		EdgeKindSatisfies: true,
	}
	for _, k := range AllEdgeKinds {
		if k.IsDerivation() != want[k] {
			t.Errorf("%s.IsDerivation() = %v, want %v", k, k.IsDerivation(), want[k])
		}
	}
	if _, err := ParseEdgeKind("contains"); err == nil {
		t.Error("ParseEdgeKind(contains) expected error")
	}
}

func TestRequirementSnapshot_Equal(t *testing.T) {
	a := RequirementSnapshot{Text: "A", Allocations: []string{"FPGA"}}
	b := RequirementSnapshot{Text: "A", Allocations: []string{"FPGA"}}
	if !a.Equal(b) {
		t.Error("identical snapshots compare unequal")
	}
	b.Allocations = []string{}
	if a.Equal(b) {
		t.Error("different allocations compare equal")
	}
	if !(RequirementSnapshot{Allocations: []string{}}).Equal(RequirementSnapshot{}) {
		t.Error("empty and nil allocations compare unequal")
	}
}

func TestParseRequirementEnums(t *testing.T) {
	if p, err := ParsePriority(" SHALL "); err != nil || p != PriorityShall {
		t.Errorf("ParsePriority() = %q, %v", p, err)
	}
	if _, err := ParsePriority("must"); err == nil {
		t.Error("ParsePriority(must) succeeded")
	}
	if s, err := ParseStatus("Approved"); err != nil || s != StatusApproved {
		t.Errorf("ParseStatus() = %q, %v", s, err)
	}
	if _, err := ParseStatus(""); err == nil {
		t.Error("ParseStatus(\"\") succeeded")
	}
	if m, err := ParseVerificationMethod(""); err != nil || m != "" {
		t.Errorf("ParseVerificationMethod(\"\") = %q, %v", m, err)
	}
	if m, err := ParseVerificationMethod("Test"); err != nil || m != VerifyTest {
		t.Errorf("ParseVerificationMethod(Test) = %q, %v", m, err)
	}
	if _, err := ParseVerificationMethod("simulation"); err == nil {
		t.Error("ParseVerificationMethod(simulation) succeeded")
	}
}

func TestNode_CloneSharesNothing(t *testing.T) {
	orig := Node{
		ID: "r1", ProjectID: "p1", Kind: NodeKindRequirement,
		Data: RequirementData{Text: "A", Allocations: []string{"FPGA"}},
		Meta: map[string]interface{}{
			"actor": "alice",
			"tags":  []interface{}{"a"},
			"extra": map[string]interface{}{"k": "v"},
		},
	}

	c := orig.Clone()
	c.Meta["actor"] = "bob"
	c.Meta["tags"].([]interface{})[0] = "changed"
	c.Meta["extra"].(map[string]interface{})["k"] = "changed"
	req := c.Data.(RequirementData)
	req.Allocations[0] = "MCU"

	if orig.Meta["actor"] != "alice" {
		t.Errorf("meta actor = %v, want alice", orig.Meta["actor"])
	}
	if orig.Meta["tags"].([]interface{})[0] != "a" {
		t.Error("nested slice shared with clone")
	}
	if orig.Meta["extra"].(map[string]interface{})["k"] != "v" {
		t.Error("nested map shared with clone")
	}
	if got := orig.Data.(RequirementData).Allocations[0]; got != "FPGA" {
		t.Errorf("allocations[0] = %s, want FPGA", got)
	}
}

func TestParseReviewStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    ReviewStatus
		final   bool
		wantErr bool
	}{
		{"open", ReviewOpen, false, false},
		{"In_Progress", ReviewInProgress, false, false},
		{"approved", ReviewApproved, true, false},
		{"rejected", ReviewRejected, true, false},
		{" closed ", ReviewClosed, true, false},
		{"done", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseReviewStatus(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseReviewStatus(%q) error = %v", tt.in, err)
			}
			if got != tt.want || got.Final() != tt.final {
				t.Errorf("ParseReviewStatus(%q) = %q (final %v)", tt.in, got, got.Final())
			}
		})
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		in      string
		want    Verdict
		wantErr bool
	}{
		{"approved", VerdictApproved, false},
		{"REJECTED", VerdictRejected, false},
		{"needs-changes", VerdictNeedsChanges, false},
		{"needs_changes", VerdictNeedsChanges, false},
		{"maybe", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVerdict(tt.in)
			if (err != nil) != tt.wantErr || got != tt.want {
				t.Errorf("ParseVerdict(%q) = %q, %v", tt.in, got, err)
			}
		})
	}
}
