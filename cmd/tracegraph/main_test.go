package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/tracegraph/internal/baseline"
)

// isolateHome sets HOME to a temp directory to avoid touching real ~/.tracegraph/
// MUST be called for any test that loads config or creates stores
func isolateHome(t *testing.T, tmpDir string) {
	t.Helper()
	tmpHome := filepath.Join(tmpDir, "home")
	if err := os.MkdirAll(tmpHome, 0700); err != nil {
		t.Fatalf("Failed to create temp home: %v", err)
	}
	t.Setenv("HOME", tmpHome)
	t.Setenv("USERPROFILE", tmpHome)
	for _, key := range []string{"TRACEGRAPH_LOG_LEVEL", "TRACEGRAPH_DB_PATH", "TRACEGRAPH_PROPAGATION", "TRACEGRAPH_HISTORY_LIMIT"} {
		t.Setenv(key, "")
	}
}

// runCmd executes the root command with args and returns its stdout.
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// mustRunJSON executes args with --json and decodes the output into v.
func mustRunJSON(t *testing.T, v interface{}, args ...string) {
	t.Helper()
	out, err := runCmd(t, append(args, "--json")...)
	if err != nil {
		t.Fatalf("%s: %v", strings.Join(args, " "), err)
	}
	if err := json.Unmarshal([]byte(out), v); err != nil {
		t.Fatalf("%s: decoding %q: %v", strings.Join(args, " "), out, err)
	}
}

// initProject initializes a root and creates one project, returning the
// root and the project ID.
func initProject(t *testing.T) (string, string) {
	t.Helper()
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	root := filepath.Join(tmpDir, "model")

	if _, err := runCmd(t, "init", "--root", root); err != nil {
		t.Fatalf("init: %v", err)
	}
	var p struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	mustRunJSON(t, &p, "project", "create", "Power supply", "--root", root)
	if p.ID == "" || p.Name != "Power supply" {
		t.Fatalf("project create = %+v", p)
	}
	return root, p.ID
}

func TestVersionCmd(t *testing.T) {
	var got map[string]string
	mustRunJSON(t, &got, "version")
	if got["version"] != version {
		t.Errorf("version = %q, want %q", got["version"], version)
	}

	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "tracegraph version ") {
		t.Errorf("output = %q", out)
	}
}

func TestInitCmd(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	if _, err := runCmd(t, "init", "--root", tmpDir); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, name := range []string{"manifest.yaml", "tracegraph.db"} {
		if _, err := os.Stat(filepath.Join(tmpDir, ".tracegraph", name)); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}

	// Running init twice is harmless.
	if _, err := runCmd(t, "init", "--root", tmpDir); err != nil {
		t.Errorf("second init: %v", err)
	}
}

func TestCommandsRequireInit(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	_, err := runCmd(t, "project", "list", "--root", tmpDir)
	if err == nil || !strings.Contains(err.Error(), "tracegraph init") {
		t.Errorf("error = %v, want hint to run init", err)
	}
}

func TestConfigCmd(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	if _, err := runCmd(t, "config", "set", "history.default_limit", "5"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	var got struct {
		Key   string      `json:"key"`
		Value interface{} `json:"value"`
	}
	mustRunJSON(t, &got, "config", "get", "history.default_limit")
	if got.Value != float64(5) {
		t.Errorf("history.default_limit = %v, want 5", got.Value)
	}

	out, err := runCmd(t, "config", "set", "history.default_limit", "500")
	if err != nil {
		t.Fatalf("config set: %v", err)
	}
	if !strings.HasPrefix(out, "Error:") {
		t.Errorf("out-of-range set output = %q", out)
	}

	out, err = runCmd(t, "config", "get", "nope")
	if err != nil || !strings.Contains(out, "Unknown configuration key") {
		t.Errorf("get unknown = %q, %v", out, err)
	}

	out, err = runCmd(t, "config", "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "history.default_limit:") {
		t.Errorf("config list missing key:\n%s", out)
	}
}

func TestSuspectWorkflow(t *testing.T) {
	root, pid := initProject(t)

	if _, err := runCmd(t, "node", "put", "--root", root, "-p", pid, "-k", "requirement",
		"--id", "REQ_A", "-n", "Output voltage", "--text", "The PSU shall deliver 12 V", "--priority", "shall"); err != nil {
		t.Fatalf("node put A: %v", err)
	}
	if _, err := runCmd(t, "node", "put", "--root", root, "-p", pid, "-k", "requirement",
		"--id", "REQ_B", "-n", "Regulator", "--text", "The regulator shall hold 1%"); err != nil {
		t.Fatalf("node put B: %v", err)
	}
	if _, err := runCmd(t, "edge", "put", "derives", "REQ_A", "REQ_B", "--id", "E1", "-p", pid, "--root", root); err != nil {
		t.Fatalf("edge put: %v", err)
	}

	var put struct {
		HistoryRecorded bool `json:"history_recorded"`
	}
	mustRunJSON(t, &put, "node", "put", "--root", root, "--id", "REQ_A", "--text", "The PSU shall deliver 24 V", "--actor", "alice")
	if !put.HistoryRecorded {
		t.Error("text change was not recorded")
	}

	var suspects struct {
		Suspects []struct {
			ID     string `json:"id"`
			EdgeID string `json:"edge_id"`
		} `json:"suspects"`
		Count int `json:"count"`
	}
	mustRunJSON(t, &suspects, "suspects", pid, "--root", root)
	if suspects.Count != 1 || suspects.Suspects[0].EdgeID != "E1" {
		t.Fatalf("suspects = %+v", suspects)
	}

	var resolved struct {
		ResolvedBy *string `json:"resolved_by"`
	}
	mustRunJSON(t, &resolved, "resolve", suspects.Suspects[0].ID, "--root", root)
	if resolved.ResolvedBy == nil || *resolved.ResolvedBy != "User" {
		t.Errorf("resolved_by = %v, want User", resolved.ResolvedBy)
	}

	mustRunJSON(t, &suspects, "suspects", pid, "--root", root)
	if suspects.Count != 0 {
		t.Errorf("open suspects after resolve = %d", suspects.Count)
	}

	var hist struct {
		Entries []struct {
			Actor  string `json:"actor"`
			Source string `json:"source"`
		} `json:"entries"`
		Count int `json:"count"`
	}
	mustRunJSON(t, &hist, "history", "REQ_A", "--root", root)
	if hist.Count != 2 {
		t.Fatalf("history count = %d, want 2", hist.Count)
	}
	if hist.Entries[0].Actor != "alice" || hist.Entries[0].Source != "manual" {
		t.Errorf("newest entry = %+v", hist.Entries[0])
	}

	var sweep struct {
		Requirements int `json:"requirements"`
		Flagged      int `json:"flagged"`
	}
	mustRunJSON(t, &sweep, "sweep", pid, "--root", root)
	if sweep.Requirements != 2 || sweep.Flagged != 1 {
		t.Errorf("sweep = %+v, want 2 requirements, 1 flagged", sweep)
	}
}

func TestNodePut_Errors(t *testing.T) {
	root, pid := initProject(t)

	if _, err := runCmd(t, "node", "put", "--root", root, "-p", pid, "-k", "block", "--id", "B1", "-n", "PSU"); err != nil {
		t.Fatalf("node put: %v", err)
	}

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing project", []string{"-k", "block", "-n", "X"}, "--project is required"},
		{"missing kind", []string{"-p", pid, "-n", "X"}, "--kind is required"},
		{"bad kind", []string{"-p", pid, "-k", "widget"}, "widget"},
		{"kind change", []string{"--id", "B1", "-k", "port"}, "kind cannot change"},
		{"bad priority", []string{"-p", pid, "-k", "requirement", "--priority", "must"}, "unknown priority"},
		{"unknown project", []string{"-p", "nope", "-k", "block", "-n", "X"}, "not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"node", "put", "--root", root}, tt.args...)
			_, err := runCmd(t, args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestNodePut_File(t *testing.T) {
	root, pid := initProject(t)

	file := filepath.Join(t.TempDir(), "model.yaml")
	content := `project_id: ` + pid + `
id: REQ_1
kind: requirement
name: Output voltage
actor: importer
data:
  text: The PSU shall deliver 12 V
  priority: shall
  allocations: [PSU, FPGA]
---
project_id: ` + pid + `
id: P1
kind: port
name: VOUT
data:
  direction: out
  type_name: Voltage
`
	if err := os.WriteFile(file, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	var res struct {
		Count int `json:"count"`
	}
	mustRunJSON(t, &res, "node", "put", "-f", file, "--root", root)
	if res.Count != 2 {
		t.Fatalf("imported %d nodes, want 2", res.Count)
	}

	var node struct {
		Kind string                 `json:"kind"`
		Data map[string]interface{} `json:"data"`
	}
	mustRunJSON(t, &node, "node", "show", "REQ_1", "--root", root)
	if node.Data["priority"] != "shall" || node.Data["text"] != "The PSU shall deliver 12 V" {
		t.Errorf("requirement data = %v", node.Data)
	}
	mustRunJSON(t, &node, "node", "show", "P1", "--root", root)
	if node.Kind != "port" || node.Data["direction"] != "out" {
		t.Errorf("port = %+v", node)
	}
}

func TestDecodeNodes_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "no nodes"},
		{"no project", "kind: block\nname: X\n", "project_id is required"},
		{"bad kind", "project_id: p\nkind: widget\n", "widget"},
		{"data kind mismatch", "project_id: p\nkind: block\ndata:\n  kind: port\n", "does not match"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeNodes(strings.NewReader(tt.input))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestValidateCmd(t *testing.T) {
	root, pid := initProject(t)

	if _, err := runCmd(t, "node", "put", "--root", root, "-p", pid, "-k", "block", "--id", "B1", "-n", "PSU"); err != nil {
		t.Fatal(err)
	}
	if _, err := runCmd(t, "edge", "put", "satisfies", "B1", "GONE", "-p", pid, "--root", root); err != nil {
		t.Fatal(err)
	}

	var res struct {
		Valid   bool `json:"valid"`
		Summary struct {
			Errors int `json:"errors"`
		} `json:"summary"`
		Issues []struct {
			Code string `json:"code"`
		} `json:"issues"`
		HistoryChecked int `json:"history_checked"`
	}
	mustRunJSON(t, &res, "validate", pid, "--integrity", "--root", root)
	if res.Valid || res.Summary.Errors != 1 || res.Issues[0].Code != "EDGE_DANGLING_TARGET" {
		t.Errorf("validate = %+v", res)
	}

	if _, err := runCmd(t, "validate", pid, "--strict", "--root", root); err == nil {
		t.Error("--strict with errors succeeded")
	}
	if _, err := runCmd(t, "validate", "nope", "--root", root); err == nil || !strings.Contains(err.Error(), "project not found") {
		t.Errorf("unknown project error = %v", err)
	}
}

func TestBaselineCmd(t *testing.T) {
	root, pid := initProject(t)

	if _, err := runCmd(t, "node", "put", "--root", root, "-p", pid, "-k", "block", "--id", "B1", "-n", "PSU"); err != nil {
		t.Fatal(err)
	}
	var b struct {
		ID        string `json:"id"`
		CreatedBy string `json:"created_by"`
	}
	mustRunJSON(t, &b, "baseline", "create", pid, "PDR", "--root", root)
	if b.ID == "" || b.CreatedBy != "User" {
		t.Fatalf("baseline = %+v", b)
	}

	if _, err := runCmd(t, "node", "put", "--root", root, "-p", pid, "-k", "block", "--id", "B2", "-n", "Fan"); err != nil {
		t.Fatal(err)
	}
	if _, err := runCmd(t, "node", "put", "--root", root, "--id", "B1", "-n", "Power supply unit"); err != nil {
		t.Fatal(err)
	}

	var d struct {
		AddedNodes   []string `json:"added_nodes"`
		ChangedNodes []string `json:"changed_nodes"`
	}
	mustRunJSON(t, &d, "baseline", "diff", b.ID, "--root", root)
	if len(d.AddedNodes) != 1 || d.AddedNodes[0] != "B2" {
		t.Errorf("added = %v, want [B2]", d.AddedNodes)
	}
	if len(d.ChangedNodes) != 1 || d.ChangedNodes[0] != "B1" {
		t.Errorf("changed = %v, want [B1]", d.ChangedNodes)
	}

	var list struct {
		Count int `json:"count"`
	}
	mustRunJSON(t, &list, "baseline", "list", pid, "--root", root)
	if list.Count != 1 {
		t.Errorf("baseline count = %d", list.Count)
	}

	if _, err := runCmd(t, "baseline", "delete", b.ID, "--root", root); err != nil {
		t.Fatal(err)
	}
	if _, err := runCmd(t, "baseline", "show", b.ID, "--root", root); err == nil || !strings.Contains(err.Error(), "baseline not found") {
		t.Errorf("show deleted baseline error = %v", err)
	}
}

func TestMCPServerCmd_RejectsStorePathOutsideDataDirs(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	t.Setenv("TRACEGRAPH_DB_PATH", filepath.Join(tmpDir, "elsewhere.db"))

	_, err := runCmd(t, "mcp-server", "--root", tmpDir)
	if err == nil || !strings.Contains(err.Error(), "store.path rejected") {
		t.Errorf("error = %v, want store.path rejection", err)
	}
}

func TestPrintDiff(t *testing.T) {
	var buf bytes.Buffer
	printDiff(&buf, &baseline.Diff{AddedNodes: []string{"N2"}, RemovedEdges: []string{"E1"}})
	want := "+ node N2\n- edge E1\n"
	if buf.String() != want {
		t.Errorf("printDiff() = %q, want %q", buf.String(), want)
	}

	buf.Reset()
	printDiff(&buf, &baseline.Diff{})
	if buf.String() != "No differences\n" {
		t.Errorf("printDiff(empty) = %q", buf.String())
	}
}

func TestBackupCmd(t *testing.T) {
	root, pid := initProject(t)

	if _, err := runCmd(t, "node", "put", "--root", root, "-p", pid, "-k", "requirement",
		"--id", "REQ_A", "-n", "Output voltage", "--text", "The PSU shall deliver 12 V"); err != nil {
		t.Fatal(err)
	}

	var created struct {
		Backup struct {
			Path      string `json:"path"`
			NodeCount int    `json:"node_count"`
		} `json:"backup"`
	}
	mustRunJSON(t, &created, "backup", "create", pid, "--root", root)
	if created.Backup.NodeCount != 1 || created.Backup.Path == "" {
		t.Fatalf("backup create = %+v", created)
	}

	var list struct {
		Count int `json:"count"`
	}
	mustRunJSON(t, &list, "backup", "list", pid, "--root", root)
	if list.Count != 1 {
		t.Errorf("backup count = %d, want 1", list.Count)
	}

	var p struct {
		ID string `json:"id"`
	}
	mustRunJSON(t, &p, "project", "create", "Copy", "--root", root)

	// The source project still exists, so the restore lands as a copy under
	// fresh IDs.
	var res struct {
		NodesRestored int               `json:"nodes_restored"`
		NodesSkipped  int               `json:"nodes_skipped"`
		NodeIDs       map[string]string `json:"node_ids"`
	}
	mustRunJSON(t, &res, "backup", "restore", created.Backup.Path, "-p", p.ID, "--root", root)
	if res.NodesRestored != 1 || res.NodesSkipped != 0 || len(res.NodeIDs) != 1 {
		t.Errorf("restore = %+v", res)
	}
	for _, newID := range res.NodeIDs {
		var copied struct {
			ProjectID string `json:"project_id"`
		}
		mustRunJSON(t, &copied, "node", "show", newID, "--root", root)
		if copied.ProjectID != p.ID {
			t.Errorf("copied node project = %q, want %q", copied.ProjectID, p.ID)
		}
	}

	outside := filepath.Join(t.TempDir(), "out.snap")
	if _, err := runCmd(t, "backup", "create", pid, "-o", outside, "--root", root); err == nil || !strings.Contains(err.Error(), "path rejected") {
		t.Errorf("backup to %s error = %v, want path rejection", outside, err)
	}
}

func TestCommentCmd(t *testing.T) {
	root, pid := initProject(t)
	if _, err := runCmd(t, "node", "put", "--root", root, "-p", pid, "-k", "requirement",
		"--id", "REQ_A", "-n", "Output voltage", "--text", "The PSU shall deliver 12 V"); err != nil {
		t.Fatalf("node put: %v", err)
	}

	var c struct {
		ID     string `json:"id"`
		Author string `json:"author"`
	}
	mustRunJSON(t, &c, "comment", "add", "REQ_A", "-m", "Is 12 V right?", "--root", root)
	if c.ID == "" || c.Author != "User" {
		t.Fatalf("comment add = %+v", c)
	}
	var reply struct {
		ParentID string `json:"parent_id"`
	}
	mustRunJSON(t, &reply, "comment", "add", "REQ_A", "--parent", c.ID, "-m", "Yes", "--author", "bob", "--root", root)
	if reply.ParentID != c.ID {
		t.Errorf("reply parent = %q, want %q", reply.ParentID, c.ID)
	}

	var counts struct {
		Counts map[string]int `json:"counts"`
	}
	mustRunJSON(t, &counts, "comment", "counts", pid, "--root", root)
	if counts.Counts["REQ_A"] != 2 {
		t.Errorf("counts = %v, want REQ_A:2", counts.Counts)
	}

	var resolved struct {
		ResolvedBy *string `json:"resolved_by"`
	}
	mustRunJSON(t, &resolved, "comment", "resolve", c.ID, "--by", "alice", "--root", root)
	if resolved.ResolvedBy == nil || *resolved.ResolvedBy != "alice" {
		t.Errorf("resolved_by = %v, want alice", resolved.ResolvedBy)
	}

	if _, err := runCmd(t, "comment", "delete", c.ID, "--root", root); err != nil {
		t.Fatalf("comment delete: %v", err)
	}
	var list struct {
		Count int `json:"count"`
	}
	mustRunJSON(t, &list, "comment", "list", "REQ_A", "--root", root)
	if list.Count != 0 {
		t.Errorf("comments after delete = %d, want 0", list.Count)
	}

	if _, err := runCmd(t, "comment", "add", "NOPE", "-m", "hi", "--root", root); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("comment on unknown node error = %v", err)
	}
}

func TestReviewCmd(t *testing.T) {
	root, pid := initProject(t)
	for _, id := range []string{"REQ_A", "REQ_B"} {
		if _, err := runCmd(t, "node", "put", "--root", root, "-p", pid, "-k", "requirement",
			"--id", id, "-n", id, "--text", "The PSU shall work"); err != nil {
			t.Fatalf("node put %s: %v", id, err)
		}
	}

	var rs struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Items  []struct {
			ID      string `json:"id"`
			NodeID  string `json:"node_id"`
			Verdict string `json:"verdict"`
		} `json:"items"`
	}
	mustRunJSON(t, &rs, "review", "create", pid, "PDR", "--node", "REQ_A", "--node", "REQ_B", "--root", root)
	if rs.Status != "open" || len(rs.Items) != 2 {
		t.Fatalf("review create = %+v", rs)
	}

	if _, err := runCmd(t, "review", "verdict", rs.Items[0].ID, "needs-changes", "--note", "split", "--root", root); err != nil {
		t.Fatalf("review verdict: %v", err)
	}
	mustRunJSON(t, &rs, "review", "show", rs.ID, "--root", root)
	if rs.Status != "in_progress" || rs.Items[0].Verdict != "needs_changes" {
		t.Errorf("review show = %+v", rs)
	}

	mustRunJSON(t, &rs, "review", "close", rs.ID, "--status", "approved", "--root", root)
	if rs.Status != "approved" {
		t.Errorf("closed status = %q, want approved", rs.Status)
	}
	if _, err := runCmd(t, "review", "verdict", rs.Items[1].ID, "approved", "--root", root); err == nil || !strings.Contains(err.Error(), "closed") {
		t.Errorf("verdict on closed review error = %v", err)
	}

	var list struct {
		Count int `json:"count"`
	}
	mustRunJSON(t, &list, "review", "list", pid, "--root", root)
	if list.Count != 1 {
		t.Errorf("review count = %d, want 1", list.Count)
	}
}
