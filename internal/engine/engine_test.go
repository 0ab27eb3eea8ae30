package engine

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nvandessel/tracegraph/internal/events"
	"github.com/nvandessel/tracegraph/internal/logging"
	"github.com/nvandessel/tracegraph/internal/models"
	"github.com/nvandessel/tracegraph/internal/store"
	"github.com/nvandessel/tracegraph/internal/validation"
)

func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func setupEngine(t *testing.T, propagation bool) (*Engine, string) {
	t.Helper()
	s, err := store.NewSQLiteGraphStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSQLiteGraphStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return setupEngineOn(t, s, Config{Propagation: propagation, Clock: tickingClock()})
}

func setupEngineOn(t *testing.T, s store.GraphStore, cfg Config) (*Engine, string) {
	t.Helper()
	if cfg.Clock == nil {
		cfg.Clock = tickingClock()
	}
	e := New(s, cfg)
	p, err := e.CreateProject(context.Background(), "Power supply", "")
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	return e, p.ID
}

func putRequirement(t *testing.T, e *Engine, projectID, id, text string) *models.RequirementHistoryEntry {
	t.Helper()
	_, entry, err := e.UpsertNode(context.Background(), models.Node{
		ID: id, ProjectID: projectID, Kind: models.NodeKindRequirement, Name: "Requirement " + id,
		Data: models.RequirementData{ReqID: "REQ-" + id, Text: text},
	})
	if err != nil {
		t.Fatalf("UpsertNode(%s) error = %v", id, err)
	}
	return entry
}

func putEdge(t *testing.T, e *Engine, projectID, id string, kind models.EdgeKind, src, tgt string) {
	t.Helper()
	if _, err := e.UpsertEdge(context.Background(), models.Edge{
		ID: id, ProjectID: projectID, Kind: kind, SourceID: src, TargetID: tgt,
	}); err != nil {
		t.Fatalf("UpsertEdge(%s) error = %v", id, err)
	}
}

func TestUpsertNode_ChangedTwiceLeavesOneOpenSuspect(t *testing.T) {
	e, pid := setupEngine(t, true)
	ctx := context.Background()

	putRequirement(t, e, pid, "r1", "A")
	putRequirement(t, e, pid, "r2", "Derived")
	putEdge(t, e, pid, "e1", models.EdgeKindDerives, "r1", "r2")

	if entry := putRequirement(t, e, pid, "r1", "B"); entry == nil {
		t.Fatal("A->B recorded no history")
	}
	putRequirement(t, e, pid, "r1", "C")

	open, err := e.ListOpenSuspects(ctx, pid)
	if err != nil {
		t.Fatalf("ListOpenSuspects() error = %v", err)
	}
	if len(open) != 1 || open[0].EdgeID != "e1" {
		t.Fatalf("open suspects = %+v, want one on e1", open)
	}
	if open[0].FlaggedReason != "requirement updated" {
		t.Errorf("reason = %q", open[0].FlaggedReason)
	}

	entries, err := e.ListHistory(ctx, "r1", 0)
	if err != nil {
		t.Fatalf("ListHistory() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("history entries = %d, want 3", len(entries))
	}
	if entries[0].Prev.Text != "B" || entries[0].Next.Text != "C" {
		t.Errorf("newest entry = %q -> %q, want B -> C", entries[0].Prev.Text, entries[0].Next.Text)
	}

	// Resolve, then a second resolve is still fine.
	if err := e.ResolveSuspect(ctx, open[0].ID, "alice"); err != nil {
		t.Fatalf("ResolveSuspect() error = %v", err)
	}
	if err := e.ResolveSuspect(ctx, open[0].ID, "alice"); err != nil {
		t.Errorf("second ResolveSuspect() error = %v", err)
	}
	if open, _ := e.ListOpenSuspects(ctx, pid); len(open) != 0 {
		t.Errorf("open suspects after resolve = %d, want 0", len(open))
	}
}

func TestUpsertNode_MetadataOnlyEditDoesNotFlag(t *testing.T) {
	e, pid := setupEngine(t, true)
	ctx := context.Background()

	putRequirement(t, e, pid, "r1", "A")
	putRequirement(t, e, pid, "r2", "Derived")
	putEdge(t, e, pid, "e1", models.EdgeKindDerives, "r1", "r2")

	node, err := e.GetNode(ctx, "r1")
	if err != nil {
		t.Fatalf("GetNode() error = %v", err)
	}
	node.Meta = map[string]interface{}{"x": 120.5, "y": 40}
	if _, entry, err := e.UpsertNode(ctx, *node); err != nil || entry != nil {
		t.Fatalf("UpsertNode() = %v, %v; want no entry", entry, err)
	}

	if open, _ := e.ListOpenSuspects(ctx, pid); len(open) != 0 {
		t.Errorf("metadata edit opened %d suspect links", len(open))
	}
	if entries, _ := e.ListHistory(ctx, "r1", 0); len(entries) != 1 {
		t.Errorf("history entries = %d, want 1 (creation only)", len(entries))
	}
}

func TestUpsertNode_PropagationDisabled(t *testing.T) {
	e, pid := setupEngine(t, false)

	putRequirement(t, e, pid, "r1", "A")
	putRequirement(t, e, pid, "r2", "Derived")
	putEdge(t, e, pid, "e1", models.EdgeKindDerives, "r1", "r2")
	putRequirement(t, e, pid, "r1", "B")

	if open, _ := e.ListOpenSuspects(context.Background(), pid); len(open) != 0 {
		t.Errorf("open suspects = %d with propagation disabled", len(open))
	}

	// A manual sweep still reconstructs the flag.
	res, err := e.Sweep(context.Background(), pid, "")
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if res.Flagged != 1 {
		t.Errorf("Sweep() flagged = %d, want 1", res.Flagged)
	}
}

// brokenSuspects fails every suspect insert.
type brokenSuspects struct {
	store.GraphStore
}

func (b brokenSuspects) InsertSuspectIfAbsent(ctx context.Context, link models.SuspectLink) (bool, error) {
	return false, errors.New("suspect table unavailable")
}

func TestUpsertNode_PropagationFailureDoesNotFailWrite(t *testing.T) {
	var buf bytes.Buffer
	s := brokenSuspects{store.NewInMemoryGraphStore()}
	e, pid := setupEngineOn(t, s, Config{
		Propagation: true,
		Logger:      logging.NewLogger("warn", &buf),
	})
	ctx := context.Background()

	putRequirement(t, e, pid, "r1", "A")
	putRequirement(t, e, pid, "r2", "Derived")
	putEdge(t, e, pid, "e1", models.EdgeKindDerives, "r1", "r2")

	_, entry, err := e.UpsertNode(ctx, models.Node{
		ID: "r1", ProjectID: pid, Kind: models.NodeKindRequirement, Name: "Requirement r1",
		Data: models.RequirementData{ReqID: "REQ-r1", Text: "B"},
	})
	if err != nil {
		t.Fatalf("UpsertNode() error = %v, want success despite propagation failure", err)
	}
	if entry == nil || entry.Next.Text != "B" {
		t.Errorf("entry = %+v, want text B recorded", entry)
	}

	got, _ := e.GetNode(ctx, "r1")
	if req, _ := got.Requirement(); req.Text != "B" {
		t.Errorf("stored text = %q, want B", req.Text)
	}
	if !strings.Contains(buf.String(), "suspect table unavailable") {
		t.Errorf("propagation failure not logged: %s", buf.String())
	}
}

// flakySuspects fails suspect inserts while down is set.
type flakySuspects struct {
	store.GraphStore
	down bool
}

func (f *flakySuspects) InsertSuspectIfAbsent(ctx context.Context, link models.SuspectLink) (bool, error) {
	if f.down {
		return false, errors.New("suspect table unavailable")
	}
	return f.GraphStore.InsertSuspectIfAbsent(ctx, link)
}

func TestUpsertNode_ResaveDoesNotRepairLostFlag(t *testing.T) {
	s := &flakySuspects{GraphStore: store.NewInMemoryGraphStore()}
	e, pid := setupEngineOn(t, s, Config{Propagation: true, Logger: logging.NewLogger("error", &bytes.Buffer{})})
	ctx := context.Background()

	putRequirement(t, e, pid, "r1", "A")
	putRequirement(t, e, pid, "r2", "Derived")
	putEdge(t, e, pid, "e1", models.EdgeKindDerives, "r1", "r2")

	s.down = true
	putRequirement(t, e, pid, "r1", "B")
	s.down = false

	if entry := putRequirement(t, e, pid, "r1", "B"); entry != nil {
		t.Fatalf("unchanged re-save recorded %+v", entry)
	}
	if open, _ := e.ListOpenSuspects(ctx, pid); len(open) != 0 {
		t.Fatalf("re-save raised %d suspects, want 0", len(open))
	}

	res, err := e.Sweep(ctx, pid, "")
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if res.Flagged != 1 {
		t.Errorf("Sweep() flagged %d, want 1", res.Flagged)
	}
	if open, _ := e.ListOpenSuspects(ctx, pid); len(open) != 1 || open[0].EdgeID != "e1" {
		t.Errorf("open suspects after sweep = %+v", open)
	}
}

func TestUpsertNode_StampsIDsAndDefaults(t *testing.T) {
	e, pid := setupEngine(t, false)
	ctx := context.Background()

	n, _, err := e.UpsertNode(ctx, models.Node{ProjectID: pid, Kind: models.NodeKindPort, Name: "Vin"})
	if err != nil {
		t.Fatalf("UpsertNode() error = %v", err)
	}
	if n.ID == "" || n.CreatedAt.IsZero() || n.ModifiedAt.IsZero() {
		t.Errorf("node not stamped: %+v", n)
	}
	port, ok := n.Data.(models.PortData)
	if !ok || port.Direction != models.PortInOut {
		t.Errorf("Data = %#v, want default port data", n.Data)
	}

	again, _, err := e.UpsertNode(ctx, *n)
	if err != nil {
		t.Fatalf("re-save error = %v", err)
	}
	if !again.CreatedAt.Equal(n.CreatedAt) || !again.ModifiedAt.After(n.ModifiedAt) {
		t.Errorf("re-save timestamps created=%v modified=%v", again.CreatedAt, again.ModifiedAt)
	}

	if _, _, err := e.UpsertNode(ctx, models.Node{ProjectID: pid, Kind: "widget"}); err == nil {
		t.Error("UpsertNode() with unknown kind succeeded")
	}
	if _, err := e.UpsertEdge(ctx, models.Edge{ProjectID: pid, Kind: models.EdgeKindTraces, SourceID: n.ID}); err == nil {
		t.Error("UpsertEdge() without target succeeded")
	}
}

func TestUpsertNode_KeepsStoredCreatedAt(t *testing.T) {
	e, pid := setupEngine(t, false)
	ctx := context.Background()

	first, _, err := e.UpsertNode(ctx, models.Node{ID: "b1", ProjectID: pid, Kind: models.NodeKindBlock, Name: "PSU"})
	if err != nil {
		t.Fatalf("UpsertNode() error = %v", err)
	}

	// A rewrite from a file carries no creation time, or a wrong one.
	for _, created := range []time.Time{{}, time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)} {
		saved, _, err := e.UpsertNode(ctx, models.Node{
			ID: "b1", ProjectID: pid, Kind: models.NodeKindBlock, Name: "PSU v2", CreatedAt: created,
		})
		if err != nil {
			t.Fatalf("UpsertNode() rewrite error = %v", err)
		}
		if !saved.CreatedAt.Equal(first.CreatedAt) {
			t.Errorf("returned CreatedAt = %v, want stored %v", saved.CreatedAt, first.CreatedAt)
		}
		stored, _ := e.GetNode(ctx, "b1")
		if !stored.CreatedAt.Equal(first.CreatedAt) {
			t.Errorf("stored CreatedAt = %v, want %v", stored.CreatedAt, first.CreatedAt)
		}
	}
}

func TestGraph_DeduplicatesAndSorts(t *testing.T) {
	e, pid := setupEngine(t, false)
	ctx := context.Background()

	putRequirement(t, e, pid, "r1", "A")
	putRequirement(t, e, pid, "r2", "B")
	putRequirement(t, e, pid, "r3", "C")
	putEdge(t, e, pid, "e2", models.EdgeKindRefines, "r2", "r1")
	putEdge(t, e, pid, "e1", models.EdgeKindDerives, "r1", "r2")
	putEdge(t, e, pid, "e3", models.EdgeKindTraces, "r3", "r1")

	g, err := e.Graph(ctx, pid)
	if err != nil {
		t.Fatalf("Graph() error = %v", err)
	}
	if len(g.Nodes) != 3 {
		t.Errorf("nodes = %d, want 3", len(g.Nodes))
	}
	var ids []string
	for _, edge := range g.Edges {
		ids = append(ids, edge.ID)
	}
	if got := strings.Join(ids, ","); got != "e1,e2,e3" {
		t.Errorf("edges = %s, want e1,e2,e3", got)
	}

	if _, err := e.Graph(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Graph(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestValidate_ReportsAndPublishes(t *testing.T) {
	e, pid := setupEngine(t, false)
	ctx := context.Background()

	for _, id := range []string{"b1", "b2"} {
		if _, _, err := e.UpsertNode(ctx, models.Node{ID: id, ProjectID: pid, Kind: models.NodeKindBlock, Name: id}); err != nil {
			t.Fatalf("UpsertNode(%s) error = %v", id, err)
		}
	}
	putEdge(t, e, pid, "e1", models.EdgeKindSatisfies, "b1", "b2")

	var published validation.Summary
	e.Bus().Subscribe(events.TopicValidationUpdated, "capture", func(ctx context.Context, ev events.Event) error {
		published = ev.Payload.(validation.Summary)
		return nil
	})

	issues, err := e.Validate(ctx, pid)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	var wrongTarget []validation.Issue
	for _, is := range issues {
		if is.Code == validation.CodeSatisfiesWrongTarget {
			wrongTarget = append(wrongTarget, is)
		}
	}
	if len(wrongTarget) != 1 || wrongTarget[0].NodeID != "b2" {
		t.Errorf("SATISFIES_WRONG_TARGET issues = %+v, want one on b2", wrongTarget)
	}
	if published.Errors != 1 {
		t.Errorf("published summary = %+v, want 1 error", published)
	}
}

func TestListHistory_Limits(t *testing.T) {
	s := store.NewInMemoryGraphStore()
	e, pid := setupEngineOn(t, s, Config{HistoryLimit: 3})

	for i := 0; i < 5; i++ {
		putRequirement(t, e, pid, "r1", strings.Repeat("x", i+1))
	}

	tests := []struct {
		limit int
		want  int
	}{
		{0, 3},   // configured default
		{-7, 3},  // omitted
		{2, 2},   // honored
		{500, 5}, // clamped to 200, only 5 exist
	}
	for _, tt := range tests {
		entries, err := e.ListHistory(context.Background(), "r1", tt.limit)
		if err != nil {
			t.Fatalf("ListHistory(%d) error = %v", tt.limit, err)
		}
		if len(entries) != tt.want {
			t.Errorf("ListHistory(%d) = %d entries, want %d", tt.limit, len(entries), tt.want)
		}
	}
}

func TestProjectsAndDeletes(t *testing.T) {
	e, pid := setupEngine(t, false)
	ctx := context.Background()

	if _, err := e.CreateProject(ctx, "  ", ""); err == nil {
		t.Error("CreateProject() with blank name succeeded")
	}
	projects, err := e.ListProjects(ctx)
	if err != nil || len(projects) != 1 {
		t.Fatalf("ListProjects() = %d, %v; want 1", len(projects), err)
	}

	putRequirement(t, e, pid, "r1", "A")
	putRequirement(t, e, pid, "r2", "B")
	putEdge(t, e, pid, "e1", models.EdgeKindDerives, "r1", "r2")

	if err := e.DeleteEdge(ctx, "e1"); err != nil {
		t.Fatalf("DeleteEdge() error = %v", err)
	}
	if err := e.DeleteNode(ctx, "r2"); err != nil {
		t.Fatalf("DeleteNode() error = %v", err)
	}
	if _, err := e.GetNode(ctx, "r2"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetNode(deleted) error = %v, want ErrNotFound", err)
	}
	if _, err := e.Sweep(ctx, "missing", ""); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Sweep(unknown project) error = %v, want ErrNotFound", err)
	}

	if err := e.DeleteProject(ctx, pid); err != nil {
		t.Fatalf("DeleteProject() error = %v", err)
	}
	if _, err := e.GetProject(ctx, pid); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetProject(deleted) error = %v, want ErrNotFound", err)
	}
}
