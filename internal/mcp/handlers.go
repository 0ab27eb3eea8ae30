package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/tracegraph/internal/history"
	"github.com/nvandessel/tracegraph/internal/models"
	"github.com/nvandessel/tracegraph/internal/ratelimit"
	"github.com/nvandessel/tracegraph/internal/sanitize"
	"github.com/nvandessel/tracegraph/internal/store"
	"github.com/nvandessel/tracegraph/internal/validation"
)

// DefaultActor is recorded on requirement history for assistant writes
// that name no actor.
const DefaultActor = "assistant"

// registerTools registers all tracegraph MCP tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ratelimit.ToolValidate,
		Description: "Check a project's traceability graph for integrity issues (dangling edges, wrong satisfies/verifies endpoints, port type mismatches, requirements without text or verification)",
	}, s.handleValidate)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ratelimit.ToolGraph,
		Description: "Return the nodes and edges of a project, optionally only nodes of one kind",
	}, s.handleGraph)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ratelimit.ToolHistory,
		Description: "List recorded changes to a requirement, newest first",
	}, s.handleHistory)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ratelimit.ToolSuspects,
		Description: "List unresolved suspect links: trace edges whose source requirement changed since the link was last reviewed",
	}, s.handleSuspects)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ratelimit.ToolResolve,
		Description: "Mark a suspect link as reviewed. Resolving an already resolved link keeps the first resolution",
	}, s.handleResolve)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ratelimit.ToolSweep,
		Description: "Re-flag every derivation edge leaving a requirement in the project for review",
	}, s.handleSweep)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ratelimit.ToolUpsertNode,
		Description: "Create or update a node. Requirement changes are recorded in history and flag downstream links as suspect",
	}, s.handleUpsertNode)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ratelimit.ToolUpsertEdge,
		Description: "Create or update a traceability edge between two nodes",
	}, s.handleUpsertEdge)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ratelimit.ToolComment,
		Description: "Comment on a node, or reply to an existing comment on it",
	}, s.handleComment)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ratelimit.ToolComments,
		Description: "List a node's comment thread (node_id), or count open comments per node of a project (project_id)",
	}, s.handleComments)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ratelimit.ToolResolveComment,
		Description: "Mark a comment resolved. Resolving an already resolved comment keeps the first resolution",
	}, s.handleResolveComment)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ratelimit.ToolReviews,
		Description: "List a project's review sessions with their verdicts (project_id), or return one session (review_id)",
	}, s.handleReviews)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ratelimit.ToolReviewVerdict,
		Description: "Record approved, rejected or needs_changes on one item of an open review session",
	}, s.handleReviewVerdict)
}

// registerResources registers MCP resources for loading into context.
func (s *Server) registerResources() {
	s.server.AddResource(&sdk.Resource{
		URI:         projectsURI,
		Name:        "tracegraph-projects",
		Description: "Projects in this workspace with their IDs.",
		MIMEType:    "text/markdown",
	}, s.handleProjectsResource)

	s.server.AddResourceTemplate(&sdk.ResourceTemplate{
		URITemplate: suspectsURIPrefix + "{id}",
		Name:        "tracegraph-suspects",
		Description: "Open suspect links of a project that need engineering review.",
		MIMEType:    "text/markdown",
	}, s.handleSuspectsResource)
}

const (
	projectsURI       = "tracegraph://projects"
	suspectsURIPrefix = "tracegraph://suspects/"
)

// handleProjectsResource lists projects as markdown.
func (s *Server) handleProjectsResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	projects, err := s.engine.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("# Projects\n\n")
	if len(projects) == 0 {
		sb.WriteString("No projects yet. Create one with `tracegraph project create`.\n")
	}
	for _, p := range projects {
		sb.WriteString(fmt.Sprintf("- **%s** (`%s`)", p.Name, p.ID))
		if p.Description != "" {
			sb.WriteString(": " + p.Description)
		}
		sb.WriteString("\n")
	}

	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{
			{URI: projectsURI, MIMEType: "text/markdown", Text: sb.String()},
		},
	}, nil
}

// handleSuspectsResource renders a project's open suspect links.
// URI format: tracegraph://suspects/{id}
func (s *Server) handleSuspectsResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	uri := req.Params.URI
	if !strings.HasPrefix(uri, suspectsURIPrefix) {
		return nil, fmt.Errorf("invalid URI format: %s", uri)
	}
	projectID := strings.TrimPrefix(uri, suspectsURIPrefix)
	if projectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}

	project, err := s.engine.GetProject(ctx, projectID)
	if err != nil {
		return nil, notFound("project", projectID, err)
	}
	links, err := s.engine.ListOpenSuspects(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list suspects: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Suspect links: %s\n\n", project.Name))
	if len(links) == 0 {
		sb.WriteString("All trace links are up to date.\n")
	}
	for _, l := range links {
		sb.WriteString(fmt.Sprintf("- `%s` edge `%s`: %s -> %s (%s, %s)\n",
			l.ID, l.EdgeID, l.SourceID, l.TargetID, l.FlaggedReason, l.FlaggedAt.Format(time.RFC3339)))
	}

	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{
			{URI: uri, MIMEType: "text/markdown", Text: sb.String()},
		},
	}, nil
}

// handleValidate implements the tracegraph_validate tool.
func (s *Server) handleValidate(ctx context.Context, req *sdk.CallToolRequest, args ValidateInput) (_ *sdk.CallToolResult, _ ValidateOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ratelimit.ToolValidate, start, retErr, sanitizeToolParams(map[string]interface{}{
			"project_id": args.ProjectID,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, ratelimit.ToolValidate); err != nil {
		return nil, ValidateOutput{}, err
	}
	if args.ProjectID == "" {
		return nil, ValidateOutput{}, fmt.Errorf("'project_id' parameter is required")
	}

	issues, err := s.engine.Validate(ctx, args.ProjectID)
	if err != nil {
		return nil, ValidateOutput{}, notFound("project", args.ProjectID, err)
	}

	summary := validation.Summarize(issues)
	out := ValidateOutput{
		Valid:    summary.Errors == 0,
		Errors:   summary.Errors,
		Warnings: summary.Warnings,
		Infos:    summary.Infos,
		Issues:   make([]IssueOutput, len(issues)),
	}
	for i, is := range issues {
		out.Issues[i] = IssueOutput{
			Severity: string(is.Severity),
			Code:     is.Code,
			Message:  is.Message,
			NodeID:   is.NodeID,
			EdgeID:   is.EdgeID,
		}
	}
	return nil, out, nil
}

// handleGraph implements the tracegraph_graph tool.
func (s *Server) handleGraph(ctx context.Context, req *sdk.CallToolRequest, args GraphInput) (_ *sdk.CallToolResult, _ GraphOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ratelimit.ToolGraph, start, retErr, sanitizeToolParams(map[string]interface{}{
			"project_id": args.ProjectID,
			"kind":       args.Kind,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, ratelimit.ToolGraph); err != nil {
		return nil, GraphOutput{}, err
	}
	if args.ProjectID == "" {
		return nil, GraphOutput{}, fmt.Errorf("'project_id' parameter is required")
	}

	var kind models.NodeKind
	if args.Kind != "" {
		k, err := models.ParseNodeKind(args.Kind)
		if err != nil {
			return nil, GraphOutput{}, err
		}
		kind = k
	}

	g, err := s.engine.Graph(ctx, args.ProjectID)
	if err != nil {
		return nil, GraphOutput{}, notFound("project", args.ProjectID, err)
	}

	out := GraphOutput{
		Nodes: make([]NodeOutput, 0, len(g.Nodes)),
		Edges: make([]EdgeOutput, 0, len(g.Edges)),
	}
	for _, n := range g.Nodes {
		if kind != "" && n.Kind != kind {
			continue
		}
		out.Nodes = append(out.Nodes, nodeOutput(n))
	}
	for _, e := range g.Edges {
		out.Edges = append(out.Edges, edgeOutput(e))
	}
	out.NodeCount = len(out.Nodes)
	out.EdgeCount = len(out.Edges)
	return nil, out, nil
}

// handleHistory implements the tracegraph_history tool.
func (s *Server) handleHistory(ctx context.Context, req *sdk.CallToolRequest, args HistoryInput) (_ *sdk.CallToolResult, _ HistoryOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ratelimit.ToolHistory, start, retErr, sanitizeToolParams(map[string]interface{}{
			"node_id": args.NodeID,
			"limit":   args.Limit,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, ratelimit.ToolHistory); err != nil {
		return nil, HistoryOutput{}, err
	}
	if args.NodeID == "" {
		return nil, HistoryOutput{}, fmt.Errorf("'node_id' parameter is required")
	}

	entries, err := s.engine.ListHistory(ctx, args.NodeID, args.Limit)
	if err != nil {
		return nil, HistoryOutput{}, fmt.Errorf("failed to read history: %w", err)
	}

	out := HistoryOutput{
		NodeID:  args.NodeID,
		Entries: make([]HistoryEntryOutput, len(entries)),
		Count:   len(entries),
	}
	for i, e := range entries {
		changed := history.ChangedFields(e.Prev, e.Next)
		if changed == nil {
			changed = []string{}
		}
		out.Entries[i] = HistoryEntryOutput{
			ID:        e.ID,
			Timestamp: e.Timestamp,
			Actor:     e.Actor,
			Source:    string(e.Source),
			Changed:   changed,
			PrevText:  e.Prev.Text,
			NextText:  e.Next.Text,
		}
	}
	return nil, out, nil
}

// handleSuspects implements the tracegraph_suspects tool.
func (s *Server) handleSuspects(ctx context.Context, req *sdk.CallToolRequest, args SuspectsInput) (_ *sdk.CallToolResult, _ SuspectsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ratelimit.ToolSuspects, start, retErr, sanitizeToolParams(map[string]interface{}{
			"project_id": args.ProjectID,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, ratelimit.ToolSuspects); err != nil {
		return nil, SuspectsOutput{}, err
	}
	if args.ProjectID == "" {
		return nil, SuspectsOutput{}, fmt.Errorf("'project_id' parameter is required")
	}
	if _, err := s.engine.GetProject(ctx, args.ProjectID); err != nil {
		return nil, SuspectsOutput{}, notFound("project", args.ProjectID, err)
	}

	links, err := s.engine.ListOpenSuspects(ctx, args.ProjectID)
	if err != nil {
		return nil, SuspectsOutput{}, fmt.Errorf("failed to list suspects: %w", err)
	}

	out := SuspectsOutput{
		Suspects: make([]SuspectOutput, len(links)),
		Count:    len(links),
	}
	for i, l := range links {
		out.Suspects[i] = SuspectOutput{
			ID:        l.ID,
			EdgeID:    l.EdgeID,
			SourceID:  l.SourceID,
			TargetID:  l.TargetID,
			FlaggedAt: l.FlaggedAt,
			Reason:    l.FlaggedReason,
		}
	}
	return nil, out, nil
}

// handleResolve implements the tracegraph_resolve tool.
func (s *Server) handleResolve(ctx context.Context, req *sdk.CallToolRequest, args ResolveInput) (_ *sdk.CallToolResult, _ ResolveOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ratelimit.ToolResolve, start, retErr, sanitizeToolParams(map[string]interface{}{
			"suspect_id":  args.SuspectID,
			"resolved_by": args.ResolvedBy,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, ratelimit.ToolResolve); err != nil {
		return nil, ResolveOutput{}, err
	}
	if args.SuspectID == "" {
		return nil, ResolveOutput{}, fmt.Errorf("'suspect_id' parameter is required")
	}

	if err := s.engine.ResolveSuspect(ctx, args.SuspectID, sanitize.Label(args.ResolvedBy)); err != nil {
		return nil, ResolveOutput{}, notFound("suspect link", args.SuspectID, err)
	}
	link, err := s.engine.Store().GetSuspect(ctx, args.SuspectID)
	if err != nil {
		return nil, ResolveOutput{}, notFound("suspect link", args.SuspectID, err)
	}

	out := ResolveOutput{
		SuspectID: link.ID,
		Message:   fmt.Sprintf("Suspect link %s resolved", link.ID),
	}
	if link.ResolvedAt != nil {
		out.ResolvedAt = *link.ResolvedAt
	}
	if link.ResolvedBy != nil {
		out.ResolvedBy = *link.ResolvedBy
	}
	return nil, out, nil
}

// handleSweep implements the tracegraph_sweep tool.
func (s *Server) handleSweep(ctx context.Context, req *sdk.CallToolRequest, args SweepInput) (_ *sdk.CallToolResult, _ SweepOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ratelimit.ToolSweep, start, retErr, sanitizeToolParams(map[string]interface{}{
			"project_id": args.ProjectID,
			"reason":     args.Reason,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, ratelimit.ToolSweep); err != nil {
		return nil, SweepOutput{}, err
	}
	if args.ProjectID == "" {
		return nil, SweepOutput{}, fmt.Errorf("'project_id' parameter is required")
	}

	res, err := s.engine.Sweep(ctx, args.ProjectID, sanitize.Label(args.Reason))
	if err != nil {
		return nil, SweepOutput{}, notFound("project", args.ProjectID, err)
	}

	return nil, SweepOutput{
		Requirements: res.Requirements,
		Flagged:      res.Flagged,
		Failed:       res.Failed,
		Message: fmt.Sprintf("Checked %d requirement(s), flagged %d link(s) for review",
			res.Requirements, res.Flagged),
	}, nil
}

// handleUpsertNode implements the tracegraph_upsert_node tool.
func (s *Server) handleUpsertNode(ctx context.Context, req *sdk.CallToolRequest, args UpsertNodeInput) (_ *sdk.CallToolResult, _ UpsertNodeOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ratelimit.ToolUpsertNode, start, retErr, sanitizeToolParams(map[string]interface{}{
			"project_id":  args.ProjectID,
			"id":          args.ID,
			"kind":        args.Kind,
			"name":        args.Name,
			"description": args.Description,
			"actor":       args.Actor,
			"text":        args.Text,
			"rationale":   args.Rationale,
			"priority":    args.Priority,
			"status":      args.Status,
			"allocations": args.Allocations,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, ratelimit.ToolUpsertNode); err != nil {
		return nil, UpsertNodeOutput{}, err
	}
	if args.ProjectID == "" {
		return nil, UpsertNodeOutput{}, fmt.Errorf("'project_id' parameter is required")
	}
	kind, err := models.ParseNodeKind(args.Kind)
	if err != nil {
		return nil, UpsertNodeOutput{}, err
	}

	node, created, err := s.loadNode(ctx, args.ProjectID, args.ID, kind)
	if err != nil {
		return nil, UpsertNodeOutput{}, err
	}
	if err := applyNodeInput(node, args); err != nil {
		return nil, UpsertNodeOutput{}, err
	}

	saved, entry, err := s.engine.UpsertNode(ctx, *node)
	if err != nil {
		return nil, UpsertNodeOutput{}, fmt.Errorf("failed to save node: %w", err)
	}

	out := UpsertNodeOutput{
		Node:            nodeOutput(*saved),
		Created:         created,
		HistoryRecorded: entry != nil,
	}
	switch {
	case created:
		out.Message = fmt.Sprintf("Created %s %s", saved.Kind, saved.ID)
	case entry != nil:
		out.Message = fmt.Sprintf("Updated %s %s; change recorded and downstream links flagged for review", saved.Kind, saved.ID)
	default:
		out.Message = fmt.Sprintf("Updated %s %s", saved.Kind, saved.ID)
	}
	return nil, out, nil
}

// loadNode returns the stored node to update, or a fresh node when id is
// empty or unknown.
func (s *Server) loadNode(ctx context.Context, projectID, id string, kind models.NodeKind) (*models.Node, bool, error) {
	if id != "" {
		existing, err := s.engine.GetNode(ctx, id)
		switch {
		case err == nil:
			if existing.ProjectID != projectID {
				return nil, false, fmt.Errorf("node %s belongs to another project", id)
			}
			if existing.Kind != kind {
				return nil, false, fmt.Errorf("node %s is a %s; kind cannot change", id, existing.Kind)
			}
			return existing, false, nil
		case !errors.Is(err, store.ErrNotFound):
			return nil, false, fmt.Errorf("failed to load node: %w", err)
		}
	}
	if _, err := s.engine.GetProject(ctx, projectID); err != nil {
		return nil, false, notFound("project", projectID, err)
	}
	return &models.Node{ID: id, ProjectID: projectID, Kind: kind}, true, nil
}

// applyNodeInput overlays the non-empty fields of args on node and marks
// the write as AI-originated.
func applyNodeInput(node *models.Node, args UpsertNodeInput) error {
	if v := sanitize.Label(args.Name); v != "" {
		node.Name = v
	}
	if v := sanitize.Text(args.Description); v != "" {
		node.Description = v
	}

	meta := make(map[string]interface{}, len(node.Meta)+2)
	for k, v := range node.Meta {
		meta[k] = v
	}
	actor := sanitize.Label(args.Actor)
	if actor == "" {
		actor = DefaultActor
	}
	meta["actor"] = actor
	meta["change_source"] = string(models.ChangeSourceAI)
	node.Meta = meta

	if node.Kind != models.NodeKindRequirement {
		return nil
	}

	req, ok := node.Requirement()
	if !ok {
		req = models.RequirementData{Priority: models.PriorityShould, Status: models.StatusDraft}
	}
	if v := sanitize.Label(args.ReqID); v != "" {
		req.ReqID = v
	}
	if v := sanitize.Text(args.Text); v != "" {
		req.Text = v
	}
	if v := sanitize.Text(args.Rationale); v != "" {
		req.Rationale = v
	}
	if v := sanitize.Label(args.Source); v != "" {
		req.Source = v
	}
	if args.Priority != "" {
		p, err := models.ParsePriority(args.Priority)
		if err != nil {
			return err
		}
		req.Priority = p
	}
	if args.Status != "" {
		st, err := models.ParseStatus(args.Status)
		if err != nil {
			return err
		}
		req.Status = st
	}
	if args.VerificationMethod != "" {
		m, err := models.ParseVerificationMethod(args.VerificationMethod)
		if err != nil {
			return err
		}
		req.VerificationMethod = m
	}
	if args.Allocations != nil {
		req.Allocations = sanitize.Labels(args.Allocations)
	}
	node.Data = req
	return nil
}

// handleUpsertEdge implements the tracegraph_upsert_edge tool.
func (s *Server) handleUpsertEdge(ctx context.Context, req *sdk.CallToolRequest, args UpsertEdgeInput) (_ *sdk.CallToolResult, _ UpsertEdgeOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ratelimit.ToolUpsertEdge, start, retErr, sanitizeToolParams(map[string]interface{}{
			"project_id": args.ProjectID,
			"id":         args.ID,
			"kind":       args.Kind,
			"source_id":  args.SourceID,
			"target_id":  args.TargetID,
			"label":      args.Label,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, ratelimit.ToolUpsertEdge); err != nil {
		return nil, UpsertEdgeOutput{}, err
	}
	if args.ProjectID == "" {
		return nil, UpsertEdgeOutput{}, fmt.Errorf("'project_id' parameter is required")
	}
	if args.SourceID == "" || args.TargetID == "" {
		return nil, UpsertEdgeOutput{}, fmt.Errorf("'source_id' and 'target_id' parameters are required")
	}
	kind, err := models.ParseEdgeKind(args.Kind)
	if err != nil {
		return nil, UpsertEdgeOutput{}, err
	}
	if _, err := s.engine.GetProject(ctx, args.ProjectID); err != nil {
		return nil, UpsertEdgeOutput{}, notFound("project", args.ProjectID, err)
	}

	edge := models.Edge{ID: args.ID, ProjectID: args.ProjectID}
	if args.ID != "" {
		existing, err := s.engine.Store().GetEdge(ctx, args.ID)
		switch {
		case err == nil:
			if existing.ProjectID != args.ProjectID {
				return nil, UpsertEdgeOutput{}, fmt.Errorf("edge %s belongs to another project", args.ID)
			}
			edge = *existing
		case !errors.Is(err, store.ErrNotFound):
			return nil, UpsertEdgeOutput{}, fmt.Errorf("failed to load edge: %w", err)
		}
	}
	edge.Kind = kind
	edge.SourceID = args.SourceID
	edge.TargetID = args.TargetID
	edge.Label = sanitize.Label(args.Label)

	saved, err := s.engine.UpsertEdge(ctx, edge)
	if err != nil {
		return nil, UpsertEdgeOutput{}, fmt.Errorf("failed to save edge: %w", err)
	}
	return nil, UpsertEdgeOutput{
		Edge:    edgeOutput(*saved),
		Message: fmt.Sprintf("Saved %s edge %s -> %s", saved.Kind, saved.SourceID, saved.TargetID),
	}, nil
}

// notFound rewrites a store.ErrNotFound into a message naming the missing
// record and wraps anything else.
func notFound(what, id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s %s not found", what, id)
	}
	return fmt.Errorf("%s %s: %w", what, id, err)
}

func nodeOutput(n models.Node) NodeOutput {
	out := NodeOutput{
		ID:          n.ID,
		Kind:        string(n.Kind),
		Name:        n.Name,
		Description: n.Description,
		ModifiedAt:  n.ModifiedAt,
	}
	if n.Data == nil {
		return out
	}
	raw, err := models.EncodeData(n.Data)
	if err != nil {
		return out
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return out
	}
	delete(fields, "kind")
	if len(fields) > 0 {
		out.Data = fields
	}
	return out
}

func edgeOutput(e models.Edge) EdgeOutput {
	return EdgeOutput{
		ID:       e.ID,
		Kind:     string(e.Kind),
		SourceID: e.SourceID,
		TargetID: e.TargetID,
		Label:    e.Label,
	}
}
