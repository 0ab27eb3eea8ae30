package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/tracegraph/internal/history"
	"github.com/nvandessel/tracegraph/internal/models"
	"github.com/nvandessel/tracegraph/internal/store"
)

// DefaultCLIActor is recorded on CLI writes that name no actor.
const DefaultCLIActor = "User"

// nodeDocument is one node in a YAML or JSON import file. Data holds the
// kind-specific fields, e.g. text and priority for a requirement.
type nodeDocument struct {
	ID          string                 `yaml:"id"`
	ProjectID   string                 `yaml:"project_id"`
	Kind        string                 `yaml:"kind"`
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	Actor       string                 `yaml:"actor"`
	Data        map[string]interface{} `yaml:"data"`
}

func newNodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Write, show and delete model nodes",
	}
	cmd.AddCommand(
		newNodePutCmd(),
		newNodeShowCmd(),
		newNodeDeleteCmd(),
	)
	return cmd
}

func newNodePutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put",
		Short: "Create or update a node",
		Long: `Create or update a node from flags or from a YAML/JSON file.

When --id names an existing node, only the flags you pass are changed.
A file may hold several YAML documents, one node each.

Examples:
  tracegraph node put --project P --kind requirement --name "Output voltage" \
      --text "The PSU shall deliver 12 V" --priority shall
  tracegraph node put --id N --priority may --actor alice
  tracegraph node put -f model.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var nodes []models.Node
			if file != "" {
				nodes, err = readNodeFile(file)
			} else {
				var n models.Node
				n, err = nodeFromFlags(cmd, a)
				nodes = []models.Node{n}
			}
			if err != nil {
				return err
			}

			results := make([]map[string]interface{}, 0, len(nodes))
			for _, n := range nodes {
				saved, entry, err := a.engine.UpsertNode(cmd.Context(), n)
				if err != nil {
					return fmt.Errorf("node %s: %w", n.Name, err)
				}
				results = append(results, map[string]interface{}{
					"node":             saved,
					"history_recorded": entry != nil,
				})
				if !jsonOutput(cmd) {
					fmt.Fprintf(cmd.OutOrStdout(), "Saved %s %s (%s)", saved.Kind, saved.Name, saved.ID)
					if entry != nil {
						fmt.Fprintf(cmd.OutOrStdout(), " [history: %s]", strings.Join(history.ChangedFields(entry.Prev, entry.Next), ", "))
					}
					fmt.Fprintln(cmd.OutOrStdout())
				}
			}

			if jsonOutput(cmd) {
				if len(results) == 1 {
					return writeJSON(cmd.OutOrStdout(), results[0])
				}
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"nodes": results, "count": len(results)})
			}
			return nil
		},
	}

	cmd.Flags().StringP("file", "f", "", "Read nodes from a YAML or JSON file")
	cmd.Flags().String("id", "", "Node ID (generated when empty)")
	cmd.Flags().StringP("project", "p", "", "Project ID")
	cmd.Flags().StringP("kind", "k", "", "Node kind (requirement, block, port, ...)")
	cmd.Flags().StringP("name", "n", "", "Node name")
	cmd.Flags().String("description", "", "Node description")
	cmd.Flags().String("actor", "", "Who is making the change (default \"User\")")
	cmd.Flags().String("req-id", "", "Requirement identifier, e.g. REQ-001")
	cmd.Flags().String("text", "", "Requirement text")
	cmd.Flags().String("rationale", "", "Requirement rationale")
	cmd.Flags().String("priority", "", "Requirement priority: shall, should, may")
	cmd.Flags().String("status", "", "Requirement status: draft, approved, obsolete")
	cmd.Flags().String("verification", "", "Verification method: analysis, test, inspection, demonstration")
	cmd.Flags().String("source", "", "Requirement source document")
	cmd.Flags().StringSlice("allocation", nil, "Subsystem allocation (repeatable)")
	return cmd
}

// nodeFromFlags builds a node from put flags, overlaying an existing node
// when --id names one.
func nodeFromFlags(cmd *cobra.Command, a *app) (models.Node, error) {
	flags := cmd.Flags()
	id, _ := flags.GetString("id")
	projectID, _ := flags.GetString("project")
	kindText, _ := flags.GetString("kind")

	var node models.Node
	if id != "" {
		existing, err := a.engine.GetNode(cmd.Context(), id)
		switch {
		case err == nil:
			node = *existing
		case !errors.Is(err, store.ErrNotFound):
			return node, err
		}
	}

	if node.ProjectID == "" {
		if projectID == "" {
			return node, fmt.Errorf("--project is required for a new node")
		}
		node.ID = id
		node.ProjectID = projectID
	} else if projectID != "" && projectID != node.ProjectID {
		return node, fmt.Errorf("node %s belongs to project %s", node.ID, node.ProjectID)
	}

	if kindText != "" {
		kind, err := models.ParseNodeKind(kindText)
		if err != nil {
			return node, err
		}
		if node.Kind != "" && node.Kind != kind {
			return node, fmt.Errorf("node %s is a %s; kind cannot change", node.ID, node.Kind)
		}
		node.Kind = kind
	}
	if node.Kind == "" {
		return node, fmt.Errorf("--kind is required for a new node")
	}

	if flags.Changed("name") {
		node.Name, _ = flags.GetString("name")
	}
	if flags.Changed("description") {
		node.Description, _ = flags.GetString("description")
	}
	actor, _ := flags.GetString("actor")
	setProvenance(&node, actor)

	if node.Kind != models.NodeKindRequirement {
		if node.Data == nil {
			data, err := models.DefaultData(node.Kind)
			if err != nil {
				return node, err
			}
			node.Data = data
		}
		return node, nil
	}

	req, ok := node.Requirement()
	if !ok {
		req = models.RequirementData{Priority: models.PriorityShould, Status: models.StatusDraft}
	}
	if flags.Changed("req-id") {
		req.ReqID, _ = flags.GetString("req-id")
	}
	if flags.Changed("text") {
		req.Text, _ = flags.GetString("text")
	}
	if flags.Changed("rationale") {
		req.Rationale, _ = flags.GetString("rationale")
	}
	if flags.Changed("source") {
		req.Source, _ = flags.GetString("source")
	}
	if flags.Changed("allocation") {
		req.Allocations, _ = flags.GetStringSlice("allocation")
	}
	if flags.Changed("priority") {
		v, _ := flags.GetString("priority")
		p, err := models.ParsePriority(v)
		if err != nil {
			return node, err
		}
		req.Priority = p
	}
	if flags.Changed("status") {
		v, _ := flags.GetString("status")
		st, err := models.ParseStatus(v)
		if err != nil {
			return node, err
		}
		req.Status = st
	}
	if flags.Changed("verification") {
		v, _ := flags.GetString("verification")
		m, err := models.ParseVerificationMethod(v)
		if err != nil {
			return node, err
		}
		req.VerificationMethod = m
	}
	node.Data = req
	return node, nil
}

// setProvenance marks node as a manual change by actor.
func setProvenance(node *models.Node, actor string) {
	meta := make(map[string]interface{}, len(node.Meta)+2)
	for k, v := range node.Meta {
		meta[k] = v
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = DefaultCLIActor
	}
	meta[history.MetaActor] = actor
	meta[history.MetaChangeSource] = string(models.ChangeSourceManual)
	node.Meta = meta
}

// readNodeFile decodes every YAML document in path into a node. JSON files
// decode the same way.
func readNodeFile(path string) ([]models.Node, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return decodeNodes(f)
}

func decodeNodes(r io.Reader) ([]models.Node, error) {
	dec := yaml.NewDecoder(r)
	var nodes []models.Node
	for i := 1; ; i++ {
		var doc nodeDocument
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		n, err := doc.node()
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no nodes found")
	}
	return nodes, nil
}

func (d nodeDocument) node() (models.Node, error) {
	if d.ProjectID == "" {
		return models.Node{}, fmt.Errorf("project_id is required")
	}
	kind, err := models.ParseNodeKind(strings.ToLower(strings.TrimSpace(d.Kind)))
	if err != nil {
		return models.Node{}, err
	}

	var raw []byte
	if len(d.Data) > 0 {
		if raw, err = json.Marshal(d.Data); err != nil {
			return models.Node{}, fmt.Errorf("encode data: %w", err)
		}
	}
	data, err := models.DecodeData(kind, raw)
	if err != nil {
		return models.Node{}, err
	}

	n := models.Node{
		ID:          d.ID,
		ProjectID:   d.ProjectID,
		Kind:        kind,
		Name:        d.Name,
		Description: d.Description,
		Data:        data,
	}
	setProvenance(&n, d.Actor)
	return n, nil
}

func newNodeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <node-id>",
		Short: "Show a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.engine.GetNode(cmd.Context(), args[0])
			if err != nil {
				return describeErr("node", args[0], err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				return writeJSON(out, n)
			}
			fmt.Fprintf(out, "%s (%s)\n", n.Name, n.ID)
			fmt.Fprintf(out, "  kind:     %s\n", n.Kind)
			fmt.Fprintf(out, "  project:  %s\n", n.ProjectID)
			if n.Description != "" {
				fmt.Fprintf(out, "  description: %s\n", n.Description)
			}
			if req, ok := n.Requirement(); ok {
				fmt.Fprintf(out, "  req_id:   %s\n", req.ReqID)
				fmt.Fprintf(out, "  text:     %s\n", req.Text)
				fmt.Fprintf(out, "  priority: %s\n", req.Priority)
				fmt.Fprintf(out, "  status:   %s\n", req.Status)
				if req.VerificationMethod != "" {
					fmt.Fprintf(out, "  verification: %s\n", req.VerificationMethod)
				}
				if len(req.Allocations) > 0 {
					fmt.Fprintf(out, "  allocations: %s\n", strings.Join(req.Allocations, ", "))
				}
			}
			fmt.Fprintf(out, "  modified: %s\n", n.ModifiedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

func newNodeDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <node-id>",
		Short: "Delete a node and its edges (history is kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.DeleteNode(cmd.Context(), args[0]); err != nil {
				return describeErr("node", args[0], err)
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"status": "deleted", "id": args[0]})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted node %s\n", args[0])
			return nil
		},
	}
}
