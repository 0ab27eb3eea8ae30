package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/nvandessel/tracegraph/internal/models"
)

// Graph fetches the project's full node list and the edges incident to
// those nodes. An edge reached from both endpoints appears once; edges are
// ordered by ID so repeated fetches of an unchanged graph are identical.
func (e *Engine) Graph(ctx context.Context, projectID string) (*models.GraphSnapshot, error) {
	if _, err := e.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	nodes, err := e.store.ListNodes(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	seen := make(map[string]bool)
	edges := make([]models.Edge, 0)
	for _, n := range nodes {
		incident, err := e.store.EdgesForNode(ctx, n.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list edges for %s: %w", n.ID, err)
		}
		for _, edge := range incident {
			if seen[edge.ID] {
				continue
			}
			seen[edge.ID] = true
			edges = append(edges, edge)
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })

	if nodes == nil {
		nodes = []models.Node{}
	}
	return &models.GraphSnapshot{Nodes: nodes, Edges: edges}, nil
}
