// Package engine is the command layer in front of the traceability store.
// It stamps IDs and timestamps on incoming artifacts, commits them through
// the store (which records requirement history in the same transaction),
// and publishes post-commit events that drive suspect propagation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nvandessel/tracegraph/internal/events"
	"github.com/nvandessel/tracegraph/internal/history"
	"github.com/nvandessel/tracegraph/internal/logging"
	"github.com/nvandessel/tracegraph/internal/models"
	"github.com/nvandessel/tracegraph/internal/store"
	"github.com/nvandessel/tracegraph/internal/suspect"
	"github.com/nvandessel/tracegraph/internal/validation"
)

// Config holds the engine's collaborators and tunables. Zero values are
// replaced with defaults.
type Config struct {
	Logger    *slog.Logger
	Decisions *logging.DecisionLogger

	// Propagation subscribes the suspect propagator to requirement changes.
	Propagation bool
	// PropagationReason is recorded on links raised after a write.
	PropagationReason string

	// HistoryLimit applies when ListHistory is called without a limit.
	HistoryLimit int

	Clock func() time.Time
}

// Engine coordinates writes, history, propagation and validation.
type Engine struct {
	store      store.GraphStore
	bus        *events.Bus
	propagator *suspect.Propagator
	logger     *slog.Logger
	decisions  *logging.DecisionLogger

	historyLimit int
	now          func() time.Time
}

// New creates an Engine over s.
func New(s store.GraphStore, cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = history.DefaultLimit
	}

	e := &Engine{
		store:        s,
		bus:          events.NewBus(cfg.Logger),
		logger:       cfg.Logger,
		decisions:    cfg.Decisions,
		historyLimit: cfg.HistoryLimit,
		now:          cfg.Clock,
	}
	e.propagator = suspect.NewPropagator(s,
		suspect.WithLogger(cfg.Logger),
		suspect.WithDecisionLogger(cfg.Decisions),
		suspect.WithClock(cfg.Clock),
	)
	if cfg.Propagation {
		e.bus.Subscribe(events.TopicModelChanged, "suspect-propagation", e.propagator.Handler(cfg.PropagationReason))
	}
	return e
}

// Bus exposes the event bus so callers can add their own subscribers.
func (e *Engine) Bus() *events.Bus {
	return e.bus
}

// Store returns the underlying store.
func (e *Engine) Store() store.GraphStore {
	return e.store
}

// CreateProject creates a project with a fresh ID.
func (e *Engine) CreateProject(ctx context.Context, name, description string) (*models.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("project name is required")
	}
	now := e.now()
	p := models.Project{
		ID:          models.NewID(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		ModifiedAt:  now,
	}
	if err := e.store.CreateProject(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProject returns a project or an error wrapping store.ErrNotFound.
func (e *Engine) GetProject(ctx context.Context, id string) (*models.Project, error) {
	return e.store.GetProject(ctx, id)
}

// ListProjects returns all projects.
func (e *Engine) ListProjects(ctx context.Context) ([]models.Project, error) {
	return e.store.ListProjects(ctx)
}

// DeleteProject removes a project and everything it owns.
func (e *Engine) DeleteProject(ctx context.Context, id string) error {
	return e.store.DeleteProject(ctx, id)
}

// UpsertNode writes a node and, for requirements, its history entry in one
// transaction. When the write recorded a meaningful requirement change a
// model:changed event is published after commit. Subscribers cannot fail
// the write; the returned error reflects the store write alone.
//
// Saves that record no history publish nothing, so re-saving an unchanged
// requirement does not re-flag its links. A flag lost to a propagation
// failure is only raised again by Sweep.
//
// An existing node keeps its stored CreatedAt whatever the caller passes.
func (e *Engine) UpsertNode(ctx context.Context, node models.Node) (*models.Node, *models.RequirementHistoryEntry, error) {
	now := e.now()
	if node.ID == "" {
		node.ID = models.NewID()
	} else {
		existing, err := e.store.GetNode(ctx, node.ID)
		switch {
		case err == nil:
			node.CreatedAt = existing.CreatedAt
		case !errors.Is(err, store.ErrNotFound):
			return nil, nil, err
		}
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = now
	}
	node.ModifiedAt = now
	if node.Data == nil && node.Kind.Valid() {
		data, err := models.DefaultData(node.Kind)
		if err != nil {
			return nil, nil, err
		}
		node.Data = data
	}

	entry, err := e.store.UpsertNode(ctx, node)
	if err != nil {
		return nil, nil, err
	}

	if entry != nil {
		e.logger.Debug("requirement change recorded",
			"node_id", node.ID,
			"actor", entry.Actor,
			"source", string(entry.Source),
		)
		e.logger.Log(ctx, logging.LevelTrace, "requirement snapshot",
			"node_id", node.ID,
			"next", entry.Next,
		)
		e.bus.Publish(ctx, events.Event{
			Topic:     events.TopicModelChanged,
			ProjectID: node.ProjectID,
			NodeID:    node.ID,
			NodeKind:  node.Kind,
			Payload:   entry,
		})
	}
	return &node, entry, nil
}

// GetNode returns a node or an error wrapping store.ErrNotFound.
func (e *Engine) GetNode(ctx context.Context, id string) (*models.Node, error) {
	return e.store.GetNode(ctx, id)
}

// DeleteNode removes a node and its incident edges. History is kept.
func (e *Engine) DeleteNode(ctx context.Context, id string) error {
	return e.store.DeleteNode(ctx, id)
}

// UpsertEdge writes an edge, assigning an ID and timestamps as needed.
func (e *Engine) UpsertEdge(ctx context.Context, edge models.Edge) (*models.Edge, error) {
	now := e.now()
	if edge.ID == "" {
		edge.ID = models.NewID()
	}
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = now
	}
	edge.ModifiedAt = now
	if err := edge.Validate(); err != nil {
		return nil, err
	}
	if err := e.store.UpsertEdge(ctx, edge); err != nil {
		return nil, err
	}
	return &edge, nil
}

// GetEdge returns an edge or an error wrapping store.ErrNotFound.
func (e *Engine) GetEdge(ctx context.Context, id string) (*models.Edge, error) {
	return e.store.GetEdge(ctx, id)
}

// DeleteEdge removes an edge and its suspect links.
func (e *Engine) DeleteEdge(ctx context.Context, id string) error {
	return e.store.DeleteEdge(ctx, id)
}

// ListHistory returns a node's history newest first. limit <= 0 uses the
// configured default; anything else is clamped to [1, 200].
func (e *Engine) ListHistory(ctx context.Context, nodeID string, limit int) ([]models.RequirementHistoryEntry, error) {
	if limit <= 0 {
		limit = e.historyLimit
	}
	return e.store.ListHistory(ctx, nodeID, history.ClampLimit(limit))
}

// ListOpenSuspects returns the project's unresolved suspect links.
func (e *Engine) ListOpenSuspects(ctx context.Context, projectID string) ([]models.SuspectLink, error) {
	return e.propagator.ListOpen(ctx, projectID)
}

// ResolveSuspect closes a suspect link. Repeated calls succeed.
func (e *Engine) ResolveSuspect(ctx context.Context, id, resolvedBy string) error {
	return e.propagator.Resolve(ctx, id, resolvedBy)
}

// Sweep re-flags every derivation edge leaving a requirement.
func (e *Engine) Sweep(ctx context.Context, projectID, reason string) (suspect.SweepResult, error) {
	if _, err := e.store.GetProject(ctx, projectID); err != nil {
		return suspect.SweepResult{}, err
	}
	return e.propagator.Sweep(ctx, projectID, reason)
}

// Validate runs every integrity rule over the project's current graph and
// publishes a validation:updated event carrying the summary.
func (e *Engine) Validate(ctx context.Context, projectID string) ([]validation.Issue, error) {
	g, err := e.Graph(ctx, projectID)
	if err != nil {
		return nil, err
	}
	issues := validation.Validate(g.Nodes, g.Edges)
	summary := validation.Summarize(issues)

	e.logger.Debug("validation complete",
		"project_id", projectID,
		"errors", summary.Errors,
		"warnings", summary.Warnings,
		"infos", summary.Infos,
	)
	e.bus.Publish(ctx, events.Event{
		Topic:     events.TopicValidationUpdated,
		ProjectID: projectID,
		Payload:   summary,
	})
	return issues, nil
}
