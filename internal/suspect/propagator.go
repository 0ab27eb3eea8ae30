// Package suspect flags derivation edges whose target may have been
// invalidated by a change to the source requirement, and resolves those
// flags once a reviewer has confirmed the target.
package suspect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nvandessel/tracegraph/internal/logging"
	"github.com/nvandessel/tracegraph/internal/models"
)

const (
	// DefaultReason is used when a change trigger supplies no reason.
	DefaultReason = "requirement updated"

	// SweepReason is recorded on links raised by a manual sweep.
	SweepReason = "revalidation sweep"

	// DefaultResolver is recorded when a resolve names no identity.
	DefaultResolver = "User"
)

// Store is the subset of the graph store the propagator needs.
type Store interface {
	DerivationEdgesFrom(ctx context.Context, projectID, nodeID string) ([]models.Edge, error)
	InsertSuspectIfAbsent(ctx context.Context, link models.SuspectLink) (bool, error)
	ResolveSuspect(ctx context.Context, id, resolvedBy string, at time.Time) error
	GetSuspect(ctx context.Context, id string) (*models.SuspectLink, error)
	ListOpenSuspects(ctx context.Context, projectID string) ([]models.SuspectLink, error)
	ListNodes(ctx context.Context, projectID string) ([]models.Node, error)
}

// Propagator raises and clears suspect links.
type Propagator struct {
	store     Store
	logger    *slog.Logger
	decisions *logging.DecisionLogger
	now       func() time.Time
}

// Option configures a Propagator.
type Option func(*Propagator)

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Propagator) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithDecisionLogger records propagation outcomes to the decision trace.
func WithDecisionLogger(dl *logging.DecisionLogger) Option {
	return func(p *Propagator) {
		p.decisions = dl
	}
}

// WithClock overrides the time source used for flagged_at and resolved_at.
func WithClock(now func() time.Time) Option {
	return func(p *Propagator) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPropagator creates a Propagator over s.
func NewPropagator(s Store, opts ...Option) *Propagator {
	p := &Propagator{
		store:  s,
		logger: logging.Discard(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FlagDownstream opens a suspect link on every derivation edge leaving
// nodeID, skipping edges that already carry an open link. It returns the
// number of links opened. A failure on one edge does not stop the others;
// all failures are joined into the returned error.
func (p *Propagator) FlagDownstream(ctx context.Context, projectID, nodeID, reason string) (int, error) {
	if strings.TrimSpace(reason) == "" {
		reason = DefaultReason
	}

	edges, err := p.store.DerivationEdgesFrom(ctx, projectID, nodeID)
	if err != nil {
		return 0, fmt.Errorf("failed to load derivation edges for %s: %w", nodeID, err)
	}

	flagged := 0
	var errs []error
	for _, e := range edges {
		link := models.SuspectLink{
			ID:            models.NewID(),
			ProjectID:     projectID,
			EdgeID:        e.ID,
			SourceID:      e.SourceID,
			TargetID:      e.TargetID,
			FlaggedAt:     p.now(),
			FlaggedReason: reason,
		}
		inserted, err := p.store.InsertSuspectIfAbsent(ctx, link)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if inserted {
			flagged++
		}
	}

	p.logger.Debug("suspect propagation",
		"project_id", projectID,
		"node_id", nodeID,
		"edges", len(edges),
		"flagged", flagged,
	)
	p.decisions.Log(map[string]any{
		"event":      "suspect_flagged",
		"project_id": projectID,
		"node_id":    nodeID,
		"reason":     reason,
		"edges":      len(edges),
		"flagged":    flagged,
	})

	return flagged, errors.Join(errs...)
}

// Resolve closes a suspect link. Resolving an already resolved link
// succeeds and keeps the first resolution. An unknown id wraps
// store.ErrNotFound.
func (p *Propagator) Resolve(ctx context.Context, id, resolvedBy string) error {
	if strings.TrimSpace(resolvedBy) == "" {
		resolvedBy = DefaultResolver
	}
	if err := p.store.ResolveSuspect(ctx, id, resolvedBy, p.now()); err != nil {
		return err
	}
	p.decisions.Log(map[string]any{
		"event":       "suspect_resolved",
		"suspect_id":  id,
		"resolved_by": resolvedBy,
	})
	return nil
}

// ListOpen returns the project's unresolved links, newest flag first.
func (p *Propagator) ListOpen(ctx context.Context, projectID string) ([]models.SuspectLink, error) {
	return p.store.ListOpenSuspects(ctx, projectID)
}

// SweepResult summarizes a Sweep run.
type SweepResult struct {
	Requirements int `json:"requirements"`
	Flagged      int `json:"flagged"`
	Failed       int `json:"failed"`
}

// Sweep re-runs FlagDownstream for every requirement in the project. It
// reconstructs flags that a failed post-commit propagation missed. Only
// the node listing failing aborts the sweep; per-requirement failures are
// counted and joined into the returned error.
func (p *Propagator) Sweep(ctx context.Context, projectID, reason string) (SweepResult, error) {
	if strings.TrimSpace(reason) == "" {
		reason = SweepReason
	}

	nodes, err := p.store.ListNodes(ctx, projectID)
	if err != nil {
		return SweepResult{}, fmt.Errorf("failed to list nodes: %w", err)
	}

	var res SweepResult
	var errs []error
	for _, n := range nodes {
		if n.Kind != models.NodeKindRequirement {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res.Requirements++
		flagged, err := p.FlagDownstream(ctx, projectID, n.ID, reason)
		res.Flagged += flagged
		if err != nil {
			res.Failed++
			errs = append(errs, err)
		}
	}

	p.logger.Info("suspect sweep complete",
		"project_id", projectID,
		"requirements", res.Requirements,
		"flagged", res.Flagged,
		"failed", res.Failed,
	)
	p.decisions.Log(map[string]any{
		"event":        "suspect_sweep",
		"project_id":   projectID,
		"requirements": res.Requirements,
		"flagged":      res.Flagged,
		"failed":       res.Failed,
	})

	return res, errors.Join(errs...)
}
