// Package planner builds plan sets by backward chaining over the action
// catalog: it grows plan trees from a drive's relief, enumerates decision
// paths through the choice points, binds entity targets and scores the
// resulting roots.
package planner

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/talgya/drivesim/internal/agents"
	"github.com/talgya/drivesim/internal/catalog"
	"github.com/talgya/drivesim/internal/drives"
	"github.com/talgya/drivesim/internal/phi"
	"github.com/talgya/drivesim/internal/plan"
	"github.com/talgya/drivesim/internal/world"
)

// WorldQuery answers the planner's questions about the world.
type WorldQuery interface {
	// KnownEntities returns the entities passing every constraint within
	// radius of the agent (radius <= 0 means no limit).
	KnownEntities(a *agents.Agent, constraints []catalog.Constraint, radius float64) []world.EntityID
	// EvaluatePrecondition reports whether p currently holds for the agent.
	// target is world.NoEntity for checks that need none.
	EvaluatePrecondition(a *agents.Agent, p *catalog.Precondition, t *plan.Tree, n plan.NodeID, target world.EntityID) bool
}

// Ranked is one scored target candidate.
type Ranked struct {
	Entity world.EntityID
	Score  float64
}

// Ranker orders target candidates for a node, best first.
type Ranker interface {
	Rank(a *agents.Agent, t *plan.Tree, n plan.NodeID, candidates []world.EntityID) []Ranked
}

// TimeEstimator estimates how long a node will take to execute, travel included.
type TimeEstimator interface {
	EstimatedTime(a *agents.Agent, t *plan.Tree, n plan.NodeID) float64
}

// Config bounds the search and weights the scoring.
type Config struct {
	MaxDepth         int     `yaml:"max_depth"`
	MaxIterations    int     `yaml:"max_iterations"`
	MaxDecisionPaths int     `yaml:"max_decision_paths"`
	TimeWeight       float64 `yaml:"time_weight"`
	CrossDriveWeight float64 `yaml:"cross_drive_weight"`
}

// DefaultConfig returns the stock search bounds and weights.
func DefaultConfig() Config {
	return Config{
		MaxDepth:         phi.Completion,
		MaxIterations:    10000,
		MaxDecisionPaths: 256,
		TimeWeight:       phi.Matter,
		CrossDriveWeight: phi.Agnosis,
	}
}

// Planner builds plan sets. It holds no per-agent state and is safe for
// concurrent use when its collaborators are.
type Planner struct {
	cat    *catalog.Catalog
	world  WorldQuery
	ranker Ranker
	times  TimeEstimator
	cfg    Config
	log    *slog.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithTimeEstimator makes scoring use est instead of raw template cost.
func WithTimeEstimator(est TimeEstimator) Option {
	return func(p *Planner) { p.times = est }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Planner) { p.log = l }
}

// New creates a planner over cat.
func New(cat *catalog.Catalog, wq WorldQuery, r Ranker, cfg Config, opts ...Option) *Planner {
	def := DefaultConfig()
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.MaxDecisionPaths <= 0 {
		cfg.MaxDecisionPaths = def.MaxDecisionPaths
	}
	p := &Planner{cat: cat, world: wq, ranker: r, cfg: cfg, log: slog.Default()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Catalog returns the catalog the planner searches.
func (p *Planner) Catalog() *catalog.Catalog {
	return p.cat
}

// BuildPlanSet plans for one drive of agent a. On ErrSearchCeilingExceeded
// the returned set is empty and the error is also logged.
func (p *Planner) BuildPlanSet(a *agents.Agent, d drives.ID) (*plan.Set, error) {
	set := plan.NewSet(d)
	budget := &budget{left: p.cfg.MaxIterations}

	for _, prov := range p.cat.ReliefProviders(d) {
		if !a.CanPerform(prov.Template) {
			continue
		}
		tree := plan.NewTree(d, prov.Template)
		if err := p.grow(a, tree, budget); err != nil {
			if errors.Is(err, ErrDeadEndBranch) {
				continue
			}
			return p.abort(a, d, err)
		}
		paths, err := p.decisionPaths(tree, budget)
		if err != nil {
			return p.abort(a, d, err)
		}
		for _, t := range paths {
			t.Compact()
			set.Add(p.finish(a, t))
		}
	}
	return set, nil
}

func (p *Planner) abort(a *agents.Agent, d drives.ID, err error) (*plan.Set, error) {
	p.log.Error("planning pass aborted, check the catalog for cycles",
		"agent", a.ID, "drive", d, "error", err)
	return plan.NewSet(d), fmt.Errorf("plan %s for agent %d: %w", d, a.ID, err)
}

// finish binds targets and scores one decision path.
func (p *Planner) finish(a *agents.Agent, t *plan.Tree) plan.Candidate {
	c := plan.Candidate{Tree: t, Status: plan.NotComplete}
	if err := p.bindTargets(a, t); err != nil {
		t.Node(t.Root()).Complete = false
		c.Reason = err.Error()
		return c
	}
	if !t.IsComplete(t.Root()) {
		c.Reason = "incomplete tree"
		return c
	}
	c.Status = plan.Complete
	p.score(a, t, &c)
	return c
}

// budget counts search iterations across one planning pass.
type budget struct {
	left int
}

func (b *budget) spend(n int) error {
	b.left -= n
	if b.left < 0 {
		return ErrSearchCeilingExceeded
	}
	return nil
}
