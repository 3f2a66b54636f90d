// Package behavior carries out plan nodes over time. A behavior is shared by
// every agent and keeps its per-node run state keyed by agent, tree and node.
package behavior

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/drivesim/internal/agents"
	"github.com/talgya/drivesim/internal/catalog"
	"github.com/talgya/drivesim/internal/plan"
	"github.com/talgya/drivesim/internal/world"
)

var (
	// ErrTargetLost is returned by Update when the node's target vanished.
	ErrTargetLost = errors.New("behavior: target lost")
	// ErrNotStarted is returned by Update for a node that was never started.
	ErrNotStarted = errors.New("behavior: node not started")
	// ErrUnknownBehavior names a behavior missing from the registry.
	ErrUnknownBehavior = errors.New("behavior: unknown behavior")
)

// Step is the context of one call into a behavior.
type Step struct {
	Agent *agents.Agent
	Tree  *plan.Tree
	Node  plan.NodeID
	Now   time.Time
}

// Template returns the template the node instantiates.
func (s Step) Template() *catalog.Template {
	return s.Tree.Node(s.Node).Template
}

// Target returns the node's bound target.
func (s Step) Target() world.EntityID {
	return s.Tree.Node(s.Node).Target
}

func (s Step) key() runKey {
	return runKey{agent: s.Agent.ID, tree: s.Tree.ID, node: s.Node}
}

type runKey struct {
	agent agents.AgentID
	tree  uuid.UUID
	node  plan.NodeID
}

// Behavior executes one node. Update is called once per tick after Start
// until it reports the node is no longer running.
type Behavior interface {
	Start(s Step) error
	Update(s Step) (running bool, err error)
	Interrupt(s Step)
	EstimatedTime(s Step) float64
}

// EventReceiver is implemented by behaviors that react to notified events.
type EventReceiver interface {
	Notify(s Step, event string, entity world.EntityID)
}

// Mover moves agents through the world on behalf of behaviors.
type Mover interface {
	// DistanceTo returns the hex distance from the agent to target; ok is
	// false when the target no longer exists.
	DistanceTo(a *agents.Agent, target world.EntityID) (dist int, ok bool)
	// StepToward moves the agent one hex toward target.
	StepToward(a *agents.Agent, target world.EntityID) bool
}

// Registry maps catalog behavior names to behaviors.
type Registry struct {
	byName   map[string]Behavior
	fallback string
}

// Stock behavior names.
const (
	NameTimed   = "timed"
	NameInstant = "instant"
	NameAwait   = "await"
)

// NewRegistry registers the stock behaviors. Templates that name no behavior
// run as "timed".
func NewRegistry(m Mover, secondsPerHex float64) *Registry {
	r := &Registry{byName: make(map[string]Behavior), fallback: NameTimed}
	r.Register(NameTimed, NewTimed(m, secondsPerHex))
	r.Register(NameInstant, Instant{})
	r.Register(NameAwait, NewAwait(DoneEvent))
	return r
}

// Register adds or replaces a behavior.
func (r *Registry) Register(name string, b Behavior) {
	r.byName[name] = b
}

// Lookup finds a behavior by name. The empty name resolves to the fallback.
func (r *Registry) Lookup(name string) (Behavior, bool) {
	if name == "" {
		name = r.fallback
	}
	b, ok := r.byName[name]
	return b, ok
}

// For returns the behavior of the template a step's node instantiates.
func (r *Registry) For(s Step) (Behavior, error) {
	name := s.Template().Behavior
	b, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBehavior, name)
	}
	return b, nil
}

// Names lists the registered behaviors, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Validate checks that every name is registered.
func (r *Registry) Validate(names []string) error {
	var errs []error
	for _, n := range names {
		if _, ok := r.Lookup(n); !ok {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownBehavior, n))
		}
	}
	return errors.Join(errs...)
}

// EstimatedTime estimates a node's duration through its behavior, falling
// back to the template cost for unknown behaviors.
func (r *Registry) EstimatedTime(a *agents.Agent, t *plan.Tree, n plan.NodeID) float64 {
	s := Step{Agent: a, Tree: t, Node: n}
	b, err := r.For(s)
	if err != nil {
		return s.Template().Cost
	}
	return b.EstimatedTime(s)
}

// reach is the distance at which a node's target counts as reached: the
// tightest range among its near_entity preconditions.
func reach(t *catalog.Template) int {
	best := -1
	for i := range t.Preconditions {
		p := &t.Preconditions[i]
		if p.Kind != catalog.PreNearEntity {
			continue
		}
		if r := int(p.Range); best < 0 || r < best {
			best = r
		}
	}
	return max(best, 0)
}
