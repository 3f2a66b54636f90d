// Package decider runs the per-agent plan executor: it picks the best plan
// across drives, carries it out node by node, fires timed and event effects,
// and abandons or replaces plans when the world or the drives change.
//
// A Decider is driven by one goroutine at a time. The engine ticks each
// agent's decider from a single worker per tick.
package decider

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/talgya/drivesim/internal/agents"
	"github.com/talgya/drivesim/internal/behavior"
	"github.com/talgya/drivesim/internal/catalog"
	"github.com/talgya/drivesim/internal/drives"
	"github.com/talgya/drivesim/internal/phi"
	"github.com/talgya/drivesim/internal/plan"
	"github.com/talgya/drivesim/internal/world"
)

// State is the executor state.
type State uint8

const (
	Idle State = iota
	Planning
	Acting
)

func (s State) String() string {
	switch s {
	case Planning:
		return "planning"
	case Acting:
		return "acting"
	default:
		return "idle"
	}
}

// MarshalText renders the state name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*s = Idle
	case "planning":
		*s = Planning
	case "acting":
		*s = Acting
	default:
		return fmt.Errorf("unknown decider state %q", text)
	}
	return nil
}

// Planner builds plan sets. Implemented by *planner.Planner.
type Planner interface {
	BuildPlanSet(a *agents.Agent, d drives.ID) (*plan.Set, error)
}

// Behaviors resolves the behavior for a node. Implemented by *behavior.Registry.
type Behaviors interface {
	For(s behavior.Step) (behavior.Behavior, error)
}

// EffectApplier applies one effect to the world and reports whether it took
// and the amount actually applied.
type EffectApplier interface {
	Apply(a *agents.Agent, target world.EntityID, e *catalog.Effect, t *plan.Tree, n plan.NodeID) (ok bool, amount float64)
}

// TargetChecker reports whether an entity still exists.
type TargetChecker interface {
	EntityExists(id world.EntityID) bool
}

// PreconditionChecker re-evaluates preconditions before a node starts.
type PreconditionChecker interface {
	EvaluatePrecondition(a *agents.Agent, p *catalog.Precondition, t *plan.Tree, n plan.NodeID, target world.EntityID) bool
}

// Policy tunes interruption and replanning.
type Policy struct {
	// ReplanInterval is how often a running plan is compared against fresh
	// plan sets, and how long to wait before replanning after a failure
	// when ForceReplanOnFailure is off.
	ReplanInterval time.Duration `yaml:"replan_interval"`
	// Jitter adds up to this much random delay to each replan deadline.
	Jitter time.Duration `yaml:"jitter"`
	// BetterMargin is the fraction by which a same-drive plan must beat the
	// running plan's utility to replace it.
	BetterMargin         float64 `yaml:"better_margin"`
	ForceReplanOnFailure bool    `yaml:"force_replan_on_failure"`
}

// DefaultPolicy returns the stock policy.
func DefaultPolicy() Policy {
	return Policy{
		ReplanInterval:       5 * time.Second,
		Jitter:               500 * time.Millisecond,
		BetterMargin:         phi.Psyche,
		ForceReplanOnFailure: true,
	}
}

// Deps are the collaborators of a Decider.
type Deps struct {
	Catalog   *catalog.Catalog
	Planner   Planner
	Behaviors Behaviors
	Effects   EffectApplier
	Targets   TargetChecker
	Checks    PreconditionChecker
	Logger    *slog.Logger
	// Observer, when set, receives every executor event synchronously.
	Observer func(Event)
}

// Decider executes plans for one agent.
type Decider struct {
	agent  *agents.Agent
	deps   Deps
	policy Policy
	log    *slog.Logger
	rng    *rand.Rand
	idle   *catalog.Template

	now         time.Time
	state       State
	cur         *active
	nextPlan    time.Time
	forceReplan bool
	timers      []*timer
	sets        map[drives.ID]*plan.Set
	last        Outcome
}

// active is the plan being executed.
type active struct {
	tree    *plan.Tree
	drive   drives.ID
	set     *plan.Set
	index   int
	utility float64
	idle    bool

	node    plan.NodeID
	started bool
	// fresh is set while node is the first node of a just-selected plan.
	fresh bool
	done  map[plan.NodeID]bool
	since time.Time
}

// Outcome summarizes how the most recent plan ended.
type Outcome struct {
	Plan   string      `json:"plan,omitempty"`
	Drive  drives.ID   `json:"drive,omitempty"`
	Status plan.Status `json:"status"`
	Reason string      `json:"reason,omitempty"`
	At     time.Time   `json:"at"`
}

// New creates a decider for a. It fails with catalog.ErrMissingIdleAction
// when the catalog has no usable idle action.
func New(a *agents.Agent, deps Deps, pol Policy) (*Decider, error) {
	if deps.Catalog == nil || deps.Planner == nil || deps.Behaviors == nil ||
		deps.Effects == nil || deps.Targets == nil || deps.Checks == nil {
		return nil, errors.New("decider: missing collaborator")
	}
	idle, err := deps.Catalog.Idle()
	if err != nil {
		return nil, fmt.Errorf("decider for agent %d: %w", a.ID, err)
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Decider{
		agent:  a,
		deps:   deps,
		policy: pol,
		log:    log.With("agent", a.ID),
		rng:    rand.New(rand.NewSource(int64(a.ID))),
		idle:   idle,
		sets:   make(map[drives.ID]*plan.Set),
	}, nil
}

// State returns the executor state.
func (d *Decider) State() State {
	return d.state
}

// LastOutcome returns how the most recent plan ended.
func (d *Decider) LastOutcome() Outcome {
	return d.last
}

// Tick advances the executor one step at time now.
func (d *Decider) Tick(now time.Time) {
	d.now = now
	switch d.state {
	case Acting:
		d.fireTimers(now)
		if d.replanCheck(now) {
			return
		}
		d.act(now)
	case Idle:
		if d.forceReplan || !now.Before(d.nextPlan) {
			d.plan(now)
		}
	}
}

// InterruptCurrentPlan stops the running plan regardless of its interrupt
// permission. The next tick replans. Reports whether a plan was running.
func (d *Decider) InterruptCurrentPlan(now time.Time) bool {
	d.now = now
	if d.state != Acting {
		return false
	}
	d.stop(now, plan.Interrupted, EventPlanInterrupted, "interrupted on request")
	d.forceReplan = true
	return true
}

// NotifyEvent fires the running node's event effects for kind and forwards
// the event to its behavior. entity narrows the event to one target.
func (d *Decider) NotifyEvent(now time.Time, kind string, entity world.EntityID) {
	d.now = now
	if d.state != Acting {
		return
	}
	for _, t := range d.timers {
		if t.effect.Timing != catalog.TimingOnEvent || t.effect.Event != kind {
			continue
		}
		if entity != world.NoEntity && t.target != world.NoEntity && entity != t.target {
			continue
		}
		d.applyTimed(t)
	}
	a := d.cur
	if a == nil || !a.started {
		return
	}
	s := d.step(now)
	b, err := d.deps.Behaviors.For(s)
	if err != nil {
		return
	}
	if r, ok := b.(behavior.EventReceiver); ok {
		r.Notify(s, kind, entity)
	}
}

func (d *Decider) step(now time.Time) behavior.Step {
	return behavior.Step{Agent: d.agent, Tree: d.cur.tree, Node: d.cur.node, Now: now}
}

func (d *Decider) scheduleNext(now time.Time) {
	next := now.Add(d.policy.ReplanInterval)
	if d.policy.Jitter > 0 {
		next = next.Add(time.Duration(d.rng.Int63n(int64(d.policy.Jitter))))
	}
	d.nextPlan = next
}

// selection is the winner of one planning pass.
type selection struct {
	drive drives.ID
	set   *plan.Set
	index int
}

func (s selection) candidate() *plan.Candidate {
	return &s.set.Candidates[s.index]
}

// choose builds a plan set for every eligible drive and returns the best
// plan of the most urgent drive that has one.
func (d *Decider) choose() (selection, bool) {
	current := drives.ID("")
	if d.cur != nil && !d.cur.idle {
		current = d.cur.drive
	}
	ranked := d.agent.Drives.Eligible(current)
	sets := make(map[drives.ID]*plan.Set, len(ranked))
	var sel selection
	found := false
	for _, r := range ranked {
		set, err := d.deps.Planner.BuildPlanSet(d.agent, r.ID)
		sets[r.ID] = set
		if err != nil {
			d.emit(Event{Kind: EventPlanningAborted, Drive: r.ID, Reason: err.Error()})
			continue
		}
		if found {
			continue
		}
		if i, ok := set.Best(); ok {
			sel = selection{drive: r.ID, set: set, index: i}
			found = true
		}
	}
	d.sets = sets
	return sel, found
}

// plan runs one planning pass from Idle and starts the winner, or the idle
// action when nothing is selectable.
func (d *Decider) plan(now time.Time) {
	d.state = Planning
	d.forceReplan = false
	sel, ok := d.choose()
	d.scheduleNext(now)
	if !ok {
		d.startIdle(now)
		return
	}
	c := sel.candidate()
	sel.set.SetStatus(sel.index, plan.Running)
	d.begin(now, &active{
		tree:    c.Tree,
		drive:   sel.drive,
		set:     sel.set,
		index:   sel.index,
		utility: c.Utility,
	})
	d.emit(Event{Kind: EventPlanStarted, Drive: sel.drive, Utility: c.Utility, Reason: c.Tree.Signature()})
}

func (d *Decider) startIdle(now time.Time) {
	tree := plan.NewTree("", d.idle)
	root := tree.Node(tree.Root())
	for i := range root.Pre {
		root.Pre[i] = plan.PreSatisfied
	}
	root.Complete = true
	d.begin(now, &active{tree: tree, idle: true})
	d.emit(Event{Kind: EventIdleFallback, Reason: ErrNoCompletePlan.Error()})
}

func (d *Decider) begin(now time.Time, a *active) {
	a.node = a.tree.LeftmostLeaf(a.tree.Root())
	a.fresh = true
	a.done = make(map[plan.NodeID]bool)
	a.since = now
	d.cur = a
	d.state = Acting
}

// replanCheck compares the running plan against fresh plan sets once the
// replan deadline passes. It interrupts the plan and reports true when a
// materially better plan exists; planning itself waits for the next tick.
func (d *Decider) replanCheck(now time.Time) bool {
	a := d.cur
	if now.Before(d.nextPlan) {
		return false
	}
	if !a.tree.Node(a.node).Template.Interruptible {
		return false
	}
	sel, ok := d.choose()
	d.scheduleNext(now)
	if !ok {
		return false
	}
	c := sel.candidate()
	if !a.idle && sel.drive == a.drive {
		remaining := a.tree.SignatureExcept(func(id plan.NodeID) bool { return a.done[id] })
		if c.Tree.Signature() == remaining {
			return false
		}
		if c.Utility <= a.utility+d.policy.BetterMargin*math.Abs(a.utility) {
			return false
		}
	}
	d.log.Debug("interrupting for a better plan",
		"drive", sel.drive, "utility", c.Utility, "current_drive", a.drive, "current_utility", a.utility)
	d.stop(now, plan.Interrupted, EventPlanInterrupted, "better plan for "+string(sel.drive))
	d.forceReplan = true
	return true
}

// act advances the current node: start it, update its behavior and move
// on through the tree when it completes.
func (d *Decider) act(now time.Time) {
	a := d.cur
	id := a.node
	n := a.tree.Node(id)
	s := d.step(now)

	if n.Target != world.NoEntity && !d.deps.Targets.EntityExists(n.Target) {
		d.fail(now, fmt.Errorf("%w: target #%d of %s vanished", ErrPreconditionRecheckFailed, n.Target, n.Template.ID))
		return
	}

	b, err := d.deps.Behaviors.For(s)
	if err != nil {
		d.fail(now, fmt.Errorf("%w: %w", ErrBehaviorFailed, err))
		return
	}

	if !a.started {
		if !a.fresh && !a.idle {
			if err := d.recheck(a); err != nil {
				d.fail(now, err)
				return
			}
		}
		if err := b.Start(s); err != nil {
			d.fail(now, fmt.Errorf("%w: start %s: %w", ErrBehaviorFailed, n.Template.ID, err))
			return
		}
		a.started = true
		a.fresh = false
		d.armTimers(now, id)
		d.emit(Event{Kind: EventNodeStarted, Drive: a.drive})
	}

	running, err := b.Update(s)
	if err != nil {
		if errors.Is(err, behavior.ErrTargetLost) {
			err = fmt.Errorf("%w: %w", ErrPreconditionRecheckFailed, err)
		} else {
			err = fmt.Errorf("%w: %s: %w", ErrBehaviorFailed, n.Template.ID, err)
		}
		d.fail(now, err)
		return
	}
	if running {
		return
	}

	if err := d.applyImmediate(id); err != nil {
		d.fail(now, err)
		return
	}
	d.emit(Event{Kind: EventNodeFinished, Drive: a.drive})
	d.dropTimers(func(t *timer) bool { return t.node == id && t.effect.Timing == catalog.TimingOnEvent })
	a.done[id] = true

	next := a.tree.Next(id)
	if next == plan.NoNode {
		d.stop(now, plan.Finished, EventPlanFinished, "")
		d.forceReplan = true
		return
	}
	a.node = next
	a.started = false
}

// recheck re-validates every precondition of the current node.
func (d *Decider) recheck(a *active) error {
	n := a.tree.Node(a.node)
	for i := range n.Template.Preconditions {
		p := &n.Template.Preconditions[i]
		target := world.NoEntity
		if p.RequiresTarget() {
			target = n.Target
		}
		if !d.deps.Checks.EvaluatePrecondition(d.agent, p, a.tree, a.node, target) {
			return fmt.Errorf("%w: %s: %s", ErrPreconditionRecheckFailed, n.Template.ID, p)
		}
	}
	return nil
}

func (d *Decider) applyImmediate(id plan.NodeID) error {
	n := d.cur.tree.Node(id)
	for i := range n.Template.Effects {
		e := &n.Template.Effects[i]
		if e.Timing != catalog.TimingImmediate {
			continue
		}
		target := effectTarget(n, e)
		if ok, _ := d.deps.Effects.Apply(d.agent, target, e, d.cur.tree, id); !ok {
			return fmt.Errorf("%w: %s: %s", ErrEffectApplicationFailed, n.Template.ID, e)
		}
	}
	return nil
}

// effectTarget is the effect's subject: the auxiliary slot it names, else
// the node's target.
func effectTarget(n *plan.Node, e *catalog.Effect) world.EntityID {
	if e.Slot != "" {
		return n.Aux[e.Slot]
	}
	return n.Target
}

// fail abandons the current plan after an execution error.
func (d *Decider) fail(now time.Time, err error) {
	d.log.Info("plan abandoned", "drive", d.cur.drive, "error", err)
	d.stop(now, plan.Interrupted, EventPlanFailed, err.Error())
	d.forceReplan = d.policy.ForceReplanOnFailure
}

// stop ends the current plan with status and returns to Idle.
func (d *Decider) stop(now time.Time, status plan.Status, kind EventKind, reason string) {
	a := d.cur
	if status != plan.Finished && a.started {
		s := d.step(now)
		if b, err := d.deps.Behaviors.For(s); err == nil {
			b.Interrupt(s)
		}
	}
	d.timers = nil
	if a.set != nil {
		a.set.SetStatus(a.index, status)
	}
	d.emit(Event{Kind: kind, Drive: a.drive, Reason: reason})
	d.last = Outcome{Plan: a.tree.ID.String(), Drive: a.drive, Status: status, Reason: reason, At: now}
	d.cur = nil
	d.state = Idle
}
