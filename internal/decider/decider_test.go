package decider

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/drivesim/internal/agents"
	"github.com/talgya/drivesim/internal/behavior"
	"github.com/talgya/drivesim/internal/catalog"
	"github.com/talgya/drivesim/internal/drives"
	"github.com/talgya/drivesim/internal/plan"
	"github.com/talgya/drivesim/internal/planner"
	"github.com/talgya/drivesim/internal/world"
)

type ent struct {
	typ catalog.EntityType
	q   int
}

// sim is a one-dimensional world: entities sit on the q axis.
type sim struct {
	at     map[world.EntityID]ent
	failOn map[string]bool
}

func (w *sim) pos(id world.EntityID) (world.HexCoord, bool) {
	e, ok := w.at[id]
	return world.HexCoord{Q: e.q}, ok
}

func (w *sim) matches(id world.EntityID, c catalog.Constraint) bool {
	e, ok := w.at[id]
	return ok && (c.EntityType == "" || c.EntityType == e.typ) && c.Tag == ""
}

func (w *sim) KnownEntities(a *agents.Agent, cs []catalog.Constraint, radius float64) []world.EntityID {
	var out []world.EntityID
	for id := range w.at {
		p, _ := w.pos(id)
		if radius > 0 && float64(world.Distance(a.Position, p)) > radius {
			continue
		}
		ok := true
		for _, c := range cs {
			ok = ok && w.matches(id, c)
		}
		if ok {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (w *sim) EvaluatePrecondition(a *agents.Agent, p *catalog.Precondition, _ *plan.Tree, _ plan.NodeID, target world.EntityID) bool {
	switch p.Kind {
	case catalog.PreHasItem:
		return a.Count(p.EntityType) >= max(p.Count, 1)
	case catalog.PreLacksItem:
		return a.Count(p.EntityType) < max(p.Count, 1)
	case catalog.PreDriveAbove:
		return a.Drives.Level(p.Drive) > p.Threshold
	case catalog.PreDriveBelow:
		return a.Drives.Level(p.Drive) < p.Threshold
	case catalog.PreNearEntity, catalog.PreTargetHasTag:
		return w.matches(target, p.Constraint())
	}
	return true
}

func (w *sim) Rank(a *agents.Agent, _ *plan.Tree, _ plan.NodeID, cands []world.EntityID) []planner.Ranked {
	var out []planner.Ranked
	for _, id := range cands {
		p, _ := w.pos(id)
		out = append(out, planner.Ranked{Entity: id, Score: -float64(world.Distance(a.Position, p))})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func (w *sim) EntityExists(id world.EntityID) bool {
	_, ok := w.at[id]
	return ok
}

func (w *sim) Apply(a *agents.Agent, target world.EntityID, e *catalog.Effect, t *plan.Tree, n plan.NodeID) (bool, float64) {
	if w.failOn[t.Node(n).Template.ID] {
		return false, 0
	}
	switch e.Kind {
	case catalog.EffDriveChange:
		applied, ok := a.Drives.Adjust(e.Drive, e.Amount)
		return ok, applied
	case catalog.EffAddItem:
		if target != world.NoEntity {
			if !w.EntityExists(target) {
				return false, 0
			}
			delete(w.at, target)
		}
		a.AddItem(e.EntityType, e.Quantity())
	case catalog.EffRemoveItem:
		return a.RemoveItem(e.EntityType, e.Quantity()), float64(e.Quantity())
	case catalog.EffAddTag:
		a.AddTag(e.Tag)
	case catalog.EffRemoveTag:
		a.RemoveTag(e.Tag)
	}
	return true, float64(e.Quantity())
}

func (w *sim) DistanceTo(a *agents.Agent, target world.EntityID) (int, bool) {
	p, ok := w.pos(target)
	if !ok {
		return 0, false
	}
	return world.Distance(a.Position, p), true
}

func (w *sim) StepToward(a *agents.Agent, target world.EntityID) bool {
	p, ok := w.pos(target)
	if !ok {
		return false
	}
	a.Position = world.StepToward(a.Position, p)
	return true
}

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type harness struct {
	w      *sim
	a      *agents.Agent
	d      *Decider
	reg    *behavior.Registry
	now    time.Time
	events []Event
}

func newHarness(t *testing.T, tmpls []catalog.Template, specs []drives.Spec, pol Policy) *harness {
	t.Helper()
	cat, err := catalog.New(tmpls, specs, "wander")
	require.NoError(t, err)
	h := &harness{w: &sim{at: map[world.EntityID]ent{}, failOn: map[string]bool{}}, now: t0}
	h.reg = behavior.NewRegistry(h.w, 1)
	h.a = agents.New(1, "Bram Holt", specs)
	p := planner.New(cat, h.w, h.w, planner.Config{}, planner.WithTimeEstimator(h.reg))
	h.d, err = New(h.a, Deps{
		Catalog:   cat,
		Planner:   p,
		Behaviors: h.reg,
		Effects:   h.w,
		Targets:   h.w,
		Checks:    h.w,
		Observer:  func(e Event) { h.events = append(h.events, e) },
	}, pol)
	require.NoError(t, err)
	return h
}

func (h *harness) tick() {
	h.d.Tick(h.now)
	h.now = h.now.Add(time.Second)
}

// runUntilOutcome ticks until the current plan ends, at most limit times.
func (h *harness) runUntilOutcome(t *testing.T, limit int) int {
	t.Helper()
	for i := 1; i <= limit; i++ {
		h.tick()
		if !h.d.LastOutcome().At.IsZero() {
			return i
		}
	}
	t.Fatalf("no plan ended within %d ticks", limit)
	return 0
}

func (h *harness) count(kind EventKind) int {
	n := 0
	for _, e := range h.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (h *harness) kinds() []EventKind {
	var out []EventKind
	for _, e := range h.events {
		out = append(out, e.Kind)
	}
	return out
}

func (h *harness) timedRuns() int {
	b, _ := h.reg.Lookup(behavior.NameTimed)
	return b.(*behavior.Timed).Active()
}

var hungerSpecs = []drives.Spec{
	{ID: "hunger", Initial: 80},
	{ID: "thirst", Initial: 0},
}

func foodCatalog() []catalog.Template {
	return []catalog.Template{
		{
			ID:            "eat",
			Cost:          1,
			Behavior:      behavior.NameInstant,
			Interruptible: true,
			Preconditions: []catalog.Precondition{{Kind: catalog.PreHasItem, EntityType: "food"}},
			Effects: []catalog.Effect{
				{Kind: catalog.EffDriveChange, Drive: "hunger", Amount: -40},
				{Kind: catalog.EffRemoveItem, EntityType: "food"},
			},
		},
		{
			ID:            "pick_up_food",
			Cost:          1,
			Behavior:      behavior.NameTimed,
			Interruptible: true,
			Preconditions: []catalog.Precondition{{Kind: catalog.PreNearEntity, EntityType: "food", Range: 1}},
			Effects:       []catalog.Effect{{Kind: catalog.EffAddItem, EntityType: "food"}},
		},
		{ID: "wander", Cost: 2, Behavior: behavior.NameAwait, Interruptible: true},
	}
}

func calm() Policy {
	return Policy{ReplanInterval: time.Hour, ForceReplanOnFailure: true}
}

func TestExecutesPickUpThenEat(t *testing.T) {
	h := newHarness(t, foodCatalog(), hungerSpecs, calm())
	h.w.at[10] = ent{typ: "food", q: 2}

	ticks := h.runUntilOutcome(t, 20)
	// plan, travel one hex, arrive and work, finish work, eat.
	assert.Equal(t, 5, ticks)
	assert.Equal(t, 40.0, h.a.Drives.Level("hunger"))
	assert.Equal(t, 0, h.a.Count("food"))
	assert.False(t, h.w.EntityExists(10))

	assert.Equal(t, []EventKind{
		EventPlanStarted,
		EventNodeStarted, EventNodeFinished,
		EventNodeStarted, EventNodeFinished,
		EventPlanFinished,
	}, h.kinds())
	assert.Equal(t, plan.Finished, h.d.LastOutcome().Status)
	assert.Equal(t, plan.Finished, h.d.PlanSet("hunger").Candidates[0].Status)
	assert.Equal(t, Idle, h.d.State())
}

func TestSnapshotWhileActing(t *testing.T) {
	h := newHarness(t, foodCatalog(), hungerSpecs, calm())
	h.w.at[10] = ent{typ: "food", q: 3}
	h.tick()
	h.tick()

	s := h.d.Snapshot()
	assert.Equal(t, Acting, s.State)
	assert.False(t, s.Idle)
	assert.Equal(t, drives.ID("hunger"), s.Drive)
	assert.Equal(t, "pick_up_food", s.Node)
	assert.Equal(t, world.EntityID(10), s.Target)
	assert.Equal(t, []world.EntityID{10}, s.Targets)
	assert.Contains(t, s.Rendered, "pick_up_food")
	require.Len(t, s.Sets, 1)
	assert.Equal(t, drives.ID("hunger"), s.Sets[0].Drive)
	assert.Equal(t, "eat(0:pick_up_food@10)", s.Sets[0].Candidates[0].Plan)
	assert.Equal(t, plan.Running, s.Sets[0].Candidates[0].Status)

	text, err := s.State.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "acting", string(text))
}

func TestTargetDestroyedInterruptsAndReplans(t *testing.T) {
	h := newHarness(t, foodCatalog(), hungerSpecs, calm())
	h.w.at[10] = ent{typ: "food", q: 3}
	h.tick()
	h.tick()
	require.Equal(t, Acting, h.d.State())
	require.Equal(t, 1, h.timedRuns())

	delete(h.w.at, 10)
	h.tick()
	assert.Equal(t, Idle, h.d.State())
	out := h.d.LastOutcome()
	assert.Equal(t, plan.Interrupted, out.Status)
	assert.Contains(t, out.Reason, "vanished")
	assert.Equal(t, plan.Interrupted, h.d.PlanSet("hunger").Candidates[0].Status)
	assert.Equal(t, 0, h.timedRuns())

	// The failure forces a replan on the very next tick. Without food the
	// only option is the idle action.
	h.tick()
	assert.Equal(t, Acting, h.d.State())
	assert.True(t, h.d.Snapshot().Idle)
	set := h.d.PlanSet("hunger")
	require.Equal(t, 1, set.Len())
	assert.Equal(t, plan.NotComplete, set.Candidates[0].Status)
	assert.Equal(t, 1, h.count(EventIdleFallback))
}

func TestRecheckFailureWaitsForReplanInterval(t *testing.T) {
	pol := calm()
	pol.ForceReplanOnFailure = false
	h := newHarness(t, foodCatalog(), hungerSpecs, pol)
	h.w.at[10] = ent{typ: "food", q: 2}
	for i := 0; i < 4; i++ {
		h.tick()
	}
	require.Equal(t, 1, h.a.Count("food"))

	// Someone takes the food before the eat node starts.
	require.True(t, h.a.RemoveItem("food", 1))
	h.tick()
	out := h.d.LastOutcome()
	assert.Equal(t, plan.Interrupted, out.Status)
	assert.Contains(t, out.Reason, "precondition recheck failed")
	assert.Contains(t, out.Reason, "has 1 food")

	h.tick()
	assert.Equal(t, Idle, h.d.State())
	assert.Equal(t, 1, h.count(EventPlanStarted))
	assert.Equal(t, 80.0, h.a.Drives.Level("hunger"))
}

func TestEffectFailureAbandonsPlan(t *testing.T) {
	h := newHarness(t, foodCatalog(), hungerSpecs, calm())
	h.w.at[10] = ent{typ: "food", q: 2}
	h.w.failOn["pick_up_food"] = true

	h.runUntilOutcome(t, 10)
	out := h.d.LastOutcome()
	assert.Equal(t, plan.Interrupted, out.Status)
	assert.Contains(t, out.Reason, "effect application failed")
	assert.True(t, h.w.EntityExists(10))

	h.tick()
	assert.Equal(t, Acting, h.d.State())
	assert.Equal(t, 2, h.count(EventPlanStarted))
}

func TestIdleFallbackWithoutPlans(t *testing.T) {
	h := newHarness(t, foodCatalog(), hungerSpecs, calm())
	h.tick()

	assert.Equal(t, Acting, h.d.State())
	s := h.d.Snapshot()
	assert.True(t, s.Idle)
	assert.Equal(t, "wander", s.Node)
	require.Len(t, h.events, 1)
	assert.Equal(t, EventIdleFallback, h.events[0].Kind)
	assert.Equal(t, ErrNoCompletePlan.Error(), h.events[0].Reason)
}

func TestMissingIdleAction(t *testing.T) {
	cat, err := catalog.New(foodCatalog(), hungerSpecs, "")
	require.NoError(t, err)
	w := &sim{}
	reg := behavior.NewRegistry(w, 1)
	_, err = New(agents.New(1, "Bram Holt", hungerSpecs), Deps{
		Catalog:   cat,
		Planner:   planner.New(cat, w, w, planner.Config{}),
		Behaviors: reg,
		Effects:   w,
		Targets:   w,
		Checks:    w,
	}, DefaultPolicy())
	assert.ErrorIs(t, err, catalog.ErrMissingIdleAction)
}

func TestTimedEffects(t *testing.T) {
	specs := []drives.Spec{{ID: "warmth", Initial: 90}, {ID: "mood", Initial: 50}}
	tmpls := []catalog.Template{
		{
			ID:       "sunbathe",
			Cost:     10,
			Behavior: behavior.NameTimed,
			Effects: []catalog.Effect{
				{Kind: catalog.EffDriveChange, Drive: "warmth", Amount: -5, Timing: catalog.TimingRepeating, Interval: 2 * time.Second, Repeat: 3},
				{Kind: catalog.EffAddTag, Tag: "tanned", Timing: catalog.TimingDelayed, Interval: 5 * time.Second},
				{Kind: catalog.EffDriveChange, Drive: "mood", Amount: -1, Timing: catalog.TimingOnEvent, Event: "chirp"},
			},
		},
		{ID: "wander", Cost: 2, Behavior: behavior.NameAwait, Interruptible: true},
	}
	h := newHarness(t, tmpls, specs, calm())

	h.tick()
	h.tick()
	h.tick()
	h.d.NotifyEvent(h.now, "chirp", world.NoEntity)
	assert.Equal(t, 49.0, h.a.Drives.Level("mood"))
	assert.Equal(t, 90.0, h.a.Drives.Level("warmth"))

	h.runUntilOutcome(t, 20)
	assert.Equal(t, plan.Finished, h.d.LastOutcome().Status)
	assert.Equal(t, 75.0, h.a.Drives.Level("warmth"))
	assert.True(t, h.a.HasTag("tanned"))
	assert.Equal(t, 5, h.count(EventEffectFired))

	h.d.NotifyEvent(h.now, "chirp", world.NoEntity)
	assert.Equal(t, 49.0, h.a.Drives.Level("mood"))
}

func TestBetterPlanInterruptsIdle(t *testing.T) {
	h := newHarness(t, foodCatalog(), hungerSpecs, Policy{ReplanInterval: 2 * time.Second})
	h.tick()
	require.True(t, h.d.Snapshot().Idle)
	h.tick()

	h.w.at[10] = ent{typ: "food", q: 2}
	h.tick()
	assert.Equal(t, Idle, h.d.State())
	out := h.d.LastOutcome()
	assert.Equal(t, plan.Interrupted, out.Status)
	assert.Equal(t, "better plan for hunger", out.Reason)

	h.tick()
	s := h.d.Snapshot()
	assert.Equal(t, Acting, s.State)
	assert.False(t, s.Idle)
	assert.Equal(t, "pick_up_food", s.Node)
}

func TestEquivalentReplanKeepsRunningPlan(t *testing.T) {
	h := newHarness(t, foodCatalog(), hungerSpecs, Policy{ReplanInterval: time.Second})
	h.w.at[10] = ent{typ: "food", q: 3}

	h.runUntilOutcome(t, 20)
	assert.Equal(t, plan.Finished, h.d.LastOutcome().Status)
	assert.Zero(t, h.count(EventPlanInterrupted))
	assert.Equal(t, 40.0, h.a.Drives.Level("hunger"))
}

func TestInterruptCurrentPlan(t *testing.T) {
	h := newHarness(t, foodCatalog(), hungerSpecs, calm())
	h.w.at[10] = ent{typ: "food", q: 3}
	h.tick()
	h.tick()

	assert.True(t, h.d.InterruptCurrentPlan(h.now))
	assert.Equal(t, Idle, h.d.State())
	assert.Equal(t, 0, h.timedRuns())
	assert.Equal(t, "interrupted on request", h.d.LastOutcome().Reason)
	assert.False(t, h.d.InterruptCurrentPlan(h.now))

	h.tick()
	assert.Equal(t, Acting, h.d.State())
	assert.Equal(t, 2, h.count(EventPlanStarted))
}
