package planner

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/drivesim/internal/agents"
	"github.com/talgya/drivesim/internal/catalog"
	"github.com/talgya/drivesim/internal/drives"
	"github.com/talgya/drivesim/internal/plan"
	"github.com/talgya/drivesim/internal/world"
)

type entity struct {
	typ  catalog.EntityType
	tags []string
	dist float64
}

// fakeWorld evaluates preconditions against agent state and serves a fixed
// entity table. Ranking is by distance; types in reject are never ranked.
type fakeWorld struct {
	entities map[world.EntityID]entity
	reject   map[catalog.EntityType]bool
}

func (w *fakeWorld) matches(e entity, c catalog.Constraint) bool {
	if c.EntityType != "" && e.typ != c.EntityType {
		return false
	}
	if c.Tag == "" {
		return true
	}
	for _, t := range e.tags {
		if t == c.Tag {
			return true
		}
	}
	return false
}

func (w *fakeWorld) KnownEntities(_ *agents.Agent, cs []catalog.Constraint, radius float64) []world.EntityID {
	var out []world.EntityID
	for id, e := range w.entities {
		if radius > 0 && e.dist > radius {
			continue
		}
		ok := true
		for _, c := range cs {
			ok = ok && w.matches(e, c)
		}
		if ok {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (w *fakeWorld) EvaluatePrecondition(a *agents.Agent, p *catalog.Precondition, _ *plan.Tree, _ plan.NodeID, target world.EntityID) bool {
	switch p.Kind {
	case catalog.PreDriveBelow:
		return a.Drives.Level(p.Drive) < p.Threshold
	case catalog.PreDriveAbove:
		return a.Drives.Level(p.Drive) > p.Threshold
	case catalog.PreHasItem:
		return a.Count(p.EntityType) >= max(p.Count, 1)
	case catalog.PreLacksItem:
		return a.Count(p.EntityType) < max(p.Count, 1)
	case catalog.PreHasTag:
		return a.HasTag(p.Tag)
	case catalog.PreLacksTag:
		return !a.HasTag(p.Tag)
	case catalog.PreExpr:
		ok, _ := catalog.EvalExpr(p, a.ExprEnv())
		return ok
	default:
		e, ok := w.entities[target]
		return ok && w.matches(e, p.Constraint())
	}
}

func (w *fakeWorld) Rank(_ *agents.Agent, _ *plan.Tree, _ plan.NodeID, cands []world.EntityID) []Ranked {
	var out []Ranked
	for _, id := range cands {
		e := w.entities[id]
		if w.reject[e.typ] {
			continue
		}
		out = append(out, Ranked{Entity: id, Score: -e.dist})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func driveChange(d drives.ID, amount float64) catalog.Effect {
	return catalog.Effect{Kind: catalog.EffDriveChange, Drive: d, Amount: amount}
}

func addItem(t catalog.EntityType) catalog.Effect {
	return catalog.Effect{Kind: catalog.EffAddItem, EntityType: t}
}

func hasItem(t catalog.EntityType) catalog.Precondition {
	return catalog.Precondition{Kind: catalog.PreHasItem, EntityType: t}
}

func near(t catalog.EntityType) catalog.Precondition {
	return catalog.Precondition{Kind: catalog.PreNearEntity, EntityType: t, Range: 1}
}

var testDrives = []drives.Spec{
	{ID: "hunger", Initial: 80},
	{ID: "thirst", Initial: 50},
	{ID: "safety", Initial: 70},
	{ID: "social", Initial: 60},
}

func build(t *testing.T, tmpls []catalog.Template, w *fakeWorld, cfg Config) (*Planner, *agents.Agent) {
	t.Helper()
	c, err := catalog.New(tmpls, testDrives, "")
	require.NoError(t, err)
	return New(c, w, w, cfg), agents.New(1, "Runa Oakley", testDrives)
}

func signatures(s *plan.Set) []string {
	var out []string
	for _, c := range s.Candidates {
		out = append(out, c.Tree.Signature())
	}
	return out
}

func scenarioA() []catalog.Template {
	return []catalog.Template{
		{
			ID:            "eat",
			Cost:          2,
			Preconditions: []catalog.Precondition{hasItem("food")},
			Effects: []catalog.Effect{
				driveChange("hunger", -40),
				{Kind: catalog.EffRemoveItem, EntityType: "food"},
			},
		},
		{
			ID:            "pick_up_food",
			Cost:          3,
			Preconditions: []catalog.Precondition{near("food")},
			Effects:       []catalog.Effect{addItem("food")},
		},
	}
}

func TestScenarioAPickUpThenEat(t *testing.T) {
	w := &fakeWorld{entities: map[world.EntityID]entity{
		10: {typ: "food", dist: 4},
		11: {typ: "food", dist: 2},
	}}
	p, a := build(t, scenarioA(), w, Config{})

	set, err := p.BuildPlanSet(a, "hunger")
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())

	c := set.Candidates[0]
	assert.Equal(t, plan.Complete, c.Status)
	assert.Equal(t, "eat(0:pick_up_food@11)", c.Tree.Signature())
	assert.Equal(t, 2, c.Tree.Len())
	assert.Equal(t, 40.0, c.DriveAmount)
	assert.Equal(t, 5.0, c.Time)

	leaf := c.Tree.LeftmostLeaf(c.Tree.Root())
	assert.Equal(t, "pick_up_food", c.Tree.Node(leaf).Template.ID)
	assert.Equal(t, plan.PreProvisional, c.Tree.Node(leaf).Pre[0])
	assert.Equal(t, plan.PreFixed, c.Tree.Node(c.Tree.Root()).Pre[0])
}

func TestSatisfiedPreconditionNeedsNoChild(t *testing.T) {
	w := &fakeWorld{}
	p, a := build(t, scenarioA(), w, Config{})
	a.AddItem("food", 1)

	set, err := p.BuildPlanSet(a, "hunger")
	require.NoError(t, err)
	require.Equal(t, []string{"eat"}, signatures(set))
	assert.Equal(t, plan.PreSatisfied, set.Candidates[0].Tree.Node(0).Pre[0])
}

func TestScenarioBChoicePointSplitsRoots(t *testing.T) {
	tmpls := []catalog.Template{
		{
			ID:            "defend",
			Preconditions: []catalog.Precondition{hasItem("weapon")},
			Effects:       []catalog.Effect{driveChange("safety", -50)},
		},
		{ID: "pick_up_sword", Preconditions: []catalog.Precondition{near("sword")}, Effects: []catalog.Effect{addItem("weapon")}},
		{ID: "pick_up_axe", Preconditions: []catalog.Precondition{near("axe")}, Effects: []catalog.Effect{addItem("weapon")}},
	}
	w := &fakeWorld{entities: map[world.EntityID]entity{
		1: {typ: "sword", dist: 3},
		2: {typ: "axe", dist: 1},
	}}
	p, a := build(t, tmpls, w, Config{})

	set, err := p.BuildPlanSet(a, "safety")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"defend(0:pick_up_sword@1)",
		"defend(0:pick_up_axe@2)",
	}, signatures(set))
	assert.NotEqual(t, set.Candidates[0].Tree.ID, set.Candidates[1].Tree.ID)
	for _, c := range set.Candidates {
		assert.Equal(t, plan.Complete, c.Status)
		assert.True(t, c.Tree.Exclusive())
	}
	// Equal costs and no travel estimate: the tie goes to the first root.
	best, ok := set.Best()
	require.True(t, ok)
	assert.Equal(t, 0, best)
}

func TestScenarioCUnrankedRootExcluded(t *testing.T) {
	tmpls := append(scenarioA(), catalog.Template{
		ID:            "graze",
		Cost:          6,
		Preconditions: []catalog.Precondition{near("berry_bush")},
		Effects:       []catalog.Effect{driveChange("hunger", -20)},
	})
	w := &fakeWorld{
		entities: map[world.EntityID]entity{
			10: {typ: "food", dist: 1},
			20: {typ: "berry_bush", dist: 2},
		},
		reject: map[catalog.EntityType]bool{"food": true},
	}
	p, a := build(t, tmpls, w, Config{})

	set, err := p.BuildPlanSet(a, "hunger")
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())

	eat := set.Candidates[0]
	assert.Equal(t, plan.NotComplete, eat.Status)
	assert.Contains(t, eat.Reason, ErrTargetBindingFailed.Error())
	assert.False(t, eat.Tree.IsComplete(eat.Tree.Root()))

	assert.Equal(t, plan.Complete, set.Candidates[1].Status)
	assert.Equal(t, []int{1}, set.Selectable())
	best, ok := set.Best()
	require.True(t, ok)
	assert.Equal(t, "graze@20", set.Candidates[best].Tree.Signature())
}

func TestNoCandidatesAtAllFailsBinding(t *testing.T) {
	p, a := build(t, scenarioA(), &fakeWorld{}, Config{})
	set, err := p.BuildPlanSet(a, "hunger")
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())
	assert.Equal(t, plan.NotComplete, set.Candidates[0].Status)
	_, ok := set.Best()
	assert.False(t, ok)
}

func TestDeadEndBacktracksToAlternative(t *testing.T) {
	tmpls := []catalog.Template{
		{ID: "eat", Preconditions: []catalog.Precondition{hasItem("food")}, Effects: []catalog.Effect{driveChange("hunger", -30)}},
		// Needs a tag nothing grants: dead end.
		{ID: "steal_food", Preconditions: []catalog.Precondition{{Kind: catalog.PreHasTag, Tag: "thief"}}, Effects: []catalog.Effect{addItem("food")}},
		{ID: "buy_food", Effects: []catalog.Effect{addItem("food")}},
	}
	p, a := build(t, tmpls, &fakeWorld{}, Config{})

	set, err := p.BuildPlanSet(a, "hunger")
	require.NoError(t, err)
	assert.Equal(t, []string{"eat(0:buy_food)"}, signatures(set))
	assert.Equal(t, plan.Complete, set.Candidates[0].Status)
}

func TestDeadEndCascadesToRoot(t *testing.T) {
	tmpls := []catalog.Template{
		{ID: "eat", Preconditions: []catalog.Precondition{hasItem("food")}, Effects: []catalog.Effect{driveChange("hunger", -30)}},
		{ID: "steal_food", Preconditions: []catalog.Precondition{{Kind: catalog.PreHasTag, Tag: "thief"}}, Effects: []catalog.Effect{addItem("food")}},
		{ID: "nap", Preconditions: []catalog.Precondition{{Kind: catalog.PreLacksTag, Tag: "awake"}}, Effects: []catalog.Effect{driveChange("hunger", -5)}},
	}
	p, a := build(t, tmpls, &fakeWorld{}, Config{})

	set, err := p.BuildPlanSet(a, "hunger")
	require.NoError(t, err)
	assert.Equal(t, []string{"nap"}, signatures(set))
}

func TestItemCountLimitsProviders(t *testing.T) {
	twoFood := catalog.Precondition{Kind: catalog.PreHasItem, EntityType: "food", Count: 2}
	tmpls := []catalog.Template{
		{ID: "feast", Preconditions: []catalog.Precondition{twoFood}, Effects: []catalog.Effect{driveChange("hunger", -60)}},
		{ID: "pick_up_food", Effects: []catalog.Effect{addItem("food")}},
		{ID: "cook", Cost: 4, Effects: []catalog.Effect{{Kind: catalog.EffAddItem, EntityType: "food", Count: 2}}},
	}
	p, a := build(t, tmpls, &fakeWorld{}, Config{})

	set, err := p.BuildPlanSet(a, "hunger")
	require.NoError(t, err)
	assert.Equal(t, []string{"feast(0:cook)"}, signatures(set))
	assert.Equal(t, plan.Complete, set.Candidates[0].Status)

	// Without a two-item provider nothing can complete the feast.
	p, a = build(t, tmpls[:2], &fakeWorld{}, Config{})
	set, err = p.BuildPlanSet(a, "hunger")
	require.NoError(t, err)
	_, ok := set.Best()
	assert.False(t, ok)
}

func TestCyclicCatalogTerminates(t *testing.T) {
	tag := func(k catalog.PreconditionKind, s string) catalog.Precondition {
		return catalog.Precondition{Kind: k, Tag: s}
	}
	grant := func(s string) catalog.Effect { return catalog.Effect{Kind: catalog.EffAddTag, Tag: s} }
	tmpls := []catalog.Template{
		{ID: "rest", Preconditions: []catalog.Precondition{tag(catalog.PreHasTag, "p")}, Effects: []catalog.Effect{driveChange("hunger", -1)}},
		{ID: "a", Preconditions: []catalog.Precondition{tag(catalog.PreHasTag, "q")}, Effects: []catalog.Effect{grant("p")}},
		{ID: "b", Preconditions: []catalog.Precondition{tag(catalog.PreHasTag, "p")}, Effects: []catalog.Effect{grant("q")}},
	}
	p, a := build(t, tmpls, &fakeWorld{}, Config{})

	set, err := p.BuildPlanSet(a, "hunger")
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
}

func TestIterationCeilingAbortsPass(t *testing.T) {
	p, a := build(t, scenarioA(), &fakeWorld{}, Config{MaxIterations: 2})

	set, err := p.BuildPlanSet(a, "hunger")
	require.ErrorIs(t, err, ErrSearchCeilingExceeded)
	assert.Equal(t, 0, set.Len())
	assert.Equal(t, drives.ID("hunger"), set.Drive)
}

func TestDecisionPathCeiling(t *testing.T) {
	tmpls := []catalog.Template{
		{ID: "eat", Preconditions: []catalog.Precondition{hasItem("food")}, Effects: []catalog.Effect{driveChange("hunger", -30)}},
		{ID: "buy", Effects: []catalog.Effect{addItem("food")}},
		{ID: "beg", Effects: []catalog.Effect{addItem("food")}},
		{ID: "find", Effects: []catalog.Effect{addItem("food")}},
	}
	p, a := build(t, tmpls, &fakeWorld{}, Config{MaxDecisionPaths: 2})

	_, err := p.BuildPlanSet(a, "hunger")
	require.ErrorIs(t, err, ErrSearchCeilingExceeded)
}

func TestDependentChoicesDoNotMultiplyUnreachablePaths(t *testing.T) {
	tmpls := []catalog.Template{
		{ID: "r", Preconditions: []catalog.Precondition{hasItem("x")}, Effects: []catalog.Effect{driveChange("hunger", -10)}},
		{ID: "m1", Preconditions: []catalog.Precondition{hasItem("y")}, Effects: []catalog.Effect{addItem("x")}},
		{ID: "m2", Effects: []catalog.Effect{addItem("x")}},
		{ID: "n1", Effects: []catalog.Effect{addItem("y")}},
		{ID: "n2", Effects: []catalog.Effect{addItem("y")}},
	}
	p, a := build(t, tmpls, &fakeWorld{}, Config{})

	set, err := p.BuildPlanSet(a, "hunger")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"r(0:m1(0:n1))",
		"r(0:m1(0:n2))",
		"r(0:m2)",
	}, signatures(set))
	for _, c := range set.Candidates {
		assert.True(t, c.Tree.Exclusive(), c.Tree.Signature())
		assert.True(t, c.Tree.IsComplete(c.Tree.Root()))
		assert.Equal(t, c.Tree.Len(), c.Tree.Cap(), "compacted")
	}
}

func TestMaxDepthStopsChaining(t *testing.T) {
	tmpls := []catalog.Template{
		{ID: "r", Preconditions: []catalog.Precondition{hasItem("x")}, Effects: []catalog.Effect{driveChange("hunger", -10)}},
		{ID: "m", Preconditions: []catalog.Precondition{hasItem("y")}, Effects: []catalog.Effect{addItem("x")}},
		{ID: "n", Effects: []catalog.Effect{addItem("y")}},
	}
	p, a := build(t, tmpls, &fakeWorld{}, Config{MaxDepth: 1})

	set, err := p.BuildPlanSet(a, "hunger")
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
}

func TestAllowedActionsFilterProviders(t *testing.T) {
	w := &fakeWorld{entities: map[world.EntityID]entity{10: {typ: "food"}}}
	p, a := build(t, scenarioA(), w, Config{})
	a.Allowed = map[string]bool{"eat": true}

	set, err := p.BuildPlanSet(a, "hunger")
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
}

func TestAuxSlotPropagatesAlongChain(t *testing.T) {
	tmpls := []catalog.Template{
		{
			ID: "give",
			Preconditions: []catalog.Precondition{
				near("person"),
				{Kind: catalog.PreHasItem, EntityType: "parcel", Slot: "parcel"},
			},
			Effects: []catalog.Effect{driveChange("social", -30)},
		},
		{
			ID:            "wrap",
			Preconditions: []catalog.Precondition{{Kind: catalog.PreHasItem, EntityType: "food", Slot: "inner", Chain: true}},
			Effects:       []catalog.Effect{addItem("parcel")},
		},
		{ID: "pick_up_food", Preconditions: []catalog.Precondition{near("food")}, Effects: []catalog.Effect{addItem("food")}},
	}
	w := &fakeWorld{entities: map[world.EntityID]entity{
		10: {typ: "food", dist: 1},
		20: {typ: "person", dist: 2},
	}}
	p, a := build(t, tmpls, w, Config{})

	set, err := p.BuildPlanSet(a, "social")
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())
	tr := set.Candidates[0].Tree
	assert.Equal(t, "give@20(1:wrap(0:pick_up_food@10))", tr.Signature())

	root := tr.Node(tr.Root())
	assert.Equal(t, world.EntityID(10), root.Aux["parcel"])
	wrap := tr.Node(root.Children[0])
	assert.Equal(t, world.EntityID(10), wrap.Aux["inner"])
}

func TestGroupSharesOneTarget(t *testing.T) {
	grouped := func(group string) []catalog.Template {
		thing := near("thing")
		thing.Group = group
		blue := catalog.Precondition{Kind: catalog.PreNearEntity, EntityType: "thing", Tag: "blue", Group: group}
		return []catalog.Template{
			{ID: "r", Preconditions: []catalog.Precondition{hasItem("a"), hasItem("b")}, Effects: []catalog.Effect{driveChange("hunger", -10)}},
			{ID: "get_a", Preconditions: []catalog.Precondition{thing}, Effects: []catalog.Effect{addItem("a")}},
			{ID: "get_b", Preconditions: []catalog.Precondition{blue}, Effects: []catalog.Effect{addItem("b")}},
		}
	}
	w := &fakeWorld{entities: map[world.EntityID]entity{
		1: {typ: "thing", dist: 1},
		2: {typ: "thing", tags: []string{"blue"}, dist: 5},
	}}

	p, a := build(t, grouped(""), w, Config{})
	set, err := p.BuildPlanSet(a, "hunger")
	require.NoError(t, err)
	assert.Equal(t, []string{"r(0:get_a@1,1:get_b@2)"}, signatures(set))

	p, a = build(t, grouped("g"), w, Config{})
	set, err = p.BuildPlanSet(a, "hunger")
	require.NoError(t, err)
	assert.Equal(t, []string{"r(0:get_a@1,1:get_b@1)"}, signatures(set))
}

func TestRadiusLimitsCandidates(t *testing.T) {
	tmpls := scenarioA()
	tmpls[1].Preconditions[0].Radius = 3
	w := &fakeWorld{entities: map[world.EntityID]entity{10: {typ: "food", dist: 4}}}
	p, a := build(t, tmpls, w, Config{})

	set, err := p.BuildPlanSet(a, "hunger")
	require.NoError(t, err)
	assert.Equal(t, plan.NotComplete, set.Candidates[0].Status)
}

func TestScoring(t *testing.T) {
	tmpls := scenarioA()
	tmpls[0].Effects = append(tmpls[0].Effects,
		driveChange("thirst", 10),
		catalog.Effect{Kind: catalog.EffAddTag, Tag: "full", Utility: -2},
	)
	w := &fakeWorld{entities: map[world.EntityID]entity{10: {typ: "food"}}}
	p, a := build(t, tmpls, w, Config{TimeWeight: 0.5, CrossDriveWeight: 0.2})

	set, err := p.BuildPlanSet(a, "hunger")
	require.NoError(t, err)
	c := set.Candidates[0]
	assert.Equal(t, 40.0, c.DriveAmount)
	assert.Equal(t, 5.0, c.Time)
	// thirst 50 on a linear curve: urgency 0.5; 10 * 0.2 * 0.5 - 2
	assert.InDelta(t, -1.0, c.SideEffect, 1e-9)
	assert.InDelta(t, 41.0/3.5, c.Utility, 1e-9)
}

type fixedTime float64

func (f fixedTime) EstimatedTime(*agents.Agent, *plan.Tree, plan.NodeID) float64 {
	return float64(f)
}

func TestTimeEstimatorOverridesCost(t *testing.T) {
	w := &fakeWorld{entities: map[world.EntityID]entity{10: {typ: "food"}}}
	c, err := catalog.New(scenarioA(), testDrives, "")
	require.NoError(t, err)
	p := New(c, w, w, Config{}, WithTimeEstimator(fixedTime(7)))

	set, err := p.BuildPlanSet(agents.New(1, "x", testDrives), "hunger")
	require.NoError(t, err)
	assert.Equal(t, 14.0, set.Candidates[0].Time)
}

type projection struct {
	Signature   string
	Status      plan.Status
	DriveAmount float64
	Time        float64
	SideEffect  float64
	Utility     float64
	Reason      string
}

func project(s *plan.Set) []projection {
	var out []projection
	for _, c := range s.Candidates {
		out = append(out, projection{
			Signature:   c.Tree.Signature(),
			Status:      c.Status,
			DriveAmount: c.DriveAmount,
			Time:        c.Time,
			SideEffect:  c.SideEffect,
			Utility:     c.Utility,
			Reason:      c.Reason,
		})
	}
	return out
}

func TestPlanningIsDeterministic(t *testing.T) {
	tmpls := append(scenarioA(),
		catalog.Template{ID: "graze", Cost: 6, Preconditions: []catalog.Precondition{near("berry_bush")}, Effects: []catalog.Effect{driveChange("hunger", -20)}},
		catalog.Template{ID: "buy_food", Cost: 9, Effects: []catalog.Effect{addItem("food")}},
	)
	w := &fakeWorld{entities: map[world.EntityID]entity{
		10: {typ: "food", dist: 3},
		11: {typ: "food", dist: 3},
		20: {typ: "berry_bush", dist: 2},
	}}
	p, a := build(t, tmpls, w, Config{})

	first, err := p.BuildPlanSet(a, "hunger")
	require.NoError(t, err)
	second, err := p.BuildPlanSet(a, "hunger")
	require.NoError(t, err)

	require.NotEmpty(t, first.Candidates)
	if diff := cmp.Diff(project(first), project(second)); diff != "" {
		t.Errorf("plan sets differ (-first +second):\n%s", diff)
	}
}
