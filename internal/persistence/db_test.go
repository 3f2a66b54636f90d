package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/drivesim/internal/agents"
	"github.com/talgya/drivesim/internal/behavior"
	"github.com/talgya/drivesim/internal/catalog"
	"github.com/talgya/drivesim/internal/drives"
	"github.com/talgya/drivesim/internal/engine"
	"github.com/talgya/drivesim/internal/plan"
	"github.com/talgya/drivesim/internal/world"
)

func sampleState() engine.State {
	return engine.State{
		Tick: 42,
		Agents: []engine.AgentRecord{
			{
				ID:        1,
				Name:      "Iris Marsh",
				Position:  world.HexCoord{Q: 1, R: -1},
				Entity:    3,
				Drives:    map[drives.ID]float64{"hunger": 12.5, "thirst": 60},
				Inventory: map[catalog.EntityType]int{"food": 2},
				Tags:      []string{"tanned"},
				Allowed:   []string{"eat", "wander"},
				BornTick:  7,
			},
			{
				ID:       2,
				Name:     "Tom Reed",
				Entity:   4,
				Drives:   map[drives.ID]float64{"hunger": 0},
				BornTick: 7,
			},
		},
		Entities: []world.Entity{
			{ID: 1, Type: "food", Position: world.HexCoord{Q: 2}, Risk: 0.5},
			{ID: 3, Type: engine.AgentEntityType, Position: world.HexCoord{Q: 1, R: -1}, Tags: map[string]bool{"person": true}, Agent: 1},
			{ID: 4, Type: engine.AgentEntityType, Tags: map[string]bool{"person": true}, Agent: 2},
		},
	}
}

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// emptyCollections treats nil and empty maps and slices alike, since JSON
// columns and omitempty fields do not preserve the difference.
var emptyCollections = cmpopts.EquateEmpty()

func TestSaveAndLoadState(t *testing.T) {
	db := openTemp(t)
	assert.False(t, db.HasWorldState())

	want := sampleState()
	require.NoError(t, db.SaveState(want))
	assert.True(t, db.HasWorldState())

	got, err := db.LoadState()
	require.NoError(t, err)
	if diff := cmp.Diff(want, got, emptyCollections); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}

	// A second save replaces rather than appends.
	want.Agents = want.Agents[:1]
	require.NoError(t, db.SaveState(want))
	got, err = db.LoadState()
	require.NoError(t, err)
	assert.Len(t, got.Agents, 1)

	tick, err := db.GetMeta("last_tick")
	require.NoError(t, err)
	assert.Equal(t, "42", tick)
}

func TestEmptyAllowListSurvivesSave(t *testing.T) {
	db := openTemp(t)
	st := sampleState()
	st.Agents[0].Allowed = []string{}
	require.NoError(t, db.SaveState(st))

	got, err := db.LoadState()
	require.NoError(t, err)
	require.Len(t, got.Agents, 2)
	require.NotNil(t, got.Agents[0].Allowed)
	assert.Empty(t, got.Agents[0].Allowed)
	assert.Nil(t, got.Agents[1].Allowed)

	eat := &catalog.Template{ID: "eat"}
	assert.False(t, got.Agents[0].Agent(nil).CanPerform(eat))
	assert.True(t, got.Agents[1].Agent(nil).CanPerform(eat))
}

func TestPlanRunsJournal(t *testing.T) {
	db := openTemp(t)
	runs := []engine.PlanRun{
		{ID: uuid.New(), Agent: 1, Drive: "hunger", Signature: "eat(0:pick_up_food@1)", Utility: 3.2, Status: plan.Finished, StartTick: 1, EndTick: 5},
		{ID: uuid.New(), Agent: 2, Drive: "thirst", Signature: "drink", Status: plan.Interrupted, Reason: "target vanished", StartTick: 2, EndTick: 3},
		{ID: uuid.New(), Agent: 1, Drive: "fatigue", Signature: "sleep", Status: plan.Finished, StartTick: 6, EndTick: 9},
	}
	require.NoError(t, db.SavePlanRuns(runs))
	require.NoError(t, db.SavePlanRuns(nil))

	all, err := db.PlanRuns(0, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, runs[2], all[0])

	mine, err := db.PlanRuns(1, 1)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "sleep", mine[0].Signature)

	theirs, err := db.PlanRuns(2, 10)
	require.NoError(t, err)
	require.Len(t, theirs, 1)
	assert.Equal(t, plan.Interrupted, theirs[0].Status)
	assert.Equal(t, "target vanished", theirs[0].Reason)
}

func TestEventsNewestFirst(t *testing.T) {
	db := openTemp(t)
	at := time.Date(2026, 1, 1, 6, 0, 1, 0, time.UTC)
	require.NoError(t, db.SaveEvents([]engine.Event{
		{Tick: 1, Time: at, Category: "plan", Kind: "plan_started", Agent: 1, Drive: "hunger", Plan: uuid.NewString(), Description: "eat"},
		{Tick: 2, Time: at.Add(time.Second), Category: "admin", Kind: "remove", Target: 9, Description: "entity #9 destroyed"},
	}))

	evs, err := db.RecentEvents(1)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "entity #9 destroyed", evs[0].Description)
	assert.Equal(t, world.EntityID(9), evs[0].Target)
	assert.True(t, at.Add(time.Second).Equal(evs[0].Time))

	evs, err = db.RecentEvents(10)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, drives.ID("hunger"), evs[1].Drive)
}

func TestSaveWorldStateDrainsJournal(t *testing.T) {
	specs := []drives.Spec{{ID: "hunger", Initial: 80, Threshold: 50}}
	cat, err := catalog.New([]catalog.Template{
		{
			ID:            "eat",
			Cost:          1,
			Behavior:      behavior.NameInstant,
			Interruptible: true,
			Preconditions: []catalog.Precondition{{Kind: catalog.PreNearEntity, EntityType: "food", Range: 1}},
			Effects: []catalog.Effect{
				{Kind: catalog.EffDriveChange, Drive: "hunger", Amount: -50},
			},
		},
		{ID: "wander", Cost: 2, Behavior: behavior.NameTimed, Interruptible: true},
	}, specs, "wander")
	require.NoError(t, err)

	m := world.NewMap(2)
	for q := -2; q <= 2; q++ {
		for r := -2; r <= 2; r++ {
			c := world.HexCoord{Q: q, R: r}
			if world.Distance(c, world.HexCoord{}) <= 2 {
				m.Set(&world.Hex{Coord: c, Terrain: world.TerrainPlains})
			}
		}
	}
	m.Spawn("food", world.HexCoord{Q: 1})
	a := agents.New(1, "Iris Marsh", specs)
	sim, err := engine.NewSimulation(cat, m, []*agents.Agent{a}, engine.Options{Workers: 1, Seed: 1})
	require.NoError(t, err)
	eng := engine.NewEngine()
	eng.OnTick = sim.TickStep
	for i := 0; i < 3; i++ {
		eng.Advance()
	}

	db := openTemp(t)
	require.NoError(t, db.SaveWorldState(sim))
	assert.Empty(t, sim.DrainEvents())
	assert.Empty(t, sim.DrainPlanRuns())

	runs, err := db.PlanRuns(1, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, drives.ID("hunger"), runs[0].Drive)
	assert.Equal(t, plan.Finished, runs[0].Status)

	st, err := db.LoadState()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), st.Tick)
	require.Len(t, st.Agents, 1)
	assert.Equal(t, 30.0, st.Agents[0].Drives["hunger"])
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "snap.json.zst")
	want := sampleState()
	require.NoError(t, WriteSnapshot(path, want))

	hdr, got, err := ReadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, SnapshotVersion, hdr.Version)
	assert.Equal(t, uint64(42), hdr.Tick)
	assert.Equal(t, 2, hdr.Agents)
	if diff := cmp.Diff(want, got, emptyCollections); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	_, _, err = ReadSnapshot(filepath.Join(t.TempDir(), "none.zst"))
	assert.Error(t, err)
}
