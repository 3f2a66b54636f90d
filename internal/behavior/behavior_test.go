package behavior

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/drivesim/internal/agents"
	"github.com/talgya/drivesim/internal/catalog"
	"github.com/talgya/drivesim/internal/plan"
	"github.com/talgya/drivesim/internal/world"
)

// lineMover places entities on the q axis; agents move one hex per step.
type lineMover struct {
	at    map[world.EntityID]int
	moves int
}

func (m *lineMover) DistanceTo(a *agents.Agent, target world.EntityID) (int, bool) {
	q, ok := m.at[target]
	if !ok {
		return 0, false
	}
	return world.Distance(a.Position, world.HexCoord{Q: q}), true
}

func (m *lineMover) StepToward(a *agents.Agent, target world.EntityID) bool {
	q, ok := m.at[target]
	if !ok {
		return false
	}
	a.Position = world.StepToward(a.Position, world.HexCoord{Q: q})
	m.moves++
	return true
}

func step(t *testing.T, tmpl *catalog.Template, target world.EntityID) Step {
	t.Helper()
	tr := plan.NewTree("hunger", tmpl)
	tr.Node(tr.Root()).Target = target
	return Step{
		Agent: agents.New(1, "Iris Marsh", nil),
		Tree:  tr,
		Node:  tr.Root(),
		Now:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

var pickUp = &catalog.Template{
	ID:            "pick_up_food",
	Cost:          2,
	Preconditions: []catalog.Precondition{{Kind: catalog.PreNearEntity, EntityType: "food", Range: 1}},
}

func TestTimedTravelsThenWaits(t *testing.T) {
	m := &lineMover{at: map[world.EntityID]int{7: 4}}
	b := NewTimed(m, 1.5)
	s := step(t, pickUp, 7)

	// 4 hexes away, range 1: three hops of travel plus two seconds of work.
	assert.Equal(t, 2+3*1.5, b.EstimatedTime(s))

	require.NoError(t, b.Start(s))
	ticks := 0
	for {
		ticks++
		running, err := b.Update(s)
		require.NoError(t, err)
		if !running {
			break
		}
		s.Now = s.Now.Add(time.Second)
		require.Less(t, ticks, 20)
	}
	assert.Equal(t, 3, m.moves)
	assert.Equal(t, world.HexCoord{Q: 3}, s.Agent.Position)
	// 3 travel ticks, then the wait starts and needs 2 more seconds.
	assert.Equal(t, 6, ticks)
	assert.Equal(t, 0, b.Active())
}

func TestTimedFailsWhenTargetVanishes(t *testing.T) {
	m := &lineMover{at: map[world.EntityID]int{7: 5}}
	b := NewTimed(m, 1)
	s := step(t, pickUp, 7)
	require.NoError(t, b.Start(s))

	running, err := b.Update(s)
	require.NoError(t, err)
	require.True(t, running)

	delete(m.at, 7)
	running, err = b.Update(s)
	assert.False(t, running)
	assert.ErrorIs(t, err, ErrTargetLost)
	assert.Equal(t, 0, b.Active())
}

func TestTimedWithoutTargetOnlyWaits(t *testing.T) {
	b := NewTimed(&lineMover{}, 1)
	s := step(t, &catalog.Template{ID: "sleep", Cost: 0}, world.NoEntity)
	require.NoError(t, b.Start(s))

	running, err := b.Update(s)
	require.NoError(t, err)
	assert.False(t, running)
}

func TestTimedInterruptAndUnknownRun(t *testing.T) {
	b := NewTimed(&lineMover{}, 1)
	s := step(t, &catalog.Template{ID: "sleep", Cost: 10}, world.NoEntity)

	_, err := b.Update(s)
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, b.Start(s))
	assert.Equal(t, 1, b.Active())
	b.Interrupt(s)
	assert.Equal(t, 0, b.Active())
}

func TestAwaitCompletesOnMatchingEvent(t *testing.T) {
	b := NewAwait(DoneEvent)
	s := step(t, &catalog.Template{ID: "play", Cost: 4}, 9)
	require.NoError(t, b.Start(s))

	running, err := b.Update(s)
	require.NoError(t, err)
	assert.True(t, running)

	b.Notify(s, "collision", world.NoEntity)
	b.Notify(s, DoneEvent, 3)
	running, _ = b.Update(s)
	assert.True(t, running)

	b.Notify(s, DoneEvent, 9)
	running, err = b.Update(s)
	require.NoError(t, err)
	assert.False(t, running)
	assert.Equal(t, 4.0, b.EstimatedTime(s))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(&lineMover{at: map[world.EntityID]int{7: 3}}, 2)
	assert.Equal(t, []string{NameAwait, NameInstant, NameTimed}, r.Names())

	b, ok := r.Lookup("")
	require.True(t, ok)
	assert.IsType(t, &Timed{}, b)

	assert.NoError(t, r.Validate([]string{NameTimed, NameInstant}))
	err := r.Validate([]string{"dance"})
	assert.ErrorIs(t, err, ErrUnknownBehavior)

	s := step(t, pickUp, 7)
	assert.Equal(t, 2+2*2.0, r.EstimatedTime(s.Agent, s.Tree, s.Node))

	odd := step(t, &catalog.Template{ID: "odd", Behavior: "dance", Cost: 3}, world.NoEntity)
	assert.Equal(t, 3.0, r.EstimatedTime(odd.Agent, odd.Tree, odd.Node))
}
