package engine

import (
	"sort"

	"github.com/talgya/drivesim/internal/agents"
	"github.com/talgya/drivesim/internal/catalog"
	"github.com/talgya/drivesim/internal/drives"
	"github.com/talgya/drivesim/internal/world"
)

// AgentRecord is the saved form of an agent.
type AgentRecord struct {
	ID        agents.AgentID             `json:"id"`
	Name      string                     `json:"name"`
	Position  world.HexCoord             `json:"position"`
	Entity    world.EntityID             `json:"entity"`
	Drives    map[drives.ID]float64      `json:"drives"`
	Inventory map[catalog.EntityType]int `json:"inventory,omitempty"`
	Tags      []string                   `json:"tags,omitempty"`
	Allowed   []string                   `json:"allowed"` // nil allows every template
	BornTick  uint64                     `json:"born_tick"`
}

// State is everything needed to resume a simulation on a regenerated map.
// Plans in progress are not saved; agents replan after a restore.
type State struct {
	Tick     uint64         `json:"tick"`
	Agents   []AgentRecord  `json:"agents"`
	Entities []world.Entity `json:"entities"`
}

// State copies the simulation state.
func (s *Simulation) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := State{Tick: s.CurrentTick()}
	for _, a := range s.Agents {
		st.Agents = append(st.Agents, RecordOf(a))
	}
	for _, e := range s.World.Entities() {
		st.Entities = append(st.Entities, *e)
	}
	return st
}

// RecordOf converts an agent to its saved form.
func RecordOf(a *agents.Agent) AgentRecord {
	r := AgentRecord{
		ID:        a.ID,
		Name:      a.Name,
		Position:  a.Position,
		Entity:    a.Entity,
		Drives:    a.Drives.Levels(),
		Inventory: make(map[catalog.EntityType]int, len(a.Inventory)),
		Tags:      a.TagList(),
		BornTick:  a.BornTick,
	}
	for t, n := range a.Inventory {
		r.Inventory[t] = n
	}
	if a.Allowed != nil {
		r.Allowed = []string{}
	}
	for id, ok := range a.Allowed {
		if ok {
			r.Allowed = append(r.Allowed, id)
		}
	}
	sort.Strings(r.Allowed)
	return r
}

// Agent rebuilds the agent with drives from specs at the saved levels.
func (r AgentRecord) Agent(specs []drives.Spec) *agents.Agent {
	a := agents.New(r.ID, r.Name, specs)
	a.Position = r.Position
	a.Entity = r.Entity
	a.BornTick = r.BornTick
	for id, lvl := range r.Drives {
		a.Drives.SetLevel(id, lvl)
	}
	for t, n := range r.Inventory {
		a.AddItem(t, n)
	}
	for _, t := range r.Tags {
		a.AddTag(t)
	}
	if r.Allowed != nil {
		a.Allowed = make(map[string]bool, len(r.Allowed))
		for _, id := range r.Allowed {
			a.Allowed[id] = true
		}
	}
	return a
}

// Restore puts saved entities back on a freshly generated map and rebuilds
// the agents.
func Restore(m *world.Map, st State, specs []drives.Spec) []*agents.Agent {
	for _, e := range st.Entities {
		m.Restore(e)
	}
	out := make([]*agents.Agent, 0, len(st.Agents))
	for _, r := range st.Agents {
		out = append(out, r.Agent(specs))
	}
	return out
}
