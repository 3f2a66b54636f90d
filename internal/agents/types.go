// Package agents provides the agent data model: drives, inventory, tags and
// the set of actions an agent is allowed to plan with.
package agents

import (
	"sort"

	"github.com/talgya/drivesim/internal/catalog"
	"github.com/talgya/drivesim/internal/drives"
	"github.com/talgya/drivesim/internal/world"
)

// AgentID is a unique identifier for an agent.
type AgentID uint64

// Agent is the planning subject: one body in the world with its own drives.
//
// Inventory and Tags may be touched by other agents' effects (transfer_item),
// so the simulation only reads or writes them under its world lock.
type Agent struct {
	ID   AgentID `json:"id"`
	Name string  `json:"name"`

	Position world.HexCoord `json:"position"`
	// Entity is the world entity representing this agent, so other agents
	// can target it.
	Entity world.EntityID `json:"entity"`

	Drives    *drives.Set                `json:"-"`
	Inventory map[catalog.EntityType]int `json:"inventory"`
	Tags      map[string]bool            `json:"tags,omitempty"`

	// Allowed restricts the templates this agent may plan with. Nil allows all.
	Allowed map[string]bool `json:"allowed,omitempty"`

	BornTick uint64 `json:"born_tick"`
}

// New creates an agent with fresh drives from specs.
func New(id AgentID, name string, specs []drives.Spec) *Agent {
	return &Agent{
		ID:        id,
		Name:      name,
		Drives:    drives.NewSet(specs),
		Inventory: make(map[catalog.EntityType]int),
		Tags:      make(map[string]bool),
	}
}

// CanPerform reports whether t is available to the agent.
func (a *Agent) CanPerform(t *catalog.Template) bool {
	return a.Allowed == nil || a.Allowed[t.ID]
}

// Count returns how many items of type t the agent holds.
func (a *Agent) Count(t catalog.EntityType) int {
	return a.Inventory[t]
}

// AddItem puts n items of type t into the inventory.
func (a *Agent) AddItem(t catalog.EntityType, n int) {
	if a.Inventory == nil {
		a.Inventory = make(map[catalog.EntityType]int)
	}
	a.Inventory[t] += n
}

// RemoveItem takes n items of type t. It fails without change when the
// agent holds fewer.
func (a *Agent) RemoveItem(t catalog.EntityType, n int) bool {
	if a.Inventory[t] < n {
		return false
	}
	a.Inventory[t] -= n
	if a.Inventory[t] == 0 {
		delete(a.Inventory, t)
	}
	return true
}

// HasTag reports whether the agent carries tag.
func (a *Agent) HasTag(tag string) bool {
	return a.Tags[tag]
}

// AddTag sets tag on the agent.
func (a *Agent) AddTag(tag string) {
	if a.Tags == nil {
		a.Tags = make(map[string]bool)
	}
	a.Tags[tag] = true
}

// RemoveTag clears tag.
func (a *Agent) RemoveTag(tag string) {
	delete(a.Tags, tag)
}

// TagList returns the agent's tags sorted.
func (a *Agent) TagList() []string {
	out := make([]string, 0, len(a.Tags))
	for t, on := range a.Tags {
		if on {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// ExprEnv exposes the agent's state to expression preconditions.
func (a *Agent) ExprEnv() catalog.ExprEnv {
	env := catalog.ExprEnv{
		Drives: make(map[string]float64),
		Items:  make(map[string]int, len(a.Inventory)),
		Tags:   make(map[string]bool, len(a.Tags)),
	}
	if a.Drives != nil {
		for id, lvl := range a.Drives.Levels() {
			env.Drives[string(id)] = lvl
		}
	}
	for t, n := range a.Inventory {
		env.Items[string(t)] = n
	}
	for t, on := range a.Tags {
		env.Tags[t] = on
	}
	return env
}
