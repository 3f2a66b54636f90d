package engine

import (
	"sort"

	"github.com/talgya/drivesim/internal/agents"
	"github.com/talgya/drivesim/internal/catalog"
	"github.com/talgya/drivesim/internal/phi"
	"github.com/talgya/drivesim/internal/plan"
	"github.com/talgya/drivesim/internal/planner"
	"github.com/talgya/drivesim/internal/world"
)

// AgentEntityType is the entity type representing agents in the world.
const AgentEntityType catalog.EntityType = "agent"

// riskWeight converts an entity's risk into hexes of extra distance when ranking.
var riskWeight = phi.Being

// worldView is the simulation as the planner, behaviors and decider see it.
// Every method takes the simulation lock itself: reads share it, mutations
// hold it exclusively. Agent inventories and tags are only touched here,
// since transfers write another agent's state.
type worldView struct {
	s *Simulation
}

func (v worldView) KnownEntities(a *agents.Agent, cs []catalog.Constraint, radius float64) []world.EntityID {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	ids := v.s.World.Find(cs, a.Position, radius)
	out := ids[:0]
	for _, id := range ids {
		if id != a.Entity {
			out = append(out, id)
		}
	}
	return out
}

func (v worldView) EvaluatePrecondition(a *agents.Agent, p *catalog.Precondition, _ *plan.Tree, _ plan.NodeID, target world.EntityID) bool {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
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
		ok, err := catalog.EvalExpr(p, a.ExprEnv())
		return err == nil && ok
	case catalog.PreNearEntity:
		// Getting within range is the behavior's job; here the target only
		// has to exist, match and lie inside the search radius.
		e, ok := v.s.World.Entity(target)
		if !ok || !e.Satisfies(p.Constraint()) {
			return false
		}
		return p.Radius <= 0 || float64(world.Distance(a.Position, e.Position)) <= p.Radius
	case catalog.PreTargetHasTag:
		e, ok := v.s.World.Entity(target)
		return ok && e.HasTag(p.Tag)
	}
	return false
}

// Rank prefers near, low-risk targets. Ties go to the lower id.
func (v worldView) Rank(a *agents.Agent, _ *plan.Tree, _ plan.NodeID, cands []world.EntityID) []planner.Ranked {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := make([]planner.Ranked, 0, len(cands))
	for _, id := range cands {
		e, ok := v.s.World.Entity(id)
		if !ok {
			continue
		}
		score := -float64(world.Distance(a.Position, e.Position)) - e.Risk*riskWeight
		out = append(out, planner.Ranked{Entity: id, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Entity < out[j].Entity
	})
	return out
}

func (v worldView) EntityExists(id world.EntityID) bool {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	return v.s.World.Exists(id)
}

func (v worldView) DistanceTo(a *agents.Agent, target world.EntityID) (int, bool) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	e, ok := v.s.World.Entity(target)
	if !ok {
		return 0, false
	}
	return world.Distance(a.Position, e.Position), true
}

// StepToward moves the agent one hex toward target. A step off the map
// fails like a lost target.
func (v worldView) StepToward(a *agents.Agent, target world.EntityID) bool {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	e, ok := v.s.World.Entity(target)
	if !ok {
		return false
	}
	next := world.StepToward(a.Position, e.Position)
	if v.s.World.Get(next) == nil {
		return false
	}
	a.Position = next
	v.s.World.Move(a.Entity, next)
	return true
}

// Apply performs one effect for agent a. The acting agent is the subject of
// drive, item and tag changes; target is the picked-up entity or the
// recipient of a transfer.
func (v worldView) Apply(a *agents.Agent, target world.EntityID, e *catalog.Effect, _ *plan.Tree, _ plan.NodeID) (bool, float64) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	n := e.Quantity()
	switch e.Kind {
	case catalog.EffDriveChange:
		applied, ok := a.Drives.Adjust(e.Drive, e.Amount)
		return ok, applied
	case catalog.EffAddItem:
		// A target of the item's own type is picked up; any other target
		// (a bush, a fire) is only the place the item is produced at.
		if target != world.NoEntity {
			ent, ok := v.s.World.Entity(target)
			if !ok {
				return false, 0
			}
			if ent.Type == e.EntityType {
				if ent.Agent != 0 {
					return false, 0
				}
				v.s.World.Remove(target)
			}
		}
		a.AddItem(e.EntityType, n)
	case catalog.EffRemoveItem:
		if !a.RemoveItem(e.EntityType, n) {
			return false, 0
		}
	case catalog.EffAddTag:
		a.AddTag(e.Tag)
	case catalog.EffRemoveTag:
		a.RemoveTag(e.Tag)
	case catalog.EffTransferItem:
		to := v.s.agentFor(target)
		if to == nil || to == a || !a.RemoveItem(e.EntityType, n) {
			return false, 0
		}
		to.AddItem(e.EntityType, n)
	default:
		return false, 0
	}
	return true, float64(n)
}
