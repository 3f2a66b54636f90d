package planner

import (
	"fmt"
	"strings"

	"github.com/talgya/drivesim/internal/agents"
	"github.com/talgya/drivesim/internal/catalog"
	"github.com/talgya/drivesim/internal/plan"
	"github.com/talgya/drivesim/internal/world"
)

// bindTargets walks t leftmost leaf first and binds every node that needs
// an entity target. Nodes sharing a choice group share one entity.
func (p *Planner) bindTargets(a *agents.Agent, t *plan.Tree) error {
	groups := make(map[string]world.EntityID)
	var err error
	t.Walk(func(id plan.NodeID, n *plan.Node) bool {
		q, ok := targetQuery(t, id)
		if !ok {
			return true
		}
		target, shared := world.NoEntity, false
		if q.group != "" {
			target, shared = groups[q.group]
		}
		if !shared {
			var ranked []Ranked
			if cands := p.world.KnownEntities(a, q.constraints, q.radius); len(cands) > 0 {
				ranked = p.ranker.Rank(a, t, id, cands)
			}
			if len(ranked) == 0 {
				err = fmt.Errorf("%w: %s needs %s", ErrTargetBindingFailed, n.Template.ID, describe(q.constraints))
				return false
			}
			target = ranked[0].Entity
			if q.group != "" {
				groups[q.group] = target
			}
		}
		n.Target = target
		propagate(t, id, target)
		return true
	})
	return err
}

type query struct {
	constraints []catalog.Constraint
	radius      float64
	group       string
}

// targetQuery combines the node's own target preconditions with whatever
// the parent precondition the node was created to fix adds: a target
// constraint when it is a target check itself, its radius and its group.
func targetQuery(t *plan.Tree, id plan.NodeID) (query, bool) {
	var q query
	needs := false
	tighten := func(r float64) {
		if r > 0 && (q.radius == 0 || r < q.radius) {
			q.radius = r
		}
	}
	add := func(c catalog.Constraint) {
		if c != (catalog.Constraint{}) {
			q.constraints = append(q.constraints, c)
		}
	}

	for i := range t.Node(id).Template.Preconditions {
		pre := &t.Node(id).Template.Preconditions[i]
		if !pre.RequiresTarget() {
			continue
		}
		needs = true
		add(pre.Constraint())
		tighten(pre.Radius)
		if q.group == "" {
			q.group = pre.Group
		}
	}
	if !needs {
		return q, false
	}
	if fp := t.FixedPrecondition(id); fp != nil {
		add(fp.Constraint())
		tighten(fp.Radius)
		if q.group == "" {
			q.group = fp.Group
		}
	}
	return q, true
}

// propagate writes target into the auxiliary slot declared on the parent
// precondition id fixes, continuing upward while the chain flag is set.
func propagate(t *plan.Tree, id plan.NodeID, target world.EntityID) {
	for child := id; ; {
		fp := t.FixedPrecondition(child)
		if fp == nil || fp.Slot == "" {
			return
		}
		parent := t.Node(t.Node(child).Parent)
		if parent.Aux == nil {
			parent.Aux = make(map[string]world.EntityID)
		}
		parent.Aux[fp.Slot] = target
		if !fp.Chain {
			return
		}
		child = t.Node(child).Parent
	}
}

func describe(cs []catalog.Constraint) string {
	if len(cs) == 0 {
		return "any entity"
	}
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		switch {
		case c.EntityType != "" && c.Tag != "":
			parts = append(parts, fmt.Sprintf("%s tagged %s", c.EntityType, c.Tag))
		case c.EntityType != "":
			parts = append(parts, string(c.EntityType))
		default:
			parts = append(parts, "tag "+c.Tag)
		}
	}
	return strings.Join(parts, " and ")
}
