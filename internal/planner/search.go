package planner

import (
	"github.com/talgya/drivesim/internal/agents"
	"github.com/talgya/drivesim/internal/catalog"
	"github.com/talgya/drivesim/internal/plan"
	"github.com/talgya/drivesim/internal/world"
)

// grow expands t depth first from its root. The walk is iterative: the
// stack holds nodes still being expanded and cursor[id] is the index of the
// next precondition of id to handle. A node that added children stays on the
// stack under them and resumes once they are all resolved.
//
// Returns ErrDeadEndBranch when the root itself is pruned.
func (p *Planner) grow(a *agents.Agent, t *plan.Tree, b *budget) error {
	cursor := make([]int, t.Cap())
	stack := []plan.NodeID{t.Root()}

	for len(stack) > 0 {
		if err := b.spend(1); err != nil {
			return err
		}
		id := stack[len(stack)-1]
		if !t.Alive(id) {
			stack = stack[:len(stack)-1]
			continue
		}

		// Back from the children of the previous precondition: if every one
		// of them was pruned, that precondition cannot be fixed after all.
		if c := cursor[id]; c > 0 && t.Node(id).Pre[c-1] == plan.PreFixed && len(t.ChildrenFor(id, c-1)) == 0 {
			stack = stack[:len(stack)-1]
			if p.prune(t, id) {
				return ErrDeadEndBranch
			}
			continue
		}

		descended, dead := false, false
		for !descended && cursor[id] < len(t.Node(id).Pre) {
			if err := b.spend(1); err != nil {
				return err
			}
			pi := cursor[id]
			cursor[id]++
			pre := &t.Node(id).Template.Preconditions[pi]

			if !pre.RequiresTarget() && p.world.EvaluatePrecondition(a, pre, t, id, world.NoEntity) {
				t.Node(id).Pre[pi] = plan.PreSatisfied
				continue
			}

			provs := p.providers(a, t, id, pi)
			if len(provs) == 0 {
				if pre.RequiresTarget() {
					t.Node(id).Pre[pi] = plan.PreProvisional
					continue
				}
				dead = true
				break
			}

			t.Node(id).Pre[pi] = plan.PreFixed
			kids := make([]plan.NodeID, 0, len(provs))
			for _, prov := range provs {
				kids = append(kids, t.AddChild(id, prov.Template, pi))
			}
			for len(cursor) < t.Cap() {
				cursor = append(cursor, 0)
			}
			for i := len(kids) - 1; i >= 0; i-- {
				stack = append(stack, kids[i])
			}
			descended = true
		}

		switch {
		case dead:
			stack = stack[:len(stack)-1]
			if p.prune(t, id) {
				return ErrDeadEndBranch
			}
		case !descended:
			t.Node(id).Complete = true
			stack = stack[:len(stack)-1]
		}
	}
	return nil
}

// prune removes a dead-end node and reports whether it was the root.
// Ancestors notice an emptied precondition when they resume.
func (p *Planner) prune(t *plan.Tree, id plan.NodeID) bool {
	root := id == t.Root()
	p.log.Debug("pruned dead-end branch",
		"template", t.Node(id).Template.ID, "depth", t.Depth(id), "error", ErrDeadEndBranch)
	t.Remove(id)
	return root
}

// providers lists the templates that may become children fixing
// precondition pi of id: available to the agent, not already on the path to
// the root and within the depth limit.
func (p *Planner) providers(a *agents.Agent, t *plan.Tree, id plan.NodeID, pi int) []catalog.Provider {
	if t.Depth(id)+1 > p.cfg.MaxDepth {
		return nil
	}
	var out []catalog.Provider
	for _, prov := range p.cat.Providers(t.Node(id).Template, pi) {
		if !a.CanPerform(prov.Template) || t.OnPath(id, prov.Template) {
			continue
		}
		out = append(out, prov)
	}
	return out
}
