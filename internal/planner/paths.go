package planner

import (
	"fmt"

	"github.com/talgya/drivesim/internal/plan"
)

// unset marks a choice point not yet visited by the enumeration.
const unset plan.NodeID = -2

// decisionPaths splits a grown tree into one tree per decision path. Choice
// points are resolved in dependency layers; a choice point made unreachable
// by an earlier choice on a path does not multiply that path. All paths but
// the last are pruned copies; the last prunes t in place.
func (p *Planner) decisionPaths(t *plan.Tree, b *budget) ([]*plan.Tree, error) {
	cps := t.ChoicePoints()
	if len(cps) == 0 {
		return []*plan.Tree{t}, nil
	}

	first := make([]plan.NodeID, len(cps))
	for i := range first {
		first[i] = unset
	}
	paths := [][]plan.NodeID{first}
	resolved := make([]bool, len(cps))

	for remaining := len(cps); remaining > 0; {
		var layer []int
		for i := range cps {
			if !resolved[i] && depsResolved(cps[i], resolved) {
				layer = append(layer, i)
			}
		}
		if len(layer) == 0 {
			// Dependencies follow parent links, so they cannot cycle.
			return nil, fmt.Errorf("%w: unresolvable choice dependencies", ErrSearchCeilingExceeded)
		}

		for _, ci := range layer {
			cp := cps[ci]
			next := make([][]plan.NodeID, 0, len(paths))
			for _, path := range paths {
				if err := b.spend(1); err != nil {
					return nil, err
				}
				if !reachable(cp, path) {
					path[ci] = plan.NoNode
					next = append(next, path)
					continue
				}
				for _, c := range cp.Candidates {
					branch := append([]plan.NodeID(nil), path...)
					branch[ci] = c
					next = append(next, branch)
				}
				if len(next) > p.cfg.MaxDecisionPaths {
					return nil, fmt.Errorf("%w: more than %d decision paths", ErrSearchCeilingExceeded, p.cfg.MaxDecisionPaths)
				}
			}
			paths = next
			resolved[ci] = true
			remaining--
		}
	}

	out := make([]*plan.Tree, len(paths))
	for i, path := range paths {
		tree := t
		if i < len(paths)-1 {
			tree = t.Clone()
		}
		tree.Prune(cps, path)
		out[i] = tree
	}
	return out, nil
}

func depsResolved(cp plan.ChoicePoint, resolved []bool) bool {
	for _, d := range cp.Deps {
		if !resolved[d] {
			return false
		}
	}
	return true
}

// reachable reports whether every ancestor choice on the way to the root
// picked the candidate leading to cp.
func reachable(cp plan.ChoicePoint, path []plan.NodeID) bool {
	for k, d := range cp.Deps {
		if path[d] != cp.Via[k] {
			return false
		}
	}
	return true
}
