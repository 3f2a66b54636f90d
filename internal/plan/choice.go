package plan

// ChoicePoint is a (node, precondition) pair fixed by two or more candidate
// children.
type ChoicePoint struct {
	Node       NodeID
	Pre        int
	Candidates []NodeID
	// Deps are indices of the other choice points whose candidate edges lie
	// on the path from Node to the root. Via[i] is the candidate of Deps[i]
	// that the path passes through.
	Deps []int
	Via  []NodeID
}

// ChoicePoints lists every choice point of t in pre-order, then by
// precondition index, with dependencies filled in.
func (t *Tree) ChoicePoints() []ChoicePoint {
	if !t.Alive(t.root) {
		return nil
	}
	var cps []ChoicePoint
	// byEdge maps a candidate child to the choice point it belongs to.
	byEdge := make(map[NodeID]int)
	stack := []NodeID{t.root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &t.nodes[id]
		for pi := range n.Template.Preconditions {
			kids := t.ChildrenFor(id, pi)
			if len(kids) < 2 {
				continue
			}
			for _, k := range kids {
				byEdge[k] = len(cps)
			}
			cps = append(cps, ChoicePoint{Node: id, Pre: pi, Candidates: kids})
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
	for i := range cps {
		for n := cps[i].Node; n != NoNode; n = t.nodes[n].Parent {
			if cp, ok := byEdge[n]; ok {
				cps[i].Deps = append(cps[i].Deps, cp)
				cps[i].Via = append(cps[i].Via, n)
			}
		}
	}
	return cps
}

// Prune keeps only the chosen child of each choice point and removes its
// siblings for the same precondition. chosen maps a choice point index to
// the kept candidate; NoNode entries are skipped.
func (t *Tree) Prune(cps []ChoicePoint, chosen []NodeID) {
	for i, cp := range cps {
		keep := chosen[i]
		if keep == NoNode || !t.Alive(cp.Node) {
			continue
		}
		for _, c := range cp.Candidates {
			if c != keep {
				t.Remove(c)
			}
		}
	}
}

// Exclusive reports whether every (node, precondition) pair has at most one
// fixing child.
func (t *Tree) Exclusive() bool {
	ok := true
	t.Walk(func(id NodeID, n *Node) bool {
		seen := make(map[int]bool, len(n.ChildPre))
		for _, pi := range n.ChildPre {
			if seen[pi] {
				ok = false
				return false
			}
			seen[pi] = true
		}
		return true
	})
	return ok
}
