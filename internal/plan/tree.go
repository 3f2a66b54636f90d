// Package plan holds the plan tree: an arena of nodes addressed by index,
// each instantiating one action template, plus the plan set that collects
// scored candidate roots for one drive.
//
// Parent and child links are NodeIDs into the owning tree's arena. Nodes are
// never shared between trees; Clone deep-copies the arena.
package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/talgya/drivesim/internal/catalog"
	"github.com/talgya/drivesim/internal/drives"
	"github.com/talgya/drivesim/internal/world"
)

// NodeID indexes a node in its tree's arena.
type NodeID int32

// NoNode is the null NodeID: the parent of a root, or "no more nodes".
const NoNode NodeID = -1

// PreState records how a node's precondition was advanced past.
type PreState uint8

const (
	PreOpen        PreState = iota // not yet handled
	PreSatisfied                   // true in the world at planning time
	PreFixed                       // a child exists to make it true
	PreProvisional                 // needs a target; resolved by target selection
)

func (s PreState) String() string {
	switch s {
	case PreSatisfied:
		return "satisfied"
	case PreFixed:
		return "fixed"
	case PreProvisional:
		return "provisional"
	default:
		return "open"
	}
}

// Node is one instantiation of an action template within a tree.
type Node struct {
	Template *catalog.Template
	Parent   NodeID
	Children []NodeID
	// ChildPre[i] is the precondition index Children[i] exists to satisfy.
	ChildPre []int
	// Pre holds one state per template precondition.
	Pre []PreState

	Target world.EntityID
	Aux    map[string]world.EntityID

	Complete bool

	dead bool
}

// Tree is a root node plus all of its descendants.
type Tree struct {
	ID    uuid.UUID
	Drive drives.ID

	nodes []Node
	root  NodeID
	live  int
}

// NewTree creates a tree whose root instantiates t.
func NewTree(d drives.ID, t *catalog.Template) *Tree {
	tr := &Tree{ID: uuid.New(), Drive: d, root: 0}
	tr.nodes = append(tr.nodes, newNode(t, NoNode))
	tr.live = 1
	return tr
}

func newNode(t *catalog.Template, parent NodeID) Node {
	return Node{
		Template: t,
		Parent:   parent,
		Pre:      make([]PreState, len(t.Preconditions)),
	}
}

// Root returns the root id.
func (t *Tree) Root() NodeID {
	return t.root
}

// Node returns the node with the given id. The pointer is only valid until
// the next AddChild, which may grow the arena.
func (t *Tree) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(t.nodes) {
		return nil
	}
	return &t.nodes[id]
}

// Alive reports whether id names a node that has not been removed.
func (t *Tree) Alive(id NodeID) bool {
	return id >= 0 && int(id) < len(t.nodes) && !t.nodes[id].dead
}

// Len returns the number of live nodes.
func (t *Tree) Len() int {
	return t.live
}

// Cap returns the arena size, live and removed nodes included. NodeIDs of
// live nodes are always below Cap.
func (t *Tree) Cap() int {
	return len(t.nodes)
}

// AddChild appends a child instantiating tmpl to fix precondition pre of parent.
func (t *Tree) AddChild(parent NodeID, tmpl *catalog.Template, pre int) NodeID {
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, newNode(tmpl, parent))
	p := &t.nodes[parent]
	p.Children = append(p.Children, id)
	p.ChildPre = append(p.ChildPre, pre)
	t.live++
	return id
}

// Remove detaches id from its parent and marks its whole subtree removed.
// Removing the root empties the tree.
func (t *Tree) Remove(id NodeID) {
	if !t.Alive(id) {
		return
	}
	if parent := t.nodes[id].Parent; parent != NoNode {
		p := &t.nodes[parent]
		for i, c := range p.Children {
			if c == id {
				p.Children = append(p.Children[:i:i], p.Children[i+1:]...)
				p.ChildPre = append(p.ChildPre[:i:i], p.ChildPre[i+1:]...)
				break
			}
		}
	}
	stack := []NodeID{id}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if t.nodes[n].dead {
			continue
		}
		t.nodes[n].dead = true
		t.live--
		stack = append(stack, t.nodes[n].Children...)
	}
}

// ChildrenFor returns the children created to fix precondition pre of id.
func (t *Tree) ChildrenFor(id NodeID, pre int) []NodeID {
	n := &t.nodes[id]
	var out []NodeID
	for i, c := range n.Children {
		if n.ChildPre[i] == pre {
			out = append(out, c)
		}
	}
	return out
}

// FixedPre returns the precondition index of id's parent that id fixes,
// or -1 for the root.
func (t *Tree) FixedPre(id NodeID) int {
	parent := t.nodes[id].Parent
	if parent == NoNode {
		return -1
	}
	p := &t.nodes[parent]
	for i, c := range p.Children {
		if c == id {
			return p.ChildPre[i]
		}
	}
	return -1
}

// FixedPrecondition returns the parent precondition id fixes, or nil for the root.
func (t *Tree) FixedPrecondition(id NodeID) *catalog.Precondition {
	pre := t.FixedPre(id)
	if pre < 0 {
		return nil
	}
	return &t.nodes[t.nodes[id].Parent].Template.Preconditions[pre]
}

// Depth returns the number of edges between id and the root.
func (t *Tree) Depth(id NodeID) int {
	d := 0
	for p := t.nodes[id].Parent; p != NoNode; p = t.nodes[p].Parent {
		d++
	}
	return d
}

// OnPath reports whether tmpl is instantiated by id or any of its ancestors.
func (t *Tree) OnPath(id NodeID, tmpl *catalog.Template) bool {
	for n := id; n != NoNode; n = t.nodes[n].Parent {
		if t.nodes[n].Template == tmpl {
			return true
		}
	}
	return false
}

// Clone returns a deep copy that shares no nodes with t. NodeIDs are
// preserved, so ids from t address the same positions in the copy.
func (t *Tree) Clone() *Tree {
	c := &Tree{ID: uuid.New(), Drive: t.Drive, root: t.root, live: t.live}
	c.nodes = make([]Node, len(t.nodes))
	for i := range t.nodes {
		src := &t.nodes[i]
		dst := &c.nodes[i]
		*dst = *src
		dst.Children = append([]NodeID(nil), src.Children...)
		dst.ChildPre = append([]int(nil), src.ChildPre...)
		dst.Pre = append([]PreState(nil), src.Pre...)
		if src.Aux != nil {
			dst.Aux = make(map[string]world.EntityID, len(src.Aux))
			for k, v := range src.Aux {
				dst.Aux[k] = v
			}
		}
	}
	return c
}

// Compact drops removed nodes from the arena and renumbers the survivors in
// pre-order. It returns the old → new id mapping.
func (t *Tree) Compact() map[NodeID]NodeID {
	remap := make(map[NodeID]NodeID, t.live)
	if !t.Alive(t.root) {
		t.nodes = nil
		t.live = 0
		return remap
	}
	var order []NodeID
	stack := []NodeID{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		remap[n] = NodeID(len(order))
		order = append(order, n)
		kids := t.nodes[n].Children
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
	nodes := make([]Node, len(order))
	for newID, oldID := range order {
		n := t.nodes[oldID]
		if n.Parent != NoNode {
			n.Parent = remap[n.Parent]
		}
		kids := make([]NodeID, len(n.Children))
		for i, c := range n.Children {
			kids[i] = remap[c]
		}
		n.Children = kids
		nodes[newID] = n
	}
	t.nodes = nodes
	t.root = 0
	t.live = len(nodes)
	return remap
}

// LeftmostLeaf descends through first children from id.
func (t *Tree) LeftmostLeaf(id NodeID) NodeID {
	if !t.Alive(id) {
		return NoNode
	}
	for len(t.nodes[id].Children) > 0 {
		id = t.nodes[id].Children[0]
	}
	return id
}

// Next returns the node executed after id in the in-order plan walk: the
// leftmost leaf of id's next sibling, or id's parent when id is the last
// child. Returns NoNode after the root.
func (t *Tree) Next(id NodeID) NodeID {
	if !t.Alive(id) {
		return NoNode
	}
	parent := t.nodes[id].Parent
	if parent == NoNode {
		return NoNode
	}
	siblings := t.nodes[parent].Children
	for i, c := range siblings {
		if c == id && i+1 < len(siblings) {
			return t.LeftmostLeaf(siblings[i+1])
		}
	}
	return parent
}

// Walk visits every live node in execution order, starting at the leftmost
// leaf and ending at the root. Returning false stops the walk.
func (t *Tree) Walk(fn func(id NodeID, n *Node) bool) {
	for id := t.LeftmostLeaf(t.root); id != NoNode; id = t.Next(id) {
		if !fn(id, &t.nodes[id]) {
			return
		}
	}
}

// IsComplete reports whether id and every node below it have all
// preconditions advanced past, each fixed precondition backed by a
// complete child.
func (t *Tree) IsComplete(id NodeID) bool {
	if !t.Alive(id) {
		return false
	}
	stack := []NodeID{id}
	for len(stack) > 0 {
		n := &t.nodes[stack[len(stack)-1]]
		stack = stack[:len(stack)-1]
		if !n.Complete || len(n.Pre) != len(n.Template.Preconditions) {
			return false
		}
		for pi, st := range n.Pre {
			switch st {
			case PreOpen:
				return false
			case PreFixed:
				found := false
				for i := range n.Children {
					if n.ChildPre[i] == pi {
						found = true
						break
					}
				}
				if !found {
					return false
				}
			}
		}
		stack = append(stack, n.Children...)
	}
	return true
}

// Targets returns every bound entity in the tree (primary and auxiliary),
// deduplicated and sorted.
func (t *Tree) Targets() []world.EntityID {
	seen := make(map[world.EntityID]bool)
	t.Walk(func(_ NodeID, n *Node) bool {
		if n.Target != world.NoEntity {
			seen[n.Target] = true
		}
		for _, e := range n.Aux {
			if e != world.NoEntity {
				seen[e] = true
			}
		}
		return true
	})
	out := make([]world.EntityID, 0, len(seen))
	for e := range seen {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Signature is a structural fingerprint: templates, shape and targets.
// Two trees with equal signatures describe the same plan.
func (t *Tree) Signature() string {
	return t.SignatureExcept(nil)
}

// SignatureExcept is Signature with the subtrees for which skip returns true
// left out. The executor uses it to fingerprint the unexecuted remainder.
func (t *Tree) SignatureExcept(skip func(NodeID) bool) string {
	if !t.Alive(t.root) {
		return ""
	}
	var b strings.Builder
	var rec func(id NodeID)
	rec = func(id NodeID) {
		n := &t.nodes[id]
		b.WriteString(n.Template.ID)
		if n.Target != world.NoEntity {
			fmt.Fprintf(&b, "@%d", n.Target)
		}
		open := false
		for i, c := range n.Children {
			if skip != nil && skip(c) {
				continue
			}
			if !open {
				b.WriteByte('(')
				open = true
			} else {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "%d:", n.ChildPre[i])
			rec(c)
		}
		if open {
			b.WriteByte(')')
		}
	}
	rec(t.root)
	return b.String()
}

// Render draws the tree as indented text, root first.
func (t *Tree) Render() string {
	if !t.Alive(t.root) {
		return "(empty)\n"
	}
	var b strings.Builder
	var rec func(id NodeID, depth int)
	rec = func(id NodeID, depth int) {
		n := &t.nodes[id]
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString(n.Template.ID)
		if n.Target != world.NoEntity {
			fmt.Fprintf(&b, " -> #%d", n.Target)
		}
		if len(n.Aux) > 0 {
			keys := make([]string, 0, len(n.Aux))
			for k := range n.Aux {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&b, " %s=#%d", k, n.Aux[k])
			}
		}
		if !n.Complete {
			b.WriteString(" (incomplete)")
		}
		b.WriteByte('\n')
		for _, c := range n.Children {
			rec(c, depth+1)
		}
	}
	rec(t.root, 0)
	return b.String()
}
