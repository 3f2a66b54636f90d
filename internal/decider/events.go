package decider

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/drivesim/internal/agents"
	"github.com/talgya/drivesim/internal/drives"
	"github.com/talgya/drivesim/internal/plan"
	"github.com/talgya/drivesim/internal/world"
)

// EventKind names an executor event.
type EventKind string

const (
	EventPlanStarted     EventKind = "plan_started"
	EventNodeStarted     EventKind = "node_started"
	EventNodeFinished    EventKind = "node_finished"
	EventEffectFired     EventKind = "effect_fired"
	EventPlanFinished    EventKind = "plan_finished"
	EventPlanInterrupted EventKind = "plan_interrupted"
	EventPlanFailed      EventKind = "plan_failed"
	EventIdleFallback    EventKind = "idle_fallback"
	EventPlanningAborted EventKind = "planning_aborted"
)

// Event is one observable executor step.
type Event struct {
	Kind     EventKind      `json:"kind"`
	Agent    agents.AgentID `json:"agent"`
	Drive    drives.ID      `json:"drive,omitempty"`
	Plan     uuid.UUID      `json:"plan"`
	Template string         `json:"template,omitempty"`
	Node     plan.NodeID    `json:"node"`
	Target   world.EntityID `json:"target,omitempty"`
	Utility  float64        `json:"utility,omitempty"`
	Amount   float64        `json:"amount,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Time     time.Time      `json:"time"`
}

func (d *Decider) emit(e Event) {
	e.Agent = d.agent.ID
	e.Time = d.now
	if a := d.cur; a != nil {
		e.Plan = a.tree.ID
		if e.Drive == "" {
			e.Drive = a.drive
		}
		if e.Template == "" {
			n := a.tree.Node(a.node)
			e.Node = a.node
			e.Template = n.Template.ID
			e.Target = n.Target
		}
	}
	if d.deps.Observer != nil {
		d.deps.Observer(e)
	}
}

// CandidateView is a read-only copy of a plan set candidate.
type CandidateView struct {
	Plan        string      `json:"plan"`
	Status      plan.Status `json:"status"`
	DriveAmount float64     `json:"drive_amount"`
	Time        float64     `json:"time"`
	SideEffect  float64     `json:"side_effect"`
	Utility     float64     `json:"utility"`
	Reason      string      `json:"reason,omitempty"`
}

// SetView is a read-only copy of the plan set last built for a drive.
type SetView struct {
	Drive      drives.ID       `json:"drive"`
	Candidates []CandidateView `json:"candidates"`
}

// Snapshot describes the executor for display.
type Snapshot struct {
	State  State          `json:"state"`
	Idle   bool           `json:"idle"`
	Drive  drives.ID      `json:"drive,omitempty"`
	Plan   string         `json:"plan,omitempty"`
	Node   string         `json:"node,omitempty"`
	Target world.EntityID `json:"target,omitempty"`
	// Targets is every entity the running plan is bound to.
	Targets  []world.EntityID `json:"targets,omitempty"`
	Since    time.Time        `json:"since,omitempty"`
	Rendered string           `json:"rendered,omitempty"`
	Sets     []SetView        `json:"plan_sets"`
	Last     Outcome          `json:"last"`
}

// Snapshot copies the executor state. Plan sets are those of the most
// recent planning pass.
func (d *Decider) Snapshot() Snapshot {
	s := Snapshot{State: d.state, Last: d.last}
	if a := d.cur; a != nil {
		n := a.tree.Node(a.node)
		s.Idle = a.idle
		s.Drive = a.drive
		s.Plan = a.tree.ID.String()
		s.Node = n.Template.ID
		s.Target = n.Target
		s.Targets = a.tree.Targets()
		s.Since = a.since
		s.Rendered = a.tree.Render()
	}
	ids := make([]drives.ID, 0, len(d.sets))
	for id := range d.sets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		set := d.sets[id]
		v := SetView{Drive: id}
		for i := 0; i < set.Len(); i++ {
			c := set.Candidates[i]
			v.Candidates = append(v.Candidates, CandidateView{
				Plan:        c.Tree.Signature(),
				Status:      c.Status,
				DriveAmount: c.DriveAmount,
				Time:        c.Time,
				SideEffect:  c.SideEffect,
				Utility:     c.Utility,
				Reason:      c.Reason,
			})
		}
		s.Sets = append(s.Sets, v)
	}
	return s
}

// PlanSet returns the plan set last built for drive, or nil.
func (d *Decider) PlanSet(drive drives.ID) *plan.Set {
	return d.sets[drive]
}
