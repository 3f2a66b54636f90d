package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/drivesim/internal/agents"
	"github.com/talgya/drivesim/internal/decider"
	"github.com/talgya/drivesim/internal/drives"
	"github.com/talgya/drivesim/internal/plan"
	"github.com/talgya/drivesim/internal/world"
)

// Event is a notable occurrence in the world.
type Event struct {
	Tick        uint64         `json:"tick" db:"tick"`
	Time        time.Time      `json:"time" db:"time"`
	Category    string         `json:"category" db:"category"` // "plan", "node", "effect", "world", "admin"
	Kind        string         `json:"kind" db:"kind"`
	Agent       agents.AgentID `json:"agent,omitempty" db:"agent_id"`
	Drive       drives.ID      `json:"drive,omitempty" db:"drive"`
	Plan        string         `json:"plan,omitempty" db:"plan_id"`
	Target      world.EntityID `json:"target,omitempty" db:"target"`
	Description string         `json:"description" db:"description"`
}

// PlanRun is the journal record of one executed plan.
type PlanRun struct {
	ID        uuid.UUID      `json:"id"`
	Agent     agents.AgentID `json:"agent"`
	Drive     drives.ID      `json:"drive,omitempty"`
	Signature string         `json:"signature"`
	Utility   float64        `json:"utility"`
	Status    plan.Status    `json:"status"`
	Reason    string         `json:"reason,omitempty"`
	StartTick uint64         `json:"start_tick"`
	EndTick   uint64         `json:"end_tick"`
}

const maxRecentEvents = 1000

// Listen registers fn to receive every event from now on. fn is called from
// worker goroutines and must not block.
func (s *Simulation) Listen(fn func(Event)) {
	s.evMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.evMu.Unlock()
}

// emit records an event and hands it to the listeners. Safe for concurrent use.
func (s *Simulation) emit(e Event) {
	s.evMu.Lock()
	s.recent = append(s.recent, e)
	if len(s.recent) > maxRecentEvents {
		s.recent = append(s.recent[:0], s.recent[len(s.recent)-maxRecentEvents:]...)
	}
	s.unsaved = append(s.unsaved, e)
	listeners := s.listeners
	s.evMu.Unlock()
	for _, fn := range listeners {
		fn(e)
	}
}

// RecentEvents returns up to limit of the newest events, oldest first.
func (s *Simulation) RecentEvents(limit int) []Event {
	s.evMu.Lock()
	defer s.evMu.Unlock()
	start := 0
	if limit > 0 && len(s.recent) > limit {
		start = len(s.recent) - limit
	}
	return append([]Event(nil), s.recent[start:]...)
}

// DrainEvents returns the events recorded since the last drain.
func (s *Simulation) DrainEvents() []Event {
	s.evMu.Lock()
	defer s.evMu.Unlock()
	out := s.unsaved
	s.unsaved = nil
	return out
}

// DrainPlanRuns returns the plan runs finished since the last drain.
func (s *Simulation) DrainPlanRuns() []PlanRun {
	s.evMu.Lock()
	defer s.evMu.Unlock()
	out := s.finished
	s.finished = nil
	return out
}

// observe turns decider events into world events and plan-run records.
// Deciders call it from worker goroutines.
func (s *Simulation) observe(tick func() uint64) func(decider.Event) {
	return func(de decider.Event) {
		t := tick()
		e := Event{
			Tick:   t,
			Time:   de.Time,
			Kind:   string(de.Kind),
			Agent:  de.Agent,
			Drive:  de.Drive,
			Target: de.Target,
		}
		if de.Plan != uuid.Nil {
			e.Plan = de.Plan.String()
		}

		switch de.Kind {
		case decider.EventPlanStarted:
			e.Category = "plan"
			e.Description = fmt.Sprintf("agent %d plans for %s: %s (utility %.2f)", de.Agent, de.Drive, de.Reason, de.Utility)
			s.evMu.Lock()
			s.runs[de.Plan] = &PlanRun{
				ID: de.Plan, Agent: de.Agent, Drive: de.Drive,
				Signature: de.Reason, Utility: de.Utility,
				Status: plan.Running, StartTick: t,
			}
			s.evMu.Unlock()
		case decider.EventIdleFallback:
			e.Category = "plan"
			e.Description = fmt.Sprintf("agent %d idles: %s", de.Agent, de.Reason)
		case decider.EventPlanFinished, decider.EventPlanInterrupted, decider.EventPlanFailed:
			e.Category = "plan"
			status := plan.Interrupted
			if de.Kind == decider.EventPlanFinished {
				status = plan.Finished
			}
			e.Description = fmt.Sprintf("agent %d plan %s %s", de.Agent, de.Template, status)
			if de.Reason != "" {
				e.Description += ": " + de.Reason
			}
			s.closeRun(de.Plan, status, de.Reason, t)
		case decider.EventNodeStarted, decider.EventNodeFinished:
			e.Category = "node"
			e.Description = fmt.Sprintf("agent %d %s %s", de.Agent, de.Kind, de.Template)
			if de.Target != world.NoEntity {
				e.Description += fmt.Sprintf(" on #%d", de.Target)
			}
		case decider.EventEffectFired:
			e.Category = "effect"
			e.Description = fmt.Sprintf("agent %d %s: %s", de.Agent, de.Template, de.Reason)
		default:
			e.Category = "plan"
			e.Description = fmt.Sprintf("agent %d %s: %s", de.Agent, de.Kind, de.Reason)
		}
		s.stats.record(de.Kind)
		s.emit(e)
	}
}

func (s *Simulation) closeRun(id uuid.UUID, status plan.Status, reason string, tick uint64) {
	s.evMu.Lock()
	defer s.evMu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		// Idle runs are not journaled.
		return
	}
	delete(s.runs, id)
	r.Status = status
	r.Reason = reason
	r.EndTick = tick
	s.finished = append(s.finished, *r)
}
