package decider

import (
	"time"

	"github.com/talgya/drivesim/internal/catalog"
	"github.com/talgya/drivesim/internal/plan"
	"github.com/talgya/drivesim/internal/world"
)

// timer is a non-immediate effect armed when its node starts. Delayed and
// repeating timers live until the plan ends; event timers until the node
// completes.
type timer struct {
	node   plan.NodeID
	effect *catalog.Effect
	target world.EntityID
	due    time.Time
	fired  int
}

func (d *Decider) armTimers(now time.Time, id plan.NodeID) {
	n := d.cur.tree.Node(id)
	for i := range n.Template.Effects {
		e := &n.Template.Effects[i]
		if e.Timing == catalog.TimingImmediate {
			continue
		}
		t := &timer{node: id, effect: e, target: effectTarget(n, e)}
		if e.Timing != catalog.TimingOnEvent {
			t.due = now.Add(e.Interval)
		}
		d.timers = append(d.timers, t)
	}
}

// fireTimers applies every delayed or repeating effect that is due.
func (d *Decider) fireTimers(now time.Time) {
	for _, t := range d.timers {
		switch t.effect.Timing {
		case catalog.TimingDelayed:
			if t.fired == 0 && !now.Before(t.due) {
				d.applyTimed(t)
			}
		case catalog.TimingRepeating:
			for !now.Before(t.due) && !t.spent() {
				d.applyTimed(t)
				if t.effect.Interval <= 0 {
					break
				}
				t.due = t.due.Add(t.effect.Interval)
			}
		}
	}
	d.dropTimers(func(t *timer) bool { return t.spent() })
}

func (t *timer) spent() bool {
	switch t.effect.Timing {
	case catalog.TimingDelayed:
		return t.fired > 0
	case catalog.TimingRepeating:
		return t.effect.Repeat > 0 && t.fired >= t.effect.Repeat
	}
	return false
}

// applyTimed applies a timer's effect. A failed timed effect is logged and
// does not affect the plan.
func (d *Decider) applyTimed(t *timer) {
	t.fired++
	ok, amount := d.deps.Effects.Apply(d.agent, t.target, t.effect, d.cur.tree, t.node)
	if !ok {
		d.log.Debug("timed effect did not apply", "effect", t.effect.String(), "target", t.target)
		return
	}
	d.emit(Event{
		Kind:     EventEffectFired,
		Node:     t.node,
		Template: d.cur.tree.Node(t.node).Template.ID,
		Target:   t.target,
		Reason:   t.effect.String(),
		Amount:   amount,
	})
}

func (d *Decider) dropTimers(drop func(*timer) bool) {
	kept := d.timers[:0]
	for _, t := range d.timers {
		if !drop(t) {
			kept = append(kept, t)
		}
	}
	for i := len(kept); i < len(d.timers); i++ {
		d.timers[i] = nil
	}
	d.timers = kept
}
