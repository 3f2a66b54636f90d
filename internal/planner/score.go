package planner

import (
	"github.com/talgya/drivesim/internal/agents"
	"github.com/talgya/drivesim/internal/catalog"
	"github.com/talgya/drivesim/internal/plan"
)

// score fills the estimates and combined utility of a complete candidate.
//
//	utility = (driveAmount - sideEffect) / (1 + timeWeight*time)
func (p *Planner) score(a *agents.Agent, t *plan.Tree, c *plan.Candidate) {
	t.Walk(func(id plan.NodeID, n *plan.Node) bool {
		for i := range n.Template.Effects {
			e := &n.Template.Effects[i]
			if e.Timing == catalog.TimingOnEvent {
				continue
			}
			m := multiplier(e)
			c.SideEffect += e.Utility * m
			if e.Kind != catalog.EffDriveChange {
				continue
			}
			if e.Drive == t.Drive {
				if e.Amount < 0 {
					c.DriveAmount -= e.Amount * m
				}
				continue
			}
			c.SideEffect += e.Amount * m * p.cfg.CrossDriveWeight * a.Drives.Urgency(e.Drive)
		}
		c.Time += p.estimate(a, t, id)
		return true
	})
	c.Utility = (c.DriveAmount - c.SideEffect) / (1 + p.cfg.TimeWeight*c.Time)
}

// multiplier counts how many times an effect is expected to apply.
func multiplier(e *catalog.Effect) float64 {
	if e.Timing == catalog.TimingRepeating && e.Repeat > 0 {
		return float64(e.Repeat)
	}
	return 1
}

func (p *Planner) estimate(a *agents.Agent, t *plan.Tree, id plan.NodeID) float64 {
	if p.times != nil {
		return p.times.EstimatedTime(a, t, id)
	}
	return t.Node(id).Template.Cost
}
