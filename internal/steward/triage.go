package steward

import (
	"cmp"
	"slices"
)

// Rule keeps at least Min entities of Type on the map. Replacements are
// placed next to agents currently planning for Drive, then by urgency.
type Rule struct {
	Type  string   `yaml:"type" json:"type"`
	Min   int      `yaml:"min" json:"min"`
	Tags  []string `yaml:"tags" json:"tags,omitempty"`
	Drive string   `yaml:"drive" json:"drive,omitempty"`
}

// Shortfall is a rule whose type is under its minimum.
type Shortfall struct {
	Rule    Rule
	Count   int
	Missing int
}

// Health is the deterministic diagnosis of one observation.
type Health struct {
	Tick       uint64
	Shortfalls []Shortfall
	IdleRatio  float64
	Level      string // "CRITICAL", "WATCH", "HEALTHY"
}

// Triage compares the observed entity counts against rules.
func Triage(obs *Observation, rules []Rule) *Health {
	h := &Health{Tick: obs.Status.Tick, Level: "HEALTHY"}
	if obs.Status.Agents > 0 {
		h.IdleRatio = float64(obs.Status.Idle) / float64(obs.Status.Agents)
	}
	for _, r := range rules {
		n := obs.Status.EntityCounts[r.Type]
		if n >= r.Min {
			continue
		}
		h.Shortfalls = append(h.Shortfalls, Shortfall{Rule: r, Count: n, Missing: r.Min - n})
		switch {
		case n == 0:
			h.Level = "CRITICAL"
		case h.Level == "HEALTHY":
			h.Level = "WATCH"
		}
	}
	return h
}

// Spawn is one entity the steward asks the world to create.
type Spawn struct {
	Type     string   `json:"type"`
	Tags     []string `json:"tags,omitempty"`
	Position Position `json:"position"`
}

type Position struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// Plan turns shortfalls into at most burst spawns per rule, cycling over
// the agents most in need. Nothing is planned without agents to place by.
func Plan(h *Health, agents []AgentSummary, burst int) []Spawn {
	if len(agents) == 0 || burst <= 0 {
		return nil
	}
	var out []Spawn
	for _, s := range h.Shortfalls {
		ranked := rankAgents(agents, s.Rule.Drive)
		n := min(s.Missing, burst)
		for i := range n {
			a := ranked[i%len(ranked)]
			out = append(out, Spawn{
				Type:     s.Rule.Type,
				Tags:     s.Rule.Tags,
				Position: Position{Q: a.Q, R: a.R},
			})
		}
	}
	return out
}

func rankAgents(agents []AgentSummary, drive string) []AgentSummary {
	ranked := slices.Clone(agents)
	slices.SortStableFunc(ranked, func(a, b AgentSummary) int {
		am, bm := drive != "" && a.Drive == drive, drive != "" && b.Drive == drive
		if am != bm {
			if am {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(b.Urgency, a.Urgency); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return ranked
}
