// Simulation ties together the world, the agents and their deciders and runs
// them each tick.
package engine

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/talgya/drivesim/internal/agents"
	"github.com/talgya/drivesim/internal/behavior"
	"github.com/talgya/drivesim/internal/catalog"
	"github.com/talgya/drivesim/internal/decider"
	"github.com/talgya/drivesim/internal/drives"
	"github.com/talgya/drivesim/internal/planner"
	"github.com/talgya/drivesim/internal/world"
)

// Options configures a Simulation.
type Options struct {
	Workers       int // parallel agent ticks; <= 0 means one per agent
	Seed          int64
	Step          time.Duration // simulation time per tick, for drive decay
	SecondsPerHex float64
	Planner       planner.Config
	Policy        decider.Policy
	SpawnRules    []world.SpawnRule
	Logger        *slog.Logger
}

// Simulation holds the complete world state and wires systems together.
type Simulation struct {
	// mu guards World plus every agent's position, inventory and tags.
	// Worker goroutines take it through worldView; the serial phases of a
	// tick hold it directly.
	mu         sync.RWMutex
	World      *world.Map
	Catalog    *catalog.Catalog
	Agents     []*agents.Agent
	AgentIndex map[agents.AgentID]*agents.Agent
	Spawner    *agents.Spawner

	planner   *planner.Planner
	behaviors *behavior.Registry
	deciders  map[agents.AgentID]*decider.Decider
	opts      Options
	rng       *rand.Rand
	log       *slog.Logger

	lastTick atomic.Uint64

	cmdMu    sync.Mutex
	commands []Command

	evMu      sync.Mutex
	recent    []Event
	unsaved   []Event
	runs      map[uuid.UUID]*PlanRun
	finished  []PlanRun
	listeners []func(Event)

	stats counters

	pubMu  sync.RWMutex
	status Status
	views  map[agents.AgentID]AgentView
}

// NewSimulation creates a Simulation over a populated map. Each agent gets a
// world entity (when it has none) and a decider.
func NewSimulation(cat *catalog.Catalog, m *world.Map, ag []*agents.Agent, opts Options) (*Simulation, error) {
	if opts.Step <= 0 {
		opts.Step = time.Second
	}
	if opts.SecondsPerHex <= 0 {
		opts.SecondsPerHex = 1
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Simulation{
		World:      m,
		Catalog:    cat,
		AgentIndex: make(map[agents.AgentID]*agents.Agent, len(ag)),
		deciders:   make(map[agents.AgentID]*decider.Decider, len(ag)),
		runs:       make(map[uuid.UUID]*PlanRun),
		opts:       opts,
		rng:        rand.New(rand.NewSource(opts.Seed + 500)),
		log:        log,
	}
	view := worldView{s: s}
	s.behaviors = behavior.NewRegistry(view, opts.SecondsPerHex)
	if err := s.behaviors.Validate(cat.Behaviors()); err != nil {
		return nil, fmt.Errorf("catalog behaviors: %w", err)
	}
	s.planner = planner.New(cat, view, view, opts.Planner,
		planner.WithTimeEstimator(s.behaviors),
		planner.WithLogger(log),
	)

	for _, a := range ag {
		if err := s.AddAgent(a); err != nil {
			return nil, err
		}
	}
	s.publish(Epoch)
	return s, nil
}

// AddAgent registers an agent, giving it a world entity and a decider.
func (s *Simulation) AddAgent(a *agents.Agent) error {
	d, err := decider.New(a, decider.Deps{
		Catalog:   s.Catalog,
		Planner:   s.planner,
		Behaviors: s.behaviors,
		Effects:   worldView{s: s},
		Targets:   worldView{s: s},
		Checks:    worldView{s: s},
		Logger:    s.log,
		Observer:  s.observe(s.CurrentTick),
	}, s.opts.Policy)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.World.Entity(a.Entity); !ok || e.Agent != uint64(a.ID) {
		a.Entity = s.World.Spawn(AgentEntityType, a.Position, "person")
		if e, ok := s.World.Entity(a.Entity); ok {
			e.Agent = uint64(a.ID)
		}
	}
	s.Agents = append(s.Agents, a)
	s.AgentIndex[a.ID] = a
	s.deciders[a.ID] = d
	return nil
}

// agentFor resolves an agent entity to its agent. Callers hold mu.
func (s *Simulation) agentFor(id world.EntityID) *agents.Agent {
	e, ok := s.World.Entity(id)
	if !ok || e.Agent == 0 {
		return nil
	}
	return s.AgentIndex[agents.AgentID(e.Agent)]
}

// Planner returns the shared planner.
func (s *Simulation) Planner() *planner.Planner {
	return s.planner
}

// CurrentTick returns the most recently processed tick number.
func (s *Simulation) CurrentTick() uint64 {
	return s.lastTick.Load()
}

// SetTick sets the tick counter (used when restoring saved state).
func (s *Simulation) SetTick(tick uint64) {
	s.lastTick.Store(tick)
}

// TickStep runs one tick: queued commands and drive decay serially, then
// every decider in parallel, then the published snapshot is refreshed.
func (s *Simulation) TickStep(tick uint64, now time.Time) {
	s.lastTick.Store(tick)
	s.applyCommands(now)

	s.mu.Lock()
	for _, a := range s.Agents {
		a.Drives.Decay(s.opts.Step)
	}
	s.mu.Unlock()

	var g errgroup.Group
	if s.opts.Workers > 0 {
		g.SetLimit(s.opts.Workers)
	}
	for _, a := range s.Agents {
		d := s.deciders[a.ID]
		g.Go(func() error {
			d.Tick(now)
			return nil
		})
	}
	_ = g.Wait()

	s.publish(now)
}

// TickHour regrows resources and logs a summary.
func (s *Simulation) TickHour(tick uint64, now time.Time) {
	s.mu.Lock()
	grown := world.Regrow(s.World, s.opts.SpawnRules, s.rng)
	s.mu.Unlock()

	st := s.Status()
	slog.Info("hourly report",
		"tick", tick,
		"time", SimTime(now),
		"regrown", grown,
		"entities", st.Entities,
		"acting", st.Acting,
		"idle", st.Idle,
	)
}

// TickDay logs the daily report.
func (s *Simulation) TickDay(tick uint64, now time.Time) {
	st := s.Status()
	slog.Info("daily report",
		"tick", tick,
		"time", SimTime(now),
		"agents", st.Agents,
		"plans_started", st.Stats.PlansStarted,
		"plans_finished", st.Stats.PlansFinished,
		"plans_interrupted", st.Stats.PlansInterrupted,
		"plans_failed", st.Stats.PlansFailed,
		"idle_fallbacks", st.Stats.IdleFallbacks,
	)
	for _, e := range s.RecentEvents(20) {
		if e.Category == "plan" || e.Category == "admin" {
			slog.Debug("event", "category", e.Category, "description", e.Description)
		}
	}
}

// Stats are cumulative decision counters.
type Stats struct {
	PlansStarted     int64 `json:"plans_started"`
	PlansFinished    int64 `json:"plans_finished"`
	PlansInterrupted int64 `json:"plans_interrupted"`
	PlansFailed      int64 `json:"plans_failed"`
	IdleFallbacks    int64 `json:"idle_fallbacks"`
	PlanningAborted  int64 `json:"planning_aborted"`
}

type counters struct {
	started, finished, interrupted, failed, idle, aborted atomic.Int64
}

func (c *counters) record(k decider.EventKind) {
	switch k {
	case decider.EventPlanStarted:
		c.started.Add(1)
	case decider.EventPlanFinished:
		c.finished.Add(1)
	case decider.EventPlanInterrupted:
		c.interrupted.Add(1)
	case decider.EventPlanFailed:
		c.failed.Add(1)
	case decider.EventIdleFallback:
		c.idle.Add(1)
	case decider.EventPlanningAborted:
		c.aborted.Add(1)
	}
}

func (c *counters) snapshot() Stats {
	return Stats{
		PlansStarted:     c.started.Load(),
		PlansFinished:    c.finished.Load(),
		PlansInterrupted: c.interrupted.Load(),
		PlansFailed:      c.failed.Load(),
		IdleFallbacks:    c.idle.Load(),
		PlanningAborted:  c.aborted.Load(),
	}
}

// Status is the published world summary.
type Status struct {
	Tick         uint64                     `json:"tick"`
	Time         time.Time                  `json:"time"`
	SimTime      string                     `json:"sim_time"`
	Agents       int                        `json:"agents"`
	Acting       int                        `json:"acting"`
	Idle         int                        `json:"idle"`
	Entities     int                        `json:"entities"`
	EntityCounts map[catalog.EntityType]int `json:"entity_counts"`
	Stats        Stats                      `json:"stats"`
}

// AgentView is the published state of one agent.
type AgentView struct {
	ID        agents.AgentID             `json:"id"`
	Name      string                     `json:"name"`
	Position  world.HexCoord             `json:"position"`
	Drives    map[drives.ID]float64      `json:"drives"`
	Urgency   map[drives.ID]float64      `json:"urgency"`
	Inventory map[catalog.EntityType]int `json:"inventory"`
	Tags      []string                   `json:"tags"`
	Decider   decider.Snapshot           `json:"decider"`
}

// publish rebuilds the snapshot readers see. Runs between ticks, when no
// decider is active.
func (s *Simulation) publish(now time.Time) {
	s.mu.RLock()
	views := make(map[agents.AgentID]AgentView, len(s.Agents))
	st := Status{
		Tick:         s.CurrentTick(),
		Time:         now,
		SimTime:      SimTime(now),
		Agents:       len(s.Agents),
		Entities:     s.World.EntityCount(),
		EntityCounts: s.World.CountByType(),
		Stats:        s.stats.snapshot(),
	}
	for _, a := range s.Agents {
		v := AgentView{
			ID:        a.ID,
			Name:      a.Name,
			Position:  a.Position,
			Drives:    a.Drives.Levels(),
			Urgency:   make(map[drives.ID]float64),
			Inventory: make(map[catalog.EntityType]int, len(a.Inventory)),
			Tags:      a.TagList(),
			Decider:   s.deciders[a.ID].Snapshot(),
		}
		for _, d := range a.Drives.All() {
			v.Urgency[d.ID] = d.Urgency()
		}
		for t, n := range a.Inventory {
			v.Inventory[t] = n
		}
		if v.Decider.State == decider.Acting && !v.Decider.Idle {
			st.Acting++
		} else {
			st.Idle++
		}
		views[a.ID] = v
	}
	s.mu.RUnlock()

	s.pubMu.Lock()
	s.status = st
	s.views = views
	s.pubMu.Unlock()
}

// Status returns the last published summary.
func (s *Simulation) Status() Status {
	s.pubMu.RLock()
	defer s.pubMu.RUnlock()
	return s.status
}

// AgentViews returns the last published agent states sorted by id.
func (s *Simulation) AgentViews() []AgentView {
	s.pubMu.RLock()
	defer s.pubMu.RUnlock()
	out := make([]AgentView, 0, len(s.views))
	for _, v := range s.views {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AgentView returns the last published state of one agent.
func (s *Simulation) AgentView(id agents.AgentID) (AgentView, bool) {
	s.pubMu.RLock()
	defer s.pubMu.RUnlock()
	v, ok := s.views[id]
	return v, ok
}
