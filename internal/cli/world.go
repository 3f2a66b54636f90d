package cli

import (
	"errors"
	"log/slog"

	"github.com/talgya/drivesim/internal/agents"
	"github.com/talgya/drivesim/internal/catalog"
	"github.com/talgya/drivesim/internal/config"
	"github.com/talgya/drivesim/internal/engine"
	"github.com/talgya/drivesim/internal/world"
)

// buildSimulation generates the map from cfg and either restores st onto it
// or scatters entities and spawns a fresh population.
func buildSimulation(cfg config.Config, cat *catalog.Catalog, st *engine.State) (*engine.Simulation, error) {
	gen := cfg.World.Gen
	if gen.Seed == 0 {
		gen.Seed = cfg.Simulation.Seed
	}
	m := world.Generate(gen)
	spawner := agents.NewSpawner(cfg.Simulation.Seed, cat.Drives())

	var population []*agents.Agent
	if st != nil {
		population = engine.Restore(m, *st, cat.Drives())
		var maxID agents.AgentID
		for _, a := range population {
			maxID = max(maxID, a.ID)
		}
		spawner.SetNextID(maxID + 1)
		slog.Info("world state restored", "agents", len(population), "entities", len(st.Entities), "tick", st.Tick)
	} else {
		n := world.Scatter(m, cfg.World.Spawn, gen.Seed)
		land := world.LandCoords(m)
		if len(land) == 0 {
			return nil, errors.New("generated map has no land")
		}
		population = spawner.SpawnPopulation(cfg.Simulation.Agents, land)
		slog.Info("world generated", "hexes", m.HexCount(), "entities", n, "agents", len(population))
	}

	sim, err := engine.NewSimulation(cat, m, population, engine.Options{
		Workers:       cfg.Simulation.Workers,
		Seed:          cfg.Simulation.Seed,
		Step:          cfg.Simulation.Step,
		SecondsPerHex: cfg.Simulation.SecondsPerHex,
		Planner:       cfg.Planner,
		Policy:        cfg.Decider,
		SpawnRules:    cfg.World.Spawn,
	})
	if err != nil {
		return nil, err
	}
	sim.Spawner = spawner
	if st != nil {
		sim.SetTick(st.Tick)
	}
	return sim, nil
}
