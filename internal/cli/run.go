package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/drivesim/internal/api"
	"github.com/talgya/drivesim/internal/catalog"
	"github.com/talgya/drivesim/internal/engine"
	"github.com/talgya/drivesim/internal/persistence"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the simulation and serve the HTTP API",
	Long: `Run the simulation. Saved state in the database is resumed when present;
otherwise a new world is generated from the configuration.

With --ticks the simulation runs headless for that many ticks as fast as
possible, saves, and exits.`,
	RunE: runRun,
}

// addRunFlags defines the run flags on cmd. The root command carries them
// too since it delegates to run.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().Uint64("ticks", 0, "Run this many ticks headless and exit (0 = serve until interrupted)")
	cmd.Flags().Bool("fresh", false, "Ignore saved state and generate a new world")
	cmd.Flags().Int("port", 0, "Override the configured API port")
}

func runRun(cmd *cobra.Command, args []string) error {
	ticks, _ := cmd.Flags().GetUint64("ticks")
	fresh, _ := cmd.Flags().GetBool("fresh")
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.API.Port = port
	}

	cat, err := catalog.Load(cfg.Catalog)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	var db *persistence.DB
	if cfg.Storage.DB != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.DB), 0o755); err != nil {
			return err
		}
		db, err = persistence.Open(cfg.Storage.DB)
		if err != nil {
			return err
		}
		defer db.Close()
		slog.Info("database opened", "path", cfg.Storage.DB)
	}

	var saved *engine.State
	if db != nil && !fresh && db.HasWorldState() {
		st, err := db.LoadState()
		if err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		saved = &st
	}

	sim, err := buildSimulation(cfg, cat, saved)
	if err != nil {
		return err
	}

	eng := engine.NewEngine()
	eng.Interval = cfg.Simulation.TickInterval
	eng.Step = cfg.Simulation.Step
	eng.SetSpeed(cfg.Simulation.Speed)
	eng.Tick = sim.CurrentTick()

	save := func(reason string) {
		if db == nil {
			return
		}
		if err := db.SaveWorldState(sim); err != nil {
			slog.Error("save failed", "reason", reason, "error", err)
		}
	}

	eng.OnTick = sim.TickStep
	eng.OnHour = sim.TickHour
	eng.OnDay = func(tick uint64, now time.Time) {
		sim.TickDay(tick, now)
		save("daily")
	}

	if ticks > 0 {
		for i := uint64(0); i < ticks; i++ {
			eng.Advance()
		}
		st := sim.Status()
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d agents, %d plans finished, %d interrupted, %d failed, %d idle fallbacks\n",
			st.SimTime, st.Agents, st.Stats.PlansFinished, st.Stats.PlansInterrupted, st.Stats.PlansFailed, st.Stats.IdleFallbacks)
		save("final")
		return writeSnapshot(sim)
	}

	if cfg.API.AdminKey == "" {
		slog.Warn("DRIVESIM_ADMIN_KEY not set, admin POST endpoints will be disabled")
	}
	apiServer := &api.Server{
		Sim:          sim,
		Eng:          eng,
		DB:           db,
		Port:         cfg.API.Port,
		AdminKey:     cfg.API.AdminKey,
		RateLimit:    cfg.API.RateLimit,
		MaxStreams:   cfg.API.MaxStreams,
		SnapshotPath: cfg.Storage.Snapshot,
	}
	httpSrv := apiServer.Start()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "\ndrivesim is running: %d agents on %d hexes. API on :%d\n\n",
		len(sim.Agents), sim.World.HexCount(), cfg.API.Port)
	eng.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}

	slog.Info("saving final state...")
	save("final")
	return writeSnapshot(sim)
}

func writeSnapshot(sim *engine.Simulation) error {
	if cfg.Storage.Snapshot == "" {
		return nil
	}
	if err := persistence.WriteSnapshot(cfg.Storage.Snapshot, sim.State()); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	slog.Info("snapshot written", "path", cfg.Storage.Snapshot)
	return nil
}
