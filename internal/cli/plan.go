package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/talgya/drivesim/internal/agents"
	"github.com/talgya/drivesim/internal/catalog"
	"github.com/talgya/drivesim/internal/drives"
	"github.com/talgya/drivesim/internal/plan"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the plan sets an agent would build right now",
	Long: `Generate the configured world, then build and print the plan set for
each eligible drive of one agent, with the utility terms of every
candidate and the rendered tree of the complete ones.`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().Uint64("agent", 1, "Agent id")
	planCmd.Flags().StringSlice("drive", nil, "Drives to plan for (default: every eligible drive)")
	planCmd.Flags().StringToString("level", nil, "Set drive levels first, e.g. --level hunger=90")
}

func runPlan(cmd *cobra.Command, args []string) error {
	id, _ := cmd.Flags().GetUint64("agent")
	only, _ := cmd.Flags().GetStringSlice("drive")
	levels, _ := cmd.Flags().GetStringToString("level")

	cat, err := catalog.Load(cfg.Catalog)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	sim, err := buildSimulation(cfg, cat, nil)
	if err != nil {
		return err
	}
	a, ok := sim.AgentIndex[agents.AgentID(id)]
	if !ok {
		return fmt.Errorf("agent %d not found (population %d)", id, len(sim.Agents))
	}
	for d, v := range levels {
		lvl, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("level %s: %w", d, err)
		}
		a.Drives.SetLevel(drives.ID(d), lvl)
	}

	var ids []drives.ID
	if len(only) > 0 {
		for _, d := range only {
			ids = append(ids, drives.ID(d))
		}
	} else {
		for _, r := range a.Drives.Eligible("") {
			ids = append(ids, r.ID)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (#%d) at (%d,%d)\n", a.Name, a.ID, a.Position.Q, a.Position.R)
	for _, d := range a.Drives.All() {
		fmt.Fprintf(out, "  %-12s level %6.2f  urgency %.3f\n", d.ID, d.Level, d.Urgency())
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, "no eligible drives; the agent would idle")
		return nil
	}

	for _, d := range ids {
		set, err := sim.Planner().BuildPlanSet(a, d)
		if err != nil {
			fmt.Fprintf(out, "\n[%s] planning failed: %v\n", d, err)
			continue
		}
		printSet(out, set)
	}
	return nil
}

func printSet(w io.Writer, set *plan.Set) {
	fmt.Fprintf(w, "\n[%s] %d candidates\n", set.Drive, set.Len())
	best, hasBest := set.Best()
	for i, c := range set.Candidates {
		mark := " "
		if hasBest && i == best {
			mark = "*"
		}
		sig := "-"
		if c.Tree != nil {
			sig = c.Tree.Signature()
		}
		fmt.Fprintf(w, "%s %-12s utility %7.3f  relief %6.2f  time %6.1fs  side %6.2f  %s\n",
			mark, c.Status, c.Utility, c.DriveAmount, c.Time, c.SideEffect, sig)
		if c.Status == plan.NotComplete || c.Tree == nil {
			fmt.Fprintf(w, "    %s\n", c.Reason)
			continue
		}
		for _, line := range strings.Split(strings.TrimRight(c.Tree.Render(), "\n"), "\n") {
			fmt.Fprintf(w, "    %s\n", line)
		}
	}
}
