package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/talgya/drivesim/internal/catalog"
	"github.com/talgya/drivesim/internal/engine"
	"github.com/talgya/drivesim/internal/world"
)

var validateCmd = &cobra.Command{
	Use:   "validate [catalog.yaml]",
	Short: "Check a catalog against the schema, the behavior registry and the idle rules",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := cfg.Catalog
	if len(args) == 1 {
		path = args[0]
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	cat, err := catalog.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	idle, err := cat.Idle()
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	// Building a simulation resolves every behavior name.
	if _, err := engine.NewSimulation(cat, world.NewMap(0), nil, engine.Options{}); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d drives, %d actions, %d behaviors, idle %q)\n",
		path, len(cat.Drives()), len(cat.Templates()), len(cat.Behaviors()), idle.ID)
	return nil
}
