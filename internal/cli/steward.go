package cli

import (
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/talgya/drivesim/internal/config"
	"github.com/talgya/drivesim/internal/steward"
)

var stewardCmd = &cobra.Command{
	Use:   "steward",
	Short: "Keep a running world stocked through the admin API",
	Long: `steward polls a running drivesim server, compares its entity counts
against the configured restock rules and spawns missing resources next
to the agents planning for the matching drive.`,
	RunE: runSteward,
}

func init() {
	stewardCmd.Flags().String("url", "", "Base URL of the drivesim API (overrides steward.url)")
	stewardCmd.Flags().Bool("once", false, "Run a single cycle and exit")
}

func runSteward(cmd *cobra.Command, args []string) error {
	sc := cfg.Steward
	if u, _ := cmd.Flags().GetString("url"); u != "" {
		sc.URL = u
	}
	if cfg.API.AdminKey == "" {
		return errors.New(config.AdminKeyEnv + " is required")
	}
	if len(sc.Rules) == 0 {
		return errors.New("no steward rules configured")
	}
	if sc.Memory != "" {
		if err := os.MkdirAll(filepath.Dir(sc.Memory), 0o755); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := steward.New(sc, cfg.API.AdminKey)
	slog.Info("steward starting", "url", sc.URL, "interval", sc.Interval, "rules", len(sc.Rules))
	if once, _ := cmd.Flags().GetBool("once"); once {
		if err := s.WaitReady(ctx); err != nil {
			return err
		}
		_, err := s.Cycle(ctx)
		return err
	}
	return s.Run(ctx)
}
