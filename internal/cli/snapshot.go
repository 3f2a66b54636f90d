package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/talgya/drivesim/internal/persistence"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Move saved state between the database and compressed snapshot files",
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write the database state to a snapshot file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		if !db.HasWorldState() {
			return errors.New("database holds no saved state")
		}
		st, err := db.LoadState()
		if err != nil {
			return err
		}
		path := snapshotPath(args)
		if err := persistence.WriteSnapshot(path, st); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported tick %d (%d agents, %d entities) to %s\n",
			st.Tick, len(st.Agents), len(st.Entities), path)
		return nil
	},
}

var snapshotImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Replace the database state with a snapshot file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := snapshotPath(args)
		hdr, st, err := persistence.ReadSnapshot(path)
		if err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.SaveState(st); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported tick %d (%d agents) written %s\n",
			hdr.Tick, hdr.Agents, hdr.Written.Format("2006-01-02 15:04:05"))
		return nil
	},
}

var snapshotInspectCmd = &cobra.Command{
	Use:   "inspect [file]",
	Short: "Print a snapshot's header",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hdr, st, err := persistence.ReadSnapshot(snapshotPath(args))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "version %d, tick %d, %d agents, %d entities, written %s\n",
			hdr.Version, hdr.Tick, len(st.Agents), len(st.Entities), hdr.Written.Format("2006-01-02 15:04:05"))
		return nil
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotExportCmd)
	snapshotCmd.AddCommand(snapshotImportCmd)
	snapshotCmd.AddCommand(snapshotInspectCmd)
}

func snapshotPath(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return cfg.Storage.Snapshot
}

func openDB() (*persistence.DB, error) {
	if cfg.Storage.DB == "" {
		return nil, errors.New("no database configured")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DB), 0o755); err != nil {
		return nil, err
	}
	return persistence.Open(cfg.Storage.DB)
}
