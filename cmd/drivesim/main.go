// Command drivesim runs the goal-driven agent sandbox.
package main

import (
	"log/slog"
	"os"

	"github.com/talgya/drivesim/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		slog.Error("drivesim failed", "error", err)
		os.Exit(1)
	}
}
