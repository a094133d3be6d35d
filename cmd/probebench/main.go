// probebench - hardware test bench console
//
// This is the main entry point for the probebench daemon and its one-shot
// commands. Drivers are compiled in and registered by blank import; plugin
// manifests in the configured directory turn them into named instances.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/probebench/internal/drivers/command"
	_ "github.com/nerrad567/probebench/internal/drivers/loopback"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Each call returns a fresh tree so
// tests can run commands independently.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "probebench",
		Short: "Hardware test bench console with pluggable device drivers",
		Long: `probebench discovers hardware devices through pluggable drivers, drives
them through a fixed lifecycle and relays their acquisition streams to
WebSocket clients, MQTT peers, InfluxDB and capture files.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", getConfigPath(),
		"config file (can also use PROBEBENCH_CONFIG env var)")

	root.AddCommand(
		newServeCmd(&configPath),
		newScanCmd(&configPath),
		newDriversCmd(&configPath),
	)
	return root
}

// getConfigPath returns the configuration file path.
// Uses PROBEBENCH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("PROBEBENCH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
