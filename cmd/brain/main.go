package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/nvandessel/cozmo-brain/internal/config"
	"github.com/nvandessel/cozmo-brain/internal/logging"
	"github.com/spf13/cobra"
)

// Set via -ldflags at release time.
var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "brain",
		Short: "Behavior activation and arbitration for a small robot",
		Long: `brain runs the behavior system of a small expressive robot against a
simulated body: a scheduler that picks what the robot does each tick,
reaction triggers that interrupt it, and choosers that select the next
activity when nothing urgent is happening.

Use 'brain run' to replay a scripted scenario and 'brain serve' to tick
the brain in real time behind an MCP server.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("config", "", "Brain config file (default: ~/.cozmo-brain/config.yaml when present)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newValidateCmd(),
		newTriggersCmd(),
		newRunCmd(),
		newHistoryCmd(),
		newServeCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			out := cmd.OutOrStdout()
			if jsonOut {
				json.NewEncoder(out).Encode(map[string]string{
					"version": version,
					"commit":  commit,
					"date":    date,
				})
			} else {
				fmt.Fprintf(out, "brain version %s (commit: %s, built: %s)\n", version, commit, date)
			}
		},
	}
}

// loadConfig resolves --config through config.Load.
func loadConfig(cmd *cobra.Command) (*config.BrainConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// newLogger writes diagnostics to w at the configured level.
func newLogger(cfg *config.BrainConfig, w io.Writer) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, w)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
