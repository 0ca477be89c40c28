package main

import (
	"context"
	"fmt"
	"io"

	"github.com/nvandessel/cozmo-brain/internal/config"
	"github.com/nvandessel/cozmo-brain/internal/logging"
	"github.com/nvandessel/cozmo-brain/internal/simulation"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay a scripted scenario against the simulated robot",
		Long: `Replay a scripted scenario against the simulated robot.

The scenario file schedules robot observations (cliffs, pickups, cube
moves, spark requests) on a manual clock and checks which behavior,
chooser and reaction trigger are active at given times. The brain config
comes from the scenario's own config key, or --config when it has none.

Examples:
  brain run --scenario cliff.yaml
  brain run --scenario pyramid.yaml --timeline
  brain run --scenario spark.yaml --decisions --json`,
		RunE: runScenario,
	}

	cmd.Flags().String("scenario", "", "Scenario file to replay (required)")
	cmd.Flags().Bool("timeline", false, "Print the event timeline")
	cmd.Flags().Bool("decisions", false, "Trace arbitration decisions to stderr")
	cmd.MarkFlagRequired("scenario")

	return cmd
}

func runScenario(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("scenario")
	showTimeline, _ := cmd.Flags().GetBool("timeline")
	traceDecisions, _ := cmd.Flags().GetBool("decisions")
	jsonOut, _ := cmd.Flags().GetBool("json")

	sc, err := simulation.LoadScenario(path)
	if err != nil {
		return err
	}

	var cfg *config.BrainConfig
	if sc.Config != "" {
		cfg, err = sc.LoadConfig()
	} else {
		cfg, err = loadConfig(cmd)
	}
	if err != nil {
		return err
	}

	opts := simulation.Options{Logger: newLogger(cfg, io.Discard)}
	if traceDecisions {
		opts.Decisions = logging.NewDecisionWriter(cmd.ErrOrStderr())
	}

	res, err := simulation.Run(context.Background(), sc, cfg, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		if err := printJSON(out, res); err != nil {
			return err
		}
	} else {
		if showTimeline {
			fmt.Fprint(out, res.FormatTimeline())
			fmt.Fprintln(out)
		}
		if res.Passed() {
			fmt.Fprintf(out, "PASS %s (%d ticks)\n", sc.Name, res.Ticks)
		} else {
			fmt.Fprintf(out, "FAIL %s (%d ticks)\n", sc.Name, res.Ticks)
			fmt.Fprint(out, res.FormatFailures())
		}
	}

	if !res.Passed() {
		return fmt.Errorf("scenario %s: %d expectation(s) failed", sc.Name, len(res.Failures))
	}
	return nil
}
