package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/nvandessel/cozmo-brain/internal/assembly"
	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the brain config and describe what it assembles",
		Long: `Validate the brain config and describe what it assembles.

This command checks for:
  - Unknown behavior classes and duplicate behavior IDs
  - Reactions that name missing behaviors or repeat a trigger
  - Chooser trees with unknown types, members or fallbacks

On success it prints the loaded behaviors, reaction triggers in priority
order and the chooser trees.

Examples:
  brain validate
  brain validate --config pyramid.yaml --format plain
  brain validate --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			formatFlag, _ := cmd.Flags().GetString("format")

			format, err := assembly.ParseFormat(formatFlag)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			b, err := assembly.Assemble(cfg, assembly.Options{Logger: newLogger(cfg, io.Discard), Strict: true})
			if err != nil {
				if jsonOut {
					printJSON(cmd.OutOrStdout(), map[string]any{
						"valid":  false,
						"errors": strings.Split(err.Error(), "\n"),
					})
				}
				return err
			}
			defer b.Close()

			report := assembly.Describe(b, format)
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"valid":  true,
					"report": report,
				})
			}
			fmt.Fprint(cmd.OutOrStdout(), report.Text)
			return nil
		},
	}

	cmd.Flags().String("format", "markdown", "Report format: markdown, plain")

	return cmd
}

func newTriggersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "triggers",
		Short: "List reaction triggers in priority order",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			b, err := assembly.Assemble(cfg, assembly.Options{Logger: newLogger(cfg, io.Discard)})
			if err != nil {
				return err
			}
			defer b.Close()

			triggers := b.Triggers()
			out := cmd.OutOrStdout()
			if jsonOut {
				return printJSON(out, map[string]any{
					"triggers": triggers,
					"count":    len(triggers),
				})
			}

			fmt.Fprintf(out, "%-3s %-22s %-12s %s\n", "#", "TRIGGER", "STRATEGY", "BEHAVIOR")
			for _, t := range triggers {
				line := fmt.Sprintf("%-3d %-22s %-12s %s", t.Priority, t.Trigger, t.Strategy, t.Behavior)
				if !t.Enabled {
					line += " (disabled)"
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}
