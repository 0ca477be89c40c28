package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nvandessel/cozmo-brain/internal/assembly"
	"github.com/nvandessel/cozmo-brain/internal/config"
	"github.com/nvandessel/cozmo-brain/internal/mcp"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Tick the brain in real time behind an MCP server on stdio",
		Long: `Tick the brain in real time behind an MCP server on stdio.

The brain runs at the configured tick interval against the simulated robot.
MCP clients can read its status, inject observations, request sparks and
query the telemetry journal through these tools:
  brain_status, brain_publish_event, brain_request_spark,
  brain_triggers, brain_history

Diagnostics go to stderr since stdout carries the MCP protocol. With
--no-mcp the brain just ticks until interrupted.

Examples:
  brain serve
  brain serve --config pyramid.yaml
  brain serve --no-mcp`,
		RunE: runServe,
	}

	cmd.Flags().Bool("no-mcp", false, "Tick the brain without serving MCP")
	cmd.Flags().Bool("audit", true, "Write an audit.jsonl of MCP tool calls to the user directory")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	noMCP, _ := cmd.Flags().GetBool("no-mcp")
	audit, _ := cmd.Flags().GetBool("audit")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	journal, err := assembly.OpenJournal(ctx, cfg.Telemetry)
	if err != nil {
		logger.Warn("journal unavailable", "error", err)
		journal = nil
	}
	if journal != nil {
		defer journal.Close()
	}
	decisions := assembly.OpenDecisions(cfg.Logging)
	defer decisions.Close()

	b, err := assembly.Assemble(cfg, assembly.Options{
		Logger:    logger,
		Decisions: decisions,
		Journal:   journal,
	})
	if err != nil {
		return err
	}
	defer b.Close()

	if noMCP {
		sigChan := make(chan os.Signal, 1)
		notifySignals(sigChan)
		go func() {
			<-sigChan
			cancel()
		}()
		logger.Info("brain running", "tick", cfg.Tick.Interval)
		return b.Run(ctx)
	}

	srvCfg := &mcp.Config{
		Name:    "cozmo-brain",
		Version: version,
		Brain:   b,
		Journal: journal,
		Logger:  logger,
	}
	if audit {
		if dir, err := config.UserDir(); err == nil {
			srvCfg.AuditDir = filepath.Join(dir, "audit")
		}
	}
	srv, err := mcp.NewServer(srvCfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	brainErr := make(chan error, 1)
	go func() {
		brainErr <- b.Run(ctx)
	}()

	serveErr := srv.Run(ctx)
	cancel()
	if err := <-brainErr; err != nil {
		return fmt.Errorf("brain stopped: %w", err)
	}
	return serveErr
}
