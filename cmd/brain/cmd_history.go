package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/nvandessel/cozmo-brain/internal/assembly"
	"github.com/nvandessel/cozmo-brain/internal/events"
	"github.com/nvandessel/cozmo-brain/internal/telemetry"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show journaled telemetry from earlier runs",
		Long: `Show journaled telemetry from earlier runs.

Reads the SQLite journal 'brain serve' writes: behavior starts and stops,
reactions, spark outcomes and spark requests. Prints a per-behavior summary,
and with --entries the matching events themselves.

Examples:
  brain history
  brain history --since 10m --entries
  brain history --tags ReactionTriggered,SparkEnded --limit 20 --json`,
		RunE: runHistory,
	}

	cmd.Flags().String("db", "", "Journal database (default: telemetry.path from the config)")
	cmd.Flags().StringSlice("tags", nil, "Only include these event tags")
	cmd.Flags().Duration("since", 0, "Only include events newer than this (e.g. 30m, 2h)")
	cmd.Flags().Int("limit", 0, "Keep only the most recent N entries (0 = all)")
	cmd.Flags().Bool("entries", false, "Print the matching entries, not just the summary")

	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	dbPath, _ := cmd.Flags().GetString("db")
	tags, _ := cmd.Flags().GetStringSlice("tags")
	since, _ := cmd.Flags().GetDuration("since")
	limit, _ := cmd.Flags().GetInt("limit")
	showEntries, _ := cmd.Flags().GetBool("entries")
	jsonOut, _ := cmd.Flags().GetBool("json")

	if limit < 0 {
		return fmt.Errorf("--limit must not be negative, got %d", limit)
	}
	filter := telemetry.Filter{Limit: limit}
	for _, t := range tags {
		tag := events.Tag(t)
		if !events.KnownTag(tag) {
			return fmt.Errorf("unknown event tag %q", t)
		}
		filter.Tags = append(filter.Tags, tag)
	}
	if since > 0 {
		filter.Since = time.Now().Add(-since)
	}

	ctx := context.Background()
	journal, err := openHistoryJournal(ctx, cmd, dbPath)
	if err != nil {
		return err
	}
	defer journal.Close()

	entries, err := journal.Query(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to query journal: %w", err)
	}
	summary := telemetry.Summarize(entries)

	out := cmd.OutOrStdout()
	if jsonOut {
		result := map[string]any{"summary": summary, "count": len(entries)}
		if showEntries {
			result["entries"] = entries
		}
		return printJSON(out, result)
	}

	if showEntries {
		printEntries(out, entries)
		fmt.Fprintln(out)
	}
	printSummary(out, summary)
	return nil
}

// openHistoryJournal opens --db when given, else the configured journal.
func openHistoryJournal(ctx context.Context, cmd *cobra.Command, dbPath string) (telemetry.Journal, error) {
	if dbPath != "" {
		journal, err := telemetry.OpenSQLite(ctx, dbPath)
		if err != nil {
			return nil, fmt.Errorf("opening journal: %w", err)
		}
		return journal, nil
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	journal, err := assembly.OpenJournal(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	if journal == nil {
		return nil, errors.New("telemetry is disabled; enable it in the config or pass --db")
	}
	return journal, nil
}

func printEntries(w io.Writer, entries []telemetry.Entry) {
	for _, e := range entries {
		fmt.Fprintf(w, "%s  %-28s %v\n", e.Time.Local().Format("2006-01-02 15:04:05.000"), e.Tag, e.Fields)
	}
}

func printSummary(w io.Writer, s telemetry.Summary) {
	fmt.Fprintf(w, "%d journaled events\n", s.Entries)
	if len(s.Behaviors) > 0 {
		fmt.Fprintf(w, "\n%-28s %7s %8s %12s %10s\n", "BEHAVIOR", "STARTS", "RESUMES", "INTERRUPTED", "RAN FOR")
		for _, b := range s.Behaviors {
			ranFor := time.Duration(b.RanForSec * float64(time.Second)).Round(time.Millisecond)
			fmt.Fprintf(w, "%-28s %7d %8d %12d %10s\n", b.Behavior, b.Starts, b.Resumes, b.Interrupted, ranFor)
		}
	}
	if len(s.Reactions) > 0 {
		fmt.Fprintln(w, "\nReactions:")
		for _, k := range slices.Sorted(maps.Keys(s.Reactions)) {
			fmt.Fprintf(w, "  %-22s %d\n", k, s.Reactions[k])
		}
	}
	if len(s.Sparks) > 0 {
		fmt.Fprintln(w, "\nSpark outcomes:")
		for _, k := range slices.Sorted(maps.Keys(s.Sparks)) {
			fmt.Fprintf(w, "  %-22s %d\n", k, s.Sparks[k])
		}
	}
}
