package simulation_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/cozmo-brain/internal/config"
	"github.com/nvandessel/cozmo-brain/internal/events"
	"github.com/nvandessel/cozmo-brain/internal/simulation"
	"github.com/nvandessel/cozmo-brain/internal/simulation/simtest"
	"github.com/nvandessel/cozmo-brain/internal/telemetry"
)

func runFile(t *testing.T, name string) *simulation.Result {
	t.Helper()
	sc, err := simulation.LoadScenario(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("LoadScenario(%s): %v", name, err)
	}
	cfg, err := sc.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig(%s): %v", name, err)
	}
	res, err := simulation.Run(t.Context(), sc, cfg, simulation.Options{})
	if err != nil {
		t.Fatalf("Run(%s): %v", name, err)
	}
	return res
}

func parse(t *testing.T, doc string) *simulation.Scenario {
	t.Helper()
	sc, err := simulation.ParseScenario([]byte(doc))
	if err != nil {
		t.Fatalf("ParseScenario: %v", err)
	}
	return sc
}

func TestScenarioFiles(t *testing.T) {
	for _, name := range []string{"cliff.yaml", "pickup.yaml", "spark.yaml", "pyramid.yaml"} {
		t.Run(name, func(t *testing.T) {
			simtest.AssertPassed(t, runFile(t, name))
		})
	}
}

func TestCliff_Timeline(t *testing.T) {
	res := runFile(t, "cliff.yaml")

	ev, ok := simtest.AssertEvent(t, res, events.TagReactionTriggered, map[string]any{
		"trigger":     "CliffDetected",
		"behavior":    "ReactToCliff",
		"interrupted": "LookAround",
	})
	if ok && ev.AtSec != 1 {
		t.Errorf("reaction at %.2fs, want 1.00s", ev.AtSec)
	}
	simtest.AssertEvent(t, res, events.TagBehaviorStarted, map[string]any{
		"behavior": "LookAround",
		"resumed":  true,
	})
	simtest.AssertEvent(t, res, events.TagCliffEvent, map[string]any{"detected": true})
	simtest.AssertRanBefore(t, res, "LookAround", "ReactToCliff")

	if res.Ticks != 51 {
		t.Errorf("Ticks = %d, want 51", res.Ticks)
	}
	if res.Final.Behavior != "LookAround" {
		t.Errorf("final behavior = %q, want LookAround", res.Final.Behavior)
	}
}

func TestSpark_Outcome(t *testing.T) {
	res := runFile(t, "spark.yaml")

	simtest.AssertEvent(t, res, events.TagSparkEnded, map[string]any{
		"spark":   "Trick",
		"outcome": events.SparkSuccess,
	})
	simtest.AssertEvent(t, res, events.TagHardSparkEnded, map[string]any{"success": true})
	simtest.AssertRanBefore(t, res, "SparkIntro", "PerformTrick")
	simtest.AssertRanBefore(t, res, "PerformTrick", "SparkOutro")

	if n := len(res.Entries(events.TagBehaviorObjectiveAchieved)); n < 3 {
		t.Errorf("objectives = %d, want at least 3", n)
	}
}

func TestPyramid_BuildOrder(t *testing.T) {
	res := runFile(t, "pyramid.yaml")

	simtest.AssertRanBefore(t, res, "PyramidBase", "PyramidTop")
	simtest.AssertEvent(t, res, events.TagBehaviorObjectiveAchieved, map[string]any{"objective": "BuiltPyramidBase"})
	simtest.AssertEvent(t, res, events.TagBehaviorObjectiveAchieved, map[string]any{"objective": "BuiltPyramid"})
	simtest.AssertEvent(t, res, events.TagBuildPyramidPrereqsChanged, map[string]any{"prereqs_met": true})
	if res.Starts("PyramidTop") != 1 {
		t.Errorf("PyramidTop started %d times, want 1", res.Starts("PyramidTop"))
	}
}

func TestRun_ReportsFailures(t *testing.T) {
	sc := parse(t, `
name: wrong
duration_sec: 1
expect:
  - at_sec: 0.5
    behavior: Dance
    trigger: CliffDetected
ran: [Hiccup]
not_ran: [LookAround]
`)
	res, err := simulation.Run(t.Context(), sc, config.Default(), simulation.Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Passed() {
		t.Fatal("expected failures")
	}
	if len(res.Failures) != 4 {
		t.Fatalf("failures = %d, want 4:\n%s", len(res.Failures), res.FormatFailures())
	}
	out := res.FormatFailures()
	for _, want := range []string{
		`behavior = "LookAround", want "Dance"`,
		"trigger = None, want CliffDetected",
		"behavior Hiccup never ran",
		"behavior LookAround ran 1 time(s), want none",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("failures missing %q:\n%s", want, out)
		}
	}
}

func TestRun_StepKinds(t *testing.T) {
	sc := parse(t, `
name: kinds
duration_sec: 2
steps:
  - at_sec: 0.2
    add_cube: {id: 4, axis: XPositive}
  - at_sec: 0.3
    up_axis: {id: 4, axis: ZPositive}
  - at_sec: 0.4
    emotion: {emotion: happy, value: 0.7}
  - at_sec: 0.5
    unlock: Dance
  - at_sec: 0.6
    remove_cube: 4
  - at_sec: 0.7
    event: VoiceCommand
    fields: {command: dance}
`)
	res, err := simulation.Run(t.Context(), sc, config.Default(), simulation.Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	simtest.AssertEvent(t, res, events.TagObjectUpAxisChanged, map[string]any{"up_axis": "ZPositive"})
	simtest.AssertEvent(t, res, events.TagVoiceCommand, map[string]any{"command": "dance"})
	simtest.AssertEvent(t, res, events.TagReactionTriggered, map[string]any{"trigger": "VoiceCommand"})
}

func TestRun_Journal(t *testing.T) {
	sc := parse(t, `
name: journal
duration_sec: 1
expect:
  - at_sec: 1
    behavior: LookAround
`)
	j := telemetry.NewMemoryJournal()
	res, err := simulation.Run(t.Context(), sc, config.Default(), simulation.Options{Journal: j})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	simtest.AssertPassed(t, res)

	entries, err := j.Query(t.Context(), telemetry.Filter{Tags: []events.Tag{events.TagBehaviorStarted}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 || entries[0].Fields["behavior"] != "LookAround" {
		t.Errorf("journal starts = %+v, want one LookAround", entries)
	}
	if !entries[0].Time.Equal(simulation.DefaultStart) {
		t.Errorf("first start at %v, want %v", entries[0].Time, simulation.DefaultStart)
	}
}

func TestRun_Cancelled(t *testing.T) {
	sc := parse(t, "name: cancelled\nduration_sec: 1\n")
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if _, err := simulation.Run(ctx, sc, config.Default(), simulation.Options{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	sc := parse(t, "name: bad\nduration_sec: 1\n")
	cfg := config.Default()
	cfg.Tick.Interval = 0

	if _, err := simulation.Run(t.Context(), sc, cfg, simulation.Options{}); err == nil {
		t.Error("expected an assembly error")
	}
}

func TestRun_SparkWithoutSparksChooser(t *testing.T) {
	sc := parse(t, `
name: no-sparks
duration_sec: 1
steps:
  - at_sec: 0.5
    spark: {unlock: Trick}
`)
	cfg := config.Default()
	cfg.Choosers.Sparks = nil

	_, err := simulation.Run(t.Context(), sc, cfg, simulation.Options{})
	if err == nil || !strings.Contains(err.Error(), "step at 0.5s") {
		t.Errorf("Run error = %v, want a step error", err)
	}
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"missing name", "duration_sec: 1\n", "name is required"},
		{"no duration", "name: x\n", "duration_sec must be positive"},
		{"negative tick", "name: x\nduration_sec: 1\ntick_ms: -5\n", "tick_ms"},
		{"unknown key", "name: x\nduration_sec: 1\nspeed: 2\n", "field speed not found"},
		{"step out of range", "name: x\nduration_sec: 1\nsteps:\n  - at_sec: 2\n    unlock: Trick\n", "outside"},
		{"empty step", "name: x\nduration_sec: 1\nsteps:\n  - at_sec: 0.5\n", "no action set"},
		{"two actions", "name: x\nduration_sec: 1\nsteps:\n  - at_sec: 0.5\n    unlock: Trick\n    cancel_spark: true\n", "more than one action"},
		{"unknown event", "name: x\nduration_sec: 1\nsteps:\n  - at_sec: 0.5\n    event: Sneeze\n", `unknown event "Sneeze"`},
		{"bad event fields", "name: x\nduration_sec: 1\nsteps:\n  - at_sec: 0.5\n    event: CliffEvent\n    fields: {detected: maybe}\n", "decoding CliffEvent payload"},
		{"stray fields", "name: x\nduration_sec: 1\nsteps:\n  - at_sec: 0.5\n    unlock: Trick\n    fields: {a: 1}\n", "fields only apply"},
		{"axis without id", "name: x\nduration_sec: 1\nsteps:\n  - at_sec: 0.5\n    up_axis: {axis: ZPositive}\n", "up_axis: id is required"},
		{"empty expectation", "name: x\nduration_sec: 1\nexpect:\n  - at_sec: 0.5\n", "nothing to check"},
		{"unknown trigger", "name: x\nduration_sec: 1\nexpect:\n  - at_sec: 0.5\n    trigger: Sneezed\n", "unknown reaction trigger"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := simulation.ParseScenario([]byte(tt.doc))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ParseScenario() error = %v, want one containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestScenario_Config(t *testing.T) {
	sc, err := simulation.LoadScenario(filepath.Join("testdata", "pyramid.yaml"))
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	if got, want := sc.ConfigPath(), filepath.Join("testdata", "pyramid_brain.yaml"); got != want {
		t.Errorf("ConfigPath() = %q, want %q", got, want)
	}
	cfg, err := sc.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Choosers.Sparks != nil {
		t.Error("expected the sparks chooser to be disabled")
	}
	if len(cfg.Robot.Cubes) != 3 {
		t.Errorf("cubes = %d, want 3", len(cfg.Robot.Cubes))
	}

	def := parse(t, "name: d\nduration_sec: 1\n")
	if def.ConfigPath() != "" {
		t.Errorf("ConfigPath() = %q, want empty", def.ConfigPath())
	}
	if def.Tick() != simulation.DefaultTick {
		t.Errorf("Tick() = %v, want %v", def.Tick(), simulation.DefaultTick)
	}
}

func TestLoadScenario_Missing(t *testing.T) {
	if _, err := simulation.LoadScenario(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
