package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/cozmo-brain/internal/events"
	"github.com/nvandessel/cozmo-brain/internal/telemetry"
)

const testdata = "../../internal/simulation/testdata"

// isolateHome points HOME at a temp directory so tests never read a real
// ~/.cozmo-brain/config.yaml.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := filepath.Join(t.TempDir(), "home")
	if err := os.MkdirAll(home, 0700); err != nil {
		t.Fatalf("Failed to create temp home: %v", err)
	}
	t.Setenv("HOME", home)
	t.Setenv("BRAIN_TELEMETRY_PATH", "")
	return home
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"version", "validate", "triggers", "run", "history", "serve"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("missing subcommand %q", name)
		}
	}
	if root.PersistentFlags().Lookup("json") == nil {
		t.Error("missing --json flag")
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("missing --config flag")
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "brain version "+version) {
		t.Errorf("output = %q", out)
	}

	out, err = execute(t, "version", "--json")
	if err != nil {
		t.Fatalf("version --json failed: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("parsing output: %v", err)
	}
	if got["version"] != version {
		t.Errorf("version = %q, want %q", got["version"], version)
	}
}

func TestValidateCmd(t *testing.T) {
	isolateHome(t)

	out, err := execute(t, "validate")
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	for _, want := range []string{"## Brain", "### Reaction triggers (7)", "1. CliffDetected [cliff] -> ReactToCliff"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "validate", "--format", "plain")
	if err != nil {
		t.Fatalf("validate --format plain failed: %v", err)
	}
	if !strings.HasPrefix(out, "Behaviors (") {
		t.Errorf("plain output = %q", out)
	}

	if _, err := execute(t, "validate", "--format", "html"); err == nil {
		t.Error("expected an error for an unknown format")
	}
}

func TestValidateCmd_PyramidConfig(t *testing.T) {
	isolateHome(t)

	out, err := execute(t, "validate", "--config", filepath.Join(testdata, "pyramid_brain.yaml"))
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(out, "(build_pyramid)") {
		t.Errorf("output missing the pyramid chooser:\n%s", out)
	}
}

func TestValidateCmd_InvalidConfig(t *testing.T) {
	isolateHome(t)
	path := writeFile(t, t.TempDir(), "bad.yaml", `
behaviors:
  - id: Wait
    class: Wait
reactions:
  - trigger: CliffDetected
    strategy: cliff
    behavior: ReactToCliff
`)

	out, err := execute(t, "validate", "--config", path, "--json")
	if err == nil {
		t.Fatal("expected validation to fail")
	}
	if !strings.Contains(err.Error(), "ReactToCliff") {
		t.Errorf("error = %v, want it to name the missing behavior", err)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("parsing output: %v", err)
	}
	if got["valid"] != false {
		t.Errorf("valid = %v, want false", got["valid"])
	}
}

func TestTriggersCmd(t *testing.T) {
	isolateHome(t)

	out, err := execute(t, "triggers")
	if err != nil {
		t.Fatalf("triggers failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 8 {
		t.Fatalf("lines = %d, want header plus 7:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[1], "CliffDetected") {
		t.Errorf("first trigger line = %q", lines[1])
	}

	out, err = execute(t, "triggers", "--json")
	if err != nil {
		t.Fatalf("triggers --json failed: %v", err)
	}
	var got struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("parsing output: %v", err)
	}
	if got.Count != 7 {
		t.Errorf("count = %d, want 7", got.Count)
	}
}

func TestRunCmd(t *testing.T) {
	isolateHome(t)

	out, err := execute(t, "run", "--scenario", filepath.Join(testdata, "cliff.yaml"), "--timeline")
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "PASS cliff (51 ticks)") {
		t.Errorf("output missing PASS line:\n%s", out)
	}
	if !strings.Contains(out, "ReactionTriggered") {
		t.Errorf("timeline missing ReactionTriggered:\n%s", out)
	}
}

func TestRunCmd_ScenarioConfig(t *testing.T) {
	isolateHome(t)

	if out, err := execute(t, "run", "--scenario", filepath.Join(testdata, "pyramid.yaml")); err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}
}

func TestRunCmd_Failing(t *testing.T) {
	isolateHome(t)
	path := writeFile(t, t.TempDir(), "wrong.yaml", `
name: wrong
duration_sec: 1
expect:
  - at_sec: 0.5
    behavior: Dance
`)

	out, err := execute(t, "run", "--scenario", path)
	if err == nil {
		t.Fatal("expected a failing scenario to return an error")
	}
	if !strings.Contains(out, "FAIL wrong") || !strings.Contains(out, `behavior = "LookAround", want "Dance"`) {
		t.Errorf("output = %q", out)
	}
}

func TestRunCmd_RequiresScenario(t *testing.T) {
	if _, err := execute(t, "run"); err == nil {
		t.Error("expected an error without --scenario")
	}
}

func TestHistoryCmd(t *testing.T) {
	isolateHome(t)
	dbPath := filepath.Join(t.TempDir(), "journal.db")

	j, err := telemetry.OpenSQLite(t.Context(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	now := time.Now()
	for _, e := range []telemetry.Entry{
		{Time: now.Add(-2 * time.Second), Tag: events.TagBehaviorStarted, Fields: map[string]any{"behavior": "LookAround"}},
		{Time: now.Add(-time.Second), Tag: events.TagReactionTriggered, Fields: map[string]any{"trigger": "CliffDetected", "behavior": "ReactToCliff"}},
		{Time: now.Add(-time.Second), Tag: events.TagBehaviorStopped, Fields: map[string]any{"behavior": "LookAround", "ran_for_sec": 1.0, "interrupted": true}},
	} {
		if err := j.Append(t.Context(), e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	j.Close()

	out, err := execute(t, "history", "--db", dbPath)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	for _, want := range []string{"3 journaled events", "LookAround", "CliffDetected"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "history", "--db", dbPath, "--tags", "ReactionTriggered", "--json")
	if err != nil {
		t.Fatalf("history --json failed: %v", err)
	}
	var got struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("parsing output: %v", err)
	}
	if got.Count != 1 {
		t.Errorf("count = %d, want 1", got.Count)
	}

	if _, err := execute(t, "history", "--db", dbPath, "--tags", "Sneeze"); err == nil {
		t.Error("expected an error for an unknown tag")
	}
}

func TestHistoryCmd_TelemetryDisabled(t *testing.T) {
	isolateHome(t)
	t.Setenv("BRAIN_TELEMETRY", "false")

	_, err := execute(t, "history")
	if err == nil || !strings.Contains(err.Error(), "telemetry is disabled") {
		t.Errorf("error = %v, want telemetry disabled", err)
	}
}

func TestServeCmd_Flags(t *testing.T) {
	cmd := newServeCmd()
	if cmd.Flags().Lookup("no-mcp") == nil {
		t.Error("missing --no-mcp flag")
	}
	if cmd.Flags().Lookup("audit") == nil {
		t.Error("missing --audit flag")
	}
}
