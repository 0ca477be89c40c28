package mcp

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/cozmo-brain/internal/assembly"
	"github.com/nvandessel/cozmo-brain/internal/clock"
	"github.com/nvandessel/cozmo-brain/internal/config"
	"github.com/nvandessel/cozmo-brain/internal/events"
	"github.com/nvandessel/cozmo-brain/internal/models"
	"github.com/nvandessel/cozmo-brain/internal/telemetry"
)

type fixture struct {
	srv     *Server
	brain   *assembly.Brain
	clk     *clock.Manual
	journal *telemetry.MemoryJournal
	audit   string
}

// newFixture assembles a brain on a manual clock and wraps it in a server.
// Pass a nil cfg for the defaults.
func newFixture(t *testing.T, cfg *config.BrainConfig) *fixture {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	clk := clock.NewManual(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC))
	j := telemetry.NewMemoryJournal()
	b, err := assembly.Assemble(cfg, assembly.Options{Clock: clk, Journal: j})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	t.Cleanup(b.Close)

	auditDir := t.TempDir()
	srv, err := NewServer(&Config{
		Name:     "test-server",
		Version:  "v1.0.0",
		Brain:    b,
		Journal:  j,
		AuditDir: auditDir,
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return &fixture{srv: srv, brain: b, clk: clk, journal: j, audit: filepath.Join(auditDir, "audit.jsonl")}
}

func (f *fixture) tick(n int) {
	for range n {
		f.clk.Advance(100 * time.Millisecond)
		f.brain.Tick()
	}
}

func readAudit(t *testing.T, path string) []AuditEntry {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening audit log: %v", err)
	}
	defer file.Close()

	var entries []AuditEntry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("parsing audit entry: %v", err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestNewServer(t *testing.T) {
	f := newFixture(t, nil)

	if f.srv.server == nil {
		t.Error("Server.server is nil")
	}
	if f.srv.auditLogger == nil {
		t.Error("expected an audit logger")
	}
	if len(f.srv.toolLimiters) != 5 {
		t.Errorf("len(toolLimiters) = %d, want 5", len(f.srv.toolLimiters))
	}
}

func TestNewServer_RequiresBrain(t *testing.T) {
	if _, err := NewServer(&Config{Name: "x"}); err == nil {
		t.Error("expected an error without a brain")
	}
	if _, err := NewServer(nil); err == nil {
		t.Error("expected an error for a nil config")
	}
}

func TestClose(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := f.srv.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestHandleStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.tick(1)

	_, out, err := f.srv.handleStatus(t.Context(), nil, BrainStatusInput{})
	if err != nil {
		t.Fatalf("handleStatus error = %v", err)
	}
	if out.Status.Behavior != "LookAround" || out.Status.Chooser != "freeplay" {
		t.Errorf("status = %+v, want LookAround under freeplay", out.Status)
	}
	if out.Status.Trigger != "None" {
		t.Errorf("trigger = %q, want None", out.Status.Trigger)
	}
	if want := "running LookAround (chooser freeplay) at tick 1"; out.Summary != want {
		t.Errorf("summary = %q, want %q", out.Summary, want)
	}
}

func TestHandlePublishEvent_Cliff(t *testing.T) {
	f := newFixture(t, nil)
	f.tick(1)

	_, out, err := f.srv.handlePublishEvent(t.Context(), nil, PublishEventInput{
		Tag:    "CliffEvent",
		Fields: map[string]any{"detected": true},
	})
	if err != nil {
		t.Fatalf("handlePublishEvent error = %v", err)
	}
	if out.ID == "" || out.Tag != events.TagCliffEvent {
		t.Errorf("output = %+v, want a queued CliffEvent", out)
	}

	f.tick(1)
	_, st, _ := f.srv.handleStatus(t.Context(), nil, BrainStatusInput{})
	if st.Status.Trigger != "CliffDetected" || st.Status.Behavior != "ReactToCliff" {
		t.Errorf("status = %+v, want ReactToCliff for CliffDetected", st.Status)
	}
	if !strings.HasPrefix(st.Summary, "reacting to CliffDetected with ReactToCliff") {
		t.Errorf("summary = %q", st.Summary)
	}
}

func TestHandlePublishEvent_RobotState(t *testing.T) {
	f := newFixture(t, nil)

	_, out, err := f.srv.handlePublishEvent(t.Context(), nil, PublishEventInput{
		Tag:    "RobotOffTreadsStateChanged",
		Fields: map[string]any{"state": "InAir"},
	})
	if err != nil {
		t.Fatalf("handlePublishEvent error = %v", err)
	}
	if out.ID != "" {
		t.Errorf("ID = %q, want empty for a robot state change", out.ID)
	}
	if got := f.brain.Robot.OffTreadsState(); got != models.InAir {
		t.Errorf("OffTreadsState = %s, want InAir", got)
	}

	_, _, err = f.srv.handlePublishEvent(t.Context(), nil, PublishEventInput{
		Tag:    "ObjectUpAxisChanged",
		Fields: map[string]any{"object_id": 2, "up_axis": "XPositive"},
	})
	if err != nil {
		t.Fatalf("handlePublishEvent error = %v", err)
	}
	if o, ok := f.brain.Robot.Object(2); !ok || o.UpAxis != models.AxisXPositive {
		t.Errorf("cube 2 = %+v, %v; want XPositive", o, ok)
	}
}

func TestHandlePublishEvent_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   PublishEventInput
		wantErr string
	}{
		{"unknown tag", PublishEventInput{Tag: "Sneeze"}, "cannot be published"},
		{"behavior system tag", PublishEventInput{Tag: "BehaviorStarted"}, "cannot be published"},
		{"bad fields", PublishEventInput{Tag: "CliffEvent", Fields: map[string]any{"detected": "yes"}}, "decoding CliffEvent payload"},
		{"missing state", PublishEventInput{Tag: "RobotOffTreadsStateChanged"}, "state is required"},
		{"missing cube", PublishEventInput{Tag: "ObjectUpAxisChanged", Fields: map[string]any{"up_axis": "ZPositive"}}, "object_id and up_axis"},
	}

	f := newFixture(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.srv.handlePublishEvent(t.Context(), nil, tt.input)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want one containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestHandleRequestSpark(t *testing.T) {
	f := newFixture(t, nil)
	f.tick(1)

	_, out, err := f.srv.handleRequestSpark(t.Context(), nil, RequestSparkInput{Spark: "Trick"})
	if err != nil {
		t.Fatalf("handleRequestSpark error = %v", err)
	}
	if out.Message != "hard spark Trick requested" {
		t.Errorf("message = %q", out.Message)
	}
	f.tick(1)
	if got := f.brain.Scheduler.Snapshot().ActiveSpark; got != "Trick" {
		t.Errorf("ActiveSpark = %q, want Trick", got)
	}

	if _, _, err := f.srv.handleRequestSpark(t.Context(), nil, RequestSparkInput{Spark: "Trick", Cancel: true}); err == nil {
		t.Error("expected an error for spark plus cancel")
	}
}

func TestHandleRequestSpark_Cancel(t *testing.T) {
	f := newFixture(t, nil)

	_, out, err := f.srv.handleRequestSpark(t.Context(), nil, RequestSparkInput{Cancel: true})
	if err != nil {
		t.Fatalf("handleRequestSpark error = %v", err)
	}
	if out.Message != "spark cancel queued" {
		t.Errorf("message = %q", out.Message)
	}
	f.tick(1)
	if n := len(mustQuery(t, f.journal, events.TagCancelSpark)); n != 1 {
		t.Errorf("journaled cancels = %d, want 1", n)
	}
}

func TestHandleRequestSpark_NoSparksChooser(t *testing.T) {
	cfg := config.Default()
	cfg.Choosers.Sparks = nil
	f := newFixture(t, cfg)

	_, _, err := f.srv.handleRequestSpark(t.Context(), nil, RequestSparkInput{Spark: "Trick"})
	if !errors.Is(err, assembly.ErrNoSparks) {
		t.Errorf("error = %v, want ErrNoSparks", err)
	}
}

func TestHandleTriggers(t *testing.T) {
	f := newFixture(t, nil)

	_, out, err := f.srv.handleTriggers(t.Context(), nil, TriggersInput{})
	if err != nil {
		t.Fatalf("handleTriggers error = %v", err)
	}
	if out.Count != 7 || len(out.Triggers) != 7 {
		t.Fatalf("count = %d, want 7", out.Count)
	}
	if out.Triggers[0].Trigger != "CliffDetected" {
		t.Errorf("first trigger = %s, want CliffDetected", out.Triggers[0].Trigger)
	}
}

func mustQuery(t *testing.T, j telemetry.Journal, tags ...events.Tag) []telemetry.Entry {
	t.Helper()
	entries, err := j.Query(t.Context(), telemetry.Filter{Tags: tags})
	if err != nil {
		t.Fatalf("Query error = %v", err)
	}
	return entries
}

func TestHandleHistory(t *testing.T) {
	f := newFixture(t, nil)
	f.tick(2)
	f.srv.handlePublishEvent(t.Context(), nil, PublishEventInput{Tag: "CliffEvent", Fields: map[string]any{"detected": true}})
	f.tick(2)
	f.brain.Bus.Dispatch()

	_, out, err := f.srv.handleHistory(t.Context(), nil, HistoryInput{})
	if err != nil {
		t.Fatalf("handleHistory error = %v", err)
	}
	if out.Count == 0 || out.Count != len(out.Entries) {
		t.Fatalf("count = %d, entries = %d", out.Count, len(out.Entries))
	}
	if out.Summary.Reactions["CliffDetected"] != 1 {
		t.Errorf("reactions = %v, want one CliffDetected", out.Summary.Reactions)
	}

	_, out, err = f.srv.handleHistory(t.Context(), nil, HistoryInput{Tags: []string{"ReactionTriggered"}, Limit: 5})
	if err != nil {
		t.Fatalf("handleHistory error = %v", err)
	}
	if out.Count != 1 || out.Entries[0].Fields["behavior"] != "ReactToCliff" {
		t.Errorf("entries = %+v, want one ReactToCliff reaction", out.Entries)
	}

	// Ticks land at 0.1s steps, so the initial LookAround start is older
	// than a quarter second.
	_, out, err = f.srv.handleHistory(t.Context(), nil, HistoryInput{Tags: []string{"BehaviorStarted"}, SinceSec: 0.25})
	if err != nil {
		t.Fatalf("handleHistory error = %v", err)
	}
	if out.Count == 0 {
		t.Fatal("expected recent BehaviorStarted entries")
	}
	for _, e := range out.Entries {
		if e.Fields["behavior"] == "LookAround" && e.Fields["resumed"] != true {
			t.Errorf("SinceSec kept the initial start: %+v", e)
		}
	}
}

func TestHandleHistory_Errors(t *testing.T) {
	f := newFixture(t, nil)

	if _, _, err := f.srv.handleHistory(t.Context(), nil, HistoryInput{Limit: -1}); err == nil {
		t.Error("expected an error for a negative limit")
	}
	if _, _, err := f.srv.handleHistory(t.Context(), nil, HistoryInput{Tags: []string{"Sneeze"}}); err == nil {
		t.Error("expected an error for an unknown tag")
	}

	f.srv.journal = nil
	if _, _, err := f.srv.handleHistory(t.Context(), nil, HistoryInput{}); !errors.Is(err, errNoJournal) {
		t.Errorf("error = %v, want errNoJournal", err)
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, nil)

	for i := range 2 {
		if _, _, err := f.srv.handleRequestSpark(t.Context(), nil, RequestSparkInput{Cancel: true}); err != nil {
			t.Fatalf("call %d error = %v", i+1, err)
		}
	}
	_, _, err := f.srv.handleRequestSpark(t.Context(), nil, RequestSparkInput{Cancel: true})
	if err == nil || !strings.Contains(err.Error(), "rate limit exceeded for brain_request_spark") {
		t.Fatalf("error = %v, want rate limit", err)
	}

	// The limiter reads the brain's clock
	f.clk.Advance(7 * time.Second)
	if _, _, err := f.srv.handleRequestSpark(t.Context(), nil, RequestSparkInput{Cancel: true}); err != nil {
		t.Errorf("after refill error = %v", err)
	}
}

func TestAudit(t *testing.T) {
	f := newFixture(t, nil)

	f.srv.handlePublishEvent(t.Context(), nil, PublishEventInput{Tag: "VoiceCommand", Fields: map[string]any{"command": "dance"}})
	f.srv.handlePublishEvent(t.Context(), nil, PublishEventInput{Tag: "Sneeze"})
	f.srv.Close()

	entries := readAudit(t, f.audit)
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(entries))
	}
	ok, failed := entries[0], entries[1]
	if ok.Tool != "brain_publish_event" || ok.Status != "success" {
		t.Errorf("first entry = %+v", ok)
	}
	if ok.Params["tag"] != "VoiceCommand" || ok.Params["fields"] != "(set)" {
		t.Errorf("params = %v, want tag logged and fields masked", ok.Params)
	}
	if strings.Contains(ok.Params["fields"], "dance") {
		t.Error("event fields leaked into the audit log")
	}
	if failed.Status != "error" || !strings.Contains(failed.Error, "Sneeze") {
		t.Errorf("second entry = %+v", failed)
	}
}

func TestOverviewResource(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.srv.handleOverviewResource(t.Context(), nil)
	if err != nil {
		t.Fatalf("handleOverviewResource error = %v", err)
	}
	if len(res.Contents) != 1 {
		t.Fatalf("contents = %d, want 1", len(res.Contents))
	}
	text := res.Contents[0].Text
	for _, want := range []string{"## Brain", "### Reaction triggers (7)", "freeplay (voice_command)"} {
		if !strings.Contains(text, want) {
			t.Errorf("overview missing %q:\n%s", want, text)
		}
	}
}

func TestAudit_BrainStateAndRateLimit(t *testing.T) {
	f := newFixture(t, nil)
	f.tick(1)

	for range 3 {
		f.srv.handleRequestSpark(t.Context(), nil, RequestSparkInput{Cancel: true})
	}
	f.srv.Close()

	entries := readAudit(t, f.audit)
	if len(entries) != 3 {
		t.Fatalf("audit entries = %d, want 3", len(entries))
	}
	first := entries[0]
	if first.Tick != 1 || first.Behavior != "LookAround" || first.Trigger != models.TriggerNone {
		t.Errorf("first entry = %+v, want tick 1 running LookAround", first)
	}
	if got := entries[2]; got.Status != AuditRateLimited || got.Error != "" {
		t.Errorf("third entry = %+v, want rate_limited without an error message", got)
	}
}
