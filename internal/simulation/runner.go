package simulation

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/nvandessel/cozmo-brain/internal/assembly"
	"github.com/nvandessel/cozmo-brain/internal/clock"
	"github.com/nvandessel/cozmo-brain/internal/config"
	"github.com/nvandessel/cozmo-brain/internal/events"
	"github.com/nvandessel/cozmo-brain/internal/logging"
	"github.com/nvandessel/cozmo-brain/internal/models"
	"github.com/nvandessel/cozmo-brain/internal/robot"
	"github.com/nvandessel/cozmo-brain/internal/scheduler"
	"github.com/nvandessel/cozmo-brain/internal/telemetry"
)

// DefaultStart is the simulated wall time at offset zero.
var DefaultStart = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

// timelineTags are journaled for the timeline on top of the telemetry
// defaults, so the stimuli show up next to the reactions they caused.
var timelineTags = []events.Tag{
	events.TagCliffEvent,
	events.TagOffTreadsStateChanged,
	events.TagObjectUpAxisChanged,
	events.TagObjectTapped,
	events.TagVoiceCommand,
	events.TagUnexpectedMovement,
}

// Options configures a run. Every field is optional.
type Options struct {
	Logger    *slog.Logger
	Decisions *logging.DecisionLogger

	// Journal additionally receives the run's telemetry.
	Journal telemetry.Journal

	// Start overrides DefaultStart.
	Start time.Time
}

// TimelineEntry is one journaled event, stamped with its scenario offset.
type TimelineEntry struct {
	AtSec  float64        `json:"at_sec"`
	Tag    events.Tag     `json:"tag"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Failure is one unmet expectation.
type Failure struct {
	AtSec   float64 `json:"at_sec"`
	Message string  `json:"message"`
}

// Result is the outcome of a run.
type Result struct {
	Scenario string             `json:"scenario"`
	Ticks    int                `json:"ticks"`
	Timeline []TimelineEntry    `json:"timeline"`
	Failures []Failure          `json:"failures,omitempty"`
	Final    scheduler.Snapshot `json:"final"`
}

// Passed reports whether every expectation held.
func (r *Result) Passed() bool { return len(r.Failures) == 0 }

// Starts returns how many times a behavior started, resumes included.
func (r *Result) Starts(id models.BehaviorID) int {
	n := 0
	for _, e := range r.Timeline {
		if e.Tag == events.TagBehaviorStarted && e.Fields["behavior"] == string(id) {
			n++
		}
	}
	return n
}

// Ran reports whether a behavior started at least once.
func (r *Result) Ran(id models.BehaviorID) bool { return r.Starts(id) > 0 }

// Entries returns the timeline entries with the given tag.
func (r *Result) Entries(tag events.Tag) []TimelineEntry {
	var out []TimelineEntry
	for _, e := range r.Timeline {
		if e.Tag == tag {
			out = append(out, e)
		}
	}
	return out
}

// FormatTimeline renders the timeline one event per line.
func (r *Result) FormatTimeline() string {
	var sb strings.Builder
	for _, e := range r.Timeline {
		fmt.Fprintf(&sb, "%7.2fs  %-28s", e.AtSec, e.Tag)
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%v", k, e.Fields[k])
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatFailures renders the failures one per line.
func (r *Result) FormatFailures() string {
	var sb strings.Builder
	for _, f := range r.Failures {
		fmt.Fprintf(&sb, "%7.2fs  %s\n", f.AtSec, f.Message)
	}
	return sb.String()
}

// Run plays sc against a brain assembled from cfg. Expectation failures are
// reported in the Result; the error covers assembly and cancellation.
func Run(ctx context.Context, sc *Scenario, cfg *config.BrainConfig, opts Options) (*Result, error) {
	start := opts.Start
	if start.IsZero() {
		start = DefaultStart
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("scenario", sc.Name)

	clk := clock.NewManual(start)
	b, err := assembly.Assemble(cfg, assembly.Options{
		Clock:     clk,
		Logger:    logger,
		Decisions: opts.Decisions,
		Journal:   opts.Journal,
	})
	if err != nil {
		return nil, err
	}
	defer b.Close()

	mem := telemetry.NewMemoryJournal()
	rec := telemetry.Attach(b.Bus, mem, logger, append(slices.Clone(telemetry.DefaultTags), timelineTags...)...)
	defer rec.Detach()

	steps := slices.Clone(sc.Steps)
	slices.SortStableFunc(steps, func(a, b Step) int { return compareSec(a.AtSec, b.AtSec) })
	expect := slices.Clone(sc.Expect)
	slices.SortStableFunc(expect, func(a, b Expectation) int { return compareSec(a.AtSec, b.AtSec) })

	res := &Result{Scenario: sc.Name}
	tick := sc.Tick()
	total := sc.Duration()
	logger.Info("scenario started", "duration", total, "tick", tick, "steps", len(steps), "expectations", len(expect))

	for elapsed := time.Duration(0); elapsed <= total; elapsed += tick {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for len(steps) > 0 && offset(steps[0].AtSec) <= elapsed {
			if err := apply(b, steps[0]); err != nil {
				return nil, fmt.Errorf("step at %vs: %w", steps[0].AtSec, err)
			}
			steps = steps[1:]
		}

		b.Tick()
		res.Ticks++

		for len(expect) > 0 && offset(expect[0].AtSec) <= elapsed {
			res.Failures = append(res.Failures, check(b.Scheduler.Snapshot(), expect[0])...)
			expect = expect[1:]
		}
		clk.Advance(tick)
	}

	// Deliver whatever the last tick published.
	b.Bus.Dispatch()

	entries, err := mem.Query(ctx, telemetry.Filter{})
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		res.Timeline = append(res.Timeline, TimelineEntry{
			AtSec:  e.Time.Sub(start).Seconds(),
			Tag:    e.Tag,
			Fields: e.Fields,
		})
	}
	end := sc.DurationSec
	for _, id := range sc.Ran {
		if !res.Ran(id) {
			res.Failures = append(res.Failures, Failure{AtSec: end, Message: fmt.Sprintf("behavior %s never ran", id)})
		}
	}
	for _, id := range sc.NotRan {
		if n := res.Starts(id); n > 0 {
			res.Failures = append(res.Failures, Failure{AtSec: end, Message: fmt.Sprintf("behavior %s ran %d time(s), want none", id, n)})
		}
	}
	res.Final = b.Scheduler.Snapshot()

	if rec.Failed() > 0 {
		logger.Warn("timeline incomplete", "dropped", rec.Failed())
	}
	logger.Info("scenario finished", "ticks", res.Ticks, "events", len(res.Timeline), "failures", len(res.Failures))
	return res, nil
}

func apply(b *assembly.Brain, s Step) error {
	switch s.Kind() {
	case "event":
		_, err := b.Publish(s.Event, s.Fields)
		return err
	case "off_treads":
		b.Robot.SetOffTreads(s.OffTreads)
	case "up_axis":
		b.Robot.SetUpAxis(s.UpAxis.ID, s.UpAxis.Axis)
	case "add_cube":
		axis := s.AddCube.Axis
		if axis == "" {
			axis = models.AxisZPositive
		}
		b.Robot.AddObject(robot.Object{ID: s.AddCube.ID, UpAxis: axis})
	case "remove_cube":
		b.Robot.RemoveObject(s.RemoveCube)
	case "emotion":
		b.Robot.SetEmotion(s.Emotion.Emotion, s.Emotion.Value)
	case "unlock":
		b.Robot.Unlock(s.Unlock)
	case "spark":
		return b.RequestSpark(s.Spark.Unlock, s.Spark.Soft)
	case "cancel_spark":
		b.Bus.Publish(events.TagCancelSpark, events.CancelSpark{})
	case "reject_actions":
		b.Robot.RejectActions(*s.RejectActions)
	default:
		return fmt.Errorf("step has no single action")
	}
	return nil
}

func check(snap scheduler.Snapshot, e Expectation) []Failure {
	var out []Failure
	fail := func(format string, args ...any) {
		out = append(out, Failure{AtSec: e.AtSec, Message: fmt.Sprintf(format, args...)})
	}
	if e.Behavior != "" && snap.Behavior != e.Behavior {
		fail("behavior = %q, want %q", snap.Behavior, e.Behavior)
	}
	if e.Chooser != "" && snap.Chooser != e.Chooser {
		fail("chooser = %q, want %q", snap.Chooser, e.Chooser)
	}
	if e.Trigger != "" && snap.Trigger.String() != e.Trigger {
		fail("trigger = %s, want %s", snap.Trigger, e.Trigger)
	}
	if e.ActiveSpark != "" && snap.ActiveSpark != e.ActiveSpark {
		fail("active spark = %q, want %q", snap.ActiveSpark, e.ActiveSpark)
	}
	return out
}

func compareSec(a, b float64) int {
	return cmp.Compare(offset(a), offset(b))
}
