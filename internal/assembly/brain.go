// Package assembly turns a BrainConfig into a running brain: clock, event
// bus, simulated robot, behavior registry, reaction layer, choosers and the
// scheduler, plus the optional telemetry recorder.
package assembly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/nvandessel/cozmo-brain/internal/behavior"
	"github.com/nvandessel/cozmo-brain/internal/behaviors"
	"github.com/nvandessel/cozmo-brain/internal/chooser"
	"github.com/nvandessel/cozmo-brain/internal/clock"
	"github.com/nvandessel/cozmo-brain/internal/config"
	"github.com/nvandessel/cozmo-brain/internal/events"
	"github.com/nvandessel/cozmo-brain/internal/logging"
	"github.com/nvandessel/cozmo-brain/internal/models"
	"github.com/nvandessel/cozmo-brain/internal/reaction"
	"github.com/nvandessel/cozmo-brain/internal/registry"
	"github.com/nvandessel/cozmo-brain/internal/robot"
	"github.com/nvandessel/cozmo-brain/internal/scheduler"
	"github.com/nvandessel/cozmo-brain/internal/telemetry"
)

// Options carries the collaborators a brain is assembled with. Every field
// is optional.
type Options struct {
	// Clock defaults to the system clock.
	Clock clock.Clock

	Logger    *slog.Logger
	Decisions *logging.DecisionLogger

	// Journal receives telemetry events when set. The brain does not close it.
	Journal telemetry.Journal

	// Strict fails assembly when any behavior or reaction document is
	// rejected. Otherwise rejected documents are logged and skipped.
	Strict bool
}

// Brain is an assembled, ready-to-tick behavior system.
type Brain struct {
	Config    *config.BrainConfig
	Clock     clock.Clock
	Bus       *events.Bus
	Robot     *robot.Sim
	Env       *behavior.Env
	Registry  *registry.Registry
	Layer     *reaction.Layer
	Scheduler *scheduler.Scheduler
	Recorder  *telemetry.Recorder

	// Skipped joins the errors of behavior and reaction documents that were
	// not loaded. Nil when everything loaded.
	Skipped error

	log        *slog.Logger
	strategies map[models.ReactionTrigger]string
	closers    []func()
}

// Assemble validates cfg and builds a brain from it.
func Assemble(cfg *config.BrainConfig, opts Options) (*Brain, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System()
	}

	b := &Brain{
		Config:     cfg,
		Clock:      clk,
		log:        log,
		strategies: make(map[models.ReactionTrigger]string, len(cfg.Reactions)),
	}
	b.Bus = events.NewBus(clk)
	b.Robot = robot.NewSim(clk, b.Bus)
	seedRobot(b.Robot, cfg.Robot)

	b.Layer = reaction.NewLayer(b.Bus, log.With("component", "reactions"))
	b.closers = append(b.closers, b.Layer.Close)
	b.Env = &behavior.Env{
		Robot:    b.Robot,
		Clock:    clk,
		Bus:      b.Bus,
		Triggers: b.Layer,
		Logger:   log.With("component", "behavior"),
	}

	factory := behavior.NewFactory(b.Env, cfg.Resume.Guard())
	if err := behaviors.Register(factory); err != nil {
		return nil, fmt.Errorf("registering behavior classes: %w", err)
	}
	b.Registry = registry.New(factory, log.With("component", "registry"))
	if err := b.Registry.Load(cfg.Behaviors); err != nil {
		if err := b.skip(fmt.Errorf("loading behaviors: %w", err), opts.Strict); err != nil {
			return nil, err
		}
	}
	b.closers = append(b.closers, b.Registry.RouteActionCompletions(b.Bus))

	if err := b.Layer.Load(cfg.Reactions, b.Registry, b.Env, cfg.Seed); err != nil {
		if err := b.skip(fmt.Errorf("loading reactions: %w", err), opts.Strict); err != nil {
			return nil, err
		}
	}
	for _, r := range cfg.Reactions {
		if _, ok := b.Layer.Strategy(r.Trigger); ok {
			b.strategies[r.Trigger] = r.Strategy
		}
	}

	var err error
	b.Scheduler, err = scheduler.New(scheduler.Options{
		Env:       b.Env,
		Layer:     b.Layer,
		Logger:    log,
		Decisions: opts.Decisions,
	})
	if err != nil {
		b.Close()
		return nil, err
	}
	b.closers = append(b.closers, b.Scheduler.Close)

	if err := b.buildChoosers(); err != nil {
		b.Close()
		return nil, err
	}

	if opts.Journal != nil {
		b.Recorder = telemetry.Attach(b.Bus, opts.Journal, log)
		b.closers = append(b.closers, b.Recorder.Detach)
	}
	return b, nil
}

// skip records a load error. In strict mode it tears the brain down and
// returns err instead.
func (b *Brain) skip(err error, strict bool) error {
	if strict {
		b.Close()
		return err
	}
	b.log.Warn("config documents skipped", "error", err)
	b.Skipped = errors.Join(b.Skipped, err)
	return nil
}

func (b *Brain) buildChoosers() error {
	deps := chooser.Deps{Lookup: b.Registry, Env: b.Env, Host: b.Scheduler, Logger: b.log}
	freeplay, err := chooser.Build(b.Config.Choosers.Freeplay, deps)
	if err != nil {
		return fmt.Errorf("building freeplay chooser: %w", err)
	}
	var sparks chooser.Chooser
	if sc := b.Config.Choosers.Sparks; sc != nil {
		if sparks, err = chooser.Build(*sc, deps); err != nil {
			return fmt.Errorf("building sparks chooser: %w", err)
		}
	}
	return b.Scheduler.SetChoosers(freeplay, sparks)
}

func seedRobot(sim *robot.Sim, cfg config.RobotConfig) {
	sim.Unlock(cfg.Unlocks...)
	for e, v := range cfg.Emotions {
		sim.SetEmotion(e, v)
	}
	for _, c := range cfg.Cubes {
		axis := c.UpAxis
		if axis == "" {
			axis = models.AxisZPositive
		}
		sim.AddObject(robot.Object{ID: c.ID, UpAxis: axis})
	}
}

// Tick advances the simulated robot and runs one scheduler update. Call it
// from the goroutine that owns the brain.
func (b *Brain) Tick() {
	b.Robot.Step()
	b.Scheduler.Update()
}

// Run ticks the brain at the configured interval until ctx is done.
func (b *Brain) Run(ctx context.Context) error {
	return b.Scheduler.Run(ctx, b.Config.Tick.Interval, func() error {
		b.Robot.Step()
		return nil
	})
}

// Publish queues an event built from loosely typed fields. Safe to call from
// any goroutine; the event is delivered on the next tick.
func (b *Brain) Publish(tag events.Tag, fields map[string]any) (events.Event, error) {
	payload, err := events.DecodePayload(tag, fields)
	if err != nil {
		return events.Event{}, err
	}
	return b.Bus.Publish(tag, payload), nil
}

// TriggerInfo describes one loaded reaction trigger.
type TriggerInfo struct {
	Trigger  string            `json:"trigger"`
	Priority int               `json:"priority"`
	Strategy string            `json:"strategy"`
	Behavior models.BehaviorID `json:"behavior"`
	Enabled  bool              `json:"enabled"`
	Locks    map[string]int    `json:"locks,omitempty"`
}

// Triggers lists the loaded reaction triggers in priority order. Safe to
// call from any goroutine.
func (b *Brain) Triggers() []TriggerInfo {
	var out []TriggerInfo
	for _, s := range b.Layer.Strategies() {
		t := s.Trigger()
		out = append(out, TriggerInfo{
			Trigger:  t.String(),
			Priority: reaction.Priority(t),
			Strategy: b.strategies[t],
			Behavior: s.Behavior().ID(),
			Enabled:  b.Layer.IsEnabled(t),
			Locks:    b.Layer.Locks(t),
		})
	}
	return out
}

// Close tears the brain down in reverse assembly order.
func (b *Brain) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// OpenJournal opens the SQLite journal cfg points at, or returns nil when
// telemetry is disabled.
func OpenJournal(ctx context.Context, cfg config.TelemetryConfig) (telemetry.Journal, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	path := cfg.Path
	if path == "" {
		dir, err := config.UserDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "journal.db")
	}
	j, err := telemetry.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return j, nil
}

// OpenDecisions opens the decision log for cfg. The logger is nil below
// debug level or when no directory is usable.
func OpenDecisions(cfg config.LoggingConfig) *logging.DecisionLogger {
	dir := cfg.Dir
	if dir == "" {
		var err error
		if dir, err = config.UserDir(); err != nil {
			return nil
		}
	}
	return logging.NewDecisionLogger(dir, cfg.Level)
}

// ErrNoSparks is returned when a spark is requested from a brain without a
// sparks chooser.
var ErrNoSparks = errors.New("no sparks chooser configured")

// RequestSpark queues a spark request for the next tick.
func (b *Brain) RequestSpark(spark models.UnlockID, soft bool) error {
	if b.Config.Choosers.Sparks == nil {
		return ErrNoSparks
	}
	if spark == models.UnlockNone {
		return errors.New("spark is required")
	}
	b.Bus.Publish(events.TagRequestSpark, events.RequestSpark{Unlock: spark, Soft: soft})
	return nil
}
