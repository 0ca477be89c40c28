package reaction

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvandessel/cozmo-brain/internal/behavior"
	"github.com/nvandessel/cozmo-brain/internal/clock"
	"github.com/nvandessel/cozmo-brain/internal/events"
	"github.com/nvandessel/cozmo-brain/internal/models"
	"github.com/nvandessel/cozmo-brain/internal/robot"
)

// animPolicy records the animation and target reactions hand it.
type animPolicy struct {
	behavior.Base
	anim    string
	target  models.ObjectID
	lastPre behavior.Preconditions
}

func (p *animPolicy) SetAnimation(name string)           { p.anim = name }
func (p *animPolicy) SetTargetObject(id models.ObjectID) { p.target = id }

func (p *animPolicy) WantsToRun(_ *behavior.Behavior, pre behavior.Preconditions) bool {
	p.lastPre = pre
	return true
}

type fixture struct {
	clk      *clock.Manual
	bus      *events.Bus
	sim      *robot.Sim
	layer    *Layer
	env      *behavior.Env
	factory  *behavior.Factory
	policies map[models.BehaviorID]*animPolicy
	byID     map[models.BehaviorID]*behavior.Behavior
}

func (f *fixture) Get(id models.BehaviorID) (*behavior.Behavior, bool) {
	b, ok := f.byID[id]
	return b, ok
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManual(time.Unix(50_000, 0))
	bus := events.NewBus(clk)
	sim := robot.NewSim(clk, bus)
	layer := NewLayer(bus, nil)
	env := &behavior.Env{Robot: sim, Clock: clk, Bus: bus, Triggers: layer}
	f := &fixture{
		clk:      clk,
		bus:      bus,
		sim:      sim,
		layer:    layer,
		env:      env,
		factory:  behavior.NewFactory(env, behavior.DefaultResumeGuard()),
		policies: make(map[models.BehaviorID]*animPolicy),
		byID:     make(map[models.BehaviorID]*behavior.Behavior),
	}
	t.Cleanup(layer.Close)
	return f
}

func (f *fixture) behavior(t *testing.T, cfg models.BehaviorConfig) *behavior.Behavior {
	t.Helper()
	p := &animPolicy{}
	cfg.Class = models.BehaviorClass("Anim" + string(cfg.ID))
	require.NoError(t, f.factory.Register(cfg.Class, func(models.BehaviorConfig) (behavior.Policy, error) { return p, nil }))
	b, err := f.factory.Create(cfg)
	require.NoError(t, err)
	f.policies[cfg.ID] = p
	f.byID[cfg.ID] = b
	return b
}

func (f *fixture) strategy(t *testing.T, cfg models.ReactionConfig) Strategy {
	t.Helper()
	if _, ok := f.byID[cfg.Behavior]; !ok {
		f.behavior(t, models.BehaviorConfig{ID: cfg.Behavior})
	}
	s, err := NewStrategy(cfg, f, f.env, 7)
	require.NoError(t, err)
	require.NoError(t, f.layer.Add(s))
	return s
}

func TestPriorityTable(t *testing.T) {
	require.NoError(t, validatePriorityTable(priorityTable))
	assert.Equal(t, 1, Priority(models.TriggerCliffDetected))
	assert.Equal(t, 0, Priority(models.TriggerNone))

	tests := []struct {
		name  string
		table []priorityEntry
	}{
		{"gap", append(append([]priorityEntry{}, priorityTable[:2]...), priorityEntry{models.TriggerUnexpectedMovement, 4})},
		{"duplicate", func() []priorityEntry {
			tbl := append([]priorityEntry{}, priorityTable...)
			tbl[1].trigger = tbl[0].trigger
			return tbl
		}()},
		{"missing", priorityTable[:len(priorityTable)-1]},
		{"invalid", []priorityEntry{{models.TriggerNone, 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, validatePriorityTable(tt.table))
		})
	}
}

type enableRecorder struct {
	Cliff
	changes []bool
}

func (e *enableRecorder) EnabledStateChanged(enabled bool) { e.changes = append(e.changes, enabled) }

func TestLocks_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	names := []string{"a", "b", "c", "d"}

	for iter := 0; iter < 200; iter++ {
		f := newFixture(t)
		trig := models.AllTriggers()[rng.IntN(int(models.TriggerCount)-1)]

		// Pre-existing lock on some iterations: the original state is disabled.
		preLocked := rng.IntN(3) == 0
		if preLocked {
			f.layer.Disable("owner", trig)
		}
		before := f.layer.IsEnabled(trig)

		var calls []string
		n := 1 + rng.IntN(8)
		for range n {
			name := names[rng.IntN(len(names))]
			f.layer.Disable(name, trig)
			calls = append(calls, name)
		}
		rng.Shuffle(len(calls), func(i, j int) { calls[i], calls[j] = calls[j], calls[i] })
		for i, name := range calls {
			if i < len(calls)-1 {
				assert.False(t, f.layer.IsEnabled(trig), "enabled before every lock released")
			}
			f.layer.Enable(name, trig)
		}

		require.Equal(t, before, f.layer.IsEnabled(trig), "iteration %d", iter)
		if preLocked {
			assert.Equal(t, map[string]int{"owner": 1}, f.layer.Locks(trig))
		} else {
			assert.Empty(t, f.layer.Locks(trig))
		}
	}
}

func TestLocks_EnabledStateChanged(t *testing.T) {
	f := newFixture(t)
	b := f.behavior(t, models.BehaviorConfig{ID: "cliff"})
	rec := &enableRecorder{Cliff: *newCliff(models.ReactionConfig{Trigger: models.TriggerCliffDetected, Strategy: models.StrategyCliff, Behavior: "cliff"}, b, f.env)}
	require.NoError(t, f.layer.Add(rec))

	f.layer.Disable("x", models.TriggerCliffDetected)
	f.layer.Disable("x", models.TriggerCliffDetected)
	f.layer.Disable("y", models.TriggerCliffDetected)
	f.layer.Enable("x", models.TriggerCliffDetected)
	f.layer.Enable("y", models.TriggerCliffDetected)
	f.layer.Enable("x", models.TriggerCliffDetected)
	f.layer.Enable("x", models.TriggerCliffDetected) // unmatched, ignored

	assert.Equal(t, []bool{false, true}, rec.changes)
	assert.True(t, f.layer.IsEnabled(models.TriggerCliffDetected))
	assert.Empty(t, f.layer.DisabledTriggers())
}

func TestAdd_Duplicate(t *testing.T) {
	f := newFixture(t)
	f.strategy(t, models.ReactionConfig{Trigger: models.TriggerCliffDetected, Strategy: models.StrategyCliff, Behavior: "cliff"})
	s, err := NewStrategy(models.ReactionConfig{Trigger: models.TriggerCliffDetected, Strategy: models.StrategyCliff, Behavior: "cliff"}, f, f.env, 0)
	require.NoError(t, err)
	assert.Error(t, f.layer.Add(s))
}

func TestEvaluate_PriorityOrder(t *testing.T) {
	f := newFixture(t)
	// Added lowest priority first to show order comes from the table.
	f.strategy(t, models.ReactionConfig{Trigger: models.TriggerVoiceCommand, Strategy: models.StrategyGeneric, Behavior: "voice"})
	f.strategy(t, models.ReactionConfig{Trigger: models.TriggerCliffDetected, Strategy: models.StrategyCliff, Behavior: "cliff"})

	f.bus.Publish(events.TagVoiceCommand, events.VoiceCommand{Command: "come here"})
	f.bus.Publish(events.TagCliffEvent, events.CliffEvent{Detected: true})
	f.bus.Dispatch()

	s, ok := f.layer.Evaluate(nil, models.TriggerNone)
	require.True(t, ok)
	assert.Equal(t, models.TriggerCliffDetected, s.Trigger())
	assert.Equal(t, models.BehaviorID("cliff"), s.Behavior().ID())

	order := f.layer.Strategies()
	require.Len(t, order, 2)
	assert.Equal(t, models.TriggerCliffDetected, order[0].Trigger())
}

func TestEvaluate_DisabledSkipped(t *testing.T) {
	f := newFixture(t)
	f.strategy(t, models.ReactionConfig{Trigger: models.TriggerVoiceCommand, Strategy: models.StrategyGeneric, Behavior: "voice"})
	f.strategy(t, models.ReactionConfig{Trigger: models.TriggerCliffDetected, Strategy: models.StrategyCliff, Behavior: "cliff"})

	f.bus.Publish(events.TagVoiceCommand, events.VoiceCommand{Command: "x"})
	f.bus.Publish(events.TagCliffEvent, events.CliffEvent{Detected: true})
	f.bus.Dispatch()
	f.layer.Disable("test", models.TriggerCliffDetected)

	s, ok := f.layer.Evaluate(nil, models.TriggerNone)
	require.True(t, ok)
	assert.Equal(t, models.TriggerVoiceCommand, s.Trigger())
}

func TestEvaluate_InterruptRules(t *testing.T) {
	tests := []struct {
		name      string
		cfg       models.ReactionConfig
		active    models.ReactionTrigger
		wantFires bool
	}{
		{"no active", models.ReactionConfig{}, models.TriggerNone, true},
		{"other active, not allowed", models.ReactionConfig{}, models.TriggerRobotPickedUp, false},
		{"other active, allowed", models.ReactionConfig{CanInterruptOtherTriggered: true}, models.TriggerRobotPickedUp, true},
		{"self active, not allowed", models.ReactionConfig{CanInterruptOtherTriggered: true}, models.TriggerCliffDetected, false},
		{"self active, allowed", models.ReactionConfig{CanInterruptSelf: true}, models.TriggerCliffDetected, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			cfg := tt.cfg
			cfg.Trigger = models.TriggerCliffDetected
			cfg.Strategy = models.StrategyCliff
			cfg.Behavior = "cliff"
			f.strategy(t, cfg)

			f.bus.Publish(events.TagCliffEvent, events.CliffEvent{Detected: true})
			f.bus.Dispatch()

			_, ok := f.layer.Evaluate(nil, tt.active)
			assert.Equal(t, tt.wantFires, ok)
		})
	}
}

func TestCliff_OffTreadsIgnored(t *testing.T) {
	f := newFixture(t)
	f.behavior(t, models.BehaviorConfig{ID: "cliff", RequireOnTreads: new(bool)})
	s := f.strategy(t, models.ReactionConfig{Trigger: models.TriggerCliffDetected, Strategy: models.StrategyCliff, Behavior: "cliff"})

	f.sim.SetOffTreads(models.InAir)
	f.bus.Publish(events.TagCliffEvent, events.CliffEvent{Detected: true})
	f.bus.Dispatch()
	assert.False(t, s.ShouldTrigger(nil))

	f.sim.SetOffTreads(models.OnTreads)
	assert.True(t, s.ShouldTrigger(nil))
	s.BehaviorTriggered()
	assert.False(t, s.ShouldTrigger(nil))
}

func TestGeneric_Condition(t *testing.T) {
	f := newFixture(t)
	f.behavior(t, models.BehaviorConfig{ID: "pickup", RequireOffTreads: true})
	s := f.strategy(t, models.ReactionConfig{Trigger: models.TriggerRobotPickedUp, Strategy: models.StrategyGeneric, Behavior: "pickup"})

	f.sim.SetOffTreads(models.OnBack)
	f.bus.Dispatch()
	assert.False(t, s.ShouldTrigger(nil), "OnBack does not match the InAir condition")

	f.sim.SetOffTreads(models.InAir)
	f.bus.Dispatch()
	assert.True(t, s.ShouldTrigger(nil))

	f.clk.Advance(2 * time.Second)
	assert.False(t, s.ShouldTrigger(nil), "armed trigger expired")
}

func TestGeneric_CustomParams(t *testing.T) {
	f := newFixture(t)
	s := f.strategy(t, models.ReactionConfig{
		Trigger:       models.TriggerObjectPositionUpdated,
		Strategy:      models.StrategyGeneric,
		Behavior:      "look",
		Preconditions: models.PreconditionObject,
		Animation:     "LookAtCube",
		CooldownSec:   5,
		Params: map[string]any{
			"tags":       []any{"ObjectMoved", "ObjectTapped"},
			"condition":  "object_id > 1",
			"expiry_sec": 10,
		},
	})
	g := s.(*Generic)

	f.bus.Publish(events.TagObjectTapped, events.ObjectTapped{ObjectID: 1})
	f.bus.Dispatch()
	assert.False(t, g.Armed())

	f.bus.Publish(events.TagObjectTapped, events.ObjectTapped{ObjectID: 3})
	f.bus.Dispatch()
	require.True(t, s.ShouldTrigger(nil))
	assert.Equal(t, models.ObjectID(3), f.policies["look"].lastPre.ObjectID)

	s.BehaviorTriggered()
	assert.Equal(t, "LookAtCube", f.policies["look"].anim)
	assert.Equal(t, models.ObjectID(3), f.policies["look"].target)

	f.bus.Publish(events.TagObjectMoved, events.ObjectMoved{ObjectID: 4})
	f.bus.Dispatch()
	assert.False(t, s.ShouldTrigger(nil), "cooldown")
	f.clk.Advance(5 * time.Second)
	assert.True(t, s.ShouldTrigger(nil))
}

func TestGeneric_BadConfig(t *testing.T) {
	f := newFixture(t)
	f.behavior(t, models.BehaviorConfig{ID: "b"})
	bad := []models.ReactionConfig{
		{Trigger: models.TriggerVoiceCommand, Strategy: models.StrategyGeneric, Behavior: "b", Params: map[string]any{"condition": "((("}},
		{Trigger: models.TriggerVoiceCommand, Strategy: models.StrategyGeneric, Behavior: "b", Params: map[string]any{"tags": []any{"Nope"}}},
		{Trigger: models.TriggerHiccup, Strategy: models.StrategyGeneric, Behavior: "b"},
		{Trigger: models.TriggerVoiceCommand, Strategy: models.StrategyGeneric, Behavior: "missing"},
		{Trigger: models.TriggerVoiceCommand, Behavior: "b"},
	}
	for _, cfg := range bad {
		_, err := NewStrategy(cfg, f, f.env, 0)
		assert.Error(t, err, "%+v", cfg)
	}
	assert.Error(t, f.layer.Load(bad, f, f.env, 0))
	assert.Empty(t, f.layer.Strategies())
}

func TestFrustration_Rearms(t *testing.T) {
	f := newFixture(t)
	s := f.strategy(t, models.ReactionConfig{Trigger: models.TriggerFrustration, Strategy: models.StrategyFrustration, Behavior: "frustrated"})

	assert.False(t, s.ShouldTrigger(nil))
	f.sim.SetEmotion(models.EmotionConfident, -0.8)
	require.True(t, s.ShouldTrigger(nil))
	s.BehaviorTriggered()
	assert.False(t, s.ShouldTrigger(nil), "disarmed until recovery")

	f.sim.SetEmotion(models.EmotionConfident, 0)
	assert.False(t, s.ShouldTrigger(nil))
	f.sim.SetEmotion(models.EmotionConfident, -0.9)
	assert.True(t, s.ShouldTrigger(nil))
}

func TestDoubleTap(t *testing.T) {
	f := newFixture(t)
	f.sim.AddObject(robot.Object{ID: 2, UpAxis: models.AxisZPositive})
	s := f.strategy(t, models.ReactionConfig{
		Trigger:       models.TriggerDoubleTapDetected,
		Strategy:      models.StrategyDoubleTap,
		Behavior:      "tap",
		Preconditions: models.PreconditionObject,
	})
	dt := s.(*DoubleTap)

	f.bus.Publish(events.TagObjectTapped, events.ObjectTapped{ObjectID: 2})
	f.bus.Dispatch()
	f.clk.Advance(time.Second)
	f.bus.Publish(events.TagObjectTapped, events.ObjectTapped{ObjectID: 2})
	f.bus.Dispatch()
	assert.Equal(t, models.ObjectNone, dt.Tapped(), "taps too far apart")

	f.clk.Advance(200 * time.Millisecond)
	f.bus.Publish(events.TagObjectTapped, events.ObjectTapped{ObjectID: 2})
	f.bus.Dispatch()
	require.Equal(t, models.ObjectID(2), dt.Tapped())
	require.True(t, s.ShouldTrigger(nil))

	s.BehaviorTriggered()
	assert.Equal(t, models.ObjectID(2), f.policies["tap"].target)

	// Taps right after firing are ignored.
	f.bus.Publish(events.TagObjectTapped, events.ObjectTapped{ObjectID: 2})
	f.bus.Publish(events.TagObjectTapped, events.ObjectTapped{ObjectID: 2})
	f.bus.Dispatch()
	assert.Equal(t, models.ObjectNone, dt.Tapped())
}

func TestDisabledTrigger_DropsEvents(t *testing.T) {
	f := newFixture(t)
	f.sim.AddObject(robot.Object{ID: 2, UpAxis: models.AxisZPositive})
	f.strategy(t, models.ReactionConfig{Trigger: models.TriggerCliffDetected, Strategy: models.StrategyCliff, Behavior: "cliff"})
	f.strategy(t, models.ReactionConfig{Trigger: models.TriggerVoiceCommand, Strategy: models.StrategyGeneric, Behavior: "voice"})
	tap := f.strategy(t, models.ReactionConfig{
		Trigger:       models.TriggerDoubleTapDetected,
		Strategy:      models.StrategyDoubleTap,
		Behavior:      "tap",
		Preconditions: models.PreconditionObject,
	}).(*DoubleTap)

	held := []models.ReactionTrigger{models.TriggerCliffDetected, models.TriggerVoiceCommand, models.TriggerDoubleTapDetected}
	for _, trig := range held {
		f.layer.Disable("spark-outro", trig)
	}
	f.bus.Publish(events.TagCliffEvent, events.CliffEvent{Detected: true})
	f.bus.Publish(events.TagVoiceCommand, events.VoiceCommand{Command: "come here"})
	f.bus.Publish(events.TagObjectTapped, events.ObjectTapped{ObjectID: 2})
	f.bus.Dispatch()
	f.clk.Advance(200 * time.Millisecond)
	f.bus.Publish(events.TagObjectTapped, events.ObjectTapped{ObjectID: 2})
	f.bus.Dispatch()

	for _, trig := range held {
		f.layer.Enable("spark-outro", trig)
	}
	assert.Equal(t, models.ObjectNone, tap.Tapped())
	s, ok := f.layer.Evaluate(nil, models.TriggerNone)
	assert.False(t, ok, "event received while disabled fired later: %v", s)

	// Events after re-enabling still arm normally.
	f.bus.Publish(events.TagCliffEvent, events.CliffEvent{Detected: true})
	f.bus.Dispatch()
	s, ok = f.layer.Evaluate(nil, models.TriggerNone)
	require.True(t, ok)
	assert.Equal(t, models.TriggerCliffDetected, s.Trigger())
}

func TestDisabledTrigger_HiccupKeepsTrackingCure(t *testing.T) {
	f := newFixture(t)
	h := f.strategy(t, hiccupConfig()).(*Hiccup)
	h.StartBout()

	f.layer.Disable("pickup", models.TriggerHiccup)
	f.sim.SetOffTreads(models.OnFace)
	f.bus.Dispatch()
	assert.Equal(t, PendingCure, h.CureState())

	f.sim.SetOffTreads(models.OnTreads)
	f.bus.Dispatch()
	f.layer.Enable("pickup", models.TriggerHiccup)
	assert.Equal(t, PlayerCured, h.CureState())
}
