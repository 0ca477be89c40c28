package chooser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nvandessel/cozmo-brain/internal/behavior"
	"github.com/nvandessel/cozmo-brain/internal/behaviors"
	"github.com/nvandessel/cozmo-brain/internal/clock"
	"github.com/nvandessel/cozmo-brain/internal/events"
	"github.com/nvandessel/cozmo-brain/internal/models"
	"github.com/nvandessel/cozmo-brain/internal/registry"
	"github.com/nvandessel/cozmo-brain/internal/robot"
)

// fakeHost stands in for the scheduler.
type fakeHost struct {
	active      models.UnlockID
	requested   models.UnlockID
	soft        bool
	trigger     models.ReactionTrigger
	lastSwitch  time.Time
	current     *behavior.Behavior
	endRequests int
}

func (h *fakeHost) ActiveSpark() models.UnlockID                   { return h.active }
func (h *fakeHost) RequestedSpark() models.UnlockID                { return h.requested }
func (h *fakeHost) IsRequestedSparkSoft() bool                     { return h.soft }
func (h *fakeHost) CurrentReactionTrigger() models.ReactionTrigger { return h.trigger }
func (h *fakeHost) LastChooserSwitch() time.Time                   { return h.lastSwitch }
func (h *fakeHost) CurrentBehavior() *behavior.Behavior            { return h.current }

func (h *fakeHost) ClearRequestedSpark(spark models.UnlockID) {
	if h.requested == spark {
		h.requested = models.UnlockNone
	}
}

func (h *fakeHost) RequestCurrentBehaviorEndOnNextActionComplete() {
	h.endRequests++
	if h.current != nil {
		h.current.StopOnNextActionComplete()
	}
}

// fakeLocks counts reaction trigger locks.
type fakeLocks struct {
	held map[models.ReactionTrigger]map[string]int
}

func (l *fakeLocks) Disable(lock string, t models.ReactionTrigger) {
	if l.held[t] == nil {
		l.held[t] = make(map[string]int)
	}
	l.held[t][lock]++
}

func (l *fakeLocks) Enable(lock string, t models.ReactionTrigger) {
	if l.held[t][lock] > 0 {
		l.held[t][lock]--
		if l.held[t][lock] == 0 {
			delete(l.held[t], lock)
		}
	}
}

func (l *fakeLocks) count(t models.ReactionTrigger) int {
	n := 0
	for _, c := range l.held[t] {
		n += c
	}
	return n
}

type harness struct {
	clk   *clock.Manual
	bus   *events.Bus
	sim   *robot.Sim
	host  *fakeHost
	locks *fakeLocks
	env   *behavior.Env
	reg   *registry.Registry
	deps  Deps
	start time.Time
}

// commonBehaviors are loaded into every harness.
func commonBehaviors() []models.BehaviorConfig {
	off := false
	return []models.BehaviorConfig{
		{ID: "Wait", Class: behaviors.ClassWait, RequireOnTreads: &off},
		{ID: "SparkIntro", Class: behaviors.ClassPlayArbitraryAnim},
		{ID: "SparkOutro", Class: behaviors.ClassPlayArbitraryAnim},
	}
}

func newHarness(t *testing.T, cfgs ...models.BehaviorConfig) *harness {
	t.Helper()
	start := time.Unix(20_000, 0)
	clk := clock.NewManual(start)
	bus := events.NewBus(clk)
	sim := robot.NewSim(clk, bus)
	host := &fakeHost{}
	locks := &fakeLocks{held: make(map[models.ReactionTrigger]map[string]int)}
	env := &behavior.Env{Robot: sim, Clock: clk, Bus: bus, Triggers: locks, Oracle: host}

	f := behavior.NewFactory(env, behavior.DefaultResumeGuard())
	require.NoError(t, behaviors.Register(f))
	reg := registry.New(f, nil)
	require.NoError(t, reg.Load(append(commonBehaviors(), cfgs...)))
	t.Cleanup(reg.RouteActionCompletions(bus))

	return &harness{
		clk:   clk,
		bus:   bus,
		sim:   sim,
		host:  host,
		locks: locks,
		env:   env,
		reg:   reg,
		deps:  Deps{Lookup: reg, Env: env, Host: host},
		start: start,
	}
}

func (h *harness) get(t *testing.T, id models.BehaviorID) *behavior.Behavior {
	t.Helper()
	b, ok := h.reg.Get(id)
	require.True(t, ok, "behavior %s", id)
	return b
}

// tick runs one scheduler-like step without reactions: complete due
// actions, dispatch events, update and ask the chooser, then transition or
// update the current behavior.
func (h *harness) tick(c Chooser) {
	h.sim.Step()
	h.bus.Dispatch()
	c.Update()
	cur := h.host.current
	next := c.ChooseNextBehavior(cur)
	if next != cur {
		if cur != nil {
			cur.Stop()
		}
		h.host.current = nil
		if next != nil && next.Init() == behavior.ResultSuccess {
			h.host.current = next
		}
		return
	}
	if cur != nil && cur.Update() == behavior.StatusComplete {
		cur.Stop()
		h.host.current = nil
	}
}

// advance moves the clock by d in 100ms ticks.
func (h *harness) advance(c Chooser, d time.Duration) {
	for step := time.Duration(0); step < d; step += 100 * time.Millisecond {
		h.clk.Advance(100 * time.Millisecond)
		h.tick(c)
	}
}

func (h *harness) elapsed() time.Duration { return h.clk.Now().Sub(h.start) }

// record collects payloads published with tag.
func record[T any](t *testing.T, bus *events.Bus, tag events.Tag) *[]T {
	t.Helper()
	var got []T
	t.Cleanup(bus.Subscribe(tag, func(ev events.Event) {
		if p, ok := ev.Payload.(T); ok {
			got = append(got, p)
		}
	}))
	return &got
}
