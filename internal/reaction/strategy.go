// Package reaction implements the reaction trigger layer: strategies that
// may preempt the running behavior with a reflexive one, evaluated in a
// fixed priority order and suppressible through reference-counted locks.
package reaction

import (
	"time"

	"github.com/nvandessel/cozmo-brain/internal/behavior"
	"github.com/nvandessel/cozmo-brain/internal/clock"
	"github.com/nvandessel/cozmo-brain/internal/events"
	"github.com/nvandessel/cozmo-brain/internal/models"
	"github.com/nvandessel/cozmo-brain/internal/robot"
)

// Strategy decides when one reaction trigger fires.
type Strategy interface {
	Trigger() models.ReactionTrigger
	// Behavior is the behavior started when the trigger fires.
	Behavior() *behavior.Behavior
	// Subscriptions lists the event tags routed to HandleEvent.
	Subscriptions() []events.Tag
	HandleEvent(ev events.Event)
	// ShouldTrigger reports whether the trigger wants to preempt current.
	// current may be nil.
	ShouldTrigger(current *behavior.Behavior) bool
	EnabledStateChanged(enabled bool)
	// BehaviorTriggered is called once the scheduler commits to the reaction,
	// before the behavior is started.
	BehaviorTriggered()

	ShouldResumeLastBehavior() bool
	CanInterruptOtherTriggeredBehavior() bool
	CanInterruptSelf() bool
}

// DisabledWatcher is implemented by strategies that must keep seeing their
// events while the trigger is disabled. Events for other disabled strategies
// are dropped.
type DisabledWatcher interface {
	WatchesWhileDisabled() bool
}

// Poller is implemented by strategies whose state advances with time rather
// than events. The layer polls enabled strategies before evaluation.
type Poller interface {
	Poll(now time.Time)
}

// base carries what every strategy shares: config, target behavior,
// cooldown and unlock gating.
type base struct {
	cfg    models.ReactionConfig
	target *behavior.Behavior
	clock  clock.Clock
	robot  robot.Robot

	lastTriggered time.Time
}

func newBase(cfg models.ReactionConfig, target *behavior.Behavior, env *behavior.Env) base {
	return base{cfg: cfg, target: target, clock: env.Clock, robot: env.Robot}
}

func (b *base) Trigger() models.ReactionTrigger { return b.cfg.Trigger }
func (b *base) Behavior() *behavior.Behavior    { return b.target }
func (b *base) Subscriptions() []events.Tag     { return nil }
func (b *base) HandleEvent(events.Event)        {}
func (b *base) EnabledStateChanged(bool)        {}
func (b *base) ShouldResumeLastBehavior() bool  { return b.cfg.ResumeLastBehavior }
func (b *base) CanInterruptSelf() bool          { return b.cfg.CanInterruptSelf }

func (b *base) CanInterruptOtherTriggeredBehavior() bool {
	return b.cfg.CanInterruptOtherTriggered
}

// ready checks unlock and cooldown.
func (b *base) ready() bool {
	if b.cfg.RequiredUnlock != models.UnlockNone && !b.robot.IsUnlocked(b.cfg.RequiredUnlock) {
		return false
	}
	if b.cfg.CooldownSec > 0 && !b.lastTriggered.IsZero() &&
		b.clock.Now().Sub(b.lastTriggered).Seconds() < b.cfg.CooldownSec {
		return false
	}
	return true
}

// preconditions builds what the target behavior is asked to run under.
func (b *base) preconditions(obj models.ObjectID) behavior.Preconditions {
	pre := behavior.Preconditions{Kind: b.cfg.Preconditions, Trigger: b.cfg.Trigger}
	switch b.cfg.Preconditions {
	case models.PreconditionRobotState:
		pre.OffTreads = b.robot.OffTreadsState()
	case models.PreconditionAnimation:
		pre.Animation = b.cfg.Animation
	case models.PreconditionObject:
		pre.ObjectID = obj
	}
	return pre
}

func (b *base) behaviorRunnable(obj models.ObjectID) bool {
	return b.target.CanRun(b.preconditions(obj))
}

func (b *base) markTriggered() {
	b.lastTriggered = b.clock.Now()
	if b.cfg.Animation != "" {
		b.setAnimation(b.cfg.Animation)
	}
}

func (b *base) setAnimation(name string) {
	if s, ok := b.target.Policy().(behavior.AnimationSetter); ok {
		s.SetAnimation(name)
	}
}

func (b *base) setTarget(id models.ObjectID) {
	if id == models.ObjectNone {
		return
	}
	if t, ok := b.target.Policy().(behavior.ObjectTargeter); ok {
		t.SetTargetObject(id)
	}
}
