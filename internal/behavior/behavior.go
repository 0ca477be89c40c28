// Package behavior implements the per-behavior life cycle shared by every
// concrete robot behavior: gating, Init/Update/Resume/Stop, the acting
// sub-state, resource release and scoring.
//
// A Behavior can only be built through Factory.Create. Concrete policies
// plug in through the Policy interface.
package behavior

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/nvandessel/cozmo-brain/internal/events"
	"github.com/nvandessel/cozmo-brain/internal/invariant"
	"github.com/nvandessel/cozmo-brain/internal/logging"
	"github.com/nvandessel/cozmo-brain/internal/models"
	"github.com/nvandessel/cozmo-brain/internal/robot"
	"github.com/nvandessel/cozmo-brain/internal/scoring"
)

// MoodEventInfiniteLoop is fired at the mood system when the resume guard trips.
const MoodEventInfiniteLoop = "ReactionInfiniteLoop"

// ActionCallback receives the result of an acting action.
type ActionCallback func(result string)

// Behavior is one registered behavior and its run-time state.
type Behavior struct {
	cfg    models.BehaviorConfig
	policy Policy
	env    *Env
	log    *slog.Logger
	guard  ResumeGuard

	moodScorer        *scoring.MoodScorer
	repetitionPenalty scoring.Curve
	runningPenalty    scoring.Curve

	running      bool
	resuming     bool
	startedAt    time.Time
	lastRunAt    time.Time
	timesStarted int

	actingTag      robot.ActionTag
	actingCallback ActionCallback
	stopRequested  bool

	disabledTriggers map[models.ReactionTrigger]struct{}
	tracksLocked     bool
	litCubes         map[models.ObjectID]struct{}

	resumeTimes         []time.Time
	resumeCooldownUntil time.Time
}

// ID returns the behavior id.
func (b *Behavior) ID() models.BehaviorID { return b.cfg.ID }

// Class returns the implementation family.
func (b *Behavior) Class() models.BehaviorClass { return b.cfg.Class }

// Name returns the display name.
func (b *Behavior) Name() string { return b.cfg.DisplayName() }

// ExecutableType returns the globally unique executable type, if any.
func (b *Behavior) ExecutableType() models.ExecutableType { return b.cfg.ExecutableType }

// RequiredUnlock returns the unlock gating this behavior.
func (b *Behavior) RequiredUnlock() models.UnlockID { return b.cfg.RequiredUnlock }

// InGroup reports whether the behavior carries group.
func (b *Behavior) InGroup(group string) bool { return b.cfg.InGroup(group) }

// Config returns the configuration the behavior was built from.
func (b *Behavior) Config() models.BehaviorConfig { return b.cfg }

// Policy returns the concrete policy.
func (b *Behavior) Policy() Policy { return b.policy }

// Env returns the shared collaborators.
func (b *Behavior) Env() *Env { return b.env }

// Logger returns a logger tagged with the behavior id.
func (b *Behavior) Logger() *slog.Logger { return b.log }

// Now returns the current time from the shared clock.
func (b *Behavior) Now() time.Time { return b.env.now() }

func (b *Behavior) IsRunning() bool { return b.running }

// IsResuming is true only while the policy's resume hook runs.
func (b *Behavior) IsResuming() bool { return b.resuming }

func (b *Behavior) StartedAt() time.Time { return b.startedAt }

// LastRunAt is when the behavior last stopped after a successful start.
func (b *Behavior) LastRunAt() time.Time { return b.lastRunAt }

func (b *Behavior) TimesStarted() int { return b.timesStarted }

func (b *Behavior) StopRequested() bool { return b.stopRequested }

func (b *Behavior) TracksLocked() bool { return b.tracksLocked }

func (b *Behavior) ActingTag() robot.ActionTag { return b.actingTag }

// RunningDuration is how long the current run has lasted, zero when stopped.
func (b *Behavior) RunningDuration() time.Duration {
	if !b.running {
		return 0
	}
	return b.Now().Sub(b.startedAt)
}

// DisabledTriggers returns the triggers this behavior holds disabled.
func (b *Behavior) DisabledTriggers() []models.ReactionTrigger {
	out := make([]models.ReactionTrigger, 0, len(b.disabledTriggers))
	for t := range b.disabledTriggers {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

func (b *Behavior) lockName() string {
	return "behavior:" + string(b.cfg.ID)
}

func (b *Behavior) String() string {
	return fmt.Sprintf("%s(%s)", b.cfg.ID, b.cfg.Class)
}

// CanRun reports whether the behavior could start now. It does not mutate
// state.
func (b *Behavior) CanRun(pre Preconditions) bool {
	if reason := b.gateFailure(); reason != "" {
		b.log.Log(context.Background(), logging.LevelTrace, "not runnable", "reason", reason)
		return false
	}
	return b.policy.WantsToRun(b, pre)
}

// gateFailure returns a short reason when a configured gate blocks running.
func (b *Behavior) gateFailure() string {
	r := b.env.Robot
	oracle := b.env.oracle()
	now := b.Now()

	if b.cfg.RequiredUnlock != models.UnlockNone && !r.IsUnlocked(b.cfg.RequiredUnlock) {
		return "locked"
	}
	if b.cfg.RequiredSpark != models.UnlockNone && b.cfg.RequiredSpark != oracle.ActiveSpark() {
		return "spark inactive"
	}
	state := r.OffTreadsState()
	if b.cfg.OnTreadsRequired() && state != models.OnTreads {
		return "off treads"
	}
	if b.cfg.RequireOffTreads && state == models.OnTreads {
		return "on treads"
	}
	if r.IsCarryingObject() && !b.policy.CarryingObjectHandledInternally() {
		return "carrying object"
	}
	if b.cfg.RequiredProcess != "" && !r.IsProcessActive(b.cfg.RequiredProcess) {
		return "process inactive"
	}
	if w := b.cfg.RequiredRecentDriveOffChargerSec; w > 0 {
		last := r.LastDriveOffCharger()
		if last.IsZero() || now.Sub(last).Seconds() > w {
			return "charger window"
		}
	}
	if w := b.cfg.RequiredRecentSwitchSec; w > 0 {
		last := oracle.LastChooserSwitch()
		if last.IsZero() || now.Sub(last).Seconds() > w {
			return "switch window"
		}
	}
	if !b.running && !b.lastRunAt.IsZero() && !b.repetitionPenalty.Empty() &&
		b.repetitionPenalty.Eval(now.Sub(b.lastRunAt).Seconds()) <= 0 {
		return "repetition penalty"
	}
	if now.Before(b.resumeCooldownUntil) {
		return "resume cooldown"
	}
	return ""
}

// Init starts the behavior. A failure leaves it stopped.
func (b *Behavior) Init() Result {
	if b.running {
		invariant.Fail("Init called on running behavior %s", b)
		return ResultFailure
	}
	if reason := b.gateFailure(); reason != "" {
		b.log.Debug("init refused", "reason", reason)
		return ResultFailure
	}
	b.begin()
	b.timesStarted++
	if b.policy.OnInit(b) != ResultSuccess {
		b.log.Debug("init failed")
		b.teardown(false)
		return ResultFailure
	}
	b.log.Debug("started", "times_started", b.timesStarted)
	return ResultSuccess
}

// Resume restarts a behavior that a reaction interrupted. Repeated resumes
// after cliff or unexpected-movement reactions trip the loop guard.
func (b *Behavior) Resume(trigger models.ReactionTrigger) Result {
	if b.running {
		invariant.Fail("Resume called on running behavior %s", b)
		return ResultFailure
	}
	now := b.Now()
	if now.Before(b.resumeCooldownUntil) {
		b.log.Debug("resume refused", "reason", "resume cooldown")
		return ResultFailure
	}
	if reason := b.gateFailure(); reason != "" {
		b.log.Debug("resume refused", "reason", reason)
		return ResultFailure
	}
	if trigger == models.TriggerCliffDetected || trigger == models.TriggerUnexpectedMovement {
		if b.noteLoopingResume(now) {
			b.log.Warn("resume loop detected", "trigger", trigger, "cooldown", b.guard.Cooldown)
			b.env.Robot.TriggerEmotionEvent(MoodEventInfiniteLoop)
			return ResultFailure
		}
	}

	b.begin()
	b.resuming = true
	var res Result
	if r, ok := b.policy.(Resumer); ok {
		res = r.OnResume(b, trigger)
	} else {
		res = b.policy.OnInit(b)
	}
	b.resuming = false
	if res != ResultSuccess {
		b.log.Debug("resume failed", "trigger", trigger)
		b.teardown(false)
		return ResultFailure
	}
	b.log.Debug("resumed", "trigger", trigger)
	return ResultSuccess
}

// noteLoopingResume records a resume and reports whether it exceeds the
// guard, installing the cooldown if so.
func (b *Behavior) noteLoopingResume(now time.Time) bool {
	kept := b.resumeTimes[:0]
	for _, t := range b.resumeTimes {
		if now.Sub(t) < b.guard.Window {
			kept = append(kept, t)
		}
	}
	b.resumeTimes = append(kept, now)
	if len(b.resumeTimes) <= b.guard.MaxResumes {
		return false
	}
	b.resumeTimes = b.resumeTimes[:0]
	b.resumeCooldownUntil = now.Add(b.guard.Cooldown)
	return true
}

func (b *Behavior) begin() {
	b.running = true
	b.startedAt = b.Now()
	b.stopRequested = false
	if b.playsSpark(b.env.oracle().ActiveSpark()) {
		b.DisableReactionTrigger(models.TriggerObjectPositionUpdated)
	}
}

// playsSpark reports whether the behavior belongs to spark, through either
// its required spark or its required unlock.
func (b *Behavior) playsSpark(spark models.UnlockID) bool {
	if spark == models.UnlockNone {
		return false
	}
	return b.cfg.RequiredSpark == spark || b.cfg.RequiredUnlock == spark
}

// Update ticks the running behavior.
func (b *Behavior) Update() Status {
	if !b.running {
		invariant.Fail("Update called on %s while not running", b)
		return StatusComplete
	}
	if b.stopRequested && !b.IsActing() {
		return StatusComplete
	}
	return b.policy.OnUpdate(b)
}

// Stop ends the behavior and releases everything it holds. Stopping a
// stopped behavior does nothing.
func (b *Behavior) Stop() {
	if !b.running {
		return
	}
	b.teardown(true)
	b.log.Debug("stopped")
}

func (b *Behavior) teardown(ran bool) {
	b.policy.OnStop(b)
	b.StopActing(false)

	for _, t := range b.DisabledTriggers() {
		b.env.Triggers.Enable(b.lockName(), t)
		delete(b.disabledTriggers, t)
	}
	invariant.Check(len(b.disabledTriggers) == 0, "%s left %d reaction triggers disabled", b, len(b.disabledTriggers))

	b.UnlockTracks()
	for id := range b.litCubes {
		b.env.Robot.ClearCubeLights(id)
		delete(b.litCubes, id)
	}
	invariant.Check(!b.tracksLocked, "%s left tracks locked", b)

	b.running = false
	b.resuming = false
	b.stopRequested = false
	if ran {
		b.lastRunAt = b.Now()
	}
}

// StopOnNextActionComplete asks the behavior to complete as soon as no
// action is outstanding.
func (b *Behavior) StopOnNextActionComplete() {
	b.stopRequested = true
}

// --- acting ---

// IsActing reports whether an action is outstanding.
func (b *Behavior) IsActing() bool { return b.actingTag != 0 }

// StartActing queues an action and arranges for cb to receive its result.
// Only one action may be outstanding; a second call is rejected.
func (b *Behavior) StartActing(a robot.Action, cb ActionCallback) bool {
	if !b.running {
		invariant.Fail("%s started acting while not running", b)
		return false
	}
	if b.IsActing() {
		invariant.Fail("%s started acting with action %d outstanding", b, b.actingTag)
		return false
	}
	tag, err := b.env.Robot.QueueAction(a)
	if err != nil {
		b.log.Warn("queue action failed", "action", a.Name, "error", err)
		return false
	}
	b.actingTag = tag
	b.actingCallback = cb
	return true
}

// StopActing cancels the outstanding action. With allowCallback false the
// completion callback is suppressed.
func (b *Behavior) StopActing(allowCallback bool) bool {
	if !b.IsActing() {
		return false
	}
	tag := b.actingTag
	if !allowCallback {
		b.actingTag = 0
		b.actingCallback = nil
	}
	b.env.Robot.CancelAction(tag)
	return true
}

// HandleActionCompleted delivers a completion. Returns false if the tag is
// not this behavior's outstanding action.
func (b *Behavior) HandleActionCompleted(tag robot.ActionTag, result string) bool {
	if tag == 0 || tag != b.actingTag {
		return false
	}
	cb := b.actingCallback
	b.actingTag = 0
	b.actingCallback = nil
	if cb != nil {
		cb(result)
	}
	return true
}

// --- resources ---

// DisableReactionTrigger suppresses t until the behavior stops or re-enables it.
func (b *Behavior) DisableReactionTrigger(t models.ReactionTrigger) {
	if _, held := b.disabledTriggers[t]; held {
		return
	}
	b.disabledTriggers[t] = struct{}{}
	b.env.Triggers.Disable(b.lockName(), t)
}

// EnableReactionTrigger releases this behavior's lock on t.
func (b *Behavior) EnableReactionTrigger(t models.ReactionTrigger) {
	if _, held := b.disabledTriggers[t]; !held {
		return
	}
	delete(b.disabledTriggers, t)
	b.env.Triggers.Enable(b.lockName(), t)
}

// LockTracks takes exclusive ownership of tracks until Stop.
func (b *Behavior) LockTracks(tracks models.TrackSet) {
	if tracks == models.TrackNone {
		return
	}
	b.env.Robot.LockTracks(b.lockName(), tracks)
	b.tracksLocked = true
}

// UnlockTracks releases every track this behavior locked.
func (b *Behavior) UnlockTracks() {
	if !b.tracksLocked {
		return
	}
	b.env.Robot.UnlockTracks(b.lockName())
	b.tracksLocked = false
}

// SetCubeLights sets a custom pattern that is cleared on Stop.
func (b *Behavior) SetCubeLights(id models.ObjectID, pattern string) {
	b.env.Robot.SetCubeLights(id, pattern)
	b.litCubes[id] = struct{}{}
}

// PublishObjective reports an achieved objective on the bus. id may be
// ObjectNone when no cube is involved.
func (b *Behavior) PublishObjective(objective string, id models.ObjectID) {
	b.env.Bus.Publish(events.TagBehaviorObjectiveAchieved, events.ObjectiveAchieved{
		Objective: objective,
		Behavior:  b.cfg.ID,
		ObjectID:  id,
	})
}

// --- scoring ---

// EvaluateScore ranks the behavior for scored choosers.
func (b *Behavior) EvaluateScore() float64 {
	if !b.running && !b.CanRun(Preconditions{}) {
		return 0
	}
	score := b.cfg.FlatScore
	if b.moodScorer != nil {
		score = b.moodScorer.Score(b.env.Robot)
	}
	now := b.Now()
	switch {
	case b.running:
		score *= b.runningPenalty.Eval(now.Sub(b.startedAt).Seconds())
	case !b.lastRunAt.IsZero():
		score *= b.repetitionPenalty.Eval(now.Sub(b.lastRunAt).Seconds())
	}
	return score
}
