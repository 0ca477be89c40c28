package behaviors

import (
	"time"

	"github.com/nvandessel/cozmo-brain/internal/behavior"
	"github.com/nvandessel/cozmo-brain/internal/models"
	"github.com/nvandessel/cozmo-brain/internal/robot"
)

// MoodEventFrustrated is fired when the frustration reaction starts.
const MoodEventFrustrated = "Frustrated"

// ReactToCliff plays a startled animation and backs away from the edge.
type ReactToCliff struct {
	behavior.Base
	anim     string
	backupMM float64
	seq      sequence
}

type cliffParams struct {
	Animation string  `yaml:"animation"`
	BackupMM  float64 `yaml:"backup_mm"`
}

func newReactToCliff(cfg models.BehaviorConfig) (behavior.Policy, error) {
	p := cliffParams{Animation: "ReactToCliff", BackupMM: 60}
	if err := models.DecodeParams(cfg.Params, &p); err != nil {
		return nil, err
	}
	return &ReactToCliff{anim: p.Animation, backupMM: p.BackupMM}, nil
}

func (r *ReactToCliff) OnInit(b *behavior.Behavior) behavior.Result {
	b.LockTracks(models.TrackBody)
	return r.seq.start(b,
		robot.Action{Name: "PlayAnimation", Animation: r.anim},
		robot.Action{Name: "DriveStraight", Duration: time.Duration(r.backupMM*10) * time.Millisecond},
	)
}

func (r *ReactToCliff) OnUpdate(b *behavior.Behavior) behavior.Status { return r.seq.update(b) }

// ReactToPickup loops a dangling animation until the robot is set down.
type ReactToPickup struct {
	behavior.Base
	loop animLoop
}

func newReactToPickup(cfg models.BehaviorConfig) (behavior.Policy, error) {
	loop, err := decodeAnim(cfg, "ReactToPickup")
	if err != nil {
		return nil, err
	}
	return &ReactToPickup{loop: loop}, nil
}

func (r *ReactToPickup) OnInit(b *behavior.Behavior) behavior.Result { return r.loop.start(b) }

func (r *ReactToPickup) OnUpdate(b *behavior.Behavior) behavior.Status {
	if b.IsActing() {
		return behavior.StatusRunning
	}
	if b.Env().Robot.OffTreadsState() == models.OnTreads || b.StopRequested() {
		return behavior.StatusComplete
	}
	if r.loop.start(b) != behavior.ResultSuccess {
		return behavior.StatusComplete
	}
	return behavior.StatusRunning
}

// CarryingObjectHandledInternally allows reacting while holding a cube.
func (r *ReactToPickup) CarryingObjectHandledInternally() bool { return true }

// ReactToFrustration plays a frustrated animation and tells the mood system.
type ReactToFrustration struct {
	behavior.Base
	loop animLoop
}

func newReactToFrustration(cfg models.BehaviorConfig) (behavior.Policy, error) {
	loop, err := decodeAnim(cfg, "Frustrated")
	if err != nil {
		return nil, err
	}
	return &ReactToFrustration{loop: loop}, nil
}

func (r *ReactToFrustration) OnInit(b *behavior.Behavior) behavior.Result {
	b.Env().Robot.TriggerEmotionEvent(MoodEventFrustrated)
	return r.loop.start(b)
}

func (r *ReactToFrustration) OnUpdate(b *behavior.Behavior) behavior.Status { return r.loop.update(b) }

// targeted holds the cube a reaction or chooser aimed a behavior at.
type targeted struct {
	target models.ObjectID
}

// SetTargetObject aims the behavior at a cube.
func (t *targeted) SetTargetObject(id models.ObjectID) { t.target = id }

// TargetObject returns the current target.
func (t *targeted) TargetObject() models.ObjectID { return t.target }

func (t *targeted) targetFor(pre behavior.Preconditions) models.ObjectID {
	if pre.ObjectID != models.ObjectNone {
		return pre.ObjectID
	}
	return t.target
}

// ReactToDoubleTap turns to a double-tapped cube, lights it and reacts.
type ReactToDoubleTap struct {
	behavior.Base
	targeted
	anim string
	seq  sequence
}

func newReactToDoubleTap(cfg models.BehaviorConfig) (behavior.Policy, error) {
	p := animParams{Animation: "ReactToDoubleTap"}
	if err := models.DecodeParams(cfg.Params, &p); err != nil {
		return nil, err
	}
	return &ReactToDoubleTap{anim: p.Animation}, nil
}

func (r *ReactToDoubleTap) WantsToRun(b *behavior.Behavior, pre behavior.Preconditions) bool {
	id := r.targetFor(pre)
	if id == models.ObjectNone {
		return false
	}
	_, known := b.Env().Robot.Object(id)
	return known
}

func (r *ReactToDoubleTap) OnInit(b *behavior.Behavior) behavior.Result {
	if r.target == models.ObjectNone {
		return behavior.ResultFailure
	}
	b.SetCubeLights(r.target, "DoubleTapped")
	return r.seq.start(b,
		robot.Action{Name: "TurnTowardsObject", Target: r.target},
		robot.Action{Name: "PlayAnimation", Animation: r.anim},
	)
}

func (r *ReactToDoubleTap) OnUpdate(b *behavior.Behavior) behavior.Status { return r.seq.update(b) }

func (r *ReactToDoubleTap) OnStop(*behavior.Behavior) { r.target = models.ObjectNone }

// ReactToCubeRighted thanks the user for turning a cube upright.
type ReactToCubeRighted struct {
	behavior.Base
	targeted
	anim string
	seq  sequence
}

func newReactToCubeRighted(cfg models.BehaviorConfig) (behavior.Policy, error) {
	p := animParams{Animation: "ThankUser"}
	if err := models.DecodeParams(cfg.Params, &p); err != nil {
		return nil, err
	}
	r := &ReactToCubeRighted{anim: p.Animation}
	r.seq.onDone = func(b *behavior.Behavior) {
		b.PublishObjective(ObjectiveThankedUser, r.target)
	}
	return r, nil
}

func (r *ReactToCubeRighted) WantsToRun(b *behavior.Behavior, pre behavior.Preconditions) bool {
	id := r.targetFor(pre)
	if id == models.ObjectNone {
		return false
	}
	o, ok := b.Env().Robot.Object(id)
	return ok && o.UpAxis.Upright()
}

func (r *ReactToCubeRighted) OnInit(b *behavior.Behavior) behavior.Result {
	return r.seq.start(b,
		robot.Action{Name: "TurnTowardsObject", Target: r.target},
		robot.Action{Name: "PlayAnimation", Animation: r.anim},
	)
}

func (r *ReactToCubeRighted) OnUpdate(b *behavior.Behavior) behavior.Status { return r.seq.update(b) }

// RespondPossiblyRoll drives to a cube lying on its side and rolls it upright.
type RespondPossiblyRoll struct {
	behavior.Base
	targeted
	seq sequence
}

func newRespondPossiblyRoll(models.BehaviorConfig) (behavior.Policy, error) {
	r := &RespondPossiblyRoll{}
	r.seq.onDone = func(b *behavior.Behavior) {
		b.PublishObjective(ObjectiveRolledCube, r.target)
	}
	return r, nil
}

func (r *RespondPossiblyRoll) WantsToRun(b *behavior.Behavior, pre behavior.Preconditions) bool {
	id := r.targetFor(pre)
	if id == models.ObjectNone {
		return false
	}
	o, ok := b.Env().Robot.Object(id)
	return ok && o.UpAxis.OnSide()
}

func (r *RespondPossiblyRoll) OnInit(b *behavior.Behavior) behavior.Result {
	b.LockTracks(models.TrackLift)
	return r.seq.start(b,
		robot.Action{Name: "DriveToObject", Target: r.target},
		robot.Action{Name: "RollObject", Target: r.target, Tracks: models.TrackLift},
	)
}

func (r *RespondPossiblyRoll) OnUpdate(b *behavior.Behavior) behavior.Status { return r.seq.update(b) }
