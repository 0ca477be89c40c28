package behaviors

import (
	"fmt"

	"github.com/nvandessel/cozmo-brain/internal/behavior"
	"github.com/nvandessel/cozmo-brain/internal/models"
	"github.com/nvandessel/cozmo-brain/internal/robot"
)

// Pyramid roles for PickAndPlace.
const (
	RoleBase = "base"
	RoleTop  = "top"
)

// PickAndPlace picks up one cube and places it next to (base) or on top of
// (top) another. Used by the build-pyramid activity.
type PickAndPlace struct {
	behavior.Base
	role string
	pick models.ObjectID
	onto models.ObjectID
	seq  sequence
}

type pickAndPlaceParams struct {
	Role string `yaml:"role"`
}

func newPickAndPlace(cfg models.BehaviorConfig) (behavior.Policy, error) {
	var p pickAndPlaceParams
	if err := models.DecodeParams(cfg.Params, &p); err != nil {
		return nil, err
	}
	if p.Role != RoleBase && p.Role != RoleTop {
		return nil, fmt.Errorf("pick and place: role must be %q or %q, got %q", RoleBase, RoleTop, p.Role)
	}
	pp := &PickAndPlace{role: p.Role}
	pp.seq.onDone = func(b *behavior.Behavior) {
		objective := ObjectiveBuiltBase
		if pp.role == RoleTop {
			objective = ObjectiveBuiltPyramid
		}
		b.PublishObjective(objective, pp.pick)
	}
	return pp, nil
}

// Role returns "base" or "top".
func (p *PickAndPlace) Role() string { return p.role }

// SetPlacement chooses the cube to carry and the cube to place it by.
func (p *PickAndPlace) SetPlacement(pick, onto models.ObjectID) {
	p.pick = pick
	p.onto = onto
}

func (p *PickAndPlace) WantsToRun(b *behavior.Behavior, _ behavior.Preconditions) bool {
	if p.pick == models.ObjectNone || p.onto == models.ObjectNone || p.pick == p.onto {
		return false
	}
	r := b.Env().Robot
	pick, ok1 := r.Object(p.pick)
	onto, ok2 := r.Object(p.onto)
	return ok1 && ok2 && pick.UpAxis.Upright() && onto.UpAxis.Upright()
}

func (p *PickAndPlace) OnInit(b *behavior.Behavior) behavior.Result {
	b.LockTracks(models.TrackLift | models.TrackHead)
	place := "PlaceObjectNextTo"
	if p.role == RoleTop {
		place = "PlaceObjectOnTop"
	}
	return p.seq.start(b,
		robot.Action{Name: "PickupObject", Target: p.pick, Tracks: models.TrackLift},
		robot.Action{Name: place, Target: p.onto, Tracks: models.TrackLift},
	)
}

func (p *PickAndPlace) OnUpdate(b *behavior.Behavior) behavior.Status { return p.seq.update(b) }

// CarryingObjectHandledInternally is true: the behavior carries the cube itself.
func (p *PickAndPlace) CarryingObjectHandledInternally() bool { return true }

// RepeatAnimObjective performs a spark trick over and over, publishing an
// objective after each successful play.
type RepeatAnimObjective struct {
	behavior.Base
	loop      animLoop
	objective string
}

type trickParams struct {
	Objective string `yaml:"objective"`
}

func newRepeatAnimObjective(cfg models.BehaviorConfig) (behavior.Policy, error) {
	loop, err := decodeAnim(cfg, "")
	if err != nil {
		return nil, err
	}
	if loop.anim == "" {
		return nil, fmt.Errorf("repeat anim objective: missing mandatory key: params.animation")
	}
	tp := trickParams{Objective: ObjectiveTrickPerformed}
	if err := models.DecodeParams(cfg.Params, &tp); err != nil {
		return nil, err
	}
	if _, set := cfg.Params["loops"]; !set {
		loop.loops = -1
	}
	r := &RepeatAnimObjective{loop: loop, objective: tp.Objective}
	r.loop.onLoop = func(b *behavior.Behavior) {
		b.PublishObjective(r.objective, models.ObjectNone)
	}
	return r, nil
}

func (r *RepeatAnimObjective) OnInit(b *behavior.Behavior) behavior.Result { return r.loop.start(b) }

func (r *RepeatAnimObjective) OnUpdate(b *behavior.Behavior) behavior.Status { return r.loop.update(b) }

// Register adds every class in this package to f.
func Register(f *behavior.Factory) error {
	ctors := []struct {
		class models.BehaviorClass
		ctor  behavior.Constructor
	}{
		{ClassPlayAnim, newPlayAnim},
		{ClassPlayArbitraryAnim, newPlayArbitraryAnim("")},
		{ClassWait, newWait},
		{ClassReactToCliff, newReactToCliff},
		{ClassReactToPickup, newReactToPickup},
		{ClassReactToFrustration, newReactToFrustration},
		{ClassHiccup, newPlayArbitraryAnim("Hiccup")},
		{ClassReactToVoiceCommand, newPlayArbitraryAnim("HeardVoiceCommand")},
		{ClassReactToDoubleTap, newReactToDoubleTap},
		{ClassReactToCubeRighted, newReactToCubeRighted},
		{ClassRespondPossiblyRoll, newRespondPossiblyRoll},
		{ClassPickAndPlace, newPickAndPlace},
		{ClassRepeatAnimObjective, newRepeatAnimObjective},
	}
	for _, c := range ctors {
		if err := f.Register(c.class, c.ctor); err != nil {
			return err
		}
	}
	return nil
}
