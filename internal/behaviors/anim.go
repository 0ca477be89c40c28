// Package behaviors holds the concrete leaf behaviors. They are minimal
// stand-ins for the real choreography: each queues a few named actions on
// the robot and reports objectives where the activity system needs them.
package behaviors

import (
	"time"

	"github.com/nvandessel/cozmo-brain/internal/behavior"
	"github.com/nvandessel/cozmo-brain/internal/models"
	"github.com/nvandessel/cozmo-brain/internal/robot"
)

// Classes shipped with the brain.
const (
	ClassPlayAnim            models.BehaviorClass = "PlayAnim"
	ClassPlayArbitraryAnim   models.BehaviorClass = "PlayArbitraryAnim"
	ClassWait                models.BehaviorClass = "Wait"
	ClassReactToCliff        models.BehaviorClass = "ReactToCliff"
	ClassReactToPickup       models.BehaviorClass = "ReactToPickup"
	ClassReactToFrustration  models.BehaviorClass = "ReactToFrustration"
	ClassHiccup              models.BehaviorClass = "Hiccup"
	ClassReactToVoiceCommand models.BehaviorClass = "ReactToVoiceCommand"
	ClassReactToDoubleTap    models.BehaviorClass = "ReactToDoubleTap"
	ClassReactToCubeRighted  models.BehaviorClass = "ReactToCubeRighted"
	ClassRespondPossiblyRoll models.BehaviorClass = "RespondPossiblyRoll"
	ClassPickAndPlace        models.BehaviorClass = "PickAndPlace"
	ClassRepeatAnimObjective models.BehaviorClass = "RepeatAnimObjective"
)

// Objectives published on the bus.
const (
	ObjectiveRolledCube     = "RolledCube"
	ObjectiveBuiltBase      = "BuiltPyramidBase"
	ObjectiveBuiltPyramid   = "BuiltPyramid"
	ObjectiveThankedUser    = "ThankedUser"
	ObjectiveTrickPerformed = "TrickPerformed"
)

// animParams is the params block shared by animation-playing behaviors.
type animParams struct {
	Animation  string   `yaml:"animation"`
	Loops      int      `yaml:"loops"`
	Tracks     []string `yaml:"tracks"`
	DurationMs int      `yaml:"duration_ms"`
}

func decodeAnim(cfg models.BehaviorConfig, defaultAnim string) (animLoop, error) {
	p := animParams{Animation: defaultAnim, Loops: 1}
	if err := models.DecodeParams(cfg.Params, &p); err != nil {
		return animLoop{}, err
	}
	tracks, err := models.ParseTrackSet(p.Tracks)
	if err != nil {
		return animLoop{}, err
	}
	if p.Loops == 0 {
		p.Loops = 1
	}
	return animLoop{
		anim:     p.Animation,
		loops:    p.Loops,
		tracks:   tracks,
		duration: time.Duration(p.DurationMs) * time.Millisecond,
	}, nil
}

// animLoop plays one animation a number of times. loops < 0 repeats until
// the behavior is stopped.
type animLoop struct {
	anim     string
	loops    int
	tracks   models.TrackSet
	duration time.Duration

	played int
	failed bool

	// onLoop runs after each successful play.
	onLoop func(b *behavior.Behavior)
}

func (a *animLoop) start(b *behavior.Behavior) behavior.Result {
	a.played = 0
	a.failed = false
	if a.anim == "" {
		return behavior.ResultFailure
	}
	b.LockTracks(a.tracks)
	if !a.playNext(b) {
		return behavior.ResultFailure
	}
	return behavior.ResultSuccess
}

func (a *animLoop) playNext(b *behavior.Behavior) bool {
	return b.StartActing(robot.Action{
		Name:      "PlayAnimation",
		Animation: a.anim,
		Duration:  a.duration,
		Tracks:    a.tracks,
	}, func(result string) {
		if result != robot.ResultSuccess {
			a.failed = true
			return
		}
		a.played++
		if a.onLoop != nil {
			a.onLoop(b)
		}
		if (a.loops < 0 || a.played < a.loops) && !b.StopRequested() {
			if !a.playNext(b) {
				a.failed = true
			}
		}
	})
}

func (a *animLoop) update(b *behavior.Behavior) behavior.Status {
	if b.IsActing() {
		return behavior.StatusRunning
	}
	return behavior.StatusComplete
}

// PlayAnim plays a configured animation.
type PlayAnim struct {
	behavior.Base
	loop animLoop
}

func newPlayAnim(cfg models.BehaviorConfig) (behavior.Policy, error) {
	loop, err := decodeAnim(cfg, "")
	if err != nil {
		return nil, err
	}
	return &PlayAnim{loop: loop}, nil
}

func (p *PlayAnim) WantsToRun(*behavior.Behavior, behavior.Preconditions) bool {
	return p.loop.anim != ""
}

func (p *PlayAnim) OnInit(b *behavior.Behavior) behavior.Result { return p.loop.start(b) }

func (p *PlayAnim) OnUpdate(b *behavior.Behavior) behavior.Status { return p.loop.update(b) }

// PlayArbitraryAnim plays whatever animation was last set on it. Wrapper
// choosers and reactions use it for intros, outros and one-off reactions.
type PlayArbitraryAnim struct {
	behavior.Base
	loop    animLoop
	pending string
}

func newPlayArbitraryAnim(defaultAnim string) behavior.Constructor {
	return func(cfg models.BehaviorConfig) (behavior.Policy, error) {
		loop, err := decodeAnim(cfg, defaultAnim)
		if err != nil {
			return nil, err
		}
		return &PlayArbitraryAnim{loop: loop, pending: loop.anim}, nil
	}
}

// SetAnimation selects the animation for the next start.
func (p *PlayArbitraryAnim) SetAnimation(name string) {
	p.pending = name
}

// Animation returns the animation the next start will play.
func (p *PlayArbitraryAnim) Animation() string { return p.pending }

func (p *PlayArbitraryAnim) WantsToRun(_ *behavior.Behavior, pre behavior.Preconditions) bool {
	return p.pending != "" || pre.Animation != ""
}

func (p *PlayArbitraryAnim) OnInit(b *behavior.Behavior) behavior.Result {
	p.loop.anim = p.pending
	return p.loop.start(b)
}

func (p *PlayArbitraryAnim) OnUpdate(b *behavior.Behavior) behavior.Status { return p.loop.update(b) }

// Wait does nothing. With duration_sec set it completes after that long,
// otherwise it runs until replaced.
type Wait struct {
	behavior.Base
	duration time.Duration
}

type waitParams struct {
	DurationSec float64 `yaml:"duration_sec"`
}

func newWait(cfg models.BehaviorConfig) (behavior.Policy, error) {
	var p waitParams
	if err := models.DecodeParams(cfg.Params, &p); err != nil {
		return nil, err
	}
	return &Wait{duration: time.Duration(p.DurationSec * float64(time.Second))}, nil
}

func (w *Wait) OnUpdate(b *behavior.Behavior) behavior.Status {
	if w.duration > 0 && b.RunningDuration() >= w.duration {
		return behavior.StatusComplete
	}
	return behavior.StatusRunning
}

// CarryingObjectHandledInternally lets Wait fill in while a cube is held.
func (w *Wait) CarryingObjectHandledInternally() bool { return true }
