package behavior

import (
	"github.com/nvandessel/cozmo-brain/internal/models"
)

// Result is the outcome of Init and Resume.
type Result int

const (
	ResultSuccess Result = iota
	ResultFailure
)

func (r Result) String() string {
	if r == ResultSuccess {
		return "success"
	}
	return "failure"
}

// Status is the outcome of one Update.
type Status int

const (
	StatusRunning Status = iota
	StatusComplete
)

func (s Status) String() string {
	if s == StatusRunning {
		return "running"
	}
	return "complete"
}

// Preconditions is what a caller hands CanRun. Reaction triggers fill in
// the fields their Kind names; choosers pass the zero value.
type Preconditions struct {
	Kind      models.PreconditionKind
	Trigger   models.ReactionTrigger
	Animation string
	ObjectID  models.ObjectID
	OffTreads models.OffTreadsState
}

// Policy is the contract a concrete behavior implements. The runner calls
// it only after its own gating and bookkeeping.
type Policy interface {
	// WantsToRun is the policy's own runnability check. Must not mutate state.
	WantsToRun(b *Behavior, pre Preconditions) bool
	OnInit(b *Behavior) Result
	OnUpdate(b *Behavior) Status
	// OnStop runs before the runner releases resources.
	OnStop(b *Behavior)
	CarryingObjectHandledInternally() bool
}

// Resumer is implemented by policies that resume differently from a fresh start.
type Resumer interface {
	OnResume(b *Behavior, trigger models.ReactionTrigger) Result
}

// AnimationSetter is implemented by placeholder behaviors whose animation is
// chosen at run time by a chooser.
type AnimationSetter interface {
	SetAnimation(name string)
}

// Base supplies default Policy methods for embedding.
type Base struct{}

func (Base) WantsToRun(*Behavior, Preconditions) bool { return true }
func (Base) OnInit(*Behavior) Result                  { return ResultSuccess }

// OnUpdate completes once no action is outstanding.
func (Base) OnUpdate(b *Behavior) Status {
	if b.IsActing() {
		return StatusRunning
	}
	return StatusComplete
}

func (Base) OnStop(*Behavior)                      {}
func (Base) CarryingObjectHandledInternally() bool { return false }

// ObjectTargeter is implemented by policies aimed at a cube chosen by a
// reaction or chooser.
type ObjectTargeter interface {
	SetTargetObject(id models.ObjectID)
}
