package behaviors

import (
	"github.com/nvandessel/cozmo-brain/internal/behavior"
	"github.com/nvandessel/cozmo-brain/internal/robot"
)

// sequence runs actions one after another through the acting sub-state.
type sequence struct {
	steps  []robot.Action
	idx    int
	failed bool

	// onDone runs once after the last step succeeds.
	onDone func(b *behavior.Behavior)
}

func (s *sequence) start(b *behavior.Behavior, steps ...robot.Action) behavior.Result {
	s.steps = steps
	s.idx = 0
	s.failed = false
	if len(steps) == 0 || !s.next(b) {
		return behavior.ResultFailure
	}
	return behavior.ResultSuccess
}

func (s *sequence) next(b *behavior.Behavior) bool {
	return b.StartActing(s.steps[s.idx], func(result string) {
		if result != robot.ResultSuccess {
			s.failed = true
			return
		}
		s.idx++
		switch {
		case s.idx == len(s.steps):
			if s.onDone != nil {
				s.onDone(b)
			}
		case b.StopRequested():
		default:
			if !s.next(b) {
				s.failed = true
			}
		}
	})
}

func (s *sequence) done() bool {
	return s.failed || s.idx >= len(s.steps)
}

func (s *sequence) update(b *behavior.Behavior) behavior.Status {
	if b.IsActing() || !s.done() && !b.StopRequested() {
		return behavior.StatusRunning
	}
	return behavior.StatusComplete
}
