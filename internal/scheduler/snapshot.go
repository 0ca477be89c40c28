package scheduler

import (
	"slices"
	"time"

	"github.com/nvandessel/cozmo-brain/internal/models"
)

// Snapshot is a copy of the scheduler state taken at the end of a tick.
type Snapshot struct {
	Tick               uint64                   `json:"tick"`
	Time               time.Time                `json:"time"`
	Chooser            string                   `json:"chooser,omitempty"`
	Behavior           models.BehaviorID        `json:"behavior,omitempty"`
	BehaviorRunningSec float64                  `json:"behavior_running_sec,omitempty"`
	Trigger            models.ReactionTrigger   `json:"trigger,omitempty"`
	ResumeCandidate    models.BehaviorID        `json:"resume_candidate,omitempty"`
	ActiveSpark        models.UnlockID          `json:"active_spark,omitempty"`
	RequestedSpark     models.UnlockID          `json:"requested_spark,omitempty"`
	RequestedSparkSoft bool                     `json:"requested_spark_soft,omitempty"`
	DisabledTriggers   []models.ReactionTrigger `json:"disabled_triggers,omitempty"`
}

// Snapshot returns the state as of the last completed tick. Safe to call
// from any goroutine.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snap
	snap.DisabledTriggers = slices.Clone(s.snap.DisabledTriggers)
	return snap
}

func (s *Scheduler) publishSnapshot() {
	snap := Snapshot{
		Tick:               s.ticks,
		Time:               s.env.Clock.Now(),
		Trigger:            s.trigger,
		ActiveSpark:        s.activeSpark,
		RequestedSpark:     s.requestedSpark,
		RequestedSparkSoft: s.requestedSoft,
		DisabledTriggers:   s.layer.DisabledTriggers(),
	}
	if s.active != nil {
		snap.Chooser = s.active.Name()
	}
	if s.current != nil {
		snap.Behavior = s.current.ID()
		snap.BehaviorRunningSec = s.current.RunningDuration().Seconds()
	}
	if s.resume != nil {
		snap.ResumeCandidate = s.resume.ID()
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}
