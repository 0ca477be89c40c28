// Package scheduler is the top-level tick loop of the behavior system. Each
// tick it dispatches queued events, picks the active chooser, lets reaction
// triggers preempt the running behavior, and otherwise runs whatever the
// chooser asks for.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	bt "github.com/joeycumines/go-behaviortree"

	"github.com/nvandessel/cozmo-brain/internal/behavior"
	"github.com/nvandessel/cozmo-brain/internal/chooser"
	"github.com/nvandessel/cozmo-brain/internal/events"
	"github.com/nvandessel/cozmo-brain/internal/logging"
	"github.com/nvandessel/cozmo-brain/internal/models"
	"github.com/nvandessel/cozmo-brain/internal/reaction"
)

// Options configures a Scheduler.
type Options struct {
	Env   *behavior.Env
	Layer *reaction.Layer

	Logger    *slog.Logger
	Decisions *logging.DecisionLogger
}

// Scheduler owns the current behavior, the current reaction trigger and the
// spark request state. Update must be called from a single goroutine;
// Snapshot may be called from any.
type Scheduler struct {
	env       *behavior.Env
	layer     *reaction.Layer
	log       *slog.Logger
	decisions *logging.DecisionLogger
	unsub     []func()

	freeplay chooser.Chooser
	sparks   chooser.Chooser
	active   chooser.Chooser

	current  *behavior.Behavior
	trigger  models.ReactionTrigger
	reacting reaction.Strategy
	resume   *behavior.Behavior

	activeSpark    models.UnlockID
	requestedSpark models.UnlockID
	requestedSoft  bool
	lastSwitch     time.Time
	ticks          uint64

	mu   sync.Mutex
	snap Snapshot
}

// New creates a scheduler and installs it as the behaviors' oracle. Call
// SetChoosers before the first Update.
func New(opts Options) (*Scheduler, error) {
	if opts.Env == nil || opts.Env.Bus == nil || opts.Env.Robot == nil || opts.Env.Clock == nil {
		return nil, errors.New("scheduler: env with bus, robot and clock is required")
	}
	if opts.Layer == nil {
		return nil, errors.New("scheduler: reaction layer is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		env:       opts.Env,
		layer:     opts.Layer,
		log:       log.With("component", "scheduler"),
		decisions: opts.Decisions,
	}
	s.env.Oracle = s
	s.unsub = append(s.unsub,
		s.env.Bus.Subscribe(events.TagRequestSpark, s.handleRequestSpark),
		s.env.Bus.Subscribe(events.TagCancelSpark, s.handleCancelSpark),
	)
	return s, nil
}

// SetChoosers installs the freeplay chooser and the optional sparks
// wrapper, and selects freeplay.
func (s *Scheduler) SetChoosers(freeplay, sparks chooser.Chooser) error {
	if freeplay == nil {
		return errors.New("scheduler: freeplay chooser is required")
	}
	if s.active != nil {
		s.active.OnDeselected()
	}
	s.freeplay, s.sparks, s.active = freeplay, sparks, nil
	s.activeSpark = models.UnlockNone
	s.selectChooser(freeplay)
	s.publishSnapshot()
	return nil
}

// Close stops the current behavior, deselects the active chooser and drops
// the bus subscriptions.
func (s *Scheduler) Close() {
	s.stopCurrent(true)
	if s.active != nil {
		s.active.OnDeselected()
		s.active = nil
	}
	for _, u := range s.unsub {
		u()
	}
	s.unsub = nil
}

// --- Oracle ---

func (s *Scheduler) ActiveSpark() models.UnlockID                   { return s.activeSpark }
func (s *Scheduler) RequestedSpark() models.UnlockID                { return s.requestedSpark }
func (s *Scheduler) IsRequestedSparkSoft() bool                     { return s.requestedSoft }
func (s *Scheduler) CurrentReactionTrigger() models.ReactionTrigger { return s.trigger }
func (s *Scheduler) LastChooserSwitch() time.Time                   { return s.lastSwitch }

// CurrentBehavior returns the running behavior, or nil.
func (s *Scheduler) CurrentBehavior() *behavior.Behavior { return s.current }

// ActiveChooser returns the chooser arbitration currently defers to.
func (s *Scheduler) ActiveChooser() chooser.Chooser { return s.active }

// ResumeCandidate returns the behavior waiting to resume after the current
// reaction, or nil.
func (s *Scheduler) ResumeCandidate() *behavior.Behavior { return s.resume }

// --- Commands ---

// RequestSpark asks for a spark activity. UnlockNone cancels the request.
func (s *Scheduler) RequestSpark(spark models.UnlockID, soft bool) {
	s.log.Info("spark requested", "spark", spark, "soft", soft)
	s.requestedSpark = spark
	s.requestedSoft = soft && spark != models.UnlockNone
}

// ClearRequestedSpark drops the request if it still names spark.
func (s *Scheduler) ClearRequestedSpark(spark models.UnlockID) {
	if s.requestedSpark == spark {
		s.requestedSpark = models.UnlockNone
		s.requestedSoft = false
	}
}

// RequestCurrentBehaviorEndOnNextActionComplete lets the running behavior
// finish its outstanding action, then end.
func (s *Scheduler) RequestCurrentBehaviorEndOnNextActionComplete() {
	if s.current != nil {
		s.current.StopOnNextActionComplete()
	}
}

// RequestCurrentBehaviorEndImmediately stops the running behavior now.
// Arbitration picks a successor on the next tick.
func (s *Scheduler) RequestCurrentBehaviorEndImmediately() {
	if s.current == nil {
		return
	}
	s.log.Debug("ending current behavior immediately", "behavior", s.current.ID())
	s.stopCurrent(true)
	if s.trigger != models.TriggerNone {
		s.trigger, s.reacting, s.resume = models.TriggerNone, nil, nil
	}
}

func (s *Scheduler) handleRequestSpark(ev events.Event) {
	if p, ok := ev.Payload.(events.RequestSpark); ok {
		s.RequestSpark(p.Unlock, p.Soft)
	}
}

func (s *Scheduler) handleCancelSpark(events.Event) {
	s.RequestSpark(models.UnlockNone, false)
}

// --- Tick ---

// Update runs one tick.
func (s *Scheduler) Update() {
	s.ticks++
	s.env.Bus.Dispatch()
	if s.active == nil {
		s.publishSnapshot()
		return
	}

	s.chooseChooser()
	s.active.Update()

	if st, ok := s.layer.Evaluate(s.current, s.trigger); ok {
		s.react(st)
		s.publishSnapshot()
		return
	}

	if s.trigger != models.TriggerNone {
		if s.current != nil && s.current.Update() == behavior.StatusRunning {
			s.publishSnapshot()
			return
		}
		if s.endReaction() {
			s.publishSnapshot()
			return
		}
	}

	s.arbitrate()
	s.publishSnapshot()
}

// chooseChooser keeps the sparks wrapper selected until it finishes, and
// reselects it straight away when another spark is already requested.
func (s *Scheduler) chooseChooser() {
	if s.sparks == nil {
		return
	}
	if s.active == s.sparks {
		f, ok := s.sparks.(chooser.Finisher)
		if !ok || !f.Finished() {
			return
		}
		if s.requestedSpark != models.UnlockNone {
			s.selectChooser(s.sparks)
		} else {
			s.selectChooser(s.freeplay)
		}
		return
	}
	if s.requestedSpark != models.UnlockNone {
		s.selectChooser(s.sparks)
	}
}

func (s *Scheduler) selectChooser(c chooser.Chooser) {
	now := s.env.Clock.Now()
	from := ""
	if s.active != nil {
		from = s.active.Name()
		s.active.OnDeselected()
	}
	s.activeSpark = models.UnlockNone
	if c == s.sparks {
		s.activeSpark = s.requestedSpark
	}
	if from != "" {
		s.lastSwitch = now
	}
	s.active = c
	s.log.Info("chooser selected", "chooser", c.Name(), "from", from, "spark", s.activeSpark)
	s.decisions.Log(logging.DecisionChooserSwitch, now, map[string]any{
		"from":  from,
		"to":    c.Name(),
		"spark": string(s.activeSpark),
	})
	c.OnSelected()
}

// react preempts the running behavior with st's behavior.
func (s *Scheduler) react(st reaction.Strategy) {
	now := s.env.Clock.Now()
	b := st.Behavior()
	interrupted := s.current
	outgoing := s.reacting

	switch {
	case outgoing == nil:
		s.resume = interrupted
	case !outgoing.ShouldResumeLastBehavior():
		s.resume = nil
	}
	if s.resume == b {
		s.resume = nil
	}
	s.stopCurrent(true)

	st.BehaviorTriggered()
	s.trigger, s.reacting = st.Trigger(), st

	fields := map[string]any{
		"trigger":  st.Trigger().String(),
		"behavior": string(b.ID()),
	}
	var interruptedID models.BehaviorID
	if interrupted != nil {
		interruptedID = interrupted.ID()
		fields["interrupted"] = string(interruptedID)
	}
	if s.resume != nil {
		fields["resume_candidate"] = string(s.resume.ID())
	}

	if b.Init() != behavior.ResultSuccess {
		s.log.Warn("reaction behavior failed to start", "trigger", st.Trigger(), "behavior", b.ID())
		s.trigger, s.reacting = models.TriggerNone, nil
		fields["failed"] = true
		s.decisions.Log(logging.DecisionReaction, now, fields)
		s.tryResume(st)
		return
	}
	s.current = b
	s.log.Info("reaction triggered", "trigger", st.Trigger(), "behavior", b.ID(), "interrupted", interruptedID)
	s.decisions.Log(logging.DecisionReaction, now, fields)
	s.env.Bus.Publish(events.TagReactionTriggered, events.ReactionTriggered{
		Trigger:     st.Trigger().String(),
		Behavior:    b.ID(),
		Interrupted: interruptedID,
	})
	s.env.Bus.Publish(events.TagBehaviorStarted, events.BehaviorStarted{
		Behavior: b.ID(),
		Trigger:  st.Trigger().String(),
	})
}

// endReaction finishes the completed reaction and resumes the interrupted
// behavior if the reaction asks for it. It reports whether a behavior is
// running afterwards.
func (s *Scheduler) endReaction() bool {
	st := s.reacting
	s.stopCurrent(false)
	s.trigger, s.reacting = models.TriggerNone, nil
	if st == nil {
		s.resume = nil
		return false
	}
	return s.tryResume(st)
}

func (s *Scheduler) tryResume(st reaction.Strategy) bool {
	cand := s.resume
	s.resume = nil
	if cand == nil || !st.ShouldResumeLastBehavior() {
		return false
	}
	now := s.env.Clock.Now()
	if cand.Resume(st.Trigger()) != behavior.ResultSuccess {
		s.log.Debug("resume failed, falling through to arbitration", "behavior", cand.ID(), "trigger", st.Trigger())
		s.decisions.Log(logging.DecisionResumeFailed, now, map[string]any{
			"behavior": string(cand.ID()),
			"trigger":  st.Trigger().String(),
		})
		return false
	}
	s.current = cand
	s.log.Info("behavior resumed", "behavior", cand.ID(), "trigger", st.Trigger())
	s.decisions.Log(logging.DecisionResume, now, map[string]any{
		"behavior": string(cand.ID()),
		"trigger":  st.Trigger().String(),
	})
	s.env.Bus.Publish(events.TagBehaviorStarted, events.BehaviorStarted{
		Behavior: cand.ID(),
		Trigger:  st.Trigger().String(),
		Resumed:  true,
	})
	return true
}

// arbitrate asks the active chooser for the next behavior, switching to it
// or updating the current one.
func (s *Scheduler) arbitrate() {
	cur := s.current
	next := s.active.ChooseNextBehavior(cur)
	if next == cur {
		if cur != nil && cur.Update() == behavior.StatusComplete {
			s.stopCurrent(false)
		}
		return
	}

	s.stopCurrent(true)
	if next == nil {
		return
	}
	fields := map[string]any{"to": string(next.ID()), "chooser": s.active.Name()}
	if cur != nil {
		fields["from"] = string(cur.ID())
	}
	if next.Init() != behavior.ResultSuccess {
		s.log.Debug("chosen behavior failed to start", "behavior", next.ID(), "chooser", s.active.Name())
		fields["failed"] = true
		s.decisions.Log(logging.DecisionSwitch, s.env.Clock.Now(), fields)
		return
	}
	s.current = next
	s.decisions.Log(logging.DecisionSwitch, s.env.Clock.Now(), fields)
	s.env.Bus.Publish(events.TagBehaviorStarted, events.BehaviorStarted{Behavior: next.ID()})
}

// stopCurrent stops the running behavior. interrupted marks a stop the
// behavior did not ask for.
func (s *Scheduler) stopCurrent(interrupted bool) {
	b := s.current
	if b == nil {
		return
	}
	ran := b.RunningDuration()
	b.Stop()
	s.current = nil
	s.log.Debug("behavior stopped", "behavior", b.ID(), "ran_for", ran, "interrupted", interrupted)
	s.env.Bus.Publish(events.TagBehaviorStopped, events.BehaviorStopped{
		Behavior:    b.ID(),
		RanForSec:   ran.Seconds(),
		Interrupted: interrupted,
	})
}

// Run ticks the scheduler every interval until ctx is done. before, if
// non-nil, runs ahead of each tick on the same goroutine (the simulated
// robot steps its actions there); an error from it stops the loop.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration, before func() error) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: tick interval must be positive, got %v", interval)
	}
	node := bt.New(func([]bt.Node) (bt.Status, error) {
		if before != nil {
			if err := before(); err != nil {
				return bt.Failure, err
			}
		}
		s.Update()
		return bt.Running, nil
	})
	ticker := bt.NewTicker(ctx, interval, node)
	<-ticker.Done()
	if err := ticker.Err(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
