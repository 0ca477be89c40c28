package chooser

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nvandessel/cozmo-brain/internal/behavior"
	"github.com/nvandessel/cozmo-brain/internal/events"
	"github.com/nvandessel/cozmo-brain/internal/invariant"
	"github.com/nvandessel/cozmo-brain/internal/models"
)

// SparkPhase is the state of the sparks wrapper.
type SparkPhase int

const (
	PhaseNone SparkPhase = iota
	PhaseChooserSelected
	PhasePlayingIntro
	PhaseUsingDelegate
	PhaseWaitingForCurrentBehaviorToStop
	PhasePlayingOutro
	PhaseEndWhenReactionEnds
	PhaseFinished
)

func (p SparkPhase) String() string {
	switch p {
	case PhaseNone:
		return "None"
	case PhaseChooserSelected:
		return "ChooserSelected"
	case PhasePlayingIntro:
		return "PlayingIntro"
	case PhaseUsingDelegate:
		return "UsingDelegate"
	case PhaseWaitingForCurrentBehaviorToStop:
		return "WaitingForCurrentBehaviorToStop"
	case PhasePlayingOutro:
		return "PlayingOutro"
	case PhaseEndWhenReactionEnds:
		return "EndWhenReactionEnds"
	case PhaseFinished:
		return "Finished"
	}
	return fmt.Sprintf("SparkPhase(%d)", int(p))
}

// SparkDef is the per-spark timing and success criterion.
type SparkDef struct {
	Unlock models.UnlockID `yaml:"unlock"`
	// Objective counts as one repetition. Empty counts any objective
	// published by a behavior that requires this spark.
	Objective   string  `yaml:"objective"`
	MinTimeSec  float64 `yaml:"min_time_sec"`
	MaxTimeSec  float64 `yaml:"max_time_sec"`
	Repetitions int     `yaml:"repetitions"`
}

type sparksParams struct {
	IntroBehavior models.BehaviorID `yaml:"intro_behavior"`
	OutroBehavior models.BehaviorID `yaml:"outro_behavior"`

	IntroSoftAnim    string `yaml:"intro_soft_anim"`
	IntroHardAnim    string `yaml:"intro_hard_anim"`
	OutroSuccessAnim string `yaml:"outro_success_anim"`
	OutroFailAnim    string `yaml:"outro_fail_anim"`
	GetOutAnim       string `yaml:"get_out_anim"`

	Default SparkDef `yaml:"default"`
	// Sparks entries are raw so each can be layered over Default.
	Sparks []map[string]any `yaml:"sparks"`
}

type endReason int

const (
	endNone endReason = iota
	endReps
	endTimeout
	endCancel
)

func (r endReason) String() string {
	switch r {
	case endReps:
		return "repetitions"
	case endTimeout:
		return "timeout"
	case endCancel:
		return "cancel"
	}
	return "none"
}

// Sparks wraps a delegate chooser with the intro, end-check and outro of a
// time-boxed spark.
type Sparks struct {
	name     string
	delegate Chooser
	fallback *behavior.Behavior
	intro    *behavior.Behavior
	outro    *behavior.Behavior
	params   sparksParams
	defs     map[models.UnlockID]SparkDef

	host   Host
	env    *behavior.Env
	lookup Lookup
	log    *slog.Logger
	unsub  func()

	phase           SparkPhase
	spark           models.UnlockID
	def             SparkDef
	soft            bool
	startedAt       time.Time
	reps            int
	reason          endReason
	outroStarted    bool
	outroAnim       string
	switchingToHard bool
	locked          bool
	finished        bool
	outcome         string
}

// NewSparks builds the sparks wrapper and its delegate.
func NewSparks(cfg models.ChooserConfig, deps Deps) (*Sparks, error) {
	p := sparksParams{
		IntroBehavior:    "SparkIntro",
		OutroBehavior:    "SparkOutro",
		IntroSoftAnim:    "SparkIntroSoft",
		IntroHardAnim:    "SparkIntroHard",
		OutroSuccessAnim: "SparkSuccess",
		OutroFailAnim:    "SparkFail",
		GetOutAnim:       "SparkGetOut",
		Default:          SparkDef{MinTimeSec: 30, MaxTimeSec: 90, Repetitions: 1},
	}
	if err := models.DecodeParams(cfg.Params, &p); err != nil {
		return nil, fmt.Errorf("chooser %q: %w", cfg.Name, err)
	}
	s := &Sparks{
		name:   cfg.Name,
		params: p,
		defs:   make(map[models.UnlockID]SparkDef, len(p.Sparks)),
		host:   deps.Host,
		env:    deps.Env,
		lookup: deps.Lookup,
		log:    deps.logger().With("chooser", cfg.Name),
	}
	for i, raw := range p.Sparks {
		d := p.Default
		d.Unlock = models.UnlockNone
		if err := models.DecodeParams(raw, &d); err != nil {
			return nil, fmt.Errorf("chooser %q: sparks[%d]: %w", cfg.Name, i, err)
		}
		if d.Unlock == models.UnlockNone {
			return nil, fmt.Errorf("chooser %q: sparks[%d]: missing mandatory key: unlock", cfg.Name, i)
		}
		if err := validateSparkDef(d); err != nil {
			return nil, fmt.Errorf("chooser %q: spark %s: %w", cfg.Name, d.Unlock, err)
		}
		s.defs[d.Unlock] = d
	}
	if err := validateSparkDef(p.Default); err != nil {
		return nil, fmt.Errorf("chooser %q: default spark: %w", cfg.Name, err)
	}

	var err error
	if s.intro, err = behaviorParam(deps.Lookup, cfg.Name, "intro_behavior", p.IntroBehavior); err != nil {
		return nil, err
	}
	if s.outro, err = behaviorParam(deps.Lookup, cfg.Name, "outro_behavior", p.OutroBehavior); err != nil {
		return nil, err
	}
	if s.fallback, err = fallback(cfg, deps.Lookup, true); err != nil {
		return nil, err
	}
	if s.delegate, err = build(*cfg.Delegate, deps); err != nil {
		return nil, err
	}
	return s, nil
}

func validateSparkDef(d SparkDef) error {
	if d.MinTimeSec < 0 || d.MaxTimeSec < d.MinTimeSec {
		return fmt.Errorf("bad time window [%v, %v]", d.MinTimeSec, d.MaxTimeSec)
	}
	if d.Repetitions < 0 {
		return fmt.Errorf("repetitions must be non-negative")
	}
	return nil
}

func (s *Sparks) Name() string { return s.name }

// Phase returns the current phase.
func (s *Sparks) Phase() SparkPhase { return s.phase }

// Spark returns the spark being played.
func (s *Sparks) Spark() models.UnlockID { return s.spark }

// Repetitions returns how many objectives were counted so far.
func (s *Sparks) Repetitions() int { return s.reps }

// Outcome returns the telemetry outcome once finished.
func (s *Sparks) Outcome() string { return s.outcome }

// OutroAnim returns the outro animation picked when the spark ended.
func (s *Sparks) OutroAnim() string { return s.outroAnim }

// Finished reports whether the spark has ended.
func (s *Sparks) Finished() bool { return s.finished }

// Delegate returns the wrapped chooser.
func (s *Sparks) Delegate() Chooser { return s.delegate }

func (s *Sparks) lockName() string { return "chooser:" + s.name }

func (s *Sparks) now() time.Time { return s.env.Clock.Now() }

// OnSelected starts the spark the host reports as active.
func (s *Sparks) OnSelected() {
	s.spark = s.host.ActiveSpark()
	s.soft = s.host.IsRequestedSparkSoft()
	s.def = s.params.Default
	if d, ok := s.defs[s.spark]; ok {
		s.def = d
	}
	s.def.Unlock = s.spark
	s.phase = PhaseChooserSelected
	s.startedAt = s.now()
	s.reps = 0
	s.reason = endNone
	s.outroStarted = false
	s.outroAnim = ""
	s.switchingToHard = false
	s.finished = false
	s.outcome = ""
	s.unsub = s.env.Bus.Subscribe(events.TagBehaviorObjectiveAchieved, s.handleObjective)
	s.delegate.OnSelected()
	s.log.Info("spark started", "spark", s.spark, "soft", s.soft,
		"min_sec", s.def.MinTimeSec, "max_sec", s.def.MaxTimeSec, "repetitions", s.def.Repetitions)
}

func (s *Sparks) OnDeselected() {
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	s.releaseLock()
	s.delegate.OnDeselected()
	if !s.finished && s.phase != PhaseNone {
		s.log.Warn("spark deselected before it finished", "spark", s.spark, "phase", s.phase)
	}
	s.phase = PhaseNone
}

func (s *Sparks) handleObjective(ev events.Event) {
	p, ok := ev.Payload.(events.ObjectiveAchieved)
	if !ok || s.phase < PhaseUsingDelegate || s.phase > PhaseWaitingForCurrentBehaviorToStop {
		return
	}
	if s.def.Objective != "" {
		if p.Objective != s.def.Objective {
			return
		}
	} else {
		b, found := s.lookup.Get(p.Behavior)
		if !found || b.Config().RequiredSpark != s.spark {
			return
		}
	}
	s.reps++
	s.log.Debug("spark repetition", "spark", s.spark, "objective", p.Objective, "count", s.reps)
}

func (s *Sparks) Update() {
	s.delegate.Update()
	switch s.phase {
	case PhasePlayingIntro, PhaseUsingDelegate:
		if s.directSwitch() {
			return
		}
		if r := s.endCheck(); r != endNone {
			s.beginEnding(r)
		}
	case PhaseEndWhenReactionEnds:
		if s.host.CurrentReactionTrigger() == models.TriggerNone {
			s.finalize()
		}
	}
}

// directSwitch short-circuits to the outro when another spark was
// requested during the intro or the delegate phase. Once the spark is ending
// its outcome stands and the new request waits for the outro.
func (s *Sparks) directSwitch() bool {
	req := s.host.RequestedSpark()
	if req == models.UnlockNone || req == s.spark {
		return false
	}
	s.switchingToHard = !s.host.IsRequestedSparkSoft()
	s.reason = endCancel
	s.acquireLock()
	s.startOutro()
	s.log.Info("switching sparks directly", "from", s.spark, "to", req, "to_hard", s.switchingToHard)
	return true
}

func (s *Sparks) endCheck() endReason {
	elapsed := s.now().Sub(s.startedAt).Seconds()
	if s.host.RequestedSpark() != s.spark {
		return endCancel
	}
	if s.phase != PhaseUsingDelegate {
		return endNone
	}
	if elapsed >= s.def.MinTimeSec && s.reps >= s.def.Repetitions {
		return endReps
	}
	if elapsed >= s.def.MaxTimeSec && !s.currentMatchesSpark() {
		return endTimeout
	}
	return endNone
}

func (s *Sparks) currentMatchesSpark() bool {
	cur := s.host.CurrentBehavior()
	return cur != nil && cur.Config().RequiredSpark == s.spark
}

func (s *Sparks) beginEnding(r endReason) {
	s.reason = r
	s.acquireLock()
	if r == endCancel && s.host.CurrentReactionTrigger() != models.TriggerNone {
		s.phase = PhaseEndWhenReactionEnds
		s.log.Info("spark cancelled during a reaction", "spark", s.spark)
		return
	}
	s.phase = PhaseWaitingForCurrentBehaviorToStop
	s.host.RequestCurrentBehaviorEndOnNextActionComplete()
	s.log.Info("spark ending", "spark", s.spark, "reps", s.reps, "reason", r)
}

func (s *Sparks) acquireLock() {
	if s.locked {
		return
	}
	s.env.Triggers.Disable(s.lockName(), models.TriggerObjectPositionUpdated)
	s.locked = true
}

func (s *Sparks) releaseLock() {
	if !s.locked {
		return
	}
	s.env.Triggers.Enable(s.lockName(), models.TriggerObjectPositionUpdated)
	s.locked = false
}

func (s *Sparks) startOutro() {
	anim := s.params.GetOutAnim
	switch {
	case s.reason == endCancel:
	case s.reps >= s.def.Repetitions:
		anim = s.params.OutroSuccessAnim
	default:
		anim = s.params.OutroFailAnim
	}
	if setter, ok := s.outro.Policy().(behavior.AnimationSetter); ok {
		setter.SetAnimation(anim)
	}
	s.outroAnim = anim
	s.phase = PhasePlayingOutro
	s.outroStarted = false
}

func (s *Sparks) ChooseNextBehavior(current *behavior.Behavior) *behavior.Behavior {
	switch s.phase {
	case PhaseChooserSelected:
		anim := s.params.IntroHardAnim
		if s.soft {
			anim = s.params.IntroSoftAnim
		}
		if setter, ok := s.intro.Policy().(behavior.AnimationSetter); ok {
			setter.SetAnimation(anim)
		}
		s.phase = PhasePlayingIntro
		return s.intro

	case PhasePlayingIntro:
		if keepRunning(current, s.intro) {
			return s.intro
		}
		s.phase = PhaseUsingDelegate
		return s.chooseDelegate(current)

	case PhaseUsingDelegate:
		return s.chooseDelegate(current)

	case PhaseWaitingForCurrentBehaviorToStop:
		if current != nil && current.IsRunning() {
			return current
		}
		s.startOutro()
		s.outroStarted = true
		return s.outro

	case PhasePlayingOutro:
		if !s.outroStarted {
			s.outroStarted = true
			return s.outro
		}
		if keepRunning(current, s.outro) {
			return s.outro
		}
		s.finalize()
		return s.fallback

	case PhaseEndWhenReactionEnds, PhaseFinished:
		return s.fallback
	}
	invariant.Fail("sparks chooser %s: ChooseNextBehavior in phase %s", s.name, s.phase)
	return s.fallback
}

func (s *Sparks) chooseDelegate(current *behavior.Behavior) *behavior.Behavior {
	if next := s.delegate.ChooseNextBehavior(current); next != nil {
		return next
	}
	return s.fallback
}

func (s *Sparks) finalize() {
	if s.finished {
		return
	}
	switch {
	case s.switchingToHard || s.reason == endCancel:
		s.outcome = events.SparkCancel
	case s.reps >= s.def.Repetitions:
		s.outcome = events.SparkSuccess
	case s.reps == 0:
		s.outcome = events.SparkTimeout
	default:
		s.outcome = events.SparkFail
	}
	s.finished = true
	s.phase = PhaseFinished
	s.releaseLock()

	dur := s.now().Sub(s.startedAt).Seconds()
	s.env.Bus.Publish(events.TagSparkEnded, events.SparkEnded{
		Spark:           s.spark,
		Outcome:         s.outcome,
		Soft:            s.soft,
		Repetitions:     s.reps,
		DurationSec:     dur,
		SwitchingToHard: s.switchingToHard,
	})
	if !s.soft {
		s.env.Bus.Publish(events.TagHardSparkEnded, events.HardSparkEnded{
			Spark:   s.spark,
			Success: s.outcome == events.SparkSuccess,
		})
	}
	s.host.ClearRequestedSpark(s.spark)
	s.log.Info("spark finished", "spark", s.spark, "outcome", s.outcome, "reps", s.reps, "duration_sec", dur)
}
