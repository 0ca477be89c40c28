package behavior

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nvandessel/cozmo-brain/internal/models"
	"github.com/nvandessel/cozmo-brain/internal/scoring"
)

// ErrUnknownClass is returned by Create for an unregistered class.
var ErrUnknownClass = errors.New("unknown behavior class")

// Constructor builds the policy for one behavior document. It should decode
// and validate cfg.Params.
type Constructor func(cfg models.BehaviorConfig) (Policy, error)

// ResumeGuard bounds resumes after cliff and unexpected-movement reactions.
type ResumeGuard struct {
	// Window is how far back resumes are counted.
	Window time.Duration
	// Cooldown is how long resume and CanRun fail once tripped.
	Cooldown time.Duration
	// MaxResumes is the number of resumes allowed inside Window.
	MaxResumes int
}

// DefaultResumeGuard allows two looping resumes per 20 s window.
func DefaultResumeGuard() ResumeGuard {
	return ResumeGuard{
		Window:     20 * time.Second,
		Cooldown:   20 * time.Second,
		MaxResumes: 2,
	}
}

// Factory is the only way to construct a Behavior.
type Factory struct {
	env   *Env
	guard ResumeGuard

	mu    sync.RWMutex
	ctors map[models.BehaviorClass]Constructor
}

// NewFactory creates a factory building behaviors bound to env.
func NewFactory(env *Env, guard ResumeGuard) *Factory {
	if guard.MaxResumes <= 0 {
		guard.MaxResumes = DefaultResumeGuard().MaxResumes
	}
	return &Factory{
		env:   env,
		guard: guard,
		ctors: make(map[models.BehaviorClass]Constructor),
	}
}

// Register adds a constructor for class.
func (f *Factory) Register(class models.BehaviorClass, ctor Constructor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.ctors[class]; dup {
		return fmt.Errorf("behavior class %q already registered", class)
	}
	f.ctors[class] = ctor
	return nil
}

// Classes returns every registered class, sorted.
func (f *Factory) Classes() []models.BehaviorClass {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]models.BehaviorClass, 0, len(f.ctors))
	for c := range f.ctors {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Env returns the collaborators behaviors are bound to.
func (f *Factory) Env() *Env {
	return f.env
}

// Create validates cfg and builds a stopped behavior.
func (f *Factory) Create(cfg models.BehaviorConfig) (*Behavior, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	ctor, ok := f.ctors[cfg.Class]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("behavior %q: %w %q", cfg.ID, ErrUnknownClass, cfg.Class)
	}

	policy, err := ctor(cfg)
	if err != nil {
		return nil, fmt.Errorf("behavior %q: %w", cfg.ID, err)
	}
	mood, err := scoring.NewMoodScorer(cfg.MoodScorer)
	if err != nil {
		return nil, fmt.Errorf("behavior %q: %w", cfg.ID, err)
	}
	repetition, err := scoring.NewCurve(cfg.RepetitionPenalty)
	if err != nil {
		return nil, fmt.Errorf("behavior %q: repetition_penalty: %w", cfg.ID, err)
	}
	running, err := scoring.NewCurve(cfg.RunningPenalty)
	if err != nil {
		return nil, fmt.Errorf("behavior %q: running_penalty: %w", cfg.ID, err)
	}

	return &Behavior{
		cfg:               cfg,
		policy:            policy,
		env:               f.env,
		log:               f.env.logger().With("behavior", string(cfg.ID)),
		guard:             f.guard,
		moodScorer:        mood,
		repetitionPenalty: repetition,
		runningPenalty:    running,
		disabledTriggers:  make(map[models.ReactionTrigger]struct{}),
		litCubes:          make(map[models.ObjectID]struct{}),
	}, nil
}
