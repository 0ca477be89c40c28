// Package chooser implements behavior arbitration: policy nodes that pick
// the next behavior to run given the one currently running. Wrapper
// choosers (sparks, build pyramid, voice command) run their own state
// machine and delegate to a nested chooser for some of their states.
package chooser

import (
	"fmt"
	"log/slog"

	"github.com/nvandessel/cozmo-brain/internal/behavior"
	"github.com/nvandessel/cozmo-brain/internal/models"
)

// Chooser selects behaviors. Exactly one chooser tree is active at a time.
type Chooser interface {
	Name() string
	OnSelected()
	OnDeselected()
	// ChooseNextBehavior returns the behavior that should run next, or nil
	// for no opinion. current may be nil.
	ChooseNextBehavior(current *behavior.Behavior) *behavior.Behavior
	// Update runs once per tick before ChooseNextBehavior.
	Update()
}

// Finisher is implemented by time-boxed choosers that end on their own.
type Finisher interface {
	Finished() bool
}

// Lookup resolves behaviors; the registry satisfies it.
type Lookup interface {
	Get(id models.BehaviorID) (*behavior.Behavior, bool)
	FindByGroup(group string) []*behavior.Behavior
	All() []*behavior.Behavior
}

// Host is the scheduler surface choosers read from and command.
type Host interface {
	behavior.Oracle
	CurrentBehavior() *behavior.Behavior
	// ClearRequestedSpark clears the requested spark if it is still spark.
	ClearRequestedSpark(spark models.UnlockID)
	RequestCurrentBehaviorEndOnNextActionComplete()
}

// Deps are the collaborators a chooser tree is built with.
type Deps struct {
	Lookup Lookup
	Env    *behavior.Env
	Host   Host
	Logger *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// DefaultFallback is the do-nothing behavior wrappers fall back to.
const DefaultFallback models.BehaviorID = "Wait"

// Build constructs the chooser tree described by cfg.
func Build(cfg models.ChooserConfig, deps Deps) (Chooser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return build(cfg, deps)
}

func build(cfg models.ChooserConfig, deps Deps) (Chooser, error) {
	switch cfg.Type {
	case models.ChooserPriority:
		return asChooser(NewPriority(cfg, deps))
	case models.ChooserScored:
		return asChooser(NewScored(cfg, deps))
	case models.ChooserSparks:
		return asChooser(NewSparks(cfg, deps))
	case models.ChooserBuildPyramid:
		return asChooser(NewBuildPyramid(cfg, deps))
	case models.ChooserVoiceCommand:
		return asChooser(NewVoiceCommand(cfg, deps))
	}
	return nil, fmt.Errorf("chooser %q: unknown type %q", cfg.Name, cfg.Type)
}

// asChooser keeps a failed constructor from yielding a typed-nil Chooser.
func asChooser[T Chooser](c T, err error) (Chooser, error) {
	if err != nil {
		return nil, err
	}
	return c, nil
}

// candidates resolves the ordered, de-duplicated candidate list of a
// priority or scored chooser.
func candidates(cfg models.ChooserConfig, lookup Lookup) ([]*behavior.Behavior, error) {
	seen := make(map[models.BehaviorID]bool)
	var out []*behavior.Behavior
	for _, id := range cfg.Behaviors {
		b, ok := lookup.Get(id)
		if !ok {
			return nil, fmt.Errorf("chooser %q: unknown behavior %q", cfg.Name, id)
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, b)
		}
	}
	for _, g := range cfg.Groups {
		members := lookup.FindByGroup(g)
		if len(members) == 0 {
			return nil, fmt.Errorf("chooser %q: group %q has no behaviors", cfg.Name, g)
		}
		for _, b := range members {
			if !seen[b.ID()] {
				seen[b.ID()] = true
				out = append(out, b)
			}
		}
	}
	return out, nil
}

// fallback resolves cfg.Fallback. With required set an unset fallback
// defaults to DefaultFallback and must exist.
func fallback(cfg models.ChooserConfig, lookup Lookup, required bool) (*behavior.Behavior, error) {
	id := cfg.Fallback
	if id == "" {
		if !required {
			return nil, nil
		}
		id = DefaultFallback
	}
	b, ok := lookup.Get(id)
	if !ok {
		return nil, fmt.Errorf("chooser %q: unknown fallback behavior %q", cfg.Name, id)
	}
	return b, nil
}

func behaviorParam(lookup Lookup, chooser, key string, id models.BehaviorID) (*behavior.Behavior, error) {
	if id == "" {
		return nil, fmt.Errorf("chooser %q: missing mandatory key: params.%s", chooser, key)
	}
	b, ok := lookup.Get(id)
	if !ok {
		return nil, fmt.Errorf("chooser %q: params.%s: unknown behavior %q", chooser, key, id)
	}
	return b, nil
}

// keepRunning reports whether current is b and still running.
func keepRunning(current, b *behavior.Behavior) bool {
	return current != nil && current == b && b.IsRunning()
}
