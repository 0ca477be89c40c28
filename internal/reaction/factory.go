package reaction

import (
	"fmt"

	"github.com/nvandessel/cozmo-brain/internal/behavior"
	"github.com/nvandessel/cozmo-brain/internal/models"
)

// NewStrategy builds the strategy named by cfg.Strategy. seed feeds any
// randomized timing.
func NewStrategy(cfg models.ReactionConfig, lookup BehaviorLookup, env *behavior.Env, seed uint64) (Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	target, ok := lookup.Get(cfg.Behavior)
	if !ok {
		return nil, fmt.Errorf("reaction %s: unknown behavior %q", cfg.Trigger, cfg.Behavior)
	}
	var (
		s   Strategy
		err error
	)
	switch cfg.Strategy {
	case models.StrategyGeneric:
		var g *Generic
		if g, err = newGeneric(cfg, target, env); err == nil {
			s = g
		}
	case models.StrategyCliff:
		s = newCliff(cfg, target, env)
	case models.StrategyFrustration:
		var f *Frustration
		if f, err = newFrustration(cfg, target, env); err == nil {
			s = f
		}
	case models.StrategyHiccup:
		var h *Hiccup
		if h, err = newHiccup(cfg, target, env, seed+uint64(cfg.Trigger)); err == nil {
			s = h
		}
	case models.StrategyDoubleTap:
		var d *DoubleTap
		if d, err = newDoubleTap(cfg, target, env); err == nil {
			s = d
		}
	default:
		err = fmt.Errorf("unknown strategy %q", cfg.Strategy)
	}
	if err != nil {
		return nil, fmt.Errorf("reaction %s: %w", cfg.Trigger, err)
	}
	return s, nil
}
