package models

import (
	"errors"
	"fmt"
)

// PreconditionKind selects what a reaction hands its target behavior when
// asking whether it can run.
type PreconditionKind string

const (
	PreconditionNone       PreconditionKind = "none"
	PreconditionRobotState PreconditionKind = "robot_state"
	PreconditionAnimation  PreconditionKind = "animation"
	PreconditionObject     PreconditionKind = "object"
)

// Strategy names for ReactionConfig.Strategy.
const (
	StrategyGeneric     = "generic"
	StrategyCliff       = "cliff"
	StrategyHiccup      = "hiccup"
	StrategyFrustration = "frustration"
	StrategyDoubleTap   = "double_tap"
)

// ReactionConfig configures one reaction trigger strategy.
type ReactionConfig struct {
	Trigger  ReactionTrigger `json:"trigger" yaml:"trigger"`
	Strategy string          `json:"strategy" yaml:"strategy"`
	Behavior BehaviorID      `json:"behavior" yaml:"behavior"`

	ResumeLastBehavior         bool `json:"resume_last_behavior,omitempty" yaml:"resume_last_behavior,omitempty"`
	CanInterruptOtherTriggered bool `json:"can_interrupt_other_triggered,omitempty" yaml:"can_interrupt_other_triggered,omitempty"`
	CanInterruptSelf           bool `json:"can_interrupt_self,omitempty" yaml:"can_interrupt_self,omitempty"`

	RequiredUnlock UnlockID         `json:"required_unlock,omitempty" yaml:"required_unlock,omitempty"`
	CooldownSec    float64          `json:"cooldown_sec,omitempty" yaml:"cooldown_sec,omitempty"`
	Preconditions  PreconditionKind `json:"preconditions,omitempty" yaml:"preconditions,omitempty"`
	Animation      string           `json:"animation,omitempty" yaml:"animation,omitempty"`

	// Params holds strategy-specific sub-parameters.
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Validate checks mandatory keys.
func (c ReactionConfig) Validate() error {
	var errs []error
	if !c.Trigger.Valid() {
		errs = append(errs, errors.New("missing mandatory key: trigger"))
	}
	if c.Behavior == "" {
		errs = append(errs, fmt.Errorf("reaction %s: missing mandatory key: behavior", c.Trigger))
	}
	switch c.Strategy {
	case StrategyGeneric, StrategyCliff, StrategyHiccup, StrategyFrustration, StrategyDoubleTap:
	case "":
		errs = append(errs, fmt.Errorf("reaction %s: missing mandatory key: strategy", c.Trigger))
	default:
		errs = append(errs, fmt.Errorf("reaction %s: unknown strategy %q", c.Trigger, c.Strategy))
	}
	switch c.Preconditions {
	case "", PreconditionNone, PreconditionRobotState, PreconditionAnimation, PreconditionObject:
	default:
		errs = append(errs, fmt.Errorf("reaction %s: unknown preconditions %q", c.Trigger, c.Preconditions))
	}
	if c.Preconditions == PreconditionAnimation && c.Animation == "" {
		errs = append(errs, fmt.Errorf("reaction %s: animation preconditions need an animation", c.Trigger))
	}
	return errors.Join(errs...)
}
