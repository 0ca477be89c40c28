package models

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// CurvePoint is one (x, y) knot of a piecewise-linear curve.
// For penalty curves x is seconds and y is a score multiplier.
type CurvePoint struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// EmotionScorerConfig maps the value of one emotion through a curve.
type EmotionScorerConfig struct {
	Emotion Emotion      `json:"emotion" yaml:"emotion"`
	Curve   []CurvePoint `json:"curve" yaml:"curve"`
}

// BehaviorConfig is the configuration document a behavior is built from.
type BehaviorConfig struct {
	// Identity (mandatory)
	ID    BehaviorID    `json:"id" yaml:"id"`
	Class BehaviorClass `json:"class" yaml:"class"`
	Name  string        `json:"name,omitempty" yaml:"name,omitempty"`

	// Gating
	RequiredUnlock   UnlockID `json:"required_unlock,omitempty" yaml:"required_unlock,omitempty"`
	RequiredSpark    UnlockID `json:"required_spark,omitempty" yaml:"required_spark,omitempty"`
	RequireOnTreads  *bool    `json:"require_on_treads,omitempty" yaml:"require_on_treads,omitempty"`
	RequireOffTreads bool     `json:"require_off_treads,omitempty" yaml:"require_off_treads,omitempty"`
	RequiredProcess  string   `json:"required_process,omitempty" yaml:"required_process,omitempty"`

	// Time windows in seconds; zero disables the check.
	RequiredRecentDriveOffChargerSec float64 `json:"required_recent_drive_off_charger_sec,omitempty" yaml:"required_recent_drive_off_charger_sec,omitempty"`
	RequiredRecentSwitchSec          float64 `json:"required_recent_switch_sec,omitempty" yaml:"required_recent_switch_sec,omitempty"`

	BehaviorGroups []string       `json:"behavior_groups,omitempty" yaml:"behavior_groups,omitempty"`
	ExecutableType ExecutableType `json:"executable_type,omitempty" yaml:"executable_type,omitempty"`

	// Scoring
	FlatScore         float64               `json:"flat_score,omitempty" yaml:"flat_score,omitempty"`
	MoodScorer        []EmotionScorerConfig `json:"mood_scorer,omitempty" yaml:"mood_scorer,omitempty"`
	RepetitionPenalty []CurvePoint          `json:"repetition_penalty,omitempty" yaml:"repetition_penalty,omitempty"`
	RunningPenalty    []CurvePoint          `json:"running_penalty,omitempty" yaml:"running_penalty,omitempty"`

	// Params holds class-specific settings decoded by the concrete behavior.
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// DisplayName returns Name, falling back to the id.
func (c BehaviorConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return string(c.ID)
}

// OnTreadsRequired reports the on-treads requirement. Defaults to true
// unless the behavior asks to run off treads.
func (c BehaviorConfig) OnTreadsRequired() bool {
	if c.RequireOnTreads == nil {
		return !c.RequireOffTreads
	}
	return *c.RequireOnTreads
}

// InGroup reports whether the behavior is tagged with group.
func (c BehaviorConfig) InGroup(group string) bool {
	for _, g := range c.BehaviorGroups {
		if g == group {
			return true
		}
	}
	return false
}

// Validate checks mandatory keys and mutually exclusive flags.
func (c BehaviorConfig) Validate() error {
	var errs []error
	if c.ID == "" {
		errs = append(errs, errors.New("missing mandatory key: id"))
	}
	if c.Class == "" {
		errs = append(errs, fmt.Errorf("behavior %q: missing mandatory key: class", c.ID))
	}
	if c.RequireOffTreads && c.RequireOnTreads != nil && *c.RequireOnTreads {
		errs = append(errs, fmt.Errorf("behavior %q: require_on_treads and require_off_treads are exclusive", c.ID))
	}
	if c.RequiredRecentDriveOffChargerSec < 0 || c.RequiredRecentSwitchSec < 0 {
		errs = append(errs, fmt.Errorf("behavior %q: time windows must be non-negative", c.ID))
	}
	return errors.Join(errs...)
}

// DecodeParams decodes the params block into out (a pointer to a struct with
// yaml tags). A nil params block leaves out untouched.
func DecodeParams(params map[string]any, out any) error {
	if len(params) == 0 {
		return nil
	}
	data, err := yaml.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding params: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding params: %w", err)
	}
	return nil
}
