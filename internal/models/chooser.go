package models

import (
	"errors"
	"fmt"
)

// Chooser types for ChooserConfig.Type.
const (
	ChooserPriority     = "priority"
	ChooserScored       = "scored"
	ChooserSparks       = "sparks"
	ChooserBuildPyramid = "build_pyramid"
	ChooserVoiceCommand = "voice_command"
)

// ChooserConfig describes one node of the chooser tree.
type ChooserConfig struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`

	// Candidates for priority/scored choosers, in order. Groups expand to
	// every behavior tagged with the group, in registry order.
	Behaviors []BehaviorID `json:"behaviors,omitempty" yaml:"behaviors,omitempty"`
	Groups    []string     `json:"groups,omitempty" yaml:"groups,omitempty"`

	// Fallback is returned by wrappers whose delegate has no opinion.
	Fallback BehaviorID `json:"fallback,omitempty" yaml:"fallback,omitempty"`

	// Delegate is the nested chooser wrappers defer to.
	Delegate *ChooserConfig `json:"delegate,omitempty" yaml:"delegate,omitempty"`

	// Setup and Building are the build-pyramid phase delegates.
	Setup    *ChooserConfig `json:"setup,omitempty" yaml:"setup,omitempty"`
	Building *ChooserConfig `json:"building,omitempty" yaml:"building,omitempty"`

	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Validate checks the node and its children.
func (c ChooserConfig) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("chooser: missing mandatory key: name"))
	}
	switch c.Type {
	case ChooserPriority, ChooserScored:
		if len(c.Behaviors) == 0 && len(c.Groups) == 0 {
			errs = append(errs, fmt.Errorf("chooser %q: needs behaviors or groups", c.Name))
		}
	case ChooserSparks, ChooserVoiceCommand:
		if c.Delegate == nil {
			errs = append(errs, fmt.Errorf("chooser %q: missing delegate", c.Name))
		}
	case ChooserBuildPyramid:
		if c.Setup == nil || c.Building == nil {
			errs = append(errs, fmt.Errorf("chooser %q: needs setup and building delegates", c.Name))
		}
	case "":
		errs = append(errs, fmt.Errorf("chooser %q: missing mandatory key: type", c.Name))
	default:
		errs = append(errs, fmt.Errorf("chooser %q: unknown type %q", c.Name, c.Type))
	}
	for _, child := range []*ChooserConfig{c.Delegate, c.Setup, c.Building} {
		if child != nil {
			if err := child.Validate(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
