package simulation

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/cozmo-brain/internal/config"
	"github.com/nvandessel/cozmo-brain/internal/events"
	"github.com/nvandessel/cozmo-brain/internal/models"
)

// DefaultTick is the scheduler interval used when a scenario sets none.
const DefaultTick = 100 * time.Millisecond

// Scenario is a scripted run: steps applied at fixed offsets from the start
// and expectations checked after the tick at their offset.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	// Config is a brain config file, relative to the scenario file. Empty
	// means the built-in defaults.
	Config string `yaml:"config,omitempty"`

	DurationSec float64 `yaml:"duration_sec"`
	TickMS      int     `yaml:"tick_ms,omitempty"`

	Steps  []Step        `yaml:"steps,omitempty"`
	Expect []Expectation `yaml:"expect,omitempty"`

	// Ran and NotRan are checked once the run ends.
	Ran    []models.BehaviorID `yaml:"ran,omitempty"`
	NotRan []models.BehaviorID `yaml:"not_ran,omitempty"`

	dir string
}

// Step is one scripted stimulus. Exactly one action field is set.
type Step struct {
	AtSec float64 `yaml:"at_sec"`

	Event  events.Tag     `yaml:"event,omitempty"`
	Fields map[string]any `yaml:"fields,omitempty"`

	OffTreads     models.OffTreadsState `yaml:"off_treads,omitempty"`
	UpAxis        *CubeAxis             `yaml:"up_axis,omitempty"`
	AddCube       *CubeAxis             `yaml:"add_cube,omitempty"`
	RemoveCube    models.ObjectID       `yaml:"remove_cube,omitempty"`
	Emotion       *EmotionLevel         `yaml:"emotion,omitempty"`
	Unlock        models.UnlockID       `yaml:"unlock,omitempty"`
	Spark         *SparkRequest         `yaml:"spark,omitempty"`
	CancelSpark   bool                  `yaml:"cancel_spark,omitempty"`
	RejectActions *bool                 `yaml:"reject_actions,omitempty"`
}

// CubeAxis names a cube and the axis pointing up.
type CubeAxis struct {
	ID   models.ObjectID `yaml:"id"`
	Axis models.UpAxis   `yaml:"axis,omitempty"`
}

// EmotionLevel sets one mood dimension.
type EmotionLevel struct {
	Emotion models.Emotion `yaml:"emotion"`
	Value   float64        `yaml:"value"`
}

// SparkRequest asks for a spark as the game would.
type SparkRequest struct {
	Unlock models.UnlockID `yaml:"unlock"`
	Soft   bool            `yaml:"soft,omitempty"`
}

// Expectation asserts scheduler state after the tick at AtSec. Empty fields
// are not checked.
type Expectation struct {
	AtSec       float64           `yaml:"at_sec"`
	Behavior    models.BehaviorID `yaml:"behavior,omitempty"`
	Chooser     string            `yaml:"chooser,omitempty"`
	Trigger     string            `yaml:"trigger,omitempty"`
	ActiveSpark models.UnlockID   `yaml:"active_spark,omitempty"`
}

// LoadScenario reads and validates a scenario file. Unknown keys are errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	sc.dir = filepath.Dir(path)
	return sc, nil
}

// ParseScenario decodes and validates scenario YAML. A relative Config is
// resolved against the working directory.
func ParseScenario(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// ConfigPath returns the resolved config file path, or "" for defaults.
func (sc *Scenario) ConfigPath() string {
	if sc.Config == "" {
		return ""
	}
	if filepath.IsAbs(sc.Config) || sc.dir == "" {
		return sc.Config
	}
	return filepath.Join(sc.dir, sc.Config)
}

// LoadConfig returns the brain config the scenario runs against.
func (sc *Scenario) LoadConfig() (*config.BrainConfig, error) {
	path := sc.ConfigPath()
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFromFile(path)
}

// Tick returns the scheduler interval.
func (sc *Scenario) Tick() time.Duration {
	if sc.TickMS <= 0 {
		return DefaultTick
	}
	return time.Duration(sc.TickMS) * time.Millisecond
}

// Duration returns the run length.
func (sc *Scenario) Duration() time.Duration { return offset(sc.DurationSec) }

// Validate checks the scenario for structural errors.
func (sc *Scenario) Validate() error {
	var errs []error
	if sc.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if sc.DurationSec <= 0 {
		errs = append(errs, fmt.Errorf("duration_sec must be positive, got %v", sc.DurationSec))
	}
	if sc.TickMS < 0 {
		errs = append(errs, fmt.Errorf("tick_ms must not be negative, got %d", sc.TickMS))
	}
	for i, s := range sc.Steps {
		if err := s.validate(sc.DurationSec); err != nil {
			errs = append(errs, fmt.Errorf("steps[%d]: %w", i, err))
		}
	}
	for i, e := range sc.Expect {
		if err := e.validate(sc.DurationSec); err != nil {
			errs = append(errs, fmt.Errorf("expect[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Kind names the step's action.
func (s Step) Kind() string {
	kinds := s.kinds()
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

func (s Step) kinds() []string {
	var k []string
	if s.Event != "" {
		k = append(k, "event")
	}
	if s.OffTreads != "" {
		k = append(k, "off_treads")
	}
	if s.UpAxis != nil {
		k = append(k, "up_axis")
	}
	if s.AddCube != nil {
		k = append(k, "add_cube")
	}
	if s.RemoveCube != models.ObjectNone {
		k = append(k, "remove_cube")
	}
	if s.Emotion != nil {
		k = append(k, "emotion")
	}
	if s.Unlock != models.UnlockNone {
		k = append(k, "unlock")
	}
	if s.Spark != nil {
		k = append(k, "spark")
	}
	if s.CancelSpark {
		k = append(k, "cancel_spark")
	}
	if s.RejectActions != nil {
		k = append(k, "reject_actions")
	}
	return k
}

func (s Step) validate(durationSec float64) error {
	if s.AtSec < 0 || s.AtSec > durationSec {
		return fmt.Errorf("at_sec %v outside [0, %v]", s.AtSec, durationSec)
	}
	kinds := s.kinds()
	switch len(kinds) {
	case 0:
		return errors.New("no action set")
	case 1:
	default:
		return fmt.Errorf("more than one action set: %v", kinds)
	}
	switch {
	case s.Event != "":
		if !events.KnownTag(s.Event) {
			return fmt.Errorf("unknown event %q", s.Event)
		}
		if _, err := events.DecodePayload(s.Event, s.Fields); err != nil {
			return err
		}
	case len(s.Fields) > 0:
		return errors.New("fields only apply to event steps")
	case s.UpAxis != nil && s.UpAxis.ID == models.ObjectNone:
		return errors.New("up_axis: id is required")
	case s.UpAxis != nil && s.UpAxis.Axis == "":
		return errors.New("up_axis: axis is required")
	case s.AddCube != nil && s.AddCube.ID == models.ObjectNone:
		return errors.New("add_cube: id is required")
	case s.Emotion != nil && s.Emotion.Emotion == "":
		return errors.New("emotion: emotion is required")
	case s.Spark != nil && s.Spark.Unlock == models.UnlockNone:
		return errors.New("spark: unlock is required")
	}
	return nil
}

func (e Expectation) validate(durationSec float64) error {
	if e.AtSec < 0 || e.AtSec > durationSec {
		return fmt.Errorf("at_sec %v outside [0, %v]", e.AtSec, durationSec)
	}
	if e.Behavior == "" && e.Chooser == "" && e.Trigger == "" && e.ActiveSpark == "" {
		return errors.New("nothing to check")
	}
	if e.Trigger != "" {
		if _, err := models.ParseReactionTrigger(e.Trigger); err != nil {
			return err
		}
	}
	return nil
}

// offset converts scenario seconds to a duration rounded to the millisecond.
func offset(sec float64) time.Duration {
	return time.Duration(math.Round(sec*1000)) * time.Millisecond
}
