// Package config provides configuration management for the brain.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/cozmo-brain/internal/behavior"
	"github.com/nvandessel/cozmo-brain/internal/models"
)

//go:embed default.yaml
var defaultYAML []byte

// DirName is the per-user directory holding config.yaml and the journal.
const DirName = ".cozmo-brain"

// BrainConfig represents the complete brain configuration.
type BrainConfig struct {
	// Logging configures diagnostic logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Tick configures the scheduler loop.
	Tick TickConfig `json:"tick" yaml:"tick"`

	// Telemetry configures the event journal.
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`

	// Seed feeds randomized reaction timing.
	Seed uint64 `json:"seed" yaml:"seed"`

	// Resume bounds looping resumes after reactions.
	Resume ResumeConfig `json:"resume" yaml:"resume"`

	// Robot is the initial state of the simulated robot.
	Robot RobotConfig `json:"robot" yaml:"robot"`

	Behaviors []models.BehaviorConfig `json:"behaviors" yaml:"behaviors"`
	Reactions []models.ReactionConfig `json:"reactions" yaml:"reactions"`
	Choosers  ChoosersConfig          `json:"choosers" yaml:"choosers"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	// Level controls logging verbosity: "error", "warn", "info" (default),
	// "debug" or "trace". At debug and above arbitration decisions are
	// written to decisions.jsonl in Dir.
	Level string `json:"level" yaml:"level"`

	// Dir is where the decision log goes. Empty means the user directory.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// TickConfig configures the scheduler loop.
type TickConfig struct {
	Interval time.Duration `json:"interval" yaml:"interval"`
}

// TelemetryConfig configures the event journal.
type TelemetryConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Path of the SQLite journal. Empty means journal.db in the user directory.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// ResumeConfig mirrors behavior.ResumeGuard in seconds.
type ResumeConfig struct {
	WindowSec   float64 `json:"window_sec" yaml:"window_sec"`
	CooldownSec float64 `json:"cooldown_sec" yaml:"cooldown_sec"`
	MaxResumes  int     `json:"max_resumes" yaml:"max_resumes"`
}

// Guard converts the config into a resume guard.
func (c ResumeConfig) Guard() behavior.ResumeGuard {
	return behavior.ResumeGuard{
		Window:     time.Duration(c.WindowSec * float64(time.Second)),
		Cooldown:   time.Duration(c.CooldownSec * float64(time.Second)),
		MaxResumes: c.MaxResumes,
	}
}

// RobotConfig seeds the simulated robot.
type RobotConfig struct {
	Unlocks  []models.UnlockID          `json:"unlocks,omitempty" yaml:"unlocks,omitempty"`
	Emotions map[models.Emotion]float64 `json:"emotions,omitempty" yaml:"emotions,omitempty"`
	Cubes    []CubeConfig               `json:"cubes,omitempty" yaml:"cubes,omitempty"`
}

// CubeConfig places one cube in the block world.
type CubeConfig struct {
	ID     models.ObjectID `json:"id" yaml:"id"`
	UpAxis models.UpAxis   `json:"up_axis" yaml:"up_axis"`
}

// ChoosersConfig holds the two top-level chooser trees.
type ChoosersConfig struct {
	Freeplay models.ChooserConfig `json:"freeplay" yaml:"freeplay"`

	// Sparks is optional. Without it spark requests are ignored.
	Sparks *models.ChooserConfig `json:"sparks,omitempty" yaml:"sparks,omitempty"`
}

// Default returns the built-in configuration.
func Default() *BrainConfig {
	config := &BrainConfig{}
	if err := yaml.Unmarshal(defaultYAML, config); err != nil {
		panic(fmt.Sprintf("config: embedded default.yaml: %v", err))
	}
	return config
}

// UserDir returns ~/.cozmo-brain.
func UserDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, DirName), nil
}

// Load loads configuration.
// Order: defaults -> path (or ~/.cozmo-brain/config.yaml when path is empty
// and the file exists) -> environment variables
func Load(path string) (*BrainConfig, error) {
	config := Default()

	if path == "" {
		if dir, err := UserDir(); err == nil {
			candidate := filepath.Join(dir, "config.yaml")
			if _, statErr := os.Stat(candidate); statErr == nil {
				path = candidate
			}
		}
	}
	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		config = fileConfig
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file on top of the
// defaults.
func LoadFromFile(path string) (*BrainConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := replaceChoosers(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Telemetry.Path = expandEnvVars(config.Telemetry.Path)
	config.Logging.Dir = expandEnvVars(config.Logging.Dir)
	return config, nil
}

// replaceChoosers swaps in the chooser trees the file sets, whole. A plain
// unmarshal merges them into the default trees.
func replaceChoosers(data []byte, config *BrainConfig) error {
	var overlay struct {
		Choosers struct {
			Freeplay *models.ChooserConfig `yaml:"freeplay"`
			Sparks   yaml.Node             `yaml:"sparks"`
		} `yaml:"choosers"`
	}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return err
	}
	if overlay.Choosers.Freeplay != nil {
		config.Choosers.Freeplay = *overlay.Choosers.Freeplay
	}
	if overlay.Choosers.Sparks.Kind != 0 {
		var sparks *models.ChooserConfig
		if err := overlay.Choosers.Sparks.Decode(&sparks); err != nil {
			return err
		}
		config.Choosers.Sparks = sparks
	}
	return nil
}

// Validate checks that the configuration is valid. Every problem found is
// reported.
func (c *BrainConfig) Validate() error {
	var errs []error

	validLevels := map[string]bool{"error": true, "warn": true, "warning": true, "info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("invalid log level: %s (valid: error, warn, info, debug, trace, or empty for default)", c.Logging.Level))
	}
	if c.Tick.Interval <= 0 {
		errs = append(errs, fmt.Errorf("tick.interval must be positive, got %v", c.Tick.Interval))
	}
	if c.Resume.WindowSec < 0 || c.Resume.CooldownSec < 0 || c.Resume.MaxResumes < 0 {
		errs = append(errs, fmt.Errorf("resume: values must be non-negative, got %+v", c.Resume))
	}

	ids := make(map[models.BehaviorID]bool, len(c.Behaviors))
	for i, b := range c.Behaviors {
		if err := b.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("behaviors[%d]: %w", i, err))
			continue
		}
		if ids[b.ID] {
			errs = append(errs, fmt.Errorf("behaviors[%d]: duplicate id %q", i, b.ID))
		}
		ids[b.ID] = true
	}

	triggers := make(map[models.ReactionTrigger]bool, len(c.Reactions))
	for i, r := range c.Reactions {
		if err := r.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("reactions[%d]: %w", i, err))
			continue
		}
		if triggers[r.Trigger] {
			errs = append(errs, fmt.Errorf("reactions[%d]: duplicate trigger %s", i, r.Trigger))
		}
		triggers[r.Trigger] = true
		if !ids[r.Behavior] {
			errs = append(errs, fmt.Errorf("reactions[%d]: unknown behavior %q", i, r.Behavior))
		}
	}

	if err := c.Choosers.Freeplay.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("choosers.freeplay: %w", err))
	}
	if c.Choosers.Sparks != nil {
		if c.Choosers.Sparks.Type != models.ChooserSparks {
			errs = append(errs, fmt.Errorf("choosers.sparks: type must be %q, got %q", models.ChooserSparks, c.Choosers.Sparks.Type))
		}
		if err := c.Choosers.Sparks.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("choosers.sparks: %w", err))
		}
	}

	for i, cube := range c.Robot.Cubes {
		if cube.ID == models.ObjectNone {
			errs = append(errs, fmt.Errorf("robot.cubes[%d]: missing id", i))
		}
	}

	return errors.Join(errs...)
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *BrainConfig) error {
	if v := os.Getenv("BRAIN_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}

	if v := os.Getenv("BRAIN_LOG_DIR"); v != "" {
		config.Logging.Dir = v
	}

	if v := os.Getenv("BRAIN_TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("BRAIN_TICK_INTERVAL: %w", err)
		}
		config.Tick.Interval = d
	}

	if v := os.Getenv("BRAIN_TELEMETRY"); v != "" {
		config.Telemetry.Enabled = v == "true" || v == "1"
	}

	if v := os.Getenv("BRAIN_TELEMETRY_PATH"); v != "" {
		config.Telemetry.Path = v
	}

	if v := os.Getenv("BRAIN_SEED"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("BRAIN_SEED: %w", err)
		}
		config.Seed = n
	}
	return nil
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
