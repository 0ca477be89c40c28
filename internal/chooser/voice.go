package chooser

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/nvandessel/cozmo-brain/internal/behavior"
	"github.com/nvandessel/cozmo-brain/internal/events"
	"github.com/nvandessel/cozmo-brain/internal/models"
)

type voiceParams struct {
	Commands map[string]models.BehaviorID `yaml:"commands"`
}

// VoiceCommand runs the behavior mapped to the last heard command until it
// finishes, and defers to its delegate otherwise.
type VoiceCommand struct {
	name     string
	delegate Chooser
	fallback *behavior.Behavior
	commands map[string]*behavior.Behavior
	bus      *events.Bus
	log      *slog.Logger
	unsub    func()

	pending *behavior.Behavior
	active  *behavior.Behavior
	heard   string
}

// NewVoiceCommand builds the chooser and its delegate.
func NewVoiceCommand(cfg models.ChooserConfig, deps Deps) (*VoiceCommand, error) {
	var p voiceParams
	if err := models.DecodeParams(cfg.Params, &p); err != nil {
		return nil, fmt.Errorf("chooser %q: %w", cfg.Name, err)
	}
	v := &VoiceCommand{
		name:     cfg.Name,
		commands: make(map[string]*behavior.Behavior, len(p.Commands)),
		bus:      deps.Env.Bus,
		log:      deps.logger().With("chooser", cfg.Name),
	}
	for _, cmd := range slices.Sorted(maps.Keys(p.Commands)) {
		b, err := behaviorParam(deps.Lookup, cfg.Name, "commands."+cmd, p.Commands[cmd])
		if err != nil {
			return nil, err
		}
		v.commands[cmd] = b
	}
	var err error
	if v.fallback, err = fallback(cfg, deps.Lookup, true); err != nil {
		return nil, err
	}
	if v.delegate, err = build(*cfg.Delegate, deps); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *VoiceCommand) Name() string { return v.name }

// Commands returns the recognized commands, sorted.
func (v *VoiceCommand) Commands() []string {
	return slices.Sorted(maps.Keys(v.commands))
}

// LastHeard returns the last recognized command.
func (v *VoiceCommand) LastHeard() string { return v.heard }

func (v *VoiceCommand) OnSelected() {
	v.pending, v.active = nil, nil
	v.unsub = v.bus.Subscribe(events.TagVoiceCommand, v.handleCommand)
	v.delegate.OnSelected()
}

func (v *VoiceCommand) OnDeselected() {
	if v.unsub != nil {
		v.unsub()
		v.unsub = nil
	}
	v.pending, v.active = nil, nil
	v.delegate.OnDeselected()
}

func (v *VoiceCommand) handleCommand(ev events.Event) {
	p, ok := ev.Payload.(events.VoiceCommand)
	if !ok {
		return
	}
	b, known := v.commands[p.Command]
	if !known {
		v.log.Debug("unmapped voice command", "command", p.Command)
		return
	}
	v.heard = p.Command
	v.pending = b
}

func (v *VoiceCommand) Update() { v.delegate.Update() }

func (v *VoiceCommand) ChooseNextBehavior(current *behavior.Behavior) *behavior.Behavior {
	if v.active != nil && keepRunning(current, v.active) {
		return v.active
	}
	v.active = nil
	if b := v.pending; b != nil {
		v.pending = nil
		if b.CanRun(behavior.Preconditions{}) {
			v.active = b
			return b
		}
		v.log.Info("voice command behavior cannot run", "command", v.heard, "behavior", b.ID())
	}
	if next := v.delegate.ChooseNextBehavior(current); next != nil {
		return next
	}
	return v.fallback
}
