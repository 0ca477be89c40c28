package reaction

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/nvandessel/cozmo-brain/internal/behavior"
	"github.com/nvandessel/cozmo-brain/internal/events"
	"github.com/nvandessel/cozmo-brain/internal/models"
)

// genericDefaults gives each event-driven trigger its usual tags and condition.
var genericDefaults = map[models.ReactionTrigger]genericParams{
	models.TriggerRobotPickedUp: {
		Tags:      []string{string(events.TagOffTreadsStateChanged)},
		Condition: `state == "InAir"`,
	},
	models.TriggerUnexpectedMovement: {
		Tags: []string{string(events.TagUnexpectedMovement)},
	},
	models.TriggerVoiceCommand: {
		Tags: []string{string(events.TagVoiceCommand)},
	},
	models.TriggerFacePositionUpdated: {
		Tags: []string{string(events.TagRobotObservedFace)},
	},
	models.TriggerObjectPositionUpdated: {
		Tags:      []string{string(events.TagObjectMoved)},
		Condition: `!carrying`,
	},
}

type genericParams struct {
	// Tags are the event tags that may arm the trigger.
	Tags []string `yaml:"tags"`
	// Condition is an expr-lang boolean over the event payload fields plus
	// tag, off_treads and carrying. Empty means always.
	Condition string `yaml:"condition"`
	// ExpirySec drops an armed trigger that could not fire in time.
	ExpirySec float64 `yaml:"expiry_sec"`
}

// Generic is a configurable event-driven strategy: a matching event arms
// it, and it fires once the target behavior can run.
type Generic struct {
	base
	tags   []events.Tag
	cond   *vm.Program
	expiry time.Duration
	log    *slog.Logger

	armedAt   time.Time
	armedObj  models.ObjectID
	lastEvent map[string]any
}

func newGeneric(cfg models.ReactionConfig, target *behavior.Behavior, env *behavior.Env) (*Generic, error) {
	p := genericDefaults[cfg.Trigger]
	p.ExpirySec = 1
	if err := models.DecodeParams(cfg.Params, &p); err != nil {
		return nil, err
	}
	if len(p.Tags) == 0 {
		return nil, fmt.Errorf("generic strategy for %s: no event tags", cfg.Trigger)
	}
	g := &Generic{
		base:   newBase(cfg, target, env),
		expiry: time.Duration(p.ExpirySec * float64(time.Second)),
		log:    env.Logger,
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	for _, t := range p.Tags {
		tag := events.Tag(t)
		if !events.KnownTag(tag) {
			return nil, fmt.Errorf("generic strategy for %s: unknown event tag %q", cfg.Trigger, t)
		}
		g.tags = append(g.tags, tag)
	}
	if p.Condition != "" {
		prog, err := expr.Compile(p.Condition,
			expr.Env(map[string]any{}),
			expr.AsBool(),
			expr.AllowUndefinedVariables(),
		)
		if err != nil {
			return nil, fmt.Errorf("generic strategy for %s: compiling condition: %w", cfg.Trigger, err)
		}
		g.cond = prog
	}
	return g, nil
}

func (g *Generic) Subscriptions() []events.Tag { return g.tags }

func (g *Generic) HandleEvent(ev events.Event) {
	fields := events.PayloadFields(ev.Payload)
	fields["tag"] = string(ev.Tag)
	fields["off_treads"] = string(g.robot.OffTreadsState())
	fields["carrying"] = g.robot.IsCarryingObject()

	if g.cond != nil {
		out, err := expr.Run(g.cond, fields)
		if err != nil {
			g.log.Error("reaction condition failed", "trigger", g.cfg.Trigger, "error", err)
			return
		}
		if ok, _ := out.(bool); !ok {
			return
		}
	}
	g.armedAt = ev.Time
	g.armedObj = objectIDField(fields)
	g.lastEvent = fields
}

func objectIDField(fields map[string]any) models.ObjectID {
	if v, ok := fields["object_id"].(float64); ok {
		return models.ObjectID(v)
	}
	return models.ObjectNone
}

// Armed reports whether a matching event is waiting to fire.
func (g *Generic) Armed() bool {
	if g.armedAt.IsZero() {
		return false
	}
	if g.expiry > 0 && g.clock.Now().Sub(g.armedAt) > g.expiry {
		return false
	}
	return true
}

// LastEvent returns the fields of the event that armed the trigger.
func (g *Generic) LastEvent() map[string]any { return g.lastEvent }

func (g *Generic) ShouldTrigger(*behavior.Behavior) bool {
	return g.Armed() && g.ready() && g.behaviorRunnable(g.armedObj)
}

func (g *Generic) EnabledStateChanged(enabled bool) {
	if !enabled {
		g.armedAt = time.Time{}
	}
}

func (g *Generic) BehaviorTriggered() {
	g.markTriggered()
	g.setTarget(g.armedObj)
	g.armedAt = time.Time{}
}
