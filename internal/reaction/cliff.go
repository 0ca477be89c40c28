package reaction

import (
	"github.com/nvandessel/cozmo-brain/internal/behavior"
	"github.com/nvandessel/cozmo-brain/internal/events"
	"github.com/nvandessel/cozmo-brain/internal/models"
)

// Cliff fires when the cliff sensor reports an edge while on treads.
type Cliff struct {
	base
	detected bool
}

func newCliff(cfg models.ReactionConfig, target *behavior.Behavior, env *behavior.Env) *Cliff {
	return &Cliff{base: newBase(cfg, target, env)}
}

func (c *Cliff) Subscriptions() []events.Tag {
	return []events.Tag{events.TagCliffEvent}
}

func (c *Cliff) HandleEvent(ev events.Event) {
	if p, ok := ev.Payload.(events.CliffEvent); ok && p.Detected {
		c.detected = true
	}
}

func (c *Cliff) ShouldTrigger(*behavior.Behavior) bool {
	if !c.detected || c.robot.OffTreadsState() != models.OnTreads {
		return false
	}
	return c.ready() && c.behaviorRunnable(models.ObjectNone)
}

func (c *Cliff) EnabledStateChanged(enabled bool) {
	if !enabled {
		c.detected = false
	}
}

func (c *Cliff) BehaviorTriggered() {
	c.markTriggered()
	c.detected = false
}
