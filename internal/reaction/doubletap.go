package reaction

import (
	"time"

	"github.com/nvandessel/cozmo-brain/internal/behavior"
	"github.com/nvandessel/cozmo-brain/internal/events"
	"github.com/nvandessel/cozmo-brain/internal/models"
)

type doubleTapParams struct {
	WindowSec float64 `yaml:"double_tap_window_sec"`
	// IgnoreSec mutes taps after firing while the robot reacts to the cube.
	IgnoreSec float64 `yaml:"ignore_after_trigger_sec"`
}

// DoubleTap fires when the same cube is tapped twice inside a short window.
type DoubleTap struct {
	base
	window time.Duration
	ignore time.Duration

	lastTap     map[models.ObjectID]time.Time
	tapped      models.ObjectID
	ignoreUntil time.Time
}

func newDoubleTap(cfg models.ReactionConfig, target *behavior.Behavior, env *behavior.Env) (*DoubleTap, error) {
	p := doubleTapParams{WindowSec: 0.5, IgnoreSec: 2}
	if err := models.DecodeParams(cfg.Params, &p); err != nil {
		return nil, err
	}
	return &DoubleTap{
		base:    newBase(cfg, target, env),
		window:  time.Duration(p.WindowSec * float64(time.Second)),
		ignore:  time.Duration(p.IgnoreSec * float64(time.Second)),
		lastTap: make(map[models.ObjectID]time.Time),
	}, nil
}

func (d *DoubleTap) Subscriptions() []events.Tag {
	return []events.Tag{events.TagObjectTapped}
}

func (d *DoubleTap) HandleEvent(ev events.Event) {
	p, ok := ev.Payload.(events.ObjectTapped)
	if !ok || ev.Time.Before(d.ignoreUntil) {
		return
	}
	prev, seen := d.lastTap[p.ObjectID]
	if seen && ev.Time.Sub(prev) <= d.window {
		d.tapped = p.ObjectID
		delete(d.lastTap, p.ObjectID)
		return
	}
	d.lastTap[p.ObjectID] = ev.Time
}

// Tapped returns the cube waiting to be reacted to.
func (d *DoubleTap) Tapped() models.ObjectID { return d.tapped }

func (d *DoubleTap) ShouldTrigger(*behavior.Behavior) bool {
	if d.tapped == models.ObjectNone {
		return false
	}
	return d.ready() && d.behaviorRunnable(d.tapped)
}

func (d *DoubleTap) EnabledStateChanged(enabled bool) {
	if !enabled {
		d.tapped = models.ObjectNone
		clear(d.lastTap)
	}
}

func (d *DoubleTap) BehaviorTriggered() {
	d.markTriggered()
	d.setTarget(d.tapped)
	d.tapped = models.ObjectNone
	d.ignoreUntil = d.clock.Now().Add(d.ignore)
}
