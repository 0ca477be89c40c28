package reaction

import (
	"github.com/nvandessel/cozmo-brain/internal/behavior"
	"github.com/nvandessel/cozmo-brain/internal/models"
)

type frustrationParams struct {
	Emotion   models.Emotion `yaml:"emotion"`
	Threshold float64        `yaml:"threshold"`
}

// Frustration fires when an emotion falls below a threshold. It re-arms
// only after the emotion recovers above the threshold.
type Frustration struct {
	base
	emotion   models.Emotion
	threshold float64
	disarmed  bool
}

func newFrustration(cfg models.ReactionConfig, target *behavior.Behavior, env *behavior.Env) (*Frustration, error) {
	p := frustrationParams{Emotion: models.EmotionConfident, Threshold: -0.5}
	if err := models.DecodeParams(cfg.Params, &p); err != nil {
		return nil, err
	}
	return &Frustration{base: newBase(cfg, target, env), emotion: p.Emotion, threshold: p.Threshold}, nil
}

func (f *Frustration) ShouldTrigger(*behavior.Behavior) bool {
	below := f.robot.EmotionValue(f.emotion) < f.threshold
	if !below {
		f.disarmed = false
		return false
	}
	return !f.disarmed && f.ready() && f.behaviorRunnable(models.ObjectNone)
}

func (f *Frustration) BehaviorTriggered() {
	f.markTriggered()
	f.disarmed = true
}
