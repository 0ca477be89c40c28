// Package scoring evaluates the configuration-driven score curves used to
// rank behaviors: piecewise-linear time penalty curves and mood scorers.
package scoring

import (
	"errors"
	"fmt"

	"github.com/nvandessel/cozmo-brain/internal/models"
)

// Curve is a piecewise-linear function over strictly increasing x knots.
// Outside the knot range the curve is clamped to the first/last y value.
// The zero Curve evaluates to 1 everywhere (no effect as a multiplier).
type Curve struct {
	points []models.CurvePoint
}

// NewCurve validates and builds a curve.
func NewCurve(points []models.CurvePoint) (Curve, error) {
	for i := 1; i < len(points); i++ {
		if points[i].X <= points[i-1].X {
			return Curve{}, fmt.Errorf("curve x values must be strictly increasing (point %d: %g <= %g)",
				i, points[i].X, points[i-1].X)
		}
	}
	for i, p := range points {
		if p.Y < 0 {
			return Curve{}, fmt.Errorf("curve point %d: negative y %g", i, p.Y)
		}
	}
	return Curve{points: append([]models.CurvePoint(nil), points...)}, nil
}

// MustCurve is NewCurve for literals known to be valid.
func MustCurve(points ...models.CurvePoint) Curve {
	c, err := NewCurve(points)
	if err != nil {
		panic(err)
	}
	return c
}

// Empty reports whether the curve has no knots.
func (c Curve) Empty() bool {
	return len(c.points) == 0
}

// Eval returns the curve value at x.
func (c Curve) Eval(x float64) float64 {
	n := len(c.points)
	switch {
	case n == 0:
		return 1
	case x <= c.points[0].X:
		return c.points[0].Y
	case x >= c.points[n-1].X:
		return c.points[n-1].Y
	}
	for i := 1; i < n; i++ {
		hi := c.points[i]
		if x > hi.X {
			continue
		}
		lo := c.points[i-1]
		t := (x - lo.X) / (hi.X - lo.X)
		return lo.Y + t*(hi.Y-lo.Y)
	}
	return c.points[n-1].Y
}

type emotionCurve struct {
	emotion models.Emotion
	curve   Curve
}

// MoodSource is the slice of the mood model a scorer reads.
type MoodSource interface {
	EmotionValue(e models.Emotion) float64
}

// MoodScorer multiplies together one curve per emotion, each evaluated at
// the emotion's current value.
type MoodScorer struct {
	curves []emotionCurve
}

// NewMoodScorer builds a scorer from configuration.
func NewMoodScorer(cfg []models.EmotionScorerConfig) (*MoodScorer, error) {
	if len(cfg) == 0 {
		return nil, nil
	}
	var errs []error
	ms := &MoodScorer{}
	for _, ec := range cfg {
		if ec.Emotion == "" {
			errs = append(errs, errors.New("mood scorer: missing emotion"))
			continue
		}
		if len(ec.Curve) == 0 {
			errs = append(errs, fmt.Errorf("mood scorer %s: empty curve", ec.Emotion))
			continue
		}
		c, err := NewCurve(ec.Curve)
		if err != nil {
			errs = append(errs, fmt.Errorf("mood scorer %s: %w", ec.Emotion, err))
			continue
		}
		ms.curves = append(ms.curves, emotionCurve{emotion: ec.Emotion, curve: c})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return ms, nil
}

// Score evaluates the scorer against the current mood. A nil scorer scores 0.
func (ms *MoodScorer) Score(mood MoodSource) float64 {
	if ms == nil {
		return 0
	}
	score := 1.0
	for _, ec := range ms.curves {
		score *= ec.curve.Eval(mood.EmotionValue(ec.emotion))
	}
	return score
}
