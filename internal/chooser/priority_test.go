package chooser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvandessel/cozmo-brain/internal/behavior"
	"github.com/nvandessel/cozmo-brain/internal/behaviors"
	"github.com/nvandessel/cozmo-brain/internal/models"
)

func anim(id models.BehaviorID, mods ...func(*models.BehaviorConfig)) models.BehaviorConfig {
	cfg := models.BehaviorConfig{
		ID:     id,
		Class:  behaviors.ClassPlayAnim,
		Params: map[string]any{"animation": string(id) + "Anim"},
	}
	for _, m := range mods {
		m(&cfg)
	}
	return cfg
}

func withUnlock(u models.UnlockID) func(*models.BehaviorConfig) {
	return func(c *models.BehaviorConfig) { c.RequiredUnlock = u }
}

func withProcess(p string) func(*models.BehaviorConfig) {
	return func(c *models.BehaviorConfig) { c.RequiredProcess = p }
}

func withGroups(g ...string) func(*models.BehaviorConfig) {
	return func(c *models.BehaviorConfig) { c.BehaviorGroups = g }
}

func withScore(s float64) func(*models.BehaviorConfig) {
	return func(c *models.BehaviorConfig) { c.FlatScore = s }
}

func TestPriority_FirstRunnableWins(t *testing.T) {
	h := newHarness(t,
		anim("A", withUnlock("Secret")),
		anim("B"),
		anim("C"),
	)
	p, err := NewPriority(models.ChooserConfig{Name: "freeplay", Type: models.ChooserPriority, Behaviors: []models.BehaviorID{"A", "B", "C"}}, h.deps)
	require.NoError(t, err)

	assert.Equal(t, h.get(t, "B"), p.ChooseNextBehavior(nil))

	h.sim.Unlock("Secret")
	assert.Equal(t, h.get(t, "A"), p.ChooseNextBehavior(nil))
}

func TestPriority_RunningBehaviorKept(t *testing.T) {
	h := newHarness(t,
		anim("A", withUnlock("Secret")),
		anim("B", withProcess("game")),
		anim("C"),
	)
	p, err := NewPriority(models.ChooserConfig{Name: "freeplay", Type: models.ChooserPriority, Behaviors: []models.BehaviorID{"A", "B", "C"}}, h.deps)
	require.NoError(t, err)

	b := h.get(t, "B")
	h.sim.SetProcess("game", true)
	require.Equal(t, behavior.ResultSuccess, b.Init())
	h.sim.SetProcess("game", false)
	require.False(t, b.CanRun(behavior.Preconditions{}))

	assert.Equal(t, b, p.ChooseNextBehavior(b), "running behavior counts as runnable")
	assert.Equal(t, h.get(t, "C"), p.ChooseNextBehavior(nil))

	h.sim.Unlock("Secret")
	assert.Equal(t, h.get(t, "A"), p.ChooseNextBehavior(b), "higher entry still preempts")
	b.Stop()
}

func TestPriority_Fallback(t *testing.T) {
	h := newHarness(t, anim("A", withUnlock("Secret")))

	p, err := NewPriority(models.ChooserConfig{Name: "p", Type: models.ChooserPriority, Behaviors: []models.BehaviorID{"A"}}, h.deps)
	require.NoError(t, err)
	assert.Nil(t, p.ChooseNextBehavior(nil))

	p, err = NewPriority(models.ChooserConfig{Name: "p", Type: models.ChooserPriority, Behaviors: []models.BehaviorID{"A"}, Fallback: "Wait"}, h.deps)
	require.NoError(t, err)
	assert.Equal(t, h.get(t, "Wait"), p.ChooseNextBehavior(nil))
}

func TestPriority_Groups(t *testing.T) {
	h := newHarness(t,
		anim("A", withGroups("social")),
		anim("B"),
		anim("C", withGroups("social", "play")),
	)
	p, err := NewPriority(models.ChooserConfig{
		Name:      "p",
		Type:      models.ChooserPriority,
		Behaviors: []models.BehaviorID{"C"},
		Groups:    []string{"social"},
	}, h.deps)
	require.NoError(t, err)

	var ids []models.BehaviorID
	for _, b := range p.Candidates() {
		ids = append(ids, b.ID())
	}
	assert.Equal(t, []models.BehaviorID{"C", "A"}, ids)
}

func TestBuild_Errors(t *testing.T) {
	h := newHarness(t, anim("A"))
	tests := []struct {
		name string
		cfg  models.ChooserConfig
	}{
		{"unknown behavior", models.ChooserConfig{Name: "p", Type: models.ChooserPriority, Behaviors: []models.BehaviorID{"Nope"}}},
		{"empty group", models.ChooserConfig{Name: "p", Type: models.ChooserPriority, Groups: []string{"none"}}},
		{"unknown fallback", models.ChooserConfig{Name: "p", Type: models.ChooserPriority, Behaviors: []models.BehaviorID{"A"}, Fallback: "Nope"}},
		{"no candidates", models.ChooserConfig{Name: "p", Type: models.ChooserPriority}},
		{"unknown type", models.ChooserConfig{Name: "p", Type: "random"}},
		{"sparks without delegate", models.ChooserConfig{Name: "s", Type: models.ChooserSparks}},
		{"bad delegate", models.ChooserConfig{
			Name:     "s",
			Type:     models.ChooserSparks,
			Delegate: &models.ChooserConfig{Name: "d", Type: models.ChooserPriority, Behaviors: []models.BehaviorID{"Nope"}},
		}},
		{"spark without unlock", models.ChooserConfig{
			Name:     "s",
			Type:     models.ChooserSparks,
			Delegate: &models.ChooserConfig{Name: "d", Type: models.ChooserPriority, Behaviors: []models.BehaviorID{"A"}},
			Params:   map[string]any{"sparks": []any{map[string]any{"min_time_sec": 1}}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Build(tt.cfg, h.deps)
			assert.Error(t, err)
			assert.Nil(t, c)
		})
	}
}

func TestScored(t *testing.T) {
	h := newHarness(t,
		anim("Low", withScore(0.2)),
		anim("High", withScore(0.8)),
		anim("AlsoHigh", withScore(0.8)),
		anim("Zero"),
	)
	s, err := NewScored(models.ChooserConfig{Name: "s", Type: models.ChooserScored, Behaviors: []models.BehaviorID{"Low", "High", "AlsoHigh", "Zero"}}, h.deps)
	require.NoError(t, err)
	assert.Equal(t, h.get(t, "High"), s.ChooseNextBehavior(nil), "ties go to the earlier candidate")

	zero, err := NewScored(models.ChooserConfig{Name: "z", Type: models.ChooserScored, Behaviors: []models.BehaviorID{"Zero"}, Fallback: "Wait"}, h.deps)
	require.NoError(t, err)
	assert.Equal(t, h.get(t, "Wait"), zero.ChooseNextBehavior(nil), "zero score is no opinion")
}

func TestScored_RunningPenalty(t *testing.T) {
	camp := anim("Camp", withScore(0.8))
	camp.RunningPenalty = []models.CurvePoint{{X: 0, Y: 1}, {X: 10, Y: 0.1}}
	camp.Params["loops"] = -1
	h := newHarness(t, camp, anim("Other", withScore(0.5)))

	s, err := NewScored(models.ChooserConfig{Name: "s", Type: models.ChooserScored, Behaviors: []models.BehaviorID{"Camp", "Other"}}, h.deps)
	require.NoError(t, err)

	c := h.get(t, "Camp")
	require.Equal(t, c, s.ChooseNextBehavior(nil))
	require.Equal(t, behavior.ResultSuccess, c.Init())
	h.host.current = c

	h.clk.Advance(10 * time.Second)
	assert.Equal(t, h.get(t, "Other"), s.ChooseNextBehavior(c), "camping behavior loses to the next best")
	c.Stop()
}
