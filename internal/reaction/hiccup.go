package reaction

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/nvandessel/cozmo-brain/internal/behavior"
	"github.com/nvandessel/cozmo-brain/internal/events"
	"github.com/nvandessel/cozmo-brain/internal/models"
)

// CureState tracks how a bout of hiccups ends.
type CureState int

const (
	NotCured CureState = iota
	PendingCure
	PlayerCured
	SelfCured
)

func (c CureState) String() string {
	switch c {
	case NotCured:
		return "NotCured"
	case PendingCure:
		return "PendingCure"
	case PlayerCured:
		return "PlayerCured"
	case SelfCured:
		return "SelfCured"
	}
	return fmt.Sprintf("CureState(%d)", int(c))
}

// Animations the hiccup strategy asks its behavior to play.
const (
	AnimHiccup      = "Hiccup"
	AnimPlayerCured = "HiccupPlayerCured"
	AnimSelfCured   = "HiccupSelfCured"
)

// secRange is an inclusive [min, max] range in seconds.
type secRange struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

type intRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

type hiccupParams struct {
	TimeBetweenBouts  secRange `yaml:"time_between_bouts_sec"`
	HiccupsPerBout    intRange `yaml:"hiccups_per_bout"`
	SpacingWithinBout secRange `yaml:"spacing_within_bout_sec"`
	// CuredCooldownSec is added to the next bout after the player cures one.
	CuredCooldownSec float64 `yaml:"cured_cooldown_sec"`
}

func (p hiccupParams) validate() error {
	if p.TimeBetweenBouts.Min < 0 || p.TimeBetweenBouts.Max < p.TimeBetweenBouts.Min {
		return fmt.Errorf("time_between_bouts_sec: bad range %+v", p.TimeBetweenBouts)
	}
	if p.HiccupsPerBout.Min < 1 || p.HiccupsPerBout.Max < p.HiccupsPerBout.Min {
		return fmt.Errorf("hiccups_per_bout: bad range %+v", p.HiccupsPerBout)
	}
	if p.SpacingWithinBout.Min < 0 || p.SpacingWithinBout.Max < p.SpacingWithinBout.Min {
		return fmt.Errorf("spacing_within_bout_sec: bad range %+v", p.SpacingWithinBout)
	}
	if p.CuredCooldownSec < 0 {
		return fmt.Errorf("cured_cooldown_sec must be non-negative")
	}
	return nil
}

// Hiccup schedules randomized bouts of hiccups and the reactions that end
// them. Turning the robot onto its face or back and then back onto its
// treads cures a bout; otherwise it ends by itself once the bout's hiccups
// are used up.
type Hiccup struct {
	base
	params hiccupParams
	rng    *rand.Rand

	active      bool
	cure        CureState
	nextBoutAt  time.Time
	nextHiccup  time.Time
	hiccupsLeft int
	pending     string
}

func newHiccup(cfg models.ReactionConfig, target *behavior.Behavior, env *behavior.Env, seed uint64) (*Hiccup, error) {
	p := hiccupParams{
		TimeBetweenBouts:  secRange{Min: 600, Max: 1200},
		HiccupsPerBout:    intRange{Min: 3, Max: 6},
		SpacingWithinBout: secRange{Min: 2, Max: 5},
		CuredCooldownSec:  600,
	}
	if err := models.DecodeParams(cfg.Params, &p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("hiccup strategy: %w", err)
	}
	h := &Hiccup{
		base:   newBase(cfg, target, env),
		params: p,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	h.nextBoutAt = env.Clock.Now().Add(h.drawSec(p.TimeBetweenBouts))
	return h, nil
}

func (h *Hiccup) drawSec(r secRange) time.Duration {
	s := r.Min + h.rng.Float64()*(r.Max-r.Min)
	return time.Duration(s * float64(time.Second))
}

func (h *Hiccup) drawInt(r intRange) int {
	return r.Min + h.rng.IntN(r.Max-r.Min+1)
}

// HiccupsActive reports whether a bout is in progress.
func (h *Hiccup) HiccupsActive() bool { return h.active }

// CureState returns the cure state of the current bout.
func (h *Hiccup) CureState() CureState { return h.cure }

// HiccupsLeft returns how many hiccups remain in the bout.
func (h *Hiccup) HiccupsLeft() int { return h.hiccupsLeft }

// NextBoutAt returns when the next bout starts.
func (h *Hiccup) NextBoutAt() time.Time { return h.nextBoutAt }

// StartBout starts a bout immediately.
func (h *Hiccup) StartBout() {
	h.active = true
	h.cure = NotCured
	h.hiccupsLeft = h.drawInt(h.params.HiccupsPerBout)
	h.nextHiccup = h.clock.Now()
}

func (h *Hiccup) Subscriptions() []events.Tag {
	return []events.Tag{events.TagOffTreadsStateChanged}
}

// WatchesWhileDisabled keeps the cure tracked while other reactions hold
// the hiccup trigger; being held upside down is itself a reaction.
func (h *Hiccup) WatchesWhileDisabled() bool { return true }

func (h *Hiccup) HandleEvent(ev events.Event) {
	p, ok := ev.Payload.(events.OffTreadsStateChanged)
	if !ok || !h.active {
		return
	}
	switch {
	case h.cure == NotCured && (p.State == models.OnFace || p.State == models.OnBack):
		h.cure = PendingCure
	case h.cure == PendingCure && p.State == models.OnTreads:
		h.cure = PlayerCured
	}
}

func (h *Hiccup) Poll(now time.Time) {
	if !h.active {
		if !now.Before(h.nextBoutAt) {
			h.StartBout()
		}
		return
	}
	if h.cure == NotCured && h.hiccupsLeft <= 0 {
		h.cure = SelfCured
	}
}

func (h *Hiccup) ShouldTrigger(*behavior.Behavior) bool {
	h.pending = ""
	if !h.active {
		return false
	}
	switch h.cure {
	case PlayerCured:
		h.pending = AnimPlayerCured
	case SelfCured:
		h.pending = AnimSelfCured
	case NotCured:
		if h.hiccupsLeft > 0 && !h.clock.Now().Before(h.nextHiccup) {
			h.pending = AnimHiccup
		}
	}
	if h.pending == "" || !h.ready() {
		return false
	}
	pre := h.preconditions(models.ObjectNone)
	pre.Animation = h.pending
	return h.target.CanRun(pre)
}

func (h *Hiccup) BehaviorTriggered() {
	h.markTriggered()
	h.setAnimation(h.pending)
	now := h.clock.Now()
	switch h.pending {
	case AnimHiccup:
		h.hiccupsLeft--
		h.nextHiccup = now.Add(h.drawSec(h.params.SpacingWithinBout))
	case AnimPlayerCured, AnimSelfCured:
		next := h.drawSec(h.params.TimeBetweenBouts)
		if h.cure == PlayerCured {
			next += time.Duration(h.params.CuredCooldownSec * float64(time.Second))
		}
		h.nextBoutAt = now.Add(next)
		h.active = false
		h.cure = NotCured
		h.hiccupsLeft = 0
	}
	h.pending = ""
}
