package reaction

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/nvandessel/cozmo-brain/internal/behavior"
	"github.com/nvandessel/cozmo-brain/internal/events"
	"github.com/nvandessel/cozmo-brain/internal/models"
)

type priorityEntry struct {
	trigger  models.ReactionTrigger
	priority int
}

// priorityTable is the evaluation order, highest priority first.
var priorityTable = []priorityEntry{
	{models.TriggerCliffDetected, 1},
	{models.TriggerRobotPickedUp, 2},
	{models.TriggerUnexpectedMovement, 3},
	{models.TriggerFrustration, 4},
	{models.TriggerHiccup, 5},
	{models.TriggerVoiceCommand, 6},
	{models.TriggerDoubleTapDetected, 7},
	{models.TriggerFacePositionUpdated, 8},
	{models.TriggerObjectPositionUpdated, 9},
}

func init() {
	if err := validatePriorityTable(priorityTable); err != nil {
		panic(err)
	}
}

// validatePriorityTable requires priorities 1..N in order, each trigger at
// most once, and every trigger present.
func validatePriorityTable(table []priorityEntry) error {
	seen := make(map[models.ReactionTrigger]bool, len(table))
	for i, e := range table {
		if e.priority != i+1 {
			return fmt.Errorf("reaction priority table: entry %d (%s) has priority %d, want %d", i, e.trigger, e.priority, i+1)
		}
		if !e.trigger.Valid() {
			return fmt.Errorf("reaction priority table: entry %d has invalid trigger %s", i, e.trigger)
		}
		if seen[e.trigger] {
			return fmt.Errorf("reaction priority table: duplicate trigger %s", e.trigger)
		}
		seen[e.trigger] = true
	}
	for _, t := range models.AllTriggers() {
		if !seen[t] {
			return fmt.Errorf("reaction priority table: missing trigger %s", t)
		}
	}
	return nil
}

// Priority returns t's position in the evaluation order (1 is highest), or 0.
func Priority(t models.ReactionTrigger) int {
	for _, e := range priorityTable {
		if e.trigger == t {
			return e.priority
		}
	}
	return 0
}

// BehaviorLookup resolves behavior ids; the registry satisfies it.
type BehaviorLookup interface {
	Get(id models.BehaviorID) (*behavior.Behavior, bool)
}

// Layer owns the strategies and their enable/disable locks.
type Layer struct {
	bus *events.Bus
	log *slog.Logger

	strategies map[models.ReactionTrigger]Strategy
	ordered    []Strategy
	unsubs     []func()

	mu    sync.Mutex
	locks map[models.ReactionTrigger]map[string]int
}

// NewLayer creates an empty layer routing events from bus.
func NewLayer(bus *events.Bus, logger *slog.Logger) *Layer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Layer{
		bus:        bus,
		log:        logger,
		strategies: make(map[models.ReactionTrigger]Strategy),
		locks:      make(map[models.ReactionTrigger]map[string]int),
	}
}

// Add registers a strategy and subscribes it to its events.
func (l *Layer) Add(s Strategy) error {
	t := s.Trigger()
	if !t.Valid() {
		return fmt.Errorf("strategy with invalid trigger %s", t)
	}
	if _, dup := l.strategies[t]; dup {
		return fmt.Errorf("trigger %s already has a strategy", t)
	}
	l.strategies[t] = s
	l.ordered = l.ordered[:0]
	for _, e := range priorityTable {
		if st, ok := l.strategies[e.trigger]; ok {
			l.ordered = append(l.ordered, st)
		}
	}
	handle := s.HandleEvent
	if w, ok := s.(DisabledWatcher); !ok || !w.WatchesWhileDisabled() {
		handle = func(ev events.Event) {
			if l.IsEnabled(t) {
				s.HandleEvent(ev)
			}
		}
	}
	for _, tag := range s.Subscriptions() {
		l.unsubs = append(l.unsubs, l.bus.Subscribe(tag, handle))
	}
	return nil
}

// Load builds a strategy per config, resolving behaviors through lookup.
// Bad configs are skipped and reported in the joined error.
func (l *Layer) Load(cfgs []models.ReactionConfig, lookup BehaviorLookup, env *behavior.Env, seed uint64) error {
	var errs []error
	for _, cfg := range cfgs {
		s, err := NewStrategy(cfg, lookup, env, seed)
		if err == nil {
			err = l.Add(s)
		}
		if err != nil {
			l.log.Error("reaction not loaded", "trigger", cfg.Trigger, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close unsubscribes every strategy.
func (l *Layer) Close() {
	for _, u := range l.unsubs {
		u()
	}
	l.unsubs = nil
}

// Strategy returns the strategy for t.
func (l *Layer) Strategy(t models.ReactionTrigger) (Strategy, bool) {
	s, ok := l.strategies[t]
	return s, ok
}

// Strategies returns every strategy in priority order.
func (l *Layer) Strategies() []Strategy {
	return append([]Strategy(nil), l.ordered...)
}

// Disable adds one reference to lock on t.
func (l *Layer) Disable(lock string, t models.ReactionTrigger) {
	l.mu.Lock()
	held := l.locks[t]
	wasEnabled := len(held) == 0
	if held == nil {
		held = make(map[string]int)
		l.locks[t] = held
	}
	held[lock]++
	l.mu.Unlock()

	l.log.Debug("reaction trigger disabled", "trigger", t, "lock", lock, "count", held[lock])
	if wasEnabled {
		if s, ok := l.strategies[t]; ok {
			s.EnabledStateChanged(false)
		}
	}
}

// Enable releases one reference to lock on t. The trigger is enabled again
// once no lock holds it.
func (l *Layer) Enable(lock string, t models.ReactionTrigger) {
	l.mu.Lock()
	held := l.locks[t]
	if held[lock] == 0 {
		l.mu.Unlock()
		l.log.Warn("enable without matching disable", "trigger", t, "lock", lock)
		return
	}
	held[lock]--
	if held[lock] == 0 {
		delete(held, lock)
	}
	nowEnabled := len(held) == 0
	if nowEnabled {
		delete(l.locks, t)
	}
	l.mu.Unlock()

	l.log.Debug("reaction trigger lock released", "trigger", t, "lock", lock)
	if nowEnabled {
		if s, ok := l.strategies[t]; ok {
			s.EnabledStateChanged(true)
		}
	}
}

// IsEnabled reports whether no lock holds t.
func (l *Layer) IsEnabled(t models.ReactionTrigger) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks[t]) == 0
}

// Locks returns a copy of the locks held on t.
func (l *Layer) Locks(t models.ReactionTrigger) map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return maps.Clone(l.locks[t])
}

// DisabledTriggers returns every trigger with at least one lock, in priority order.
func (l *Layer) DisabledTriggers() []models.ReactionTrigger {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.ReactionTrigger
	for _, e := range priorityTable {
		if len(l.locks[e.trigger]) > 0 {
			out = append(out, e.trigger)
		}
	}
	return out
}

// Evaluate returns the first enabled strategy, in priority order, that may
// interrupt the active trigger and wants to fire.
func (l *Layer) Evaluate(current *behavior.Behavior, active models.ReactionTrigger) (Strategy, bool) {
	var enabled []Strategy
	for _, s := range l.ordered {
		if l.IsEnabled(s.Trigger()) {
			enabled = append(enabled, s)
		}
	}
	now := l.bus.Now()
	for _, s := range enabled {
		if p, ok := s.(Poller); ok {
			p.Poll(now)
		}
	}
	for _, s := range enabled {
		if active != models.TriggerNone {
			if s.Trigger() == active && !s.CanInterruptSelf() {
				continue
			}
			if s.Trigger() != active && !s.CanInterruptOtherTriggeredBehavior() {
				continue
			}
		}
		if s.ShouldTrigger(current) {
			return s, true
		}
	}
	return nil, false
}
