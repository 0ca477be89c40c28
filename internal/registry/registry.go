// Package registry owns every behavior instance and answers lookups by id,
// name, class, group and executable type.
package registry

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/nvandessel/cozmo-brain/internal/behavior"
	"github.com/nvandessel/cozmo-brain/internal/events"
	"github.com/nvandessel/cozmo-brain/internal/models"
	"github.com/nvandessel/cozmo-brain/internal/robot"
)

var (
	// ErrDuplicateID is returned when two documents share an id.
	ErrDuplicateID = errors.New("duplicate behavior id")
	// ErrDuplicateExecutableType is returned when two behaviors claim one executable type.
	ErrDuplicateExecutableType = errors.New("duplicate executable type")
)

// Registry is the sole owner of behaviors. Everything else holds borrowed
// pointers obtained from it. Not safe for concurrent mutation; loading
// happens before the tick loop starts.
type Registry struct {
	factory *behavior.Factory
	log     *slog.Logger

	order      []*behavior.Behavior
	byID       map[models.BehaviorID]*behavior.Behavior
	byExecType map[models.ExecutableType]*behavior.Behavior
}

// New creates an empty registry building behaviors with factory.
func New(factory *behavior.Factory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		factory:    factory,
		log:        logger,
		byID:       make(map[models.BehaviorID]*behavior.Behavior),
		byExecType: make(map[models.ExecutableType]*behavior.Behavior),
	}
}

// Load builds every document. A bad document is skipped and reported in the
// joined error; the others are still registered.
func (r *Registry) Load(cfgs []models.BehaviorConfig) error {
	var errs []error
	for _, cfg := range cfgs {
		if _, err := r.Add(cfg); err != nil {
			r.log.Error("behavior not loaded", "id", cfg.ID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Add builds and registers one behavior.
func (r *Registry) Add(cfg models.BehaviorConfig) (*behavior.Behavior, error) {
	if _, dup := r.byID[cfg.ID]; dup && cfg.ID != "" {
		return nil, fmt.Errorf("behavior %q: %w", cfg.ID, ErrDuplicateID)
	}
	if et := cfg.ExecutableType; et != "" {
		if owner, dup := r.byExecType[et]; dup {
			return nil, fmt.Errorf("behavior %q: %w %q (already claimed by %q)", cfg.ID, ErrDuplicateExecutableType, et, owner.ID())
		}
	}
	b, err := r.factory.Create(cfg)
	if err != nil {
		return nil, err
	}
	r.order = append(r.order, b)
	r.byID[b.ID()] = b
	if et := b.ExecutableType(); et != "" {
		r.byExecType[et] = b
	}
	return b, nil
}

// Len returns the number of behaviors.
func (r *Registry) Len() int { return len(r.order) }

// All returns every behavior in load order.
func (r *Registry) All() []*behavior.Behavior {
	return append([]*behavior.Behavior(nil), r.order...)
}

// Get returns the behavior with id.
func (r *Registry) Get(id models.BehaviorID) (*behavior.Behavior, bool) {
	b, ok := r.byID[id]
	return b, ok
}

// MustGet returns the behavior with id or an error naming it.
func (r *Registry) MustGet(id models.BehaviorID) (*behavior.Behavior, error) {
	b, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("unknown behavior %q", id)
	}
	return b, nil
}

// FindByName returns the first behavior with the display name.
func (r *Registry) FindByName(name string) (*behavior.Behavior, bool) {
	for _, b := range r.order {
		if b.Name() == name {
			return b, true
		}
	}
	return nil, false
}

// FindByClass returns every behavior of class in load order.
func (r *Registry) FindByClass(class models.BehaviorClass) []*behavior.Behavior {
	var out []*behavior.Behavior
	for _, b := range r.order {
		if b.Class() == class {
			out = append(out, b)
		}
	}
	return out
}

// FindByGroup returns every behavior tagged with group in load order.
func (r *Registry) FindByGroup(group string) []*behavior.Behavior {
	var out []*behavior.Behavior
	for _, b := range r.order {
		if b.InGroup(group) {
			out = append(out, b)
		}
	}
	return out
}

// FindByExecutableType returns the behavior claiming et.
func (r *Registry) FindByExecutableType(et models.ExecutableType) (*behavior.Behavior, bool) {
	b, ok := r.byExecType[et]
	return b, ok
}

// ByAction returns the behavior currently acting with tag.
func (r *Registry) ByAction(tag robot.ActionTag) (*behavior.Behavior, bool) {
	if tag == 0 {
		return nil, false
	}
	for _, b := range r.order {
		if b.ActingTag() == tag {
			return b, true
		}
	}
	return nil, false
}

// RouteActionCompletions subscribes to action completions on bus and hands
// each to the behavior that queued it. Returns the unsubscribe func.
func (r *Registry) RouteActionCompletions(bus *events.Bus) func() {
	return bus.Subscribe(events.TagActionCompleted, func(ev events.Event) {
		p, ok := ev.Payload.(events.ActionCompleted)
		if !ok {
			return
		}
		tag := robot.ActionTag(p.ActionTag)
		if b, found := r.ByAction(tag); found {
			b.HandleActionCompleted(tag, p.Result)
		}
	})
}
