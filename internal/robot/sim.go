package robot

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/nvandessel/cozmo-brain/internal/clock"
	"github.com/nvandessel/cozmo-brain/internal/events"
	"github.com/nvandessel/cozmo-brain/internal/models"
)

// DefaultActionDuration is used for actions queued without a duration.
const DefaultActionDuration = 500 * time.Millisecond

// ErrActionRejected is returned by QueueAction when the sim is set to fail actions.
var ErrActionRejected = errors.New("action rejected")

type pendingAction struct {
	tag    ActionTag
	action Action
	due    time.Time
}

// Sim is a deterministic in-memory robot. Actions complete when Step is
// called at or after their due time. Safe for concurrent use.
type Sim struct {
	clock clock.Clock
	bus   *events.Bus

	mu             sync.Mutex
	offTreads      models.OffTreadsState
	carrying       bool
	processes      map[string]bool
	lastOffCharger time.Time
	emotions       map[models.Emotion]float64
	emotionEvents  []string
	unlocks        map[models.UnlockID]bool
	objects        map[models.ObjectID]Object
	nextTag        ActionTag
	pending        []pendingAction
	history        []Action
	rejectActions  bool
	cubeLights     map[models.ObjectID]string
	lightCommands  int
	trackLocks     map[string]models.TrackSet
	musicState     string
	musicCommands  int
}

// NewSim creates a robot on its treads with neutral mood and no cubes.
func NewSim(c clock.Clock, bus *events.Bus) *Sim {
	return &Sim{
		clock:      c,
		bus:        bus,
		offTreads:  models.OnTreads,
		processes:  make(map[string]bool),
		emotions:   make(map[models.Emotion]float64),
		unlocks:    make(map[models.UnlockID]bool),
		objects:    make(map[models.ObjectID]Object),
		cubeLights: make(map[models.ObjectID]string),
		trackLocks: make(map[string]models.TrackSet),
	}
}

// --- Sensors ---

func (s *Sim) OffTreadsState() models.OffTreadsState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offTreads
}

func (s *Sim) IsCarryingObject() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.carrying
}

func (s *Sim) IsProcessActive(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processes[name]
}

func (s *Sim) LastDriveOffCharger() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOffCharger
}

// SetOffTreads changes the body state and publishes the change.
func (s *Sim) SetOffTreads(state models.OffTreadsState) {
	s.mu.Lock()
	changed := s.offTreads != state
	s.offTreads = state
	s.mu.Unlock()
	if changed {
		s.bus.Publish(events.TagOffTreadsStateChanged, events.OffTreadsStateChanged{State: state})
	}
}

// SetCarrying sets whether the lift holds a cube.
func (s *Sim) SetCarrying(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carrying = v
}

// SetProcess marks a named process active or inactive.
func (s *Sim) SetProcess(name string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processes[name] = active
}

// DriveOffCharger records the current time as the last charger departure.
func (s *Sim) DriveOffCharger() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastOffCharger = s.clock.Now()
}

// --- Mood ---

func (s *Sim) EmotionValue(e models.Emotion) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emotions[e]
}

func (s *Sim) TriggerEmotionEvent(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emotionEvents = append(s.emotionEvents, name)
}

// SetEmotion sets an emotion value in [-1, 1].
func (s *Sim) SetEmotion(e models.Emotion, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emotions[e] = v
}

// EmotionEvents returns the mood events triggered so far.
func (s *Sim) EmotionEvents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.emotionEvents)
}

// --- Unlocks ---

func (s *Sim) IsUnlocked(id models.UnlockID) bool {
	if id == models.UnlockNone {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unlocks[id]
}

// Unlock marks content as available.
func (s *Sim) Unlock(ids ...models.UnlockID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.unlocks[id] = true
	}
}

// --- BlockWorld ---

func (s *Sim) Objects() []Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Object, 0, len(s.objects))
	for _, id := range slices.Sorted(maps.Keys(s.objects)) {
		out = append(out, s.objects[id])
	}
	return out
}

func (s *Sim) Object(id models.ObjectID) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[id]
	return o, ok
}

// AddObject places a cube in the block world without publishing.
func (s *Sim) AddObject(o Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[o.ID] = o
}

// RemoveObject forgets a cube.
func (s *Sim) RemoveObject(id models.ObjectID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, id)
}

// SetUpAxis rotates a cube and publishes the axis change.
func (s *Sim) SetUpAxis(id models.ObjectID, axis models.UpAxis) {
	s.mu.Lock()
	o, ok := s.objects[id]
	if !ok {
		o = Object{ID: id}
	}
	changed := o.UpAxis != axis
	o.UpAxis = axis
	s.objects[id] = o
	s.mu.Unlock()
	if changed {
		s.bus.Publish(events.TagObjectUpAxisChanged, events.ObjectUpAxisChanged{ObjectID: id, UpAxis: axis})
	}
}

// --- Actuators ---

func (s *Sim) QueueAction(a Action) (ActionTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejectActions {
		return 0, fmt.Errorf("queueing %q: %w", a.Name, ErrActionRejected)
	}
	d := a.Duration
	if d <= 0 {
		d = DefaultActionDuration
	}
	s.nextTag++
	tag := s.nextTag
	s.pending = append(s.pending, pendingAction{tag: tag, action: a, due: s.clock.Now().Add(d)})
	s.history = append(s.history, a)
	return tag, nil
}

// CancelAction drops a pending action and reports it as cancelled.
func (s *Sim) CancelAction(tag ActionTag) bool {
	s.mu.Lock()
	idx := slices.IndexFunc(s.pending, func(p pendingAction) bool { return p.tag == tag })
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.pending = slices.Delete(s.pending, idx, idx+1)
	s.mu.Unlock()
	s.bus.Publish(events.TagActionCompleted, events.ActionCompleted{ActionTag: uint32(tag), Result: ResultCancelled})
	return true
}

// RejectActions makes QueueAction fail until reset.
func (s *Sim) RejectActions(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectActions = v
}

// Step completes every action whose due time has passed and returns how many
// completed.
func (s *Sim) Step() int {
	now := s.clock.Now()
	s.mu.Lock()
	var done []ActionTag
	kept := s.pending[:0]
	for _, p := range s.pending {
		if !now.Before(p.due) {
			done = append(done, p.tag)
			continue
		}
		kept = append(kept, p)
	}
	s.pending = kept
	s.mu.Unlock()

	for _, tag := range done {
		s.bus.Publish(events.TagActionCompleted, events.ActionCompleted{ActionTag: uint32(tag), Result: ResultSuccess})
	}
	return len(done)
}

// PendingActions returns the number of in-flight actions.
func (s *Sim) PendingActions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// ActionHistory returns every action queued so far.
func (s *Sim) ActionHistory() []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// --- Lights ---

func (s *Sim) SetCubeLights(id models.ObjectID, pattern string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cubeLights[id] = pattern
	s.lightCommands++
}

func (s *Sim) ClearCubeLights(id models.ObjectID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cubeLights, id)
	s.lightCommands++
}

// CubeLights returns the pattern currently shown on a cube.
func (s *Sim) CubeLights(id models.ObjectID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cubeLights[id]
}

// LightCommands counts every set/clear call.
func (s *Sim) LightCommands() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lightCommands
}

// --- Tracks ---

func (s *Sim) LockTracks(owner string, tracks models.TrackSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trackLocks[owner] |= tracks
}

func (s *Sim) UnlockTracks(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trackLocks, owner)
}

// LockedTracks returns the tracks locked by owner.
func (s *Sim) LockedTracks(owner string) models.TrackSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trackLocks[owner]
}

// TrackOwners returns every owner holding a lock, sorted.
func (s *Sim) TrackOwners() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.trackLocks))
}

// --- Audio ---

func (s *Sim) SetMusicState(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.musicState = state
	s.musicCommands++
}

// MusicState returns the last music state set.
func (s *Sim) MusicState() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.musicState
}

// MusicCommands counts SetMusicState calls.
func (s *Sim) MusicCommands() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.musicCommands
}

var _ Robot = (*Sim)(nil)
