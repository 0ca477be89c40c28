// Package robot declares the narrow collaborator interfaces the behavior
// system consumes (sensors, mood, block world, actions, lights, audio) and a
// deterministic in-process Sim implementation of all of them.
package robot

import (
	"time"

	"github.com/nvandessel/cozmo-brain/internal/models"
)

// ActionTag identifies a queued robot action. Zero is never issued.
type ActionTag uint32

// Action results reported on completion.
const (
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultCancelled = "cancelled"
)

// Action is a long-running motion or animation command.
type Action struct {
	Name      string
	Animation string
	Target    models.ObjectID
	Duration  time.Duration
	Tracks    models.TrackSet
}

// Pose is a block world position in millimeters.
type Pose struct {
	X, Y, Z float64
}

// Object is one cube as seen by the block world.
type Object struct {
	ID     models.ObjectID
	UpAxis models.UpAxis
	Pose   Pose
	Moving bool
}

// Sensors answers questions about the robot body.
type Sensors interface {
	OffTreadsState() models.OffTreadsState
	IsCarryingObject() bool
	IsProcessActive(name string) bool
	// LastDriveOffCharger returns the zero time if the robot never left the charger.
	LastDriveOffCharger() time.Time
}

// Mood exposes the emotion model.
type Mood interface {
	EmotionValue(e models.Emotion) float64
	TriggerEmotionEvent(name string)
}

// Unlocks exposes the inventory of unlocked content.
type Unlocks interface {
	IsUnlocked(id models.UnlockID) bool
}

// BlockWorld exposes known cubes.
type BlockWorld interface {
	Objects() []Object
	Object(id models.ObjectID) (Object, bool)
}

// Actuators queues and cancels long-running actions. Completion is reported
// asynchronously through an ActionCompleted event on the bus.
type Actuators interface {
	QueueAction(a Action) (ActionTag, error)
	CancelAction(tag ActionTag) bool
}

// Lights drives cube light patterns.
type Lights interface {
	SetCubeLights(id models.ObjectID, pattern string)
	ClearCubeLights(id models.ObjectID)
}

// Tracks locks motor and animation tracks by owner name.
type Tracks interface {
	LockTracks(owner string, tracks models.TrackSet)
	UnlockTracks(owner string)
}

// Audio sets the background music state.
type Audio interface {
	SetMusicState(state string)
}

// Robot is the aggregate of every collaborator.
type Robot interface {
	Sensors
	Mood
	Unlocks
	BlockWorld
	Actuators
	Lights
	Tracks
	Audio
}
