package events

import (
	"encoding/json"
	"fmt"

	"github.com/nvandessel/cozmo-brain/internal/models"
)

// Tag names an event type on the bus.
type Tag string

// Engine-to-game: robot and world observations.
const (
	TagActionCompleted       Tag = "ActionCompleted"
	TagOffTreadsStateChanged Tag = "RobotOffTreadsStateChanged"
	TagCliffEvent            Tag = "CliffEvent"
	TagObjectUpAxisChanged   Tag = "ObjectUpAxisChanged"
	TagObjectMoved           Tag = "ObjectMoved"
	TagObjectTapped          Tag = "ObjectTapped"
	TagRobotObservedFace     Tag = "RobotObservedFace"
	TagRobotDeletedFace      Tag = "RobotDeletedFace"
	TagVoiceCommand          Tag = "VoiceCommand"
	TagUnexpectedMovement    Tag = "UnexpectedMovement"
)

// Published by the behavior system.
const (
	TagBehaviorObjectiveAchieved  Tag = "BehaviorObjectiveAchieved"
	TagBehaviorStarted            Tag = "BehaviorStarted"
	TagBehaviorStopped            Tag = "BehaviorStopped"
	TagReactionTriggered          Tag = "ReactionTriggered"
	TagSparkEnded                 Tag = "SparkEnded"
	TagHardSparkEnded             Tag = "HardSparkEnded"
	TagBuildPyramidPrereqsChanged Tag = "BuildPyramidPrereqsChanged"
)

// Game-to-engine requests.
const (
	TagRequestSpark Tag = "RequestSpark"
	TagCancelSpark  Tag = "CancelSpark"
)

// ActionCompleted reports that a queued robot action finished.
type ActionCompleted struct {
	ActionTag uint32 `json:"action_tag"`
	Result    string `json:"result"`
}

// OffTreadsStateChanged reports a body orientation change.
type OffTreadsStateChanged struct {
	State models.OffTreadsState `json:"state"`
}

// CliffEvent reports the cliff sensor edge.
type CliffEvent struct {
	Detected bool `json:"detected"`
}

// ObjectUpAxisChanged reports a cube turning over.
type ObjectUpAxisChanged struct {
	ObjectID models.ObjectID `json:"object_id"`
	UpAxis   models.UpAxis   `json:"up_axis"`
}

// ObjectMoved reports a cube being moved.
type ObjectMoved struct {
	ObjectID models.ObjectID `json:"object_id"`
}

// ObjectTapped reports a single tap on a cube.
type ObjectTapped struct {
	ObjectID models.ObjectID `json:"object_id"`
}

// FaceEvent reports a face observation or deletion.
type FaceEvent struct {
	FaceID int `json:"face_id"`
}

// VoiceCommand carries a recognized spoken command.
type VoiceCommand struct {
	Command string `json:"command"`
}

// UnexpectedMovement reports the robot being pushed while driving.
type UnexpectedMovement struct{}

// ObjectiveAchieved reports a behavior reaching one of its goals.
type ObjectiveAchieved struct {
	Objective string            `json:"objective"`
	Behavior  models.BehaviorID `json:"behavior,omitempty"`
	ObjectID  models.ObjectID   `json:"object_id,omitempty"`
}

// BehaviorStarted is published when the scheduler starts or resumes a behavior.
type BehaviorStarted struct {
	Behavior models.BehaviorID `json:"behavior"`
	Trigger  string            `json:"trigger,omitempty"`
	Resumed  bool              `json:"resumed,omitempty"`
}

// BehaviorStopped is published when the scheduler stops a behavior.
type BehaviorStopped struct {
	Behavior    models.BehaviorID `json:"behavior"`
	RanForSec   float64           `json:"ran_for_sec"`
	Interrupted bool              `json:"interrupted,omitempty"`
}

// ReactionTriggered is published when a reaction preempts arbitration.
type ReactionTriggered struct {
	Trigger     string            `json:"trigger"`
	Behavior    models.BehaviorID `json:"behavior"`
	Interrupted models.BehaviorID `json:"interrupted,omitempty"`
}

// Spark outcomes.
const (
	SparkSuccess = "success"
	SparkFail    = "fail"
	SparkCancel  = "cancel"
	SparkTimeout = "timeout"
)

// SparkEnded is published when a spark activity finalizes.
type SparkEnded struct {
	Spark           models.UnlockID `json:"spark"`
	Outcome         string          `json:"outcome"`
	Soft            bool            `json:"soft"`
	Repetitions     int             `json:"repetitions"`
	DurationSec     float64         `json:"duration_sec"`
	SwitchingToHard bool            `json:"switching_to_hard,omitempty"`
}

// HardSparkEnded tells external listeners a hard spark is over.
type HardSparkEnded struct {
	Spark   models.UnlockID `json:"spark"`
	Success bool            `json:"success"`
}

// BuildPyramidPrereqsChanged reports whether enough cubes are usable.
type BuildPyramidPrereqsChanged struct {
	PrereqsMet  bool `json:"prereqs_met"`
	UsableCubes int  `json:"usable_cubes"`
}

// RequestSpark asks the scheduler to start a spark.
type RequestSpark struct {
	Unlock models.UnlockID `json:"unlock"`
	Soft   bool            `json:"soft"`
}

// CancelSpark asks the scheduler to end the requested spark.
type CancelSpark struct{}

var payloadFactories = map[Tag]func() any{
	TagActionCompleted:            func() any { return &ActionCompleted{} },
	TagOffTreadsStateChanged:      func() any { return &OffTreadsStateChanged{} },
	TagCliffEvent:                 func() any { return &CliffEvent{} },
	TagObjectUpAxisChanged:        func() any { return &ObjectUpAxisChanged{} },
	TagObjectMoved:                func() any { return &ObjectMoved{} },
	TagObjectTapped:               func() any { return &ObjectTapped{} },
	TagRobotObservedFace:          func() any { return &FaceEvent{} },
	TagRobotDeletedFace:           func() any { return &FaceEvent{} },
	TagVoiceCommand:               func() any { return &VoiceCommand{} },
	TagUnexpectedMovement:         func() any { return &UnexpectedMovement{} },
	TagBehaviorObjectiveAchieved:  func() any { return &ObjectiveAchieved{} },
	TagBehaviorStarted:            func() any { return &BehaviorStarted{} },
	TagBehaviorStopped:            func() any { return &BehaviorStopped{} },
	TagReactionTriggered:          func() any { return &ReactionTriggered{} },
	TagSparkEnded:                 func() any { return &SparkEnded{} },
	TagHardSparkEnded:             func() any { return &HardSparkEnded{} },
	TagBuildPyramidPrereqsChanged: func() any { return &BuildPyramidPrereqsChanged{} },
	TagRequestSpark:               func() any { return &RequestSpark{} },
	TagCancelSpark:                func() any { return &CancelSpark{} },
}

// KnownTag reports whether tag has a registered payload type.
func KnownTag(tag Tag) bool {
	_, ok := payloadFactories[tag]
	return ok
}

// DecodePayload builds the typed payload for tag from loosely typed fields,
// as found in scenario files or tool arguments. The returned value is the
// payload struct (not a pointer).
func DecodePayload(tag Tag, fields map[string]any) (any, error) {
	factory, ok := payloadFactories[tag]
	if !ok {
		return nil, fmt.Errorf("unknown event tag %q", tag)
	}
	ptr := factory()
	if len(fields) > 0 {
		data, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", tag, err)
		}
		if err := json.Unmarshal(data, ptr); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", tag, err)
		}
	}
	return deref(ptr), nil
}

// PayloadFields flattens a payload into plain JSON values.
func PayloadFields(payload any) map[string]any {
	out := map[string]any{}
	if payload == nil {
		return out
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(data, &out)
	return out
}

func deref(ptr any) any {
	switch p := ptr.(type) {
	case *ActionCompleted:
		return *p
	case *OffTreadsStateChanged:
		return *p
	case *CliffEvent:
		return *p
	case *ObjectUpAxisChanged:
		return *p
	case *ObjectMoved:
		return *p
	case *ObjectTapped:
		return *p
	case *FaceEvent:
		return *p
	case *VoiceCommand:
		return *p
	case *UnexpectedMovement:
		return *p
	case *ObjectiveAchieved:
		return *p
	case *BehaviorStarted:
		return *p
	case *BehaviorStopped:
		return *p
	case *ReactionTriggered:
		return *p
	case *SparkEnded:
		return *p
	case *HardSparkEnded:
		return *p
	case *BuildPyramidPrereqsChanged:
		return *p
	case *RequestSpark:
		return *p
	case *CancelSpark:
		return *p
	}
	return ptr
}
