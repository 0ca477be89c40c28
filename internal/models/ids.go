// Package models holds the identifiers, enums and configuration documents
// shared by every part of the behavior system.
package models

import (
	"fmt"
	"strings"
)

// BehaviorID is the stable identifier of a behavior instance.
type BehaviorID string

// BehaviorClass names the implementation family a behavior is built from.
type BehaviorClass string

// ExecutableType tags behaviors that must be globally unique per type.
// At most one registered behavior may claim a given executable type.
type ExecutableType string

// UnlockID identifies a piece of gated content, including sparks.
type UnlockID string

// UnlockNone is the empty unlock (no gating / no spark).
const UnlockNone UnlockID = ""

// ObjectID identifies a light cube known to the block world.
type ObjectID int

// ObjectNone is the zero object id.
const ObjectNone ObjectID = 0

// Emotion names one dimension of the mood model.
type Emotion string

const (
	EmotionHappy      Emotion = "happy"
	EmotionCalm       Emotion = "calm"
	EmotionBrave      Emotion = "brave"
	EmotionConfident  Emotion = "confident"
	EmotionSocial     Emotion = "social"
	EmotionStimulated Emotion = "stimulated"
)

// OffTreadsState describes how the robot body is resting.
type OffTreadsState string

const (
	OnTreads    OffTreadsState = "OnTreads"
	InAir       OffTreadsState = "InAir"
	OnBack      OffTreadsState = "OnBack"
	OnFace      OffTreadsState = "OnFace"
	OnLeftSide  OffTreadsState = "OnLeftSide"
	OnRightSide OffTreadsState = "OnRightSide"
	Falling     OffTreadsState = "Falling"
)

// UpAxis is the cube axis currently pointing up.
type UpAxis string

const (
	AxisUnknown   UpAxis = "Unknown"
	AxisXNegative UpAxis = "XNegative"
	AxisXPositive UpAxis = "XPositive"
	AxisYNegative UpAxis = "YNegative"
	AxisYPositive UpAxis = "YPositive"
	AxisZNegative UpAxis = "ZNegative"
	AxisZPositive UpAxis = "ZPositive"
)

// Upright reports whether the cube is resting on its base.
func (a UpAxis) Upright() bool {
	return a == AxisZPositive
}

// OnSide reports whether the cube is known and not upright.
func (a UpAxis) OnSide() bool {
	return a != AxisZPositive && a != AxisUnknown && a != ""
}

// TrackSet is a bitmask of motor/animation tracks a behavior may lock.
type TrackSet uint8

const (
	TrackHead TrackSet = 1 << iota
	TrackLift
	TrackBody
	TrackFace
	TrackAudio

	TrackNone TrackSet = 0
	TrackAll           = TrackHead | TrackLift | TrackBody | TrackFace | TrackAudio
)

var trackNames = []struct {
	t    TrackSet
	name string
}{
	{TrackHead, "head"},
	{TrackLift, "lift"},
	{TrackBody, "body"},
	{TrackFace, "face"},
	{TrackAudio, "audio"},
}

// String renders the set as "head|lift".
func (t TrackSet) String() string {
	if t == TrackNone {
		return "none"
	}
	var parts []string
	for _, tn := range trackNames {
		if t&tn.t != 0 {
			parts = append(parts, tn.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseTrackSet parses a list of track names.
func ParseTrackSet(names []string) (TrackSet, error) {
	var set TrackSet
	for _, n := range names {
		found := false
		for _, tn := range trackNames {
			if strings.EqualFold(n, tn.name) {
				set |= tn.t
				found = true
				break
			}
		}
		if !found {
			return TrackNone, fmt.Errorf("unknown track %q", n)
		}
	}
	return set, nil
}
