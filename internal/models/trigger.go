package models

import "fmt"

// ReactionTrigger identifies a reflexive condition that may preempt the
// running behavior.
type ReactionTrigger int

const (
	TriggerNone ReactionTrigger = iota
	TriggerCliffDetected
	TriggerRobotPickedUp
	TriggerUnexpectedMovement
	TriggerHiccup
	TriggerVoiceCommand
	TriggerDoubleTapDetected
	TriggerFrustration
	TriggerFacePositionUpdated
	TriggerObjectPositionUpdated

	// TriggerCount is one past the last valid trigger.
	TriggerCount
)

var triggerNames = [TriggerCount]string{
	TriggerNone:                  "None",
	TriggerCliffDetected:         "CliffDetected",
	TriggerRobotPickedUp:         "RobotPickedUp",
	TriggerUnexpectedMovement:    "UnexpectedMovement",
	TriggerHiccup:                "Hiccup",
	TriggerVoiceCommand:          "VoiceCommand",
	TriggerDoubleTapDetected:     "DoubleTapDetected",
	TriggerFrustration:           "Frustration",
	TriggerFacePositionUpdated:   "FacePositionUpdated",
	TriggerObjectPositionUpdated: "ObjectPositionUpdated",
}

func (t ReactionTrigger) String() string {
	if t < 0 || t >= TriggerCount {
		return fmt.Sprintf("ReactionTrigger(%d)", int(t))
	}
	return triggerNames[t]
}

// Valid reports whether t names a real trigger (not None, not out of range).
func (t ReactionTrigger) Valid() bool {
	return t > TriggerNone && t < TriggerCount
}

// ParseReactionTrigger maps a trigger name to its value.
func ParseReactionTrigger(s string) (ReactionTrigger, error) {
	for i, name := range triggerNames {
		if name == s {
			return ReactionTrigger(i), nil
		}
	}
	return TriggerNone, fmt.Errorf("unknown reaction trigger %q", s)
}

// AllTriggers returns every valid trigger in declaration order.
func AllTriggers() []ReactionTrigger {
	out := make([]ReactionTrigger, 0, int(TriggerCount)-1)
	for t := TriggerNone + 1; t < TriggerCount; t++ {
		out = append(out, t)
	}
	return out
}

// MarshalText implements encoding.TextMarshaler.
func (t ReactionTrigger) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ReactionTrigger) UnmarshalText(text []byte) error {
	v, err := ParseReactionTrigger(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
