// Package mcp provides an MCP (Model Context Protocol) server for a running
// brain.
package mcp

import (
	"time"

	"github.com/nvandessel/cozmo-brain/internal/assembly"
	"github.com/nvandessel/cozmo-brain/internal/events"
	"github.com/nvandessel/cozmo-brain/internal/scheduler"
	"github.com/nvandessel/cozmo-brain/internal/telemetry"
)

// BrainStatusInput defines the input for brain_status tool.
type BrainStatusInput struct{}

// BrainStatusOutput defines the output for brain_status tool.
type BrainStatusOutput struct {
	Status  StatusView `json:"status" jsonschema:"Scheduler state as of the last tick"`
	Summary string     `json:"summary" jsonschema:"One-line human-readable summary"`
}

// StatusView is a scheduler snapshot with triggers spelled out by name.
type StatusView struct {
	Tick               uint64    `json:"tick"`
	Time               time.Time `json:"time"`
	Chooser            string    `json:"chooser,omitempty"`
	Behavior           string    `json:"behavior,omitempty"`
	BehaviorRunningSec float64   `json:"behavior_running_sec,omitempty"`
	Trigger            string    `json:"trigger"`
	ResumeCandidate    string    `json:"resume_candidate,omitempty"`
	ActiveSpark        string    `json:"active_spark,omitempty"`
	RequestedSpark     string    `json:"requested_spark,omitempty"`
	RequestedSparkSoft bool      `json:"requested_spark_soft,omitempty"`
	DisabledTriggers   []string  `json:"disabled_triggers,omitempty"`
}

func newStatusView(s scheduler.Snapshot) StatusView {
	v := StatusView{
		Tick:               s.Tick,
		Time:               s.Time,
		Chooser:            s.Chooser,
		Behavior:           string(s.Behavior),
		BehaviorRunningSec: s.BehaviorRunningSec,
		Trigger:            s.Trigger.String(),
		ResumeCandidate:    string(s.ResumeCandidate),
		ActiveSpark:        string(s.ActiveSpark),
		RequestedSpark:     string(s.RequestedSpark),
		RequestedSparkSoft: s.RequestedSparkSoft,
	}
	for _, t := range s.DisabledTriggers {
		v.DisabledTriggers = append(v.DisabledTriggers, t.String())
	}
	return v
}

// PublishEventInput defines the input for brain_publish_event tool.
type PublishEventInput struct {
	Tag    string         `json:"tag" jsonschema:"Event tag, e.g. CliffEvent, RobotOffTreadsStateChanged, VoiceCommand"`
	Fields map[string]any `json:"fields,omitempty" jsonschema:"Event payload fields, e.g. detected: true for CliffEvent"`
}

// PublishEventOutput defines the output for brain_publish_event tool.
type PublishEventOutput struct {
	Tag     events.Tag `json:"tag" jsonschema:"Event tag that was published"`
	ID      string     `json:"id,omitempty" jsonschema:"Bus event ID, empty when the event came from a robot state change"`
	Message string     `json:"message" jsonschema:"Human-readable result message"`
}

// RequestSparkInput defines the input for brain_request_spark tool.
type RequestSparkInput struct {
	Spark  string `json:"spark,omitempty" jsonschema:"Unlock ID of the spark to start, e.g. Trick"`
	Soft   bool   `json:"soft,omitempty" jsonschema:"Request a soft spark (default: hard)"`
	Cancel bool   `json:"cancel,omitempty" jsonschema:"Cancel the requested spark instead of starting one"`
}

// RequestSparkOutput defines the output for brain_request_spark tool.
type RequestSparkOutput struct {
	Message string `json:"message" jsonschema:"Human-readable result message"`
}

// TriggersInput defines the input for brain_triggers tool.
type TriggersInput struct{}

// TriggersOutput defines the output for brain_triggers tool.
type TriggersOutput struct {
	Triggers []assembly.TriggerInfo `json:"triggers" jsonschema:"Loaded reaction triggers in priority order"`
	Count    int                    `json:"count" jsonschema:"Number of triggers"`
}

// HistoryInput defines the input for brain_history tool.
type HistoryInput struct {
	Tags     []string `json:"tags,omitempty" jsonschema:"Only return these event tags (default: all journaled tags)"`
	SinceSec float64  `json:"since_sec,omitempty" jsonschema:"Only return events from the last N seconds"`
	Limit    int      `json:"limit,omitempty" jsonschema:"Maximum number of entries, most recent kept (default: 50, max: 500)"`
}

// HistoryOutput defines the output for brain_history tool.
type HistoryOutput struct {
	Entries []telemetry.Entry `json:"entries" jsonschema:"Journaled events, oldest first"`
	Summary telemetry.Summary `json:"summary" jsonschema:"Digest of the returned entries"`
	Count   int               `json:"count" jsonschema:"Number of entries"`
}
