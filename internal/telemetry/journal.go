// Package telemetry persists the behavior system's telemetry events (behavior
// starts and stops, reactions, spark outcomes) so runs can be inspected after
// the fact.
package telemetry

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/nvandessel/cozmo-brain/internal/events"
)

// Entry is one journaled event.
type Entry struct {
	ID     string         `json:"id"`
	Time   time.Time      `json:"time"`
	Tag    events.Tag     `json:"tag"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Filter narrows a Query. Zero values match everything.
type Filter struct {
	Tags  []events.Tag
	Since time.Time
	// Limit keeps the most recent entries; 0 means no limit.
	Limit int
}

func (f Filter) match(e Entry) bool {
	if len(f.Tags) > 0 && !slices.Contains(f.Tags, e.Tag) {
		return false
	}
	return f.Since.IsZero() || !e.Time.Before(f.Since)
}

// Journal stores entries in append order.
type Journal interface {
	Append(ctx context.Context, e Entry) error
	// Query returns matching entries, oldest first.
	Query(ctx context.Context, f Filter) ([]Entry, error)
	Close() error
}

// DefaultTags are the events a Recorder journals unless told otherwise.
var DefaultTags = []events.Tag{
	events.TagBehaviorStarted,
	events.TagBehaviorStopped,
	events.TagReactionTriggered,
	events.TagBehaviorObjectiveAchieved,
	events.TagSparkEnded,
	events.TagHardSparkEnded,
	events.TagBuildPyramidPrereqsChanged,
	events.TagRequestSpark,
	events.TagCancelSpark,
}

// EntryFromEvent flattens a bus event into a journal entry.
func EntryFromEvent(ev events.Event) Entry {
	return Entry{
		ID:     ev.ID,
		Time:   ev.Time,
		Tag:    ev.Tag,
		Fields: events.PayloadFields(ev.Payload),
	}
}

// Recorder copies bus events into a journal.
type Recorder struct {
	journal Journal
	log     *slog.Logger
	unsub   []func()
	failed  int
}

// Attach subscribes a recorder for tags (DefaultTags when empty). Call
// Detach to stop recording.
func Attach(bus *events.Bus, j Journal, logger *slog.Logger, tags ...events.Tag) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if len(tags) == 0 {
		tags = DefaultTags
	}
	r := &Recorder{journal: j, log: logger.With("component", "telemetry")}
	for _, tag := range tags {
		r.unsub = append(r.unsub, bus.Subscribe(tag, r.record))
	}
	return r
}

func (r *Recorder) record(ev events.Event) {
	if err := r.journal.Append(context.Background(), EntryFromEvent(ev)); err != nil {
		r.failed++
		r.log.Warn("failed to journal event", "tag", ev.Tag, "error", err)
	}
}

// Failed returns the number of events that could not be journaled.
func (r *Recorder) Failed() int { return r.failed }

// Detach drops the subscriptions. The journal stays open.
func (r *Recorder) Detach() {
	for _, u := range r.unsub {
		u()
	}
	r.unsub = nil
}
