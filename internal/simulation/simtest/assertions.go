// Package simtest holds test assertions over simulation results.
package simtest

import (
	"testing"

	"github.com/nvandessel/cozmo-brain/internal/events"
	"github.com/nvandessel/cozmo-brain/internal/models"
	"github.com/nvandessel/cozmo-brain/internal/simulation"
)

// AssertPassed fails the test with the run's failures and timeline if any
// expectation did not hold.
func AssertPassed(t testing.TB, result *simulation.Result) {
	t.Helper()
	if result.Passed() {
		return
	}
	t.Errorf("AssertPassed: scenario %s failed:\n%s\ntimeline:\n%s", result.Scenario, result.FormatFailures(), result.FormatTimeline())
}

// AssertRanBefore asserts that first started before second did.
func AssertRanBefore(t testing.TB, result *simulation.Result, first, second models.BehaviorID) {
	t.Helper()
	a, b := firstStart(result, first), firstStart(result, second)
	switch {
	case a < 0:
		t.Errorf("AssertRanBefore: %s never ran", first)
	case b < 0:
		t.Errorf("AssertRanBefore: %s never ran", second)
	case a > b:
		t.Errorf("AssertRanBefore: %s started at %.2fs, after %s at %.2fs", first, a, second, b)
	}
}

// AssertEvent asserts that an event with tag was journaled and that its
// fields include every key in want with an equal value. It returns the first
// match.
func AssertEvent(t testing.TB, result *simulation.Result, tag events.Tag, want map[string]any) (simulation.TimelineEntry, bool) {
	t.Helper()
	for _, e := range result.Entries(tag) {
		if fieldsMatch(e.Fields, want) {
			return e, true
		}
	}
	t.Errorf("AssertEvent: no %s event with %v in timeline:\n%s", tag, want, result.FormatTimeline())
	return simulation.TimelineEntry{}, false
}

// AssertNoEvent asserts that no event with tag was journaled.
func AssertNoEvent(t testing.TB, result *simulation.Result, tag events.Tag) {
	t.Helper()
	if n := len(result.Entries(tag)); n > 0 {
		t.Errorf("AssertNoEvent: %d %s event(s) in timeline", n, tag)
	}
}

func firstStart(result *simulation.Result, id models.BehaviorID) float64 {
	for _, e := range result.Entries(events.TagBehaviorStarted) {
		if e.Fields["behavior"] == string(id) {
			return e.AtSec
		}
	}
	return -1
}

func fieldsMatch(got, want map[string]any) bool {
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}
