package telemetry

import (
	"cmp"
	"maps"
	"slices"

	"github.com/nvandessel/cozmo-brain/internal/events"
)

// BehaviorStats aggregates the starts and stops of one behavior.
type BehaviorStats struct {
	Behavior    string  `json:"behavior"`
	Starts      int     `json:"starts"`
	Resumes     int     `json:"resumes"`
	Interrupted int     `json:"interrupted"`
	RanForSec   float64 `json:"ran_for_sec"`
}

// Summary is a digest of journal entries.
type Summary struct {
	Entries   int                `json:"entries"`
	Behaviors []BehaviorStats    `json:"behaviors,omitempty"`
	Reactions map[string]int     `json:"reactions,omitempty"`
	Sparks    map[string]int     `json:"spark_outcomes,omitempty"`
	ByTag     map[events.Tag]int `json:"by_tag"`
}

// Summarize digests entries. Behaviors are sorted by total run time, longest
// first.
func Summarize(entries []Entry) Summary {
	sum := Summary{
		Entries:   len(entries),
		Reactions: map[string]int{},
		Sparks:    map[string]int{},
		ByTag:     map[events.Tag]int{},
	}
	stats := map[string]*BehaviorStats{}
	get := func(id string) *BehaviorStats {
		if stats[id] == nil {
			stats[id] = &BehaviorStats{Behavior: id}
		}
		return stats[id]
	}

	for _, e := range entries {
		sum.ByTag[e.Tag]++
		switch e.Tag {
		case events.TagBehaviorStarted:
			st := get(str(e.Fields["behavior"]))
			st.Starts++
			if e.Fields["resumed"] == true {
				st.Resumes++
			}
		case events.TagBehaviorStopped:
			st := get(str(e.Fields["behavior"]))
			if sec, ok := e.Fields["ran_for_sec"].(float64); ok {
				st.RanForSec += sec
			}
			if e.Fields["interrupted"] == true {
				st.Interrupted++
			}
		case events.TagReactionTriggered:
			sum.Reactions[str(e.Fields["trigger"])]++
		case events.TagSparkEnded:
			sum.Sparks[str(e.Fields["outcome"])]++
		}
	}

	for _, id := range slices.Sorted(maps.Keys(stats)) {
		sum.Behaviors = append(sum.Behaviors, *stats[id])
	}
	slices.SortStableFunc(sum.Behaviors, func(a, b BehaviorStats) int {
		return cmp.Compare(b.RanForSec, a.RanForSec)
	})
	return sum
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
