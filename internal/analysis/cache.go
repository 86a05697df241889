package analysis

import (
	"fmt"
	"math"
	"strings"
)

// Cache is the on-disk record of the prior analysis run's per-junction
// metrics, compared against on the next run to detect drift.
type Cache struct {
	LastAnalysisTimestamp string                     `json:"last_analysis_timestamp"`
	JunctionMetrics       map[string]JunctionMetrics `json:"junction_metrics"`
}

// trackedChangeMetrics are the metrics step 4 checks for drift; conflict
// events are included because a junction can cross the safety warrant
// without its volume or delay moving much.
var trackedChangeMetrics = []string{"volume", "avg_delay", "conflict_events"}

// CompareWithCache implements step 4: a junction is "changed" if any
// tracked metric drifted from its cached value by more than thresholdPct;
// the overall change flag is the disjunction across every junction. An
// empty prior cache (first run for this scenario) always reports change.
func CompareWithCache(current, prior map[string]JunctionMetrics, thresholdPct float64) (changed bool, summary string) {
	if len(prior) == 0 {
		return true, "first analysis run for this scenario"
	}

	var notes []string
	for jID, cur := range current {
		old, ok := prior[jID]
		if !ok {
			notes = append(notes, fmt.Sprintf("%s is new", jID))
			changed = true
			continue
		}
		for _, metric := range trackedChangeMetrics {
			oldVal, newVal := metricValue(old, metric), metricValue(cur, metric)
			if oldVal <= 0 {
				continue
			}
			pct := math.Abs(newVal-oldVal) / oldVal * 100
			if pct > thresholdPct {
				changed = true
				notes = append(notes, fmt.Sprintf("%s.%s changed %.1f%%", jID, metric, pct))
			}
		}
	}

	if changed {
		return true, strings.Join(notes, ", ")
	}
	return false, "no significant change since last analysis"
}

func metricValue(m JunctionMetrics, metric string) float64 {
	switch metric {
	case "volume":
		return float64(m.Volume)
	case "avg_delay":
		return m.AvgDelay
	case "conflict_events":
		return float64(m.ConflictEvents)
	default:
		return 0
	}
}
