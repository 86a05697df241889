package analysis

import (
	"fmt"
	"strings"

	"carina/internal/config"
)

// Recommendation values step 3 may produce for a junction.
const (
	RecommendAdd    = "add"
	RecommendRemove = "remove"
	RecommendKeep   = "keep"
)

// Warrants is the three-category boolean verdict a junction's four
// engineering criteria collapse into: a combined volume warrant (primary
// AND secondary minimums both met), the unacceptable-delay warrant, and
// the conflict-threshold (safety) warrant.
type Warrants struct {
	Volume bool `json:"volume"`
	Delay  bool `json:"delay"`
	Safety bool `json:"safety"`
}

// JunctionData is the observed figures a JunctionResult reports alongside
// its recommendation.
type JunctionData struct {
	VolPrimaryVal   int     `json:"vol_primary_val"`
	VolSecondaryVal int     `json:"vol_secondary_val"`
	AvgDelay        float64 `json:"avg_delay"`
	ConflictEvents  int     `json:"conflict_events"`
}

// JunctionResult is step 3's per-junction output: the warrant verdicts,
// the observed data, and the derived recommendation with justification.
type JunctionResult struct {
	Warrants       Warrants     `json:"warrants"`
	Data           JunctionData `json:"data"`
	Recommendation string       `json:"recommendation"`
	CurrentStatus  string       `json:"current_status"`
	Justification  string       `json:"justification"`
}

// EvaluateWarrants applies the four engineering warrants (minimum primary
// volume, minimum secondary volume, unacceptable delay, conflict
// threshold) to one junction's metrics and derives a recommendation: an
// already-signalized junction with no warrant met and primary volume
// under the removal floor is recommended for removal; an unsignalized
// junction with any warrant met is recommended for addition; everything
// else is recommended to stay as-is.
func EvaluateWarrants(m JunctionMetrics, params config.InfrastructureAnalysisSection) JunctionResult {
	primaryMet := float64(m.Volume) >= params.MinVolumePrimary
	secondaryMet := float64(m.VolSecondary) >= params.MinVolumeSecondary
	delayMet := m.AvgDelay >= params.UnacceptableDelaySeconds
	safetyMet := m.ConflictEvents >= params.ConflictEventsThreshold

	w := Warrants{
		Volume: primaryMet && secondaryMet,
		Delay:  delayMet,
		Safety: safetyMet,
	}
	anyWarrant := w.Volume || w.Delay || w.Safety

	var recommendation, currentStatus, justification string
	if m.Type == TrafficLightJunctionType {
		currentStatus = "signalized"
		removalFloor := params.MinVolumePrimary * params.RemovalThresholdPercent / 100.0
		if !anyWarrant && float64(m.Volume) < removalFloor {
			recommendation = RecommendRemove
			justification = fmt.Sprintf(
				"no warrant is met and primary volume %d vph is below the %.0f%% removal floor (%.0f vph)",
				m.Volume, params.RemovalThresholdPercent, removalFloor)
		} else {
			recommendation = RecommendKeep
			justification = "at least one warrant remains met, or volume exceeds the removal floor"
		}
	} else {
		currentStatus = "unsignalized"
		if anyWarrant {
			recommendation = RecommendAdd
			justification = warrantJustification(w, m, params)
		} else {
			recommendation = RecommendKeep
			justification = "no warrant is met; a signal is not currently justified"
		}
	}

	return JunctionResult{
		Warrants: w,
		Data: JunctionData{
			VolPrimaryVal:   m.Volume,
			VolSecondaryVal: m.VolSecondary,
			AvgDelay:        m.AvgDelay,
			ConflictEvents:  m.ConflictEvents,
		},
		Recommendation: recommendation,
		CurrentStatus:  currentStatus,
		Justification:  justification,
	}
}

func warrantJustification(w Warrants, m JunctionMetrics, params config.InfrastructureAnalysisSection) string {
	var reasons []string
	if w.Volume {
		reasons = append(reasons, fmt.Sprintf(
			"primary volume %d vph and secondary volume %d vph both exceed their minimums (%.0f/%.0f vph)",
			m.Volume, m.VolSecondary, params.MinVolumePrimary, params.MinVolumeSecondary))
	}
	if w.Delay {
		reasons = append(reasons, fmt.Sprintf(
			"secondary-approach average delay %.0fs exceeds the %.0fs threshold",
			m.AvgDelay, params.UnacceptableDelaySeconds))
	}
	if w.Safety {
		reasons = append(reasons, fmt.Sprintf(
			"%d conflict events exceed the threshold of %d",
			m.ConflictEvents, params.ConflictEventsThreshold))
	}
	return strings.Join(reasons, "; ")
}
