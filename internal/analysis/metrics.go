package analysis

import (
	"carina/internal/config"
	"carina/internal/netfile"
)

// ShouldAnalyze implements the trigger condition: the pipeline runs once
// simTime has passed the initial delay and at least one full frequency
// interval has elapsed since the last run.
func ShouldAnalyze(simTime, lastAnalysisTime float64, cfg config.InfrastructureAnalysisSection) bool {
	return simTime >= cfg.InitialAnalysisDelaySeconds &&
		simTime-lastAnalysisTime >= cfg.AnalysisFrequencySeconds
}

// JunctionMetrics is one junction's step-2 derived figures: primary- and
// secondary-road volume (vehicles/hour), secondary-road average delay,
// accumulated conflict events, and the junction's network type.
type JunctionMetrics struct {
	Volume         int     `json:"volume"`
	VolSecondary   int     `json:"vol_secondary"`
	AvgDelay       float64 `json:"avg_delay"`
	ConflictEvents int     `json:"conflict_events"`
	Type           string  `json:"type"`
}

// TrafficLightJunctionType is the net-file junction type attribute marking
// an already-signalized junction.
const TrafficLightJunctionType = "traffic_light"

// DeriveJunctionMetrics implements step 2: for each junction, the incoming
// edge with the most lanes (and any edge tied with it) is the primary
// road; every other incoming edge is secondary. Primary volume counts
// departed vehicles on the primary lanes; secondary volume and average
// delay are computed the same way over the secondary lanes. windowSeconds
// is the accumulation window's duration, used to convert departed-vehicle
// totals to vehicles/hour.
func DeriveJunctionMetrics(
	topo netfile.JunctionTopology,
	departedPerLane map[string]int,
	waitingPerLane map[string]float64,
	conflictPerJunction map[string]int,
	windowSeconds float64,
) map[string]JunctionMetrics {
	hours := windowSeconds / 3600.0
	if hours <= 0 {
		hours = 1
	}

	out := make(map[string]JunctionMetrics, len(topo.IncomingEdges))
	for jID, incoming := range topo.IncomingEdges {
		if len(incoming) == 0 {
			continue
		}
		maxLanes := 0
		for _, e := range incoming {
			if e.NumLanes > maxLanes {
				maxLanes = e.NumLanes
			}
		}

		var primaryLanes, secondaryLanes []string
		for _, e := range incoming {
			if e.NumLanes == maxLanes {
				primaryLanes = append(primaryLanes, e.Lanes...)
			} else {
				secondaryLanes = append(secondaryLanes, e.Lanes...)
			}
		}

		var primaryVehicles, secondaryVehicles int
		var secondaryWait float64
		for _, lane := range primaryLanes {
			primaryVehicles += departedPerLane[lane]
		}
		for _, lane := range secondaryLanes {
			secondaryVehicles += departedPerLane[lane]
			secondaryWait += waitingPerLane[lane]
		}

		var avgDelay float64
		if secondaryVehicles > 0 {
			avgDelay = secondaryWait / float64(secondaryVehicles)
		}

		out[jID] = JunctionMetrics{
			Volume:         int(float64(primaryVehicles) / hours),
			VolSecondary:   int(float64(secondaryVehicles) / hours),
			AvgDelay:       avgDelay,
			ConflictEvents: conflictPerJunction[jID],
			Type:           topo.Types[jID],
		}
	}
	return out
}
