// Package analysis implements the Analysis Worker (C4): a long-window
// accumulator with a triggered reporter that derives engineering-warrant
// recommendations per junction, writes human- and machine-readable
// artifacts, enqueues a summary to the Event Store, renders a planning
// map, and conditionally recalibrates the Heatmap Telemetry Worker's
// congestion weights from the same window's samples.
package analysis

import (
	"math"
	"sync"

	"carina/internal/model"
	"carina/internal/netfile"
)

// conflictAssignmentRadiusMeters bounds how far an emergency-stop event may
// be from a junction's position and still count against it.
const conflictAssignmentRadiusMeters = 200.0

// CalibrationPoint is one edge's one-step sample for the heatmap-weight
// recalibration fit in step 8.
type CalibrationPoint struct {
	Occupancy   float64 `json:"occupancy"`
	WaitingTime float64 `json:"waiting_time"`
	Flow        float64 `json:"flow"`
	BadEvents   float64 `json:"bad_events"`
}

// Accumulator collects per-lane, per-junction, and per-edge figures across
// the long window between triggered analysis runs. Unlike the totals and
// calibration samples, the lane→edge resolution and the live vehicle-set
// history survive a Reset: they describe the static network and the
// continuous per-lane occupancy state, not the accumulation window.
type Accumulator struct {
	mu sync.Mutex

	netFilePath string
	resolved    bool
	edgeLanes   map[string][]string
	prevLaneVeh map[string]map[string]struct{}

	departedPerLane     map[string]int
	waitingPerLane      map[string]float64
	conflictPerJunction map[string]int
	calibration         []CalibrationPoint
	junctionPositions   map[string]model.JunctionPosition

	simTime float64
}

// NewAccumulator constructs an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		prevLaneVeh:         make(map[string]map[string]struct{}),
		departedPerLane:     make(map[string]int),
		waitingPerLane:      make(map[string]float64),
		conflictPerJunction: make(map[string]int),
		junctionPositions:   make(map[string]model.JunctionPosition),
	}
}

func (a *Accumulator) resolve(netFilePath string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.resolved && a.netFilePath == netFilePath {
		return nil
	}
	laneToEdge, err := netfile.BuildLaneToEdgeMap(netFilePath)
	if err != nil {
		return err
	}
	edgeLanes := make(map[string][]string)
	for lane, edge := range laneToEdge {
		edgeLanes[edge] = append(edgeLanes[edge], lane)
	}
	a.netFilePath = netFilePath
	a.edgeLanes = edgeLanes
	a.resolved = true
	return nil
}

// Ingest folds one step's snapshot into the accumulator: per-lane departed
// vehicle counts and waiting time, conflict-event attribution to the
// nearest junction within 200m, and one rolling calibration sample per
// edge.
func (a *Accumulator) Ingest(snap model.StepSnapshot) error {
	if err := a.resolve(snap.NetFilePath); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.simTime = snap.SimTime
	for jID, pos := range snap.JunctionPositions {
		a.junctionPositions[jID] = pos
	}

	departedThisStep := make(map[string]int, len(snap.LaneVehicleIDs))
	nextPrev := make(map[string]map[string]struct{}, len(snap.LaneVehicleIDs))
	for lane, ids := range snap.LaneVehicleIDs {
		current := toSet(ids)
		nextPrev[lane] = current

		departed := 0
		for id := range a.prevLaneVeh[lane] {
			if _, stillThere := current[id]; !stillThere {
				departed++
			}
		}
		departedThisStep[lane] = departed
		a.departedPerLane[lane] += departed
		a.waitingPerLane[lane] += snap.LaneWaitingTimes[lane]
	}
	a.prevLaneVeh = nextPrev

	a.attributeConflicts(snap)
	a.sampleCalibration(snap, departedThisStep)
	return nil
}

// attributeConflicts assigns each emergency-stop position to its single
// nearest junction (closest-junction assignment); a stop more than
// conflictAssignmentRadiusMeters from every junction is not counted.
func (a *Accumulator) attributeConflicts(snap model.StepSnapshot) {
	if len(snap.JunctionPositions) == 0 {
		return
	}
	for _, stop := range snap.EmergencyStopPositions {
		nearest := ""
		nearestDist := math.Inf(1)
		for jID, pos := range snap.JunctionPositions {
			d := distance(stop[0], stop[1], pos.X, pos.Y)
			if d < nearestDist {
				nearestDist = d
				nearest = jID
			}
		}
		if nearest != "" && nearestDist <= conflictAssignmentRadiusMeters {
			a.conflictPerJunction[nearest]++
		}
	}
}

func distance(x1, y1, x2, y2 float64) float64 {
	dx, dy := x1-x2, y1-y2
	return math.Sqrt(dx*dx + dy*dy)
}

// sampleCalibration appends one calibration point per edge for this step:
// max lane occupancy, summed lane waiting time, flow derived from this
// step's departed-vehicle count, and badEvents shared across every edge's
// row for the step (it is a step-wide count, not an edge-local one).
func (a *Accumulator) sampleCalibration(snap model.StepSnapshot, departedThisStep map[string]int) {
	stepLength := snap.StepLength
	if stepLength <= 0 {
		stepLength = 1
	}
	badEvents := float64(snap.EmergencyStopCount + snap.StartingTeleports)

	for _, lanes := range a.edgeLanes {
		var occMax, waitSum float64
		departed := 0
		for _, lane := range lanes {
			if occ := snap.LaneOccupancies[lane]; occ > occMax {
				occMax = occ
			}
			waitSum += snap.LaneWaitingTimes[lane]
			departed += departedThisStep[lane]
		}
		flow := float64(departed) * (60.0 / stepLength)
		a.calibration = append(a.calibration, CalibrationPoint{
			Occupancy:   occMax,
			WaitingTime: waitSum,
			Flow:        flow,
			BadEvents:   badEvents,
		})
	}
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

// DepartedPerLane returns a copy of the accumulated per-lane departed
// vehicle totals since the last Reset.
func (a *Accumulator) DepartedPerLane() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int, len(a.departedPerLane))
	for k, v := range a.departedPerLane {
		out[k] = v
	}
	return out
}

// WaitingPerLane returns a copy of the accumulated per-lane waiting-time
// totals since the last Reset.
func (a *Accumulator) WaitingPerLane() map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]float64, len(a.waitingPerLane))
	for k, v := range a.waitingPerLane {
		out[k] = v
	}
	return out
}

// ConflictPerJunction returns a copy of the accumulated per-junction
// conflict-event counts since the last Reset.
func (a *Accumulator) ConflictPerJunction() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int, len(a.conflictPerJunction))
	for k, v := range a.conflictPerJunction {
		out[k] = v
	}
	return out
}

// CalibrationData returns a copy of the rolling per-edge calibration
// samples accumulated since the last Reset.
func (a *Accumulator) CalibrationData() []CalibrationPoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]CalibrationPoint(nil), a.calibration...)
}

// JunctionPositions returns a copy of the most recently observed junction
// coordinates, used by the planning-map renderer.
func (a *Accumulator) JunctionPositions() map[string]model.JunctionPosition {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]model.JunctionPosition, len(a.junctionPositions))
	for k, v := range a.junctionPositions {
		out[k] = v
	}
	return out
}

// SimTime returns the most recently ingested step's simulation time.
func (a *Accumulator) SimTime() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.simTime
}

// Reset clears the accumulated totals and calibration samples after a
// report, per §4.6's reset rule. The lane→edge resolution and live
// per-lane vehicle sets are left untouched: they track continuous
// per-vehicle state, not the reporting window.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.departedPerLane = make(map[string]int)
	a.waitingPerLane = make(map[string]float64)
	a.conflictPerJunction = make(map[string]int)
	a.calibration = nil
}
