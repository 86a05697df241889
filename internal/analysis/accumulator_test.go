package analysis

import (
	"os"
	"path/filepath"
	"testing"

	"carina/internal/model"

	"github.com/stretchr/testify/require"
)

const sampleNet = `<?xml version="1.0"?>
<net>
  <junction id="J1" type="traffic_light"/>
  <junction id="J2" type="priority"/>
  <edge id="e_major_J1" from="A" to="J1">
    <lane id="e_major_J1_0"/>
    <lane id="e_major_J1_1"/>
  </edge>
  <edge id="e_minor_J1" from="B" to="J1">
    <lane id="e_minor_J1_0"/>
  </edge>
</net>`

func writeAnalysisNet(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.net.xml")
	require.NoError(t, os.WriteFile(path, []byte(sampleNet), 0o644))
	return path
}

func TestAccumulatorTracksDepartedVehiclesAndWaitingTime(t *testing.T) {
	netPath := writeAnalysisNet(t)
	acc := NewAccumulator()

	require.NoError(t, acc.Ingest(model.StepSnapshot{
		NetFilePath:      netPath,
		StepLength:       1,
		LaneWaitingTimes: map[string]float64{"e_major_J1_0": 2},
		LaneVehicleIDs:   map[string][]string{"e_major_J1_0": {"v1", "v2"}},
	}))
	require.NoError(t, acc.Ingest(model.StepSnapshot{
		NetFilePath:      netPath,
		StepLength:       1,
		LaneWaitingTimes: map[string]float64{"e_major_J1_0": 3},
		LaneVehicleIDs:   map[string][]string{"e_major_J1_0": {"v2"}},
	}))

	departed := acc.DepartedPerLane()
	require.Equal(t, 1, departed["e_major_J1_0"]) // v1 left between step 1 and 2

	waiting := acc.WaitingPerLane()
	require.Equal(t, 5.0, waiting["e_major_J1_0"])
}

func TestAccumulatorAssignsConflictsToNearestJunctionWithinRadius(t *testing.T) {
	netPath := writeAnalysisNet(t)
	acc := NewAccumulator()

	require.NoError(t, acc.Ingest(model.StepSnapshot{
		NetFilePath: netPath,
		StepLength:  1,
		JunctionPositions: map[string]model.JunctionPosition{
			"J1": {X: 0, Y: 0},
			"J2": {X: 1000, Y: 1000},
		},
		EmergencyStopPositions: [][2]float64{
			{50, 50},   // within 200m of J1, far from J2
			{5000, 5000}, // beyond 200m of both
		},
	}))

	conflicts := acc.ConflictPerJunction()
	require.Equal(t, 1, conflicts["J1"])
	require.Equal(t, 0, conflicts["J2"])
}

func TestAccumulatorSamplesOneCalibrationPointPerEdgePerStep(t *testing.T) {
	netPath := writeAnalysisNet(t)
	acc := NewAccumulator()

	require.NoError(t, acc.Ingest(model.StepSnapshot{
		NetFilePath: netPath,
		StepLength:  1,
		LaneOccupancies: map[string]float64{
			"e_major_J1_0": 0.2,
			"e_major_J1_1": 0.9,
			"e_minor_J1_0": 0.1,
		},
		LaneWaitingTimes:        map[string]float64{"e_major_J1_0": 2, "e_minor_J1_0": 1},
		EmergencyStopCount:      1,
		StartingTeleports:       2,
	}))

	points := acc.CalibrationData()
	require.Len(t, points, 2) // e_major_J1, e_minor_J1

	var sawMajor bool
	for _, p := range points {
		if p.Occupancy == 0.9 {
			sawMajor = true
			require.Equal(t, 3.0, p.BadEvents) // 1 emergency stop + 2 teleports
		}
	}
	require.True(t, sawMajor)
}

func TestAccumulatorResetClearsTotalsButKeepsLaneHistory(t *testing.T) {
	netPath := writeAnalysisNet(t)
	acc := NewAccumulator()

	require.NoError(t, acc.Ingest(model.StepSnapshot{
		NetFilePath:      netPath,
		StepLength:       1,
		LaneWaitingTimes: map[string]float64{"e_major_J1_0": 2},
		LaneVehicleIDs:   map[string][]string{"e_major_J1_0": {"v1"}},
	}))
	acc.Reset()

	require.Empty(t, acc.DepartedPerLane())
	require.Empty(t, acc.WaitingPerLane())
	require.Empty(t, acc.CalibrationData())

	// The lane vehicle history survives: v1 departing now is detected,
	// not double-counted as a fresh arrival.
	require.NoError(t, acc.Ingest(model.StepSnapshot{
		NetFilePath:      netPath,
		StepLength:       1,
		LaneWaitingTimes: map[string]float64{},
		LaneVehicleIDs:   map[string][]string{"e_major_J1_0": {}},
	}))
	require.Equal(t, 1, acc.DepartedPerLane()["e_major_J1_0"])
}
