package heatmap

import (
	"os"
	"path/filepath"
	"testing"

	"carina/internal/config"
	"carina/internal/model"

	"github.com/stretchr/testify/require"
)

const sampleNet = `<?xml version="1.0"?>
<net>
  <edge id="e1" from="A" to="B">
    <lane id="e1_0"/>
    <lane id="e1_1"/>
  </edge>
</net>`

func writeNetFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.net.xml")
	require.NoError(t, os.WriteFile(path, []byte(sampleNet), 0o644))
	return path
}

func TestPanelStatePrecedence(t *testing.T) {
	require.Equal(t, "YELLOW", PanelState("GGGyrr"))
	require.Equal(t, "YELLOW", PanelState("GGGsrr"))
	require.Equal(t, "GREEN", PanelState("rrGGG"))
	require.Equal(t, "RED", PanelState("rrrr"))
	require.Equal(t, "RED", PanelState("oooo"))
}

func TestProcessAggregatesMaxOccupancyByDefault(t *testing.T) {
	netPath := writeNetFile(t)
	p := NewProcessor(config.HeatmapScalingSection{
		WeightOccupancy:     1.0,
		WeightWaitingTime:   1.0,
		WeightFlow:          1.0,
		AggregationStrategy: "max",
	})

	snap := model.StepSnapshot{
		NetFilePath: netPath,
		StepLength:  1.0,
		LaneOccupancies: map[string]float64{
			"e1_0": 0.2,
			"e1_1": 0.8,
		},
		LaneWaitingTimes: map[string]float64{"e1_0": 3, "e1_1": 5},
		LaneVehicleIDs: map[string][]string{
			"e1_0": {"v1"},
			"e1_1": {"v2", "v3"},
		},
		TLSLanesState: map[string]string{"J1": "GGgrr"},
	}

	update, err := p.Process(snap)
	require.NoError(t, err)
	require.Len(t, update.Edges, 1)
	e := update.Edges[0]
	require.Equal(t, "e1", e.EdgeID)
	require.InDelta(t, 0.8*100+8, e.CongestionIdx, 0.001) // max occ=0.8 -> 80, waiting sum=8, no departures yet
	require.Equal(t, 3, e.VehicleCount)
	require.Len(t, update.Panels, 1)
	require.Equal(t, "GREEN", update.Panels[0].State)
}

func TestProcessCountsDepartedVehiclesAcrossSteps(t *testing.T) {
	netPath := writeNetFile(t)
	p := NewProcessor(config.HeatmapScalingSection{WeightFlow: 1.0, AggregationStrategy: "max"})

	first := model.StepSnapshot{
		NetFilePath:      netPath,
		StepLength:       1.0,
		LaneOccupancies:  map[string]float64{"e1_0": 0.1},
		LaneWaitingTimes: map[string]float64{},
		LaneVehicleIDs:   map[string][]string{"e1_0": {"v1", "v2"}},
	}
	_, err := p.Process(first)
	require.NoError(t, err)

	second := model.StepSnapshot{
		NetFilePath:      netPath,
		StepLength:       1.0,
		LaneOccupancies:  map[string]float64{"e1_0": 0.1},
		LaneWaitingTimes: map[string]float64{},
		LaneVehicleIDs:   map[string][]string{"e1_0": {"v2"}}, // v1 departed
	}
	update, err := p.Process(second)
	require.NoError(t, err)
	require.InDelta(t, 60.0, update.Edges[0].FlowPerMinute, 0.001) // 1 departure * 60/1
}

func TestSetWeightsAppliesToSubsequentSteps(t *testing.T) {
	netPath := writeNetFile(t)
	p := NewProcessor(config.HeatmapScalingSection{WeightOccupancy: 1.0, AggregationStrategy: "max"})
	p.SetWeights(config.HeatmapScalingSection{WeightOccupancy: 2.0, AggregationStrategy: "max"})

	snap := model.StepSnapshot{
		NetFilePath:     netPath,
		StepLength:      1.0,
		LaneOccupancies: map[string]float64{"e1_0": 0.5},
	}
	update, err := p.Process(snap)
	require.NoError(t, err)
	require.InDelta(t, 100.0, update.Edges[0].CongestionIdx, 0.001) // 2.0 * 0.5 * 100
}
