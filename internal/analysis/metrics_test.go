package analysis

import (
	"testing"

	"carina/internal/config"
	"carina/internal/netfile"

	"github.com/stretchr/testify/require"
)

func TestShouldAnalyzeHonorsDelayAndFrequency(t *testing.T) {
	cfg := config.InfrastructureAnalysisSection{
		InitialAnalysisDelaySeconds: 100,
		AnalysisFrequencySeconds:    50,
	}
	require.False(t, ShouldAnalyze(99, 0, cfg))  // before initial delay
	require.True(t, ShouldAnalyze(100, 0, cfg))  // delay satisfied, never run before
	require.False(t, ShouldAnalyze(120, 100, cfg)) // only 20s since last run
	require.True(t, ShouldAnalyze(150, 100, cfg))  // 50s since last run
}

func TestDeriveJunctionMetricsSplitsPrimaryAndSecondaryByLaneCount(t *testing.T) {
	topo := netfile.JunctionTopology{
		Types: map[string]string{"J1": "traffic_light"},
		IncomingEdges: map[string]map[string]netfile.IncomingEdge{
			"J1": {
				"major": {Lanes: []string{"major_0", "major_1"}, NumLanes: 2},
				"minor": {Lanes: []string{"minor_0"}, NumLanes: 1},
			},
		},
	}
	departed := map[string]int{"major_0": 100, "major_1": 100, "minor_0": 20}
	waiting := map[string]float64{"minor_0": 200}
	conflicts := map[string]int{"J1": 3}

	metrics := DeriveJunctionMetrics(topo, departed, waiting, conflicts, 3600)

	m := metrics["J1"]
	require.Equal(t, 200, m.Volume)       // primary: major_0+major_1
	require.Equal(t, 20, m.VolSecondary)  // secondary: minor_0
	require.Equal(t, 10.0, m.AvgDelay)    // 200 / 20
	require.Equal(t, 3, m.ConflictEvents)
	require.Equal(t, "traffic_light", m.Type)
}

func TestDeriveJunctionMetricsSkipsJunctionsWithoutIncomingEdges(t *testing.T) {
	topo := netfile.JunctionTopology{
		Types:         map[string]string{"J1": "traffic_light"},
		IncomingEdges: map[string]map[string]netfile.IncomingEdge{"J1": {}},
	}
	metrics := DeriveJunctionMetrics(topo, nil, nil, nil, 3600)
	require.Empty(t, metrics)
}
