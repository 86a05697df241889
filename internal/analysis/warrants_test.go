package analysis

import (
	"testing"

	"carina/internal/config"

	"github.com/stretchr/testify/require"
)

func sampleParams() config.InfrastructureAnalysisSection {
	return config.InfrastructureAnalysisSection{
		MinVolumePrimary:              500,
		MinVolumeSecondary:            150,
		UnacceptableDelaySeconds:      90,
		ConflictEventsThreshold:       10,
		RemovalThresholdPercent:       60,
		SignificantChangeThresholdPct: 5,
	}
}

func TestEvaluateWarrantsRecommendsAddForUnsignalizedJunctionMeetingAWarrant(t *testing.T) {
	m := JunctionMetrics{Volume: 600, VolSecondary: 200, AvgDelay: 10, ConflictEvents: 0, Type: "priority"}
	result := EvaluateWarrants(m, sampleParams())

	require.Equal(t, RecommendAdd, result.Recommendation)
	require.Equal(t, "unsignalized", result.CurrentStatus)
	require.True(t, result.Warrants.Volume)
	require.NotEmpty(t, result.Justification)
}

func TestEvaluateWarrantsRecommendsKeepForUnsignalizedJunctionMeetingNoWarrant(t *testing.T) {
	m := JunctionMetrics{Volume: 10, VolSecondary: 5, AvgDelay: 5, ConflictEvents: 0, Type: "priority"}
	result := EvaluateWarrants(m, sampleParams())

	require.Equal(t, RecommendKeep, result.Recommendation)
	require.False(t, result.Warrants.Volume)
	require.False(t, result.Warrants.Delay)
	require.False(t, result.Warrants.Safety)
}

func TestEvaluateWarrantsRecommendsRemoveForUnderusedSignalizedJunction(t *testing.T) {
	m := JunctionMetrics{Volume: 50, VolSecondary: 5, AvgDelay: 5, ConflictEvents: 0, Type: TrafficLightJunctionType}
	result := EvaluateWarrants(m, sampleParams())

	require.Equal(t, RecommendRemove, result.Recommendation)
	require.Equal(t, "signalized", result.CurrentStatus)
}

func TestEvaluateWarrantsRecommendsKeepForBusySignalizedJunction(t *testing.T) {
	m := JunctionMetrics{Volume: 800, VolSecondary: 300, AvgDelay: 100, ConflictEvents: 20, Type: TrafficLightJunctionType}
	result := EvaluateWarrants(m, sampleParams())

	require.Equal(t, RecommendKeep, result.Recommendation)
	require.True(t, result.Warrants.Delay)
	require.True(t, result.Warrants.Safety)
}
