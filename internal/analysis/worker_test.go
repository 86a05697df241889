package analysis

import (
	"context"
	"path/filepath"
	"testing"

	"carina/internal/config"
	"carina/internal/eventstore"
	"carina/internal/model"

	"github.com/stretchr/testify/require"
)

type fakeEventSink struct {
	packets []eventstore.Packet
}

func (f *fakeEventSink) Send(_ context.Context, pkt eventstore.Packet) error {
	f.packets = append(f.packets, pkt)
	return nil
}

func TestWorkerRunsPipelineAndWritesArtifactsOnTrigger(t *testing.T) {
	netPath := writeAnalysisNet(t)
	resultsDir := t.TempDir()
	events := &fakeEventSink{}

	cfg := config.InfrastructureAnalysisSection{
		InitialAnalysisDelaySeconds:   0,
		AnalysisFrequencySeconds:      0,
		MinVolumePrimary:              500,
		MinVolumeSecondary:            150,
		UnacceptableDelaySeconds:      90,
		ConflictEventsThreshold:       10,
		RemovalThresholdPercent:       60,
		SignificantChangeThresholdPct: 5,
		CalibrationMinSamples:         100,
	}
	w := NewWorker(cfg, resultsDir, events, NewPNGRenderer(), nil)

	snap := model.StepSnapshot{
		NetFilePath: netPath,
		SimTime:     10,
		StepLength:  1,
		LaneWaitingTimes: map[string]float64{
			"e_major_J1_0": 5,
		},
		LaneVehicleIDs: map[string][]string{
			"e_major_J1_0": {"v1"},
		},
		JunctionPositions: map[string]model.JunctionPosition{
			"J1": {X: 0, Y: 0},
			"J2": {X: 500, Y: 500},
		},
	}
	require.NoError(t, w.Ingest(snap))
	require.NoError(t, w.MaybeRun(context.Background(), 1, "downtown", snap))

	analysisDir := filepath.Join(resultsDir, "downtown", "infrastructure_analysis")
	require.FileExists(t, filepath.Join(analysisDir, "analysis_status.json"))
	require.FileExists(t, filepath.Join(analysisDir, "analysis_cache.json"))
	require.FileExists(t, filepath.Join(analysisDir, "map_planning.png"))

	require.Len(t, events.packets, 1)
	require.Equal(t, eventstore.TypeLogReport, events.packets[0].Type)

	// Reset: the accumulator's totals are cleared after the run.
	require.Empty(t, w.acc.DepartedPerLane())
}
