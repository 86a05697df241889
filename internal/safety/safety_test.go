package safety

import (
	"context"
	"testing"

	"carina/internal/model"
	"carina/internal/transport"

	"github.com/stretchr/testify/require"
)

func TestThresholdPolicyVetoesOverCeiling(t *testing.T) {
	policy := ThresholdPolicy{OccupancyCeiling: 0.5}
	snap := model.StepSnapshot{
		LaneOccupancies:    map[string]float64{"a": 0.9, "b": 0.1},
		TLSControlledLanes: map[string][]string{"J1": {"a", "b"}},
	}
	veto, action := policy.Evaluate("J1", snap)
	require.True(t, veto)
	require.Equal(t, 0, action)
}

func TestThresholdPolicyNoVetoUnderCeiling(t *testing.T) {
	policy := ThresholdPolicy{OccupancyCeiling: 0.95}
	snap := model.StepSnapshot{
		LaneOccupancies:    map[string]float64{"a": 0.9},
		TLSControlledLanes: map[string][]string{"J1": {"a"}},
	}
	veto, _ := policy.Evaluate("J1", snap)
	require.False(t, veto)
}

func TestArbiterEmitsOneVetoPerLight(t *testing.T) {
	state := transport.NewQueue[model.StepSnapshot](transport.QueueOptions{Name: "state", Capacity: 4})
	signal := transport.NewQueue[Veto](transport.QueueOptions{Name: "signal", Capacity: 4})
	arb := NewArbiter(state, signal, ThresholdPolicy{OccupancyCeiling: 0.5}, nil)

	ctx := context.Background()
	require.NoError(t, state.Send(ctx, model.StepSnapshot{
		LaneOccupancies:    map[string]float64{"a": 0.9},
		TLSControlledLanes: map[string][]string{"J1": {"a"}, "J2": {"b"}},
	}))

	arb.RunOnce(ctx)

	v, ok := signal.DrainLatest()
	require.True(t, ok)
	require.Equal(t, "J1", v.TargetTL)
	require.Contains(t, arb.inFlight, "J1")
	require.NotContains(t, arb.inFlight, "J2")
}

func TestArbiterClearsInFlightWhenNoLongerVetoed(t *testing.T) {
	state := transport.NewQueue[model.StepSnapshot](transport.QueueOptions{Name: "state", Capacity: 4})
	signal := transport.NewQueue[Veto](transport.QueueOptions{Name: "signal", Capacity: 4})
	arb := NewArbiter(state, signal, ThresholdPolicy{OccupancyCeiling: 0.5}, nil)
	ctx := context.Background()

	require.NoError(t, state.Send(ctx, model.StepSnapshot{
		LaneOccupancies:    map[string]float64{"a": 0.9},
		TLSControlledLanes: map[string][]string{"J1": {"a"}},
	}))
	arb.RunOnce(ctx)
	require.Contains(t, arb.inFlight, "J1")

	require.NoError(t, state.Send(ctx, model.StepSnapshot{
		LaneOccupancies:    map[string]float64{"a": 0.1},
		TLSControlledLanes: map[string][]string{"J1": {"a"}},
	}))
	arb.RunOnce(ctx)
	require.NotContains(t, arb.inFlight, "J1")
}
