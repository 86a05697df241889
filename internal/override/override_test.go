package override

import (
	"context"
	"path/filepath"
	"testing"

	"carina/internal/atomicfile"
	"carina/internal/simproxy"

	"github.com/stretchr/testify/require"
)

type fakeSim struct {
	ids      []string
	lanes    map[string]int
	forced   map[string]string
}

func newFakeSim() *fakeSim {
	return &fakeSim{
		ids:    []string{"J1", "J2"},
		lanes:  map[string]int{"J1": 4, "J2": 2},
		forced: make(map[string]string),
	}
}

func (f *fakeSim) TrafficLightIDs(ctx context.Context) ([]string, error) { return f.ids, nil }
func (f *fakeSim) ControlledLaneCount(ctx context.Context, id string) (int, error) {
	return f.lanes[id], nil
}
func (f *fakeSim) SetRedYellowGreenState(ctx context.Context, id, state string) error {
	f.forced[id] = state
	return nil
}

func TestApplyAlertForcesAllYellow(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, nil)
	require.NoError(t, err)
	sim := newFakeSim()

	require.NoError(t, m.Apply(context.Background(), sim, "J1", "ALERT"))
	require.Equal(t, "yyyy", sim.forced["J1"])
	require.Equal(t, map[string]string{"J1": "ALERT"}, m.Snapshot())
}

func TestApplyNormalRemovesOverride(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, nil)
	require.NoError(t, err)
	sim := newFakeSim()

	require.NoError(t, m.Apply(context.Background(), sim, "J1", "ALERT"))
	require.NoError(t, m.Apply(context.Background(), sim, "J1", "NORMAL"))
	require.Empty(t, m.Snapshot())
}

func TestApplySameOverrideTwiceIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, nil)
	require.NoError(t, err)
	sim := newFakeSim()

	require.NoError(t, m.Apply(context.Background(), sim, "J1", "ALERT"))
	require.NoError(t, m.Apply(context.Background(), sim, "J1", "ALERT"))
	require.Equal(t, map[string]string{"J1": "ALERT"}, m.Snapshot())
}

func TestGateDropsPhaseSetOnOverriddenLight(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, nil)
	require.NoError(t, err)
	sim := newFakeSim()
	require.NoError(t, m.Apply(context.Background(), sim, "J1", "ALERT"))

	dropped := m.Gate(simproxy.Request{Module: simproxy.ModuleTrafficLight, Function: "setPhase", Args: []any{"J1", 2}})
	require.True(t, dropped)

	allowed := m.Gate(simproxy.Request{Module: simproxy.ModuleTrafficLight, Function: "setPhase", Args: []any{"J2", 2}})
	require.False(t, allowed)
}

func TestRestoreToSimulatorPrunesMissingLight(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, atomicfile.WriteJSON(filepath.Join(dir, "override_state.json"), map[string]string{
		"J1":     "ALERT",
		"GHOST":  "OFF",
	}))
	m, err := NewManager(dir, nil)
	require.NoError(t, err)
	sim := newFakeSim()

	require.NoError(t, m.RestoreToSimulator(context.Background(), sim))
	require.Equal(t, "yyyy", sim.forced["J1"])
	_, stillThere := m.Snapshot()["GHOST"]
	require.False(t, stillThere)
}

func TestOverrideStatePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	sim := newFakeSim()

	m1, err := NewManager(dir, nil)
	require.NoError(t, err)
	require.NoError(t, m1.Apply(context.Background(), sim, "J1", "OFF"))

	m2, err := NewManager(dir, nil)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"J1": "OFF"}, m2.Snapshot())
}
