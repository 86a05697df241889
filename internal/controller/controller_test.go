package controller

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"carina/internal/atomicfile"
	"carina/internal/config"
	"carina/internal/model"
	"carina/internal/simproxy"
	"carina/internal/telemetry/logging"
	"carina/internal/transport"

	"github.com/stretchr/testify/require"
)

type fakeSim struct {
	mu           sync.Mutex
	configFile   string
	ids          []string
	lanes        map[string][]string
	programs     map[string]string
	forced       map[string]string
	stepCount    int
	invokeResult any
	invokeErr    error

	laneIDs     []string
	edgeIDs     []string
	junctionIDs []string
}

func newFakeSim() *fakeSim {
	return &fakeSim{
		configFile:  "/scenarios/downtown.sumocfg",
		ids:         []string{"J1", "J2"},
		lanes:       map[string][]string{"J1": {"a", "b"}, "J2": {"c"}},
		programs:    map[string]string{"J1": "0", "J2": "0"},
		forced:      map[string]string{},
		laneIDs:     []string{"a", "b", "c"},
		edgeIDs:     []string{"e1", "e2"},
		junctionIDs: []string{"J1", "J2"},
	}
}

func (f *fakeSim) ConfigurationFile(ctx context.Context) (string, error) { return f.configFile, nil }
func (f *fakeSim) SimulationStep(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stepCount++
	return nil
}
func (f *fakeSim) Invoke(ctx context.Context, req simproxy.Request) (any, error) {
	return f.invokeResult, f.invokeErr
}
func (f *fakeSim) TrafficLightIDs(ctx context.Context) ([]string, error) { return f.ids, nil }
func (f *fakeSim) ControlledLaneCount(ctx context.Context, id string) (int, error) {
	return len(f.lanes[id]), nil
}
func (f *fakeSim) ControlledLanes(ctx context.Context, id string) ([]string, error) {
	return f.lanes[id], nil
}
func (f *fakeSim) SetRedYellowGreenState(ctx context.Context, id, state string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced[id] = state
	return nil
}
func (f *fakeSim) CurrentProgram(ctx context.Context, id string) (string, error) {
	return f.programs[id], nil
}
func (f *fakeSim) SetProgram(ctx context.Context, id, programID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.programs[id] = programID
	return nil
}
func (f *fakeSim) Phase(ctx context.Context, id string) (int, error) { return 0, nil }
func (f *fakeSim) RedYellowGreenState(ctx context.Context, id string) (string, error) {
	return "GrGr", nil
}

func (f *fakeSim) LaneIDs(ctx context.Context) ([]string, error) { return f.laneIDs, nil }
func (f *fakeSim) LaneOccupancy(ctx context.Context, laneID string) (float64, error) {
	return 0.25, nil
}
func (f *fakeSim) LaneWaitingTime(ctx context.Context, laneID string) (float64, error) {
	return 12.5, nil
}
func (f *fakeSim) LaneVehicleIDs(ctx context.Context, laneID string) ([]string, error) {
	return []string{laneID + "_veh0"}, nil
}

func (f *fakeSim) EdgeIDs(ctx context.Context) ([]string, error) { return f.edgeIDs, nil }
func (f *fakeSim) EdgeMeanSpeed(ctx context.Context, edgeID string) (float64, error) {
	return 8.3, nil
}

func (f *fakeSim) JunctionIDs(ctx context.Context) ([]string, error) { return f.junctionIDs, nil }
func (f *fakeSim) JunctionPosition(ctx context.Context, junctionID string) (model.JunctionPosition, error) {
	return model.JunctionPosition{X: 1, Y: 2}, nil
}

func (f *fakeSim) SimulationTime(ctx context.Context) (float64, error) { return 42, nil }
func (f *fakeSim) StartingTeleportIDs(ctx context.Context) ([]string, error) {
	return nil, nil
}
func (f *fakeSim) EmergencyStoppingVehicleIDs(ctx context.Context) ([]string, error) {
	return nil, nil
}
func (f *fakeSim) VehiclePosition(ctx context.Context, vehicleID string) (model.JunctionPosition, error) {
	return model.JunctionPosition{}, nil
}
func (f *fakeSim) MinExpectedVehicleNumber(ctx context.Context) (int, error) { return 5, nil }

func (f *fakeSim) Close() error { return nil }

type fakeSession struct {
	mu      sync.Mutex
	pending []simproxy.Request
	replies []any
}

func (s *fakeSession) push(req simproxy.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, req)
}

func (s *fakeSession) TryRecv() (simproxy.Request, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return simproxy.Request{}, false, nil
	}
	req := s.pending[0]
	s.pending = s.pending[1:]
	return req, true, nil
}

func (s *fakeSession) Reply(resp any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, resp)
	return nil
}

func newTestController(t *testing.T) (*Controller, *fakeSim, *fakeSession) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.ResultsDir = dir
	sim := newFakeSim()
	session := &fakeSession{}

	c, err := New(context.Background(), Deps{
		Sim:       sim,
		UI:        transport.NewQueue[model.UICommand](transport.QueueOptions{Name: "ui", Capacity: 8}),
		Watchdog:  transport.NewQueue[model.WatchdogCommand](transport.QueueOptions{Name: "watchdog", Capacity: 8}),
		Session:   session,
		Telemetry: transport.NewQueue[model.StepSnapshot](transport.QueueOptions{Name: "telemetry", Capacity: 8}),
		Analysis:  transport.NewQueue[model.StepSnapshot](transport.QueueOptions{Name: "analysis", Capacity: 8}),
		Cfg:       cfg,
		Log:       logging.New(nil, "test", "controller"),
		RunID:     1,
	})
	require.NoError(t, err)
	return c, sim, session
}

func TestNewDerivesScenarioNameFromConfigFile(t *testing.T) {
	c, _, _ := newTestController(t)
	require.Equal(t, "downtown", c.scenarioName)
}

func TestRunOnceAdvancesSimulatorStep(t *testing.T) {
	c, sim, _ := newTestController(t)
	_, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sim.stepCount)
}

func TestDispatchGetBatchedStepDataReturnsSnapshot(t *testing.T) {
	c, _, session := newTestController(t)
	session.push(simproxy.Request{Module: simproxy.ModuleCustom, Function: simproxy.CustomGetBatchedStepData})
	_, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, session.replies, 1)
	resp, ok := session.replies[0].(simproxy.Response)
	require.True(t, ok)
	require.False(t, resp.HasError())
	snap, ok := resp.Result.(model.StepSnapshot)
	require.True(t, ok)
	require.Equal(t, "downtown", snap.ScenarioName)
	require.Equal(t, []string{"a", "b"}, snap.TLSControlledLanes["J1"])
}

func TestDispatchDropsPhaseSetOnOverriddenLight(t *testing.T) {
	c, sim, session := newTestController(t)
	require.NoError(t, c.overrides.Apply(context.Background(), sim, "J1", "ALERT"))

	session.push(simproxy.Request{Module: simproxy.ModuleTrafficLight, Function: "setPhase", Args: []any{"J1", 2}})
	_, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, session.replies, 1)
	resp := session.replies[0].(simproxy.Response)
	require.False(t, resp.HasError())
	require.Nil(t, resp.Result)
}

func TestWatchdogRegimeSkipsOverriddenLights(t *testing.T) {
	c, sim, _ := newTestController(t)
	require.NoError(t, c.overrides.Apply(context.Background(), sim, "J1", "ALERT"))

	c.cfg.Watchdog.InitialGracePeriodSeconds = -1 // grace period already elapsed; heartbeat never recorded

	require.NoError(t, c.watchdog.Send(context.Background(), model.WatchdogCommand{Type: "set_program_all", Value: "2"}))
	_, err := c.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, "2", sim.programs["J2"])
	require.Equal(t, "0", sim.programs["J1"]) // untouched: overridden
}

func TestApplyUICommandSaveSettingsPersists(t *testing.T) {
	c, _, _ := newTestController(t)
	c.applyUICommand(context.Background(), model.UICommand{
		Kind:     model.UISaveSettings,
		Settings: map[string]any{"foo": "bar"},
	})
	var saved map[string]any
	ok, err := atomicfile.ReadJSON(filepath.Join(c.scenarioDir, "settings.json"), &saved)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "bar", saved["foo"])
}

func TestApplyUICommandSetGlobalModeRejectsUnknown(t *testing.T) {
	c, _, _ := newTestController(t)
	before := c.mode
	c.applyUICommand(context.Background(), model.UICommand{Kind: model.UISetGlobalMode, Mode: "BOGUS"})
	require.Equal(t, before, c.mode)
}
