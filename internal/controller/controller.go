// Package controller implements the Central Controller (C7): the sole
// owner of the simulator connection, arbiter of every command reaching
// it, and driver of simulation step cadence.
package controller

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"carina/internal/atomicfile"
	"carina/internal/config"
	"carina/internal/model"
	"carina/internal/override"
	"carina/internal/simclient"
	"carina/internal/simproxy"
	"carina/internal/telemetry/logging"
	"carina/internal/transport"
)

// Regime is which command source the main loop is currently honoring.
type Regime string

const (
	RegimeAI       Regime = "AI"
	RegimeWatchdog Regime = "WATCHDOG"
)

// Session is the narrow slice of transport.Session the controller polls
// for AI requests, satisfied by transport.Session[simproxy.Request].
type Session interface {
	TryRecv() (simproxy.Request, bool, error)
	Reply(resp any) error
}

// Controller owns the simulator connection and runs the main loop.
type Controller struct {
	sim       simclient.Client
	overrides *override.Manager
	ui        *transport.Queue[model.UICommand]
	watchdog  *transport.Queue[model.WatchdogCommand]
	session   Session
	telemetry *transport.Queue[model.StepSnapshot]
	analysis  *transport.Queue[model.StepSnapshot]
	cfg       *config.RuntimeConfig
	log       logging.Logger

	mu               sync.Mutex
	mode             config.OperationMode
	maturity         map[string]model.MaturityPhase
	lastHeartbeat    time.Time
	startedAt        time.Time
	pendingOverrides []model.OverrideCommand
	regime           Regime

	runID        int64
	scenarioName string
	scenarioDir  string
}

// Deps bundles every collaborator the constructor needs, per "process-local
// singletons → passed configuration": nothing here is read off a package
// global.
type Deps struct {
	Sim       simclient.Client
	UI        *transport.Queue[model.UICommand]
	Watchdog  *transport.Queue[model.WatchdogCommand]
	Session   Session
	Telemetry *transport.Queue[model.StepSnapshot]
	Analysis  *transport.Queue[model.StepSnapshot]
	Cfg       *config.RuntimeConfig
	Log       logging.Logger
	RunID     int64
}

// New runs the startup sequence (steps 2-4; step 1, opening the simulator
// connection, is the caller's responsibility via simclient.Connect so that
// New itself stays unit-testable against a fake Client) and returns a
// Controller ready for Run.
func New(ctx context.Context, d Deps) (*Controller, error) {
	configFile, err := d.Sim.ConfigurationFile(ctx)
	if err != nil {
		return nil, fmt.Errorf("read configuration file: %w", err)
	}
	scenarioName := deriveScenarioName(configFile)
	scenarioDir := filepath.Join(d.Cfg.ResultsDir, scenarioName)

	overrides, err := override.NewManager(scenarioDir, d.Log)
	if err != nil {
		return nil, fmt.Errorf("load override state: %w", err)
	}

	c := &Controller{
		sim:          d.Sim,
		overrides:    overrides,
		ui:           d.UI,
		watchdog:     d.Watchdog,
		session:      d.Session,
		telemetry:    d.Telemetry,
		analysis:     d.Analysis,
		cfg:          d.Cfg,
		log:          d.Log,
		maturity:     make(map[string]model.MaturityPhase),
		startedAt:    time.Now(),
		regime:       RegimeAI,
		runID:        d.RunID,
		scenarioName: scenarioName,
		scenarioDir:  scenarioDir,
	}

	if err := overrides.RestoreToSimulator(ctx, d.Sim); err != nil {
		return nil, fmt.Errorf("restore overrides: %w", err)
	}

	mode, err := loadGlobalMode(scenarioDir)
	if err != nil {
		return nil, fmt.Errorf("load global mode: %w", err)
	}
	c.mode = mode
	if err := c.persistMode(); err != nil {
		return nil, fmt.Errorf("persist global mode: %w", err)
	}

	return c, nil
}

func deriveScenarioName(configFile string) string {
	base := filepath.Base(configFile)
	ext := filepath.Ext(base)
	for ext != "" {
		base = base[:len(base)-len(ext)]
		ext = filepath.Ext(base)
	}
	if base == "" {
		return "default"
	}
	return base
}

func globalStatePath(scenarioDir string) string {
	return filepath.Join(scenarioDir, "global_state.json")
}

func loadGlobalMode(scenarioDir string) (config.OperationMode, error) {
	var raw struct {
		OperationMode string `json:"operation_mode"`
	}
	ok, err := atomicfile.ReadJSON(globalStatePath(scenarioDir), &raw)
	if err != nil {
		return "", err
	}
	if !ok || !config.OperationMode(raw.OperationMode).Valid() {
		return config.Automatic, nil
	}
	return config.OperationMode(raw.OperationMode), nil
}

func (c *Controller) persistMode() error {
	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()
	return atomicfile.WriteJSON(globalStatePath(c.scenarioDir), struct {
		OperationMode string `json:"operation_mode"`
	}{OperationMode: string(mode)})
}

// RunOnce executes exactly one main-loop iteration (steps 1-5 of §4.2),
// returning the regime it ran under. Exported as RunOnce, not a private
// step, so callers and tests can drive the loop one step at a time rather
// than only via the blocking Run wrapper.
func (c *Controller) RunOnce(ctx context.Context) (Regime, error) {
	regime := c.evaluateRegime()

	c.drainUIQueue(ctx)

	switch regime {
	case RegimeAI:
		if err := c.pollAI(ctx); err != nil {
			return regime, err
		}
		c.watchdog.DrainLatest()
	case RegimeWatchdog:
		c.applyWatchdog(ctx)
	}

	// Collected after the previous step completed but before this step
	// advances, per the tie-break rule; fanned out to C3/C4 every
	// iteration regardless of whether the AI also asked for it.
	snap, err := c.collectSnapshot(ctx)
	if err != nil {
		return regime, fmt.Errorf("collect step snapshot: %w", err)
	}
	_ = c.telemetry.Send(ctx, snap)
	_ = c.analysis.Send(ctx, snap)

	if err := c.sim.SimulationStep(ctx); err != nil {
		return regime, fmt.Errorf("advance simulation step: %w", err)
	}
	return regime, nil
}

// Run drives RunOnce until ctx is cancelled or a simulator error occurs
// during step advancement, then runs the shutdown path.
func (c *Controller) Run(ctx context.Context) error {
	defer c.shutdown(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if _, err := c.RunOnce(ctx); err != nil {
			c.log.ErrorCtx(ctx, "main loop exiting on simulator error", "error", err)
			return err
		}
	}
}

func (c *Controller) evaluateRegime() Regime {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.startedAt) <= c.cfg.Watchdog.GracePeriod() {
		c.regime = RegimeAI
		return c.regime
	}
	if c.lastHeartbeat.IsZero() || time.Since(c.lastHeartbeat) > c.cfg.Watchdog.HeartbeatTimeout() {
		c.regime = RegimeWatchdog
	} else {
		c.regime = RegimeAI
	}
	return c.regime
}

func (c *Controller) drainUIQueue(ctx context.Context) {
	for {
		cmd, ok := c.ui.DrainLatest()
		if !ok {
			return
		}
		c.applyUICommand(ctx, cmd)
	}
}

func (c *Controller) applyUICommand(ctx context.Context, cmd model.UICommand) {
	switch cmd.Kind {
	case model.UISaveSettings:
		if err := atomicfile.WriteJSON(filepath.Join(c.scenarioDir, "settings.json"), cmd.Settings); err != nil {
			c.log.ErrorCtx(ctx, "save_settings failed", "error", err)
		}
	case model.UISetGlobalMode:
		mode := config.OperationMode(cmd.Mode)
		if !mode.Valid() {
			c.log.WarnCtx(ctx, "set_global_mode rejected", "mode", cmd.Mode)
			return
		}
		c.mu.Lock()
		c.mode = mode
		c.mu.Unlock()
		if err := c.persistMode(); err != nil {
			c.log.ErrorCtx(ctx, "persist global mode failed", "error", err)
		}
	case model.UISetSemaphoreOverride:
		if err := c.overrides.Apply(ctx, c.sim, cmd.SemaphoreID, cmd.State); err != nil {
			c.log.ErrorCtx(ctx, "set_semaphore_override failed", "semaphore", cmd.SemaphoreID, "error", err)
			return
		}
		c.mu.Lock()
		c.pendingOverrides = append(c.pendingOverrides, model.OverrideCommand{SemaphoreID: cmd.SemaphoreID, State: cmd.State})
		c.mu.Unlock()
	case model.UISetSemaphoreTimings:
		c.log.InfoCtx(ctx, "set_semaphore_timings received (reserved, logged only)",
			"semaphore", cmd.SemaphoreID, "green", cmd.Green, "yellow", cmd.Yellow)
	default:
		c.log.WarnCtx(ctx, "unknown operator command", "kind", cmd.Kind)
	}
}

func (c *Controller) pollAI(ctx context.Context) error {
	req, ok, err := c.session.TryRecv()
	if err != nil {
		return fmt.Errorf("poll command pipe: %w", err)
	}
	if !ok {
		return nil
	}

	c.mu.Lock()
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()

	resp := c.dispatch(ctx, req)
	return c.session.Reply(resp)
}

// recordMaturity applies a custom.update_maturity_state payload.
func (c *Controller) recordMaturity(raw map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, v := range raw {
		if s, ok := v.(string); ok {
			c.maturity[id] = model.MaturityPhase(s)
		}
	}
}

func (c *Controller) dispatch(ctx context.Context, req simproxy.Request) simproxy.Response {
	if c.overrides.Gate(req) {
		return simproxy.Suppressed()
	}

	if req.Module == simproxy.ModuleCustom {
		return c.dispatchCustom(ctx, req)
	}

	if err := req.Validate(); err != nil {
		return simproxy.Err(err)
	}
	result, err := c.sim.Invoke(ctx, req)
	if err != nil {
		return simproxy.Err(err)
	}
	return simproxy.OK(result)
}

func (c *Controller) dispatchCustom(ctx context.Context, req simproxy.Request) simproxy.Response {
	switch req.Function {
	case simproxy.CustomUpdateMaturityState:
		if len(req.Args) == 0 {
			return simproxy.Err(fmt.Errorf("update_maturity_state requires a phases map argument"))
		}
		raw, ok := req.Args[0].(map[string]any)
		if !ok {
			return simproxy.Err(fmt.Errorf("update_maturity_state argument must be an object"))
		}
		c.recordMaturity(raw)
		return simproxy.OK(true)
	case simproxy.CustomGetBatchedStepData:
		snap, err := c.collectSnapshot(ctx)
		if err != nil {
			return simproxy.Err(err)
		}
		return simproxy.OK(snap)
	default:
		return simproxy.Err(fmt.Errorf("unknown custom function %q", req.Function))
	}
}

// collectSnapshot gathers the current StepSnapshot after the last step has
// completed but before the next one advances, per the tie-break rule, and
// attaches+clears any buffered operator override commands. Every per-entity
// field is filled by its own TraCI-shaped call per ID, matching
// _collect_batched_step_data's one-call-per-lane/edge/junction/light
// collection loop exactly.
func (c *Controller) collectSnapshot(ctx context.Context) (model.StepSnapshot, error) {
	tlsIDs, err := c.sim.TrafficLightIDs(ctx)
	if err != nil {
		return model.StepSnapshot{}, fmt.Errorf("list traffic lights for snapshot: %w", err)
	}

	c.mu.Lock()
	maturity := make(map[string]model.MaturityPhase, len(c.maturity))
	for k, v := range c.maturity {
		maturity[k] = v
	}
	pending := c.pendingOverrides
	c.pendingOverrides = nil
	mode := c.mode
	c.mu.Unlock()

	tlsControlled := make(map[string][]string, len(tlsIDs))
	tlsPhases := make(map[string]int, len(tlsIDs))
	tlsLanesState := make(map[string]string, len(tlsIDs))
	for _, id := range tlsIDs {
		lanes, err := c.sim.ControlledLanes(ctx, id)
		if err != nil {
			return model.StepSnapshot{}, fmt.Errorf("controlled lanes for %s: %w", id, err)
		}
		tlsControlled[id] = lanes
		phase, err := c.sim.Phase(ctx, id)
		if err != nil {
			return model.StepSnapshot{}, fmt.Errorf("phase for %s: %w", id, err)
		}
		tlsPhases[id] = phase
		state, err := c.sim.RedYellowGreenState(ctx, id)
		if err != nil {
			return model.StepSnapshot{}, fmt.Errorf("signal state for %s: %w", id, err)
		}
		tlsLanesState[id] = state
	}

	laneIDs, err := c.sim.LaneIDs(ctx)
	if err != nil {
		return model.StepSnapshot{}, fmt.Errorf("list lanes for snapshot: %w", err)
	}
	laneOccupancies := make(map[string]float64, len(laneIDs))
	laneWaitingTimes := make(map[string]float64, len(laneIDs))
	laneVehicleIDs := make(map[string][]string, len(laneIDs))
	for _, id := range laneIDs {
		occ, err := c.sim.LaneOccupancy(ctx, id)
		if err != nil {
			return model.StepSnapshot{}, fmt.Errorf("occupancy for lane %s: %w", id, err)
		}
		laneOccupancies[id] = occ
		wait, err := c.sim.LaneWaitingTime(ctx, id)
		if err != nil {
			return model.StepSnapshot{}, fmt.Errorf("waiting time for lane %s: %w", id, err)
		}
		laneWaitingTimes[id] = wait
		vehicles, err := c.sim.LaneVehicleIDs(ctx, id)
		if err != nil {
			return model.StepSnapshot{}, fmt.Errorf("vehicle ids for lane %s: %w", id, err)
		}
		laneVehicleIDs[id] = vehicles
	}

	edgeIDs, err := c.sim.EdgeIDs(ctx)
	if err != nil {
		return model.StepSnapshot{}, fmt.Errorf("list edges for snapshot: %w", err)
	}
	edgeMeanSpeeds := make(map[string]float64, len(edgeIDs))
	for _, id := range edgeIDs {
		speed, err := c.sim.EdgeMeanSpeed(ctx, id)
		if err != nil {
			return model.StepSnapshot{}, fmt.Errorf("mean speed for edge %s: %w", id, err)
		}
		edgeMeanSpeeds[id] = speed
	}

	junctionIDs, err := c.sim.JunctionIDs(ctx)
	if err != nil {
		return model.StepSnapshot{}, fmt.Errorf("list junctions for snapshot: %w", err)
	}
	junctionPositions := make(map[string]model.JunctionPosition, len(junctionIDs))
	for _, id := range junctionIDs {
		pos, err := c.sim.JunctionPosition(ctx, id)
		if err != nil {
			return model.StepSnapshot{}, fmt.Errorf("position for junction %s: %w", id, err)
		}
		junctionPositions[id] = pos
	}

	simTime, err := c.sim.SimulationTime(ctx)
	if err != nil {
		return model.StepSnapshot{}, fmt.Errorf("simulation time for snapshot: %w", err)
	}
	teleports, err := c.sim.StartingTeleportIDs(ctx)
	if err != nil {
		return model.StepSnapshot{}, fmt.Errorf("starting teleports for snapshot: %w", err)
	}
	stoppedVehicles, err := c.sim.EmergencyStoppingVehicleIDs(ctx)
	if err != nil {
		return model.StepSnapshot{}, fmt.Errorf("emergency stopping vehicles for snapshot: %w", err)
	}
	stopPositions := make([][2]float64, 0, len(stoppedVehicles))
	for _, vehicleID := range stoppedVehicles {
		pos, err := c.sim.VehiclePosition(ctx, vehicleID)
		if err != nil {
			return model.StepSnapshot{}, fmt.Errorf("position for vehicle %s: %w", vehicleID, err)
		}
		stopPositions = append(stopPositions, [2]float64{pos.X, pos.Y})
	}
	minExpected, err := c.sim.MinExpectedVehicleNumber(ctx)
	if err != nil {
		return model.StepSnapshot{}, fmt.Errorf("min expected vehicle number for snapshot: %w", err)
	}

	snap := model.StepSnapshot{
		RunID:                    c.runID,
		SimTime:                  simTime,
		ScenarioName:             c.scenarioName,
		NetFilePath:              c.cfg.NetFilePath,
		OperationMode:            string(mode),
		StepLength:               c.cfg.Sumo.StepLength,
		LaneOccupancies:          laneOccupancies,
		LaneWaitingTimes:         laneWaitingTimes,
		LaneVehicleIDs:           laneVehicleIDs,
		TLSPhases:                tlsPhases,
		TLSControlledLanes:       tlsControlled,
		TLSLanesState:            tlsLanesState,
		EdgeMeanSpeeds:           edgeMeanSpeeds,
		JunctionPositions:        junctionPositions,
		StartingTeleports:        len(teleports),
		EmergencyStopCount:       len(stoppedVehicles),
		EmergencyStopPositions:   stopPositions,
		MinExpectedVehicleNumber: minExpected,
		MaturityPhases:           maturity,
		ActiveOverrides:          c.overrides.Snapshot(),
		OverrideCommands:         pending,
	}
	return snap, nil
}

func (c *Controller) applyWatchdog(ctx context.Context) {
	cmd, ok := c.watchdog.DrainLatest()
	if !ok {
		return
	}
	if cmd.Type != "set_program_all" {
		c.log.WarnCtx(ctx, "unrecognized watchdog command", "type", cmd.Type)
		return
	}
	ids, err := c.sim.TrafficLightIDs(ctx)
	if err != nil {
		c.log.ErrorCtx(ctx, "watchdog: list traffic lights failed", "error", err)
		return
	}
	overridden := c.overrides.Snapshot()
	for _, id := range ids {
		if _, skip := overridden[id]; skip {
			continue
		}
		if err := c.sim.SetProgram(ctx, id, cmd.Value); err != nil {
			c.log.ErrorCtx(ctx, "watchdog: set_program failed", "light", id, "error", err)
		}
	}
}

func (c *Controller) shutdown(ctx context.Context) {
	_ = c.session.Reply(simproxy.ShutdownRequest())
	if err := c.sim.Close(); err != nil {
		c.log.WarnCtx(ctx, "simulator close returned error", "error", err)
	}
}
