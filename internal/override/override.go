// Package override implements the Override Manager sub-component of the
// Central Controller: the per-traffic-light NORMAL/ALERT/OFF state
// machine, its atomic on-disk persistence, and the RPC gate that silently
// drops AI phase-set commands targeting an overridden light.
package override

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"carina/internal/atomicfile"
	"carina/internal/errs"
	"carina/internal/simproxy"
	"carina/internal/telemetry/logging"
)

// State is one traffic light's override state. NORMAL is represented by
// absence from the map, never stored explicitly.
type State string

const (
	Alert State = "ALERT"
	Off   State = "OFF"
)

func (s State) valid() bool { return s == Alert || s == Off }

// SimulatorLink is the subset of the simulator connection the Override
// Manager needs: forcing a signal string and checking which traffic
// lights currently exist.
type SimulatorLink interface {
	TrafficLightIDs(ctx context.Context) ([]string, error)
	ControlledLaneCount(ctx context.Context, trafficLightID string) (int, error)
	SetRedYellowGreenState(ctx context.Context, trafficLightID, state string) error
}

// Manager owns the in-memory override map and its persistence.
type Manager struct {
	mu       sync.Mutex
	active   map[string]State
	statePath string
	log      logging.Logger
}

// NewManager constructs a Manager whose state file lives under
// scenarioDir/override_state.json, loading any existing file.
func NewManager(scenarioDir string, log logging.Logger) (*Manager, error) {
	m := &Manager{
		active:    make(map[string]State),
		statePath: filepath.Join(scenarioDir, "override_state.json"),
		log:       log,
	}
	raw := make(map[string]string)
	if _, err := atomicfile.ReadJSON(m.statePath, &raw); err != nil {
		return nil, errs.New(errs.Persistence, "load override state", err)
	}
	for id, s := range raw {
		st := State(s)
		if st.valid() {
			m.active[id] = st
		}
	}
	return m, nil
}

// Snapshot returns a copy of the active overrides, keyed by traffic light
// ID, for inclusion in a StepSnapshot.
func (m *Manager) Snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.active))
	for id, st := range m.active {
		out[id] = string(st)
	}
	return out
}

// Gate reports whether req should be silently dropped: true iff req is a
// trafficlight.setPhase call targeting a light whose override is not
// NORMAL.
func (m *Manager) Gate(req simproxy.Request) bool {
	id, ok := req.IsPhaseSet()
	if !ok {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, overridden := m.active[id]
	return overridden
}

// RestoreToSimulator re-applies every persisted override to sim, pruning
// entries whose traffic light no longer exists in the current scenario.
// Called once at Central Controller startup, before stepping begins.
func (m *Manager) RestoreToSimulator(ctx context.Context, sim SimulatorLink) error {
	ids, err := sim.TrafficLightIDs(ctx)
	if err != nil {
		return errs.New(errs.Simulator, "list traffic lights", err)
	}
	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}

	m.mu.Lock()
	ordered := make([]string, 0, len(m.active))
	for id := range m.active {
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)
	m.mu.Unlock()

	changed := false
	for _, id := range ordered {
		if _, ok := known[id]; !ok {
			m.mu.Lock()
			delete(m.active, id)
			m.mu.Unlock()
			changed = true
			continue
		}
		m.mu.Lock()
		st := m.active[id]
		m.mu.Unlock()
		if err := m.apply(ctx, sim, id, st); err != nil {
			return err
		}
	}
	if changed {
		return m.persist()
	}
	return nil
}

// Apply handles a set_semaphore_override operator command: requested ∈
// {"NORMAL","ALERT","OFF"}. NORMAL removes the entry and stops forcing a
// string; ALERT/OFF install a forced string and persist. A traffic light
// ID unknown to the current scenario is pruned instead of applied.
func (m *Manager) Apply(ctx context.Context, sim SimulatorLink, trafficLightID, requested string) error {
	ids, err := sim.TrafficLightIDs(ctx)
	if err != nil {
		return errs.New(errs.Simulator, "list traffic lights", err)
	}
	exists := false
	for _, id := range ids {
		if id == trafficLightID {
			exists = true
			break
		}
	}
	if !exists {
		m.mu.Lock()
		delete(m.active, trafficLightID)
		m.mu.Unlock()
		return m.persist()
	}

	if requested == "NORMAL" {
		m.mu.Lock()
		delete(m.active, trafficLightID)
		m.mu.Unlock()
		return m.persist()
	}

	state := State(requested)
	if !state.valid() {
		return errs.New(errs.State, "apply override", fmt.Errorf("invalid override state %q", requested))
	}
	if err := m.apply(ctx, sim, trafficLightID, state); err != nil {
		return err
	}
	m.mu.Lock()
	m.active[trafficLightID] = state
	m.mu.Unlock()
	return m.persist()
}

func (m *Manager) apply(ctx context.Context, sim SimulatorLink, trafficLightID string, state State) error {
	n, err := sim.ControlledLaneCount(ctx, trafficLightID)
	if err != nil {
		return errs.New(errs.Simulator, fmt.Sprintf("controlled lane count for %s", trafficLightID), err)
	}
	var ch byte
	switch state {
	case Alert:
		ch = 'y'
	case Off:
		ch = 'o'
	default:
		return errs.New(errs.State, "apply override", fmt.Errorf("cannot force signal string for state %q", state))
	}
	signal := make([]byte, n)
	for i := range signal {
		signal[i] = ch
	}
	if err := sim.SetRedYellowGreenState(ctx, trafficLightID, string(signal)); err != nil {
		return errs.New(errs.Simulator, fmt.Sprintf("set signal state for %s", trafficLightID), err)
	}
	return nil
}

func (m *Manager) persist() error {
	m.mu.Lock()
	raw := make(map[string]string, len(m.active))
	for id, st := range m.active {
		raw[id] = string(st)
	}
	m.mu.Unlock()
	if err := atomicfile.WriteJSON(m.statePath, raw); err != nil {
		return errs.New(errs.Persistence, "persist override state", err)
	}
	return nil
}
