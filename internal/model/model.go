// Package model holds the data shapes fanned out between processes: the
// per-step observation tuple and its constituents. None of these are
// persisted; the Event Store's own record types live in internal/eventstore.
package model

// MaturityPhase tags how much authority the learning core grants a given
// per-intersection agent.
type MaturityPhase string

const (
	PhaseChild   MaturityPhase = "CHILD"
	PhaseTeen    MaturityPhase = "TEEN"
	PhaseAdult   MaturityPhase = "ADULT"
	PhaseUnknown MaturityPhase = "UNKNOWN"
)

// LaneState carries one lane's per-step measurements.
type LaneState struct {
	Occupancy   float64  `json:"occupancy"`
	WaitingTime float64  `json:"waiting_time"`
	VehicleIDs  []string `json:"vehicle_ids"`
}

// TrafficLightState carries one traffic light's per-step phase and signal
// string.
type TrafficLightState struct {
	PhaseIndex       int      `json:"phase_index"`
	ControlledLanes  []string `json:"controlled_lanes"`
	SignalState      string   `json:"signal_state"` // one char per controlled lane: g/G/y/Y/s/r/R/u/o
}

// EdgeMeanSpeed carries one edge's mean speed in meters per second.
type EdgeMeanSpeed struct {
	EdgeID string  `json:"edge_id"`
	Speed  float64 `json:"mean_speed_mps"`
}

// JunctionPosition carries one junction's coordinates.
type JunctionPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// StepSnapshot is the full per-step observation tuple fanned out to every
// downstream consumer: Heatmap Telemetry (C3), Analysis (C4), and embedded
// in the custom.get_batched_step_data RPC reply to the Learning Core (C6).
type StepSnapshot struct {
	RunID          int64   `json:"run_id"`
	SimTime        float64 `json:"sim_time"`
	ScenarioName   string  `json:"scenario_name"`
	NetFilePath    string  `json:"net_file_path"`
	OperationMode  string  `json:"operation_mode"`
	StepLength     float64 `json:"step_length"`

	LaneOccupancies   map[string]float64            `json:"lane_occupancies"`
	LaneWaitingTimes  map[string]float64             `json:"lane_waiting_time"`
	LaneVehicleIDs    map[string][]string            `json:"lane_vehicle_ids"`
	TLSPhases         map[string]int                 `json:"tls_phases"`
	TLSControlledLanes map[string][]string            `json:"tls_controlled_lanes"`
	TLSLanesState     map[string]string               `json:"tls_lanes_state"`
	EdgeMeanSpeeds    map[string]float64              `json:"edge_mean_speeds"`
	JunctionPositions map[string]JunctionPosition     `json:"junction_positions"`

	StartingTeleports        int       `json:"sim_starting_teleports_len"`
	EmergencyStopCount        int       `json:"sim_emergency_stops_len"`
	EmergencyStopPositions    [][2]float64 `json:"sim_emergency_stop_positions"`
	MinExpectedVehicleNumber  int       `json:"sim_min_expected_number"`

	MaturityPhases   map[string]MaturityPhase `json:"maturity_phases"`
	ActiveOverrides  map[string]string        `json:"active_overrides"`
	OverrideCommands []OverrideCommand        `json:"override_commands,omitempty"`
}

// OverrideCommand is an operator-issued override mutation attached to the
// next StepSnapshot for downstream auditing, per §4.2's buffering rule.
type OverrideCommand struct {
	SemaphoreID string `json:"semaphore_id"`
	State       string `json:"state"`
}

// UICommandKind tags the operator command tagged union the Heatmap
// Telemetry Worker forwards from WebSocket clients to the Central
// Controller over the UI queue.
type UICommandKind string

const (
	UISaveSettings          UICommandKind = "save_settings"
	UISetGlobalMode         UICommandKind = "set_global_mode"
	UISetSemaphoreOverride  UICommandKind = "set_semaphore_override"
	UISetSemaphoreTimings   UICommandKind = "set_semaphore_timings"
)

// UICommand is the wire shape of one operator command.
type UICommand struct {
	Kind UICommandKind `json:"kind"`

	// SaveSettings
	Settings map[string]any `json:"settings,omitempty"`

	// SetGlobalMode
	Mode string `json:"mode,omitempty"`

	// SetSemaphoreOverride
	SemaphoreID string `json:"semaphore_id,omitempty"`
	State       string `json:"state,omitempty"`

	// SetSemaphoreTimings (reserved; logged only)
	Green  float64 `json:"green,omitempty"`
	Yellow float64 `json:"yellow,omitempty"`
}

// WatchdogCommand is the single failsafe command C2 enqueues once a second.
type WatchdogCommand struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Clone returns a deep-enough copy so a fanned-out snapshot can be mutated
// independently by each consumer goroutine without a data race, the same
// defensive-copy discipline the resource manager applied to cached pages.
func (s StepSnapshot) Clone() StepSnapshot {
	out := s
	out.LaneOccupancies = cloneFloatMap(s.LaneOccupancies)
	out.LaneWaitingTimes = cloneFloatMap(s.LaneWaitingTimes)
	out.LaneVehicleIDs = make(map[string][]string, len(s.LaneVehicleIDs))
	for k, v := range s.LaneVehicleIDs {
		cp := make([]string, len(v))
		copy(cp, v)
		out.LaneVehicleIDs[k] = cp
	}
	out.TLSPhases = cloneIntMap(s.TLSPhases)
	out.TLSControlledLanes = make(map[string][]string, len(s.TLSControlledLanes))
	for k, v := range s.TLSControlledLanes {
		cp := make([]string, len(v))
		copy(cp, v)
		out.TLSControlledLanes[k] = cp
	}
	out.TLSLanesState = cloneStringMap(s.TLSLanesState)
	out.EdgeMeanSpeeds = cloneFloatMap(s.EdgeMeanSpeeds)
	out.JunctionPositions = make(map[string]JunctionPosition, len(s.JunctionPositions))
	for k, v := range s.JunctionPositions {
		out.JunctionPositions[k] = v
	}
	out.MaturityPhases = make(map[string]MaturityPhase, len(s.MaturityPhases))
	for k, v := range s.MaturityPhases {
		out.MaturityPhases[k] = v
	}
	out.ActiveOverrides = cloneStringMap(s.ActiveOverrides)
	out.EmergencyStopPositions = append([][2]float64(nil), s.EmergencyStopPositions...)
	out.OverrideCommands = append([]OverrideCommand(nil), s.OverrideCommands...)
	return out
}

func cloneFloatMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneIntMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
