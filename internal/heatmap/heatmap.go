// Package heatmap implements the Heatmap Telemetry Worker (C3): per-step
// edge congestion aggregation, traffic-light panel state derivation, and
// the WebSocket fan-out to dashboard clients (see server.go).
package heatmap

import (
	"strings"
	"sync"

	"carina/internal/config"
	"carina/internal/model"
	"carina/internal/netfile"
)

// EdgeUpdate is one edge's per-step derived figures, the "congestion +
// panel + street data" delta broadcast after the first message.
type EdgeUpdate struct {
	EdgeID         string  `json:"edge_id"`
	CongestionIdx  float64 `json:"congestion_index"`
	FlowPerMinute  float64 `json:"flow_per_minute"`
	MeanSpeedKMH   float64 `json:"mean_speed_kmh"`
	VehicleCount   int     `json:"vehicle_count"`
}

// PanelUpdate is one traffic light's aggregate display state.
type PanelUpdate struct {
	TrafficLightID string `json:"traffic_light_id"`
	State          string `json:"state"` // GREEN, YELLOW, RED
}

// CongestionUpdate is the "subsequent message" delta payload.
type CongestionUpdate struct {
	Type            string                   `json:"type"` // "congestion_update"
	SimTime         float64                  `json:"sim_time"`
	Edges           []EdgeUpdate             `json:"edges"`
	Panels          []PanelUpdate            `json:"panels"`
	MaturityPhases  map[string]model.MaturityPhase `json:"maturity_phases"`
	ActiveOverrides map[string]string        `json:"active_overrides"`
}

// InitialGeometry is the first message sent to a newly connected client.
type InitialGeometry struct {
	Type  string                              `json:"type"` // "initial_map_geometry"
	Nodes map[string]model.JunctionPosition    `json:"nodes"`
	Edges []netfile.EdgeGeometry              `json:"edges"`
}

// PanelState maps a traffic light's full signal string to its aggregate
// display state, using lowercase precedence: y/s → YELLOW; else g → GREEN;
// else RED.
func PanelState(signalState string) string {
	s := strings.ToLower(signalState)
	if strings.ContainsAny(s, "ys") {
		return "YELLOW"
	}
	if strings.Contains(s, "g") {
		return "GREEN"
	}
	return "RED"
}

// Processor accumulates per-scenario state across steps: the lazily
// resolved lane→edge map, edge geometry, previous-step lane vehicle sets,
// and the current (possibly hot-reloaded) congestion weights.
type Processor struct {
	mu            sync.Mutex
	netFilePath   string
	resolved      bool
	laneToEdge    map[string]string
	edgeLanes     map[string][]string
	geometry      []netfile.EdgeGeometry
	prevLaneVeh   map[string]map[string]struct{}
	weights       config.HeatmapScalingSection
}

// NewProcessor constructs a Processor with the given initial weights.
func NewProcessor(weights config.HeatmapScalingSection) *Processor {
	return &Processor{
		weights:     weights,
		prevLaneVeh: make(map[string]map[string]struct{}),
	}
}

// SetWeights atomically swaps the aggregation weights, used by the
// weight hot-reload watcher.
func (p *Processor) SetWeights(w config.HeatmapScalingSection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.weights = w
}

func (p *Processor) resolve(netFilePath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resolved && p.netFilePath == netFilePath {
		return nil
	}
	laneToEdge, err := netfile.BuildLaneToEdgeMap(netFilePath)
	if err != nil {
		return err
	}
	geometry, err := netfile.BuildEdgeGeometry(netFilePath)
	if err != nil {
		return err
	}
	edgeLanes := make(map[string][]string)
	for lane, edge := range laneToEdge {
		edgeLanes[edge] = append(edgeLanes[edge], lane)
	}
	p.netFilePath = netFilePath
	p.laneToEdge = laneToEdge
	p.edgeLanes = edgeLanes
	p.geometry = geometry
	p.resolved = true
	return nil
}

// Geometry returns the resolved node/edge geometry for the
// initial_map_geometry message. Resolve must have succeeded first.
func (p *Processor) Geometry(junctions map[string]model.JunctionPosition) InitialGeometry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return InitialGeometry{
		Type:  "initial_map_geometry",
		Nodes: junctions,
		Edges: append([]netfile.EdgeGeometry(nil), p.geometry...),
	}
}

// Process resolves geometry on first call, aggregates snap into a
// CongestionUpdate, and advances the per-lane vehicle-set history used for
// next step's departed-vehicle count.
func (p *Processor) Process(snap model.StepSnapshot) (CongestionUpdate, error) {
	if err := p.resolve(snap.NetFilePath); err != nil {
		return CongestionUpdate{}, err
	}

	p.mu.Lock()
	weights := p.weights
	edgeLanes := p.edgeLanes
	p.mu.Unlock()

	edgeIDs := make([]string, 0, len(edgeLanes))
	for edge := range edgeLanes {
		edgeIDs = append(edgeIDs, edge)
	}

	edgeUpdates := make([]EdgeUpdate, 0, len(edgeIDs))
	nextPrev := make(map[string]map[string]struct{}, len(snap.LaneVehicleIDs))

	for _, edgeID := range edgeIDs {
		lanes := edgeLanes[edgeID]
		var maxOcc, sumOcc, sumWait float64
		vehicleCount := 0
		departed := 0

		for _, lane := range lanes {
			occ := snap.LaneOccupancies[lane]
			if occ > maxOcc {
				maxOcc = occ
			}
			sumOcc += occ
			sumWait += snap.LaneWaitingTimes[lane]

			current := toSet(snap.LaneVehicleIDs[lane])
			nextPrev[lane] = current
			vehicleCount += len(current)

			prev := p.prevLaneVeh[lane]
			for id := range prev {
				if _, stillThere := current[id]; !stillThere {
					departed++
				}
			}
		}

		occForWeight := maxOcc
		if strings.EqualFold(weights.AggregationStrategy, "average") && len(lanes) > 0 {
			occForWeight = sumOcc / float64(len(lanes))
		}

		stepLength := snap.StepLength
		if stepLength <= 0 {
			stepLength = 1
		}
		flow := float64(departed) * (60.0 / stepLength)
		congestion := weights.WeightOccupancy*(occForWeight*100) + weights.WeightWaitingTime*sumWait + weights.WeightFlow*flow

		meanSpeedMPS := snap.EdgeMeanSpeeds[edgeID]
		edgeUpdates = append(edgeUpdates, EdgeUpdate{
			EdgeID:        edgeID,
			CongestionIdx: congestion,
			FlowPerMinute: flow,
			MeanSpeedKMH:  meanSpeedMPS * 3.6,
			VehicleCount:  vehicleCount,
		})
	}

	p.mu.Lock()
	p.prevLaneVeh = nextPrev
	p.mu.Unlock()

	panels := make([]PanelUpdate, 0, len(snap.TLSLanesState))
	for tlsID, signal := range snap.TLSLanesState {
		panels = append(panels, PanelUpdate{TrafficLightID: tlsID, State: PanelState(signal)})
	}

	return CongestionUpdate{
		Type:            "congestion_update",
		SimTime:         snap.SimTime,
		Edges:           edgeUpdates,
		Panels:          panels,
		MaturityPhases:  snap.MaturityPhases,
		ActiveOverrides: snap.ActiveOverrides,
	}, nil
}

func toSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
