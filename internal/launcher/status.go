package launcher

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"carina/internal/analysis"
	"carina/internal/atomicfile"
	"carina/internal/netfile"
)

// StatusFileName is the scenario-directory file the Launcher writes at
// launch, after each child is spawned, and once more after shutdown.
const StatusFileName = "status.json"

// AgentCount mirrors the original system summary's local/guardian agent
// tallies — one of each per traffic light, since every traffic light gets
// both a local learned policy and this control plane's Safety Arbiter
// oversight.
type AgentCount struct {
	LocalAgents    int `json:"local_agents"`
	GuardianAgents int `json:"guardian_agents"`
}

// NetworkTopology summarizes the static road network: one node per
// traffic light, one edge per structural neighbor relationship.
type NetworkTopology struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}

// Status is the on-disk system summary, matching the original's
// status.json shape field-for-field.
type Status struct {
	GPUInfo         string          `json:"gpu_info"`
	AgentCount      AgentCount      `json:"agent_count"`
	NetworkTopology NetworkTopology `json:"network_topology"`
	AgentIDs        []string        `json:"agent_ids"`
	LastUpdated     string          `json:"last_updated"`
}

// BuildStatus derives Status purely from the static net file: traffic-light
// junctions become agent IDs, and the structural neighborhood map (the
// same one §3's heatmap neighborhood feature consumes) gives the edge
// count. This never touches the simulator connection, which is C7's
// exclusive resource, so the Launcher can compute and publish status.json
// independent of whether the Central Controller has started yet.
func BuildStatus(netFilePath string, now time.Time) (Status, error) {
	topo, err := netfile.BuildJunctionTopology(netFilePath)
	if err != nil {
		return Status{}, fmt.Errorf("build status: %w", err)
	}
	var trafficLightIDs []string
	for id, typ := range topo.Types {
		if typ == analysis.TrafficLightJunctionType {
			trafficLightIDs = append(trafficLightIDs, id)
		}
	}
	sort.Strings(trafficLightIDs)

	neighborhoods, err := netfile.BuildStructuralNeighborhoodMap(netFilePath, trafficLightIDs)
	if err != nil {
		return Status{}, fmt.Errorf("build status: %w", err)
	}
	edgeCount := 0
	for _, neighbors := range neighborhoods {
		edgeCount += len(neighbors)
	}

	return Status{
		GPUInfo: fmt.Sprintf("none (control plane runs CPU-only, %d logical cores)", runtime.NumCPU()),
		AgentCount: AgentCount{
			LocalAgents:    len(trafficLightIDs),
			GuardianAgents: len(trafficLightIDs),
		},
		NetworkTopology: NetworkTopology{Nodes: len(trafficLightIDs), Edges: edgeCount},
		AgentIDs:        trafficLightIDs,
		LastUpdated:     now.UTC().Format(time.RFC3339),
	}, nil
}

// WriteStatus atomically writes s to scenarioDir/status.json.
func WriteStatus(scenarioDir string, s Status) error {
	return atomicfile.WriteJSON(filepath.Join(scenarioDir, StatusFileName), s)
}
