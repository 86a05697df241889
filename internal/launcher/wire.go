package launcher

import (
	"fmt"
	"path/filepath"

	"carina/internal/atomicfile"
	"carina/internal/config"
)

// Endpoint names the Transport Substrate (C8) wires into existence: the
// one command pipe plus every one-way fan-out queue named in §4.1. Two
// eventstore endpoints exist because "Any→EventStore" has two concrete
// producers (C4 and C6) and a transport.Queue's ServeQueue accepts
// exactly one connection, so the fan-in is realized as two listeners
// feeding the same in-process queue rather than one listener serving two
// peers.
const (
	EndpointPipe               = "pipe"                 // C6 dials, C7 serves
	EndpointWatchdogController = "watchdog_controller"  // C2 dials, C7 serves
	EndpointControllerTelemetry = "controller_telemetry" // C7 dials, C3 serves
	EndpointControllerAnalysis  = "controller_analysis"  // C7 dials, C4 serves
	EndpointUIController        = "ui_controller"        // C3 dials, C7 serves
	EndpointLearnerSafetyState  = "learner_safety_state"  // C6 dials, C5 serves
	EndpointSafetyLearnerVeto   = "safety_learner_veto"   // C5 dials, C6 serves
	EndpointAnalysisEventStore  = "analysis_eventstore"   // C4 dials, C1 serves
	EndpointLearnerEventStore   = "learner_eventstore"    // C6 dials, C1 serves
)

// endpointOrder fixes a deterministic iteration order for port assignment
// under the tcp fallback network.
var endpointOrder = []string{
	EndpointPipe,
	EndpointWatchdogController,
	EndpointControllerTelemetry,
	EndpointControllerAnalysis,
	EndpointUIController,
	EndpointLearnerSafetyState,
	EndpointSafetyLearnerVeto,
	EndpointAnalysisEventStore,
	EndpointLearnerEventStore,
}

// tcpBasePort is the first port used when Transport.Network is "tcp"
// (TRANSPORT network: tcp in the settings file); each endpoint after EndpointPipe claims the
// next one, giving a fixed, predictable address set instead of an
// ephemeral one, which is what lets every child compute its own peers'
// addresses from the wire file rather than racing to discover them.
const tcpBasePort = 48700

// Wire is the full address book every process reads to find its peers,
// computed once by the Launcher before any child is spawned and written
// to the scenario directory as wire.json.
type Wire struct {
	Network   string            `json:"network"`
	Addresses map[string]string `json:"addresses"`
}

// BuildWire computes deterministic addresses for every endpoint. For the
// unix network (the default) each endpoint is a socket file under
// cfg.SocketDir; for tcp (cfg.Network == "tcp") each endpoint claims a
// fixed, sequentially assigned loopback port starting at tcpBasePort.
func BuildWire(cfg config.TransportSection) Wire {
	w := Wire{Network: cfg.Network, Addresses: make(map[string]string, len(endpointOrder))}
	for i, name := range endpointOrder {
		if cfg.Network == "tcp" {
			w.Addresses[name] = fmt.Sprintf("127.0.0.1:%d", tcpBasePort+i)
		} else {
			w.Addresses[name] = filepath.Join(cfg.SocketDir, name+".sock")
		}
	}
	return w
}

// Address returns the endpoint's address, or an error if name is unknown
// to this wire (a programmer error: every cmd/ binary only ever asks for
// the fixed endpoint names it's wired to).
func (w Wire) Address(name string) (string, error) {
	addr, ok := w.Addresses[name]
	if !ok {
		return "", fmt.Errorf("wire: unknown endpoint %q", name)
	}
	return addr, nil
}

// WireFileName is the scenario-directory file the Launcher writes the
// computed Wire to and every spawned child reads via -wire.
const WireFileName = "wire.json"

// WriteWireFile atomically writes w to path.
func WriteWireFile(path string, w Wire) error {
	return atomicfile.WriteJSON(path, w)
}

// ReadWireFile reads the wire file a child's -wire flag names.
func ReadWireFile(path string) (Wire, error) {
	var w Wire
	ok, err := atomicfile.ReadJSON(path, &w)
	if err != nil {
		return Wire{}, fmt.Errorf("read wire file %s: %w", path, err)
	}
	if !ok {
		return Wire{}, fmt.Errorf("wire file %s not found", path)
	}
	return w, nil
}
