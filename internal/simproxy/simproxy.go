// Package simproxy defines the statically-typed tagged union that replaces
// the original dynamic "any module, any function" RPC proxy: a finite
// catalog of simulator modules (lane, edge, trafficlight, simulation,
// junction, vehicle, gui) plus a custom variant for the two internally
// dispatched operations.
package simproxy

import "fmt"

// Module names the finite catalog of simulator surfaces the control plane
// actually exercises.
type Module string

const (
	ModuleLane         Module = "lane"
	ModuleEdge         Module = "edge"
	ModuleTrafficLight Module = "trafficlight"
	ModuleSimulation   Module = "simulation"
	ModuleJunction     Module = "junction"
	ModuleVehicle      Module = "vehicle"
	ModuleGUI          Module = "gui"
	ModuleCustom       Module = "custom"
)

func (m Module) known() bool {
	switch m {
	case ModuleLane, ModuleEdge, ModuleTrafficLight, ModuleSimulation, ModuleJunction, ModuleVehicle, ModuleGUI, ModuleCustom:
		return true
	default:
		return false
	}
}

// Custom sub-tags dispatched internally by the Central Controller.
const (
	CustomUpdateMaturityState = "update_maturity_state"
	CustomGetBatchedStepData  = "get_batched_step_data"
)

// Request is the 4-tuple (moduleName, functionName, positionalArgs,
// namedArgs) wire format every RPC over the command pipe uses.
type Request struct {
	Module   Module         `json:"module"`
	Function string         `json:"function"`
	Args     []any          `json:"args,omitempty"`
	Kwargs   map[string]any `json:"kwargs,omitempty"`
}

// Validate rejects requests outside the finite catalog, per the design
// note "unknown operations return a protocol error."
func (r Request) Validate() error {
	if !r.Module.known() {
		return fmt.Errorf("unknown simulator module %q", r.Module)
	}
	if r.Function == "" {
		return fmt.Errorf("empty function name for module %q", r.Module)
	}
	return nil
}

// IsPhaseSet reports whether this request is a trafficlight.setPhase call,
// the one request shape the Override Manager's gate function inspects.
func (r Request) IsPhaseSet() (trafficLightID string, ok bool) {
	if r.Module != ModuleTrafficLight || r.Function != "setPhase" || len(r.Args) == 0 {
		return "", false
	}
	id, ok := r.Args[0].(string)
	return id, ok
}

// Response carries either a result value or an error description; exactly
// one of Result/Error is meaningful. A nil Result with no Error means
// "intentionally suppressed" (e.g. a dropped phase-set while an override
// is active).
type Response struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// OK builds a successful response.
func OK(result any) Response { return Response{Result: result} }

// Suppressed builds the "intentionally suppressed" null response.
func Suppressed() Response { return Response{} }

// Err builds an error response carrying at least the message, per the
// wire format's "bearing at least the error message" requirement.
func Err(err error) Response {
	if err == nil {
		return Response{}
	}
	return Response{Error: err.Error()}
}

// HasError reports whether the response carries an error.
func (r Response) HasError() bool { return r.Error != "" }

// ShutdownRequest is the sentinel sent to the Learning Core on controller
// shutdown: ("system","shutdown",(),{}).
func ShutdownRequest() Request {
	return Request{Module: "system", Function: "shutdown"}
}

// IsShutdown reports whether r is the shutdown sentinel.
func (r Request) IsShutdown() bool {
	return r.Module == "system" && r.Function == "shutdown"
}
