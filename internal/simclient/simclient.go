// Package simclient is the Central Controller's sole connection to the
// external microscopic traffic simulator. The simulator itself, and its
// wire protocol, are an external collaborator per the specification's own
// scoping ("only the interfaces they consume and emit are specified"); this
// package defines the narrow interface the controller needs and a TCP-based
// implementation using the same length-prefixed JSON framing as the rest of
// the transport substrate, reusing the simulator's own bidirectional
// command/query socket rather than inventing a second wire format.
package simclient

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"carina/internal/errs"
	"carina/internal/model"
	"carina/internal/simproxy"
)

// Client is the set of operations the Central Controller performs against
// the simulator connection it exclusively owns.
type Client interface {
	// ConfigurationFile returns the loaded scenario's configuration
	// filename, used to derive scenarioName.
	ConfigurationFile(ctx context.Context) (string, error)
	// SimulationStep advances the simulator by one step.
	SimulationStep(ctx context.Context) error
	// Invoke executes an arbitrary catalog request and returns its raw
	// result, used for pass-through AI RPCs that are not custom.* and not
	// gated by the Override Manager.
	Invoke(ctx context.Context, req simproxy.Request) (any, error)
	// TrafficLightIDs lists every traffic light in the loaded scenario.
	TrafficLightIDs(ctx context.Context) ([]string, error)
	// ControlledLaneCount returns len(getControlledLanes(id)).
	ControlledLaneCount(ctx context.Context, trafficLightID string) (int, error)
	// ControlledLanes returns the lane IDs controlled by the traffic light,
	// in the simulator's order; duplicate lane IDs are not removed.
	ControlledLanes(ctx context.Context, trafficLightID string) ([]string, error)
	// SetRedYellowGreenState forces a raw signal string.
	SetRedYellowGreenState(ctx context.Context, trafficLightID, state string) error
	// CurrentProgram returns the traffic light's active program ID.
	CurrentProgram(ctx context.Context, trafficLightID string) (string, error)
	// SetProgram switches a traffic light to the given program ID.
	SetProgram(ctx context.Context, trafficLightID, programID string) error
	// Phase returns the traffic light's current phase index.
	Phase(ctx context.Context, trafficLightID string) (int, error)
	// RedYellowGreenState returns the traffic light's raw per-lane signal
	// string (one char per controlled lane: g/G/y/Y/s/r/R/u/o).
	RedYellowGreenState(ctx context.Context, trafficLightID string) (string, error)

	// LaneIDs lists every lane in the loaded scenario.
	LaneIDs(ctx context.Context) ([]string, error)
	// LaneOccupancy returns the lane's last-step occupancy fraction.
	LaneOccupancy(ctx context.Context, laneID string) (float64, error)
	// LaneWaitingTime returns the lane's accumulated waiting time.
	LaneWaitingTime(ctx context.Context, laneID string) (float64, error)
	// LaneVehicleIDs lists the vehicles present on the lane in the last step.
	LaneVehicleIDs(ctx context.Context, laneID string) ([]string, error)

	// EdgeIDs lists every edge in the loaded scenario.
	EdgeIDs(ctx context.Context) ([]string, error)
	// EdgeMeanSpeed returns the edge's last-step mean speed in m/s.
	EdgeMeanSpeed(ctx context.Context, edgeID string) (float64, error)

	// JunctionIDs lists every junction in the loaded scenario.
	JunctionIDs(ctx context.Context) ([]string, error)
	// JunctionPosition returns the junction's coordinates.
	JunctionPosition(ctx context.Context, junctionID string) (model.JunctionPosition, error)

	// SimulationTime returns the simulator's current time, in seconds.
	SimulationTime(ctx context.Context) (float64, error)
	// StartingTeleportIDs lists vehicles that teleported at the start of
	// the last step.
	StartingTeleportIDs(ctx context.Context) ([]string, error)
	// EmergencyStoppingVehicleIDs lists vehicles braking harder than their
	// configured emergency deceleration in the last step.
	EmergencyStoppingVehicleIDs(ctx context.Context) ([]string, error)
	// VehiclePosition returns a vehicle's coordinates.
	VehiclePosition(ctx context.Context, vehicleID string) (model.JunctionPosition, error)
	// MinExpectedVehicleNumber returns the number of vehicles still expected
	// to enter the simulation (running plus pending insertion); the
	// simulation is considered over once this reaches zero.
	MinExpectedVehicleNumber(ctx context.Context) (int, error)

	// Close disconnects. Idempotent.
	Close() error
}

// Config describes how to reach the simulator.
type Config struct {
	Network       string
	Address       string
	NumRetries    int
	RetryInterval time.Duration
}

// rpcEnvelope is the wire shape exchanged with the simulator process.
type rpcEnvelope struct {
	Module   simproxy.Module `json:"module"`
	Function string          `json:"function"`
	Args     []any           `json:"args,omitempty"`
	Kwargs   map[string]any  `json:"kwargs,omitempty"`
}

type rpcResult struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// tcpClient is the production Client, connected over Config.Network/Address.
type tcpClient struct {
	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

// Connect dials the simulator with bounded retries, per "retry with
// bounded backoff until connected or configured attempt cap."
func Connect(ctx context.Context, cfg Config) (Client, error) {
	if cfg.NumRetries <= 0 {
		cfg.NumRetries = 60
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}
	var lastErr error
	d := net.Dialer{}
	for attempt := 0; attempt <= cfg.NumRetries; attempt++ {
		conn, err := d.DialContext(ctx, cfg.Network, cfg.Address)
		if err == nil {
			c := &tcpClient{conn: conn, r: bufio.NewReader(conn), w: bufio.NewWriter(conn)}
			if _, err := c.call(ctx, rpcEnvelope{Module: simproxy.ModuleSimulation, Function: "setOrder", Args: []any{0}}); err != nil {
				_ = conn.Close()
				return nil, errs.New(errs.Connection, "setOrder after connect", err)
			}
			return c, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.RetryInterval):
		}
	}
	return nil, errs.New(errs.Connection, fmt.Sprintf("connect to simulator at %s %s after %d attempts", cfg.Network, cfg.Address, cfg.NumRetries+1), lastErr)
}

func (c *tcpClient) call(ctx context.Context, req rpcEnvelope) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(req)
	if err != nil {
		return nil, errs.New(errs.Protocol, "encode simulator request", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := c.w.Write(lenBuf[:]); err != nil {
		return nil, errs.New(errs.Transport, "write simulator request", err)
	}
	if _, err := c.w.Write(data); err != nil {
		return nil, errs.New(errs.Transport, "write simulator request body", err)
	}
	if err := c.w.Flush(); err != nil {
		return nil, errs.New(errs.Transport, "flush simulator request", err)
	}

	if _, err := io_ReadFull(c.r, lenBuf[:]); err != nil {
		return nil, errs.New(errs.Transport, "read simulator reply length", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io_ReadFull(c.r, body); err != nil {
		return nil, errs.New(errs.Transport, "read simulator reply", err)
	}
	var result rpcResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, errs.New(errs.Protocol, "decode simulator reply", err)
	}
	if result.Error != "" {
		return nil, errs.New(errs.Simulator, "simulator reported error", fmt.Errorf("%s", result.Error))
	}
	return result.Result, nil
}

func (c *tcpClient) ConfigurationFile(ctx context.Context) (string, error) {
	v, err := c.call(ctx, rpcEnvelope{Module: simproxy.ModuleSimulation, Function: "getOption", Args: []any{"configuration-file"}})
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (c *tcpClient) SimulationStep(ctx context.Context) error {
	_, err := c.call(ctx, rpcEnvelope{Module: simproxy.ModuleSimulation, Function: "simulationStep"})
	return err
}

func (c *tcpClient) Invoke(ctx context.Context, req simproxy.Request) (any, error) {
	return c.call(ctx, rpcEnvelope{Module: req.Module, Function: req.Function, Args: req.Args, Kwargs: req.Kwargs})
}

func (c *tcpClient) TrafficLightIDs(ctx context.Context) ([]string, error) {
	v, err := c.call(ctx, rpcEnvelope{Module: simproxy.ModuleTrafficLight, Function: "getIDList"})
	if err != nil {
		return nil, err
	}
	return toStringSlice(v), nil
}

func (c *tcpClient) ControlledLaneCount(ctx context.Context, trafficLightID string) (int, error) {
	lanes, err := c.ControlledLanes(ctx, trafficLightID)
	if err != nil {
		return 0, err
	}
	return len(lanes), nil
}

func (c *tcpClient) ControlledLanes(ctx context.Context, trafficLightID string) ([]string, error) {
	v, err := c.call(ctx, rpcEnvelope{Module: simproxy.ModuleTrafficLight, Function: "getControlledLanes", Args: []any{trafficLightID}})
	if err != nil {
		return nil, err
	}
	return toStringSlice(v), nil
}

func (c *tcpClient) SetRedYellowGreenState(ctx context.Context, trafficLightID, state string) error {
	_, err := c.call(ctx, rpcEnvelope{Module: simproxy.ModuleTrafficLight, Function: "setRedYellowGreenState", Args: []any{trafficLightID, state}})
	return err
}

func (c *tcpClient) CurrentProgram(ctx context.Context, trafficLightID string) (string, error) {
	v, err := c.call(ctx, rpcEnvelope{Module: simproxy.ModuleTrafficLight, Function: "getProgram", Args: []any{trafficLightID}})
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (c *tcpClient) SetProgram(ctx context.Context, trafficLightID, programID string) error {
	_, err := c.call(ctx, rpcEnvelope{Module: simproxy.ModuleTrafficLight, Function: "setProgram", Args: []any{trafficLightID, programID}})
	return err
}

func (c *tcpClient) Phase(ctx context.Context, trafficLightID string) (int, error) {
	v, err := c.call(ctx, rpcEnvelope{Module: simproxy.ModuleTrafficLight, Function: "getPhase", Args: []any{trafficLightID}})
	if err != nil {
		return 0, err
	}
	return toInt(v), nil
}

func (c *tcpClient) RedYellowGreenState(ctx context.Context, trafficLightID string) (string, error) {
	v, err := c.call(ctx, rpcEnvelope{Module: simproxy.ModuleTrafficLight, Function: "getRedYellowGreenState", Args: []any{trafficLightID}})
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (c *tcpClient) LaneIDs(ctx context.Context) ([]string, error) {
	v, err := c.call(ctx, rpcEnvelope{Module: simproxy.ModuleLane, Function: "getIDList"})
	if err != nil {
		return nil, err
	}
	return toStringSlice(v), nil
}

func (c *tcpClient) LaneOccupancy(ctx context.Context, laneID string) (float64, error) {
	v, err := c.call(ctx, rpcEnvelope{Module: simproxy.ModuleLane, Function: "getLastStepOccupancy", Args: []any{laneID}})
	if err != nil {
		return 0, err
	}
	return toFloat(v), nil
}

func (c *tcpClient) LaneWaitingTime(ctx context.Context, laneID string) (float64, error) {
	v, err := c.call(ctx, rpcEnvelope{Module: simproxy.ModuleLane, Function: "getWaitingTime", Args: []any{laneID}})
	if err != nil {
		return 0, err
	}
	return toFloat(v), nil
}

func (c *tcpClient) LaneVehicleIDs(ctx context.Context, laneID string) ([]string, error) {
	v, err := c.call(ctx, rpcEnvelope{Module: simproxy.ModuleLane, Function: "getLastStepVehicleIDs", Args: []any{laneID}})
	if err != nil {
		return nil, err
	}
	return toStringSlice(v), nil
}

func (c *tcpClient) EdgeIDs(ctx context.Context) ([]string, error) {
	v, err := c.call(ctx, rpcEnvelope{Module: simproxy.ModuleEdge, Function: "getIDList"})
	if err != nil {
		return nil, err
	}
	return toStringSlice(v), nil
}

func (c *tcpClient) EdgeMeanSpeed(ctx context.Context, edgeID string) (float64, error) {
	v, err := c.call(ctx, rpcEnvelope{Module: simproxy.ModuleEdge, Function: "getLastStepMeanSpeed", Args: []any{edgeID}})
	if err != nil {
		return 0, err
	}
	return toFloat(v), nil
}

func (c *tcpClient) JunctionIDs(ctx context.Context) ([]string, error) {
	v, err := c.call(ctx, rpcEnvelope{Module: simproxy.ModuleJunction, Function: "getIDList"})
	if err != nil {
		return nil, err
	}
	return toStringSlice(v), nil
}

func (c *tcpClient) JunctionPosition(ctx context.Context, junctionID string) (model.JunctionPosition, error) {
	v, err := c.call(ctx, rpcEnvelope{Module: simproxy.ModuleJunction, Function: "getPosition", Args: []any{junctionID}})
	if err != nil {
		return model.JunctionPosition{}, err
	}
	return toPosition(v), nil
}

func (c *tcpClient) SimulationTime(ctx context.Context) (float64, error) {
	v, err := c.call(ctx, rpcEnvelope{Module: simproxy.ModuleSimulation, Function: "getTime"})
	if err != nil {
		return 0, err
	}
	return toFloat(v), nil
}

func (c *tcpClient) StartingTeleportIDs(ctx context.Context) ([]string, error) {
	v, err := c.call(ctx, rpcEnvelope{Module: simproxy.ModuleSimulation, Function: "getStartingTeleportIDList"})
	if err != nil {
		return nil, err
	}
	return toStringSlice(v), nil
}

func (c *tcpClient) EmergencyStoppingVehicleIDs(ctx context.Context) ([]string, error) {
	v, err := c.call(ctx, rpcEnvelope{Module: simproxy.ModuleSimulation, Function: "getEmergencyStoppingVehiclesIDList"})
	if err != nil {
		return nil, err
	}
	return toStringSlice(v), nil
}

func (c *tcpClient) VehiclePosition(ctx context.Context, vehicleID string) (model.JunctionPosition, error) {
	v, err := c.call(ctx, rpcEnvelope{Module: simproxy.ModuleVehicle, Function: "getPosition", Args: []any{vehicleID}})
	if err != nil {
		return model.JunctionPosition{}, err
	}
	return toPosition(v), nil
}

func (c *tcpClient) MinExpectedVehicleNumber(ctx context.Context) (int, error) {
	v, err := c.call(ctx, rpcEnvelope{Module: simproxy.ModuleSimulation, Function: "getMinExpectedNumber"})
	if err != nil {
		return 0, err
	}
	return toInt(v), nil
}

func (c *tcpClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// toFloat coerces a decoded JSON number (always float64 via encoding/json)
// to float64; a reply of an unexpected shape is treated as zero rather
// than panicking, matching the rest of this client's lenient decoding.
func toFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

func toInt(v any) int {
	return int(toFloat(v))
}

// toPosition decodes a [x, y] coordinate pair as returned by
// junction.getPosition/vehicle.getPosition.
func toPosition(v any) model.JunctionPosition {
	raw, ok := v.([]any)
	if !ok || len(raw) < 2 {
		return model.JunctionPosition{}
	}
	return model.JunctionPosition{X: toFloat(raw[0]), Y: toFloat(raw[1])}
}

func toStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// ToolsHome reads the environment variable naming the simulator tools
// installation, per "one environment variable for simulator tools path."
func ToolsHome() string { return os.Getenv("CARINA_SUMO_HOME") }

// io_ReadFull is a tiny indirection kept local to avoid importing io just
// for this one call site's naming; equivalent to io.ReadFull.
func io_ReadFull(r *bufio.Reader, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		n, err := r.Read(buf[read:])
		read += n
		if err != nil {
			return read, err
		}
	}
	return read, nil
}
