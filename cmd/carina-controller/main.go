// Command carina-controller runs the Central Controller (C7): the sole
// owner of the simulator connection. It accepts the command pipe from the
// Learning Core, serves the UI and watchdog queues, and fans out per-step
// state to the Heatmap Telemetry and Analysis workers.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"os"
	"time"

	"carina/internal/config"
	"carina/internal/controller"
	"carina/internal/launcher"
	"carina/internal/model"
	"carina/internal/simclient"
	"carina/internal/simproxy"
	"carina/internal/telemetry/logging"
	"carina/internal/transport"
)

func main() {
	var settingsPath, wirePath, simNetwork, simAddress string
	flag.StringVar(&settingsPath, "settings", "settings.yaml", "Path to the shared settings document")
	flag.StringVar(&wirePath, "wire", "", "Path to the wire.json address book written by the launcher")
	flag.StringVar(&simNetwork, "sim-network", "tcp", "Network for the simulator connection (tcp)")
	flag.StringVar(&simAddress, "sim-address", "127.0.0.1:8813", "Address of the running simulator's command/query socket")
	flag.Parse()

	log := logging.NewJSON("carina-controller", "controller", slog.LevelInfo)
	ctx, stop := launcher.SignalContext(context.Background(), log)
	defer stop()

	cfg, err := config.Load(settingsPath)
	if err != nil {
		log.ErrorCtx(ctx, "failed to load settings", "error", err)
		os.Exit(1)
	}
	wire, err := launcher.ReadWireFile(wirePath)
	if err != nil {
		log.ErrorCtx(ctx, "failed to read wire file", "error", err)
		os.Exit(1)
	}

	runID, err := launcher.WaitForRunID(ctx, cfg.ScenarioDir(), 0)
	if err != nil {
		log.ErrorCtx(ctx, "failed to obtain run id from event store", "error", err)
		os.Exit(1)
	}

	sim, err := simclient.Connect(ctx, simclient.Config{
		Network:       simNetwork,
		Address:       simAddress,
		NumRetries:    cfg.Sumo.NumRetries,
		RetryInterval: time.Duration(cfg.Sumo.RetryInterval * float64(time.Second)),
	})
	if err != nil {
		log.ErrorCtx(ctx, "failed to connect to simulator", "error", err)
		os.Exit(1)
	}
	defer sim.Close()

	pipeAddr, err := wire.Address(launcher.EndpointPipe)
	if err != nil {
		log.ErrorCtx(ctx, "unknown endpoint", "error", err)
		os.Exit(1)
	}
	pipeLn, err := net.Listen(wire.Network, pipeAddr)
	if err != nil {
		log.ErrorCtx(ctx, "failed to bind command pipe listener", "error", err)
		os.Exit(1)
	}
	defer pipeLn.Close()
	session, err := transport.Accept[simproxy.Request](pipeLn)
	if err != nil {
		log.ErrorCtx(ctx, "failed to accept command pipe connection", "error", err)
		os.Exit(1)
	}
	defer session.Close()

	uiQueue := transport.NewQueue[model.UICommand](transport.QueueOptions{Name: "ui", Capacity: 16, Log: log})
	uiLn, err := listenFor(wire, launcher.EndpointUIController)
	if err != nil {
		log.ErrorCtx(ctx, "failed to bind ui listener", "error", err)
		os.Exit(1)
	}
	defer uiLn.Close()
	go serveQueue(ctx, uiLn, uiQueue, log, "ui")

	watchdogQueue := transport.NewQueue[model.WatchdogCommand](transport.QueueOptions{Name: "watchdog", Capacity: 4, Log: log})
	watchdogLn, err := listenFor(wire, launcher.EndpointWatchdogController)
	if err != nil {
		log.ErrorCtx(ctx, "failed to bind watchdog listener", "error", err)
		os.Exit(1)
	}
	defer watchdogLn.Close()
	go serveQueue(ctx, watchdogLn, watchdogQueue, log, "watchdog")

	telemetryQueue, stopTelemetry, err := dialForward[model.StepSnapshot](ctx, wire, launcher.EndpointControllerTelemetry, "telemetry", log)
	if err != nil {
		log.ErrorCtx(ctx, "failed to reach heatmap telemetry worker", "error", err)
		os.Exit(1)
	}
	defer stopTelemetry()

	analysisQueue, stopAnalysis, err := dialForward[model.StepSnapshot](ctx, wire, launcher.EndpointControllerAnalysis, "analysis", log)
	if err != nil {
		log.ErrorCtx(ctx, "failed to reach analysis worker", "error", err)
		os.Exit(1)
	}
	defer stopAnalysis()

	ctrl, err := controller.New(ctx, controller.Deps{
		Sim:       sim,
		UI:        uiQueue,
		Watchdog:  watchdogQueue,
		Session:   session,
		Telemetry: telemetryQueue,
		Analysis:  analysisQueue,
		Cfg:       cfg,
		Log:       log,
		RunID:     runID,
	})
	if err != nil {
		log.ErrorCtx(ctx, "failed to initialize controller", "error", err)
		os.Exit(1)
	}

	if err := ctrl.Run(ctx); err != nil && ctx.Err() == nil {
		log.ErrorCtx(ctx, "central controller exited with error", "error", err)
		os.Exit(1)
	}
}

func listenFor(wire launcher.Wire, endpoint string) (net.Listener, error) {
	addr, err := wire.Address(endpoint)
	if err != nil {
		return nil, err
	}
	return net.Listen(wire.Network, addr)
}

func serveQueue[T any](ctx context.Context, ln net.Listener, q *transport.Queue[T], log logging.Logger, name string) {
	if err := transport.ServeQueue(ctx, ln, q); err != nil && ctx.Err() == nil {
		log.WarnCtx(ctx, "queue listener exited", "queue", name, "error", err)
	}
}

// dialForward dials endpoint as a producer and returns a local in-process
// queue the Central Controller sends StepSnapshots into, plus a stop
// function; a background goroutine forwards everything sent to the local
// queue over the wire to the remote consumer in another process.
func dialForward[T any](ctx context.Context, wire launcher.Wire, endpoint, name string, log logging.Logger) (*transport.Queue[T], func(), error) {
	addr, err := wire.Address(endpoint)
	if err != nil {
		return nil, nil, err
	}
	client, err := transport.DialQueueRetry[T](ctx, wire.Network, addr, transport.DialRetryOptions{})
	if err != nil {
		return nil, nil, err
	}
	local := transport.NewQueue[T](transport.QueueOptions{Name: name, Capacity: 4, Log: log})
	go transport.ForwardToClient(ctx, local, client)
	return local, func() { _ = client.Close() }, nil
}
