// Command carina-eventstore runs the Event Store Worker (C1): it owns the
// append-only SQLite database, assigns the run id every other process tags
// its records with, and persists whatever arrives on either of its two
// producer-facing queues (the Analysis Worker and the Learning Core).
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"carina/internal/config"
	"carina/internal/eventstore"
	"carina/internal/launcher"
	"carina/internal/telemetry/logging"
	"carina/internal/transport"
)

func main() {
	var settingsPath, wirePath string
	flag.StringVar(&settingsPath, "settings", "settings.yaml", "Path to the shared settings document")
	flag.StringVar(&wirePath, "wire", "", "Path to the wire.json address book written by the launcher")
	flag.Parse()

	log := logging.NewJSON("carina-eventstore", "eventstore", slog.LevelInfo)
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

	scenarioDir := cfg.ScenarioDir()
	if err := os.MkdirAll(scenarioDir, 0o755); err != nil {
		log.ErrorCtx(ctx, "failed to create scenario directory", "error", err)
		os.Exit(1)
	}

	store, err := eventstore.Open(filepath.Join(scenarioDir, "event_store.sqlite3"))
	if err != nil {
		log.ErrorCtx(ctx, "failed to open event store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	runID, err := store.CreateSimulationRun(ctx, cfg.ScenarioName)
	if err != nil {
		log.ErrorCtx(ctx, "failed to create simulation run", "error", err)
		os.Exit(1)
	}
	if err := launcher.WriteRunID(scenarioDir, runID); err != nil {
		log.ErrorCtx(ctx, "failed to publish run id", "error", err)
		os.Exit(1)
	}
	log.InfoCtx(ctx, "simulation run created", "run_id", runID)

	inbound := transport.NewQueue[eventstore.Packet](transport.QueueOptions{
		Name: "eventstore-inbound", Capacity: 256, Durable: true, Log: log,
	})

	for _, endpoint := range []string{launcher.EndpointAnalysisEventStore, launcher.EndpointLearnerEventStore} {
		ln, err := listenEndpoint(wire, endpoint)
		if err != nil {
			log.ErrorCtx(ctx, "failed to bind listener", "endpoint", endpoint, "error", err)
			os.Exit(1)
		}
		go func(endpoint string, ln net.Listener) {
			defer ln.Close()
			if err := transport.ServeQueue(ctx, ln, inbound); err != nil && ctx.Err() == nil {
				log.WarnCtx(ctx, "queue listener exited", "endpoint", endpoint, "error", err)
			}
		}(endpoint, ln)
	}

	if err := store.Run(ctx, inbound, log); err != nil {
		log.ErrorCtx(ctx, "event store worker exited with error", "error", err)
		os.Exit(1)
	}
}

func listenEndpoint(wire launcher.Wire, endpoint string) (net.Listener, error) {
	addr, err := wire.Address(endpoint)
	if err != nil {
		return nil, err
	}
	return net.Listen(wire.Network, addr)
}
