// Command carina-analysis runs the Analysis Worker (C4): it accumulates a
// long window of per-step state from the Central Controller and, once
// triggered, runs the eight-step infrastructure-analysis pipeline,
// persisting artifacts, enqueuing a summary to the Event Store, and
// rendering a planning map.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"os"

	"carina/internal/analysis"
	"carina/internal/config"
	"carina/internal/eventstore"
	"carina/internal/launcher"
	"carina/internal/model"
	"carina/internal/telemetry/logging"
	"carina/internal/transport"
)

func main() {
	var settingsPath, wirePath string
	flag.StringVar(&settingsPath, "settings", "settings.yaml", "Path to the shared settings document")
	flag.StringVar(&wirePath, "wire", "", "Path to the wire.json address book written by the launcher")
	flag.Parse()

	log := logging.NewJSON("carina-analysis", "analysis", slog.LevelInfo)
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

	eventAddr, err := wire.Address(launcher.EndpointAnalysisEventStore)
	if err != nil {
		log.ErrorCtx(ctx, "unknown endpoint", "error", err)
		os.Exit(1)
	}
	eventClient, err := transport.DialQueueRetry[eventstore.Packet](ctx, wire.Network, eventAddr, transport.DialRetryOptions{})
	if err != nil {
		log.ErrorCtx(ctx, "failed to reach event store", "error", err)
		os.Exit(1)
	}
	defer eventClient.Close()

	worker := analysis.NewWorker(cfg.InfrastructureAnalysis, cfg.ResultsDir, transport.NewClientSink(eventClient), analysis.NewPNGRenderer(), log)

	stateAddr, err := wire.Address(launcher.EndpointControllerAnalysis)
	if err != nil {
		log.ErrorCtx(ctx, "unknown endpoint", "error", err)
		os.Exit(1)
	}
	stateLn, err := net.Listen(wire.Network, stateAddr)
	if err != nil {
		log.ErrorCtx(ctx, "failed to bind state listener", "error", err)
		os.Exit(1)
	}
	defer stateLn.Close()

	stateQueue := transport.NewQueue[model.StepSnapshot](transport.QueueOptions{Name: "analysis-state", Capacity: 4, Log: log})
	go func() {
		if err := transport.ServeQueue(ctx, stateLn, stateQueue); err != nil && ctx.Err() == nil {
			log.WarnCtx(ctx, "state listener exited", "error", err)
		}
	}()

	for {
		snap, ok := stateQueue.Recv(ctx)
		if !ok {
			return
		}
		if err := worker.Ingest(snap); err != nil {
			log.WarnCtx(ctx, "failed to ingest step snapshot", "error", err)
			continue
		}
		if err := worker.MaybeRun(ctx, snap.RunID, snap.ScenarioName, snap); err != nil {
			log.ErrorCtx(ctx, "infrastructure analysis run failed", "error", err)
		}
	}
}
