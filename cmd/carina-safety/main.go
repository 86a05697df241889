// Command carina-safety runs the Safety Arbiter Worker (C5): it consumes
// the Central Controller's coalesced per-step state, evaluates a per-
// traffic-light advisory policy, and emits vetoes to the Learning Core.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"os"

	"carina/internal/config"
	"carina/internal/launcher"
	"carina/internal/model"
	"carina/internal/safety"
	"carina/internal/telemetry/logging"
	"carina/internal/transport"
)

func main() {
	var settingsPath, wirePath string
	flag.StringVar(&settingsPath, "settings", "settings.yaml", "Path to the shared settings document")
	flag.StringVar(&wirePath, "wire", "", "Path to the wire.json address book written by the launcher")
	flag.Parse()

	log := logging.NewJSON("carina-safety", "safety", slog.LevelInfo)
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

	stateAddr, err := wire.Address(launcher.EndpointLearnerSafetyState)
	if err != nil {
		log.ErrorCtx(ctx, "unknown endpoint", "error", err)
		os.Exit(1)
	}
	stateQueue := transport.NewQueue[model.StepSnapshot](transport.QueueOptions{Name: "safety-state", Capacity: 4, Log: log})
	stateLn, err := net.Listen(wire.Network, stateAddr)
	if err != nil {
		log.ErrorCtx(ctx, "failed to bind state listener", "error", err)
		os.Exit(1)
	}
	go func() {
		defer stateLn.Close()
		if err := transport.ServeQueue(ctx, stateLn, stateQueue); err != nil && ctx.Err() == nil {
			log.WarnCtx(ctx, "state listener exited", "error", err)
		}
	}()

	vetoAddr, err := wire.Address(launcher.EndpointSafetyLearnerVeto)
	if err != nil {
		log.ErrorCtx(ctx, "unknown endpoint", "error", err)
		os.Exit(1)
	}
	vetoClient, err := transport.DialQueueRetry[safety.Veto](ctx, wire.Network, vetoAddr, transport.DialRetryOptions{})
	if err != nil {
		log.ErrorCtx(ctx, "failed to reach learning core", "error", err)
		os.Exit(1)
	}
	defer vetoClient.Close()

	policy := safety.ThresholdPolicy{OccupancyCeiling: cfg.GuardianAgent.OccupancyVetoCeiling}
	arbiter := safety.NewArbiter(stateQueue, transport.NewClientSink(vetoClient), policy, log)
	arbiter.Run(ctx, 0)
}
