// Command carina-learner runs the Learning Core Worker's consumed/emitted
// edges (C6): the command-pipe RPC client, per-step state forwarding to the
// Safety Arbiter, veto consumption, and episode-boundary event emission.
// Phase-selection policy itself is a placeholder; see internal/learner.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"os"

	"carina/internal/eventstore"
	"carina/internal/launcher"
	"carina/internal/learner"
	"carina/internal/model"
	"carina/internal/safety"
	"carina/internal/telemetry/logging"
	"carina/internal/transport"
)

func main() {
	var settingsPath, wirePath string
	flag.StringVar(&settingsPath, "settings", "settings.yaml", "Path to the shared settings document (unused by this worker, accepted for a uniform CLI surface)")
	flag.StringVar(&wirePath, "wire", "", "Path to the wire.json address book written by the launcher")
	flag.Parse()
	_ = settingsPath

	log := logging.NewJSON("carina-learner", "learner", slog.LevelInfo)
	ctx, stop := launcher.SignalContext(context.Background(), log)
	defer stop()

	wire, err := launcher.ReadWireFile(wirePath)
	if err != nil {
		log.ErrorCtx(ctx, "failed to read wire file", "error", err)
		os.Exit(1)
	}

	pipeAddr, err := wire.Address(launcher.EndpointPipe)
	if err != nil {
		log.ErrorCtx(ctx, "unknown endpoint", "error", err)
		os.Exit(1)
	}
	pipe, err := transport.DialRetry(ctx, wire.Network, pipeAddr, transport.DialRetryOptions{})
	if err != nil {
		log.ErrorCtx(ctx, "failed to reach central controller command pipe", "error", err)
		os.Exit(1)
	}
	defer pipe.Close()

	stateAddr, err := wire.Address(launcher.EndpointLearnerSafetyState)
	if err != nil {
		log.ErrorCtx(ctx, "unknown endpoint", "error", err)
		os.Exit(1)
	}
	stateClient, err := transport.DialQueueRetry[model.StepSnapshot](ctx, wire.Network, stateAddr, transport.DialRetryOptions{})
	if err != nil {
		log.ErrorCtx(ctx, "failed to reach safety arbiter", "error", err)
		os.Exit(1)
	}
	defer stateClient.Close()

	vetoAddr, err := wire.Address(launcher.EndpointSafetyLearnerVeto)
	if err != nil {
		log.ErrorCtx(ctx, "unknown endpoint", "error", err)
		os.Exit(1)
	}
	vetoQueue := transport.NewQueue[safety.Veto](transport.QueueOptions{Name: "learner-veto", Capacity: 4, Log: log})
	vetoLn, err := net.Listen(wire.Network, vetoAddr)
	if err != nil {
		log.ErrorCtx(ctx, "failed to bind veto listener", "error", err)
		os.Exit(1)
	}
	go func() {
		defer vetoLn.Close()
		if err := transport.ServeQueue(ctx, vetoLn, vetoQueue); err != nil && ctx.Err() == nil {
			log.WarnCtx(ctx, "veto listener exited", "error", err)
		}
	}()

	eventAddr, err := wire.Address(launcher.EndpointLearnerEventStore)
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

	loop := learner.New(pipe, transport.NewClientSink(stateClient), vetoQueue, transport.NewClientSink(eventClient), log)
	_ = loop.Run(ctx)
}
