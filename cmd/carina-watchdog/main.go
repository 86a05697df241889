// Command carina-watchdog runs the Watchdog (C2): it enqueues one failsafe
// command a second to the Central Controller, independent of every other
// process's state.
package main

import (
	"context"
	"flag"
	"log/slog"

	"carina/internal/launcher"
	"carina/internal/model"
	"carina/internal/telemetry/logging"
	"carina/internal/transport"
	"carina/internal/watchdog"
)

func main() {
	var wirePath string
	flag.String("settings", "settings.yaml", "Path to the shared settings document (unused by this worker, accepted for a uniform CLI surface)")
	flag.StringVar(&wirePath, "wire", "", "Path to the wire.json address book written by the launcher")
	flag.Parse()

	log := logging.NewJSON("carina-watchdog", "watchdog", slog.LevelInfo)
	ctx, stop := launcher.SignalContext(context.Background(), log)
	defer stop()

	wire, err := launcher.ReadWireFile(wirePath)
	if err != nil {
		log.ErrorCtx(ctx, "failed to read wire file", "error", err)
		return
	}
	addr, err := wire.Address(launcher.EndpointWatchdogController)
	if err != nil {
		log.ErrorCtx(ctx, "unknown endpoint", "error", err)
		return
	}

	client, err := transport.DialQueueRetry[model.WatchdogCommand](ctx, wire.Network, addr, transport.DialRetryOptions{})
	if err != nil {
		log.ErrorCtx(ctx, "failed to reach central controller", "error", err)
		return
	}
	defer client.Close()

	watchdog.Run(ctx, transport.NewClientSink(client), log)
}
