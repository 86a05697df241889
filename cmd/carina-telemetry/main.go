// Command carina-telemetry runs the Heatmap Telemetry Worker (C3): it
// consumes the Central Controller's per-step state, aggregates per-edge
// congestion and per-traffic-light panel state, broadcasts it over
// WebSocket to dashboard clients, and forwards operator commands read back
// from those clients to the Central Controller's UI queue.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"carina/internal/config"
	"carina/internal/heatmap"
	"carina/internal/launcher"
	"carina/internal/model"
	"carina/internal/telemetry/logging"
	"carina/internal/transport"
)

func main() {
	var settingsPath, wirePath, httpAddr string
	flag.StringVar(&settingsPath, "settings", "settings.yaml", "Path to the shared settings document")
	flag.StringVar(&wirePath, "wire", "", "Path to the wire.json address book written by the launcher")
	flag.StringVar(&httpAddr, "listen-http", ":8765", "Address the dashboard WebSocket endpoint listens on")
	flag.Parse()

	log := logging.NewJSON("carina-telemetry", "heatmap", slog.LevelInfo)
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

	uiAddr, err := wire.Address(launcher.EndpointUIController)
	if err != nil {
		log.ErrorCtx(ctx, "unknown endpoint", "error", err)
		os.Exit(1)
	}
	uiClient, err := transport.DialQueueRetry[model.UICommand](ctx, wire.Network, uiAddr, transport.DialRetryOptions{})
	if err != nil {
		log.ErrorCtx(ctx, "failed to reach central controller ui queue", "error", err)
		os.Exit(1)
	}
	defer uiClient.Close()

	processor := heatmap.NewProcessor(cfg.HeatmapScaling)
	go func() {
		if err := heatmap.WatchWeights(ctx, cfg.ScenarioDir(), processor, log); err != nil && ctx.Err() == nil {
			log.WarnCtx(ctx, "heatmap weight watcher exited", "error", err)
		}
	}()

	var mu sync.Mutex
	var lastPositions map[string]model.JunctionPosition
	hub := heatmap.NewHub(transport.NewClientSink(uiClient), log, func() heatmap.InitialGeometry {
		mu.Lock()
		defer mu.Unlock()
		return processor.Geometry(lastPositions)
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeHTTP)
	srv := &http.Server{Addr: httpAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		log.InfoCtx(ctx, "dashboard websocket endpoint listening", "addr", httpAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.ErrorCtx(ctx, "dashboard http server exited", "error", err)
		}
	}()

	stateAddr, err := wire.Address(launcher.EndpointControllerTelemetry)
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

	stateQueue := transport.NewQueue[model.StepSnapshot](transport.QueueOptions{Name: "telemetry-state", Capacity: 4, Log: log})
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
		mu.Lock()
		lastPositions = snap.JunctionPositions
		mu.Unlock()
		update, err := processor.Process(snap)
		if err != nil {
			log.WarnCtx(ctx, "failed to process step snapshot", "error", err)
			continue
		}
		hub.Broadcast(update)
	}
}
