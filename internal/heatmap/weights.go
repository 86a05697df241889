package heatmap

import (
	"context"
	"path/filepath"
	"time"

	"carina/internal/atomicfile"
	"carina/internal/config"
	"carina/internal/telemetry/logging"

	"github.com/fsnotify/fsnotify"
)

// WeightsFileName is the scenario-directory file watched for hot-reloaded
// congestion weights.
const WeightsFileName = "heatmap_weights_live.json"

// WatchWeights watches scenarioDir for changes to WeightsFileName and
// swaps p's weights in, debounced to at most once every 5 seconds — the
// same "at most once every 5s" cadence the original polling loop used,
// realized here with fsnotify's event-driven watch instead of busy-polling.
func WatchWeights(ctx context.Context, scenarioDir string, p *Processor, log logging.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(scenarioDir); err != nil {
		return err
	}

	path := filepath.Join(scenarioDir, WeightsFileName)
	var debounce *time.Timer
	reload := func() {
		var raw config.HeatmapScalingSection
		ok, err := atomicfile.ReadJSON(path, &raw)
		if err != nil {
			log.WarnCtx(ctx, "failed to read hot-reloaded heatmap weights", "error", err)
			return
		}
		if !ok {
			return
		}
		p.SetWeights(raw)
		log.InfoCtx(ctx, "heatmap weights hot-reloaded",
			"weight_occupancy", raw.WeightOccupancy,
			"weight_waiting_time", raw.WeightWaitingTime,
			"weight_flow", raw.WeightFlow)
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != WeightsFileName {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(5*time.Second, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WarnCtx(ctx, "heatmap weights watcher error", "error", err)
		}
	}
}
