package analysis

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"carina/internal/atomicfile"
	"carina/internal/config"
	"carina/internal/eventstore"
	"carina/internal/heatmap"
	"carina/internal/model"
	"carina/internal/netfile"
	"carina/internal/telemetry/logging"
)

// EventSink is the Event Store's durable inbound queue, satisfied by
// *transport.Queue[eventstore.Packet].
type EventSink interface {
	Send(ctx context.Context, pkt eventstore.Packet) error
}

// Worker drives the triggered eight-step analysis pipeline atop a
// long-window Accumulator, one scenario directory at a time.
type Worker struct {
	cfg        config.InfrastructureAnalysisSection
	resultsDir string
	acc        *Accumulator
	events     EventSink
	render     MapRenderer
	log        logging.Logger

	lastAnalysisTime float64
	cachedMetrics    map[string]JunctionMetrics
	cacheLoaded      bool
}

// NewWorker constructs a Worker. render may be nil to skip step 7 (useful
// in tests); events may be nil to skip step 6.
func NewWorker(cfg config.InfrastructureAnalysisSection, resultsDir string, events EventSink, render MapRenderer, log logging.Logger) *Worker {
	return &Worker{
		cfg:        cfg,
		resultsDir: resultsDir,
		acc:        NewAccumulator(),
		events:     events,
		render:     render,
		log:        log,
	}
}

// Ingest folds one step's snapshot into the long-window accumulator.
func (w *Worker) Ingest(snap model.StepSnapshot) error {
	return w.acc.Ingest(snap)
}

func (w *Worker) scenarioDir(scenarioName string) string {
	return filepath.Join(w.resultsDir, scenarioName, "infrastructure_analysis")
}

// MaybeRun checks the trigger condition against the latest snapshot and,
// if due, runs the full pipeline and resets the accumulator.
func (w *Worker) MaybeRun(ctx context.Context, runID int64, scenarioName string, snap model.StepSnapshot) error {
	last := w.lastAnalysisTime
	if !w.cacheLoaded {
		// No run yet: only the initial delay gates the first analysis.
		last = math.Inf(-1)
	}
	if !ShouldAnalyze(snap.SimTime, last, w.cfg) {
		return nil
	}
	return w.run(ctx, runID, scenarioName, snap.NetFilePath, snap.SimTime)
}

func (w *Worker) run(ctx context.Context, runID int64, scenarioName, netFilePath string, simTime float64) error {
	if netFilePath == "" {
		return fmt.Errorf("run infrastructure analysis: no net file path observed yet")
	}

	analysisDir := w.scenarioDir(scenarioName)
	cachePath := filepath.Join(analysisDir, "analysis_cache.json")
	statusPath := filepath.Join(analysisDir, "analysis_status.json")
	mapPath := filepath.Join(analysisDir, "map_planning.png")

	// Step 1: parse the net file. It is parsed afresh on every run; the
	// junction topology is not cached between runs (only the Accumulator's
	// lane→edge resolution persists across steps).
	topo, err := netfile.BuildJunctionTopology(netFilePath)
	if err != nil {
		return fmt.Errorf("parse net file for analysis: %w", err)
	}

	// Step 2
	windowSeconds := simTime - w.lastAnalysisTime
	metrics := DeriveJunctionMetrics(topo, w.acc.DepartedPerLane(), w.acc.WaitingPerLane(), w.acc.ConflictPerJunction(), windowSeconds)

	// Step 3
	results := make(map[string]JunctionResult, len(metrics))
	for jID, m := range metrics {
		results[jID] = EvaluateWarrants(m, w.cfg)
	}

	// Step 4
	if !w.cacheLoaded {
		var cache Cache
		if ok, err := atomicfile.ReadJSON(cachePath, &cache); err == nil && ok {
			w.cachedMetrics = cache.JunctionMetrics
		}
		w.cacheLoaded = true
	}
	changed, summary := CompareWithCache(metrics, w.cachedMetrics, w.cfg.SignificantChangeThresholdPct)

	// Step 5
	reportText, err := RenderReport(scenarioName, results, w.cfg, time.Now())
	if err != nil {
		return err
	}
	status := StatusReport{
		ReportContent:     reportText,
		SignificantChange: changed,
		Summary:           summary,
		AnalysisResults:   results,
	}
	if err := atomicfile.WriteJSON(statusPath, status); err != nil {
		return fmt.Errorf("write analysis status: %w", err)
	}
	newCache := Cache{
		LastAnalysisTimestamp: time.Now().UTC().Format(time.RFC3339),
		JunctionMetrics:        metrics,
	}
	if err := atomicfile.WriteJSON(cachePath, newCache); err != nil {
		return fmt.Errorf("write analysis cache: %w", err)
	}

	// Step 6
	if w.events != nil {
		pkt := eventstore.Packet{
			Type: eventstore.TypeLogReport,
			Payload: eventstore.LogReportPayload{
				RunID:         runID,
				Summary:       summary,
				ReportContent: reportText,
			},
		}
		if err := w.events.Send(ctx, pkt); err != nil && w.log != nil {
			w.log.WarnCtx(ctx, "failed to enqueue log_report", "error", err)
		}
	}

	// Step 7
	if w.render != nil {
		recommendations := make(map[string]string, len(results))
		for jID, r := range results {
			recommendations[jID] = r.Recommendation
		}
		if err := w.render.RenderPlanningMap(mapPath, w.acc.JunctionPositions(), recommendations); err != nil && w.log != nil {
			w.log.WarnCtx(ctx, "failed to render planning map", "error", err)
		}
	}

	// Step 8
	if weights, ok, err := Calibrate(w.acc.CalibrationData(), w.cfg.CalibrationMinSamples); err != nil {
		if w.log != nil {
			w.log.WarnCtx(ctx, "heatmap calibration failed", "error", err)
		}
	} else if ok {
		liveWeightsPath := filepath.Join(w.resultsDir, scenarioName, heatmap.WeightsFileName)
		if err := atomicfile.WriteJSON(liveWeightsPath, weights); err != nil && w.log != nil {
			w.log.WarnCtx(ctx, "failed to write calibrated heatmap weights", "error", err)
		}
	}

	// Reset: clear the accumulator and calibration samples, keep the
	// newly cached metrics for the next comparison.
	w.acc.Reset()
	w.cachedMetrics = metrics
	w.lastAnalysisTime = simTime

	if w.log != nil {
		w.log.InfoCtx(ctx, "infrastructure analysis report generated",
			"scenario", scenarioName, "junctions", len(results), "significant_change", changed)
	}
	return nil
}
