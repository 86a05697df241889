package analysis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// CalibratedWeights is step 8's fitted output, written to the scenario's
// heatmap_weights_live.json for the Heatmap Telemetry Worker to hot-reload.
// The field names and JSON tags intentionally match
// config.HeatmapScalingSection's weight_* keys so the same file round-trips
// through both types; aggregation_strategy is never written here, matching
// the original calibration step writing only the three fitted weights.
type CalibratedWeights struct {
	WeightOccupancy   float64 `json:"weight_occupancy"`
	WeightWaitingTime float64 `json:"weight_waiting_time"`
	WeightFlow        float64 `json:"weight_flow"`
}

// Calibrate fits badEvents ≈ w_occ·occupancy + w_wait·waitingTime +
// w_flow·flow by ordinary least squares over the rolling calibration
// samples, then clamps w_occ and w_wait to be non-negative, forces w_flow
// non-positive, and normalizes so the weights' absolute values sum to
// about 3. Fewer than minSamples points is a no-op (ok=false), matching
// the "insufficient data, skip calibration" rule.
func Calibrate(points []CalibrationPoint, minSamples int) (weights CalibratedWeights, ok bool, err error) {
	n := len(points)
	if n < minSamples {
		return CalibratedWeights{}, false, nil
	}

	design := mat.NewDense(n, 3, nil)
	target := mat.NewDense(n, 1, nil)
	for i, p := range points {
		design.Set(i, 0, p.Occupancy)
		design.Set(i, 1, p.WaitingTime)
		design.Set(i, 2, p.Flow)
		target.Set(i, 0, p.BadEvents)
	}

	var coef mat.Dense
	if err := coef.Solve(design, target); err != nil {
		return CalibratedWeights{}, false, fmt.Errorf("fit heatmap calibration: %w", err)
	}

	occCoef := math.Max(0, coef.At(0, 0))
	waitCoef := math.Max(0, coef.At(1, 0))
	flowCoef := coef.At(2, 0)

	totalAbs := math.Abs(occCoef) + math.Abs(waitCoef) + math.Abs(flowCoef)
	if totalAbs > 1e-6 {
		norm := 3.0 / totalAbs
		occCoef *= norm
		waitCoef *= norm
		flowCoef *= norm
	}

	return CalibratedWeights{
		WeightOccupancy:   occCoef,
		WeightWaitingTime: waitCoef,
		WeightFlow:        -math.Abs(flowCoef),
	}, true, nil
}
