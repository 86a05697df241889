// Package safety implements the Safety Arbiter Worker (C5): it consumes
// the most recent coalesced StepSnapshot, evaluates a per-traffic-light
// advisory policy, and emits vetoes superseded one-in-flight-per-light.
package safety

import (
	"context"
	"time"

	"carina/internal/model"
	"carina/internal/telemetry/logging"
)

// Veto is an advisory "drop this action" signal for one traffic light.
// The Central Controller never enforces it; only the Learning Core reads
// and honors it on its next decision.
type Veto struct {
	TargetTL   string `json:"target_tl"`
	VetoAction int    `json:"veto_action"`
}

// Policy decides, per traffic light, whether to veto and which action.
// The decision logic itself is intentionally abstract: the original
// source's guardian inference call and reward bookkeeping are commented
// out pending a real learned policy, so this interface only carries the
// structural contract a concrete policy must satisfy.
type Policy interface {
	Evaluate(trafficLightID string, snap model.StepSnapshot) (veto bool, action int)
}

// ThresholdPolicy is a minimal, clearly-labeled placeholder: it vetoes
// action 0 for a traffic light whose lanes' occupancy exceeds a configured
// ceiling. It exists to exercise the worker's structural contract, not to
// be a credible safety policy.
type ThresholdPolicy struct {
	OccupancyCeiling float64
}

// Evaluate implements Policy.
func (t ThresholdPolicy) Evaluate(trafficLightID string, snap model.StepSnapshot) (bool, int) {
	var maxOcc float64
	for lane, occ := range snap.LaneOccupancies {
		if !controlledBy(snap, trafficLightID, lane) {
			continue
		}
		if occ > maxOcc {
			maxOcc = occ
		}
	}
	if maxOcc > t.OccupancyCeiling {
		return true, 0
	}
	return false, 0
}

func controlledBy(snap model.StepSnapshot, trafficLightID, lane string) bool {
	for _, l := range snap.TLSControlledLanes[trafficLightID] {
		if l == lane {
			return true
		}
	}
	return false
}

// StateSource is the coalesced, non-blocking source of StepSnapshots,
// satisfied by *transport.Queue[model.StepSnapshot].
type StateSource interface {
	DrainLatest() (model.StepSnapshot, bool)
}

// SignalSink is where vetoes are emitted, satisfied by
// *transport.Queue[Veto].
type SignalSink interface {
	Send(ctx context.Context, v Veto) error
}

// Arbiter drives the consume-evaluate-emit loop.
type Arbiter struct {
	state  StateSource
	signal SignalSink
	policy Policy
	log    logging.Logger

	// inFlight tracks the most recent veto decision per traffic light so
	// a newer veto supersedes an older in-flight one instead of stacking.
	inFlight map[string]Veto
}

// NewArbiter constructs an Arbiter.
func NewArbiter(state StateSource, signal SignalSink, policy Policy, log logging.Logger) *Arbiter {
	return &Arbiter{
		state:    state,
		signal:   signal,
		policy:   policy,
		log:      log,
		inFlight: make(map[string]Veto),
	}
}

// RunOnce evaluates the policy over the most recent snapshot, if any, and
// emits/supersedes vetoes accordingly. Exported so tests can drive one
// cycle deterministically.
func (a *Arbiter) RunOnce(ctx context.Context) {
	snap, ok := a.state.DrainLatest()
	if !ok {
		return
	}
	for tlID := range snap.TLSControlledLanes {
		veto, action := a.policy.Evaluate(tlID, snap)
		if !veto {
			delete(a.inFlight, tlID)
			continue
		}
		v := Veto{TargetTL: tlID, VetoAction: action}
		a.inFlight[tlID] = v
		if err := a.signal.Send(ctx, v); err != nil && a.log != nil {
			a.log.WarnCtx(ctx, "signal queue full, dropping veto", "traffic_light", tlID, "error", err)
		}
	}
}

// Run drives RunOnce on a short poll interval until ctx is cancelled,
// matching the coalesced-consumer pattern shared by C3/C4/C5/C7.
func (a *Arbiter) Run(ctx context.Context, pollInterval time.Duration) {
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.RunOnce(ctx)
		}
	}
}
