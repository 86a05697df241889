// Package learner implements the consumed/emitted edges of the Learning
// Core Worker (C6): it is treated as an external collaborator, so only the
// RPC client, veto consumption, state production, and episode-boundary
// event emission are implemented here. Phase-selection itself is a
// placeholder round-robin policy — reinforcement-learning algorithm design
// is explicitly out of scope; this loop exists only to exercise the RPC
// contract end-to-end.
package learner

import (
	"context"
	"encoding/json"
	"fmt"

	"carina/internal/eventstore"
	"carina/internal/model"
	"carina/internal/safety"
	"carina/internal/simproxy"
	"carina/internal/telemetry/logging"
)

// phaseCycleLength bounds the placeholder round-robin policy's cycle. It
// has no relationship to any traffic light's real phase count; it only
// needs to vary the issued phase index step over step.
const phaseCycleLength = 4

// RPC is the Learning Core's synchronous command-pipe client, satisfied by
// *transport.Pipe.
type RPC interface {
	Call(ctx context.Context, req any, reply any) error
}

// StateSink is where per-step snapshots are forwarded for the Safety
// Arbiter to consume, satisfied by *transport.Queue[model.StepSnapshot].
type StateSink interface {
	Send(ctx context.Context, snap model.StepSnapshot) error
}

// VetoSource is the coalesced, non-blocking source of vetoes from C5,
// satisfied by *transport.Queue[safety.Veto].
type VetoSource interface {
	DrainLatest() (safety.Veto, bool)
}

// EventSink is the Event Store's durable inbound queue, satisfied by
// *transport.Queue[eventstore.Packet].
type EventSink interface {
	Send(ctx context.Context, pkt eventstore.Packet) error
}

// Loop drives the Learning Core's minimal contract-exercising cycle:
// fetch one batched snapshot, forward it to C5, consume C5's latest
// veto, issue a placeholder phase choice per traffic light (dropping any
// choice a live veto covers), and detect/emit episode boundaries.
type Loop struct {
	rpc    RPC
	state  StateSink
	vetoes VetoSource
	events EventSink
	log    logging.Logger

	phase map[string]int // last issued phase index per traffic light

	episodeNumber int
	totalReward   float64
	activeVeto    map[string]int // trafficLightID -> vetoed action, cleared once that action is dropped or at episode end
}

// New constructs a Loop.
func New(rpc RPC, state StateSink, vetoes VetoSource, events EventSink, log logging.Logger) *Loop {
	return &Loop{
		rpc:        rpc,
		state:      state,
		vetoes:     vetoes,
		events:     events,
		log:        log,
		phase:      make(map[string]int),
		activeVeto: make(map[string]int),
	}
}

// invoke issues one RPC over the command pipe and unwraps the response,
// translating a carried error string into a Go error.
func (l *Loop) invoke(ctx context.Context, req simproxy.Request) (simproxy.Response, error) {
	var resp simproxy.Response
	if err := l.rpc.Call(ctx, req, &resp); err != nil {
		return simproxy.Response{}, fmt.Errorf("call %s.%s: %w", req.Module, req.Function, err)
	}
	if resp.HasError() {
		return resp, fmt.Errorf("%s.%s: %s", req.Module, req.Function, resp.Error)
	}
	return resp, nil
}

// fetchSnapshot issues custom.get_batched_step_data and decodes the
// result, which round-trips through the wire as a generic JSON value
// rather than a concrete model.StepSnapshot.
func (l *Loop) fetchSnapshot(ctx context.Context) (model.StepSnapshot, error) {
	resp, err := l.invoke(ctx, simproxy.Request{Module: simproxy.ModuleCustom, Function: simproxy.CustomGetBatchedStepData})
	if err != nil {
		return model.StepSnapshot{}, err
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return model.StepSnapshot{}, fmt.Errorf("re-encode snapshot result: %w", err)
	}
	var snap model.StepSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return model.StepSnapshot{}, fmt.Errorf("decode snapshot result: %w", err)
	}
	return snap, nil
}

// consumeVetoes drains the latest veto, if any, recording it so the next
// phase choice for that traffic light can avoid the vetoed action. A
// traffic light absent from the latest drain keeps whatever veto it had.
// A recorded veto is cleared when the next phase choice drops the vetoed
// action, or when an episode ends; this loop only ever drops the one
// action named, matching "the Learning Core, on next decision, drops the
// specific action if it matches the veto."
func (l *Loop) consumeVetoes() {
	v, ok := l.vetoes.DrainLatest()
	if !ok {
		return
	}
	l.activeVeto[v.TargetTL] = v.VetoAction
}

// nextPhase returns the placeholder round-robin phase for a traffic
// light, or -1 if the only available choice is the one a live veto
// covers (in which case this tick simply issues nothing for that light).
func (l *Loop) nextPhase(trafficLightID string) int {
	next := (l.phase[trafficLightID] + 1) % phaseCycleLength
	if vetoed, ok := l.activeVeto[trafficLightID]; ok && vetoed == next {
		delete(l.activeVeto, trafficLightID)
		return -1
	}
	l.phase[trafficLightID] = next
	return next
}

// applyPolicy issues one placeholder trafficlight.setPhase RPC per known
// traffic light, skipping any light whose only candidate phase is
// presently vetoed.
func (l *Loop) applyPolicy(ctx context.Context, snap model.StepSnapshot) {
	for trafficLightID := range snap.TLSPhases {
		next := l.nextPhase(trafficLightID)
		if next < 0 {
			continue
		}
		if _, err := l.invoke(ctx, simproxy.Request{
			Module:   simproxy.ModuleTrafficLight,
			Function: "setPhase",
			Args:     []any{trafficLightID, next},
		}); err != nil && l.log != nil {
			l.log.WarnCtx(ctx, "setPhase failed", "traffic_light", trafficLightID, "error", err)
		}
	}
}

// accumulateReward folds one step's placeholder reward proxy into the
// running episode total. Reward shaping is explicitly out of scope per
// Non-goals; this is a minimal stand-in (negative total waiting time) so
// log_episode carries a non-trivial number, not a measure of policy
// quality.
func (l *Loop) accumulateReward(snap model.StepSnapshot) {
	var waiting float64
	for _, w := range snap.LaneWaitingTimes {
		waiting += w
	}
	l.totalReward -= waiting
}

// maybeEndEpisode detects the episode boundary per the tie-break rule
// (minExpectedVehicleNumber == 0) and, on a boundary, emits a log_episode
// packet and resets the running total.
func (l *Loop) maybeEndEpisode(ctx context.Context, snap model.StepSnapshot) {
	if snap.MinExpectedVehicleNumber != 0 {
		return
	}
	l.episodeNumber++
	pkt := eventstore.Packet{
		Type: eventstore.TypeLogEpisode,
		Payload: eventstore.LogEpisodePayload{
			RunID:         snap.RunID,
			EpisodeNumber: l.episodeNumber,
			TotalReward:   l.totalReward,
		},
	}
	if err := l.events.Send(ctx, pkt); err != nil && l.log != nil {
		l.log.WarnCtx(ctx, "failed to enqueue log_episode", "episode_number", l.episodeNumber, "error", err)
	}
	l.totalReward = 0
	l.phase = make(map[string]int)
	l.activeVeto = make(map[string]int)
}

// RunOnce drives one full cycle: fetch, forward to C5, consume C5's
// veto, issue placeholder phase choices, and check for an episode
// boundary. Exported so tests and the cmd entrypoint can drive cycles
// deterministically or in a tight loop.
func (l *Loop) RunOnce(ctx context.Context) error {
	snap, err := l.fetchSnapshot(ctx)
	if err != nil {
		return err
	}

	if err := l.state.Send(ctx, snap); err != nil && l.log != nil {
		l.log.WarnCtx(ctx, "failed to forward state to safety arbiter", "error", err)
	}

	l.consumeVetoes()
	l.applyPolicy(ctx, snap)
	l.accumulateReward(snap)
	l.maybeEndEpisode(ctx, snap)
	return nil
}

// Run drives RunOnce in a tight loop until ctx is cancelled or the
// simulator connection is lost (IsShutdown-worthy errors simply stop the
// loop; the caller's process exit is the Launcher's concern).
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := l.RunOnce(ctx); err != nil {
			if l.log != nil {
				l.log.ErrorCtx(ctx, "learning core cycle failed", "error", err)
			}
			return err
		}
	}
}
