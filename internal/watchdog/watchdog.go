// Package watchdog implements the Watchdog (C2): a single loop that
// enqueues one failsafe command per second, regardless of any other
// process's state.
package watchdog

import (
	"context"
	"time"

	"carina/internal/model"
	"carina/internal/telemetry/logging"
)

// Sink is the queue-shaped destination the watchdog's command is sent to;
// satisfied by *transport.Queue[model.WatchdogCommand].
type Sink interface {
	Send(ctx context.Context, v model.WatchdogCommand) error
}

// Command is the single failsafe command this component ever emits.
var Command = model.WatchdogCommand{Type: "set_program_all", Value: "0"}

// Run enqueues Command once a second until ctx is cancelled. Structured as
// the minimal ticker-driven background-goroutine shape used throughout
// this tree's other single-purpose loops.
func Run(ctx context.Context, sink Sink, log logging.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sink.Send(ctx, Command); err != nil && log != nil {
				log.WarnCtx(ctx, "watchdog: failed to enqueue failsafe command", "error", err)
			}
		}
	}
}
