package transport

import (
	"context"
	"fmt"
	"time"

	"carina/internal/errs"
)

// DialRetryOptions bounds the retry-with-backoff dial loop used by every
// cmd/ worker binary to reach a peer whose listener the Launcher spawned
// moments earlier, mirroring simclient.Connect's "retry with bounded
// backoff until connected or configured attempt cap."
type DialRetryOptions struct {
	Attempts int           // total attempts, including the first; <=0 defaults to 30
	Interval time.Duration // delay between attempts; <=0 defaults to 200ms
}

func (o DialRetryOptions) withDefaults() DialRetryOptions {
	if o.Attempts <= 0 {
		o.Attempts = 30
	}
	if o.Interval <= 0 {
		o.Interval = 200 * time.Millisecond
	}
	return o
}

// DialQueueRetry dials a queue listener, retrying on connection failure
// until it succeeds or the attempt budget is exhausted. A child process
// spawned by the Launcher may win the race against a peer's own
// Listen/Accept setup; this absorbs that race instead of requiring the
// Launcher to sequence every spawn with a delay long enough to guarantee
// ordering.
func DialQueueRetry[T any](ctx context.Context, network, address string, opts DialRetryOptions) (*QueueClient[T], error) {
	opts = opts.withDefaults()
	var lastErr error
	for attempt := 0; attempt < opts.Attempts; attempt++ {
		c, err := DialQueue[T](ctx, network, address)
		if err == nil {
			return c, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.Interval):
		}
	}
	return nil, errs.New(errs.Transport, fmt.Sprintf("dial queue %s %s after %d attempts", network, address, opts.Attempts), lastErr)
}

// DialRetry dials a command-pipe listener with the same bounded-retry
// policy as DialQueueRetry.
func DialRetry(ctx context.Context, network, address string, opts DialRetryOptions) (*Pipe, error) {
	opts = opts.withDefaults()
	var lastErr error
	for attempt := 0; attempt < opts.Attempts; attempt++ {
		p, err := Dial(ctx, network, address)
		if err == nil {
			return p, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.Interval):
		}
	}
	return nil, errs.New(errs.Transport, fmt.Sprintf("dial pipe %s %s after %d attempts", network, address, opts.Attempts), lastErr)
}
