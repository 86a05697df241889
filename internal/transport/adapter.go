package transport

import "context"

// ClientSink adapts a QueueClient's Send(v) error to the ctx-taking
// Send(ctx, v) error shape every package-level consumer (watchdog.Sink,
// learner.StateSink/EventSink, safety.SignalSink, analysis.EventSink)
// expects, so a cmd/ binary can hand its dialed network connection
// straight to the in-process worker loop without a bespoke wrapper type
// per binary.
type ClientSink[T any] struct {
	client *QueueClient[T]
}

// NewClientSink wraps client as a ClientSink.
func NewClientSink[T any](client *QueueClient[T]) ClientSink[T] {
	return ClientSink[T]{client: client}
}

// Send writes v to the remote queue, honoring ctx cancellation before the
// write begins (the underlying wire write itself is not cancellable mid-
// flight, matching QueueClient.Send).
func (s ClientSink[T]) Send(ctx context.Context, v T) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return s.client.Send(v)
}

// ForwardToClient drains q and writes every item to client until q is
// closed or ctx is cancelled, bridging an in-process producer queue (fed
// by package code running in this process) to a network-backed consumer
// living in another process.
func ForwardToClient[T any](ctx context.Context, q *Queue[T], client *QueueClient[T]) {
	for {
		v, ok := q.Recv(ctx)
		if !ok {
			return
		}
		if err := client.Send(v); err != nil {
			return
		}
	}
}
