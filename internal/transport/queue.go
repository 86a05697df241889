package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"

	"carina/internal/telemetry/logging"

	"github.com/prometheus/client_golang/prometheus"
)

// Queue is a one-way, bounded, single-producer/single-consumer fan-out
// channel. Lossy queues drop the newest item and log a warning when full;
// the one Durable queue (Any→EventStore) instead blocks the sender and
// accepts a sentinel Close to signal end-of-stream to its consumer.
type Queue[T any] struct {
	name     string
	durable  bool
	log      logging.Logger
	depth    prometheus.Gauge
	buf      chan T
	closed   chan struct{}
	closeOne sync.Once
}

// QueueOptions configures a Queue.
type QueueOptions struct {
	Name     string
	Capacity int
	Durable  bool
	Log      logging.Logger
	Depth    prometheus.Gauge // optional; set via internal/telemetry/metrics
}

// NewQueue constructs an in-process buffered queue. Network-backed queues
// (crossing an OS process boundary) compose this with Serve/Dial helpers
// below; in-process callers (tests, and any worker that happens to run
// in-process) can use it directly.
func NewQueue[T any](opts QueueOptions) *Queue[T] {
	if opts.Capacity <= 0 {
		opts.Capacity = 1
	}
	q := &Queue[T]{
		name:    opts.Name,
		durable: opts.Durable,
		log:     opts.Log,
		depth:   opts.Depth,
		buf:     make(chan T, opts.Capacity),
		closed:  make(chan struct{}),
	}
	return q
}

// Send offers v to the queue. Lossy queues drop-and-log on full; the
// durable queue blocks until delivered or ctx is cancelled.
func (q *Queue[T]) Send(ctx context.Context, v T) error {
	q.updateDepth()
	if q.durable {
		select {
		case q.buf <- v:
			q.updateDepth()
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case q.buf <- v:
	default:
		if q.log != nil {
			q.log.WarnCtx(ctx, "queue full, dropping item", "queue", q.name)
		}
	}
	q.updateDepth()
	return nil
}

// Recv blocks until an item is available or ctx is cancelled. Lossy
// consumers that want "coalesce to latest" semantics should call
// DrainLatest instead.
func (q *Queue[T]) Recv(ctx context.Context) (T, bool) {
	select {
	case v, ok := <-q.buf:
		q.updateDepth()
		return v, ok
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// DrainLatest returns the most recently buffered item, discarding any
// older ones, and reports whether anything was available. This is the
// "coalesce to latest" non-blocking get used by C3/C4/C5/C7.
func (q *Queue[T]) DrainLatest() (T, bool) {
	var latest T
	found := false
	for {
		select {
		case v, ok := <-q.buf:
			if !ok {
				q.updateDepth()
				return latest, found
			}
			latest = v
			found = true
		default:
			q.updateDepth()
			return latest, found
		}
	}
}

// Close signals end-of-stream. For the durable queue this is the
// nil-sentinel the event-store worker terminates on.
func (q *Queue[T]) Close() {
	q.closeOne.Do(func() { close(q.buf) })
}

func (q *Queue[T]) updateDepth() {
	if q.depth != nil {
		q.depth.Set(float64(len(q.buf)))
	}
}

// ServeQueue accepts a single connection on ln and forwards every decoded
// frame into q until that connection ends or ctx is cancelled, for queues
// whose producer lives in a different OS process than its consumer.
func ServeQueue[T any](ctx context.Context, ln net.Listener, q *Queue[T]) error {
	conn, err := ln.Accept()
	if err != nil {
		return fmt.Errorf("accept queue connection: %w", err)
	}
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		var item T
		if err := readFrame(r, &item); err != nil {
			return err
		}
		_ = q.Send(ctx, item)
	}
}

// QueueClient is the producer side of a network-backed queue: it dials
// once and frames every Send over the wire.
type QueueClient[T any] struct {
	conn net.Conn
	w    *bufio.Writer
	mu   sync.Mutex
}

// DialQueue connects to a queue listener as its producer.
func DialQueue[T any](ctx context.Context, network, address string) (*QueueClient[T], error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial queue %s %s: %w", network, address, err)
	}
	return &QueueClient[T]{conn: conn, w: bufio.NewWriter(conn)}, nil
}

// Send frames and writes v to the remote queue.
func (c *QueueClient[T]) Send(v T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeFrame(c.w, v)
}

// Close closes the underlying connection.
func (c *QueueClient[T]) Close() error { return c.conn.Close() }
