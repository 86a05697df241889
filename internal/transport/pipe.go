package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
)

// Pipe is the full-duplex, ordered, reliable request/reply channel between
// the Learning Core (client) and the Central Controller (server). Every
// request blocks its sender until a reply arrives; the server answers
// exactly one request at a time, in order, before reading the next.
type Pipe struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
	mu   sync.Mutex // serializes Call; the pipe has one logical caller
}

// Dial connects to a pipe listener as the client (Learning Core) side.
func Dial(ctx context.Context, network, address string) (*Pipe, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial pipe %s %s: %w", network, address, err)
	}
	return newPipe(conn), nil
}

func newPipe(conn net.Conn) *Pipe {
	return &Pipe{conn: conn, r: bufio.NewReader(conn), w: bufio.NewWriter(conn)}
}

// Call sends req and blocks for the matching reply. Requests are
// serialized: only one Call may be in flight on a Pipe at a time, matching
// "every RPC sent over the pipe is answered exactly once, in order, before
// the next is processed."
func (p *Pipe) Call(ctx context.Context, req any, reply any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		if err := writeFrame(p.w, req); err != nil {
			done <- err
			return
		}
		done <- readFrame(p.r, reply)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = p.conn.Close()
		return ctx.Err()
	}
}

// Close closes the underlying connection. Idempotent.
func (p *Pipe) Close() error {
	return p.conn.Close()
}

// ServeOne accepts a single connection on ln, then loops: read one
// request frame, call handle, write its reply frame, until the peer closes
// the connection or ctx is cancelled. ServeOne owns the listener's single active
// connection for the lifetime of the call, matching "exactly one process
// holds the simulator connection"-style single-writer serialization on the
// controller side of the pipe.
func ServeOne[Req any, Resp any](ctx context.Context, ln net.Listener, handle func(ctx context.Context, req Req) Resp) error {
	conn, err := ln.Accept()
	if err != nil {
		return fmt.Errorf("accept pipe connection: %w", err)
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		var req Req
		if err := readFrame(r, &req); err != nil {
			return err
		}
		resp := handle(ctx, req)
		if err := writeFrame(w, resp); err != nil {
			return err
		}
	}
}
