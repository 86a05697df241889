package transport

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"
)

// Session is the server side of a command pipe that needs non-blocking
// polls rather than ServeOne's blocking request/handle/reply loop — the
// Central Controller's AI regime "non-blocking poll of the command pipe"
// requirement. It accepts exactly one connection and serializes access to
// it, matching "exactly one process holds the simulator-facing pipe."
type Session[Req any] struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
	mu   sync.Mutex
}

// Accept blocks until a peer connects to ln, then returns a Session
// wrapping that one connection.
func Accept[Req any](ln net.Listener) (*Session[Req], error) {
	conn, err := ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("accept pipe connection: %w", err)
	}
	return &Session[Req]{conn: conn, r: bufio.NewReader(conn), w: bufio.NewWriter(conn)}, nil
}

// TryRecv performs a non-blocking poll for the next request frame: ok is
// false with a nil error when nothing has arrived yet.
func (s *Session[Req]) TryRecv() (req Req, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	defer s.conn.SetReadDeadline(time.Time{})

	if err := readFrame(s.r, &req); err != nil {
		if ne, isNet := err.(net.Error); isNet && ne.Timeout() {
			return req, false, nil
		}
		return req, false, err
	}
	return req, true, nil
}

// Reply writes one response frame.
func (s *Session[Req]) Reply(resp any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFrame(s.w, resp)
}

// Close closes the underlying connection. Idempotent.
func (s *Session[Req]) Close() error { return s.conn.Close() }
