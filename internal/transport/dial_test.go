package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDialQueueRetrySucceedsOnceListenerAppears(t *testing.T) {
	addr := "127.0.0.1:0"
	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	target := ln.Addr().String()
	require.NoError(t, ln.Close())

	go func() {
		time.Sleep(50 * time.Millisecond)
		l2, err := net.Listen("tcp", target)
		if err != nil {
			return
		}
		defer l2.Close()
		conn, err := l2.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(100 * time.Millisecond)
	}()

	c, err := DialQueueRetry[int](context.Background(), "tcp", target, DialRetryOptions{Attempts: 20, Interval: 10 * time.Millisecond})
	require.NoError(t, err)
	defer c.Close()
}

func TestDialQueueRetryFailsAfterBudgetExhausted(t *testing.T) {
	_, err := DialQueueRetry[int](context.Background(), "tcp", "127.0.0.1:1", DialRetryOptions{Attempts: 2, Interval: time.Millisecond})
	require.Error(t, err)
}
