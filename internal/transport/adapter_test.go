package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClientSinkSendDeliversOverWire(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	q := NewQueue[int](QueueOptions{Name: "test", Capacity: 4})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ServeQueue(ctx, ln, q) }()

	client, err := DialQueue[int](context.Background(), "tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	sink := NewClientSink[int](client)
	require.NoError(t, sink.Send(context.Background(), 42))

	v, ok := q.Recv(context.Background())
	require.True(t, ok)
	require.Equal(t, 42, v)
}

func TestClientSinkSendRejectsCancelledContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	client, err := DialQueue[int](context.Background(), "tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	sink := NewClientSink[int](client)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, sink.Send(ctx, 1))
}

func TestForwardToClientStopsWhenQueueClosed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	remote := NewQueue[int](QueueOptions{Name: "remote", Capacity: 4})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ServeQueue(ctx, ln, remote) }()

	client, err := DialQueue[int](context.Background(), "tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	local := NewQueue[int](QueueOptions{Name: "local", Capacity: 4})
	require.NoError(t, local.Send(context.Background(), 7))
	local.Close()

	done := make(chan struct{})
	go func() {
		ForwardToClient(context.Background(), local, client)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ForwardToClient did not return after queue close")
	}

	v, ok := remote.Recv(context.Background())
	require.True(t, ok)
	require.Equal(t, 7, v)
}
