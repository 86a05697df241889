package launcher

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"carina/internal/config"

	"github.com/stretchr/testify/require"
)

func TestStartChildObservesNaturalExit(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	c := startChild("test-child", cmd)

	require.False(t, c.exited())
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("child did not report exit")
	}
	require.True(t, c.exited())
	require.NoError(t, c.waitErr)
}

func TestShutdownSignalsAndJoinsRunningChild(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	c := startChild("sleeper", cmd)
	require.False(t, c.exited())

	wire := BuildWire(config.TransportSection{Network: "unix", SocketDir: t.TempDir()})
	done := make(chan struct{})
	go func() {
		shutdown(context.Background(), []*child{c}, wire, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not return after signaling child")
	}
	require.True(t, c.exited())
}

func TestShutdownSkipsAlreadyExitedChild(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	c := startChild("already-done", cmd)
	<-c.done

	wire := BuildWire(config.TransportSection{Network: "unix", SocketDir: t.TempDir()})
	done := make(chan struct{})
	go func() {
		shutdown(context.Background(), []*child{c}, wire, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown blocked on an already-exited child")
	}
}

func TestRemoveStaleUnixSocketsNoopForTCP(t *testing.T) {
	cfg := config.TransportSection{Network: "tcp"}
	wire := BuildWire(cfg)
	require.NoError(t, removeStaleUnixSockets(cfg, wire))
}

func TestRemoveStaleUnixSocketsIgnoresMissingFiles(t *testing.T) {
	cfg := config.TransportSection{Network: "unix", SocketDir: t.TempDir()}
	wire := BuildWire(cfg)
	require.NoError(t, removeStaleUnixSockets(cfg, wire))
}
