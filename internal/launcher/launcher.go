// Package launcher implements the Launcher (C9): it reads the settings
// file, computes the Transport Substrate's wire addresses, starts every
// worker under the operating system's spawn discipline in the defined
// C1-through-C7 order with a small delay between starts, waits on the
// Central Controller, and on SIGINT or the Controller's exit drives
// reverse-order shutdown of whatever else is still running.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"

	"carina/internal/config"
	"carina/internal/eventstore"
	"carina/internal/telemetry/logging"
	"carina/internal/transport"
)

// child is one spawned worker process, named for log lines and shutdown
// ordering. done is closed exactly once, after the single background
// Wait() call completes and waitErr is set, so both the main
// wait-on-controller flow and the shutdown path can observe exit without
// either calling Wait() a second time (which Go forbids).
type child struct {
	name    string
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
}

func startChild(name string, cmd *exec.Cmd) *child {
	c := &child{name: name, cmd: cmd, done: make(chan struct{})}
	go func() {
		c.waitErr = cmd.Wait()
		close(c.done)
	}()
	return c
}

func (c *child) exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// spawnOrder is C1 through C7, the literal "spawns C1-C7" order; the
// Launcher itself is C9 and the Central Controller it waits on is last.
var spawnOrder = []string{
	"carina-eventstore",
	"carina-watchdog",
	"carina-telemetry",
	"carina-analysis",
	"carina-safety",
	"carina-learner",
	"carina-controller",
}

// shutdownJoinTimeout bounds how long a child gets to exit on its own
// signal before the Launcher escalates to Kill, per "bounded join,
// escalating to kill on timeout."
const shutdownJoinTimeout = 5 * time.Second

// Options configures one launch.
type Options struct {
	BinDir       string // directory containing the sibling cmd/ binaries
	SettingsPath string
	Cfg          *config.RuntimeConfig
	Log          logging.Logger
}

// Launch runs the full Launcher lifecycle: compute and publish the wire
// and initial status, spawn every worker in order, wait on the Central
// Controller, then shut down whatever remains. It returns once shutdown
// has completed; a non-nil error indicates the Controller itself exited
// abnormally (SIGINT-driven shutdowns return nil).
func Launch(ctx context.Context, opts Options) error {
	cfg := opts.Cfg
	scenarioDir := cfg.ScenarioDir()

	wire := BuildWire(cfg.Transport)
	if err := WriteWireFile(filepath.Join(scenarioDir, WireFileName), wire); err != nil {
		return fmt.Errorf("write wire file: %w", err)
	}
	if err := removeStaleUnixSockets(cfg.Transport, wire); err != nil {
		return fmt.Errorf("clear stale sockets: %w", err)
	}

	if status, err := BuildStatus(cfg.NetFilePath, time.Now()); err == nil {
		_ = WriteStatus(scenarioDir, status)
	} else if opts.Log != nil {
		opts.Log.WarnCtx(ctx, "failed to build initial status summary", "error", err)
	}

	ctx, stop := SignalContext(ctx, opts.Log)
	defer stop()

	children := make([]*child, 0, len(spawnOrder))
	var controllerErr error

	defer func() {
		shutdown(context.Background(), children, wire, opts.Log)
		if status, err := BuildStatus(cfg.NetFilePath, time.Now()); err == nil {
			_ = WriteStatus(scenarioDir, status)
		}
	}()

	delay := time.Duration(cfg.Transport.StartDelayMS) * time.Millisecond
	for _, name := range spawnOrder {
		c, err := spawnChild(opts, name, wire)
		if err != nil {
			return fmt.Errorf("spawn %s: %w", name, err)
		}
		children = append(children, c)
		if status, err := BuildStatus(cfg.NetFilePath, time.Now()); err == nil {
			_ = WriteStatus(scenarioDir, status)
		}

		if name == "carina-controller" {
			// Last spawned: wait on it, but stop waiting the moment our
			// own shutdown is triggered so a SIGINT isn't left blocked
			// behind a Controller that won't exit until it sees the
			// signal forwarded to it by the deferred shutdown() call.
			select {
			case <-c.done:
				controllerErr = c.waitErr
			case <-ctx.Done():
			}
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}

	if controllerErr != nil && ctx.Err() == nil {
		if opts.Log != nil {
			opts.Log.ErrorCtx(ctx, "central controller exited abnormally", "error", controllerErr)
		}
		return fmt.Errorf("central controller exited: %w", controllerErr)
	}
	return nil
}

// SignalContext wraps parent with the double-SIGINT escalation pattern:
// the first signal cancels ctx for a graceful shutdown, the second forces
// immediate exit. Exported so every cmd/ worker binary can catch the
// Launcher's forwarded SIGINT the same way the Launcher itself does,
// matching cli/cmd/ariadne/main.go's shape.
func SignalContext(parent context.Context, log logging.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		if log != nil {
			log.InfoCtx(ctx, "signal received; initiating graceful shutdown")
		}
		cancel()
		<-sigCh
		if log != nil {
			log.WarnCtx(ctx, "second signal received; forcing exit")
		}
		os.Exit(1)
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

func spawnChild(opts Options, name string, wire Wire) (*child, error) {
	bin := filepath.Join(opts.BinDir, name)
	cmd := exec.Command(bin,
		"-settings", opts.SettingsPath,
		"-wire", filepath.Join(opts.Cfg.ScenarioDir(), WireFileName),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	if opts.Log != nil {
		opts.Log.InfoCtx(context.Background(), "spawned worker", "name", name, "pid", cmd.Process.Pid)
	}
	return startChild(name, cmd), nil
}

// shutdown sends the event-store sentinel, then terminates every still-
// running child in reverse spawn order with a bounded join before
// escalating to Kill.
func shutdown(ctx context.Context, children []*child, wire Wire, log logging.Logger) {
	sendEventStoreSentinel(ctx, wire, log)

	for i := len(children) - 1; i >= 0; i-- {
		c := children[i]
		if c.exited() {
			continue // already exited (e.g. the Controller we just waited on)
		}
		_ = c.cmd.Process.Signal(os.Interrupt)

		select {
		case <-c.done:
		case <-time.After(shutdownJoinTimeout):
			if log != nil {
				log.WarnCtx(ctx, "worker did not exit in time, killing", "name", c.name)
			}
			_ = c.cmd.Process.Kill()
			<-c.done
		}
	}
}

// sendEventStoreSentinel delivers the shutdown packet to the Event
// Store's two producer-facing listeners, giving it the signal to return
// from Store.Run even if neither C4 nor C6 happened to send one already.
func sendEventStoreSentinel(ctx context.Context, wire Wire, log logging.Logger) {
	for _, endpoint := range []string{EndpointAnalysisEventStore, EndpointLearnerEventStore} {
		addr, err := wire.Address(endpoint)
		if err != nil {
			continue
		}
		dialCtx, cancel := context.WithTimeout(ctx, time.Second)
		client, err := transport.DialQueue[eventstore.Packet](dialCtx, wire.Network, addr)
		cancel()
		if err != nil {
			if log != nil {
				log.WarnCtx(ctx, "failed to reach event store to send shutdown sentinel", "endpoint", endpoint, "error", err)
			}
			continue
		}
		_ = client.Send(eventstore.Packet{Type: eventstore.TypeShutdown})
		_ = client.Close()
	}
}

// removeStaleUnixSockets deletes leftover socket files from a prior,
// uncleanly terminated run so a fresh bind never fails with "address
// already in use". A no-op under the tcp network.
func removeStaleUnixSockets(cfg config.TransportSection, wire Wire) error {
	if cfg.Network != "unix" {
		return nil
	}
	for _, addr := range wire.Addresses {
		if err := os.Remove(addr); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}
