package tiktok

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// brokerGrace is how long the broker gets to exit after SIGTERM, and how
// long a SIGKILL is waited on.
const brokerGrace = 3 * time.Second

// Broker supervises the local broker process that bridges TikTok's webcast
// protocol to a websocket. With no command configured the broker is assumed
// to be managed elsewhere and every method is a no-op.
type Broker struct {
	command string
	args    []string

	mu     sync.Mutex
	cmd    *exec.Cmd
	exited chan struct{}
}

// NewBroker returns a supervisor for command with args.
func NewBroker(command string, args []string) *Broker {
	return &Broker{command: command, args: args}
}

// Managed reports whether a broker command is configured.
func (b *Broker) Managed() bool { return b != nil && b.command != "" }

// Running reports whether the supervised process is alive.
func (b *Broker) Running() bool {
	if !b.Managed() {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.aliveLocked()
}

func (b *Broker) aliveLocked() bool {
	if b.cmd == nil {
		return false
	}
	select {
	case <-b.exited:
		return false
	default:
		return true
	}
}

// Ensure starts the broker unless it is already running.
func (b *Broker) Ensure(ctx context.Context) error {
	if !b.Managed() {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.aliveLocked() {
		return nil
	}
	return b.startLocked(ctx)
}

// Restart kills the broker (if running) and starts a fresh one. Cancelling
// ctx cuts the SIGTERM grace period short: the group is killed at once and
// no new broker is started.
func (b *Broker) Restart(ctx context.Context) error {
	if !b.Managed() {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked(ctx)
	return b.startLocked(ctx)
}

// Stop terminates the broker's process group.
func (b *Broker) Stop() {
	if !b.Managed() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked(context.Background())
}

func (b *Broker) startLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// The broker outlives the connect attempt that launched it, so it is not
	// bound to ctx.
	cmd := exec.Command(b.command, b.args...)
	setProcGroup(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start broker %q: %w", b.command, err)
	}
	exited := make(chan struct{})
	b.cmd, b.exited = cmd, exited
	go func() {
		err := cmd.Wait()
		close(exited)
		if err != nil {
			slog.Warn("tiktok broker exited", slog.Int("pid", cmd.Process.Pid), slog.Any("err", err), slog.String("component", "tiktok"))
		}
	}()
	slog.Info("tiktok broker started", slog.String("command", b.command), slog.Int("pid", cmd.Process.Pid), slog.String("component", "tiktok"))
	return nil
}

// stopLocked sends SIGTERM and escalates to SIGKILL after brokerGrace, or
// as soon as ctx ends. The exit is not awaited once ctx is done; the Wait
// goroutine reaps the process.
func (b *Broker) stopLocked(ctx context.Context) {
	if !b.aliveLocked() {
		b.cmd = nil
		return
	}
	cmd, exited := b.cmd, b.exited
	b.cmd = nil
	pid := cmd.Process.Pid
	if err := signalGroup(cmd, false); err != nil {
		slog.Debug("broker SIGTERM failed", slog.Int("pid", pid), slog.Any("err", err), slog.String("component", "tiktok"))
	}
	grace := time.NewTimer(brokerGrace)
	defer grace.Stop()
	select {
	case <-exited:
		return
	case <-grace.C:
		slog.Warn("broker ignored SIGTERM; killing process group", slog.Int("pid", pid), slog.String("component", "tiktok"))
	case <-ctx.Done():
		slog.Debug("broker stop cancelled; killing process group", slog.Int("pid", pid), slog.String("component", "tiktok"))
	}
	_ = signalGroup(cmd, true)
	if ctx.Err() != nil {
		return
	}
	select {
	case <-exited:
	case <-time.After(brokerGrace):
		slog.Error("broker did not exit after SIGKILL", slog.Int("pid", pid), slog.String("component", "tiktok"))
	}
}
