package proc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/mattjoyce/keybridge/internal/failure"
	"github.com/mattjoyce/keybridge/internal/log"
)

const (
	// DefaultKillGrace is the time between SIGTERM and SIGKILL on a timed-out process.
	DefaultKillGrace = 5 * time.Second

	// maxLoggedStdout caps how much undecodable stdout is echoed into logs.
	maxLoggedStdout = 4 * 1024
)

// Process lifecycle. A process leaves stateRunning exactly once.
const (
	stateRunning int32 = iota
	stateCompleted
	stateKilled
)

// Observer is notified when a child starts and once it has exited. Where the
// exit can be observed without reaping, ProcessExited runs while the PID is
// still held by the zombie.
type Observer interface {
	ProcessStarted(p *os.Process)
	ProcessExited(p *os.Process)
}

// Config holds Runner settings.
type Config struct {
	// KillGrace is the wait after SIGTERM before SIGKILL. Zero uses DefaultKillGrace.
	KillGrace time.Duration
	Observer  Observer
}

// Runner executes invocations. It holds no per-call state and is safe for concurrent use.
type Runner struct {
	killGrace time.Duration
	observer  Observer
	logger    *slog.Logger
}

// New creates a Runner.
func New(cfg Config) *Runner {
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	return &Runner{
		killGrace: cfg.KillGrace,
		observer:  cfg.Observer,
		logger:    log.WithComponent("proc"),
	}
}

// running is the per-invocation record owned by Run.
type running struct {
	cmd    *exec.Cmd
	state  atomic.Int32
	exited chan struct{}

	// mu orders signals against reaping: once reaped is set the PID may be
	// reused and nothing may signal it.
	mu     sync.Mutex
	reaped bool

	stdout bytes.Buffer
	stderr bytes.Buffer
}

// Run spawns the invocation and blocks until the process has exited and both
// output streams are drained. Failures are *failure.Error values.
func (r *Runner) Run(ctx context.Context, inv Invocation) (*Outcome, error) {
	if err := inv.validate(); err != nil {
		return nil, err
	}
	logger := r.logger.With("path", inv.Path, "mode", inv.Mode.String())

	cmd := exec.Command(inv.Path, inv.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, failure.Spawn(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, failure.Spawn(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, failure.Spawn(err)
	}

	logger.Debug("spawning subprocess", "args", inv.Args, "stdin_bytes", len(inv.Stdin), "timeout", inv.Timeout)

	started := time.Now()
	if err := cmd.Start(); err != nil {
		logger.Warn("subprocess spawn failed", "error", err)
		return nil, failure.Spawn(err)
	}

	p := &running{cmd: cmd, exited: make(chan struct{})}
	if r.observer != nil {
		r.observer.ProcessStarted(cmd.Process)
	}

	// Both drains start before stdin is touched so a chatty child can never
	// block on a full pipe while we are still writing.
	var drains sync.WaitGroup
	drains.Add(2)
	go func() {
		defer drains.Done()
		if err := p.drainStdout(stdout, inv); err != nil {
			logger.Warn("stdout read failed", "error", err)
		}
	}()
	go func() {
		defer drains.Done()
		if _, err := io.Copy(&p.stderr, stderr); err != nil {
			logger.Warn("stderr read failed", "error", err)
		}
	}()

	if inv.Timeout > 0 {
		timer := time.AfterFunc(inv.Timeout, func() {
			r.terminate(p, logger, "timeout")
		})
		defer timer.Stop()
	}
	stopWatch := context.AfterFunc(ctx, func() {
		r.terminate(p, logger, "context done")
	})
	defer stopWatch()

	if len(inv.Stdin) > 0 {
		if _, err := stdin.Write(inv.Stdin); err != nil {
			// The child exited or closed stdin early; its exit status decides the outcome.
			logger.Debug("stdin write interrupted", "error", err)
		}
	}
	if err := stdin.Close(); err != nil {
		logger.Debug("stdin close failed", "error", err)
	}

	drains.Wait()

	var (
		waitErr error
		killed  bool
	)
	if awaitExit(cmd.Process.Pid) {
		// The child is a zombie: its PID and group cannot be reused until Wait.
		killed = p.markReaped()
		if r.observer != nil {
			r.observer.ProcessExited(cmd.Process)
		}
		waitErr = cmd.Wait()
	} else {
		waitErr = cmd.Wait()
		killed = p.markReaped()
		if r.observer != nil {
			r.observer.ProcessExited(cmd.Process)
		}
	}
	close(p.exited)

	out := &Outcome{
		ExitCode: cmd.ProcessState.ExitCode(),
		Killed:   killed,
		Duration: time.Since(started),
	}
	return r.resolve(logger, p, inv, out, waitErr)
}

// resolve is the single point where an invocation's outcome is decided.
func (r *Runner) resolve(logger *slog.Logger, p *running, inv Invocation, out *Outcome, waitErr error) (*Outcome, error) {
	if waitErr != nil {
		logger.Debug("subprocess exited with failure",
			"exit_code", out.ExitCode,
			"killed", out.Killed,
			"duration_ms", out.Duration.Milliseconds(),
		)
		return nil, failure.Exit(out.ExitCode, p.stderr.String(), waitErr)
	}

	switch inv.Mode {
	case ModeStream:
		return out, nil
	case ModeJSON:
		out.Stdout = p.stdout.Bytes()
		var v any
		if err := json.Unmarshal(out.Stdout, &v); err != nil {
			logger.Error("failed to decode subprocess output", "error", err, "stdout", truncate(out.Stdout, maxLoggedStdout))
			return nil, failure.Decode(err)
		}
		out.Value = v
	default:
		out.Stdout = p.stdout.Bytes()
	}

	logger.Debug("subprocess completed", "duration_ms", out.Duration.Milliseconds(), "stdout_bytes", len(out.Stdout))
	return out, nil
}

// markReaped ends the lifecycle and reports whether a kill got there first.
func (p *running) markReaped() (killed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reaped = true
	return !p.state.CompareAndSwap(stateRunning, stateCompleted)
}

// signal sends sig to the process group unless the child is already reaped.
func (p *running) signal(sig syscall.Signal) (sent bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reaped {
		return false, nil
	}
	return true, signalGroup(p.cmd.Process, sig)
}

// terminate moves the process to stateKilled and signals it. It does nothing
// once the process has completed.
func (r *Runner) terminate(p *running, logger *slog.Logger, reason string) {
	p.mu.Lock()
	if p.reaped || !p.state.CompareAndSwap(stateRunning, stateKilled) {
		p.mu.Unlock()
		return
	}
	logger.Warn("terminating subprocess, sending SIGTERM", "reason", reason, "pid", p.cmd.Process.Pid)
	if err := signalGroup(p.cmd.Process, syscall.SIGTERM); err != nil {
		logger.Error("failed to send SIGTERM", "error", err)
	}
	p.mu.Unlock()

	go func() {
		grace := time.NewTimer(r.killGrace)
		defer grace.Stop()

		select {
		case <-p.exited:
		case <-grace.C:
			if sent, err := p.signal(syscall.SIGKILL); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			} else if sent {
				logger.Warn("subprocess did not exit after SIGTERM, sent SIGKILL")
			}
		}
	}()
}

func (p *running) drainStdout(r io.Reader, inv Invocation) error {
	if inv.Mode != ModeStream {
		_, err := io.Copy(&p.stdout, r)
		return err
	}

	err := splitLines(r, inv.OnLine)
	if err != nil {
		// Keep the pipe flowing so the child cannot block on a full buffer.
		_, _ = io.Copy(io.Discard, r)
	}
	return err
}

// splitLines calls fn for every newline-terminated record in r, plus a final
// unterminated record. Trailing "\r" is stripped. Records have no length limit.
func splitLines(r io.Reader, fn func(string)) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimSuffix(line, "\n")
			line = strings.TrimSuffix(line, "\r")
			fn(line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Kill sends SIGTERM to the process group of p. A process that has already
// exited is not an error.
func Kill(p *os.Process) error {
	return signalGroup(p, syscall.SIGTERM)
}

// signalGroup signals the process group led by proc (children are started with
// Setpgid), falling back to the single process.
func signalGroup(proc *os.Process, sig syscall.Signal) error {
	if proc == nil {
		return nil
	}
	if err := syscall.Kill(-proc.Pid, sig); err == nil {
		return nil
	}
	err := proc.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
