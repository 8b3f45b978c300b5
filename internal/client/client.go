// Package client drives the keybase binary: one subprocess per API call,
// with a request envelope on stdin and a response envelope on stdout.
package client

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattjoyce/keybridge/internal/events"
	"github.com/mattjoyce/keybridge/internal/format"
	"github.com/mattjoyce/keybridge/internal/log"
	"github.com/mattjoyce/keybridge/internal/proc"
	"github.com/mattjoyce/keybridge/internal/protocol"
)

// State is the client lifecycle stage.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateDeinitialized
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateDeinitialized:
		return "deinitialized"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures a Client.
type Options struct {
	// WorkingDir is the directory containing the binary.
	WorkingDir string
	// Binary defaults to "keybase".
	Binary string
	// HomeDir is passed as --home before Init sets its own.
	HomeDir string
	// Versions maps API name to protocol version. Nil uses protocol.Versions.
	Versions map[string]int
	// Timeouts are per-API defaults for calls without their own timeout.
	Timeouts  map[string]time.Duration
	KillGrace time.Duration

	Journal   Journal
	Hub       *events.Hub
	Formatter format.Formatter
}

// Client owns the identity of one keybase home and tracks its live children.
type Client struct {
	binaryPath string
	versions   map[string]int
	timeouts   map[string]time.Duration
	journal    Journal
	hub        *events.Hub
	formatter  format.Formatter
	runner     *proc.Runner
	logger     *slog.Logger

	mu         sync.Mutex
	state      State
	username   string
	deviceName string
	homeDir    string

	live *liveSet
}

// New creates an uninitialized Client.
func New(opts Options) (*Client, error) {
	if opts.WorkingDir == "" {
		return nil, fmt.Errorf("working dir is required")
	}
	if opts.Binary == "" {
		opts.Binary = "keybase"
	}
	if opts.Versions == nil {
		opts.Versions = protocol.Versions
	}
	if opts.Formatter == nil {
		opts.Formatter = format.Default{}
	}

	live := &liveSet{procs: make(map[int]*os.Process)}
	return &Client{
		binaryPath: filepath.Join(opts.WorkingDir, opts.Binary),
		versions:   opts.Versions,
		timeouts:   opts.Timeouts,
		journal:    opts.Journal,
		hub:        opts.Hub,
		formatter:  opts.Formatter,
		runner:     proc.New(proc.Config{KillGrace: opts.KillGrace, Observer: live}),
		logger:     log.WithComponent("client"),
		homeDir:    opts.HomeDir,
		live:       live,
	}, nil
}

// BinaryPath is the absolute-or-relative path that every subprocess runs.
func (c *Client) BinaryPath() string { return c.binaryPath }

func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

func (c *Client) DeviceName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceName
}

func (c *Client) HomeDir() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.homeDir
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Initialized() bool {
	return c.State() == StateInitialized
}

// LiveProcesses reports how many children are currently running.
func (c *Client) LiveProcesses() int {
	return c.live.count()
}

// liveSet tracks running children so Deinit can kill them.
type liveSet struct {
	mu    sync.Mutex
	procs map[int]*os.Process
}

func (s *liveSet) ProcessStarted(p *os.Process) {
	s.mu.Lock()
	s.procs[p.Pid] = p
	s.mu.Unlock()
}

func (s *liveSet) ProcessExited(p *os.Process) {
	s.mu.Lock()
	delete(s.procs, p.Pid)
	s.mu.Unlock()
}

func (s *liveSet) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

// killAll signals under the lock: the runner removes a child before reaping
// it, so every PID still in the set is live or a zombie.
func (s *liveSet) killAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, p := range s.procs {
		if err := proc.Kill(p); err != nil {
			errs = append(errs, fmt.Errorf("kill pid %d: %w", p.Pid, err))
		}
	}
	return errors.Join(errs...)
}
