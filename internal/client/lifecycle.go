package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattjoyce/keybridge/internal/proc"
)

var errNoIdentity = errors.New("failed to get current username and device name")

// Status is the identity reported by "keybase status --json".
type Status struct {
	Username   string
	DeviceName string
}

// Init probes the binary for the logged-in identity and moves the client to
// the initialized state. homeDir, when set, is passed as --home to every
// subsequent subprocess.
func (c *Client) Init(ctx context.Context, homeDir string) error {
	c.mu.Lock()
	if c.state == StateDeinitialized {
		c.mu.Unlock()
		return fmt.Errorf("client has been deinitialized")
	}
	c.homeDir = homeDir
	c.mu.Unlock()

	st, err := c.Status(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDeinitialized {
		return fmt.Errorf("client was deinitialized during init")
	}
	c.username = st.Username
	c.deviceName = st.DeviceName
	c.state = StateInitialized

	c.logger.Info("client initialized", "username", st.Username, "device", st.DeviceName, "home_dir", homeDir)
	return nil
}

// Status runs the status probe without changing client state.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	out, err := c.Exec(ctx, []string{"status", "--json"}, ExecOptions{Mode: proc.ModeJSON})
	if err != nil {
		return nil, err
	}
	return parseStatus(out.Value)
}

func parseStatus(v any) (*Status, error) {
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, errNoIdentity
	}
	username, _ := doc["Username"].(string)
	device, _ := doc["Device"].(map[string]any)
	deviceName, _ := device["name"].(string)
	if username == "" || deviceName == "" {
		return nil, errNoIdentity
	}
	return &Status{Username: username, DeviceName: deviceName}, nil
}

// Deinit kills every live child and leaves the client unusable for calls.
// It is safe to call more than once.
func (c *Client) Deinit() error {
	c.mu.Lock()
	c.state = StateDeinitialized
	c.mu.Unlock()

	if err := c.live.killAll(); err != nil {
		c.logger.Warn("failed to kill some subprocesses", "error", err)
		return err
	}
	c.logger.Info("client deinitialized")
	return nil
}
