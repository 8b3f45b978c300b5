package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/mattjoyce/keybridge/internal/events"
	"github.com/mattjoyce/keybridge/internal/failure"
	"github.com/mattjoyce/keybridge/internal/log"
	"github.com/mattjoyce/keybridge/internal/proc"
)

// ExecOptions controls a raw subprocess run.
type ExecOptions struct {
	Mode    proc.Mode
	Stdin   []byte
	OnLine  func(line string)
	Timeout time.Duration
}

// Exec runs the binary with args, prefixed by --home when a home dir is set.
// It does not require an initialized client.
func (c *Client) Exec(ctx context.Context, args []string, opts ExecOptions) (*proc.Outcome, error) {
	full := make([]string, 0, len(args)+2)
	if home := c.HomeDir(); home != "" {
		full = append(full, "--home", home)
	}
	full = append(full, args...)

	return c.runner.Run(ctx, proc.Invocation{
		Path:    c.binaryPath,
		Args:    full,
		Stdin:   opts.Stdin,
		Mode:    opts.Mode,
		OnLine:  opts.OnLine,
		Timeout: opts.Timeout,
	})
}

// Listen streams "<api> <args...>" output line by line (e.g. chat api-listen)
// until the process exits or ctx is done. Each line is also published to the hub.
func (c *Client) Listen(ctx context.Context, api string, args []string, onLine func(line string)) error {
	if !c.Initialized() {
		return failure.NotInitialized()
	}

	logger := log.WithAPI(api, "listen")
	logger.Info("listen started", "args", args)

	lines := 0
	_, err := c.Exec(ctx, append([]string{api}, args...), ExecOptions{
		Mode: proc.ModeStream,
		OnLine: func(line string) {
			lines++
			c.hub.Publish(events.ListenLine, events.LineData{API: api, Line: line})
			if onLine != nil {
				onLine(line)
			}
		},
	})
	if err != nil && ctx.Err() != nil {
		logger.Info("listen stopped", "lines", lines, "reason", ctx.Err())
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	logger.Info("listen finished", "lines", lines)
	return nil
}

// Version returns the binary's version.
func (c *Client) Version(ctx context.Context) (*semver.Version, error) {
	out, err := c.Exec(ctx, []string{"version", "--format=s"}, ExecOptions{Mode: proc.ModeText})
	if err != nil {
		return nil, err
	}
	return ParseVersion(out.Text())
}

// ParseVersion parses the first token of version output, tolerating a "v" prefix.
func ParseVersion(raw string) (*semver.Version, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty version output")
	}
	v, err := semver.NewVersion(strings.TrimPrefix(fields[0], "v"))
	if err != nil {
		return nil, fmt.Errorf("parse version %q: %w", fields[0], err)
	}
	return v, nil
}
