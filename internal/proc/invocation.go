package proc

import (
	"fmt"
	"time"
)

// Mode selects how stdout is consumed.
type Mode int

const (
	// ModeText buffers stdout and returns it as text.
	ModeText Mode = iota
	// ModeJSON buffers stdout and decodes it as a JSON document.
	ModeJSON
	// ModeStream delivers stdout line by line to Invocation.OnLine.
	ModeStream
)

func (m Mode) String() string {
	switch m {
	case ModeText:
		return "text"
	case ModeJSON:
		return "json"
	case ModeStream:
		return "stream"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Invocation describes one subprocess launch.
type Invocation struct {
	Path string
	Args []string
	// Stdin is written in full and then stdin is closed. Nil closes stdin immediately.
	Stdin []byte
	Mode  Mode
	// OnLine receives each stdout record (without the trailing newline) in ModeStream.
	OnLine func(line string)
	// Timeout of zero means no timeout.
	Timeout time.Duration
}

func (inv Invocation) validate() error {
	if inv.Path == "" {
		return fmt.Errorf("invocation path is empty")
	}
	if inv.Timeout < 0 {
		return fmt.Errorf("invocation timeout must not be negative (got %v)", inv.Timeout)
	}
	switch inv.Mode {
	case ModeStream:
		if inv.OnLine == nil {
			return fmt.Errorf("stream mode requires an OnLine callback")
		}
	case ModeText, ModeJSON:
		if inv.OnLine != nil {
			return fmt.Errorf("OnLine callback is only valid in stream mode (got %s)", inv.Mode)
		}
	default:
		return fmt.Errorf("unknown output mode: %s", inv.Mode)
	}
	return nil
}

// Outcome is the success value of a Run.
type Outcome struct {
	// Stdout is the exact concatenation of stdout chunks. Nil in ModeStream.
	Stdout []byte
	// Value is the decoded document in ModeJSON.
	Value    any
	ExitCode int
	// Killed reports that the runner signalled the process before it exited.
	Killed   bool
	Duration time.Duration
}

// Text returns stdout as a string.
func (o *Outcome) Text() string {
	return string(o.Stdout)
}
