// Package failure defines the error taxonomy shared by the process runner and
// the API client. Every failure surfaced to a caller is an *Error carrying a
// Kind, so callers can switch on the reason instead of matching strings.
package failure

import (
	"errors"
	"fmt"
)

// Kind tags the reason a call failed.
type Kind string

const (
	// KindSpawn means the executable could not be started (missing or not executable).
	KindSpawn Kind = "spawn"
	// KindExit means the subprocess exited with a non-success status.
	KindExit Kind = "exit"
	// KindDecode means stdout was not valid JSON when decoding was requested.
	KindDecode Kind = "decode"
	// KindApplication means the process exited cleanly but the response carried an error field.
	KindApplication Kind = "application"
	// KindNotInitialized means a call was issued before the client was initialized.
	KindNotInitialized Kind = "not_initialized"
)

// Error is a tagged failure.
type Error struct {
	Kind    Kind
	Message string
	// ExitCode is the process exit status for KindExit, -1 when killed by a signal.
	ExitCode int
	Err      error
}

// Error returns Message verbatim. An exit failure with empty stderr has an empty message.
func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Spawn wraps a process start error.
func Spawn(err error) *Error {
	return &Error{Kind: KindSpawn, Message: fmt.Sprintf("start process: %v", err), Err: err}
}

// Exit builds a non-zero exit failure whose message is the captured stderr text.
func Exit(code int, stderr string, err error) *Error {
	return &Error{Kind: KindExit, Message: stderr, ExitCode: code, Err: err}
}

// Decode wraps a JSON decoding error on process output.
func Decode(err error) *Error {
	return &Error{Kind: KindDecode, Message: fmt.Sprintf("decode output: %v", err), Err: err}
}

// Application builds a failure from an error reported inside a successful response.
func Application(message string) *Error {
	return &Error{Kind: KindApplication, Message: message}
}

// NotInitialized is returned for calls made outside the initialized state.
func NotInitialized() *Error {
	return &Error{Kind: KindNotInitialized, Message: "the client is not yet initialized"}
}

// KindOf returns the Kind of err, or "" when err is not a *Error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
