// Package proc runs one subprocess per invocation and resolves exactly one outcome.
//
// A Runner spawns the executable directly (no shell), writes the optional stdin
// payload and closes stdin, drains stdout and stderr concurrently, and waits for
// exit. The outcome is decided once, after both streams hit EOF and the process
// has been reaped.
//
// Output modes:
//   - ModeText: stdout is buffered and returned verbatim
//   - ModeJSON: stdout is buffered and decoded; malformed output is a decode failure
//   - ModeStream: stdout is split on newlines and pushed to a callback, nothing is buffered
//
// stderr is always buffered. On a non-zero exit it becomes the failure message
// exactly as written, including the empty string.
//
// Timeout handling:
//   - When Invocation.Timeout elapses the process group receives SIGTERM
//   - After the runner's kill grace SIGKILL follows if the process is still alive
//   - A timer that fires after natural exit does nothing
//   - There is no timeout error kind: the killed process resolves through the
//     normal exit path (usually a KindExit failure)
//
// Cancelling the context passed to Run takes the same termination path.
package proc
