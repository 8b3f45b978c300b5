//go:build !linux

package proc

// awaitExit reports false: without waitid(WNOWAIT) the exit can only be seen
// by reaping, so Run marks the process reaped right after Wait.
func awaitExit(pid int) bool { return false }
