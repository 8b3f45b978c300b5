package proc

import (
	"errors"

	"golang.org/x/sys/unix"
)

// awaitExit blocks until pid has exited but leaves it unreaped, so its PID
// stays reserved until exec.Cmd.Wait collects it.
func awaitExit(pid int) bool {
	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_PID, pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if err == nil {
			return true
		}
		if !errors.Is(err, unix.EINTR) {
			return false
		}
	}
}
