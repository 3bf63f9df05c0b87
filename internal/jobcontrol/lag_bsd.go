//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package jobcontrol

import (
	"time"

	"golang.org/x/sys/unix"
)

// DefaultInitialLag is coarser on BSD-family kernels: a background process
// performing a read is charged a kernel-imposed delay per attempt (spec.md
// §4.2), so starting with a bigger guess minimizes the number of retries.
const DefaultInitialLag = 150 * time.Millisecond

// Kick perturbs the pty slave's VMIN setting (get, set +1, set back) to force
// the kernel to re-examine any reader already blocked in a tty read when it
// was backgrounded — BSD kernels otherwise never transition such a reader to
// "stopped on tty input" via SIGCONT/SIGSTOP alone (spec.md §4.2, "BSD
// kick"). Any termios write wakes blocked readers so the kernel re-checks
// their eligibility.
func Kick(fd int) error {
	term, err := unix.IoctlGetTermios(fd, unix.TIOCGETA)
	if err != nil {
		return err
	}

	saved := term.Cc[unix.VMIN]
	term.Cc[unix.VMIN] = saved + 1
	if err := unix.IoctlSetTermios(fd, unix.TIOCSETA, term); err != nil {
		return err
	}

	term.Cc[unix.VMIN] = saved
	return unix.IoctlSetTermios(fd, unix.TIOCSETA, term)
}
