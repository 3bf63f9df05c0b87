// Package stub is the session-leader half of the driver/stub/slave triad
// (spec.md §4.2). It never runs inside the caller's process directly: the
// driver re-execs its own binary to become the stub (spec.md §4.3 step 3,
// "become the stub; never returns"), and the stub in turn re-execs itself a
// second time, in a new process group of its own, to become the thin
// launcher that SIGSTOPs itself before the final exec of the user's command.
// Two re-execs, rather than a bare fork, because Go forbids running
// arbitrary runtime code between fork and exec in the same thread group —
// each hop is a full process that can safely call signal.Reset, unix.Kill,
// and syscall.Exec before handing control to the next stage.
package stub

import "os"

// RoleEnvVar names the environment variable the re-exec'd process inspects
// on startup, before any flag parsing, to decide which of the two stub-side
// roles it is playing.
const RoleEnvVar = "PTYHALFDUPLEX_ROLE"

const (
	// RoleStub marks the process as the session leader described in
	// spec.md §4.2.
	RoleStub = "stub"
	// RoleSlaveLauncher marks the process as the short-lived helper that
	// resets the slave's job-control signal dispositions and stops itself,
	// then execs the user's command in its place (its process group is set
	// by the stub at fork time).
	RoleSlaveLauncher = "slave-launcher"
)

// Role reports which re-exec role this process was started with, or "" for
// an ordinary driver-side invocation.
func Role() string {
	return os.Getenv(RoleEnvVar)
}

// IsStub reports whether this process should run RunStub.
func IsStub() bool { return Role() == RoleStub }

// IsSlaveLauncher reports whether this process should run RunSlaveLauncher.
func IsSlaveLauncher() bool { return Role() == RoleSlaveLauncher }
