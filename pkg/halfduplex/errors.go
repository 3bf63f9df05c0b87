package halfduplex

import "errors"

// Sentinel errors matching the taxonomy of spec.md §7.
var (
	// ErrNotActive is returned by operations that require an active
	// session when none exists.
	ErrNotActive = errors.New("halfduplex: session not active")
	// ErrAlreadyActive is returned by Spawn when called on a session that
	// is already running.
	ErrAlreadyActive = errors.New("halfduplex: session already active")
	// ErrShortHandshake is returned when the stub's 4-byte pid handshake
	// is truncated — a protocol-sync failure, fatal to spawn.
	ErrShortHandshake = errors.New("halfduplex: short pid handshake")
	// ErrTimeout is returned by Recv when the deadline elapses before a
	// response arrives. Session state is left untouched.
	ErrTimeout = errors.New("halfduplex: recv timed out")
	// ErrKillFailed is returned when the kill(2) syscall itself fails;
	// it does not necessarily mean the slave is still alive.
	ErrKillFailed = errors.New("halfduplex: kill syscall failed")
)
