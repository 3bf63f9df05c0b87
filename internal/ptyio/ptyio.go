// Package ptyio is the pty allocation primitive spec.md §4.4 calls an
// external collaborator: open a master/slave pair and put the slave side in
// raw mode. Everything about half-duplex synchronization lives above this
// package, in internal/stub and pkg/halfduplex — ptyio only allocates the
// device and configures its line discipline, the way the teacher's
// createPTY helper did before the session-management logic that used to sit
// on top of it.
package ptyio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Pair is one allocated pty master/slave file descriptor pair.
type Pair struct {
	Master *os.File
	Slave  *os.File
}

// Open allocates a pty pair and puts the slave in raw mode so bytes pass
// through verbatim (no canonical-mode line editing, no echo, no signal
// generation from control characters) — the discipline the half-duplex
// protocol depends on, since the driver treats the child as a byte-oriented
// request/response channel rather than an interactive terminal.
func Open() (*Pair, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate pty: %w", err)
	}

	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, fmt.Errorf("failed to set pty %s raw: %w", slave.Name(), err)
	}

	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, fmt.Errorf("failed to set pty master nonblocking: %w", err)
	}

	return &Pair{Master: master, Slave: slave}, nil
}

// Close releases both ends of the pair.
func (p *Pair) Close() error {
	errMaster := p.Master.Close()
	errSlave := p.Slave.Close()
	if errMaster != nil {
		return errMaster
	}
	return errSlave
}

// SlaveName returns the filesystem path of the slave device (e.g.
// "/dev/pts/5").
func (p *Pair) SlaveName() string {
	return p.Slave.Name()
}

// PollReadable polls fd for readability with the given millisecond timeout.
// It returns (true, nil) if the fd became readable and (false, nil) on
// timeout; an EINTR is also reported as (false, nil), indistinguishable from
// a timeout.
func PollReadable(fd int, timeoutMs int) (bool, error) {
	return poll(fd, unix.POLLIN, timeoutMs)
}

// PollWritable polls fd for writability with the given millisecond timeout.
func PollWritable(fd int, timeoutMs int) (bool, error) {
	return poll(fd, unix.POLLOUT, timeoutMs)
}

func poll(fd int, events int16, timeoutMs int) (bool, error) {
	pfd := []unix.PollFd{{Fd: int32(fd), Events: events}}
	n, err := unix.Poll(pfd, timeoutMs)
	if err != nil {
		if errors.Is(err, syscall.EINTR) {
			return false, nil
		}
		return false, err
	}
	return n > 0, nil
}

// IsBenignReadError reports whether err from a pty master Read is one of the
// transient conditions spec.md §7 says to treat as "no data"/"EOF" rather
// than a hard failure: EAGAIN/EWOULDBLOCK (non-blocking read, nothing
// pending — observed on non-Linux systems per spec.md §9's open question),
// and EIO, which Linux returns from a pty master read after the session
// leader has exited (squashed to EOF, same as other_examples' ptyio.go
// ReadPTYToWriter helper does).
func IsBenignReadError(err error) (benign bool, isEOF bool) {
	if err == nil {
		return false, false
	}
	if errors.Is(err, io.EOF) {
		return true, true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EAGAIN, syscall.EWOULDBLOCK:
			return true, false
		case syscall.EIO:
			return true, true
		case syscall.EINTR:
			return true, false
		}
	}
	return false, false
}
