// Package halfduplex is the driver half of spec.md: spawning the stub,
// speaking the control/info protocol, and presenting the synchronous
// spawn/write/recv/kill/close surface of spec.md §6 to callers.
package halfduplex

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sys/unix"

	"github.com/hedzr/go-ringbuf/v2/mpmc"

	"github.com/srgg/ptyhalfduplex/internal/protocol"
	"github.com/srgg/ptyhalfduplex/internal/ptyio"
	"github.com/srgg/ptyhalfduplex/internal/stub"
	"github.com/srgg/ptyhalfduplex/pkg/config"
)

const (
	// bufferCapacity bounds the driver's write_buffer and read_buffer
	// (spec.md §3). Both are drained continuously during recv, so this is
	// headroom against a single burst rather than a hard cap on total
	// throughput.
	bufferCapacity = 64 * 1024
	// eventLogCapacity bounds the diagnostic ring of recently-seen
	// info-pipe events kept for introspection; it is not load-bearing for
	// protocol correctness.
	eventLogCapacity = 64
	// ioChunk is the buffer size used for each individual pty read/write.
	ioChunk = 4096
)

// Session is one driver-side half-duplex session (spec.md §3, "Session").
// All operations are safe to call from multiple goroutines; they serialize
// on an internal mutex, matching the single-threaded-per-session model
// spec.md §5 describes (no shared memory, cooperative scheduling).
type Session struct {
	mu sync.Mutex

	cfg *config.Config
	log *logrus.Logger

	pty      *ptyio.Pair
	stubProc *exec.Cmd
	ctlWrite *os.File
	infoRead *os.File

	stubPid   int
	slavePgid int

	writeBuf *ringbuffer.RingBuffer
	readBuf  *ringbuffer.RingBuffer

	sentSync bool
	active   bool

	exitSig  int
	exitCode int

	events mpmc.RichOverlappedRingBuffer[protocol.Event]
}

// NewSession creates an unspawned session. cfg and log default to
// config.DefaultConfig() and its logger if nil.
func NewSession(cfg *config.Config, log *logrus.Logger) *Session {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if log == nil {
		log = cfg.NewLogger()
	}
	return &Session{
		cfg:    cfg,
		log:    log,
		events: mpmc.NewOverlappedRingBuffer[protocol.Event](eventLogCapacity),
	}
}

// Spawn forks the stub (which in turn forks the slave) and performs the pid
// handshake (spec.md §4.3, "spawn(command)").
func (s *Session) Spawn(argv []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return ErrAlreadyActive
	}
	if len(argv) == 0 {
		return fmt.Errorf("halfduplex: spawn: empty command")
	}
	// A prior spawn's fds/process should already be gone by the time it
	// went inactive (see releaseResources), but guard here too in case a
	// caller never called Recv/Close after the slave died.
	s.releaseResources()

	pair, err := ptyio.Open()
	if err != nil {
		return fmt.Errorf("halfduplex: spawn: %w", err)
	}

	ctlRead, ctlWrite, err := os.Pipe()
	if err != nil {
		_ = pair.Close()
		return fmt.Errorf("halfduplex: spawn: control pipe: %w", err)
	}
	infoRead, infoWrite, err := os.Pipe()
	if err != nil {
		_ = pair.Close()
		_ = ctlRead.Close()
		_ = ctlWrite.Close()
		return fmt.Errorf("halfduplex: spawn: info pipe: %w", err)
	}

	self, err := os.Executable()
	if err != nil {
		self = os.Args[0]
	}

	cmd := exec.Command(self, argv...)
	cmd.Stdin = pair.Slave
	cmd.Stdout = pair.Slave
	cmd.Stderr = pair.Slave
	cmd.ExtraFiles = []*os.File{ctlRead, infoWrite}
	cmd.Env = append(os.Environ(), stub.RoleEnvVar+"="+stub.RoleStub)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
		Ctty:    int(pair.Slave.Fd()),
	}

	if err := cmd.Start(); err != nil {
		_ = pair.Close()
		_ = ctlRead.Close()
		_ = ctlWrite.Close()
		_ = infoRead.Close()
		_ = infoWrite.Close()
		return fmt.Errorf("halfduplex: spawn: start stub: %w", err)
	}

	// These fds now belong to the child; the parent's copies just hold the
	// slots open until it forked.
	_ = ctlRead.Close()
	_ = infoWrite.Close()
	if err := pair.Slave.Close(); err != nil {
		s.log.WithError(err).Debug("closing driver's copy of the pty slave")
	}

	slavePgid, err := protocol.ReadPid(infoRead)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		_ = pair.Master.Close()
		_ = ctlWrite.Close()
		_ = infoRead.Close()
		return fmt.Errorf("%w: %v", ErrShortHandshake, err)
	}

	s.pty = pair
	s.stubProc = cmd
	s.ctlWrite = ctlWrite
	s.infoRead = infoRead
	s.stubPid = cmd.Process.Pid
	s.slavePgid = slavePgid
	s.writeBuf = ringbuffer.New(bufferCapacity)
	s.readBuf = ringbuffer.New(bufferCapacity)
	s.sentSync = false
	s.active = true
	s.exitSig = 0
	s.exitCode = 0

	return nil
}

// Write appends bytes to the write buffer. It never blocks; on an inactive
// session it discards the bytes and logs a warning (spec.md §6).
func (s *Session) Write(data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		s.log.Warn("write on inactive session, discarding")
		return 0, nil
	}

	n, err := s.writeBuf.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return n, err
	}
	if n < len(data) {
		s.log.Warnf("write buffer overflow: dropped %d of %d bytes", len(data)-n, len(data))
	}
	return n, nil
}

// Recv is the hard operation of spec.md §4.3: drain the write buffer,
// exchange sync cycles with the stub (one per pass, repeated while queued
// input remains and the session is active), and return whatever the slave
// produced. timeout <= 0 uses cfg.RecvTimeout (0 there means block
// forever).
func (s *Session) Recv(timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return nil, ErrNotActive
	}

	effTimeout := timeout
	if effTimeout <= 0 {
		effTimeout = s.cfg.RecvTimeout
	}
	hasDeadline := effTimeout > 0
	var deadline time.Time
	if hasDeadline {
		deadline = time.Now().Add(effTimeout)
	}

	for {
		if err := s.sendPhase(); err != nil {
			return nil, err
		}
		if !s.active {
			break
		}

		if !s.sentSync {
			if err := protocol.WriteStep(s.ctlWrite); err != nil {
				return nil, fmt.Errorf("halfduplex: write step byte: %w", err)
			}
			s.sentSync = true
		}

		reached, err := s.waitPhase(deadline, hasDeadline)
		if err != nil {
			return nil, err
		}
		if !reached {
			return nil, ErrTimeout
		}

		if !s.active || s.writeBuf.IsEmpty() {
			break
		}
	}

	// Step 5: drain whatever pty output is already sitting in the kernel
	// buffer. drainReadable only moves one ioChunk per call, so a response
	// larger than ioChunk needs repeated non-blocking drains here. Safe
	// regardless of why the loop above exited: an "r" event means the slave
	// already finished producing output for this step, and a dead/gone
	// session has nothing left to produce either.
	if s.pty != nil {
		for {
			readable, err := ptyio.PollReadable(int(s.pty.Master.Fd()), 0)
			if err != nil || !readable || !s.drainReadable() {
				break
			}
		}
	}

	out := make([]byte, s.readBuf.Length())
	n, _ := s.readBuf.TryRead(out)

	if !s.active {
		s.releaseResources()
	}

	return out[:n], nil
}

// sendPhase is spec.md §4.3 recv step 1: a non-blocking poll loop over pty
// readable, pty writable, and info-pipe readable, draining whichever are
// ready until write_buffer is empty or nothing is ready any more.
func (s *Session) sendPhase() error {
	masterFd := int(s.pty.Master.Fd())
	infoFd := int(s.infoRead.Fd())

	for {
		wantWrite := !s.writeBuf.IsEmpty()
		events := int16(unix.POLLIN)
		if wantWrite {
			events |= unix.POLLOUT
		}
		pfds := []unix.PollFd{
			{Fd: int32(masterFd), Events: events},
			{Fd: int32(infoFd), Events: unix.POLLIN},
		}

		n, err := unix.Poll(pfds, 0)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("halfduplex: poll: %w", err)
		}
		if n == 0 {
			return nil
		}

		progressed := false
		if pfds[0].Revents&unix.POLLIN != 0 {
			if s.drainReadable() {
				progressed = true
			}
		}
		if wantWrite && pfds[0].Revents&unix.POLLOUT != 0 {
			if s.drainWritable() {
				progressed = true
			}
		}
		if pfds[1].Revents&unix.POLLIN != 0 {
			s.handleInfoEvent()
			progressed = true
			if !s.active {
				return nil
			}
		}

		if s.writeBuf.IsEmpty() || !progressed {
			return nil
		}
	}
}

// waitPhase is recv step 3: a blocking poll bounded by deadline, servicing
// events until the stub answers (sentSync clears) or the session goes
// inactive.
func (s *Session) waitPhase(deadline time.Time, hasDeadline bool) (bool, error) {
	masterFd := int(s.pty.Master.Fd())
	infoFd := int(s.infoRead.Fd())

	for {
		if !s.sentSync || !s.active {
			return true, nil
		}

		timeoutMs := -1
		if hasDeadline {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return false, nil
			}
			timeoutMs = int(remaining.Milliseconds())
			if timeoutMs == 0 {
				timeoutMs = 1
			}
		}

		pfds := []unix.PollFd{
			{Fd: int32(masterFd), Events: unix.POLLIN},
			{Fd: int32(infoFd), Events: unix.POLLIN},
		}
		n, err := unix.Poll(pfds, timeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return false, fmt.Errorf("halfduplex: poll: %w", err)
		}
		if n == 0 {
			return false, nil
		}

		if pfds[0].Revents&unix.POLLIN != 0 {
			s.drainReadable()
		}
		if pfds[1].Revents&unix.POLLIN != 0 {
			s.handleInfoEvent()
		}
	}
}

// drainReadable reads whatever is currently available from the pty master
// into read_buffer. Returns true if any bytes were moved.
func (s *Session) drainReadable() bool {
	buf := make([]byte, ioChunk)
	n, err := s.pty.Master.Read(buf)
	if n > 0 {
		_, _ = s.readBuf.Write(buf[:n])
	}
	if err != nil {
		if benign, _ := ptyio.IsBenignReadError(err); !benign {
			s.log.WithError(err).Warn("pty master read error")
		}
	}
	return n > 0
}

// drainWritable pushes queued write_buffer bytes to the pty master. Any
// tail the master didn't accept is put back at the front of write_buffer,
// ahead of the bytes still queued, so no bytes are lost or reordered — safe
// because Session serializes all access under mu, so nothing else can
// interleave an append between the dequeue and the push-back.
func (s *Session) drainWritable() bool {
	buf := make([]byte, ioChunk)
	n, err := s.writeBuf.TryRead(buf)
	if n == 0 {
		return false
	}

	written, werr := s.pty.Master.Write(buf[:n])
	if written < n {
		rest := make([]byte, s.writeBuf.Length())
		m, _ := s.writeBuf.TryRead(rest)
		_, _ = s.writeBuf.Write(buf[written:n])
		_, _ = s.writeBuf.Write(rest[:m])
	}
	if werr != nil {
		if benign, _ := ptyio.IsBenignReadError(werr); !benign {
			s.log.WithError(werr).Warn("pty master write error")
		}
	}
	return written > 0
}

// handleInfoEvent reads and applies exactly one info-pipe record (spec.md
// §4.3, "Event handler for info pipe").
func (s *Session) handleInfoEvent() {
	ev := protocol.ReadEvent(s.infoRead)
	s.recordEvent(ev)

	switch ev.Kind {
	case protocol.EventKindReady:
		s.sentSync = false
	case protocol.EventKindDied:
		s.exitSig = ev.Died.Signal
		s.exitCode = ev.Died.Code
		s.active = false
	case protocol.EventKindEOF, protocol.EventKindError:
		s.handleStubGone()
	}
}

// handleStubGone implements the "stub crash" branch of spec.md §7: drain
// remaining pty output, reap the stub, and if no exit status was already
// recorded, fill it in from the stub's own termination status as a
// best-effort substitute for the slave's.
func (s *Session) handleStubGone() {
	s.drainBeforeStubExit()

	var ws syscall.WaitStatus
	if _, err := syscall.Wait4(s.stubPid, &ws, 0, nil); err == nil {
		if s.exitCode == 0 && s.exitSig == 0 {
			if ws.Signaled() {
				s.exitSig = int(ws.Signal())
			} else {
				s.exitCode = ws.ExitStatus()
			}
		}
	}
	// Already reaped above; don't let releaseResources (or Close) Wait() it
	// again.
	s.stubProc = nil
	s.active = false
}

// releaseResources closes the driver-side fds of a finished spawn and reaps
// its stub process so a session can be reused without leaking a pty master
// fd, both pipe ends, or a zombie stub across spawns (spec.md §8 scenario
// 5, "reuse after kill"). Safe to call more than once: every field is
// nilled out as it's released.
func (s *Session) releaseResources() {
	if s.pty != nil {
		_ = s.pty.Master.Close()
		s.pty = nil
	}
	if s.ctlWrite != nil {
		_ = s.ctlWrite.Close()
		s.ctlWrite = nil
	}
	if s.infoRead != nil {
		_ = s.infoRead.Close()
		s.infoRead = nil
	}
	if s.stubProc != nil && s.stubProc.Process != nil {
		_, _ = s.stubProc.Process.Wait()
	}
	s.stubProc = nil
}

// drainBeforeStubExit resolves spec.md §9's BSD open question: block on pty
// master EOF or a bounded grace period, whichever comes first.
func (s *Session) drainBeforeStubExit() {
	deadline := time.Now().Add(s.cfg.GraceDrainTimeout)
	buf := make([]byte, ioChunk)

	for time.Now().Before(deadline) {
		readable, err := ptyio.PollReadable(int(s.pty.Master.Fd()), 20)
		if err != nil {
			return
		}
		if !readable {
			continue
		}
		n, rerr := s.pty.Master.Read(buf)
		if n > 0 {
			_, _ = s.readBuf.Write(buf[:n])
		}
		if rerr != nil {
			if _, isEOF := ptyio.IsBenignReadError(rerr); isEOF {
				return
			}
		}
	}
}

func (s *Session) recordEvent(ev protocol.Event) {
	if _, err := s.events.EnqueueM(ev); err != nil {
		s.log.WithError(err).Debug("event log enqueue failed")
	}
}

// RecentEvents drains the diagnostic ring of recently observed info-pipe
// events, oldest first. Intended for tests and troubleshooting, not for
// protocol logic.
func (s *Session) RecentEvents() []protocol.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []protocol.Event
	for !s.events.IsEmpty() {
		ev, err := s.events.Dequeue()
		if err != nil {
			break
		}
		out = append(out, ev)
	}
	return out
}

// IsActive reports whether the session currently has a live slave.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ExitStatus returns the recorded termination signal/code, valid once
// IsActive() is false after a spawn.
func (s *Session) ExitStatus() (signal, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitSig, s.exitCode
}

// Kill applies an ordered (signal, wait) policy to the slave's process
// group (spec.md §4.3, "kill"). A nil policy uses cfg.KillPolicy. Returns 1
// if the slave exited during a wait, 0 if it is still alive, or
// ErrKillFailed if a signal send itself failed.
func (s *Session) Kill(policy []config.KillStep) (int, error) {
	s.mu.Lock()
	active := s.active
	slavePgid := s.slavePgid
	s.mu.Unlock()

	if !active {
		return 1, nil
	}
	if policy == nil {
		policy = s.cfg.KillPolicy
	}

	for _, step := range policy {
		if err := unix.Kill(-slavePgid, unix.Signal(step.Signal)); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrKillFailed, err)
		}
		if step.Wait <= 0 {
			continue
		}

		deadline := time.Now().Add(step.Wait)
		for time.Now().Before(deadline) && s.IsActive() {
			_, err := s.Recv(time.Until(deadline))
			if errors.Is(err, ErrTimeout) {
				break
			}
		}
		if !s.IsActive() {
			return 1, nil
		}
	}

	if !s.IsActive() {
		return 1, nil
	}
	return 0, nil
}

// NotifyWinch sends SIGWINCH to the slave's process group — the orthogonal,
// idempotent notification spec.md §5 names; the ioctl side of window-size
// propagation is out of scope.
func (s *Session) NotifyWinch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrNotActive
	}
	return unix.Kill(-s.slavePgid, unix.SIGWINCH)
}

// Close kills the session with the default policy and releases the pty
// master, driver-side pipe ends, and stub process. The session is unusable
// afterward. releaseResources is a no-op for anything Kill's own Recv loop
// already released.
func (s *Session) Close() error {
	_, killErr := s.Kill(nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseResources()
	s.active = false
	return killErr
}
