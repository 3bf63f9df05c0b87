package stub

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/srgg/ptyhalfduplex/internal/jobcontrol"
	"github.com/srgg/ptyhalfduplex/internal/ptyio"
	"github.com/srgg/ptyhalfduplex/internal/protocol"
	"github.com/srgg/ptyhalfduplex/pkg/config"
)

// stepOutcome is the result of one run of the step algorithm (spec.md §4.2).
type stepOutcome int

const (
	stepSuccess stepOutcome = iota
	stepFailure
	stepDied
)

// runStep performs one iteration of the step algorithm. ptyFd is the stub's
// controlling terminal (its own fd 0, since the driver dup'd the pty slave
// onto stdin/stdout/stderr before exec'ing the stub). Precondition: the
// slave is stopped and in the background.
func runStep(ptyFd, stubPid, slavePid, slavePgid int, lag time.Duration, kick func(int) error, log *logrus.Logger) (stepOutcome, protocol.Died, error) {
	// 1. Grant foreground to the slave.
	if err := unix.Tcsetpgrp(ptyFd, int32(slavePgid)); err != nil {
		return stepFailure, protocol.Died{}, fmt.Errorf("grant foreground to slave: %w", err)
	}

	// 2. Continue the slave.
	if err := unix.Kill(-slavePgid, unix.SIGCONT); err != nil {
		return stepFailure, protocol.Died{}, fmt.Errorf("continue slave: %w", err)
	}

	// 3. Sleep for lag.
	time.Sleep(lag)

	// 4. Stop the slave and wait for it.
	if err := unix.Kill(-slavePgid, unix.SIGSTOP); err != nil {
		return stepFailure, protocol.Died{}, fmt.Errorf("stop slave: %w", err)
	}
	died, ws, err := waitStopped(slavePid)
	if err != nil {
		return stepFailure, protocol.Died{}, err
	}
	if died {
		return stepDied, deathFrom(ws), nil
	}
	logStopSignal(log, ws)

	// 5. Take back foreground.
	if err := unix.Tcsetpgrp(ptyFd, int32(stubPid)); err != nil {
		return stepFailure, protocol.Died{}, fmt.Errorf("retake foreground: %w", err)
	}
	if err := unix.Kill(-slavePgid, unix.SIGCONT); err != nil {
		return stepFailure, protocol.Died{}, fmt.Errorf("resume slave under stub foreground: %w", err)
	}

	// 6. BSD kick: a no-op on Linux (jobcontrol.Kick per build tag).
	if kick != nil {
		if err := kick(ptyFd); err != nil {
			log.WithError(err).Warn("bsd kick failed")
		}
	}

	// 7. Wait for the stop again.
	died, ws, err = waitStopped(slavePid)
	if err != nil {
		return stepFailure, protocol.Died{}, err
	}
	if died {
		return stepDied, deathFrom(ws), nil
	}
	logStopSignal(log, ws)

	// 8. Disambiguate: is there unread input waiting on the pty slave side?
	readable, err := ptyio.PollReadable(ptyFd, 0)
	if err != nil {
		return stepFailure, protocol.Died{}, fmt.Errorf("poll for pending input: %w", err)
	}
	if readable {
		return stepFailure, protocol.Died{}, nil
	}
	return stepSuccess, protocol.Died{}, nil
}

// logStopSignal records when the slave stopped for something other than the
// SIGSTOP the step loop itself sent. Per the decision recorded for spec.md
// §9's open question, this is not treated as a distinct error path: a
// WIFSTOPPED result is accepted regardless of which signal caused it, so a
// concurrent SIGTSTP (e.g. from an attached terminal) does not hang the
// driver — it is simply re-examined on the very next wait like any other
// stop.
func logStopSignal(log *logrus.Logger, ws unix.WaitStatus) {
	if sig := ws.StopSignal(); sig != unix.SIGSTOP {
		log.WithField("signal", sig).Debug("slave stopped for a signal other than our SIGSTOP")
	}
}

// RunStepLoop retries runStep with multiplicative backoff until it reports
// success or death (spec.md §4.2, "Backoff on failure"). lag starts at the
// platform default and is capped at cfg.MaxLag. table drives every
// transition; the stub treats a missing transition as a programming error.
func RunStepLoop(ptyFd, slavePid, slavePgid int, cfg *config.Config, kick func(int) error, log *logrus.Logger, table *jobcontrol.Table) (protocol.Died, bool, error) {
	stubPid := stubSelfPid()
	lag := initialLag(cfg)
	state := jobcontrol.StateStepping

	for {
		outcome, died, err := runStep(ptyFd, stubPid, slavePid, slavePgid, lag, kick, log)
		if err != nil {
			return protocol.Died{}, false, err
		}

		var event jobcontrol.Event
		switch outcome {
		case stepSuccess:
			event = jobcontrol.EventStepSuccess
		case stepDied:
			event = jobcontrol.EventSlaveDied
		case stepFailure:
			event = jobcontrol.EventStepFailure
		}

		tr, ok := table.Step(state, event)
		if !ok {
			return protocol.Died{}, false, fmt.Errorf("no transition for state %q event %q", state, event)
		}
		state = tr.Next

		switch state {
		case jobcontrol.StateIdle:
			return protocol.Died{}, false, nil
		case jobcontrol.StateTerminal:
			return died, true, nil
		default:
			log.WithField("lag_ms", lag.Milliseconds()).Debug(tr.Action)
			lag = time.Duration(float64(lag) * cfg.LagMultiplier)
			if lag > cfg.MaxLag {
				lag = cfg.MaxLag
			}
		}
	}
}
